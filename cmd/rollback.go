package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/routegen/internal/backup"
	"github.com/nextlevelbuilder/routegen/internal/compile"
	"github.com/nextlevelbuilder/routegen/internal/validate"
)

func rollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <version-id>",
		Short: "Restore a retained backup as the active configuration",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runRollback(args[0]))
		},
	}
}

func runRollback(version string) int {
	mgr := backup.NewManager(flagBackupDir, flagLockWait)
	err := mgr.Rollback(version, flagOut, revalidateSnapshot)
	if err != nil {
		printError(err)
		if errors.Is(err, backup.ErrNotFound) {
			return exitValidation
		}
		return exitCodeFor(err)
	}
	fmt.Printf("restored %s as %s\n", version, flagOut)
	return exitOK
}

// revalidateSnapshot re-runs the static validator against restored
// content. The document must stand on its own here: staleness context
// is irrelevant for a deliberate rollback.
func revalidateSnapshot(doc *compile.Document) error {
	rep := validate.Run(doc, validate.Options{MaxTierDrop: 1})
	if rep.OK() {
		return nil
	}
	return errors.Join(rep.Errors...)
}
