package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/routegen/internal/backup"
)

func backupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Inspect retained configuration backups",
	}
	cmd.AddCommand(backupsListCmd())
	return cmd
}

func backupsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List retained backups with tier and timestamp",
		Run: func(cmd *cobra.Command, args []string) {
			mgr := backup.NewManager(flagBackupDir, flagLockWait)
			records, err := mgr.List(time.Now())
			if err != nil {
				printError(err)
				os.Exit(exitCodeFor(err))
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(records, "", "  ")
				fmt.Println(string(data))
				return
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "VERSION\tTIER\tCREATED\tHASH\n")
			for _, r := range records {
				hash := r.ContentHash
				if len(hash) > 12 {
					hash = hash[:12]
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					r.Version, r.Tier, r.CreatedAt.UTC().Format(time.RFC3339), hash)
			}
			tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
