package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/routegen/internal/backup"
	"github.com/nextlevelbuilder/routegen/internal/watch"
)

func generateCmd() *cobra.Command {
	var watchMode bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Compile the sources and write the gateway artifact",
		Run: func(cmd *cobra.Command, args []string) {
			code := runGenerate()
			if !watchMode {
				os.Exit(code)
			}
			runWatch()
		},
	}
	cmd.Flags().BoolVar(&watchMode, "watch", false, "stay alive and re-generate when a source changes")
	return cmd
}

func runGenerate() int {
	doc, rep, code := runPipeline()
	if code != exitOK {
		return code
	}

	artifact, err := doc.Encode()
	if err != nil {
		printError(err)
		return exitIO
	}

	mgr := backup.NewManager(flagBackupDir, flagLockWait)
	swept, err := mgr.CommitGenerate(flagOut, artifact, time.Now())
	if err != nil {
		printError(err)
		return exitCodeFor(err)
	}

	fmt.Printf("wrote %s (version %s, %d bindings, %d warnings, %d backups swept)\n",
		flagOut, doc.Meta.Version, len(doc.Bindings), len(rep.Warnings), len(swept))
	return exitOK
}

// runWatch keeps regenerating until interrupted. A failing run is
// logged, never fatal: the next source change gets a fresh attempt.
func runWatch() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := watch.New([]string{flagRegistry, flagPolicy}, func(changed []string) {
		slog.Info("source changed, regenerating", "files", changed)
		if code := runGenerate(); code != exitOK {
			slog.Warn("regeneration failed", "exit_code", code)
		}
	})
	if err != nil {
		printError(err)
		os.Exit(exitIO)
	}
	w.Run(ctx)
	os.Exit(exitOK)
}
