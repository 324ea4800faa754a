// Package cmd wires the invocation surface: generate, validate,
// backups list, rollback.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Exit codes shared by every subcommand.
const (
	exitOK         = 0
	exitValidation = 1
	exitIO         = 2
)

var (
	flagRegistry  string
	flagPolicy    string
	flagOut       string
	flagBackupDir string
	flagLockWait  time.Duration
	flagLogLevel  string
)

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitIO)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routegen",
		Short: "Compile, validate and version the gateway routing configuration",
		Long: "routegen compiles a provider registry and a routing policy into the\n" +
			"single resolved configuration consumed by the routing gateway,\n" +
			"validates it, and manages versioned backups with tiered retention.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogging(flagLogLevel)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagRegistry, "registry", "providers.yaml", "provider registry document")
	pf.StringVar(&flagPolicy, "policy", "routing.yaml", "routing policy document")
	pf.StringVar(&flagOut, "out", "gateway.yaml", "compiled artifact path")
	pf.StringVar(&flagBackupDir, "backup-dir", "backups", "backup snapshot directory")
	pf.DurationVar(&flagLockWait, "lock-wait", 2*time.Second, "max wait for the backup-store lock")
	pf.StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")

	cmd.AddCommand(generateCmd())
	cmd.AddCommand(validateCmd())
	cmd.AddCommand(backupsCmd())
	cmd.AddCommand(rollbackCmd())
	return cmd
}

func initLogging(level string) {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})))
}
