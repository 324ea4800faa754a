package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Run the full pipeline without writing anything",
		Run: func(cmd *cobra.Command, args []string) {
			doc, rep, code := runPipeline()
			if code != exitOK {
				os.Exit(code)
			}
			fmt.Printf("valid: %d bindings, %d warnings (content hash %s)\n",
				len(doc.Bindings), len(rep.Warnings), doc.Meta.ContentHash[:12])
			os.Exit(exitOK)
		},
	}
}
