// Package cli implements the vflp command: workflow preparation, workunit
// publishing and result details.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/vflp-ligand-prep/internal/logging"
)

var (
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the vflp CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vflp",
		Short: "VirtualFlow ligand preparation tools",
		Long:  "vflp prepares a ligand preparation workflow, publishes its workunits and reports on finished subjobs.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.New(os.Stderr, logging.Config{Format: flagLogFormat, Level: flagLogLevel})
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newPrepareFoldersCmd(),
		newPrepareWorkunitsCmd(),
		newDetailsCmd(),
	)

	return root
}
