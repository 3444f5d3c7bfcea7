// Package cmd implements the fgraphctl command line, a small cobra tree
// demonstrating pkg/fsession end to end.
package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gpac-go/fgraph/internal/fsflags"
)

var (
	logLevel string
	verbose  bool
)

// NewRootCmd builds the fgraphctl root command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fgraphctl",
		Short: "fgraphctl runs and inspects fgraph filter sessions",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := logLevel
			if verbose {
				level = log.DebugLevel.String()
			}
			if parsed, err := log.ParseLevel(level); err == nil {
				log.SetLevel(parsed)
			}
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", log.InfoLevel.String(),
		"log level, must be one of: panic, fatal, error, warn, info, debug")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "shorthand for --log-level=debug")
	root.Version = fsflags.Version

	root.AddCommand(newRunCmd())
	return root
}
