package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aescanero/canvas/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server  string
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// DefaultServer is the canvas daemon address used when neither --server nor
// CANVAS_SERVER is set.
const DefaultServer = "http://localhost:8080"

// NewRootCommand creates the root command for canvasctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "canvasctl",
		Short: "Submit and inspect task graphs",
		Long:  "canvasctl runs workflow files against a canvas daemon or an in-process worker pool.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	server := os.Getenv("CANVAS_SERVER")
	if server == "" {
		server = DefaultServer
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", server, "canvas daemon base URL")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// logger builds the console logger for a command. Diagnostics go to stderr
// through zap; only --verbose shows info-level progress.
func (o *RootOptions) logger() *zap.Logger {
	level := "warn"
	if o.Verbose {
		level = "debug"
	}
	l, err := logging.NewConsole(level)
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
