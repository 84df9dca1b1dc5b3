package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/aescanero/canvas/pkg/adapters/storage"
	apihttp "github.com/aescanero/canvas/pkg/api/http"
	"github.com/aescanero/canvas/pkg/domain"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Wait     time.Duration
	Interval time.Duration
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show the record of a submitted task",
		Long: `Show the current record of a task. Replaced tasks report the record of
their replacement. With --wait the command polls until the task finishes or
the wait elapses.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Wait, "wait", 0, "poll until the task finishes, up to this long")
	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Second, "poll interval (with --wait)")

	return cmd
}

func showStatus(ctx context.Context, opts *StatusOptions, id string, cmd *cobra.Command) error {
	client := apihttp.NewClient(opts.Server, nil)
	p := printer{format: opts.Format, w: cmd.OutOrStdout()}

	if opts.Wait <= 0 {
		rec, err := client.Record(ctx, id)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read task", err)
		}
		return p.record("", rec)
	}

	logger := opts.logger()
	defer logger.Sync()

	rec, err := storage.Poll(ctx, storage.Reader(client.Record, id), opts.Wait, opts.Interval, logger)
	if rec != nil {
		if perr := p.record("", rec); perr != nil {
			return perr
		}
	}
	switch {
	case errors.Is(err, domain.ErrTimeout):
		return WrapExitError(ExitFailure, "task did not finish", err)
	case err != nil:
		return WrapExitError(ExitCommandError, "failed to read task", err)
	}
	return outcome(rec)
}
