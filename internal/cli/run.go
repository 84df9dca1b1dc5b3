package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aescanero/canvas/internal/workflow"
	"github.com/aescanero/canvas/pkg/adapters/storage"
	apihttp "github.com/aescanero/canvas/pkg/api/http"
	"github.com/aescanero/canvas/pkg/domain"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Local    bool
	MathURL  string
	Workers  int
	Timeout  time.Duration
	Interval time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Run a workflow file and wait for its result",
		Long: `Submit the graph of a workflow file and wait for it to finish.

By default the graph goes to the daemon at --server. With --local it runs on
an in-process worker pool with the built-in tasks; http.* tasks are only
available when --math-url is set.

Example:
  canvasctl run examples/workflows/math_chain.yaml
  canvasctl run --local --timeout 1m examples/workflows/word_count.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Local, "local", false, "run on an in-process worker pool")
	cmd.Flags().StringVar(&opts.MathURL, "math-url", "", "math API base URL for http.* tasks (with --local)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 4, "worker count (with --local)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "wait limit (default: the workflow's timeout)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Second, "result poll interval")

	return cmd
}

func runWorkflow(ctx context.Context, opts *RunOptions, path string, cmd *cobra.Command) error {
	logger := opts.logger()
	defer logger.Sync()

	wf, err := workflow.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load workflow", err)
	}
	timeout := wf.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if opts.Interval <= 0 {
		return &ExitError{Code: ExitCommandError, Message: "--interval must be positive"}
	}

	logger.Info("running workflow",
		zap.String("workflow", wf.Name),
		zap.Bool("local", opts.Local),
		zap.Duration("timeout", timeout))

	var rec *domain.Record
	if opts.Local {
		rec, err = runLocal(ctx, opts, wf, timeout, logger)
	} else {
		rec, err = runRemote(ctx, opts, wf, timeout, logger)
	}

	p := printer{format: opts.Format, w: cmd.OutOrStdout()}
	if err != nil {
		if errors.Is(err, domain.ErrTimeout) {
			if rec != nil {
				_ = p.record(wf.Name, rec)
			}
			return WrapExitError(ExitFailure, fmt.Sprintf("workflow %q did not finish within %s", wf.Name, timeout), err)
		}
		return WrapExitError(ExitCommandError, fmt.Sprintf("workflow %q could not run", wf.Name), err)
	}

	if err := p.record(wf.Name, rec); err != nil {
		return err
	}
	return outcome(rec)
}

func runLocal(ctx context.Context, opts *RunOptions, wf *workflow.Workflow, timeout time.Duration, logger *zap.Logger) (*domain.Record, error) {
	stack, err := startLocalStack(opts.MathURL, opts.Workers, opts.Interval, logger)
	if err != nil {
		return nil, err
	}
	defer stack.stop()

	h, err := stack.manager.Submit(ctx, wf.Graph)
	if err != nil {
		return nil, err
	}
	return h.Get(ctx, timeout)
}

func runRemote(ctx context.Context, opts *RunOptions, wf *workflow.Workflow, timeout time.Duration, logger *zap.Logger) (*domain.Record, error) {
	client := apihttp.NewClient(opts.Server, nil)

	id, err := client.Submit(ctx, wf.Graph)
	if err != nil {
		return nil, err
	}
	logger.Info("workflow submitted", zap.String("task_id", id))

	return storage.Poll(ctx, storage.Reader(client.Record, id), timeout, opts.Interval, logger)
}
