package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aescanero/canvas/internal/workflow"
	apihttp "github.com/aescanero/canvas/pkg/api/http"
)

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <workflow.yaml>",
		Short: "Submit a workflow file without waiting",
		Long: `Submit the graph of a workflow file to the daemon and print its task id.

Example:
  canvasctl submit examples/workflows/chord_math.yaml
  canvasctl status <task-id> --wait 30s`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := workflow.Load(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load workflow", err)
			}

			id, err := apihttp.NewClient(rootOpts.Server, nil).Submit(cmd.Context(), wf.Graph)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("failed to submit %q", wf.Name), err)
			}

			p := printer{format: rootOpts.Format, w: cmd.OutOrStdout()}
			if p.format == "json" {
				return p.json("ok", map[string]string{"task_id": id, "workflow": wf.Name}, "")
			}
			fmt.Fprintln(p.w, id)
			return nil
		},
	}
	return cmd
}
