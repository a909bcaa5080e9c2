package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/pkg/client"
)

func newDownCmd(opts *rootOptions) *cobra.Command {
	var deployID string

	cmd := &cobra.Command{
		Use:   "down [app]",
		Short: "Stop a deployment",
		Long: `Stops the app's running deployment and releases its host port. Use
--deploy to stop a specific deployment instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			id := deployID
			if id == "" {
				if len(args) == 0 {
					return fmt.Errorf("an app name or --deploy is required")
				}
				id, err = findRunningDeploy(cmd.Context(), c, args[0])
				if err != nil {
					return err
				}
			}

			if err := c.StopDeploy(cmd.Context(), id); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✅ Stopped deployment %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&deployID, "deploy", "", "Deployment ID (defaults to the app's running deployment)")

	return cmd
}

// findRunningDeploy locates the app's running deployment. The latest record
// can be a failed later attempt, so this scans for status rather than
// taking the newest.
func findRunningDeploy(ctx context.Context, c *client.Client, app string) (string, error) {
	deploys, err := c.ListDeploys(ctx, app, 0)
	if err != nil {
		return "", err
	}
	for _, d := range deploys {
		if d.Status == "running" {
			return d.DeployID, nil
		}
	}
	return "", fmt.Errorf("no running deployment for app %q", app)
}
