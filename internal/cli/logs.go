package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/pkg/client"
)

func newLogsCmd(opts *rootOptions) *cobra.Command {
	var (
		deployID string
		follow   bool
		tail     string
	)

	cmd := &cobra.Command{
		Use:   "logs [app]",
		Short: "Show container logs",
		Long: `Streams logs from the app's most recent deployment, or from a specific
deployment with --deploy.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			id, err := resolveDeployID(cmd.Context(), c, args, deployID)
			if err != nil {
				return err
			}

			rc, err := c.DeployLogs(cmd.Context(), id, follow, tail)
			if err != nil {
				return err
			}
			defer rc.Close()

			_, err = io.Copy(cmd.OutOrStdout(), rc)
			if errors.Is(err, context.Canceled) {
				// Interrupting a follow is a clean exit.
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&deployID, "deploy", "", "Deployment ID (defaults to the app's latest)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().StringVar(&tail, "tail", "", "Number of lines to show from the end")

	return cmd
}

// resolveDeployID picks the explicit --deploy ID or looks up the app's
// latest deployment.
func resolveDeployID(ctx context.Context, c *client.Client, args []string, deployID string) (string, error) {
	if deployID != "" {
		return deployID, nil
	}
	if len(args) == 0 {
		return "", fmt.Errorf("an app name or --deploy is required")
	}
	latest, err := c.LatestDeploy(ctx, args[0])
	if err != nil {
		return "", err
	}
	return latest.DeployID, nil
}
