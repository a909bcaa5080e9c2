package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/pkg/client"
)

func newInspectCmd(opts *rootOptions) *cobra.Command {
	var deployID string

	cmd := &cobra.Command{
		Use:   "inspect [app]",
		Short: "Show deployment details",
		Long: `Shows the app's most recent deployment, or a specific deployment with
--deploy.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			var d *client.Deploy
			switch {
			case deployID != "":
				d, err = c.GetDeploy(cmd.Context(), deployID)
			case len(args) > 0:
				d, err = c.LatestDeploy(cmd.Context(), args[0])
			default:
				return fmt.Errorf("an app name or --deploy is required")
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "App:       %s\n", d.App)
			fmt.Fprintf(out, "Deploy:    %s\n", d.DeployID)
			fmt.Fprintf(out, "Status:    %s\n", statusColored(d.Status))
			if d.ImageTag != "" {
				fmt.Fprintf(out, "Image:     %s\n", d.ImageTag)
			}
			if d.ContainerID != "" {
				fmt.Fprintf(out, "Container: %s\n", d.ContainerID)
			}
			if d.HostPort != 0 {
				fmt.Fprintf(out, "Port:      %d -> %d\n", d.HostPort, d.ContainerPort)
			}
			if d.URL != "" {
				fmt.Fprintf(out, "URL:       %s\n", d.URL)
			}
			fmt.Fprintf(out, "Source:    %s", d.SourceKind)
			if d.SourceRef != "" {
				fmt.Fprintf(out, " (%s)", d.SourceRef)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Created:   %s\n", d.CreatedAt)
			if d.ExpiresAt != "" {
				fmt.Fprintf(out, "Expires:   %s\n", d.ExpiresAt)
			}
			if d.Error != "" {
				fmt.Fprintf(out, "Error:     %s\n", red(d.Error))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&deployID, "deploy", "", "Deployment ID (defaults to the app's latest)")

	return cmd
}
