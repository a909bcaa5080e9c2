package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	var (
		appFilter string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deployments",
		Long:  `Lists deployments on the daemon, newest first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			deploys, err := c.ListDeploys(cmd.Context(), appFilter, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(deploys) == 0 {
				fmt.Fprintln(out, "No deployments found")
				return nil
			}

			for _, d := range deploys {
				fmt.Fprintf(out, "%s (%s)\n", d.App, statusColored(d.Status))
				fmt.Fprintf(out, "  Deploy:   %s\n", d.DeployID)
				if d.ImageTag != "" {
					fmt.Fprintf(out, "  Image:    %s\n", d.ImageTag)
				}
				if d.HostPort != 0 {
					fmt.Fprintf(out, "  Port:     %d\n", d.HostPort)
				}
				if d.URL != "" {
					fmt.Fprintf(out, "  URL:      %s\n", d.URL)
				}
				fmt.Fprintf(out, "  Created:  %s\n", d.CreatedAt)
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&appFilter, "app", "", "Only show deployments of this app")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of deployments to show")

	return cmd
}
