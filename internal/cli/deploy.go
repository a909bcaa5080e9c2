package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/internal/docker"
	"github.com/gantryhq/gantry/internal/domain"
	"github.com/gantryhq/gantry/internal/recipe"
	"github.com/gantryhq/gantry/pkg/client"
)

func newDeployCmd(opts *rootOptions) *cobra.Command {
	var (
		gitURL     string
		gitRef     string
		contextDir string
	)

	cmd := &cobra.Command{
		Use:   "deploy [app]",
		Short: "Build and deploy an app",
		Long: `Uploads the build context directory (default: current directory) to the
daemon, which builds the image and starts a container, streaming progress
back as it runs. With --git the daemon clones the repository instead.

The app name comes from the argument, the gantry.yaml manifest, or the
context directory's name, in that order.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			app, err := resolveAppName(args, contextDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "🚀 Deploying %s to %s\n\n", app, opts.serverURL())
			printer := newDeployPrinter(out)

			var result *client.Deploy
			if gitURL != "" {
				result, err = c.DeployGit(cmd.Context(), app, gitURL, gitRef, printer.frame)
			} else {
				archive, tarErr := docker.TarBuildContext(contextDir)
				if tarErr != nil {
					return fmt.Errorf("pack build context: %w", tarErr)
				}
				defer archive.Close()
				result, err = c.DeployArchive(cmd.Context(), app, archive, app+".tar", printer.frame)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "\n✅ Deployed %s\n", app)
			if result.URL != "" {
				fmt.Fprintf(out, "🌐 %s\n", result.URL)
			}
			fmt.Fprintf(out, "📋 Deploy ID: %s\n", result.DeployID)
			return nil
		},
	}

	cmd.Flags().StringVar(&gitURL, "git", "", "Deploy from a git repository URL instead of uploading the context")
	cmd.Flags().StringVar(&gitRef, "ref", "", "Git branch, tag, or commit (defaults to the remote HEAD)")
	cmd.Flags().StringVarP(&contextDir, "context", "C", ".", "Build context directory")

	return cmd
}

// resolveAppName picks the app name from the argument, the manifest in the
// context directory, or the directory's own name.
func resolveAppName(args []string, contextDir string) (string, error) {
	if len(args) > 0 {
		name, err := domain.NewAppName(args[0])
		if err != nil {
			return "", err
		}
		return name.String(), nil
	}

	if m, err := recipe.LoadManifest(contextDir); err == nil && m != nil && m.App != "" {
		return m.App, nil
	}

	abs, err := filepath.Abs(contextDir)
	if err != nil {
		return "", fmt.Errorf("resolve context directory: %w", err)
	}
	name, err := domain.NewAppName(filepath.Base(abs))
	if err != nil {
		return "", fmt.Errorf("directory name is not a valid app name, pass one explicitly (gantry deploy <app>): %w", err)
	}
	return name.String(), nil
}
