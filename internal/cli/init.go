package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/internal/domain"
	"github.com/gantryhq/gantry/internal/recipe"
)

func newInitCmd() *cobra.Command {
	var (
		appName string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Scaffold gantry.yaml and a Dockerfile",
		Long: `Writes a starter gantry.yaml and the Dockerfile the platform would build
from, using the default recipe. The Dockerfile is informational: deploys
always render their own from the manifest.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return scaffold(dir, appName, force, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&appName, "app", "", "App name (defaults to the directory name)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")

	return cmd
}

func scaffold(dir, appName string, force bool, out io.Writer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	if appName == "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("resolve directory: %w", err)
		}
		if name, err := domain.NewAppName(filepath.Base(abs)); err == nil {
			appName = name.String()
		}
	} else {
		name, err := domain.NewAppName(appName)
		if err != nil {
			return err
		}
		appName = name.String()
	}

	dockerfile, err := recipe.Default().Render()
	if err != nil {
		return fmt.Errorf("render dockerfile: %w", err)
	}

	files := []struct {
		name string
		body string
	}{
		{recipe.ManifestFileName, starterManifest(appName)},
		{"Dockerfile", dockerfile},
	}

	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if !force {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
		}
		if err := os.WriteFile(path, []byte(f.body), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
		fmt.Fprintf(out, "✅ Wrote %s\n", path)
	}

	fmt.Fprintln(out, "\nRun 'gantry deploy' to build and deploy.")
	return nil
}

// starterManifest renders a gantry.yaml with every field present but
// commented out, showing the platform defaults.
func starterManifest(appName string) string {
	app := "# app: my-app"
	if appName != "" {
		app = "app: " + appName
	}

	r := recipe.Default()
	return fmt.Sprintf(`# gantry.yaml configures how Gantry builds and runs this app.
# Every field is optional; omitted fields use the defaults shown.
%s
# base_image: %s
# source_dir: %s
# requirements: %s
# port: %d
# command: ["python", "run.py"]
# env:
#   EXAMPLE_VAR: value
# health:
#   path: %s
#   timeout_seconds: 60
`, app, r.BaseImage, r.SourceDir, r.Requirements, r.Port, recipe.DefaultHealthPath)
}
