// Package cli implements the gantry command line interface. Commands talk
// to a gantryd daemon through pkg/client; the deploy command renders the
// daemon's progress event stream as it arrives.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/pkg/client"
)

const defaultServerURL = "http://localhost:8080"

// rootOptions carries the flags shared by every subcommand.
type rootOptions struct {
	server string
	token  string
}

// serverURL resolves the daemon address: flag, then GANTRY_SERVER, then the
// compiled default.
func (o *rootOptions) serverURL() string {
	if o.server != "" {
		return o.server
	}
	if s := os.Getenv("GANTRY_SERVER"); s != "" {
		return s
	}
	return defaultServerURL
}

// apiToken resolves the bearer token: flag, then GANTRY_TOKEN.
func (o *rootOptions) apiToken() string {
	if o.token != "" {
		return o.token
	}
	return os.Getenv("GANTRY_TOKEN")
}

// client builds an API client for the configured daemon. Commands that hit
// the API call this; init and local token minting do not.
func (o *rootOptions) client() (*client.Client, error) {
	token := o.apiToken()
	if token == "" {
		return nil, fmt.Errorf("no API token configured: set GANTRY_TOKEN or pass --token (mint one with 'gantry token create')")
	}
	return client.New(client.Config{BaseURL: o.serverURL(), Token: token}), nil
}

// NewRootCmd builds the gantry command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "gantry",
		Short: "Deploy apps to a Gantry host",
		Long: `Gantry builds container images from your source tree and runs them on a
single Docker host behind a reverse proxy. Point it at a gantryd daemon
with --server or GANTRY_SERVER and authenticate with GANTRY_TOKEN.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", "", "gantryd address (default GANTRY_SERVER or "+defaultServerURL+")")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", "", "API token (default GANTRY_TOKEN)")

	rootCmd.AddCommand(newDeployCmd(opts))
	rootCmd.AddCommand(newListCmd(opts))
	rootCmd.AddCommand(newLogsCmd(opts))
	rootCmd.AddCommand(newDownCmd(opts))
	rootCmd.AddCommand(newInspectCmd(opts))
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newTokenCmd(opts))

	return rootCmd
}
