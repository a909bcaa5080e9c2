package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/internal/auth"
	"github.com/gantryhq/gantry/internal/domain"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}

	cmd.AddCommand(newTokenCreateCmd(opts))
	cmd.AddCommand(newTokenRevokeCmd(opts))

	return cmd
}

func newTokenCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		subject    string
		scope      string
		privateKey string
		publicKey  string
		issuer     string
		audience   string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API token",
		Long: `Mints an API token through the daemon (requires an admin token). With
--private-key and --public-key the token is signed locally from the
daemon's key pair instead, which is how the first admin token is
bootstrapped on a fresh host.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if privateKey != "" || publicKey != "" {
				if privateKey == "" || publicKey == "" {
					return fmt.Errorf("--private-key and --public-key must be set together")
				}
				keyStore, err := auth.LoadFileKeyStore(privateKey, publicKey)
				if err != nil {
					return err
				}
				minter := auth.NewMinter(auth.MinterConfig{
					KeyStore: keyStore,
					TokenTTL: domain.APITokenLifetime,
					Issuer:   issuer,
					Audience: audience,
					Clock:    domain.RealClock{},
				})
				res, err := minter.MintAPIToken(subject, scope)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Token:   %s\n", res.Token)
				fmt.Fprintf(out, "JTI:     %s\n", res.JTI)
				fmt.Fprintf(out, "Expires: %s\n", res.ExpiresAt.UTC().Format(time.RFC3339))
				return nil
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			tok, err := c.CreateToken(cmd.Context(), subject, scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Token:   %s\n", tok.Token)
			fmt.Fprintf(out, "JTI:     %s\n", tok.JTI)
			fmt.Fprintf(out, "Expires: %s\n", tok.ExpiresAt)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Operator or service the token identifies (required)")
	cmd.Flags().StringVar(&scope, "scope", auth.ScopeDeploy, "Token scope: deploy or admin")
	cmd.Flags().StringVar(&privateKey, "private-key", "", "PEM private key path for local minting")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "PEM public key path for local minting")
	cmd.Flags().StringVar(&issuer, "issuer", "gantryd", "Token issuer for local minting")
	cmd.Flags().StringVar(&audience, "audience", "gantry-api", "Token audience for local minting")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func newTokenRevokeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <jti>",
		Short: "Revoke an API token",
		Long:  `Revokes a token by its JTI. Requires an admin token.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.RevokeToken(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Token %s revoked\n", args[0])
			return nil
		},
	}

	return cmd
}
