package main

import (
	"errors"
	"fmt"
	"time"

	"relay/cmd/internal/app"
	"relay/cmd/internal/auth"

	"github.com/spf13/cobra"
)

var tokenTTL time.Duration

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token <user-id>",
	Short: "Sign a connection token for a user with RELAY_JWT_SECRET",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.LoadConfig(envFile)
		if err != nil {
			return err
		}
		if cfg.JWTSecret == "" {
			return errors.New("RELAY_JWT_SECRET is not set; the server trusts user_id without tokens")
		}

		r, err := auth.NewResolver(auth.WithSecret(cfg.JWTSecret), auth.WithIssuer(cfg.JWTIssuer))
		if err != nil {
			return err
		}
		tok, exp, err := r.Issue(args[0], tokenTTL)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, tok)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	issueTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime.")
}
