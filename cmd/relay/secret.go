package main

import (
	"fmt"

	"relay/cmd/security/token"

	"github.com/spf13/cobra"
)

var (
	secretBytes int
	secretCheck bool
)

var genSecretCmd = &cobra.Command{
	Use:   "gen-secret",
	Short: "Print a random value for " + token.SecretEnvKey,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		if secretCheck {
			r, err := token.CheckEnvFile(envFile)
			if err != nil {
				return err
			}
			if !r.Exists {
				return fmt.Errorf("%s does not exist", r.Path)
			}
			if r.OpenOrigins {
				fmt.Fprintf(out, "warning: %s allows any origin\n", r.Path)
			}
			if r.SecretErr != nil {
				return fmt.Errorf("%s: %w", r.Path, r.SecretErr)
			}
			fmt.Fprintf(out, "%s: %s ok\n", r.Path, token.SecretEnvKey)
			return nil
		}

		s, err := token.NewSecret(secretBytes)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s=%s\n", token.SecretEnvKey, s)
		return nil
	},
}

func init() {
	genSecretCmd.Flags().IntVar(&secretBytes, "bytes", token.DefaultSecretBytes,
		"Number of random bytes before encoding.")
	genSecretCmd.Flags().BoolVar(&secretCheck, "check", false,
		"Validate the secret in --env-file instead of generating one.")
}
