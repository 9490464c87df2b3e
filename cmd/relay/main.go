// Command relay runs the chat relay server and its maintenance tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Flag variables shared by every subcommand.
var envFile string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "relay",
	Short:         "Real-time chat relay over WebSocket",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env",
		"Dotenv file loaded before RELAY_* variables are parsed. Missing files are ignored.")

	rootCmd.AddCommand(serveCmd, migrateCmd, genSecretCmd, memberCmd, issueTokenCmd)
}
