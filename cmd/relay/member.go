package main

import (
	"errors"
	"fmt"
	"strings"

	"relay/cmd/internal/app"
	"relay/cmd/internal/chat"

	"github.com/spf13/cobra"
)

var memberStatus string

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Inspect and seed group memberships",
}

var memberSetCmd = &cobra.Command{
	Use:   "set <group-id> <user-id>",
	Short: "Record a user's membership status in a group",
	Long: "Membership is normally written by the platform that owns groups. " +
		"This command seeds it directly for local setups and demos.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := chat.MemberStatus(strings.ToLower(strings.TrimSpace(memberStatus)))
		switch status {
		case chat.MemberActive, chat.MemberInactive, chat.MemberBanned:
		default:
			return fmt.Errorf("--status must be active, inactive or banned; got %q", memberStatus)
		}

		groupID := strings.TrimSpace(args[0])
		if groupID == "" {
			return errors.New("group id must not be empty")
		}
		userID, err := chat.NormalizeUserID(args[1])
		if err != nil {
			return err
		}

		cfg, err := app.LoadConfig(envFile)
		if err != nil {
			return err
		}
		if cfg.StoreBackend() == app.StoreMemory {
			return errors.New("member set needs a durable store; the memory store is per process")
		}

		log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
		h, err := app.OpenStore(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = h.Close() }()

		if err := h.Store.SetMember(cmd.Context(), groupID, userID, status); err != nil {
			return fmt.Errorf("set member: %w", err)
		}
		log.Info("member.set", "group_id", groupID, "user_id", userID, "status", status)
		return nil
	},
}

func init() {
	memberSetCmd.Flags().StringVar(&memberStatus, "status", string(chat.MemberActive),
		"Membership status: active, inactive or banned.")
	memberCmd.AddCommand(memberSetCmd)
}
