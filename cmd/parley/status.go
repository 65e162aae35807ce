package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration and, when logged in, load chats, friends and invites to report live counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Env:        %s\n", valueOrDefault(cfg.Default.Env, "(not set)"))
		fmt.Printf("  Base URL:   %s\n", valueOrDefault(cfg.Default.BaseURL, "(default)"))
		fmt.Printf("  Socket URL: %s\n", valueOrDefault(cfg.Default.SocketURL, "(derived)"))

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Token == "" {
			fmt.Println("  Token:      (not set)")
			return nil
		}
		fmt.Printf("  Token:      %s\n", maskToken(cfg.Auth.Token))
		fmt.Printf("  User:       %s (%s)\n", valueOrDefault(cfg.Auth.Username, "?"), cfg.Auth.UserID)

		a, err := newApp()
		if err != nil {
			return err
		}
		session, err := a.session(nil, nil, io.Discard)
		if err != nil {
			return err
		}
		defer session.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		fmt.Println()
		fmt.Println("Live status:")
		if err := session.Resync(ctx); err != nil {
			fmt.Printf("  Error: %v\n", err)
			return nil
		}
		unread := 0
		chats := session.Chats()
		for _, c := range chats {
			unread += c.UnreadCount
		}
		online := 0
		friends := session.Friends()
		for _, f := range friends {
			if f.IsOnline {
				online++
			}
		}
		fmt.Printf("  Chats:           %d (%d unread)\n", len(chats), unread)
		fmt.Printf("  Friends:         %d (%d online)\n", len(friends), online)
		fmt.Printf("  Pending invites: %d\n", session.PendingInvites())
		return nil
	},
}
