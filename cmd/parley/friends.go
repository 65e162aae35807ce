package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	parley "github.com/parley-chat/parley-go"
)

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "List friends and their presence",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		session, err := a.session(nil, nil, os.Stderr)
		if err != nil {
			return err
		}
		defer session.Close()

		if err := session.FetchFriends(cmd.Context()); err != nil {
			return err
		}
		friends := session.Friends()
		if jsonOutput {
			return printJSON(friends)
		}
		fmt.Printf("Friends (%d):\n", len(friends))
		for _, f := range friends {
			status := "offline"
			if f.IsOnline {
				status = "online"
			} else if f.LastSeen != "" {
				status = "last seen " + f.LastSeen
			}
			fmt.Printf("  %-6s %-20s %s\n", f.ID, f.Username, status)
		}
		return nil
	},
}

var friendsAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Send a friend invite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		session, err := a.session(nil, nil, os.Stdout)
		if err != nil {
			return err
		}
		defer session.Close()
		return session.AddFriend(cmd.Context(), args[0])
	},
}

var friendsRemoveCmd = &cobra.Command{
	Use:   "remove <friend-id>",
	Short: "Remove a friend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		session, err := a.session(nil, nil, os.Stdout)
		if err != nil {
			return err
		}
		defer session.Close()

		ctx := cmd.Context()
		if err := session.FetchFriends(ctx); err != nil {
			return err
		}
		return session.RemoveFriend(ctx, parley.ID(args[0]))
	},
}

var friendsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search users by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		session, err := a.session(nil, nil, os.Stderr)
		if err != nil {
			return err
		}
		defer session.Close()

		results, err := session.SearchFriends(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(results)
		}
		for _, f := range results {
			fmt.Printf("  %-6s %s\n", f.ID, f.Username)
		}
		return nil
	},
}

// ============================================================================
// invites
// ============================================================================

var invitesCmd = &cobra.Command{
	Use:   "invites",
	Short: "List sent and received friend invites",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		session, err := a.session(nil, nil, os.Stderr)
		if err != nil {
			return err
		}
		defer session.Close()

		if err := session.FetchInvites(cmd.Context()); err != nil {
			return err
		}
		list := session.Invites()
		if jsonOutput {
			return printJSON(list)
		}
		fmt.Printf("Received (%d, %d pending):\n", len(list.Received), list.TotalPending)
		for _, inv := range list.Received {
			from := "?"
			if inv.Sender != nil {
				from = inv.Sender.Username
			}
			fmt.Printf("  %-6s from %-20s %s\n", inv.ID, from, inv.Status)
		}
		fmt.Printf("Sent (%d):\n", len(list.Sent))
		for _, inv := range list.Sent {
			to := "?"
			if inv.Receiver != nil {
				to = inv.Receiver.Username
			}
			fmt.Printf("  %-6s to   %-20s %s\n", inv.ID, to, inv.Status)
		}
		return nil
	},
}

func inviteAnswerCmd(use, short string, accept bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <invite-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			session, err := a.session(nil, nil, os.Stdout)
			if err != nil {
				return err
			}
			defer session.Close()

			ctx := cmd.Context()
			if err := session.FetchInvites(ctx); err != nil {
				return err
			}
			if accept {
				return session.AcceptInvite(ctx, parley.ID(args[0]))
			}
			return session.RejectInvite(ctx, parley.ID(args[0]))
		},
	}
}

func init() {
	friendsCmd.AddCommand(friendsAddCmd)
	friendsCmd.AddCommand(friendsRemoveCmd)
	friendsCmd.AddCommand(friendsSearchCmd)

	invitesCmd.AddCommand(inviteAnswerCmd("accept", "Accept a friend invite", true))
	invitesCmd.AddCommand(inviteAnswerCmd("reject", "Reject a friend invite", false))

	rootCmd.AddCommand(friendsCmd)
	rootCmd.AddCommand(invitesCmd)
}
