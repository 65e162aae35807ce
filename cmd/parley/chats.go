package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	parley "github.com/parley-chat/parley-go"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	jsonOutput bool

	// messages
	messagesLimit int
	messagesPages int

	// send
	sendReplyTo string

	// search
	searchMore bool
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ============================================================================
// chats
// ============================================================================

var chatsCmd = &cobra.Command{
	Use:   "chats [filter]",
	Short: "List chats",
	Args:  cobra.MaximumNArgs(1),
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

		if err := session.FetchChats(cmd.Context()); err != nil {
			return err
		}
		if len(args) == 1 {
			session.SetChatFilter(args[0])
		}
		chats := session.FilteredChats()
		if jsonOutput {
			return printJSON(chats)
		}
		fmt.Printf("Chats (%d):\n", len(chats))
		for _, c := range chats {
			fmt.Println(formatChat(c))
			if c.LastMessage != nil {
				fmt.Printf("         %s\n", strings.TrimSpace(formatMessage(*c.LastMessage)))
			}
		}
		return nil
	},
}

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <chat-id>",
	Short: "Show the history of a chat",
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

		ctx := cmd.Context()
		chatID := parley.ID(args[0])
		if err := session.FetchChats(ctx); err != nil {
			return err
		}
		if err := session.SelectChat(ctx, chatID); err != nil {
			return err
		}
		for i := 1; i < messagesPages; i++ {
			if page, _ := session.PageState(chatID); !page.HasMore {
				break
			}
			if err := session.LoadMore(ctx); err != nil {
				return err
			}
		}

		messages := session.Messages(chatID)
		if jsonOutput {
			return printJSON(messages)
		}
		if messagesLimit > 0 && len(messages) > messagesLimit {
			messages = messages[len(messages)-messagesLimit:]
		}
		chat, _ := session.Chat(chatID)
		fmt.Printf("%s (%d messages):\n", chat.Name, len(messages))
		for _, m := range messages {
			fmt.Println(formatMessage(m))
		}
		if pinned := session.PinnedMessages(chatID); len(pinned) > 0 {
			fmt.Printf("\nPinned (%d):\n", len(pinned))
			for _, m := range pinned {
				fmt.Println(formatMessage(m))
			}
		}
		return nil
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <message>",
	Short: "Send a message to a chat",
	Args:  cobra.MinimumNArgs(2),
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

		ctx := cmd.Context()
		chatID := parley.ID(args[0])
		if err := session.FetchChats(ctx); err != nil {
			return err
		}
		var replyTo *parley.ID
		if sendReplyTo != "" {
			replyTo = parley.ID(sendReplyTo).Ptr()
		}
		if err := session.SendMessage(ctx, chatID, strings.Join(args[1:], " "), replyTo); err != nil {
			return err
		}
		chat, _ := session.Chat(chatID)
		if chat.LastMessage != nil {
			fmt.Println(formatMessage(*chat.LastMessage))
		}
		return nil
	},
}

// ============================================================================
// search
// ============================================================================

var searchCmd = &cobra.Command{
	Use:   "search <chat-id> <query>",
	Short: "Search the messages of a chat",
	Args:  cobra.MinimumNArgs(2),
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

		ctx := cmd.Context()
		if err := session.SearchMessages(ctx, parley.ID(args[0]), strings.Join(args[1:], " ")); err != nil {
			return err
		}
		for searchMore && session.SearchResults().HasMore {
			if err := session.LoadMoreSearch(ctx); err != nil {
				return err
			}
		}
		results := session.SearchResults()
		if jsonOutput {
			return printJSON(results)
		}
		fmt.Printf("%d of %d matches for %q:\n", len(results.Results), results.Total, results.Query)
		for _, m := range results.Results {
			fmt.Println(formatMessage(m))
		}
		return nil
	},
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON")

	messagesCmd.Flags().IntVarP(&messagesLimit, "limit", "n", 0, "Show only the last n messages")
	messagesCmd.Flags().IntVar(&messagesPages, "pages", 1, "Number of history pages to load")

	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "Id of the message being replied to")

	searchCmd.Flags().BoolVar(&searchMore, "all", false, "Load every page of results")

	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(searchCmd)
}
