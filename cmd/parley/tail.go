package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	parley "github.com/parley-chat/parley-go"
	"github.com/parley-chat/parley-go/internal/logger/sl"
)

var (
	tailChat        string
	tailMetricsAddr string
	tailMaxRetries  int
)

func init() {
	tailCmd.Flags().StringVar(&tailChat, "chat", "", "Chat to select; its incoming messages are marked as read")
	tailCmd.Flags().StringVar(&tailMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	tailCmd.Flags().IntVar(&tailMaxRetries, "max-retries", -1, "Reconnect attempts before giving up, negative for unlimited")
	rootCmd.AddCommand(tailCmd)
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow live events and print the resulting state changes",
	Long: `Connect to the push socket, keep a local copy of chats, friends and
invites in sync with the server and print every change as it is applied.
After a reconnect the local state is refetched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		metrics, err := parley.NewMetrics(reg)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}

		rt := parley.NewRealtimeClient(a.socketURL(), &parley.RealtimeConfig{
			Token:                a.cfg.Auth.Token,
			AutoReconnect:        true,
			MaxReconnectAttempts: tailMaxRetries,
			Logger:               a.log,
			Metrics:              metrics,
		})
		session, err := a.session(rt, metrics, os.Stdout)
		if err != nil {
			return err
		}
		defer session.Close()

		session.Subscribe(func(c parley.Change) { printChange(session, c) })
		rt.OnEnvelope(parley.NewDispatcher(session).HandleEnvelope)
		rt.OnReconnected(func() {
			a.log.Info("reconnected, resyncing")
			if err := session.Resync(ctx); err != nil {
				a.log.Warn("resync failed", sl.Err(err))
			}
		})
		rt.OnDisconnected(func(code int, reason string) {
			a.log.Info("socket closed", slog.Int("code", code), slog.String("reason", reason))
		})
		rt.OnReconnecting(func(attempt int, delay time.Duration) {
			a.log.Info("reconnecting", slog.Int("attempt", attempt), slog.Duration("delay", delay))
		})

		if err := session.Initialize(ctx); err != nil {
			return err
		}
		if tailChat != "" {
			if err := session.SelectChat(ctx, parley.ID(tailChat)); err != nil {
				return err
			}
		}
		if err := rt.Connect(ctx); err != nil {
			return err
		}
		defer rt.Disconnect()

		fmt.Fprintf(os.Stderr, "Following %d chats, press Ctrl+C to stop\n", len(session.Chats()))

		g, gctx := errgroup.WithContext(ctx)
		if tailMetricsAddr != "" {
			srv := &http.Server{
				Addr:              tailMetricsAddr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			g.Go(func() error {
				a.log.Info("serving metrics", slog.String("addr", tailMetricsAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
		return g.Wait()
	},
}

func printChange(s *parley.Session, c parley.Change) {
	switch c.Kind {
	case parley.ChangeMessages:
		chat, ok := s.Chat(c.ChatID)
		if !ok {
			return
		}
		if c.MessageID.IsZero() {
			fmt.Printf("%s: history updated (%d messages)\n", chat.Name, len(chat.Ledger.Messages))
			return
		}
		if m, ok := chat.FindMessage(c.MessageID); ok {
			fmt.Printf("%s:%s\n", chat.Name, formatMessage(m))
		} else {
			fmt.Printf("%s: message %s removed\n", chat.Name, c.MessageID)
		}
	case parley.ChangeTyping:
		chat, _ := s.Chat(c.ChatID)
		if text := parley.TypingText(s.TypingUsers(c.ChatID)); text != "" {
			fmt.Printf("%s: %s\n", chat.Name, text)
		}
	case parley.ChangePins:
		fmt.Printf("pins changed in %s (%d pinned)\n", c.ChatID, len(s.PinnedMessages(c.ChatID)))
	case parley.ChangeFriends:
		online := 0
		for _, f := range s.Friends() {
			if f.IsOnline {
				online++
			}
		}
		fmt.Printf("friends: %d online\n", online)
	case parley.ChangeInvites:
		fmt.Printf("invites: %d pending\n", s.PendingInvites())
	}
}
