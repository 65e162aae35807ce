package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	parley "github.com/parley-chat/parley-go"
)

var errNotLoggedIn = errors.New("no token configured, run 'parley login <token> --user-id <id>' first")

// app bundles what every command that talks to the backend needs.
type app struct {
	cfg    *Config
	log    *slog.Logger
	client *parley.Client
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Auth.Token == "" || cfg.Auth.UserID == "" {
		return nil, errNotLoggedIn
	}
	var opts []parley.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, parley.WithBaseURL(cfg.Default.BaseURL))
	}
	return &app{
		cfg:    cfg,
		log:    setupLogger(cfg.Default.Env),
		client: parley.NewClient(cfg.Auth.Token, opts...),
	}, nil
}

func (a *app) self() parley.UserRef {
	return parley.UserRef{ID: parley.ID(a.cfg.Auth.UserID), Username: a.cfg.Auth.Username}
}

// session builds a Session over the REST client. Toasts are written to
// out as they are raised.
func (a *app) session(emitter parley.Emitter, metrics *parley.Metrics, out io.Writer) (*parley.Session, error) {
	return parley.NewSession(parley.Options{
		API:         a.client,
		CurrentUser: a.self(),
		Emitter:     emitter,
		Notifier:    printNotifier{out: out},
		Logger:      a.log,
		Metrics:     metrics,
		OnUnauthorized: func() {
			a.log.Error("token rejected by the server, run 'parley login' again")
		},
	})
}

// socketURL is the configured socket endpoint, or the base URL with its
// /api suffix swapped for /ws.
func (a *app) socketURL() string {
	if a.cfg.Default.SocketURL != "" {
		return a.cfg.Default.SocketURL
	}
	return strings.TrimSuffix(a.client.BaseURL(), "/api") + "/ws"
}

type printNotifier struct{ out io.Writer }

func (n printNotifier) Notify(kind parley.ToastKind, message string) {
	fmt.Fprintf(n.out, "[%s] %s\n", kind, message)
}

// ============================================================================
// Formatting
// ============================================================================

func formatMessage(m parley.Message) string {
	var b strings.Builder
	if m.IsSystem {
		fmt.Fprintf(&b, "  -- %s --", m.Content)
		return b.String()
	}
	fmt.Fprintf(&b, "  [%s] %s: ", m.ID, valueOrDefault(m.SenderUsername, m.SenderID.String()))
	if m.IsDeleted {
		b.WriteString("(deleted)")
	} else {
		b.WriteString(m.Content)
	}
	if m.Edited {
		b.WriteString(" (edited)")
	}
	if m.IsPinned {
		b.WriteString(" [pinned]")
	}
	for _, r := range m.Reactions {
		fmt.Fprintf(&b, " %s%d", r.Emoji, len(r.UserIDs))
	}
	if n := parley.ReadCount(m); n > 0 {
		fmt.Fprintf(&b, " (read by %d)", n)
	}
	return b.String()
}

func formatChat(c parley.Chat) string {
	kind := "direct"
	if c.IsGroup {
		kind = fmt.Sprintf("group, %d members", max(c.MemberCount, len(c.Members)))
	}
	line := fmt.Sprintf("  %-6s %s (%s)", c.ID, c.Name, kind)
	if c.UnreadCount > 0 {
		line += fmt.Sprintf("  %d unread", c.UnreadCount)
	}
	if c.HasOnlineMembers {
		line += "  *online"
	}
	return line
}

// maskToken shows the first 6 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 12 {
		return strings.Repeat("*", len(token))
	}
	return token[:6] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
