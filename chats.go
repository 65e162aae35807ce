package parley

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/parley-chat/parley-go/internal/logger/sl"
)

// chatStore is the chat collection plus the selection. It is only touched
// under the session lock.
type chatStore struct {
	items    []*Chat
	selected ID
	filter   string
	loading  bool
}

func (cs *chatStore) find(id ID) *Chat {
	if id.IsZero() {
		return nil
	}
	for _, c := range cs.items {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// replace installs a fetched chat list. Ledgers and pinned collections of
// chats that survive the refetch are kept.
func (cs *chatStore) replace(chats []Chat, self ID) {
	next := make([]*Chat, 0, len(chats))
	for i := range chats {
		c := chats[i]
		if c.Ledger.Page.PageSize == 0 {
			c.Ledger = newLedger()
		}
		if old := cs.find(c.ID); old != nil {
			c.Ledger = old.Ledger
			c.Pinned = old.Pinned
			if tail := c.Ledger.tail(); tail != nil {
				last := tail.clone()
				c.LastMessage = &last
			}
		}
		if c.ID == cs.selected {
			c.UnreadCount = 0
		}
		c.UnreadCount = max(c.UnreadCount, 0)
		c.HasOnlineMembers = hasOnlineMembers(&c, self)
		next = append(next, &c)
	}
	cs.items = next
}

func (cs *chatStore) remove(id ID) bool {
	i := slices.IndexFunc(cs.items, func(c *Chat) bool { return c.ID == id })
	if i < 0 {
		return false
	}
	cs.items = slices.Delete(slices.Clone(cs.items), i, i+1)
	if cs.selected == id {
		cs.selected = ""
	}
	return true
}

// incrementUnread bumps the unread counter of a chat that is not selected.
func (cs *chatStore) incrementUnread(id ID) bool {
	if id == cs.selected {
		return false
	}
	c := cs.find(id)
	if c == nil {
		return false
	}
	c.UnreadCount++
	return true
}

func (cs *chatStore) selectChat(id ID) bool {
	c := cs.find(id)
	if c == nil {
		return false
	}
	cs.selected = id
	c.UnreadCount = 0
	return true
}

func (cs *chatStore) filtered() []*Chat {
	q := strings.ToLower(strings.TrimSpace(cs.filter))
	if q == "" {
		return cs.items
	}
	var out []*Chat
	for _, c := range cs.items {
		if strings.Contains(strings.ToLower(c.Name), q) {
			out = append(out, c)
		}
	}
	return out
}

// directChatWith finds the direct chat whose peer is userID.
func (cs *chatStore) directChatWith(userID ID) *Chat {
	for _, c := range cs.items {
		if !c.IsGroup && c.OtherUser != nil && c.OtherUser.ID == userID {
			return c
		}
	}
	return nil
}

func hasOnlineMembers(c *Chat, self ID) bool {
	if !c.IsGroup {
		return c.OtherUser != nil && c.OtherUser.IsOnline
	}
	return slices.ContainsFunc(c.Members, func(m ChatMember) bool { return m.ID != self && m.IsOnline })
}

func snapshotChats(items []*Chat) []Chat {
	out := make([]Chat, len(items))
	for i, c := range items {
		out[i] = c.clone()
	}
	return out
}

// ============================================================================
// Session: chats
// ============================================================================

// FetchChats replaces the chat list with the backend's. Failures are
// recorded under FeatureChats and toasted.
func (s *Session) FetchChats(ctx context.Context) error {
	const op = "parley.Session.FetchChats"
	log := s.log.With(slog.String("op", op))

	if err := s.loadChats(ctx); err != nil {
		log.Error("failed to fetch chats", sl.Err(err))
		s.fail(FeatureChats, err, "Failed to load chats")
		return err
	}
	return nil
}

// loadChats replaces the chat list from the API. Failures are returned
// to the caller only.
func (s *Session) loadChats(ctx context.Context) error {
	s.update(func() {
		s.chats.loading = true
		delete(s.errs, FeatureChats)
	})

	chats, err := s.api.ListChats(ctx)

	s.update(func() {
		s.chats.loading = false
		if err == nil {
			s.chats.replace(chats, s.self.ID)
			s.changed(ChangeChats, "", "")
		}
	})
	if err != nil {
		return err
	}
	s.log.Debug("chats loaded", slog.Int("count", len(chats)))
	return nil
}

// SelectChat makes chatID the open chat, resets its unread counter and
// loads its first page, its pinned messages and its read position.
func (s *Session) SelectChat(ctx context.Context, chatID ID) error {
	var ok bool
	s.update(func() {
		ok = s.chats.selectChat(chatID)
		if ok {
			s.changed(ChangeSelection, chatID, "")
			s.changed(ChangeChats, chatID, "")
		}
	})
	if !ok {
		return unknownChat(chatID)
	}

	err := s.FetchMessages(ctx, chatID, false)
	s.FetchPinned(ctx, chatID)
	if err == nil {
		s.MarkLatestAsRead(ctx)
	}
	return err
}

// StartChatWith selects the direct chat with a friend.
func (s *Session) StartChatWith(ctx context.Context, friendID ID) error {
	var chatID ID
	s.mu.Lock()
	if c := s.chats.directChatWith(friendID); c != nil {
		chatID = c.ID
	}
	s.mu.Unlock()

	if chatID.IsZero() {
		err := unknownChat(friendID)
		s.fail(FeatureChats, err, "Chat not found with this friend")
		return err
	}
	return s.SelectChat(ctx, chatID)
}

// SetChatFilter narrows FilteredChats to names containing q.
func (s *Session) SetChatFilter(q string) {
	s.update(func() {
		s.chats.filter = q
		s.changed(ChangeChats, "", "")
	})
}

func (s *Session) Chats() []Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotChats(s.chats.items)
}

func (s *Session) FilteredChats() []Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotChats(s.chats.filtered())
}

func (s *Session) Chat(id ID) (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.chats.find(id); c != nil {
		return c.clone(), true
	}
	return Chat{}, false
}

// SelectedChat returns the open chat, if any.
func (s *Session) SelectedChat() (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.chats.find(s.chats.selected); c != nil {
		return c.clone(), true
	}
	return Chat{}, false
}

func (s *Session) ChatsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chats.loading
}

// refetchChats reloads the chat list in the background after an event
// referenced a chat this session has not seen. A failure is only logged.
func (s *Session) refetchChats(reason string) {
	s.metrics.refetch()
	s.log.Debug("refetching chats", slog.String("reason", reason))
	s.background(func(ctx context.Context) {
		if err := s.loadChats(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("background chat refetch failed", sl.Err(err))
		}
	})
}
