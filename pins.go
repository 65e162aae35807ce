package parley

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/parley-chat/parley-go/internal/logger/sl"
)

// PinState is the per-message pin lifecycle. Pinning and Unpinning are the
// in-flight states of a local toggle.
type PinState int

const (
	PinStateUnpinned PinState = iota
	PinStatePinning
	PinStatePinned
	PinStateUnpinning
)

func (p PinState) String() string {
	switch p {
	case PinStatePinning:
		return "pinning"
	case PinStatePinned:
		return "pinned"
	case PinStateUnpinning:
		return "unpinning"
	default:
		return "unpinned"
	}
}

type pinSnapshot struct {
	pinned bool
	by     *UserRef
	at     string
}

func snapshotPin(m *Message) pinSnapshot {
	return pinSnapshot{pinned: m.IsPinned, by: m.clone().PinnedBy, at: m.PinnedAt}
}

func (p pinSnapshot) equal(o pinSnapshot) bool {
	if p.pinned != o.pinned || p.at != o.at || (p.by == nil) != (o.by == nil) {
		return false
	}
	return p.by == nil || *p.by == *o.by
}

// ============================================================================
// Chat-level pinned collection
// ============================================================================

// syncPinned keeps the chat's pinned collection in step with the flag on m.
// When known is false the payload said nothing about pin state, so only an
// existing entry is refreshed.
func (c *Chat) syncPinned(m Message, known bool) {
	i := FindIndexByID(c.Pinned, m.ID)
	switch {
	case !known:
		if i >= 0 {
			entry := m.clone()
			entry.IsPinned = true
			entry.PinnedBy = c.Pinned[i].PinnedBy
			entry.PinnedAt = c.Pinned[i].PinnedAt
			c.Pinned = slices.Clone(c.Pinned)
			c.Pinned[i] = entry
		}
	case m.IsPinned && !m.IsDeleted:
		c.Pinned = slices.Clone(c.Pinned)
		if i >= 0 {
			c.Pinned[i] = m.clone()
		} else {
			c.Pinned = append(c.Pinned, m.clone())
		}
	case i >= 0:
		c.Pinned = slices.Delete(slices.Clone(c.Pinned), i, i+1)
	}
}

// setPin moves messageID to the given pin state, updating the ledger flag
// and the pinned collection together. fallback supplies the message body
// when it is not loaded in the ledger.
func (c *Chat) setPin(messageID ID, pinned bool, by *UserRef, at string, fallback *Message) bool {
	apply := func(m *Message) {
		m.IsPinned = pinned
		if pinned {
			m.PinnedBy = by
			m.PinnedAt = at
		} else {
			m.PinnedBy = nil
			m.PinnedAt = ""
		}
	}
	if m := c.Ledger.find(messageID); m != nil {
		before := snapshotPin(m)
		apply(m)
		c.syncPinned(*m, true)
		return !before.equal(snapshotPin(m))
	}
	i := FindIndexByID(c.Pinned, messageID)
	switch {
	case pinned && fallback != nil:
		m := fallback.clone()
		apply(&m)
		c.syncPinned(m, true)
		return true
	case !pinned && i >= 0:
		c.Pinned = slices.Delete(slices.Clone(c.Pinned), i, i+1)
		return true
	}
	return false
}

func (c *Chat) restorePin(messageID ID, prior pinSnapshot, fallback *Message) {
	c.setPin(messageID, prior.pinned, prior.by, prior.at, fallback)
}

// replacePinned installs a fetched pinned collection and aligns the ledger
// flags with it.
func (c *Chat) replacePinned(items []PinnedMessage) {
	pinned := make([]Message, 0, len(items))
	byID := make(map[ID]PinnedMessage, len(items))
	for _, item := range items {
		m := item.Message.clone()
		m.IsPinned = true
		if item.PinnedBy != nil {
			m.PinnedBy = item.PinnedBy
		}
		if item.PinnedAt != "" {
			m.PinnedAt = item.PinnedAt
		}
		pinned = append(pinned, m)
		byID[m.ID] = PinnedMessage{Message: m, PinnedBy: m.PinnedBy, PinnedAt: m.PinnedAt}
	}
	c.Pinned = pinned
	for i := range c.Ledger.Messages {
		m := &c.Ledger.Messages[i]
		if item, ok := byID[m.ID]; ok {
			m.IsPinned, m.PinnedBy, m.PinnedAt = true, item.PinnedBy, item.PinnedAt
		} else if m.IsPinned {
			m.IsPinned, m.PinnedBy, m.PinnedAt = false, nil, ""
		}
	}
	c.refreshLastMessage()
}

// ============================================================================
// Session actions
// ============================================================================

// PinState reports the pin lifecycle state of a message.
func (s *Session) PinState(chatID, messageID ID) PinState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.pinning[messageID]; ok {
		return st
	}
	chat := s.chats.find(chatID)
	if chat == nil {
		return PinStateUnpinned
	}
	if m := chat.Ledger.find(messageID); m != nil && m.IsPinned {
		return PinStatePinned
	}
	if FindIndexByID(chat.Pinned, messageID) >= 0 {
		return PinStatePinned
	}
	return PinStateUnpinned
}

// TogglePin pins or unpins a message and returns the resulting pin state.
// While a toggle for the same message is in flight, further calls issue no
// request and return the optimistic state, which already reflects the
// pending toggle rather than the state before it. On failure the previous
// state is restored.
func (s *Session) TogglePin(ctx context.Context, chatID, messageID ID) (bool, error) {
	const op = "parley.Session.TogglePin"
	log := s.log.With(slog.String("op", op), slog.String("message_id", messageID.String()))

	var (
		current, proceed bool
		prior            pinSnapshot
		fallback         *Message
		err              error
	)
	s.update(func() {
		chat := s.chats.find(chatID)
		if chat == nil {
			err = unknownChat(chatID)
			return
		}
		m := chat.Ledger.find(messageID)
		if m == nil {
			if i := FindIndexByID(chat.Pinned, messageID); i >= 0 {
				p := chat.Pinned[i].clone()
				m = &p
				fallback = &p
			} else {
				err = unknownMessage(messageID)
				return
			}
		}
		current = m.IsPinned
		if _, inFlight := s.pinning[messageID]; inFlight {
			return
		}
		prior = snapshotPin(m)
		proceed = true
		if current {
			s.pinning[messageID] = PinStateUnpinning
		} else {
			s.pinning[messageID] = PinStatePinning
		}
		self := s.self
		chat.setPin(messageID, !current, &self, s.clock.Now().UTC().Format(time.RFC3339), fallback)
		s.changed(ChangePins, chatID, messageID)
	})
	if err != nil || !proceed {
		return current, err
	}

	var server *Message
	var callErr error
	if current {
		server, callErr = s.api.UnpinMessage(ctx, chatID, messageID)
	} else {
		server, callErr = s.api.PinMessage(ctx, chatID, messageID)
	}

	result := !current
	s.update(func() {
		delete(s.pinning, messageID)
		chat := s.chats.find(chatID)
		if chat == nil {
			return
		}
		if callErr != nil {
			chat.restorePin(messageID, prior, fallback)
			result = prior.pinned
		} else if server != nil && server.has(fieldPin) && result {
			chat.setPin(messageID, true, server.PinnedBy, server.PinnedAt, server)
		} else if !result {
			chat.setPin(messageID, false, nil, "", nil)
		}
		s.changed(ChangePins, chatID, messageID)
	})
	if callErr != nil {
		log.Warn("pin toggle failed", sl.Err(callErr))
		s.fail(FeaturePin, callErr, "Failed to update pin")
		return result, callErr
	}
	return result, nil
}

// FetchPinned loads the pinned collection of a chat. Failures are logged
// only.
func (s *Session) FetchPinned(ctx context.Context, chatID ID) {
	const op = "parley.Session.FetchPinned"
	log := s.log.With(slog.String("op", op), slog.String("chat_id", chatID.String()))

	items, err := s.api.ListPinned(ctx, chatID)
	if err != nil {
		log.Debug("fetch pinned failed", sl.Err(err))
		return
	}
	s.update(func() {
		chat := s.chats.find(chatID)
		if chat == nil {
			return
		}
		chat.replacePinned(items)
		s.changed(ChangePins, chatID, "")
	})
}

// PinnedMessages returns the pinned collection of a chat.
func (s *Session) PinnedMessages(chatID ID) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := s.chats.find(chatID)
	if chat == nil {
		return nil
	}
	return cloneMessages(chat.Pinned)
}
