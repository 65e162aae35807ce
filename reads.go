package parley

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/parley-chat/parley-go/internal/logger/sl"
)

// HasUserRead reports whether userID holds a read receipt on m.
func HasUserRead(m Message, userID ID) bool {
	return slices.ContainsFunc(m.Reads, func(r MessageReadItem) bool { return r.UserID == userID })
}

// ReadCount is the number of distinct readers of m.
func ReadCount(m Message) int { return len(m.Reads) }

// RecordRead stores a read receipt on messageID and drops the same reader
// from every earlier message in the ledger, so each user marks exactly one
// message as their read position. It reports whether the ledger changed.
func (c *Chat) RecordRead(messageID ID, read MessageReadItem) bool {
	pos := c.Ledger.index(messageID)
	if pos < 0 || read.UserID.IsZero() {
		return false
	}
	changed := false
	for i := 0; i < pos; i++ {
		m := &c.Ledger.Messages[i]
		if !HasUserRead(*m, read.UserID) {
			continue
		}
		m.Reads = slices.DeleteFunc(slices.Clone(m.Reads), func(r MessageReadItem) bool { return r.UserID == read.UserID })
		c.syncPinned(*m, true)
		changed = true
	}
	target := &c.Ledger.Messages[pos]
	reads := slices.Clone(target.Reads)
	if j := slices.IndexFunc(reads, func(r MessageReadItem) bool { return r.UserID == read.UserID }); j >= 0 {
		if reads[j] != read {
			reads[j] = read
			changed = true
		}
	} else {
		reads = append(reads, read)
		changed = true
	}
	target.Reads = reads
	if changed {
		c.syncPinned(*target, true)
		c.refreshLastMessage()
	}
	return changed
}

// latestIncoming returns the newest message the user could mark as read:
// not a system message and not sent by the user.
func (c *Chat) latestIncoming(self ID) *Message {
	for i := len(c.Ledger.Messages) - 1; i >= 0; i-- {
		m := &c.Ledger.Messages[i]
		if m.IsSystem || m.SenderID == self {
			continue
		}
		return m
	}
	return nil
}

// MarkLatestAsRead marks the newest incoming message of the selected chat
// as read. Failures are logged and otherwise ignored.
func (s *Session) MarkLatestAsRead(ctx context.Context) {
	const op = "parley.Session.MarkLatestAsRead"
	log := s.log.With(slog.String("op", op))

	var chatID, messageID ID
	s.update(func() {
		chat := s.chats.find(s.chats.selected)
		if chat == nil {
			return
		}
		m := chat.latestIncoming(s.self.ID)
		if m == nil || HasUserRead(*m, s.self.ID) {
			return
		}
		chatID, messageID = chat.ID, m.ID
	})
	if messageID.IsZero() {
		return
	}

	if err := s.api.MarkRead(ctx, messageID); err != nil {
		log.Debug("mark as read failed", slog.String("message_id", messageID.String()), sl.Err(err))
		return
	}

	s.applyRead(chatID, messageID, MessageReadItem{
		UserID:   s.self.ID,
		Username: s.self.Username,
		ReadAt:   s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Session) applyRead(chatID, messageID ID, read MessageReadItem) {
	s.update(func() {
		chat := s.chats.find(chatID)
		if chat == nil {
			return
		}
		if chat.RecordRead(messageID, read) {
			s.changed(ChangeMessages, chatID, messageID)
		}
	})
}
