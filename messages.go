package parley

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/parley-chat/parley-go/internal/logger/sl"
)

// FetchMessages loads a page of history for chatID. With appendPage false
// the ledger is replaced by the first page; otherwise the next page is
// appended. A call while a load for the same chat is in flight returns
// immediately.
func (s *Session) FetchMessages(ctx context.Context, chatID ID, appendPage bool) error {
	const op = "parley.Session.FetchMessages"
	log := s.log.With(slog.String("op", op), slog.String("chat_id", chatID.String()))

	var (
		limit, offset int
		skip          bool
		err           error
	)
	s.update(func() {
		chat := s.chats.find(chatID)
		if chat == nil {
			err = unknownChat(chatID)
			return
		}
		page := &chat.Ledger.Page
		if page.Loading || (appendPage && !page.HasMore) {
			skip = true
			return
		}
		page.Loading = true
		page.Error = ""
		page.PageSize = s.pageSize
		if !appendPage {
			page.Offset = 0
		}
		limit, offset = page.limit(), page.Offset
		delete(s.errs, FeatureMessages)
		s.changed(ChangeMessages, chatID, "")
	})
	if err != nil || skip {
		return err
	}

	result, callErr := s.api.ListMessages(ctx, chatID, limit, offset)

	s.update(func() {
		chat := s.chats.find(chatID)
		if chat == nil {
			return
		}
		chat.Ledger.Page.Loading = false
		if callErr != nil {
			chat.Ledger.Page.Error = ErrorMessage(callErr, "Failed to load messages")
		} else if result != nil {
			chat.applyPage(result.Messages, appendPage)
			s.changed(ChangeChats, chatID, "")
		}
		s.changed(ChangeMessages, chatID, "")
	})
	if callErr != nil {
		log.Error("failed to fetch messages", sl.Err(callErr))
		s.fail(FeatureMessages, callErr, "Failed to load messages")
		return callErr
	}
	return nil
}

// LoadMore fetches the next history page of the selected chat.
func (s *Session) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	chatID := s.chats.selected
	s.mu.Unlock()
	if chatID.IsZero() {
		return nil
	}
	return s.FetchMessages(ctx, chatID, true)
}

// SendMessage posts content to chatID and ends the local typing burst.
// Blank content is ignored.
func (s *Session) SendMessage(ctx context.Context, chatID ID, content string, replyTo *ID) error {
	const op = "parley.Session.SendMessage"
	log := s.log.With(slog.String("op", op), slog.String("chat_id", chatID.String()))

	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	s.typing.Sent(ctx, chatID)

	msg, err := s.api.SendMessage(ctx, chatID, content, replyTo)
	if err != nil {
		log.Warn("send failed", sl.Err(err))
		s.fail(FeatureSend, err, "Failed to send message")
		return err
	}
	if msg == nil {
		return nil
	}
	if msg.ChatID.IsZero() {
		msg.ChatID = chatID
	}
	s.update(func() {
		delete(s.errs, FeatureSend)
		chat := s.chats.find(chatID)
		if chat == nil {
			return
		}
		chat.upsertMessage(*msg)
		s.changed(ChangeMessages, chatID, msg.ID)
		s.changed(ChangeChats, chatID, "")
		if chatID == s.chats.selected {
			s.changed(ChangeScrollToLatest, chatID, msg.ID)
		}
	})
	return nil
}

// EditMessage replaces the content of a message. Blank or unchanged content
// is a no-op.
func (s *Session) EditMessage(ctx context.Context, chatID, messageID ID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	var unchanged bool
	var err error
	s.update(func() {
		chat := s.chats.find(chatID)
		if chat == nil {
			err = unknownChat(chatID)
			return
		}
		m := chat.Ledger.find(messageID)
		if m == nil {
			err = unknownMessage(messageID)
			return
		}
		unchanged = m.Content == content
	})
	if err != nil || unchanged {
		return err
	}

	msg, err := s.api.EditMessage(ctx, messageID, content)
	if err != nil {
		s.fail(FeatureEdit, err, "Failed to edit message")
		return err
	}
	s.update(func() {
		chat := s.chats.find(chatID)
		if chat == nil {
			return
		}
		if msg != nil {
			chat.upsertMessage(*msg)
		} else {
			now := s.clock.Now().UTC().Format(time.RFC3339)
			chat.mutateMessage(messageID, func(m *Message) bool {
				m.Content, m.Edited, m.EditedAt = content, true, now
				return true
			})
		}
		s.changed(ChangeMessages, chatID, messageID)
		s.changed(ChangeChats, chatID, "")
	})
	return nil
}

// DeleteMessage deletes a message. A soft-deleted projection returned by
// the backend replaces the entry; otherwise the entry is removed.
func (s *Session) DeleteMessage(ctx context.Context, chatID, messageID ID) error {
	projection, err := s.api.DeleteMessage(ctx, messageID)
	if err != nil {
		s.fail(FeatureDelete, err, "Failed to delete message")
		return err
	}
	s.update(func() {
		chat := s.chats.find(chatID)
		if chat == nil {
			return
		}
		var changed bool
		if projection != nil && projection.ID == messageID {
			projection.IsDeleted = true
			projection.fields |= fieldDeleted
			chat.upsertMessage(*projection)
			changed = true
		} else {
			changed = chat.removeMessage(messageID)
		}
		if changed {
			s.changed(ChangeMessages, chatID, messageID)
			s.changed(ChangeChats, chatID, "")
		}
	})
	return nil
}

// ForwardMessage forwards messageID into targetChatID. Unlike the other
// actions the error is returned for the caller to act on after the toast.
func (s *Session) ForwardMessage(ctx context.Context, targetChatID, messageID ID) error {
	msg, err := s.api.ForwardMessage(ctx, targetChatID, messageID)
	if err != nil {
		s.fail(FeatureForward, err, "Failed to forward message")
		return err
	}
	if msg != nil {
		if msg.ChatID.IsZero() {
			msg.ChatID = targetChatID
		}
		s.update(func() {
			if chat := s.chats.find(targetChatID); chat != nil && chat.upsertMessage(*msg) {
				s.changed(ChangeMessages, targetChatID, msg.ID)
				s.changed(ChangeChats, targetChatID, "")
			}
		})
	}
	s.notify(ToastSuccess, "Message forwarded")
	return nil
}

// TypingInput reports a keystroke in the composer of chatID.
func (s *Session) TypingInput(ctx context.Context, chatID ID) {
	s.typing.Input(ctx, chatID)
}

// Messages returns the ledger of chatID in display order.
func (s *Session) Messages(chatID ID) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := s.chats.find(chatID)
	if chat == nil {
		return nil
	}
	return cloneMessages(chat.Ledger.Messages)
}

// PageState returns the pagination state of chatID.
func (s *Session) PageState(chatID ID) (PageState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := s.chats.find(chatID)
	if chat == nil {
		return PageState{}, false
	}
	return chat.Ledger.Page, true
}

// systemMessageLocked appends a local annotation to chat. Ids are negative
// millisecond timestamps, kept strictly decreasing so two annotations in
// the same millisecond never share an id. An annotation matching the
// chat's latest one in type and data is a redelivery and is dropped.
func (s *Session) systemMessageLocked(chat *Chat, typ SystemType, content string, data map[string]string) bool {
	if last := chat.Ledger.lastSystem(); last != nil && last.SystemType == typ && maps.Equal(last.SystemData, data) {
		return false
	}
	now := s.clock.Now()
	id := -now.UnixMilli()
	if id >= s.lastSystemID {
		id = s.lastSystemID - 1
	}
	s.lastSystemID = id
	chat.appendSystemMessage(Message{
		ID:             IDOf(id),
		ChatID:         chat.ID,
		SenderUsername: "System",
		Content:        content,
		CreatedAt:      now.UTC().Format(time.RFC3339),
		SystemType:     typ,
		SystemData:     data,
	})
	s.changed(ChangeMessages, chat.ID, IDOf(id))
	return true
}
