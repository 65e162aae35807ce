package parley

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/parley-chat/parley-go/internal/logger/sl"
)

// Outcomes reported to Metrics for each dispatched event.
const (
	outcomeApplied = "applied"
	outcomeIgnored = "ignored"
	outcomeRefetch = "refetch"
	outcomeInvalid = "invalid"
)

// Dispatcher routes decoded push events to the session state that owns
// them. Every handler is idempotent: delivering the same event twice
// leaves the same state as delivering it once.
type Dispatcher struct {
	s   *Session
	log *slog.Logger
}

func NewDispatcher(s *Session) *Dispatcher {
	return &Dispatcher{s: s, log: s.log.With(slog.String("component", "dispatcher"))}
}

// HandleEnvelope decodes and applies one inbound frame. Undecodable frames
// are logged and dropped.
func (d *Dispatcher) HandleEnvelope(env Envelope) {
	ev, err := DecodeEvent(env.Event, env.Data)
	if err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			d.log.Debug("unhandled event", slog.String("event", env.Event))
		} else {
			d.log.Warn("malformed event", slog.String("event", env.Event), sl.Err(err))
		}
		d.s.metrics.event(env.Event, outcomeInvalid)
		return
	}
	d.Dispatch(ev)
}

// Dispatch applies ev synchronously.
func (d *Dispatcher) Dispatch(ev Event) {
	var outcome string
	switch e := ev.(type) {
	case MessageNew:
		outcome = d.messageNew(e)
	case MessageUpdated:
		outcome = d.messageUpdated(e)
	case MessageDeleted:
		outcome = d.messageDeleted(e)
	case ReactionAdded:
		outcome = d.reaction(e.ChatID, e.MessageID, e.Reaction, true)
	case ReactionRemoved:
		outcome = d.reaction(e.ChatID, e.MessageID, e.Reaction, false)
	case MessagePinned:
		outcome = d.messagePinned(e)
	case MessageUnpinned:
		outcome = d.messageUnpinned(e)
	case MessageRead:
		outcome = d.messageRead(e)
	case TypingStarted:
		outcome = d.typing(e.ChatID, d.s.typing.Start(e.ChatID, e.UserID, e.Username))
	case TypingStopped:
		outcome = d.typing(e.ChatID, d.s.typing.Stop(e.ChatID, e.UserID))
	case UserStatus:
		outcome = d.userStatus(e)
	case ChatCreated:
		d.s.refetchChats(EventChatCreated)
		outcome = outcomeRefetch
	case ChatUpdated:
		outcome = d.chatUpdated(e)
	case MemberAdded:
		outcome = d.memberAdded(e)
	case MemberRemoved:
		outcome = d.memberRemoved(e)
	case FriendInviteReceived:
		outcome = d.inviteReceived(e)
	case FriendInviteAccepted:
		outcome = d.inviteAccepted(e)
	case FriendInviteRejected:
		outcome = d.inviteRejected(e)
	case FriendRemoved:
		outcome = d.friendRemoved(e)
	default:
		d.log.Error("event type not routed", slog.String("event", ev.EventName()))
		outcome = outcomeInvalid
	}
	d.s.metrics.event(ev.EventName(), outcome)
	if outcome == outcomeIgnored {
		d.log.Debug("event ignored", slog.String("event", ev.EventName()))
	}
}

// ============================================================================
// Messages
// ============================================================================

func (d *Dispatcher) messageNew(e MessageNew) string {
	s := d.s
	msg := e.Message
	chatID := e.ChatID
	if chatID.IsZero() {
		chatID = msg.ChatID
	}
	if msg.ID.IsZero() {
		return outcomeInvalid
	}
	msg.ChatID = chatID

	outcome := outcomeApplied
	markRead := false
	s.update(func() {
		chat := s.chats.find(chatID)
		if chat == nil {
			outcome = outcomeRefetch
			return
		}
		inserted := chat.upsertMessage(msg)
		s.changed(ChangeMessages, chatID, msg.ID)
		s.changed(ChangeChats, chatID, "")
		// A message from a typist ends their typing indicator.
		if s.typing.Stop(chatID, msg.SenderID) {
			s.changed(ChangeTyping, chatID, "")
		}
		own := msg.SenderID == s.self.ID
		switch {
		case chatID == s.chats.selected:
			if inserted {
				s.changed(ChangeScrollToLatest, chatID, msg.ID)
			}
			markRead = !own
		case inserted && !own:
			s.chats.incrementUnread(chatID)
		}
	})

	if outcome == outcomeRefetch {
		s.refetchChats(EventMessageNew)
	}
	if markRead {
		s.background(s.MarkLatestAsRead)
	}
	return outcome
}

func (d *Dispatcher) messageUpdated(e MessageUpdated) string {
	s := d.s
	msg := e.Message
	chatID := e.ChatID
	if chatID.IsZero() {
		chatID = msg.ChatID
	}
	msg.ChatID = chatID

	outcome := outcomeIgnored
	s.update(func() {
		chat := s.chats.find(chatID)
		// Updates never create entries; a missed message arrives with the
		// next page fetch.
		if chat == nil || chat.Ledger.find(msg.ID) == nil {
			return
		}
		chat.upsertMessage(msg)
		s.changed(ChangeMessages, chatID, msg.ID)
		s.changed(ChangeChats, chatID, "")
		outcome = outcomeApplied
	})
	return outcome
}

func (d *Dispatcher) messageDeleted(e MessageDeleted) string {
	s := d.s
	messageID := e.MessageID
	if messageID.IsZero() && e.Message != nil {
		messageID = e.Message.ID
	}
	if messageID.IsZero() {
		return outcomeInvalid
	}

	outcome := outcomeIgnored
	s.update(func() {
		chat := s.chats.find(e.ChatID)
		if chat == nil {
			return
		}
		changed := false
		if e.Message != nil && e.Message.ID == messageID {
			projection := *e.Message
			projection.ChatID = chat.ID
			projection.IsDeleted = true
			projection.fields |= fieldDeleted
			if chat.Ledger.find(messageID) != nil {
				chat.upsertMessage(projection)
				changed = true
			} else {
				changed = chat.removeMessage(messageID)
			}
		} else {
			changed = chat.removeMessage(messageID)
		}
		if changed {
			s.changed(ChangeMessages, chat.ID, messageID)
			s.changed(ChangeChats, chat.ID, "")
			outcome = outcomeApplied
		}
	})
	return outcome
}

// ============================================================================
// Reactions, pins, reads
// ============================================================================

func (d *Dispatcher) reaction(chatID, messageID ID, r ReactionPayload, add bool) string {
	if r.Emoji == "" || r.UserID.IsZero() {
		return outcomeInvalid
	}
	if d.s.applyReaction(chatID, messageID, r.Emoji, r.UserID, r.Username, add) {
		return outcomeApplied
	}
	return outcomeIgnored
}

func (d *Dispatcher) messagePinned(e MessagePinned) string {
	s := d.s
	by, at := e.PinnedBy, e.PinnedAt
	if e.Message != nil {
		if by == nil {
			by = e.Message.PinnedBy
		}
		if at == "" {
			at = e.Message.PinnedAt
		}
	}
	outcome := outcomeIgnored
	s.update(func() {
		chat := s.chats.find(e.ChatID)
		if chat == nil {
			return
		}
		if chat.setPin(e.MessageID, true, by, at, e.Message) {
			s.changed(ChangePins, chat.ID, e.MessageID)
			outcome = outcomeApplied
		}
	})
	return outcome
}

func (d *Dispatcher) messageUnpinned(e MessageUnpinned) string {
	s := d.s
	outcome := outcomeIgnored
	s.update(func() {
		chat := s.chats.find(e.ChatID)
		if chat == nil {
			return
		}
		if chat.setPin(e.MessageID, false, nil, "", nil) {
			s.changed(ChangePins, chat.ID, e.MessageID)
			outcome = outcomeApplied
		}
	})
	return outcome
}

func (d *Dispatcher) messageRead(e MessageRead) string {
	s := d.s
	outcome := outcomeIgnored
	s.update(func() {
		chat := s.chats.find(e.ChatID)
		if chat == nil {
			return
		}
		read := MessageReadItem{UserID: e.UserID, Username: e.Username, ReadAt: e.ReadAt}
		if chat.RecordRead(e.MessageID, read) {
			s.changed(ChangeMessages, chat.ID, e.MessageID)
			outcome = outcomeApplied
		}
	})
	return outcome
}

// ============================================================================
// Typing & presence
// ============================================================================

func (d *Dispatcher) typing(chatID ID, changed bool) string {
	if !changed {
		return outcomeIgnored
	}
	d.s.update(func() { d.s.changed(ChangeTyping, chatID, "") })
	return outcomeApplied
}

func (d *Dispatcher) userStatus(e UserStatus) string {
	if e.UserID.IsZero() {
		return outcomeInvalid
	}
	d.s.update(func() { d.s.applyPresenceLocked(e.UserID, e.IsOnline, e.LastSeen) })
	return outcomeApplied
}

// ============================================================================
// Chats & members
// ============================================================================

func (d *Dispatcher) chatUpdated(e ChatUpdated) string {
	s := d.s
	outcome := outcomeIgnored
	s.update(func() {
		chat := s.chats.find(e.ChatID)
		if chat == nil {
			return
		}
		data := map[string]string{"chatId": chat.ID.String()}
		content := "Chat updated"
		if name := e.Name(); name != "" {
			if name == chat.Name {
				// Redelivery of a rename already applied.
				return
			}
			chat.Name = name
			data["name"] = name
			content = "Chat renamed to " + name
		} else if updates, err := json.Marshal(e.Updates); err == nil {
			data["updates"] = string(updates)
		}
		if !s.systemMessageLocked(chat, SystemChatUpdated, content, data) && data["name"] == "" {
			return
		}
		s.changed(ChangeChats, chat.ID, "")
		d.scrollIfSelectedLocked(chat.ID)
		outcome = outcomeApplied
	})
	return outcome
}

func (d *Dispatcher) memberAdded(e MemberAdded) string {
	s := d.s
	userID := e.Member.Identity()
	if userID.IsZero() {
		return outcomeInvalid
	}
	outcome := outcomeApplied
	s.update(func() {
		chat := s.chats.find(e.ChatID)
		if chat == nil {
			outcome = outcomeRefetch
			return
		}
		username := e.Member.DisplayName()
		if username == "" {
			username = d.usernameLocked(chat, userID)
		}
		if chat.IsGroup {
			if FindIndexByID(chat.Members, userID) >= 0 {
				outcome = outcomeIgnored
				return
			}
			member := ChatMember{ID: userID, Username: username, Role: e.Member.Role}
			chat.Members = append(append([]ChatMember(nil), chat.Members...), member)
			chat.MemberCount = max(chat.MemberCount+1, len(chat.Members))
		}
		added := s.systemMessageLocked(chat, SystemMemberAdded, username+" joined the chat", map[string]string{
			"chatId":   chat.ID.String(),
			"userId":   userID.String(),
			"username": username,
		})
		if !added && !chat.IsGroup {
			outcome = outcomeIgnored
			return
		}
		s.changed(ChangeChats, chat.ID, "")
		d.scrollIfSelectedLocked(chat.ID)
	})
	if outcome == outcomeRefetch {
		s.refetchChats(EventMemberAdded)
	}
	return outcome
}

func (d *Dispatcher) memberRemoved(e MemberRemoved) string {
	s := d.s
	if e.UserID.IsZero() {
		return outcomeInvalid
	}
	outcome := outcomeIgnored
	s.update(func() {
		chat := s.chats.find(e.ChatID)
		if chat == nil {
			return
		}
		username := d.usernameLocked(chat, e.UserID)
		if chat.IsGroup {
			i := FindIndexByID(chat.Members, e.UserID)
			if i < 0 {
				return
			}
			members := append([]ChatMember(nil), chat.Members...)
			chat.Members = append(members[:i], members[i+1:]...)
			chat.MemberCount = max(chat.MemberCount-1, len(chat.Members))
			chat.HasOnlineMembers = hasOnlineMembers(chat, s.self.ID)
		}
		added := s.systemMessageLocked(chat, SystemMemberRemoved, username+" left the chat", map[string]string{
			"chatId":   chat.ID.String(),
			"userId":   e.UserID.String(),
			"username": username,
		})
		if !added && !chat.IsGroup {
			return
		}
		s.changed(ChangeChats, chat.ID, "")
		d.scrollIfSelectedLocked(chat.ID)
		outcome = outcomeApplied
	})
	return outcome
}

// usernameLocked resolves a display name from the chat's members, the
// direct peer, or the friend list.
func (d *Dispatcher) usernameLocked(chat *Chat, userID ID) string {
	if m, ok := FindByID(chat.Members, userID); ok && m.Username != "" {
		return m.Username
	}
	if chat.OtherUser != nil && chat.OtherUser.ID == userID && chat.OtherUser.Username != "" {
		return chat.OtherUser.Username
	}
	if f, ok := FindByID(d.s.friends.items, userID); ok && f.Username != "" {
		return f.Username
	}
	return "Unknown user"
}

func (d *Dispatcher) scrollIfSelectedLocked(chatID ID) {
	if chatID == d.s.chats.selected {
		d.s.changed(ChangeScrollToLatest, chatID, "")
	}
}

// ============================================================================
// Friends & invites
// ============================================================================

func (d *Dispatcher) inviteReceived(e FriendInviteReceived) string {
	s := d.s
	if e.Invite.ID.IsZero() {
		return outcomeInvalid
	}
	outcome := outcomeIgnored
	s.update(func() {
		if s.invites.addReceived(e.Invite) {
			s.changed(ChangeInvites, "", "")
			outcome = outcomeApplied
		}
	})
	if outcome == outcomeApplied && e.Invite.Sender != nil {
		s.notify(ToastInfo, "New friend invite from "+e.Invite.Sender.Username)
	}
	return outcome
}

func (d *Dispatcher) inviteAccepted(e FriendInviteAccepted) string {
	s := d.s
	outcome := outcomeIgnored
	s.update(func() {
		if s.addFriendshipLocked(e.Friendship) {
			s.changed(ChangeFriends, "", "")
			outcome = outcomeApplied
		}
	})
	return outcome
}

func (d *Dispatcher) inviteRejected(e FriendInviteRejected) string {
	s := d.s
	outcome := outcomeIgnored
	s.update(func() {
		if s.invites.updateStatus(e.Invite.ID, InviteRejected) {
			s.changed(ChangeInvites, "", "")
			outcome = outcomeApplied
		}
	})
	return outcome
}

func (d *Dispatcher) friendRemoved(e FriendRemoved) string {
	s := d.s
	id := e.FriendID
	if id.IsZero() {
		id = e.Friend.ID
	}
	outcome := outcomeIgnored
	s.update(func() {
		if s.friends.remove(id) {
			s.changed(ChangeFriends, "", "")
			outcome = outcomeApplied
		}
	})
	return outcome
}
