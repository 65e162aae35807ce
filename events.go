package parley

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Push event names.
const (
	EventMessageNew           = "message:new"
	EventMessageUpdated       = "message:updated"
	EventMessageDeleted       = "message:deleted"
	EventReactionAdded        = "reaction:added"
	EventReactionRemoved      = "reaction:removed"
	EventMessagePinned        = "message:pinned"
	EventMessageUnpinned      = "message:unpinned"
	EventMessageRead          = "message:read"
	EventUserStatus           = "user:status"
	EventChatCreated          = "chat:created"
	EventChatUpdated          = "chat:updated"
	EventMemberAdded          = "member:added"
	EventMemberRemoved        = "member:removed"
	EventFriendInviteReceived = "friend:invite:received"
	EventFriendInviteAccepted = "friend:invite:accepted"
	EventFriendInviteRejected = "friend:invite:rejected"
	EventFriendRemoved        = "friend:removed"
)

// ErrUnknownEvent is returned by DecodeEvent for names it does not model.
var ErrUnknownEvent = errors.New("parley: unknown event")

// Envelope is one inbound push frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Event is a decoded push event. The set of implementations is closed;
// Dispatcher.Dispatch switches over all of them.
type Event interface {
	EventName() string
	event()
}

type MessageNew struct {
	ChatID  ID      `json:"chatId"`
	Message Message `json:"message"`
}

type MessageUpdated struct {
	ChatID  ID      `json:"chatId"`
	Message Message `json:"message"`
}

// MessageDeleted carries the soft-deleted projection in Message when the
// backend keeps a tombstone; otherwise the message is gone.
type MessageDeleted struct {
	ChatID    ID       `json:"chatId"`
	MessageID ID       `json:"messageId"`
	Message   *Message `json:"message,omitempty"`
}

type ReactionPayload struct {
	Emoji    string `json:"emoji"`
	UserID   ID     `json:"userId"`
	Username string `json:"username"`
}

type ReactionAdded struct {
	ChatID    ID              `json:"chatId"`
	MessageID ID              `json:"messageId"`
	Reaction  ReactionPayload `json:"reaction"`
}

type ReactionRemoved struct {
	ChatID    ID              `json:"chatId"`
	MessageID ID              `json:"messageId"`
	Reaction  ReactionPayload `json:"reaction"`
}

type MessagePinned struct {
	ChatID    ID       `json:"chatId"`
	MessageID ID       `json:"messageId"`
	PinnedBy  *UserRef `json:"pinnedBy,omitempty"`
	PinnedAt  string   `json:"pinnedAt,omitempty"`
	Message   *Message `json:"message,omitempty"`
}

type MessageUnpinned struct {
	ChatID    ID `json:"chatId"`
	MessageID ID `json:"messageId"`
}

type MessageRead struct {
	ChatID    ID     `json:"chatId"`
	MessageID ID     `json:"messageId"`
	UserID    ID     `json:"userId"`
	Username  string `json:"username"`
	ReadAt    string `json:"readAt"`
}

type TypingStarted struct {
	ChatID   ID     `json:"chatId"`
	UserID   ID     `json:"userId"`
	Username string `json:"username"`
}

type TypingStopped struct {
	ChatID ID `json:"chatId"`
	UserID ID `json:"userId"`
}

type UserStatus struct {
	UserID   ID     `json:"userId"`
	IsOnline bool   `json:"isOnline"`
	LastSeen string `json:"lastSeen,omitempty"`
}

type ChatCreated struct {
	Chat json.RawMessage `json:"chat"`
}

type ChatUpdated struct {
	ChatID  ID             `json:"chatId"`
	Updates map[string]any `json:"updates"`
}

// Name returns the new chat name when the update carries one.
func (e ChatUpdated) Name() string {
	name, _ := e.Updates["name"].(string)
	return name
}

// MemberPayload accepts both the flat and the nested user form.
type MemberPayload struct {
	ID       ID     `json:"id"`
	UserID   ID     `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
	User     *struct {
		ID       ID     `json:"id"`
		Username string `json:"username"`
	} `json:"user,omitempty"`
}

// Identity resolves the member's user id.
func (m MemberPayload) Identity() ID {
	switch {
	case !m.UserID.IsZero():
		return m.UserID
	case m.User != nil && !m.User.ID.IsZero():
		return m.User.ID
	}
	return m.ID
}

// DisplayName is the member's username, empty when the payload has none.
func (m MemberPayload) DisplayName() string {
	if m.Username != "" {
		return m.Username
	}
	if m.User != nil {
		return m.User.Username
	}
	return ""
}

type MemberAdded struct {
	ChatID ID            `json:"chatId"`
	Member MemberPayload `json:"member"`
}

type MemberRemoved struct {
	ChatID ID `json:"chatId"`
	UserID ID `json:"userId"`
}

type FriendInviteReceived struct {
	Invite Invite `json:"invite"`
}

type FriendInviteAccepted struct {
	Friendship Friendship `json:"friendship"`
}

type FriendInviteRejected struct {
	Invite Invite `json:"invite"`
}

type FriendRemoved struct {
	FriendID ID     `json:"friendId"`
	Friend   Friend `json:"friend"`
}

func (MessageNew) EventName() string           { return EventMessageNew }
func (MessageUpdated) EventName() string       { return EventMessageUpdated }
func (MessageDeleted) EventName() string       { return EventMessageDeleted }
func (ReactionAdded) EventName() string        { return EventReactionAdded }
func (ReactionRemoved) EventName() string      { return EventReactionRemoved }
func (MessagePinned) EventName() string        { return EventMessagePinned }
func (MessageUnpinned) EventName() string      { return EventMessageUnpinned }
func (MessageRead) EventName() string          { return EventMessageRead }
func (TypingStarted) EventName() string        { return EventTypingStart }
func (TypingStopped) EventName() string        { return EventTypingStop }
func (UserStatus) EventName() string           { return EventUserStatus }
func (ChatCreated) EventName() string          { return EventChatCreated }
func (ChatUpdated) EventName() string          { return EventChatUpdated }
func (MemberAdded) EventName() string          { return EventMemberAdded }
func (MemberRemoved) EventName() string        { return EventMemberRemoved }
func (FriendInviteReceived) EventName() string { return EventFriendInviteReceived }
func (FriendInviteAccepted) EventName() string { return EventFriendInviteAccepted }
func (FriendInviteRejected) EventName() string { return EventFriendInviteRejected }
func (FriendRemoved) EventName() string        { return EventFriendRemoved }

func (MessageNew) event()           {}
func (MessageUpdated) event()       {}
func (MessageDeleted) event()       {}
func (ReactionAdded) event()        {}
func (ReactionRemoved) event()      {}
func (MessagePinned) event()        {}
func (MessageUnpinned) event()      {}
func (MessageRead) event()          {}
func (TypingStarted) event()        {}
func (TypingStopped) event()        {}
func (UserStatus) event()           {}
func (ChatCreated) event()          {}
func (ChatUpdated) event()          {}
func (MemberAdded) event()          {}
func (MemberRemoved) event()        {}
func (FriendInviteReceived) event() {}
func (FriendInviteAccepted) event() {}
func (FriendInviteRejected) event() {}
func (FriendRemoved) event()        {}

// DecodeEvent turns a named push payload into its Event.
func DecodeEvent(name string, data json.RawMessage) (Event, error) {
	switch name {
	case EventMessageNew:
		return decodeEvent[MessageNew](name, data)
	case EventMessageUpdated:
		return decodeEvent[MessageUpdated](name, data)
	case EventMessageDeleted:
		return decodeEvent[MessageDeleted](name, data)
	case EventReactionAdded:
		return decodeEvent[ReactionAdded](name, data)
	case EventReactionRemoved:
		return decodeEvent[ReactionRemoved](name, data)
	case EventMessagePinned:
		return decodeEvent[MessagePinned](name, data)
	case EventMessageUnpinned:
		return decodeEvent[MessageUnpinned](name, data)
	case EventMessageRead:
		return decodeEvent[MessageRead](name, data)
	case EventTypingStart:
		return decodeEvent[TypingStarted](name, data)
	case EventTypingStop:
		return decodeEvent[TypingStopped](name, data)
	case EventUserStatus:
		return decodeEvent[UserStatus](name, data)
	case EventChatCreated:
		return decodeEvent[ChatCreated](name, data)
	case EventChatUpdated:
		return decodeEvent[ChatUpdated](name, data)
	case EventMemberAdded:
		return decodeEvent[MemberAdded](name, data)
	case EventMemberRemoved:
		return decodeEvent[MemberRemoved](name, data)
	case EventFriendInviteReceived:
		return decodeEvent[FriendInviteReceived](name, data)
	case EventFriendInviteAccepted:
		return decodeEvent[FriendInviteAccepted](name, data)
	case EventFriendInviteRejected:
		return decodeEvent[FriendInviteRejected](name, data)
	case EventFriendRemoved:
		return decodeEvent[FriendRemoved](name, data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
}

func decodeEvent[T Event](name string, data json.RawMessage) (Event, error) {
	var ev T
	if len(data) == 0 {
		return nil, fmt.Errorf("parley: decode %s: empty payload", name)
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("parley: decode %s: %w", name, err)
	}
	return ev, nil
}
