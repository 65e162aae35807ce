package parley

import (
	"encoding/json"
)

// ============================================================================
// Users
// ============================================================================

// UserRef is the minimal user shape embedded in pin metadata and
// friendship payloads.
type UserRef struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
}

// ChatUser is the peer of a direct chat.
type ChatUser struct {
	ID        ID     `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	IsOnline  bool   `json:"isOnline"`
	LastSeen  string `json:"lastSeen,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// ChatMember is a member of a group chat.
type ChatMember struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	IsOnline bool   `json:"isOnline"`
	LastSeen string `json:"lastSeen,omitempty"`
	Role     string `json:"role,omitempty"`
	JoinedAt string `json:"joinedAt,omitempty"`
}

func (m ChatMember) Identity() ID { return m.ID }

// ============================================================================
// Messages
// ============================================================================

// Reaction groups every user that reacted to a message with one emoji.
type Reaction struct {
	Emoji    string `json:"emoji"`
	UserIDs  []ID   `json:"userIds"`
	Username string `json:"username,omitempty"`
}

// UnmarshalJSON accepts both the plural userIds form and the older
// single userId form.
func (r *Reaction) UnmarshalJSON(data []byte) error {
	var raw struct {
		Emoji    string `json:"emoji"`
		UserIDs  []ID   `json:"userIds"`
		UserID   ID     `json:"userId"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Emoji = raw.Emoji
	r.Username = raw.Username
	r.UserIDs = raw.UserIDs
	if len(r.UserIDs) == 0 && !raw.UserID.IsZero() {
		r.UserIDs = []ID{raw.UserID}
	}
	return nil
}

// MessageReadItem is a read receipt. There is at most one per user and
// message.
type MessageReadItem struct {
	UserID   ID     `json:"userId"`
	Username string `json:"username"`
	ReadAt   string `json:"readAt"`
}

// ForwardInfo describes the source of a forwarded message.
type ForwardInfo struct {
	MessageID      ID     `json:"messageId"`
	ChatID         ID     `json:"chatId,omitempty"`
	SenderID       ID     `json:"senderId,omitempty"`
	SenderUsername string `json:"senderUsername,omitempty"`
}

// SystemType tags locally generated system messages.
type SystemType string

const (
	SystemMemberAdded   SystemType = "member_added"
	SystemMemberRemoved SystemType = "member_removed"
	SystemChatUpdated   SystemType = "chat_updated"
)

type Message struct {
	ID             ID                `json:"id"`
	ChatID         ID                `json:"chatId"`
	SenderID       ID                `json:"senderId"`
	SenderUsername string            `json:"senderUsername"`
	Content        string            `json:"content"`
	CreatedAt      string            `json:"createdAt"`
	UpdatedAt      string            `json:"updatedAt,omitempty"`
	Reactions      []Reaction        `json:"reactions"`
	Reads          []MessageReadItem `json:"reads"`
	IsPinned       bool              `json:"isPinned"`
	PinnedBy       *UserRef          `json:"pinnedBy,omitempty"`
	PinnedAt       string            `json:"pinnedAt,omitempty"`
	Edited         bool              `json:"edited"`
	EditedAt       string            `json:"editedAt,omitempty"`
	ReplyTo        *ID               `json:"replyTo,omitempty"`
	ForwardedFrom  *ForwardInfo      `json:"forwardedFrom,omitempty"`
	IsDeleted      bool              `json:"isDeleted,omitempty"`
	IsSystem       bool              `json:"isSystem,omitempty"`
	SystemType     SystemType        `json:"systemType,omitempty"`
	SystemData     map[string]string `json:"systemData,omitempty"`

	fields fieldMask
}

func (m Message) Identity() ID { return m.ID }

// UnmarshalJSON maps the backend message shape. The backend reports edits
// as wasUpdated/updatedAt and replies as a bare id or a nested message.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var raw struct {
		plain
		WasUpdated bool            `json:"wasUpdated"`
		ReplyTo    json.RawMessage `json:"replyTo"`
		ReplyToID  *ID             `json:"replyToId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message(raw.plain)
	m.fields = presentFields(data)
	if raw.WasUpdated {
		m.Edited = true
	}
	if m.Edited && m.EditedAt == "" {
		m.EditedAt = m.UpdatedAt
	}
	m.ReplyTo = raw.ReplyToID
	if reply := decodeReplyTo(raw.ReplyTo); reply != nil {
		m.ReplyTo = reply
	}
	return nil
}

func decodeReplyTo(data json.RawMessage) *ID {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	var id ID
	if json.Unmarshal(data, &id) == nil && !id.IsZero() {
		return &id
	}
	var nested struct {
		ID ID `json:"id"`
	}
	if json.Unmarshal(data, &nested) == nil && !nested.ID.IsZero() {
		return &nested.ID
	}
	return nil
}

// clone returns a deep copy so snapshots handed out never alias ledger
// state.
func (m Message) clone() Message {
	out := m
	if m.Reactions != nil {
		out.Reactions = make([]Reaction, len(m.Reactions))
		for i, r := range m.Reactions {
			r.UserIDs = append([]ID(nil), r.UserIDs...)
			out.Reactions[i] = r
		}
	}
	if m.Reads != nil {
		out.Reads = append([]MessageReadItem(nil), m.Reads...)
	}
	if m.PinnedBy != nil {
		by := *m.PinnedBy
		out.PinnedBy = &by
	}
	if m.ReplyTo != nil {
		out.ReplyTo = m.ReplyTo.Ptr()
	}
	if m.ForwardedFrom != nil {
		fwd := *m.ForwardedFrom
		out.ForwardedFrom = &fwd
	}
	if m.SystemData != nil {
		out.SystemData = make(map[string]string, len(m.SystemData))
		for k, v := range m.SystemData {
			out.SystemData[k] = v
		}
	}
	return out
}

// PinnedMessage is one entry of GET /chats/{id}/pinned.
type PinnedMessage struct {
	Message  Message  `json:"message"`
	PinnedBy *UserRef `json:"pinnedBy"`
	PinnedAt string   `json:"pinnedAt"`
}

// MessagePage is one page of a chat's history or of search results.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"hasMore"`
}

// ============================================================================
// Chats
// ============================================================================

type Chat struct {
	ID              ID           `json:"id"`
	Name            string       `json:"name"`
	IsGroup         bool         `json:"isGroup"`
	OtherUser       *ChatUser    `json:"otherUser,omitempty"`
	Members         []ChatMember `json:"members,omitempty"`
	MemberCount     int          `json:"memberCount,omitempty"`
	CurrentUserRole string       `json:"currentUserRole,omitempty"`
	LastMessage     *Message     `json:"lastMessage"`
	UnreadCount     int          `json:"unreadCount"`
	CreatedAt       string       `json:"createdAt,omitempty"`
	UpdatedAt       string       `json:"updatedAt,omitempty"`

	// HasOnlineMembers is derived from presence.
	HasOnlineMembers bool `json:"-"`

	Ledger Ledger    `json:"-"`
	Pinned []Message `json:"-"`
}

func (c Chat) Identity() ID { return c.ID }

// UnmarshalJSON falls back to title, then to a placeholder, when the
// backend sends a chat without a name.
func (c *Chat) UnmarshalJSON(data []byte) error {
	type plain Chat
	var raw struct {
		plain
		Name  *string `json:"name"`
		Title *string `json:"title"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Chat(raw.plain)
	switch {
	case raw.Name != nil && *raw.Name != "":
		c.Name = *raw.Name
	case raw.Title != nil && *raw.Title != "":
		c.Name = *raw.Title
	case c.OtherUser != nil && c.OtherUser.Username != "":
		c.Name = c.OtherUser.Username
	default:
		c.Name = "Chat"
	}
	c.Ledger = newLedger()
	return nil
}

// clone copies the chat including its ledger and pinned collection.
func (c *Chat) clone() Chat {
	out := *c
	if c.OtherUser != nil {
		u := *c.OtherUser
		out.OtherUser = &u
	}
	if c.Members != nil {
		out.Members = append([]ChatMember(nil), c.Members...)
	}
	if c.LastMessage != nil {
		last := c.LastMessage.clone()
		out.LastMessage = &last
	}
	out.Ledger = c.Ledger.clone()
	out.Pinned = cloneMessages(c.Pinned)
	return out
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].clone()
	}
	return out
}

// ============================================================================
// Friends & Invites
// ============================================================================

type Friend struct {
	ID                  ID     `json:"id"`
	Username            string `json:"username"`
	Email               string `json:"email,omitempty"`
	IsOnline            bool   `json:"isOnline"`
	LastSeen            string `json:"lastSeen,omitempty"`
	CreatedAt           string `json:"createdAt,omitempty"`
	FriendshipCreatedAt string `json:"friendshipCreatedAt,omitempty"`
}

func (f Friend) Identity() ID { return f.ID }

type InviteStatus string

const (
	InvitePending  InviteStatus = "PENDING"
	InviteAccepted InviteStatus = "ACCEPTED"
	InviteRejected InviteStatus = "REJECTED"
)

type InviteUser struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	IsOnline bool   `json:"isOnline"`
}

type Invite struct {
	ID        ID           `json:"id"`
	Status    InviteStatus `json:"status"`
	CreatedAt string       `json:"createdAt"`
	Sender    *InviteUser  `json:"sender,omitempty"`
	Receiver  *InviteUser  `json:"receiver,omitempty"`
}

func (i Invite) Identity() ID { return i.ID }

// InviteList is the GET /friends/invites payload.
type InviteList struct {
	Sent          []Invite `json:"sentInvites"`
	Received      []Invite `json:"receivedInvites"`
	TotalSent     int      `json:"totalSent"`
	TotalReceived int      `json:"totalReceived"`
	TotalPending  int      `json:"totalPending"`
}

// Friendship is carried by friend:invite:accepted and the accept response.
type Friendship struct {
	Requester Friend `json:"requester"`
	Addressee Friend `json:"addressee"`
}
