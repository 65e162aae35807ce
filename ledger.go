package parley

import (
	"encoding/json"
	"slices"
)

// DefaultPageSize is the number of messages requested per history page.
const DefaultPageSize = 50

// PageState tracks pagination of one chat's history.
type PageState struct {
	PageSize int    `json:"pageSize"`
	Offset   int    `json:"offset"`
	HasMore  bool   `json:"hasMore"`
	Loading  bool   `json:"loading"`
	Error    string `json:"error,omitempty"`
}

func (p PageState) limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	return p.PageSize
}

// Ledger is the ordered message collection of one chat. Order is arrival
// order; the ledger never re-sorts.
type Ledger struct {
	Messages []Message
	Page     PageState
}

func newLedger() Ledger {
	return Ledger{Page: PageState{PageSize: DefaultPageSize, HasMore: true}}
}

func (l *Ledger) clone() Ledger {
	return Ledger{Messages: cloneMessages(l.Messages), Page: l.Page}
}

func (l *Ledger) index(id ID) int {
	return FindIndexByID(l.Messages, id)
}

func (l *Ledger) find(id ID) *Message {
	if i := l.index(id); i >= 0 {
		return &l.Messages[i]
	}
	return nil
}

// upsert merges msg into the existing entry with the same id or appends
// it. It reports whether a new entry was inserted.
func (l *Ledger) upsert(msg Message) bool {
	if existing := l.find(msg.ID); existing != nil {
		existing.merge(msg)
		return false
	}
	l.Messages = append(l.Messages, msg.clone())
	return true
}

func (l *Ledger) remove(id ID) bool {
	i := l.index(id)
	if i < 0 {
		return false
	}
	l.Messages = slices.Delete(slices.Clone(l.Messages), i, i+1)
	return true
}

// tail returns the last entry that is neither deleted nor a local system
// message.
func (l *Ledger) tail() *Message {
	for i := len(l.Messages) - 1; i >= 0; i-- {
		m := &l.Messages[i]
		if !m.IsDeleted && !m.IsSystem {
			return m
		}
	}
	return nil
}

// serverCount is the number of backend messages held, which is the
// offset of the next history page.
func (l *Ledger) serverCount() int {
	n := 0
	for i := range l.Messages {
		if !l.Messages[i].IsSystem {
			n++
		}
	}
	return n
}

// ============================================================================
// Field presence
// ============================================================================

// fieldMask records which optional fields a decoded payload carried, so a
// partial push payload never wipes local state it did not mention.
type fieldMask uint16

const (
	fieldDecoded fieldMask = 1 << iota
	fieldContent
	fieldReactions
	fieldReads
	fieldPin
	fieldEdit
	fieldReply
	fieldForward
	fieldDeleted
)

var fieldKeys = map[string]fieldMask{
	"content":       fieldContent,
	"reactions":     fieldReactions,
	"reads":         fieldReads,
	"isPinned":      fieldPin,
	"pinnedBy":      fieldPin,
	"pinnedAt":      fieldPin,
	"edited":        fieldEdit,
	"editedAt":      fieldEdit,
	"wasUpdated":    fieldEdit,
	"replyTo":       fieldReply,
	"replyToId":     fieldReply,
	"forwardedFrom": fieldForward,
	"isDeleted":     fieldDeleted,
}

func presentFields(data []byte) fieldMask {
	var keys map[string]json.RawMessage
	if json.Unmarshal(data, &keys) != nil {
		return 0
	}
	mask := fieldDecoded
	for k := range keys {
		mask |= fieldKeys[k]
	}
	return mask
}

// has reports whether the message carries f. Messages built in code
// rather than decoded are authoritative for every field.
func (m Message) has(f fieldMask) bool {
	return m.fields&fieldDecoded == 0 || m.fields&f != 0
}

// merge copies the mutable fields of src into m.
func (m *Message) merge(src Message) {
	if src.has(fieldContent) {
		m.Content = src.Content
	}
	if src.SenderUsername != "" {
		m.SenderUsername = src.SenderUsername
	}
	if src.CreatedAt != "" {
		m.CreatedAt = src.CreatedAt
	}
	if src.UpdatedAt != "" {
		m.UpdatedAt = src.UpdatedAt
	}
	if src.has(fieldReactions) {
		m.Reactions = src.clone().Reactions
	}
	if src.has(fieldReads) {
		m.Reads = slices.Clone(src.Reads)
	}
	if src.has(fieldPin) {
		m.IsPinned = src.IsPinned
		m.PinnedBy = src.clone().PinnedBy
		m.PinnedAt = src.PinnedAt
	}
	if src.has(fieldEdit) {
		m.Edited = src.Edited
		m.EditedAt = src.EditedAt
	}
	if src.has(fieldReply) {
		m.ReplyTo = src.clone().ReplyTo
	}
	if src.has(fieldForward) {
		m.ForwardedFrom = src.clone().ForwardedFrom
	}
	if src.has(fieldDeleted) {
		m.IsDeleted = src.IsDeleted
	}
}

// ============================================================================
// Chat-level ledger operations
// ============================================================================

// upsertMessage applies msg to the ledger and re-derives lastMessage and
// the pinned collection in the same step.
func (c *Chat) upsertMessage(msg Message) bool {
	inserted := c.Ledger.upsert(msg)
	if merged := c.Ledger.find(msg.ID); merged != nil {
		c.syncPinned(*merged, msg.has(fieldPin))
	}
	c.refreshLastMessage()
	return inserted
}

func (c *Chat) removeMessage(id ID) bool {
	unpinned := false
	if i := FindIndexByID(c.Pinned, id); i >= 0 {
		c.Pinned = slices.Delete(slices.Clone(c.Pinned), i, i+1)
		unpinned = true
	}
	if !c.Ledger.remove(id) {
		// Nothing loaded for this chat yet; only the summary knows the id.
		if c.LastMessage != nil && c.LastMessage.ID == id && len(c.Ledger.Messages) == 0 {
			c.LastMessage = nil
			return true
		}
		return unpinned
	}
	c.refreshLastMessage()
	return true
}

// lastSystem returns the most recent system message, or nil.
func (l *Ledger) lastSystem() *Message {
	for i := len(l.Messages) - 1; i >= 0; i-- {
		if l.Messages[i].IsSystem {
			return &l.Messages[i]
		}
	}
	return nil
}

func (c *Chat) appendSystemMessage(msg Message) {
	msg.IsSystem = true
	c.Ledger.Messages = append(c.Ledger.Messages, msg)
}

// applyPage installs one page of history. The first page replaces the
// ledger; later pages are appended with duplicates merged.
func (c *Chat) applyPage(msgs []Message, appendPage bool) {
	limit := c.Ledger.Page.limit()
	if !appendPage {
		c.Ledger.Messages = make([]Message, 0, len(msgs))
	}
	for _, m := range msgs {
		c.Ledger.upsert(m)
		if merged := c.Ledger.find(m.ID); merged != nil {
			c.syncPinned(*merged, m.has(fieldPin))
		}
	}
	c.Ledger.Page.Offset = c.Ledger.serverCount()
	c.Ledger.Page.HasMore = len(msgs) >= limit
	c.refreshLastMessage()
}

// mutateMessage runs fn against the ledger entry for id and re-derives
// dependent state when fn reports a change.
func (c *Chat) mutateMessage(id ID, fn func(*Message) bool) bool {
	m := c.Ledger.find(id)
	if m == nil || !fn(m) {
		return false
	}
	c.syncPinned(*m, true)
	c.refreshLastMessage()
	return true
}

func (c *Chat) refreshLastMessage() {
	if tail := c.Ledger.tail(); tail != nil {
		last := tail.clone()
		c.LastMessage = &last
		return
	}
	c.LastMessage = nil
}

// FindMessage returns a copy of the ledger entry for id.
func (c *Chat) FindMessage(id ID) (Message, bool) {
	if m := c.Ledger.find(id); m != nil {
		return m.clone(), true
	}
	return Message{}, false
}
