package parley

import (
	"log/slog"
	"slices"
	"sync"
)

// ChangeKind names the view that a Change invalidates.
type ChangeKind string

const (
	ChangeChats          ChangeKind = "chats"
	ChangeSelection      ChangeKind = "selection"
	ChangeMessages       ChangeKind = "messages"
	ChangePins           ChangeKind = "pins"
	ChangeTyping         ChangeKind = "typing"
	ChangeFriends        ChangeKind = "friends"
	ChangeInvites        ChangeKind = "invites"
	ChangeSearch         ChangeKind = "search"
	ChangeToasts         ChangeKind = "toasts"
	ChangeScrollToLatest ChangeKind = "scroll"
)

// Change is delivered to subscribers after the state it describes has been
// committed.
type Change struct {
	Kind      ChangeKind
	ChatID    ID
	MessageID ID
}

type subscriber struct {
	id int
	fn func(Change)
}

// observers keeps subscribers in registration order.
type observers struct {
	mu   sync.RWMutex
	next int
	subs []subscriber
	log  *slog.Logger
}

func (o *observers) subscribe(fn func(Change)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.next
	o.next++
	o.subs = append(o.subs, subscriber{id: id, fn: fn})
	return func() {
		o.mu.Lock()
		o.subs = slices.DeleteFunc(slices.Clone(o.subs), func(sub subscriber) bool { return sub.id == id })
		o.mu.Unlock()
	}
}

func (o *observers) publish(changes []Change) {
	if len(changes) == 0 {
		return
	}
	o.mu.RLock()
	subs := o.subs
	o.mu.RUnlock()

	for _, c := range changes {
		for _, sub := range subs {
			o.call(sub.fn, c)
		}
	}
}

func (o *observers) call(fn func(Change), c Change) {
	defer func() {
		if r := recover(); r != nil && o.log != nil {
			o.log.Error("observer panicked", slog.String("kind", string(c.Kind)), slog.Any("panic", r))
		}
	}()
	fn(c)
}

// Subscribe registers fn for every committed change and returns a function
// that removes it. fn runs outside the session lock and may read views.
func (s *Session) Subscribe(fn func(Change)) (unsubscribe func()) {
	return s.obs.subscribe(fn)
}

// update runs fn under the session lock and then notifies subscribers of
// the changes fn recorded.
func (s *Session) update(fn func()) {
	s.mu.Lock()
	fn()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	s.obs.publish(pending)
}

// changed records a change; callers hold the session lock.
func (s *Session) changed(kind ChangeKind, chatID, messageID ID) {
	s.pending = append(s.pending, Change{Kind: kind, ChatID: chatID, MessageID: messageID})
}
