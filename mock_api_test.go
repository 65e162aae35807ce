package parley

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// API mock
// ============================================================================

type apiMock struct {
	mock.Mock
}

var _ API = (*apiMock)(nil)

func (m *apiMock) ListChats(ctx context.Context) ([]Chat, error) {
	args := m.Called(ctx)
	var chats []Chat
	if val := args.Get(0); val != nil {
		chats = val.([]Chat)
	}
	return chats, args.Error(1)
}

func (m *apiMock) ListMessages(ctx context.Context, chatID ID, limit, offset int) (*MessagePage, error) {
	args := m.Called(ctx, chatID, limit, offset)
	var page *MessagePage
	if val := args.Get(0); val != nil {
		page = val.(*MessagePage)
	}
	return page, args.Error(1)
}

func (m *apiMock) SendMessage(ctx context.Context, chatID ID, content string, replyTo *ID) (*Message, error) {
	args := m.Called(ctx, chatID, content, replyTo)
	return messageArg(args, 0), args.Error(1)
}

func (m *apiMock) EditMessage(ctx context.Context, messageID ID, content string) (*Message, error) {
	args := m.Called(ctx, messageID, content)
	return messageArg(args, 0), args.Error(1)
}

func (m *apiMock) DeleteMessage(ctx context.Context, messageID ID) (*Message, error) {
	args := m.Called(ctx, messageID)
	return messageArg(args, 0), args.Error(1)
}

func (m *apiMock) AddReaction(ctx context.Context, messageID ID, emoji string) error {
	return m.Called(ctx, messageID, emoji).Error(0)
}

func (m *apiMock) RemoveReaction(ctx context.Context, messageID ID, emoji string) error {
	return m.Called(ctx, messageID, emoji).Error(0)
}

func (m *apiMock) MarkRead(ctx context.Context, messageID ID) error {
	return m.Called(ctx, messageID).Error(0)
}

func (m *apiMock) PinMessage(ctx context.Context, chatID, messageID ID) (*Message, error) {
	args := m.Called(ctx, chatID, messageID)
	return messageArg(args, 0), args.Error(1)
}

func (m *apiMock) UnpinMessage(ctx context.Context, chatID, messageID ID) (*Message, error) {
	args := m.Called(ctx, chatID, messageID)
	return messageArg(args, 0), args.Error(1)
}

func (m *apiMock) ListPinned(ctx context.Context, chatID ID) ([]PinnedMessage, error) {
	args := m.Called(ctx, chatID)
	var items []PinnedMessage
	if val := args.Get(0); val != nil {
		items = val.([]PinnedMessage)
	}
	return items, args.Error(1)
}

func (m *apiMock) ForwardMessage(ctx context.Context, targetChatID, messageID ID) (*Message, error) {
	args := m.Called(ctx, targetChatID, messageID)
	return messageArg(args, 0), args.Error(1)
}

func (m *apiMock) SearchMessages(ctx context.Context, chatID ID, query string, limit, offset int) (*MessagePage, error) {
	args := m.Called(ctx, chatID, query, limit, offset)
	var page *MessagePage
	if val := args.Get(0); val != nil {
		page = val.(*MessagePage)
	}
	return page, args.Error(1)
}

func (m *apiMock) ListFriends(ctx context.Context) ([]Friend, error) {
	args := m.Called(ctx)
	var friends []Friend
	if val := args.Get(0); val != nil {
		friends = val.([]Friend)
	}
	return friends, args.Error(1)
}

func (m *apiMock) SendInvite(ctx context.Context, username string) (*Invite, error) {
	args := m.Called(ctx, username)
	var inv *Invite
	if val := args.Get(0); val != nil {
		inv = val.(*Invite)
	}
	return inv, args.Error(1)
}

func (m *apiMock) RemoveFriend(ctx context.Context, friendID ID) error {
	return m.Called(ctx, friendID).Error(0)
}

func (m *apiMock) SearchFriends(ctx context.Context, query string) ([]Friend, error) {
	args := m.Called(ctx, query)
	var friends []Friend
	if val := args.Get(0); val != nil {
		friends = val.([]Friend)
	}
	return friends, args.Error(1)
}

func (m *apiMock) ListInvites(ctx context.Context) (*InviteList, error) {
	args := m.Called(ctx)
	var list *InviteList
	if val := args.Get(0); val != nil {
		list = val.(*InviteList)
	}
	return list, args.Error(1)
}

func (m *apiMock) AcceptInvite(ctx context.Context, inviteID ID) (*Friendship, error) {
	args := m.Called(ctx, inviteID)
	var f *Friendship
	if val := args.Get(0); val != nil {
		f = val.(*Friendship)
	}
	return f, args.Error(1)
}

func (m *apiMock) RejectInvite(ctx context.Context, inviteID ID) (*Invite, error) {
	args := m.Called(ctx, inviteID)
	var inv *Invite
	if val := args.Get(0); val != nil {
		inv = val.(*Invite)
	}
	return inv, args.Error(1)
}

func messageArg(args mock.Arguments, i int) *Message {
	if val := args.Get(i); val != nil {
		return val.(*Message)
	}
	return nil
}

// ============================================================================
// Emitter & notifier fakes
// ============================================================================

type emitted struct {
	Event  string
	ChatID ID
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *recordingEmitter) Emit(_ context.Context, event string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var chatID ID
	if p, ok := payload.(map[string]ID); ok {
		chatID = p["chatId"]
	}
	e.events = append(e.events, emitted{Event: event, ChatID: chatID})
	return nil
}

func (e *recordingEmitter) Events() []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emitted(nil), e.events...)
}

type recordedToast struct {
	Kind    ToastKind
	Message string
}

type recordingNotifier struct {
	mu     sync.Mutex
	toasts []recordedToast
}

func (n *recordingNotifier) Notify(kind ToastKind, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, recordedToast{Kind: kind, Message: message})
}

func (n *recordingNotifier) Toasts() []recordedToast {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]recordedToast(nil), n.toasts...)
}

// ============================================================================
// Session fixtures
// ============================================================================

var (
	alice = UserRef{ID: "1", Username: "alice"}
	bob   = UserRef{ID: "2", Username: "bob"}
	carol = UserRef{ID: "3", Username: "carol"}
)

type fixture struct {
	s        *Session
	api      *apiMock
	clock    *clockwork.FakeClock
	emitter  *recordingEmitter
	notifier *recordingNotifier
}

// newFixture creates a session for alice over a mock API. The clock is
// fixed at 2024-05-01 12:00 UTC.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		api:      &apiMock{},
		clock:    clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		emitter:  &recordingEmitter{},
		notifier: &recordingNotifier{},
	}
	s, err := NewSession(Options{
		API:         f.api,
		CurrentUser: alice,
		Emitter:     f.emitter,
		Notifier:    f.notifier,
		Clock:       f.clock,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	f.s = s
	t.Cleanup(func() {
		s.Close()
		f.api.AssertExpectations(t)
	})
	return f
}

// seed installs chats and, per chat, an initial ledger page.
func (f *fixture) seed(chats []Chat, ledgers map[ID][]Message) {
	f.s.update(func() {
		f.s.chats.replace(chats, f.s.self.ID)
		for id, msgs := range ledgers {
			f.s.chats.find(id).applyPage(msgs, false)
		}
	})
}

// selectSilently marks a chat as selected without fetching its history.
func (f *fixture) selectSilently(id ID) {
	f.s.update(func() { f.s.chats.selectChat(id) })
}

func (f *fixture) chat(t *testing.T, id ID) Chat {
	t.Helper()
	c, ok := f.s.Chat(id)
	require.True(t, ok, "chat %s", id)
	return c
}

func (f *fixture) record() *[]Change {
	var mu sync.Mutex
	changes := &[]Change{}
	f.s.Subscribe(func(c Change) {
		mu.Lock()
		*changes = append(*changes, c)
		mu.Unlock()
	})
	return changes
}

func directChat(id ID, peer UserRef) Chat {
	return Chat{ID: id, Name: peer.Username, OtherUser: &ChatUser{ID: peer.ID, Username: peer.Username}}
}

func groupChat(id ID, name string, members ...UserRef) Chat {
	c := Chat{ID: id, Name: name, IsGroup: true, MemberCount: len(members)}
	for _, m := range members {
		c.Members = append(c.Members, ChatMember{ID: m.ID, Username: m.Username})
	}
	return c
}

func textMessage(id, chatID ID, from UserRef, content string) Message {
	return Message{
		ID:             id,
		ChatID:         chatID,
		SenderID:       from.ID,
		SenderUsername: from.Username,
		Content:        content,
		CreatedAt:      "2024-05-01T11:00:00Z",
	}
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func hasChange(changes []Change, kind ChangeKind, chatID ID) bool {
	for _, c := range changes {
		if c.Kind == kind && c.ChatID == chatID {
			return true
		}
	}
	return false
}

func (f *fixture) message(t *testing.T, chatID, messageID ID) Message {
	t.Helper()
	c := f.chat(t, chatID)
	m, ok := c.FindMessage(messageID)
	require.True(t, ok, "message %s in chat %s", messageID, chatID)
	return m
}
