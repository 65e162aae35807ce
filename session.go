package parley

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Feature keys the per-feature error state exposed by Err.
type Feature string

const (
	FeatureChats    Feature = "chats"
	FeatureMessages Feature = "messages"
	FeatureSend     Feature = "send"
	FeatureEdit     Feature = "edit"
	FeatureDelete   Feature = "delete"
	FeatureForward  Feature = "forward"
	FeatureReaction Feature = "reaction"
	FeaturePin      Feature = "pin"
	FeatureSearch   Feature = "search"
	FeatureFriends  Feature = "friends"
	FeatureInvites  Feature = "invites"
)

// ============================================================================
// Options
// ============================================================================

// Options configures a Session. API and CurrentUser are required.
type Options struct {
	API         API
	CurrentUser UserRef

	// Emitter carries typing signals; nil drops them.
	Emitter Emitter
	// Notifier receives toasts; defaults to an in-memory ToastQueue.
	Notifier Notifier
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Metrics  *Metrics

	PageSize      int
	TypingIdle    time.Duration
	ToastDuration time.Duration

	// OnUnauthorized runs when a backend call is rejected as unauthorized.
	OnUnauthorized func()
}

func (o *Options) defaults() {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.TypingIdle <= 0 {
		o.TypingIdle = DefaultTypingIdle
	}
	if o.ToastDuration <= 0 {
		o.ToastDuration = DefaultToastDuration
	}
}

// ============================================================================
// Session
// ============================================================================

// Session is the reconciled client state of one signed-in user. All state
// transitions run under a single lock; REST calls are made with the lock
// released and their results applied after re-resolving the target by id.
type Session struct {
	api            API
	self           UserRef
	clock          clockwork.Clock
	log            *slog.Logger
	metrics        *Metrics
	notifier       Notifier
	toasts         *ToastQueue
	typing         *TypingTracker
	pageSize       int
	onUnauthorized func()
	obs            observers

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	pending      []Change
	chats        chatStore
	friends      friendStore
	invites      inviteStore
	searchState  SearchState
	errs         map[Feature]string
	pinning      map[ID]PinState
	reacting     map[ID]bool
	lastSystemID int64
}

func NewSession(opts Options) (*Session, error) {
	if opts.API == nil {
		return nil, errors.New("parley: session requires an API")
	}
	if opts.CurrentUser.ID.IsZero() {
		return nil, errors.New("parley: session requires the current user")
	}
	opts.defaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		api:            opts.API,
		self:           opts.CurrentUser,
		clock:          opts.Clock,
		log:            opts.Logger,
		metrics:        opts.Metrics,
		notifier:       opts.Notifier,
		pageSize:       opts.PageSize,
		onUnauthorized: opts.OnUnauthorized,
		ctx:            ctx,
		cancel:         cancel,
		errs:           make(map[Feature]string),
		pinning:        make(map[ID]PinState),
		reacting:       make(map[ID]bool),
	}
	s.obs.log = s.log
	s.typing = NewTypingTracker(opts.CurrentUser.ID, opts.Emitter,
		WithTypingClock(opts.Clock),
		WithTypingIdle(opts.TypingIdle),
		WithTypingLogger(opts.Logger),
	)
	if s.notifier == nil {
		s.toasts = NewToastQueue(opts.Clock, opts.ToastDuration)
		s.toasts.setOnChange(func() { s.obs.publish([]Change{{Kind: ChangeToasts}}) })
		s.notifier = s.toasts
	}
	return s, nil
}

// CurrentUser is the signed-in user.
func (s *Session) CurrentUser() UserRef { return s.self }

// Typing exposes the typing tracker.
func (s *Session) Typing() *TypingTracker { return s.typing }

// TypingUsers returns the remote users typing in chatID.
func (s *Session) TypingUsers(chatID ID) []Typist { return s.typing.Users(chatID) }

// Initialize loads chats, friends and invites, then opens the first chat
// when none is selected.
func (s *Session) Initialize(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return s.FetchChats(ctx) })
	g.Go(func() error { return s.FetchFriends(ctx) })
	g.Go(func() error { return s.FetchInvites(ctx) })
	err := g.Wait()

	s.mu.Lock()
	var first ID
	if s.chats.selected.IsZero() && len(s.chats.items) > 0 {
		first = s.chats.items[0].ID
	}
	s.mu.Unlock()
	if !first.IsZero() {
		if selErr := s.SelectChat(ctx, first); err == nil {
			err = selErr
		}
	}
	return err
}

// Resync reloads everything that may have drifted while the push
// connection was down.
func (s *Session) Resync(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return s.FetchChats(ctx) })
	g.Go(func() error { return s.FetchFriends(ctx) })
	g.Go(func() error { return s.FetchInvites(ctx) })
	err := g.Wait()

	s.mu.Lock()
	selected := s.chats.selected
	s.mu.Unlock()
	if !selected.IsZero() {
		if msgErr := s.FetchMessages(ctx, selected, false); err == nil {
			err = msgErr
		}
		s.FetchPinned(ctx, selected)
	}
	return err
}

// Reset discards all state, as on logout.
func (s *Session) Reset() {
	s.typing.Reset()
	s.update(func() {
		s.chats = chatStore{}
		s.friends = friendStore{}
		s.invites = inviteStore{}
		s.searchState = SearchState{}
		s.errs = make(map[Feature]string)
		s.pinning = make(map[ID]PinState)
		s.reacting = make(map[ID]bool)
		s.changed(ChangeChats, "", "")
		s.changed(ChangeFriends, "", "")
		s.changed(ChangeInvites, "", "")
	})
}

// Close stops background work and waits for it to finish.
func (s *Session) Close() {
	s.cancel()
	s.wg.Wait()
	s.typing.Reset()
}

// Wait blocks until background work started by events has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) background(fn func(ctx context.Context)) {
	if s.ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// ============================================================================
// Errors & notifications
// ============================================================================

// Err returns the last error message recorded for feature.
func (s *Session) Err(feature Feature) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[feature]
}

// Toasts returns the visible toasts when the session owns its notifier.
func (s *Session) Toasts() []Toast {
	if s.toasts == nil {
		return nil
	}
	return s.toasts.Toasts()
}

// fail records err for feature and raises exactly one error toast. It must
// be called without the session lock held.
func (s *Session) fail(feature Feature, err error, fallback string) {
	msg := ErrorMessage(err, fallback)
	s.update(func() { s.errs[feature] = msg })
	s.metrics.requestError(feature, err)
	if errors.Is(err, ErrUnauthorized) && s.onUnauthorized != nil {
		s.onUnauthorized()
	}
	s.notify(ToastError, msg)
}

func (s *Session) notify(kind ToastKind, msg string) {
	if s.notifier != nil {
		s.notifier.Notify(kind, msg)
	}
}
