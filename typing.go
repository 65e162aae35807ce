package parley

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/parley-chat/parley-go/internal/logger/sl"
)

const (
	// DefaultTypingIdle is how long after the last keystroke typing:stop is
	// emitted.
	DefaultTypingIdle = 3 * time.Second

	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"
)

// Emitter sends outbound push events. The realtime client implements it.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// Typist is a remote user currently typing in a chat.
type Typist struct {
	UserID   ID     `json:"userId"`
	Username string `json:"username"`
}

// TypingTracker holds the remote typing sets per chat and debounces the
// local user's typing signals: one typing:start per burst of input and one
// typing:stop once input has been idle for the configured interval.
type TypingTracker struct {
	mu      sync.Mutex
	self    ID
	clock   clockwork.Clock
	idle    time.Duration
	emitter Emitter
	log     *slog.Logger

	typists map[ID][]Typist

	active ID
	timer  clockwork.Timer
	gen    uint64
}

type TypingOption func(*TypingTracker)

func WithTypingClock(clock clockwork.Clock) TypingOption {
	return func(t *TypingTracker) { t.clock = clock }
}

func WithTypingIdle(d time.Duration) TypingOption {
	return func(t *TypingTracker) { t.idle = d }
}

func WithTypingLogger(log *slog.Logger) TypingOption {
	return func(t *TypingTracker) { t.log = log }
}

// NewTypingTracker creates a tracker for the local user self. emitter may be
// nil, in which case outbound signals are dropped.
func NewTypingTracker(self ID, emitter Emitter, opts ...TypingOption) *TypingTracker {
	t := &TypingTracker{
		self:    self,
		clock:   clockwork.NewRealClock(),
		idle:    DefaultTypingIdle,
		emitter: emitter,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		typists: make(map[ID][]Typist),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ============================================================================
// Outbound
// ============================================================================

// Input records a keystroke in chatID. Switching chats mid-burst ends the
// previous burst first.
func (t *TypingTracker) Input(ctx context.Context, chatID ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active.IsZero() && t.active != chatID {
		t.stopLocked(ctx)
	}
	if t.active.IsZero() {
		t.active = chatID
		t.emit(ctx, EventTypingStart, chatID)
	}

	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.clock.AfterFunc(t.idle, func() { t.expire(gen) })
}

// Sent ends the burst in chatID immediately, as happens when the user
// sends a message.
func (t *TypingTracker) Sent(ctx context.Context, chatID ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != chatID {
		return
	}
	t.stopLocked(ctx)
}

// Active returns the chat the local user is currently typing in.
func (t *TypingTracker) Active() (ID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active, !t.active.IsZero()
}

func (t *TypingTracker) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || t.active.IsZero() {
		return
	}
	t.timer = nil
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.stopLocked(ctx)
}

func (t *TypingTracker) stopLocked(ctx context.Context) {
	chatID := t.active
	t.active = ""
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.emit(ctx, EventTypingStop, chatID)
}

func (t *TypingTracker) emit(ctx context.Context, event string, chatID ID) {
	if t.emitter == nil {
		return
	}
	if err := t.emitter.Emit(ctx, event, map[string]ID{"chatId": chatID}); err != nil {
		t.log.Debug("typing signal dropped", slog.String("event", event), sl.Err(err))
	}
}

// ============================================================================
// Inbound
// ============================================================================

// Start adds userID to the typing set of chatID. Events about the local
// user are ignored. It reports whether the set changed.
func (t *TypingTracker) Start(chatID, userID ID, username string) bool {
	if userID == t.self || userID.IsZero() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.typists[chatID]
	if i := indexTypist(set, userID); i >= 0 {
		if username == "" || set[i].Username == username {
			return false
		}
		set = slices.Clone(set)
		set[i].Username = username
		t.typists[chatID] = set
		return true
	}
	t.typists[chatID] = append(slices.Clone(set), Typist{UserID: userID, Username: username})
	return true
}

// Stop removes userID from the typing set of chatID.
func (t *TypingTracker) Stop(chatID, userID ID) bool {
	if userID == t.self {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.typists[chatID]
	i := indexTypist(set, userID)
	if i < 0 {
		return false
	}
	set = slices.Delete(slices.Clone(set), i, i+1)
	if len(set) == 0 {
		delete(t.typists, chatID)
	} else {
		t.typists[chatID] = set
	}
	return true
}

// Users returns the users typing in chatID in the order they started.
func (t *TypingTracker) Users(chatID ID) []Typist {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.typists[chatID])
}

// Reset forgets every typing set and cancels a pending idle timer without
// emitting.
func (t *TypingTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.typists = make(map[ID][]Typist)
	t.active = ""
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func indexTypist(set []Typist, userID ID) int {
	return slices.IndexFunc(set, func(tp Typist) bool { return tp.UserID == userID })
}

// TypingText renders the indicator line shown under a chat.
func TypingText(typists []Typist) string {
	switch len(typists) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing...", typists[0].Username)
	case 2:
		return fmt.Sprintf("%s and %s are typing...", typists[0].Username, typists[1].Username)
	default:
		return fmt.Sprintf("%s and %d others are typing...", typists[0].Username, len(typists)-1)
	}
}
