package parley

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// DefaultToastDuration is how long a toast stays visible.
const DefaultToastDuration = 5 * time.Second

type ToastKind string

const (
	ToastSuccess ToastKind = "success"
	ToastError   ToastKind = "error"
	ToastInfo    ToastKind = "info"
	ToastWarning ToastKind = "warning"
)

type Toast struct {
	ID        string        `json:"id"`
	Kind      ToastKind     `json:"kind"`
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Notifier surfaces user-facing notifications.
type Notifier interface {
	Notify(kind ToastKind, message string)
}

// ToastQueue is the default Notifier: an in-memory list of toasts that
// expire after their duration.
type ToastQueue struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	duration time.Duration
	toasts   []Toast
	timers   map[string]clockwork.Timer
	onChange func()
}

func NewToastQueue(clock clockwork.Clock, duration time.Duration) *ToastQueue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if duration <= 0 {
		duration = DefaultToastDuration
	}
	return &ToastQueue{
		clock:    clock,
		duration: duration,
		timers:   make(map[string]clockwork.Timer),
	}
}

func (q *ToastQueue) Notify(kind ToastKind, message string) {
	t := Toast{
		ID:        uuid.NewString(),
		Kind:      kind,
		Message:   message,
		Duration:  q.duration,
		CreatedAt: q.clock.Now(),
	}
	q.mu.Lock()
	q.toasts = append(q.toasts, t)
	q.timers[t.ID] = q.clock.AfterFunc(t.Duration, func() { q.dismiss(t.ID, false) })
	onChange := q.onChange
	q.mu.Unlock()

	if onChange != nil {
		onChange()
	}
}

// Dismiss removes a toast before it expires.
func (q *ToastQueue) Dismiss(id string) {
	q.dismiss(id, true)
}

// dismiss removes a toast. The expiry callback passes stop=false since its
// timer has already fired.
func (q *ToastQueue) dismiss(id string, stop bool) {
	q.mu.Lock()
	i := slices.IndexFunc(q.toasts, func(t Toast) bool { return t.ID == id })
	if i < 0 {
		q.mu.Unlock()
		return
	}
	q.toasts = slices.Delete(q.toasts, i, i+1)
	if timer, ok := q.timers[id]; ok {
		if stop {
			timer.Stop()
		}
		delete(q.timers, id)
	}
	onChange := q.onChange
	q.mu.Unlock()

	if onChange != nil {
		onChange()
	}
}

// Toasts returns the visible toasts, oldest first.
func (q *ToastQueue) Toasts() []Toast {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.toasts)
}

func (q *ToastQueue) setOnChange(fn func()) {
	q.mu.Lock()
	q.onChange = fn
	q.mu.Unlock()
}
