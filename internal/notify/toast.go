// Package notify is the process-wide user-notification bus. Components
// publish fire-and-forget toasts; a single UI surface may subscribe, and
// events raised with no subscriber are dropped rather than buffered.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
)

// DefaultTTL is how long a toast stays visible, measured from its own
// creation. Timers are independent; new arrivals never extend older toasts.
const DefaultTTL = 3500 * time.Millisecond

type Toast struct {
	ID        string
	Message   string
	Severity  Severity
	CreatedAt time.Time
}

// Bus is injected into every component that reports outcomes. Expiry removes
// exactly the expired toast by id, never by position.
type Bus struct {
	ttl time.Duration

	mu     sync.Mutex
	toasts []Toast
	subs   map[int]func(Toast)
	nextID int
}

func NewBus() *Bus {
	return NewBusTTL(DefaultTTL)
}

func NewBusTTL(ttl time.Duration) *Bus {
	return &Bus{ttl: ttl, subs: make(map[int]func(Toast))}
}

// Show publishes a toast and schedules its expiry. Returns the toast id so
// callers may dismiss it early.
func (b *Bus) Show(message string, severity Severity) string {
	toast := Toast{
		ID:        uuid.NewString(),
		Message:   message,
		Severity:  severity,
		CreatedAt: time.Now(),
	}

	b.mu.Lock()
	b.toasts = append(b.toasts, toast)
	subs := make([]func(Toast), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(toast)
	}

	time.AfterFunc(b.ttl, func() { b.Dismiss(toast.ID) })
	return toast.ID
}

func (b *Bus) Success(message string) { b.Show(message, SeveritySuccess) }
func (b *Bus) Error(message string)   { b.Show(message, SeverityError) }
func (b *Bus) Info(message string)    { b.Show(message, SeverityInfo) }

// Dismiss removes one toast by id. Dismissing an already-expired id is a
// no-op.
func (b *Bus) Dismiss(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, t := range b.toasts {
		if t.ID == id {
			b.toasts = append(b.toasts[:i], b.toasts[i+1:]...)
			return
		}
	}
}

// Active returns the visible stack in arrival order.
func (b *Bus) Active() []Toast {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Toast, len(b.toasts))
	copy(out, b.toasts)
	return out
}

// Subscribe registers a delivery callback and returns an unsubscribe func.
func (b *Bus) Subscribe(fn func(Toast)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
