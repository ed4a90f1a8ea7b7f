// Package broadcast fans orchestrator events out to connected observers.
// Delivery is best-effort: an observer whose buffer is full is dropped
// rather than allowed to stall the publisher.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/sessionkeeper/internal/metrics"
)

// Event types.
const (
	TypeStatus    = "status"
	TypeKeepAlive = "keepAlive"
)

// DefaultBuffer is the per-observer queue length.
const DefaultBuffer = 64

// Event is a message pushed to observers.
type Event struct {
	Type string
	// Data carries the status snapshot for status events.
	Data any
	// InstanceID, CookieCount and Timestamp are set on keep-alive events.
	InstanceID  int64
	CookieCount int
	Timestamp   time.Time
}

// MarshalJSON renders status events as {type,data} and keep-alive events as
// {type,timestamp,instanceId,cookieCount}.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == TypeKeepAlive {
		return json.Marshal(struct {
			Type        string `json:"type"`
			Timestamp   string `json:"timestamp"`
			InstanceID  int64  `json:"instanceId"`
			CookieCount int    `json:"cookieCount"`
		}{e.Type, e.Timestamp.UTC().Format(time.RFC3339Nano), e.InstanceID, e.CookieCount})
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data,omitempty"`
	}{e.Type, e.Data})
}

// Observer receives events on C until it is unsubscribed, at which point C
// is closed.
type Observer struct {
	ID string
	C  <-chan Event

	ch chan Event
}

// Broadcaster is safe for concurrent use.
type Broadcaster struct {
	mu        sync.Mutex
	buffer    int
	observers map[string]*Observer
}

// New returns a broadcaster whose observers buffer up to buffer events.
func New(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{buffer: buffer, observers: make(map[string]*Observer)}
}

// Subscribe registers a new observer.
func (b *Broadcaster) Subscribe() *Observer {
	ch := make(chan Event, b.buffer)
	o := &Observer{ID: uuid.NewString(), C: ch, ch: ch}
	b.mu.Lock()
	b.observers[o.ID] = o
	n := len(b.observers)
	b.mu.Unlock()
	metrics.SetObservers(n)
	slog.Debug("observer connected", "observer", o.ID, "observers", n)
	return o
}

// Unsubscribe removes o and closes its channel. It reports whether o was
// still registered; repeated calls are no-ops.
func (b *Broadcaster) Unsubscribe(o *Observer) bool {
	if o == nil {
		return false
	}
	b.mu.Lock()
	ok := b.removeLocked(o)
	n := len(b.observers)
	b.mu.Unlock()
	if ok {
		metrics.SetObservers(n)
		slog.Debug("observer disconnected", "observer", o.ID, "observers", n)
	}
	return ok
}

func (b *Broadcaster) removeLocked(o *Observer) bool {
	if cur, ok := b.observers[o.ID]; !ok || cur != o {
		return false
	}
	delete(b.observers, o.ID)
	close(o.ch)
	return true
}

// Publish delivers e to every observer without blocking and returns how many
// received it. Observers that cannot accept the event are removed.
func (b *Broadcaster) Publish(e Event) int {
	b.mu.Lock()
	delivered := 0
	dropped := 0
	for _, o := range b.observers {
		select {
		case o.ch <- e:
			delivered++
		default:
			b.removeLocked(o)
			dropped++
		}
	}
	n := len(b.observers)
	b.mu.Unlock()
	if dropped > 0 {
		metrics.SetObservers(n)
		slog.Warn("dropped slow observers", "dropped", dropped, "observers", n)
	}
	return delivered
}

// Send delivers e to a single observer, removing it when its buffer is full.
func (b *Broadcaster) Send(o *Observer, e Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.observers[o.ID]; !ok || cur != o {
		return false
	}
	select {
	case o.ch <- e:
		return true
	default:
		b.removeLocked(o)
		return false
	}
}

// Count returns the number of registered observers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers)
}

// Close unsubscribes every observer.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	for _, o := range b.observers {
		b.removeLocked(o)
	}
	b.mu.Unlock()
	metrics.SetObservers(0)
}
