package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/sessionkeeper/internal/metrics"
	"github.com/loykin/sessionkeeper/internal/store"
)

// EventType defines the kind of session lifecycle event.
type EventType string

const (
	EventOpened EventType = "opened"
	EventClosed EventType = "closed"
)

// Launch triggers carried by opened events.
const (
	TriggerCreate   = "create"
	TriggerRestart  = "restart"
	TriggerRotation = "rotation"
)

// Event represents a session lifecycle event exported to analytics systems.
// Session is set only for closed events.
type Event struct {
	Type       EventType            `json:"type"`
	OccurredAt time.Time            `json:"occurred_at"`
	InstanceID int64                `json:"instance_id"`
	URL        string               `json:"url"`
	Trigger    string               `json:"trigger,omitempty"`
	Session    *store.SessionRecord `json:"session,omitempty"`
}

func (e Event) SessionType() string {
	if e.Session == nil {
		return ""
	}
	return e.Session.SessionType
}

func (e Event) RuntimeMinutes() int {
	if e.Session == nil {
		return 0
	}
	return e.Session.RuntimeMinutes
}

func (e Event) CookiesCount() int {
	if e.Session == nil {
		return 0
	}
	return e.Session.CookiesCount
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Named sinks report a short label used in logs and metrics.
type Named interface {
	Name() string
}

// DefaultSendTimeout bounds a single Send when the exporter has no timeout.
const DefaultSendTimeout = 5 * time.Second

// Exporter fans events out to sinks asynchronously. Failures are logged and
// counted but never returned to the caller.
type Exporter struct {
	sinks   []Sink
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewExporter(timeout time.Duration, sinks ...Sink) *Exporter {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Exporter{sinks: sinks, timeout: timeout}
}

// Len reports the number of configured sinks. A nil exporter has none.
func (x *Exporter) Len() int {
	if x == nil {
		return 0
	}
	return len(x.sinks)
}

// Export queues e for every sink. It is a no-op on a nil or closed exporter.
func (x *Exporter) Export(e Event) {
	if x == nil || len(x.sinks) == 0 {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return
	}
	for _, s := range x.sinks {
		x.wg.Add(1)
		go func(s Sink) {
			defer x.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), x.timeout)
			defer cancel()
			if err := s.Send(ctx, e); err != nil {
				name := SinkName(s)
				metrics.IncHistoryFailure(name)
				slog.Warn("history export failed", "sink", name, "event", e.Type, "instance", e.InstanceID, "error", err)
			}
		}(s)
	}
}

// Close waits for in-flight sends and closes sinks that hold resources.
func (x *Exporter) Close() error {
	if x == nil {
		return nil
	}
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return nil
	}
	x.closed = true
	x.mu.Unlock()

	x.wg.Wait()
	var errs []error
	for _, s := range x.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", SinkName(s), err))
			}
		}
	}
	return errors.Join(errs...)
}

func SinkName(s Sink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
