package manager

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loykin/sessionkeeper/internal/broadcast"
	"github.com/loykin/sessionkeeper/internal/metrics"
)

// keepAlive periodically reloads one session's page so its cookies stay fresh.
type keepAlive struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (m *Manager) newKeepAlive(s *Session) *keepAlive {
	ctx, cancel := context.WithCancel(context.Background())
	ka := &keepAlive{cancel: cancel, done: make(chan struct{})}
	ticker := m.clock.NewTicker(m.opts.KeepAliveInterval)
	go func() {
		defer close(ka.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				m.keepAliveTick(ctx, s)
			}
		}
	}()
	return ka
}

func (ka *keepAlive) stop() {
	ka.once.Do(ka.cancel)
	<-ka.done
}

func (m *Manager) keepAliveTick(ctx context.Context, s *Session) {
	if err := s.page.Reload(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.IncKeepAlive(false)
		slog.Warn("keep-alive reload failed", "instance", s.ID, "error", err)
		return
	}
	cookies, err := s.page.Cookies(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.IncKeepAlive(false)
		slog.Warn("keep-alive cookie read failed", "instance", s.ID, "error", err)
		return
	}
	// the session may have been closed while the engine calls were running
	if ctx.Err() != nil {
		return
	}
	metrics.IncKeepAlive(true)
	slog.Debug("keep-alive", "instance", s.ID, "cookies", len(cookies))
	m.bc.Publish(broadcast.Event{
		Type:        broadcast.TypeKeepAlive,
		InstanceID:  s.ID,
		CookieCount: len(cookies),
		Timestamp:   m.clock.Now(),
	})
}
