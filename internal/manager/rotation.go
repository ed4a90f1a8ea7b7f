package manager

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/loykin/sessionkeeper/internal/history"
	"github.com/loykin/sessionkeeper/internal/metrics"
	"github.com/loykin/sessionkeeper/internal/store"
)

// Rotation outcomes reported to metrics.
const (
	rotationSkipped   = "skipped"
	rotationLaunched  = "launched"
	rotationCompleted = "completed"
	rotationKept      = "kept"
	rotationFailed    = "error"
)

// RotationStats describes the background rotation state.
type RotationStats struct {
	Active            bool  `json:"active"`
	Index             int64 `json:"index"`
	Pass              int   `json:"pass"`
	VisitedInPass     int   `json:"visitedInPass"`
	LastInstanceID    int64 `json:"lastInstanceId,omitempty"`
	CurrentInstanceID int64 `json:"currentInstanceId,omitempty"`
}

// rotation reopens closed instances one at a time while nobody is watching.
// Each pass visits every closed instance once, oldest close first.
type rotation struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	index   int64
	pass    int
	visited map[int64]struct{}
	lastID  int64
	current int64
	// session launched by the last rotation, owned until its dwell ends
	session *Session
	dwell   clockwork.Timer
	gen     uint64
}

func newRotation() *rotation {
	return &rotation{visited: make(map[int64]struct{})}
}

// pick returns the first instance not yet visited in this pass, starting a
// new pass when every listed instance has been visited. list must be non-empty.
func (r *rotation) pick(list []store.Instance) store.Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range list {
		if _, seen := r.visited[in.ID]; !seen {
			r.visited[in.ID] = struct{}{}
			return in
		}
	}
	r.pass++
	r.visited = map[int64]struct{}{list[0].ID: {}}
	return list[0]
}

func (r *rotation) stats() RotationStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RotationStats{
		Active:            r.running,
		Index:             r.index,
		Pass:              r.pass,
		VisitedInPass:     len(r.visited),
		LastInstanceID:    r.lastID,
		CurrentInstanceID: r.current,
	}
}

// release drops ownership of s and cancels its pending dwell close. It is
// a no-op unless s is the session the rotation launched last.
func (r *rotation) release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != s {
		return
	}
	if r.dwell != nil {
		r.dwell.Stop()
		r.dwell = nil
	}
	r.gen++
	r.current = 0
	r.session = nil
}

func (r *rotation) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (m *Manager) startRotation() {
	r := m.rot
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	ticker := m.clock.NewTicker(m.opts.RotationInterval)
	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				m.rotateOnce(ctx)
			}
		}
	}(r.done)
	slog.Info("rotation started", "interval", m.opts.RotationInterval, "dwell", m.opts.DwellTime, "batch", m.opts.RotationBatch)
}

// stopRotation stops the ticker loop, waits for an in-flight cycle and
// cancels a pending dwell close.
func (m *Manager) stopRotation() {
	r := m.rot
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel, done := r.cancel, r.done
	if r.dwell != nil {
		r.dwell.Stop()
		r.dwell = nil
	}
	r.gen++
	r.current = 0
	r.session = nil
	r.mu.Unlock()

	cancel()
	<-done
	slog.Info("rotation stopped")
}

// rotateOnce runs one rotation cycle and returns the launched instance id.
func (m *Manager) rotateOnce(ctx context.Context) (int64, bool) {
	if m.bc.Count() > 0 || m.reg.Size() > 0 {
		metrics.IncRotation(rotationSkipped)
		return 0, false
	}
	list, err := m.repo.ListClosedForRotation(ctx, m.opts.RotationBatch)
	if err != nil {
		metrics.IncRotation(rotationFailed)
		slog.Warn("rotation: list closed instances failed", "error", err)
		return 0, false
	}
	if len(list) == 0 {
		metrics.IncRotation(rotationSkipped)
		return 0, false
	}
	inst := m.rot.pick(list)
	s, err := m.restart(ctx, inst.ID, history.TriggerRotation)
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			metrics.IncRotation(rotationSkipped)
			return 0, false
		}
		metrics.IncRotation(rotationFailed)
		slog.Warn("rotation: launch failed", "instance", inst.ID, "error", err)
		return 0, false
	}
	metrics.IncRotation(rotationLaunched)

	r := m.rot
	r.mu.Lock()
	if r.dwell != nil {
		r.dwell.Stop()
		r.dwell = nil
	}
	r.gen++
	gen := r.gen
	r.lastID = inst.ID
	// a close may already have taken the session back
	if m.reg.Holds(s) {
		r.current = inst.ID
		r.session = s
		r.dwell = m.clock.AfterFunc(m.opts.DwellTime, func() { m.dwellExpired(s, gen) })
	}
	r.mu.Unlock()

	slog.Info("rotation: instance opened", "instance", inst.ID, "url", inst.URL, "dwell", m.opts.DwellTime)
	return inst.ID, true
}

// dwellExpired closes a rotated session unless an observer connected during
// the dwell window. A session that was closed or replaced meanwhile is left
// alone.
func (m *Manager) dwellExpired(s *Session, gen uint64) {
	r := m.rot
	r.mu.Lock()
	if gen != r.gen || r.session != s {
		r.mu.Unlock()
		return
	}
	r.dwell = nil
	r.current = 0
	r.session = nil
	r.mu.Unlock()

	id := s.ID
	if n := m.bc.Count(); n > 0 {
		metrics.IncRotation(rotationKept)
		slog.Info("rotation: observers connected, keeping session open", "instance", id, "observers", n)
		return
	}
	closed, err := m.closeSession(context.Background(), s, store.SessionBackground)
	if err != nil {
		slog.Warn("rotation: background close failed", "instance", id, "error", err)
	}
	if !closed {
		return
	}
	r.mu.Lock()
	r.index++
	r.mu.Unlock()
	metrics.IncRotation(rotationCompleted)
}
