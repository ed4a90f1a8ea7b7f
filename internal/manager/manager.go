package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/loykin/sessionkeeper/internal/broadcast"
	"github.com/loykin/sessionkeeper/internal/engine"
	"github.com/loykin/sessionkeeper/internal/history"
	"github.com/loykin/sessionkeeper/internal/metrics"
	"github.com/loykin/sessionkeeper/internal/store"
)

const (
	DefaultKeepAliveInterval = 5 * time.Minute
	DefaultRotationInterval  = 10 * time.Minute
	DefaultDwellTime         = 3 * time.Minute
	DefaultRotationBatch     = 20
	DefaultUserDataDir       = "user_data"
)

// Options configures a Manager. Engine and Repo are required.
type Options struct {
	Engine engine.Engine
	Repo   store.Repository
	// Broadcaster defaults to a new broadcaster with the default buffer.
	Broadcaster *broadcast.Broadcaster
	// History receives opened/closed events; nil disables export.
	History *history.Exporter
	// Clock defaults to the real clock.
	Clock clockwork.Clock

	UserDataDir       string
	KeepAliveInterval time.Duration
	RotationInterval  time.Duration
	DwellTime         time.Duration
	RotationBatch     int
	DisableRotation   bool
}

func (o *Options) applyDefaults() {
	if o.Broadcaster == nil {
		o.Broadcaster = broadcast.New(broadcast.DefaultBuffer)
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.UserDataDir == "" {
		o.UserDataDir = DefaultUserDataDir
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if o.RotationInterval <= 0 {
		o.RotationInterval = DefaultRotationInterval
	}
	if o.DwellTime <= 0 {
		o.DwellTime = DefaultDwellTime
	}
	if o.RotationBatch <= 0 {
		o.RotationBatch = DefaultRotationBatch
	}
}

// Manager owns the live browser sessions, their keep-alive tasks, the
// rotation scheduler and the observer set.
type Manager struct {
	opts  Options
	eng   engine.Engine
	repo  store.Repository
	bc    *broadcast.Broadcaster
	hist  *history.Exporter
	clock clockwork.Clock

	reg *registry
	rot *rotation

	// most recently launched instance, reported by Status
	mostRecent atomic.Int64

	// life guards closed. Launches hold the read lock until their session
	// is registered, so shutdown sees every session it has to close.
	life         sync.RWMutex
	closed       bool
	shutdownOnce sync.Once
	shutdownErr  error
}

func New(opts Options) (*Manager, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("%w: engine is required", ErrInvalidArgument)
	}
	if opts.Repo == nil {
		return nil, fmt.Errorf("%w: repository is required", ErrInvalidArgument)
	}
	opts.applyDefaults()
	return &Manager{
		opts:  opts,
		eng:   opts.Engine,
		repo:  opts.Repo,
		bc:    opts.Broadcaster,
		hist:  opts.History,
		clock: opts.Clock,
		reg:   newRegistry(),
		rot:   newRotation(),
	}, nil
}

// Broadcaster exposes the observer hub.
func (m *Manager) Broadcaster() *broadcast.Broadcaster { return m.bc }

// Start demotes stale active instances left by a previous run and starts
// the rotation scheduler unless it is disabled.
func (m *Manager) Start(ctx context.Context) error {
	if _, err := m.Reconcile(ctx); err != nil {
		return err
	}
	if !m.opts.DisableRotation {
		m.startRotation()
	}
	return nil
}

// Reconcile marks inactive every stored active instance that has no live
// session and returns how many were demoted.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	active, err := m.repo.ListActive(ctx)
	if err != nil {
		return 0, storageErr("list active", 0, err)
	}
	n := 0
	for _, in := range active {
		if m.reg.Has(in.ID) {
			continue
		}
		if err := m.repo.SetInactive(ctx, in.ID); err != nil {
			return n, storageErr("set inactive", in.ID, err)
		}
		n++
	}
	if n > 0 {
		slog.Info("demoted stale active instances", "count", n)
	}
	return n, nil
}

// Create persists a new instance, opens url in a fresh browser profile and
// registers the session.
func (m *Manager) Create(ctx context.Context, url string, meta store.Metadata) (int64, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return 0, fmt.Errorf("%w: url is required", ErrInvalidArgument)
	}
	leave, err := m.enter()
	if err != nil {
		return 0, err
	}
	defer leave()
	id, err := m.repo.CreateInstance(ctx, url, meta, m.clock.Now())
	if err != nil {
		return 0, storageErr("create instance", 0, err)
	}
	s, err := m.launch(ctx, id, url)
	if err != nil {
		if derr := m.repo.SetInactive(context.WithoutCancel(ctx), id); derr != nil {
			slog.Warn("failed to demote instance after launch failure", "instance", id, "error", derr)
		}
		return 0, err
	}
	if err := m.reg.Put(id, s); err != nil {
		_ = s.page.Close()
		return 0, err
	}
	m.activate(s, history.TriggerCreate)
	return id, nil
}

// enter admits a launch unless shutdown has begun. The caller must call
// leave once the launched session is registered or abandoned.
func (m *Manager) enter() (leave func(), err error) {
	m.life.RLock()
	if m.closed {
		m.life.RUnlock()
		return nil, ErrShutdown
	}
	return m.life.RUnlock, nil
}

// Restart reopens a stored instance in its existing profile directory.
func (m *Manager) Restart(ctx context.Context, id int64) error {
	_, err := m.restart(ctx, id, history.TriggerRestart)
	return err
}

func (m *Manager) restart(ctx context.Context, id int64, trigger string) (*Session, error) {
	leave, err := m.enter()
	if err != nil {
		return nil, err
	}
	defer leave()
	if m.reg.Has(id) {
		return nil, fmt.Errorf("%w: %d", ErrAlreadyRunning, id)
	}
	inst, err := m.repo.GetInstance(ctx, id)
	if err != nil {
		return nil, storageErr("get instance", id, err)
	}
	s, err := m.launch(ctx, id, inst.URL)
	if err != nil {
		return nil, err
	}
	// a concurrent restart may have registered first; its session wins
	if err := m.reg.Put(id, s); err != nil {
		_ = s.page.Close()
		return nil, fmt.Errorf("%w: %d", ErrAlreadyRunning, id)
	}
	if err := m.repo.MarkOpened(ctx, id, s.StartedAt); err != nil {
		m.reg.RemoveSession(s)
		_ = s.page.Close()
		return nil, storageErr("mark opened", id, err)
	}
	if !m.reg.Holds(s) {
		// Closed while the open was being recorded. MarkOpened may have
		// landed after the close wrote the instance inactive.
		if !m.reg.Has(id) {
			if err := m.repo.SetInactive(context.WithoutCancel(ctx), id); err != nil {
				slog.Warn("failed to demote instance closed during restart", "instance", id, "error", err)
			}
		}
		return nil, fmt.Errorf("%w: %d closed before it finished starting", ErrNotFound, id)
	}
	m.activate(s, trigger)
	return s, nil
}

// launch opens a browser for id and navigates it to url. On failure the
// browser is closed again.
func (m *Manager) launch(ctx context.Context, id int64, url string) (*Session, error) {
	dir, err := ensureInstanceDir(m.opts.UserDataDir, id)
	if err != nil {
		metrics.IncLaunchFailure()
		return nil, fmt.Errorf("%w: instance %d: %v", ErrLaunchFailed, id, err)
	}
	page, err := m.eng.Launch(ctx, engine.LaunchOptions{UserDataDir: dir})
	if err != nil {
		metrics.IncLaunchFailure()
		slog.Error("browser launch failed", "instance", id, "error", err)
		return nil, fmt.Errorf("%w: instance %d: %v", ErrLaunchFailed, id, err)
	}
	if err := page.Navigate(ctx, url); err != nil {
		_ = page.Close()
		metrics.IncLaunchFailure()
		slog.Error("initial navigation failed", "instance", id, "url", url, "error", err)
		return nil, fmt.Errorf("%w: instance %d: navigate: %v", ErrLaunchFailed, id, err)
	}
	return newSession(id, url, page, m.clock.Now()), nil
}

// activate runs after a session is registered.
func (m *Manager) activate(s *Session, trigger string) {
	s.attachKeepAlive(func() *keepAlive { return m.newKeepAlive(s) })
	m.mostRecent.Store(s.ID)
	metrics.IncLaunched(trigger)
	m.hist.Export(history.Event{
		Type:       history.EventOpened,
		OccurredAt: s.StartedAt,
		InstanceID: s.ID,
		URL:        s.URL(),
		Trigger:    trigger,
	})
	slog.Info("session started", "instance", s.ID, "url", s.URL(), "trigger", trigger)
	m.publishStatus()
}

// Close ends the session for id and records its outcome. It reports false
// when no session was registered.
func (m *Manager) Close(ctx context.Context, id int64, reason string) (bool, error) {
	switch reason {
	case "":
		reason = store.SessionManual
	case store.SessionManual, store.SessionBackground, store.SessionShutdown:
	default:
		return false, fmt.Errorf("%w: unknown close reason %q", ErrInvalidArgument, reason)
	}
	s, err := m.reg.Get(id)
	if err != nil {
		return false, nil
	}
	return m.closeSession(ctx, s, reason)
}

// closeSession ends s if it is still the registered session of its
// instance and reports whether it did.
func (m *Manager) closeSession(ctx context.Context, s *Session, reason string) (bool, error) {
	id := s.ID
	s.stopKeepAlive()
	if !m.reg.RemoveSession(s) {
		return false, nil
	}
	m.rot.release(s)

	closedAt := m.clock.Now()
	runtime := int(math.Round(closedAt.Sub(s.StartedAt).Minutes()))
	if runtime < 0 {
		runtime = 0
	}
	cookies := 0
	if cs, err := s.page.Cookies(ctx); err != nil {
		slog.Warn("cookie read failed on close", "instance", id, "error", err)
	} else {
		cookies = len(cs)
	}
	rec := store.SessionRecord{
		InstanceID:     id,
		OpenedAt:       s.StartedAt,
		ClosedAt:       closedAt,
		RuntimeMinutes: runtime,
		CookiesCount:   cookies,
		SessionType:    reason,
	}
	var errs []error
	if recID, err := m.repo.RecordSession(context.WithoutCancel(ctx), rec); err != nil {
		errs = append(errs, storageErr("record session", id, err))
	} else {
		rec.ID = recID
	}
	if err := s.page.Close(); err != nil {
		slog.Warn("browser close failed", "instance", id, "error", err)
	}

	metrics.ObserveClosed(reason, runtime)
	m.hist.Export(history.Event{
		Type:       history.EventClosed,
		OccurredAt: closedAt,
		InstanceID: id,
		URL:        s.URL(),
		Session:    &rec,
	})
	slog.Info("session closed", "instance", id, "reason", reason, "runtime_minutes", runtime, "cookies", cookies)
	m.publishStatus()
	return true, errors.Join(errs...)
}

// Navigate loads url in a running session and stores it as the instance url.
func (m *Manager) Navigate(ctx context.Context, id int64, url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidArgument)
	}
	s, err := m.reg.Get(id)
	if err != nil {
		return err
	}
	if err := s.page.Navigate(ctx, url); err != nil {
		return fmt.Errorf("%w: navigate %d: %v", ErrEngineCallFailed, id, err)
	}
	s.setURL(url)
	if err := m.repo.UpdateInstanceURL(context.WithoutCancel(ctx), id, url); err != nil {
		slog.Warn("failed to persist navigated url", "instance", id, "url", url, "error", err)
	}
	m.publishStatus()
	return nil
}

func (m *Manager) Refresh(ctx context.Context, id int64) error {
	s, err := m.reg.Get(id)
	if err != nil {
		return err
	}
	if err := s.page.Reload(ctx); err != nil {
		return fmt.Errorf("%w: reload %d: %v", ErrEngineCallFailed, id, err)
	}
	return nil
}

// Screenshot returns a PNG of the running session's page.
func (m *Manager) Screenshot(ctx context.Context, id int64) ([]byte, error) {
	s, err := m.reg.Get(id)
	if err != nil {
		return nil, err
	}
	b, err := s.page.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: screenshot %d: %v", ErrEngineCallFailed, id, err)
	}
	return b, nil
}

func (m *Manager) Content(ctx context.Context, id int64) (engine.Content, error) {
	s, err := m.reg.Get(id)
	if err != nil {
		return engine.Content{}, err
	}
	c, err := s.page.Content(ctx)
	if err != nil {
		return engine.Content{}, fmt.Errorf("%w: content %d: %v", ErrEngineCallFailed, id, err)
	}
	return c, nil
}

func (m *Manager) Cookies(ctx context.Context, id int64) ([]engine.Cookie, error) {
	s, err := m.reg.Get(id)
	if err != nil {
		return nil, err
	}
	cs, err := s.page.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: cookies %d: %v", ErrEngineCallFailed, id, err)
	}
	return cs, nil
}

// ListRunning reports every registered session, ordered by id.
func (m *Manager) ListRunning() []RunningInfo {
	sessions := m.reg.List()
	out := make([]RunningInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.info())
	}
	return out
}

// StatusSnapshot is the aggregate state pushed to observers.
type StatusSnapshot struct {
	IsRunning             bool   `json:"isRunning"`
	URL                   string `json:"url"`
	CurrentInstanceID     int64  `json:"currentInstanceId,omitempty"`
	HasInstance           bool   `json:"hasInstance"`
	ClientsConnected      int    `json:"clientsConnected"`
	BackgroundTaskActive  bool   `json:"backgroundTaskActive"`
	RunningInstancesCount int    `json:"runningInstancesCount"`
}

func (m *Manager) Status() StatusSnapshot {
	n := m.reg.Size()
	st := StatusSnapshot{
		IsRunning:             n > 0,
		ClientsConnected:      m.bc.Count(),
		BackgroundTaskActive:  m.rot.isRunning(),
		RunningInstancesCount: n,
	}
	if id := m.mostRecent.Load(); id != 0 {
		if s, err := m.reg.Get(id); err == nil {
			st.HasInstance = true
			st.CurrentInstanceID = id
			st.URL = s.URL()
		}
	}
	return st
}

func (m *Manager) statusEvent() broadcast.Event {
	return broadcast.Event{Type: broadcast.TypeStatus, Data: m.Status()}
}

func (m *Manager) publishStatus() {
	metrics.SetRunning(m.reg.Size())
	m.bc.Publish(m.statusEvent())
}

// Connect subscribes a new observer and sends it the current status.
func (m *Manager) Connect() *broadcast.Observer {
	o := m.bc.Subscribe()
	m.bc.Send(o, m.statusEvent())
	slog.Debug("observer connected", "observer", o.ID, "observers", m.bc.Count())
	return o
}

// Disconnect removes o. It is safe to call more than once.
func (m *Manager) Disconnect(o *broadcast.Observer) {
	if m.bc.Unsubscribe(o) {
		slog.Debug("observer disconnected", "observer", o.ID, "observers", m.bc.Count())
	}
}

func (m *Manager) RotationStats() RotationStats { return m.rot.stats() }

func (m *Manager) ListInstances(ctx context.Context) ([]store.Instance, error) {
	list, err := m.repo.ListInstances(ctx)
	if err != nil {
		return nil, storageErr("list instances", 0, err)
	}
	return list, nil
}

// ClosedInstances is the rotation candidate list with the rotation position.
type ClosedInstances struct {
	Total     int              `json:"totalClosed"`
	Index     int64            `json:"currentIndex"`
	Instances []store.Instance `json:"instances"`
}

// ListClosed returns up to limit closed instances in rotation order, oldest
// close first. A limit below 1 uses the rotation batch size.
func (m *Manager) ListClosed(ctx context.Context, limit int) (ClosedInstances, error) {
	if limit < 1 {
		limit = m.opts.RotationBatch
	}
	list, err := m.repo.ListClosedForRotation(ctx, limit)
	if err != nil {
		return ClosedInstances{}, storageErr("list closed", 0, err)
	}
	if list == nil {
		list = []store.Instance{}
	}
	return ClosedInstances{Total: len(list), Index: m.rot.stats().Index, Instances: list}, nil
}

func (m *Manager) GetInstance(ctx context.Context, id int64) (store.Instance, error) {
	in, err := m.repo.GetInstance(ctx, id)
	if err != nil {
		return store.Instance{}, storageErr("get instance", id, err)
	}
	return in, nil
}

// UpdateInstance applies the non-nil fields of patch.
func (m *Manager) UpdateInstance(ctx context.Context, id int64, patch store.InstancePatch) error {
	if patch.Priority != nil && *patch.Priority < 1 {
		return fmt.Errorf("%w: priority must be positive", ErrInvalidArgument)
	}
	if err := m.repo.UpdateInstance(ctx, id, patch); err != nil {
		return storageErr("update instance", id, err)
	}
	return nil
}

// DeleteInstance closes a running session for id, removes the instance with
// its session history and deletes its profile directory.
func (m *Manager) DeleteInstance(ctx context.Context, id int64) error {
	if _, err := m.Close(ctx, id, store.SessionManual); err != nil {
		slog.Warn("close before delete reported an error", "instance", id, "error", err)
	}
	if err := m.repo.DeleteInstance(ctx, id); err != nil {
		return storageErr("delete instance", id, err)
	}
	if err := removeInstanceDir(m.opts.UserDataDir, id); err != nil {
		slog.Warn("failed to remove instance profile", "instance", id, "error", err)
	}
	slog.Info("instance deleted", "instance", id)
	return nil
}

func (m *Manager) Groups(ctx context.Context) ([]store.GroupSummary, error) {
	g, err := m.repo.GroupSummaries(ctx)
	if err != nil {
		return nil, storageErr("group summaries", 0, err)
	}
	return g, nil
}

func (m *Manager) Statistics(ctx context.Context) (store.Statistics, error) {
	st, err := m.repo.Statistics(ctx)
	if err != nil {
		return store.Statistics{}, storageErr("statistics", 0, err)
	}
	return st, nil
}

// Sessions lists the newest session records of an instance.
func (m *Manager) Sessions(ctx context.Context, id int64, limit int) ([]store.SessionRecord, error) {
	if _, err := m.repo.GetInstance(ctx, id); err != nil {
		return nil, storageErr("get instance", id, err)
	}
	recs, err := m.repo.ListSessions(ctx, id, limit)
	if err != nil {
		return nil, storageErr("list sessions", id, err)
	}
	return recs, nil
}

// Shutdown stops rotation, closes every session with reason shutdown and
// releases the engine, history sinks, broadcaster and repository. A failure
// closing one session does not stop the others. Later calls return the
// first result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.shutdownErr = m.shutdown(ctx)
	})
	return m.shutdownErr
}

func (m *Manager) shutdown(ctx context.Context) error {
	m.stopRotation()
	m.life.Lock()
	m.closed = true
	m.life.Unlock()

	sessions := m.reg.List()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range sessions {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := m.Close(ctx, id, store.SessionShutdown); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(s.ID)
	}
	wg.Wait()
	slog.Info("sessions closed for shutdown", "count", len(sessions))

	if err := m.eng.Close(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if err := m.hist.Close(); err != nil {
		errs = append(errs, fmt.Errorf("history: %w", err))
	}
	m.bc.Close()
	if err := m.repo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	return errors.Join(errs...)
}
