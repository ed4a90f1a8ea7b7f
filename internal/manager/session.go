package manager

import (
	"sync"
	"time"

	"github.com/loykin/sessionkeeper/internal/engine"
)

// Session is one live browser run backing an instance.
type Session struct {
	ID        int64
	StartedAt time.Time

	page engine.Page

	mu      sync.RWMutex
	url     string
	ka      *keepAlive
	closing bool
}

func newSession(id int64, url string, page engine.Page, startedAt time.Time) *Session {
	return &Session{ID: id, StartedAt: startedAt, page: page, url: url}
}

// URL is the page currently loaded, which follows navigation.
func (s *Session) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}

func (s *Session) setURL(u string) {
	s.mu.Lock()
	s.url = u
	s.mu.Unlock()
}

// attachKeepAlive starts the session's keep-alive task unless the session is
// already closing.
func (s *Session) attachKeepAlive(start func() *keepAlive) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || s.ka != nil {
		return
	}
	s.ka = start()
}

// stopKeepAlive cancels the keep-alive task and waits for an in-flight tick.
// No tick is started afterwards.
func (s *Session) stopKeepAlive() {
	s.mu.Lock()
	s.closing = true
	ka := s.ka
	s.mu.Unlock()
	if ka != nil {
		ka.stop()
	}
}

// RunningInfo describes a registered session.
type RunningInfo struct {
	InstanceID int64     `json:"instanceId"`
	URL        string    `json:"url"`
	StartTime  time.Time `json:"startTime"`
	Status     string    `json:"status"`
}

func (s *Session) info() RunningInfo {
	return RunningInfo{InstanceID: s.ID, URL: s.URL(), StartTime: s.StartedAt, Status: "running"}
}
