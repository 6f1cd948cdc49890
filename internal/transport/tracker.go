package transport

import (
	"sync"

	"docker-stats-hub/internal/session"
)

// tracker remembers live sessions so a shutdown can tear them all down.
type tracker struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

func newTracker() *tracker {
	return &tracker{sessions: make(map[string]*session.Session)}
}

func (t *tracker) add(s *session.Session) {
	t.mu.Lock()
	t.sessions[s.ID] = s
	t.mu.Unlock()
}

func (t *tracker) remove(s *session.Session) {
	t.mu.Lock()
	delete(t.sessions, s.ID)
	t.mu.Unlock()
}

func (t *tracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *tracker) closeAll() {
	t.mu.Lock()
	live := make([]*session.Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		live = append(live, s)
	}
	t.mu.Unlock()

	for _, s := range live {
		s.Close()
	}
}
