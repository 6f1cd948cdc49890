package transport

import (
	"io"
	"log/slog"
	"sync"

	"docker-stats-hub/internal/hub"
	"docker-stats-hub/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testAgents = []model.AgentConfig{
	{ID: "a1", Label: "Agent 1", URL: "ws://h1/ws"},
	{ID: "a2", Label: "Agent 2", URL: "ws://h2/ws"},
}

type fakeHub struct {
	mu        sync.Mutex
	listeners map[int]hub.Listener
	next      int
	subscribed chan struct{}
}

func newFakeHub() *fakeHub {
	return &fakeHub{listeners: map[int]hub.Listener{}, subscribed: make(chan struct{}, 16)}
}

func (f *fakeHub) ListAgents() []model.AgentConfig {
	return append([]model.AgentConfig(nil), testAgents...)
}

func (f *fakeHub) Subscribe(fn hub.Listener) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.listeners[id] = fn
	f.mu.Unlock()
	f.subscribed <- struct{}{}
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeHub) emit(ev model.HubEvent) {
	f.mu.Lock()
	fns := make([]hub.Listener, 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeHub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeHub) Statuses() []model.AgentState {
	return []model.AgentState{
		{AgentConfig: testAgents[0], Status: model.StatusConnected},
		{AgentConfig: testAgents[1], Status: model.StatusError},
	}
}

func (f *fakeHub) History(agentID string) ([]model.CPUSample, bool) {
	if agentID != "a1" {
		return nil, false
	}
	return []model.CPUSample{}, true
}

type fakeHealth struct {
	healthy bool
}

func (f fakeHealth) Healthy() bool {
	return f.healthy
}

func (f fakeHealth) Snapshot() map[string]any {
	return map[string]any{"agents_connected": 1}
}
