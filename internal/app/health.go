package app

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type HealthStatus struct {
	agentsTotal     int
	hubRunning      atomic.Bool
	agentsConnected atomic.Int64
	relayEnabled    atomic.Bool
	relayConnected  atomic.Bool
	lastEventAt     atomic.Int64

	mu       sync.Mutex
	sessions map[string]int
}

func NewHealthStatus(agents int) *HealthStatus {
	return &HealthStatus{agentsTotal: agents, sessions: map[string]int{}}
}

func (h *HealthStatus) SetHubRunning(ok bool) {
	h.hubRunning.Store(ok)
}

func (h *HealthStatus) SetAgentsConnected(n int) {
	h.agentsConnected.Store(int64(n))
}

func (h *HealthStatus) EnableRelay() {
	h.relayEnabled.Store(true)
	h.relayConnected.Store(true)
}

func (h *HealthStatus) SetRelayConnected(ok bool) {
	h.relayConnected.Store(ok)
}

func (h *HealthStatus) MarkEvent(ts time.Time) {
	if ts.IsZero() {
		return
	}
	h.lastEventAt.Store(ts.UnixNano())
}

func (h *HealthStatus) SetSessions(kind string, n int) {
	h.mu.Lock()
	h.sessions[kind] = n
	h.mu.Unlock()
}

// Healthy is false while the hub is down or an enabled relay has lost Redis.
// Disconnected agents do not count; they are retried forever.
func (h *HealthStatus) Healthy() bool {
	if !h.hubRunning.Load() {
		return false
	}
	return !h.relayEnabled.Load() || h.relayConnected.Load()
}

// ProbeLine is the one-line answer of the TCP probe listener.
func (h *HealthStatus) ProbeLine() string {
	state := "ok"
	if !h.Healthy() {
		state = "degraded"
	}
	return fmt.Sprintf("statshub:%s agents=%d/%d\n", state, h.agentsConnected.Load(), h.agentsTotal)
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"hub_running":      h.hubRunning.Load(),
		"agents_total":     h.agentsTotal,
		"agents_connected": h.agentsConnected.Load(),
	}
	if h.relayEnabled.Load() {
		out["relay_connected"] = h.relayConnected.Load()
	}
	if v := h.lastEventAt.Load(); v > 0 {
		out["last_event_at"] = time.Unix(0, v).UTC()
	}
	h.mu.Lock()
	for kind, n := range h.sessions {
		out[kind+"_sessions"] = n
	}
	h.mu.Unlock()
	return out
}
