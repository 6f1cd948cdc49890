package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"docker-stats-hub/internal/history"
	"docker-stats-hub/internal/metrics"
	"docker-stats-hub/internal/model"
	"docker-stats-hub/internal/stream"
)

// Listener receives every hub event in emission order. It runs on the hub's
// dispatch goroutine and must not block.
type Listener func(model.HubEvent)

type Options struct {
	Stream            stream.Options
	EventBuffer       int
	HistoryWindow     time.Duration
	HistoryMaxSamples int
}

func DefaultOptions() Options {
	return Options{
		Stream:            stream.DefaultOptions(),
		EventBuffer:       1024,
		HistoryWindow:     history.DefaultWindow,
		HistoryMaxSamples: history.DefaultMaxSamples,
	}
}

type registration struct {
	id     uint64
	fn     Listener
	active atomic.Bool
}

// Hub owns one supervisor per configured agent and the CPU history, and fans
// their merged event stream out to listeners. All enrichment and delivery happens
// on a single dispatch goroutine, so every listener sees the same order.
type Hub struct {
	logger      *slog.Logger
	agents      []model.AgentConfig
	supervisors []*stream.Supervisor
	history     *history.Aggregator
	events      chan model.HubEvent

	mu        sync.Mutex
	listeners []*registration
	nextID    uint64

	lastEventAt atomic.Int64

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	cancel      context.CancelFunc
	done        chan struct{}
}

func New(agents []model.AgentConfig, opts Options, logger *slog.Logger) *Hub {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultOptions().EventBuffer
	}

	h := &Hub{
		logger:  logger,
		agents:  append([]model.AgentConfig(nil), agents...),
		history: history.NewAggregator(opts.HistoryWindow, opts.HistoryMaxSamples),
		events:  make(chan model.HubEvent, opts.EventBuffer),
		done:    make(chan struct{}),
	}
	for _, cfg := range h.agents {
		sup := stream.NewSupervisor(cfg, opts.Stream, h.events, logger.With("component", "supervisor"))
		h.supervisors = append(h.supervisors, sup)
	}
	logger.Info("hub created", "agents", len(h.agents))
	return h
}

// Start launches the dispatch loop and every supervisor. Calling it twice, or
// after Stop, does nothing.
func (h *Hub) Start(ctx context.Context) {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()
	if h.started || h.stopped {
		return
	}
	h.started = true

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	go h.run(runCtx)

	for _, sup := range h.supervisors {
		sup.Start(runCtx)
	}
}

// Stop shuts every supervisor down, then the dispatch loop. Events still queued
// are discarded.
func (h *Hub) Stop() {
	h.lifecycleMu.Lock()
	if h.stopped {
		h.lifecycleMu.Unlock()
		return
	}
	h.stopped = true
	started := h.started
	h.lifecycleMu.Unlock()

	var wg sync.WaitGroup
	for _, sup := range h.supervisors {
		wg.Add(1)
		go func(s *stream.Supervisor) {
			defer wg.Done()
			s.Stop()
		}(sup)
	}
	wg.Wait()

	if started {
		h.cancel()
		<-h.done
	}
	h.logger.Info("hub stopped")
}

// Done is closed when the dispatch loop has exited.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// ListAgents returns the static agent configuration in configuration order.
func (h *Hub) ListAgents() []model.AgentConfig {
	return append([]model.AgentConfig(nil), h.agents...)
}

// Statuses reports each agent's current connection status.
func (h *Hub) Statuses() []model.AgentState {
	out := make([]model.AgentState, 0, len(h.supervisors))
	for _, sup := range h.supervisors {
		out = append(out, model.AgentState{AgentConfig: sup.Config(), Status: sup.State().Status()})
	}
	return out
}

// History returns a copy of one agent's CPU window.
func (h *Hub) History(agentID string) ([]model.CPUSample, bool) {
	for _, cfg := range h.agents {
		if cfg.ID == agentID {
			samples, ok := h.history.Snapshot(agentID)
			if !ok {
				samples = []model.CPUSample{}
			}
			return samples, true
		}
	}
	return nil, false
}

func (h *Hub) LastEventAt() time.Time {
	v := h.lastEventAt.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

// Subscribe registers fn for every subsequent event. The returned function
// unsubscribes; it is safe to call more than once and from inside fn.
func (h *Hub) Subscribe(fn Listener) func() {
	reg := &registration{fn: fn}
	reg.active.Store(true)

	h.mu.Lock()
	h.nextID++
	reg.id = h.nextID
	next := make([]*registration, len(h.listeners), len(h.listeners)+1)
	copy(next, h.listeners)
	h.listeners = append(next, reg)
	h.mu.Unlock()

	return func() { h.unsubscribe(reg) }
}

// Subscribers returns the number of registered listeners.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

func (h *Hub) unsubscribe(reg *registration) {
	if !reg.active.CompareAndSwap(true, false) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	next := make([]*registration, 0, len(h.listeners))
	for _, r := range h.listeners {
		if r != reg {
			next = append(next, r)
		}
	}
	h.listeners = next
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

func (h *Hub) handle(ev model.HubEvent) {
	switch ev.Type {
	case model.EventContainerStats:
		ev.History = h.history.Record(ev.AgentID, ev.Batch, ev.ReceivedAt)
		metrics.HistorySamples.WithLabelValues(ev.AgentID).Set(float64(len(ev.History)))
		if n := len(ev.History); n > 0 {
			metrics.AgentCPU.WithLabelValues(ev.AgentID).Set(ev.History[n-1].CPUPct)
		}
	case model.EventAgentStatus:
		metrics.AgentStatusChanges.WithLabelValues(ev.AgentID, string(ev.Status)).Inc()
		h.logger.Debug("agent status", "agent_id", ev.AgentID, "status", ev.Status)
	}
	metrics.HubEvents.WithLabelValues(string(ev.Type)).Inc()
	h.lastEventAt.Store(time.Now().UnixNano())
	h.broadcast(ev)
}

// broadcast delivers ev to a snapshot of the listener list. Listeners removed
// during the pass are skipped once their turn comes; the others are unaffected.
func (h *Hub) broadcast(ev model.HubEvent) {
	h.mu.Lock()
	regs := h.listeners
	h.mu.Unlock()

	for _, reg := range regs {
		if !reg.active.Load() {
			continue
		}
		h.deliver(reg, ev)
	}
}

func (h *Hub) deliver(reg *registration, ev model.HubEvent) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("listener panicked", "listener_id", reg.id, "panic", r)
		}
	}()
	reg.fn(ev)
}
