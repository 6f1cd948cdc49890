package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"docker-stats-hub/internal/hub"
	"docker-stats-hub/internal/metrics"
	"docker-stats-hub/internal/model"
)

var (
	ErrClosed  = errors.New("session closed")
	ErrRunning = errors.New("session already running")
)

// Transport is the one-way channel to a single observer. Send and KeepAlive are
// called from one goroutine only. Close may be called concurrently with them and
// must not block; sends after Close are dropped without error.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	KeepAlive(ctx context.Context) error
	Close() error
}

// Source is the part of the hub a session needs.
type Source interface {
	ListAgents() []model.AgentConfig
	Subscribe(fn hub.Listener) func()
}

type Options struct {
	// Kind labels the session in logs and metrics, e.g. "sse" or "grpc".
	Kind string
	// KeepAlive is the keep-alive period. Zero disables keep-alive frames.
	KeepAlive time.Duration
	// Buffer bounds the events queued for a slow observer before it is dropped.
	Buffer int
}

func DefaultOptions() Options {
	return Options{Kind: "sse", KeepAlive: 15 * time.Second, Buffer: 256}
}

// Session bridges one observer to the hub: a bootstrap agent_list first, then
// every hub event in order, plus periodic keep-alives.
type Session struct {
	ID string

	src    Source
	tr     Transport
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	queue   chan model.HubEvent
	done    chan struct{}
	running atomic.Bool

	mu          sync.Mutex
	unsubscribe func()
	ticker      *time.Ticker
	closeOnce   sync.Once
	reason      string
}

func New(src Source, tr Transport, opts Options, logger *slog.Logger) *Session {
	def := DefaultOptions()
	if opts.Kind == "" {
		opts.Kind = def.Kind
	}
	if opts.KeepAlive < 0 {
		opts.KeepAlive = 0
	}
	if opts.Buffer <= 0 {
		opts.Buffer = def.Buffer
	}
	id := uuid.NewString()
	return &Session{
		ID:     id,
		src:    src,
		tr:     tr,
		opts:   opts,
		logger: logger.With("session_id", id, "transport", opts.Kind),
		now:    time.Now,
		queue:  make(chan model.HubEvent, opts.Buffer),
		done:   make(chan struct{}),
	}
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close tears the session down. It is safe to call any number of times and
// concurrently with Run.
func (s *Session) Close() {
	s.teardown("closed")
}

// Run subscribes to the source, sends the bootstrap message and then forwards
// events until ctx ends, Close is called or the transport fails. The session is
// torn down when Run returns. Only transport failures are returned as errors.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	metrics.ActiveSessions.WithLabelValues(s.opts.Kind).Inc()
	defer metrics.ActiveSessions.WithLabelValues(s.opts.Kind).Dec()

	// Subscribe before taking the agent snapshot so no event falls in between;
	// anything that arrives meanwhile waits in the queue behind the bootstrap.
	unsubscribe := s.src.Subscribe(s.deliver)
	var tick <-chan time.Time
	s.mu.Lock()
	if s.closed() {
		// torn down while subscribing, before teardown could see the handle
		s.mu.Unlock()
		unsubscribe()
		return nil
	}
	s.unsubscribe = unsubscribe
	if s.opts.KeepAlive > 0 {
		s.ticker = time.NewTicker(s.opts.KeepAlive)
		tick = s.ticker.C
	}
	s.mu.Unlock()
	s.logger.Info("session attached")

	bootstrap, err := json.Marshal(model.NewAgentList(s.src.ListAgents(), s.now()))
	if err != nil {
		s.teardown("bootstrap encode failed")
		return fmt.Errorf("encode agent list: %w", err)
	}
	if err := s.tr.Send(ctx, bootstrap); err != nil {
		s.teardown("bootstrap send failed")
		return fmt.Errorf("send agent list: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			s.teardown("context done")
			return nil
		case <-s.done:
			return nil
		case ev := <-s.queue:
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("dropping unencodable event", "error", err, "type", ev.Type)
				continue
			}
			if err := s.tr.Send(ctx, data); err != nil {
				if s.closed() {
					return nil
				}
				s.teardown("send failed")
				return fmt.Errorf("send event: %w", err)
			}
		case <-tick:
			if err := s.tr.KeepAlive(ctx); err != nil {
				if s.closed() {
					return nil
				}
				s.teardown("keep-alive failed")
				return fmt.Errorf("send keep-alive: %w", err)
			}
		}
	}
}

// deliver runs on the hub's dispatch goroutine and never blocks it. A session
// that cannot keep up is dropped.
func (s *Session) deliver(ev model.HubEvent) {
	if s.closed() {
		return
	}
	select {
	case s.queue <- ev:
	default:
		metrics.SlowSubscribers.Inc()
		s.logger.Warn("session queue full, dropping observer", "buffer", s.opts.Buffer)
		s.teardown("slow observer")
	}
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// teardown runs exactly once: stop the keep-alive ticker, leave the hub and
// close the transport.
func (s *Session) teardown(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		close(s.done)
		ticker, unsubscribe := s.ticker, s.unsubscribe
		s.ticker, s.unsubscribe = nil, nil
		s.mu.Unlock()

		if ticker != nil {
			ticker.Stop()
		}
		if unsubscribe != nil {
			unsubscribe()
		}
		if err := s.tr.Close(); err != nil {
			s.logger.Debug("transport close failed", "error", err)
		}
		s.logger.Info("session detached", "reason", reason)
	})
}

// Reason reports why the session was torn down, or "" while it is live.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
