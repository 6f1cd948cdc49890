package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"docker-stats-hub/internal/metrics"
	"docker-stats-hub/internal/model"
)

type Options struct {
	ReconnectDelay time.Duration
	MaxJitter      time.Duration
	DialTimeout    time.Duration
	PingInterval   time.Duration
	ReadLimit      int64
}

func DefaultOptions() Options {
	return Options{
		ReconnectDelay: 3 * time.Second,
		DialTimeout:    10 * time.Second,
		PingInterval:   20 * time.Second,
		ReadLimit:      10 << 20,
	}
}

// Supervisor keeps one websocket connection to one agent alive until Stop.
// Every status change and every accepted stats batch is sent to out in the
// order it happened.
type Supervisor struct {
	cfg     model.AgentConfig
	opts    Options
	out     chan<- model.HubEvent
	logger  *slog.Logger
	now     func() time.Time
	randSrc *rand.Rand

	mu     sync.Mutex
	state  State
	timer  *time.Timer
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSupervisor(cfg model.AgentConfig, opts Options, out chan<- model.HubEvent, logger *slog.Logger) *Supervisor {
	def := DefaultOptions()
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = def.ReconnectDelay
	}
	if opts.MaxJitter < 0 {
		opts.MaxJitter = 0
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = def.ReadLimit
	}
	return &Supervisor{
		cfg:     cfg,
		opts:    opts,
		out:     out,
		logger:  logger.With("agent_id", cfg.ID),
		now:     time.Now,
		randSrc: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Supervisor) Config() model.AgentConfig {
	return s.cfg
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the connect loop. It is a no-op unless the supervisor is idle.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateIdle || s.done != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(runCtx)
}

// Stop is terminal: it cancels a pending reconnect, closes the connection and
// waits for the loop to exit. No event is emitted once Stop returns.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.logger.Info("agent supervisor stopped")
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	for {
		s.attempt(ctx)
		if ctx.Err() != nil {
			return
		}

		wait, ok := s.scheduleReconnect()
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-wait:
			s.mu.Lock()
			s.timer = nil
			s.mu.Unlock()
		}
	}
}

// scheduleReconnect arms the reconnect timer. While a timer is pending it returns
// that timer's channel instead of creating another one.
func (s *Supervisor) scheduleReconnect() (<-chan time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return nil, false
	}
	if s.timer != nil {
		return s.timer.C, true
	}
	wait := s.opts.ReconnectDelay + s.jitter()
	s.timer = time.NewTimer(wait)
	metrics.AgentReconnects.WithLabelValues(s.cfg.ID).Inc()
	s.logger.Info("agent reconnect scheduled", "retry_in", wait)
	return s.timer.C, true
}

func (s *Supervisor) attempt(ctx context.Context) {
	if !s.transition(ctx, StateConnecting) {
		return
	}
	s.logger.Info("agent connecting", "url", s.cfg.URL)

	conn, err := s.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("agent dial failed", "error", err)
		s.transition(ctx, StateError)
		return
	}
	if !s.transition(ctx, StateConnected) {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
		return
	}
	s.logger.Info("agent connected")

	err = s.serve(ctx, conn)
	if ctx.Err() != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
		return
	}

	if websocket.CloseStatus(err) != -1 || errors.Is(err, io.EOF) {
		s.logger.Info("agent connection closed", "reason", err)
		s.transition(ctx, StateClosed)
	} else {
		s.logger.Warn("agent connection error", "error", err)
		s.transition(ctx, StateError)
	}
	_ = conn.CloseNow()
}

func (s *Supervisor) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", s.cfg.URL, err)
	}
	conn.SetReadLimit(s.opts.ReadLimit)
	return conn, nil
}

// serve reads frames until the connection fails. A failed ping tears the read down.
func (s *Supervisor) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if s.opts.PingInterval > 0 {
		go s.pingLoop(connCtx, cancel, conn)
	}

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			if cause := context.Cause(connCtx); cause != nil && ctx.Err() == nil {
				return cause
			}
			return err
		}
		s.handleMessage(ctx, data)
	}
}

func (s *Supervisor) pingLoop(ctx context.Context, cancel context.CancelCauseFunc, conn *websocket.Conn) {
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, s.opts.PingInterval)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil && ctx.Err() == nil {
				cancel(fmt.Errorf("ping agent: %w", err))
				return
			}
		}
	}
}

func (s *Supervisor) handleMessage(ctx context.Context, data []byte) {
	in, err := Decode(data)
	switch {
	case errors.Is(err, ErrUnknownType):
		s.logger.Debug("ignoring agent message", "error", err)
		metrics.InboundDropped.WithLabelValues(s.cfg.ID, "unknown_type").Inc()
		return
	case err != nil:
		s.logger.Warn("dropping malformed agent message", "error", err, "bytes", len(data))
		metrics.InboundDropped.WithLabelValues(s.cfg.ID, "malformed").Inc()
		return
	}

	switch in.Type {
	case model.MessageTypeStatsBatch:
		s.logger.Debug("stats batch received", "sequence", string(in.Batch.Sequence), "containers", in.Batch.Containers)
		s.emit(ctx, model.NewStatsEvent(s.cfg, in.Raw, in.Batch, s.now()))
	case model.MessageTypeAgentStatus:
		s.transition(ctx, StateConnected)
	}
}

// transition moves the state machine and emits the matching status event.
// It refuses moves out of stopped and moves the state graph does not allow.
func (s *Supervisor) transition(ctx context.Context, next State) bool {
	s.mu.Lock()
	if !s.state.canTransition(next) {
		prev := s.state
		s.mu.Unlock()
		if prev != StateStopped {
			s.logger.Debug("rejected state transition", "from", prev.String(), "to", next.String())
		}
		return false
	}
	s.state = next
	s.mu.Unlock()

	s.emit(ctx, model.NewStatusEvent(s.cfg, next.Status(), s.now()))
	return true
}

func (s *Supervisor) emit(ctx context.Context, ev model.HubEvent) {
	if ctx.Err() != nil {
		return
	}
	select {
	case s.out <- ev:
	case <-ctx.Done():
	}
}

func (s *Supervisor) jitter() time.Duration {
	if s.opts.MaxJitter == 0 {
		return 0
	}
	return time.Duration(s.randSrc.Int63n(int64(s.opts.MaxJitter)))
}
