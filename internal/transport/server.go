package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docker-stats-hub/internal/model"
	"docker-stats-hub/internal/session"
)

// Hub is what the observer-facing servers read from.
type Hub interface {
	session.Source
	Statuses() []model.AgentState
	History(agentID string) ([]model.CPUSample, bool)
}

// HealthReporter backs GET /healthz.
type HealthReporter interface {
	Healthy() bool
	Snapshot() map[string]any
}

type Options struct {
	Addr          string
	KeepAlive     time.Duration
	SessionBuffer int
	// WriteTimeout bounds a single event write to one observer.
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Addr:            ":8080",
		KeepAlive:       15 * time.Second,
		SessionBuffer:   256,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server serves the SSE event stream, the JSON API, health and metrics.
type Server struct {
	hub      Hub
	health   HealthReporter
	logger   *slog.Logger
	opts     Options
	sessions *tracker
	srv      *http.Server
}

func NewServer(hub Hub, health HealthReporter, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		hub:      hub,
		health:   health,
		logger:   logger,
		opts:     opts,
		sessions: newTracker(),
	}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	// Shutdown waits for handlers, and SSE handlers only return once their
	// session is gone.
	s.srv.RegisterOnShutdown(s.sessions.closeAll)
	return s
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stream/agents", s.handleStream)
	mux.Handle("GET /api/agents", instrument("/api/agents", s.handleAgents))
	mux.Handle("GET /api/agents/{id}/history", instrument("/api/agents/{id}/history", s.handleHistory))
	mux.Handle("GET /healthz", instrument("/healthz", s.handleHealth))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Sessions returns the number of attached SSE observers.
func (s *Server) Sessions() int {
	return s.sessions.len()
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, l)
}

func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		timeout := s.opts.ShutdownTimeout
		if timeout <= 0 {
			timeout = DefaultOptions().ShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown incomplete", "error", err)
			_ = s.srv.Close()
		}
	}()

	s.logger.Info("http server listening", "addr", l.Addr().String())
	if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	<-stopped
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	tr := newSSETransport(w, s.opts.WriteTimeout)
	if err := tr.open(); err != nil {
		s.logger.Warn("sse open failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	sess := session.New(s.hub, tr, session.Options{
		Kind:      "sse",
		KeepAlive: s.opts.KeepAlive,
		Buffer:    s.opts.SessionBuffer,
	}, s.logger)
	s.sessions.add(sess)
	defer s.sessions.remove(sess)

	if err := sess.Run(r.Context()); err != nil {
		s.logger.Info("sse observer dropped", "session_id", sess.ID, "remote", r.RemoteAddr, "error", err)
	}
}
