package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docker-stats-hub/internal/config"
	"docker-stats-hub/internal/hub"
	"docker-stats-hub/internal/relay"
	"docker-stats-hub/internal/stream"
	"docker-stats-hub/internal/transport"
)

type App struct {
	cfg    config.Config
	logger *slog.Logger
	hub    *hub.Hub
	http   *transport.Server
	grpc   *transport.GRPCServer
	relay  *relay.Relay
	health *HealthStatus
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	h := hub.New(cfg.Agents, hub.Options{
		Stream: stream.Options{
			ReconnectDelay: cfg.ReconnectDelay,
			MaxJitter:      cfg.ReconnectMaxJitter,
			DialTimeout:    cfg.DialTimeout,
			PingInterval:   cfg.UpstreamPingInterval,
			ReadLimit:      cfg.UpstreamReadLimit,
		},
		EventBuffer:       cfg.EventBuffer,
		HistoryWindow:     cfg.HistoryWindow,
		HistoryMaxSamples: cfg.HistoryMaxSamples,
	}, logger)

	a := &App{
		cfg:    cfg,
		logger: logger,
		hub:    h,
		health: NewHealthStatus(len(cfg.Agents)),
	}

	if cfg.RedisAddr != "" {
		r, err := relay.NewRedis(ctx, relay.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.RedisChannel,
			TTL:      cfg.RedisStatusTTL,
			Buffer:   cfg.EventBuffer,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("redis relay: %w", err)
		}
		a.relay = r
		a.health.EnableRelay()
	}

	a.http = transport.NewServer(h, a.health, transport.Options{
		Addr:            cfg.ListenAddr,
		KeepAlive:       cfg.KeepAliveInterval,
		SessionBuffer:   cfg.SessionBuffer,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: cfg.ShutdownTimeout / 2,
	}, logger)

	if cfg.GRPCListenAddr != "" {
		a.grpc = transport.NewGRPCServer(h, transport.GRPCOptions{
			Addr:            cfg.GRPCListenAddr,
			KeepAlive:       cfg.KeepAliveInterval,
			SessionBuffer:   cfg.SessionBuffer,
			ShutdownTimeout: cfg.ShutdownTimeout / 2,
		}, logger)
	}
	return a, nil
}

func (a *App) Hub() *hub.Hub {
	return a.hub
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives. A second signal,
// or the shutdown timeout, forces the exit.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting statshub", "agents", len(a.cfg.Agents), "listen_addr", a.cfg.ListenAddr, "grpc_listen_addr", a.cfg.GRPCListenAddr)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	a.shutdown()

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("statshub stopped")
	return nil
}

// BuildLogger returns the process logger for the configured level and format.
func BuildLogger(cfg config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(w, hOpts))
	}
	return slog.New(slog.NewTextHandler(w, hOpts))
}
