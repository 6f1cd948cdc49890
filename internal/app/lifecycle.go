package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"docker-stats-hub/internal/model"
)

func (a *App) run(ctx context.Context) error {
	if a.relay != nil {
		unsubscribe := a.hub.Subscribe(a.relay.Listen)
		defer unsubscribe()
	}
	a.hub.Start(ctx)
	a.health.SetHubRunning(true)
	a.refreshHealth(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.http.Run(gctx)
	})
	if a.grpc != nil {
		g.Go(func() error {
			return a.grpc.Run(gctx)
		})
	}
	if a.relay != nil {
		g.Go(func() error {
			return a.relay.Run(gctx)
		})
	}
	g.Go(func() error {
		return a.runHealthLoop(gctx)
	})
	if a.cfg.ProbeListenAddr != "" {
		g.Go(func() error {
			return a.runProbeListener(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(a.cfg.HealthInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			a.refreshHealth(ctx)
		}
	}
}

func (a *App) refreshHealth(ctx context.Context) {
	connected := 0
	for _, st := range a.hub.Statuses() {
		if st.Status == model.StatusConnected {
			connected++
		}
	}
	a.health.SetAgentsConnected(connected)
	a.health.MarkEvent(a.hub.LastEventAt())
	a.health.SetSessions("sse", a.http.Sessions())
	if a.grpc != nil {
		a.health.SetSessions("grpc", a.grpc.Sessions())
	}

	status := "ok"
	if a.relay != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := a.relay.Ping(pingCtx)
		cancel()
		a.health.SetRelayConnected(err == nil)
		if err != nil && ctx.Err() == nil {
			a.logger.Warn("redis relay health check failed", "error", err)
			status = "degraded"
		}
	}
	a.logger.Log(ctx, slog.LevelDebug, "hub health", "status", status, "snapshot", a.health.Snapshot())
}

func (a *App) shutdown() {
	a.hub.Stop()
	a.health.SetHubRunning(false)
	a.health.SetAgentsConnected(0)
}
