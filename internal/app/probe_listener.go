package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	probeWriteTimeout = 2 * time.Second
	probeMaxBackoff   = time.Second
)

func (a *App) runProbeListener(ctx context.Context) error {
	addr := strings.TrimSpace(a.cfg.ProbeListenAddr)
	if addr == "" {
		return fmt.Errorf("empty probe listen address")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen probe endpoint %s: %w", addr, err)
	}
	a.logger.Info("probe endpoint listening", "addr", ln.Addr().String())
	return serveProbe(ctx, ln, a.health.ProbeLine)
}

// serveProbe writes reply() to every accepted connection and hangs up. Temporary
// accept failures back off up to probeMaxBackoff.
func serveProbe(ctx context.Context, ln net.Listener, reply func() string) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer ln.Close()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		switch {
		case err == nil:
			backoff = 0
			go answerProbe(conn, reply())
			continue
		case ctx.Err() != nil, errors.Is(err, net.ErrClosed):
			return nil
		}

		var ne net.Error
		if !errors.As(err, &ne) || !ne.Timeout() {
			return fmt.Errorf("accept probe endpoint %s: %w", ln.Addr(), err)
		}
		backoff = min(max(2*backoff, 50*time.Millisecond), probeMaxBackoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

func answerProbe(conn net.Conn, line string) {
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(probeWriteTimeout))
	_, _ = conn.Write([]byte(line))
}
