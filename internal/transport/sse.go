package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// sseTransport writes one server-sent event per message on an open response.
type sseTransport struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
	now          func() time.Time

	mu     sync.Mutex
	closed atomic.Bool
}

func newSSETransport(w http.ResponseWriter, writeTimeout time.Duration) *sseTransport {
	return &sseTransport{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
		now:          time.Now,
	}
}

// open sends the stream headers and flushes them so the client sees the
// response start before the first event.
func (t *sseTransport) open() error {
	h := t.w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	t.w.WriteHeader(http.StatusOK)
	return t.flush()
}

func (t *sseTransport) Send(_ context.Context, data []byte) error {
	return t.write(func() error {
		_, err := fmt.Fprintf(t.w, "data: %s\n\n", data)
		return err
	})
}

func (t *sseTransport) KeepAlive(context.Context) error {
	return t.write(func() error {
		_, err := fmt.Fprintf(t.w, ": ping %d\n\n", t.now().UnixMilli())
		return err
	})
}

// Close only marks the transport; the response ends when the handler returns.
func (t *sseTransport) Close() error {
	t.closed.Store(true)
	return nil
}

func (t *sseTransport) write(fn func() error) error {
	if t.closed.Load() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return nil
	}

	if t.writeTimeout > 0 {
		err := t.rc.SetWriteDeadline(t.now().Add(t.writeTimeout))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if err := fn(); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return t.flush()
}

func (t *sseTransport) flush() error {
	if err := t.rc.Flush(); err != nil {
		return fmt.Errorf("flush event: %w", err)
	}
	return nil
}
