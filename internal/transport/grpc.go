package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/keepalive"

	"docker-stats-hub/internal/session"
)

const (
	EventServiceName  = "statshub.v1.EventService"
	StreamEventsRoute = "/" + EventServiceName + "/StreamEvents"
	codecName         = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return codecName
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// StreamRequest opens an event stream. It has no fields yet.
type StreamRequest struct{}

type EventServiceServer interface {
	StreamEvents(req *StreamRequest, stream grpc.ServerStream) error
}

var eventServiceDesc = grpc.ServiceDesc{
	ServiceName: EventServiceName,
	HandlerType: (*EventServiceServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       streamEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "statshub/v1/events.proto",
}

func streamEventsHandler(srv any, stream grpc.ServerStream) error {
	req := new(StreamRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(EventServiceServer).StreamEvents(req, stream)
}

type GRPCOptions struct {
	Addr          string
	KeepAlive     time.Duration
	SessionBuffer int
	// ShutdownTimeout bounds GracefulStop before streams are cut.
	ShutdownTimeout time.Duration
}

// GRPCServer streams the same JSON messages as the SSE endpoint over a gRPC
// server stream. Keep-alive is left to HTTP/2 pings.
type GRPCServer struct {
	hub      session.Source
	logger   *slog.Logger
	opts     GRPCOptions
	sessions *tracker
	server   *grpc.Server
}

func NewGRPCServer(hub session.Source, opts GRPCOptions, logger *slog.Logger) *GRPCServer {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	s := &GRPCServer{
		hub:      hub,
		logger:   logger,
		opts:     opts,
		sessions: newTracker(),
	}
	s.server = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    opts.KeepAlive,
			Timeout: opts.KeepAlive / 3,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	s.server.RegisterService(&eventServiceDesc, s)
	return s
}

func (s *GRPCServer) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, l)
}

func (s *GRPCServer) Serve(ctx context.Context, l net.Listener) error {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.sessions.closeAll()

		graceful := make(chan struct{})
		go func() {
			s.server.GracefulStop()
			close(graceful)
		}()
		select {
		case <-graceful:
		case <-time.After(s.opts.ShutdownTimeout):
			s.logger.Warn("grpc graceful stop timed out")
			s.server.Stop()
		}
	}()

	s.logger.Info("grpc server listening", "addr", l.Addr().String())
	if err := s.server.Serve(l); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve grpc: %w", err)
	}
	<-stopped
	s.logger.Info("grpc server stopped")
	return nil
}

func (s *GRPCServer) Sessions() int {
	return s.sessions.len()
}

func (s *GRPCServer) StreamEvents(_ *StreamRequest, stream grpc.ServerStream) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	sess := session.New(s.hub, &grpcTransport{stream: stream, cancel: cancel}, session.Options{
		Kind:   "grpc",
		Buffer: s.opts.SessionBuffer,
	}, s.logger)
	s.sessions.add(sess)
	defer s.sessions.remove(sess)

	if err := sess.Run(ctx); err != nil {
		s.logger.Info("grpc observer dropped", "session_id", sess.ID, "error", err)
		return err
	}
	return nil
}

// grpcTransport sends each message as a raw JSON document through the json codec.
type grpcTransport struct {
	stream grpc.ServerStream
	cancel context.CancelFunc
	closed atomic.Bool
}

func (t *grpcTransport) Send(_ context.Context, data []byte) error {
	if t.closed.Load() {
		return nil
	}
	return t.stream.SendMsg(json.RawMessage(data))
}

func (t *grpcTransport) KeepAlive(context.Context) error {
	return nil
}

// Close ends the handler's context; the stream finishes when the handler returns.
func (t *grpcTransport) Close() error {
	if t.closed.CompareAndSwap(false, true) {
		t.cancel()
	}
	return nil
}
