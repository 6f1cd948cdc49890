package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Dial opens a plaintext client connection to a statshub gRPC endpoint.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", addr, err)
	}
	return conn, nil
}

// StreamEvents calls fn for every message of one event stream until the server
// ends it, ctx is cancelled or fn returns an error.
func StreamEvents(ctx context.Context, conn grpc.ClientConnInterface, fn func(json.RawMessage) error) error {
	desc := &eventServiceDesc.Streams[0]
	stream, err := conn.NewStream(ctx, desc, StreamEventsRoute, grpc.CallContentSubtype(codecName))
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	if err := stream.SendMsg(&StreamRequest{}); err != nil {
		return fmt.Errorf("send stream request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close send: %w", err)
	}

	for {
		var msg json.RawMessage
		if err := stream.RecvMsg(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("receive event: %w", err)
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}
