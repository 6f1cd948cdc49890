package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"docker-stats-hub/internal/metrics"
	"docker-stats-hub/internal/model"
)

type Options struct {
	Addr     string
	Password string
	DB       int
	// Channel receives every hub event as published JSON.
	Channel string
	// KeyPrefix namespaces the latest-value keys, e.g. <prefix>:status:<agent_id>.
	KeyPrefix string
	TTL       time.Duration
	Buffer    int
}

func DefaultOptions() Options {
	return Options{
		Channel:   "statshub:events",
		KeyPrefix: "statshub",
		TTL:       2 * time.Minute,
		Buffer:    1024,
	}
}

// store is the slice of Redis the relay writes to.
type store interface {
	Write(ctx context.Context, channel string, payload []byte, key string, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

type redisStore struct {
	client *redis.Client
}

// Write publishes payload and stores it under key in one round trip.
func (s redisStore) Write(ctx context.Context, channel string, payload []byte, key string, ttl time.Duration) error {
	pipe := s.client.Pipeline()
	pipe.Publish(ctx, channel, payload)
	if key != "" {
		pipe.Set(ctx, key, payload, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s redisStore) Close() error {
	return s.client.Close()
}

// Relay mirrors the hub's event stream into Redis: every event is published on
// one channel and the latest status and stats frame of each agent is kept
// under an expiring key. It never slows the hub down; events that do not fit
// its queue are dropped.
type Relay struct {
	store  store
	opts   Options
	logger *slog.Logger
	queue  chan model.HubEvent

	healthy atomic.Bool
	dropped atomic.Int64
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts Options, logger *slog.Logger) (*Relay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		MinIdleConns: 1,
		MaxRetries:   3,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return newRelay(redisStore{client: client}, opts, logger), nil
}

func newRelay(s store, opts Options, logger *slog.Logger) *Relay {
	def := DefaultOptions()
	if opts.Channel == "" {
		opts.Channel = def.Channel
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = def.KeyPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.Buffer <= 0 {
		opts.Buffer = def.Buffer
	}
	r := &Relay{
		store:  s,
		opts:   opts,
		logger: logger.With("component", "relay", "channel", opts.Channel),
		queue:  make(chan model.HubEvent, opts.Buffer),
	}
	r.healthy.Store(true)
	return r
}

// Listen is a hub listener.
func (r *Relay) Listen(ev model.HubEvent) {
	select {
	case r.queue <- ev:
	default:
		r.dropped.Add(1)
		metrics.RelayOperations.WithLabelValues("enqueue", "dropped").Inc()
	}
}

// Run writes queued events until ctx is cancelled, then closes the connection.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("redis relay started")
	defer func() {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("redis close failed", "error", err)
		}
		r.logger.Info("redis relay stopped", "dropped", r.dropped.Load())
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.queue:
			r.write(ctx, ev)
		}
	}
}

func (r *Relay) write(ctx context.Context, ev model.HubEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Warn("relay encode failed", "error", err, "type", ev.Type)
		metrics.RelayOperations.WithLabelValues("encode", "error").Inc()
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.store.Write(writeCtx, r.opts.Channel, payload, r.key(ev), r.opts.TTL); err != nil {
		if ctx.Err() != nil {
			return
		}
		if r.healthy.Swap(false) {
			r.logger.Warn("redis relay write failed", "error", err)
		}
		metrics.RelayOperations.WithLabelValues("write", "error").Inc()
		return
	}
	if !r.healthy.Swap(true) {
		r.logger.Info("redis relay recovered")
	}
	metrics.RelayOperations.WithLabelValues("write", "ok").Inc()
}

func (r *Relay) key(ev model.HubEvent) string {
	switch ev.Type {
	case model.EventAgentStatus:
		return fmt.Sprintf("%s:status:%s", r.opts.KeyPrefix, ev.AgentID)
	case model.EventContainerStats:
		return fmt.Sprintf("%s:stats:%s", r.opts.KeyPrefix, ev.AgentID)
	default:
		return ""
	}
}

// Ping checks the connection and updates Healthy.
func (r *Relay) Ping(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		r.healthy.Store(false)
		return fmt.Errorf("ping redis: %w", err)
	}
	r.healthy.Store(true)
	return nil
}

// Healthy reports whether the last write or ping succeeded.
func (r *Relay) Healthy() bool {
	return r.healthy.Load()
}

func (r *Relay) Dropped() int64 {
	return r.dropped.Load()
}
