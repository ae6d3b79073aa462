// Package event carries lifecycle notifications out of the engine.
// Emission is fire-and-forget: the notification and recommendation-cache
// collaborators subscribe to the Redis channels, and a delivery failure never
// affects the transition that produced the event.
package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event types published by the engine.
const (
	RequestCreated   = "request.created"
	RequestAccepted  = "request.accepted"
	RequestDenied    = "request.denied"
	RequestWithdrawn = "request.withdrawn"
	RequestExpired   = "request.expired"
	JobCreated       = "job.created"
	JobStatusChanged = "job.statusChanged"
)

// Emitter publishes engine events. Implementations must never block the
// caller and must never return delivery failures into the transition path.
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload map[string]any)
}

const publishTimeout = 5 * time.Second

// RedisEmitter publishes events as JSON on a Redis pub/sub channel per event
// type.
type RedisEmitter struct {
	client *redis.Client
}

// NewRedisEmitter creates a RedisEmitter from a Redis URL.
func NewRedisEmitter(redisURL string) (*RedisEmitter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisEmitter{client: redis.NewClient(opts)}, nil
}

// NewRedisEmitterFromClient wraps an existing client (shared with the cache).
func NewRedisEmitterFromClient(client *redis.Client) *RedisEmitter {
	return &RedisEmitter{client: client}
}

// Emit marshals the payload and publishes it in the background. Failures are
// logged and dropped.
func (e *RedisEmitter) Emit(ctx context.Context, eventType string, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("marshal event payload failed", "event", eventType, "err", err)
		return
	}

	// Detach from the request context so a client disconnect after commit
	// does not swallow the event.
	pubCtx := context.WithoutCancel(ctx)
	go func() {
		pubCtx, cancel := context.WithTimeout(pubCtx, publishTimeout)
		defer cancel()
		if err := e.client.Publish(pubCtx, eventType, body).Err(); err != nil {
			slog.Warn("publish event failed", "event", eventType, "err", err)
		}
	}()
}

func (e *RedisEmitter) Close() error {
	return e.client.Close()
}

// NopEmitter drops all events. Used in tests and when Redis is not configured.
type NopEmitter struct{}

func (NopEmitter) Emit(_ context.Context, _ string, _ map[string]any) {}

var (
	_ Emitter = (*RedisEmitter)(nil)
	_ Emitter = NopEmitter{}
)
