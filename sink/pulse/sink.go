// Package pulse publishes kernel telemetry (hooks.Event records) onto a goa.design/pulse
// stream backed by Redis, adapted from goa-ai's features/stream/pulse sink: the layering is
// the same (build a Redis client, wrap it in a Pulse stream client, hand the resulting Sink
// to the runtime as a subscriber), but the payload is a hooks.Event rather than a runtime
// stream event, and Close never influences a pipeline decision — this sink is a
// hooks.Subscriber, strictly downstream per spec.md §6.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/tripwire-kernel/kernel/hooks"
)

// Client exposes the subset of Pulse operations the sink needs, mirroring goa-ai's
// clients/pulse.Client but narrowed to Add, which is all a write-only telemetry sink
// requires.
type Client interface {
	Stream(name string) (Stream, error)
}

// Stream is the subset of a Pulse stream handle a telemetry sink needs.
type Stream interface {
	Add(ctx context.Context, event string, payload []byte) (string, error)
}

// NewClient constructs a Client backed by a Redis connection. StreamMaxLen bounds retained
// entries per stream; zero uses Pulse's defaults.
func NewClient(rdb *redis.Client, streamMaxLen int) (Client, error) {
	if rdb == nil {
		return nil, errors.New("pulse: redis client is required")
	}
	return &client{redis: rdb, maxLen: streamMaxLen}, nil
}

type client struct {
	redis  *redis.Client
	maxLen int
}

func (c *client) Stream(name string) (Stream, error) {
	if name == "" {
		return nil, errors.New("pulse: stream name is required")
	}
	var opts []streamopts.Stream
	if c.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(c.maxLen))
	}
	str, err := streaming.NewStream(name, c.redis, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulse: create stream: %w", err)
	}
	return &handle{stream: str}, nil
}

type handle struct {
	stream *streaming.Stream
}

func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse: add event: %w", err)
	}
	return id, nil
}

// envelope wraps a hooks.Event for transmission over a Pulse stream, mirroring goa-ai's
// stream envelope.
type envelope struct {
	Type      hooks.EventType `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   any             `json:"payload"`
}

// Sink publishes every hooks.Event it receives to a single named Pulse stream. It
// implements hooks.Subscriber.
type Sink struct {
	client   Client
	streamID string
}

// NewSink constructs a Sink publishing to the named Pulse stream.
func NewSink(client Client, streamID string) *Sink {
	return &Sink{client: client, streamID: streamID}
}

// HandleEvent implements hooks.Subscriber. It publishes event to the configured Pulse
// stream. A publish failure is returned to the bus, which logs it — per spec.md §6 the sink
// is strictly downstream and its failure never affects a decision already made.
func (s *Sink) HandleEvent(ctx context.Context, event hooks.Event) error {
	stream, err := s.client.Stream(s.streamID)
	if err != nil {
		return err
	}
	env := envelope{Type: event.Type(), Timestamp: event.Timestamp(), Payload: event}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pulse: marshal envelope: %w", err)
	}
	if _, err := stream.Add(ctx, string(event.Type()), payload); err != nil {
		return err
	}
	return nil
}
