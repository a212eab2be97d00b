// Package redis persists safety.Gate HealthState snapshots to Redis, so a host process can
// restore a session's health after a restart instead of resuming at a clean HEALTHY score.
// It is grounded on the direct *redis.Client usage in goa-ai's registry package: a thin
// wrapper holding a *redis.Client and a key prefix, one operation per verb.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tripwire-kernel/kernel/agentevent"
)

const defaultKeyPrefix = "tripwire:health:"

// Store persists and restores HealthState snapshots keyed by session ID.
type Store struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix overrides the default "tripwire:health:" key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithTTL sets an expiration on stored snapshots. Zero (the default) means no expiration.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// NewStore constructs a Store backed by client.
func NewStore(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, keyPrefix: defaultKeyPrefix}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

func (s *Store) key(sessionID string) string {
	return s.keyPrefix + sessionID
}

// Save writes health as the current snapshot for sessionID, overwriting any prior value.
func (s *Store) Save(ctx context.Context, sessionID string, health agentevent.HealthState) error {
	payload, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("redis: marshal health state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: save health state for %q: %w", sessionID, err)
	}
	return nil
}

// Load reads the current HealthState snapshot for sessionID. The second return value is
// false if no snapshot exists yet.
func (s *Store) Load(ctx context.Context, sessionID string) (agentevent.HealthState, bool, error) {
	payload, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err == redis.Nil {
		return agentevent.HealthState{}, false, nil
	}
	if err != nil {
		return agentevent.HealthState{}, false, fmt.Errorf("redis: load health state for %q: %w", sessionID, err)
	}
	var health agentevent.HealthState
	if err := json.Unmarshal(payload, &health); err != nil {
		return agentevent.HealthState{}, false, fmt.Errorf("redis: unmarshal health state: %w", err)
	}
	return health, true, nil
}

// Delete removes any stored snapshot for sessionID, used by a host's reset() to avoid
// resurrecting stale health on the next Load.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis: delete health state for %q: %w", sessionID, err)
	}
	return nil
}
