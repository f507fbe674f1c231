package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devpulse-io/devpulse/pkg/track"
)

// scanBatch bounds how many keys each SCAN iteration asks for, so a
// large keyspace never stalls the backend the way a blocking KEYS
// listing would.
const scanBatch = 100

// RedisStore is the remote session cache. One key per user, value is the
// JSON array of that user's sessions, refreshed with a TTL on every
// write.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
	closed bool
}

// RedisOption configures RedisStore behavior.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the key namespace. Default: "sessions:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisStore) {
		r.prefix = prefix
	}
}

// WithTTL sets how long a stored session set lives without being
// refreshed. Default: DefaultTTL.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *RedisStore) {
		r.ttl = ttl
	}
}

// NewRedisStore creates a Redis-backed session cache on an existing
// client.
func NewRedisStore(client *redis.Client, logger *slog.Logger, opts ...RedisOption) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	r := &RedisStore{
		client: client,
		prefix: "sessions:",
		ttl:    DefaultTTL,
		logger: logger.With("component", "redis_cache"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisStore) key(userID string) string {
	return r.prefix + userID
}

// Save stores the user's session set as a JSON array with the configured
// TTL.
func (r *RedisStore) Save(ctx context.Context, userID string, sessions []track.Session) error {
	if r.closed {
		return ErrStoreClosed{}
	}

	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("marshal sessions for %s: %w", userID, err)
	}
	return r.client.Set(ctx, r.key(userID), data, r.ttl).Err()
}

// Load retrieves the user's session set. A missing key means no prior
// state, not an error.
func (r *RedisStore) Load(ctx context.Context, userID string) ([]track.Session, bool, error) {
	if r.closed {
		return nil, false, ErrStoreClosed{}
	}

	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var sessions []track.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, false, fmt.Errorf("unmarshal sessions for %s: %w", userID, err)
	}
	return sessions, true, nil
}

// LoadAll scans the key namespace iteratively and decodes every stored
// session set. Entries that fail to decode are skipped with a warning,
// never fatal.
func (r *RedisStore) LoadAll(ctx context.Context) (map[string][]track.Session, error) {
	if r.closed {
		return nil, ErrStoreClosed{}
	}

	out := make(map[string][]track.Session)
	iter := r.client.Scan(ctx, 0, r.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		userID := strings.TrimPrefix(key, r.prefix)

		data, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // expired between scan and get
			}
			return nil, err
		}

		var sessions []track.Session
		if err := json.Unmarshal(data, &sessions); err != nil {
			r.logger.Warn("skipping malformed cache entry",
				"key", key,
				"error", err)
			continue
		}
		out[userID] = sessions
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the user's session set.
func (r *RedisStore) Delete(ctx context.Context, userID string) error {
	if r.closed {
		return ErrStoreClosed{}
	}
	return r.client.Del(ctx, r.key(userID)).Err()
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}
