package cache

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures backend selection.
type Options struct {
	// RedisAddr is the host:port of the Redis backend. Empty means no
	// remote backend is configured and the in-memory store is used.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	// TTL for persisted session sets. Zero means DefaultTTL.
	TTL time.Duration
}

// pingTimeout bounds the startup reachability check.
const pingTimeout = 3 * time.Second

// Select constructs the session cache backend once at startup. When a
// Redis address is configured and reachable it returns the Redis store;
// otherwise it falls back permanently to the in-memory store. The
// fallback decision is made here once, never per call.
func Select(ctx context.Context, opts Options, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cache")

	if opts.RedisAddr == "" {
		logger.Info("no redis configured, using in-memory session cache")
		return NewMemoryStore()
	}

	redisOpts := &redis.Options{
		Addr:     opts.RedisAddr,
		Password: opts.RedisPassword,
		DB:       opts.RedisDB,
	}
	if opts.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, falling back to in-memory session cache",
			"addr", opts.RedisAddr,
			"error", err)
		_ = client.Close()
		return NewMemoryStore()
	}

	logger.Info("using redis session cache", "addr", opts.RedisAddr)

	storeOpts := []RedisOption{}
	if opts.TTL > 0 {
		storeOpts = append(storeOpts, WithTTL(opts.TTL))
	}
	return NewRedisStore(client, logger, storeOpts...)
}
