package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// managedTLSSuffixes are hosts of managed Redis providers that require TLS;
// plain redis:// URLs pointing at them are rewritten to rediss://.
var managedTLSSuffixes = []string{
	".upstash.io",
	".redns.redis-cloud.com",
	".cache.amazonaws.com",
}

// Redis is the distributed backend. Every operation degrades on failure: a
// failed Get is a miss, a failed Set is a no-op, never an error to callers.
type Redis struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// NewRedis connects the distributed backend. keyPrefix scopes Clear to this
// instance's keys.
func NewRedis(rawURL, keyPrefix string, poolSize int, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(rewriteTLSURL(rawURL))
	if err != nil {
		return nil, err
	}
	opts.PoolSize = poolSize
	opts.ConnMaxIdleTime = 30 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	r := &Redis{
		client:    client,
		logger:    logger,
		keyPrefix: keyPrefix,
	}
	go r.healthLoop()

	return r, nil
}

// rewriteTLSURL upgrades the scheme when the host belongs to a provider that
// only serves TLS.
func rewriteTLSURL(rawURL string) string {
	if !strings.HasPrefix(rawURL, "redis://") {
		return rawURL
	}
	for _, suffix := range managedTLSSuffixes {
		if strings.Contains(rawURL, suffix) {
			return "rediss://" + strings.TrimPrefix(rawURL, "redis://")
		}
	}
	return rawURL
}

func (r *Redis) healthLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.client.Ping(ctx).Err(); err != nil {
			r.logger.Warn("redis health check failed", zap.Error(err))
		}
		cancel()
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		r.misses.Add(1)
		return nil, false
	}
	if err != nil {
		r.logger.Warn("redis get failed", zap.String("key", key), zap.Error(err))
		r.misses.Add(1)
		return nil, false
	}

	r.hits.Add(1)
	return val, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logger.Warn("redis set failed", zap.String("key", key), zap.Error(err))
		return
	}
	r.sets.Add(1)
}

func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logger.Warn("redis delete failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) Exists(ctx context.Context, key string) bool {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		r.logger.Warn("redis exists failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return n > 0
}

// Clear removes only this instance's keys, iterating by prefix.
func (r *Redis) Clear(ctx context.Context) {
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			r.logger.Warn("redis clear delete failed", zap.String("key", iter.Val()), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("redis clear scan failed", zap.Error(err))
	}
}

func (r *Redis) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	size := 0
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		size++
	}

	return Stats{
		Hits:   r.hits.Load(),
		Misses: r.misses.Load(),
		Sets:   r.sets.Load(),
		Size:   size,
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
