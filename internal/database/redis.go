package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"emphealth-backend/pkg/config"
	"emphealth-backend/pkg/logger"
	"emphealth-backend/pkg/metrics"
)

// ErrRedisDegraded is returned by Safe* operations while Redis is unreachable
var ErrRedisDegraded = errors.New("redis is in degraded mode")

// RedisClient wraps Redis client with degraded mode support
type RedisClient struct {
	Client         *redis.Client
	degradedMode   bool
	degradedModeMu sync.RWMutex
	healthCheckMu  sync.Mutex
	metrics        *metrics.Metrics
}

// NewRedisDB creates a new Redis client from config with degraded mode support
func NewRedisDB(cfg config.RedisConfig, m *metrics.Metrics) *RedisClient {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		DialTimeout:  cfg.Timeout,
	})
	return NewRedisClient(client, m)
}

// NewRedisClient wraps an existing go-redis client
func NewRedisClient(client *redis.Client, m *metrics.Metrics) *RedisClient {
	return &RedisClient{Client: client, metrics: m}
}

// Close closes the Redis client connection
func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// StartHealthCheck starts a background goroutine that periodically checks Redis health
func (r *RedisClient) StartHealthCheck(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = r.HealthCheck(ctx)
			}
		}
	}()
}

// IsDegraded returns true if Redis is in degraded mode
func (r *RedisClient) IsDegraded() bool {
	r.degradedModeMu.RLock()
	defer r.degradedModeMu.RUnlock()
	return r.degradedMode
}

// SetDegraded forces the degraded state, normally driven by HealthCheck
func (r *RedisClient) SetDegraded(degraded bool) {
	r.degradedModeMu.Lock()
	defer r.degradedModeMu.Unlock()

	if r.degradedMode == degraded {
		return
	}
	r.degradedMode = degraded
	r.metrics.SetRedisDegraded(degraded)
	if degraded {
		logger.Warn("Redis entered degraded mode")
	} else {
		logger.Info("Redis recovered from degraded mode")
	}
}

// HealthCheck pings Redis and updates degraded mode.
// Concurrent checks are serialized.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	r.healthCheckMu.Lock()
	defer r.healthCheckMu.Unlock()

	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := r.Client.Ping(healthCtx).Err(); err != nil {
		r.SetDegraded(true)
		return fmt.Errorf("redis health check failed: %w", err)
	}

	r.SetDegraded(false)
	return nil
}

func (r *RedisClient) skip(operation string) error {
	r.metrics.RecordRedisFallback(operation)
	logger.Debug("Redis operation skipped", zap.String("operation", operation))
	return fmt.Errorf("%w, %s skipped", ErrRedisDegraded, operation)
}

// SafeGet performs a GET operation with degraded mode handling
func (r *RedisClient) SafeGet(ctx context.Context, key string) *redis.StringCmd {
	if r.IsDegraded() {
		return redis.NewStringResult("", r.skip("get"))
	}
	return r.Client.Get(ctx, key)
}

// SafeHGetAll performs an HGETALL operation with degraded mode handling
func (r *RedisClient) SafeHGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	if r.IsDegraded() {
		return redis.NewMapStringStringResult(nil, r.skip("hgetall"))
	}
	return r.Client.HGetAll(ctx, key)
}

// SafeSRem performs a SREM operation with degraded mode handling
func (r *RedisClient) SafeSRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, r.skip("srem"))
	}
	return r.Client.SRem(ctx, key, members...)
}

// SafeSMembers performs a SMEMBERS operation with degraded mode handling
func (r *RedisClient) SafeSMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	if r.IsDegraded() {
		return redis.NewStringSliceResult([]string{}, r.skip("smembers"))
	}
	return r.Client.SMembers(ctx, key)
}

// SafeSCard performs a SCARD operation with degraded mode handling
func (r *RedisClient) SafeSCard(ctx context.Context, key string) *redis.IntCmd {
	if r.IsDegraded() {
		return redis.NewIntResult(0, r.skip("scard"))
	}
	return r.Client.SCard(ctx, key)
}

// SafeTxPipelined runs fn in a MULTI/EXEC pipeline with degraded mode handling
func (r *RedisClient) SafeTxPipelined(ctx context.Context, operation string, fn func(redis.Pipeliner) error) error {
	if r.IsDegraded() {
		return r.skip(operation)
	}
	_, err := r.Client.TxPipelined(ctx, fn)
	return err
}
