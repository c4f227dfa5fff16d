package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"panicker/internal/logging"
)

// RedisTier fronts Local with a shared Redis cache so multiple scanner
// instances can reuse candle windows and last prices. It degrades
// gracefully: once maxFailures consecutive operations fail, it marks itself
// unhealthy and GetJSON/SetJSON skip Redis, so callers fall back to Local/C1.
// There is no background health check: once checkEvery has passed since the
// last GetJSON attempt, the next operation tries Redis again, and a success
// marks the tier healthy. Grounded on the teacher's
// internal/cache.CacheService circuit-breaker-style degradation pattern.
type RedisTier struct {
	client *redis.Client
	log    logging.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	maxFailures  int
	lastCheck    time.Time
	checkEvery   time.Duration
}

// NewRedisTier builds a RedisTier against the given client.
func NewRedisTier(client *redis.Client, log logging.Logger) *RedisTier {
	t := &RedisTier{
		client:      client,
		log:         log,
		maxFailures: 3,
		checkEvery:  30 * time.Second,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	t.healthy = client.Ping(ctx).Err() == nil
	t.lastCheck = time.Now()
	return t
}

// IsHealthy reports the last observed health state without blocking.
func (t *RedisTier) IsHealthy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.healthy
}

func (t *RedisTier) recordFailure(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failureCount++
	if t.failureCount >= t.maxFailures && t.healthy {
		t.healthy = false
		t.log.WithError(err).Warn("redis tier degraded after repeated failures")
	}
}

func (t *RedisTier) recordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failureCount > 0 || !t.healthy {
		t.log.Info("redis tier recovered")
	}
	t.failureCount = 0
	t.healthy = true
}

func (t *RedisTier) shouldAttempt() bool {
	t.mu.RLock()
	healthy := t.healthy
	lastCheck := t.lastCheck
	t.mu.RUnlock()
	if healthy {
		return true
	}
	return time.Since(lastCheck) > t.checkEvery
}

// GetJSON reads key and unmarshals it into out. Returns ok=false on a cache
// miss or when the tier is degraded.
func (t *RedisTier) GetJSON(ctx context.Context, key string, out interface{}) (ok bool) {
	if !t.shouldAttempt() {
		return false
	}
	t.mu.Lock()
	t.lastCheck = time.Now()
	t.mu.Unlock()

	data, err := t.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		t.recordSuccess()
		return false
	}
	if err != nil {
		t.recordFailure(err)
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.recordFailure(err)
		return false
	}
	t.recordSuccess()
	return true
}

// SetJSON marshals value and writes it with the given TTL. Best-effort: a
// write failure degrades the tier but never errors to the caller, since the
// in-memory Local tier and C1 remain the source of truth.
func (t *RedisTier) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if !t.shouldAttempt() {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := t.client.Set(ctx, key, data, ttl).Err(); err != nil {
		t.recordFailure(err)
		return
	}
	t.recordSuccess()
}

// Close releases the underlying Redis connection pool.
func (t *RedisTier) Close() error {
	return t.client.Close()
}
