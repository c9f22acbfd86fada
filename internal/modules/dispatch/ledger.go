// README: Reset ledger deduplicating scheduled pool resets (Redis SET NX, or in-process).
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ecoshare/internal/clock"
	"ecoshare/internal/types"
)

// ResetLedger records that a pool reset is already scheduled for a ride, so a
// redelivered trigger does not schedule a second one.
type ResetLedger interface {
	// Claim reports true for the first caller until Release or ttl expiry.
	Claim(ctx context.Context, rideID types.ID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, rideID types.ID) error
}

const resetKeyPrefix = "dispatch:ride:%s:reset_pending"

type RedisLedger struct {
	redis *redis.Client
}

func NewRedisLedger(redis *redis.Client) *RedisLedger {
	return &RedisLedger{redis: redis}
}

func (l *RedisLedger) Claim(ctx context.Context, rideID types.ID, ttl time.Duration) (bool, error) {
	ok, err := l.redis.SetNX(ctx, resetKey(rideID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim reset for ride %s: %w", rideID, err)
	}
	return ok, nil
}

func (l *RedisLedger) Release(ctx context.Context, rideID types.ID) error {
	return l.redis.Del(ctx, resetKey(rideID)).Err()
}

func resetKey(rideID types.ID) string {
	return fmt.Sprintf(resetKeyPrefix, string(rideID))
}

// MemoryLedger is the single-process ledger used without Redis.
type MemoryLedger struct {
	mu      sync.Mutex
	clock   clock.Clock
	expires map[types.ID]time.Time
}

func NewMemoryLedger(clk clock.Clock) *MemoryLedger {
	return &MemoryLedger{clock: clk, expires: make(map[types.ID]time.Time)}
}

func (l *MemoryLedger) Claim(_ context.Context, rideID types.ID, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if exp, ok := l.expires[rideID]; ok && now.Before(exp) {
		return false, nil
	}
	l.expires[rideID] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, rideID types.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.expires, rideID)
	return nil
}
