package limits

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"voicebridge/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const callCapKey = "voicebridge:active_calls"

// CallCap enforces the concurrent-call limit against Redis, so the cap
// holds across replicas. Without a Redis client it falls back to
// counting the calls this process admitted, which is correct for a
// single replica. It remembers which call ids it admitted; releasing a
// call that never acquired a slot is a no-op, which keeps double
// webhook deliveries from corrupting the counter.
type CallCap struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
	log   *slog.Logger

	mu   sync.Mutex
	held map[string]struct{}
}

func NewCallCap(rdb *redis.Client, limit int, maxCallDuration time.Duration, log *slog.Logger) *CallCap {
	if log == nil {
		log = slog.Default()
	}
	return &CallCap{
		rdb:   rdb,
		limit: limit,
		ttl:   maxCallDuration,
		log:   log,
		held:  make(map[string]struct{}),
	}
}

func (c *CallCap) Acquire(ctx context.Context, callID string) (bool, error) {
	if c.rdb == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.held) >= c.limit {
			return false, nil
		}
		c.held[callID] = struct{}{}
		return true, nil
	}
	ok, err := utils.AcquireConcurrencyCap(ctx, c.rdb, callCapKey, c.limit, c.ttl)
	if err != nil {
		return false, err
	}
	if ok {
		c.mu.Lock()
		c.held[callID] = struct{}{}
		c.mu.Unlock()
	}
	return ok, nil
}

func (c *CallCap) Release(ctx context.Context, callID string) {
	c.mu.Lock()
	_, mine := c.held[callID]
	if mine {
		delete(c.held, callID)
	}
	c.mu.Unlock()
	if !mine || c.rdb == nil {
		return
	}
	if err := utils.ReleaseConcurrencyCap(ctx, c.rdb, callCapKey); err != nil {
		c.log.Warn("call cap release failed", "call_sid", callID, "err", err)
	}
}

// Held reports how many slots this process currently holds.
func (c *CallCap) Held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.held)
}
