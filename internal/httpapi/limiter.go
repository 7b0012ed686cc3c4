package httpapi

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gnaritas/openclaw-advanced-voice/pkg/utils"
)

const (
	activeCallsKey = "voice:active_calls"

	// activeCallTTL bounds a leaked slot if the process dies mid-call. Phone
	// calls do not run for hours.
	activeCallTTL = 2 * time.Hour
)

// CallLimiter caps the number of concurrently bridged calls across all
// replicas sharing the redis instance.
type CallLimiter struct {
	rdb   *redis.Client
	limit int
}

func NewCallLimiter(rdb *redis.Client, limit int) *CallLimiter {
	return &CallLimiter{rdb: rdb, limit: limit}
}

// Acquire claims a call slot. False means the cap is reached and the call
// must be refused.
func (l *CallLimiter) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, activeCallsKey, l.limit, activeCallTTL)
}

func (l *CallLimiter) Release(ctx context.Context) {
	_ = utils.ReleaseConcurrencyCap(ctx, l.rdb, activeCallsKey)
}
