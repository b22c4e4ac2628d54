package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/passhub/gatekeeper/pkg/cache"
)

const violationKeyPattern = "ratelimit:violations:%s"

// PenaltyTracker counts consecutive violations per key and computes the
// progressive delay applied to repeat offenders. The counter decays only
// through TTL expiry, so sustained good behavior restores full speed.
type PenaltyTracker struct {
	cache      *cache.Cache
	logger     *logrus.Logger
	baseDelay  time.Duration
	maxDelay   time.Duration
	counterTTL time.Duration
}

func NewPenaltyTracker(
	cache *cache.Cache,
	logger *logrus.Logger,
	baseDelay, maxDelay, counterTTL time.Duration,
) *PenaltyTracker {
	return &PenaltyTracker{
		cache:      cache,
		logger:     logger,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		counterTTL: counterTTL,
	}
}

// RecordViolation bumps the key's violation counter, creating it with the
// bounded TTL when absent. INCR and EXPIRE travel in one transactional
// pipeline so concurrent denials across instances never lose a count.
func (t *PenaltyTracker) RecordViolation(ctx context.Context, key string) (int64, error) {
	violationKey := fmt.Sprintf(violationKeyPattern, key)
	pipe := t.cache.Client().TxPipeline()
	incr := pipe.Incr(ctx, violationKey)
	pipe.Expire(ctx, violationKey, t.counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to record violation: %w", err)
	}
	return incr.Val(), nil
}

// Violations returns the current consecutive violation count for a key.
func (t *PenaltyTracker) Violations(ctx context.Context, key string) (int64, error) {
	count, err := t.cache.Client().Get(ctx, fmt.Sprintf(violationKeyPattern, key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DelayFor computes min(baseDelay * 2^(count-1), maxDelay). The delay is
// non-decreasing in the violation count and bounded above by maxDelay.
func (t *PenaltyTracker) DelayFor(count int64) time.Duration {
	if count <= 0 {
		return 0
	}
	shift := count - 1
	// 2^30 * any base delay already exceeds every sane maxDelay.
	if shift > 30 {
		shift = 30
	}
	delay := t.baseDelay << uint(shift)
	if delay > t.maxDelay || delay < 0 {
		return t.maxDelay
	}
	return delay
}

// DelayBefore looks up the key's violation count and returns the penalty
// sleep owed before its next request. Store faults yield no delay.
func (t *PenaltyTracker) DelayBefore(ctx context.Context, key string) time.Duration {
	count, err := t.Violations(ctx, key)
	if err != nil {
		t.logger.WithError(err).WithField("key", key).Error("failed to read violation counter")
		return 0
	}
	return t.DelayFor(count)
}
