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

const (
	blacklistKeyPattern = "blacklist:%s"
	blacklistIndexKey   = "blacklist:index"
)

// BlacklistManager maintains the shared set of denied keys. Each entry is a
// value key with its own TTL plus a member in an index set; the index is
// defensive double-bookkeeping, swept by the janitor, because set
// membership does not expire when the value key does.
type BlacklistManager struct {
	cache  *cache.Cache
	logger *logrus.Logger
}

func NewBlacklistManager(cache *cache.Cache, logger *logrus.Logger) *BlacklistManager {
	return &BlacklistManager{cache: cache, logger: logger}
}

func (m *BlacklistManager) Add(ctx context.Context, key string, duration time.Duration) error {
	pipe := m.cache.Client().TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(blacklistKeyPattern, key), "1", duration)
	pipe.SAdd(ctx, blacklistIndexKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to blacklist %s: %w", key, err)
	}
	return nil
}

func (m *BlacklistManager) Remove(ctx context.Context, key string) error {
	pipe := m.cache.Client().TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(blacklistKeyPattern, key))
	pipe.SRem(ctx, blacklistIndexKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove %s from blacklist: %w", key, err)
	}
	return nil
}

// IsBlacklisted reports membership and the remaining ban. Store faults
// report not-blacklisted: the fail-open policy extends to punitive state.
func (m *BlacklistManager) IsBlacklisted(ctx context.Context, key string) (bool, time.Duration) {
	ttl, err := m.cache.Client().PTTL(ctx, fmt.Sprintf(blacklistKeyPattern, key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		m.logger.WithError(err).WithField("key", key).Error("blacklist lookup failed, failing open")
		return false, 0
	}
	return ttl > 0, ttl
}

// Count returns the number of live blacklist entries.
func (m *BlacklistManager) Count(ctx context.Context) (int64, error) {
	members, err := m.cache.Client().SMembers(ctx, blacklistIndexKey).Result()
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}
	pipe := m.cache.Client().Pipeline()
	cmds := make([]*redis.IntCmd, len(members))
	for i, member := range members {
		cmds[i] = pipe.Exists(ctx, fmt.Sprintf(blacklistKeyPattern, member))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	var count int64
	for _, cmd := range cmds {
		if cmd.Val() == 1 {
			count++
		}
	}
	return count, nil
}

// Sweep evicts index members whose backing entry already expired. The sweep
// is idempotent, so concurrent janitors on different instances are
// harmless.
func (m *BlacklistManager) Sweep(ctx context.Context) (int, error) {
	members, err := m.cache.Client().SMembers(ctx, blacklistIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan blacklist index: %w", err)
	}
	evicted := 0
	for _, member := range members {
		exists, err := m.cache.Client().Exists(ctx, fmt.Sprintf(blacklistKeyPattern, member)).Result()
		if err != nil {
			return evicted, err
		}
		if exists == 0 {
			if err := m.cache.Client().SRem(ctx, blacklistIndexKey, member).Err(); err != nil {
				return evicted, err
			}
			evicted++
		}
	}
	return evicted, nil
}

// StartJanitor sweeps on a fixed interval until ctx is cancelled.
func (m *BlacklistManager) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				evicted, err := m.Sweep(ctx)
				if err != nil {
					m.logger.WithError(err).Error("blacklist sweep failed")
					continue
				}
				if evicted > 0 {
					m.logger.WithField("evicted", evicted).Debug("blacklist janitor evicted stale entries")
				}
			}
		}
	}()
}
