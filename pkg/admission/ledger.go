package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/passhub/gatekeeper/pkg/cache"
	"github.com/passhub/gatekeeper/pkg/infra/breaker"
	"github.com/passhub/gatekeeper/pkg/infra/prometheus"
)

const ledgerKeyPattern = "costledger:%s:%s"

// chargeScript spends cost points from the daily budget in one atomic
// round trip. A charge that would overdraw the budget is rolled back inside
// the script so an expensive request cannot burn the remaining budget of a
// denied caller.
var chargeScript = redis.NewScript(`
local consumed = redis.call('INCRBY', KEYS[1], ARGV[1])
if consumed == tonumber(ARGV[1]) then
  redis.call('EXPIRE', KEYS[1], ARGV[3])
end
if consumed > tonumber(ARGV[2]) then
  redis.call('DECRBY', KEYS[1], ARGV[1])
  return {0, tonumber(ARGV[2]) - consumed + tonumber(ARGV[1]), redis.call('TTL', KEYS[1])}
end
return {1, tonumber(ARGV[2]) - consumed, redis.call('TTL', KEYS[1])}
`)

// CostLedger meters heterogeneous-cost operations against a per-key daily
// point budget sized by tier. The record key carries the UTC date and
// expires shortly after the boundary, so the reset needs no sweeper.
type CostLedger struct {
	cache        *cache.Cache
	breaker      breaker.CircuitBreaker
	logger       *logrus.Logger
	timeProvider func() time.Time
}

func NewCostLedger(
	cache *cache.Cache,
	storeBreaker breaker.CircuitBreaker,
	logger *logrus.Logger,
	timeProvider func() time.Time,
) *CostLedger {
	if timeProvider == nil {
		timeProvider = time.Now
	}
	return &CostLedger{
		cache:        cache,
		breaker:      storeBreaker,
		logger:       logger,
		timeProvider: timeProvider,
	}
}

// Charge spends cost points from key's daily budget. Fails open on store
// faults, like the consumption engine.
func (l *CostLedger) Charge(ctx context.Context, key string, dailyBudget, cost int64) Decision {
	if cost < 1 {
		cost = 1
	}
	now := l.timeProvider().UTC()
	midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	ledgerKey := fmt.Sprintf(ledgerKeyPattern, key, now.Format("20060102"))
	// Grace past midnight keeps the record inspectable briefly; the dated
	// key already guarantees a fresh budget at the boundary.
	ttl := int64(midnight.Sub(now)/time.Second) + 60

	var reply []interface{}
	err := l.breaker.Execute(func() error {
		res, err := chargeScript.Run(ctx, l.cache.Client(),
			[]string{ledgerKey}, cost, dailyBudget, ttl).Result()
		if err != nil {
			return err
		}
		values, ok := res.([]interface{})
		if !ok || len(values) != 3 {
			return fmt.Errorf("unexpected charge reply %v", res)
		}
		reply = values
		return nil
	})
	if err != nil {
		prometheus.StoreFailures.Inc()
		l.logger.WithError(err).WithField("key", key).Error("shared store unreachable, failing open")
		return Decision{
			Allowed:    true,
			Limit:      dailyBudget,
			Remaining:  dailyBudget,
			Reset:      midnight,
			FailedOpen: true,
		}
	}

	allowed, remaining := replyInt(reply[0]), replyInt(reply[1])
	if remaining < 0 {
		remaining = 0
	}
	decision := Decision{
		Allowed:   allowed == 1,
		Limit:     dailyBudget,
		Remaining: remaining,
		Reset:     midnight,
	}
	if !decision.Allowed {
		decision.RetryAfter = midnight.Sub(now)
	}
	return decision
}
