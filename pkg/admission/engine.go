package admission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/passhub/gatekeeper/pkg/cache"
	"github.com/passhub/gatekeeper/pkg/infra/breaker"
	"github.com/passhub/gatekeeper/pkg/infra/prometheus"
)

const (
	counterKeyPattern = "ratelimit:cnt:%s:%s"
	blockKeyPattern   = "ratelimit:blk:%s:%s"
)

// consumeScript performs the whole windowed consumption in one atomic round
// trip: refuse while a block is active, increment the window counter
// (creating it with the window TTL), and set the block key the moment the
// budget is exhausted. A read-then-write pair split across round trips
// would let two instances admit the same point twice.
//
// The exhaustion branch deletes the counter: from that moment the block key
// alone carries the denial, so a block shorter than the window still
// readmits the key on its first request after the block elapses instead of
// re-arming against the stale over-budget count.
var consumeScript = redis.NewScript(`
local blocked = redis.call('PTTL', KEYS[2])
if blocked > 0 then
  return {0, 0, blocked}
end
local count = redis.call('INCRBY', KEYS[1], ARGV[4])
if count == tonumber(ARGV[4]) then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
if count > tonumber(ARGV[1]) then
  redis.call('DEL', KEYS[1])
  redis.call('SET', KEYS[2], '1', 'EX', ARGV[3])
  return {0, 0, tonumber(ARGV[3]) * 1000}
end
return {1, tonumber(ARGV[1]) - count, redis.call('PTTL', KEYS[1])}
`)

// Engine is the admission decision core: a fixed-window counter with
// blocking over the shared store. All mutations are single atomic round
// trips; contention between instances is resolved by the store, not by
// locks.
type Engine struct {
	cache        *cache.Cache
	breaker      breaker.CircuitBreaker
	logger       *logrus.Logger
	timeProvider func() time.Time
}

type EngineOpts struct {
	TimeProvider func() time.Time
}

func NewEngine(
	cache *cache.Cache,
	storeBreaker breaker.CircuitBreaker,
	logger *logrus.Logger,
	opts *EngineOpts,
) *Engine {
	timeProvider := time.Now
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	return &Engine{
		cache:        cache,
		breaker:      storeBreaker,
		logger:       logger,
		timeProvider: timeProvider,
	}
}

// EffectivePoints scales a rule's budget by the caller's tier and the
// current load factor, never below 1.
func EffectivePoints(rule Rule, tierMultiplier, loadFactor float64) int64 {
	points := int64(math.Floor(float64(rule.Points) * tierMultiplier * loadFactor))
	if points < 1 {
		points = 1
	}
	return points
}

// Consume spends cost points for (rule, key) and decides admission. On any
// shared-store fault it fails open: the request is allowed, the fault is
// logged, and nothing propagates to the caller. Availability of the
// protected service wins over strict enforcement.
func (e *Engine) Consume(
	ctx context.Context,
	rule Rule,
	key string,
	tierMultiplier float64,
	loadFactor float64,
	cost int64,
) Decision {
	if cost < 1 {
		cost = 1
	}
	effective := EffectivePoints(rule, tierMultiplier, loadFactor)
	now := e.timeProvider()

	var reply []interface{}
	err := e.breaker.Execute(func() error {
		res, err := consumeScript.Run(ctx, e.cache.Client(),
			[]string{
				fmt.Sprintf(counterKeyPattern, rule.Name, key),
				fmt.Sprintf(blockKeyPattern, rule.Name, key),
			},
			effective,
			int64(rule.Window/time.Second),
			int64(rule.Block/time.Second),
			cost,
		).Result()
		if err != nil {
			return err
		}
		values, ok := res.([]interface{})
		if !ok || len(values) != 3 {
			return fmt.Errorf("unexpected consume reply %v", res)
		}
		reply = values
		return nil
	})
	if err != nil {
		prometheus.StoreFailures.Inc()
		e.logger.WithError(err).WithFields(logrus.Fields{
			"rule": rule.Name,
			"key":  key,
		}).Error("shared store unreachable, failing open")
		return Decision{
			Allowed:    true,
			Limit:      effective,
			Remaining:  effective,
			Reset:      now.Add(rule.Window),
			FailedOpen: true,
		}
	}

	allowed, remaining, ttlMillis := replyInt(reply[0]), replyInt(reply[1]), replyInt(reply[2])
	ttl := time.Duration(ttlMillis) * time.Millisecond
	if ttl <= 0 {
		ttl = rule.Window
	}
	decision := Decision{
		Allowed:   allowed == 1,
		Limit:     effective,
		Remaining: remaining,
		Reset:     now.Add(ttl),
	}
	if !decision.Allowed {
		decision.RetryAfter = ttl
	}
	return decision
}

// Blocked reports whether (rule, key) currently sits in a block period,
// without consuming budget. Used for rules whose consumption is deferred
// until the downstream outcome is known.
func (e *Engine) Blocked(ctx context.Context, rule Rule, key string) (bool, time.Duration) {
	var ttl time.Duration
	err := e.breaker.Execute(func() error {
		res, err := e.cache.Client().PTTL(ctx, fmt.Sprintf(blockKeyPattern, rule.Name, key)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		ttl = res
		return nil
	})
	if err != nil {
		e.logger.WithError(err).WithField("rule", rule.Name).Error("shared store unreachable, failing open")
		return false, 0
	}
	return ttl > 0, ttl
}

func replyInt(v interface{}) int64 {
	n, ok := v.(int64)
	if !ok {
		return 0
	}
	return n
}
