package admission_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passhub/gatekeeper/pkg/admission"
	"github.com/passhub/gatekeeper/pkg/cache"
	"github.com/passhub/gatekeeper/pkg/infra/breaker"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEngine(t *testing.T) (*admission.Engine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cacheInstance := cache.NewCacheFromClient(client)
	storeBreaker := breaker.NewCircuitBreaker("test", time.Second, 1000)
	return admission.NewEngine(cacheInstance, storeBreaker, testLogger(), nil), mr
}

func TestEngine_ConsumeWithinBudget(t *testing.T) {
	engine, _ := newTestEngine(t)

	rule := admission.Rule{
		Name:   "auth_attempts",
		Points: 10,
		Window: 900 * time.Second,
		Block:  1800 * time.Second,
	}

	for i := int64(0); i < 10; i++ {
		decision := engine.Consume(context.Background(), rule, "ip:10.0.0.1", 1, 1, 1)
		require.True(t, decision.Allowed, "consumption %d should be allowed", i+1)
		assert.Equal(t, int64(9)-i, decision.Remaining)
		assert.Equal(t, int64(10), decision.Limit)
	}
}

func TestEngine_ConsumeDeniesOverBudget(t *testing.T) {
	engine, _ := newTestEngine(t)

	rule := admission.Rule{
		Name:   "auth_attempts",
		Points: 10,
		Window: 900 * time.Second,
		Block:  1800 * time.Second,
	}

	for i := 0; i < 10; i++ {
		decision := engine.Consume(context.Background(), rule, "ip:10.0.0.1", 1, 1, 1)
		require.True(t, decision.Allowed)
	}

	decision := engine.Consume(context.Background(), rule, "ip:10.0.0.1", 1, 1, 1)
	assert.False(t, decision.Allowed)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
	assert.InDelta(t, (1800 * time.Second).Seconds(), decision.RetryAfter.Seconds(), 2)

	// Another key is unaffected.
	other := engine.Consume(context.Background(), rule, "ip:10.0.0.2", 1, 1, 1)
	assert.True(t, other.Allowed)
}

func TestEngine_BlockExpiryReadmits(t *testing.T) {
	engine, mr := newTestEngine(t)

	rule := admission.Rule{
		Name:   "general",
		Points: 2,
		Window: 60 * time.Second,
		Block:  120 * time.Second,
	}

	for i := 0; i < 3; i++ {
		engine.Consume(context.Background(), rule, "user:42", 1, 1, 1)
	}
	decision := engine.Consume(context.Background(), rule, "user:42", 1, 1, 1)
	require.False(t, decision.Allowed)

	mr.FastForward(121 * time.Second)

	decision = engine.Consume(context.Background(), rule, "user:42", 1, 1, 1)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(1), decision.Remaining)
}

func TestEngine_ShortBlockReadmitsMidWindow(t *testing.T) {
	engine, mr := newTestEngine(t)

	// Block shorter than the window: once the block elapses the key is
	// readmitted on its next request, even though the window it was
	// blocked in has not ended yet.
	rule := admission.Rule{
		Name:   "general",
		Points: 1,
		Window: 300 * time.Second,
		Block:  60 * time.Second,
	}

	decision := engine.Consume(context.Background(), rule, "user:5", 1, 1, 1)
	require.True(t, decision.Allowed)
	decision = engine.Consume(context.Background(), rule, "user:5", 1, 1, 1)
	require.False(t, decision.Allowed)

	mr.FastForward(61 * time.Second)

	decision = engine.Consume(context.Background(), rule, "user:5", 1, 1, 1)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(0), decision.Remaining)
}

func TestEngine_TierMultiplierScalesBudget(t *testing.T) {
	engine, _ := newTestEngine(t)

	rule := admission.Rule{
		Name:   "general",
		Points: 100,
		Window: 60 * time.Second,
		Block:  300 * time.Second,
	}

	// school_admin tier: multiplier 5 on a 100-point rule allows 500.
	for i := 0; i < 500; i++ {
		decision := engine.Consume(context.Background(), rule, "user:admin", 5, 1, 1)
		require.True(t, decision.Allowed, "consumption %d should be allowed", i+1)
	}
	decision := engine.Consume(context.Background(), rule, "user:admin", 5, 1, 1)
	assert.False(t, decision.Allowed)
}

func TestEngine_LoadFactorShedsBudget(t *testing.T) {
	engine, _ := newTestEngine(t)

	rule := admission.Rule{
		Name:   "general",
		Points: 10,
		Window: 60 * time.Second,
		Block:  300 * time.Second,
	}

	// Heavy load band: factor 0.3 leaves floor(10*0.3)=3 points.
	for i := 0; i < 3; i++ {
		decision := engine.Consume(context.Background(), rule, "user:7", 1, 0.3, 1)
		require.True(t, decision.Allowed)
	}
	decision := engine.Consume(context.Background(), rule, "user:7", 1, 0.3, 1)
	assert.False(t, decision.Allowed)
}

func TestEngine_BlockDurationFixedAtBlockTime(t *testing.T) {
	engine, mr := newTestEngine(t)

	rule := admission.Rule{
		Name:   "general",
		Points: 1,
		Window: 60 * time.Second,
		Block:  100 * time.Second,
	}

	engine.Consume(context.Background(), rule, "user:9", 1, 1, 1)
	blocked := engine.Consume(context.Background(), rule, "user:9", 1, 1, 1)
	require.False(t, blocked.Allowed)

	// A later recomputation with a friendlier load factor does not
	// shorten the block already in force.
	mr.FastForward(50 * time.Second)
	decision := engine.Consume(context.Background(), rule, "user:9", 1, 1.5, 1)
	assert.False(t, decision.Allowed)
	assert.LessOrEqual(t, decision.RetryAfter, 50*time.Second)
}

func TestEngine_FailsOpenWhenStoreDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cacheInstance := cache.NewCacheFromClient(client)
	storeBreaker := breaker.NewCircuitBreaker("test", time.Second, 1000)
	engine := admission.NewEngine(cacheInstance, storeBreaker, testLogger(), nil)

	mr.Close()

	rule := admission.Rule{
		Name:   "general",
		Points: 1,
		Window: 60 * time.Second,
		Block:  300 * time.Second,
	}

	for i := 0; i < 5; i++ {
		decision := engine.Consume(context.Background(), rule, "user:1", 1, 1, 1)
		assert.True(t, decision.Allowed)
		assert.True(t, decision.FailedOpen)
	}
}

func TestEngine_BlockedReportsActiveBlock(t *testing.T) {
	engine, _ := newTestEngine(t)

	rule := admission.Rule{
		Name:   "auth_attempts",
		Points: 1,
		Window: 60 * time.Second,
		Block:  300 * time.Second,
	}

	blocked, _ := engine.Blocked(context.Background(), rule, "ip:10.0.0.5")
	assert.False(t, blocked)

	engine.Consume(context.Background(), rule, "ip:10.0.0.5", 1, 1, 1)
	engine.Consume(context.Background(), rule, "ip:10.0.0.5", 1, 1, 1)

	blocked, ttl := engine.Blocked(context.Background(), rule, "ip:10.0.0.5")
	assert.True(t, blocked)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestEffectivePoints(t *testing.T) {
	rule := admission.Rule{Points: 100}

	assert.Equal(t, int64(100), admission.EffectivePoints(rule, 1, 1))
	assert.Equal(t, int64(500), admission.EffectivePoints(rule, 5, 1))
	assert.Equal(t, int64(30), admission.EffectivePoints(rule, 1, 0.3))
	assert.Equal(t, int64(150), admission.EffectivePoints(rule, 1, 1.5))
	// Never below one point.
	assert.Equal(t, int64(1), admission.EffectivePoints(admission.Rule{Points: 1}, 1, 0.3))
}
