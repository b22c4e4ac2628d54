package admission_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/passhub/gatekeeper/pkg/admission"
)

func TestFactorForLoad(t *testing.T) {
	tests := []struct {
		load   float64
		factor float64
	}{
		{0.95, 0.3},
		{0.81, 0.3},
		{0.8, 0.5},
		{0.7, 0.5},
		{0.61, 0.5},
		{0.6, 0.7},
		{0.5, 0.7},
		{0.41, 0.7},
		{0.4, 1.0},
		{0.3, 1.0},
		{0.2, 1.0},
		{0.19, 1.5},
		{0.0, 1.5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.factor, admission.FactorForLoad(tt.load), "load %.2f", tt.load)
	}
}

func TestGovernor_TracksSampledLoad(t *testing.T) {
	load := 0.1
	sampler := func() (float64, error) { return load, nil }
	governor := admission.NewGovernor(sampler, 5*time.Millisecond, testLogger())

	// Neutral until the first sample lands.
	assert.Equal(t, 1.0, governor.Factor())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	governor.Start(ctx)

	assert.Eventually(t, func() bool {
		return governor.Factor() == 1.5
	}, time.Second, 5*time.Millisecond)

	load = 0.9
	assert.Eventually(t, func() bool {
		return governor.Factor() == 0.3
	}, time.Second, 5*time.Millisecond)
}

func TestGovernor_KeepsFactorOnSamplerError(t *testing.T) {
	calls := 0
	sampler := func() (float64, error) {
		calls++
		if calls == 1 {
			return 0.9, nil
		}
		return 0, context.DeadlineExceeded
	}
	governor := admission.NewGovernor(sampler, 5*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	governor.Start(ctx)

	assert.Eventually(t, func() bool {
		return governor.Factor() == 0.3
	}, time.Second, 5*time.Millisecond)

	// Failed samples keep the last good factor.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0.3, governor.Factor())
}
