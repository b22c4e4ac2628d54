package admission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passhub/gatekeeper/pkg/admission"
	"github.com/passhub/gatekeeper/pkg/config"
)

func newTestClassifier(t *testing.T) *admission.Classifier {
	t.Helper()
	registry, err := admission.NewRegistry(config.DefaultRules())
	require.NoError(t, err)
	classifier, err := admission.NewClassifier(config.DefaultRoutes(), config.DefaultCostTiers(), registry)
	require.NoError(t, err)
	return classifier
}

func TestClassifier_ExactMatch(t *testing.T) {
	classifier := newTestClassifier(t)

	cl := classifier.Classify("POST", "/api/v1/auth/login")
	assert.Equal(t, "auth_attempts", cl.RuleName)
	assert.Equal(t, "cheap", cl.CostTier)
	assert.Equal(t, int64(1), cl.Cost)

	cl = classifier.Classify("POST", "/api/v1/ai/recommendations")
	assert.Equal(t, "ai_endpoints", cl.RuleName)
	assert.Equal(t, "expensive", cl.CostTier)
	assert.Equal(t, int64(25), cl.Cost)
}

func TestClassifier_MethodMatters(t *testing.T) {
	classifier := newTestClassifier(t)

	// Same path, wrong method falls back to general.
	cl := classifier.Classify("GET", "/api/v1/auth/login")
	assert.Equal(t, "general", cl.RuleName)

	// Method comparison is case-insensitive.
	cl = classifier.Classify("post", "/api/v1/auth/login")
	assert.Equal(t, "auth_attempts", cl.RuleName)
}

func TestClassifier_PatternMatch(t *testing.T) {
	classifier := newTestClassifier(t)

	cl := classifier.Classify("GET", "/api/v1/students/s-42")
	assert.Equal(t, "general", cl.RuleName)
	assert.Equal(t, "cheap", cl.CostTier)

	cl = classifier.Classify("POST", "/api/v1/ai/recommendations/u-7/r-99/feedback")
	assert.Equal(t, "ai_endpoints", cl.RuleName)
	assert.Equal(t, "cheap", cl.CostTier)

	// A :param matches exactly one component, never more.
	cl = classifier.Classify("GET", "/api/v1/students/s-42/passes")
	assert.Equal(t, "general", cl.RuleName)
	assert.Equal(t, "cheap", cl.CostTier)
}

func TestClassifier_FallbackToGeneral(t *testing.T) {
	classifier := newTestClassifier(t)

	cl := classifier.Classify("GET", "/totally/unknown/path")
	assert.Equal(t, "general", cl.RuleName)
	assert.Equal(t, "cheap", cl.CostTier)
	assert.Equal(t, int64(1), cl.Cost)
}

func TestNewClassifier_RejectsUnknownRule(t *testing.T) {
	registry, err := admission.NewRegistry(config.DefaultRules())
	require.NoError(t, err)

	_, err = admission.NewClassifier([]config.RouteConfig{
		{Method: "GET", Path: "/x", Rule: "no_such_rule"},
	}, config.DefaultCostTiers(), registry)
	assert.Error(t, err)
}

func TestNewClassifier_RejectsUnknownCostTier(t *testing.T) {
	registry, err := admission.NewRegistry(config.DefaultRules())
	require.NoError(t, err)

	_, err = admission.NewClassifier([]config.RouteConfig{
		{Method: "GET", Path: "/x", Rule: "general", CostTier: "platinum"},
	}, config.DefaultCostTiers(), registry)
	assert.Error(t, err)
}

func TestNewClassifier_DefaultsToCheapestTier(t *testing.T) {
	registry, err := admission.NewRegistry(config.DefaultRules())
	require.NoError(t, err)

	classifier, err := admission.NewClassifier([]config.RouteConfig{
		{Method: "GET", Path: "/x", Rule: "general"},
	}, config.DefaultCostTiers(), registry)
	require.NoError(t, err)

	cl := classifier.Classify("GET", "/x")
	assert.Equal(t, "cheap", cl.CostTier)
	assert.Equal(t, int64(1), cl.Cost)
}
