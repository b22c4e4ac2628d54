package config

// DefaultRules returns the built-in admission rules used when the config
// file does not define its own table.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{
			Name:          "general",
			KeyScheme:     "per_principal",
			Points:        100,
			WindowSeconds: 60,
			BlockSeconds:  300,
		},
		{
			Name:          "auth_attempts",
			KeyScheme:     "per_origin",
			Points:        10,
			WindowSeconds: 900,
			BlockSeconds:  1800,
			SkipOnSuccess: true,
		},
		{
			Name:          "uploads",
			KeyScheme:     "per_principal",
			Points:        20,
			WindowSeconds: 300,
			BlockSeconds:  600,
		},
		{
			Name:          "ai_endpoints",
			KeyScheme:     "per_principal",
			Points:        30,
			WindowSeconds: 60,
			BlockSeconds:  300,
		},
	}
}

// DefaultTiers maps platform roles to budget multipliers and daily cost
// budgets. Roles missing here fall back to multiplier 1 and the basic
// budget.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{Role: "student", Multiplier: 1, DailyBudget: 1000},
		{Role: "teacher", Multiplier: 2, DailyBudget: 5000},
		{Role: "school_admin", Multiplier: 5, DailyBudget: 25000},
		{Role: "district_admin", Multiplier: 5, DailyBudget: 25000},
		{Role: "platform_admin", Multiplier: 10, DailyBudget: 100000},
	}
}

// DefaultCostTiers prices heterogeneous operations in ledger points.
func DefaultCostTiers() map[string]int64 {
	return map[string]int64{
		"cheap":     1,
		"standard":  5,
		"expensive": 25,
	}
}

// DefaultRoutes classifies the protected backend's endpoints. Paths use
// single-segment :param wildcards; unmatched traffic gets the general rule
// and the cheap tier.
func DefaultRoutes() []RouteConfig {
	return []RouteConfig{
		{Method: "POST", Path: "/api/v1/auth/login", Rule: "auth_attempts", CostTier: "cheap"},
		{Method: "POST", Path: "/api/v1/auth/register", Rule: "auth_attempts", CostTier: "cheap"},
		{Method: "POST", Path: "/api/v1/uploads", Rule: "uploads", CostTier: "standard"},
		{Method: "GET", Path: "/api/v1/students", Rule: "general", CostTier: "cheap"},
		{Method: "GET", Path: "/api/v1/students/:student_id", Rule: "general", CostTier: "cheap"},
		{Method: "POST", Path: "/api/v1/applications", Rule: "general", CostTier: "standard"},
		{Method: "GET", Path: "/api/v1/passes/:pass_id", Rule: "general", CostTier: "cheap"},
		{Method: "POST", Path: "/api/v1/ai/recommendations", Rule: "ai_endpoints", CostTier: "expensive"},
		{Method: "POST", Path: "/api/v1/ai/recommendations/:user_id/:recommendation_id/feedback", Rule: "ai_endpoints", CostTier: "cheap"},
		{Method: "POST", Path: "/api/v1/ai/classify", Rule: "ai_endpoints", CostTier: "standard"},
	}
}
