package admission

import (
	"fmt"

	"github.com/passhub/gatekeeper/pkg/config"
)

// Role is the closed enumeration of caller roles. Role strings coming from
// the identity source are parsed once; anything unrecognized maps to
// RoleDefault explicitly rather than silently creating a new tier.
type Role int

const (
	RoleDefault Role = iota
	RoleStudent
	RoleTeacher
	RoleSchoolAdmin
	RoleDistrictAdmin
	RolePlatformAdmin
)

func ParseRole(s string) Role {
	switch s {
	case "student":
		return RoleStudent
	case "teacher":
		return RoleTeacher
	case "school_admin":
		return RoleSchoolAdmin
	case "district_admin":
		return RoleDistrictAdmin
	case "platform_admin":
		return RolePlatformAdmin
	default:
		return RoleDefault
	}
}

func (r Role) String() string {
	switch r {
	case RoleStudent:
		return "student"
	case RoleTeacher:
		return "teacher"
	case RoleSchoolAdmin:
		return "school_admin"
	case RoleDistrictAdmin:
		return "district_admin"
	case RolePlatformAdmin:
		return "platform_admin"
	default:
		return "default"
	}
}

const defaultDailyBudget = 1000

// Tier scales a rule's budget for a role and sizes its daily cost budget.
// Overrides fully replace a named rule's parameters for that role.
type Tier struct {
	Role        Role
	Multiplier  float64
	DailyBudget int64
	Overrides   map[string]Rule
}

type TierResolver struct {
	tiers map[Role]Tier
	def   Tier
}

func NewTierResolver(configs []config.TierConfig) (*TierResolver, error) {
	def := Tier{Role: RoleDefault, Multiplier: 1, DailyBudget: defaultDailyBudget}
	tiers := make(map[Role]Tier, len(configs))
	for _, tc := range configs {
		role := ParseRole(tc.Role)
		if role == RoleDefault && tc.Role != "default" {
			return nil, fmt.Errorf("unknown role %q in tier config", tc.Role)
		}
		tier := Tier{
			Role:        role,
			Multiplier:  tc.Multiplier,
			DailyBudget: tc.DailyBudget,
		}
		if tier.Multiplier <= 0 {
			tier.Multiplier = 1
		}
		if tier.DailyBudget <= 0 {
			tier.DailyBudget = defaultDailyBudget
		}
		if len(tc.Overrides) > 0 {
			tier.Overrides = make(map[string]Rule, len(tc.Overrides))
			for _, oc := range tc.Overrides {
				rule, err := buildRule(oc)
				if err != nil {
					return nil, fmt.Errorf("tier %q: %w", tc.Role, err)
				}
				tier.Overrides[rule.Name] = rule
			}
		}
		if role == RoleDefault {
			def = tier
			continue
		}
		tiers[role] = tier
	}
	return &TierResolver{tiers: tiers, def: def}, nil
}

// Resolve returns the tier for a role, falling back to the default tier
// (multiplier 1, no overrides) for anonymous callers and unknown roles.
func (t *TierResolver) Resolve(role Role) Tier {
	if tier, ok := t.tiers[role]; ok {
		return tier
	}
	return t.def
}

// RuleFor applies the tier's override for a rule, if any.
func (t Tier) RuleFor(rule Rule) Rule {
	if override, ok := t.Overrides[rule.Name]; ok {
		return override
	}
	return rule
}
