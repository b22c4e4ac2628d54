package admission

import (
	"fmt"
	"time"

	"github.com/passhub/gatekeeper/pkg/config"
)

type KeyScheme string

const (
	KeySchemePerPrincipal KeyScheme = "per_principal"
	KeySchemePerOrigin    KeyScheme = "per_origin"
	KeySchemeCustom       KeyScheme = "custom"
)

// Rule is an immutable admission rule. Rules are built from config once at
// process start and never mutated afterwards.
type Rule struct {
	Name          string
	KeyScheme     KeyScheme
	Points        int64
	Window        time.Duration
	Block         time.Duration
	SkipOnSuccess bool
	SkipOnFailure bool
}

// Registry holds the static rule table. Lookups are read-only and safe for
// concurrent use.
type Registry struct {
	rules map[string]Rule
}

func NewRegistry(configs []config.RuleConfig) (*Registry, error) {
	rules := make(map[string]Rule, len(configs))
	for _, rc := range configs {
		rule, err := buildRule(rc)
		if err != nil {
			return nil, err
		}
		if _, exists := rules[rule.Name]; exists {
			return nil, fmt.Errorf("duplicate rule %q", rule.Name)
		}
		rules[rule.Name] = rule
	}
	return &Registry{rules: rules}, nil
}

func buildRule(rc config.RuleConfig) (Rule, error) {
	if rc.Name == "" {
		return Rule{}, fmt.Errorf("rule requires a name")
	}
	if rc.Points <= 0 {
		return Rule{}, fmt.Errorf("rule %q requires positive points", rc.Name)
	}
	if rc.WindowSeconds <= 0 {
		return Rule{}, fmt.Errorf("rule %q requires a positive window", rc.Name)
	}
	if rc.BlockSeconds < 0 {
		return Rule{}, fmt.Errorf("rule %q has a negative block duration", rc.Name)
	}
	scheme := KeyScheme(rc.KeyScheme)
	switch scheme {
	case KeySchemePerPrincipal, KeySchemePerOrigin, KeySchemeCustom:
	case "":
		scheme = KeySchemePerPrincipal
	default:
		return Rule{}, fmt.Errorf("rule %q has unknown key scheme %q", rc.Name, rc.KeyScheme)
	}
	if rc.SkipOnSuccess && rc.SkipOnFailure {
		return Rule{}, fmt.Errorf("rule %q cannot skip both outcomes", rc.Name)
	}
	return Rule{
		Name:          rc.Name,
		KeyScheme:     scheme,
		Points:        rc.Points,
		Window:        time.Duration(rc.WindowSeconds) * time.Second,
		Block:         time.Duration(rc.BlockSeconds) * time.Second,
		SkipOnSuccess: rc.SkipOnSuccess,
		SkipOnFailure: rc.SkipOnFailure,
	}, nil
}

func (r *Registry) Get(name string) (Rule, bool) {
	rule, ok := r.rules[name]
	return rule, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.rules))
	for name := range r.rules {
		names = append(names, name)
	}
	return names
}
