package admission

import (
	"fmt"
	"strings"

	"github.com/passhub/gatekeeper/pkg/config"
)

// Classification maps an inbound operation to the rule that meters it and
// the ledger cost it is charged.
type Classification struct {
	RuleName string
	CostTier string
	Cost     int64
}

type compiledRoute struct {
	method         string
	segments       []string
	classification Classification
}

// Classifier resolves method+path to a rule name and cost tier. Patterns
// are compiled once at startup; Classify is pure and performs no I/O, so it
// can run on every request cheaply.
type Classifier struct {
	exact    map[string]Classification
	patterns []compiledRoute
	fallback Classification
}

func NewClassifier(
	routes []config.RouteConfig,
	costTiers map[string]int64,
	registry *Registry,
) (*Classifier, error) {
	cheapest := cheapestTier(costTiers)
	c := &Classifier{
		exact:    make(map[string]Classification),
		fallback: Classification{RuleName: "general", CostTier: cheapest, Cost: costTiers[cheapest]},
	}
	for _, rc := range routes {
		if _, ok := registry.Get(rc.Rule); !ok {
			return nil, fmt.Errorf("route %s %s references unknown rule %q", rc.Method, rc.Path, rc.Rule)
		}
		tier := rc.CostTier
		if tier == "" {
			tier = cheapest
		}
		cost, ok := costTiers[tier]
		if !ok {
			return nil, fmt.Errorf("route %s %s references unknown cost tier %q", rc.Method, rc.Path, tier)
		}
		cl := Classification{RuleName: rc.Rule, CostTier: tier, Cost: cost}
		method := strings.ToUpper(rc.Method)
		if !strings.Contains(rc.Path, ":") {
			c.exact[method+" "+rc.Path] = cl
			continue
		}
		c.patterns = append(c.patterns, compiledRoute{
			method:         method,
			segments:       splitPath(rc.Path),
			classification: cl,
		})
	}
	return c, nil
}

// Classify resolves a request. Exact path matches win over patterns; the
// first matching pattern wins; unmatched paths fall back to the general
// rule at the cheapest tier.
func (c *Classifier) Classify(method, path string) Classification {
	method = strings.ToUpper(method)
	if cl, ok := c.exact[method+" "+path]; ok {
		return cl
	}
	segments := splitPath(path)
	for _, route := range c.patterns {
		if route.method != method {
			continue
		}
		if matchSegments(route.segments, segments) {
			return route.classification
		}
	}
	return c.fallback
}

// matchSegments treats :param segments as wildcards matching exactly one
// path component.
func matchSegments(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			continue
		}
		if seg != path[i] {
			return false
		}
	}
	return true
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

func cheapestTier(costTiers map[string]int64) string {
	name := ""
	var best int64
	for tier, cost := range costTiers {
		if name == "" || cost < best || (cost == best && tier < name) {
			name = tier
			best = cost
		}
	}
	return name
}
