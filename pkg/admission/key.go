package admission

import "fmt"

// ClientKey derives the identity a request is metered under. Authenticated
// callers are metered by principal id so the budget follows them across IP
// changes and tiering applies; anonymous callers are metered by network
// origin, the only signal available.
func ClientKey(req Request) string {
	if req.Principal != nil && req.Principal.ID != "" {
		return fmt.Sprintf("user:%s", req.Principal.ID)
	}
	return fmt.Sprintf("ip:%s", req.IP)
}

// RuleKey derives the metering key for a specific rule's key scheme. Rules
// with the per-origin scheme always meter by address (login endpoints meter
// the network origin even for recognized users).
func RuleKey(rule Rule, req Request) string {
	switch rule.KeyScheme {
	case KeySchemePerOrigin:
		return fmt.Sprintf("ip:%s", req.IP)
	default:
		return ClientKey(req)
	}
}
