package admission

import "time"

// Principal is the identity supplied by the external identity source. A nil
// Principal means the caller is anonymous and is metered by network origin.
type Principal struct {
	ID   string
	Role string
}

// Request is the limiter's view of an inbound request.
type Request struct {
	Method    string
	Path      string
	IP        string
	Principal *Principal
	// TraceID correlates audit events with the transport's request log.
	// Empty means the caller did not assign one; the service then mints
	// its own for the event.
	TraceID string
}

// Decision is the outcome of a single consumption attempt.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
	Reset      time.Time
	// FailedOpen marks an allow produced by the fail-open policy rather
	// than an actual consumption against the shared store.
	FailedOpen bool
}

// Admission is the composed per-request verdict returned by Service.Admit.
type Admission struct {
	Decision

	RuleName    string
	Key         string
	Blacklisted bool
	// Delay is the progressive penalty to apply before processing, even
	// when the request is otherwise allowed.
	Delay time.Duration
	// Deferred is non-nil for rules configured with skip_on_success or
	// skip_on_failure: consumption happens only after the downstream
	// outcome is known. The middleware invokes it with failed=true when
	// the downstream request did not succeed.
	Deferred func(failed bool)
}
