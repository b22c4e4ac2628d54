package admission

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/passhub/gatekeeper/pkg/config"
	"github.com/passhub/gatekeeper/pkg/infra/audit"
	"github.com/passhub/gatekeeper/pkg/infra/prometheus"
)

// Service composes the admission pipeline: classify, resolve identity and
// tier, blacklist check, progressive penalty, windowed consumption with
// adaptive scaling, cost charge, and violation escalation. It is built once
// at startup with explicit dependencies; there is no ambient global state.
type Service struct {
	registry   *Registry
	tiers      *TierResolver
	classifier *Classifier
	engine     *Engine
	governor   *Governor
	penalty    *PenaltyTracker
	blacklist  *BlacklistManager
	ledger     *CostLedger
	auditSink  audit.Sink
	logger     *logrus.Logger

	autoThreshold int64
	autoDuration  time.Duration

	counters     map[string]*ruleCounters
	timeProvider func() time.Time
	uuidProvider func() uuid.UUID
}

type ruleCounters struct {
	allowed uint64
	denied  uint64
}

// RuleCounts is a point-in-time snapshot of one rule's decision counters.
type RuleCounts struct {
	Allowed uint64 `json:"allowed"`
	Denied  uint64 `json:"denied"`
}

// Stats is the operational snapshot served by the admin surface.
type Stats struct {
	PerRule     map[string]RuleCounts `json:"per_rule"`
	Blacklisted int64                 `json:"blacklisted"`
	LoadFactor  float64               `json:"load_factor"`
}

type ServiceDI struct {
	Registry   *Registry
	Tiers      *TierResolver
	Classifier *Classifier
	Engine     *Engine
	Governor   *Governor
	Penalty    *PenaltyTracker
	Blacklist  *BlacklistManager
	Ledger     *CostLedger
	AuditSink  audit.Sink
	Logger     *logrus.Logger
	Blacklists config.BlacklistConfig
}

type ServiceOpts struct {
	TimeProvider func() time.Time
	UuidProvider func() uuid.UUID
}

func NewService(di ServiceDI, opts *ServiceOpts) *Service {
	timeProvider := time.Now
	uuidProvider := uuid.New
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	if opts != nil && opts.UuidProvider != nil {
		uuidProvider = opts.UuidProvider
	}
	counters := make(map[string]*ruleCounters)
	for _, name := range di.Registry.Names() {
		counters[name] = &ruleCounters{}
	}
	return &Service{
		registry:      di.Registry,
		tiers:         di.Tiers,
		classifier:    di.Classifier,
		engine:        di.Engine,
		governor:      di.Governor,
		penalty:       di.Penalty,
		blacklist:     di.Blacklist,
		ledger:        di.Ledger,
		auditSink:     di.AuditSink,
		logger:        di.Logger,
		autoThreshold: di.Blacklists.AutoThreshold,
		autoDuration:  di.Blacklists.AutoDuration,
		counters:      counters,
		timeProvider:  timeProvider,
		uuidProvider:  uuidProvider,
	}
}

// Admit runs the full decision pipeline for one request. It never returns
// an error: every internal fault degrades to allow per the fail-open
// policy, and denial is a normal outcome, not an error.
func (s *Service) Admit(ctx context.Context, req Request) Admission {
	now := s.timeProvider()
	cl := s.classifier.Classify(req.Method, req.Path)
	role := RoleDefault
	if req.Principal != nil {
		role = ParseRole(req.Principal.Role)
	}
	tier := s.tiers.Resolve(role)
	clientKey := ClientKey(req)

	// Blacklist membership short-circuits everything; no budget is
	// touched while a key is banned.
	if banned, ttl := s.blacklist.IsBlacklisted(ctx, clientKey); banned {
		s.countDecision(cl.RuleName, false)
		prometheus.AdmissionDecisions.WithLabelValues(cl.RuleName, "blacklisted").Inc()
		return Admission{
			Decision: Decision{
				Allowed:    false,
				RetryAfter: ttl,
				Reset:      now.Add(ttl),
			},
			RuleName:    cl.RuleName,
			Key:         clientKey,
			Blacklisted: true,
		}
	}

	delay := s.penalty.DelayBefore(ctx, clientKey)
	if delay > 0 {
		prometheus.PenaltyDelaySeconds.Observe(delay.Seconds())
	}

	rule, ok := s.registry.Get(cl.RuleName)
	if !ok {
		// Misconfigured route: fail open for this check, never crash
		// the pipeline.
		s.logger.WithField("rule", cl.RuleName).Warn("route references unknown rule, failing open")
		return Admission{
			Decision: Decision{Allowed: true, FailedOpen: true},
			RuleName: cl.RuleName,
			Key:      clientKey,
			Delay:    delay,
		}
	}
	rule = tier.RuleFor(rule)
	key := RuleKey(rule, req)

	if rule.SkipOnSuccess || rule.SkipOnFailure {
		return s.admitDeferred(ctx, req, cl, rule, tier, key, clientKey, delay, now)
	}

	decision := s.engine.Consume(ctx, rule, key, tier.Multiplier, s.governor.Factor(), 1)
	if !decision.Allowed {
		return s.denyWithDelay(ctx, req, cl.RuleName, key, clientKey, decision, delay)
	}

	if cl.Cost > 0 {
		charge := s.ledger.Charge(ctx, clientKey, tier.DailyBudget, cl.Cost)
		if !charge.Allowed {
			return s.denyWithDelay(ctx, req, cl.RuleName, key, clientKey, charge, delay)
		}
	}

	s.countDecision(cl.RuleName, true)
	prometheus.AdmissionDecisions.WithLabelValues(cl.RuleName, "allowed").Inc()
	return Admission{
		Decision: decision,
		RuleName: cl.RuleName,
		Key:      key,
		Delay:    delay,
	}
}

// admitDeferred handles rules whose points are only spent once the
// downstream outcome is known. The block state still applies up front; the
// consumption itself moves into the Deferred callback.
func (s *Service) admitDeferred(
	ctx context.Context,
	req Request,
	cl Classification,
	rule Rule,
	tier Tier,
	key, clientKey string,
	delay time.Duration,
	now time.Time,
) Admission {
	if blocked, ttl := s.engine.Blocked(ctx, rule, key); blocked {
		decision := Decision{
			Allowed:    false,
			Limit:      EffectivePoints(rule, tier.Multiplier, s.governor.Factor()),
			RetryAfter: ttl,
			Reset:      now.Add(ttl),
		}
		return s.denyWithDelay(ctx, req, cl.RuleName, key, clientKey, decision, delay)
	}

	if cl.Cost > 0 {
		charge := s.ledger.Charge(ctx, clientKey, tier.DailyBudget, cl.Cost)
		if !charge.Allowed {
			return s.denyWithDelay(ctx, req, cl.RuleName, key, clientKey, charge, delay)
		}
	}

	effective := EffectivePoints(rule, tier.Multiplier, s.governor.Factor())
	s.countDecision(cl.RuleName, true)
	prometheus.AdmissionDecisions.WithLabelValues(cl.RuleName, "allowed").Inc()
	return Admission{
		Decision: Decision{
			Allowed:   true,
			Limit:     effective,
			Remaining: effective,
			Reset:     now.Add(rule.Window),
		},
		RuleName: cl.RuleName,
		Key:      key,
		Delay:    delay,
		Deferred: func(failed bool) {
			if rule.SkipOnSuccess && !failed {
				return
			}
			if rule.SkipOnFailure && failed {
				return
			}
			dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			decision := s.engine.Consume(dctx, rule, key, tier.Multiplier, s.governor.Factor(), 1)
			if !decision.Allowed {
				// The request already ran; the violation still counts
				// toward penalties and escalation.
				s.deny(dctx, req, cl.RuleName, key, clientKey, decision, true)
			}
		},
	}
}

// denyWithDelay keeps the progressive penalty on denied responses too, so
// repeat offenders cannot probe the limiter at full speed.
func (s *Service) denyWithDelay(
	ctx context.Context,
	req Request,
	ruleName, key, clientKey string,
	decision Decision,
	delay time.Duration,
) Admission {
	adm := s.deny(ctx, req, ruleName, key, clientKey, decision, false)
	adm.Delay = delay
	return adm
}

func (s *Service) deny(
	ctx context.Context,
	req Request,
	ruleName, key, clientKey string,
	decision Decision,
	deferred bool,
) Admission {
	s.countDecision(ruleName, false)
	prometheus.AdmissionDecisions.WithLabelValues(ruleName, "denied").Inc()

	traceID := req.TraceID
	if traceID == "" {
		traceID = s.uuidProvider().String()
	}
	count, err := s.penalty.RecordViolation(ctx, clientKey)
	if err != nil {
		s.logger.WithError(err).WithField("key", clientKey).Error("failed to record violation")
	}

	severity := audit.SeverityWarning
	message := "rate limit exceeded"
	if count >= s.autoThreshold && s.autoThreshold > 0 {
		if err := s.blacklist.Add(ctx, clientKey, s.autoDuration); err != nil {
			s.logger.WithError(err).WithField("key", clientKey).Error("failed to auto-blacklist key")
		} else {
			severity = audit.SeverityCritical
			message = "repeated violations, key auto-blacklisted"
		}
	}

	s.auditSink.Emit(ctx, audit.Event{
		TraceID:   traceID,
		Key:       clientKey,
		Rule:      ruleName,
		Path:      req.Path,
		Severity:  severity,
		Message:   message,
		Timestamp: s.timeProvider(),
	})

	adm := Admission{
		Decision: decision,
		RuleName: ruleName,
		Key:      key,
	}
	if deferred {
		adm.Allowed = false
	}
	return adm
}

func (s *Service) countDecision(ruleName string, allowed bool) {
	counters, ok := s.counters[ruleName]
	if !ok {
		return
	}
	if allowed {
		atomic.AddUint64(&counters.allowed, 1)
	} else {
		atomic.AddUint64(&counters.denied, 1)
	}
}

// Stats snapshots per-rule decision counters and the live blacklist size.
func (s *Service) Stats(ctx context.Context) Stats {
	perRule := make(map[string]RuleCounts, len(s.counters))
	for name, counters := range s.counters {
		perRule[name] = RuleCounts{
			Allowed: atomic.LoadUint64(&counters.allowed),
			Denied:  atomic.LoadUint64(&counters.denied),
		}
	}
	blacklisted, err := s.blacklist.Count(ctx)
	if err != nil {
		s.logger.WithError(err).Error("failed to count blacklist entries")
	}
	prometheus.BlacklistedKeys.Set(float64(blacklisted))
	return Stats{
		PerRule:     perRule,
		Blacklisted: blacklisted,
		LoadFactor:  s.governor.Factor(),
	}
}

// Blacklist exposes the manager for the administrative surface.
func (s *Service) Blacklist() *BlacklistManager {
	return s.blacklist
}
