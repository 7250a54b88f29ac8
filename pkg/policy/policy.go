package policy

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/custodes-trust/custodes/pkg/faults"
)

// ObsidianSink is the narrow interface Aedituus uses to ledger every
// evaluation, injected at construction.
type ObsidianSink interface {
	Commit(ctx context.Context, eventType, subjectID, passportID, institutionID, targetID, targetType string, metadata map[string]string) error
}

// Config holds Aedituus's tunables.
type Config struct {
	InstanceID       string
	DefaultPolicyID  string
	CacheTTL         time.Duration
	RateLimitConfigs []RateLimitConfig
}

// Service is Aedituus: layered policy load, rule evaluation, rate limiting,
// and the authorize API.
type Service struct {
	cache   *Cache
	limiter *RateLimiter
	ledger  ObsidianSink
	cfg     Config
}

// NewService wires Aedituus's dependencies.
func NewService(store Store, limiter *RateLimiter, ledger ObsidianSink, cfg Config) *Service {
	return &Service{cache: NewCache(store, cfg.CacheTTL), limiter: limiter, ledger: ledger, cfg: cfg}
}

// Authorize evaluates req against the layered policy stack and returns a
// pure decision value — it never errors on a deny.
func (s *Service) Authorize(ctx context.Context, req AuthorizationRequest) AuthorizationResponse {
	if req.RequestTime.IsZero() {
		req.RequestTime = time.Now().UTC()
	}
	evalID := uuid.New().String()

	if len(s.cfg.RateLimitConfigs) > 0 {
		outcome, err := s.limiter.Check(ctx, s.cfg.RateLimitConfigs, req)
		if err == nil && outcome.Exceeded {
			resp := AuthorizationResponse{
				Decision:      DecisionDenyCooldown,
				DenyReason:    DenyReasonRateLimitExceeded,
				ReasonMessage: "rate limit exceeded",
				RetryAfterS:   outcome.RetryAfterS,
				EvaluationID:  evalID,
				EvaluatedAt:   req.RequestTime,
			}
			s.emit(ctx, req, resp)
			return resp
		}
	}

	resp := s.evaluateLayers(ctx, req, evalID)
	s.emit(ctx, req, resp)
	return resp
}

func (s *Service) evaluateLayers(ctx context.Context, req AuthorizationRequest, evalID string) AuthorizationResponse {
	scopeIDs := map[Scope]string{
		ScopeSubject:     req.SubjectID,
		ScopeInstitution: req.InstitutionID,
		ScopeOrg:         req.OrgID,
		ScopePlatform:    "",
	}

	var lastPolicy Policy
	var loadedAny bool

	for _, scope := range scopeOrder {
		id := scopeIDs[scope]
		if scope != ScopePlatform && id == "" {
			continue
		}
		p, err := s.cache.Get(ctx, scope, id)
		if err != nil {
			continue // no policy at this scope; fall through to the next layer
		}
		loadedAny = true
		lastPolicy = p

		if resp, matched := evaluateRules(p, req, evalID); matched {
			return resp
		}
	}

	if !loadedAny {
		return AuthorizationResponse{
			Decision:      DecisionDeny,
			DenyReason:    DenyReasonPolicyNotFound,
			ReasonMessage: "no policy configured for this scope",
			EvaluationID:  evalID,
			EvaluatedAt:   req.RequestTime,
		}
	}

	return AuthorizationResponse{
		Decision:      lastPolicy.DefaultDecision,
		DenyReason:    DenyReasonNoMatchingRule,
		ReasonMessage: "no rule matched; applied policy default",
		PolicyID:      lastPolicy.PolicyID,
		PolicyVersion: lastPolicy.Version,
		EvaluationID:  evalID,
		EvaluatedAt:   req.RequestTime,
	}
}

func evaluateRules(p Policy, req AuthorizationRequest, evalID string) (AuthorizationResponse, bool) {
	sorted := sortedActiveRules(p, req.RequestTime)
	for _, r := range sorted {
		if !r.appliesTo(req.Action) {
			continue
		}
		if !r.Conditions.matches(req) {
			continue
		}
		return AuthorizationResponse{
			Decision:      r.Decision,
			DenyReason:    denyReasonFor(r.Decision),
			ReasonMessage: r.Description,
			Constraints:   r.Constraints,
			StepUpMethod:  r.StepUpMethod,
			MatchedRuleID: r.RuleID,
			PolicyID:      p.PolicyID,
			PolicyVersion: p.Version,
			EvaluationID:  evalID,
			EvaluatedAt:   req.RequestTime,
		}, true
	}
	return AuthorizationResponse{}, false
}

func denyReasonFor(d Decision) DenyReason {
	if d == DecisionDeny {
		return DenyReasonRuleDenied
	}
	return ""
}

// sortedActiveRules filters to active, non-expired rules and sorts by
// priority ascending, stable on rule id for a tie.
func sortedActiveRules(p Policy, now time.Time) []Rule {
	active := make([]Rule, 0, len(p.Rules))
	for _, r := range p.Rules {
		if r.Active && !r.expired(now) {
			active = append(active, r)
		}
	}
	// Insertion sort: small N per policy, and it keeps the sort stable on
	// RuleID without pulling in sort.Slice's indirection here.
	for i := 1; i < len(active); i++ {
		j := i
		for j > 0 && lessRule(active[j], active[j-1]) {
			active[j], active[j-1] = active[j-1], active[j]
			j--
		}
	}
	return active
}

func lessRule(a, b Rule) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.RuleID < b.RuleID
}

func (s *Service) emit(ctx context.Context, req AuthorizationRequest, resp AuthorizationResponse) {
	eventType := "POLICY_DECISION"
	if resp.Decision == DecisionDeny || resp.Decision == DecisionDenyCooldown {
		eventType = "POLICY_DENY"
	}
	meta := map[string]string{
		"action":     string(req.Action),
		"decision":   string(resp.Decision),
		"evaluation": resp.EvaluationID,
	}
	if resp.DenyReason != "" {
		meta["deny_reason"] = string(resp.DenyReason)
	}
	if resp.MatchedRuleID != "" {
		meta["matched_rule_id"] = resp.MatchedRuleID
	}
	_ = s.ledger.Commit(ctx, eventType, req.SubjectID, req.PassportID, req.InstitutionID, "", "", meta)
}

// AuthorizeMany evaluates base once per action, reusing base's context for
// every check (same risk/resource fields, varying only Action).
func (s *Service) AuthorizeMany(ctx context.Context, base AuthorizationRequest, actions []ActionType) []AuthorizationResponse {
	out := make([]AuthorizationResponse, len(actions))
	for i, a := range actions {
		req := base
		req.Action = a
		out[i] = s.Authorize(ctx, req)
	}
	return out
}

// AuthorizeOrThrow wraps Authorize, converting a non-allow decision into a
// typed AuthorizationFault.
func (s *Service) AuthorizeOrThrow(ctx context.Context, req AuthorizationRequest) (AuthorizationResponse, error) {
	resp := s.Authorize(ctx, req)
	switch resp.Decision {
	case DecisionAllow, DecisionAllowLimited:
		return resp, nil
	case DecisionStepUp:
		return resp, &faults.AuthorizationFault{Kind: faults.AuthorizationStepUpRequired, StepUp: resp.StepUpMethod}
	case DecisionDenyCooldown:
		return resp, &faults.AuthorizationFault{Kind: faults.AuthorizationRateLimited, RetryAfterS: resp.RetryAfterS}
	case DecisionReviewRequired:
		return resp, &faults.AuthorizationFault{Kind: faults.AuthorizationReviewRequired}
	default:
		return resp, &faults.AuthorizationFault{Kind: faults.AuthorizationDenied, Reason: resp.ReasonMessage}
	}
}

// InvalidateCache invalidates scopeKey ("SCOPE:id"), or every cached policy
// when scopeKey is empty.
func (s *Service) InvalidateCache(scopeKey string) {
	s.cache.Invalidate(scopeKey)
}
