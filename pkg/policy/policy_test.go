package policy

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errNotFound = errors.New("policy not found")

type fakeStore struct {
	policies map[string]Policy
}

func newFakeStore(policies ...Policy) *fakeStore {
	s := &fakeStore{policies: make(map[string]Policy)}
	for _, p := range policies {
		s.policies[scopeKey(p.Scope, p.ScopeID)] = p
	}
	return s
}

func (s *fakeStore) Load(ctx context.Context, scope Scope, scopeID string) (Policy, error) {
	p, ok := s.policies[scopeKey(scope, scopeID)]
	if !ok {
		return Policy{}, errNotFound
	}
	return p, nil
}

func (s *fakeStore) Save(ctx context.Context, p Policy) error {
	s.policies[scopeKey(p.Scope, p.ScopeID)] = p
	return nil
}

type fakeSink struct {
	commits []string
}

func (f *fakeSink) Commit(ctx context.Context, eventType, subjectID, passportID, institutionID, targetID, targetType string, metadata map[string]string) error {
	f.commits = append(f.commits, eventType)
	return nil
}

// TestAuthorizeHighClearanceBackboneAccess verifies that a trust-85,
// institutionally affiliated subject submitting a job is ALLOWed outright
// by the HIGH_CLEARANCE band rule.
func TestAuthorizeHighClearanceBackboneAccess(t *testing.T) {
	store := newFakeStore(PlatformBaselinePolicy())
	sink := &fakeSink{}
	svc := NewService(store, NewRateLimiter(nil), sink, Config{CacheTTL: time.Minute})

	resp := svc.Authorize(context.Background(), AuthorizationRequest{
		SubjectID:     "subj-1",
		Trust:         85,
		InstitutionID: "univ-a",
		Action:        ActionJobSubmit,
		Resource:      ResourceAttributes{VRAMGB: 24, GPUCount: 2, DurationHours: 8},
		RequestTime:   time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})

	if resp.Decision != DecisionAllow {
		t.Fatalf("expected ALLOW, got %s (reason=%s)", resp.Decision, resp.ReasonMessage)
	}
	if resp.MatchedRuleID != "high-clearance-backbone-access" {
		t.Fatalf("expected the HIGH_CLEARANCE rule to match, got %q", resp.MatchedRuleID)
	}
	if len(sink.commits) != 1 {
		t.Fatalf("expected exactly one ledger commit, got %d", len(sink.commits))
	}
}

// TestAuthorizeTrustedBandAllowLimited covers the same scenario's fallback:
// trust in (60,80] gets ALLOW_LIMITED with the TRUSTED constraints.
func TestAuthorizeTrustedBandAllowLimited(t *testing.T) {
	store := newFakeStore(PlatformBaselinePolicy())
	svc := NewService(store, NewRateLimiter(nil), &fakeSink{}, Config{CacheTTL: time.Minute})

	resp := svc.Authorize(context.Background(), AuthorizationRequest{
		SubjectID:   "subj-2",
		Trust:       70,
		Action:      ActionJobSubmit,
		Resource:    ResourceAttributes{VRAMGB: 24, GPUCount: 2, DurationHours: 8},
		RequestTime: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})

	if resp.Decision != DecisionAllowLimited {
		t.Fatalf("expected ALLOW_LIMITED, got %s", resp.Decision)
	}
	if resp.Constraints == nil || resp.Constraints.MaxVRAMGB != 80 || resp.Constraints.MaxGPUs != 4 {
		t.Fatalf("expected TRUSTED band constraints, got %+v", resp.Constraints)
	}
}

func TestAuthorizeStepUpOnHighRisk(t *testing.T) {
	store := newFakeStore(PlatformBaselinePolicy())
	svc := NewService(store, NewRateLimiter(nil), &fakeSink{}, Config{CacheTTL: time.Minute})

	resp := svc.Authorize(context.Background(), AuthorizationRequest{
		SubjectID: "subj-3",
		Trust:     85,
		Action:    ActionJobSubmit,
		Risk:      RiskContext{CurrentRiskScore: 80},
	})

	if resp.Decision != DecisionStepUp || resp.StepUpMethod != "MFA_REAUTH" {
		t.Fatalf("expected STEP_UP/MFA_REAUTH for high risk, got %s/%s", resp.Decision, resp.StepUpMethod)
	}
}

func TestAuthorizeAdminActionDeniedWithoutAdminClearance(t *testing.T) {
	store := newFakeStore(PlatformBaselinePolicy())
	svc := NewService(store, NewRateLimiter(nil), &fakeSink{}, Config{CacheTTL: time.Minute})

	resp := svc.Authorize(context.Background(), AuthorizationRequest{
		SubjectID: "subj-4",
		Trust:     90,
		Clearance: ClearanceEnterprise,
		Action:    ActionSubjectBan,
	})

	if resp.Decision != DecisionDeny {
		t.Fatalf("expected a non-admin SUBJECT_BAN attempt to fall through to the platform default deny, got %s", resp.Decision)
	}
}

func TestAuthorizeUniversityBlackoutDeniesHeavyCompute(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)
	blackouts := []Blackout{{InstitutionID: "univ-a", Start: start, End: end, MinVRAMGB: 8}}

	store := newFakeStore(PlatformBaselinePolicy(), UniversityTemplatePolicy("univ-a", blackouts))
	svc := NewService(store, NewRateLimiter(nil), &fakeSink{}, Config{CacheTTL: time.Minute})

	resp := svc.Authorize(context.Background(), AuthorizationRequest{
		SubjectID:     "student-1",
		SubjectType:   "STUDENT",
		Trust:         70,
		InstitutionID: "univ-a",
		Action:        ActionJobSubmit,
		Resource:      ResourceAttributes{VRAMGB: 16},
		RequestTime:   start.Add(time.Hour),
	})

	if resp.Decision != DecisionDeny {
		t.Fatalf("expected blackout to deny heavy compute, got %s", resp.Decision)
	}
	if resp.MatchedRuleID != "blackout-deny-heavy-compute" {
		t.Fatalf("expected the blackout rule to match, got %q", resp.MatchedRuleID)
	}
}

func TestAuthorizeStudentHalfLimitsDuringBusinessHours(t *testing.T) {
	store := newFakeStore(PlatformBaselinePolicy(), UniversityTemplatePolicy("univ-a", nil))
	svc := NewService(store, NewRateLimiter(nil), &fakeSink{}, Config{CacheTTL: time.Minute})

	// A Tuesday at 10:00 UTC.
	businessHours := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	resp := svc.Authorize(context.Background(), AuthorizationRequest{
		SubjectID:     "student-1",
		SubjectType:   "STUDENT",
		Trust:         70,
		InstitutionID: "univ-a",
		Action:        ActionJobSubmit,
		RequestTime:   businessHours,
	})
	if resp.Decision != DecisionAllowLimited || resp.Constraints.MaxVRAMGB != 12 {
		t.Fatalf("expected halved student limits during business hours, got %s/%+v", resp.Decision, resp.Constraints)
	}

	offHours := time.Date(2026, 3, 3, 22, 0, 0, 0, time.UTC)
	resp = svc.Authorize(context.Background(), AuthorizationRequest{
		SubjectID:     "student-1",
		SubjectType:   "STUDENT",
		Trust:         70,
		InstitutionID: "univ-a",
		Action:        ActionJobSubmit,
		RequestTime:   offHours,
	})
	if resp.Decision != DecisionAllow {
		t.Fatalf("expected full allocation off-hours, got %s", resp.Decision)
	}
}
