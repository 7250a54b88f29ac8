package detector

import (
	"context"
	"testing"
	"time"
)

type memStore struct {
	signals   []RuntimeSignals
	risk      map[string]RiskScore
	incidents map[string]Incident
	rules     map[string]DetectionRule
}

func newMemStore() *memStore {
	return &memStore{risk: map[string]RiskScore{}, incidents: map[string]Incident{}, rules: map[string]DetectionRule{}}
}

func (m *memStore) AppendSignals(ctx context.Context, s RuntimeSignals) error {
	m.signals = append(m.signals, s)
	return nil
}
func (m *memStore) WindowSince(ctx context.Context, jobID string, since time.Time) ([]RuntimeSignals, error) {
	var out []RuntimeSignals
	for _, s := range m.signals {
		if s.JobID == jobID && !s.ReportedAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}
func (m *memStore) SaveRiskScore(ctx context.Context, r RiskScore) error { m.risk[r.JobID] = r; return nil }
func (m *memStore) LatestRiskScore(ctx context.Context, jobID string) (RiskScore, error) {
	return m.risk[jobID], nil
}
func (m *memStore) SaveIncident(ctx context.Context, inc Incident) error {
	m.incidents[inc.IncidentID] = inc
	return nil
}
func (m *memStore) GetIncident(ctx context.Context, id string) (Incident, error) { return m.incidents[id], nil }
func (m *memStore) ActiveIncidents(ctx context.Context) ([]Incident, error) {
	var out []Incident
	for _, inc := range m.incidents {
		if inc.ResolvedAt == nil {
			out = append(out, inc)
		}
	}
	return out, nil
}
func (m *memStore) IncidentsForJob(ctx context.Context, jobID string) ([]Incident, error) {
	var out []Incident
	for _, inc := range m.incidents {
		if inc.JobID == jobID {
			out = append(out, inc)
		}
	}
	return out, nil
}
func (m *memStore) MarkFalsePositive(ctx context.Context, incidentID, notes string) error {
	inc := m.incidents[incidentID]
	inc.FalsePositive = true
	inc.FalsePositiveNotes = notes
	m.incidents[incidentID] = inc
	return nil
}
func (m *memStore) ActiveRules(ctx context.Context) ([]DetectionRule, error) {
	var out []DetectionRule
	for _, r := range m.rules {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}
func (m *memStore) SaveRule(ctx context.Context, r DetectionRule) error { m.rules[r.RuleID] = r; return nil }
func (m *memStore) GetRule(ctx context.Context, id string) (DetectionRule, error) {
	r, ok := m.rules[id]
	if !ok {
		return DetectionRule{}, errNotFoundDetector
	}
	return r, nil
}

type fakeLedgerSink struct {
	commits   []string
	evidences []string
}

func (f *fakeLedgerSink) Commit(ctx context.Context, eventType, subjectID, passportID, institutionID, targetID, targetType string, metadata map[string]string) error {
	f.commits = append(f.commits, eventType)
	return nil
}
func (f *fakeLedgerSink) GenerateEvidencePackage(ctx context.Context, kind, id string) (string, error) {
	f.evidences = append(f.evidences, kind+":"+id)
	return "evidence-" + id, nil
}

type fakeAtlasSink struct {
	suspended []string
	killed    []string
}

func (f *fakeAtlasSink) SuspendNode(ctx context.Context, nodeID, reason string) error {
	f.suspended = append(f.suspended, nodeID)
	return nil
}
func (f *fakeAtlasSink) KillJob(ctx context.Context, jobID, reason string) error {
	f.killed = append(f.killed, jobID)
	return nil
}

type fakeDextraSink struct {
	banned []string
}

func (f *fakeDextraSink) BanSubject(ctx context.Context, subjectID, reason, by string) error {
	f.banned = append(f.banned, subjectID)
	return nil
}

func TestEvaluateCryptoPoolEndToEndKillsAndBans(t *testing.T) {
	store := newMemStore()
	ledger := &fakeLedgerSink{}
	atlas := &fakeAtlasSink{}
	dextera := &fakeDextraSink{}

	svc := NewService(store, ledger, atlas, dextera, nil, Config{CryptoPoolDomains: []string{"minexmr.com"}})

	signals := RuntimeSignals{
		JobID:                  "job-1",
		NodeID:                 "node-1",
		ReportedAt:             time.Now().UTC(),
		SuspiciousDestinations: []string{"pool.minexmr.com"},
		GPUUtilPct:             99,
	}

	result, err := svc.Evaluate(context.Background(), signals, "subj-1", "univ-a")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Action != ActionKillAndBan {
		t.Fatalf("expected KILL_AND_BAN, got %s", result.Action)
	}
	if len(dextera.banned) != 1 || dextera.banned[0] != "subj-1" {
		t.Fatalf("expected subject subj-1 to be banned, got %+v", dextera.banned)
	}
	if len(atlas.killed) != 1 || atlas.killed[0] != "job-1" {
		t.Fatalf("expected job-1 to be killed, got %+v", atlas.killed)
	}
	if len(ledger.evidences) != 1 {
		t.Fatalf("expected exactly one evidence package generated before the destructive action, got %d", len(ledger.evidences))
	}
	if !containsEvent(ledger.commits, "KILL_SWITCH_FIRED") || !containsEvent(ledger.commits, "CLEARANCE_REVOKED") {
		t.Fatalf("expected KILL_SWITCH_FIRED and CLEARANCE_REVOKED entries, got %+v", ledger.commits)
	}

	incidents, _ := store.IncidentsForJob(context.Background(), "job-1")
	if len(incidents) != 1 {
		t.Fatalf("expected exactly one incident recorded, got %d", len(incidents))
	}
}

func TestEvaluateLowSeverityTakesNoAction(t *testing.T) {
	store := newMemStore()
	ledger := &fakeLedgerSink{}
	atlas := &fakeAtlasSink{}
	dextera := &fakeDextraSink{}
	svc := NewService(store, ledger, atlas, dextera, nil, Config{})

	result, err := svc.Evaluate(context.Background(), RuntimeSignals{JobID: "job-2", ReportedAt: time.Now().UTC()}, "subj-2", "")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.RequiresAction {
		t.Fatalf("expected a clean signals bundle to require no action")
	}
	if len(atlas.killed) != 0 || len(dextera.banned) != 0 {
		t.Fatalf("expected no destructive actions for a clean bundle")
	}
}

func containsEvent(events []string, want string) bool {
	for _, e := range events {
		if e == want {
			return true
		}
	}
	return false
}

var errNotFoundDetector = &ruleNotFoundErr{}

type ruleNotFoundErr struct{}

func (e *ruleNotFoundErr) Error() string { return "rule not found" }
