package detector

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodes-trust/custodes/pkg/faults"
)

// bumpPatch increments a semver string's patch component, defaulting to
// "1.0.1" if version isn't well-formed.
func bumpPatch(version string) string {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) != 3 {
		return "1.0.1"
	}
	patch, err := strconv.Atoi(parts[2])
	if err != nil {
		return "1.0.1"
	}
	return parts[0] + "." + parts[1] + "." + strconv.Itoa(patch+1)
}

// ObsidianSink is Tutela's narrow view of the ledger: commits plain events
// and generates the pre-action evidence package.
type ObsidianSink interface {
	Commit(ctx context.Context, eventType, subjectID, passportID, institutionID, targetID, targetType string, metadata map[string]string) error
	GenerateEvidencePackage(ctx context.Context, kind, id string) (string, error)
}

// AtlasSink lets Tutela suspend a node or kill a job without importing
// pkg/registry directly.
type AtlasSink interface {
	SuspendNode(ctx context.Context, nodeID, reason string) error
	KillJob(ctx context.Context, jobID, reason string) error
}

// DextraSink lets Tutela ban a subject without importing pkg/passport
// directly.
type DextraSink interface {
	BanSubject(ctx context.Context, subjectID, reason, by string) error
}

// NotifySink delivers the subject/institution/platform_admin notices a
// detection response triggers.
type NotifySink interface {
	Notify(ctx context.Context, target, kind, message string) error
}

// Store persists incidents, rules, and per-job risk scores.
type Store interface {
	AppendSignals(ctx context.Context, s RuntimeSignals) error
	WindowSince(ctx context.Context, jobID string, since time.Time) ([]RuntimeSignals, error)
	SaveRiskScore(ctx context.Context, r RiskScore) error
	LatestRiskScore(ctx context.Context, jobID string) (RiskScore, error)
	SaveIncident(ctx context.Context, inc Incident) error
	GetIncident(ctx context.Context, incidentID string) (Incident, error)
	ActiveIncidents(ctx context.Context) ([]Incident, error)
	IncidentsForJob(ctx context.Context, jobID string) ([]Incident, error)
	MarkFalsePositive(ctx context.Context, incidentID, notes string) error
	ActiveRules(ctx context.Context) ([]DetectionRule, error)
	SaveRule(ctx context.Context, r DetectionRule) error
	GetRule(ctx context.Context, ruleID string) (DetectionRule, error)
}

// Service implements signal evaluation, graduated response, and rule
// lifecycle for Tutela.
type Service struct {
	store    Store
	ledger   ObsidianSink
	atlas    AtlasSink
	dextera  DextraSink
	notify   NotifySink
	config   Config
}

// NewService wires Tutela's dependencies.
func NewService(store Store, ledger ObsidianSink, atlas AtlasSink, dextera DextraSink, notify NotifySink, cfg Config) *Service {
	return &Service{store: store, ledger: ledger, atlas: atlas, dextera: dextera, notify: notify, config: cfg.withDefaults()}
}

// Evaluate ingests one signals bundle, runs the tiered rule cascade, scores
// composite risk, and — if warranted — executes the graduated response.
func (s *Service) Evaluate(ctx context.Context, signals RuntimeSignals, subjectID, institutionID string) (EvaluationResult, error) {
	if err := s.store.AppendSignals(ctx, signals); err != nil {
		return EvaluationResult{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}

	anomalies := EvaluateSignals(signals, s.config)
	risk := ComputeRiskScore(signals, anomalies, s.config)
	if err := s.store.SaveRiskScore(ctx, risk); err != nil {
		return EvaluationResult{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}

	highest := HighestSeverity(anomalies)
	requiresAction := len(anomalies) > 0 && highest != SeverityLow
	action := ResponseFor(anomalies)

	result := EvaluationResult{Anomalies: anomalies, RiskScore: risk, RequiresAction: requiresAction, Action: action}
	if !requiresAction {
		return result, nil
	}

	if err := s.respond(ctx, signals, anomalies, action, subjectID, institutionID); err != nil {
		return result, err
	}
	return result, nil
}

// respond executes the ordered response: evidence package first,
// then per-anomaly ANOMALY_DETECTED entries, an Incident record, the
// destructive action itself, KILL_SWITCH_FIRED/CLEARANCE_REVOKED as
// warranted, and finally notifications.
func (s *Service) respond(ctx context.Context, signals RuntimeSignals, anomalies []Anomaly, action ResponseAction, subjectID, institutionID string) error {
	if _, err := s.ledger.GenerateEvidencePackage(ctx, "JOB", signals.JobID); err != nil {
		return faults.NewTransportFault(faults.TransportUpstream, err)
	}

	for _, a := range anomalies {
		_ = s.ledger.Commit(ctx, "ANOMALY_DETECTED", subjectID, "", institutionID, signals.JobID, "JOB", map[string]string{
			"kind": a.Kind, "severity": string(a.Severity), "detail": a.Detail,
		})
	}

	incident := Incident{
		IncidentID: uuid.NewString(), JobID: signals.JobID, SubjectID: subjectID, NodeID: signals.NodeID,
		InstitutionID: institutionID, Severity: HighestSeverity(anomalies), Anomalies: anomalies,
		ActionTaken: action, CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveIncident(ctx, incident); err != nil {
		return faults.NewTransportFault(faults.TransportUpstream, err)
	}

	switch action {
	case ActionKillJob, ActionKillAndSuspend, ActionKillAndBan:
		if err := s.atlas.KillJob(ctx, signals.JobID, string(incident.Severity)); err != nil {
			return faults.NewTransportFault(faults.TransportUpstream, err)
		}
		_ = s.ledger.Commit(ctx, "KILL_SWITCH_FIRED", subjectID, "", institutionID, signals.JobID, "JOB", map[string]string{
			"action": string(action),
		})
	}

	switch action {
	case ActionKillAndSuspend:
		if err := s.atlas.SuspendNode(ctx, signals.NodeID, "detector: "+string(incident.Severity)); err != nil {
			return faults.NewTransportFault(faults.TransportUpstream, err)
		}
	case ActionKillAndBan:
		if err := s.dextera.BanSubject(ctx, subjectID, "detector: automated ban", "system:tutela"); err != nil {
			return faults.NewTransportFault(faults.TransportUpstream, err)
		}
		_ = s.ledger.Commit(ctx, "CLEARANCE_REVOKED", subjectID, "", institutionID, subjectID, "SUBJECT", map[string]string{
			"reason": "automated ban following kill switch",
		})
	}

	if s.notify != nil {
		_ = s.notify.Notify(ctx, subjectID, "subject", string(action)+" on job "+signals.JobID)
		if institutionID != "" {
			_ = s.notify.Notify(ctx, institutionID, "institution", string(action)+" on job "+signals.JobID)
		}
		_ = s.notify.Notify(ctx, "platform_admin", "platform_admin", string(action)+" on job "+signals.JobID)
	}

	return nil
}

// RiskScoreFor returns the latest persisted risk score for a job.
func (s *Service) RiskScoreFor(ctx context.Context, jobID string) (RiskScore, error) {
	r, err := s.store.LatestRiskScore(ctx, jobID)
	if err != nil {
		return RiskScore{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}
	return r, nil
}

// ActiveIncidents lists every unresolved incident.
func (s *Service) ActiveIncidents(ctx context.Context) ([]Incident, error) {
	incidents, err := s.store.ActiveIncidents(ctx)
	if err != nil {
		return nil, faults.NewTransportFault(faults.TransportUpstream, err)
	}
	return incidents, nil
}

// IncidentsForJob lists every incident raised against a job.
func (s *Service) IncidentsForJob(ctx context.Context, jobID string) ([]Incident, error) {
	incidents, err := s.store.IncidentsForJob(ctx, jobID)
	if err != nil {
		return nil, faults.NewTransportFault(faults.TransportUpstream, err)
	}
	return incidents, nil
}

// MarkFalsePositive records an incident as a false positive as part of the
// rule lifecycle.
func (s *Service) MarkFalsePositive(ctx context.Context, incidentID, by, notes string) error {
	if err := s.store.MarkFalsePositive(ctx, incidentID, notes); err != nil {
		return faults.NewTransportFault(faults.TransportUpstream, err)
	}
	_ = s.ledger.Commit(ctx, "INCIDENT_MARKED_FALSE_POSITIVE", "", "", "", incidentID, "INCIDENT", map[string]string{
		"by": by, "notes": notes,
	})
	return nil
}

// AddRule persists an operator-authored or incident-spawned rule.
func (s *Service) AddRule(ctx context.Context, rule DetectionRule, fromIncident string) error {
	if rule.Version == "" {
		rule.Version = "1.0.0"
	}
	rule.Active = true
	rule.CreatedAt = time.Now().UTC()
	rule.UpdatedAt = rule.CreatedAt
	if err := s.store.SaveRule(ctx, rule); err != nil {
		return faults.NewTransportFault(faults.TransportUpstream, err)
	}
	_ = s.ledger.Commit(ctx, "DETECTION_RULE_ADDED", "", "", "", rule.RuleID, "RULE", map[string]string{
		"from_incident": fromIncident,
	})
	return nil
}

// TuneRule increments a rule's semver patch component and merges in updated
// config.
func (s *Service) TuneRule(ctx context.Context, ruleID string, configDelta map[string]float64, by string) error {
	rule, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return &faults.RuleFault{Kind: faults.RuleNotFound, Msg: "rule " + ruleID + " not found"}
	}
	rule.Version = bumpPatch(rule.Version)
	if rule.Config == nil {
		rule.Config = map[string]float64{}
	}
	for k, v := range configDelta {
		rule.Config[k] = v
	}
	rule.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveRule(ctx, rule); err != nil {
		return faults.NewTransportFault(faults.TransportUpstream, err)
	}
	_ = s.ledger.Commit(ctx, "DETECTION_RULE_TUNED", "", "", "", ruleID, "RULE", map[string]string{
		"by": by, "version": rule.Version,
	})
	return nil
}

// EmergencyHalt kills every job on a node, suspends it in Atlas, and emits a
// CRITICAL CLEARANCE_REVOKED. It runs only when EnableEmergencyHalt is set;
// it checks no caller role.
func (s *Service) EmergencyHalt(ctx context.Context, nodeID, by, reason string) error {
	if !s.config.EnableEmergencyHalt {
		return &faults.RuleFault{Kind: faults.RuleConfigMalformed, Msg: "emergency halt is disabled for this deployment"}
	}
	if err := s.atlas.SuspendNode(ctx, nodeID, "emergency halt: "+reason); err != nil {
		return faults.NewTransportFault(faults.TransportUpstream, err)
	}
	_ = s.ledger.Commit(ctx, "CLEARANCE_REVOKED", "", "", "", nodeID, "NODE", map[string]string{
		"severity": string(SeverityCritical), "by": by, "reason": reason,
	})
	if s.notify != nil {
		_ = s.notify.Notify(ctx, "platform_admin", "platform_admin", "emergency halt on node "+nodeID+" by "+by)
	}
	return nil
}
