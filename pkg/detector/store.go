package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodes-trust/custodes/internal/db"
)

// DBStore persists signals, risk scores, incidents, and rules relationally.
type DBStore struct {
	db db.DBTX
}

// NewDBStore creates a DBStore backed by dbtx.
func NewDBStore(dbtx db.DBTX) *DBStore {
	return &DBStore{db: dbtx}
}

// AppendSignals inserts one signals bundle into the rolling window table.
func (s *DBStore) AppendSignals(ctx context.Context, sig RuntimeSignals) error {
	raw, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshalling signals: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO signals (job_id, node_id, gpu_id, reported_at, payload)
		VALUES ($1,$2,$3,$4,$5)
	`, sig.JobID, sig.NodeID, sig.GPUID, sig.ReportedAt, raw)
	if err != nil {
		return fmt.Errorf("appending signals: %w", err)
	}
	return nil
}

// WindowSince returns every signals bundle for jobID reported at or after
// since, ascending, for the 300s rolling window.
func (s *DBStore) WindowSince(ctx context.Context, jobID string, since time.Time) ([]RuntimeSignals, error) {
	rows, err := s.db.Query(ctx, `
		SELECT payload FROM signals WHERE job_id = $1 AND reported_at >= $2 ORDER BY reported_at ASC
	`, jobID, since)
	if err != nil {
		return nil, fmt.Errorf("reading signal window: %w", err)
	}
	defer rows.Close()

	var out []RuntimeSignals
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning signals: %w", err)
		}
		var sig RuntimeSignals
		if err := json.Unmarshal(raw, &sig); err != nil {
			return nil, fmt.Errorf("unmarshalling signals: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// SaveRiskScore upserts the latest composite risk score for a job.
func (s *DBStore) SaveRiskScore(ctx context.Context, r RiskScore) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO risk_scores (job_id, power_risk, network_risk, process_risk, workload_risk, composite, computed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (job_id) DO UPDATE SET
			power_risk = EXCLUDED.power_risk, network_risk = EXCLUDED.network_risk,
			process_risk = EXCLUDED.process_risk, workload_risk = EXCLUDED.workload_risk,
			composite = EXCLUDED.composite, computed_at = EXCLUDED.computed_at
	`, r.JobID, r.PowerRisk, r.NetworkRisk, r.ProcessRisk, r.WorkloadRisk, r.Composite, r.ComputedAt)
	if err != nil {
		return fmt.Errorf("saving risk score: %w", err)
	}
	return nil
}

// LatestRiskScore returns the persisted risk score for a job.
func (s *DBStore) LatestRiskScore(ctx context.Context, jobID string) (RiskScore, error) {
	var r RiskScore
	err := s.db.QueryRow(ctx, `
		SELECT job_id, power_risk, network_risk, process_risk, workload_risk, composite, computed_at
		FROM risk_scores WHERE job_id = $1
	`, jobID).Scan(&r.JobID, &r.PowerRisk, &r.NetworkRisk, &r.ProcessRisk, &r.WorkloadRisk, &r.Composite, &r.ComputedAt)
	if err != nil {
		return RiskScore{}, fmt.Errorf("reading risk score for %s: %w", jobID, err)
	}
	return r, nil
}

// SaveIncident inserts an incident record.
func (s *DBStore) SaveIncident(ctx context.Context, inc Incident) error {
	anomalies, err := json.Marshal(inc.Anomalies)
	if err != nil {
		return fmt.Errorf("marshalling anomalies: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO incidents (incident_id, job_id, subject_id, node_id, institution_id, severity,
			anomalies, action_taken, false_positive, false_positive_notes, created_at, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, inc.IncidentID, inc.JobID, inc.SubjectID, inc.NodeID, nullableString(inc.InstitutionID), string(inc.Severity),
		anomalies, string(inc.ActionTaken), inc.FalsePositive, inc.FalsePositiveNotes, inc.CreatedAt, inc.ResolvedAt)
	if err != nil {
		return fmt.Errorf("saving incident %s: %w", inc.IncidentID, err)
	}
	return nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

const incidentColumns = `incident_id, job_id, subject_id, node_id, institution_id, severity,
	anomalies, action_taken, false_positive, false_positive_notes, created_at, resolved_at`

func scanIncident(row interface{ Scan(dest ...any) error }) (Incident, error) {
	var inc Incident
	var institutionID *string
	var anomalies []byte
	if err := row.Scan(&inc.IncidentID, &inc.JobID, &inc.SubjectID, &inc.NodeID, &institutionID, &inc.Severity,
		&anomalies, &inc.ActionTaken, &inc.FalsePositive, &inc.FalsePositiveNotes, &inc.CreatedAt, &inc.ResolvedAt); err != nil {
		return Incident{}, err
	}
	if institutionID != nil {
		inc.InstitutionID = *institutionID
	}
	if len(anomalies) > 0 {
		_ = json.Unmarshal(anomalies, &inc.Anomalies)
	}
	return inc, nil
}

// GetIncident returns an incident by id.
func (s *DBStore) GetIncident(ctx context.Context, incidentID string) (Incident, error) {
	row := s.db.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE incident_id = $1`, incidentID)
	inc, err := scanIncident(row)
	if err != nil {
		return Incident{}, fmt.Errorf("getting incident %s: %w", incidentID, err)
	}
	return inc, nil
}

// ActiveIncidents returns every unresolved incident.
func (s *DBStore) ActiveIncidents(ctx context.Context) ([]Incident, error) {
	rows, err := s.db.Query(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE resolved_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing active incidents: %w", err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// IncidentsForJob returns every incident raised against a job.
func (s *DBStore) IncidentsForJob(ctx context.Context, jobID string) ([]Incident, error) {
	rows, err := s.db.Query(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE job_id = $1 ORDER BY created_at DESC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing incidents for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// MarkFalsePositive flips an incident's false-positive flag and notes.
func (s *DBStore) MarkFalsePositive(ctx context.Context, incidentID, notes string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE incidents SET false_positive = true, false_positive_notes = $1, resolved_at = now() WHERE incident_id = $2
	`, notes, incidentID)
	if err != nil {
		return fmt.Errorf("marking incident %s false positive: %w", incidentID, err)
	}
	return nil
}

const ruleColumns = `rule_id, name, version, tier, kind, severity, config, active, false_positive_count, created_at, updated_at`

func scanRule(row interface{ Scan(dest ...any) error }) (DetectionRule, error) {
	var r DetectionRule
	var config []byte
	if err := row.Scan(&r.RuleID, &r.Name, &r.Version, &r.Tier, &r.Kind, &r.Severity, &config,
		&r.Active, &r.FalsePositiveCount, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return DetectionRule{}, err
	}
	if len(config) > 0 {
		_ = json.Unmarshal(config, &r.Config)
	}
	return r, nil
}

// ActiveRules returns every active rule. The result is not cached.
func (s *DBStore) ActiveRules(ctx context.Context) ([]DetectionRule, error) {
	rows, err := s.db.Query(ctx, `SELECT `+ruleColumns+` FROM detection_rules WHERE active = true`)
	if err != nil {
		return nil, fmt.Errorf("listing active rules: %w", err)
	}
	defer rows.Close()

	var out []DetectionRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveRule inserts or updates a rule definition.
func (s *DBStore) SaveRule(ctx context.Context, r DetectionRule) error {
	config, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("marshalling rule config: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO detection_rules (rule_id, name, version, tier, kind, severity, config, active,
			false_positive_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (rule_id) DO UPDATE SET
			name = EXCLUDED.name, version = EXCLUDED.version, config = EXCLUDED.config,
			active = EXCLUDED.active, false_positive_count = EXCLUDED.false_positive_count, updated_at = EXCLUDED.updated_at
	`, r.RuleID, r.Name, r.Version, r.Tier, r.Kind, string(r.Severity), config, r.Active,
		r.FalsePositiveCount, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving rule %s: %w", r.RuleID, err)
	}
	return nil
}

// GetRule returns a rule by id.
func (s *DBStore) GetRule(ctx context.Context, ruleID string) (DetectionRule, error) {
	row := s.db.QueryRow(ctx, `SELECT `+ruleColumns+` FROM detection_rules WHERE rule_id = $1`, ruleID)
	r, err := scanRule(row)
	if err != nil {
		return DetectionRule{}, fmt.Errorf("getting rule %s: %w", ruleID, err)
	}
	return r, nil
}

// SeedDefaultRules installs the built-in Tier-1..4 rules as DetectionRule
// records so they're visible to tune_rule/mark_false_positive tooling.
func (s *DBStore) SeedDefaultRules(ctx context.Context) error {
	now := time.Now().UTC()
	for _, r := range defaultRules(now) {
		if err := s.SaveRule(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func defaultRules(now time.Time) []DetectionRule {
	mk := func(id, name string, tier int, kind string, sev Severity, cfg map[string]float64) DetectionRule {
		return DetectionRule{RuleID: id, Name: name, Version: "1.0.0", Tier: tier, Kind: kind, Severity: sev,
			Config: cfg, Active: true, CreatedAt: now, UpdatedAt: now}
	}
	return []DetectionRule{
		mk("power-violation", "Power draw exceeds cap", 1, "POWER_VIOLATION", SeverityMedium, map[string]float64{"grace_pct": 5}),
		mk("vram-overclaim", "VRAM usage exceeds allocation", 1, "VRAM_OVERCLAIM", SeverityMedium, map[string]float64{"ratio": 1.2}),
		mk("thermal-throttle", "Sustained thermal throttling", 1, "THERMAL_THROTTLE_SUSTAINED", SeverityMedium, map[string]float64{"temp_c": 85}),
		mk("port-scan", "Unique destination IP fan-out", 2, "PORT_SCAN", SeverityCritical, map[string]float64{"unique_ips": 50}),
		mk("arp-scan", "ARP scan detected", 2, "ARP_SCAN", SeverityCritical, nil),
		mk("crypto-pool", "Crypto pool domain connection", 2, "CRYPTO_POOL_CONNECTION", SeverityCritical, nil),
		mk("tor-exit", "Tor exit node connection", 2, "TOR_EXIT_CONNECTION", SeverityHigh, nil),
		mk("exfiltration", "Outbound traffic far exceeds baseline", 2, "DATA_EXFILTRATION", SeverityHigh, map[string]float64{"multiplier": 5}),
		mk("crypto-mining", "Crypto mining workload pattern", 3, "CRYPTO_MINING", SeverityCritical, map[string]float64{"gpu_util_pct": 95}),
		mk("framework-mismatch", "Declared/detected framework mismatch", 3, "FRAMEWORK_MISMATCH", SeverityMedium, nil),
		mk("unexpected-process", "Unexpected process observed", 4, "UNEXPECTED_PROCESS", SeverityHigh, nil),
		mk("privilege-escalation", "Privilege escalation attempt", 4, "PRIVILEGE_ESCALATION", SeverityCritical, nil),
	}
}
