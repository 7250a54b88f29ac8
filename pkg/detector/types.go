// Package detector implements Tutela: runtime signal ingestion, tiered
// anomaly rules, composite risk scoring, and graduated response.
package detector

import "time"

// Severity is an anomaly or incident's urgency tier.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3,
}

// higherSeverity returns whichever of a, b ranks more urgent.
func higherSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// RuntimeSignals is one agent-reported telemetry bundle for an active job.
type RuntimeSignals struct {
	JobID                string
	NodeID               string
	GPUID                string
	ReportedAt           time.Time
	PowerDrawWatts       float64
	PowerCapWatts        float64
	VRAMUsedGB           float64
	VRAMAllocatedGB      float64
	Throttling           bool
	TemperatureC         float64
	UniqueDstIPs         int
	ARPScanDetected      bool
	SuspiciousDestinations []string
	TorExitIPMatch       bool
	OutboundBytesPerSec  float64
	GPUUtilPct           float64
	ComputePattern       string // e.g. "CRYPTO_MINING", "TRAINING", "INFERENCE"
	PoolConnection       bool
	DeclaredFramework    string
	DetectedFramework    string
	UnexpectedProcesses  []string
	PrivilegeEscalations int
}

// Anomaly is one rule firing against a signals window.
type Anomaly struct {
	Kind      string
	Severity  Severity
	Tier      int
	Detail    string
	JobID     string
	DetectedAt time.Time
}

// RiskScore is the composite 0-100 risk breakdown persisted per job.
type RiskScore struct {
	JobID        string
	PowerRisk    int
	NetworkRisk  int
	ProcessRisk  int
	WorkloadRisk int
	Composite    int
	ComputedAt   time.Time
}

// ResponseAction is the graduated reaction to an evaluation's worst anomaly.
type ResponseAction string

const (
	ActionLogOnly       ResponseAction = "LOG_ONLY"
	ActionWarnSubject   ResponseAction = "WARN_SUBJECT"
	ActionKillJob       ResponseAction = "KILL_JOB"
	ActionKillAndSuspend ResponseAction = "KILL_AND_SUSPEND"
	ActionKillAndBan    ResponseAction = "KILL_AND_BAN"
)

// networkCritical are the anomaly kinds whose CRITICAL severity escalates to
// KILL_AND_BAN rather than KILL_AND_SUSPEND.
var networkCritical = map[string]bool{
	"PORT_SCAN": true, "ARP_SCAN": true, "CRYPTO_POOL_CONNECTION": true,
	"DATA_EXFILTRATION": true, "CRYPTO_MINING": true, "BOTNET_C2": true,
}

// EvaluationResult is evaluate()'s return value.
type EvaluationResult struct {
	Anomalies      []Anomaly
	RiskScore      RiskScore
	RequiresAction bool
	Action         ResponseAction
}

// Incident is a persisted record of a detector response.
type Incident struct {
	IncidentID        string
	JobID              string
	SubjectID          string
	NodeID             string
	InstitutionID      string
	Severity           Severity
	Anomalies          []Anomaly
	ActionTaken        ResponseAction
	FalsePositive      bool
	FalsePositiveNotes string
	CreatedAt          time.Time
	ResolvedAt         *time.Time
}

// DetectionRule is an operator-tunable rule definition. Built-in rules are
// expressed in code (see rules.go); this type models the stored rule
// records: the built-in set written by SeedDefaultRules and operator-added
// rules spawned from incidents as part of the rule lifecycle.
type DetectionRule struct {
	RuleID            string
	Name              string
	Version           string // semver, e.g. "1.0.3"
	Tier              int
	Kind              string
	Severity          Severity
	Config            map[string]float64
	Active            bool
	FalsePositiveCount int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Config tunes Tutela's thresholds.
type Config struct {
	SignalEvalInterval     time.Duration
	RiskScoreWindow        time.Duration
	PowerGracePct          float64
	NetworkBaselineBytesPS float64
	CryptoPoolDomains      []string
	TorExitIPs             []string
	EnableEmergencyHalt    bool
}

func (c Config) withDefaults() Config {
	if c.SignalEvalInterval <= 0 {
		c.SignalEvalInterval = 10 * time.Second
	}
	if c.RiskScoreWindow <= 0 {
		c.RiskScoreWindow = 300 * time.Second
	}
	if c.PowerGracePct <= 0 {
		c.PowerGracePct = 5
	}
	if c.NetworkBaselineBytesPS <= 0 {
		c.NetworkBaselineBytesPS = 10 * 1024 * 1024
	}
	return c
}
