// Package ledger implements Obsidian, the hash-chained append-only audit
// ledger: atomic commit, Merkle sealing, filtered query, chain verification,
// evidence packages, and the dispute lifecycle. It wraps pkg/hashchain's pure
// functions with durable storage and a sealing/eviction policy.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Severity bands a ledger entry's operational weight.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeveritySecurity Severity = "SECURITY"
)

// Event types emitted across the five pillars. Every cross-pillar operation
// that changes state commits one of these.
const (
	EventPassportIssued     = "PASSPORT_ISSUED"
	EventPassportRevoked    = "PASSPORT_REVOKED"
	EventSubjectBanned      = "SUBJECT_BANNED"
	EventClearanceRevoked   = "CLEARANCE_REVOKED"
	EventAuthFailed         = "AUTH_FAILED"
	EventPolicyDecision     = "POLICY_DECISION"
	EventPolicyDeny         = "POLICY_DENY"
	EventPolicyUpdated      = "POLICY_UPDATED"
	EventNodeRegistered     = "NODE_REGISTERED"
	EventGPURegistered      = "GPU_REGISTERED"
	EventNodeOffline        = "NODE_OFFLINE"
	EventNodeSuspended      = "NODE_SUSPENDED"
	EventAllocationCreated  = "ALLOCATION_CREATED"
	EventAllocationReleased = "ALLOCATION_RELEASED"
	EventAllocationExpired  = "ALLOCATION_EXPIRED"
	EventJobFailed          = "JOB_FAILED"
	EventBenchmarkFailed    = "BENCHMARK_FAILED"
	EventAnomalyDetected    = "ANOMALY_DETECTED"
	EventKillSwitchFired    = "KILL_SWITCH_FIRED"
	EventIncidentCreated    = "INCIDENT_CREATED"
	EventDisputeOpened      = "DISPUTE_OPENED"
	EventDisputeResolved    = "DISPUTE_RESOLVED"
	EventRefundIssued       = "REFUND_ISSUED"
)

// securityEvents get SECURITY severity by default: bans, anomalies, threats,
// kill-switch, and clearance revocation.
var securityEvents = map[string]bool{
	EventSubjectBanned:    true,
	EventClearanceRevoked: true,
	EventAnomalyDetected:  true,
	EventKillSwitchFired:  true,
	EventNodeSuspended:    true,
}

// warnEvents get WARN severity by default: auth failures, policy denies,
// job/benchmark failures, and dispute-opened.
var warnEvents = map[string]bool{
	EventAuthFailed:      true,
	EventPolicyDeny:      true,
	EventJobFailed:       true,
	EventBenchmarkFailed: true,
	EventDisputeOpened:   true,
}

// DefaultSeverity maps an event type to its default severity band. Callers
// may still override by passing an explicit severity on CommitEventRequest.
func DefaultSeverity(eventType string) Severity {
	if securityEvents[eventType] {
		return SeveritySecurity
	}
	if warnEvents[eventType] {
		return SeverityWarn
	}
	return SeverityInfo
}

// Entry is an immutable ledger record as persisted and returned by Query.
type Entry struct {
	EntryID       uuid.UUID
	BlockIndex    int64
	EventType     string
	Severity      Severity
	SubjectID     string
	PassportID    string
	InstitutionID string
	TargetID      string
	TargetType    string
	Metadata      map[string]string
	IPHash        string
	Region        string
	Timestamp     time.Time
	Sequence      int64
	PrevHash      string
	PayloadHash   string
	BlockHash     string
	MerkleRoot    string
}

// CommitEventRequest is the input to Commit. It carries no EntryID or
// Timestamp; Commit always assigns both.
type CommitEventRequest struct {
	EventType     string
	Severity      Severity // optional; DefaultSeverity(EventType) if empty
	SubjectID     string
	PassportID    string
	InstitutionID string
	TargetID      string
	TargetType    string
	Metadata      map[string]string
	IP            string // raw IP, hashed before storage, never persisted raw
	Region        string
}

// CommitResult is returned by Commit.
type CommitResult struct {
	EntryID    uuid.UUID
	BlockIndex int64
	BlockHash  string
	Timestamp  time.Time
}

// Filter selects entries for Query.
type Filter struct {
	SubjectID     string
	TargetID      string
	InstitutionID string
	EventTypes    []string
	Severities    []Severity
	From          time.Time
	To            time.Time
	Limit         int
	Offset        int
}

// QueryResult is the paginated response from Query.
type QueryResult struct {
	Entries   []Entry
	Total     int
	FromBlock int64
	ToBlock   int64
	QueryHash string
}

// MerkleBlock seals entries [EntryStart..EntryEnd] together.
type MerkleBlock struct {
	BlockNumber int64
	EntryStart  int64
	EntryEnd    int64
	Leaves      []string
	MerkleRoot  string
	SealedAt    time.Time
	SealedBy    string
	Signature   string
}

// EvidencePackage bundles related entries with a Merkle proof per entry,
// signed as a unit.
type EvidencePackage struct {
	PackageID  uuid.UUID
	Kind       string
	RelatedID  string
	EntryCount int
	MerkleRoot string
	Entries    []Entry
	Proofs     map[uuid.UUID][]string // entry_id -> sibling path
	Signature  string
	CreatedAt  time.Time
}

// VerifyRangeResult is returned by VerifyChainRange.
type VerifyRangeResult struct {
	Valid            bool
	FirstInvalidBlk  int64
	EntriesChecked   int
	Err              error
}

// Dispute reasons and lifecycle.
type DisputeReason string

const (
	DisputeUnderperformance DisputeReason = "UNDERPERFORMANCE"
	DisputeHostFault        DisputeReason = "HOST_FAULT"
	DisputeAbuse            DisputeReason = "ABUSE"
	DisputeUnauthorized     DisputeReason = "UNAUTHORIZED"
	DisputeBilling          DisputeReason = "BILLING"
	DisputeBreach           DisputeReason = "BREACH"
	DisputeSLA              DisputeReason = "SLA"
	DisputeFraud            DisputeReason = "FRAUD"
)

type DisputeStatus string

const (
	DisputeOpen       DisputeStatus = "OPEN"
	DisputeEvidence   DisputeStatus = "EVIDENCE"
	DisputeReviewing  DisputeStatus = "REVIEWING"
	DisputeResolved   DisputeStatus = "RESOLVED"
	DisputeEscalated  DisputeStatus = "ESCALATED"
)

// Dispute is the billing/SLA dispute record opened against a job.
type Dispute struct {
	DisputeID       uuid.UUID
	JobID           string
	SubjectID       string
	Reason          DisputeReason
	Status          DisputeStatus
	Outcome         string
	Refund          float64
	EvidenceEntryID []uuid.UUID
	OpenedAt        time.Time
	ResolvedAt      *time.Time
	ResolvedBy      string
}
