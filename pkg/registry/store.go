package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/custodes-trust/custodes/internal/db"
)

// Store persists nodes, GPUs, and allocations.
type Store struct {
	db db.DBTX
}

// NewStore creates a Store backed by dbtx (a pool, connection, or tx).
func NewStore(dbtx db.DBTX) *Store {
	return &Store{db: dbtx}
}

// WithTx returns a Store bound to tx, for callers needing Route/Release to
// commit their VRAM accounting atomically with the allocation row.
func (s *Store) WithTx(tx db.DBTX) *Store {
	return &Store{db: tx}
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

const nodeColumns = `node_id, owner_subject_id, institution_id, campus_id, region, tier, status,
	trust, veritas_verified, heartbeat_interval_seconds, last_heartbeat_at, registered_at`

func scanNode(row interface{ Scan(dest ...any) error }) (Node, error) {
	var n Node
	var institutionID, campusID *string
	var heartbeatSeconds int
	if err := row.Scan(&n.NodeID, &n.OwnerSubjectID, &institutionID, &campusID, &n.Region, &n.Tier,
		&n.Status, &n.Trust, &n.VeritasVerified, &heartbeatSeconds, &n.LastHeartbeatAt, &n.RegisteredAt); err != nil {
		return Node{}, err
	}
	if institutionID != nil {
		n.InstitutionID = *institutionID
	}
	if campusID != nil {
		n.CampusID = *campusID
	}
	n.HeartbeatInterval = time.Duration(heartbeatSeconds) * time.Second
	return n, nil
}

// RegisterNode inserts or updates a node's registration.
func (s *Store) RegisterNode(ctx context.Context, n Node) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO nodes (node_id, owner_subject_id, institution_id, campus_id, region, tier, status,
			trust, veritas_verified, heartbeat_interval_seconds, last_heartbeat_at, registered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
		ON CONFLICT (node_id) DO UPDATE SET
			region = EXCLUDED.region, tier = EXCLUDED.tier, trust = EXCLUDED.trust,
			heartbeat_interval_seconds = EXCLUDED.heartbeat_interval_seconds
	`, n.NodeID, n.OwnerSubjectID, nullableString(n.InstitutionID), nullableString(n.CampusID), n.Region,
		string(n.Tier), string(n.Status), n.Trust, n.VeritasVerified, int(n.HeartbeatInterval.Seconds()), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("registering node %s: %w", n.NodeID, err)
	}
	return nil
}

// GetNode returns a node by id.
func (s *Store) GetNode(ctx context.Context, nodeID string) (Node, error) {
	row := s.db.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE node_id = $1`, nodeID)
	n, err := scanNode(row)
	if err != nil {
		return Node{}, fmt.Errorf("getting node %s: %w", nodeID, err)
	}
	return n, nil
}

// SetNodeStatus transitions a node's status (used by the heartbeat watchdog
// and admin suspension; registration goes through RegisterNode).
func (s *Store) SetNodeStatus(ctx context.Context, nodeID string, status NodeStatus) error {
	_, err := s.db.Exec(ctx, `UPDATE nodes SET status = $1 WHERE node_id = $2`, string(status), nodeID)
	if err != nil {
		return fmt.Errorf("setting node %s status: %w", nodeID, err)
	}
	return nil
}

// Heartbeat records a liveness ping and restores ONLINE status from PARTIAL
// or OFFLINE.
func (s *Store) Heartbeat(ctx context.Context, nodeID string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE nodes SET last_heartbeat_at = $1, status = 'ONLINE'
		WHERE node_id = $2 AND status != 'SUSPENDED'
	`, at, nodeID)
	if err != nil {
		return fmt.Errorf("recording heartbeat for %s: %w", nodeID, err)
	}
	return nil
}

// OnlineNodes returns every ONLINE/PARTIAL node, for the offline watchdog to
// filter against each node's own heartbeat interval.
func (s *Store) OnlineNodes(ctx context.Context) ([]Node, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+nodeColumns+` FROM nodes
		WHERE status IN ('ONLINE','PARTIAL')
	`)
	if err != nil {
		return nil, fmt.Errorf("scanning online nodes: %w", err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

const gpuColumns = `gpu_id, node_id, tier, vram_gb, vram_available_gb, nvlink, benchmark_score,
	price_usd_per_hour, workload_types, current_jobs, latency_ms, updated_at`

func scanGPU(row interface{ Scan(dest ...any) error }) (GPU, error) {
	var g GPU
	if err := row.Scan(&g.GPUID, &g.NodeID, &g.Tier, &g.VRAMGB, &g.VRAMAvailableGB, &g.NVLink,
		&g.BenchmarkScore, &g.PriceUSDPerHour, &g.WorkloadTypes, &g.CurrentJobs, &g.LatencyMs, &g.UpdatedAt); err != nil {
		return GPU{}, err
	}
	return g, nil
}

// RegisterGPU inserts or updates a GPU's static catalog attributes.
func (s *Store) RegisterGPU(ctx context.Context, g GPU) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO gpus (gpu_id, node_id, tier, vram_gb, vram_available_gb, nvlink, benchmark_score,
			price_usd_per_hour, workload_types, current_jobs, latency_ms, updated_at)
		VALUES ($1,$2,$3,$4,$4,$5,$6,$7,$8,'{}',0,$9)
		ON CONFLICT (gpu_id) DO UPDATE SET
			tier = EXCLUDED.tier, vram_gb = EXCLUDED.vram_gb, nvlink = EXCLUDED.nvlink,
			benchmark_score = EXCLUDED.benchmark_score, price_usd_per_hour = EXCLUDED.price_usd_per_hour,
			workload_types = EXCLUDED.workload_types, updated_at = EXCLUDED.updated_at
	`, g.GPUID, g.NodeID, g.Tier, g.VRAMGB, g.NVLink, g.BenchmarkScore, g.PriceUSDPerHour,
		g.WorkloadTypes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("registering gpu %s: %w", g.GPUID, err)
	}
	return nil
}

// GetGPU returns a GPU by id.
func (s *Store) GetGPU(ctx context.Context, gpuID string) (GPU, error) {
	row := s.db.QueryRow(ctx, `SELECT `+gpuColumns+` FROM gpus WHERE gpu_id = $1`, gpuID)
	g, err := scanGPU(row)
	if err != nil {
		return GPU{}, fmt.Errorf("getting gpu %s: %w", gpuID, err)
	}
	return g, nil
}

// UpdateTelemetry applies a heartbeat's optional per-GPU telemetry.
func (s *Store) UpdateTelemetry(ctx context.Context, t Telemetry) error {
	_, err := s.db.Exec(ctx, `
		UPDATE gpus SET vram_available_gb = $1, latency_ms = $2, updated_at = now() WHERE gpu_id = $3
	`, t.VRAMFreeGB, t.LatencyMs, t.GPUID)
	if err != nil {
		return fmt.Errorf("updating telemetry for %s: %w", t.GPUID, err)
	}
	return nil
}

// CandidatesForDiscovery returns every GPU/Node pair hosted on an
// ONLINE-or-PARTIAL node, the raw input to the scoring pass.
func (s *Store) CandidatesForDiscovery(ctx context.Context) ([]struct {
	GPU  GPU
	Node Node
}, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+prefixed("g", gpuColumns)+`, `+prefixed("n", nodeColumns)+`
		FROM gpus g JOIN nodes n ON n.node_id = g.node_id
		WHERE n.status IN ('ONLINE', 'PARTIAL')
	`)
	if err != nil {
		return nil, fmt.Errorf("querying discovery candidates: %w", err)
	}
	defer rows.Close()

	var out []struct {
		GPU  GPU
		Node Node
	}
	for rows.Next() {
		var g GPU
		var n Node
		var institutionID, campusID *string
		var heartbeatSeconds int
		if err := rows.Scan(
			&g.GPUID, &g.NodeID, &g.Tier, &g.VRAMGB, &g.VRAMAvailableGB, &g.NVLink, &g.BenchmarkScore,
			&g.PriceUSDPerHour, &g.WorkloadTypes, &g.CurrentJobs, &g.LatencyMs, &g.UpdatedAt,
			&n.NodeID, &n.OwnerSubjectID, &institutionID, &campusID, &n.Region, &n.Tier, &n.Status,
			&n.Trust, &n.VeritasVerified, &heartbeatSeconds, &n.LastHeartbeatAt, &n.RegisteredAt,
		); err != nil {
			return nil, fmt.Errorf("scanning discovery candidate: %w", err)
		}
		if institutionID != nil {
			n.InstitutionID = *institutionID
		}
		if campusID != nil {
			n.CampusID = *campusID
		}
		n.HeartbeatInterval = time.Duration(heartbeatSeconds) * time.Second
		out = append(out, struct {
			GPU  GPU
			Node Node
		}{GPU: g, Node: n})
	}
	return out, rows.Err()
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// ReserveVRAM atomically decrements a GPU's available VRAM, failing if
// insufficient headroom remains — the guard against a double-booking race.
func (s *Store) ReserveVRAM(ctx context.Context, gpuID string, amountGB float64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE gpus SET vram_available_gb = vram_available_gb - $1, updated_at = now()
		WHERE gpu_id = $2 AND vram_available_gb >= $1
	`, amountGB, gpuID)
	if err != nil {
		return fmt.Errorf("reserving vram on %s: %w", gpuID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reserving vram on %s: insufficient headroom", gpuID)
	}
	return nil
}

// ReleaseVRAM restores a GPU's available VRAM, capped at its total capacity.
func (s *Store) ReleaseVRAM(ctx context.Context, gpuID string, amountGB float64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE gpus SET vram_available_gb = LEAST(vram_gb, vram_available_gb + $1), updated_at = now()
		WHERE gpu_id = $2
	`, amountGB, gpuID)
	if err != nil {
		return fmt.Errorf("releasing vram on %s: %w", gpuID, err)
	}
	return nil
}

const allocationColumns = `allocation_id, job_id, subject_id, node_id, gpu_id, vram_reserved_gb,
	status, estimated_hours, actual_cost_usd, created_at, expires_at, released_at`

func scanAllocation(row interface{ Scan(dest ...any) error }) (Allocation, error) {
	var a Allocation
	if err := row.Scan(&a.AllocationID, &a.JobID, &a.SubjectID, &a.NodeID, &a.GPUID, &a.VRAMReservedGB,
		&a.Status, &a.EstimatedHours, &a.ActualCostUSD, &a.CreatedAt, &a.ExpiresAt, &a.ReleasedAt); err != nil {
		return Allocation{}, err
	}
	return a, nil
}

// CreateAllocation inserts a new RESERVED/ACTIVE allocation.
func (s *Store) CreateAllocation(ctx context.Context, a Allocation) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO allocations (allocation_id, job_id, subject_id, node_id, gpu_id, vram_reserved_gb,
			status, estimated_hours, actual_cost_usd, created_at, expires_at, released_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, a.AllocationID, a.JobID, a.SubjectID, a.NodeID, a.GPUID, a.VRAMReservedGB, string(a.Status),
		a.EstimatedHours, a.ActualCostUSD, a.CreatedAt, a.ExpiresAt, a.ReleasedAt)
	if err != nil {
		return fmt.Errorf("creating allocation %s: %w", a.AllocationID, err)
	}
	return nil
}

// GetAllocation returns an allocation by id.
func (s *Store) GetAllocation(ctx context.Context, allocationID string) (Allocation, error) {
	row := s.db.QueryRow(ctx, `SELECT `+allocationColumns+` FROM allocations WHERE allocation_id = $1`, allocationID)
	a, err := scanAllocation(row)
	if err != nil {
		return Allocation{}, fmt.Errorf("getting allocation %s: %w", allocationID, err)
	}
	return a, nil
}

// SetAllocationStatus transitions an allocation's status, stamping
// released_at when moving to a terminal state. Idempotent: a second release
// of an already-terminal allocation affects no rows.
func (s *Store) SetAllocationStatus(ctx context.Context, allocationID string, status AllocationStatus, releasedAt *time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE allocations SET status = $1, released_at = $2
		WHERE allocation_id = $3 AND status IN ('RESERVED', 'ACTIVE')
	`, string(status), releasedAt, allocationID)
	if err != nil {
		return false, fmt.Errorf("transitioning allocation %s: %w", allocationID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ExpiredAllocations returns RESERVED/ACTIVE allocations past their
// expires_at, used by the expiry watchdog.
func (s *Store) ExpiredAllocations(ctx context.Context, now time.Time) ([]Allocation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+allocationColumns+` FROM allocations
		WHERE status IN ('RESERVED', 'ACTIVE') AND expires_at < $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("scanning expired allocations: %w", err)
	}
	defer rows.Close()

	var out []Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning allocation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AllocationsForNode returns all RESERVED/ACTIVE allocations on a node, used
// when a node goes offline and its in-flight jobs must be cancelled.
func (s *Store) AllocationsForNode(ctx context.Context, nodeID string) ([]Allocation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+allocationColumns+` FROM allocations
		WHERE node_id = $1 AND status IN ('RESERVED', 'ACTIVE')
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("scanning node allocations: %w", err)
	}
	defer rows.Close()

	var out []Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning allocation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AllocationsForJob returns all RESERVED/ACTIVE allocations belonging to a
// job, used when Tutela orders a kill-switch response.
func (s *Store) AllocationsForJob(ctx context.Context, jobID string) ([]Allocation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+allocationColumns+` FROM allocations
		WHERE job_id = $1 AND status IN ('RESERVED', 'ACTIVE')
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("scanning job allocations: %w", err)
	}
	defer rows.Close()

	var out []Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning allocation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
