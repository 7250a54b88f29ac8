package registry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/custodes-trust/custodes/pkg/faults"
)

// ObsidianSink is the narrow interface Atlas uses to commit ledger events,
// injected at construction so this package never imports pkg/ledger's
// internals directly.
type ObsidianSink interface {
	Commit(ctx context.Context, eventType, subjectID, passportID, institutionID, targetID, targetType string, metadata map[string]string) error
}

// Config tunes Atlas's scoring and lifecycle defaults.
type Config struct {
	MaxDiscoveryResults   int
	DefaultHeartbeatEvery time.Duration
	OfflineGracePeriods   int // missed intervals before a node is marked OFFLINE
}

func (c Config) withDefaults() Config {
	if c.MaxDiscoveryResults <= 0 {
		c.MaxDiscoveryResults = 20
	}
	if c.DefaultHeartbeatEvery <= 0 {
		c.DefaultHeartbeatEvery = 30 * time.Second
	}
	if c.OfflineGracePeriods <= 0 {
		c.OfflineGracePeriods = 3
	}
	return c
}

// Service implements node/GPU registration, discovery, routing, and
// allocation lifecycle.
type Service struct {
	store  *Store
	sink   ObsidianSink
	config Config
}

// NewService constructs a Service.
func NewService(store *Store, sink ObsidianSink, config Config) *Service {
	return &Service{store: store, sink: sink, config: config.withDefaults()}
}

func (s *Service) emit(ctx context.Context, eventType, subjectID, institutionID, targetID, targetType string, meta map[string]string) {
	if s.sink == nil {
		return
	}
	_ = s.sink.Commit(ctx, eventType, subjectID, "", institutionID, targetID, targetType, meta)
}

// RegisterNode onboards a provider node.
func (s *Service) RegisterNode(ctx context.Context, req RegisterNodeRequest) (Node, error) {
	n := Node{
		NodeID:            req.NodeID,
		OwnerSubjectID:    req.OwnerSubjectID,
		InstitutionID:     req.InstitutionID,
		CampusID:          req.CampusID,
		Region:            req.Region,
		Tier:              req.Tier,
		Status:            NodeOnline,
		Trust:             req.Trust,
		HeartbeatInterval: req.HeartbeatInterval,
		LastHeartbeatAt:   time.Now().UTC(),
		RegisteredAt:      time.Now().UTC(),
	}
	if n.HeartbeatInterval <= 0 {
		n.HeartbeatInterval = s.config.DefaultHeartbeatEvery
	}
	if err := s.store.RegisterNode(ctx, n); err != nil {
		return Node{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}
	s.emit(ctx, "NODE_REGISTERED", req.OwnerSubjectID, req.InstitutionID, n.NodeID, "NODE", nil)
	return n, nil
}

// RegisterGPU attaches a GPU to an already-registered node.
func (s *Service) RegisterGPU(ctx context.Context, req RegisterGPURequest) (GPU, error) {
	node, err := s.store.GetNode(ctx, req.NodeID)
	if err != nil {
		return GPU{}, faults.NewResourceFault(faults.ResourceNotFound, "node "+req.NodeID+" not registered")
	}
	g := GPU{
		GPUID:           req.GPUID,
		NodeID:          req.NodeID,
		Tier:            req.Tier,
		VRAMGB:          req.VRAMGB,
		VRAMAvailableGB: req.VRAMGB,
		NVLink:          req.NVLink,
		BenchmarkScore:  req.BenchmarkScore,
		PriceUSDPerHour: req.PriceUSDPerHour,
		WorkloadTypes:   req.WorkloadTypes,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := s.store.RegisterGPU(ctx, g); err != nil {
		return GPU{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}
	s.emit(ctx, "GPU_REGISTERED", node.OwnerSubjectID, node.InstitutionID, g.GPUID, "GPU", nil)
	return g, nil
}

// Heartbeat records node liveness and applies optional telemetry.
func (s *Service) Heartbeat(ctx context.Context, nodeID string, telemetry []Telemetry) error {
	if err := s.store.Heartbeat(ctx, nodeID, time.Now().UTC()); err != nil {
		return faults.NewTransportFault(faults.TransportUpstream, err)
	}
	for _, t := range telemetry {
		if err := s.store.UpdateTelemetry(ctx, t); err != nil {
			return faults.NewTransportFault(faults.TransportUpstream, err)
		}
	}
	return nil
}

// Discover ranks candidate GPUs against criteria.
func (s *Service) Discover(ctx context.Context, criteria DiscoveryCriteria) ([]ScoredGPU, error) {
	candidates, err := s.store.CandidatesForDiscovery(ctx)
	if err != nil {
		return nil, faults.NewTransportFault(faults.TransportUpstream, err)
	}
	results := Discover(candidates, criteria, s.config.MaxDiscoveryResults)
	if len(results) == 0 {
		return nil, faults.NewResourceFault(faults.ResourceDiscoveryEmpty, "no GPU satisfies the requested criteria")
	}
	return results, nil
}

// Route discovers, re-ranks under strategy, and atomically reserves the
// winning GPU's VRAM.
func (s *Service) Route(ctx context.Context, req RouteRequest) (RoutingDecision, error) {
	candidates, err := s.store.CandidatesForDiscovery(ctx)
	if err != nil {
		return RoutingDecision{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}
	scored := Discover(candidates, req.Criteria, s.config.MaxDiscoveryResults)
	if len(scored) == 0 {
		return RoutingDecision{}, faults.NewResourceFault(faults.ResourceDiscoveryEmpty, "no GPU satisfies the requested criteria")
	}
	ranked := applyStrategy(scored, req.Strategy)
	winner := ranked[0]

	if err := s.store.ReserveVRAM(ctx, winner.GPU.GPUID, req.VRAMReservedGB); err != nil {
		return RoutingDecision{}, faults.NewResourceFault(faults.ResourceConflict, "selected GPU no longer has sufficient VRAM headroom")
	}

	now := time.Now().UTC()
	alloc := Allocation{
		AllocationID:   uuid.NewString(),
		JobID:          req.JobID,
		SubjectID:      req.SubjectID,
		NodeID:         winner.Node.NodeID,
		GPUID:          winner.GPU.GPUID,
		VRAMReservedGB: req.VRAMReservedGB,
		Status:         AllocationReserved,
		EstimatedHours: req.EstimatedDuration.Hours(),
		CreatedAt:      now,
		ExpiresAt:      now.Add(req.EstimatedDuration),
	}
	if err := s.store.CreateAllocation(ctx, alloc); err != nil {
		_ = s.store.ReleaseVRAM(ctx, winner.GPU.GPUID, req.VRAMReservedGB)
		return RoutingDecision{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}

	s.emit(ctx, "ALLOCATION_CREATED", req.SubjectID, winner.Node.InstitutionID, alloc.AllocationID, "ALLOCATION", map[string]string{
		"gpu_id":  winner.GPU.GPUID,
		"node_id": winner.Node.NodeID,
		"job_id":  req.JobID,
	})

	return RoutingDecision{Allocation: alloc, Winner: winner, Candidates: ranked}, nil
}

// Release ends an allocation and restores its GPU's VRAM. Idempotent: a
// second release of an already-terminal allocation is a no-op.
func (s *Service) Release(ctx context.Context, allocationID string) error {
	alloc, err := s.store.GetAllocation(ctx, allocationID)
	if err != nil {
		return faults.NewResourceFault(faults.ResourceNotFound, "allocation "+allocationID+" not found")
	}

	changed, err := s.store.SetAllocationStatus(ctx, allocationID, AllocationCompleted, ptrTime(time.Now().UTC()))
	if err != nil {
		return faults.NewTransportFault(faults.TransportUpstream, err)
	}
	if !changed {
		return nil
	}

	if err := s.store.ReleaseVRAM(ctx, alloc.GPUID, alloc.VRAMReservedGB); err != nil {
		return faults.NewTransportFault(faults.TransportUpstream, err)
	}

	s.emit(ctx, "ALLOCATION_RELEASED", alloc.SubjectID, "", alloc.AllocationID, "ALLOCATION", map[string]string{
		"gpu_id": alloc.GPUID,
	})
	return nil
}

// SuspendNode forces a node offline and cancels its in-flight allocations.
// It satisfies detector.AtlasSink for the emergency node-halt response.
func (s *Service) SuspendNode(ctx context.Context, nodeID, reason string) error {
	node, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		return faults.NewResourceFault(faults.ResourceNotFound, "node "+nodeID+" not found")
	}

	if err := s.store.SetNodeStatus(ctx, nodeID, NodeSuspended); err != nil {
		return faults.NewTransportFault(faults.TransportUpstream, err)
	}
	s.emit(ctx, "NODE_SUSPENDED", node.OwnerSubjectID, node.InstitutionID, node.NodeID, "NODE", map[string]string{
		"reason": reason,
	})

	allocs, err := s.store.AllocationsForNode(ctx, nodeID)
	if err != nil {
		return faults.NewTransportFault(faults.TransportUpstream, err)
	}
	for _, a := range allocs {
		s.terminateAllocation(ctx, a, reason)
	}
	return nil
}

// KillJob cancels every in-flight allocation belonging to a job and restores
// their VRAM. It satisfies detector.AtlasSink for the kill-switch response.
// A job with no RESERVED/ACTIVE allocation is a no-op, matching Release's
// idempotency.
func (s *Service) KillJob(ctx context.Context, jobID, reason string) error {
	allocs, err := s.store.AllocationsForJob(ctx, jobID)
	if err != nil {
		return faults.NewTransportFault(faults.TransportUpstream, err)
	}
	for _, a := range allocs {
		s.terminateAllocation(ctx, a, reason)
	}
	return nil
}

func (s *Service) terminateAllocation(ctx context.Context, a Allocation, reason string) {
	changed, err := s.store.SetAllocationStatus(ctx, a.AllocationID, AllocationCancelled, ptrTime(time.Now().UTC()))
	if err != nil || !changed {
		return
	}
	if err := s.store.ReleaseVRAM(ctx, a.GPUID, a.VRAMReservedGB); err != nil {
		return
	}
	s.emit(ctx, "ALLOCATION_CANCELLED", a.SubjectID, "", a.AllocationID, "ALLOCATION", map[string]string{
		"gpu_id": a.GPUID,
		"reason": reason,
	})
}

func ptrTime(t time.Time) *time.Time { return &t }
