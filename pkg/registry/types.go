// Package registry implements Atlas: node/GPU registration, heartbeat and
// offline detection, discovery scoring, routing strategies, allocation
// lifecycle, and the optional topology overlay.
package registry

import "time"

// NodeStatus is a provider node's operational state.
type NodeStatus string

const (
	NodeOnline    NodeStatus = "ONLINE"
	NodePartial   NodeStatus = "PARTIAL"
	NodeOffline   NodeStatus = "OFFLINE"
	NodeSuspended NodeStatus = "SUSPENDED"
)

// SupplyTier buckets a node's hosting class, used by routing preference.
type SupplyTier string

const (
	TierBackbone SupplyTier = "BACKBONE"
	TierCampus   SupplyTier = "CAMPUS"
	TierEdge     SupplyTier = "EDGE"
)

// Node is a provider machine hosting one or more GPUs.
type Node struct {
	NodeID           string
	OwnerSubjectID   string
	InstitutionID    string
	CampusID         string
	Region           string
	Tier             SupplyTier
	Status           NodeStatus
	Trust            int
	VeritasVerified  bool
	HeartbeatInterval time.Duration
	LastHeartbeatAt  time.Time
	RegisteredAt     time.Time
}

// GPU is one accelerator attached to a Node.
type GPU struct {
	GPUID            string
	NodeID           string
	Tier             string // e.g. "H100", "A100", "RTX4090"
	VRAMGB           float64
	VRAMAvailableGB  float64
	NVLink           bool
	BenchmarkScore   int
	PriceUSDPerHour  float64
	WorkloadTypes    []string
	CurrentJobs      []string
	LatencyMs        float64
	UpdatedAt        time.Time
}

// AllocationStatus is an Allocation's lifecycle stage.
type AllocationStatus string

const (
	AllocationReserved  AllocationStatus = "RESERVED"
	AllocationActive    AllocationStatus = "ACTIVE"
	AllocationCompleted AllocationStatus = "COMPLETED"
	AllocationCancelled AllocationStatus = "CANCELLED"
	AllocationExpired   AllocationStatus = "EXPIRED"
	AllocationFailed    AllocationStatus = "FAILED"
)

// Allocation is a time-bounded GPU reservation for a job.
type Allocation struct {
	AllocationID    string
	JobID           string
	SubjectID       string
	NodeID          string
	GPUID           string
	VRAMReservedGB  float64
	Status          AllocationStatus
	EstimatedHours  float64
	ActualCostUSD   float64
	CreatedAt       time.Time
	ExpiresAt       time.Time
	ReleasedAt      *time.Time
}

// RegisterNodeRequest is the input to RegisterNode.
type RegisterNodeRequest struct {
	NodeID            string
	OwnerSubjectID    string
	InstitutionID     string
	CampusID          string
	Region            string
	Tier              SupplyTier
	Trust             int
	HeartbeatInterval time.Duration
}

// RegisterGPURequest is the input to RegisterGPU.
type RegisterGPURequest struct {
	GPUID           string
	NodeID          string
	Tier            string
	VRAMGB          float64
	NVLink          bool
	BenchmarkScore  int
	PriceUSDPerHour float64
	WorkloadTypes   []string
}

// Telemetry is an optional bundle attached to a heartbeat.
type Telemetry struct {
	GPUID       string
	VRAMFreeGB  float64
	LatencyMs   float64
}

// DiscoveryCriteria filters and ranks candidate GPUs.
type DiscoveryCriteria struct {
	MinVRAMGB           float64
	GPUTiers            []string
	RequireNVLink       bool
	MinBenchmarkScore   int
	MinNodeTrust        int
	MaxPriceUSDPerHour  float64 // 0 means unset
	WorkloadType        string
	AllowedWorkloadTypes []string
	PreferredTiers      []SupplyTier // index position is preference rank
	PreferredInstitution string
	PreferredCampusID    string
	PreferredRegions     []string
}

// ScoredGPU is one discovery candidate with its computed score.
type ScoredGPU struct {
	GPU           GPU
	Node          Node
	Score         int
	EstimatedWaitSeconds int
}

// RoutingStrategy re-ranks a scored candidate set.
type RoutingStrategy string

const (
	StrategyCheapest      RoutingStrategy = "CHEAPEST"
	StrategyFastest       RoutingStrategy = "FASTEST"
	StrategyHighestTrust  RoutingStrategy = "HIGHEST_TRUST"
	StrategyInstitutional RoutingStrategy = "INSTITUTIONAL"
	StrategyBalanced      RoutingStrategy = "BALANCED"
)

// RouteRequest is the input to Route.
type RouteRequest struct {
	JobID              string
	SubjectID          string
	Criteria           DiscoveryCriteria
	Strategy           RoutingStrategy
	EstimatedDuration  time.Duration
	VRAMReservedGB     float64
}

// RoutingDecision is returned by Route.
type RoutingDecision struct {
	Allocation Allocation
	Winner     ScoredGPU
	Candidates []ScoredGPU
}

// CommunicationPath is the answer to can_communicate(A,B).
type CommunicationPath string

const (
	PathDirect    CommunicationPath = "DIRECT"
	PathWireGuard CommunicationPath = "WIREGUARD"
	PathBackbone  CommunicationPath = "BACKBONE"
	PathNone      CommunicationPath = "NONE"
)

// FabricKind is a physical/virtual interconnect class.
type FabricKind string

const (
	FabricNVLink     FabricKind = "NVLINK"
	FabricInfiniBand FabricKind = "INFINIBAND"
	FabricPCIe       FabricKind = "PCIE"
	FabricEthernet   FabricKind = "ETHERNET"
)

// TopologyNode carries the overlay attributes used by can_communicate and
// get_fabric_peers.
type TopologyNode struct {
	NodeID         string
	CampusID       string
	Tier           SupplyTier
	HasTunnel      bool
	FabricGroupID  string
	FabricKind     FabricKind
}
