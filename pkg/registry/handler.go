package registry

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/custodes-trust/custodes/internal/httpserver"
	"github.com/custodes-trust/custodes/pkg/faults"
)

// Handler exposes Atlas's node/gpu/discovery/routing API over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a registry HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes returns Atlas's chi sub-router, mounted at /api/v1/registry.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/nodes", h.handleRegisterNode)
	r.Post("/nodes/{nodeID}/gpus", h.handleRegisterGPU)
	r.Post("/nodes/{nodeID}/heartbeat", h.handleHeartbeat)
	r.Post("/discover", h.handleDiscover)
	r.Post("/route", h.handleRoute)
	r.Post("/allocations/{allocationID}/release", h.handleRelease)
	r.Post("/nodes/{nodeID}/suspend", h.handleSuspendNode)
	r.Post("/jobs/{jobID}/kill", h.handleKillJob)
	return r
}

type registerNodeRequest struct {
	NodeID            string `json:"node_id" validate:"required"`
	OwnerSubjectID    string `json:"owner_subject_id" validate:"required"`
	InstitutionID     string `json:"institution_id,omitempty"`
	CampusID          string `json:"campus_id,omitempty"`
	Region            string `json:"region,omitempty"`
	Tier              string `json:"tier" validate:"required"`
	Trust             int    `json:"trust,omitempty"`
	HeartbeatIntervalS int   `json:"heartbeat_interval_seconds,omitempty"`
}

func (h *Handler) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req registerNodeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	n, err := h.svc.RegisterNode(r.Context(), RegisterNodeRequest{
		NodeID: req.NodeID, OwnerSubjectID: req.OwnerSubjectID, InstitutionID: req.InstitutionID,
		CampusID: req.CampusID, Region: req.Region, Tier: SupplyTier(req.Tier), Trust: req.Trust,
		HeartbeatInterval: time.Duration(req.HeartbeatIntervalS) * time.Second,
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, n)
}

type registerGPURequest struct {
	GPUID           string   `json:"gpu_id" validate:"required"`
	Tier            string   `json:"tier" validate:"required"`
	VRAMGB          float64  `json:"vram_gb" validate:"required"`
	NVLink          bool     `json:"nvlink,omitempty"`
	BenchmarkScore  int      `json:"benchmark_score,omitempty"`
	PriceUSDPerHour float64  `json:"price_usd_per_hour" validate:"required"`
	WorkloadTypes   []string `json:"workload_types,omitempty"`
}

func (h *Handler) handleRegisterGPU(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	var req registerGPURequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	g, err := h.svc.RegisterGPU(r.Context(), RegisterGPURequest{
		GPUID: req.GPUID, NodeID: nodeID, Tier: req.Tier, VRAMGB: req.VRAMGB, NVLink: req.NVLink,
		BenchmarkScore: req.BenchmarkScore, PriceUSDPerHour: req.PriceUSDPerHour, WorkloadTypes: req.WorkloadTypes,
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, g)
}

type heartbeatRequest struct {
	Telemetry []Telemetry `json:"telemetry,omitempty"`
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	var req heartbeatRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.svc.Heartbeat(r.Context(), nodeID, req.Telemetry); err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type discoveryCriteriaDTO struct {
	MinVRAMGB            float64  `json:"min_vram_gb,omitempty"`
	GPUTiers             []string `json:"gpu_tiers,omitempty"`
	RequireNVLink        bool     `json:"require_nvlink,omitempty"`
	MinBenchmarkScore    int      `json:"min_benchmark_score,omitempty"`
	MinNodeTrust         int      `json:"min_node_trust,omitempty"`
	MaxPriceUSDPerHour   float64  `json:"max_price_usd_per_hour,omitempty"`
	WorkloadType         string   `json:"workload_type,omitempty"`
	AllowedWorkloadTypes []string `json:"allowed_workload_types,omitempty"`
	PreferredTiers       []string `json:"preferred_tiers,omitempty"`
	PreferredInstitution string   `json:"preferred_institution,omitempty"`
	PreferredCampusID    string   `json:"preferred_campus_id,omitempty"`
	PreferredRegions     []string `json:"preferred_regions,omitempty"`
}

func toCriteria(dto discoveryCriteriaDTO) DiscoveryCriteria {
	tiers := make([]SupplyTier, len(dto.PreferredTiers))
	for i, t := range dto.PreferredTiers {
		tiers[i] = SupplyTier(t)
	}
	return DiscoveryCriteria{
		MinVRAMGB: dto.MinVRAMGB, GPUTiers: dto.GPUTiers, RequireNVLink: dto.RequireNVLink,
		MinBenchmarkScore: dto.MinBenchmarkScore, MinNodeTrust: dto.MinNodeTrust,
		MaxPriceUSDPerHour: dto.MaxPriceUSDPerHour, WorkloadType: dto.WorkloadType,
		AllowedWorkloadTypes: dto.AllowedWorkloadTypes, PreferredTiers: tiers,
		PreferredInstitution: dto.PreferredInstitution, PreferredCampusID: dto.PreferredCampusID,
		PreferredRegions: dto.PreferredRegions,
	}
}

func (h *Handler) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req discoveryCriteriaDTO
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	results, err := h.svc.Discover(r.Context(), toCriteria(req))
	if err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, results)
}

type routeRequest struct {
	JobID             string               `json:"job_id" validate:"required"`
	SubjectID         string               `json:"subject_id" validate:"required"`
	Criteria          discoveryCriteriaDTO `json:"criteria"`
	Strategy          string               `json:"strategy,omitempty"`
	EstimatedHours    float64              `json:"estimated_hours" validate:"required"`
	VRAMReservedGB    float64              `json:"vram_reserved_gb" validate:"required"`
}

func (h *Handler) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	decision, err := h.svc.Route(r.Context(), RouteRequest{
		JobID: req.JobID, SubjectID: req.SubjectID, Criteria: toCriteria(req.Criteria),
		Strategy: RoutingStrategy(req.Strategy), EstimatedDuration: time.Duration(req.EstimatedHours * float64(time.Hour)),
		VRAMReservedGB: req.VRAMReservedGB,
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, decision)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	allocationID := chi.URLParam(r, "allocationID")
	if err := h.svc.Release(r.Context(), allocationID); err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "released"})
}

type suspendOrKillRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) handleSuspendNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	var req suspendOrKillRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.svc.SuspendNode(r.Context(), nodeID, req.Reason); err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "suspended"})
}

func (h *Handler) handleKillJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	var req suspendOrKillRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.svc.KillJob(r.Context(), jobID, req.Reason); err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "killed"})
}

func respondFault(w http.ResponseWriter, err error) {
	var rf *faults.ResourceFault
	var tf *faults.TransportFault
	switch {
	case errors.As(err, &rf):
		status := http.StatusBadRequest
		switch rf.Kind {
		case faults.ResourceNotFound:
			status = http.StatusNotFound
		case faults.ResourceConflict:
			status = http.StatusConflict
		case faults.ResourceDiscoveryEmpty:
			status = http.StatusNotFound
		}
		httpserver.RespondError(w, status, "resource_fault", rf.Error())
	case errors.As(err, &tf):
		httpserver.RespondError(w, http.StatusServiceUnavailable, "upstream_unavailable", tf.Error())
	default:
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
