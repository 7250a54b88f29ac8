package detector

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/custodes-trust/custodes/internal/httpserver"
	"github.com/custodes-trust/custodes/pkg/faults"
)

// Handler exposes Tutela's evaluate/risk_score/incidents/rule-lifecycle API
// over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a detector HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes returns Tutela's chi sub-router, mounted at /api/v1/detector.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/evaluate", h.handleEvaluate)
	r.Get("/jobs/{jobID}/risk_score", h.handleRiskScore)
	r.Get("/incidents/active", h.handleActiveIncidents)
	r.Get("/jobs/{jobID}/incidents", h.handleIncidentsForJob)
	r.Post("/incidents/{incidentID}/mark_false_positive", h.handleMarkFalsePositive)
	r.Post("/emergency_halt", h.handleEmergencyHalt)
	return r
}

type runtimeSignalsDTO struct {
	JobID                  string   `json:"job_id" validate:"required"`
	NodeID                 string   `json:"node_id,omitempty"`
	GPUID                  string   `json:"gpu_id,omitempty"`
	SubjectID              string   `json:"subject_id,omitempty"`
	InstitutionID          string   `json:"institution_id,omitempty"`
	PowerDrawWatts         float64  `json:"power_draw_watts,omitempty"`
	PowerCapWatts          float64  `json:"power_cap_watts,omitempty"`
	VRAMUsedGB             float64  `json:"vram_used_gb,omitempty"`
	VRAMAllocatedGB        float64  `json:"vram_allocated_gb,omitempty"`
	Throttling             bool     `json:"throttling,omitempty"`
	TemperatureC           float64  `json:"temperature_c,omitempty"`
	UniqueDstIPs           int      `json:"unique_dst_ips,omitempty"`
	ARPScanDetected        bool     `json:"arp_scan_detected,omitempty"`
	SuspiciousDestinations []string `json:"suspicious_destinations,omitempty"`
	TorExitIPMatch         bool     `json:"tor_exit_ip_match,omitempty"`
	OutboundBytesPerSec    float64  `json:"outbound_bytes_per_sec,omitempty"`
	GPUUtilPct             float64  `json:"gpu_util_pct,omitempty"`
	ComputePattern         string   `json:"compute_pattern,omitempty"`
	PoolConnection         bool     `json:"pool_connection,omitempty"`
	DeclaredFramework      string   `json:"declared_framework,omitempty"`
	DetectedFramework      string   `json:"detected_framework,omitempty"`
	UnexpectedProcesses    []string `json:"unexpected_processes,omitempty"`
	PrivilegeEscalations   int      `json:"privilege_escalations,omitempty"`
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req runtimeSignalsDTO
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	signals := RuntimeSignals{
		JobID: req.JobID, NodeID: req.NodeID, GPUID: req.GPUID, ReportedAt: time.Now().UTC(),
		PowerDrawWatts: req.PowerDrawWatts, PowerCapWatts: req.PowerCapWatts,
		VRAMUsedGB: req.VRAMUsedGB, VRAMAllocatedGB: req.VRAMAllocatedGB,
		Throttling: req.Throttling, TemperatureC: req.TemperatureC,
		UniqueDstIPs: req.UniqueDstIPs, ARPScanDetected: req.ARPScanDetected,
		SuspiciousDestinations: req.SuspiciousDestinations, TorExitIPMatch: req.TorExitIPMatch,
		OutboundBytesPerSec: req.OutboundBytesPerSec, GPUUtilPct: req.GPUUtilPct,
		ComputePattern: req.ComputePattern, PoolConnection: req.PoolConnection,
		DeclaredFramework: req.DeclaredFramework, DetectedFramework: req.DetectedFramework,
		UnexpectedProcesses: req.UnexpectedProcesses, PrivilegeEscalations: req.PrivilegeEscalations,
	}
	result, err := h.svc.Evaluate(r.Context(), signals, req.SubjectID, req.InstitutionID)
	if err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

func (h *Handler) handleRiskScore(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	score, err := h.svc.RiskScoreFor(r.Context(), jobID)
	if err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, score)
}

func (h *Handler) handleActiveIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.svc.ActiveIncidents(r.Context())
	if err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, incidents)
}

func (h *Handler) handleIncidentsForJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	incidents, err := h.svc.IncidentsForJob(r.Context(), jobID)
	if err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, incidents)
}

type markFalsePositiveRequest struct {
	By    string `json:"by" validate:"required"`
	Notes string `json:"notes,omitempty"`
}

func (h *Handler) handleMarkFalsePositive(w http.ResponseWriter, r *http.Request) {
	incidentID := chi.URLParam(r, "incidentID")
	var req markFalsePositiveRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.svc.MarkFalsePositive(r.Context(), incidentID, req.By, req.Notes); err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "marked"})
}

type emergencyHaltRequest struct {
	NodeID string `json:"node_id" validate:"required"`
	By     string `json:"by" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleEmergencyHalt(w http.ResponseWriter, r *http.Request) {
	var req emergencyHaltRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.svc.EmergencyHalt(r.Context(), req.NodeID, req.By, req.Reason); err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "halted"})
}

func respondFault(w http.ResponseWriter, err error) {
	var rf *faults.RuleFault
	var tf *faults.TransportFault
	switch {
	case errors.As(err, &rf):
		status := http.StatusBadRequest
		if rf.Kind == faults.RuleNotFound {
			status = http.StatusNotFound
		}
		httpserver.RespondError(w, status, "rule_fault", rf.Error())
	case errors.As(err, &tf):
		httpserver.RespondError(w, http.StatusServiceUnavailable, "upstream_unavailable", tf.Error())
	default:
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
