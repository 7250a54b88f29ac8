package policy

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/custodes-trust/custodes/internal/httpserver"
)

// Handler exposes Aedituus's authorize/authorize_many/invalidate_cache API
// over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a policy HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes returns Aedituus's chi sub-router, mounted at /api/v1/policy.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/authorize", h.handleAuthorize)
	r.Post("/authorize_many", h.handleAuthorizeMany)
	r.Post("/invalidate_cache", h.handleInvalidateCache)
	return r
}

type resourceAttrs struct {
	VRAMGB        float64 `json:"vram_gb,omitempty"`
	GPUCount      int     `json:"gpu_count,omitempty"`
	GPUTier       string  `json:"gpu_tier,omitempty"`
	DurationHours float64 `json:"duration_hours,omitempty"`
	WorkloadType  string  `json:"workload_type,omitempty"`
	Region        string  `json:"region,omitempty"`
	CampusID      string  `json:"campus_id,omitempty"`
	EstimatedCost float64 `json:"estimated_cost,omitempty"`
}

type riskContext struct {
	CurrentRiskScore int     `json:"current_risk_score,omitempty"`
	ConcurrentJobs   int     `json:"concurrent_jobs,omitempty"`
	MonthlySpend     float64 `json:"monthly_spend,omitempty"`
}

type authorizeRequest struct {
	SubjectID     string        `json:"subject_id" validate:"required"`
	Clearance     int           `json:"clearance"`
	Trust         int           `json:"trust"`
	SubjectType   string        `json:"subject_type,omitempty"`
	InstitutionID string        `json:"institution_id,omitempty"`
	OrgID         string        `json:"org_id,omitempty"`
	PassportID    string        `json:"passport_id,omitempty"`
	Action        string        `json:"action" validate:"required"`
	Resource      resourceAttrs `json:"resource,omitempty"`
	Risk          riskContext   `json:"risk,omitempty"`
}

func toAuthorizationRequest(req authorizeRequest, ip string) AuthorizationRequest {
	return AuthorizationRequest{
		SubjectID:     req.SubjectID,
		Clearance:     req.Clearance,
		Trust:         req.Trust,
		SubjectType:   req.SubjectType,
		InstitutionID: req.InstitutionID,
		OrgID:         req.OrgID,
		PassportID:    req.PassportID,
		Action:        ActionType(req.Action),
		Resource: ResourceAttributes{
			VRAMGB: req.Resource.VRAMGB, GPUCount: req.Resource.GPUCount, GPUTier: req.Resource.GPUTier,
			DurationHours: req.Resource.DurationHours, WorkloadType: req.Resource.WorkloadType,
			Region: req.Resource.Region, CampusID: req.Resource.CampusID, EstimatedCost: req.Resource.EstimatedCost,
		},
		Risk: RiskContext{
			CurrentRiskScore: req.Risk.CurrentRiskScore, ConcurrentJobs: req.Risk.ConcurrentJobs, MonthlySpend: req.Risk.MonthlySpend,
		},
		IP:          ip,
		RequestTime: time.Now().UTC(),
	}
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	resp := h.svc.Authorize(r.Context(), toAuthorizationRequest(req, clientIP(r)))
	httpserver.Respond(w, http.StatusOK, resp)
}

type authorizeManyRequest struct {
	Base    authorizeRequest `json:"base" validate:"required"`
	Actions []string         `json:"actions" validate:"required"`
}

func (h *Handler) handleAuthorizeMany(w http.ResponseWriter, r *http.Request) {
	var req authorizeManyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	actions := make([]ActionType, len(req.Actions))
	for i, a := range req.Actions {
		actions[i] = ActionType(a)
	}
	resp := h.svc.AuthorizeMany(r.Context(), toAuthorizationRequest(req.Base, clientIP(r)), actions)
	httpserver.Respond(w, http.StatusOK, resp)
}

type invalidateCacheRequest struct {
	ScopeKey string `json:"scope_key,omitempty"`
}

func (h *Handler) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateCacheRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	h.svc.InvalidateCache(req.ScopeKey)
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
