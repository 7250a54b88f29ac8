package passport

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/custodes-trust/custodes/internal/httpserver"
	"github.com/custodes-trust/custodes/pkg/faults"
)

// Handler exposes Dextera's issue/verify/revoke/ban/trust_score API over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a passport HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes returns Dextera's chi sub-router, mounted at /api/v1/passport.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/issue", h.handleIssue)
	r.Post("/verify", h.handleVerify)
	r.Post("/revoke", h.handleRevoke)
	r.Post("/ban", h.handleBan)
	r.Get("/{subjectID}/trust_score", h.handleTrustScore)
	return r
}

type issueRequest struct {
	SubjectID        string            `json:"subject_id" validate:"required"`
	IdentityProvider string            `json:"identity_provider" validate:"required"`
	ProviderClaims   map[string]string `json:"provider_claims,omitempty"`
	DeviceID         string            `json:"device_id,omitempty"`
	MFAVerified      bool              `json:"mfa_verified,omitempty"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	p, err := h.svc.Issue(r.Context(), IssueRequest{
		SubjectID:        req.SubjectID,
		IdentityProvider: IdentityProvider(req.IdentityProvider),
		ProviderClaims:   req.ProviderClaims,
		DeviceID:         req.DeviceID,
		MFAVerified:      req.MFAVerified,
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, p)
}

type verifyRequest struct {
	Token    string `json:"token" validate:"required"`
	Audience string `json:"audience,omitempty"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	result := h.svc.Verify(r.Context(), req.Token, req.Audience)
	httpserver.Respond(w, http.StatusOK, result)
}

type revokeRequest struct {
	PassportID string `json:"passport_id" validate:"required"`
	Reason     string `json:"reason" validate:"required"`
	By         string `json:"by" validate:"required"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.svc.Revoke(r.Context(), req.PassportID, req.Reason, req.By); err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "revoked"})
}

type banRequest struct {
	SubjectID         string `json:"subject_id" validate:"required"`
	Reason            string `json:"reason" validate:"required"`
	By                string `json:"by" validate:"required"`
	NotifyInstitution bool   `json:"notify_institution,omitempty"`
}

func (h *Handler) handleBan(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.svc.Ban(r.Context(), req.SubjectID, req.Reason, req.By, req.NotifyInstitution); err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "banned"})
}

func (h *Handler) handleTrustScore(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	result, err := h.svc.TrustScore(r.Context(), subjectID)
	if err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

func respondFault(w http.ResponseWriter, err error) {
	var idf *faults.IdentityFault
	var tf *faults.TransportFault
	switch {
	case errors.As(err, &idf):
		status := http.StatusBadRequest
		if idf.Kind == faults.IdentityNotFound {
			status = http.StatusNotFound
		}
		if idf.Kind == faults.IdentityBanned {
			status = http.StatusForbidden
		}
		httpserver.RespondError(w, status, "identity_fault", idf.Error())
	case errors.As(err, &tf):
		httpserver.RespondError(w, http.StatusServiceUnavailable, "upstream_unavailable", tf.Error())
	default:
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
