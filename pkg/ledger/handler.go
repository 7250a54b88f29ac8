package ledger

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/custodes-trust/custodes/internal/httpserver"
	"github.com/custodes-trust/custodes/pkg/faults"
)

// Handler exposes Obsidian's commit/query/verify/evidence/dispute API over HTTP.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a ledger HTTP handler.
func NewHandler(l *Ledger) *Handler {
	return &Handler{ledger: l}
}

// Routes returns the ledger's chi sub-router, mounted at /api/v1/ledger.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/commit", h.handleCommit)
	r.Get("/query", h.handleQuery)
	r.Get("/verify", h.handleVerify)
	r.Post("/evidence", h.handleEvidence)
	r.Post("/disputes", h.handleOpenDispute)
	r.Post("/disputes/{id}/resolve", h.handleResolveDispute)
	return r
}

type commitRequest struct {
	EventType     string            `json:"event_type" validate:"required"`
	Severity      string            `json:"severity,omitempty"`
	SubjectID     string            `json:"subject_id,omitempty"`
	PassportID    string            `json:"passport_id,omitempty"`
	InstitutionID string            `json:"institution_id,omitempty"`
	TargetID      string            `json:"target_id,omitempty"`
	TargetType    string            `json:"target_type,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Region        string            `json:"region,omitempty"`
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.ledger.Commit(r.Context(), CommitEventRequest{
		EventType:     req.EventType,
		Severity:      Severity(req.Severity),
		SubjectID:     req.SubjectID,
		PassportID:    req.PassportID,
		InstitutionID: req.InstitutionID,
		TargetID:      req.TargetID,
		TargetType:    req.TargetType,
		Metadata:      req.Metadata,
		IP:            clientIP(r),
		Region:        req.Region,
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, result)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	q := r.URL.Query()
	f := Filter{
		SubjectID:     q.Get("subject_id"),
		TargetID:      q.Get("target_id"),
		InstitutionID: q.Get("institution_id"),
		Limit:         params.PageSize,
		Offset:        params.Offset,
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = t
		}
	}
	if v := q.Get("event_type"); v != "" {
		f.EventTypes = []string{v}
	}

	result, err := h.ledger.Query(r.Context(), f)
	if err != nil {
		respondFault(w, err)
		return
	}
	page := httpserver.NewOffsetPage(result.Entries, params, result.Total)
	httpserver.Respond(w, http.StatusOK, struct {
		httpserver.OffsetPage[Entry]
		FromBlock int64  `json:"from_block"`
		ToBlock   int64  `json:"to_block"`
		QueryHash string `json:"query_hash"`
	}{OffsetPage: page, FromBlock: result.FromBlock, ToBlock: result.ToBlock, QueryHash: result.QueryHash})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	to, _ := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)

	result := h.ledger.VerifyChainRange(r.Context(), from, to)
	if result.Err != nil {
		respondFault(w, result.Err)
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

type evidenceRequest struct {
	Kind string `json:"kind" validate:"required"`
	ID   string `json:"id" validate:"required"`
}

func (h *Handler) handleEvidence(w http.ResponseWriter, r *http.Request) {
	var req evidenceRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	pkg, err := h.ledger.GenerateEvidencePackage(r.Context(), req.Kind, req.ID)
	if err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, pkg)
}

type openDisputeRequest struct {
	JobID     string `json:"job_id" validate:"required"`
	SubjectID string `json:"subject_id" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
}

func (h *Handler) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	var req openDisputeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	d, err := h.ledger.OpenDispute(r.Context(), OpenDisputeRequest{
		JobID:     req.JobID,
		SubjectID: req.SubjectID,
		Reason:    DisputeReason(req.Reason),
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, d)
}

type resolveDisputeRequest struct {
	ResolvedBy string  `json:"resolved_by" validate:"required"`
	Outcome    string  `json:"outcome" validate:"required"`
	Refund     float64 `json:"refund,omitempty"`
	Escalate   bool    `json:"escalate,omitempty"`
}

func (h *Handler) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid dispute id")
		return
	}
	var req resolveDisputeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	d, err := h.ledger.ResolveDispute(r.Context(), ResolveDisputeRequest{
		DisputeID:  id,
		ResolvedBy: req.ResolvedBy,
		Outcome:    req.Outcome,
		Refund:     req.Refund,
		Escalate:   req.Escalate,
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, d)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func respondFault(w http.ResponseWriter, err error) {
	var cf *faults.ChainFault
	var tf *faults.TransportFault
	switch {
	case errors.As(err, &cf):
		httpserver.RespondError(w, http.StatusConflict, "chain_fault", cf.Error())
	case errors.As(err, &tf):
		httpserver.RespondError(w, http.StatusServiceUnavailable, "upstream_unavailable", tf.Error())
	default:
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
