package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	goslack "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// IncidentSink is notify's narrow view of Tutela's incident store: it lets
// the Slack interactivity and slash-command surfaces mark a false positive
// or list active incidents without importing pkg/detector directly.
type IncidentSink interface {
	MarkFalsePositive(ctx context.Context, incidentID, by, notes string) error
	ActiveIncidents(ctx context.Context) ([]IncidentSummary, error)
}

// Handler provides HTTP handlers for the Slack integration: event
// subscriptions, interactive component callbacks, and slash commands.
type Handler struct {
	notifier      *Notifier
	incidents     IncidentSink
	logger        *slog.Logger
	signingSecret string
}

// NewHandler creates a Slack Handler.
func NewHandler(notifier *Notifier, incidents IncidentSink, logger *slog.Logger, signingSecret string) *Handler {
	return &Handler{notifier: notifier, incidents: incidents, logger: logger, signingSecret: signingSecret}
}

// Routes returns a chi.Router with Slack webhook routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(VerifyMiddleware(h.signingSecret))
	r.Post("/events", h.handleEvents)
	r.Post("/interactions", h.handleInteractions)
	r.Post("/commands", h.handleCommands)
	return r
}

// --- Event handler ---

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var envelope struct {
		Type      string `json:"type"`
		Token     string `json:"token"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if envelope.Type == "url_verification" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"challenge": envelope.Challenge})
		return
	}

	evt, err := slackevents.ParseEvent(body, slackevents.OptionNoVerifyToken())
	if err != nil {
		h.logger.Error("parsing slack event", "error", err)
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	if evt.Type == slackevents.CallbackEvent {
		switch ev := evt.InnerEvent.Data.(type) {
		case *slackevents.AppMentionEvent:
			h.logger.Info("app mention received", "user", ev.User, "channel", ev.Channel, "text", ev.Text)
		case *slackevents.MessageEvent:
			h.logger.Info("dm received", "user", ev.User, "channel", ev.Channel, "text", ev.Text)
		default:
			h.logger.Debug("unhandled callback event", "type", evt.InnerEvent.Type)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// --- Interaction handler ---

func (h *Handler) handleInteractions(w http.ResponseWriter, r *http.Request) {
	payload := r.FormValue("payload")
	if payload == "" {
		http.Error(w, "missing payload", http.StatusBadRequest)
		return
	}

	var ic goslack.InteractionCallback
	if err := json.Unmarshal([]byte(payload), &ic); err != nil {
		h.logger.Error("parsing interaction callback", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if ic.Type == goslack.InteractionTypeBlockActions {
		for _, action := range ic.ActionCallback.BlockActions {
			if action.ActionID == "ack_false_positive" {
				h.handleAckFalsePositive(r, ic, action.Value)
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleAckFalsePositive(r *http.Request, ic goslack.InteractionCallback, incidentID string) {
	if incidentID == "" {
		return
	}
	if err := h.incidents.MarkFalsePositive(r.Context(), incidentID, ic.User.ID, "acknowledged via slack"); err != nil {
		h.logger.Error("marking incident false positive from slack", "error", err, "incident_id", incidentID)
		_ = h.notifier.PostEphemeral(r.Context(), ic.Channel.ID, ic.User.ID, "Failed to acknowledge incident.")
		return
	}

	blocks := FalsePositiveAckBlocks(incidentID, "<@"+ic.User.ID+">")
	if ic.Message.Timestamp != "" {
		_ = h.notifier.UpdateMessage(r.Context(), ic.Channel.ID, ic.Message.Timestamp, blocks,
			"Incident "+incidentID+" marked as a false positive.")
	}

	h.logger.Info("incident marked false positive via slack", "incident_id", incidentID, "user", ic.User.ID)
}

// --- Command handler ---

func (h *Handler) handleCommands(w http.ResponseWriter, r *http.Request) {
	cmd, err := goslack.SlashCommandParse(r)
	if err != nil {
		http.Error(w, "invalid command", http.StatusBadRequest)
		return
	}

	h.logger.Info("slash command received", "command", cmd.Command, "text", cmd.Text, "user", cmd.UserID)

	parts := strings.Fields(cmd.Text)
	subcommand := ""
	if len(parts) > 0 {
		subcommand = strings.ToLower(parts[0])
	}

	switch subcommand {
	case "", "status":
		h.handleStatusCommand(w, r)
	default:
		respondJSON(w, map[string]string{
			"response_type": "ephemeral",
			"text":          "Usage: /custodes status",
		})
	}
}

func (h *Handler) handleStatusCommand(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.incidents.ActiveIncidents(r.Context())
	if err != nil {
		h.logger.Error("listing active incidents from slash command", "error", err)
		respondJSON(w, map[string]string{"response_type": "ephemeral", "text": "Failed to list active incidents."})
		return
	}

	blocks := IncidentStatusBlocks(incidents)
	respondBlocks(w, "ephemeral", blocks)
}

// --- Helpers ---

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func respondBlocks(w http.ResponseWriter, responseType string, blocks []goslack.Block) {
	resp := map[string]any{"response_type": responseType, "blocks": blocks}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
