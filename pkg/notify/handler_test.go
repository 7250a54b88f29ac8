package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

type fakeIncidentSink struct {
	acked     []string
	incidents []IncidentSummary
}

func (f *fakeIncidentSink) MarkFalsePositive(ctx context.Context, incidentID, by, notes string) error {
	f.acked = append(f.acked, incidentID)
	return nil
}
func (f *fakeIncidentSink) ActiveIncidents(ctx context.Context) ([]IncidentSummary, error) {
	return f.incidents, nil
}

func newTestRouter(sink IncidentSink) chi.Router {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	h := NewHandler(NewNotifier("", "", logger), sink, logger, "")
	router := chi.NewRouter()
	router.Mount("/notify", h.Routes())
	return router
}

func TestEventsURLVerification(t *testing.T) {
	router := newTestRouter(&fakeIncidentSink{})

	body := `{"type":"url_verification","challenge":"test_challenge_token"}`
	r := httptest.NewRequest(http.MethodPost, "/notify/events", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["challenge"] != "test_challenge_token" {
		t.Errorf("challenge = %q, want test_challenge_token", resp["challenge"])
	}
}

func TestEventsInvalidJSON(t *testing.T) {
	router := newTestRouter(&fakeIncidentSink{})

	r := httptest.NewRequest(http.MethodPost, "/notify/events", strings.NewReader("not json"))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCommandsDefaultsToStatus(t *testing.T) {
	sink := &fakeIncidentSink{incidents: []IncidentSummary{{IncidentID: "inc-1", JobID: "job-1", Severity: "HIGH", ActionTaken: "KILL_JOB"}}}
	router := newTestRouter(sink)

	body := "command=%2Fcustodes&text=&user_id=U123&channel_id=C456"
	r := httptest.NewRequest(http.MethodPost, "/notify/commands", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["response_type"] != "ephemeral" {
		t.Errorf("response_type = %v, want ephemeral", resp["response_type"])
	}
}

func TestCommandsUnknownSubcommand(t *testing.T) {
	router := newTestRouter(&fakeIncidentSink{})

	body := "command=%2Fcustodes&text=foobar&user_id=U123&channel_id=C456"
	r := httptest.NewRequest(http.MethodPost, "/notify/commands", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	var resp map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !strings.Contains(resp["text"], "Usage") {
		t.Errorf("expected usage text, got %q", resp["text"])
	}
}

func TestInteractionsMissingPayload(t *testing.T) {
	router := newTestRouter(&fakeIncidentSink{})

	r := httptest.NewRequest(http.MethodPost, "/notify/interactions", strings.NewReader(""))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestInteractionsBlockActionAcksFalsePositive(t *testing.T) {
	sink := &fakeIncidentSink{}
	router := newTestRouter(sink)

	payload := `{"type":"block_actions","user":{"id":"U123"},"channel":{"id":"C1"},"message":{"ts":"1.1"},"actions":[{"action_id":"ack_false_positive","value":"inc-7"}]}`
	form := url.Values{"payload": {payload}}

	req := httptest.NewRequest(http.MethodPost, "/notify/interactions", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(sink.acked) != 1 || sink.acked[0] != "inc-7" {
		t.Fatalf("expected incident inc-7 to be acknowledged, got %+v", sink.acked)
	}
}
