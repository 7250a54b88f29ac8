package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func testSessionManager(t *testing.T) *SessionManager {
	t.Helper()
	sm, err := NewSessionManager(GenerateDevSecret(), time.Hour)
	if err != nil {
		t.Fatalf("creating session manager: %v", err)
	}
	return sm
}

func TestSessionMiddleware_NoCookie(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	sm := testSessionManager(t)
	mw := SessionMiddleware(sm, logger)

	var gotIdentity *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotIdentity != nil {
		t.Fatalf("expected no identity without a cookie, got %+v", gotIdentity)
	}
}

func TestSessionMiddleware_ValidCookie(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	sm := testSessionManager(t)
	mw := SessionMiddleware(sm, logger)

	token, err := sm.IssueToken(SessionClaims{
		Subject: "jdoe",
		Email:   "jdoe@example.com",
		Role:    RoleOperator,
		Method:  MethodSession,
	})
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}

	var gotIdentity *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotIdentity == nil {
		t.Fatal("expected identity in context")
	}
	if gotIdentity.Role != RoleOperator {
		t.Errorf("Role = %q, want %q", gotIdentity.Role, RoleOperator)
	}
	if gotIdentity.Method != MethodSession {
		t.Errorf("Method = %q, want %q", gotIdentity.Method, MethodSession)
	}
}

func TestSessionMiddleware_ExpiredCookie(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	sm, err := NewSessionManager(GenerateDevSecret(), -time.Minute)
	if err != nil {
		t.Fatalf("creating session manager: %v", err)
	}
	mw := SessionMiddleware(sm, logger)

	token, err := sm.IssueToken(SessionClaims{Subject: "jdoe", Role: RoleOperator})
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}

	var gotIdentity *Identity
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if gotIdentity != nil {
		t.Fatalf("expected no identity for an expired token, got %+v", gotIdentity)
	}
}
