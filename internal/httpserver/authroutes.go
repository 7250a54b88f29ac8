package httpserver

import (
	"errors"
	"net/http"

	"github.com/custodes-trust/custodes/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// MountAuthRoutes registers the operator login/logout endpoints used to
// establish the admin session cookie that AdminRouter requires.
func (s *Server) MountAuthRoutes(authenticator *auth.LocalAuthenticator, sessionMgr *auth.SessionManager, cookieSecure bool) {
	s.Router.Post("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !DecodeAndValidate(w, r, &req) {
			return
		}

		token, err := authenticator.Login(r.Context(), clientIP(r), req.Email, req.Password)
		switch {
		case errors.Is(err, auth.ErrRateLimited):
			RespondError(w, http.StatusTooManyRequests, "rate_limited", "too many login attempts, try again later")
			return
		case errors.Is(err, auth.ErrInvalidCredentials):
			RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
			return
		case err != nil:
			s.Logger.Error("login failed", "error", err)
			RespondError(w, http.StatusInternalServerError, "internal_error", "login failed")
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     "custodes_session",
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			Secure:   cookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
		Respond(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.Router.Post("/api/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		sessionMgr.ClearCookie(w, cookieSecure)
		Respond(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
