package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// SessionMiddleware authenticates operator requests via the session cookie
// issued at login and stores the resulting Identity in the request context.
// Unlike the subject-facing Dextera passport, there is only one
// authentication method here: a first-party session cookie. Missing or
// invalid cookies leave the identity unset rather than reject outright, so
// routes that allow anonymous access (mounted outside AdminRouter) still
// work; RequireAuth is what actually enforces authentication.
func SessionMiddleware(sessionMgr *SessionManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := sessionMgr.CookieFromRequest(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			var userID *uuid.UUID
			if claims.UserID != "" {
				if id, err := uuid.Parse(claims.UserID); err == nil {
					userID = &id
				}
			}

			identity := &Identity{
				Subject: claims.Subject,
				Email:   claims.Email,
				Role:    claims.Role,
				UserID:  userID,
				Method:  MethodSession,
			}

			logger.Debug("authenticated via session cookie", "sub", claims.Subject, "role", claims.Role)

			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondErr(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errStr,
		"message": message,
	})
}
