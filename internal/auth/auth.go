// Package auth authenticates the platform's own operators — the staff who
// approve policy edits, resolve disputes, ban subjects, and trigger an
// emergency halt. It is deliberately separate from the Dextera passport,
// which authenticates marketplace subjects for trust-backbone operations;
// see pkg/passport for that.
package auth

import (
	"context"

	"github.com/google/uuid"
)

// Roles supported by the operator RBAC system.
const (
	RolePlatformAdmin = "platform_admin"
	RoleOperator      = "operator"
	RoleAuditor       = "auditor"
)

// ValidRoles lists all known operator roles in descending privilege order.
var ValidRoles = []string{RolePlatformAdmin, RoleOperator, RoleAuditor}

// Method describes how the operator was authenticated.
const (
	MethodSession = "session"
	MethodDev     = "dev"
)

// Identity represents the authenticated operator for the current request.
type Identity struct {
	Subject string // operator login name
	Email   string
	Role    string
	UserID  *uuid.UUID
	Method  string
}

type ctxKey string

const identityKey ctxKey = "auth_identity"

// NewContext stores the identity in the context.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity from the context. Returns nil if unset.
func FromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(identityKey).(*Identity)
	return v
}

// IsValidRole reports whether role is a recognised RBAC role.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}
