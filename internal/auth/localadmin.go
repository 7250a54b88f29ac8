package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/custodes-trust/custodes/internal/db"
)

// Operator is a platform staff account that can authenticate against the
// admin API. Passwords are stored as bcrypt hashes; there is no SSO/OIDC
// path for operators, only for the subjects passing through Dextera.
type Operator struct {
	ID           uuid.UUID
	Email        string
	DisplayName  string
	Role         string
	PasswordHash string
	Active       bool
}

// OperatorStore persists operator accounts.
type OperatorStore struct {
	db db.DBTX
}

// NewOperatorStore creates an operator store backed by dbtx.
func NewOperatorStore(dbtx db.DBTX) *OperatorStore {
	return &OperatorStore{db: dbtx}
}

// GetByEmail looks up an operator by email, active or not; callers check
// Active themselves.
func (s *OperatorStore) GetByEmail(ctx context.Context, email string) (*Operator, error) {
	var o Operator
	err := s.db.QueryRow(ctx, `
		SELECT id, email, display_name, role, password_hash, active
		FROM operators
		WHERE email = $1
	`, email).Scan(&o.ID, &o.Email, &o.DisplayName, &o.Role, &o.PasswordHash, &o.Active)
	if err != nil {
		return nil, fmt.Errorf("looking up operator by email: %w", err)
	}
	return &o, nil
}

// Create inserts a new operator with a bcrypt-hashed password.
func (s *OperatorStore) Create(ctx context.Context, email, displayName, role, password string) (*Operator, error) {
	if !IsValidRole(role) {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	var o Operator
	err = s.db.QueryRow(ctx, `
		INSERT INTO operators (id, email, display_name, role, password_hash, active)
		VALUES ($1, $2, $3, $4, $5, true)
		RETURNING id, email, display_name, role, password_hash, active
	`, uuid.New(), email, displayName, role, string(hash)).Scan(
		&o.ID, &o.Email, &o.DisplayName, &o.Role, &o.PasswordHash, &o.Active)
	if err != nil {
		return nil, fmt.Errorf("creating operator: %w", err)
	}
	return &o, nil
}

// LocalAuthenticator verifies operator email/password pairs and issues
// session tokens, with Redis-backed lockout of repeated failures per IP.
type LocalAuthenticator struct {
	store      *OperatorStore
	sessionMgr *SessionManager
	limiter    *RateLimiter
	sessionTTL time.Duration
}

// NewLocalAuthenticator wires together the operator store, session manager,
// and login rate limiter.
func NewLocalAuthenticator(store *OperatorStore, sessionMgr *SessionManager, limiter *RateLimiter, sessionTTL time.Duration) *LocalAuthenticator {
	return &LocalAuthenticator{
		store:      store,
		sessionMgr: sessionMgr,
		limiter:    limiter,
		sessionTTL: sessionTTL,
	}
}

// ErrInvalidCredentials is returned for both unknown operators and wrong
// passwords, so login responses never leak which case occurred.
var ErrInvalidCredentials = fmt.Errorf("invalid email or password")

// ErrRateLimited is returned when the caller's IP has exceeded the login
// attempt budget.
var ErrRateLimited = fmt.Errorf("too many login attempts")

// Login verifies credentials and, on success, returns a signed session token
// ready to be set as a cookie. A failed attempt counts against the IP's rate
// limit; a successful one clears it.
func (a *LocalAuthenticator) Login(ctx context.Context, ip, email, password string) (string, error) {
	result, err := a.limiter.Check(ctx, ip)
	if err != nil {
		return "", fmt.Errorf("checking login rate limit: %w", err)
	}
	if !result.Allowed {
		return "", ErrRateLimited
	}

	op, err := a.store.GetByEmail(ctx, email)
	if err != nil || !op.Active {
		_ = a.limiter.Record(ctx, ip)
		return "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		_ = a.limiter.Record(ctx, ip)
		return "", ErrInvalidCredentials
	}

	_ = a.limiter.Reset(ctx, ip)

	token, err := a.sessionMgr.IssueToken(SessionClaims{
		Subject: op.DisplayName,
		Email:   op.Email,
		Role:    op.Role,
		UserID:  op.ID.String(),
		Method:  MethodSession,
	})
	if err != nil {
		return "", fmt.Errorf("issuing session token: %w", err)
	}
	return token, nil
}
