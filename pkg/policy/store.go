package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/custodes-trust/custodes/internal/db"
)

// DBStore persists policies as JSONB documents keyed by (scope, scope_id);
// any relational or KV store would suffice.
type DBStore struct {
	db db.DBTX
}

// NewDBStore creates a DBStore backed by dbtx.
func NewDBStore(dbtx db.DBTX) *DBStore {
	return &DBStore{db: dbtx}
}

// policyDoc is the JSON-serializable mirror of Policy, used only at the
// storage boundary.
type policyDoc struct {
	PolicyID        string `json:"policy_id"`
	DefaultDecision string `json:"default_decision"`
	Version         int    `json:"version"`
	Rules           []Rule `json:"rules"`
}

// Load returns scope's policy. A missing row is a normal miss: callers fall
// through to the next, less specific scope.
func (s *DBStore) Load(ctx context.Context, scope Scope, scopeID string) (Policy, error) {
	var body []byte
	var updatedAtUnix int64
	err := s.db.QueryRow(ctx, `
		SELECT body, extract(epoch from updated_at)::bigint FROM policies WHERE scope = $1 AND scope_id = $2
	`, string(scope), scopeID).Scan(&body, &updatedAtUnix)
	if err != nil {
		return Policy{}, fmt.Errorf("loading policy %s:%s: %w", scope, scopeID, err)
	}

	var doc policyDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return Policy{}, fmt.Errorf("decoding policy %s:%s: %w", scope, scopeID, err)
	}

	return Policy{
		PolicyID:        doc.PolicyID,
		Scope:           scope,
		ScopeID:         scopeID,
		DefaultDecision: Decision(doc.DefaultDecision),
		Version:         doc.Version,
		Rules:           doc.Rules,
	}, nil
}

// Save upserts p, storing p.Version as given; it does not bump the version
// itself. Callers must invalidate the cache after a successful Save.
func (s *DBStore) Save(ctx context.Context, p Policy) error {
	doc := policyDoc{PolicyID: p.PolicyID, DefaultDecision: string(p.DefaultDecision), Version: p.Version, Rules: p.Rules}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding policy %s: %w", p.PolicyID, err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO policies (scope, scope_id, policy_id, body, updated_at)
		VALUES ($1,$2,$3,$4, now())
		ON CONFLICT (scope, scope_id) DO UPDATE
			SET policy_id = excluded.policy_id, body = excluded.body, updated_at = now()
	`, string(p.Scope), p.ScopeID, p.PolicyID, body)
	if err != nil {
		return fmt.Errorf("saving policy %s: %w", p.PolicyID, err)
	}
	return nil
}
