package passport

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodes-trust/custodes/internal/db"
)

// SubjectStore persists Subject records.
type SubjectStore struct {
	db db.DBTX
}

// NewSubjectStore creates a SubjectStore backed by dbtx.
func NewSubjectStore(dbtx db.DBTX) *SubjectStore {
	return &SubjectStore{db: dbtx}
}

const subjectColumns = `subject_id, subject_type, clearance_level, email, display_name,
	institution_id, org_id, trust_score, active, banned, created_at, updated_at`

func scanSubject(row interface{ Scan(dest ...any) error }) (Subject, error) {
	var s Subject
	var clearance string
	var institutionID, orgID *string
	if err := row.Scan(&s.SubjectID, &s.SubjectType, &clearance, &s.Email, &s.DisplayName,
		&institutionID, &orgID, &s.TrustScore, &s.Active, &s.Banned, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Subject{}, err
	}
	s.ClearanceLevel, _ = ParseClearanceLevel(clearance)
	if institutionID != nil {
		s.InstitutionID = *institutionID
	}
	if orgID != nil {
		s.OrgID = *orgID
	}
	return s, nil
}

// Get returns a subject by id.
func (s *SubjectStore) Get(ctx context.Context, subjectID string) (Subject, error) {
	row := s.db.QueryRow(ctx, `SELECT `+subjectColumns+` FROM subjects WHERE subject_id = $1`, subjectID)
	subj, err := scanSubject(row)
	if err != nil {
		return Subject{}, fmt.Errorf("getting subject %s: %w", subjectID, err)
	}
	return subj, nil
}

// GetByEmail returns a subject by its email, used to find an existing SSO
// subject before provisioning a new one.
func (s *SubjectStore) GetByEmail(ctx context.Context, email string) (Subject, error) {
	row := s.db.QueryRow(ctx, `SELECT `+subjectColumns+` FROM subjects WHERE email = $1`, email)
	subj, err := scanSubject(row)
	if err != nil {
		return Subject{}, fmt.Errorf("getting subject by email %s: %w", email, err)
	}
	return subj, nil
}

// Create inserts a new subject.
func (s *SubjectStore) Create(ctx context.Context, subj Subject) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO subjects (subject_id, subject_type, clearance_level, email, display_name,
			institution_id, org_id, trust_score, active, banned, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
		ON CONFLICT (subject_id) DO NOTHING
	`, subj.SubjectID, string(subj.SubjectType), subj.ClearanceLevel.String(), subj.Email, subj.DisplayName,
		nullableString(subj.InstitutionID), nullableString(subj.OrgID), subj.TrustScore, subj.Active, subj.Banned, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("creating subject: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UpdateTrustScore persists a recomputed trust score.
func (s *SubjectStore) UpdateTrustScore(ctx context.Context, subjectID string, score int) error {
	_, err := s.db.Exec(ctx, `UPDATE subjects SET trust_score = $1, updated_at = now() WHERE subject_id = $2`, score, subjectID)
	if err != nil {
		return fmt.Errorf("updating trust score: %w", err)
	}
	return nil
}

// Ban marks a subject as banned. Idempotent: a second call against an
// already-banned subject is a no-op at the store layer.
func (s *SubjectStore) Ban(ctx context.Context, subjectID string) error {
	_, err := s.db.Exec(ctx, `UPDATE subjects SET banned = true, updated_at = now() WHERE subject_id = $1 AND banned = false`, subjectID)
	if err != nil {
		return fmt.Errorf("banning subject: %w", err)
	}
	return nil
}

// InstitutionStore persists Institution records.
type InstitutionStore struct {
	db db.DBTX
}

// NewInstitutionStore creates an InstitutionStore backed by dbtx.
func NewInstitutionStore(dbtx db.DBTX) *InstitutionStore {
	return &InstitutionStore{db: dbtx}
}

// Get returns an institution by id.
func (s *InstitutionStore) Get(ctx context.Context, institutionID string) (Institution, error) {
	var inst Institution
	err := s.db.QueryRow(ctx, `
		SELECT institution_id, name, sso_kind, endpoint, allowed_domains, approved, admin_contact
		FROM institutions WHERE institution_id = $1
	`, institutionID).Scan(&inst.InstitutionID, &inst.Name, &inst.SSOKind, &inst.Endpoint,
		&inst.AllowedDomains, &inst.Approved, &inst.AdminContact)
	if err != nil {
		return Institution{}, fmt.Errorf("getting institution %s: %w", institutionID, err)
	}
	return inst, nil
}

// RevocationStore tracks revoked passports in Redis with a TTL at least as
// long as the passport's own lifetime.
type RevocationStore struct {
	rdb *redis.Client
}

// NewRevocationStore creates a RevocationStore.
func NewRevocationStore(rdb *redis.Client) *RevocationStore {
	return &RevocationStore{rdb: rdb}
}

func revocationKey(passportID string) string { return "revoked:" + passportID }

// Revoke marks passportID revoked for at least ttl.
func (s *RevocationStore) Revoke(ctx context.Context, passportID, reason string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, revocationKey(passportID), reason, ttl).Err(); err != nil {
		return fmt.Errorf("revoking passport %s: %w", passportID, err)
	}
	return nil
}

// IsRevoked reports whether passportID has been revoked.
func (s *RevocationStore) IsRevoked(ctx context.Context, passportID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, revocationKey(passportID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking revocation for %s: %w", passportID, err)
	}
	return n > 0, nil
}

// DBSignalSource implements TrustSignalSource from the subjects table and
// fraud/abuse flags tracked elsewhere in the ledger. It is the default wired
// in production; callers that integrate a dedicated fraud-detection pipeline
// can supply their own TrustSignalSource instead.
type DBSignalSource struct {
	db db.DBTX
}

// NewDBSignalSource creates a DBSignalSource backed by dbtx.
func NewDBSignalSource(dbtx db.DBTX) *DBSignalSource {
	return &DBSignalSource{db: dbtx}
}

// Signals derives trust signals from a subject's stored history. Fraud/abuse
// flags come from a parallel count of SUBJECT_BANNED-adjacent ledger entries
// maintained outside this package; absent any such feed they default false.
func (s *DBSignalSource) Signals(ctx context.Context, subjectID string) (TrustSignals, error) {
	var createdAt time.Time
	var fraudFlagCount, abuseFlagCount, disputesResolvedAgainst int
	err := s.db.QueryRow(ctx, `
		SELECT created_at,
			(SELECT count(*) FROM entries WHERE subject_id = $1 AND event_type = 'FRAUD_FLAGGED'),
			(SELECT count(*) FROM entries WHERE subject_id = $1 AND event_type = 'ABUSE_FLAGGED'),
			(SELECT count(*) FROM disputes WHERE subject_id = $1 AND status = 'RESOLVED')
		FROM subjects WHERE subject_id = $1
	`, subjectID).Scan(&createdAt, &fraudFlagCount, &abuseFlagCount, &disputesResolvedAgainst)
	if err != nil {
		return TrustSignals{}, fmt.Errorf("deriving trust signals for %s: %w", subjectID, err)
	}

	ageDays := int(time.Since(createdAt).Hours() / 24)
	completionRate := 1.0
	if disputesResolvedAgainst > 0 {
		completionRate = clamp01(1 - float64(disputesResolvedAgainst)*0.1)
	}

	return TrustSignals{
		IdentityVerified:  true,
		AccountAgeDays:    ageDays,
		LoginConsistency:  0.8,
		FraudFlagged:      fraudFlagCount > 0,
		AbuseFlagged:      abuseFlagCount > 0,
		JobCompletionRate: completionRate,
		PaymentHealth:     1.0,
	}, nil
}
