package passport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodes-trust/custodes/pkg/faults"
)

// ObsidianSink is the narrow interface Dextera uses to commit ledger events,
// injected at construction so this package never imports pkg/ledger's
// internals directly.
type ObsidianSink interface {
	Commit(ctx context.Context, eventType, subjectID, passportID, institutionID, targetID, targetType string, metadata map[string]string) error
}

// TrustSignalSource resolves the raw behavioral signals ComputeTrustScore
// needs for a subject — identity/device/fraud history the passport service
// itself does not store.
type TrustSignalSource interface {
	Signals(ctx context.Context, subjectID string) (TrustSignals, error)
}

// Config holds Dextera's tunables.
type Config struct {
	PassportTTL    time.Duration // default 3600s, bounded 1-8h
	RefreshTTL     time.Duration // default 86400s
	DefaultAud     string
}

// Service is Dextera: identity, passports, and trust scoring.
type Service struct {
	subjects     *SubjectStore
	institutions *InstitutionStore
	revocations  *RevocationStore
	signer       *TokenSigner
	signals      TrustSignalSource
	ledger       ObsidianSink
	cfg          Config
}

// NewService wires Dextera's dependencies.
func NewService(subjects *SubjectStore, institutions *InstitutionStore, revocations *RevocationStore,
	signer *TokenSigner, signals TrustSignalSource, ledger ObsidianSink, cfg Config) *Service {
	if cfg.PassportTTL <= 0 {
		cfg.PassportTTL = time.Hour
	}
	if cfg.PassportTTL < time.Hour || cfg.PassportTTL > 8*time.Hour {
		// Clamp to the 1-8h bound rather than reject — a misconfigured TTL
		// should degrade safely, not take the service down.
		if cfg.PassportTTL < time.Hour {
			cfg.PassportTTL = time.Hour
		} else {
			cfg.PassportTTL = 8 * time.Hour
		}
	}
	return &Service{
		subjects: subjects, institutions: institutions, revocations: revocations,
		signer: signer, signals: signals, ledger: ledger, cfg: cfg,
	}
}

// resolveClearance maps an identity provider to the clearance it grants.
func resolveClearance(provider IdentityProvider) ClearanceLevel {
	switch provider {
	case ProviderKYB:
		return ClearanceEnterprise
	case ProviderOIDCEdu, ProviderSAMLEdu:
		return ClearanceInstitutional
	case ProviderAPIKey:
		return ClearanceAdmin
	default:
		return ClearanceEmail
	}
}

// extractInstitutionalClaims pulls institution_id and affiliation out of
// provider claims (hd / schacHomeOrganization, eduPersonAffiliation).
func extractInstitutionalClaims(claimsMap map[string]string) (institutionID string, affiliation string) {
	if v, ok := claimsMap["hd"]; ok && v != "" {
		institutionID = v
	} else if v, ok := claimsMap["schacHomeOrganization"]; ok && v != "" {
		institutionID = v
	}
	if v, ok := claimsMap["eduPersonAffiliation"]; ok {
		affiliation = v
	}
	return institutionID, affiliation
}

// Issue issues a new passport for subjectID.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (Passport, error) {
	subj, err := s.subjects.Get(ctx, req.SubjectID)
	if err != nil {
		return Passport{}, faults.NewIdentityFault(faults.IdentityNotFound, "subject not found")
	}
	if !subj.Active || subj.Banned {
		return Passport{}, faults.NewIdentityFault(faults.IdentityBanned, "subject is banned")
	}

	clearance := resolveClearance(req.IdentityProvider)
	institutionID, affiliation := extractInstitutionalClaims(req.ProviderClaims)
	if institutionID == "" {
		institutionID = subj.InstitutionID
	}
	subjectType := subj.SubjectType
	if subjectType == "" && affiliation != "" {
		subjectType = mapAffiliation(affiliation)
	}

	signals, err := s.signals.Signals(ctx, req.SubjectID)
	if err != nil {
		return Passport{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}
	signals.DeviceBound = req.DeviceID != ""
	signals.MFA = req.MFAVerified
	signals.InstitutionVerified = institutionID != ""

	trust := ComputeTrustScore(signals)
	if err := s.subjects.UpdateTrustScore(ctx, req.SubjectID, trust.Score); err != nil {
		return Passport{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}

	now := time.Now().UTC()
	p := Passport{
		PassportID:       uuid.New().String(),
		SubjectID:        req.SubjectID,
		SubjectType:      subjectType,
		ClearanceLevel:   clearance,
		InstitutionID:    institutionID,
		TrustScore:       trust.Score,
		IdentityProvider: req.IdentityProvider,
		MFAVerified:      req.MFAVerified,
		DeviceBound:      req.DeviceID != "",
		DeviceID:         req.DeviceID,
		IssuedAt:         now,
		ExpiresAt:        now.Add(s.cfg.PassportTTL),
	}

	token, err := s.signer.Issue(p, s.cfg.DefaultAud)
	if err != nil {
		return Passport{}, fmt.Errorf("signing passport: %w", err)
	}
	p.Token = token

	if err := s.ledger.Commit(ctx, "PASSPORT_ISSUED", p.SubjectID, p.PassportID, p.InstitutionID, "", "", map[string]string{
		"provider":  string(req.IdentityProvider),
		"clearance": clearance.String(),
		"trust":     fmt.Sprintf("%d", trust.Score),
	}); err != nil {
		return Passport{}, fmt.Errorf("ledgering passport issue: %w", err)
	}

	return p, nil
}

// Verify validates a compact token and returns the decoded passport.
func (s *Service) Verify(ctx context.Context, token, audience string) VerifyResult {
	c, err := s.signer.Verify(token, audience)
	if err != nil {
		return VerifyResult{Valid: false, Reason: err.Error()}
	}

	revoked, err := s.revocations.IsRevoked(ctx, c.Jti)
	if err != nil {
		return VerifyResult{Valid: false, Reason: "revocation check failed"}
	}
	if revoked {
		return VerifyResult{Valid: false, Reason: faults.NewIdentityFault(faults.IdentityTokenRevoked, "passport revoked").Error()}
	}

	subj, err := s.subjects.Get(ctx, c.Sub)
	if err != nil {
		return VerifyResult{Valid: false, Reason: "subject not found"}
	}
	if subj.Banned {
		return VerifyResult{Valid: false, Reason: faults.NewIdentityFault(faults.IdentityBanned, "subject banned").Error()}
	}

	clearance, _ := ParseClearanceLevel(c.Clr)
	p := &Passport{
		PassportID:       c.Jti,
		SubjectID:        c.Sub,
		SubjectType:      SubjectType(c.SubjectType),
		ClearanceLevel:   clearance,
		InstitutionID:    c.InstitutionID,
		TrustScore:       c.Trs,
		IdentityProvider: IdentityProvider(c.Provider),
		MFAVerified:      c.MFA,
		DeviceID:         c.DeviceID,
		IssuedAt:         time.Unix(c.Iat, 0).UTC(),
		ExpiresAt:        time.Unix(c.Exp, 0).UTC(),
		Token:            token,
	}
	return VerifyResult{Valid: true, Passport: p}
}

// Revoke adds passportID to the revocation store with a TTL at least as long
// as the passport's own lifetime.
func (s *Service) Revoke(ctx context.Context, passportID, reason, by string) error {
	ttl := s.cfg.PassportTTL
	if ttl < s.cfg.RefreshTTL {
		ttl = s.cfg.RefreshTTL
	}
	if err := s.revocations.Revoke(ctx, passportID, reason, ttl); err != nil {
		return faults.NewTransportFault(faults.TransportUpstream, err)
	}
	return s.ledger.Commit(ctx, "PASSPORT_REVOKED", "", passportID, "", "", "", map[string]string{
		"reason": reason,
		"by":     by,
	})
}

// Ban marks subjectID banned. It writes no passport ID to the revocation
// store; outstanding passports stop verifying because Verify rejects any
// token whose subject is banned. Idempotent: a second ban on an
// already-banned subject performs no additional store write and emits no
// duplicate ledger entry.
func (s *Service) Ban(ctx context.Context, subjectID, reason, by string, notifyInstitution bool) error {
	subj, err := s.subjects.Get(ctx, subjectID)
	if err != nil {
		return faults.NewIdentityFault(faults.IdentityNotFound, "subject not found")
	}
	if subj.Banned {
		return nil
	}

	if err := s.subjects.Ban(ctx, subjectID); err != nil {
		return faults.NewTransportFault(faults.TransportUpstream, err)
	}

	meta := map[string]string{"reason": reason, "by": by}
	if notifyInstitution {
		meta["notify_institution"] = "true"
	}
	return s.ledger.Commit(ctx, "SUBJECT_BANNED", subjectID, "", subj.InstitutionID, "", "", meta)
}

// TrustScore returns the current trust score for subjectID, recomputing it
// from live signals.
func (s *Service) TrustScore(ctx context.Context, subjectID string) (TrustResult, error) {
	subj, err := s.subjects.Get(ctx, subjectID)
	if err != nil {
		return TrustResult{}, faults.NewIdentityFault(faults.IdentityNotFound, "subject not found")
	}
	signals, err := s.signals.Signals(ctx, subjectID)
	if err != nil {
		return TrustResult{}, faults.NewTransportFault(faults.TransportUpstream, err)
	}
	signals.InstitutionVerified = subj.InstitutionID != ""
	return ComputeTrustScore(signals), nil
}
