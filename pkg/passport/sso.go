package passport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SSOClaims is the normalized set of claims an institution's OIDC/SAML
// assertion carries, after the provider-specific adapter (outside this
// package) has parsed the raw token.
type SSOClaims struct {
	Email        string
	Domain       string // hd (OIDC) or schacHomeOrganization (SAML)
	Affiliation  string // eduPersonAffiliation, e.g. "student", "faculty", "staff"
	DisplayName  string
}

// mapAffiliation maps an eduPersonAffiliation value to a SubjectType:
// student -> STUDENT, faculty/staff -> FACULTY, anything else defaults to
// RESEARCHER.
func mapAffiliation(affiliation string) SubjectType {
	switch strings.ToLower(affiliation) {
	case "student":
		return SubjectStudent
	case "faculty", "staff", "employee":
		return SubjectFaculty
	default:
		return SubjectResearcher
	}
}

func domainAllowed(domain string, allowed []string) bool {
	domain = strings.ToLower(domain)
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimPrefix(a, "@"))
		if domain == a || strings.HasSuffix(domain, "."+a) {
			return true
		}
	}
	return false
}

// ResolveSSO loads institutionID, requires it to be approved and the claims'
// domain (or the email's domain when none is given) to be one of its allowed
// domains, then finds or provisions the subject that claims describes. A first-seen subject is
// created at INSTITUTIONAL clearance with a starting trust score of 60.
func (s *Service) ResolveSSO(ctx context.Context, institutionID string, claims SSOClaims) (Subject, error) {
	inst, err := s.institutions.Get(ctx, institutionID)
	if err != nil {
		return Subject{}, fmt.Errorf("resolving institution %s: %w", institutionID, err)
	}
	if !inst.Approved {
		return Subject{}, fmt.Errorf("institution %s is not approved for SSO", institutionID)
	}

	domain := claims.Domain
	if domain == "" {
		if at := strings.LastIndex(claims.Email, "@"); at >= 0 {
			domain = claims.Email[at+1:]
		}
	}
	if !domainAllowed(domain, inst.AllowedDomains) {
		return Subject{}, fmt.Errorf("domain %q is not federated for institution %s", domain, institutionID)
	}

	existing, err := s.subjects.GetByEmail(ctx, claims.Email)
	if err == nil {
		return existing, nil
	}

	now := time.Now().UTC()
	subj := Subject{
		SubjectID:      uuid.New().String(),
		SubjectType:    mapAffiliation(claims.Affiliation),
		ClearanceLevel: ClearanceInstitutional,
		Email:          claims.Email,
		DisplayName:    claims.DisplayName,
		InstitutionID:  institutionID,
		TrustScore:     60,
		Active:         true,
		Banned:         false,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.subjects.Create(ctx, subj); err != nil {
		return Subject{}, fmt.Errorf("provisioning SSO subject: %w", err)
	}
	return subj, nil
}
