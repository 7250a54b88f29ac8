package passport

import "testing"

func TestResolveClearance(t *testing.T) {
	cases := map[IdentityProvider]ClearanceLevel{
		ProviderKYB:        ClearanceEnterprise,
		ProviderOIDCEdu:    ClearanceInstitutional,
		ProviderSAMLEdu:    ClearanceInstitutional,
		ProviderAPIKey:     ClearanceAdmin,
		ProviderEmailMagic: ClearanceEmail,
		ProviderPasskey:    ClearanceEmail,
	}
	for provider, want := range cases {
		if got := resolveClearance(provider); got != want {
			t.Errorf("resolveClearance(%s) = %s, want %s", provider, got, want)
		}
	}
}

func TestExtractInstitutionalClaims(t *testing.T) {
	institutionID, affiliation := extractInstitutionalClaims(map[string]string{
		"hd":                   "university.edu",
		"eduPersonAffiliation": "student",
	})
	if institutionID != "university.edu" || affiliation != "student" {
		t.Fatalf("got institutionID=%q affiliation=%q", institutionID, affiliation)
	}

	// schacHomeOrganization is used when hd is absent (SAML flows).
	institutionID, _ = extractInstitutionalClaims(map[string]string{
		"schacHomeOrganization": "college.edu",
	})
	if institutionID != "college.edu" {
		t.Fatalf("expected schacHomeOrganization fallback, got %q", institutionID)
	}

	institutionID, affiliation = extractInstitutionalClaims(map[string]string{})
	if institutionID != "" || affiliation != "" {
		t.Fatalf("expected empty claims to yield empty results, got institutionID=%q affiliation=%q", institutionID, affiliation)
	}
}
