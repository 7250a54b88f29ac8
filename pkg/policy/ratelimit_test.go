package policy

import "testing"

func TestScopeID(t *testing.T) {
	req := AuthorizationRequest{SubjectID: "subj-1", InstitutionID: "inst-1", IP: "10.0.0.1"}
	cases := map[RateLimitScope]string{
		RateLimitSubject:     "subj-1",
		RateLimitInstitution: "inst-1",
		RateLimitIP:          "10.0.0.1",
	}
	for scope, want := range cases {
		if got := scopeID(scope, req); got != want {
			t.Errorf("scopeID(%s) = %q, want %q", scope, got, want)
		}
	}
}

func TestRateLimitKeyFormat(t *testing.T) {
	got := rateLimitKey(RateLimitSubject, "subj-1", ActionJobSubmit)
	want := "ratelimit:SUBJECT:subj-1:JOB_SUBMIT"
	if got != want {
		t.Fatalf("rateLimitKey = %q, want %q", got, want)
	}
}
