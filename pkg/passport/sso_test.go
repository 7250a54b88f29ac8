package passport

import "testing"

func TestMapAffiliation(t *testing.T) {
	cases := map[string]SubjectType{
		"student":  SubjectStudent,
		"Student":  SubjectStudent,
		"faculty":  SubjectFaculty,
		"staff":    SubjectFaculty,
		"employee": SubjectFaculty,
		"alumni":   SubjectResearcher,
		"":         SubjectResearcher,
	}
	for affiliation, want := range cases {
		if got := mapAffiliation(affiliation); got != want {
			t.Errorf("mapAffiliation(%q) = %s, want %s", affiliation, got, want)
		}
	}
}

func TestDomainAllowed(t *testing.T) {
	allowed := []string{"university.edu", "@cs.college.edu"}

	cases := map[string]bool{
		"university.edu":     true,
		"UNIVERSITY.EDU":     true,
		"cs.university.edu":  true,
		"cs.college.edu":     true,
		"sub.cs.college.edu": true,
		"college.edu":        false,
		"evil.com":           false,
	}
	for domain, want := range cases {
		if got := domainAllowed(domain, allowed); got != want {
			t.Errorf("domainAllowed(%q) = %v, want %v", domain, got, want)
		}
	}
}
