package policy

import (
	"testing"
	"time"
)

func TestTimeWindowContainsOvernight(t *testing.T) {
	w := TimeWindow{StartHour: 22, EndHour: 6}
	for hour := 0; hour < 24; hour++ {
		want := hour >= 22 || hour < 6
		if got := w.contains(hour); got != want {
			t.Errorf("contains(%d) = %v, want %v", hour, got, want)
		}
	}
}

func TestBlackoutActiveRequiresMatchingInstitution(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	blackouts := []Blackout{{InstitutionID: "univ-a", Start: start, End: end, MinVRAMGB: 8}}

	req := AuthorizationRequest{InstitutionID: "univ-b", Resource: ResourceAttributes{VRAMGB: 16}}
	if blackoutActive(req, start.Add(time.Hour), blackouts) {
		t.Fatal("blackout scoped to univ-a must not apply to univ-b")
	}

	req.InstitutionID = "univ-a"
	if !blackoutActive(req, start.Add(time.Hour), blackouts) {
		t.Fatal("expected blackout to apply for matching institution with heavy vram request")
	}

	req.Resource.VRAMGB = 4
	if blackoutActive(req, start.Add(time.Hour), blackouts) {
		t.Fatal("blackout should not apply below the configured min_vram_gb")
	}
}

func TestConditionsMatchesAllCategories(t *testing.T) {
	c := Conditions{
		Subject:  SubjectConditions{MinTrust: 50},
		Resource: ResourceConditions{MinVRAMGB: 8, MaxGPUCount: 2},
		Risk:     RiskConditions{MaxRiskScore: 60},
	}
	ok := AuthorizationRequest{
		Trust:    60,
		Resource: ResourceAttributes{VRAMGB: 16, GPUCount: 2},
		Risk:     RiskContext{CurrentRiskScore: 10},
	}
	if !c.matches(ok) {
		t.Fatal("expected request satisfying every category to match")
	}

	tooLittleVRAM := ok
	tooLittleVRAM.Resource.VRAMGB = 4
	if c.matches(tooLittleVRAM) {
		t.Fatal("expected insufficient vram to fail the resource condition")
	}

	tooRisky := ok
	tooRisky.Risk.CurrentRiskScore = 90
	if c.matches(tooRisky) {
		t.Fatal("expected excessive risk to fail the risk condition")
	}
}
