package passport

import "testing"

func TestComputeTrustScoreFullSignals(t *testing.T) {
	signals := TrustSignals{
		IdentityVerified:    true,
		MFA:                 true,
		DeviceBound:         true,
		InstitutionVerified: true,
		AccountAgeDays:      365,
		LoginConsistency:    1,
		JobCompletionRate:   1,
		PaymentHealth:       1,
	}
	result := ComputeTrustScore(signals)
	if result.Score != 100 {
		t.Fatalf("expected a fully-verified subject to score 100, got %d", result.Score)
	}
	if result.Band != BandHighClearance {
		t.Fatalf("expected HIGH_CLEARANCE band, got %s", result.Band)
	}
}

func TestComputeTrustScoreFraudCap(t *testing.T) {
	signals := TrustSignals{
		IdentityVerified:    true,
		MFA:                 true,
		DeviceBound:         true,
		InstitutionVerified: true,
		AccountAgeDays:      365,
		LoginConsistency:    1,
		FraudFlagged:        true,
		JobCompletionRate:   1,
		PaymentHealth:       1,
	}
	result := ComputeTrustScore(signals)
	if result.Score > 30 {
		t.Fatalf("fraud-flagged subject must cap at 30, got %d", result.Score)
	}
}

func TestComputeTrustScoreNoInstitutionCap(t *testing.T) {
	signals := TrustSignals{
		IdentityVerified:  true,
		MFA:               true,
		DeviceBound:       true,
		AccountAgeDays:    365,
		LoginConsistency:  1,
		JobCompletionRate: 1,
		PaymentHealth:     1,
	}
	result := ComputeTrustScore(signals)
	if result.Score > 80 {
		t.Fatalf("subject without institution verification (and no fraud) must cap at 80, got %d", result.Score)
	}
}

func TestGetTrustBandBoundaries(t *testing.T) {
	cases := map[int]TrustBand{
		0:   BandRestricted,
		30:  BandRestricted,
		31:  BandStandard,
		60:  BandStandard,
		61:  BandTrusted,
		80:  BandTrusted,
		81:  BandHighClearance,
		100: BandHighClearance,
	}
	for score, want := range cases {
		if got := GetTrustBand(score); got != want {
			t.Errorf("GetTrustBand(%d) = %s, want %s", score, got, want)
		}
	}
}
