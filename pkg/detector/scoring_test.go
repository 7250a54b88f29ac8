package detector

import "testing"

func TestComputeRiskScoreWeightedComposite(t *testing.T) {
	s := RuntimeSignals{
		PowerDrawWatts: 300, PowerCapWatts: 300, // power% = 100 -> risk (100-80)*5=100
		OutboundBytesPerSec: 0, UniqueDstIPs: 0,
		UnexpectedProcesses: nil, PrivilegeEscalations: 0,
	}
	cfg := Config{NetworkBaselineBytesPS: 1024}
	risk := ComputeRiskScore(s, nil, cfg)

	if risk.PowerRisk != 100 {
		t.Errorf("expected power risk 100, got %d", risk.PowerRisk)
	}
	if risk.NetworkRisk != 0 {
		t.Errorf("expected network risk 0 with no traffic, got %d", risk.NetworkRisk)
	}
	// composite = round(0.25*100 + 0.35*0 + 0.25*0 + 0.15*0) = 25
	if risk.Composite != 25 {
		t.Errorf("expected composite 25, got %d", risk.Composite)
	}
}

func TestComputeRiskScoreClampsTo100(t *testing.T) {
	s := RuntimeSignals{
		PowerDrawWatts: 1000, PowerCapWatts: 100,
		UnexpectedProcesses:  []string{"a", "b", "c", "d", "e", "f"},
		PrivilegeEscalations: 5,
	}
	anomalies := []Anomaly{
		{Kind: "PORT_SCAN", Tier: 2}, {Kind: "ARP_SCAN", Tier: 2}, {Kind: "FRAMEWORK_MISMATCH"},
	}
	risk := ComputeRiskScore(s, anomalies, Config{})
	if risk.Composite > 100 {
		t.Fatalf("expected composite clamped to 100, got %d", risk.Composite)
	}
	if risk.ProcessRisk != 100 {
		t.Fatalf("expected process risk clamped to 100, got %d", risk.ProcessRisk)
	}
}

func TestComputeRiskScoreWorkloadRiskFromMismatch(t *testing.T) {
	anomalies := []Anomaly{{Kind: "FRAMEWORK_MISMATCH"}}
	risk := ComputeRiskScore(RuntimeSignals{}, anomalies, Config{})
	if risk.WorkloadRisk != 40 {
		t.Fatalf("expected workload risk 40 when a mismatch anomaly is present, got %d", risk.WorkloadRisk)
	}
}

func TestHighestSeverityPicksWorst(t *testing.T) {
	anomalies := []Anomaly{{Severity: SeverityMedium}, {Severity: SeverityCritical}, {Severity: SeverityLow}}
	if got := HighestSeverity(anomalies); got != SeverityCritical {
		t.Fatalf("expected CRITICAL as the worst severity, got %s", got)
	}
}
