package detector

import (
	"testing"
	"time"
)

func TestEvaluateTier1PowerViolation(t *testing.T) {
	s := RuntimeSignals{PowerDrawWatts: 320, PowerCapWatts: 300}
	anomalies := EvaluateSignals(s, Config{})
	if !hasAnomaly(anomalies, "POWER_VIOLATION") {
		t.Fatalf("expected POWER_VIOLATION for draw past cap+grace, got %+v", anomalies)
	}
}

func TestEvaluateTier1NoViolationWithinGrace(t *testing.T) {
	s := RuntimeSignals{PowerDrawWatts: 310, PowerCapWatts: 300}
	anomalies := EvaluateSignals(s, Config{PowerGracePct: 5})
	if hasAnomaly(anomalies, "POWER_VIOLATION") {
		t.Fatalf("expected no violation within the 5%% grace band, got %+v", anomalies)
	}
}

func TestEvaluateTier2PortScan(t *testing.T) {
	s := RuntimeSignals{UniqueDstIPs: 51}
	anomalies := EvaluateSignals(s, Config{})
	if !hasAnomaly(anomalies, "PORT_SCAN") {
		t.Fatalf("expected PORT_SCAN for 51 unique dst IPs, got %+v", anomalies)
	}
}

func TestCryptoPoolDetectionKillsAndBans(t *testing.T) {
	s := RuntimeSignals{
		JobID:                  "job-1",
		SuspiciousDestinations: []string{"pool.minexmr.com"},
		GPUUtilPct:             99,
	}
	cfg := Config{CryptoPoolDomains: []string{"minexmr.com"}}
	anomalies := EvaluateSignals(s, cfg)

	if !hasAnomaly(anomalies, "CRYPTO_POOL_CONNECTION") {
		t.Fatalf("expected CRYPTO_POOL_CONNECTION, got %+v", anomalies)
	}
	for _, a := range anomalies {
		if a.Kind == "CRYPTO_POOL_CONNECTION" && a.Severity != SeverityCritical {
			t.Fatalf("expected CRYPTO_POOL_CONNECTION to be CRITICAL, got %s", a.Severity)
		}
	}
	if action := ResponseFor(anomalies); action != ActionKillAndBan {
		t.Fatalf("expected KILL_AND_BAN, got %s", action)
	}
}

func TestEvaluateTier3FrameworkMatchIsCaseAndSeparatorInsensitive(t *testing.T) {
	s := RuntimeSignals{DeclaredFramework: "PyTorch-2.1", DetectedFramework: "pytorch"}
	anomalies := EvaluateSignals(s, Config{})
	if hasAnomaly(anomalies, "FRAMEWORK_MISMATCH") {
		t.Fatalf("expected a partial case/separator-insensitive match to not flag a mismatch, got %+v", anomalies)
	}
}

func TestEvaluateTier3FrameworkActualMismatch(t *testing.T) {
	s := RuntimeSignals{DeclaredFramework: "tensorflow", DetectedFramework: "pytorch"}
	anomalies := EvaluateSignals(s, Config{})
	if !hasAnomaly(anomalies, "FRAMEWORK_MISMATCH") {
		t.Fatalf("expected FRAMEWORK_MISMATCH for genuinely different frameworks, got %+v", anomalies)
	}
}

func TestEvaluateTier4GatedOnEarlierFlags(t *testing.T) {
	// No earlier-tier anomaly and no unexpected processes: tier 4 must not run,
	// so a privilege escalation count alone is not observed.
	quiet := RuntimeSignals{PrivilegeEscalations: 1}
	if anomalies := EvaluateSignals(quiet, Config{}); hasAnomaly(anomalies, "PRIVILEGE_ESCALATION") {
		t.Fatalf("expected tier 4 to stay gated with no earlier flags and no unexpected processes, got %+v", anomalies)
	}

	// unexpected_processes alone opens the gate.
	flagged := RuntimeSignals{UnexpectedProcesses: []string{"xmrig"}, PrivilegeEscalations: 1}
	anomalies := EvaluateSignals(flagged, Config{})
	if !hasAnomaly(anomalies, "PRIVILEGE_ESCALATION") {
		t.Fatalf("expected tier 4 to run once unexpected_processes is non-empty, got %+v", anomalies)
	}
}

func TestResponseForGradation(t *testing.T) {
	cases := []struct {
		severity Severity
		kind     string
		want     ResponseAction
	}{
		{SeverityLow, "", ActionLogOnly},
		{SeverityMedium, "FRAMEWORK_MISMATCH", ActionWarnSubject},
		{SeverityHigh, "TOR_EXIT_CONNECTION", ActionKillJob},
		{SeverityCritical, "PRIVILEGE_ESCALATION", ActionKillAndSuspend},
		{SeverityCritical, "CRYPTO_MINING", ActionKillAndBan},
	}
	for _, tc := range cases {
		var anomalies []Anomaly
		if tc.kind != "" {
			anomalies = []Anomaly{{Kind: tc.kind, Severity: tc.severity, DetectedAt: time.Now()}}
		}
		if got := ResponseFor(anomalies); got != tc.want {
			t.Errorf("ResponseFor(%s/%s) = %s, want %s", tc.severity, tc.kind, got, tc.want)
		}
	}
}

func hasAnomaly(anomalies []Anomaly, kind string) bool {
	for _, a := range anomalies {
		if a.Kind == kind {
			return true
		}
	}
	return false
}
