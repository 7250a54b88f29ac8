package detector

import (
	"strings"
)

// evaluateTier1 checks power, VRAM, and thermal signals, always run.
func evaluateTier1(s RuntimeSignals, cfg Config) []Anomaly {
	var out []Anomaly

	if s.PowerCapWatts > 0 && s.PowerDrawWatts > s.PowerCapWatts*(1+cfg.PowerGracePct/100) {
		out = append(out, Anomaly{Kind: "POWER_VIOLATION", Severity: SeverityMedium, Tier: 1,
			Detail: "power draw exceeds cap plus grace", JobID: s.JobID, DetectedAt: s.ReportedAt})
	}
	if s.VRAMAllocatedGB > 0 && s.VRAMUsedGB/s.VRAMAllocatedGB > 1.2 {
		out = append(out, Anomaly{Kind: "VRAM_OVERCLAIM", Severity: SeverityMedium, Tier: 1,
			Detail: "vram used exceeds allocated by more than 20%", JobID: s.JobID, DetectedAt: s.ReportedAt})
	}
	if s.Throttling && s.TemperatureC > 85 {
		out = append(out, Anomaly{Kind: "THERMAL_THROTTLE_SUSTAINED", Severity: SeverityMedium, Tier: 1,
			Detail: "sustained thermal throttling above 85C", JobID: s.JobID, DetectedAt: s.ReportedAt})
	}
	return out
}

// evaluateTier2 checks network signals.
func evaluateTier2(s RuntimeSignals, cfg Config) []Anomaly {
	var out []Anomaly

	if s.UniqueDstIPs > 50 {
		out = append(out, Anomaly{Kind: "PORT_SCAN", Severity: SeverityCritical, Tier: 2,
			Detail: "unique destination IP count exceeds 50", JobID: s.JobID, DetectedAt: s.ReportedAt})
	}
	if s.ARPScanDetected {
		out = append(out, Anomaly{Kind: "ARP_SCAN", Severity: SeverityCritical, Tier: 2,
			Detail: "ARP scan detected", JobID: s.JobID, DetectedAt: s.ReportedAt})
	}
	if matchesAny(s.SuspiciousDestinations, cfg.CryptoPoolDomains) {
		out = append(out, Anomaly{Kind: "CRYPTO_POOL_CONNECTION", Severity: SeverityCritical, Tier: 2,
			Detail: "destination matches a known crypto pool domain", JobID: s.JobID, DetectedAt: s.ReportedAt})
	}
	if s.TorExitIPMatch {
		out = append(out, Anomaly{Kind: "TOR_EXIT_CONNECTION", Severity: SeverityHigh, Tier: 2,
			Detail: "destination matches a known Tor exit IP", JobID: s.JobID, DetectedAt: s.ReportedAt})
	}
	if cfg.NetworkBaselineBytesPS > 0 && s.OutboundBytesPerSec > 5*cfg.NetworkBaselineBytesPS && s.GPUUtilPct < 20 {
		out = append(out, Anomaly{Kind: "DATA_EXFILTRATION", Severity: SeverityHigh, Tier: 2,
			Detail: "outbound traffic far exceeds baseline with idle GPU", JobID: s.JobID, DetectedAt: s.ReportedAt})
	}
	return out
}

func matchesAny(destinations, domains []string) bool {
	for _, d := range destinations {
		for _, domain := range domains {
			if strings.EqualFold(d, domain) || strings.HasSuffix(strings.ToLower(d), "."+strings.ToLower(domain)) {
				return true
			}
		}
	}
	return false
}

// evaluateTier3 checks workload signals.
func evaluateTier3(s RuntimeSignals) []Anomaly {
	var out []Anomaly

	if s.ComputePattern == "CRYPTO_MINING" || (s.GPUUtilPct > 95 && s.PoolConnection) {
		out = append(out, Anomaly{Kind: "CRYPTO_MINING", Severity: SeverityCritical, Tier: 3,
			Detail: "workload pattern matches crypto mining", JobID: s.JobID, DetectedAt: s.ReportedAt})
	}
	if s.DeclaredFramework != "" && s.DetectedFramework != "" && !frameworksMatch(s.DeclaredFramework, s.DetectedFramework) {
		out = append(out, Anomaly{Kind: "FRAMEWORK_MISMATCH", Severity: SeverityMedium, Tier: 3,
			Detail: "declared framework does not match detected framework", JobID: s.JobID, DetectedAt: s.ReportedAt})
	}
	return out
}

// frameworksMatch does a case- and separator-insensitive partial match, so
// "PyTorch 2.1" matches "pytorch".
func frameworksMatch(declared, detected string) bool {
	norm := func(v string) string {
		v = strings.ToLower(v)
		v = strings.NewReplacer("-", "", "_", "", " ", "", ".", "").Replace(v)
		return v
	}
	d, det := norm(declared), norm(detected)
	return strings.Contains(d, det) || strings.Contains(det, d)
}

// evaluateTier4 checks process signals, gated on earlier flags.
func evaluateTier4(s RuntimeSignals, earlierFlagged bool) []Anomaly {
	if !earlierFlagged && len(s.UnexpectedProcesses) == 0 {
		return nil
	}
	var out []Anomaly
	if len(s.UnexpectedProcesses) > 0 {
		out = append(out, Anomaly{Kind: "UNEXPECTED_PROCESS", Severity: SeverityHigh, Tier: 4,
			Detail: "unexpected binaries observed in job namespace", JobID: s.JobID, DetectedAt: s.ReportedAt})
	}
	if s.PrivilegeEscalations > 0 {
		out = append(out, Anomaly{Kind: "PRIVILEGE_ESCALATION", Severity: SeverityCritical, Tier: 4,
			Detail: "privilege escalation attempts detected", JobID: s.JobID, DetectedAt: s.ReportedAt})
	}
	return out
}

// EvaluateSignals runs the full Tier-1..4 rule cascade over one signals
// bundle.
func EvaluateSignals(s RuntimeSignals, cfg Config) []Anomaly {
	cfg = cfg.withDefaults()
	var anomalies []Anomaly

	anomalies = append(anomalies, evaluateTier1(s, cfg)...)
	anomalies = append(anomalies, evaluateTier2(s, cfg)...)
	anomalies = append(anomalies, evaluateTier3(s)...)
	anomalies = append(anomalies, evaluateTier4(s, len(anomalies) > 0)...)

	return anomalies
}

// HighestSeverity returns the most urgent severity among anomalies, or LOW
// if anomalies is empty.
func HighestSeverity(anomalies []Anomaly) Severity {
	highest := SeverityLow
	for _, a := range anomalies {
		highest = higherSeverity(highest, a.Severity)
	}
	return highest
}

// ResponseFor maps the worst anomaly observed to a graduated action.
func ResponseFor(anomalies []Anomaly) ResponseAction {
	highest := HighestSeverity(anomalies)
	switch highest {
	case SeverityCritical:
		for _, a := range anomalies {
			if a.Severity == SeverityCritical && networkCritical[a.Kind] {
				return ActionKillAndBan
			}
		}
		return ActionKillAndSuspend
	case SeverityHigh:
		return ActionKillJob
	case SeverityMedium:
		return ActionWarnSubject
	default:
		return ActionLogOnly
	}
}
