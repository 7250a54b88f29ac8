package detector

import "math"

func clamp(v float64, lo, hi int) int {
	r := int(math.Round(v))
	if r < lo {
		return lo
	}
	if r > hi {
		return hi
	}
	return r
}

// powerRisk is clamp((power% - 80) * 5), where power% is this sample's power
// draw as a percentage of its cap.
func powerRisk(s RuntimeSignals) int {
	if s.PowerCapWatts <= 0 {
		return 0
	}
	pct := s.PowerDrawWatts / s.PowerCapWatts * 100
	return clamp((pct-80)*5, 0, 100)
}

// networkRisk combines outbound-vs-baseline ratio, a per-suspicious-signal
// weight, and a unique-IP penalty, clamped to 100.
func networkRisk(s RuntimeSignals, anomalies []Anomaly, cfg Config) int {
	baseline := cfg.NetworkBaselineBytesPS
	if baseline <= 0 {
		baseline = 1
	}
	ratio := s.OutboundBytesPerSec / baseline

	suspicious := 0
	for _, a := range anomalies {
		if a.Tier == 2 {
			suspicious++
		}
	}

	ipPenalty := 0.0
	if s.UniqueDstIPs > 50 {
		ipPenalty = float64(s.UniqueDstIPs-50) * 2
	}

	raw := ratio*20 + float64(suspicious)*15 + ipPenalty
	return clamp(raw, 0, 100)
}

// processRisk weights unexpected processes and privilege escalations.
func processRisk(s RuntimeSignals) int {
	raw := float64(len(s.UnexpectedProcesses))*20 + float64(s.PrivilegeEscalations)*50
	return clamp(raw, 0, 100)
}

// workloadRisk is 40 if a framework mismatch fired, else 0.
func workloadRisk(anomalies []Anomaly) int {
	for _, a := range anomalies {
		if a.Kind == "FRAMEWORK_MISMATCH" {
			return 40
		}
	}
	return 0
}

// ComputeRiskScore computes the weighted composite risk score:
// 0.25*power + 0.35*network + 0.25*process + 0.15*workload.
func ComputeRiskScore(s RuntimeSignals, anomalies []Anomaly, cfg Config) RiskScore {
	cfg = cfg.withDefaults()
	p := powerRisk(s)
	n := networkRisk(s, anomalies, cfg)
	pr := processRisk(s)
	w := workloadRisk(anomalies)

	composite := clamp(0.25*float64(p)+0.35*float64(n)+0.25*float64(pr)+0.15*float64(w), 0, 100)

	return RiskScore{
		JobID: s.JobID, PowerRisk: p, NetworkRisk: n, ProcessRisk: pr, WorkloadRisk: w,
		Composite: composite, ComputedAt: s.ReportedAt,
	}
}
