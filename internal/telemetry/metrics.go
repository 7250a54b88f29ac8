package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across every pillar's API.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "custodes",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// LedgerEntriesTotal counts ledger appends by event type and severity.
var LedgerEntriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "custodes",
		Subsystem: "ledger",
		Name:      "entries_total",
		Help:      "Total number of ledger entries committed, by event type and severity.",
	},
	[]string{"event_type", "severity"},
)

// LedgerSealDuration tracks how long block sealing takes.
var LedgerSealDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "custodes",
		Subsystem: "ledger",
		Name:      "seal_duration_seconds",
		Help:      "Time taken to seal a Merkle block.",
		Buckets:   prometheus.DefBuckets,
	},
)

// PolicyDecisionsTotal counts authorize() outcomes by decision.
var PolicyDecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "custodes",
		Subsystem: "policy",
		Name:      "decisions_total",
		Help:      "Total number of policy decisions, by decision outcome.",
	},
	[]string{"decision"},
)

// RateLimitRejectionsTotal counts requests denied by the rate limiter.
var RateLimitRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "custodes",
		Subsystem: "policy",
		Name:      "rate_limit_rejections_total",
		Help:      "Total number of requests denied by the rate limiter, by scope.",
	},
	[]string{"scope"},
)

// DiscoveryScoreHistogram tracks the distribution of GPU discovery scores.
var DiscoveryScoreHistogram = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "custodes",
		Subsystem: "registry",
		Name:      "discovery_score",
		Help:      "Distribution of discovery scores assigned to candidate GPUs.",
		Buckets:   []float64{5, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	},
)

// AllocationVRAMGauge tracks current VRAM availability per GPU.
var AllocationVRAMGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "custodes",
		Subsystem: "registry",
		Name:      "gpu_vram_available_gb",
		Help:      "Current available VRAM per GPU, in gigabytes.",
	},
	[]string{"gpu_id"},
)

// DetectorAnomaliesTotal counts anomalies raised by the detector, by severity.
var DetectorAnomaliesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "custodes",
		Subsystem: "detector",
		Name:      "anomalies_total",
		Help:      "Total number of anomalies detected, by severity.",
	},
	[]string{"severity", "anomaly_type"},
)

// All returns the Custodes-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		LedgerEntriesTotal,
		LedgerSealDuration,
		PolicyDecisionsTotal,
		RateLimitRejectionsTotal,
		DiscoveryScoreHistogram,
		AllocationVRAMGauge,
		DetectorAnomaliesTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional service-specific
// collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
