package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default mode is api",
			check:  func(c *Config) bool { return c.Mode == "api" },
			expect: "api",
		},
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8080",
			check:  func(c *Config) bool { return c.Port == 8080 },
			expect: "8080",
		},
		{
			name:   "default log level is info",
			check:  func(c *Config) bool { return c.LogLevel == "info" },
			expect: "info",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default metrics path",
			check:  func(c *Config) bool { return c.MetricsPath == "/metrics" },
			expect: "/metrics",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" },
			expect: "0.0.0.0:8080",
		},
		{
			name:   "default passport TTL is 3600 seconds",
			check:  func(c *Config) bool { return c.PassportTTLSeconds == 3600 },
			expect: "3600",
		},
		{
			name:   "default policy cache TTL is 300 seconds",
			check:  func(c *Config) bool { return c.PolicyCacheTTLSeconds == 300 },
			expect: "300",
		},
		{
			name:   "default ledger merkle block size is 100",
			check:  func(c *Config) bool { return c.LedgerMerkleBlockSize == 100 },
			expect: "100",
		},
		{
			name:   "default registry max discovery results is 20",
			check:  func(c *Config) bool { return c.RegistryMaxDiscoveryResults == 20 },
			expect: "20",
		},
		{
			name:   "default detector signal eval interval is 10 seconds",
			check:  func(c *Config) bool { return c.DetectorSignalEvalIntervalSeconds == 10 },
			expect: "10",
		},
		{
			name:   "emergency halt disabled by default",
			check:  func(c *Config) bool { return !c.DetectorEnableEmergencyHalt },
			expect: "false",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}
