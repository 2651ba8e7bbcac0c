package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name  string
		check func(*Config) bool
	}{
		{"default mode is api", func(c *Config) bool { return c.Mode == "api" }},
		{"default host is 0.0.0.0", func(c *Config) bool { return c.Host == "0.0.0.0" }},
		{"default port is 8080", func(c *Config) bool { return c.Port == 8080 }},
		{"default log level is info", func(c *Config) bool { return c.LogLevel == "info" }},
		{"default log format is json", func(c *Config) bool { return c.LogFormat == "json" }},
		{"default rate provider is coinbase", func(c *Config) bool { return c.RateProvider == "coinbase" }},
		{"default price refresh interval", func(c *Config) bool { return c.PriceRefreshInterval == "5m" }},
		{"default policy cache ttl", func(c *Config) bool { return c.PolicyCacheTTL == "60s" }},
		{"default adapter timeout", func(c *Config) bool { return c.AdapterTimeout == "60s" }},
		{"default pipeline timeout", func(c *Config) bool { return c.PipelineTimeout == "120s" }},
		{"listen addr format", func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" }},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("unexpected value for %s", tt.name)
			}
		})
	}
}
