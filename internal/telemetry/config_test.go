package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/qaflow/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.Equal(t, "qaflow", cfg.ServiceName)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.Equal(t, 15*time.Second, cfg.MetricsInterval)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.ObservabilityConfig{
		EnableTelemetry: true,
		ServiceName:     "qaflow-staging",
		Endpoint:        "otel.internal:4318",
		Protocol:        ProtocolHTTP,
		TLSSkipVerify:   true,
	}, "1.4.0")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "qaflow-staging", cfg.ServiceName)
	assert.Equal(t, "1.4.0", cfg.ServiceVersion)
	assert.Equal(t, "otel.internal:4318", cfg.Endpoint)
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.False(t, cfg.Insecure)
	assert.True(t, cfg.TLSSkipVerify)
	require.NoError(t, cfg.Validate())

	defaults := FromConfig(config.ObservabilityConfig{}, "")
	assert.Equal(t, "qaflow", defaults.ServiceName)
	assert.Equal(t, "dev", defaults.ServiceVersion)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"disabled skips validation", func(c *Config) { *c = Config{} }, ""},
		{"missing endpoint", func(c *Config) { c.Endpoint = "" }, "endpoint is required"},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, "service_name is required"},
		{"unknown protocol", func(c *Config) { c.Protocol = "thrift" }, "unsupported otlp protocol"},
		{"insecure remote", func(c *Config) { c.Endpoint = "otel.example.com:4317" }, "not allowed"},
		{"insecure loopback ip", func(c *Config) { c.Endpoint = "127.0.0.1:4317" }, ""},
		{"insecure ipv6 loopback", func(c *Config) { c.Endpoint = "[::1]:4317" }, ""},
		{"insecure local url", func(c *Config) { c.Endpoint = "http://localhost:4318"; c.Protocol = ProtocolHTTP }, ""},
		{"secure remote", func(c *Config) { c.Endpoint = "otel.example.com:4317"; c.Insecure = false }, ""},
		{"sample rate too high", func(c *Config) { c.SampleRate = 1.5 }, "sample rate"},
		{"sample rate negative", func(c *Config) { c.SampleRate = -0.1 }, "sample rate"},
		{"zero metrics interval", func(c *Config) { c.MetricsInterval = 0 }, "metrics interval"},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }, "shutdown timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel:4318", stripScheme("https://otel:4318"))
	assert.Equal(t, "otel:4318", stripScheme("http://otel:4318"))
	assert.Equal(t, "otel:4317", stripScheme("otel:4317"))
}
