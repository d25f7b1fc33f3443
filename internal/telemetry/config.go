package telemetry

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/qaflow/internal/config"
)

// Protocols accepted for OTLP export.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	Endpoint       string
	Protocol       string
	ServiceName    string
	ServiceVersion string
	Insecure       bool // no TLS; only allowed for local endpoints
	TLSSkipVerify  bool // TLS without verifying the collector certificate

	// SampleRate is the fraction of root traces kept, 0.0-1.0.
	SampleRate      float64
	MetricsInterval time.Duration
	ShutdownTimeout time.Duration
}

// NewDefaultConfig returns local development defaults. Telemetry is off
// until a collector is configured.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Endpoint:        "localhost:4317",
		Protocol:        ProtocolGRPC,
		ServiceName:     "qaflow",
		ServiceVersion:  "dev",
		Insecure:        true,
		SampleRate:      1.0,
		MetricsInterval: 15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// FromConfig builds a telemetry Config from the observability section.
func FromConfig(o config.ObservabilityConfig, version string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = o.EnableTelemetry
	cfg.Insecure = o.Insecure
	cfg.TLSSkipVerify = o.TLSSkipVerify
	if o.Endpoint != "" {
		cfg.Endpoint = o.Endpoint
	}
	if o.Protocol != "" {
		cfg.Protocol = o.Protocol
	}
	if o.ServiceName != "" {
		cfg.ServiceName = o.ServiceName
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	return cfg
}

// Validate checks configuration for errors. A disabled config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	switch c.Protocol {
	case "", ProtocolGRPC, ProtocolHTTP:
	default:
		return fmt.Errorf("unsupported otlp protocol %q", c.Protocol)
	}
	if c.Insecure && !isLocalEndpoint(c.Endpoint) {
		return fmt.Errorf("insecure export to remote endpoint %s is not allowed", c.Endpoint)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate must be between 0 and 1, got %f", c.SampleRate)
	}
	if c.MetricsInterval <= 0 {
		return fmt.Errorf("metrics interval must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

func isLocalEndpoint(endpoint string) bool {
	host := stripScheme(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// stripScheme removes http:// or https://; the exporters want host:port.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
