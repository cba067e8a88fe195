package otel

import (
	"context"
	"testing"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_TRACING_ENABLED", "")
	t.Setenv("OTEL_METRICS_ENABLED", "")

	cfg := ConfigFromEnv("certd")
	if cfg.ServiceName != "certd" {
		t.Errorf("expected certd, got %q", cfg.ServiceName)
	}
	if cfg.TracingEnabled {
		t.Error("tracing should be off without an endpoint")
	}
	if !cfg.MetricsEnabled {
		t.Error("metrics should default to on")
	}
}

func TestConfigFromEnv_EndpointEnablesTracing(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_TRACING_ENABLED", "")
	if cfg := ConfigFromEnv("certd"); !cfg.TracingEnabled || cfg.OTLPEndpoint != "collector:4318" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestSetup_MetricsOnly(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "certd-test", MetricsEnabled: true})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
