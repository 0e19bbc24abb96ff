package otelexport

import (
	"context"
	"testing"
	"time"
)

func TestNew_EmptyEndpoint(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil {
		t.Error("expected error for empty endpoint")
	}
}

func TestExporter_Shutdown_NilExporter(t *testing.T) {
	var exp *Exporter
	if err := exp.Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	exp.Install() // must not panic
}

func TestServiceName_Default(t *testing.T) {
	if got := serviceName(Config{}); got != defaultServiceName {
		t.Errorf("serviceName = %q", got)
	}
	if got := serviceName(Config{ServiceName: "edge"}); got != "edge" {
		t.Errorf("serviceName = %q", got)
	}
}

func TestNew_Protocols(t *testing.T) {
	for _, protocol := range []string{"grpc", "http", ""} {
		exp, err := New(context.Background(), Config{
			Endpoint: "localhost:4317",
			Protocol: protocol,
			Insecure: true,
		})
		if err != nil {
			t.Fatalf("protocol %q: %v", protocol, err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		exp.Shutdown(ctx)
		cancel()
	}
}
