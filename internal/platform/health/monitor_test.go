package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestMonitor_ReportsDependencyStatus(t *testing.T) {
	var down error
	m := NewMonitor(slog.New(slog.NewTextHandler(io.Discard, nil)), "checkout", map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return down }),
	})

	status := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := m.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: "checkout"})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		return resp.Status
	}

	if got := status(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Expected NOT_SERVING before the first check, got %v", got)
	}
	if !m.CheckOnce(context.Background()) || status() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, got %v", status())
	}

	down = errors.New("connection refused")
	if m.CheckOnce(context.Background()) || status() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Expected NOT_SERVING, got %v", status())
	}
}
