// Package health reports dependency health over the standard gRPC health
// protocol.
package health

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Monitor struct {
	log      *slog.Logger
	server   *health.Server
	service  string
	checks   map[string]Pinger
	interval time.Duration
}

func NewMonitor(log *slog.Logger, service string, checks map[string]Pinger) *Monitor {
	s := health.NewServer()
	s.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Monitor{log: log, server: s, service: service, checks: checks, interval: 5 * time.Second}
}

func (m *Monitor) Server() healthpb.HealthServer { return m.server }

// CheckOnce pings every dependency and publishes SERVING only if all answer.
func (m *Monitor) CheckOnce(ctx context.Context) bool {
	ok := true
	for name, p := range m.checks {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := p.Ping(pctx)
		cancel()
		if err != nil {
			m.log.Warn("health check failed", "dependency", name, "err", err)
			ok = false
		}
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	m.server.SetServingStatus(m.service, status)
	m.server.SetServingStatus("", status)
	return ok
}

func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	m.CheckOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return nil
		case <-t.C:
			m.CheckOnce(ctx)
		}
	}
}

// Serve starts a gRPC server exposing the health service on addr.
func Serve(addr string, m *Monitor) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, m.server)
	go func() {
		if err := gs.Serve(lis); err != nil {
			m.log.Error("grpc server stopped", "err", err)
		}
	}()
	return gs, nil
}
