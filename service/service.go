// Package service runs the coordinator's HTTP surfaces: health checks,
// Prometheus metrics, and the live status report.
package service

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/log"

	"github.com/AlbertGroenwold/behave-framework-sub000/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = "8080"

	MetricsHost = "0.0.0.0"
	MetricsPort = "7300"

	StatusHost = "0.0.0.0"
	StatusPort = "8081"
)

type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer
	Status  *StatusServer

	reporter StatusReporter
}

func New(reporter StatusReporter) *Service {
	return &Service{
		Healthz:  &HealthzServer{},
		Metrics:  &MetricsServer{},
		Status:   &StatusServer{},
		reporter: reporter,
	}
}

func (s *Service) Start(ctx context.Context) {
	log.Info("service starting")

	go func() {
		addr := net.JoinHostPort(HealthzHost, HealthzPort)
		log.Info("starting healthz server", "addr", addr)
		if err := s.Healthz.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("error starting healthz server", "err", err)
			metrics.RecordError("healthz_server")
		}
	}()

	go func() {
		addr := net.JoinHostPort(MetricsHost, MetricsPort)
		log.Info("starting metrics server", "addr", addr)
		if err := s.Metrics.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("error starting metrics server", "err", err)
			metrics.RecordError("metrics_server")
		}
	}()

	go func() {
		addr := net.JoinHostPort(StatusHost, StatusPort)
		log.Info("starting status server", "addr", addr)
		if err := s.Status.Start(ctx, addr, s.reporter); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("error starting status server", "err", err)
			metrics.RecordError("status_server")
		}
	}()

	log.Info("service started")
}

func (s *Service) Shutdown() {
	log.Info("service shutting down")

	_ = s.Healthz.Shutdown()
	log.Info("healthz stopped")

	_ = s.Metrics.Shutdown()
	log.Info("metrics stopped")

	_ = s.Status.Shutdown()
	log.Info("status stopped")

	log.Info("service stopped")
}
