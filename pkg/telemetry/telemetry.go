// Package telemetry wires the detection pipeline into Prometheus
// instruments, generalizing the ad hoc ProcessorMetrics atomic-counter
// pattern into first-class metrics that an operator can actually scrape.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the detection pipeline reports against.
// Registered on construction against a dedicated registry, never the
// global default, so multiple Metrics instances never collide in tests.
type Metrics struct {
	registry       *prometheus.Registry
	EventsTotal    prometheus.Counter
	AlertsTotal    prometheus.Counter
	RiskScore      prometheus.Gauge
	ResponsesTotal *prometheus.CounterVec
}

// New constructs and registers the Kavach-R instrument set.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		EventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kavach_events_total",
			Help: "Total filesystem events ingested.",
		}),
		AlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kavach_alerts_total",
			Help: "Total raw detector alerts (pre-gating).",
		}),
		RiskScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kavach_risk_score",
			Help: "Current smoothed risk score in [0,1].",
		}),
		ResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kavach_responses_total",
			Help: "Total response decisions, labeled by outcome.",
		}, []string{"status"}),
	}

	reg.MustRegister(m.EventsTotal, m.AlertsTotal, m.RiskScore, m.ResponsesTotal)
	return m
}

// Handler returns the promhttp handler serving this Metrics instance's
// registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts a bare net/http server exposing /metrics and blocks until
// ctx is canceled or the server fails.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("telemetry: metrics server: %w", err)
	}
}
