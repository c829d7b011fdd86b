// Package telemetry exposes the monitor's own operational metrics on an
// optional /metrics endpoint. This is self-observability of fleetmon, not a
// metrics push path for the monitored databases.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbops/fleetmon/internal/log"
)

var (
	// TicksTotal counts completed scheduler passes.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetmon", Name: "ticks_total",
		Help: "Total number of completed scheduler ticks.",
	})

	// TickDuration observes wall-clock duration of scheduler ticks.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fleetmon", Name: "tick_duration_seconds",
		Help:    "Duration of scheduler ticks.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// InstanceRuns counts per-instance collection outcomes.
	InstanceRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetmon", Name: "instance_runs_total",
		Help: "Per-instance collection runs by result.",
	}, []string{"instance", "result"})

	// IngestFiles counts snapshot files seen by the ingestion pipeline.
	IngestFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetmon", Name: "ingest_files_total",
		Help: "Snapshot files processed by the ingestion pipeline by result.",
	}, []string{"result"})

	// IngestPassDuration observes ingestion pass durations.
	IngestPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fleetmon", Name: "ingest_pass_duration_seconds",
		Help:    "Duration of ingestion passes.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

// Serve runs the /metrics endpoint until the context is canceled. An empty
// address disables the endpoint.
func Serve(ctx context.Context, addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("telemetry: serving /metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorf("telemetry: %s", err)
	}
}
