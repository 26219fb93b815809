package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	registerOnce sync.Once

	nodeSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replctl",
			Subsystem: "node",
			Name:      "spawns_total",
			Help:      "Engine processes started, by role.",
		},
		[]string{"role"},
	)
	nodeExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replctl",
			Subsystem: "node",
			Name:      "exits_total",
			Help:      "Engine process exits observed by the log multiplexer.",
		},
		[]string{"node"},
	)
	probeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replctl",
			Subsystem: "probe",
			Name:      "attempts_total",
			Help:      "Readiness connection attempts.",
		},
		[]string{"node"},
	)
	streamLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replctl",
			Subsystem: "stream",
			Name:      "lines_total",
			Help:      "Output lines forwarded per node.",
		},
		[]string{"node"},
	)
	statusRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "replctl",
			Subsystem: "cluster",
			Name:      "status_retries_total",
			Help:      "Replica set status polls retried after a reconnect-class error.",
		},
	)
	statusWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "replctl",
			Subsystem: "cluster",
			Name:      "stable_wait_seconds",
			Help:      "Time from initiation until the set reported stable status.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(nodeSpawns, nodeExits, probeAttempts, streamLines, statusRetries, statusWait)
	})
}

func RecordSpawn(role string) {
	RegisterMetrics()
	nodeSpawns.WithLabelValues(role).Inc()
}

func RecordExit(node string) {
	RegisterMetrics()
	nodeExits.WithLabelValues(node).Inc()
}

func RecordProbeAttempt(node string) {
	RegisterMetrics()
	probeAttempts.WithLabelValues(node).Inc()
}

func RecordLines(node string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	streamLines.WithLabelValues(node).Add(float64(n))
}

func RecordStatusRetry() {
	RegisterMetrics()
	statusRetries.Inc()
}

func RecordStableWait(d time.Duration) {
	RegisterMetrics()
	statusWait.Observe(d.Seconds())
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	RegisterMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Msgf("observability.Serve listening addr=%s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
