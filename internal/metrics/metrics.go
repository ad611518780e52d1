// Package metrics provides Prometheus metrics for the sync mirror.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Notification metrics
	notificationsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osfsync_notifications_submitted_total",
			Help: "Total notifications submitted to the dispatch bridge",
		},
		[]string{"kind", "source"},
	)

	notificationsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osfsync_notifications_applied_total",
			Help: "Total notifications handled by the worker, by outcome",
		},
		[]string{"kind", "result"},
	)

	applyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osfsync_apply_duration_seconds",
			Help:    "Time spent applying one notification to the store",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "osfsync_queue_depth",
			Help: "Notifications waiting for the worker",
		},
	)

	// Reconciliation metrics
	sweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osfsync_sweeps_total",
			Help: "Total reconciliation sweeps",
		},
		[]string{"status"},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "osfsync_sweep_duration_seconds",
			Help:    "Reconciliation sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	sweepPlanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "osfsync_sweep_notifications_total",
			Help: "Total notifications synthesized by sweeps",
		},
	)

	// Store metrics
	storeRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "osfsync_store_records",
			Help: "Records in the metadata store",
		},
		[]string{"type"},
	)

	userAlertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "osfsync_user_alerts_total",
			Help: "Total warnings shown to the user",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// RecordSubmitted records a notification entering the dispatch queue.
func RecordSubmitted(kind string, synthetic bool) {
	source := "watch"
	if synthetic {
		source = "sweep"
	}
	notificationsSubmitted.WithLabelValues(kind, source).Inc()
}

// RecordApplied records the outcome of applying one notification.
func RecordApplied(kind, result string, duration time.Duration) {
	notificationsApplied.WithLabelValues(kind, result).Inc()
	applyDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetQueueDepth sets the number of queued notifications.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordSweep records a completed reconciliation sweep.
func RecordSweep(duration time.Duration, planned int, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	sweepsTotal.WithLabelValues(status).Inc()
	sweepDuration.Observe(duration.Seconds())
	sweepPlanned.Add(float64(planned))
}

// SetStoreRecords sets the record count gauge for one record type.
func SetStoreRecords(recordType string, n int) {
	storeRecords.WithLabelValues(recordType).Set(float64(n))
}

// RecordUserAlert records a warning shown to the user.
func RecordUserAlert() {
	userAlertsTotal.Inc()
}
