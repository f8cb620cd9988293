// Package telemetry provides Prometheus metrics, tracing and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Capture loop
	Iterations       prometheus.Counter
	DispatchTotal    *prometheus.CounterVec   // backend, result
	DispatchDuration *prometheus.HistogramVec // backend
	CurrentPart      prometheus.Gauge
	LastSuccess      prometheus.Gauge       // unix seconds
	PreservedFiles   *prometheus.CounterVec // backend

	// Metadata
	MetadataFetches *prometheus.CounterVec // result

	// Chat
	ChatFrames     *prometheus.CounterVec // source
	ChatReconnects *prometheus.CounterVec // source
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		Iterations = promauto.NewCounter(prometheus.CounterOpts{Name: "autovod_iterations_total", Help: "Number of capture loop iterations started"})
		DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "autovod_dispatch_total", Help: "Pipeline dispatches by backend and result"}, []string{"backend", "result"})
		DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autovod_dispatch_duration_seconds",
			Help:    "Wall time of one capture pipeline",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400, 43200},
		}, []string{"backend"})
		CurrentPart = promauto.NewGauge(prometheus.GaugeOpts{Name: "autovod_current_part", Help: "Part counter of the last split capture"})
		LastSuccess = promauto.NewGauge(prometheus.GaugeOpts{Name: "autovod_last_success_timestamp_seconds", Help: "Unix time of the last successful delivery"})
		PreservedFiles = promauto.NewCounterVec(prometheus.CounterOpts{Name: "autovod_preserved_failed_files_total", Help: "Captures kept under a failed name"}, []string{"backend"})
		MetadataFetches = promauto.NewCounterVec(prometheus.CounterOpts{Name: "autovod_metadata_fetch_total", Help: "Metadata lookups by result"}, []string{"result"})
		ChatFrames = promauto.NewCounterVec(prometheus.CounterOpts{Name: "autovod_chat_frames_total", Help: "Chat frames appended to logs"}, []string{"source"})
		ChatReconnects = promauto.NewCounterVec(prometheus.CounterOpts{Name: "autovod_chat_reconnects_total", Help: "Chat connection attempts that ended and were retried"}, []string{"source"})
	})
}

// RecordDispatch counts one pipeline outcome and its duration.
func RecordDispatch(backend string, ok bool, d time.Duration) {
	if DispatchTotal == nil {
		return
	}
	DispatchTotal.WithLabelValues(backend, result(ok)).Inc()
	DispatchDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// MarkSuccess records the time of the last successful delivery.
func MarkSuccess(t time.Time) {
	if LastSuccess != nil {
		LastSuccess.Set(float64(t.Unix()))
	}
}

// SetCurrentPart records the part counter.
func SetCurrentPart(n int) {
	if CurrentPart != nil {
		CurrentPart.Set(float64(n))
	}
}

// IncIterations counts a started iteration.
func IncIterations() {
	if Iterations != nil {
		Iterations.Inc()
	}
}

// IncPreserved counts a capture kept under a failed name.
func IncPreserved(backend string) {
	if PreservedFiles != nil {
		PreservedFiles.WithLabelValues(backend).Inc()
	}
}

// IncMetadata counts a metadata lookup by its classification.
func IncMetadata(res string) {
	if MetadataFetches != nil {
		MetadataFetches.WithLabelValues(res).Inc()
	}
}

// IncChatFrame counts one appended chat frame.
func IncChatFrame(source string) {
	if ChatFrames != nil {
		ChatFrames.WithLabelValues(source).Inc()
	}
}

// IncChatReconnect counts one ended chat connection attempt.
func IncChatReconnect(source string) {
	if ChatReconnects != nil {
		ChatReconnects.WithLabelValues(source).Inc()
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
