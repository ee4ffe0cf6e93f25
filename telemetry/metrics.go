// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
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

	// Counters
	RafflesStarted      prometheus.Counter
	RafflesCancelled    prometheus.Counter
	EntriesAccepted     prometheus.Counter
	EntriesRejected     prometheus.Counter
	WinnersDrawn        prometheus.Counter
	CommandsHandled     prometheus.Counter
	PersistenceFailures prometheus.Counter

	// Histograms (seconds)
	CommandDuration prometheus.Observer

	// Gauges
	ActiveRafflesGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RafflesStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "raffle_started_total", Help: "Number of raffles started"})
		RafflesCancelled = promauto.NewCounter(prometheus.CounterOpts{Name: "raffle_cancelled_total", Help: "Number of raffles cancelled"})
		EntriesAccepted = promauto.NewCounter(prometheus.CounterOpts{Name: "raffle_entries_accepted_total", Help: "Number of raffle entries accepted"})
		EntriesRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "raffle_entries_rejected_total", Help: "Number of raffle entries rejected (duplicate, ineligible, or closed)"})
		WinnersDrawn = promauto.NewCounter(prometheus.CounterOpts{Name: "raffle_winners_drawn_total", Help: "Number of winner draws (including empty draws)"})
		CommandsHandled = promauto.NewCounter(prometheus.CounterOpts{Name: "raffle_commands_handled_total", Help: "Number of chat commands dispatched to the raffle component"})
		PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "raffle_persistence_failures_total", Help: "Number of swallowed raffle persistence errors"})
		CommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "raffle_command_duration_seconds", Help: "Command handler duration seconds", Buckets: prometheus.DefBuckets})
		ActiveRafflesGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "raffle_active", Help: "Current number of active raffles across broadcasters"})
	})
}

// SetActiveRaffles records the current number of active raffles.
func SetActiveRaffles(n int) {
	if ActiveRafflesGauge != nil {
		ActiveRafflesGauge.Set(float64(n))
	}
}

// CountPersistenceFailure increments the swallowed-error counter if metrics are up.
func CountPersistenceFailure() {
	if PersistenceFailures != nil {
		PersistenceFailures.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
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
