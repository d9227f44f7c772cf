package observability

import (
	"context"
	"errors"

	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultNotFound = "not_found"
)

// Metrics holds the collectors fed by the collection hooks.
type Metrics struct {
	Batches       *prometheus.CounterVec
	BatchItems    *prometheus.HistogramVec
	BatchDuration *prometheus.HistogramVec
	Lookups       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionsync_batches_total",
				Help: "Total number of batches sent, by kind and result",
			},
			[]string{"kind", "result"},
		),
		BatchItems: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sessionsync_batch_items",
				Help:    "Number of records per batch",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
			},
			[]string{"kind"},
		),
		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sessionsync_batch_duration_seconds",
				Help:    "Duration of batch commands",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		Lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionsync_lookups_total",
				Help: "Total number of record lookups, by result",
			},
			[]string{"result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Batches, m.BatchItems, m.BatchDuration, m.Lookups)
	}
	return m
}

// Hooks returns lifecycle hooks that record every batch and lookup.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnBatchSent: func(ctx context.Context, e *domain.BatchEvent) {
			result := ResultOK
			if e.Err != nil {
				result = ResultError
			}
			m.Batches.WithLabelValues(e.Kind, result).Inc()
			m.BatchItems.WithLabelValues(e.Kind).Observe(float64(e.Size))
			m.BatchDuration.WithLabelValues(e.Kind).Observe(e.Duration.Seconds())
		},
		OnLookup: func(ctx context.Context, e *domain.LookupEvent) {
			result := ResultOK
			switch {
			case e.Found:
			case errors.Is(e.Err, domain.ErrNoSuchSession):
				result = ResultNotFound
			default:
				result = ResultError
			}
			m.Lookups.WithLabelValues(result).Inc()
		},
	}
}
