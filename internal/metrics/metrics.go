package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds the imputer's collectors on a private registry so a run can
// push them to a Pushgateway or serve them from the daemon.
type Metrics struct {
	registry *prometheus.Registry

	pairsProcessed *prometheus.CounterVec
	failingHours   *prometheus.CounterVec
	hoursEstimated *prometheus.CounterVec
	recordsWritten *prometheus.CounterVec
	pairDuration   prometheus.Histogram
	runDuration    prometheus.Histogram
	lastRunSuccess prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		pairsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imputer_pairs_processed_total",
				Help: "Client locations processed by outcome",
			},
			[]string{"status"}, // success, skipped_no_cameras, skipped_no_data, failed
		),
		failingHours: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imputer_failing_hours_total",
				Help: "Camera-hours flagged failing by first matching criterion",
			},
			[]string{"reason"},
		),
		hoursEstimated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imputer_hours_estimated_total",
				Help: "Camera-hours estimated by strategy",
			},
			[]string{"source"},
		),
		recordsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imputer_records_written_total",
				Help: "Estimated records written to storage",
			},
			[]string{"result"}, // inserted, updated, failed
		),
		pairDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "imputer_pair_duration_seconds",
			Help:    "Duration of processing one client location",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~163s
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "imputer_run_duration_seconds",
			Help:    "Duration of a full imputation run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
		}),
		lastRunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "imputer_last_run_success_timestamp_seconds",
			Help: "Unix time of the last run that enumerated its pairs",
		}),
	}
}

func (m *Metrics) PairProcessed(status string, d time.Duration) {
	m.pairsProcessed.WithLabelValues(status).Inc()
	m.pairDuration.Observe(d.Seconds())
}

func (m *Metrics) FailingHour(reason string) {
	m.failingHours.WithLabelValues(reason).Inc()
}

func (m *Metrics) HourEstimated(source string) {
	m.hoursEstimated.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordsWritten(inserted, updated, failed int) {
	m.recordsWritten.WithLabelValues("inserted").Add(float64(inserted))
	m.recordsWritten.WithLabelValues("updated").Add(float64(updated))
	m.recordsWritten.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) RunFinished(d time.Duration, at time.Time) {
	m.runDuration.Observe(d.Seconds())
	m.lastRunSuccess.Set(float64(at.Unix()))
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Push sends the current values to a Pushgateway under job
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
