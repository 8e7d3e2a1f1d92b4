// Package observability exports memory store and geocoder metrics to Prometheus.
package observability

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// PrometheusRecorder implements core.MetricsRecorder and geocode.Recorder on
// a dedicated registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	Operations      *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
	Records         prometheus.Gauge
	GeocodeRequests *prometheus.CounterVec
}

// NewPrometheusRecorder creates the collectors under namespace and registers
// them with registry. A nil registry gets a fresh one.
func NewPrometheusRecorder(namespace string, registry *prometheus.Registry) *PrometheusRecorder {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	r := &PrometheusRecorder{
		registry: registry,
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total number of memory store operations",
			},
			[]string{"operation", "status"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operation_duration_seconds",
				Help:      "Memory store operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		Records: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "records",
				Help:      "Number of memories currently held",
			},
		),
		GeocodeRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "geocode",
				Name:      "requests_total",
				Help:      "Total number of place search requests by outcome",
			},
			[]string{"status"},
		),
	}
	registry.MustRegister(r.Operations, r.Duration, r.Records, r.GeocodeRequests)
	return r
}

// Registry returns the registry the collectors are registered with.
func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

// Observe records a store operation outcome.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.Operations.WithLabelValues(operation, status).Inc()
	r.Duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCount sets the current collection size.
func (r *PrometheusRecorder) RecordCount(n int) { r.Records.Set(float64(n)) }

// ObserveGeocode counts a geocoding request by outcome.
func (r *PrometheusRecorder) ObserveGeocode(status string) {
	r.GeocodeRequests.WithLabelValues(status).Inc()
}

// WriteText writes the registry in the Prometheus text exposition format.
func (r *PrometheusRecorder) WriteText(w io.Writer) error {
	families, err := r.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
