// Package metrics counts what batch commands and review sessions did and writes the counters in the prometheus
// textfile-collector format, so a node exporter can pick them up after each run.
package metrics

import (
	"strconv"

	"github.com/myrjola/valuebench/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use through a nil pointer, in which case nothing is recorded.
type Metrics struct {
	registry        *prometheus.Registry
	exportRows      *prometheus.CounterVec
	importRows      *prometheus.CounterVec
	surfaceRetries  *prometheus.CounterVec
	reviewDecisions *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		exportRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valuebench",
			Name:      "export_rows_total",
			Help:      "Rows handled by export, by outcome.",
		}, []string{"outcome"}),
		importRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valuebench",
			Name:      "import_rows_total",
			Help:      "Rows handled by import, by outcome.",
		}, []string{"outcome"}),
		surfaceRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valuebench",
			Name:      "surface_retries_total",
			Help:      "Retried calls to the external review surface, by operation.",
		}, []string{"operation"}),
		reviewDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "valuebench",
			Name:      "review_decisions_total",
			Help:      "Reviewer decisions, by decision and whether the case status changed.",
		}, []string{"decision", "applied"}),
	}
	m.registry.MustRegister(m.exportRows, m.importRows, m.surfaceRetries, m.reviewDecisions)
	return m
}

func (m *Metrics) ExportRow(outcome string) {
	if m == nil {
		return
	}
	m.exportRows.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ImportRow(outcome string) {
	if m == nil {
		return
	}
	m.importRows.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SurfaceRetry(operation string) {
	if m == nil {
		return
	}
	m.surfaceRetries.WithLabelValues(operation).Inc()
}

func (m *Metrics) ReviewDecision(decision string, applied bool) {
	if m == nil {
		return
	}
	m.reviewDecisions.WithLabelValues(decision, strconv.FormatBool(applied)).Inc()
}

// Registry exposes the underlying registry, e.g. for tests gathering the counters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteFile atomically writes all counters to path. An empty path or a nil receiver is a no-op.
func (m *Metrics) WriteFile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrap(err, "write metrics textfile")
	}
	return nil
}
