// Package metrics collects Prometheus counters for migration runs. A batch
// run has no scrape endpoint, so the registry is written as a node-exporter
// textfile when the run ends.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the counters of one process. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	rows     *prometheus.CounterVec
	created  *prometheus.CounterVec
	updated  *prometheus.CounterVec
	failed   *prometheus.CounterVec
	units    *prometheus.CounterVec
	runs     *prometheus.CounterVec
	duration prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_rows_total",
			Help: "Source rows processed, by unit and run mode.",
		}, []string{"unit", "mode"}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_records_created_total",
			Help: "Target records created, by unit.",
		}, []string{"unit"}),
		updated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_records_updated_total",
			Help: "Existing target records passed to the update hook, by unit.",
		}, []string{"unit"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_row_errors_total",
			Help: "Rows whose failure was swallowed by the error hook, by unit.",
		}, []string{"unit"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_units_total",
			Help: "Units handled, by run mode.",
		}, []string{"mode"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_runs_total",
			Help: "Runs, by outcome (committed, dry_run, rolled_back).",
		}, []string{"outcome"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "migration_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
	}
	r.registry.MustRegister(r.rows, r.created, r.updated, r.failed, r.units, r.runs, r.duration)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) RowProcessed(unit, mode string) {
	if r == nil {
		return
	}
	r.rows.WithLabelValues(unit, mode).Inc()
}

func (r *Recorder) RecordCreated(unit string) {
	if r == nil {
		return
	}
	r.created.WithLabelValues(unit).Inc()
}

func (r *Recorder) RecordUpdated(unit string) {
	if r == nil {
		return
	}
	r.updated.WithLabelValues(unit).Inc()
}

func (r *Recorder) RowFailed(unit string) {
	if r == nil {
		return
	}
	r.failed.WithLabelValues(unit).Inc()
}

func (r *Recorder) UnitHandled(mode string) {
	if r == nil {
		return
	}
	r.units.WithLabelValues(mode).Inc()
}

func (r *Recorder) RunFinished(outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(outcome).Inc()
	r.duration.Set(took.Seconds())
}

// WriteTextfile writes the registry in the text exposition format to path.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics file %s: %w", path, err)
	}
	return nil
}
