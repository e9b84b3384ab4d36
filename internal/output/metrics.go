package output

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for run output. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	saves         *prometheus.CounterVec // save attempts by dataset and result
	rows          *prometheus.CounterVec // rows written by dataset
	retries       prometheus.Counter     // failed write attempts that were retried
	activeWriters prometheus.Gauge       // in-flight save operations
	runs          prometheus.Counter     // runs created
	currentRun    prometheus.Gauge       // current run number
}

// NewMetrics creates and registers output metrics. A nil registerer
// disables metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &Metrics{
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alphascan",
			Subsystem: "output",
			Name:      "saves_total",
			Help:      "Save operations by dataset and result",
		}, []string{"dataset", "result"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alphascan",
			Subsystem: "output",
			Name:      "rows_written_total",
			Help:      "Rows appended to run datasets",
		}, []string{"dataset"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alphascan",
			Subsystem: "output",
			Name:      "write_retries_total",
			Help:      "Failed write attempts that were retried",
		}),
		activeWriters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alphascan",
			Subsystem: "output",
			Name:      "active_writers",
			Help:      "Save operations currently in flight",
		}),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alphascan",
			Subsystem: "output",
			Name:      "runs_total",
			Help:      "Run directories created",
		}),
		currentRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alphascan",
			Subsystem: "output",
			Name:      "current_run",
			Help:      "Number of the current run directory",
		}),
	}
	for _, c := range []prometheus.Collector{m.saves, m.rows, m.retries, m.activeWriters, m.runs, m.currentRun} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) saved(dataset string, rows int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = Classify(err).String()
	}
	m.saves.WithLabelValues(dataset, result).Inc()
	if err == nil && rows > 0 {
		m.rows.WithLabelValues(dataset).Add(float64(rows))
	}
}

func (m *Metrics) retried() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) writerStarted() {
	if m == nil {
		return
	}
	m.activeWriters.Inc()
}

func (m *Metrics) writerFinished() {
	if m == nil {
		return
	}
	m.activeWriters.Dec()
}

func (m *Metrics) runStarted(n int) {
	if m == nil {
		return
	}
	m.runs.Inc()
	m.currentRun.Set(float64(n))
}
