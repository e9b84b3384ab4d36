package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the correlation stages. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	received   *prometheus.CounterVec // upstream records drained, by stream
	objects    prometheus.Counter     // object locations produced by stage A
	unmatched  prometheus.Counter     // clusters left unmatched at end of stage A
	emitted    *prometheus.CounterVec // records emitted by stage B, by kind
	saveErrors *prometheus.CounterVec // failed persistence requests, by class
	running    *prometheus.GaugeVec   // 1 while a stage runs
	runs       *prometheus.CounterVec // finished stage runs, by stage and outcome
}

// NewMetrics creates and registers pipeline metrics. A nil registerer
// disables metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &Metrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alphascan",
			Subsystem: "pipeline",
			Name:      "records_received_total",
			Help:      "Upstream records drained by the correlation stages",
		}, []string{"stream"}),
		objects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alphascan",
			Subsystem: "pipeline",
			Name:      "object_locations_total",
			Help:      "Object locations produced from radar clusters and GPS fixes",
		}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alphascan",
			Subsystem: "pipeline",
			Name:      "unmatched_clusters_total",
			Help:      "Radar clusters with no GPS fix at end of run",
		}),
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alphascan",
			Subsystem: "pipeline",
			Name:      "tag_locations_total",
			Help:      "Tag object locations emitted",
		}, []string{"kind"}),
		saveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alphascan",
			Subsystem: "pipeline",
			Name:      "save_errors_total",
			Help:      "Failed persistence requests by error class",
		}, []string{"class"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "alphascan",
			Subsystem: "pipeline",
			Name:      "stage_running",
			Help:      "1 while the stage is running",
		}, []string{"stage"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alphascan",
			Subsystem: "pipeline",
			Name:      "stage_runs_total",
			Help:      "Finished stage runs by outcome",
		}, []string{"stage", "outcome"}),
	}
	for _, c := range []prometheus.Collector{m.received, m.objects, m.unmatched, m.emitted, m.saveErrors, m.running, m.runs} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) receivedN(stream string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.received.WithLabelValues(stream).Add(float64(n))
}

func (m *Metrics) objectsN(n int) {
	if m == nil || n == 0 {
		return
	}
	m.objects.Add(float64(n))
}

func (m *Metrics) unmatchedN(n int) {
	if m == nil || n == 0 {
		return
	}
	m.unmatched.Add(float64(n))
}

func (m *Metrics) emittedN(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.emitted.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) saveFailed(class string) {
	if m == nil {
		return
	}
	m.saveErrors.WithLabelValues(class).Inc()
}

func (m *Metrics) stageStarted(name string) {
	if m == nil {
		return
	}
	m.running.WithLabelValues(name).Set(1)
}

func (m *Metrics) stageFinished(name string, s State) {
	if m == nil {
		return
	}
	m.running.WithLabelValues(name).Set(0)
	m.runs.WithLabelValues(name, s.String()).Inc()
}
