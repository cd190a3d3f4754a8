package deploy

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var stageBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// MetricsObserver counts stage outcomes and times each stage.
type MetricsObserver struct {
	transitions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetricsObserver registers the pipeline collectors with reg. Existing
// collectors with the same name are reused.
func NewMetricsObserver(reg prometheus.Registerer) *MetricsObserver {
	m := &MetricsObserver{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oneops",
			Subsystem: "deploy",
			Name:      "stage_transitions_total",
			Help:      "Count of pipeline stages left, by outcome",
		}, []string{"stage", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "oneops",
			Subsystem: "deploy",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   stageBuckets,
		}, []string{"stage"}),
	}
	if err := reg.Register(m.transitions); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				m.transitions = existing
			}
		}
	}
	if err := reg.Register(m.duration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				m.duration = existing
			}
		}
	}
	return m
}

func (m *MetricsObserver) Observe(_ context.Context, t Transition) {
	if t.From == "" {
		return
	}
	outcome := "ok"
	if t.To == StageFailed {
		outcome = "failed"
	}
	m.transitions.WithLabelValues(string(t.From), outcome).Inc()
	m.duration.WithLabelValues(string(t.From)).Observe(t.Elapsed.Seconds())
}
