// Package metrics exposes pipeline counters on the default Prometheus registry.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Pipeline struct {
	dispatchAttempts *prometheus.CounterVec
	reconcileTotal   *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	rowsStaged       *prometheus.CounterVec
	dispatchLatency  *prometheus.HistogramVec
}

var singleton = sync.OnceValue(func() *Pipeline {
	return &Pipeline{
		dispatchAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "import",
			Name:      "dispatch_attempts_total",
			Help:      "Workflow intake attempts by outcome.",
		}, []string{"import_type", "result"}),
		reconcileTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "import",
			Name:      "reconcile_total",
			Help:      "Callback reconciliations by outcome.",
		}, []string{"result"}),
		transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "import",
			Name:      "session_transitions_total",
			Help:      "Session status transitions.",
		}, []string{"from", "to"}),
		rowsStaged: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "import",
			Name:      "rows_staged_total",
			Help:      "Staging rows written, split by whether the validator flagged them.",
		}, []string{"import_type", "flagged"}),
		dispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "import",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency of a single workflow intake call.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"result"}),
	}
})

// Default returns the process-wide collectors.
func Default() *Pipeline {
	return singleton()
}

func (p *Pipeline) DispatchAttempt(importType, result string, seconds float64) {
	if p == nil {
		return
	}
	p.dispatchAttempts.WithLabelValues(importType, result).Inc()
	p.dispatchLatency.WithLabelValues(result).Observe(seconds)
}

func (p *Pipeline) Reconciled(result string) {
	if p == nil {
		return
	}
	p.reconcileTotal.WithLabelValues(result).Inc()
}

func (p *Pipeline) Transition(from, to string) {
	if p == nil {
		return
	}
	p.transitions.WithLabelValues(from, to).Inc()
}

func (p *Pipeline) RowsStaged(importType string, clean, flagged int) {
	if p == nil {
		return
	}
	p.rowsStaged.WithLabelValues(importType, "false").Add(float64(clean))
	p.rowsStaged.WithLabelValues(importType, "true").Add(float64(flagged))
}
