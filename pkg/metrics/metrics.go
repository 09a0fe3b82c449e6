// Package metrics holds the Prometheus collectors for the approval engine and SLA monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "approvals"

// Metrics groups every collector. A nil *Metrics records nothing.
type Metrics struct {
	WorkflowsCreated *prometheus.CounterVec
	Actions          *prometheus.CounterVec
	SLABreaches      prometheus.Counter
	SLAWarnings      prometheus.Counter
	SLAScans         *prometheus.CounterVec
	SLAScanDuration  prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkflowsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_created_total",
			Help:      "Total number of workflow instances created",
		}, []string{"type"}),

		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Total number of processed step actions by action and outcome",
		}, []string{"action", "outcome"}),

		SLABreaches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sla_breaches_total",
			Help:      "Total number of workflows flagged as SLA breached",
		}),

		SLAWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sla_warnings_total",
			Help:      "Total number of steps found within the SLA warning window",
		}),

		SLAScans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sla_scans_total",
			Help:      "Total number of SLA scans by result",
		}, []string{"result"}),

		SLAScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sla_scan_duration_seconds",
			Help:      "Duration of SLA scans",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.WorkflowsCreated,
		m.Actions,
		m.SLABreaches,
		m.SLAWarnings,
		m.SLAScans,
		m.SLAScanDuration,
	)

	return m
}

func (m *Metrics) WorkflowCreated(workflowType string) {
	if m == nil {
		return
	}

	m.WorkflowsCreated.WithLabelValues(workflowType).Inc()
}

// ActionProcessed records an action; outcome is the action result or "error".
func (m *Metrics) ActionProcessed(action, outcome string) {
	if m == nil {
		return
	}

	m.Actions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) SLAScanned(breached, warnings int, seconds float64, err error) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}

	m.SLAScans.WithLabelValues(result).Inc()
	m.SLAScanDuration.Observe(seconds)
	m.SLABreaches.Add(float64(breached))
	m.SLAWarnings.Add(float64(warnings))
}
