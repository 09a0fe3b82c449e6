package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.WorkflowCreated("BUDGET_APPROVAL")
	m.WorkflowCreated("BUDGET_APPROVAL")
	m.ActionProcessed("approve", "moved_to_next")
	m.SLAScanned(2, 3, 0.01, nil)
	m.SLAScanned(0, 1, 0.01, errors.New("store down"))

	assert.InDelta(t, 2, testutil.ToFloat64(m.WorkflowsCreated.WithLabelValues("BUDGET_APPROVAL")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Actions.WithLabelValues("approve", "moved_to_next")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.SLABreaches), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.SLAWarnings), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SLAScans.WithLabelValues("error")), 0)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.WorkflowCreated("X")
		m.ActionProcessed("approve", "completed")
		m.SLAScanned(1, 1, 1, nil)
	})
}
