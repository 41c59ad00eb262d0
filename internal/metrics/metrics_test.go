package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/specfit/pkg/models"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(reg), reg
}

func TestObserveReport(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.ObserveReport(models.NewComplianceReport(models.ReportParts{
		Overall:     0.7,
		Entities:    models.CategoryScore{Score: 1},
		Endpoints:   models.CategoryScore{Score: 0.5},
		Validations: models.CategoryScore{Score: 0.5},
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScoreRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CategoryScore.WithLabelValues("entities")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.CategoryScore.WithLabelValues("endpoints")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ScoreOverall))

	count, err := testutil.GatherAndCount(reg, "specfit_score_runs_total", "specfit_category_score")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestRepairCounters(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.ObserveAttempt(models.RepairAttempt{Outcome: models.OutcomeImproved})
	m.ObserveAttempt(models.RepairAttempt{Outcome: models.OutcomeRegressed})
	m.ObserveAttempt(models.RepairAttempt{Outcome: models.OutcomeImproved})
	m.Rollback()
	m.Skipped()
	m.ObserveFinal(0.9)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RepairIterations.WithLabelValues("improved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RepairIterations.WithLabelValues("regressed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RepairRollbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RepairSkipped))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RepairFinalScore))
}

func TestFallback(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.Fallback("embedding")
	m.Fallback("embedding")
	m.Fallback("arbiter")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BackendFallbacks.WithLabelValues("embedding")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendFallbacks.WithLabelValues("arbiter")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveReport(&models.ComplianceReport{})
		m.ObserveAttempt(models.RepairAttempt{})
		m.Rollback()
		m.Skipped()
		m.ObserveFinal(1)
		m.Fallback("arbiter")
	})
}
