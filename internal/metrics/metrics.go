// Package metrics exposes Prometheus collectors for scoring and repair.
//
// Collectors register on a caller-supplied registerer so tests and
// embedders can keep their own registries. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ShayCichocki/specfit/pkg/models"
)

const namespace = "specfit"

var scoreBuckets = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0}

// Metrics holds every specfit collector.
type Metrics struct {
	// ScoreRuns counts completed scoring passes.
	ScoreRuns prometheus.Counter
	// ScoreOverall is the distribution of overall scores.
	ScoreOverall prometheus.Histogram
	// CategoryScore holds the latest score per category.
	// Labels: category (entities, endpoints, validations)
	CategoryScore *prometheus.GaugeVec
	// RepairIterations counts repair iterations.
	// Labels: outcome (improved, regressed, no-change, generation-failed)
	RepairIterations *prometheus.CounterVec
	// RepairRollbacks counts restored backups.
	RepairRollbacks prometheus.Counter
	// RepairSkipped counts runs that started at or above target.
	RepairSkipped prometheus.Counter
	// RepairFinalScore is the distribution of scores repair runs end with.
	RepairFinalScore prometheus.Histogram
	// BackendFallbacks counts matcher tier fallbacks.
	// Labels: tier (embedding, arbiter)
	BackendFallbacks *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ScoreRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_runs_total",
			Help:      "Total compliance scoring passes",
		}),
		ScoreOverall: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "score_overall",
			Help:      "Distribution of overall compliance scores",
			Buckets:   scoreBuckets,
		}),
		CategoryScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "category_score",
			Help:      "Latest compliance score per category",
		}, []string{"category"}),
		RepairIterations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repair",
			Name:      "iterations_total",
			Help:      "Total repair iterations by outcome",
		}, []string{"outcome"}),
		RepairRollbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repair",
			Name:      "rollbacks_total",
			Help:      "Total patches rolled back",
		}),
		RepairSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repair",
			Name:      "skipped_total",
			Help:      "Total repair runs skipped because the artifact already met target",
		}),
		RepairFinalScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "repair",
			Name:      "final_score",
			Help:      "Distribution of overall scores at the end of repair runs",
			Buckets:   scoreBuckets,
		}),
		BackendFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_fallbacks_total",
			Help:      "Total matcher backend fallbacks by tier",
		}, []string{"tier"}),
	}
}

// ObserveReport records one scoring pass.
func (m *Metrics) ObserveReport(r *models.ComplianceReport) {
	if m == nil || r == nil {
		return
	}
	m.ScoreRuns.Inc()
	m.ScoreOverall.Observe(r.Overall)
	m.CategoryScore.WithLabelValues(string(models.CategoryEntities)).Set(r.Entities.Score)
	m.CategoryScore.WithLabelValues(string(models.CategoryEndpoints)).Set(r.Endpoints.Score)
	m.CategoryScore.WithLabelValues(string(models.CategoryValidations)).Set(r.Validations.Score)
}

// ObserveAttempt records one repair iteration.
func (m *Metrics) ObserveAttempt(a models.RepairAttempt) {
	if m == nil {
		return
	}
	m.RepairIterations.WithLabelValues(string(a.Outcome)).Inc()
}

// Rollback records a restored backup.
func (m *Metrics) Rollback() {
	if m == nil {
		return
	}
	m.RepairRollbacks.Inc()
}

// Skipped records a run that needed no repair.
func (m *Metrics) Skipped() {
	if m == nil {
		return
	}
	m.RepairSkipped.Inc()
}

// ObserveFinal records the score a repair run ended with.
func (m *Metrics) ObserveFinal(score float64) {
	if m == nil {
		return
	}
	m.RepairFinalScore.Observe(score)
}

// Fallback records a matcher tier fallback. It fits match.WithFallbackHook.
func (m *Metrics) Fallback(tier string) {
	if m == nil {
		return
	}
	m.BackendFallbacks.WithLabelValues(tier).Inc()
}
