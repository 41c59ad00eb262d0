// Package score turns extracted facts into a ComplianceReport.
//
// Entities and endpoints are scored by coverage of the expected set.
// Validations are matched per entity and field through exact, table, and
// optional semantic tiers, and only found constraints backed by a real
// enforcement mechanism take part.
package score

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ShayCichocki/specfit/internal/extract"
	"github.com/ShayCichocki/specfit/internal/match"
	"github.com/ShayCichocki/specfit/internal/metrics"
	"github.com/ShayCichocki/specfit/internal/normalize"
	"github.com/ShayCichocki/specfit/internal/rules"
	"github.com/ShayCichocki/specfit/internal/specdoc"
	"github.com/ShayCichocki/specfit/pkg/models"
)

// Input is everything one scoring pass compares.
type Input struct {
	ExpectedEntities    []models.Entity
	FoundEntities       []models.Entity
	ExpectedEndpoints   []models.Endpoint
	FoundEndpoints      []models.Endpoint
	ExpectedConstraints []models.Constraint
	FoundConstraints    []models.Constraint
	// Diagnostics are carried into the report unchanged.
	Diagnostics []string
}

// Scorer computes compliance reports. It holds no per-call state and is
// safe for concurrent use.
type Scorer struct {
	tables  *rules.Tables
	matcher *match.Matcher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithTables sets the matching tables.
func WithTables(t *rules.Tables) Option {
	return func(s *Scorer) { s.tables = t }
}

// WithMatcher enables the semantic pass for validations left unmatched by
// the tables.
func WithMatcher(m *match.Matcher) Option {
	return func(s *Scorer) { s.matcher = m }
}

// WithMetrics records every report.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scorer) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scorer) { s.logger = l }
}

// New creates a Scorer.
func New(opts ...Option) *Scorer {
	s := &Scorer{}
	for _, opt := range opts {
		opt(s)
	}
	if s.tables == nil {
		s.tables = rules.Default()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "score")
	return s
}

// Tables returns the tables the scorer matches with.
func (s *Scorer) Tables() *rules.Tables {
	return s.tables
}

// category is the intermediate result for one category.
type category struct {
	score       models.CategoryScore
	implemented []string
	expected    []string
	missing     []string
}

// Score builds the report for in. The only error is a cancelled context
// during the semantic pass.
func (s *Scorer) Score(ctx context.Context, in Input) (*models.ComplianceReport, error) {
	entities := s.scoreEntities(in.ExpectedEntities, in.FoundEntities)
	endpoints := s.scoreEndpoints(in.ExpectedEndpoints, in.FoundEndpoints)
	validations, err := s.scoreValidations(ctx, in.ExpectedConstraints, in.FoundConstraints)
	if err != nil {
		return nil, err
	}

	w := s.tables.Weights
	overall := w.Entities*entities.score.Score +
		w.Endpoints*endpoints.score.Score +
		w.Validations*validations.score.Score

	report := models.NewComplianceReport(models.ReportParts{
		Overall:     clamp01(overall),
		Entities:    entities.score,
		Endpoints:   endpoints.score,
		Validations: validations.score,
		Implemented: models.Categorized{
			Entities:    entities.implemented,
			Endpoints:   endpoints.implemented,
			Validations: validations.implemented,
		},
		Expected: models.Categorized{
			Entities:    entities.expected,
			Endpoints:   endpoints.expected,
			Validations: validations.expected,
		},
		Missing: models.Categorized{
			Entities:    entities.missing,
			Endpoints:   endpoints.missing,
			Validations: validations.missing,
		},
		Diagnostics: in.Diagnostics,
	})
	s.metrics.ObserveReport(report)

	s.logger.Debug("scored",
		"overall", report.Overall,
		"entities", report.Entities.Score,
		"endpoints", report.Endpoints.Score,
		"validations", report.Validations.Score,
		"missing", report.Missing.Total(),
	)
	return report, nil
}

// ScoreSource extracts facts from src and scores them against exp.
// Extraction diagnostics are carried into the report.
func (s *Scorer) ScoreSource(ctx context.Context, ex extract.Extractor, src extract.Source, exp specdoc.Expected) (*models.ComplianceReport, error) {
	res, err := ex.Extract(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return s.Score(ctx, Input{
		ExpectedEntities:    exp.Entities,
		FoundEntities:       res.Entities,
		ExpectedEndpoints:   exp.Endpoints,
		FoundEndpoints:      res.Endpoints,
		ExpectedConstraints: exp.Constraints,
		FoundConstraints:    res.Constraints,
		Diagnostics:         res.DiagnosticStrings(),
	})
}

func (s *Scorer) scoreEntities(expected, found []models.Entity) category {
	// Found entities are keyed by the base name of every declared name.
	foundBase := make(map[string]string)
	var foundOrder []string
	addFound := func(name string) {
		base := s.tables.BaseEntityName(name)
		key := strings.ToLower(base)
		if _, ok := foundBase[key]; ok {
			return
		}
		foundBase[key] = base
		foundOrder = append(foundOrder, key)
	}
	for _, e := range found {
		addFound(e.Name)
		for _, a := range e.Aliases {
			addFound(a)
		}
	}

	var c category
	seen := make(map[string]bool)
	var matched []string
	for _, e := range expected {
		base := s.tables.BaseEntityName(e.Name)
		key := strings.ToLower(base)
		if seen[key] {
			continue
		}
		seen[key] = true
		c.expected = append(c.expected, base)
		if f, ok := foundBase[key]; ok {
			matched = append(matched, f)
		} else {
			c.missing = append(c.missing, base)
		}
	}

	c.score = coverage(len(c.expected)-len(c.missing), len(c.expected))
	if len(c.missing) == 0 {
		for _, k := range foundOrder {
			c.implemented = append(c.implemented, foundBase[k])
		}
	} else {
		c.implemented = matched
	}
	sort.Strings(c.implemented)
	return c
}

func (s *Scorer) scoreEndpoints(expected, found []models.Endpoint) category {
	var c category
	seen := make(map[string]bool)
	matchedFound := make(map[string]bool)
	var missing []string
	for _, e := range expected {
		ne := normalize.Endpoint(e)
		key := ne.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		c.expected = append(c.expected, key)

		hit := false
		for _, f := range found {
			if s.tables.EquivalentEndpoints(e, f) {
				hit = true
				matchedFound[f.String()] = true
			}
		}
		if !hit {
			missing = append(missing, key)
		}
	}

	c.score = coverage(len(c.expected)-len(missing), len(c.expected))
	for _, f := range found {
		if len(missing) == 0 || matchedFound[f.String()] {
			c.implemented = append(c.implemented, f.String())
		}
	}
	c.implemented = uniqueSorted(c.implemented)
	c.missing = sample(missing, s.tables.EndpointSample)
	return c
}

func sample(missing []string, n int) []string {
	if n <= 0 || len(missing) <= n {
		return missing
	}
	out := append([]string(nil), missing[:n]...)
	return append(out, fmt.Sprintf("... and %d more endpoints", len(missing)-n))
}

func (s *Scorer) scoreValidations(ctx context.Context, expected, found []models.Constraint) (category, error) {
	var real []models.Constraint
	for _, f := range found {
		if s.tables.IsRealEnforcement(f) {
			f.Rule = normalize.Normalize(f.Rule)
			real = append(real, f)
		}
	}
	real = models.DedupConstraints(real)

	byKey := make(map[string][]models.Constraint)
	for _, f := range real {
		k := s.key(f)
		byKey[k] = append(byKey[k], f)
	}

	var c category
	exp := make([]models.Constraint, 0, len(expected))
	for _, e := range expected {
		e.Rule = normalize.Normalize(e.Rule)
		exp = append(exp, e)
	}
	exp = models.DedupConstraints(exp)

	var matched []string
	var unmatched []models.Constraint
	for _, e := range exp {
		c.expected = append(c.expected, e.String())
		if f, ok := s.tableMatch(e, byKey[s.key(e)]); ok {
			matched = append(matched, f.String())
			continue
		}
		unmatched = append(unmatched, e)
	}

	if s.matcher != nil && len(unmatched) > 0 {
		results, err := s.matcher.MatchStructured(ctx, unmatched, real)
		if err != nil {
			return category{}, fmt.Errorf("semantic validation pass: %w", err)
		}
		var still []models.Constraint
		for i, r := range results {
			if r.Result.IsMatch && r.Found != nil {
				matched = append(matched, r.Found.String())
				s.logger.Debug("semantic validation match",
					"expected", r.Expected.String(),
					"found", r.Found.String(),
					"method", r.Result.Method,
					"confidence", r.Result.Confidence,
				)
				continue
			}
			still = append(still, unmatched[i])
		}
		unmatched = still
	}

	for _, e := range unmatched {
		c.missing = append(c.missing, e.String())
	}
	c.score = coverage(len(exp)-len(unmatched), len(exp))
	if len(unmatched) == 0 {
		for _, f := range real {
			c.implemented = append(c.implemented, f.String())
		}
	} else {
		c.implemented = matched
	}
	c.implemented = uniqueSorted(c.implemented)
	return c, nil
}

// tableMatch finds a candidate satisfying e: equal rules, containment of a
// bare expected rule, then the equivalence tables.
func (s *Scorer) tableMatch(e models.Constraint, candidates []models.Constraint) (models.Constraint, bool) {
	for _, f := range candidates {
		if f.Rule == e.Rule {
			return f, true
		}
	}
	if !strings.Contains(e.Rule, "=") {
		for _, f := range candidates {
			if strings.Contains(f.Rule, e.Rule) {
				return f, true
			}
		}
	}
	for _, f := range candidates {
		if s.tables.Satisfies(e.Rule, f.Rule) {
			return f, true
		}
	}
	return models.Constraint{}, false
}

func (s *Scorer) key(c models.Constraint) string {
	return strings.ToLower(s.tables.BaseEntityName(c.Entity)) + "." + strings.ToLower(c.Field)
}

// coverage is matched/expected, or 1 when nothing is expected.
func coverage(matched, expected int) models.CategoryScore {
	if expected == 0 {
		return models.CategoryScore{Score: 1}
	}
	return models.CategoryScore{
		Score:    float64(matched) / float64(expected),
		Matched:  matched,
		Expected: expected,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
