// Package match decides whether a found fact satisfies an expected one.
//
// A Matcher runs three tiers. Embedding similarity settles clear cases; an
// optional model arbiter settles the uncertain band between the low and high
// thresholds; token overlap is used when no embedding backend is available.
// Backends are injected, so a Matcher with no options is purely lexical.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/specfit/internal/normalize"
	"github.com/ShayCichocki/specfit/internal/rules"
	"github.com/ShayCichocki/specfit/pkg/models"
)

// Method names the tier that produced a Result.
type Method string

const (
	MethodExact     Method = "exact"
	MethodTable     Method = "table"
	MethodEmbedding Method = "embedding"
	MethodArbiter   Method = "arbiter"
	MethodHeuristic Method = "embedding-heuristic"
	MethodLexical   Method = "lexical"
	MethodNone      Method = "none"
)

// Tier names used in BackendError and fallback hooks.
const (
	TierEmbedding = "embedding"
	TierArbiter   = "arbiter"
)

// Result is the verdict for one expected/found pair.
type Result struct {
	IsMatch    bool    `json:"is_match"`
	Confidence float64 `json:"confidence"`
	Method     Method  `json:"method"`
	Reason     string  `json:"reason,omitempty"`
}

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Verdict is an arbiter's judgement of semantic equivalence.
type Verdict struct {
	Equivalent bool    `json:"equivalent"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Arbiter judges whether two phrasings express the same requirement.
type Arbiter interface {
	Judge(ctx context.Context, expected, found string) (Verdict, error)
}

// BackendError reports a failed or timed-out backend call. It is recovered
// by falling back to the next tier and never reaches Match callers.
type BackendError struct {
	Tier string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Tier, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Thresholds are the tier decision boundaries.
type Thresholds struct {
	// High is the similarity at or above which embeddings alone match.
	High float64
	// Low is the similarity below which embeddings alone reject.
	Low float64
	// Heuristic is the similarity needed in the uncertain band when the
	// arbiter is absent or fails.
	Heuristic float64
	// Lexical is the token-overlap ratio needed without embeddings.
	Lexical float64
}

// DefaultThresholds returns 0.8 / 0.5 / 0.65 / 0.3.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.8, Low: 0.5, Heuristic: 0.65, Lexical: 0.3}
}

// Matcher compares expected and found strings. It is safe for concurrent
// use.
type Matcher struct {
	embedder    Embedder
	arbiter     Arbiter
	tables      *rules.Tables
	thresholds  Thresholds
	timeout     time.Duration
	concurrency int
	arbiterCap  int
	logger      *slog.Logger
	onFallback  func(tier string)
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithEmbedder sets the embedding backend.
func WithEmbedder(e Embedder) Option {
	return func(m *Matcher) { m.embedder = e }
}

// WithArbiter sets the model arbiter used in the uncertain band.
func WithArbiter(a Arbiter) Option {
	return func(m *Matcher) { m.arbiter = a }
}

// WithTables sets the rule tables used for structured matching.
func WithTables(t *rules.Tables) Option {
	return func(m *Matcher) { m.tables = t }
}

// WithThresholds overrides the default thresholds.
func WithThresholds(t Thresholds) Option {
	return func(m *Matcher) { m.thresholds = t }
}

// WithTimeout bounds every backend call.
func WithTimeout(d time.Duration) Option {
	return func(m *Matcher) { m.timeout = d }
}

// WithConcurrency bounds how many expected items MatchAll evaluates at once.
func WithConcurrency(n int) Option {
	return func(m *Matcher) { m.concurrency = n }
}

// WithArbiterCap bounds arbiter calls per expected item in MatchAll.
func WithArbiterCap(n int) Option {
	return func(m *Matcher) { m.arbiterCap = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) { m.logger = l }
}

// WithFallbackHook is called with the tier name whenever a backend fails
// and the matcher falls back.
func WithFallbackHook(fn func(tier string)) Option {
	return func(m *Matcher) { m.onFallback = fn }
}

// New creates a Matcher.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		tables:      rules.Default(),
		thresholds:  DefaultThresholds(),
		timeout:     30 * time.Second,
		concurrency: 8,
		arbiterCap:  3,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "matcher")
	if m.concurrency < 1 {
		m.concurrency = 1
	}
	return m
}

// Thresholds returns the active thresholds.
func (m *Matcher) Thresholds() Thresholds {
	return m.thresholds
}

// Match compares a single expected/found pair.
func (m *Matcher) Match(ctx context.Context, expected, found string) Result {
	if r, ok := exactMatch(expected, found); ok {
		return r
	}
	if m.embedder == nil {
		return m.lexical(expected, found)
	}

	vecs, err := m.embed(ctx, []string{expected, found})
	if err != nil {
		m.fallback(&BackendError{Tier: TierEmbedding, Err: err})
		return m.lexical(expected, found)
	}
	return m.decide(ctx, expected, found, Cosine(vecs[0], vecs[1]))
}

// decide applies the embedding and arbiter tiers to a known similarity.
func (m *Matcher) decide(ctx context.Context, expected, found string, sim float64) Result {
	t := m.thresholds
	if sim >= t.High {
		return Result{IsMatch: true, Confidence: sim, Method: MethodEmbedding}
	}
	if sim < t.Low {
		return Result{IsMatch: false, Confidence: sim, Method: MethodEmbedding}
	}

	if m.arbiter != nil {
		v, err := m.judge(ctx, expected, found)
		if err == nil {
			return Result{
				IsMatch:    v.Equivalent,
				Confidence: clamp01(v.Confidence),
				Method:     MethodArbiter,
				Reason:     v.Reason,
			}
		}
		m.fallback(&BackendError{Tier: TierArbiter, Err: err})
	}
	return Result{IsMatch: sim >= t.Heuristic, Confidence: sim, Method: MethodHeuristic}
}

func (m *Matcher) lexical(expected, found string) Result {
	j := Jaccard(expected, found)
	return Result{IsMatch: j >= m.thresholds.Lexical, Confidence: j, Method: MethodLexical}
}

func (m *Matcher) embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	vecs, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

func (m *Matcher) judge(ctx context.Context, expected, found string) (Verdict, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.arbiter.Judge(ctx, expected, found)
}

func (m *Matcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

func (m *Matcher) fallback(err *BackendError) {
	level := slog.LevelWarn
	if errors.Is(err, context.Canceled) {
		level = slog.LevelDebug
	}
	m.logger.Log(context.Background(), level, "backend failed, falling back", "tier", err.Tier, "error", err.Err)
	if m.onFallback != nil {
		m.onFallback(err.Tier)
	}
}

// BestMatch pairs an expected item with its best found item.
type BestMatch struct {
	Expected string `json:"expected"`
	// Found is empty when nothing cleared the threshold.
	Found  string `json:"found,omitempty"`
	Result Result `json:"result"`
}

// Matched reports whether a found item was paired.
func (b BestMatch) Matched() bool {
	return b.Result.IsMatch
}

// MatchAll pairs every expected item with its highest-confidence matching
// found item. Embeddings are computed once per distinct string. The only
// error is ctx's.
func (m *Matcher) MatchAll(ctx context.Context, expected, found []string) ([]BestMatch, error) {
	out := make([]BestMatch, len(expected))
	if len(expected) == 0 {
		return out, nil
	}

	vectors := m.embedDistinct(ctx, expected, found)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, e := range expected {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = m.best(gctx, e, found, vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

// embedDistinct embeds every distinct string in one call. A nil map means
// the lexical tier applies.
func (m *Matcher) embedDistinct(ctx context.Context, lists ...[]string) map[string][]float32 {
	if m.embedder == nil {
		return nil
	}
	seen := make(map[string]bool)
	var texts []string
	for _, list := range lists {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				texts = append(texts, s)
			}
		}
	}
	if len(texts) == 0 {
		return nil
	}
	vecs, err := m.embed(ctx, texts)
	if err != nil {
		m.fallback(&BackendError{Tier: TierEmbedding, Err: err})
		return nil
	}
	out := make(map[string][]float32, len(texts))
	for i, t := range texts {
		out[t] = vecs[i]
	}
	return out
}

type candidate struct {
	found string
	sim   float64
}

func (m *Matcher) best(ctx context.Context, expected string, found []string, vectors map[string][]float32) BestMatch {
	bm := BestMatch{Expected: expected, Result: Result{Method: MethodNone}}
	consider := func(f string, r Result) {
		if r.IsMatch && (!bm.Result.IsMatch || r.Confidence > bm.Result.Confidence) {
			bm.Found = f
			bm.Result = r
			return
		}
		if !bm.Result.IsMatch && r.Confidence > bm.Result.Confidence {
			bm.Result = r
		}
	}

	var band []candidate
	for _, f := range found {
		if r, ok := exactMatch(expected, f); ok {
			bm.Found = f
			bm.Result = r
			return bm
		}
		if vectors == nil {
			consider(f, m.lexical(expected, f))
			continue
		}
		sim := Cosine(vectors[expected], vectors[f])
		if sim >= m.thresholds.Low && sim < m.thresholds.High {
			band = append(band, candidate{found: f, sim: sim})
			continue
		}
		consider(f, m.decide(ctx, expected, f, sim))
	}

	if bm.Result.IsMatch || len(band) == 0 {
		return bm
	}

	// only the most similar band candidates go to the arbiter
	sort.SliceStable(band, func(i, j int) bool { return band[i].sim > band[j].sim })
	for i, c := range band {
		if i >= m.arbiterCap {
			consider(c.found, Result{IsMatch: c.sim >= m.thresholds.Heuristic, Confidence: c.sim, Method: MethodHeuristic})
			continue
		}
		consider(c.found, m.decide(ctx, expected, c.found, c.sim))
	}
	return bm
}

// StructuredMatch is the result for one targeted expected constraint.
type StructuredMatch struct {
	Expected models.Constraint `json:"expected"`
	// Found is nil when nothing matched.
	Found  *models.Constraint `json:"found,omitempty"`
	Result Result             `json:"result"`
}

// MatchStructured matches expected constraints against found constraints on
// the same entity and field only. An expected constraint whose entity.field
// has no found constraints is unmatched without a free-text search.
func (m *Matcher) MatchStructured(ctx context.Context, expected, found []models.Constraint) ([]StructuredMatch, error) {
	byKey := make(map[string][]models.Constraint)
	for _, f := range found {
		k := m.key(f)
		byKey[k] = append(byKey[k], f)
	}

	out := make([]StructuredMatch, len(expected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, e := range expected {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = m.matchTargeted(gctx, e, byKey[m.key(e)])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

func (m *Matcher) matchTargeted(ctx context.Context, expected models.Constraint, candidates []models.Constraint) StructuredMatch {
	sm := StructuredMatch{Expected: expected, Result: Result{Method: MethodNone}}
	if len(candidates) == 0 {
		sm.Result.Reason = "no found constraints on " + expected.Entity + "." + expected.Field
		return sm
	}

	for i := range candidates {
		if m.tables.Satisfies(expected.Rule, candidates[i].Rule) {
			method := MethodTable
			if expected.Rule == candidates[i].Rule {
				method = MethodExact
			}
			sm.Found = &candidates[i]
			sm.Result = Result{IsMatch: true, Confidence: 1, Method: method}
			return sm
		}
	}

	rulesFound := make([]string, len(candidates))
	for i, c := range candidates {
		rulesFound[i] = c.Rule
	}
	vectors := m.embedDistinct(ctx, []string{expected.Rule}, rulesFound)
	bm := m.best(ctx, expected.Rule, rulesFound, vectors)
	sm.Result = bm.Result
	if bm.Result.IsMatch {
		for i := range candidates {
			if candidates[i].Rule == bm.Found {
				sm.Found = &candidates[i]
				break
			}
		}
	}
	return sm
}

func (m *Matcher) key(c models.Constraint) string {
	return strings.ToLower(m.tables.BaseEntityName(c.Entity)) + "." + strings.ToLower(c.Field)
}

func exactMatch(expected, found string) (Result, bool) {
	e := normalize.Normalize(expected)
	if e == "" || e != normalize.Normalize(found) {
		return Result{}, false
	}
	return Result{IsMatch: true, Confidence: 1, Method: MethodExact}, true
}

// Cosine returns the cosine similarity of two vectors, or 0 when either is
// empty, zero, or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Jaccard returns the token-overlap ratio of whitespace-split, lower-cased
// tokens.
func Jaccard(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(s)) {
		out[t] = true
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
