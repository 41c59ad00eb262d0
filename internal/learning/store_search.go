package learning

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ShayCichocki/specfit/pkg/models"
)

const (
	// maxSimilar is how many patterns SearchSimilar returns.
	maxSimilar = 5
	// candidateLimit bounds each candidate query.
	candidateLimit = 50
	// maxKeywords bounds the FTS query size.
	maxKeywords = 32
	// failureFactor scales failure patterns so that successes of equal
	// relevance rank first.
	failureFactor = 0.5
)

var wordPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_]*`)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "in": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "this": true, "to": true, "was": true, "will": true,
	"with": true, "not": true, "but": true, "can": true, "should": true,
	"must": true, "if": true, "then": true, "else": true, "when": true,
	"all": true, "any": true, "each": true, "more": true,
}

// extractKeywords returns unique lower-case keywords from text, skipping
// short words and stop words.
func extractKeywords(text string) []string {
	seen := make(map[string]bool)
	var keywords []string
	for _, word := range wordPattern.FindAllString(text, -1) {
		lower := strings.ToLower(word)
		if len(lower) < 3 || stopWords[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		keywords = append(keywords, lower)
	}
	return keywords
}

// ftsQuery quotes each keyword and joins them with OR.
func ftsQuery(keywords []string) string {
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	quoted := make([]string, len(keywords))
	for i, k := range keywords {
		quoted[i] = `"` + strings.ReplaceAll(k, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

type ranked struct {
	pattern   *models.Pattern
	relevance float64
}

// SearchSimilar returns up to five patterns relevant to a failure context,
// best first. Relevance is BM25 over signature, patch, and failure text plus
// the share of the context's failure classes found in the pattern's
// signature; failures are scaled below successes.
func (s *Store) SearchSimilar(ctx context.Context, fc models.FailureContext) ([]*models.Pattern, error) {
	classes := fc.Classes()
	text := strings.Join(classes, " ") + " " + strings.Join(fc.Texts(), " ")
	keywords := extractKeywords(text)
	if len(keywords) == 0 && len(classes) == 0 {
		return nil, nil
	}

	candidates := make(map[string]*ranked)
	if len(keywords) > 0 {
		if err := s.ftsCandidates(ctx, ftsQuery(keywords), candidates); err != nil {
			return nil, err
		}
	}
	for _, class := range classes {
		if err := s.signatureCandidates(ctx, class, candidates); err != nil {
			return nil, err
		}
	}

	out := make([]*ranked, 0, len(candidates))
	for _, r := range candidates {
		r.relevance += classOverlap(classes, r.pattern.Signature)
		if r.pattern.Kind == models.PatternFailure {
			r.relevance *= failureFactor
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].relevance != out[j].relevance {
			return out[i].relevance > out[j].relevance
		}
		return out[i].pattern.CreatedAt.After(out[j].pattern.CreatedAt)
	})

	if len(out) > maxSimilar {
		out = out[:maxSimilar]
	}
	patterns := make([]*models.Pattern, len(out))
	for i, r := range out {
		patterns[i] = r.pattern
	}
	return patterns, nil
}

// Search runs a keyword search for the CLI, best match first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*models.Pattern, error) {
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}
	candidates := make(map[string]*ranked)
	if err := s.ftsCandidates(ctx, ftsQuery(keywords), candidates); err != nil {
		return nil, err
	}
	out := make([]*ranked, 0, len(candidates))
	for _, r := range candidates {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].relevance > out[j].relevance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	patterns := make([]*models.Pattern, len(out))
	for i, r := range out {
		patterns[i] = r.pattern
	}
	return patterns, nil
}

func (s *Store) ftsCandidates(ctx context.Context, query string, into map[string]*ranked) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.kind, p.signature, p.patch, p.metadata, p.created_at, bm25(patterns_fts)
		FROM patterns_fts
		JOIN patterns p ON p.rowid = patterns_fts.rowid
		WHERE patterns_fts MATCH ?
		ORDER BY bm25(patterns_fts)
		LIMIT ?
	`, query, candidateLimit)
	if err != nil {
		return fmt.Errorf("search patterns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bm25 float64
		p, err := scanPattern(rows, &bm25)
		if err != nil {
			return fmt.Errorf("scan pattern: %w", err)
		}
		// bm25() is negative; lower is better.
		into[p.ID] = &ranked{pattern: p, relevance: -bm25}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate patterns: %w", err)
	}
	return nil
}

func (s *Store) signatureCandidates(ctx context.Context, class string, into map[string]*ranked) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+patternColumns+`
		FROM patterns
		WHERE signature LIKE ? ESCAPE '\'
		ORDER BY created_at DESC
		LIMIT ?
	`, "%"+escapeLike(class)+"%", candidateLimit)
	if err != nil {
		return fmt.Errorf("search by signature: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return fmt.Errorf("scan pattern: %w", err)
		}
		if _, ok := into[p.ID]; !ok {
			into[p.ID] = &ranked{pattern: p}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate patterns: %w", err)
	}
	return nil
}

// classOverlap is the fraction of classes present in signature.
func classOverlap(classes []string, signature string) float64 {
	if len(classes) == 0 || signature == "" {
		return 0
	}
	present := make(map[string]bool)
	for _, c := range strings.Split(signature, "|") {
		present[c] = true
	}
	n := 0
	for _, c := range classes {
		if present[c] {
			n++
		}
	}
	return float64(n) / float64(len(classes))
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
