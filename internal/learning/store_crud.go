package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/specfit/pkg/models"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("pattern not found")

// StoreSuccess records a patch that kept or raised the score.
func (s *Store) StoreSuccess(ctx context.Context, patch string, meta models.PatternMetadata) (string, error) {
	return s.insert(ctx, models.PatternSuccess, patch, meta)
}

// StoreFailure records a patch that was rolled back.
func (s *Store) StoreFailure(ctx context.Context, patch string, meta models.PatternMetadata) (string, error) {
	return s.insert(ctx, models.PatternFailure, patch, meta)
}

func (s *Store) insert(ctx context.Context, kind models.PatternKind, patch string, meta models.PatternMetadata) (string, error) {
	if strings.TrimSpace(patch) == "" {
		return "", errors.New("pattern patch is empty")
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}

	id := newPatternID()
	failures := strings.Join(append(append([]string(nil), meta.FailureClasses...), meta.Failures...), "\n")
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patterns (
			id, kind, signature, patch, failures,
			before_score, after_score, delta, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		string(kind),
		Signature(meta.FailureClasses),
		patch,
		failures,
		meta.Before,
		meta.After,
		meta.Delta,
		string(metaJSON),
		formatTime(time.Now()),
	)
	if err != nil {
		return "", fmt.Errorf("insert pattern: %w", err)
	}
	return id, nil
}

const patternColumns = `id, kind, signature, patch, metadata, created_at`

// Get retrieves a pattern by its ID.
func (s *Store) Get(ctx context.Context, id string) (*models.Pattern, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	return p, nil
}

// List returns the most recent patterns up to limit.
func (s *Store) List(ctx context.Context, limit int) ([]*models.Pattern, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+patternColumns+`
		FROM patterns
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []*models.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patterns: %w", err)
	}
	return out, nil
}

// Stats summarizes the store. AvgSuccessDelta is the mean score change of
// successful patterns.
type Stats struct {
	Total           int     `json:"total"`
	Successes       int     `json:"successes"`
	Failures        int     `json:"failures"`
	Signatures      int     `json:"signatures"`
	AvgSuccessDelta float64 `json:"avg_success_delta"`
}

// Stats returns counts over all stored patterns.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN kind = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'failure' THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT signature),
			COALESCE(AVG(CASE WHEN kind = 'success' THEN delta END), 0)
		FROM patterns
	`).Scan(&st.Total, &st.Successes, &st.Failures, &st.Signatures, &st.AvgSuccessDelta)
	if err != nil {
		return nil, fmt.Errorf("pattern stats: %w", err)
	}
	return &st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPattern(sc scanner, extra ...any) (*models.Pattern, error) {
	var (
		p         models.Pattern
		kind      string
		metaJSON  string
		createdAt string
	)
	dest := append([]any{&p.ID, &kind, &p.Signature, &p.Patch, &metaJSON, &createdAt}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}
	p.Kind = models.PatternKind(kind)
	if err := json.Unmarshal([]byte(metaJSON), &p.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", p.ID, err)
	}
	ca, _ := parseTime(createdAt)
	p.CreatedAt = ca
	return &p, nil
}
