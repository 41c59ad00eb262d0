// Package extract recovers entity, endpoint, and constraint facts from a
// generated artifact.
//
// Two strategies share the Extractor interface. Static parses Python source
// with tree-sitter. Dynamic reads a running service's OpenAPI description
// and scans the source tree for entity declarations the schema leaves out.
// Malformed input never fails extraction: it produces diagnostics and a
// partial result.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ShayCichocki/specfit/internal/rules"
	"github.com/ShayCichocki/specfit/pkg/models"
)

// Strategy selects an extraction strategy.
type Strategy string

const (
	StrategyStatic  Strategy = "static"
	StrategyDynamic Strategy = "dynamic"
)

// Source identifies the artifact to extract from.
type Source struct {
	// Root is the artifact's source directory.
	Root string
	// BaseURL is the running service's base URL (dynamic strategy).
	BaseURL string
}

// Result holds the facts found in an artifact.
type Result struct {
	Entities    []models.Entity
	Endpoints   []models.Endpoint
	Constraints []models.Constraint
	Diagnostics []*ExtractionError
}

// DiagnosticStrings renders diagnostics for reports.
func (r *Result) DiagnosticStrings() []string {
	out := make([]string, 0, len(r.Diagnostics))
	for _, d := range r.Diagnostics {
		out = append(out, d.Error())
	}
	return out
}

// ExtractionError describes a section of the artifact that could not be
// read. It is recorded as a diagnostic and never aborts extraction.
type ExtractionError struct {
	File string
	Line int
	Msg  string
}

func (e *ExtractionError) Error() string {
	switch {
	case e.File == "":
		return e.Msg
	case e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	default:
		return fmt.Sprintf("%s: %s", e.File, e.Msg)
	}
}

// Extractor recovers facts from an artifact. It returns an error only when
// there is nothing to extract from at all.
type Extractor interface {
	Extract(ctx context.Context, src Source) (*Result, error)
}

// Config configures extraction.
type Config struct {
	Strategy Strategy
	// Include lists doublestar patterns of source files, relative to Root.
	Include []string
	// Exclude lists doublestar patterns to skip.
	Exclude []string
	// OpenAPIPath is the schema path under BaseURL.
	OpenAPIPath string
	// ServiceCommand, if set, starts the service before a dynamic
	// extraction and stops it afterwards.
	ServiceCommand string
	// ServiceURL is the base URL of a service started by ServiceCommand.
	ServiceURL string
	// ReadyTimeout bounds how long to wait for a started service.
	ReadyTimeout time.Duration
	// FetchTimeout bounds the schema request.
	FetchTimeout time.Duration
	// Tables supplies entity suffix normalization.
	Tables *rules.Tables
	Logger *slog.Logger
}

// DefaultInclude matches Python source files.
var DefaultInclude = []string{"**/*.py"}

// DefaultExclude skips virtual environments, caches, and tests.
var DefaultExclude = []string{
	"**/.*/**", "**/venv/**", "**/env/**", "**/__pycache__/**",
	"**/node_modules/**", "**/site-packages/**", "**/build/**",
	"**/dist/**", "**/tests/**", "**/test_*.py",
}

func (c *Config) applyDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyStatic
	}
	if len(c.Include) == 0 {
		c.Include = DefaultInclude
	}
	if c.Exclude == nil {
		c.Exclude = DefaultExclude
	}
	if c.OpenAPIPath == "" {
		c.OpenAPIPath = "/openapi.json"
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 30 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.Tables == nil {
		c.Tables = rules.Default()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New returns the extractor for cfg.Strategy.
func New(cfg Config) (Extractor, error) {
	cfg.applyDefaults()
	switch cfg.Strategy {
	case StrategyStatic:
		return NewStatic(cfg), nil
	case StrategyDynamic:
		return NewDynamic(cfg), nil
	default:
		return nil, fmt.Errorf("unknown extraction strategy %q", cfg.Strategy)
	}
}

// entitySet merges entity declarations onto base names.
type entitySet struct {
	tables *rules.Tables
	order  []string
	byKey  map[string]*models.Entity
}

func newEntitySet(t *rules.Tables) *entitySet {
	return &entitySet{tables: t, byKey: make(map[string]*models.Entity)}
}

// add records a declaration named rawName and returns its base entity.
func (s *entitySet) add(rawName string) *models.Entity {
	base := s.tables.BaseEntityName(rawName)
	key := strings.ToLower(base)
	ent, ok := s.byKey[key]
	if !ok {
		ent = &models.Entity{Name: base}
		s.byKey[key] = ent
		s.order = append(s.order, key)
	}
	if !containsString(ent.Aliases, rawName) {
		ent.Aliases = append(ent.Aliases, rawName)
	}
	return ent
}

// addField merges a field into ent.
func addField(ent *models.Entity, f models.Field) {
	existing := ent.Field(f.Name)
	if existing == nil {
		f.Constraints = uniqueSorted(f.Constraints)
		ent.Fields = append(ent.Fields, f)
		return
	}
	if existing.Type == "" {
		existing.Type = f.Type
	}
	existing.Required = existing.Required || f.Required
	existing.Constraints = uniqueSorted(append(existing.Constraints, f.Constraints...))
}

func (s *entitySet) list() []models.Entity {
	out := make([]models.Entity, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, *s.byKey[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// dedupEndpoints removes repeated endpoints and sorts the rest.
func dedupEndpoints(in []models.Endpoint) []models.Endpoint {
	seen := make(map[string]bool, len(in))
	out := make([]models.Endpoint, 0, len(in))
	for _, e := range in {
		k := e.String()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
