// Package rules holds the versioned tables that drive matching and scoring:
// entity suffix normalization, endpoint equivalences, rule equivalence
// families, and the real-enforcement filter.
//
// Tables are plain data. Default returns the built-in set; Load overlays a
// YAML file on top of it so deployments can tune matching without a rebuild.
package rules

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/specfit/internal/normalize"
	"github.com/ShayCichocki/specfit/pkg/models"
)

// DefaultVersion identifies the built-in tables.
const DefaultVersion = "2024.1"

// Weights are the per-category contributions to the overall score.
type Weights struct {
	Entities    float64 `yaml:"entities"`
	Endpoints   float64 `yaml:"endpoints"`
	Validations float64 `yaml:"validations"`
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Entities + w.Endpoints + w.Validations
}

// EndpointEquivalence declares two endpoint shapes that satisfy each other.
// A path segment starting with "$" binds to any single segment and must
// bind to the same value on both sides; "{...}" matches any parameter.
type EndpointEquivalence struct {
	Expected string `yaml:"expected"`
	Found    string `yaml:"found"`
}

// Tables is one versioned set of matching rules.
type Tables struct {
	Version string `yaml:"version"`

	// EntitySuffixes are stripped from declared class names to recover the
	// base entity ("ProductCreate" -> "Product"). Longer suffixes win.
	EntitySuffixes []string `yaml:"entity_suffixes"`

	// EndpointEquivalences lists "METHOD /path" pairs that are treated as
	// the same operation.
	EndpointEquivalences []EndpointEquivalence `yaml:"endpoint_equivalences"`

	// MethodEquivalences groups methods that satisfy each other on the
	// same path.
	MethodEquivalences [][]string `yaml:"method_equivalences"`

	// Families maps an expected canonical rule to the found rules that
	// satisfy it. Every rule implicitly satisfies itself.
	Families map[string][]string `yaml:"families"`

	// WildcardPrefixes are rule prefixes whose parameter is ignored when
	// matching ("foreign_key_" matches any target).
	WildcardPrefixes []string `yaml:"wildcard_prefixes"`

	// DescriptiveLabels are rules that never count as enforcement.
	DescriptiveLabels []string `yaml:"descriptive_labels"`

	// DescriptiveMechanisms are mechanisms that only document a rule, such
	// as hints read from schema description prose. Constraints carrying one
	// never count as enforcement.
	DescriptiveMechanisms []string `yaml:"descriptive_mechanisms"`

	// EnforcementRules are rules that count even without a recorded
	// mechanism.
	EnforcementRules []string `yaml:"enforcement_rules"`

	// EnforcementPrefixes mark parameterized rules that always enforce.
	EnforcementPrefixes []string `yaml:"enforcement_prefixes"`

	Weights Weights `yaml:"weights"`

	// EndpointSample caps how many missing endpoints a report lists.
	EndpointSample int `yaml:"endpoint_sample"`
}

// Default returns a fresh copy of the built-in tables.
func Default() *Tables {
	return &Tables{
		Version: DefaultVersion,
		EntitySuffixes: []string{
			"-Input", "-Output", "Input", "Output", "Response", "Request",
			"Create", "Update", "Base", "InDB", "Schema", "Model", "Read",
			"Public",
		},
		EndpointEquivalences: []EndpointEquivalence{
			{Expected: "POST /$res/clear", Found: "DELETE /$res/{id}"},
			{Expected: "POST /$res/clear", Found: "DELETE /$res"},
			{Expected: "POST /$res/{id}/clear", Found: "DELETE /$res/{id}"},
			{Expected: "POST /$res/{id}/clear", Found: "DELETE /$res/{id}/items"},
			{Expected: "POST /$res/empty", Found: "DELETE /$res/{id}"},
		},
		MethodEquivalences: [][]string{{"PUT", "PATCH"}},
		Families: map[string][]string{
			"required":        {"not_null", "min_length=1"},
			"not_null":        {"required"},
			"unique":          {"primary_key"},
			"read-only":       {"auto-generated", "auto-calculated", "primary_key", "frozen"},
			"auto-generated":  {"read-only", "primary_key", "default_factory"},
			"auto-calculated": {"read-only", "computed_field", "auto-generated"},
			"snapshot":        {"read-only", "auto-calculated", "frozen"},
			"email_format":    {"format=email", "pattern=email"},
			"uuid_format":     {"format=uuid", "auto-generated"},
			"url_format":      {"format=uri"},
			"gt=0":            {"ge=1"},
			"ge=1":            {"gt=0"},
		},
		WildcardPrefixes: []string{"foreign_key_", "default_", "pattern="},
		DescriptiveLabels: []string{
			"description", "title", "example", "examples", "comment", "doc",
			"summary", "note", "deprecated",
		},
		DescriptiveMechanisms: []string{"schema:description"},
		EnforcementRules: []string{
			"required", "not_null", "unique", "primary_key", "read-only",
			"auto-generated", "auto-calculated", "snapshot", "frozen",
			"email_format", "uuid_format", "url_format", "datetime_format",
			"computed_field", "default_factory",
		},
		EnforcementPrefixes: []string{
			"gt=", "ge=", "lt=", "le=", "min_length=", "max_length=",
			"pattern=", "enum=", "format=", "foreign_key_", "default_",
			"validator:",
		},
		Weights:        Weights{Entities: 0.4, Endpoints: 0.4, Validations: 0.2},
		EndpointSample: 5,
	}
}

// Load reads a YAML rules file and overlays it on the defaults. Lists in the
// file replace the default lists; Families entries are merged by key.
func Load(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var overlay Tables
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	t := Default()
	t.merge(&overlay)
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return t, nil
}

func (t *Tables) merge(o *Tables) {
	if o.Version != "" {
		t.Version = o.Version
	}
	if o.EntitySuffixes != nil {
		t.EntitySuffixes = o.EntitySuffixes
	}
	if o.EndpointEquivalences != nil {
		t.EndpointEquivalences = o.EndpointEquivalences
	}
	if o.MethodEquivalences != nil {
		t.MethodEquivalences = o.MethodEquivalences
	}
	for k, v := range o.Families {
		t.Families[normalize.Normalize(k)] = normalize.NormalizeAll(v)
	}
	if o.WildcardPrefixes != nil {
		t.WildcardPrefixes = o.WildcardPrefixes
	}
	if o.DescriptiveLabels != nil {
		t.DescriptiveLabels = o.DescriptiveLabels
	}
	if o.DescriptiveMechanisms != nil {
		t.DescriptiveMechanisms = o.DescriptiveMechanisms
	}
	if o.EnforcementRules != nil {
		t.EnforcementRules = o.EnforcementRules
	}
	if o.EnforcementPrefixes != nil {
		t.EnforcementPrefixes = o.EnforcementPrefixes
	}
	if o.Weights != (Weights{}) {
		t.Weights = o.Weights
	}
	if o.EndpointSample > 0 {
		t.EndpointSample = o.EndpointSample
	}
}

// Validate checks that the tables are usable.
func (t *Tables) Validate() error {
	if t.Weights.Entities < 0 || t.Weights.Endpoints < 0 || t.Weights.Validations < 0 {
		return fmt.Errorf("weights must be non-negative")
	}
	if sum := t.Weights.Sum(); sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("weights must sum to 1, got %.3f", sum)
	}
	for _, eq := range t.EndpointEquivalences {
		if _, err := parseEndpoint(eq.Expected); err != nil {
			return fmt.Errorf("endpoint equivalence: %w", err)
		}
		if _, err := parseEndpoint(eq.Found); err != nil {
			return fmt.Errorf("endpoint equivalence: %w", err)
		}
	}
	return nil
}

// BaseEntityName strips suffixes from a declared class name until none
// match, longest suffix first ("UserCreateResponse" -> "User"). A name that
// is nothing but a suffix is returned unchanged.
func (t *Tables) BaseEntityName(name string) string {
	suffixes := append([]string(nil), t.EntitySuffixes...)
	sort.SliceStable(suffixes, func(i, j int) bool {
		return len(suffixes[i]) > len(suffixes[j])
	})
	for {
		stripped := stripSuffix(name, suffixes)
		if stripped == name {
			return name
		}
		name = stripped
	}
}

func stripSuffix(name string, suffixes []string) string {
	for _, s := range suffixes {
		if len(name) > len(s) && strings.HasSuffix(name, s) {
			if base := strings.TrimRight(name[:len(name)-len(s)], "-_"); base != "" {
				return base
			}
		}
	}
	return name
}

// SameEntity reports whether two names refer to the same base entity.
func (t *Tables) SameEntity(a, b string) bool {
	return strings.EqualFold(t.BaseEntityName(a), t.BaseEntityName(b))
}

// Satisfies reports whether a found canonical rule satisfies an expected
// canonical rule: identical, a declared family member, a wildcard prefix
// match, or a parameterized form of a bare expected rule ("enum" is
// satisfied by "enum=a,b").
func (t *Tables) Satisfies(expected, found string) bool {
	if expected == found {
		return true
	}
	if !strings.Contains(expected, "=") && !strings.HasSuffix(expected, "_") {
		if strings.HasPrefix(found, expected+"=") || strings.HasPrefix(found, expected+"_") {
			return true
		}
	}
	for _, member := range t.Families[expected] {
		if member == found {
			return true
		}
	}
	for _, p := range t.WildcardPrefixes {
		if strings.HasPrefix(expected, p) && strings.HasPrefix(found, p) {
			return true
		}
	}
	return false
}

// IsRealEnforcement reports whether a found constraint represents an actual
// enforcement mechanism rather than a descriptive label. Descriptive labels
// and rules known only from descriptive prose never count. Otherwise a constraint counts when it names its mechanism or
// its rule is a known enforcing rule.
func (t *Tables) IsRealEnforcement(c models.Constraint) bool {
	rule := strings.ToLower(strings.TrimSpace(c.Rule))
	if rule == "" {
		return false
	}
	for _, l := range t.DescriptiveLabels {
		if rule == l || strings.HasPrefix(rule, l+"=") || strings.HasPrefix(rule, l+":") {
			return false
		}
	}
	if containsFold(t.DescriptiveMechanisms, strings.TrimSpace(c.Mechanism)) {
		return false
	}
	if c.Mechanism != "" {
		return true
	}
	for _, r := range t.EnforcementRules {
		if rule == r {
			return true
		}
	}
	for _, p := range t.EnforcementPrefixes {
		if strings.HasPrefix(rule, p) {
			return true
		}
	}
	return false
}

// EquivalentEndpoints reports whether a found endpoint satisfies an
// expected one. Both are normalized first.
func (t *Tables) EquivalentEndpoints(expected, found models.Endpoint) bool {
	e := normalize.Endpoint(expected)
	f := normalize.Endpoint(found)
	if e.Path == f.Path {
		if e.Method == f.Method {
			return true
		}
		for _, group := range t.MethodEquivalences {
			if containsFold(group, string(e.Method)) && containsFold(group, string(f.Method)) {
				return true
			}
		}
	}
	for _, eq := range t.EndpointEquivalences {
		a, errA := parseEndpoint(eq.Expected)
		b, errB := parseEndpoint(eq.Found)
		if errA != nil || errB != nil {
			continue
		}
		if matchShapes(a, b, e, f) || matchShapes(b, a, e, f) {
			return true
		}
	}
	return false
}

// matchShapes reports whether expected matches shape a and found matches
// shape b with consistent "$" bindings.
func matchShapes(a, b, expected, found models.Endpoint) bool {
	if a.Method != expected.Method || b.Method != found.Method {
		return false
	}
	bindings := make(map[string]string)
	return bindPath(a.Path, expected.Path, bindings) && bindPath(b.Path, found.Path, bindings)
}

func bindPath(shape, path string, bindings map[string]string) bool {
	ss := strings.Split(shape, "/")
	ps := strings.Split(path, "/")
	if len(ss) != len(ps) {
		return false
	}
	for i, seg := range ss {
		if strings.HasPrefix(seg, "$") {
			if v, ok := bindings[seg]; ok && v != ps[i] {
				return false
			}
			bindings[seg] = ps[i]
			continue
		}
		if seg != ps[i] {
			return false
		}
	}
	return true
}

func parseEndpoint(s string) (models.Endpoint, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return models.Endpoint{}, fmt.Errorf("want \"METHOD /path\", got %q", s)
	}
	m, ok := models.ParseMethod(parts[0])
	if !ok {
		return models.Endpoint{}, fmt.Errorf("unknown method %q", parts[0])
	}
	return normalize.Endpoint(models.Endpoint{Method: m, Path: parts[1]}), nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
