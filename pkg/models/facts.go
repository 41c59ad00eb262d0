package models

import (
	"sort"
	"strings"
)

// HTTPMethod is an HTTP verb an endpoint can be declared with.
type HTTPMethod string

const (
	MethodGet     HTTPMethod = "GET"
	MethodPost    HTTPMethod = "POST"
	MethodPut     HTTPMethod = "PUT"
	MethodPatch   HTTPMethod = "PATCH"
	MethodDelete  HTTPMethod = "DELETE"
	MethodHead    HTTPMethod = "HEAD"
	MethodOptions HTTPMethod = "OPTIONS"
)

// Valid returns true if the method is one of the supported verbs.
func (m HTTPMethod) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete, MethodHead, MethodOptions:
		return true
	default:
		return false
	}
}

// ParseMethod upper-cases s and reports whether it is a supported verb.
func ParseMethod(s string) (HTTPMethod, bool) {
	m := HTTPMethod(strings.ToUpper(strings.TrimSpace(s)))
	return m, m.Valid()
}

// Field is a single declared field of an entity.
type Field struct {
	// Name is the field name as declared.
	Name string `json:"name" yaml:"name"`
	// Type is the declared type, free-form (e.g. "float", "EmailStr").
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	// Required indicates the field must be present.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`
	// Constraints lists raw or canonical constraint strings.
	Constraints []string `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// Entity is a named data type, either expected by a specification or found
// in an artifact.
type Entity struct {
	// Name is the entity name. Found entities carry their base name after
	// suffix normalization.
	Name string `json:"name" yaml:"name"`
	// Fields lists the fields of the entity.
	Fields []Field `json:"fields,omitempty" yaml:"fields,omitempty"`
	// Aliases lists the raw declaration names that mapped onto this entity.
	Aliases []string `json:"aliases,omitempty" yaml:"-"`
}

// Field returns the field with the given name (case-insensitive) or nil.
func (e *Entity) Field(name string) *Field {
	for i := range e.Fields {
		if strings.EqualFold(e.Fields[i].Name, name) {
			return &e.Fields[i]
		}
	}
	return nil
}

// Endpoint is an HTTP operation identified by method and path.
type Endpoint struct {
	Method HTTPMethod `json:"method" yaml:"method"`
	Path   string     `json:"path" yaml:"path"`
}

// String renders the endpoint as "METHOD /path".
func (e Endpoint) String() string {
	return string(e.Method) + " " + e.Path
}

// Constraint is a validation rule attached to an entity field.
type Constraint struct {
	// Entity is the owning entity name.
	Entity string `json:"entity"`
	// Field is the constrained field name.
	Field string `json:"field"`
	// Rule is the canonical rule string (e.g. "gt=0", "required").
	Rule string `json:"rule"`
	// Mechanism names the construct that enforces the rule, such as
	// "Field(gt=0)" or "schema:minimum". Empty for a bare label.
	Mechanism string `json:"mechanism,omitempty"`
	// Source is the file or schema the constraint was found in.
	Source string `json:"source,omitempty"`
}

// Key returns the lower-cased "entity.field" targeting key.
func (c Constraint) Key() string {
	return strings.ToLower(c.Entity) + "." + strings.ToLower(c.Field)
}

// Signature identifies a constraint for deduplication.
func (c Constraint) Signature() string {
	return c.Key() + ": " + c.Rule
}

// String renders the constraint as "Entity.field: rule".
func (c Constraint) String() string {
	return c.Entity + "." + c.Field + ": " + c.Rule
}

// DedupConstraints removes constraints with identical signatures, keeping
// the first occurrence that carries a mechanism, and returns them sorted by
// signature so that storage order never affects results.
func DedupConstraints(in []Constraint) []Constraint {
	bySig := make(map[string]int, len(in))
	out := make([]Constraint, 0, len(in))
	for _, c := range in {
		sig := c.Signature()
		if idx, ok := bySig[sig]; ok {
			if out[idx].Mechanism == "" && c.Mechanism != "" {
				out[idx] = c
			}
			continue
		}
		bySig[sig] = len(out)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Signature() < out[j].Signature()
	})
	return out
}
