// Package specdoc loads the structured specification document that expected
// facts are derived from.
package specdoc

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/specfit/internal/normalize"
	"github.com/ShayCichocki/specfit/pkg/models"
)

// Document is the specification input: expected entities, endpoints, and
// optional free-form validations.
type Document struct {
	Name        string         `yaml:"name,omitempty" json:"name,omitempty"`
	Entities    []EntitySpec   `yaml:"entities" json:"entities" validate:"dive"`
	Endpoints   []EndpointSpec `yaml:"endpoints" json:"endpoints" validate:"dive"`
	Validations []string       `yaml:"validations,omitempty" json:"validations,omitempty"`
}

// EntitySpec is an expected entity.
type EntitySpec struct {
	Name   string      `yaml:"name" json:"name" validate:"required"`
	Fields []FieldSpec `yaml:"fields,omitempty" json:"fields,omitempty" validate:"dive"`
}

// FieldSpec is an expected field.
type FieldSpec struct {
	Name        string   `yaml:"name" json:"name" validate:"required"`
	Type        string   `yaml:"type,omitempty" json:"type,omitempty"`
	Required    bool     `yaml:"required,omitempty" json:"required,omitempty"`
	Constraints []string `yaml:"constraints,omitempty" json:"constraints,omitempty"`
}

// EndpointSpec is an expected endpoint.
type EndpointSpec struct {
	Method string `yaml:"method" json:"method" validate:"required,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS get post put patch delete head options"`
	Path   string `yaml:"path" json:"path" validate:"required,startswith=/"`
}

// Expected holds the facts a document expects an artifact to contain.
type Expected struct {
	Entities    []models.Entity
	Endpoints   []models.Endpoint
	Constraints []models.Constraint
}

var validationRe = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_-]*)\.([A-Za-z_][A-Za-z0-9_]*)\s*:\s*(.+?)\s*$`)

var validate = validator.New()

// Load reads and validates a document from a YAML or JSON file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec document: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("spec document %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes and validates a document. JSON input is accepted since it
// is valid YAML.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks struct constraints and the free-form validation strings.
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("validate: %w", err)
	}
	for _, v := range d.Validations {
		if _, err := ParseValidation(v); err != nil {
			return err
		}
	}
	return nil
}

// ParseValidation parses an "Entity.field: rule" string into a constraint
// with a normalized rule.
func ParseValidation(s string) (models.Constraint, error) {
	m := validationRe.FindStringSubmatch(s)
	if m == nil {
		return models.Constraint{}, fmt.Errorf("validation %q: want \"Entity.field: rule\"", s)
	}
	rule := normalize.Normalize(m[3])
	if rule == "" {
		return models.Constraint{}, fmt.Errorf("validation %q: empty rule", s)
	}
	return models.Constraint{Entity: m[1], Field: m[2], Rule: rule, Source: "spec"}, nil
}

// Expected derives the expected facts. A field marked required adds a
// "required" constraint; every listed constraint is normalized and targeted
// at its entity and field. Duplicates collapse.
func (d *Document) Expected() Expected {
	var out Expected
	for _, es := range d.Entities {
		ent := models.Entity{Name: es.Name}
		for _, fs := range es.Fields {
			rules := normalize.NormalizeAll(fs.Constraints)
			if fs.Required && !contains(rules, "required") {
				rules = append(rules, "required")
				sort.Strings(rules)
			}
			ent.Fields = append(ent.Fields, models.Field{
				Name:        fs.Name,
				Type:        fs.Type,
				Required:    fs.Required,
				Constraints: rules,
			})
			for _, r := range rules {
				out.Constraints = append(out.Constraints, models.Constraint{
					Entity: es.Name,
					Field:  fs.Name,
					Rule:   r,
					Source: "spec",
				})
			}
		}
		out.Entities = append(out.Entities, ent)
	}

	for _, ep := range d.Endpoints {
		m, _ := models.ParseMethod(ep.Method)
		out.Endpoints = append(out.Endpoints, models.Endpoint{Method: m, Path: strings.TrimSpace(ep.Path)})
	}

	for _, v := range d.Validations {
		c, err := ParseValidation(v)
		if err != nil {
			continue
		}
		out.Constraints = append(out.Constraints, c)
	}
	out.Constraints = models.DedupConstraints(out.Constraints)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
