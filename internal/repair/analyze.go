package repair

import (
	"strings"

	"github.com/ShayCichocki/specfit/pkg/models"
)

// Failure classes.
const (
	ClassMissingEntity     = "missing_entity"
	ClassMissingEndpoint   = "missing_endpoint"
	ClassMissingValidation = "missing_validation"
)

// AnalyzeFailures lists one failure per missing entity, endpoint, and
// validation in a report, in that order.
func AnalyzeFailures(report *models.ComplianceReport) []models.Failure {
	if report == nil {
		return nil
	}
	var out []models.Failure
	for _, e := range report.Missing.Entities {
		out = append(out, models.Failure{Class: ClassMissingEntity, Text: e})
	}
	for _, e := range report.Missing.Endpoints {
		out = append(out, models.Failure{Class: ClassMissingEndpoint, Text: e})
	}
	for _, v := range report.Missing.Validations {
		out = append(out, models.Failure{
			Class: ClassMissingValidation + ":" + ruleFamily(validationRule(v)),
			Text:  v,
		})
	}
	return out
}

// validationRule returns the rule of an "Entity.field: rule" string.
func validationRule(v string) string {
	if i := strings.Index(v, ": "); i >= 0 {
		return v[i+2:]
	}
	return v
}

var familyPrefixes = []struct {
	prefix string
	family string
}{
	{"gt=", "bound"},
	{"ge=", "bound"},
	{"lt=", "bound"},
	{"le=", "bound"},
	{"min_length=", "length"},
	{"max_length=", "length"},
	{"pattern=", "format"},
	{"format=", "format"},
	{"enum", "enum"},
	{"foreign_key", "foreign_key"},
	{"default_factory", "generated"},
	{"default", "default"},
	{"validator", "validator"},
}

var familyRules = map[string]string{
	"required":        "required",
	"not_null":        "required",
	"unique":          "unique",
	"primary_key":     "unique",
	"read-only":       "immutability",
	"frozen":          "immutability",
	"snapshot":        "immutability",
	"auto-generated":  "generated",
	"auto-calculated": "generated",
	"computed_field":  "generated",
}

// ruleFamily groups a canonical rule for pattern retrieval.
func ruleFamily(rule string) string {
	if f, ok := familyRules[rule]; ok {
		return f
	}
	if strings.HasSuffix(rule, "_format") {
		return "format"
	}
	for _, fp := range familyPrefixes {
		if strings.HasPrefix(rule, fp.prefix) {
			return fp.family
		}
	}
	return "other"
}
