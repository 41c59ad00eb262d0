package models

import "time"

// Category names a scoring category.
type Category string

const (
	CategoryEntities    Category = "entities"
	CategoryEndpoints   Category = "endpoints"
	CategoryValidations Category = "validations"
)

// CategoryScore is the coverage result for one category.
type CategoryScore struct {
	// Score is the coverage fraction in [0, 1].
	Score float64 `json:"score"`
	// Matched is the number of expected items that were found.
	Matched int `json:"matched"`
	// Expected is the number of expected items.
	Expected int `json:"expected"`
}

// Categorized holds one string list per category.
type Categorized struct {
	Entities    []string `json:"entities"`
	Endpoints   []string `json:"endpoints"`
	Validations []string `json:"validations"`
}

// Total returns the number of items across all categories.
func (c Categorized) Total() int {
	return len(c.Entities) + len(c.Endpoints) + len(c.Validations)
}

func (c Categorized) clone() Categorized {
	return Categorized{
		Entities:    append([]string(nil), c.Entities...),
		Endpoints:   append([]string(nil), c.Endpoints...),
		Validations: append([]string(nil), c.Validations...),
	}
}

// ComplianceReport is an immutable snapshot of one scoring pass.
// Build it with NewComplianceReport; a report is superseded, never edited.
type ComplianceReport struct {
	Overall     float64       `json:"overall"`
	Entities    CategoryScore `json:"entities"`
	Endpoints   CategoryScore `json:"endpoints"`
	Validations CategoryScore `json:"validations"`
	Implemented Categorized   `json:"implemented"`
	Expected    Categorized   `json:"expected"`
	// Missing.Endpoints is a capped sample; Missing.Validations is complete.
	Missing     Categorized `json:"missing"`
	Diagnostics []string    `json:"diagnostics,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ReportParts carries the values a report is built from.
type ReportParts struct {
	Overall     float64
	Entities    CategoryScore
	Endpoints   CategoryScore
	Validations CategoryScore
	Implemented Categorized
	Expected    Categorized
	Missing     Categorized
	Diagnostics []string
}

// NewComplianceReport copies parts into a fresh report so that later changes
// to the caller's slices cannot reach it.
func NewComplianceReport(p ReportParts) *ComplianceReport {
	return &ComplianceReport{
		Overall:     p.Overall,
		Entities:    p.Entities,
		Endpoints:   p.Endpoints,
		Validations: p.Validations,
		Implemented: p.Implemented.clone(),
		Expected:    p.Expected.clone(),
		Missing:     p.Missing.clone(),
		Diagnostics: append([]string(nil), p.Diagnostics...),
		CreatedAt:   time.Now().UTC(),
	}
}

// Category returns the score for the named category.
func (r *ComplianceReport) Category(c Category) CategoryScore {
	switch c {
	case CategoryEntities:
		return r.Entities
	case CategoryEndpoints:
		return r.Endpoints
	case CategoryValidations:
		return r.Validations
	default:
		return CategoryScore{}
	}
}

// scoreEpsilon absorbs rounding in weighted sums such as 0.4+0.4+0.2.
const scoreEpsilon = 1e-9

// MeetsTarget reports whether the overall score reaches target.
func (r *ComplianceReport) MeetsTarget(target float64) bool {
	return r != nil && r.Overall+scoreEpsilon >= target
}
