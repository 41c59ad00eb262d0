package models

import "sort"

// Failure is one gap between what a specification expects and what an
// artifact implements.
type Failure struct {
	// Class groups failures for pattern retrieval, e.g. "missing_entity" or
	// "missing_validation:required".
	Class string `json:"class"`
	// Text describes the failure, e.g. "Product.price: gt=0".
	Text string `json:"text"`
}

// FailureContext is everything a patch generator is given for one
// repair iteration.
type FailureContext struct {
	RunID      string    `json:"run_id"`
	ArtifactID string    `json:"artifact_id"`
	Iteration  int       `json:"iteration"`
	Score      float64   `json:"score"`
	Target     float64   `json:"target"`
	Failures   []Failure `json:"failures"`
	// Files maps artifact-relative paths to their current contents.
	Files map[string]string `json:"files,omitempty"`
	// PreviousErrors holds errors from earlier iterations of the run.
	PreviousErrors []string `json:"previous_errors,omitempty"`
}

// Classes returns the distinct failure classes, sorted.
func (fc FailureContext) Classes() []string {
	seen := make(map[string]bool, len(fc.Failures))
	out := make([]string, 0, len(fc.Failures))
	for _, f := range fc.Failures {
		if f.Class == "" || seen[f.Class] {
			continue
		}
		seen[f.Class] = true
		out = append(out, f.Class)
	}
	sort.Strings(out)
	return out
}

// Texts returns the failure descriptions in order.
func (fc FailureContext) Texts() []string {
	out := make([]string, 0, len(fc.Failures))
	for _, f := range fc.Failures {
		out = append(out, f.Text)
	}
	return out
}
