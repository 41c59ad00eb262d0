package models

import "time"

// AttemptOutcome is the result of one repair iteration.
type AttemptOutcome string

const (
	// OutcomeImproved means the patch raised the overall score.
	OutcomeImproved AttemptOutcome = "improved"
	// OutcomeRegressed means the patch lowered the score and was rolled back.
	OutcomeRegressed AttemptOutcome = "regressed"
	// OutcomeNoChange means the patch was accepted without changing the score.
	OutcomeNoChange AttemptOutcome = "no-change"
	// OutcomeGenerationFailed means no usable patch was produced.
	OutcomeGenerationFailed AttemptOutcome = "generation-failed"
)

// Valid returns true if the outcome is a known value.
func (o AttemptOutcome) Valid() bool {
	switch o {
	case OutcomeImproved, OutcomeRegressed, OutcomeNoChange, OutcomeGenerationFailed:
		return true
	default:
		return false
	}
}

// Accepted returns true if the patch stayed applied.
func (o AttemptOutcome) Accepted() bool {
	return o == OutcomeImproved || o == OutcomeNoChange
}

// RepairAttempt records a single iteration of the repair loop.
type RepairAttempt struct {
	// Iteration is the 1-indexed iteration number.
	Iteration int `json:"iteration"`
	// ComplianceBefore is the overall score before the patch.
	ComplianceBefore float64 `json:"compliance_before"`
	// ComplianceAfter is the overall score measured with the patch applied.
	// A regressed patch is rolled back, so the artifact returns to
	// ComplianceBefore.
	ComplianceAfter float64 `json:"compliance_after"`
	// Patch is the candidate patch text.
	Patch string `json:"patch,omitempty"`
	// Outcome classifies the iteration.
	Outcome AttemptOutcome `json:"outcome"`
	// Error describes a failed generation or apply.
	Error string `json:"error,omitempty"`
	// PatternID is the id of the pattern recorded for this attempt.
	PatternID string `json:"pattern_id,omitempty"`
	// FailureClasses lists the failure classes the patch targeted.
	FailureClasses []string `json:"failure_classes,omitempty"`
	// StartedAt is when the iteration began.
	StartedAt time.Time `json:"started_at"`
	// Duration is how long the iteration took.
	Duration time.Duration `json:"duration"`
}

// Delta returns the score change measured with the patch applied.
func (a RepairAttempt) Delta() float64 {
	return a.ComplianceAfter - a.ComplianceBefore
}
