package models

import "time"

// PatternKind distinguishes successful from failed repairs.
type PatternKind string

const (
	PatternSuccess PatternKind = "success"
	PatternFailure PatternKind = "failure"
)

// PatternMetadata describes the outcome a pattern was recorded with.
type PatternMetadata struct {
	// FailureClasses lists the classes of failure the patch addressed.
	FailureClasses []string `json:"failure_classes"`
	// Before is the overall score before the patch.
	Before float64 `json:"before"`
	// After is the overall score with the patch applied.
	After float64 `json:"after"`
	// Delta is After - Before.
	Delta float64 `json:"delta"`
	// Iteration is the loop iteration the patch came from.
	Iteration int `json:"iteration"`
	// RunID identifies the repair run.
	RunID string `json:"run_id,omitempty"`
	// Artifact identifies the repaired artifact.
	Artifact string `json:"artifact,omitempty"`
	// Failures holds the human-readable failure descriptions.
	Failures []string `json:"failures,omitempty"`
}

// Pattern is an append-only record of a past repair attempt.
type Pattern struct {
	ID        string          `json:"id"`
	Kind      PatternKind     `json:"kind"`
	Signature string          `json:"signature"`
	Patch     string          `json:"patch"`
	Metadata  PatternMetadata `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}
