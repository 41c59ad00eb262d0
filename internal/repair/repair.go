// Package repair drives the bounded repair loop: analyze the failures in a
// compliance report, ask a generator for a patch, back the artifact up,
// apply the patch, rescore, and keep or roll back the change.
//
// The loop never leaves the artifact worse than it found it. A patch that
// lowers the overall score is rolled back from a durable backup and
// recorded as a failure pattern. The only hard failure is a backup that
// cannot be created.
package repair

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ShayCichocki/specfit/internal/artifact"
	"github.com/ShayCichocki/specfit/internal/metrics"
	"github.com/ShayCichocki/specfit/pkg/models"
)

var (
	// ErrBackupFailed aborts a run: no patch is applied without a backup.
	ErrBackupFailed = errors.New("backup failed")
	// ErrPatchGeneration marks an iteration that produced no usable patch.
	ErrPatchGeneration = errors.New("patch generation failed")
	// ErrRegression annotates an attempt that lowered the score.
	ErrRegression = errors.New("regression detected")
)

// State is a step of the repair loop.
type State string

const (
	StateScoring    State = "scoring"
	StateAnalyzing  State = "analyzing"
	StateRetrieving State = "retrieving"
	StatePatching   State = "patching"
	StateBackingUp  State = "backing-up"
	StateApplying   State = "applying"
	StateRescoring  State = "rescoring"
	StateAccepted   State = "accepted"
	StateRolledBack State = "rolled-back"
	StateDone       State = "done"
)

// Stop reasons.
const (
	StopTargetReached = "target-reached"
	StopMaxIterations = "max-iterations"
	StopStagnation    = "stagnation"
)

// Transition is reported to Config.OnTransition on every state change.
type Transition struct {
	From      State
	To        State
	Iteration int
}

// ScoreFunc scores the artifact in its current state.
type ScoreFunc func(ctx context.Context) (*models.ComplianceReport, error)

// Generator produces a patch for a failure context.
type Generator interface {
	Generate(ctx context.Context, fc models.FailureContext, patterns []*models.Pattern) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, fc models.FailureContext, patterns []*models.Pattern) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, fc models.FailureContext, patterns []*models.Pattern) (string, error) {
	return f(ctx, fc, patterns)
}

// PatternStore records attempts and finds similar past ones.
type PatternStore interface {
	StoreSuccess(ctx context.Context, patch string, meta models.PatternMetadata) (string, error)
	StoreFailure(ctx context.Context, patch string, meta models.PatternMetadata) (string, error)
	SearchSimilar(ctx context.Context, fc models.FailureContext) ([]*models.Pattern, error)
}

// Workspace is the artifact being repaired.
type Workspace interface {
	Backup(ctx context.Context) (*artifact.Snapshot, error)
	Restore(ctx context.Context, snap *artifact.Snapshot) error
	Apply(ctx context.Context, patch string) ([]string, error)
	Discard(snap *artifact.Snapshot) error
	Contents(ctx context.Context) (map[string]string, error)
}

// Config tunes the loop.
type Config struct {
	// Target is the overall score at which repair stops. Default 0.80.
	Target float64
	// MaxIterations bounds the loop. Default 3.
	MaxIterations int
	// StagnationLimit is how many consecutive iterations without strict
	// improvement over the best score end the loop. Default 2.
	StagnationLimit int
	// GenerateTimeout bounds one generator call. Default 5m.
	GenerateTimeout time.Duration
	// SendFiles includes the artifact's files in the failure context.
	SendFiles bool
	// OnTransition observes state changes.
	OnTransition func(Transition)
}

// DefaultConfig returns the default loop settings.
func DefaultConfig() Config {
	return Config{
		Target:          0.80,
		MaxIterations:   3,
		StagnationLimit: 2,
		GenerateTimeout: 5 * time.Minute,
		SendFiles:       true,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Target <= 0 {
		c.Target = d.Target
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.StagnationLimit <= 0 {
		c.StagnationLimit = d.StagnationLimit
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = d.GenerateTimeout
	}
}

// Deps are the controller's collaborators.
type Deps struct {
	Score     ScoreFunc
	Generator Generator
	// Patterns may be nil, in which case nothing is retrieved or recorded.
	Patterns  PatternStore
	Workspace Workspace
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Result is the outcome of one run.
type Result struct {
	RunID      string                     `json:"run_id"`
	ArtifactID string                     `json:"artifact_id"`
	Skipped    bool                       `json:"skipped"`
	SkipReason string                     `json:"skip_reason,omitempty"`
	Initial    *models.ComplianceReport   `json:"initial"`
	Final      *models.ComplianceReport   `json:"final"`
	Attempts   []models.RepairAttempt     `json:"attempts"`
	Reports    []*models.ComplianceReport `json:"reports"`
	StopReason string                     `json:"stop_reason,omitempty"`
}
