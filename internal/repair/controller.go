package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/specfit/internal/artifact"
	"github.com/ShayCichocki/specfit/pkg/models"
)

// Controller runs repair loops. Runs are sequential within themselves;
// separate runs against separate artifacts may share a Controller's
// pattern store.
type Controller struct {
	cfg  Config
	deps Deps
}

// New creates a Controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Score == nil {
		return nil, errors.New("repair: score function is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("repair: generator is required")
	}
	if deps.Workspace == nil {
		return nil, errors.New("repair: workspace is required")
	}
	cfg.applyDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "repair")
	return &Controller{cfg: cfg, deps: deps}, nil
}

// run holds the state of one Run call.
type run struct {
	c        *Controller
	id       string
	artifact string
	state    State
	logger   *slog.Logger
	result   *Result
	errors   []string
}

// Run repairs the artifact until it reaches the target, the iteration
// budget is spent, or the score stops improving. The returned Result is
// non-nil whenever the initial score was computed, including when a backup
// failure aborts the run.
func (c *Controller) Run(ctx context.Context, artifactID string) (*Result, error) {
	r := &run{
		c:        c,
		id:       "run-" + uuid.New().String()[:8],
		artifact: artifactID,
		state:    StateScoring,
	}
	r.logger = c.deps.Logger.With("run", r.id, "artifact", artifactID)
	r.result = &Result{RunID: r.id, ArtifactID: artifactID}

	initial, err := c.deps.Score(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial score: %w", err)
	}
	r.result.Initial = initial
	r.result.Final = initial

	if initial.MeetsTarget(c.cfg.Target) {
		r.result.Skipped = true
		r.result.SkipReason = fmt.Sprintf("compliance %.2f >= target %.2f", initial.Overall, c.cfg.Target)
		c.deps.Metrics.Skipped()
		r.logger.Info("repair skipped", "reason", r.result.SkipReason)
		r.transition(StateDone, 0)
		return r.result, nil
	}

	current := initial
	best := initial.Overall
	stagnant := 0
	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			r.finish(current)
			return r.result, err
		}

		next, attempt, err := r.iterate(ctx, iteration, current)
		if attempt != nil {
			r.result.Attempts = append(r.result.Attempts, *attempt)
			c.deps.Metrics.ObserveAttempt(*attempt)
		}
		if err != nil {
			r.finish(current)
			return r.result, err
		}
		current = next
		r.result.Reports = append(r.result.Reports, current)

		if current.Overall > best {
			best = current.Overall
			stagnant = 0
		} else {
			stagnant++
		}

		switch {
		case current.MeetsTarget(c.cfg.Target):
			r.result.StopReason = StopTargetReached
		case iteration >= c.cfg.MaxIterations:
			r.result.StopReason = StopMaxIterations
		case stagnant >= c.cfg.StagnationLimit:
			r.result.StopReason = StopStagnation
		default:
			continue
		}
		r.finish(current)
		r.logger.Info("repair finished",
			"reason", r.result.StopReason,
			"iterations", iteration,
			"initial", initial.Overall,
			"final", current.Overall,
		)
		return r.result, nil
	}
}

func (r *run) finish(final *models.ComplianceReport) {
	r.result.Final = final
	r.c.deps.Metrics.ObserveFinal(final.Overall)
	r.transition(StateDone, len(r.result.Attempts))
}

func (r *run) transition(to State, iteration int) {
	from := r.state
	r.state = to
	r.logger.Debug("state", "from", from, "to", to, "iteration", iteration)
	if r.c.cfg.OnTransition != nil {
		r.c.cfg.OnTransition(Transition{From: from, To: to, Iteration: iteration})
	}
}

// iterate runs one iteration and returns the report the artifact is left
// in. The error is non-nil only for a failed backup or restore.
func (r *run) iterate(ctx context.Context, iteration int, current *models.ComplianceReport) (*models.ComplianceReport, *models.RepairAttempt, error) {
	deps := r.c.deps
	logger := r.logger.With("iteration", iteration)
	attempt := &models.RepairAttempt{
		Iteration:        iteration,
		ComplianceBefore: current.Overall,
		ComplianceAfter:  current.Overall,
		StartedAt:        time.Now().UTC(),
	}

	r.transition(StateAnalyzing, iteration)
	fc := models.FailureContext{
		RunID:          r.id,
		ArtifactID:     r.artifact,
		Iteration:      iteration,
		Score:          current.Overall,
		Target:         r.c.cfg.Target,
		Failures:       AnalyzeFailures(current),
		PreviousErrors: append([]string(nil), r.errors...),
	}
	attempt.FailureClasses = fc.Classes()
	if r.c.cfg.SendFiles {
		files, err := deps.Workspace.Contents(ctx)
		if err != nil {
			logger.Warn("read artifact files", "error", err)
		}
		fc.Files = files
	}

	r.transition(StateRetrieving, iteration)
	var patterns []*models.Pattern
	if deps.Patterns != nil {
		found, err := deps.Patterns.SearchSimilar(ctx, fc)
		if err != nil {
			logger.Warn("pattern search failed", "item", fc.Classes(), "error", err)
		} else {
			patterns = found
		}
	}

	r.transition(StatePatching, iteration)
	genCtx, cancel := context.WithTimeout(ctx, r.c.cfg.GenerateTimeout)
	patch, err := deps.Generator.Generate(genCtx, fc, patterns)
	cancel()
	if err == nil && patch == "" {
		err = errors.New("empty patch")
	}
	if err != nil {
		r.fail(logger, attempt, fmt.Errorf("%w: %w", ErrPatchGeneration, err))
		return current, r.finishAttempt(attempt), nil
	}
	attempt.Patch = patch

	r.transition(StateBackingUp, iteration)
	snap, err := deps.Workspace.Backup(ctx)
	if err != nil {
		logger.Error("backup failed, aborting run", "error", err)
		return current, nil, fmt.Errorf("%w: %w", ErrBackupFailed, err)
	}

	r.transition(StateApplying, iteration)
	if _, err := deps.Workspace.Apply(ctx, patch); err != nil {
		if rerr := r.rollback(ctx, snap, iteration); rerr != nil {
			return current, r.finishAttempt(attempt), rerr
		}
		r.fail(logger, attempt, fmt.Errorf("%w: apply: %w", ErrPatchGeneration, err))
		return current, r.finishAttempt(attempt), nil
	}

	r.transition(StateRescoring, iteration)
	after, err := deps.Score(ctx)
	if err != nil {
		if rerr := r.rollback(ctx, snap, iteration); rerr != nil {
			return current, r.finishAttempt(attempt), rerr
		}
		r.fail(logger, attempt, fmt.Errorf("%w: rescore: %w", ErrPatchGeneration, err))
		return current, r.finishAttempt(attempt), nil
	}
	attempt.ComplianceAfter = after.Overall

	meta := models.PatternMetadata{
		FailureClasses: fc.Classes(),
		Before:         current.Overall,
		After:          after.Overall,
		Delta:          after.Overall - current.Overall,
		Iteration:      iteration,
		RunID:          r.id,
		Artifact:       r.artifact,
		Failures:       fc.Texts(),
	}

	if after.Overall < current.Overall {
		attempt.Outcome = models.OutcomeRegressed
		attempt.Error = ErrRegression.Error()
		if rerr := r.rollback(ctx, snap, iteration); rerr != nil {
			attempt.Error = fmt.Sprintf("%v: %v", ErrRegression, rerr)
			return current, r.finishAttempt(attempt), rerr
		}
		deps.Metrics.Rollback()
		attempt.PatternID = r.record(ctx, logger, models.PatternFailure, patch, meta)
		r.errors = append(r.errors, fmt.Sprintf("iteration %d: patch lowered compliance from %.2f to %.2f and was rolled back",
			iteration, current.Overall, after.Overall))
		logger.Warn("patch regressed, rolled back", "before", current.Overall, "after", after.Overall)
		return current, r.finishAttempt(attempt), nil
	}

	r.transition(StateAccepted, iteration)
	if err := deps.Workspace.Discard(snap); err != nil {
		logger.Warn("discard backup", "snapshot", snap.ID, "error", err)
	}
	attempt.Outcome = models.OutcomeNoChange
	if after.Overall > current.Overall {
		attempt.Outcome = models.OutcomeImproved
	}
	attempt.PatternID = r.record(ctx, logger, models.PatternSuccess, patch, meta)
	logger.Info("patch accepted", "outcome", attempt.Outcome, "before", current.Overall, "after", after.Overall)
	return after, r.finishAttempt(attempt), nil
}

func (r *run) finishAttempt(a *models.RepairAttempt) *models.RepairAttempt {
	a.Duration = time.Since(a.StartedAt)
	return a
}

// fail records a generation failure. It counts toward the budget, is not a
// regression, and writes no pattern.
func (r *run) fail(logger *slog.Logger, a *models.RepairAttempt, err error) {
	a.Outcome = models.OutcomeGenerationFailed
	a.Error = err.Error()
	r.errors = append(r.errors, fmt.Sprintf("iteration %d: %v", a.Iteration, err))
	logger.Warn("iteration failed", "item", a.FailureClasses, "error", err)
}

func (r *run) rollback(ctx context.Context, snap *artifact.Snapshot, iteration int) error {
	r.transition(StateRolledBack, iteration)
	if err := r.c.deps.Workspace.Restore(ctx, snap); err != nil {
		r.logger.Error("restore failed", "iteration", iteration, "snapshot", snap.ID, "error", err)
		return fmt.Errorf("restore snapshot %s: %w", snap.ID, err)
	}
	if err := r.c.deps.Workspace.Discard(snap); err != nil {
		r.logger.Warn("discard backup", "iteration", iteration, "snapshot", snap.ID, "error", err)
	}
	return nil
}

func (r *run) record(ctx context.Context, logger *slog.Logger, kind models.PatternKind, patch string, meta models.PatternMetadata) string {
	store := r.c.deps.Patterns
	if store == nil {
		return ""
	}
	var id string
	var err error
	if kind == models.PatternFailure {
		id, err = store.StoreFailure(ctx, patch, meta)
	} else {
		id, err = store.StoreSuccess(ctx, patch, meta)
	}
	if err != nil {
		logger.Warn("record pattern", "item", meta.FailureClasses, "error", err)
		return ""
	}
	return id
}
