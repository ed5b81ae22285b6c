// Package engine sequences the full generation pipeline: story bible, then
// the per-chapter plan/text/review/revision loop, then export. It owns run
// checkpoints and the clean-halt behavior when a chapter needs a human.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vampirenirmal/novelforge/internal/artifact"
	"github.com/vampirenirmal/novelforge/internal/config"
	"github.com/vampirenirmal/novelforge/internal/core"
	"github.com/vampirenirmal/novelforge/internal/domain/novel"
	"github.com/vampirenirmal/novelforge/internal/gate"
	"github.com/vampirenirmal/novelforge/internal/revision"
	"github.com/vampirenirmal/novelforge/internal/stage"
)

// Engine drives one project's workflow end to end.
type Engine struct {
	store       *artifact.Store
	executor    *stage.Executor
	gate        *gate.Gate
	revisions   *revision.Controller
	checkpoints *core.CheckpointManager
	cfg         *config.Config
	logger      *slog.Logger
}

func New(store *artifact.Store, exec *stage.Executor, g *gate.Gate, rc *revision.Controller, cm *core.CheckpointManager, cfg *config.Config) *Engine {
	return &Engine{
		store:       store,
		executor:    exec,
		gate:        g,
		revisions:   rc,
		checkpoints: cm,
		cfg:         cfg,
		logger:      slog.Default().With("component", "engine"),
	}
}

// RunRequest shapes one run. An empty Chapters slice means every chapter in
// the outline; an explicit set is never widened. StopAt halts the run after
// the named stage completes.
type RunRequest struct {
	Premise  string
	Chapters []int
	StopAt   novel.StageKind
	Force    bool
}

// RunResult reports how a run ended. A halt on a pending revision or on
// revision-round exhaustion is a clean outcome, not an error.
type RunResult struct {
	RunID             string
	CompletedChapters []int
	HaltedChapter     int
	NeedsHumanReview  bool
}

// Run executes the pipeline: world, theme/conflict, characters, outline,
// then plan/text/review per chapter in ascending order, then export.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	cp := &core.Checkpoint{
		RunID:    uuid.NewString(),
		Premise:  req.Premise,
		Chapters: req.Chapters,
		StopAt:   req.StopAt,
	}
	return e.run(ctx, req, cp)
}

// Resume continues a prior run from its checkpoint. Completed stages are
// skipped by the reuse contract; no artifact is regenerated.
func (e *Engine) Resume(ctx context.Context, runID string) (*RunResult, error) {
	cp, err := e.checkpoints.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	req := RunRequest{
		Premise:  cp.Premise,
		Chapters: cp.Chapters,
		StopAt:   cp.StopAt,
	}
	e.logger.Info("resuming run", "run_id", runID, "stage", cp.Stage, "chapter", cp.Chapter)
	return e.run(ctx, req, cp)
}

func (e *Engine) run(ctx context.Context, req RunRequest, cp *core.Checkpoint) (*RunResult, error) {
	ctx, cancel := boundedContext(ctx, e.cfg.Limits.TotalTimeout)
	defer cancel()

	result := &RunResult{RunID: cp.RunID}
	if err := e.checkpoints.Save(ctx, cp); err != nil {
		return nil, err
	}

	type bibleStep struct {
		kind novel.StageKind
		run  func(context.Context) error
	}
	bible := []bibleStep{
		{novel.StageWorld, func(ctx context.Context) error { return e.executor.RunWorld(ctx, req.Premise, req.Force) }},
		{novel.StageThemeConflict, func(ctx context.Context) error { return e.executor.RunThemeConflict(ctx, req.Force) }},
		{novel.StageCharacters, func(ctx context.Context) error { return e.executor.RunCharacters(ctx, req.Force) }},
		{novel.StageOutline, func(ctx context.Context) error { return e.executor.RunOutline(ctx, req.Force) }},
	}

	for _, step := range bible {
		if err := e.runStage(ctx, e.cfg.Limits.StageTimeouts.Bible, step.run); err != nil {
			return nil, err
		}
		if err := e.checkpoints.Advance(ctx, cp, step.kind, 0); err != nil {
			return nil, err
		}
		if req.StopAt == step.kind {
			return result, nil
		}
	}

	chapters, err := e.selectChapters(ctx, req)
	if err != nil {
		return nil, err
	}

	for _, n := range chapters {
		// Resume: skip chapters already fully behind the checkpoint.
		if cp.Stage == novel.StageChapterText && n < cp.Chapter {
			result.CompletedChapters = append(result.CompletedChapters, n)
			continue
		}

		if err := e.runStage(ctx, e.cfg.Limits.StageTimeouts.Planning, func(ctx context.Context) error {
			return e.executor.RunPlan(ctx, n, req.Force)
		}); err != nil {
			return nil, err
		}
		if err := e.checkpoints.Advance(ctx, cp, novel.StageChapterPlan, n); err != nil {
			return nil, err
		}
		if req.StopAt == novel.StageChapterPlan {
			continue
		}

		if err := e.runStage(ctx, e.cfg.Limits.StageTimeouts.Writing, func(ctx context.Context) error {
			return e.executor.RunText(ctx, n, req.Force)
		}); err != nil {
			return nil, err
		}
		if err := e.checkpoints.Advance(ctx, cp, novel.StageChapterText, n); err != nil {
			return nil, err
		}

		halted, err := e.reviewChapter(ctx, n, req.Force, result)
		if err != nil {
			return nil, err
		}
		if halted {
			result.HaltedChapter = n
			return result, nil
		}
		result.CompletedChapters = append(result.CompletedChapters, n)
	}

	if req.StopAt == novel.StageChapterPlan || req.StopAt == novel.StageChapterText {
		return result, nil
	}

	if err := e.executor.RunExport(ctx); err != nil {
		return nil, err
	}
	if err := e.checkpoints.Advance(ctx, cp, novel.StageExport, 0); err != nil {
		return nil, err
	}
	return result, nil
}

// selectChapters resolves the chapter set for a run: the explicit request
// set, or every outline chapter. The set is sorted and never widened.
func (e *Engine) selectChapters(ctx context.Context, req RunRequest) ([]int, error) {
	if len(req.Chapters) > 0 {
		chapters := append([]int(nil), req.Chapters...)
		sort.Ints(chapters)
		return chapters, nil
	}

	outline, err := e.store.ReadOutline(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving chapter set: %w", err)
	}
	chapters := make([]int, 0, outline.ChapterCount())
	for _, ch := range outline.Chapters {
		chapters = append(chapters, ch.Number)
	}
	return chapters, nil
}

// reviewChapter runs the consistency gate and handles a blocking verdict
// under the configured revision policy. It reports halted=true when the run
// must stop at this chapter.
func (e *Engine) reviewChapter(ctx context.Context, chapter int, force bool, result *RunResult) (bool, error) {
	// A chapter already awaiting resolution halts again without another
	// review or a fresh candidate; apply-revision or reject-revision
	// decides its fate.
	if e.cfg.Workflow.GatePolicy == config.GateBlocking {
		if rs, err := e.store.ReadRevisionStatus(ctx, chapter); err == nil && rs.Status == novel.RevisionPending {
			result.NeedsHumanReview = rs.NeedsHumanReview
			return true, nil
		}
	}

	verdict, err := e.evaluate(ctx, chapter, force)
	if err != nil {
		return false, err
	}
	if verdict.Report == nil || !verdict.Blocking {
		return false, nil
	}

	switch e.revisions.Policy() {
	case config.RevisionNone:
		// Legacy behavior: report recorded, nothing blocks.
		e.logger.Warn("blocking review recorded without revision",
			"chapter", chapter, "score", verdict.Report.OverallScore)
		return false, nil

	case config.RevisionManualConfirm:
		candidate, err := e.generateCandidateIfPossible(ctx, chapter, verdict.Report)
		if err != nil {
			return false, err
		}
		if err := e.revisions.Pend(ctx, chapter, verdict.Report.Issues, candidate, candidate == nil); err != nil {
			return false, err
		}
		result.NeedsHumanReview = candidate == nil
		return true, nil

	case config.RevisionAutoApply:
		halted, err := e.autoApply(ctx, chapter, verdict.Report)
		if halted {
			result.NeedsHumanReview = true
		}
		return halted, err
	}
	return false, nil
}

// generateCandidateIfPossible returns nil without error when the report has
// no fixable issues; the pending record then needs a human.
func (e *Engine) generateCandidateIfPossible(ctx context.Context, chapter int, report *novel.ConsistencyReport) (*novel.GeneratedChapter, error) {
	if len(report.FixableIssues()) == 0 {
		return nil, nil
	}
	return e.generateCandidate(ctx, chapter, report)
}

func (e *Engine) evaluate(ctx context.Context, chapter int, force bool) (gate.Result, error) {
	ctx, cancel := boundedContext(ctx, e.cfg.Limits.StageTimeouts.Review)
	defer cancel()
	return e.gate.Evaluate(ctx, chapter, force)
}

func (e *Engine) generateCandidate(ctx context.Context, chapter int, report *novel.ConsistencyReport) (*novel.GeneratedChapter, error) {
	ctx, cancel := boundedContext(ctx, e.cfg.Limits.StageTimeouts.Revision)
	defer cancel()
	return e.revisions.GenerateCandidate(ctx, chapter, report)
}

func (e *Engine) runStage(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := boundedContext(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

// boundedContext applies a deadline when one is configured; zero means
// unbounded.
func boundedContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d == 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// autoApply runs bounded revise-apply-review rounds. Exhausting the rounds
// leaves the chapter pending with needs_human_review set and halts cleanly.
func (e *Engine) autoApply(ctx context.Context, chapter int, report *novel.ConsistencyReport) (bool, error) {
	for round := 1; round <= e.cfg.Workflow.MaxRevisionRounds; round++ {
		if len(report.FixableIssues()) == 0 {
			break
		}

		candidate, err := e.generateCandidate(ctx, chapter, report)
		if err != nil {
			return false, err
		}
		if err := e.revisions.Pend(ctx, chapter, report.Issues, candidate, false); err != nil {
			return false, err
		}
		if err := e.revisions.Apply(ctx, chapter); err != nil {
			return false, err
		}
		e.logger.Info("revision auto-applied", "chapter", chapter, "round", round)

		verdict, err := e.evaluate(ctx, chapter, false)
		if err != nil {
			return false, err
		}
		if !verdict.Blocking {
			return false, nil
		}
		report = verdict.Report
	}

	if err := e.revisions.Pend(ctx, chapter, report.Issues, nil, true); err != nil {
		return false, err
	}
	e.logger.Warn("revision rounds exhausted, chapter needs human review", "chapter", chapter)
	return true, nil
}
