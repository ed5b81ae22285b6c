// Package gate runs the post-chapter consistency review and decides whether
// a chapter's revision status becomes pending.
package gate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vampirenirmal/novelforge/internal/artifact"
	"github.com/vampirenirmal/novelforge/internal/assembler"
	"github.com/vampirenirmal/novelforge/internal/config"
	"github.com/vampirenirmal/novelforge/internal/core"
	"github.com/vampirenirmal/novelforge/internal/domain/novel"
)

// Gate evaluates chapters against the configured consistency policy.
type Gate struct {
	store     *artifact.Store
	assembler *assembler.Assembler
	reviewer  core.Reviewer
	policy    config.GatePolicy
	minScore  int
	logger    *slog.Logger
}

func New(store *artifact.Store, asm *assembler.Assembler, reviewer core.Reviewer, cfg *config.Config) *Gate {
	return &Gate{
		store:     store,
		assembler: asm,
		reviewer:  reviewer,
		policy:    cfg.Workflow.GatePolicy,
		minScore:  cfg.Workflow.MinConsistencyScore,
		logger:    slog.Default().With("component", "gate"),
	}
}

// Result is the gate's verdict for one chapter. Report is nil when the gate
// policy is off.
type Result struct {
	Report   *novel.ConsistencyReport
	Blocking bool
}

// Evaluate reviews one chapter. With policy off it returns immediately
// without calling the reviewer. A reviewer failure is surfaced as
// ReviewerUnavailableError; it never counts as a pass.
//
// Reviews follow the same reuse contract as generated artifacts: a persisted
// report produced for the current canonical text stands, and the reviewer is
// only called again after the chapter is rewritten or when force is set.
func (g *Gate) Evaluate(ctx context.Context, chapter int, force bool) (Result, error) {
	if g.policy == config.GateOff {
		return Result{}, nil
	}

	ch, err := g.store.ReadChapter(ctx, chapter)
	if err != nil {
		return Result{}, fmt.Errorf("loading chapter for review: %w", err)
	}

	if !force {
		if report, ok := g.store.ReusableReport(ctx, chapter); ok && !report.Meta.GeneratedAt.Before(ch.Meta.GeneratedAt) {
			blocking := g.isBlocking(report)
			g.logger.Info("reusing existing review",
				"chapter", chapter,
				"score", report.OverallScore,
				"blocking", blocking)
			return Result{Report: report, Blocking: blocking}, nil
		}
	}

	plan, err := g.store.ReadPlan(ctx, chapter)
	if err != nil {
		return Result{}, fmt.Errorf("loading plan for review: %w", err)
	}

	pack, err := g.assembler.Build(ctx, assembler.Request{
		Stage:   novel.StageRevision,
		Chapter: chapter,
		Plan:    plan,
	})
	if err != nil {
		return Result{}, err
	}

	report, err := g.reviewer.Review(ctx, core.ReviewInput{
		Project: g.store.Project(),
		Plan:    *plan,
		Chapter: *ch,
		Pack:    pack,
	})
	if err != nil {
		return Result{}, &core.ReviewerUnavailableError{Chapter: chapter, Cause: err}
	}

	report.ChapterNumber = chapter
	report.Meta = novel.NewMeta("novelforge")
	if err := g.store.WriteReport(ctx, report); err != nil {
		return Result{}, err
	}

	blocking := g.isBlocking(report)
	g.logger.Info("chapter reviewed",
		"chapter", chapter,
		"score", report.OverallScore,
		"issues", len(report.Issues),
		"blocking", blocking)
	return Result{Report: report, Blocking: blocking}, nil
}

// isBlocking applies the blocking condition: score below the configured
// minimum, or any high-severity issue.
func (g *Gate) isBlocking(report *novel.ConsistencyReport) bool {
	if report.OverallScore < g.minScore {
		return true
	}
	return report.HasHighSeverity()
}
