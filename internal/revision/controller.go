// Package revision manages revision candidates and the pending-revision
// lifecycle: pending is created when the gate blocks, and only an explicit
// apply or reject resolves it.
package revision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vampirenirmal/novelforge/internal/artifact"
	"github.com/vampirenirmal/novelforge/internal/assembler"
	"github.com/vampirenirmal/novelforge/internal/config"
	"github.com/vampirenirmal/novelforge/internal/core"
	"github.com/vampirenirmal/novelforge/internal/domain/novel"
)

// Controller generates, applies and rejects chapter revisions.
type Controller struct {
	store     *artifact.Store
	assembler *assembler.Assembler
	generator core.Generator
	policy    config.RevisionPolicy
	logger    *slog.Logger
}

func NewController(store *artifact.Store, asm *assembler.Assembler, gen core.Generator, cfg *config.Config) *Controller {
	return &Controller{
		store:     store,
		assembler: asm,
		generator: gen,
		policy:    cfg.Workflow.RevisionPolicy,
		logger:    slog.Default().With("component", "revision"),
	}
}

func (c *Controller) Policy() config.RevisionPolicy {
	return c.policy
}

// FixNotes derives revision instructions from a report. Only issues carrying
// fix instructions participate; everything else is review commentary.
func FixNotes(report *novel.ConsistencyReport) []string {
	fixable := report.FixableIssues()
	notes := make([]string, 0, len(fixable))
	for _, issue := range fixable {
		notes = append(notes, fmt.Sprintf("[%s/%s] %s: %s",
			issue.IssueType, issue.Severity, issue.Description, issue.FixInstructions))
	}
	return notes
}

// GenerateCandidate produces a revised chapter from the canonical text and
// the report's fixable issues. The candidate is validated against the
// canonical chapter's shape but not persisted as canon.
func (c *Controller) GenerateCandidate(ctx context.Context, chapter int, report *novel.ConsistencyReport) (*novel.GeneratedChapter, error) {
	notes := FixNotes(report)
	if len(notes) == 0 {
		return nil, fmt.Errorf("chapter %d report has no fixable issues: %w", chapter, core.ErrInvalidInput)
	}

	plan, err := c.store.ReadPlan(ctx, chapter)
	if err != nil {
		return nil, err
	}
	current, err := c.store.ReadChapter(ctx, chapter)
	if err != nil {
		return nil, err
	}

	pack, err := c.assembler.Build(ctx, assembler.Request{
		Stage:   novel.StageRevision,
		Chapter: chapter,
		Plan:    plan,
	})
	if err != nil {
		return nil, err
	}

	raw, err := c.generator.Generate(ctx, novel.StageRevision, core.GeneratorInput{
		Project:      c.store.Project(),
		Chapter:      chapter,
		Pack:         pack,
		Artifacts:    map[string]json.RawMessage{"chapter": mustRaw(current), "plan": mustRaw(plan)},
		RevisionNote: strings.Join(notes, "\n"),
	})
	if err != nil {
		return nil, &core.GenerationError{Stage: novel.StageRevision, Attempt: 1, Cause: err}
	}

	var candidate novel.GeneratedChapter
	if err := json.Unmarshal([]byte(raw), &candidate); err != nil {
		return nil, &core.SchemaError{
			Kind:   string(novel.StageRevision),
			Reason: "revision output is not valid JSON",
			Cause:  err,
		}
	}
	candidate.Meta = novel.NewMeta("novelforge")
	candidate.ChapterNumber = chapter

	if err := validateCandidate(&candidate, current, report); err != nil {
		return nil, err
	}
	return &candidate, nil
}

// validateCandidate enforces the candidate invariants: same chapter number,
// same scene count, and the title untouched unless an issue targets it.
func validateCandidate(candidate, current *novel.GeneratedChapter, report *novel.ConsistencyReport) error {
	if len(candidate.Scenes) != len(current.Scenes) {
		return &core.SchemaError{
			Kind:   string(novel.StageRevision),
			Field:  "scenes",
			Reason: fmt.Sprintf("revision changed scene count from %d to %d", len(current.Scenes), len(candidate.Scenes)),
		}
	}
	if candidate.ChapterTitle != current.ChapterTitle && !titleTargeted(report) {
		return &core.SchemaError{
			Kind:   string(novel.StageRevision),
			Field:  "chapter_title",
			Reason: fmt.Sprintf("revision changed the title (%q -> %q) without a title issue", current.ChapterTitle, candidate.ChapterTitle),
		}
	}
	return nil
}

func titleTargeted(report *novel.ConsistencyReport) bool {
	for _, issue := range report.Issues {
		if issue.IssueType == "title" {
			return true
		}
	}
	return false
}

// Pend records a pending revision for a chapter. The candidate may be nil
// (policy none, or generation deferred); needsHuman marks a chapter whose
// revision rounds are exhausted.
func (c *Controller) Pend(ctx context.Context, chapter int, issues []novel.Issue, candidate *novel.GeneratedChapter, needsHuman bool) error {
	if candidate != nil && candidate.Meta.SchemaVersion == "" {
		candidate.Meta = novel.NewMeta("novelforge")
	}
	rs := &novel.RevisionStatus{
		Meta:             novel.NewMeta("novelforge"),
		ChapterNumber:    chapter,
		Status:           novel.RevisionPending,
		Candidate:        candidate,
		Issues:           issues,
		NeedsHumanReview: needsHuman,
		CreatedAt:        time.Now().UTC(),
	}
	if err := c.store.WriteRevisionStatus(ctx, rs); err != nil {
		return err
	}
	c.logger.Info("revision pending",
		"chapter", chapter,
		"has_candidate", candidate != nil,
		"needs_human_review", needsHuman)
	return nil
}

// Apply transitions a pending revision to accepted: the candidate becomes
// the canonical chapter, word counts are recomputed and the chapter's memory
// entry is rebuilt in the same operation.
func (c *Controller) Apply(ctx context.Context, chapter int) error {
	rs, err := c.store.ReadRevisionStatus(ctx, chapter)
	if err != nil {
		return err
	}
	if rs.Status != novel.RevisionPending {
		return fmt.Errorf("chapter %d revision is %s, not pending: %w", chapter, rs.Status, core.ErrInvalidInput)
	}
	if rs.Candidate == nil {
		return fmt.Errorf("chapter %d has no revision candidate; regenerate one first: %w", chapter, core.ErrInvalidInput)
	}

	plan, err := c.store.ReadPlan(ctx, chapter)
	if err != nil {
		return err
	}

	rs.Candidate.Meta = novel.NewMeta("novelforge")
	entry := artifact.BuildMemoryEntry(plan, rs.Candidate)
	if err := c.store.WriteChapter(ctx, rs.Candidate, entry); err != nil {
		return err
	}

	now := time.Now().UTC()
	rs.Status = novel.RevisionAccepted
	rs.ResolvedAt = &now
	if err := c.store.WriteRevisionStatus(ctx, rs); err != nil {
		return err
	}
	c.logger.Info("revision applied", "chapter", chapter)
	return nil
}

// Reject transitions a pending revision to rejected. The canonical chapter
// is left untouched.
func (c *Controller) Reject(ctx context.Context, chapter int) error {
	rs, err := c.store.ReadRevisionStatus(ctx, chapter)
	if err != nil {
		return err
	}
	if rs.Status != novel.RevisionPending {
		return fmt.Errorf("chapter %d revision is %s, not pending: %w", chapter, rs.Status, core.ErrInvalidInput)
	}

	now := time.Now().UTC()
	rs.Status = novel.RevisionRejected
	rs.ResolvedAt = &now
	if err := c.store.WriteRevisionStatus(ctx, rs); err != nil {
		return err
	}
	c.logger.Info("revision rejected", "chapter", chapter)
	return nil
}

func mustRaw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
