package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/vampirenirmal/novelforge/internal/artifact"
	"github.com/vampirenirmal/novelforge/internal/assembler"
	"github.com/vampirenirmal/novelforge/internal/core"
	"github.com/vampirenirmal/novelforge/internal/domain/novel"
)

// RunWorld generates the world-setting artifact.
func (e *Executor) RunWorld(ctx context.Context, premise string, force bool) error {
	if !force {
		if _, ok := e.store.ReusableWorld(ctx); ok {
			e.logger.Info("reusing existing artifact", "stage", novel.StageWorld)
			return nil
		}
	}

	pack, err := e.assembler.Build(ctx, assembler.Request{Stage: novel.StageWorld})
	if err != nil {
		return err
	}

	var world novel.WorldSetting
	input := core.GeneratorInput{
		Project:     e.store.Project(),
		Instruction: premise,
		Pack:        pack,
	}
	if err := e.generate(ctx, novel.StageWorld, input, &world); err != nil {
		return err
	}
	world.Meta = novel.NewMeta("novelforge")
	return e.store.WriteWorld(ctx, &world)
}

// RunThemeConflict generates the theme and central-conflict artifact.
func (e *Executor) RunThemeConflict(ctx context.Context, force bool) error {
	if err := e.checkPrerequisites(ctx, novel.StageThemeConflict); err != nil {
		return err
	}
	if !force {
		if _, ok := e.store.ReusableThemeConflict(ctx); ok {
			e.logger.Info("reusing existing artifact", "stage", novel.StageThemeConflict)
			return nil
		}
	}

	pack, err := e.assembler.Build(ctx, assembler.Request{Stage: novel.StageThemeConflict})
	if err != nil {
		return err
	}

	var tc novel.ThemeConflict
	input := core.GeneratorInput{
		Project:   e.store.Project(),
		Pack:      pack,
		Artifacts: e.bibleArtifacts(ctx),
	}
	if err := e.generate(ctx, novel.StageThemeConflict, input, &tc); err != nil {
		return err
	}
	tc.Meta = novel.NewMeta("novelforge")
	return e.store.WriteThemeConflict(ctx, &tc)
}

// RunCharacters generates the character roster artifact.
func (e *Executor) RunCharacters(ctx context.Context, force bool) error {
	if err := e.checkPrerequisites(ctx, novel.StageCharacters); err != nil {
		return err
	}
	if !force {
		if _, ok := e.store.ReusableCharacters(ctx); ok {
			e.logger.Info("reusing existing artifact", "stage", novel.StageCharacters)
			return nil
		}
	}

	pack, err := e.assembler.Build(ctx, assembler.Request{Stage: novel.StageCharacters})
	if err != nil {
		return err
	}

	var cc novel.CharactersConfig
	input := core.GeneratorInput{
		Project:   e.store.Project(),
		Pack:      pack,
		Artifacts: e.bibleArtifacts(ctx),
	}
	if err := e.generate(ctx, novel.StageCharacters, input, &cc); err != nil {
		return err
	}
	cc.Meta = novel.NewMeta("novelforge")
	return e.store.WriteCharacters(ctx, &cc)
}

// RunOutline generates the chapter-level outline. Outline numbering must be
// 1..N contiguous.
func (e *Executor) RunOutline(ctx context.Context, force bool) error {
	if err := e.checkPrerequisites(ctx, novel.StageOutline); err != nil {
		return err
	}
	if !force {
		if _, ok := e.store.ReusableOutline(ctx); ok {
			e.logger.Info("reusing existing artifact", "stage", novel.StageOutline)
			return nil
		}
	}

	pack, err := e.assembler.Build(ctx, assembler.Request{Stage: novel.StageOutline})
	if err != nil {
		return err
	}

	var outline novel.Outline
	input := core.GeneratorInput{
		Project:   e.store.Project(),
		Pack:      pack,
		Artifacts: e.bibleArtifacts(ctx),
	}
	if err := e.generate(ctx, novel.StageOutline, input, &outline); err != nil {
		return err
	}
	if err := validateOutlineNumbering(&outline); err != nil {
		return err
	}
	outline.Meta = novel.NewMeta("novelforge")
	return e.store.WriteOutline(ctx, &outline)
}

// RunPlan generates the scene plan for one chapter. Runs behind the
// pending-revision gate.
func (e *Executor) RunPlan(ctx context.Context, chapter int, force bool) error {
	if err := e.checkPrerequisites(ctx, novel.StageChapterPlan); err != nil {
		return err
	}
	if err := e.guardPendingRevision(ctx, chapter); err != nil {
		return err
	}
	if !force {
		if _, ok := e.store.ReusablePlan(ctx, chapter); ok {
			e.logger.Info("reusing existing artifact", "stage", novel.StageChapterPlan, "chapter", chapter)
			return nil
		}
	}

	outline, err := e.store.ReadOutline(ctx)
	if err != nil {
		return err
	}
	if _, ok := outline.Chapter(chapter); !ok {
		return fmt.Errorf("chapter %d not in outline (%d chapters): %w",
			chapter, outline.ChapterCount(), core.ErrInvalidInput)
	}

	pack, err := e.assembler.Build(ctx, assembler.Request{
		Stage:   novel.StageChapterPlan,
		Chapter: chapter,
	})
	if err != nil {
		return err
	}

	var plan novel.ChapterPlan
	input := core.GeneratorInput{
		Project:   e.store.Project(),
		Chapter:   chapter,
		Pack:      pack,
		Artifacts: e.bibleArtifacts(ctx),
	}
	if err := e.generate(ctx, novel.StageChapterPlan, input, &plan); err != nil {
		return err
	}
	plan.ChapterNumber = chapter
	if err := e.validatePlanDependencies(ctx, &plan); err != nil {
		return err
	}
	plan.Meta = novel.NewMeta("novelforge")
	return e.store.WritePlan(ctx, &plan)
}

// RunText generates the canonical chapter text for one chapter and updates
// the memory ledger in the same operation. Runs behind the pending-revision
// gate and the sequential safeguard.
func (e *Executor) RunText(ctx context.Context, chapter int, force bool) error {
	if err := e.guardPendingRevision(ctx, chapter); err != nil {
		return err
	}
	if err := e.guardSequential(ctx, chapter); err != nil {
		return err
	}
	if !force {
		if _, ok := e.store.ReusableChapter(ctx, chapter); ok {
			e.logger.Info("reusing existing artifact", "stage", novel.StageChapterText, "chapter", chapter)
			return nil
		}
	}

	plan, err := e.store.ReadPlan(ctx, chapter)
	if err != nil {
		if core.IsNotFound(err) {
			return &core.MissingPrerequisiteError{
				Stage:   novel.StageChapterText,
				Missing: []novel.StageKind{novel.StageChapterPlan},
			}
		}
		return err
	}

	pack, err := e.assembler.Build(ctx, assembler.Request{
		Stage:   novel.StageChapterText,
		Chapter: chapter,
		Plan:    plan,
	})
	if err != nil {
		return err
	}

	var ch novel.GeneratedChapter
	input := core.GeneratorInput{
		Project:   e.store.Project(),
		Chapter:   chapter,
		Pack:      pack,
		Artifacts: e.bibleArtifacts(ctx),
	}
	if err := e.generate(ctx, novel.StageChapterText, input, &ch); err != nil {
		return err
	}
	ch.ChapterNumber = chapter
	if err := validateChapterAgainstPlan(&ch, plan); err != nil {
		return err
	}
	ch.Meta = novel.NewMeta("novelforge")

	entry := artifact.BuildMemoryEntry(plan, &ch)
	return e.store.WriteChapter(ctx, &ch, entry)
}

// RunExport concatenates all canonical chapters, in order, into a markdown
// manuscript. Chapters are exported as-is; missing chapters are skipped with
// a warning.
func (e *Executor) RunExport(ctx context.Context) error {
	if err := e.checkPrerequisites(ctx, novel.StageExport); err != nil {
		return err
	}

	outline, err := e.store.ReadOutline(ctx)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", outline.Title)
	if outline.Logline != "" {
		fmt.Fprintf(&b, "\n*%s*\n", outline.Logline)
	}

	exported := 0
	for _, oc := range outline.Chapters {
		ch, ok := e.store.ReusableChapter(ctx, oc.Number)
		if !ok {
			e.logger.Warn("chapter missing from manuscript", "chapter", oc.Number)
			continue
		}
		fmt.Fprintf(&b, "\n## Chapter %d: %s\n", ch.ChapterNumber, ch.ChapterTitle)
		for _, scene := range ch.Scenes {
			b.WriteString("\n")
			b.WriteString(scene.Content)
			b.WriteString("\n")
		}
		exported++
	}

	if err := e.store.WriteManuscript(ctx, b.String()); err != nil {
		return err
	}
	e.logger.Info("manuscript exported", "chapters", exported, "path", e.store.ManuscriptPath())
	return nil
}

// validateOutlineNumbering enforces contiguous 1..N chapter numbering.
func validateOutlineNumbering(o *novel.Outline) error {
	for i, ch := range o.Chapters {
		if ch.Number != i+1 {
			return &core.SchemaError{
				Kind:   string(novel.StageOutline),
				Field:  fmt.Sprintf("chapters[%d].number", i),
				Reason: fmt.Sprintf("expected contiguous numbering, got %d at position %d", ch.Number, i+1),
			}
		}
	}
	return nil
}

// validatePlanDependencies enforces that dependencies name earlier chapters
// and, where a dependency's plan exists, that it sits strictly earlier on the
// global timeline.
func (e *Executor) validatePlanDependencies(ctx context.Context, plan *novel.ChapterPlan) error {
	for _, dep := range plan.Dependencies {
		if dep < 1 || dep >= plan.ChapterNumber {
			return &core.SchemaError{
				Kind:   string(novel.StageChapterPlan),
				Field:  "dependencies",
				Reason: fmt.Sprintf("chapter %d cannot depend on chapter %d", plan.ChapterNumber, dep),
			}
		}
		depPlan, err := e.store.ReadPlan(ctx, dep)
		if err != nil {
			if core.IsNotFound(err) {
				continue
			}
			return err
		}
		if depPlan.TimelineAnchor >= plan.TimelineAnchor {
			return &core.SchemaError{
				Kind:  string(novel.StageChapterPlan),
				Field: "timeline_anchor",
				Reason: fmt.Sprintf("dependency chapter %d anchor %d must precede chapter %d anchor %d",
					dep, depPlan.TimelineAnchor, plan.ChapterNumber, plan.TimelineAnchor),
			}
		}
	}
	return nil
}

// validateChapterAgainstPlan checks the generated text matches the plan's
// shape.
func validateChapterAgainstPlan(ch *novel.GeneratedChapter, plan *novel.ChapterPlan) error {
	if len(ch.Scenes) != len(plan.Scenes) {
		return &core.SchemaError{
			Kind:   string(novel.StageChapterText),
			Field:  "scenes",
			Reason: fmt.Sprintf("plan has %d scenes, generation produced %d", len(plan.Scenes), len(ch.Scenes)),
		}
	}
	return nil
}
