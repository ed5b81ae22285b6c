// Package stage runs the individual pipeline stages. The executor owns the
// guards every chapter-scoped stage must pass: prerequisite checks, the
// pending-revision gate, and the sequential safeguard for chapter text.
package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vampirenirmal/novelforge/internal/artifact"
	"github.com/vampirenirmal/novelforge/internal/assembler"
	"github.com/vampirenirmal/novelforge/internal/config"
	"github.com/vampirenirmal/novelforge/internal/core"
	"github.com/vampirenirmal/novelforge/internal/domain/novel"
)

// Executor runs pipeline stages against one project.
type Executor struct {
	store     *artifact.Store
	assembler *assembler.Assembler
	generator core.Generator
	cfg       *config.Config
	logger    *slog.Logger
}

func NewExecutor(store *artifact.Store, asm *assembler.Assembler, gen core.Generator, cfg *config.Config) *Executor {
	return &Executor{
		store:     store,
		assembler: asm,
		generator: gen,
		cfg:       cfg,
		logger:    slog.Default().With("component", "stage"),
	}
}

// prerequisites maps each stage to the stages whose artifacts must exist
// before it may run.
var prerequisites = map[novel.StageKind][]novel.StageKind{
	novel.StageWorld:         {},
	novel.StageThemeConflict: {novel.StageWorld},
	novel.StageCharacters:    {novel.StageWorld, novel.StageThemeConflict},
	novel.StageOutline:       {novel.StageWorld, novel.StageThemeConflict, novel.StageCharacters},
	novel.StageChapterPlan:   {novel.StageOutline},
	novel.StageChapterText:   {novel.StageOutline},
	novel.StageExport:        {novel.StageOutline},
}

// checkPrerequisites verifies every upstream artifact exists and parses. A
// corrupt prerequisite counts as missing; it is never substituted.
func (e *Executor) checkPrerequisites(ctx context.Context, stage novel.StageKind) error {
	var missing []novel.StageKind
	for _, dep := range prerequisites[stage] {
		if !e.stageComplete(ctx, dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return &core.MissingPrerequisiteError{Stage: stage, Missing: missing}
	}
	return nil
}

func (e *Executor) stageComplete(ctx context.Context, stage novel.StageKind) bool {
	switch stage {
	case novel.StageWorld:
		_, ok := e.store.ReusableWorld(ctx)
		return ok
	case novel.StageThemeConflict:
		_, ok := e.store.ReusableThemeConflict(ctx)
		return ok
	case novel.StageCharacters:
		_, ok := e.store.ReusableCharacters(ctx)
		return ok
	case novel.StageOutline:
		_, ok := e.store.ReusableOutline(ctx)
		return ok
	default:
		return false
	}
}

// guardPendingRevision enforces the hard gate: the lowest chapter with a
// pending revision blocks generation of every higher chapter, across every
// entry point. There is no force override.
func (e *Executor) guardPendingRevision(ctx context.Context, requested int) error {
	blocked, ok, err := e.store.LowestPending(ctx)
	if err != nil {
		return fmt.Errorf("checking pending revisions: %w", err)
	}
	if !ok || requested <= blocked {
		return nil
	}
	return &core.PendingRevisionError{
		BlockedChapter: blocked,
		Requested:      requested,
		StatusPath:     e.store.RevisionPath(blocked),
		NextActions: []string{
			fmt.Sprintf("apply-revision --chapter %d", blocked),
			fmt.Sprintf("reject-revision --chapter %d", blocked),
		},
	}
}

// guardSequential blocks chapter-text generation when earlier canonical
// chapters are missing, unless sequential enforcement is disabled.
func (e *Executor) guardSequential(ctx context.Context, chapter int) error {
	if !e.cfg.Workflow.EnforceSequential {
		return nil
	}
	missing := e.store.MissingChapters(ctx, chapter)
	if len(missing) == 0 {
		return nil
	}
	return &core.SequentialGapError{Chapter: chapter, Missing: missing}
}

// generate runs one generation call and parses its JSON output into v.
// Parse failures surface as schema errors so callers never persist them.
func (e *Executor) generate(ctx context.Context, kind novel.StageKind, input core.GeneratorInput, v any) error {
	raw, err := e.generator.Generate(ctx, kind, input)
	if err != nil {
		return &core.GenerationError{Stage: kind, Attempt: 1, Cause: err}
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return &core.SchemaError{
			Kind:   string(kind),
			Reason: "generation output is not valid JSON",
			Cause:  err,
		}
	}
	return nil
}

// bibleArtifacts gathers the story-bible artifacts that exist, serialized for
// prompt assembly.
func (e *Executor) bibleArtifacts(ctx context.Context) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	if w, ok := e.store.ReusableWorld(ctx); ok {
		out["world"] = mustRaw(w)
	}
	if tc, ok := e.store.ReusableThemeConflict(ctx); ok {
		out["theme_conflict"] = mustRaw(tc)
	}
	if cc, ok := e.store.ReusableCharacters(ctx); ok {
		out["characters"] = mustRaw(cc)
	}
	if o, ok := e.store.ReusableOutline(ctx); ok {
		out["outline"] = mustRaw(o)
	}
	return out
}

func mustRaw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
