// Package assembler builds the bounded context pack handed to generation and
// review calls. The required block is deterministic and authoritative; the
// retrieved block is supplementary and degrades to empty on any retrieval
// failure rather than failing the stage.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vampirenirmal/novelforge/internal/artifact"
	"github.com/vampirenirmal/novelforge/internal/config"
	"github.com/vampirenirmal/novelforge/internal/core"
	"github.com/vampirenirmal/novelforge/internal/domain/novel"
)

// Assembler composes context packs from the artifact store and an optional
// retrieval capability.
type Assembler struct {
	store       *artifact.Store
	retriever   core.Retriever
	window      int
	topK        int
	categoryCap int
	logger      *slog.Logger
}

// New creates an assembler. A nil retriever is replaced with a no-op.
func New(store *artifact.Store, retriever core.Retriever, cfg config.WorkflowConfig) *Assembler {
	if retriever == nil {
		retriever = NoopRetriever{}
	}
	return &Assembler{
		store:       store,
		retriever:   retriever,
		window:      cfg.MemoryWindow,
		topK:        cfg.RetrievalTopK,
		categoryCap: cfg.RetrievalCategoryCap,
		logger:      slog.Default().With("component", "assembler"),
	}
}

// Request names the stage a pack is assembled for. Plan is set for
// chapter-scoped stages and nil otherwise.
type Request struct {
	Stage   novel.StageKind
	Chapter int
	Plan    *novel.ChapterPlan
}

// Build assembles a context pack. The required block comes from the memory
// ledger and the outline; an error there fails the build. The retrieved block
// is filled concurrently and any category that errors comes back empty with
// the pack marked degraded.
func (a *Assembler) Build(ctx context.Context, req Request) (core.ContextPack, error) {
	pack := core.ContextPack{
		Project:   a.store.Project(),
		Stage:     req.Stage,
		Chapter:   req.Chapter,
		Retrieved: []core.RetrievedFragment{},
		Entities:  []core.EntitySnapshot{},
	}
	pack.Required.RecentMemory = []novel.ChapterMemoryEntry{}
	pack.Required.OutlineDependencies = []novel.OutlineChapter{}

	if req.Chapter > 0 {
		recent, err := a.store.RecentMemory(ctx, req.Chapter, a.window)
		if err != nil {
			return pack, fmt.Errorf("assembling required context: %w", err)
		}
		pack.Required.RecentMemory = recent
	}

	if req.Plan != nil && len(req.Plan.Dependencies) > 0 {
		deps, err := a.outlineDependencies(ctx, req.Plan.Dependencies)
		if err != nil {
			return pack, err
		}
		pack.Required.OutlineDependencies = deps
	}

	a.fillRetrieved(ctx, req, &pack)
	return pack, nil
}

func (a *Assembler) outlineDependencies(ctx context.Context, deps []int) ([]novel.OutlineChapter, error) {
	outline, err := a.store.ReadOutline(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving outline dependencies: %w", err)
	}

	out := make([]novel.OutlineChapter, 0, len(deps))
	for _, n := range deps {
		if ch, ok := outline.Chapter(n); ok {
			out = append(out, ch)
		}
	}
	return out, nil
}

// fillRetrieved runs the retrieval fan-out: one search over the scene
// objectives plus one entity lookup per distinct plan character. Errors are
// absorbed per category.
func (a *Assembler) fillRetrieved(ctx context.Context, req Request, pack *core.ContextPack) {
	if req.Plan == nil {
		return
	}

	var (
		mu       sync.Mutex
		degraded bool
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		frags, err := a.retriever.Search(gctx, searchQuery(req.Plan), a.topK)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			a.logger.Warn("memory search unavailable, continuing without",
				"chapter", req.Chapter, "error", err)
			degraded = true
			return nil
		}
		if len(frags) > a.categoryCap {
			frags = frags[:a.categoryCap]
		}
		pack.Retrieved = append(pack.Retrieved, frags...)
		return nil
	})

	for _, name := range planCharacters(req.Plan) {
		name := name
		g.Go(func() error {
			snap, err := a.retriever.EntityState(gctx, name, req.Chapter)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger.Warn("entity lookup unavailable, continuing without",
					"entity", name, "chapter", req.Chapter, "error", err)
				degraded = true
				return nil
			}
			if snap != nil {
				pack.Entities = append(pack.Entities, *snap)
			}
			return nil
		})
	}

	_ = g.Wait()

	sort.Slice(pack.Entities, func(i, j int) bool {
		return pack.Entities[i].EntityID < pack.Entities[j].EntityID
	})
	if len(pack.Entities) > a.categoryCap {
		pack.Entities = pack.Entities[:a.categoryCap]
	}
	pack.Degraded = degraded
}

func searchQuery(plan *novel.ChapterPlan) string {
	parts := make([]string, 0, len(plan.Scenes))
	for _, scene := range plan.Scenes {
		parts = append(parts, scene.Objective)
	}
	return strings.Join(parts, " ")
}

func planCharacters(plan *novel.ChapterPlan) []string {
	seen := make(map[string]bool)
	var names []string
	for _, scene := range plan.Scenes {
		for _, name := range scene.Characters {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}
