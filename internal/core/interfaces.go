package core

import (
	"context"
	"encoding/json"

	"github.com/vampirenirmal/novelforge/internal/domain/novel"
)

// Storage is the shared durable store. Writers must use atomic replace
// semantics; a partially written artifact must never be observable.
type Storage interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, pattern string) ([]string, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
}

// GeneratorInput is the structured input for one generation call.
type GeneratorInput struct {
	Project      string
	Chapter      int
	Instruction  string
	Pack         ContextPack
	Artifacts    map[string]json.RawMessage
	RevisionNote string
}

// Generator is the opaque generation capability. It returns stage output as a
// JSON document which the calling stage parses and schema-validates before
// persisting anything.
type Generator interface {
	Generate(ctx context.Context, kind novel.StageKind, input GeneratorInput) (string, error)
}

// ReviewInput bundles everything the review capability sees for one chapter.
type ReviewInput struct {
	Project string
	Plan    novel.ChapterPlan
	Chapter novel.GeneratedChapter
	Pack    ContextPack
}

// Reviewer is the opaque review capability. A reviewer failure is surfaced as
// ReviewerUnavailableError by callers, never silently treated as a pass.
type Reviewer interface {
	Review(ctx context.Context, input ReviewInput) (*novel.ConsistencyReport, error)
}

// RetrievedFragment is one ranked result from the retrieval capability. The
// source locator traces back to the originating artifact.
type RetrievedFragment struct {
	Content       string  `json:"content"`
	SourceLocator string  `json:"source_locator"`
	Score         float64 `json:"score"`
}

// EntitySnapshot is the last known state of a story entity.
type EntitySnapshot struct {
	EntityID      string `json:"entity_id"`
	State         string `json:"state"`
	AsOfChapter   int    `json:"as_of_chapter"`
	SourceLocator string `json:"source_locator"`
}

// Retriever is the opaque retrieval capability. Both methods tolerate the
// backing index being unavailable: callers absorb errors and degrade to
// empty results.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]RetrievedFragment, error)
	EntityState(ctx context.Context, entityID string, asOfChapter int) (*EntitySnapshot, error)
}

// RequiredContext is the deterministic block of a context pack. It is
// authoritative: on conflict with retrieved fragments, required context wins.
type RequiredContext struct {
	RecentMemory        []novel.ChapterMemoryEntry `json:"recent_memory"`
	OutlineDependencies []novel.OutlineChapter     `json:"outline_dependencies"`
}

// ContextPack is the bounded context bundle assembled for one generation
// call. All fields are always present; degradation empties them, never omits
// them. Packs are ephemeral and never persisted as truth.
type ContextPack struct {
	Project   string              `json:"project"`
	Stage     novel.StageKind     `json:"stage"`
	Chapter   int                 `json:"chapter"`
	Required  RequiredContext     `json:"required"`
	Retrieved []RetrievedFragment `json:"retrieved"`
	Entities  []EntitySnapshot    `json:"entities"`
	Degraded  bool                `json:"degraded"`
}
