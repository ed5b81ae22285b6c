package artifact

import (
	"context"
	"fmt"
	"sort"

	"github.com/vampirenirmal/novelforge/internal/core"
	"github.com/vampirenirmal/novelforge/internal/domain/novel"
)

// ReadMemory returns the project's chapter memory ledger. A missing ledger is
// an empty one, not an error.
func (s *Store) ReadMemory(ctx context.Context) (*novel.ChapterMemory, error) {
	mem, err := readArtifact[novel.ChapterMemory](ctx, s, "chapter_memory", s.MemoryPath())
	if err != nil {
		if core.IsNotFound(err) {
			return &novel.ChapterMemory{Meta: novel.NewMeta("novelforge")}, nil
		}
		return nil, err
	}
	return mem, nil
}

// UpsertMemoryEntry appends or replaces the ledger entry for one chapter,
// keeping entries in ascending chapter order. The ledger is forward-only:
// entries are only ever replaced by a rebuild from the canonical chapter.
func (s *Store) UpsertMemoryEntry(ctx context.Context, entry novel.ChapterMemoryEntry) error {
	if entry.ChapterNumber < 1 {
		return fmt.Errorf("memory entry chapter %d: %w", entry.ChapterNumber, core.ErrInvalidInput)
	}

	mem, err := s.ReadMemory(ctx)
	if err != nil {
		return err
	}

	replaced := false
	for i := range mem.Entries {
		if mem.Entries[i].ChapterNumber == entry.ChapterNumber {
			mem.Entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		mem.Entries = append(mem.Entries, entry)
	}

	sort.Slice(mem.Entries, func(i, j int) bool {
		return mem.Entries[i].ChapterNumber < mem.Entries[j].ChapterNumber
	})

	return writeArtifact(ctx, s, "chapter_memory", s.MemoryPath(), mem)
}

// RecentMemory returns up to n ledger entries for chapters strictly before
// the given chapter, most recent last. Generation for chapter C only ever
// sees memory for chapters < C.
func (s *Store) RecentMemory(ctx context.Context, beforeChapter, n int) ([]novel.ChapterMemoryEntry, error) {
	mem, err := s.ReadMemory(ctx)
	if err != nil {
		return nil, err
	}

	var prior []novel.ChapterMemoryEntry
	for _, entry := range mem.Entries {
		if entry.ChapterNumber < beforeChapter {
			prior = append(prior, entry)
		}
	}

	if len(prior) > n {
		prior = prior[len(prior)-n:]
	}
	return prior, nil
}

// BuildMemoryEntry derives a ledger entry from the canonical chapter and its
// plan. Derivation is deterministic: the entry can always be rebuilt from the
// single source of truth.
func BuildMemoryEntry(plan *novel.ChapterPlan, ch *novel.GeneratedChapter) novel.ChapterMemoryEntry {
	entry := novel.ChapterMemoryEntry{
		ChapterNumber:   ch.ChapterNumber,
		TimelineAnchor:  plan.TimelineAnchor,
		CharacterStates: make(map[string]string),
	}

	if len(plan.Scenes) > 0 {
		entry.Location = plan.Scenes[len(plan.Scenes)-1].Location
	}

	for _, scene := range plan.Scenes {
		if scene.Objective != "" {
			entry.Events = append(entry.Events, scene.Objective)
		}
		for _, name := range scene.Characters {
			entry.CharacterStates[name] = fmt.Sprintf("last seen in chapter %d (%s)", ch.ChapterNumber, scene.Location)
		}
	}

	for _, dep := range plan.Dependencies {
		entry.OpenThreads = append(entry.OpenThreads,
			fmt.Sprintf("continues events of chapter %d", dep))
	}

	return entry
}
