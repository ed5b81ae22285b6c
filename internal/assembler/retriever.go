package assembler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vampirenirmal/novelforge/internal/artifact"
	"github.com/vampirenirmal/novelforge/internal/core"
	"github.com/vampirenirmal/novelforge/internal/domain/novel"
)

// NoopRetriever never finds anything. It stands in when no retrieval index is
// configured.
type NoopRetriever struct{}

func (NoopRetriever) Search(ctx context.Context, query string, topK int) ([]core.RetrievedFragment, error) {
	return nil, nil
}

func (NoopRetriever) EntityState(ctx context.Context, entityID string, asOfChapter int) (*core.EntitySnapshot, error) {
	return nil, nil
}

// LedgerRetriever answers searches from the chapter memory ledger using
// term-overlap scoring. Good enough to surface earlier events that mention the
// same objectives, with no external index.
type LedgerRetriever struct {
	store *artifact.Store
}

func NewLedgerRetriever(store *artifact.Store) *LedgerRetriever {
	return &LedgerRetriever{store: store}
}

func (r *LedgerRetriever) Search(ctx context.Context, query string, topK int) ([]core.RetrievedFragment, error) {
	mem, err := r.store.ReadMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("searching memory ledger: %w", err)
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var frags []core.RetrievedFragment
	for _, entry := range mem.Entries {
		text := entryText(entry)
		score := overlapScore(terms, tokenize(text))
		if score == 0 {
			continue
		}
		frags = append(frags, core.RetrievedFragment{
			Content:       text,
			SourceLocator: fmt.Sprintf("chapter_memory#%d", entry.ChapterNumber),
			Score:         score,
		})
	}

	sort.SliceStable(frags, func(i, j int) bool { return frags[i].Score > frags[j].Score })
	if len(frags) > topK {
		frags = frags[:topK]
	}
	return frags, nil
}

// EntityState returns the most recent character state recorded strictly
// before asOfChapter, or nil if the entity never appears.
func (r *LedgerRetriever) EntityState(ctx context.Context, entityID string, asOfChapter int) (*core.EntitySnapshot, error) {
	mem, err := r.store.ReadMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("looking up entity state: %w", err)
	}

	var snap *core.EntitySnapshot
	for _, entry := range mem.Entries {
		if asOfChapter > 0 && entry.ChapterNumber >= asOfChapter {
			break
		}
		if state, ok := entry.CharacterStates[entityID]; ok {
			snap = &core.EntitySnapshot{
				EntityID:      entityID,
				State:         state,
				AsOfChapter:   entry.ChapterNumber,
				SourceLocator: fmt.Sprintf("chapter_memory#%d", entry.ChapterNumber),
			}
		}
	}
	return snap, nil
}

// entryText flattens one ledger entry into searchable prose.
func entryText(entry novel.ChapterMemoryEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chapter %d", entry.ChapterNumber)
	if entry.Location != "" {
		fmt.Fprintf(&b, " (%s)", entry.Location)
	}
	b.WriteString(": ")
	b.WriteString(strings.Join(entry.Events, ". "))
	if len(entry.OpenThreads) > 0 {
		b.WriteString(" Open: ")
		b.WriteString(strings.Join(entry.OpenThreads, "; "))
	}
	return b.String()
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(s)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if len(word) > 3 {
			tokens[word] = true
		}
	}
	return tokens
}

func overlapScore(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for term := range query {
		if doc[term] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
