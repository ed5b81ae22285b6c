package artifact

import (
	"context"
	"errors"
	"path"
	"reflect"
	"testing"
	"time"

	"github.com/vampirenirmal/novelforge/internal/core"
	"github.com/vampirenirmal/novelforge/internal/domain/novel"
)

type mockStorage struct {
	data map[string][]byte
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		data: make(map[string][]byte),
	}
}

func (m *mockStorage) Save(ctx context.Context, path string, data []byte) error {
	m.data[path] = data
	return nil
}

func (m *mockStorage) Load(ctx context.Context, path string) ([]byte, error) {
	data, ok := m.data[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (m *mockStorage) List(ctx context.Context, pattern string) ([]string, error) {
	var results []string
	for p := range m.data {
		if ok, _ := path.Match(pattern, p); ok {
			results = append(results, p)
		}
	}
	return results, nil
}

func (m *mockStorage) Exists(ctx context.Context, path string) bool {
	_, ok := m.data[path]
	return ok
}

func (m *mockStorage) Delete(ctx context.Context, path string) error {
	delete(m.data, path)
	return nil
}

func testPlan(chapter int) *novel.ChapterPlan {
	return &novel.ChapterPlan{
		Meta:           novel.NewMeta("test"),
		ChapterNumber:  chapter,
		TimelineAnchor: chapter * 10,
		Scenes: []novel.ScenePlan{
			{SceneNumber: 1, Title: "Opening", Objective: "introduce the harbor", Location: "harbor", Characters: []string{"Mira"}},
			{SceneNumber: 2, Title: "Turn", Objective: "the ship departs", Location: "docks", Characters: []string{"Mira", "Joss"}},
		},
	}
}

func testChapter(chapter int) *novel.GeneratedChapter {
	return &novel.GeneratedChapter{
		Meta:          novel.NewMeta("test"),
		ChapterNumber: chapter,
		ChapterTitle:  "The Harbor",
		Scenes: []novel.SceneText{
			{SceneNumber: 1, Content: "The harbor was quiet at dawn."},
			{SceneNumber: 2, Content: "By noon the ship had gone, and Mira watched the horizon."},
		},
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	storage := newMockStorage()
	store := NewStore(storage, "proj")
	ctx := context.Background()

	t.Run("outline", func(t *testing.T) {
		outline := &novel.Outline{
			Meta:    novel.NewMeta("test"),
			Title:   "Tidewater",
			Logline: "A smuggler inherits a drowned city.",
			Chapters: []novel.OutlineChapter{
				{Number: 1, Title: "The Harbor", Summary: "arrival"},
				{Number: 2, Title: "The Channel", Summary: "departure"},
			},
		}

		if err := store.WriteOutline(ctx, outline); err != nil {
			t.Fatalf("write: %v", err)
		}

		got, err := store.ReadOutline(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !reflect.DeepEqual(got, outline) {
			t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, outline)
		}
		if got.Meta.SchemaVersion != novel.SchemaVersion {
			t.Errorf("schema version = %q, want %q", got.Meta.SchemaVersion, novel.SchemaVersion)
		}
		if got.Meta.Generator != "test" {
			t.Errorf("generator = %q, want %q", got.Meta.Generator, "test")
		}
		if got.Meta.GeneratedAt.IsZero() {
			t.Error("generated_at should be set")
		}
	})

	t.Run("consistency report", func(t *testing.T) {
		report := &novel.ConsistencyReport{
			Meta:          novel.NewMeta("test"),
			ChapterNumber: 1,
			OverallScore:  82,
			Issues: []novel.Issue{
				{IssueType: "timeline", Severity: novel.SeverityLow, Description: "minor drift"},
			},
			Summary: "mostly consistent",
		}

		if err := store.WriteReport(ctx, report); err != nil {
			t.Fatalf("write: %v", err)
		}
		got, err := store.ReadReport(ctx, 1)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !reflect.DeepEqual(got, report) {
			t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, report)
		}
	})
}

func TestReadMissingArtifact(t *testing.T) {
	store := NewStore(newMockStorage(), "proj")

	_, err := store.ReadWorld(context.Background())
	if !core.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestSchemaValidationOnRead(t *testing.T) {
	storage := newMockStorage()
	store := NewStore(storage, "proj")
	ctx := context.Background()

	t.Run("invalid JSON surfaces as schema error", func(t *testing.T) {
		storage.data[store.OutlinePath()] = []byte("{not json")

		_, err := store.ReadOutline(ctx)
		if !core.IsSchemaError(err) {
			t.Errorf("expected schema error, got %v", err)
		}
	})

	t.Run("constraint violation carries field path", func(t *testing.T) {
		// Outline with no chapters violates min=1.
		storage.data[store.OutlinePath()] = []byte(`{"meta":{"schema_version":"1","generated_at":"2026-01-01T00:00:00Z","generator":"test"},"title":"T","chapters":[]}`)

		_, err := store.ReadOutline(ctx)
		var schemaErr *core.SchemaError
		if !errors.As(err, &schemaErr) {
			t.Fatalf("expected schema error, got %v", err)
		}
		if schemaErr.Field == "" {
			t.Error("schema error should name the failing field")
		}
	})

	t.Run("corrupt artifact is not reusable", func(t *testing.T) {
		storage.data[store.OutlinePath()] = []byte("{not json")

		if _, ok := store.ReusableOutline(ctx); ok {
			t.Error("corrupt artifact should not satisfy the reuse contract")
		}
	})
}

func TestWriteChapterSynchronizesMemory(t *testing.T) {
	storage := newMockStorage()
	store := NewStore(storage, "proj")
	ctx := context.Background()

	plan := testPlan(1)
	chapter := testChapter(1)
	entry := BuildMemoryEntry(plan, chapter)

	if err := store.WriteChapter(ctx, chapter, entry); err != nil {
		t.Fatalf("write chapter: %v", err)
	}

	t.Run("word counts recomputed", func(t *testing.T) {
		got, err := store.ReadChapter(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		want := novel.CountWords(chapter.Scenes[0].Content) + novel.CountWords(chapter.Scenes[1].Content)
		if got.TotalWords != want {
			t.Errorf("total words = %d, want %d", got.TotalWords, want)
		}
	})

	t.Run("memory entry written in same operation", func(t *testing.T) {
		mem, err := store.ReadMemory(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(mem.Entries) != 1 {
			t.Fatalf("expected 1 memory entry, got %d", len(mem.Entries))
		}
		if mem.Entries[0].ChapterNumber != 1 {
			t.Errorf("memory entry chapter = %d, want 1", mem.Entries[0].ChapterNumber)
		}
		if mem.Entries[0].Location != "docks" {
			t.Errorf("memory location = %q, want %q", mem.Entries[0].Location, "docks")
		}
	})

	t.Run("rewrite replaces the ledger entry, not appends", func(t *testing.T) {
		revised := testChapter(1)
		revised.Scenes[1].Content = "A different ending entirely."
		if err := store.WriteChapter(ctx, revised, BuildMemoryEntry(plan, revised)); err != nil {
			t.Fatal(err)
		}

		mem, err := store.ReadMemory(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(mem.Entries) != 1 {
			t.Errorf("expected 1 memory entry after rebuild, got %d", len(mem.Entries))
		}
	})
}

func TestRecentMemoryWindow(t *testing.T) {
	storage := newMockStorage()
	store := NewStore(storage, "proj")
	ctx := context.Background()

	for n := 1; n <= 6; n++ {
		entry := BuildMemoryEntry(testPlan(n), testChapter(n))
		if err := store.UpsertMemoryEntry(ctx, entry); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("window excludes current and later chapters", func(t *testing.T) {
		recent, err := store.RecentMemory(ctx, 5, 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(recent) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(recent))
		}
		want := []int{2, 3, 4}
		for i, entry := range recent {
			if entry.ChapterNumber != want[i] {
				t.Errorf("entry %d chapter = %d, want %d", i, entry.ChapterNumber, want[i])
			}
		}
	})

	t.Run("window for chapter 1 is empty", func(t *testing.T) {
		recent, err := store.RecentMemory(ctx, 1, 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(recent) != 0 {
			t.Errorf("expected empty window, got %d entries", len(recent))
		}
	})
}

func TestPendingRevisions(t *testing.T) {
	storage := newMockStorage()
	store := NewStore(storage, "proj")
	ctx := context.Background()

	now := time.Now().UTC()
	statuses := []*novel.RevisionStatus{
		{Meta: novel.NewMeta("test"), ChapterNumber: 5, Status: novel.RevisionPending, CreatedAt: now},
		{Meta: novel.NewMeta("test"), ChapterNumber: 2, Status: novel.RevisionAccepted, CreatedAt: now},
		{Meta: novel.NewMeta("test"), ChapterNumber: 3, Status: novel.RevisionPending, CreatedAt: now},
	}
	for _, rs := range statuses {
		if err := store.WriteRevisionStatus(ctx, rs); err != nil {
			t.Fatal(err)
		}
	}

	lowest, ok, err := store.LowestPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a pending revision")
	}
	if lowest != 3 {
		t.Errorf("lowest pending = %d, want 3", lowest)
	}

	t.Run("corrupt record is an error, not a bypass", func(t *testing.T) {
		storage.data[store.RevisionPath(3)] = []byte("{corrupt")

		if _, err := store.PendingRevisions(ctx); !core.IsSchemaError(err) {
			t.Errorf("expected schema error for corrupt revision record, got %v", err)
		}
		if _, _, err := store.LowestPending(ctx); err == nil {
			t.Error("corrupt revision record must not read as unblocked")
		}
	})
}

func TestMissingChapters(t *testing.T) {
	storage := newMockStorage()
	store := NewStore(storage, "proj")
	ctx := context.Background()

	if err := store.WriteChapter(ctx, testChapter(2), BuildMemoryEntry(testPlan(2), testChapter(2))); err != nil {
		t.Fatal(err)
	}

	missing := store.MissingChapters(ctx, 5)
	want := []int{1, 3, 4}
	if !reflect.DeepEqual(missing, want) {
		t.Errorf("missing = %v, want %v", missing, want)
	}
}
