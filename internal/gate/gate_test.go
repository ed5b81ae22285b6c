package gate

import (
	"context"
	"errors"
	"path"
	"testing"
	"time"

	"github.com/vampirenirmal/novelforge/internal/artifact"
	"github.com/vampirenirmal/novelforge/internal/assembler"
	"github.com/vampirenirmal/novelforge/internal/config"
	"github.com/vampirenirmal/novelforge/internal/core"
	"github.com/vampirenirmal/novelforge/internal/domain/novel"
)

type mockStorage struct {
	data map[string][]byte
}

func newMockStorage() *mockStorage {
	return &mockStorage{data: make(map[string][]byte)}
}

func (m *mockStorage) Save(ctx context.Context, p string, data []byte) error {
	m.data[p] = data
	return nil
}

func (m *mockStorage) Load(ctx context.Context, p string) ([]byte, error) {
	data, ok := m.data[p]
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

func (m *mockStorage) Exists(ctx context.Context, p string) bool {
	_, ok := m.data[p]
	return ok
}

func (m *mockStorage) Delete(ctx context.Context, p string) error {
	delete(m.data, p)
	return nil
}

type mockReviewer struct {
	report *novel.ConsistencyReport
	err    error
	calls  int
}

func (m *mockReviewer) Review(ctx context.Context, input core.ReviewInput) (*novel.ConsistencyReport, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.report, nil
}

func seedChapter(t *testing.T, store *artifact.Store, chapter int) {
	t.Helper()
	ctx := context.Background()
	plan := &novel.ChapterPlan{
		Meta:           novel.NewMeta("test"),
		ChapterNumber:  chapter,
		TimelineAnchor: chapter * 10,
		Scenes:         []novel.ScenePlan{{SceneNumber: 1, Objective: "advance", Location: "sea"}},
	}
	if err := store.WritePlan(ctx, plan); err != nil {
		t.Fatal(err)
	}
	ch := &novel.GeneratedChapter{
		Meta:          novel.NewMeta("test"),
		ChapterNumber: chapter,
		ChapterTitle:  "The Harbor",
		Scenes:        []novel.SceneText{{SceneNumber: 1, Content: "Dawn over the water."}},
	}
	if err := store.WriteChapter(ctx, ch, artifact.BuildMemoryEntry(plan, ch)); err != nil {
		t.Fatal(err)
	}
}

func newGate(t *testing.T, reviewer core.Reviewer, policy config.GatePolicy) (*Gate, *artifact.Store) {
	t.Helper()
	store := artifact.NewStore(newMockStorage(), "proj")
	cfg := config.Default()
	cfg.Workflow.GatePolicy = policy
	asm := assembler.New(store, nil, cfg.Workflow)
	return New(store, asm, reviewer, cfg), store
}

func TestGateOffSkipsReview(t *testing.T) {
	reviewer := &mockReviewer{}
	g, store := newGate(t, reviewer, config.GateOff)
	seedChapter(t, store, 1)

	result, err := g.Evaluate(context.Background(), 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if reviewer.calls != 0 {
		t.Errorf("reviewer called %d times with gate off, want 0", reviewer.calls)
	}
	if result.Blocking || result.Report != nil {
		t.Errorf("gate off should return an empty result, got %+v", result)
	}
}

func TestBlockingCondition(t *testing.T) {
	tests := []struct {
		name     string
		score    int
		issues   []novel.Issue
		blocking bool
	}{
		{
			name:     "high score, no issues",
			score:    90,
			blocking: false,
		},
		{
			name:     "score below minimum",
			score:    40,
			blocking: true,
		},
		{
			name:  "good score but high severity issue",
			score: 85,
			issues: []novel.Issue{
				{IssueType: "timeline", Severity: novel.SeverityHigh, Description: "chapter contradicts earlier date"},
			},
			blocking: true,
		},
		{
			name:  "good score with only low severity issues",
			score: 85,
			issues: []novel.Issue{
				{IssueType: "style", Severity: novel.SeverityLow, Description: "repeated phrase"},
			},
			blocking: false,
		},
		{
			name:     "score exactly at minimum passes",
			score:    70,
			blocking: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reviewer := &mockReviewer{
				report: &novel.ConsistencyReport{
					ChapterNumber: 1,
					OverallScore:  tt.score,
					Issues:        tt.issues,
					Summary:       "reviewed",
				},
			}
			g, store := newGate(t, reviewer, config.GateBlocking)
			seedChapter(t, store, 1)

			result, err := g.Evaluate(context.Background(), 1, false)
			if err != nil {
				t.Fatal(err)
			}
			if result.Blocking != tt.blocking {
				t.Errorf("blocking = %v, want %v", result.Blocking, tt.blocking)
			}

			// The report is persisted regardless of verdict.
			if _, err := store.ReadReport(context.Background(), 1); err != nil {
				t.Errorf("report not persisted: %v", err)
			}
		})
	}
}

func TestReviewReuse(t *testing.T) {
	ctx := context.Background()
	reviewer := &mockReviewer{
		report: &novel.ConsistencyReport{
			ChapterNumber: 1,
			OverallScore:  88,
			Summary:       "reviewed",
		},
	}
	g, store := newGate(t, reviewer, config.GateBlocking)
	seedChapter(t, store, 1)

	if _, err := g.Evaluate(ctx, 1, false); err != nil {
		t.Fatal(err)
	}
	if reviewer.calls != 1 {
		t.Fatalf("reviewer calls = %d, want 1", reviewer.calls)
	}

	t.Run("unchanged chapter reuses the persisted report", func(t *testing.T) {
		result, err := g.Evaluate(ctx, 1, false)
		if err != nil {
			t.Fatal(err)
		}
		if reviewer.calls != 1 {
			t.Errorf("reviewer called again for an unchanged chapter (calls = %d)", reviewer.calls)
		}
		if result.Report == nil || result.Report.OverallScore != 88 {
			t.Errorf("reused report = %+v, want the persisted one", result.Report)
		}
		if result.Blocking {
			t.Error("reused passing report must not block")
		}
	})

	t.Run("force re-reviews", func(t *testing.T) {
		if _, err := g.Evaluate(ctx, 1, true); err != nil {
			t.Fatal(err)
		}
		if reviewer.calls != 2 {
			t.Errorf("reviewer calls = %d after force, want 2", reviewer.calls)
		}
	})

	t.Run("rewritten chapter is re-reviewed", func(t *testing.T) {
		plan, err := store.ReadPlan(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		ch, err := store.ReadChapter(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		ch.Scenes[0].Content = "Dusk over the water."
		ch.Meta = novel.NewMeta("test")
		ch.Meta.GeneratedAt = time.Now().UTC().Add(time.Minute)
		if err := store.WriteChapter(ctx, ch, artifact.BuildMemoryEntry(plan, ch)); err != nil {
			t.Fatal(err)
		}

		if _, err := g.Evaluate(ctx, 1, false); err != nil {
			t.Fatal(err)
		}
		if reviewer.calls != 3 {
			t.Errorf("reviewer calls = %d after rewrite, want 3", reviewer.calls)
		}
	})
}

func TestReviewerFailureIsNotAPass(t *testing.T) {
	reviewer := &mockReviewer{err: errors.New("model overloaded")}
	g, store := newGate(t, reviewer, config.GateBlocking)
	seedChapter(t, store, 1)

	_, err := g.Evaluate(context.Background(), 1, false)
	var unavailable *core.ReviewerUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected reviewer-unavailable error, got %v", err)
	}
	if unavailable.Chapter != 1 {
		t.Errorf("chapter = %d, want 1", unavailable.Chapter)
	}
}
