package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/vampirenirmal/novelforge/internal/core"
	"github.com/vampirenirmal/novelforge/internal/domain/novel"
)

func TestMockClientStageDetection(t *testing.T) {
	client := NewMockClient()
	gen := NewGenerator(client)
	ctx := context.Background()

	t.Run("outline", func(t *testing.T) {
		raw, err := gen.Generate(ctx, novel.StageOutline, core.GeneratorInput{Project: "proj"})
		if err != nil {
			t.Fatal(err)
		}
		var outline novel.Outline
		if err := json.Unmarshal([]byte(raw), &outline); err != nil {
			t.Fatalf("outline response does not parse: %v", err)
		}
		if outline.ChapterCount() != client.Chapters {
			t.Errorf("chapters = %d, want %d", outline.ChapterCount(), client.Chapters)
		}
	})

	t.Run("chapter text carries the requested number", func(t *testing.T) {
		raw, err := gen.Generate(ctx, novel.StageChapterText, core.GeneratorInput{Project: "proj", Chapter: 2})
		if err != nil {
			t.Fatal(err)
		}
		var ch novel.GeneratedChapter
		if err := json.Unmarshal([]byte(raw), &ch); err != nil {
			t.Fatal(err)
		}
		if ch.ChapterNumber != 2 {
			t.Errorf("chapter number = %d, want 2", ch.ChapterNumber)
		}
	})

	t.Run("revision output differs from first draft", func(t *testing.T) {
		draft, err := gen.Generate(ctx, novel.StageChapterText, core.GeneratorInput{Chapter: 1})
		if err != nil {
			t.Fatal(err)
		}
		revised, err := gen.Generate(ctx, novel.StageRevision, core.GeneratorInput{
			Chapter:      1,
			RevisionNote: "keep a single tide turn",
		})
		if err != nil {
			t.Fatal(err)
		}
		if draft == revised {
			t.Error("revision should produce different text")
		}
	})
}

func TestReviewerParsesReport(t *testing.T) {
	reviewer := NewReviewer(NewMockClient())

	report, err := reviewer.Review(context.Background(), core.ReviewInput{
		Project: "proj",
		Plan:    novel.ChapterPlan{ChapterNumber: 1},
		Chapter: novel.GeneratedChapter{ChapterNumber: 1, ChapterTitle: "Tide 1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.ChapterNumber != 1 {
		t.Errorf("chapter = %d, want 1", report.ChapterNumber)
	}
	if report.OverallScore == 0 {
		t.Error("score should be set")
	}
}

func TestClampPrompt(t *testing.T) {
	if _, clamped := clampPrompt("short prompt", 100); clamped {
		t.Error("prompt under the limit must not be clamped")
	}
	if _, clamped := clampPrompt(strings.Repeat("x", 500), 0); clamped {
		t.Error("zero limit disables clamping")
	}

	got, clamped := clampPrompt(strings.Repeat("x", 500), 64)
	if !clamped {
		t.Fatal("oversized prompt should be clamped")
	}
	if len(got) != 64 {
		t.Errorf("clamped length = %d, want 64", len(got))
	}
}

func TestCleanJSONResponse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose around", "Here you go:\n{\"a\": 1}\nHope that helps!", `{"a": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanJSONResponse(tt.input); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildPromptIncludesContext(t *testing.T) {
	pack := core.ContextPack{
		Project: "proj",
		Chapter: 3,
		Required: core.RequiredContext{
			RecentMemory: []novel.ChapterMemoryEntry{
				{ChapterNumber: 2, Location: "the archive tower", Events: []string{"the counter-claim"}},
			},
		},
	}
	_, user := buildPrompt(novel.StageChapterText, core.GeneratorInput{Chapter: 3, Pack: pack})

	if !strings.Contains(user, "the archive tower") {
		t.Error("prompt should embed required memory")
	}
	if !strings.Contains(user, "chapter 3") {
		t.Error("prompt should name the chapter")
	}
}
