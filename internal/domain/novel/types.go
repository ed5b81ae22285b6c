package novel

import (
	"fmt"
	"time"
)

// SchemaVersion is stamped into every persisted artifact so later readers can
// detect and migrate old layouts.
const SchemaVersion = "1"

// Meta carries provenance for every durable artifact.
type Meta struct {
	SchemaVersion string    `json:"schema_version" validate:"required"`
	GeneratedAt   time.Time `json:"generated_at" validate:"required"`
	Generator     string    `json:"generator" validate:"required"`
}

// NewMeta stamps provenance for a freshly generated artifact.
func NewMeta(generator string) Meta {
	return Meta{
		SchemaVersion: SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Generator:     generator,
	}
}

// StageKind identifies a generation stage in the workflow.
type StageKind string

const (
	StageWorld         StageKind = "world"
	StageThemeConflict StageKind = "theme_conflict"
	StageCharacters    StageKind = "characters"
	StageOutline       StageKind = "outline"
	StageChapterPlan   StageKind = "chapter_plan"
	StageChapterText   StageKind = "chapter_text"
	StageRevision      StageKind = "revision"
	StageExport        StageKind = "export"
)

// WorldSetting is the canonical world bible artifact. Immutable once chosen.
type WorldSetting struct {
	Meta      Meta     `json:"meta"`
	Name      string   `json:"name" validate:"required"`
	Era       string   `json:"era"`
	Geography string   `json:"geography"`
	Power     string   `json:"power_system"`
	Factions  []string `json:"factions"`
	Rules     []string `json:"rules"`
}

// ThemeConflict captures the thematic spine of the story.
type ThemeConflict struct {
	Meta            Meta   `json:"meta"`
	Theme           string `json:"theme" validate:"required"`
	CentralConflict string `json:"central_conflict" validate:"required"`
	Stakes          string `json:"stakes"`
	Tone            string `json:"tone"`
}

type Character struct {
	Name          string   `json:"name" validate:"required"`
	Role          string   `json:"role"`
	Description   string   `json:"description"`
	Arc           string   `json:"arc"`
	Relationships []string `json:"relationships"`
}

// CharactersConfig is the character bible artifact.
type CharactersConfig struct {
	Meta       Meta        `json:"meta"`
	Characters []Character `json:"characters" validate:"required,min=1,dive"`
}

type OutlineChapter struct {
	Number  int    `json:"number" validate:"required,min=1"`
	Title   string `json:"title" validate:"required"`
	Summary string `json:"summary"`
}

// Outline is the chapter-level story outline artifact.
type Outline struct {
	Meta     Meta             `json:"meta"`
	Title    string           `json:"title" validate:"required"`
	Logline  string           `json:"logline"`
	Chapters []OutlineChapter `json:"chapters" validate:"required,min=1,dive"`
}

// ChapterCount returns the number of chapters in the outline.
func (o *Outline) ChapterCount() int {
	return len(o.Chapters)
}

// Chapter returns the outline entry for a chapter number, if present.
func (o *Outline) Chapter(number int) (OutlineChapter, bool) {
	for _, ch := range o.Chapters {
		if ch.Number == number {
			return ch, true
		}
	}
	return OutlineChapter{}, false
}

type ScenePlan struct {
	SceneNumber int      `json:"scene_number" validate:"required,min=1"`
	Title       string   `json:"title"`
	Objective   string   `json:"objective" validate:"required"`
	Location    string   `json:"location"`
	Characters  []string `json:"characters"`
}

// ChapterPlan is the per-chapter scene breakdown. Dependencies name chapters
// whose events this chapter presupposes; each must sit earlier on the global
// timeline.
type ChapterPlan struct {
	Meta           Meta        `json:"meta"`
	ChapterNumber  int         `json:"chapter_number" validate:"required,min=1"`
	TimelineAnchor int         `json:"timeline_anchor" validate:"min=0"`
	Dependencies   []int       `json:"dependencies"`
	Scenes         []ScenePlan `json:"scenes" validate:"required,min=1,dive"`
}

type SceneText struct {
	SceneNumber int    `json:"scene_number" validate:"required,min=1"`
	Content     string `json:"content" validate:"required"`
	WordCount   int    `json:"word_count" validate:"min=0"`
}

// GeneratedChapter is the single source of truth for chapter content. Derived
// artifacts (memory entries, reports, exports) are rebuilt from it, never the
// other way around.
type GeneratedChapter struct {
	Meta          Meta        `json:"meta"`
	ChapterNumber int         `json:"chapter_number" validate:"required,min=1"`
	ChapterTitle  string      `json:"chapter_title" validate:"required"`
	Scenes        []SceneText `json:"scenes" validate:"required,min=1,dive"`
	TotalWords    int         `json:"total_words" validate:"min=0"`
}

// RecomputeTotals recalculates per-scene and aggregate word counts from the
// scene content.
func (c *GeneratedChapter) RecomputeTotals() {
	total := 0
	for i := range c.Scenes {
		c.Scenes[i].WordCount = CountWords(c.Scenes[i].Content)
		total += c.Scenes[i].WordCount
	}
	c.TotalWords = total
}

// ChapterMemoryEntry is one ledger record per completed chapter.
type ChapterMemoryEntry struct {
	ChapterNumber   int               `json:"chapter_number" validate:"required,min=1"`
	TimelineAnchor  int               `json:"timeline_anchor"`
	Location        string            `json:"location"`
	Events          []string          `json:"events"`
	CharacterStates map[string]string `json:"character_states"`
	OpenThreads     []string          `json:"open_threads"`
}

// ChapterMemory is the append-only, chapter-ordered memory ledger.
type ChapterMemory struct {
	Meta    Meta                 `json:"meta"`
	Entries []ChapterMemoryEntry `json:"entries"`
}

type IssueSeverity string

const (
	SeverityLow    IssueSeverity = "low"
	SeverityMedium IssueSeverity = "medium"
	SeverityHigh   IssueSeverity = "high"
)

// Issue is a single consistency finding. An issue is fixable iff
// FixInstructions is non-empty; there is deliberately no separate flag.
type Issue struct {
	IssueType       string        `json:"issue_type" validate:"required"`
	Severity        IssueSeverity `json:"severity" validate:"required,oneof=low medium high"`
	Description     string        `json:"description" validate:"required"`
	Evidence        string        `json:"evidence,omitempty"`
	FixInstructions string        `json:"fix_instructions,omitempty"`
}

// Fixable reports whether the issue carries actionable fix instructions.
func (i Issue) Fixable() bool {
	return i.FixInstructions != ""
}

// ConsistencyReport is the structured output of a chapter review.
type ConsistencyReport struct {
	Meta          Meta    `json:"meta"`
	ChapterNumber int     `json:"chapter_number" validate:"required,min=1"`
	OverallScore  int     `json:"overall_score" validate:"min=0,max=100"`
	Issues        []Issue `json:"issues" validate:"dive"`
	Summary       string  `json:"summary"`
}

// FixableIssues returns only the issues carrying fix instructions.
func (r *ConsistencyReport) FixableIssues() []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Fixable() {
			out = append(out, issue)
		}
	}
	return out
}

// HasHighSeverity reports whether any issue is tagged high.
func (r *ConsistencyReport) HasHighSeverity() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

type RevisionState string

const (
	RevisionPending  RevisionState = "pending"
	RevisionAccepted RevisionState = "accepted"
	RevisionRejected RevisionState = "rejected"
)

// RevisionStatus tracks one chapter's revision lifecycle. While Status is
// pending, all forward generation past ChapterNumber is blocked.
type RevisionStatus struct {
	Meta             Meta              `json:"meta"`
	ChapterNumber    int               `json:"chapter_number" validate:"required,min=1"`
	Status           RevisionState     `json:"status" validate:"required,oneof=pending accepted rejected"`
	Candidate        *GeneratedChapter `json:"candidate,omitempty"`
	Issues           []Issue           `json:"issues"`
	NeedsHumanReview bool              `json:"needs_human_review"`
	CreatedAt        time.Time         `json:"created_at"`
	ResolvedAt       *time.Time        `json:"resolved_at,omitempty"`
}

// CountWords counts whitespace-separated words.
func CountWords(s string) int {
	count := 0
	inWord := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
			inWord = false
		default:
			if !inWord {
				count++
			}
			inWord = true
		}
	}
	return count
}

// ChapterRef formats a chapter identifier for logs and locators.
func ChapterRef(project string, chapter int) string {
	return fmt.Sprintf("%s/chapter_%d", project, chapter)
}
