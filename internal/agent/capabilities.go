package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/vampirenirmal/novelforge/internal/core"
	"github.com/vampirenirmal/novelforge/internal/domain/novel"
)

// Completer abstracts the LLM call so the mock client can stand in for
// offline runs and tests.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Generator implements the generation capability by prompting an LLM for
// stage-shaped JSON.
type Generator struct {
	client Completer
	logger *slog.Logger
}

func NewGenerator(client Completer) *Generator {
	return &Generator{
		client: client,
		logger: slog.Default().With("component", "generator"),
	}
}

func (g *Generator) Generate(ctx context.Context, kind novel.StageKind, input core.GeneratorInput) (string, error) {
	system, user := buildPrompt(kind, input)
	g.logger.Debug("generating",
		"stage", kind,
		"chapter", input.Chapter,
		"prompt_length", len(user))
	raw, err := g.client.CompleteJSON(ctx, system, user)
	if err != nil {
		return "", err
	}
	return cleanJSONResponse(raw), nil
}

// Reviewer implements the review capability. A malformed review response is
// an error, never a silent pass.
type Reviewer struct {
	client Completer
	logger *slog.Logger
}

func NewReviewer(client Completer) *Reviewer {
	return &Reviewer{
		client: client,
		logger: slog.Default().With("component", "reviewer"),
	}
}

func (r *Reviewer) Review(ctx context.Context, input core.ReviewInput) (*novel.ConsistencyReport, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Review chapter %d of project %q for consistency with everything that came before.\n\n",
		input.Chapter.ChapterNumber, input.Project)
	writeSection(&user, "CHAPTER PLAN", input.Plan)
	writeSection(&user, "CHAPTER TEXT", input.Chapter)
	writeSection(&user, "CONTEXT", input.Pack)

	raw, err := r.client.CompleteJSON(ctx, reviewerSystem, user.String())
	if err != nil {
		return nil, err
	}

	var report novel.ConsistencyReport
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &report); err != nil {
		return nil, fmt.Errorf("parsing review response: %w", err)
	}
	return &report, nil
}

const (
	generatorSystem = `You are a novelist's structured drafting engine. You produce exactly the JSON artifact requested, grounded in the provided story bible and context. Earlier established facts are authoritative; never contradict the required context.`

	reviewerSystem = `You are a continuity editor. Evaluate the chapter against its plan and the provided context. Respond with JSON: {"chapter_number": int, "overall_score": 0-100, "issues": [{"issue_type": string, "severity": "low"|"medium"|"high", "description": string, "evidence": string, "fix_instructions": string}], "summary": string}. Give fix_instructions only when you can state a concrete fix; leave it empty otherwise.`
)

// buildPrompt assembles the system and user prompts for one stage call.
func buildPrompt(kind novel.StageKind, input core.GeneratorInput) (string, string) {
	var user strings.Builder

	switch kind {
	case novel.StageWorld:
		fmt.Fprintf(&user, "Premise: %s\n\n", input.Instruction)
		user.WriteString(`Design the world for this novel. Respond with JSON: {"name": string, "era": string, "geography": string, "power_system": string, "factions": [string], "rules": [string]}.`)

	case novel.StageThemeConflict:
		user.WriteString(`Derive the thematic spine from the world bible. Respond with JSON: {"theme": string, "central_conflict": string, "stakes": string, "tone": string}.`)

	case novel.StageCharacters:
		user.WriteString(`Create the principal characters. Respond with JSON: {"characters": [{"name": string, "role": string, "description": string, "arc": string, "relationships": [string]}]}.`)

	case novel.StageOutline:
		user.WriteString(`Outline the novel chapter by chapter, numbered 1..N with no gaps. Respond with JSON: {"title": string, "logline": string, "chapters": [{"number": int, "title": string, "summary": string}]}.`)

	case novel.StageChapterPlan:
		fmt.Fprintf(&user, "Plan the scenes for chapter %d. ", input.Chapter)
		user.WriteString(`Dependencies name earlier chapters whose events this chapter presupposes; their timeline anchors must precede this one. Respond with JSON: {"chapter_number": int, "timeline_anchor": int, "dependencies": [int], "scenes": [{"scene_number": int, "title": string, "objective": string, "location": string, "characters": [string]}]}.`)

	case novel.StageChapterText:
		fmt.Fprintf(&user, "Write the full prose for chapter %d, one scene per plan entry. ", input.Chapter)
		user.WriteString(`Respond with JSON: {"chapter_number": int, "chapter_title": string, "scenes": [{"scene_number": int, "content": string}]}.`)

	case novel.StageRevision:
		fmt.Fprintf(&user, "Revise chapter %d to resolve the issues below. Keep the scene count and, unless an issue targets it, the title. Change only what the fixes require.\n\nFIXES:\n%s\n\n", input.Chapter, input.RevisionNote)
		user.WriteString(`Respond with the complete revised chapter as JSON: {"chapter_number": int, "chapter_title": string, "scenes": [{"scene_number": int, "content": string}]}.`)
	}

	user.WriteString("\n")
	names := make([]string, 0, len(input.Artifacts))
	for name := range input.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeSection(&user, strings.ToUpper(name), json.RawMessage(input.Artifacts[name]))
	}
	writeSection(&user, "CONTEXT", input.Pack)

	return generatorSystem, user.String()
}

// cleanJSONResponse strips markdown code fences and bounds the response to
// its outermost JSON object. Models occasionally wrap JSON despite the
// response-format directive.
func cleanJSONResponse(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		response = response[start : end+1]
	}
	return strings.TrimSpace(response)
}

func writeSection(b *strings.Builder, title string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintf(b, "\n--- %s ---\n%s\n", title, data)
}
