package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MockClient fabricates deterministic stage responses for tests and offline
// runs. The detection mirrors the prompt wording in buildPrompt.
type MockClient struct {
	Chapters int
}

func NewMockClient() *MockClient {
	return &MockClient{Chapters: 3}
}

func (m *MockClient) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	prompt := strings.ToLower(userPrompt)
	chapter := firstInt(userPrompt)

	var response string
	switch {
	case strings.Contains(prompt, "design the world"):
		response = `{"name": "The Drowned Reach", "era": "three generations after the flood", "geography": "an archipelago of rooftop islands", "power_system": "tide-craft", "factions": ["the Salvage Guild", "the Lighthouse Keepers"], "rules": ["the tide turns once a night", "salvage belongs to the finder"]}`

	case strings.Contains(prompt, "thematic spine"):
		response = `{"theme": "what we inherit and what we owe", "central_conflict": "a salvager's claim against the Guild that raised her", "stakes": "the last dry archive of the old world", "tone": "weathered, hopeful"}`

	case strings.Contains(prompt, "principal characters"):
		response = `{"characters": [{"name": "Mira", "role": "protagonist", "description": "a salvager with her mother's charts", "arc": "from hoarding to sharing", "relationships": ["daughter of the Guild's founder"]}, {"name": "Joss", "role": "rival", "description": "a Guild enforcer", "arc": "from loyalty to doubt", "relationships": ["Mira's former crewmate"]}]}`

	case strings.Contains(prompt, "outline the novel"):
		chapters := make([]map[string]any, m.Chapters)
		for i := range chapters {
			chapters[i] = map[string]any{
				"number":  i + 1,
				"title":   fmt.Sprintf("Tide %d", i+1),
				"summary": fmt.Sprintf("movement %d of the salvage claim", i+1),
			}
		}
		data, err := json.Marshal(map[string]any{
			"title":    "The Drowned Reach",
			"logline":  "A salvager stakes her claim against the Guild that raised her.",
			"chapters": chapters,
		})
		if err != nil {
			return "", err
		}
		response = string(data)

	case strings.Contains(prompt, "plan the scenes"):
		response = fmt.Sprintf(`{"chapter_number": %d, "timeline_anchor": %d, "dependencies": %s, "scenes": [{"scene_number": 1, "title": "Approach", "objective": "reach the archive tower", "location": "the flooded quarter", "characters": ["Mira"]}, {"scene_number": 2, "title": "Turn", "objective": "the Guild stakes its counter-claim", "location": "the archive tower", "characters": ["Mira", "Joss"]}]}`,
			chapter, chapter*10, dependenciesFor(chapter))

	case strings.Contains(prompt, "write the full prose"):
		response = fmt.Sprintf(`{"chapter_number": %d, "chapter_title": "Tide %d", "scenes": [{"scene_number": 1, "content": "Mira poled through the flooded quarter as the tide slackened, chapter %d of her long claim."}, {"scene_number": 2, "content": "At the archive tower Joss was waiting, and the Guild's counter-claim with him."}]}`,
			chapter, chapter, chapter)

	case strings.Contains(prompt, "revise chapter"):
		response = fmt.Sprintf(`{"chapter_number": %d, "chapter_title": "Tide %d", "scenes": [{"scene_number": 1, "content": "Revised: Mira poled through the flooded quarter on the night's single tide."}, {"scene_number": 2, "content": "Revised: at the archive tower Joss was waiting with the counter-claim."}]}`,
			chapter, chapter)

	case strings.Contains(prompt, "review chapter"):
		response = fmt.Sprintf(`{"chapter_number": %d, "overall_score": 88, "issues": [], "summary": "consistent with the established tide rules"}`, chapter)

	default:
		return "", fmt.Errorf("mock client: unrecognized prompt")
	}

	var check any
	if err := json.Unmarshal([]byte(response), &check); err != nil {
		return "", fmt.Errorf("mock response is not valid JSON: %w", err)
	}
	return response, nil
}

func dependenciesFor(chapter int) string {
	if chapter <= 1 {
		return "[]"
	}
	return fmt.Sprintf("[%d]", chapter-1)
}

// firstInt returns the first unsigned integer appearing in s, or 0.
func firstInt(s string) int {
	n, started := 0, false
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n = n*10 + int(r-'0')
			started = true
			continue
		}
		if started {
			break
		}
	}
	return n
}
