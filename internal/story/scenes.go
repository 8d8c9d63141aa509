package story

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"p2v/server/internal/model"
)

const DefaultSceneDuration = 5

var jsonBlockRe = regexp.MustCompile(`(?s)\{.*\}`)

type sceneDoc struct {
	Scenes []struct {
		SceneNumber int    `json:"scene_number"`
		Description string `json:"description"`
		Prompt      string `json:"prompt"`
		Duration    int    `json:"duration"`
	} `json:"scenes"`
}

// ParseScenes extracts a scene list from raw model output. It tries a
// strict parse of the first JSON object in the text and falls back to a
// deterministic sentence-split segmentation; it never returns an error.
// The result is normalized: sequential 1-based numbers, positive
// durations, at most maxScenes entries.
func ParseScenes(raw string, maxScenes int) []model.Scene {
	scenes := parseJSONScenes(raw)
	if len(scenes) == 0 {
		scenes = FallbackScenes(raw, maxScenes)
	}
	if len(scenes) > maxScenes {
		scenes = scenes[:maxScenes]
	}
	return normalize(scenes)
}

func parseJSONScenes(raw string) []model.Scene {
	match := jsonBlockRe.FindString(stripFences(raw))
	if match == "" {
		return nil
	}
	var doc sceneDoc
	if err := json.Unmarshal([]byte(match), &doc); err != nil {
		return nil
	}
	scenes := make([]model.Scene, 0, len(doc.Scenes))
	for _, sc := range doc.Scenes {
		if sc.Description == "" && sc.Prompt == "" {
			continue
		}
		scenes = append(scenes, model.Scene{
			Number:          sc.SceneNumber,
			Description:     sc.Description,
			ImagePrompt:     sc.Prompt,
			DurationSeconds: sc.Duration,
		})
	}
	return scenes
}

// FallbackScenes segments free text into basic scenes, one per sentence,
// capped at maxScenes.
func FallbackScenes(text string, maxScenes int) []model.Scene {
	sentences := SplitSentences(text)
	n := len(sentences)
	if n > maxScenes {
		n = maxScenes
	}
	scenes := make([]model.Scene, 0, n)
	for i := 0; i < n; i++ {
		sentence := sentences[i]
		description := sentence
		if len(description) > 100 {
			description = description[:100] + "..."
		}
		scenes = append(scenes, model.Scene{
			Number:          i + 1,
			Description:     description,
			ImagePrompt:     fmt.Sprintf("Scene %d: %s", i+1, sentence),
			DurationSeconds: DefaultSceneDuration,
		})
	}
	return scenes
}

// PadScenes extends a scene list with deterministic placeholders so the
// result has exactly target entries with sequential unique numbers. It
// never removes scenes the model produced.
func PadScenes(scenes []model.Scene, target int) []model.Scene {
	out := normalize(scenes)
	for len(out) < target {
		number := len(out) + 1
		out = append(out, model.Scene{
			Number:          number,
			Description:     fmt.Sprintf("Additional scene %d", number),
			ImagePrompt:     fmt.Sprintf("Scene %d: Continuation of the story", number),
			DurationSeconds: DefaultSceneDuration,
		})
	}
	return out
}

func normalize(scenes []model.Scene) []model.Scene {
	out := make([]model.Scene, len(scenes))
	copy(out, scenes)
	for i := range out {
		out[i].Number = i + 1
		if out[i].DurationSeconds <= 0 {
			out[i].DurationSeconds = DefaultSceneDuration
		}
	}
	return out
}

// SplitSentences breaks text at period boundaries, dropping empties.
func SplitSentences(text string) []string {
	parts := strings.Split(text, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// ExtractJSONObject returns the first JSON object embedded in raw model
// output, with markdown fences stripped, or "" when none is present.
func ExtractJSONObject(raw string) string {
	return jsonBlockRe.FindString(stripFences(raw))
}
