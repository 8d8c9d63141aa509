package story

import (
	"fmt"
	"strings"

	"p2v/server/internal/model"
)

// Mood categories in fixed order; ties go to the first category that
// reaches the maximum score.
var moodOrder = []string{"happy", "sad", "mysterious", "adventurous", "calm"}

var moodKeywords = map[string][]string{
	"happy":       {"happy", "joy", "celebrate", "laugh", "smile", "fun", "cheerful"},
	"sad":         {"sad", "cry", "tear", "grief", "loss", "death", "mourn", "sorrow"},
	"mysterious":  {"mystery", "secret", "hidden", "dark", "shadow", "unknown", "strange"},
	"adventurous": {"adventure", "journey", "quest", "battle", "fight", "hero", "explore"},
	"calm":        {"peace", "quiet", "gentle", "soft", "calm", "serene", "tranquil"},
}

// ClassifyMood scores the story text and title against the keyword
// categories and returns the best match, or "neutral" when nothing hits.
func ClassifyMood(storyText, storyTitle string) string {
	text := strings.ToLower(storyText + " " + storyTitle)

	best := ""
	bestScore := 0
	for _, mood := range moodOrder {
		score := 0
		for _, kw := range moodKeywords[mood] {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if score > bestScore {
			best = mood
			bestScore = score
		}
	}
	if bestScore == 0 {
		return "neutral"
	}
	return best
}

// BuildMusicPrompt composes the generation prompt for the music engine
// from the story, its mood and style, and per-scene themes.
func BuildMusicPrompt(title, storyText string, scenes []model.Scene, mood, style string) string {
	var themes []string
	seen := map[string]bool{}
	for _, scene := range scenes {
		words := strings.Fields(scene.Description)
		if len(words) > 5 {
			words = words[:5]
		}
		for _, w := range words {
			if !seen[w] {
				seen[w] = true
				themes = append(themes, w)
			}
		}
	}

	theme := storyText
	if len(theme) > 100 {
		theme = theme[:100]
	}

	parts := []string{
		fmt.Sprintf("Background music for a story titled '%s'", title),
		"Mood: " + mood,
		"Style: " + style,
		"Story theme: " + theme + "...",
	}
	if len(themes) > 0 {
		parts = append(parts, "Scene themes: "+strings.Join(themes, ", "))
	}
	parts = append(parts,
		"The music should be:",
		"- Non-intrusive and supportive of narration",
		"- Emotionally appropriate for the story content",
		"- Smooth transitions between different moods",
		"- Professional quality suitable for video production",
	)
	return strings.Join(parts, ". ")
}
