package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"p2v/server/internal/model"
	"p2v/server/internal/story"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	enhancerSystemPrompt  = "You are a professional story writer and creative director specializing in video storytelling."
	segmenterSystemPrompt = "You are a professional story analyst and JSON formatter."
)

// GeminiEngine is the production TextEngine backed by Google Gemini.
type GeminiEngine struct {
	client    *genai.Client
	modelName string
}

func NewGeminiEngine(ctx context.Context, apiKey, modelName string) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiEngine{client: client, modelName: modelName}, nil
}

func (g *GeminiEngine) Close() error {
	return g.client.Close()
}

func (g *GeminiEngine) EnhanceStory(ctx context.Context, in EnhanceInput) (EnhanceOutput, *Error) {
	raw, gErr := g.generate(ctx, enhancerSystemPrompt, enhancementPrompt(in))
	if gErr != nil {
		return EnhanceOutput{}, gErr
	}

	var doc struct {
		EnhancedStory    string   `json:"enhanced_story"`
		StoryTitle       string   `json:"story_title"`
		EnhancementNotes []string `json:"enhancement_notes"`
	}
	if blob := story.ExtractJSONObject(raw); blob != "" {
		if err := json.Unmarshal([]byte(blob), &doc); err == nil && doc.EnhancedStory != "" {
			return EnhanceOutput{Story: doc.EnhancedStory, Title: doc.StoryTitle, Notes: doc.EnhancementNotes}, nil
		}
	}

	// Unstructured reply: treat the whole text as the story.
	title := in.Title
	if title == "" {
		title = "Enhanced Story"
	}
	return EnhanceOutput{
		Story: strings.TrimSpace(raw),
		Title: title,
		Notes: []string{"Used fallback enhancement due to parsing error"},
	}, nil
}

func (g *GeminiEngine) SegmentScenes(ctx context.Context, in SegmentInput) ([]model.Scene, *Error) {
	raw, gErr := g.generate(ctx, segmenterSystemPrompt, segmentationPrompt(in))
	if gErr != nil {
		return nil, gErr
	}
	return story.ParseScenes(raw, in.MaxScenes), nil
}

func (g *GeminiEngine) generate(ctx context.Context, system, prompt string) (string, *Error) {
	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(0.1)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classifyGeminiError(err)
	}
	text, err := extractText(resp)
	if err != nil {
		return "", Terminal(KindContentPolicy, "EMPTY_RESPONSE", err.Error())
	}
	return text, nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}
	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

func classifyGeminiError(err error) *Error {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "api key") || strings.Contains(lower, "unauthenticated") || strings.Contains(lower, "permission"):
		return Terminal(KindAuthentication, "GEMINI_AUTH", msg)
	case strings.Contains(lower, "safety") || strings.Contains(lower, "blocked"):
		return Terminal(KindContentPolicy, "GEMINI_BLOCKED", msg)
	case strings.Contains(lower, "quota") || strings.Contains(lower, "rate") || strings.Contains(lower, "deadline") || strings.Contains(lower, "unavailable") || strings.Contains(lower, "internal"):
		return Transient("GEMINI_UPSTREAM", msg)
	default:
		return Terminal(KindUnknown, "GEMINI_ERROR", msg)
	}
}

func enhancementPrompt(in EnhanceInput) string {
	return fmt.Sprintf(`You are a professional story writer and creative director. Your task is to enhance a user's story prompt into a complete, engaging story that can be turned into a video.

User's Original Prompt: %q

Instructions:
1. Expand the user's prompt into a complete story (300-500 words)
2. Add rich details, character development, and engaging plot elements
3. Ensure the story has a clear beginning, middle, and end
4. Make it suitable for visual storytelling with distinct scenes
5. Create a compelling title if none provided
6. Ensure the story can be broken down into %d clear scenes

Output Format (JSON):
{
    "enhanced_story": "Complete enhanced story text...",
    "story_title": "Compelling story title",
    "estimated_scenes": %d,
    "enhancement_notes": ["..."]
}

Make the story engaging, visual, and ready for video production.`, in.Prompt, in.MaxScenes, in.MaxScenes)
}

func segmentationPrompt(in SegmentInput) string {
	return fmt.Sprintf(`You are an expert story analyst and video director. Break down the following story into exactly %d key scenes for a video.

STORY DETAILS:
Title: %s
Story: %s

SCENE REQUIREMENTS:
- Scene descriptions: clear, concise summaries (1-2 sentences)
- Image prompts: detailed visual descriptions suitable for AI image generation
- Duration: each scene is 5 seconds
- Scene numbers sequential starting at 1

OUTPUT FORMAT (valid JSON only):
{
    "scenes": [
        {"scene_number": 1, "description": "...", "prompt": "...", "duration": 5}
    ]
}

Return ONLY valid JSON with no additional text.`, in.MaxScenes, in.Title, in.Story)
}
