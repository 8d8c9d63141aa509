package story

import "strings"

// Speaking rate used to estimate narration duration from word count
// instead of decoding the audio.
const wordsPerMinute = 150

// EstimateNarrationSeconds returns the expected spoken duration of text.
func EstimateNarrationSeconds(text string) float64 {
	words := len(strings.Fields(text))
	return float64(words) / wordsPerMinute * 60
}

// SplitChunks breaks text at sentence boundaries into chunks not exceeding
// maxChars. A single sentence longer than maxChars becomes its own chunk.
func SplitChunks(text string, maxChars int) []string {
	if len(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	for _, sentence := range SplitSentences(text) {
		piece := sentence + ". "
		if current.Len() > 0 && current.Len()+len(piece) > maxChars {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		current.WriteString(piece)
	}
	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}

// OptimizeForSpeech normalizes whitespace and expands abbreviations the
// synthesis engines mispronounce, adding pauses after sentence ends.
func OptimizeForSpeech(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	// Expand before pause insertion so "Mr. Smith" does not gain a pause.
	text = strings.ReplaceAll(text, "Mrs.", "Missus")
	text = strings.ReplaceAll(text, "Mr.", "Mister")
	text = strings.ReplaceAll(text, "Dr.", "Doctor")
	text = strings.ReplaceAll(text, ". ", ". ... ")
	text = strings.ReplaceAll(text, "! ", "! ... ")
	text = strings.ReplaceAll(text, "? ", "? ... ")
	return text
}
