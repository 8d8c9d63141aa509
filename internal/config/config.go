package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr      string
	OutputDir string

	GeminiAPIKey     string
	GeminiModel      string
	ElevenLabsAPIKey string
	SunoAPIKey       string

	DefaultVoiceID    string
	DefaultImageSize  string
	DefaultImageStyle string
	DefaultMusicStyle string
	MusicDurationSec  int

	MaxRetries     int
	RetryBaseDelay time.Duration

	// Narration text beyond this many characters is chunked at sentence
	// boundaries; only the first chunk is synthesized.
	NarrationChunkChars int
}

func Load() Config {
	// Missing .env is fine; plain environment variables still apply.
	_ = godotenv.Load()

	return Config{
		Addr:                env("P2V_ADDR", ":8000"),
		OutputDir:           env("P2V_OUTPUT_DIR", "save_outputs"),
		GeminiAPIKey:        env("GEMINI_API_KEY", ""),
		GeminiModel:         env("GEMINI_MODEL", "gemini-1.5-flash"),
		ElevenLabsAPIKey:    env("ELEVENLABS_API_KEY", ""),
		SunoAPIKey:          env("SUNO_API_KEY", ""),
		DefaultVoiceID:      env("P2V_DEFAULT_VOICE", "21m00Tcm4TlvDq8ikWAM"),
		DefaultImageSize:    env("P2V_DEFAULT_IMAGE_SIZE", "1024x1024"),
		DefaultImageStyle:   env("P2V_DEFAULT_IMAGE_STYLE", "realistic"),
		DefaultMusicStyle:   env("P2V_DEFAULT_MUSIC_STYLE", "orchestral"),
		MusicDurationSec:    envInt("P2V_MUSIC_DURATION_SEC", 120),
		MaxRetries:          envInt("P2V_MAX_RETRIES", 3),
		RetryBaseDelay:      envDuration("P2V_RETRY_BASE_DELAY", time.Second),
		NarrationChunkChars: envInt("P2V_NARRATION_CHUNK_CHARS", 2500),
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
