// Package config loads environment configuration for the demo binary.
// The library itself never reads the environment: callers build a
// mnemex.Config value directly and this package only exists to populate
// one from .env for cmd/mnemex (spec.md §6.5, SPEC_FULL.md §A).
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Load reads the .env file named by MNEMEX_ENV (or .env by default), then
// its .secret sidecar if present. Missing files are not an error.
func Load() error {
	envFile := os.Getenv("MNEMEX_ENV")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")
	return nil
}

func DataDir() string {
	dir := os.Getenv("MNEMEX_DATA_DIR")
	if dir == "" {
		return "."
	}
	return dir
}

func Agent() string {
	agent := os.Getenv("MNEMEX_AGENT")
	if agent == "" {
		return "default"
	}
	return agent
}

// EmbeddingProvider returns the configured embedding provider.
// Defaults to "mock" if not set. Valid values: openai, mock.
func EmbeddingProvider() string {
	p := os.Getenv("EMBEDDING_PROVIDER")
	if p == "" {
		return "mock"
	}
	return p
}

// EmbeddingDimensions returns the pinned vector dimensionality.
// Defaults to 32, the MockClient's default, when not set or invalid.
func EmbeddingDimensions() int {
	dims, err := strconv.Atoi(os.Getenv("EMBEDDING_DIMENSIONS"))
	if err != nil || dims <= 0 {
		return 32
	}
	return dims
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

func GeminiAPIKey() string {
	return os.Getenv("GEMINI_API_KEY")
}

func CerebrasAPIKey() string {
	return os.Getenv("CEREBRAS_API_KEY")
}

// LLMProvider returns the configured LLM provider. Empty means "no LLM
// adapter configured" — reinforcement still works, contradiction
// resolution and truth resolution do not (spec.md §4.3/§4.6).
func LLMProvider() string {
	return os.Getenv("LLM_PROVIDER")
}

// LLMAPIKey returns the API key for the configured LLM provider.
func LLMAPIKey() string {
	switch LLMProvider() {
	case "anthropic":
		return AnthropicAPIKey()
	case "gemini":
		return GeminiAPIKey()
	case "cerebras":
		return CerebrasAPIKey()
	case "mock", "":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// ConsolidationMinEpisodes returns the default min_cluster_size for
// Consolidate. Defaults to 3 (spec.md §4.4) when unset or invalid.
func ConsolidationMinEpisodes() int {
	n, err := strconv.Atoi(os.Getenv("CONSOLIDATION_MIN_EPISODES"))
	if err != nil || n <= 0 {
		return 3
	}
	return n
}

// DecayDormantThreshold returns the default confidence floor Decay
// transitions below. Defaults to 0.10 (spec.md §4.7) when unset or invalid.
func DecayDormantThreshold() float64 {
	v, err := strconv.ParseFloat(os.Getenv("DECAY_DORMANT_THRESHOLD"), 64)
	if err != nil || v <= 0 {
		return 0.10
	}
	return v
}

// LogLevel returns the log level (debug, info, warn, error). Defaults to
// "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
