// Package config loads runtime configuration from the environment, with an
// optional .env file for development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the resolved runtime configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string

	// Budget and concurrency limits.
	DefaultBudgetMS  int
	MaxBudgetMS      int
	MaxParallelNodes int

	// Per-source token-bucket refill rates.
	PubsRPS   float64
	TrialsRPS float64
	RAGRPS    float64

	// Cache and checkpoint retention.
	CacheTTL      time.Duration
	CheckpointTTL time.Duration

	// Checkpoint backend: "memory", "sqlite", or "mysql".
	CheckpointDriver string
	// CheckpointDSN is the SQLite path or MySQL DSN.
	CheckpointDSN string

	// Source endpoints.
	PubsBaseURL   string
	PubsAPIKey    string
	TrialsBaseURL string
	RAGBaseURL    string

	// LLM tier for intent parsing: "none", "anthropic", "openai", "google".
	LLMProvider     string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	LLMModel        string

	// Logging and tracing.
	LogLevel    string
	LogJSON     bool
	OTelEnabled bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:             envStr("ADDR", ":8080"),
		DefaultBudgetMS:  envInt("DEFAULT_BUDGET_MS", 5000),
		MaxBudgetMS:      envInt("MAX_BUDGET_MS", 30000),
		MaxParallelNodes: envInt("MAX_PARALLEL_NODES", 5),

		PubsRPS:   envFloat("PUBS_RPS", 2),
		TrialsRPS: envFloat("TRIALS_RPS", 2),
		RAGRPS:    envFloat("RAG_RPS", 3),

		CacheTTL:      time.Duration(envInt("CACHE_TTL_SECONDS", 3600)) * time.Second,
		CheckpointTTL: time.Duration(envInt("CHECKPOINT_TTL_HOURS", 168)) * time.Hour,

		CheckpointDriver: envStr("CHECKPOINT_DRIVER", "sqlite"),
		CheckpointDSN:    envStr("CHECKPOINT_DSN", "./bioquery.db"),

		PubsBaseURL:   envStr("PUBS_BASE_URL", "http://localhost:9001"),
		PubsAPIKey:    envStr("PUBS_API_KEY", ""),
		TrialsBaseURL: envStr("TRIALS_BASE_URL", "http://localhost:9002"),
		RAGBaseURL:    envStr("RAG_BASE_URL", "http://localhost:9003"),

		LLMProvider:     envStr("LLM_PROVIDER", "none"),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		GoogleAPIKey:    envStr("GOOGLE_API_KEY", ""),
		LLMModel:        envStr("LLM_MODEL", ""),

		LogLevel:    envStr("LOG_LEVEL", "info"),
		LogJSON:     envBool("LOG_JSON", false),
		OTelEnabled: envBool("OTEL_ENABLED", false),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
