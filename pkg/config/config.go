// Package config holds the engine settings and the per-agent model,
// thinking-mode, and websearch assignments.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Settings is the flat, env-driven application configuration.
type Settings struct {
	// Model gateway (OpenAI-compatible endpoint).
	GatewayAPIKey  string
	GatewayBaseURL string
	GatewayTimeout time.Duration
	ConnectTimeout time.Duration

	DefaultModel string

	// Workflow defaults.
	DefaultDebateRounds int
	EnableFollowup      bool

	// Tool guardrail thresholds.
	MaxEstimatedCostUSD  float64
	MaxToolErrorRate     float64
	MinCallsForErrorRate int

	// Tool response cache.
	ToolCacheTTL     time.Duration
	ToolCacheMaxSize int

	// Where HTML reports and export bundles are written.
	ArtifactsDir string

	LogLevel string
}

// LoadFromEnv reads settings from environment variables, applying defaults.
// The gateway key may be empty at startup; the LLM client enforces it at
// call time so health checks work on an unconfigured instance.
func LoadFromEnv() (Settings, error) {
	timeout, err := envSeconds("ARK_TIMEOUT_SECONDS", 120)
	if err != nil {
		return Settings{}, err
	}
	connectTimeout, err := envSeconds("ARK_CONNECT_TIMEOUT_SECONDS", 20)
	if err != nil {
		return Settings{}, err
	}

	rounds, err := envInt("DEFAULT_DEBATE_ROUNDS", 2)
	if err != nil {
		return Settings{}, err
	}

	cacheTTL, err := envSeconds("TOOL_CACHE_TTL_SECONDS", 300)
	if err != nil {
		return Settings{}, err
	}
	cacheSize, err := envInt("TOOL_CACHE_MAX_SIZE", 128)
	if err != nil {
		return Settings{}, err
	}

	maxCost, err := envFloat("TOOL_GUARDRAIL_MAX_COST_USD", 0.5)
	if err != nil {
		return Settings{}, err
	}
	maxErrRate, err := envFloat("TOOL_GUARDRAIL_MAX_ERROR_RATE", 0.5)
	if err != nil {
		return Settings{}, err
	}
	minCalls, err := envInt("TOOL_GUARDRAIL_MIN_CALLS", 5)
	if err != nil {
		return Settings{}, err
	}

	return Settings{
		GatewayAPIKey:        os.Getenv("ARK_API_KEY"),
		GatewayBaseURL:       envString("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		GatewayTimeout:       timeout,
		ConnectTimeout:       connectTimeout,
		DefaultModel:         envString("DEFAULT_MODEL", "doubao-seed-1-6-250615"),
		DefaultDebateRounds:  rounds,
		EnableFollowup:       envBool("ENABLE_FOLLOWUP_RESPONSE", true),
		MaxEstimatedCostUSD:  maxCost,
		MaxToolErrorRate:     maxErrRate,
		MinCallsForErrorRate: minCalls,
		ToolCacheTTL:         cacheTTL,
		ToolCacheMaxSize:     cacheSize,
		ArtifactsDir:         envString("ARTIFACTS_DIR", "./artifacts"),
		LogLevel:             envString("LOG_LEVEL", "INFO"),
	}, nil
}

func envString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func envSeconds(key string, defaultSeconds int) (time.Duration, error) {
	n, err := envInt(key, defaultSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
