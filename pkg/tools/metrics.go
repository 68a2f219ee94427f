// Package tools tracks tool invocations: lifecycle events, token/cost
// estimation, the session cost guardrail, and the response cache.
package tools

import (
	"encoding/json"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CostMode marks every estimate as heuristic; there is no metered billing
// feed.
const CostMode = "estimate"

const (
	defaultInputPricePer1K  = 0.0005
	defaultOutputPricePer1K = 0.0020
)

var (
	asciiWordRe = regexp.MustCompile(`[A-Za-z0-9_]+`)
	cjkCharRe   = regexp.MustCompile(`[\x{4e00}-\x{9fff}]`)
	punctRe     = regexp.MustCompile(`[^\w\s\x{4e00}-\x{9fff}]`)

	modelNormRe = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// EstimateTokens approximates the token count of mixed Chinese/English
// text: ascii words weigh 1.3, CJK characters 1.5, punctuation 0.3.
// Non-empty text always counts at least one token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	ascii := float64(len(asciiWordRe.FindAllString(text, -1)))
	cjk := float64(len(cjkCharRe.FindAllString(text, -1)))
	punct := float64(len(punctRe.FindAllString(text, -1)))

	est := ascii*1.3 + cjk*1.5 + punct*0.3
	if est <= 0 {
		return 1
	}
	return int(math.Round(est))
}

// EstimatePayloadTokens estimates tokens for an arbitrary payload by
// serializing it to JSON (map keys sort deterministically).
func EstimatePayloadTokens(payload any) int {
	switch v := payload.(type) {
	case nil:
		return 0
	case string:
		return EstimateTokens(v)
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return 0
		}
		return EstimateTokens(string(data))
	}
}

// EstimateCost prices estimated tokens in USD, rounded half-up to six
// decimal places. Prices come from the environment with per-model
// overrides.
func EstimateCost(inputTokens, outputTokens int, modelName string) float64 {
	pIn := priceFor(modelName, "INPUT", defaultInputPricePer1K)
	pOut := priceFor(modelName, "OUTPUT", defaultOutputPricePer1K)
	cost := float64(inputTokens)/1000*pIn + float64(outputTokens)/1000*pOut
	return round6(cost)
}

func priceFor(modelName, direction string, fallback float64) float64 {
	if modelName != "" {
		norm := strings.ToUpper(modelNormRe.ReplaceAllString(modelName, "_"))
		key := "TOOL_ESTIMATED_PRICE_" + norm + "_" + direction + "_USD_PER_1K"
		if p, ok := envPrice(key); ok {
			return p
		}
	}
	key := "TOOL_ESTIMATED_" + direction + "_PRICE_USD_PER_1K"
	if p, ok := envPrice(key); ok {
		return p
	}
	return fallback
}

func envPrice(key string) (float64, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	p, err := strconv.ParseFloat(raw, 64)
	if err != nil || p < 0 {
		return 0, false
	}
	return p, true
}

// InvocationRow is one persisted tool invocation, as read back for
// aggregation.
type InvocationRow struct {
	AgentName        string
	Status           string
	DurationMs       int64
	EstimatedCostUSD float64
	CacheHit         bool
}

// AggregateMetrics rolls invocation rows into a session total plus
// per-agent breakdowns.
func AggregateMetrics(rows []InvocationRow) map[string]any {
	session := newBucket()
	byAgent := make(map[string]*bucket)

	for _, row := range rows {
		session.add(row)
		b, ok := byAgent[row.AgentName]
		if !ok {
			b = newBucket()
			byAgent[row.AgentName] = b
		}
		b.add(row)
	}

	agents := make(map[string]any, len(byAgent))
	for name, b := range byAgent {
		agents[name] = b.snapshot()
	}

	return map[string]any{
		"session":      session.snapshot(),
		"by_agent":     agents,
		"generated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
}

type bucket struct {
	totalCalls    int
	errorCount    int
	totalDuration int64
	totalCost     float64
	cacheHits     int
}

func newBucket() *bucket { return &bucket{} }

func (b *bucket) add(row InvocationRow) {
	b.totalCalls++
	if row.Status == "error" || row.Status == "failed" {
		b.errorCount++
	}
	b.totalDuration += row.DurationMs
	b.totalCost += row.EstimatedCostUSD
	if row.CacheHit {
		b.cacheHits++
	}
}

func (b *bucket) snapshot() map[string]any {
	var errorRate, avgDuration, cacheHitRate float64
	if b.totalCalls > 0 {
		errorRate = float64(b.errorCount) / float64(b.totalCalls)
		avgDuration = float64(b.totalDuration) / float64(b.totalCalls)
		cacheHitRate = float64(b.cacheHits) / float64(b.totalCalls)
	}
	return map[string]any{
		"total_calls":              b.totalCalls,
		"error_count":              b.errorCount,
		"error_rate":               round4(errorRate),
		"avg_duration_ms":          round2(avgDuration),
		"total_estimated_cost_usd": round6(b.totalCost),
		"cache_hit_count":          b.cacheHits,
		"cache_hit_rate":           round4(cacheHitRate),
		"cost_mode":                CostMode,
	}
}

func round2(v float64) float64 { return math.Round(v*1e2) / 1e2 }
func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
