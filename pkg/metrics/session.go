// Package metrics computes per-session demo metrics on demand: agent
// status counts, tool error rate, evidence coverage, and the composite
// stability score surfaced in status responses and roadshow exports.
package metrics

import (
	"math"
	"time"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

// Stability tiers.
const (
	StabilityHigh   = "high"
	StabilityMedium = "medium"
	StabilityLow    = "low"
)

// SessionInput is the raw material for one session's metrics. Event counts
// come from the workflow-event log; tool counts from the invocation rows.
type SessionInput struct {
	StartedAt   time.Time
	CompletedAt *time.Time

	AgentResults []models.AgentResult

	RetryCount         int
	GuardrailTriggered int
	AdaptiveDegraded   int

	ToolTotalCalls int
	ToolErrorCalls int

	EvidencePack map[string]any
}

// Compute derives the session metrics. Pure: identical inputs yield an
// identical projection.
func Compute(in SessionInput, now time.Time) map[string]any {
	var totalDurationMs int64
	switch {
	case in.CompletedAt != nil && !in.StartedAt.IsZero():
		totalDurationMs = in.CompletedAt.Sub(in.StartedAt).Milliseconds()
	case !in.StartedAt.IsZero():
		totalDurationMs = now.Sub(in.StartedAt).Milliseconds()
	}

	completed, degraded, failed := 0, 0, 0
	for _, r := range in.AgentResults {
		switch r.Status {
		case models.StatusCompleted:
			completed++
		case models.StatusDegraded:
			degraded++
		case models.StatusFailed:
			failed++
		}
	}

	toolErrorRate := 0.0
	if in.ToolTotalCalls > 0 {
		toolErrorRate = float64(in.ToolErrorCalls) / float64(in.ToolTotalCalls)
	}

	coverage := EvidenceCoverageRate(in.EvidencePack)
	score := StabilityScore(failed, degraded, in.GuardrailTriggered, in.AdaptiveDegraded, in.RetryCount, toolErrorRate)

	return map[string]any{
		"total_duration_ms":      totalDurationMs,
		"total_agents":           len(models.WorkerAgents),
		"completed_agents":       completed,
		"degraded_agents":        degraded,
		"failed_agents":          failed,
		"retry_count":            in.RetryCount,
		"guardrail_triggered":    in.GuardrailTriggered,
		"adaptive_degraded":      in.AdaptiveDegraded,
		"tool_total_calls":       in.ToolTotalCalls,
		"tool_error_calls":       in.ToolErrorCalls,
		"tool_error_rate":        round4(toolErrorRate),
		"evidence_coverage_rate": round4(coverage),
		"degrade_count":          failed + degraded,
		"degrade_breakdown": map[string]any{
			"agent_degraded_or_skipped":     failed + degraded,
			"guardrail_triggered":           in.GuardrailTriggered,
			"adaptive_concurrency_degraded": in.AdaptiveDegraded,
		},
		"stability_score": score,
		"stability_level": StabilityLevel(score),
	}
}

// StabilityScore is 100 minus the weighted penalty, clamped to [0, 100].
// Retry and tool-error penalties are capped so one noisy dimension cannot
// zero the score alone.
func StabilityScore(failedAgents, degradedAgents, guardrailTriggered, adaptiveDegraded, retryCount int, toolErrorRate float64) float64 {
	penalty := 30*float64(failedAgents) +
		12*float64(degradedAgents) +
		15*float64(guardrailTriggered) +
		6*float64(adaptiveDegraded) +
		math.Min(20, 2*float64(retryCount)) +
		math.Min(25, 25*toolErrorRate)
	score := 100 - penalty
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return round2(score)
}

// StabilityLevel tiers a score: >=85 high, >=65 medium, else low.
func StabilityLevel(score float64) string {
	switch {
	case score >= 85:
		return StabilityHigh
	case score >= 65:
		return StabilityMedium
	default:
		return StabilityLow
	}
}

// EvidenceCoverageRate is the share of evidence-pack claims backed by at
// least one source reference. Zero when the pack is absent or empty.
func EvidenceCoverageRate(pack map[string]any) float64 {
	if pack == nil {
		return 0
	}
	claims := claimList(pack["claims"])
	if len(claims) == 0 {
		return 0
	}
	covered := 0
	for _, claim := range claims {
		if len(sourceRefs(claim["source_refs"])) > 0 {
			covered++
		}
	}
	return float64(covered) / float64(len(claims))
}

// claimList tolerates both in-memory and JSON-decoded pack shapes.
func claimList(raw any) []map[string]any {
	switch v := raw.(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func sourceRefs(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
