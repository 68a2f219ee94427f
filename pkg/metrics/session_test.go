package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

func TestCompute_HealthySession(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)

	in := SessionInput{
		StartedAt:   started,
		CompletedAt: &completed,
		AgentResults: []models.AgentResult{
			{AgentName: models.AgentTrendScout, Status: models.StatusCompleted},
			{AgentName: models.AgentCompetitorAnalyst, Status: models.StatusCompleted},
			{AgentName: models.AgentRegulationChecker, Status: models.StatusCompleted},
			{AgentName: models.AgentSocialSentinel, Status: models.StatusCompleted},
		},
		ToolTotalCalls: 8,
		EvidencePack: map[string]any{
			"claims": []any{
				map[string]any{"source_refs": []any{"S001"}},
				map[string]any{"source_refs": []any{"S002"}},
			},
		},
	}

	m := Compute(in, completed)
	assert.Equal(t, int64(90000), m["total_duration_ms"])
	assert.Equal(t, 4, m["total_agents"])
	assert.Equal(t, 4, m["completed_agents"])
	assert.Equal(t, 0, m["failed_agents"])
	assert.Equal(t, 0, m["degrade_count"])
	assert.Equal(t, 1.0, m["evidence_coverage_rate"])
	assert.Equal(t, 100.0, m["stability_score"])
	assert.Equal(t, StabilityHigh, m["stability_level"])
}

func TestCompute_DegradedSession(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	in := SessionInput{
		StartedAt: started,
		AgentResults: []models.AgentResult{
			{Status: models.StatusCompleted},
			{Status: models.StatusCompleted},
			{Status: models.StatusDegraded},
			{Status: models.StatusFailed},
		},
		RetryCount:         3,
		GuardrailTriggered: 1,
		AdaptiveDegraded:   1,
		ToolTotalCalls:     10,
		ToolErrorCalls:     5,
	}

	m := Compute(in, started.Add(time.Minute))
	assert.Equal(t, int64(60000), m["total_duration_ms"], "running sessions measure against now")
	assert.Equal(t, 1, m["degraded_agents"])
	assert.Equal(t, 1, m["failed_agents"])
	assert.Equal(t, 2, m["degrade_count"])
	assert.Equal(t, 0.5, m["tool_error_rate"])

	// 30 + 12 + 15 + 6 + min(20, 6) + min(25, 12.5) = 81.5 penalty.
	assert.Equal(t, 18.5, m["stability_score"])
	assert.Equal(t, StabilityLow, m["stability_level"])

	breakdown := m["degrade_breakdown"].(map[string]any)
	assert.Equal(t, 2, breakdown["agent_degraded_or_skipped"])
	assert.Equal(t, 1, breakdown["guardrail_triggered"])
	assert.Equal(t, 1, breakdown["adaptive_concurrency_degraded"])
}

func TestStabilityScore_Clamped(t *testing.T) {
	assert.Equal(t, 0.0, StabilityScore(4, 4, 4, 4, 100, 1.0))
	assert.Equal(t, 100.0, StabilityScore(0, 0, 0, 0, 0, 0))
}

func TestStabilityScore_PenaltyCaps(t *testing.T) {
	// Retries cap at 20 points: 50 retries score the same as 10.
	assert.Equal(t, StabilityScore(0, 0, 0, 0, 10, 0), StabilityScore(0, 0, 0, 0, 50, 0))
	// Tool error penalty caps at 25 points.
	assert.Equal(t, 75.0, StabilityScore(0, 0, 0, 0, 0, 1.0))
}

func TestStabilityLevel_Tiers(t *testing.T) {
	assert.Equal(t, StabilityHigh, StabilityLevel(85))
	assert.Equal(t, StabilityMedium, StabilityLevel(84.99))
	assert.Equal(t, StabilityMedium, StabilityLevel(65))
	assert.Equal(t, StabilityLow, StabilityLevel(64.99))
}

func TestEvidenceCoverageRate(t *testing.T) {
	assert.Equal(t, 0.0, EvidenceCoverageRate(nil))
	assert.Equal(t, 0.0, EvidenceCoverageRate(map[string]any{}))
	assert.Equal(t, 0.0, EvidenceCoverageRate(map[string]any{"claims": []any{}}))

	pack := map[string]any{
		"claims": []any{
			map[string]any{"source_refs": []any{"S001", "S002"}},
			map[string]any{"source_refs": []any{}},
			map[string]any{},
			map[string]any{"source_refs": []any{"S003"}},
		},
	}
	assert.Equal(t, 0.5, EvidenceCoverageRate(pack))

	// In-memory shape, before a JSON round-trip.
	native := map[string]any{
		"claims": []map[string]any{
			{"source_refs": []string{"S001"}},
			{"source_refs": []string{}},
		},
	}
	assert.Equal(t, 0.5, EvidenceCoverageRate(native))
}

func TestCompute_Deterministic(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(time.Minute)
	in := SessionInput{
		StartedAt:   started,
		CompletedAt: &completed,
		AgentResults: []models.AgentResult{
			{Status: models.StatusCompleted},
		},
		RetryCount: 1,
	}
	now := completed.Add(time.Hour)
	require.Equal(t, Compute(in, now), Compute(in, now))
}
