package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardrail_CostTrip(t *testing.T) {
	g := NewGuardrail(GuardrailConfig{MaxEstimatedCostUSD: 0.1, MaxErrorRate: 0.9, MinCallsForErrorRate: 100})

	g.Record("s1", "completed", 0.05)
	reason, tripped := g.Evaluate("s1")
	assert.False(t, tripped)
	assert.Empty(t, reason)

	g.Record("s1", "completed", 0.06)
	reason, tripped = g.Evaluate("s1")
	assert.True(t, tripped)
	assert.Equal(t, ReasonCostExceeded, reason)
	assert.True(t, g.WebsearchDisabled("s1"))
}

func TestGuardrail_ErrorRateTripRequiresMinCalls(t *testing.T) {
	g := NewGuardrail(GuardrailConfig{MaxEstimatedCostUSD: 100, MaxErrorRate: 0.5, MinCallsForErrorRate: 5})

	// 4 errors out of 4 calls: rate over the bar, but below min calls.
	for i := 0; i < 4; i++ {
		g.Record("s1", "error", 0)
	}
	_, tripped := g.Evaluate("s1")
	assert.False(t, tripped)

	g.Record("s1", "error", 0)
	reason, tripped := g.Evaluate("s1")
	assert.True(t, tripped)
	assert.Equal(t, ReasonErrorRateExceeded, reason)
}

func TestGuardrail_ErrorRateAtThresholdDoesNotTrip(t *testing.T) {
	g := NewGuardrail(GuardrailConfig{MaxEstimatedCostUSD: 100, MaxErrorRate: 0.5, MinCallsForErrorRate: 4})

	// Exactly 50% errors: the rate must exceed, not meet, the threshold.
	g.Record("s1", "error", 0)
	g.Record("s1", "completed", 0)
	g.Record("s1", "error", 0)
	g.Record("s1", "completed", 0)
	_, tripped := g.Evaluate("s1")
	assert.False(t, tripped)
}

func TestGuardrail_MarkTriggeredOnce(t *testing.T) {
	g := NewGuardrail(GuardrailConfig{})
	assert.True(t, g.MarkTriggered("s1"))
	assert.False(t, g.MarkTriggered("s1"))
	assert.True(t, g.MarkTriggered("s2"))
}

func TestGuardrail_SessionsAreIsolated(t *testing.T) {
	g := NewGuardrail(GuardrailConfig{MaxEstimatedCostUSD: 0.1, MaxErrorRate: 0.5, MinCallsForErrorRate: 5})
	g.Record("expensive", "completed", 1.0)
	_, tripped := g.Evaluate("expensive")
	require.True(t, tripped)

	assert.False(t, g.WebsearchDisabled("frugal"))
	_, tripped = g.Evaluate("frugal")
	assert.False(t, tripped)
}

func TestGuardrail_Stats(t *testing.T) {
	g := NewGuardrail(GuardrailConfig{})
	g.Record("s1", "completed", 0.01)
	g.Record("s1", "error", 0.02)

	stats := g.Stats("s1")
	assert.Equal(t, 2, stats["total_calls"])
	assert.Equal(t, 0.5, stats["error_rate"])
	assert.Equal(t, 0.03, stats["estimated_cost_usd"])

	empty := g.Stats("unseen")
	assert.Equal(t, 0, empty["total_calls"])
}
