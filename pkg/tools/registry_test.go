package tools

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

func newCaptureRegistry(sessionID string, g *Guardrail) (*Registry, *[]models.Event) {
	captured := []models.Event{}
	reg := NewRegistry(sessionID, func(ev models.Event) {
		captured = append(captured, ev)
	}, g)
	return reg, &captured
}

func TestRegistry_SuccessfulInvocation(t *testing.T) {
	reg, events := newCaptureRegistry("s1", nil)

	id := reg.BeginInvocation("web_search", "trend_scout", "gather", "m1", false, map[string]any{"q": "trends"})
	require.NotEmpty(t, id)
	reg.EndInvocation(id, map[string]any{"sources": []string{"a", "b"}}, []string{"a", "b"})

	require.Len(t, *events, 2)
	start := (*events)[0]
	assert.Equal(t, models.EventToolStart, start.Type())
	assert.Equal(t, id, start.Str("invocation_id"))
	assert.Equal(t, "web_search", start.Str("tool"))
	assert.Equal(t, "trend_scout", start.Str("agent"))
	assert.Equal(t, false, start["cache_hit"])

	end := (*events)[1]
	assert.Equal(t, models.EventToolEnd, end.Type())
	assert.Equal(t, models.StatusCompleted, end.Str("status"))
	assert.Equal(t, 2, end["sources_count"])
	assert.Equal(t, CostMode, end.Str("cost_mode"))
	assert.Greater(t, end["estimated_input_tokens"].(int), 0)
	assert.GreaterOrEqual(t, end["estimated_cost_usd"].(float64), 0.0)
}

func TestRegistry_ErrorInvocation(t *testing.T) {
	reg, events := newCaptureRegistry("s1", nil)

	id := reg.BeginInvocation("web_search", "social_sentinel", "gather", "m1", false, nil)
	reg.ErrorInvocation(id, errors.New("upstream timeout"))

	require.Len(t, *events, 2)
	errEv := (*events)[1]
	assert.Equal(t, models.EventToolError, errEv.Type())
	assert.Equal(t, "error", errEv.Str("status"))
	assert.Equal(t, "upstream timeout", errEv.Str("error"))
}

func TestRegistry_UnknownInvocationIDGetsFallback(t *testing.T) {
	reg, events := newCaptureRegistry("s1", nil)
	reg.EndInvocation("never-started", nil, nil)

	require.Len(t, *events, 1)
	assert.Equal(t, "unknown", (*events)[0].Str("tool"))
}

func TestRegistry_GuardrailTripsOnceAndDisablesWebsearch(t *testing.T) {
	g := NewGuardrail(GuardrailConfig{MaxEstimatedCostUSD: 100, MaxErrorRate: 0.5, MinCallsForErrorRate: 3})
	reg, events := newCaptureRegistry("s1", g)

	assert.True(t, reg.ShouldEnableWebsearch(true))
	assert.False(t, reg.ShouldEnableWebsearch(false))

	for i := 0; i < 4; i++ {
		id := reg.BeginInvocation("web_search", "trend_scout", "gather", "m1", false, nil)
		reg.ErrorInvocation(id, errors.New("boom"))
	}

	triggered := []models.Event{}
	for _, ev := range *events {
		if ev.Type() == models.EventGuardrailTriggered {
			triggered = append(triggered, ev)
		}
	}
	require.Len(t, triggered, 1, "guardrail fires exactly once per session")
	assert.Equal(t, GuardrailAction, triggered[0].Str("action"))
	assert.Equal(t, ReasonErrorRateExceeded, triggered[0].Str("reason"))
	assert.NotNil(t, triggered[0]["stats"])

	assert.False(t, reg.ShouldEnableWebsearch(true))
}

func TestRegistry_NilEmitIsSafe(t *testing.T) {
	reg := NewRegistry("s1", nil, nil)
	id := reg.BeginInvocation("web_search", "a", "gather", "m", false, nil)
	reg.EndInvocation(id, nil, nil)
}
