package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventAgentStart, map[string]any{"agent": AgentTrendScout})
	assert.Equal(t, EventAgentStart, e.Type())
	assert.Equal(t, AgentTrendScout, e.Str("agent"))
	assert.NotEmpty(t, e.Str("timestamp"))

	assert.Empty(t, Event{}.Type())
	assert.Empty(t, e.Str("missing"))
	assert.Empty(t, Event{"agent": 42}.Str("agent"))
}

func TestIsChunkEvent(t *testing.T) {
	for _, chunk := range []string{
		EventAgentChunk, EventAgentThinking,
		EventChallengeChunk, EventRespondChunk, EventFollowupChunk,
	} {
		assert.True(t, IsChunkEvent(chunk), chunk)
	}
	assert.False(t, IsChunkEvent(EventAgentStart))
	assert.False(t, IsChunkEvent(EventToolEnd))
	assert.False(t, IsChunkEvent(""))
}

func TestDegradeModeValid(t *testing.T) {
	assert.True(t, DegradeSkip.Valid())
	assert.True(t, DegradePartial.Valid())
	assert.True(t, DegradeFail.Valid())
	assert.False(t, DegradeMode("").Valid())
	assert.False(t, DegradeMode("abort").Valid())
}

func TestGraphState_ResultFor(t *testing.T) {
	st := &GraphState{
		AgentResults: []AgentResult{
			{AgentName: AgentTrendScout, Content: "a"},
			{AgentName: AgentSocialSentinel, Content: "b"},
		},
	}

	r := st.ResultFor(AgentSocialSentinel)
	require.NotNil(t, r)
	assert.Equal(t, "b", r.Content)

	// The pointer aliases the live slice entry.
	r.Content = "updated"
	assert.Equal(t, "updated", st.AgentResults[1].Content)

	assert.Nil(t, st.ResultFor("missing"))
}

func TestGraphState_Clone(t *testing.T) {
	st := &GraphState{
		SessionID:       "sess-1",
		AgentResults:    []AgentResult{{AgentName: AgentTrendScout}},
		DebateExchanges: []DebateExchange{{RoundNumber: 1}},
		EvidencePack:    map[string]any{"version": "v1"},
	}

	clone := st.Clone()
	require.Equal(t, st.SessionID, clone.SessionID)

	// Mutating the clone leaves the original untouched.
	clone.AgentResults = append(clone.AgentResults, AgentResult{AgentName: AgentSocialSentinel})
	clone.AgentResults[0].AgentName = "changed"
	clone.DebateExchanges[0].RoundNumber = 9
	clone.EvidencePack["version"] = "v2"

	assert.Len(t, st.AgentResults, 1)
	assert.Equal(t, AgentTrendScout, st.AgentResults[0].AgentName)
	assert.Equal(t, 1, st.DebateExchanges[0].RoundNumber)
	assert.Equal(t, "v1", st.EvidencePack["version"])

	assert.Nil(t, (&GraphState{}).Clone().AgentResults)
}
