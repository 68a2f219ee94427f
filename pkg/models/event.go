package models

import "time"

// Workflow event types pushed over SSE and fed to the event sink.
const (
	EventOrchestratorStart = "orchestrator_start"
	EventOrchestratorEnd   = "orchestrator_end"
	EventGatherComplete    = "gather_complete"

	EventAgentStart    = "agent_start"
	EventAgentChunk    = "agent_chunk"
	EventAgentThinking = "agent_thinking"
	EventAgentEnd      = "agent_end"
	EventAgentError    = "agent_error"

	EventRetry               = "retry"
	EventAdaptiveConcurrency = "adaptive_concurrency"

	EventDebateRoundStart  = "debate_round_start"
	EventDebateRoundEnd    = "debate_round_end"
	EventAgentChallenge    = "agent_challenge"
	EventAgentChallengeEnd = "agent_challenge_end"
	EventAgentRespond      = "agent_respond"
	EventAgentRespondEnd   = "agent_respond_end"
	EventAgentFollowup     = "agent_followup"
	EventAgentFollowupEnd  = "agent_followup_end"

	EventToolStart          = "tool_start"
	EventToolEnd            = "tool_end"
	EventToolError          = "tool_error"
	EventGuardrailTriggered = "guardrail_triggered"

	EventError = "error"

	// High-frequency streaming deltas. Forwarded over SSE but never
	// persisted to workflow_events.
	EventChallengeChunk = "challenge_chunk"
	EventRespondChunk   = "respond_chunk"
	EventFollowupChunk  = "followup_chunk"
)

// Event is a single workflow event. Events carry heterogeneous payloads
// keyed by event type; "event" and "timestamp" are always present.
type Event map[string]any

// NewEvent builds an event of the given type, stamping the timestamp.
func NewEvent(eventType string, fields map[string]any) Event {
	e := Event{
		"event":     eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		e[k] = v
	}
	return e
}

// Type returns the event type, or "" when malformed.
func (e Event) Type() string {
	t, _ := e["event"].(string)
	return t
}

// Str returns a string field, or "" when absent or not a string.
func (e Event) Str(key string) string {
	v, _ := e[key].(string)
	return v
}

// chunkEventTypes are the delta events excluded from persistence.
var chunkEventTypes = map[string]struct{}{
	EventAgentChunk:     {},
	EventAgentThinking:  {},
	EventChallengeChunk: {},
	EventRespondChunk:   {},
	EventFollowupChunk:  {},
}

// IsChunkEvent reports whether eventType is a high-frequency delta event
// that must never be written to the workflow_events table.
func IsChunkEvent(eventType string) bool {
	_, ok := chunkEventTypes[eventType]
	return ok
}
