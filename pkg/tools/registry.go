package tools

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

// EmitFunc forwards a workflow event to the session's stream.
type EmitFunc func(models.Event)

// Registry tracks in-flight tool invocations for one session run, emitting
// tool_start / tool_end / tool_error events and applying the guardrail
// after every completed invocation.
type Registry struct {
	sessionID string
	emit      EmitFunc
	guardrail *Guardrail

	mu      sync.Mutex
	pending map[string]*invocationState
}

type invocationState struct {
	tool        string
	agentName   string
	callContext string
	modelName   string
	cacheHit    bool
	input       map[string]any
	startedAt   time.Time
}

// NewRegistry builds a per-session registry. The guardrail is shared
// across sessions; the emit hook is this session's event writer.
func NewRegistry(sessionID string, emit EmitFunc, guardrail *Guardrail) *Registry {
	if emit == nil {
		emit = func(models.Event) {}
	}
	return &Registry{
		sessionID: sessionID,
		emit:      emit,
		guardrail: guardrail,
		pending:   make(map[string]*invocationState),
	}
}

// BeginInvocation opens an invocation and emits tool_start. The returned
// id must be passed to EndInvocation or ErrorInvocation.
func (r *Registry) BeginInvocation(tool, agentName, callContext, modelName string, cacheHit bool, input map[string]any) string {
	invocationID := uuid.NewString()
	state := &invocationState{
		tool:        tool,
		agentName:   agentName,
		callContext: callContext,
		modelName:   modelName,
		cacheHit:    cacheHit,
		input:       input,
		startedAt:   time.Now(),
	}

	r.mu.Lock()
	r.pending[invocationID] = state
	r.mu.Unlock()

	r.emit(models.NewEvent(models.EventToolStart, map[string]any{
		"session_id":    r.sessionID,
		"invocation_id": invocationID,
		"tool":          state.tool,
		"agent":         state.agentName,
		"context":       state.callContext,
		"model_name":    state.modelName,
		"cache_hit":     state.cacheHit,
		"input":         state.input,
		"started_at":    state.startedAt.UTC().Format(time.RFC3339Nano),
	}))
	return invocationID
}

// EndInvocation closes an invocation successfully, emitting tool_end with
// estimated token/cost metrics and the source count.
func (r *Registry) EndInvocation(invocationID string, output map[string]any, sources []string) {
	state := r.popOrFallback(invocationID)
	finishedAt := time.Now()

	inTokens := EstimatePayloadTokens(state.input)
	outTokens := EstimatePayloadTokens(output)
	cost := EstimateCost(inTokens, outTokens, state.modelName)

	r.emit(models.NewEvent(models.EventToolEnd, map[string]any{
		"session_id":              r.sessionID,
		"invocation_id":           invocationID,
		"tool":                    state.tool,
		"agent":                   state.agentName,
		"context":                 state.callContext,
		"model_name":              state.modelName,
		"cache_hit":               state.cacheHit,
		"status":                  models.StatusCompleted,
		"output":                  output,
		"estimated_input_tokens":  inTokens,
		"estimated_output_tokens": outTokens,
		"estimated_cost_usd":      cost,
		"cost_mode":               CostMode,
		"sources_count":           len(sources),
		"duration_ms":             finishedAt.Sub(state.startedAt).Milliseconds(),
		"started_at":              state.startedAt.UTC().Format(time.RFC3339Nano),
		"finished_at":             finishedAt.UTC().Format(time.RFC3339Nano),
	}))

	r.applyGuardrail(models.StatusCompleted, cost)
}

// ErrorInvocation closes an invocation with an error, emitting tool_error.
func (r *Registry) ErrorInvocation(invocationID string, callErr error) {
	state := r.popOrFallback(invocationID)
	finishedAt := time.Now()

	errMsg := ""
	if callErr != nil {
		errMsg = callErr.Error()
	}

	inTokens := EstimatePayloadTokens(state.input)
	cost := EstimateCost(inTokens, 0, state.modelName)

	r.emit(models.NewEvent(models.EventToolError, map[string]any{
		"session_id":             r.sessionID,
		"invocation_id":          invocationID,
		"tool":                   state.tool,
		"agent":                  state.agentName,
		"context":                state.callContext,
		"model_name":             state.modelName,
		"cache_hit":              state.cacheHit,
		"status":                 "error",
		"error":                  errMsg,
		"output":                 map[string]any{"error": errMsg},
		"estimated_input_tokens": inTokens,
		"estimated_cost_usd":     cost,
		"cost_mode":              CostMode,
		"duration_ms":            finishedAt.Sub(state.startedAt).Milliseconds(),
		"started_at":             state.startedAt.UTC().Format(time.RFC3339Nano),
		"finished_at":            finishedAt.UTC().Format(time.RFC3339Nano),
	}))

	r.applyGuardrail("error", cost)
}

// ShouldEnableWebsearch combines the caller's request with the guardrail's
// per-session switch.
func (r *Registry) ShouldEnableWebsearch(requested bool) bool {
	if !requested {
		return false
	}
	if r.guardrail == nil {
		return true
	}
	return !r.guardrail.WebsearchDisabled(r.sessionID)
}

func (r *Registry) applyGuardrail(status string, cost float64) {
	if r.guardrail == nil {
		return
	}
	r.guardrail.Record(r.sessionID, status, cost)
	reason, tripped := r.guardrail.Evaluate(r.sessionID)
	if !tripped {
		return
	}
	if !r.guardrail.MarkTriggered(r.sessionID) {
		return
	}
	slog.Warn("Tool guardrail triggered",
		"session_id", r.sessionID,
		"reason", reason)
	r.emit(models.NewEvent(models.EventGuardrailTriggered, map[string]any{
		"session_id": r.sessionID,
		"action":     GuardrailAction,
		"reason":     reason,
		"stats":      r.guardrail.Stats(r.sessionID),
	}))
}

// popOrFallback removes and returns the invocation state, synthesizing a
// placeholder for ids the registry never saw.
func (r *Registry) popOrFallback(invocationID string) *invocationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.pending[invocationID]; ok {
		delete(r.pending, invocationID)
		return state
	}
	slog.Warn("Unknown tool invocation id", "invocation_id", invocationID)
	return &invocationState{tool: "unknown", startedAt: time.Now()}
}
