package graph

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/agent"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/llm"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/throttle"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/tools"
)

// runWorker executes one gather-phase worker with its stagger delay, retry
// loop, and degrade handling. It returns zero or one results; a non-nil
// error aborts the whole run (fail degrade mode or cancellation).
func (e *Engine) runWorker(ctx context.Context, st *models.GraphState, index int, name string, registry *tools.Registry, emit tools.EmitFunc) ([]models.AgentResult, error) {
	ag, err := e.factory.Worker(name)
	if err != nil {
		return nil, executionErrorf(name, err)
	}

	started := time.Now()
	emit(models.NewEvent(models.EventAgentStart, map[string]any{
		"session_id":                 st.SessionID,
		"agent":                      name,
		"model":                      ag.Model(),
		"thinking_mode":              string(ag.ThinkingMode()),
		"adaptive_concurrency_limit": e.throttle.CurrentLimit(),
	}))

	if err := sleepCtx(ctx, time.Duration(index)*workerStaggerStep); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= st.RetryMaxAttempt; attempt++ {
		result, attemptErr := e.executeWorkerAttempt(ctx, st, ag, started, registry, emit)
		if attemptErr == nil {
			emit(models.NewEvent(models.EventAgentEnd, map[string]any{
				"session_id":  st.SessionID,
				"agent":       name,
				"status":      result.Status,
				"duration_ms": result.DurationMs,
				"attempt":     attempt,
			}))
			return []models.AgentResult{*result}, nil
		}
		lastErr = attemptErr
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt < st.RetryMaxAttempt {
			delay := BackoffDelay(st.RetryBackoffMs, attempt, name)
			emit(models.NewEvent(models.EventRetry, map[string]any{
				"session_id":   st.SessionID,
				"target_type":  "agent",
				"target_id":    name,
				"attempt":      attempt,
				"max_attempts": st.RetryMaxAttempt,
				"error":        attemptErr.Error(),
				"backoff_ms":   delay.Milliseconds(),
			}))
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	durationMs := time.Since(started).Milliseconds()
	slog.Error("Worker agent exhausted retries",
		"session_id", st.SessionID,
		"agent", name,
		"attempts", st.RetryMaxAttempt,
		"error", lastErr)
	emit(models.NewEvent(models.EventAgentError, map[string]any{
		"session_id":   st.SessionID,
		"agent":        name,
		"error":        lastErr.Error(),
		"duration_ms":  durationMs,
		"attempt":      st.RetryMaxAttempt,
		"degrade_mode": string(st.DegradeMode),
	}))

	switch st.DegradeMode {
	case models.DegradeFail:
		return nil, executionErrorf(name, lastErr)
	case models.DegradeSkip:
		emit(models.NewEvent(models.EventAgentEnd, map[string]any{
			"session_id":  st.SessionID,
			"agent":       name,
			"status":      models.StatusSkipped,
			"duration_ms": durationMs,
			"attempt":     st.RetryMaxAttempt,
		}))
		return nil, nil
	default:
		// partial: a failed placeholder keeps the main chain moving.
		return []models.AgentResult{{
			AgentName:  name,
			Status:     models.StatusFailed,
			Error:      lastErr.Error(),
			DurationMs: durationMs,
		}}, nil
	}
}

// executeWorkerAttempt runs one model call for a worker: cache probe,
// throttle slot, stream consumption, and cache fill.
func (e *Engine) executeWorkerAttempt(ctx context.Context, st *models.GraphState, ag agent.Agent, started time.Time, registry *tools.Registry, emit tools.EmitFunc) (*models.AgentResult, error) {
	name := ag.Name()
	aCtx := agent.Context{SessionID: st.SessionID, Profile: st.UserProfile, DebateRound: st.CurrentDebateRound}
	systemPrompt := ag.SystemPrompt(aCtx)
	userPrompt := ag.UserPrompt(aCtx)

	wsCfg := ag.Websearch()
	useWebsearch := registry.ShouldEnableWebsearch(wsCfg.Enabled && st.EnableWebsearch)

	cacheKey := tools.CacheKey{
		AgentName:       name,
		Model:           ag.Model(),
		TemplateVersion: promptTemplateVersion,
		PromptHash:      tools.PromptHash(systemPrompt + "\n" + userPrompt),
		EnableWebsearch: useWebsearch,
	}.Hash()

	if cached, ok := e.cache.Get(cacheKey); ok {
		return e.replayCachedResult(st, ag, useWebsearch, started, cached, registry, emit), nil
	}

	limit, err := e.throttle.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer e.throttle.Release()
	if limit < throttle.DefaultLimit {
		emit(models.NewEvent(models.EventAdaptiveConcurrency, map[string]any{
			"session_id":        st.SessionID,
			"mode":              "degraded",
			"concurrency_limit": limit,
			"agent":             name,
		}))
	}

	streamer, err := e.llm.CreateResponseStream(ctx, llm.Request{
		Model: ag.Model(),
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		ThinkingMode:   string(ag.ThinkingMode()),
		UseWebsearch:   useWebsearch,
		WebsearchLimit: wsCfg.Limit,
	})
	if err != nil {
		e.recordCallFailure(st, err, emit)
		return nil, err
	}
	defer func() { _ = streamer.Close() }()

	var (
		content      string
		thinking     string
		sources      []string
		invocationID string
	)
	for {
		ev, recvErr := streamer.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			if invocationID != "" {
				registry.ErrorInvocation(invocationID, recvErr)
			}
			e.recordCallFailure(st, recvErr, emit)
			return nil, recvErr
		}
		switch ev.Type {
		case llm.EventOutputDelta:
			content += ev.Delta
			emit(models.NewEvent(models.EventAgentChunk, map[string]any{
				"session_id": st.SessionID,
				"agent":      name,
				"content":    ev.Delta,
			}))
		case llm.EventThinkingDelta:
			thinking += ev.Delta
			emit(models.NewEvent(models.EventAgentThinking, map[string]any{
				"session_id": st.SessionID,
				"agent":      name,
				"content":    ev.Delta,
			}))
		case llm.EventSearchStart:
			if invocationID == "" {
				invocationID = registry.BeginInvocation("web_search", name, "gather", ag.Model(), false, map[string]any{
					"prompt_excerpt":  clipRunes(userPrompt, 200),
					"websearch_limit": wsCfg.Limit,
				})
			}
		case llm.EventSearchComplete:
			sources = ev.Sources()
			if invocationID != "" {
				registry.EndInvocation(invocationID, map[string]any{"sources": sources}, sources)
				invocationID = ""
			}
		}
	}

	e.recordCallSuccess(st, emit)

	result := &models.AgentResult{
		AgentName:  name,
		Content:    ag.PostProcess(content),
		Sources:    sources,
		Confidence: 1.0,
		Thinking:   thinking,
		DurationMs: time.Since(started).Milliseconds(),
		Status:     models.StatusCompleted,
	}
	e.cache.Set(cacheKey, map[string]any{
		"content":  result.Content,
		"thinking": result.Thinking,
		"sources":  result.Sources,
	})
	return result, nil
}

// replayCachedResult serves a cache hit: no model call, a single full-text
// chunk, and a zero-cost tool invocation record when websearch was on.
func (e *Engine) replayCachedResult(st *models.GraphState, ag agent.Agent, useWebsearch bool, started time.Time, cached map[string]any, registry *tools.Registry, emit tools.EmitFunc) *models.AgentResult {
	name := ag.Name()
	content, _ := cached["content"].(string)
	thinking, _ := cached["thinking"].(string)
	var sources []string
	if raw, ok := cached["sources"].([]any); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				sources = append(sources, s)
			}
		}
	}

	if useWebsearch {
		invocationID := registry.BeginInvocation("web_search", name, "gather", ag.Model(), true, map[string]any{
			"websearch_limit": ag.Websearch().Limit,
		})
		registry.EndInvocation(invocationID, map[string]any{"sources": sources}, sources)
	}

	emit(models.NewEvent(models.EventAgentChunk, map[string]any{
		"session_id": st.SessionID,
		"agent":      name,
		"content":    content,
		"cached":     true,
	}))

	return &models.AgentResult{
		AgentName:  name,
		Content:    content,
		Sources:    sources,
		Confidence: 1.0,
		Thinking:   thinking,
		DurationMs: time.Since(started).Milliseconds(),
		Status:     models.StatusCompleted,
	}
}

// recordCallSuccess feeds the throttle and surfaces the recovery event
// when this success restored the default limit.
func (e *Engine) recordCallSuccess(st *models.GraphState, emit tools.EmitFunc) {
	restored, limit := e.throttle.RecordSuccess()
	if !restored {
		return
	}
	slog.Info("Adaptive concurrency recovered",
		"session_id", st.SessionID,
		"concurrency_limit", limit)
	emit(models.NewEvent(models.EventAdaptiveConcurrency, map[string]any{
		"session_id":        st.SessionID,
		"mode":              "recovered",
		"concurrency_limit": limit,
		"reason":            "network_stable",
	}))
}

// recordCallFailure feeds the throttle and surfaces the degradation event
// when this failure tripped the limiter.
func (e *Engine) recordCallFailure(st *models.GraphState, err error, emit tools.EmitFunc) {
	tripped, limit := e.throttle.RecordFailure(err)
	if !tripped {
		return
	}
	slog.Warn("Adaptive concurrency degraded",
		"session_id", st.SessionID,
		"concurrency_limit", limit,
		"error", err)
	emit(models.NewEvent(models.EventAdaptiveConcurrency, map[string]any{
		"session_id":        st.SessionID,
		"mode":              "degraded",
		"concurrency_limit": limit,
		"reason":            err.Error(),
	}))
}
