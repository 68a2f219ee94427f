package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/agent"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/evidence"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/llm"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/memory"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/tools"
)

// synthesize fuses worker results and the debate record into the final
// report, then builds the evidence pack and memory snapshot and closes the
// session with orchestrator_end.
func (e *Engine) synthesize(ctx context.Context, st *models.GraphState, registry *tools.Registry, emit tools.EmitFunc) error {
	st.Phase = models.PhaseSynthesize
	e.checkpoint(st)
	started := time.Now()

	synth := e.factory.Synthesizer()
	emit(models.NewEvent(models.EventAgentStart, map[string]any{
		"session_id":                 st.SessionID,
		"agent":                      models.AgentSynthesizer,
		"model":                      synth.Model(),
		"thinking_mode":              string(synth.ThinkingMode()),
		"adaptive_concurrency_limit": e.throttle.CurrentLimit(),
	}))

	hasWorkerContent := false
	withContent := make([]models.AgentResult, 0, len(st.AgentResults))
	for _, r := range st.AgentResults {
		if r.Content != "" {
			hasWorkerContent = true
			withContent = append(withContent, r)
		}
	}

	status := models.StatusCompleted
	fallbackReason := ""
	report := ""

	if hasWorkerContent {
		synth.DebateHistory = st.DebateExchanges
		aCtx := agent.Context{
			SessionID:    st.SessionID,
			Profile:      st.UserProfile,
			DebateRound:  st.CurrentDebateRound,
			OtherOutputs: withContent,
		}
		req := llm.Request{
			Model: synth.Model(),
			Messages: []llm.Message{
				{Role: "system", Content: synth.SystemPrompt(aCtx)},
				{Role: "user", Content: synth.UserPrompt(aCtx)},
			},
			ThinkingMode: string(synth.ThinkingMode()),
		}

		var lastErr error
		for attempt := 1; attempt <= st.RetryMaxAttempt; attempt++ {
			output, err := e.synthCall(ctx, st, req, emit)
			if err == nil {
				report = synth.PostProcess(output)
				lastErr = nil
				break
			}
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt < st.RetryMaxAttempt {
				delay := BackoffDelay(st.RetryBackoffMs, attempt, models.AgentSynthesizer)
				emit(models.NewEvent(models.EventRetry, map[string]any{
					"session_id":   st.SessionID,
					"target_type":  "agent",
					"target_id":    models.AgentSynthesizer,
					"attempt":      attempt,
					"max_attempts": st.RetryMaxAttempt,
					"error":        err.Error(),
					"backoff_ms":   delay.Milliseconds(),
				}))
				if err := sleepCtx(ctx, delay); err != nil {
					return err
				}
			}
		}
		if lastErr != nil {
			slog.Error("Synthesis failed after retries",
				"session_id", st.SessionID, "error", lastErr)
			if st.DegradeMode == models.DegradeFail {
				return executionErrorf(models.AgentSynthesizer, lastErr)
			}
			status = models.StatusDegraded
			fallbackReason = fmt.Sprintf("综合模型调用失败，已使用降级报告: %s", lastErr.Error())
			emit(models.NewEvent(models.EventAgentError, map[string]any{
				"session_id":   st.SessionID,
				"agent":        models.AgentSynthesizer,
				"error":        lastErr.Error(),
				"degrade_mode": string(st.DegradeMode),
			}))
			report = FallbackReport(st.AgentResults, st.DebateExchanges)
		}
	} else {
		status = models.StatusDegraded
		fallbackReason = "无可用的 Worker 输出，已跳过远程综合并生成降级报告"
		emit(models.NewEvent(models.EventAgentError, map[string]any{
			"session_id":   st.SessionID,
			"agent":        models.AgentSynthesizer,
			"error":        fallbackReason,
			"degrade_mode": string(st.DegradeMode),
		}))
		report = FallbackReport(st.AgentResults, st.DebateExchanges)
	}

	st.SynthesizedReport = report
	generatedAt := time.Now().UTC().Format(time.RFC3339Nano)
	st.EvidencePack = evidence.BuildPack(st.SessionID, st.UserProfile, st.AgentResults, st.DebateExchanges, report, generatedAt)
	st.MemorySnapshot = memory.BuildSnapshot(st.SessionID, st.UserProfile, st.AgentResults, st.DebateExchanges, report, generatedAt)

	reportURL := ""
	if e.reportWriter != nil {
		if _, err := e.reportWriter.WriteSessionReport(st.SessionID, report, st.UserProfile); err != nil {
			slog.Warn("HTML report write failed",
				"session_id", st.SessionID, "error", err)
		} else {
			reportURL = fmt.Sprintf("/api/v2/market-insight/report/%s.html", st.SessionID)
		}
	}

	endPayload := map[string]any{
		"session_id":  st.SessionID,
		"agent":       models.AgentSynthesizer,
		"status":      status,
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if fallbackReason != "" {
		endPayload["error"] = fallbackReason
	}
	emit(models.NewEvent(models.EventAgentEnd, endPayload))

	st.Phase = models.PhaseComplete
	now := time.Now().UTC()
	st.CompletedAt = &now

	emit(models.NewEvent(models.EventOrchestratorEnd, map[string]any{
		"session_id":      st.SessionID,
		"final_report":    report,
		"report_html_url": reportURL,
		"evidence_pack":   st.EvidencePack,
		"memory_snapshot": st.MemorySnapshot,
	}))
	e.checkpoint(st)
	return nil
}

// synthCall runs one throttled synthesis model call, forwarding deltas as
// agent_chunk / agent_thinking events.
func (e *Engine) synthCall(ctx context.Context, st *models.GraphState, req llm.Request, emit tools.EmitFunc) (string, error) {
	if _, err := e.throttle.Acquire(ctx); err != nil {
		return "", err
	}
	defer e.throttle.Release()

	streamer, err := e.llm.CreateResponseStream(ctx, req)
	if err != nil {
		e.recordCallFailure(st, err, emit)
		return "", err
	}
	defer func() { _ = streamer.Close() }()

	var output string
	for {
		ev, recvErr := streamer.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			e.recordCallFailure(st, recvErr, emit)
			return "", recvErr
		}
		switch ev.Type {
		case llm.EventOutputDelta:
			output += ev.Delta
			emit(models.NewEvent(models.EventAgentChunk, map[string]any{
				"session_id": st.SessionID,
				"agent":      models.AgentSynthesizer,
				"content":    ev.Delta,
			}))
		case llm.EventThinkingDelta:
			emit(models.NewEvent(models.EventAgentThinking, map[string]any{
				"session_id": st.SessionID,
				"agent":      models.AgentSynthesizer,
				"content":    ev.Delta,
			}))
		}
	}

	e.recordCallSuccess(st, emit)
	return output, nil
}

// FallbackReport assembles the degraded report from whatever the workers
// produced. Used when the synthesis model is unavailable or every worker
// came back empty.
func FallbackReport(results []models.AgentResult, exchanges []models.DebateExchange) string {
	var b strings.Builder
	b.WriteString("# 市场洞察报告\n")

	successCount := 0
	for _, r := range results {
		if r.Content != "" {
			successCount++
			fmt.Fprintf(&b, "\n## %s\n", r.AgentName)
			b.WriteString(r.Content)
		}
	}

	hasFailed := false
	for _, r := range results {
		if r.Content == "" && r.Error != "" {
			if !hasFailed {
				b.WriteString("\n## 采集异常记录\n")
				hasFailed = true
			}
			fmt.Fprintf(&b, "- %s: %s\n", r.AgentName, r.Error)
		}
	}

	if successCount == 0 {
		b.WriteString("\n## 说明\n当前会话未获得可用的上游模型输出，已返回降级报告。")
	}

	if len(exchanges) > 0 {
		b.WriteString("\n## 辩论总结\n")
		for _, ex := range exchanges {
			fmt.Fprintf(&b, "- 第 %d 轮 (%s): %s → %s\n",
				ex.RoundNumber, ex.DebateType, ex.Challenger, ex.Responder)
		}
	}
	return b.String()
}
