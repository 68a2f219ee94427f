package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/agent"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/config"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/llm"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/tools"
)

// exchangeSpec names one challenge/respond/followup cycle.
type exchangeSpec struct {
	challenger string
	responder  string
}

// DebateExchangeID is the stable retry/error target id for one exchange.
func DebateExchangeID(round int, challenger, responder string) string {
	return fmt.Sprintf("r%d:%s->%s", round, challenger, responder)
}

// runDebateRound executes one debate round sequentially: peer rounds pair
// workers in both directions, the red-team round sends the dedicated
// challenger against every worker. The retry unit is the whole exchange.
func (e *Engine) runDebateRound(ctx context.Context, st *models.GraphState, round int, debateType string, emit tools.EmitFunc) error {
	if debateType == models.DebatePeer {
		st.Phase = models.PhaseDebatePeer
	} else {
		st.Phase = models.PhaseDebateRedTeam
	}
	st.CurrentDebateRound = round
	st.CurrentDebateType = debateType

	specs := debateSpecs(debateType)
	startPayload := map[string]any{
		"session_id":   st.SessionID,
		"round_number": round,
		"debate_type":  debateType,
	}
	if debateType == models.DebatePeer {
		pairs := make([][2]string, 0, len(config.DebatePeerPairs))
		for _, pair := range config.DebatePeerPairs {
			pairs = append(pairs, [2]string{pair.Challenger, pair.Responder})
		}
		startPayload["pairs"] = pairs
	} else {
		startPayload["targets"] = config.DebateRedTeamTargets
	}
	emit(models.NewEvent(models.EventDebateRoundStart, startPayload))

	added := 0
	for _, spec := range specs {
		responderResult := st.ResultFor(spec.responder)
		if responderResult == nil || strings.TrimSpace(responderResult.Content) == "" {
			slog.Debug("Skipping debate exchange, responder has no content",
				"session_id", st.SessionID,
				"round", round,
				"responder", spec.responder)
			continue
		}

		challengerName := spec.challenger
		if debateType == models.DebateRedTeam {
			challengerName = models.AgentDebateChallenger
		}
		targetID := DebateExchangeID(round, challengerName, spec.responder)

		var (
			exchange *models.DebateExchange
			lastErr  error
		)
		for attempt := 1; attempt <= st.RetryMaxAttempt; attempt++ {
			exchange, lastErr = e.runExchange(ctx, st, round, debateType, spec, responderResult.Content, attempt, emit)
			if lastErr == nil {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt < st.RetryMaxAttempt {
				delay := BackoffDelay(st.RetryBackoffMs, attempt, targetID)
				emit(models.NewEvent(models.EventRetry, map[string]any{
					"session_id":   st.SessionID,
					"target_type":  "debate_exchange",
					"target_id":    targetID,
					"attempt":      attempt,
					"max_attempts": st.RetryMaxAttempt,
					"error":        lastErr.Error(),
					"backoff_ms":   delay.Milliseconds(),
				}))
				if err := sleepCtx(ctx, delay); err != nil {
					return err
				}
			}
		}

		if lastErr != nil {
			emit(models.NewEvent(models.EventAgentError, map[string]any{
				"session_id":   st.SessionID,
				"agent":        challengerName,
				"target_id":    targetID,
				"target_type":  "debate_exchange",
				"attempt":      st.RetryMaxAttempt,
				"error":        lastErr.Error(),
				"degrade_mode": string(st.DegradeMode),
			}))
			switch st.DegradeMode {
			case models.DegradeFail:
				return executionErrorf(targetID, lastErr)
			case models.DegradePartial:
				st.DebateExchanges = append(st.DebateExchanges, models.DebateExchange{
					RoundNumber:     round,
					DebateType:      debateType,
					Challenger:      challengerName,
					Responder:       spec.responder,
					FollowupContent: fmt.Sprintf("[降级] 辩论交换失败: %s", lastErr.Error()),
				})
				added++
			}
			continue
		}

		st.DebateExchanges = append(st.DebateExchanges, *exchange)
		added++
	}

	emit(models.NewEvent(models.EventDebateRoundEnd, map[string]any{
		"session_id":      st.SessionID,
		"round_number":    round,
		"debate_type":     debateType,
		"exchanges_count": added,
	}))
	e.checkpoint(st)
	return nil
}

// debateSpecs expands the configured pairings into an ordered exchange
// list. Peer pairs debate in both directions.
func debateSpecs(debateType string) []exchangeSpec {
	if debateType == models.DebatePeer {
		specs := make([]exchangeSpec, 0, len(config.DebatePeerPairs)*2)
		for _, pair := range config.DebatePeerPairs {
			specs = append(specs,
				exchangeSpec{challenger: pair.Challenger, responder: pair.Responder},
				exchangeSpec{challenger: pair.Responder, responder: pair.Challenger},
			)
		}
		return specs
	}
	specs := make([]exchangeSpec, 0, len(config.DebateRedTeamTargets))
	for _, target := range config.DebateRedTeamTargets {
		specs = append(specs, exchangeSpec{challenger: models.AgentDebateChallenger, responder: target})
	}
	return specs
}

// runExchange executes one full challenge/respond/followup cycle. Any
// failed turn fails the whole exchange; the caller retries it from the top.
func (e *Engine) runExchange(ctx context.Context, st *models.GraphState, round int, debateType string, spec exchangeSpec, responderContent string, attempt int, emit tools.EmitFunc) (*models.DebateExchange, error) {
	mode := agent.ChallengeRedTeam
	challengerName := models.AgentDebateChallenger
	peerVoice := ""
	if debateType == models.DebatePeer {
		mode = agent.ChallengePeer
		challengerName = spec.challenger
		peerVoice = spec.challenger
	}

	challenger := e.factory.Challenger(mode)
	challenger.SetChallengeContext(spec.responder, responderContent, peerVoice)
	aCtx := agent.Context{SessionID: st.SessionID, Profile: st.UserProfile, DebateRound: round}

	started := time.Now()

	// Challenge turn.
	emit(models.NewEvent(models.EventAgentChallenge, map[string]any{
		"session_id":   st.SessionID,
		"round_number": round,
		"from_agent":   challengerName,
		"to_agent":     spec.responder,
		"attempt":      attempt,
	}))
	challengeRes, err := e.debateCall(ctx, st, challengerName, llm.Request{
		Model: challenger.Model(),
		Messages: []llm.Message{
			{Role: "system", Content: challenger.SystemPrompt(aCtx)},
			{Role: "user", Content: challenger.UserPrompt(aCtx)},
		},
		ThinkingMode: string(challenger.ThinkingMode()),
	}, models.EventChallengeChunk, spec.responder, emit)
	if err != nil {
		return nil, fmt.Errorf("challenge turn: %w", err)
	}
	challengeContent := challenger.PostProcess(challengeRes.Output)
	emit(models.NewEvent(models.EventAgentChallengeEnd, map[string]any{
		"session_id":        st.SessionID,
		"round_number":      round,
		"from_agent":        challengerName,
		"to_agent":          spec.responder,
		"challenge_content": challengeContent,
		"content":           challengeContent,
		"content_preview":   clipRunes(challengeContent, 200),
		"attempt":           attempt,
	}))

	// Response turn. The responder sees its own report excerpt plus the
	// challenge; debate turns run without thinking to keep exchanges fast.
	responderAg, err := e.factory.Worker(spec.responder)
	if err != nil {
		return nil, executionErrorf(spec.responder, err)
	}
	emit(models.NewEvent(models.EventAgentRespond, map[string]any{
		"session_id":   st.SessionID,
		"round_number": round,
		"from_agent":   spec.responder,
		"to_agent":     challengerName,
		"attempt":      attempt,
	}))
	responseUser := fmt.Sprintf("## 你此前的分析报告（节选）\n\n%s\n\n%s",
		clipRunes(responderContent, 1000), agent.ResponsePrompt(challengeContent))
	responseRes, err := e.debateCall(ctx, st, spec.responder, llm.Request{
		Model: responderAg.Model(),
		Messages: []llm.Message{
			{Role: "system", Content: responderAg.SystemPrompt(aCtx)},
			{Role: "user", Content: responseUser},
		},
		ThinkingMode: string(config.ThinkingDisabled),
	}, models.EventRespondChunk, challengerName, emit)
	if err != nil {
		return nil, fmt.Errorf("response turn: %w", err)
	}
	responseContent := responseRes.Output
	revised := agent.ResponseRevised(responseContent)
	emit(models.NewEvent(models.EventAgentRespondEnd, map[string]any{
		"session_id":       st.SessionID,
		"round_number":     round,
		"from_agent":       spec.responder,
		"to_agent":         challengerName,
		"response_content": responseContent,
		"content":          responseContent,
		"revised":          revised,
		"content_preview":  clipRunes(responseContent, 200),
		"attempt":          attempt,
	}))

	exchange := &models.DebateExchange{
		RoundNumber:      round,
		DebateType:       debateType,
		Challenger:       challengerName,
		Responder:        spec.responder,
		ChallengeContent: challengeContent,
		ResponseContent:  responseContent,
		Revised:          revised,
	}

	// Follow-up turn: the challenger, with its challenge context still
	// set, confirms or presses the response.
	if st.EnableFollowup {
		emit(models.NewEvent(models.EventAgentFollowup, map[string]any{
			"session_id":   st.SessionID,
			"round_number": round,
			"from_agent":   challengerName,
			"to_agent":     spec.responder,
			"attempt":      attempt,
		}))
		followupUser := agent.FollowupPrompt(clipRunes(challengeContent, 500), responseContent)
		followupRes, err := e.debateCall(ctx, st, challengerName, llm.Request{
			Model: challenger.Model(),
			Messages: []llm.Message{
				{Role: "system", Content: challenger.SystemPrompt(aCtx)},
				{Role: "user", Content: followupUser},
			},
			ThinkingMode: string(challenger.ThinkingMode()),
		}, models.EventFollowupChunk, spec.responder, emit)
		if err != nil {
			return nil, fmt.Errorf("followup turn: %w", err)
		}
		exchange.FollowupContent = followupRes.Output
		emit(models.NewEvent(models.EventAgentFollowupEnd, map[string]any{
			"session_id":       st.SessionID,
			"round_number":     round,
			"from_agent":       challengerName,
			"to_agent":         spec.responder,
			"followup_content": exchange.FollowupContent,
			"content":          exchange.FollowupContent,
			"content_preview":  clipRunes(exchange.FollowupContent, 200),
			"attempt":          attempt,
		}))
	}

	exchange.DurationMs = time.Since(started).Milliseconds()
	return exchange, nil
}

// debateCall runs one throttled debate model call, forwarding output
// deltas as the given chunk event type.
func (e *Engine) debateCall(ctx context.Context, st *models.GraphState, agentName string, req llm.Request, chunkEvent, target string, emit tools.EmitFunc) (llm.Result, error) {
	var res llm.Result

	if _, err := e.throttle.Acquire(ctx); err != nil {
		return res, err
	}
	defer e.throttle.Release()

	streamer, err := e.llm.CreateResponseStream(ctx, req)
	if err != nil {
		e.recordCallFailure(st, err, emit)
		return res, err
	}
	defer func() { _ = streamer.Close() }()

	for {
		ev, recvErr := streamer.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			e.recordCallFailure(st, recvErr, emit)
			return res, recvErr
		}
		switch ev.Type {
		case llm.EventOutputDelta:
			res.Output += ev.Delta
			emit(models.NewEvent(chunkEvent, map[string]any{
				"session_id": st.SessionID,
				"agent":      agentName,
				"target":     target,
				"content":    ev.Delta,
			}))
		case llm.EventThinkingDelta:
			res.Thinking += ev.Delta
		}
	}

	e.recordCallSuccess(st, emit)
	return res, nil
}
