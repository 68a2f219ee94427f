package events

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/database"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

// agentBuf accumulates one agent's streamed output between agent_start and
// agent_end.
type agentBuf struct {
	content  strings.Builder
	thinking strings.Builder
}

// exchangeKey identifies one debate exchange being assembled. Respond
// events arrive as responder->challenger and are flipped back onto this
// key.
type exchangeKey struct {
	round      int
	challenger string
	responder  string
}

type exchangeBuf struct {
	debateType string
	challenge  string
	response   string
	followup   string
	revised    bool
}

// toolStart buffers a tool_start event until the matching tool_end or
// tool_error arrives.
type toolStart struct {
	toolName  string
	agentName string
	context   string
	modelName string
	cacheHit  bool
	input     map[string]any
	startedAt time.Time
}

// SessionSink folds one session's event stream into database rows. Chunk
// events are buffered in memory and never persisted row-per-row; full rows
// are written when the terminating end event arrives.
//
// OnEvent must be called from a single goroutine (the stream consumer).
type SessionSink struct {
	sessionID string
	profile   models.Profile
	config    database.SessionConfig

	db     *database.Client
	worker *WriteWorker

	agentBufs         map[string]*agentBuf
	currentRound      int
	currentDebateType string
	exchanges         map[exchangeKey]*exchangeBuf
	toolStarts        map[string]toolStart
}

// NewSessionSink builds a sink and pre-creates the session row. A nil
// database client yields a disabled sink whose methods are no-ops.
func NewSessionSink(db *database.Client, sessionID string, profile models.Profile, cfg database.SessionConfig) *SessionSink {
	s := &SessionSink{
		sessionID:  sessionID,
		profile:    profile,
		config:     cfg,
		db:         db,
		agentBufs:  make(map[string]*agentBuf),
		exchanges:  make(map[exchangeKey]*exchangeBuf),
		toolStarts: make(map[string]toolStart),
	}
	if db == nil {
		return s
	}
	s.worker = NewWriteWorker()
	s.worker.Start()
	s.worker.Enqueue("create_session", func(ctx context.Context) error {
		return db.CreateSession(ctx, sessionID, profile, cfg)
	})
	return s
}

// Enabled reports whether the sink writes to a database.
func (s *SessionSink) Enabled() bool {
	return s.worker != nil
}

// Close drains queued writes and stops the background writer.
func (s *SessionSink) Close() {
	if s.worker != nil {
		s.worker.Stop()
	}
}

// OnEvent consumes one workflow event.
func (s *SessionSink) OnEvent(e models.Event) {
	eventType := e.Type()
	if eventType == "" {
		return
	}

	s.logWorkflowEvent(eventType, e)
	if s.worker == nil {
		return
	}

	switch eventType {
	case models.EventToolStart:
		s.bufferToolStart(e)
	case models.EventToolEnd, models.EventToolError:
		s.flushToolInvocation(eventType, e)
	case models.EventGuardrailTriggered:
		s.updateSession(map[string]any{"enable_websearch": false})

	case models.EventOrchestratorStart:
		s.updateSession(map[string]any{
			"status":               models.StatusRunning,
			"phase":                models.PhaseGather,
			"current_debate_round": 0,
			"profile":              s.profile,
			"target_market":        s.profile.TargetMarket,
			"supply_chain":         s.profile.SupplyChain,
			"seller_type":          s.profile.SellerType,
			"min_price":            s.profile.MinPrice,
			"max_price":            s.profile.MaxPrice,
			"debate_rounds":        s.config.DebateRounds,
			"enable_followup":      s.config.EnableFollowup,
			"enable_websearch":     s.config.EnableWebsearch,
		})
	case models.EventOrchestratorEnd:
		now := time.Now()
		fields := map[string]any{
			"status":             models.StatusCompleted,
			"phase":              models.PhaseComplete,
			"synthesized_report": e.Str("final_report"),
			"completed_at":       now,
		}
		if pack, ok := e["evidence_pack"].(map[string]any); ok {
			fields["evidence_pack"] = pack
			fields["evidence_generated_at"] = now
		}
		if snapshot, ok := e["memory_snapshot"].(map[string]any); ok {
			fields["memory_snapshot"] = snapshot
			fields["memory_snapshot_generated_at"] = now
		}
		s.updateSession(fields)
	case models.EventError:
		s.updateSession(map[string]any{
			"status":        models.StatusFailed,
			"phase":         models.PhaseError,
			"error_message": e.Str("error"),
		})

	case models.EventAgentStart:
		agent := e.Str("agent")
		if agent == "" {
			return
		}
		s.agentBufs[agent] = &agentBuf{}
		s.upsertAgentResult(agent, map[string]any{
			"status":        models.StatusRunning,
			"error_message": nil,
		})
	case models.EventAgentChunk:
		if buf := s.agentBuf(e.Str("agent")); buf != nil {
			buf.content.WriteString(e.Str("content"))
		}
	case models.EventAgentThinking:
		if buf := s.agentBuf(e.Str("agent")); buf != nil {
			buf.thinking.WriteString(e.Str("content"))
		}
	case models.EventAgentEnd:
		agent := e.Str("agent")
		if agent == "" {
			return
		}
		status := e.Str("status")
		if status == "" {
			status = models.StatusCompleted
		}
		fields := map[string]any{
			"status":       status,
			"completed_at": time.Now(),
		}
		if buf, ok := s.agentBufs[agent]; ok {
			fields["content"] = buf.content.String()
			if buf.thinking.Len() > 0 {
				fields["thinking"] = buf.thinking.String()
			}
		}
		if ms, ok := intField(e, "duration_ms"); ok {
			fields["duration_ms"] = ms
		}
		s.upsertAgentResult(agent, fields)
	case models.EventAgentError:
		agent := e.Str("agent")
		if agent == "" {
			return
		}
		s.upsertAgentResult(agent, map[string]any{
			"status":        models.StatusFailed,
			"error_message": e.Str("error"),
			"completed_at":  time.Now(),
		})

	case models.EventDebateRoundStart:
		if round, ok := intField(e, "round_number"); ok {
			s.currentRound = int(round)
		}
		if dt := e.Str("debate_type"); dt != "" {
			s.currentDebateType = dt
		}
		phase := "debate"
		switch s.currentDebateType {
		case models.DebatePeer:
			phase = models.PhaseDebatePeer
		case models.DebateRedTeam:
			phase = models.PhaseDebateRedTeam
		}
		s.updateSession(map[string]any{
			"phase":                phase,
			"current_debate_round": s.currentRound,
		})
	case models.EventAgentChallenge, models.EventAgentChallengeEnd:
		key, ok := s.exchangeKeyFor(e, false)
		if !ok {
			return
		}
		ex := s.exchange(key)
		if c, isSet := contentField(e, "challenge_content"); isSet {
			ex.challenge = c
		}
	case models.EventAgentRespond, models.EventAgentRespondEnd:
		key, ok := s.exchangeKeyFor(e, true)
		if !ok {
			return
		}
		ex := s.exchange(key)
		if c, isSet := contentField(e, "response_content"); isSet {
			ex.response = c
		}
		if revised, isBool := e["revised"].(bool); isBool {
			ex.revised = revised
		}
		if eventType == models.EventAgentRespondEnd && !s.config.EnableFollowup {
			s.flushExchange(key)
		}
	case models.EventAgentFollowup, models.EventAgentFollowupEnd:
		key, ok := s.exchangeKeyFor(e, false)
		if !ok {
			return
		}
		ex := s.exchange(key)
		if c, isSet := contentField(e, "followup_content"); isSet {
			ex.followup = c
		}
		if eventType == models.EventAgentFollowupEnd {
			s.flushExchange(key)
		}

	case models.EventChallengeChunk, models.EventRespondChunk, models.EventFollowupChunk:
		s.appendDebateChunk(eventType, e.Str("agent"), e.Str("content"))
	}
}

// logWorkflowEvent writes every non-chunk event verbatim to the event log.
func (s *SessionSink) logWorkflowEvent(eventType string, e models.Event) {
	if s.worker == nil || models.IsChunkEvent(eventType) {
		return
	}
	agent := e.Str("agent")
	if agent == "" {
		agent = e.Str("from_agent")
	}
	payload := make(map[string]any, len(e))
	for k, v := range e {
		payload[k] = v
	}
	db, sessionID := s.db, s.sessionID
	s.worker.Enqueue("workflow_event", func(ctx context.Context) error {
		return db.InsertWorkflowEvent(ctx, sessionID, eventType, agent, payload)
	})
}

func (s *SessionSink) updateSession(fields map[string]any) {
	db, sessionID := s.db, s.sessionID
	s.worker.Enqueue("update_session", func(ctx context.Context) error {
		return db.UpdateSessionFields(ctx, sessionID, fields)
	})
}

func (s *SessionSink) upsertAgentResult(agent string, fields map[string]any) {
	db, sessionID := s.db, s.sessionID
	s.worker.Enqueue("upsert_agent_result", func(ctx context.Context) error {
		return db.UpsertAgentResult(ctx, sessionID, agent, fields)
	})
}

func (s *SessionSink) agentBuf(agent string) *agentBuf {
	if agent == "" {
		return nil
	}
	buf, ok := s.agentBufs[agent]
	if !ok {
		buf = &agentBuf{}
		s.agentBufs[agent] = buf
	}
	return buf
}

// exchangeKeyFor derives the assembly key from from_agent/to_agent.
// Respond events run responder->challenger and are flipped back.
func (s *SessionSink) exchangeKeyFor(e models.Event, flip bool) (exchangeKey, bool) {
	round, ok := intField(e, "round_number")
	if !ok {
		return exchangeKey{}, false
	}
	from, to := e.Str("from_agent"), e.Str("to_agent")
	if from == "" || to == "" {
		return exchangeKey{}, false
	}
	if flip {
		from, to = to, from
	}
	return exchangeKey{round: int(round), challenger: from, responder: to}, true
}

func (s *SessionSink) exchange(key exchangeKey) *exchangeBuf {
	ex, ok := s.exchanges[key]
	if !ok {
		ex = &exchangeBuf{debateType: s.currentDebateType}
		s.exchanges[key] = ex
	}
	return ex
}

// appendDebateChunk attributes a streamed debate delta to the matching
// in-flight exchange of the current round.
func (s *SessionSink) appendDebateChunk(eventType, agent, content string) {
	if agent == "" || content == "" {
		return
	}
	for key, ex := range s.exchanges {
		if key.round != s.currentRound {
			continue
		}
		switch eventType {
		case models.EventChallengeChunk:
			if agent == key.challenger || agent == models.AgentDebateChallenger {
				ex.challenge += content
				return
			}
		case models.EventRespondChunk:
			if agent == key.responder {
				ex.response += content
				return
			}
		case models.EventFollowupChunk:
			if agent == key.challenger || agent == models.AgentDebateChallenger {
				ex.followup += content
				return
			}
		}
	}
}

func (s *SessionSink) flushExchange(key exchangeKey) {
	ex, ok := s.exchanges[key]
	if !ok {
		return
	}
	delete(s.exchanges, key)

	revised := ex.revised ||
		strings.Contains(ex.response, "修订") ||
		strings.Contains(ex.response, "修改")

	row := models.DebateExchange{
		RoundNumber:      key.round,
		DebateType:       ex.debateType,
		Challenger:       key.challenger,
		Responder:        key.responder,
		ChallengeContent: ex.challenge,
		ResponseContent:  ex.response,
		FollowupContent:  ex.followup,
		Revised:          revised,
	}
	db, sessionID := s.db, s.sessionID
	s.worker.Enqueue("insert_debate", func(ctx context.Context) error {
		return db.InsertDebateExchange(ctx, sessionID, row)
	})
}

func (s *SessionSink) bufferToolStart(e models.Event) {
	invocationID := e.Str("invocation_id")
	if invocationID == "" {
		return
	}
	input, _ := e["input"].(map[string]any)
	startedAt := parseTimestamp(e.Str("started_at"))
	if startedAt.IsZero() {
		startedAt = parseTimestamp(e.Str("timestamp"))
	}
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	s.toolStarts[invocationID] = toolStart{
		toolName:  e.Str("tool"),
		agentName: e.Str("agent"),
		context:   e.Str("context"),
		modelName: e.Str("model_name"),
		cacheHit:  e["cache_hit"] == true,
		input:     input,
		startedAt: startedAt,
	}
}

func (s *SessionSink) flushToolInvocation(eventType string, e models.Event) {
	invocationID := e.Str("invocation_id")
	if invocationID == "" {
		return
	}
	start, hadStart := s.toolStarts[invocationID]
	delete(s.toolStarts, invocationID)

	inv := s.toolInvocationRow(eventType, e, start, hadStart)

	db := s.db
	s.worker.Enqueue("insert_tool_invocation", func(ctx context.Context) error {
		return db.InsertToolInvocation(ctx, inv)
	})
}

// toolInvocationRow assembles the tool_invocations row from the end event
// and the buffered start. Status is the {completed, error} enum: tool_end
// defaults to completed, tool_error always stores error.
func (s *SessionSink) toolInvocationRow(eventType string, e models.Event, start toolStart, hadStart bool) database.ToolInvocation {
	startedAt := start.startedAt
	if !hadStart {
		startedAt = parseTimestamp(e.Str("started_at"))
		if startedAt.IsZero() {
			startedAt = time.Now()
		}
	}
	finishedAt := parseTimestamp(e.Str("finished_at"))
	if finishedAt.IsZero() {
		finishedAt = parseTimestamp(e.Str("timestamp"))
	}
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}

	durationMs, ok := intField(e, "duration_ms")
	if !ok {
		durationMs = finishedAt.Sub(startedAt).Milliseconds()
		if durationMs < 0 {
			durationMs = 0
		}
	}

	input, _ := e["input"].(map[string]any)
	if input == nil {
		input = start.input
	}
	output, _ := e["output"].(map[string]any)

	status := e.Str("status")
	if status == "" {
		status = models.StatusCompleted
	}
	if eventType == models.EventToolError {
		status = "error"
	}

	inv := database.ToolInvocation{
		SessionID:    s.sessionID,
		InvocationID: e.Str("invocation_id"),
		AgentName:    firstNonEmpty(e.Str("agent"), start.agentName),
		ToolName:     firstNonEmpty(e.Str("tool"), start.toolName),
		Status:       status,
		DurationMs:   durationMs,
		Input:        input,
		Output:       output,
		ErrorMessage: e.Str("error"),
		Context:      firstNonEmpty(e.Str("context"), start.context),
		ModelName:    firstNonEmpty(e.Str("model_name"), start.modelName),
		CacheHit:     cacheHitFor(e, start, hadStart),
		StartedAt:    sql.NullTime{Time: startedAt, Valid: true},
		FinishedAt:   sql.NullTime{Time: finishedAt, Valid: true},
	}
	if tokens, ok := intField(e, "estimated_input_tokens"); ok {
		v := int(tokens)
		inv.EstimatedInputTokens = &v
	}
	if tokens, ok := intField(e, "estimated_output_tokens"); ok {
		v := int(tokens)
		inv.EstimatedOutputTokens = &v
	}
	if cost, ok := floatField(e, "estimated_cost_usd"); ok {
		inv.EstimatedCostUSD = &cost
	}
	return inv
}

func cacheHitFor(e models.Event, start toolStart, hadStart bool) bool {
	if hit, ok := e["cache_hit"].(bool); ok {
		return hit
	}
	return hadStart && start.cacheHit
}

// contentField reads a debate content field, falling back to "content".
func contentField(e models.Event, key string) (string, bool) {
	if v, ok := e[key].(string); ok {
		return v, true
	}
	if v, ok := e["content"].(string); ok {
		return v, true
	}
	return "", false
}

func intField(e models.Event, key string) (int64, bool) {
	switch v := e[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func floatField(e models.Event, key string) (float64, bool) {
	switch v := e[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
