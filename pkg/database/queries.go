package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/tools"
)

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("session not found")

// SessionRow is the full session record as read back for status responses
// and exports.
type SessionRow struct {
	ID                 string         `json:"id"`
	Status             string         `json:"status"`
	Phase              string         `json:"phase"`
	CurrentDebateRound int            `json:"current_debate_round"`
	SynthesizedReport  string         `json:"synthesized_report,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	Profile            models.Profile `json:"profile"`
	DebateRounds       int            `json:"debate_rounds"`
	EnableFollowup     bool           `json:"enable_followup"`
	EnableWebsearch    bool           `json:"enable_websearch"`

	EvidencePack              map[string]any `json:"evidence_pack,omitempty"`
	MemorySnapshot            map[string]any `json:"memory_snapshot,omitempty"`
	EvidenceGeneratedAt       *time.Time     `json:"evidence_generated_at,omitempty"`
	MemorySnapshotGeneratedAt *time.Time     `json:"memory_snapshot_generated_at,omitempty"`
}

// GetSessionRow reads one session. Returns ErrSessionNotFound when absent.
func (c *Client) GetSessionRow(ctx context.Context, sessionID string) (*SessionRow, error) {
	const q = `
	SELECT id, status, phase, current_debate_round, synthesized_report, error_message,
	       created_at, started_at, completed_at, profile,
	       debate_rounds, enable_followup, enable_websearch,
	       evidence_pack, memory_snapshot, evidence_generated_at, memory_snapshot_generated_at
	FROM sessions
	WHERE id = $1`

	var (
		row                       SessionRow
		report, errMsg            sql.NullString
		profileJSON               []byte
		evidenceJSON, memoryJSON  []byte
		startedAt, completedAt    sql.NullTime
		evidenceAt, memoryAt      sql.NullTime
		rounds                    sql.NullInt64
		enableFollow, enableWeb   sql.NullBool
	)
	err := c.db.QueryRowContext(ctx, q, sessionID).Scan(
		&row.ID, &row.Status, &row.Phase, &row.CurrentDebateRound, &report, &errMsg,
		&row.CreatedAt, &startedAt, &completedAt, &profileJSON,
		&rounds, &enableFollow, &enableWeb,
		&evidenceJSON, &memoryJSON, &evidenceAt, &memoryAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	row.SynthesizedReport = report.String
	row.ErrorMessage = errMsg.String
	row.StartedAt = timePtr(startedAt)
	row.CompletedAt = timePtr(completedAt)
	row.EvidenceGeneratedAt = timePtr(evidenceAt)
	row.MemorySnapshotGeneratedAt = timePtr(memoryAt)
	row.DebateRounds = int(rounds.Int64)
	row.EnableFollowup = enableFollow.Bool
	row.EnableWebsearch = enableWeb.Bool

	if len(profileJSON) > 0 {
		if err := json.Unmarshal(profileJSON, &row.Profile); err != nil {
			return nil, fmt.Errorf("failed to decode profile: %w", err)
		}
	}
	row.EvidencePack = decodeJSONMap(evidenceJSON)
	row.MemorySnapshot = decodeJSONMap(memoryJSON)
	return &row, nil
}

// SessionSummary is one row of the history listing.
type SessionSummary struct {
	ID                 string         `json:"id"`
	Status             string         `json:"status"`
	Phase              string         `json:"phase"`
	CurrentDebateRound int            `json:"current_debate_round"`
	CreatedAt          time.Time      `json:"created_at"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	Profile            models.Profile `json:"profile"`
	DebateRounds       int            `json:"debate_rounds"`
	EnableFollowup     bool           `json:"enable_followup"`
	EnableWebsearch    bool           `json:"enable_websearch"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	ReportPreview      string         `json:"report_preview"`
	HasReport          bool           `json:"has_report"`
}

// ListSessionsSummary lists sessions for the history page, newest first.
// The limit is clamped to [1, 100].
func (c *Client) ListSessionsSummary(ctx context.Context, limit, offset int, status string) ([]SessionSummary, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	q := `
	SELECT id, status, phase, current_debate_round,
	       created_at, started_at, completed_at, profile,
	       debate_rounds, enable_followup, enable_websearch, error_message,
	       LEFT(COALESCE(synthesized_report, ''), 260) AS report_preview,
	       CASE WHEN synthesized_report IS NULL OR synthesized_report = '' THEN FALSE ELSE TRUE END AS has_report
	FROM sessions`
	args := []any{}
	if status != "" {
		q += " WHERE status = $1"
		args = append(args, status)
	}
	q += fmt.Sprintf(" ORDER BY COALESCE(started_at, created_at) DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := []SessionSummary{}
	for rows.Next() {
		var (
			s                       SessionSummary
			startedAt, completedAt  sql.NullTime
			profileJSON             []byte
			rounds                  sql.NullInt64
			enableFollow, enableWeb sql.NullBool
			errMsg                  sql.NullString
		)
		if err := rows.Scan(
			&s.ID, &s.Status, &s.Phase, &s.CurrentDebateRound,
			&s.CreatedAt, &startedAt, &completedAt, &profileJSON,
			&rounds, &enableFollow, &enableWeb, &errMsg,
			&s.ReportPreview, &s.HasReport,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session summary: %w", err)
		}
		s.StartedAt = timePtr(startedAt)
		s.CompletedAt = timePtr(completedAt)
		s.DebateRounds = int(rounds.Int64)
		s.EnableFollowup = enableFollow.Bool
		s.EnableWebsearch = enableWeb.Bool
		s.ErrorMessage = errMsg.String
		if len(profileJSON) > 0 {
			_ = json.Unmarshal(profileJSON, &s.Profile)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AgentResultRow is one persisted agent result.
type AgentResultRow struct {
	AgentName    string     `json:"agent_name"`
	Status       string     `json:"status"`
	DurationMs   int64      `json:"duration_ms"`
	Confidence   float64    `json:"confidence"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Content      string     `json:"content"`
	Thinking     string     `json:"thinking,omitempty"`
	Sources      []string   `json:"sources,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ListAgentResults reads all agent results for a session in creation order.
func (c *Client) ListAgentResults(ctx context.Context, sessionID string) ([]AgentResultRow, error) {
	const q = `
	SELECT agent_name, status, duration_ms, confidence, error_message, content, thinking, sources,
	       created_at, completed_at
	FROM agent_results
	WHERE session_id = $1
	ORDER BY created_at ASC`

	rows, err := c.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent results: %w", err)
	}
	defer rows.Close()

	out := []AgentResultRow{}
	for rows.Next() {
		var (
			r                          AgentResultRow
			durationMs                 sql.NullInt64
			confidence                 sql.NullFloat64
			errMsg, content, thinking  sql.NullString
			sourcesJSON                []byte
			completedAt                sql.NullTime
		)
		if err := rows.Scan(
			&r.AgentName, &r.Status, &durationMs, &confidence, &errMsg, &content, &thinking, &sourcesJSON,
			&r.CreatedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan agent result: %w", err)
		}
		r.DurationMs = durationMs.Int64
		r.Confidence = confidence.Float64
		r.ErrorMessage = errMsg.String
		r.Content = content.String
		r.Thinking = thinking.String
		r.CompletedAt = timePtr(completedAt)
		if len(sourcesJSON) > 0 {
			_ = json.Unmarshal(sourcesJSON, &r.Sources)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DebateExchangeRow is one persisted debate exchange.
type DebateExchangeRow struct {
	RoundNumber      int       `json:"round_number"`
	Challenger       string    `json:"challenger"`
	Responder        string    `json:"responder"`
	Revised          bool      `json:"revised"`
	DebateType       string    `json:"debate_type,omitempty"`
	ChallengeContent string    `json:"challenge_content"`
	ResponseContent  string    `json:"response_content"`
	FollowupContent  string    `json:"followup_content,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ListDebateExchanges reads all exchanges for a session, round order first.
func (c *Client) ListDebateExchanges(ctx context.Context, sessionID string) ([]DebateExchangeRow, error) {
	const q = `
	SELECT round_number, challenger, responder, revised,
	       debate_type, challenge_content, response_content, followup_content,
	       created_at
	FROM debate_exchanges
	WHERE session_id = $1
	ORDER BY round_number ASC, created_at ASC`

	rows, err := c.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list debate exchanges: %w", err)
	}
	defer rows.Close()

	out := []DebateExchangeRow{}
	for rows.Next() {
		var (
			r                            DebateExchangeRow
			debateType, challenge        sql.NullString
			response, followup           sql.NullString
		)
		if err := rows.Scan(
			&r.RoundNumber, &r.Challenger, &r.Responder, &r.Revised,
			&debateType, &challenge, &response, &followup,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan debate exchange: %w", err)
		}
		r.DebateType = debateType.String
		r.ChallengeContent = challenge.String
		r.ResponseContent = response.String
		r.FollowupContent = followup.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// WorkflowEventRow is one persisted workflow event.
type WorkflowEventRow struct {
	EventType string         `json:"event_type"`
	AgentName string         `json:"agent_name,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListWorkflowEvents reads the event log for a session in arrival order.
func (c *Client) ListWorkflowEvents(ctx context.Context, sessionID string, limit int) ([]WorkflowEventRow, error) {
	if limit <= 0 {
		limit = 200
	}
	const q = `
	SELECT event_type, agent_name, tool_name, node_id, payload, created_at
	FROM workflow_events
	WHERE session_id = $1
	ORDER BY created_at ASC
	LIMIT $2`

	rows, err := c.db.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow events: %w", err)
	}
	defer rows.Close()

	out := []WorkflowEventRow{}
	for rows.Next() {
		var (
			r                         WorkflowEventRow
			agentName, toolName, node sql.NullString
			payloadJSON               []byte
		)
		if err := rows.Scan(&r.EventType, &agentName, &toolName, &node, &payloadJSON, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow event: %w", err)
		}
		r.AgentName = agentName.String
		r.ToolName = toolName.String
		r.NodeID = node.String
		r.Payload = decodeJSONMap(payloadJSON)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ToolInvocationRow is one persisted tool invocation read back for metrics
// and exports.
type ToolInvocationRow struct {
	ID                    int64          `json:"id"`
	SessionID             string         `json:"session_id"`
	InvocationID          string         `json:"invocation_id,omitempty"`
	AgentName             string         `json:"agent_name,omitempty"`
	ToolName              string         `json:"tool_name,omitempty"`
	Status                string         `json:"status"`
	DurationMs            int64          `json:"duration_ms"`
	Input                 map[string]any `json:"input,omitempty"`
	Output                map[string]any `json:"output,omitempty"`
	ErrorMessage          string         `json:"error_message,omitempty"`
	Context               string         `json:"context,omitempty"`
	ModelName             string         `json:"model_name,omitempty"`
	CacheHit              bool           `json:"cache_hit"`
	EstimatedInputTokens  *int           `json:"estimated_input_tokens,omitempty"`
	EstimatedOutputTokens *int           `json:"estimated_output_tokens,omitempty"`
	EstimatedCostUSD      float64        `json:"estimated_cost_usd"`
	StartedAt             *time.Time     `json:"started_at,omitempty"`
	FinishedAt            *time.Time     `json:"finished_at,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
}

// ListToolInvocations reads all tool invocations for a session in order.
func (c *Client) ListToolInvocations(ctx context.Context, sessionID string) ([]ToolInvocationRow, error) {
	const q = `
	SELECT id, session_id, invocation_id, agent_name, tool_name, status, duration_ms,
	       input, output, error_message, context, model_name, cache_hit,
	       estimated_input_tokens, estimated_output_tokens, estimated_cost_usd,
	       started_at, finished_at, created_at
	FROM tool_invocations
	WHERE session_id = $1
	ORDER BY created_at ASC, id ASC`

	rows, err := c.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool invocations: %w", err)
	}
	defer rows.Close()

	out := []ToolInvocationRow{}
	for rows.Next() {
		var (
			r                         ToolInvocationRow
			invocationID              sql.NullString
			agentName, toolName       sql.NullString
			errMsg, invCtx, modelName sql.NullString
			durationMs                sql.NullInt64
			inTokens, outTokens       sql.NullInt64
			cost                      sql.NullFloat64
			inputJSON, outputJSON     []byte
			startedAt, finishedAt     sql.NullTime
		)
		if err := rows.Scan(
			&r.ID, &r.SessionID, &invocationID, &agentName, &toolName, &r.Status, &durationMs,
			&inputJSON, &outputJSON, &errMsg, &invCtx, &modelName, &r.CacheHit,
			&inTokens, &outTokens, &cost,
			&startedAt, &finishedAt, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tool invocation: %w", err)
		}
		r.InvocationID = invocationID.String
		r.AgentName = agentName.String
		r.ToolName = toolName.String
		r.DurationMs = durationMs.Int64
		r.ErrorMessage = errMsg.String
		r.Context = invCtx.String
		r.ModelName = modelName.String
		r.EstimatedCostUSD = cost.Float64
		if inTokens.Valid {
			v := int(inTokens.Int64)
			r.EstimatedInputTokens = &v
		}
		if outTokens.Valid {
			v := int(outTokens.Int64)
			r.EstimatedOutputTokens = &v
		}
		r.Input = decodeJSONMap(inputJSON)
		r.Output = decodeJSONMap(outputJSON)
		r.StartedAt = timePtr(startedAt)
		r.FinishedAt = timePtr(finishedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AggregateToolMetrics rolls the session's tool invocations into the
// session and per-agent cost/stability buckets.
func (c *Client) AggregateToolMetrics(ctx context.Context, sessionID string) (map[string]any, error) {
	invocations, err := c.ListToolInvocations(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rows := make([]tools.InvocationRow, 0, len(invocations))
	for _, inv := range invocations {
		rows = append(rows, tools.InvocationRow{
			AgentName:        inv.AgentName,
			Status:           inv.Status,
			DurationMs:       inv.DurationMs,
			EstimatedCostUSD: inv.EstimatedCostUSD,
			CacheHit:         inv.CacheHit,
		})
	}
	return tools.AggregateMetrics(rows), nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func decodeJSONMap(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
