package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

// SessionConfig captures the per-session workflow switches persisted on the
// session row at creation time.
type SessionConfig struct {
	DebateRounds    int  `json:"debate_rounds"`
	EnableFollowup  bool `json:"enable_followup"`
	EnableWebsearch bool `json:"enable_websearch"`
}

// CreateSession inserts the session row. Idempotent: a duplicate id is a
// no-op, so reconnects can re-announce the same session safely.
func (c *Client) CreateSession(ctx context.Context, sessionID string, profile models.Profile, cfg SessionConfig) error {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	const q = `
	INSERT INTO sessions (
	  id, industry, target_market, supply_chain, seller_type,
	  min_price, max_price, profile,
	  debate_rounds, enable_followup, enable_websearch,
	  status, phase, current_debate_round, started_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW())
	ON CONFLICT (id) DO NOTHING`

	_, err = c.db.ExecContext(ctx, q,
		sessionID,
		nullStr(profile.SupplyChain),
		nullStr(profile.TargetMarket),
		nullStr(profile.SupplyChain),
		nullStr(profile.SellerType),
		profile.MinPrice,
		profile.MaxPrice,
		profileJSON,
		cfg.DebateRounds,
		cfg.EnableFollowup,
		cfg.EnableWebsearch,
		models.StatusRunning,
		models.PhaseInit,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// sessionUpdateColumns is the whitelist of columns UpdateSessionFields may
// touch, in the order the SET clause is built.
var sessionUpdateColumns = []string{
	"status",
	"phase",
	"current_debate_round",
	"synthesized_report",
	"evidence_pack",
	"memory_snapshot",
	"evidence_generated_at",
	"memory_snapshot_generated_at",
	"error_message",
	"completed_at",
	"started_at",
	"enable_followup",
	"enable_websearch",
	"debate_rounds",
	"profile",
	"target_market",
	"supply_chain",
	"seller_type",
	"min_price",
	"max_price",
}

var sessionJSONColumns = map[string]struct{}{
	"profile":         {},
	"evidence_pack":   {},
	"memory_snapshot": {},
}

// UpdateSessionFields updates whitelisted session columns. Unknown keys are
// ignored; an empty update is a no-op.
func (c *Client) UpdateSessionFields(ctx context.Context, sessionID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	sets := make([]string, 0, len(fields))
	values := make([]any, 0, len(fields)+1)
	for _, col := range sessionUpdateColumns {
		v, ok := fields[col]
		if !ok {
			continue
		}
		if _, isJSON := sessionJSONColumns[col]; isJSON && v != nil {
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to encode %s: %w", col, err)
			}
			v = data
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(values)+1))
		values = append(values, v)
	}
	if len(sets) == 0 {
		return nil
	}

	q := fmt.Sprintf("UPDATE sessions SET %s WHERE id = $%d", strings.Join(sets, ", "), len(values)+1)
	values = append(values, sessionID)

	if _, err := c.db.ExecContext(ctx, q, values...); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

var agentResultColumns = []string{
	"content",
	"thinking",
	"sources",
	"confidence",
	"duration_ms",
	"status",
	"error_message",
	"completed_at",
}

// UpsertAgentResult inserts or updates one agent's result row, keyed by
// (session_id, agent_name). Only the provided fields are written.
func (c *Client) UpsertAgentResult(ctx context.Context, sessionID, agentName string, fields map[string]any) error {
	cols := []string{"session_id", "agent_name"}
	vals := []any{sessionID, agentName}

	for _, col := range agentResultColumns {
		v, ok := fields[col]
		if !ok {
			continue
		}
		if col == "sources" && v != nil {
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to encode sources: %w", err)
			}
			v = data
		}
		cols = append(cols, col)
		vals = append(vals, v)
	}

	placeholders := make([]string, len(cols))
	updates := make([]string, 0, len(cols)-2)
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != "session_id" && col != "agent_name" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}
	if len(updates) == 0 {
		updates = append(updates, "agent_name = EXCLUDED.agent_name")
	}

	q := fmt.Sprintf(`
	INSERT INTO agent_results (%s) VALUES (%s)
	ON CONFLICT (session_id, agent_name) DO UPDATE SET %s`,
		strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))

	if _, err := c.db.ExecContext(ctx, q, vals...); err != nil {
		return fmt.Errorf("failed to upsert agent result: %w", err)
	}
	return nil
}

// InsertDebateExchange appends one completed debate exchange.
func (c *Client) InsertDebateExchange(ctx context.Context, sessionID string, ex models.DebateExchange) error {
	const q = `
	INSERT INTO debate_exchanges (
	  session_id, round_number, debate_type, challenger, responder,
	  challenge_content, response_content, followup_content, revised
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := c.db.ExecContext(ctx, q,
		sessionID,
		ex.RoundNumber,
		nullStr(ex.DebateType),
		ex.Challenger,
		ex.Responder,
		ex.ChallengeContent,
		ex.ResponseContent,
		nullStr(ex.FollowupContent),
		ex.Revised,
	)
	if err != nil {
		return fmt.Errorf("failed to insert debate exchange: %w", err)
	}
	return nil
}

// InsertWorkflowEvent appends one workflow event. Chunk events must be
// filtered out by the caller.
func (c *Client) InsertWorkflowEvent(ctx context.Context, sessionID, eventType, agentName string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	const q = `
	INSERT INTO workflow_events (session_id, event_type, agent_name, payload)
	VALUES ($1,$2,$3,$4)`

	if _, err := c.db.ExecContext(ctx, q, sessionID, eventType, nullStr(agentName), payloadJSON); err != nil {
		return fmt.Errorf("failed to insert workflow event: %w", err)
	}
	return nil
}

// ToolInvocation is one tool-call audit record.
type ToolInvocation struct {
	SessionID             string
	InvocationID          string
	AgentName             string
	ToolName              string
	Status                string
	DurationMs            int64
	Input                 map[string]any
	Output                map[string]any
	ErrorMessage          string
	Context               string
	ModelName             string
	CacheHit              bool
	EstimatedInputTokens  *int
	EstimatedOutputTokens *int
	EstimatedCostUSD      *float64
	StartedAt             sql.NullTime
	FinishedAt            sql.NullTime
}

// InsertToolInvocation appends one tool-call audit record.
func (c *Client) InsertToolInvocation(ctx context.Context, inv ToolInvocation) error {
	inputJSON, err := json.Marshal(orEmptyMap(inv.Input))
	if err != nil {
		return fmt.Errorf("failed to encode tool input: %w", err)
	}
	outputJSON, err := json.Marshal(orEmptyMap(inv.Output))
	if err != nil {
		return fmt.Errorf("failed to encode tool output: %w", err)
	}

	const q = `
	INSERT INTO tool_invocations (
	  session_id, invocation_id, agent_name, tool_name, status, duration_ms,
	  input, output, error_message, context, model_name, cache_hit,
	  estimated_input_tokens, estimated_output_tokens, estimated_cost_usd,
	  started_at, finished_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`

	_, err = c.db.ExecContext(ctx, q,
		inv.SessionID,
		nullStr(inv.InvocationID),
		nullStr(inv.AgentName),
		nullStr(inv.ToolName),
		inv.Status,
		inv.DurationMs,
		inputJSON,
		outputJSON,
		nullStr(inv.ErrorMessage),
		nullStr(inv.Context),
		nullStr(inv.ModelName),
		inv.CacheHit,
		inv.EstimatedInputTokens,
		inv.EstimatedOutputTokens,
		inv.EstimatedCostUSD,
		inv.StartedAt,
		inv.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tool invocation: %w", err)
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
