package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/database"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/metrics"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/report"
)

const workflowEventLimit = 200

// GetWorkflowStatus handles GET /status/{session_id}: the session row plus
// agent results, debate exchanges, the event log, and the derived metrics
// and chart bundle.
func (s *Server) GetWorkflowStatus(c *gin.Context) {
	sessionID := c.Param("session_id")

	if s.db == nil {
		c.JSON(http.StatusOK, gin.H{
			"session_id": sessionID,
			"status":     "unknown",
			"message":    "persistence is not configured, status tracking unavailable",
		})
		return
	}

	ctx, cancel := contextWithTimeout(c, 15*time.Second)
	defer cancel()

	session, err := s.db.GetSessionRow(ctx, sessionID)
	if errors.Is(err, database.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"session_id": sessionID,
			"status":     "not_found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	agentResults, err := s.db.ListAgentResults(ctx, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	exchanges, err := s.db.ListDebateExchanges(ctx, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	workflowEvents, err := s.db.ListWorkflowEvents(ctx, sessionID, workflowEventLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	invocations, err := s.db.ListToolInvocations(ctx, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	toolMetrics, err := s.db.AggregateToolMetrics(ctx, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	demoMetrics := buildDemoMetrics(session, agentResults, workflowEvents, invocations)
	reportCharts := report.BuildReportCharts(sessionID, session.Profile, demoMetrics, toolMetrics)

	c.JSON(http.StatusOK, gin.H{
		"session":          session,
		"agent_results":    agentResults,
		"debate_exchanges": exchanges,
		"workflow_events":  workflowEvents,
		"demo_metrics":     demoMetrics,
		"tool_metrics":     toolMetrics,
		"report_charts":    reportCharts,
	})
}

// ListSessions handles GET /sessions with limit, offset, and status query
// parameters.
func (s *Server) ListSessions(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusOK, gin.H{
			"sessions": []database.SessionSummary{},
			"message":  "persistence is not configured, history unavailable",
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	status := c.Query("status")

	ctx, cancel := contextWithTimeout(c, 10*time.Second)
	defer cancel()

	sessions, err := s.db.ListSessionsSummary(ctx, limit, offset, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
		"limit":    limit,
		"offset":   offset,
	})
}

// buildDemoMetrics projects the persisted session into the demo metrics
// view. Retry, guardrail, and adaptive-degrade counts come from the event
// log; tool totals from the invocation rows.
func buildDemoMetrics(session *database.SessionRow, agentResults []database.AgentResultRow, events []database.WorkflowEventRow, invocations []database.ToolInvocationRow) map[string]any {
	in := metrics.SessionInput{
		CompletedAt:  session.CompletedAt,
		EvidencePack: session.EvidencePack,
	}
	if session.StartedAt != nil {
		in.StartedAt = *session.StartedAt
	} else {
		in.StartedAt = session.CreatedAt
	}

	for _, r := range agentResults {
		in.AgentResults = append(in.AgentResults, models.AgentResult{
			AgentName:  r.AgentName,
			Content:    r.Content,
			Status:     r.Status,
			Confidence: r.Confidence,
			DurationMs: r.DurationMs,
		})
	}

	for _, ev := range events {
		switch ev.EventType {
		case models.EventRetry:
			in.RetryCount++
		case models.EventGuardrailTriggered:
			in.GuardrailTriggered++
		case models.EventAdaptiveConcurrency:
			if mode, _ := ev.Payload["mode"].(string); mode == "degraded" {
				in.AdaptiveDegraded++
			}
		}
	}

	in.ToolTotalCalls = len(invocations)
	for _, inv := range invocations {
		if inv.Status == "error" {
			in.ToolErrorCalls++
		}
	}

	return metrics.Compute(in, time.Now().UTC())
}
