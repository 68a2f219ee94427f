package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/database"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/report"
)

// GetReportHTML handles GET /report/{session_id}.html by serving the
// rendered report artifact from disk.
func (s *Server) GetReportHTML(c *gin.Context) {
	filename := c.Param("filename")
	sessionID, ok := strings.CutSuffix(filename, ".html")
	if !ok || sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "report filename must end with .html"})
		return
	}

	path := s.writer.ReportPath(sessionID)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "report not found, the session may still be running"})
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.File(path)
}

// ExportRoadshowZip handles GET /export/{session_id}.zip: it assembles the
// full roadshow package from the persisted session and serves the archive.
func (s *Server) ExportRoadshowZip(c *gin.Context) {
	filename := c.Param("filename")
	sessionID, ok := strings.CutSuffix(filename, ".zip")
	if !ok || sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "export filename must end with .zip"})
		return
	}
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "persistence is not configured, export unavailable"})
		return
	}

	ctx, cancel := contextWithTimeout(c, 30*time.Second)
	defer cancel()

	session, err := s.db.GetSessionRow(ctx, sessionID)
	if errors.Is(err, database.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if session.SynthesizedReport == "" {
		c.JSON(http.StatusConflict, gin.H{"detail": "session has no report yet, export requires a completed run"})
		return
	}

	agentResults, err := s.db.ListAgentResults(ctx, sessionID)
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

	// Re-render the HTML with the freshest chart bundle so the packaged
	// report matches the metrics shipped next to it.
	htmlPath, err := s.writer.WriteReportHTML(sessionID, session.SynthesizedReport, session.Profile, reportCharts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	zipPath, err := s.writer.WriteRoadshowZip(report.ExportInput{
		SessionID:       sessionID,
		Status:          session.Status,
		Profile:         session.Profile,
		ReportMarkdown:  session.SynthesizedReport,
		ReportHTMLPath:  htmlPath,
		SessionSnapshot: sessionSnapshot(session),
		EvidencePack:    session.EvidencePack,
		MemorySnapshot:  session.MemorySnapshot,
		DemoMetrics:     demoMetrics,
		ToolMetrics:     toolMetrics,
		WorkflowEvents:  eventTimeline(workflowEvents),
		ReportCharts:    reportCharts,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	c.FileAttachment(zipPath, fmt.Sprintf("weaveai-roadshow-%s.zip", report.SanitizeSessionID(sessionID)))
}

// sessionSnapshot flattens the session row into the export snapshot file.
func sessionSnapshot(s *database.SessionRow) map[string]any {
	return map[string]any{
		"id":                   s.ID,
		"status":               s.Status,
		"phase":                s.Phase,
		"current_debate_round": s.CurrentDebateRound,
		"debate_rounds":        s.DebateRounds,
		"enable_followup":      s.EnableFollowup,
		"enable_websearch":     s.EnableWebsearch,
		"profile":              s.Profile,
		"error_message":        s.ErrorMessage,
		"created_at":           s.CreatedAt,
		"started_at":           s.StartedAt,
		"completed_at":         s.CompletedAt,
	}
}

// eventTimeline converts the event rows into the export timeline shape.
func eventTimeline(events []database.WorkflowEventRow) []map[string]any {
	out := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		entry := map[string]any{
			"event_type": ev.EventType,
			"created_at": ev.CreatedAt,
		}
		if ev.AgentName != "" {
			entry["agent_name"] = ev.AgentName
		}
		if ev.ToolName != "" {
			entry["tool_name"] = ev.ToolName
		}
		if ev.Payload != nil {
			entry["payload"] = ev.Payload
		}
		out = append(out, entry)
	}
	return out
}
