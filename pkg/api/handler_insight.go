package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/events"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

// StreamMarketInsight handles POST /stream. Every workflow event is fed to
// the database sink (best effort) and pushed to the client as one SSE
// frame. Client disconnect cancels the run through the request context.
func (s *Server) StreamMarketInsight(c *gin.Context) {
	var req MarketInsightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID := req.resolveSessionID()
	state := s.buildState(&req, sessionID)

	sink := events.NewSessionSink(s.db, sessionID, state.UserProfile, sessionConfig(state))
	defer sink.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for event := range s.engine.Stream(ctx, state) {
		sink.OnEvent(event)

		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type(), data)
		c.Writer.Flush()

		if ctx.Err() != nil {
			return
		}
	}
}

// GenerateMarketInsight handles POST /generate: a synchronous run without
// streaming, returning the full report in one JSON response.
func (s *Server) GenerateMarketInsight(c *gin.Context) {
	var req MarketInsightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID := req.resolveSessionID()
	state := s.buildState(&req, sessionID)

	final, err := s.engine.Invoke(c.Request.Context(), state)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	agentResults := make([]gin.H, 0, len(final.AgentResults))
	for _, r := range final.AgentResults {
		agentResults = append(agentResults, gin.H{
			"agent_name":  r.AgentName,
			"content":     r.Content,
			"sources":     r.Sources,
			"duration_ms": r.DurationMs,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":      sessionID,
		"status":          models.StatusCompleted,
		"report":          final.SynthesizedReport,
		"report_html_url": fmt.Sprintf("/api/v2/market-insight/report/%s.html", sessionID),
		"evidence_pack":   final.EvidencePack,
		"memory_snapshot": final.MemorySnapshot,
		"agent_results":   agentResults,
		"debate_summary": gin.H{
			"total_exchanges": len(final.DebateExchanges),
			"rounds":          final.CurrentDebateRound,
		},
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
