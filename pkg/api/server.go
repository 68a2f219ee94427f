// Package api exposes the market-insight workflow over HTTP: an SSE
// streaming endpoint, a synchronous endpoint, and the status, history,
// report, and export read paths.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/config"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/database"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/graph"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/report"
)

// APIVersion is reported by the health endpoint.
const APIVersion = "2.0.0"

// Server wires the workflow engine, the optional database, and the report
// writer behind the HTTP handlers. A nil database client disables
// persistence-backed endpoints gracefully.
type Server struct {
	engine   *graph.Engine
	db       *database.Client
	writer   *report.Writer
	settings config.Settings
}

// NewServer creates the API server.
func NewServer(engine *graph.Engine, db *database.Client, writer *report.Writer, settings config.Settings) *Server {
	return &Server{
		engine:   engine,
		db:       db,
		writer:   writer,
		settings: settings,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v2 := r.Group("/api/v2/market-insight")
	{
		v2.POST("/stream", s.StreamMarketInsight)
		v2.POST("/generate", s.GenerateMarketInsight)
		v2.GET("/status/:session_id", s.GetWorkflowStatus)
		v2.GET("/sessions", s.ListSessions)
		v2.GET("/report/:filename", s.GetReportHTML)
		v2.GET("/export/:filename", s.ExportRoadshowZip)
		v2.GET("/health", s.HealthCheck)
	}
	r.GET("/health", s.HealthCheck)
	return r
}

// HealthCheck reports API liveness, feature flags, and database health
// when persistence is configured.
func (s *Server) HealthCheck(c *gin.Context) {
	resp := gin.H{
		"status":  "healthy",
		"version": APIVersion,
		"features": gin.H{
			"multi_agent": true,
			"debate":      true,
			"streaming":   true,
		},
	}
	if s.db != nil {
		ctx, cancel := contextWithTimeout(c, 5*time.Second)
		defer cancel()
		health, err := s.db.Health(ctx)
		resp["database"] = health
		if err != nil {
			resp["status"] = "degraded"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

func contextWithTimeout(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), d)
}
