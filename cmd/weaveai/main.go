// WeaveAI market-insight server: runs the multi-agent workflow engine
// behind the HTTP API, with optional PostgreSQL persistence.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/agent"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/api"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/config"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/database"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/graph"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/llm"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/report"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/throttle"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/tools"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func slogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	settings, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(settings.LogLevel),
	})))

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting WeaveAI market-insight server",
		"http_port", httpPort,
		"default_model", settings.DefaultModel,
		"artifacts_dir", settings.ArtifactsDir)

	ctx := context.Background()

	// Persistence is optional: without database settings the engine still
	// runs, losing only status tracking, history, and exports.
	var dbClient *database.Client
	if database.Configured() {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Warn("Database unavailable, continuing without persistence", "error", err)
			dbClient = nil
		} else {
			defer func() {
				if err := dbClient.Close(); err != nil {
					slog.Error("Error closing database client", "error", err)
				}
			}()
			slog.Info("Connected to PostgreSQL database")
		}
	} else {
		slog.Info("Database not configured, persistence disabled")
	}

	llmClient := llm.NewGatewayClient(settings)
	factory := agent.NewFactory(settings.DefaultModel)
	writer := report.NewWriter(settings.ArtifactsDir)

	engine := graph.NewEngine(factory, llmClient, graph.Options{
		Throttle: throttle.NewController(),
		Guardrail: tools.NewGuardrail(tools.GuardrailConfig{
			MaxEstimatedCostUSD:  settings.MaxEstimatedCostUSD,
			MaxErrorRate:         settings.MaxToolErrorRate,
			MinCallsForErrorRate: settings.MinCallsForErrorRate,
		}),
		Cache:        tools.NewCache(settings.ToolCacheTTL, settings.ToolCacheMaxSize),
		Checkpointer: graph.NewMemorySaver(),
		ReportWriter: writer,
		DefaultModel: settings.DefaultModel,
	})

	server := api.NewServer(engine, dbClient, writer, settings)
	httpServer := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
