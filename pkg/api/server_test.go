package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/agent"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/config"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/graph"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/llm"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/report"
)

// ──────────────────────────────────────────────────────────────
// Scripted model client
// ──────────────────────────────────────────────────────────────

type scriptedStream struct {
	events []llm.StreamEvent
	pos    int
}

func (s *scriptedStream) Recv() (llm.StreamEvent, error) {
	if s.pos >= len(s.events) {
		return llm.StreamEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *scriptedStream) Close() error { return nil }

// scriptedClient answers every model call with canned role-appropriate
// output, routed by the prompt markers each agent carries.
type scriptedClient struct{}

func (c *scriptedClient) CreateResponseStream(_ context.Context, req llm.Request) (llm.Streamer, error) {
	system, user := "", ""
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "user":
			user = m.Content
		}
	}

	var output string
	switch {
	case strings.Contains(user, "回应质疑"):
		output = "## 回应\n\n已修订相关结论。"
	case strings.Contains(user, "二次确认"):
		output = "## 确认\n\n质疑已解决。"
	case strings.Contains(system, "同行评审员") || strings.Contains(system, "红队审查官"):
		output = "### 质疑点\n\n数据来源存疑。"
	case strings.Contains(system, "综合分析师"):
		output = "# 市场洞察综合报告\n\n综合结论。"
	default:
		return &scriptedStream{events: []llm.StreamEvent{
			{Type: llm.EventOutputDelta, Delta: "## 分析报告\n\n核心发现。"},
			{Type: llm.EventSearchComplete, Meta: map[string]any{
				"sources": []string{"https://example.com/a"},
			}},
		}}, nil
	}
	return &scriptedStream{events: []llm.StreamEvent{
		{Type: llm.EventOutputDelta, Delta: output},
	}}, nil
}

// ──────────────────────────────────────────────────────────────
// Test server
// ──────────────────────────────────────────────────────────────

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	writer := report.NewWriter(t.TempDir())
	engine := graph.NewEngine(agent.NewFactory("test-model"), &scriptedClient{}, graph.Options{
		Checkpointer: graph.NewMemorySaver(),
		ReportWriter: writer,
	})
	settings := config.Settings{
		DefaultModel:        "test-model",
		DefaultDebateRounds: 0,
		EnableFollowup:      false,
	}
	return NewServer(engine, nil, writer, settings)
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// ──────────────────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────────────────

func TestHealthCheck_NoDatabase(t *testing.T) {
	rec := doRequest(t, newTestServer(t), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, APIVersion, body["version"])
	assert.NotContains(t, body, "database")
	features := body["features"].(map[string]any)
	assert.Equal(t, true, features["debate"])
}

func TestGenerateMarketInsight(t *testing.T) {
	rounds := 0
	rec := doRequest(t, newTestServer(t), http.MethodPost, "/api/v2/market-insight/generate", MarketInsightRequest{
		SessionID:    "sess-api-gen",
		DebateRounds: &rounds,
		Profile: &UserProfile{
			TargetMarket: "美国",
			SupplyChain:  "宠物智能用品",
			SellerType:   "工厂型卖家",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeJSON(t, rec)
	assert.Equal(t, "sess-api-gen", body["session_id"])
	assert.Equal(t, "completed", body["status"])
	assert.Contains(t, body["report"], "# 市场洞察综合报告")
	assert.Equal(t, "/api/v2/market-insight/report/sess-api-gen.html", body["report_html_url"])

	results := body["agent_results"].([]any)
	assert.Len(t, results, 4)
	first := results[0].(map[string]any)
	assert.NotEmpty(t, first["agent_name"])
	assert.NotEmpty(t, first["content"])

	summary := body["debate_summary"].(map[string]any)
	assert.Equal(t, 0.0, summary["total_exchanges"])

	assert.NotNil(t, body["evidence_pack"])
	assert.NotNil(t, body["memory_snapshot"])
}

func TestGenerateMarketInsight_GeneratesSessionID(t *testing.T) {
	rec := doRequest(t, newTestServer(t), http.MethodPost, "/api/v2/market-insight/generate", MarketInsightRequest{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decodeJSON(t, rec)["session_id"])
}

func TestGenerateMarketInsight_BadJSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v2/market-insight/generate", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeJSON(t, rec), "error")
}

func TestStreamMarketInsight_SSEFrames(t *testing.T) {
	rounds := 0
	rec := doRequest(t, newTestServer(t), http.MethodPost, "/api/v2/market-insight/stream", MarketInsightRequest{
		SessionID:    "sess-api-stream",
		DebateRounds: &rounds,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: orchestrator_start\n")
	assert.Contains(t, body, "event: agent_start\n")
	assert.Contains(t, body, "event: orchestrator_end\n")

	// Every frame carries a JSON data line.
	for _, frame := range strings.Split(strings.TrimSpace(body), "\n\n") {
		lines := strings.SplitN(frame, "\n", 2)
		require.Len(t, lines, 2, "frame: %q", frame)
		data := strings.TrimPrefix(lines[1], "data: ")
		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(data), &payload), "frame: %q", frame)
		assert.NotEmpty(t, payload["event"])
	}
}

func TestGetWorkflowStatus_NoDatabase(t *testing.T) {
	rec := doRequest(t, newTestServer(t), http.MethodGet, "/api/v2/market-insight/status/sess-x", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "sess-x", body["session_id"])
	assert.Equal(t, "unknown", body["status"])
}

func TestListSessions_NoDatabase(t *testing.T) {
	rec := doRequest(t, newTestServer(t), http.MethodGet, "/api/v2/market-insight/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Empty(t, body["sessions"])
	assert.NotEmpty(t, body["message"])
}

func TestGetReportHTML(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v2/market-insight/report/sess-1.pdf", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v2/market-insight/report/missing.html", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// After a run the rendered artifact is served from disk.
	rounds := 0
	gen := doRequest(t, s, http.MethodPost, "/api/v2/market-insight/generate", MarketInsightRequest{
		SessionID:    "sess-report",
		DebateRounds: &rounds,
	})
	require.Equal(t, http.StatusOK, gen.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v2/market-insight/report/sess-report.html", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "市场洞察综合报告")
}

func TestExportRoadshowZip_NoDatabase(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v2/market-insight/export/sess-1.tar", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v2/market-insight/export/sess-1.zip", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildState_Defaults(t *testing.T) {
	s := newTestServer(t)

	st := s.buildState(&MarketInsightRequest{}, "sess-1")
	assert.Equal(t, 0, st.DebateRounds, "settings default applies when absent")
	assert.False(t, st.EnableFollowup)
	assert.Equal(t, 2, st.RetryMaxAttempt)
	assert.Equal(t, 300, st.RetryBackoffMs)
	assert.Equal(t, "partial", string(st.DegradeMode))

	rounds, followup, backoff := 2, true, 500
	st = s.buildState(&MarketInsightRequest{
		DebateRounds:     &rounds,
		EnableFollowup:   &followup,
		RetryBackoffMs:   &backoff,
		RetryMaxAttempts: 3,
		DegradeMode:      "skip",
	}, "sess-2")
	assert.Equal(t, 2, st.DebateRounds)
	assert.True(t, st.EnableFollowup)
	assert.Equal(t, 500, st.RetryBackoffMs)
	assert.Equal(t, 3, st.RetryMaxAttempt)
	assert.Equal(t, "skip", string(st.DegradeMode))
}
