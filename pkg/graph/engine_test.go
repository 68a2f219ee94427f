package graph

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/agent"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/llm"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

// ────────────────────────────────────────────────────────────
// Scripted LLM client. Calls are routed by prompt markers, so the
// script stays valid regardless of worker scheduling order:
//   - user prompt "回应质疑"  → respond turn (responder worker)
//   - user prompt "二次确认"  → followup turn (challenger)
//   - challenger system text  → challenge turn
//   - synthesizer system text → synthesis call
//   - otherwise               → gather-phase worker call
// ────────────────────────────────────────────────────────────

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

type callKind string

const (
	callWorker    callKind = "worker"
	callChallenge callKind = "challenge"
	callRespond   callKind = "respond"
	callFollowup  callKind = "followup"
	callSynthesis callKind = "synthesis"
)

func classifyCall(req llm.Request) callKind {
	system := ""
	user := ""
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "user":
			user = m.Content
		}
	}
	switch {
	case strings.Contains(user, "回应质疑"):
		return callRespond
	case strings.Contains(user, "二次确认"):
		return callFollowup
	case strings.Contains(system, "同行评审员") || strings.Contains(system, "红队审查官"):
		return callChallenge
	case strings.Contains(system, "综合分析师"):
		return callSynthesis
	default:
		return callWorker
	}
}

type scriptedClient struct {
	mu    sync.Mutex
	calls map[callKind]int
	// route overrides the default script; returning a nil slice with a nil
	// error falls through to the default output for the call kind.
	route func(kind callKind, req llm.Request, nth int) ([]llm.StreamEvent, error)
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{calls: make(map[callKind]int)}
}

func (c *scriptedClient) CreateResponseStream(_ context.Context, req llm.Request) (llm.Streamer, error) {
	kind := classifyCall(req)

	c.mu.Lock()
	c.calls[kind]++
	nth := c.calls[kind]
	c.mu.Unlock()

	if c.route != nil {
		events, err := c.route(kind, req, nth)
		if err != nil {
			return nil, err
		}
		if events != nil {
			return &scriptedStream{events: events}, nil
		}
	}
	return &scriptedStream{events: defaultScript(kind)}, nil
}

func (c *scriptedClient) callCount(kind callKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[kind]
}

func (c *scriptedClient) totalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

func defaultScript(kind callKind) []llm.StreamEvent {
	switch kind {
	case callWorker:
		return []llm.StreamEvent{
			{Type: llm.EventThinkingDelta, Delta: "先梳理已知信息"},
			{Type: llm.EventSearchStart},
			{Type: llm.EventOutputDelta, Delta: "## 分析报告\n\n"},
			{Type: llm.EventOutputDelta, Delta: "核心发现：市场规模持续增长。"},
			{Type: llm.EventSearchComplete, Meta: map[string]any{
				"sources": []string{"https://example.com/report-a", "https://example.com/report-b"},
			}},
		}
	case callChallenge:
		return []llm.StreamEvent{
			{Type: llm.EventOutputDelta, Delta: "### 🔍 质疑点 1：数据来源偏旧\n建议补充近期数据。"},
		}
	case callRespond:
		return []llm.StreamEvent{
			{Type: llm.EventOutputDelta, Delta: "## 📝 回应报告\n\n已修订数据来源，补充最新统计。"},
		}
	case callFollowup:
		return []llm.StreamEvent{
			{Type: llm.EventOutputDelta, Delta: "## ✅ 确认\n\n回应充分，接受修订。"},
		}
	default:
		return []llm.StreamEvent{
			{Type: llm.EventOutputDelta, Delta: "# 市场洞察综合报告\n\n- 综合结论：机会大于风险\n- 风险提示：注意合规风险"},
		}
	}
}

func newTestEngine(client llm.Client) *Engine {
	return NewEngine(agent.NewFactory("test-model"), client, Options{
		Checkpointer: NewMemorySaver(),
	})
}

func testState(rounds int) *models.GraphState {
	minPrice, maxPrice := 20, 60
	return &models.GraphState{
		SessionID: "sess-engine-test",
		UserProfile: models.Profile{
			TargetMarket: "美国",
			SupplyChain:  "宠物智能用品",
			SellerType:   "工厂型卖家",
			MinPrice:     &minPrice,
			MaxPrice:     &maxPrice,
		},
		DebateRounds:    rounds,
		EnableFollowup:  true,
		RetryMaxAttempt: 2,
		DegradeMode:     models.DegradePartial,
	}
}

func collectEvents(t *testing.T, ch <-chan models.Event) []models.Event {
	t.Helper()
	events := []models.Event{}
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func eventsOfType(events []models.Event, eventType string) []models.Event {
	out := []models.Event{}
	for _, ev := range events {
		if ev.Type() == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Full run
// ────────────────────────────────────────────────────────────

func TestEngine_Invoke_FullRunWithTwoDebateRounds(t *testing.T) {
	client := newScriptedClient()
	engine := newTestEngine(client)

	final, err := engine.Invoke(context.Background(), testState(2))
	require.NoError(t, err)

	assert.Equal(t, models.PhaseComplete, final.Phase)
	require.NotNil(t, final.CompletedAt)
	assert.Equal(t, 2, final.CurrentDebateRound)

	// All four workers produced completed results with sources.
	require.Len(t, final.AgentResults, 4)
	seen := map[string]bool{}
	for _, r := range final.AgentResults {
		seen[r.AgentName] = true
		assert.Equal(t, models.StatusCompleted, r.Status)
		assert.Contains(t, r.Content, "核心发现")
		assert.Equal(t, []string{"https://example.com/report-a", "https://example.com/report-b"}, r.Sources)
		assert.NotEmpty(t, r.Thinking)
	}
	for _, name := range models.WorkerAgents {
		assert.True(t, seen[name], "missing result for %s", name)
	}

	// Round 1 pairs both directions (4) plus round 2 red team (4).
	require.Len(t, final.DebateExchanges, 8)
	peerCount, redCount := 0, 0
	for _, ex := range final.DebateExchanges {
		switch ex.DebateType {
		case models.DebatePeer:
			peerCount++
			assert.Equal(t, 1, ex.RoundNumber)
			assert.NotEqual(t, models.AgentDebateChallenger, ex.Challenger)
		case models.DebateRedTeam:
			redCount++
			assert.Equal(t, 2, ex.RoundNumber)
			assert.Equal(t, models.AgentDebateChallenger, ex.Challenger)
		}
		assert.NotEmpty(t, ex.ChallengeContent)
		assert.NotEmpty(t, ex.ResponseContent)
		assert.NotEmpty(t, ex.FollowupContent)
		assert.True(t, ex.Revised, "default respond script declares a revision")
	}
	assert.Equal(t, 4, peerCount)
	assert.Equal(t, 4, redCount)

	assert.True(t, strings.HasPrefix(final.SynthesizedReport, "# 市场洞察综合报告"))

	// Evidence pack and memory snapshot are attached with matching stats.
	require.NotNil(t, final.EvidencePack)
	stats := final.EvidencePack["stats"].(map[string]any)
	assert.Equal(t, 4, stats["claims_count"])
	assert.Equal(t, 2, stats["sources_count"])
	assert.Equal(t, 8, stats["debate_count"])

	require.NotNil(t, final.MemorySnapshot)
	signals := final.MemorySnapshot["signals"].(map[string]any)
	assert.Equal(t, 8, signals["debate_count"])
	assert.Equal(t, 4, signals["agent_count"])

	// 4 workers + 8 exchanges × 3 turns + 1 synthesis.
	assert.Equal(t, 29, client.totalCalls())
}

func TestEngine_Invoke_ZeroRoundsSkipsDebate(t *testing.T) {
	client := newScriptedClient()
	engine := newTestEngine(client)

	final, err := engine.Invoke(context.Background(), testState(0))
	require.NoError(t, err)

	assert.Empty(t, final.DebateExchanges)
	assert.Equal(t, 0, client.callCount(callChallenge))
	assert.Equal(t, 0, client.callCount(callRespond))
	assert.Equal(t, 4, client.callCount(callWorker))
	assert.Equal(t, 1, client.callCount(callSynthesis))
	assert.NotEmpty(t, final.SynthesizedReport)
}

// ────────────────────────────────────────────────────────────
// Event stream contract
// ────────────────────────────────────────────────────────────

func TestEngine_Stream_EventSequence(t *testing.T) {
	client := newScriptedClient()
	engine := newTestEngine(client)

	st := testState(2)
	events := collectEvents(t, engine.Stream(context.Background(), st))
	require.NotEmpty(t, events)

	assert.Equal(t, models.EventOrchestratorStart, events[0].Type())
	assert.Equal(t, models.EventOrchestratorEnd, events[len(events)-1].Type())

	// 4 workers + synthesizer announce themselves.
	assert.Len(t, eventsOfType(events, models.EventAgentStart), 5)

	gather := eventsOfType(events, models.EventGatherComplete)
	require.Len(t, gather, 1)
	assert.EqualValues(t, 4, gather[0]["total_results"])

	roundStarts := eventsOfType(events, models.EventDebateRoundStart)
	require.Len(t, roundStarts, 2)
	assert.EqualValues(t, 1, roundStarts[0]["round_number"])
	assert.Equal(t, models.DebatePeer, roundStarts[0]["debate_type"])
	pairs, ok := roundStarts[0]["pairs"].([][2]string)
	require.True(t, ok)
	assert.Len(t, pairs, 2)
	assert.EqualValues(t, 2, roundStarts[1]["round_number"])
	assert.Equal(t, models.DebateRedTeam, roundStarts[1]["debate_type"])
	targets, ok := roundStarts[1]["targets"].([]string)
	require.True(t, ok)
	assert.Equal(t, models.WorkerAgents, targets)

	roundEnds := eventsOfType(events, models.EventDebateRoundEnd)
	require.Len(t, roundEnds, 2)
	assert.EqualValues(t, 4, roundEnds[0]["exchanges_count"])
	assert.EqualValues(t, 4, roundEnds[1]["exchanges_count"])

	// Every exchange emits the full challenge/respond/followup trio.
	assert.Len(t, eventsOfType(events, models.EventAgentChallenge), 8)
	assert.Len(t, eventsOfType(events, models.EventAgentRespond), 8)
	assert.Len(t, eventsOfType(events, models.EventAgentFollowup), 8)

	for _, ev := range eventsOfType(events, models.EventAgentChallengeEnd) {
		assert.NotEmpty(t, ev["round_number"])
		assert.NotEmpty(t, ev.Str("from_agent"))
		assert.NotEmpty(t, ev.Str("to_agent"))
		assert.Equal(t, ev["challenge_content"], ev["content"])
		preview := ev.Str("content_preview")
		assert.LessOrEqual(t, len([]rune(preview)), 200)
	}
	// Respond events run responder → challenger.
	for _, ev := range eventsOfType(events, models.EventAgentRespondEnd) {
		assert.Contains(t, append([]string{models.AgentDebateChallenger}, models.WorkerAgents...), ev.Str("to_agent"))
		revised, ok := ev["revised"].(bool)
		require.True(t, ok)
		assert.True(t, revised)
	}

	// Search events became tool invocations.
	assert.Len(t, eventsOfType(events, models.EventToolStart), 4)
	assert.Len(t, eventsOfType(events, models.EventToolEnd), 4)

	end := events[len(events)-1]
	assert.NotEmpty(t, end.Str("final_report"))
	assert.NotNil(t, end["evidence_pack"])
	assert.NotNil(t, end["memory_snapshot"])
}

func TestEngine_Stream_FollowupDisabled(t *testing.T) {
	client := newScriptedClient()
	engine := newTestEngine(client)

	st := testState(1)
	st.EnableFollowup = false
	events := collectEvents(t, engine.Stream(context.Background(), st))

	assert.Len(t, eventsOfType(events, models.EventAgentChallengeEnd), 4)
	assert.Len(t, eventsOfType(events, models.EventAgentRespondEnd), 4)
	assert.Empty(t, eventsOfType(events, models.EventAgentFollowup))
	assert.Empty(t, eventsOfType(events, models.EventAgentFollowupEnd))
	assert.Equal(t, 0, client.callCount(callFollowup))
}

// ────────────────────────────────────────────────────────────
// Retry and degrade handling
// ────────────────────────────────────────────────────────────

func TestEngine_WorkerRetriesThenSucceeds(t *testing.T) {
	client := newScriptedClient()
	var failedOnce sync.Once
	failFirst := errors.New("upstream 500")
	client.route = func(kind callKind, req llm.Request, nth int) ([]llm.StreamEvent, error) {
		if kind != callWorker {
			return nil, nil
		}
		var fail bool
		failedOnce.Do(func() { fail = true })
		if fail {
			return nil, failFirst
		}
		return nil, nil
	}
	engine := newTestEngine(client)

	st := testState(0)
	events := collectEvents(t, engine.Stream(context.Background(), st))

	retries := eventsOfType(events, models.EventRetry)
	require.Len(t, retries, 1)
	assert.Equal(t, "agent", retries[0].Str("target_type"))
	assert.EqualValues(t, 1, retries[0]["attempt"])
	assert.EqualValues(t, 2, retries[0]["max_attempts"])
	assert.Equal(t, "upstream 500", retries[0].Str("error"))

	// No error event: the retry recovered the run.
	assert.Empty(t, eventsOfType(events, models.EventError))
	assert.Len(t, eventsOfType(events, models.EventGatherComplete), 1)
}

func TestEngine_DegradePartialKeepsPlaceholder(t *testing.T) {
	client := newScriptedClient()
	client.route = func(kind callKind, req llm.Request, nth int) ([]llm.StreamEvent, error) {
		if kind == callWorker && strings.Contains(req.Messages[0].Content, "社媒哨兵") {
			return nil, errors.New("model unavailable")
		}
		return nil, nil
	}
	engine := newTestEngine(client)

	final, err := engine.Invoke(context.Background(), testState(0))
	require.NoError(t, err)

	require.Len(t, final.AgentResults, 4)
	failed := final.ResultFor(models.AgentSocialSentinel)
	require.NotNil(t, failed)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Equal(t, "model unavailable", failed.Error)
	assert.Empty(t, failed.Content)

	// The other three still completed and synthesis still ran.
	assert.NotEmpty(t, final.SynthesizedReport)
}

func TestEngine_DegradeSkipDropsResult(t *testing.T) {
	client := newScriptedClient()
	client.route = func(kind callKind, req llm.Request, nth int) ([]llm.StreamEvent, error) {
		if kind == callWorker && strings.Contains(req.Messages[0].Content, "法规检查员") {
			return nil, errors.New("model unavailable")
		}
		return nil, nil
	}
	engine := newTestEngine(client)

	st := testState(0)
	st.DegradeMode = models.DegradeSkip
	final, err := engine.Invoke(context.Background(), st)
	require.NoError(t, err)

	assert.Len(t, final.AgentResults, 3)
	assert.Nil(t, final.ResultFor(models.AgentRegulationChecker))
}

func TestEngine_DegradeFailAbortsRun(t *testing.T) {
	client := newScriptedClient()
	client.route = func(kind callKind, req llm.Request, nth int) ([]llm.StreamEvent, error) {
		if kind == callWorker && strings.Contains(req.Messages[0].Content, "趋势侦察员") {
			return nil, errors.New("model unavailable")
		}
		return nil, nil
	}
	engine := newTestEngine(client)

	st := testState(0)
	st.DegradeMode = models.DegradeFail
	_, err := engine.Invoke(context.Background(), st)
	require.Error(t, err)
	var execErr *ExecutionError
	assert.ErrorAs(t, err, &execErr)

	// On the stream path the failure surfaces as the final error event.
	st2 := testState(0)
	st2.DegradeMode = models.DegradeFail
	events := collectEvents(t, engine.Stream(context.Background(), st2))
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, models.EventError, last.Type())
	assert.NotEmpty(t, last.Str("error"))
}

func TestEngine_SynthesisFallbackOnModelFailure(t *testing.T) {
	client := newScriptedClient()
	client.route = func(kind callKind, req llm.Request, nth int) ([]llm.StreamEvent, error) {
		if kind == callSynthesis {
			return nil, errors.New("synthesis model down")
		}
		return nil, nil
	}
	engine := newTestEngine(client)

	st := testState(0)
	events := []models.Event{}
	var final *models.GraphState
	ch := engine.Stream(context.Background(), st)
	for ev := range ch {
		events = append(events, ev)
	}
	final = engine.LoadCheckpoint(st.SessionID)
	require.NotNil(t, final)

	// The run still completes with a locally assembled report.
	assert.Equal(t, models.PhaseComplete, final.Phase)
	assert.Contains(t, final.SynthesizedReport, "# 市场洞察报告")
	for _, name := range models.WorkerAgents {
		assert.Contains(t, final.SynthesizedReport, name)
	}

	// The synthesizer closes degraded, not failed.
	var synthEnd models.Event
	for _, ev := range eventsOfType(events, models.EventAgentEnd) {
		if ev.Str("agent") == models.AgentSynthesizer {
			synthEnd = ev
		}
	}
	require.NotNil(t, synthEnd)
	assert.Equal(t, models.StatusDegraded, synthEnd.Str("status"))
	assert.Empty(t, eventsOfType(events, models.EventError))
}

// ────────────────────────────────────────────────────────────
// Cache replay
// ────────────────────────────────────────────────────────────

func TestEngine_SecondRunServedFromCache(t *testing.T) {
	client := newScriptedClient()
	engine := newTestEngine(client)

	_, err := engine.Invoke(context.Background(), testState(0))
	require.NoError(t, err)
	firstRunCalls := client.totalCalls()
	assert.Equal(t, 5, firstRunCalls)

	st2 := testState(0)
	st2.SessionID = "sess-engine-test-2"
	events := collectEvents(t, engine.Stream(context.Background(), st2))

	// Worker prompts are identical, so only the synthesis call goes out.
	assert.Equal(t, firstRunCalls+1, client.totalCalls())

	cachedChunks := 0
	for _, ev := range eventsOfType(events, models.EventAgentChunk) {
		if hit, _ := ev["cached"].(bool); hit {
			cachedChunks++
		}
	}
	assert.Equal(t, 4, cachedChunks)
}

// ────────────────────────────────────────────────────────────
// State normalization and fallback report
// ────────────────────────────────────────────────────────────

func TestNormalizeState(t *testing.T) {
	st := &models.GraphState{DebateRounds: 7, RetryMaxAttempt: 0, RetryBackoffMs: -5, DegradeMode: "bogus"}
	NormalizeState(st)
	assert.Equal(t, 2, st.DebateRounds)
	assert.Equal(t, 2, st.RetryMaxAttempt)
	assert.Equal(t, 300, st.RetryBackoffMs)
	assert.Equal(t, models.DegradePartial, st.DegradeMode)
	assert.Equal(t, models.PhaseInit, st.Phase)

	st2 := &models.GraphState{DebateRounds: -1, RetryMaxAttempt: 3, RetryBackoffMs: 0, DegradeMode: models.DegradeFail, Phase: models.PhaseGather}
	NormalizeState(st2)
	assert.Equal(t, 0, st2.DebateRounds)
	assert.Equal(t, 3, st2.RetryMaxAttempt)
	assert.Equal(t, 0, st2.RetryBackoffMs)
	assert.Equal(t, models.DegradeFail, st2.DegradeMode)
	assert.Equal(t, models.PhaseGather, st2.Phase)
}

func TestFallbackReport(t *testing.T) {
	report := FallbackReport(nil, nil)
	assert.Contains(t, report, "# 市场洞察报告")
	assert.Contains(t, report, "降级报告")

	results := []models.AgentResult{
		{AgentName: models.AgentTrendScout, Content: "趋势内容"},
		{AgentName: models.AgentSocialSentinel, Error: "timeout"},
	}
	exchanges := []models.DebateExchange{
		{RoundNumber: 1, DebateType: models.DebatePeer, Challenger: models.AgentTrendScout, Responder: models.AgentCompetitorAnalyst},
	}
	report = FallbackReport(results, exchanges)
	assert.Contains(t, report, "## trend_scout")
	assert.Contains(t, report, "趋势内容")
	assert.Contains(t, report, "采集异常记录")
	assert.Contains(t, report, "social_sentinel: timeout")
	assert.Contains(t, report, "辩论总结")
	assert.NotContains(t, report, "未获得可用的上游模型输出")
}
