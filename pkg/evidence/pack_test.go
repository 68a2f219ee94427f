package evidence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

func sampleResults() []models.AgentResult {
	return []models.AgentResult{
		{
			AgentName:  models.AgentTrendScout,
			Content:    "宠物智能用品市场年增长 25%，喂食器品类领跑。",
			Confidence: 0.9,
			Sources:    []string{"https://example.com/a", "https://example.com/b"},
		},
		{
			AgentName:  models.AgentCompetitorAnalyst,
			Content:    "头部竞品已占据 60% 份额。",
			Confidence: 0.8,
			// One duplicate and one blank entry to exercise normalization.
			Sources: []string{"https://example.com/a", " ", "https://example.com/c"},
		},
		{
			AgentName:  models.AgentRegulationChecker,
			Content:    "FCC 认证为强制要求。",
			Confidence: 1.7,
			Sources:    nil,
		},
	}
}

func TestBuildPack_SourceIndexAndClaims(t *testing.T) {
	pack := BuildPack("sess-1", models.Profile{TargetMarket: "美国"}, sampleResults(), nil, "# 报告\n结论", "2026-03-01T00:00:00Z")

	sources := pack["sources"].([]map[string]any)
	require.Len(t, sources, 3, "duplicates and blanks are dropped")
	assert.Equal(t, "S001", sources[0]["source_id"])
	assert.Equal(t, "https://example.com/a", sources[0]["source"])
	assert.Equal(t, models.AgentTrendScout, sources[0]["first_seen_in_agent"])
	assert.Equal(t, "S003", sources[2]["source_id"])
	assert.Equal(t, models.AgentCompetitorAnalyst, sources[2]["first_seen_in_agent"])

	claims := pack["claims"].([]map[string]any)
	require.Len(t, claims, 3)
	assert.Equal(t, "C001", claims[0]["claim_id"])
	assert.Equal(t, []string{"S001", "S002"}, claims[0]["source_refs"])
	// The shared source resolves to the id assigned at first sight.
	assert.Equal(t, []string{"S001", "S003"}, claims[1]["source_refs"])
	assert.Empty(t, claims[2]["source_refs"])

	// Confidence out of band clamps to 1.
	assert.Equal(t, 1.0, claims[2]["confidence"])

	stats := pack["stats"].(map[string]any)
	assert.Equal(t, 3, stats["claims_count"])
	assert.Equal(t, 3, stats["sources_count"])
	assert.Equal(t, 0, stats["debate_count"])
}

func TestBuildPack_CanonicalizesSources(t *testing.T) {
	results := []models.AgentResult{{
		AgentName:  models.AgentTrendScout,
		Content:    "喂食器需求走高。",
		Confidence: 0.8,
		Sources: []string{
			" https://example.com/report). ",
			"www.example.com/brief",
			"市场调研笔记",
			"https://example.com/report",
		},
	}}
	pack := BuildPack("sess-1", models.Profile{}, results, nil, "# 报告", "2026-03-01T00:00:00Z")

	// Punctuation wrappers collapse onto the same canonical URL, bare www.
	// hosts gain a scheme, and non-URL references are dropped.
	sources := pack["sources"].([]map[string]any)
	require.Len(t, sources, 2)
	assert.Equal(t, "https://example.com/report", sources[0]["source"])
	assert.Equal(t, "https://www.example.com/brief", sources[1]["source"])

	claims := pack["claims"].([]map[string]any)
	assert.Equal(t, []string{"S001", "S002"}, claims[0]["source_refs"])
}

func TestBuildPack_DebateAdjustments(t *testing.T) {
	exchanges := []models.DebateExchange{
		{
			RoundNumber:      1,
			DebateType:       models.DebatePeer,
			Challenger:       models.AgentTrendScout,
			Responder:        models.AgentCompetitorAnalyst,
			Revised:          true,
			ChallengeContent: "数据来源偏旧",
			ResponseContent:  "已修订为最新数据",
		},
	}
	pack := BuildPack("sess-1", models.Profile{}, nil, exchanges, "", "2026-03-01T00:00:00Z")

	adjustments := pack["debate_adjustments"].([]map[string]any)
	require.Len(t, adjustments, 1)
	assert.Equal(t, 1, adjustments[0]["round_number"])
	assert.Equal(t, models.DebatePeer, adjustments[0]["debate_type"])
	assert.Equal(t, true, adjustments[0]["revised"])
	assert.Equal(t, "数据来源偏旧", adjustments[0]["challenge_summary"])
}

func TestBuildPack_Deterministic(t *testing.T) {
	results := sampleResults()
	p1 := BuildPack("sess-1", models.Profile{TargetMarket: "美国"}, results, nil, "# 报告", "2026-03-01T00:00:00Z")
	p2 := BuildPack("sess-1", models.Profile{TargetMarket: "美国"}, results, nil, "# 报告", "2026-03-01T00:00:00Z")
	assert.Equal(t, p1, p2)
}

func TestBuildPack_EmptyInputs(t *testing.T) {
	pack := BuildPack("sess-1", models.Profile{}, nil, nil, "", "2026-03-01T00:00:00Z")
	assert.Equal(t, PackVersion, pack["version"])
	assert.Equal(t, "sess-1", pack["session_id"])
	assert.Empty(t, pack["claims"])
	assert.Empty(t, pack["sources"])
	stats := pack["stats"].(map[string]any)
	assert.Equal(t, 0, stats["claims_count"])
}

func TestBuildPack_ClipsLongContent(t *testing.T) {
	long := strings.Repeat("长", 500)
	results := []models.AgentResult{{AgentName: "a", Content: long}}
	pack := BuildPack("sess-1", models.Profile{}, results, nil, long, "2026-03-01T00:00:00Z")

	claims := pack["claims"].([]map[string]any)
	summary := claims[0]["summary"].(string)
	assert.Equal(t, 240, len([]rune(summary)))
	assert.True(t, strings.HasSuffix(summary, "…"))

	excerpt := pack["report_excerpt"].(string)
	assert.Equal(t, 300, len([]rune(excerpt)))
}

func TestNormalizeConfidence(t *testing.T) {
	assert.Equal(t, 0.6, normalizeConfidence(0.6))
	assert.Equal(t, 0.0, normalizeConfidence(-0.4))
	assert.Equal(t, 1.0, normalizeConfidence(3.2))
	assert.Equal(t, 0.123, normalizeConfidence(0.12349))
}
