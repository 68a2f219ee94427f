package config

import "github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"

// ThinkingMode controls whether the upstream model runs its reasoning phase.
type ThinkingMode string

const (
	ThinkingAuto     ThinkingMode = "auto"
	ThinkingEnabled  ThinkingMode = "enabled"
	ThinkingDisabled ThinkingMode = "disabled"
)

// AgentModelMapping assigns each agent its upstream model.
var AgentModelMapping = map[string]string{
	models.AgentTrendScout:        "doubao-seed-2-0-pro-260215",
	models.AgentCompetitorAnalyst: "deepseek-v3-2-251201",
	models.AgentRegulationChecker: "kimi-k2-thinking-251104",
	models.AgentSocialSentinel:    "doubao-seed-2-0-pro-260215",
	models.AgentSynthesizer:       "kimi-k2-thinking-251104",
	models.AgentDebateChallenger:  "deepseek-v3-2-251201",
}

// AgentThinkingMode assigns each agent its thinking mode. Gather-phase
// workers and the synthesizer run with thinking forced on; the challenger
// runs without it to keep debate turns fast.
var AgentThinkingMode = map[string]ThinkingMode{
	models.AgentTrendScout:        ThinkingEnabled,
	models.AgentCompetitorAnalyst: ThinkingEnabled,
	models.AgentRegulationChecker: ThinkingEnabled,
	models.AgentSocialSentinel:    ThinkingEnabled,
	models.AgentSynthesizer:       ThinkingEnabled,
	models.AgentDebateChallenger:  ThinkingDisabled,
}

// WebsearchConfig is a per-agent websearch switch and result budget.
type WebsearchConfig struct {
	Enabled bool
	Limit   int
}

// AgentWebsearchConfig assigns each agent its websearch budget.
var AgentWebsearchConfig = map[string]WebsearchConfig{
	models.AgentTrendScout:        {Enabled: true, Limit: 20},
	models.AgentCompetitorAnalyst: {Enabled: true, Limit: 15},
	models.AgentRegulationChecker: {Enabled: true, Limit: 15},
	models.AgentSocialSentinel:    {Enabled: true, Limit: 20},
	models.AgentSynthesizer:       {Enabled: false, Limit: 0},
	models.AgentDebateChallenger:  {Enabled: false, Limit: 0},
}

// DebatePair is a challenger/responder pairing for a peer-review round.
type DebatePair struct {
	Challenger string
	Responder  string
}

// DebatePeerPairs are the round-1 pairings. Each pair debates in both
// directions.
var DebatePeerPairs = []DebatePair{
	{Challenger: models.AgentTrendScout, Responder: models.AgentCompetitorAnalyst},
	{Challenger: models.AgentRegulationChecker, Responder: models.AgentSocialSentinel},
}

// DebateRedTeamTargets are the round-2 targets, challenged one by one by
// the dedicated red-team challenger.
var DebateRedTeamTargets = []string{
	models.AgentTrendScout,
	models.AgentCompetitorAnalyst,
	models.AgentRegulationChecker,
	models.AgentSocialSentinel,
}

// AgentDisplayNames are the Chinese display names used inside debate
// prompts.
var AgentDisplayNames = map[string]string{
	models.AgentTrendScout:        "趋势侦察员",
	models.AgentCompetitorAnalyst: "竞品分析师",
	models.AgentRegulationChecker: "法规核查员",
	models.AgentSocialSentinel:    "社媒哨兵",
	models.AgentSynthesizer:       "综合分析师",
	models.AgentDebateChallenger:  "辩论质疑者",
}

// ModelFor returns the model for an agent, falling back to defaultModel.
func ModelFor(agentName, defaultModel string) string {
	if m, ok := AgentModelMapping[agentName]; ok {
		return m
	}
	return defaultModel
}

// ThinkingModeFor returns the thinking mode for an agent, defaulting to
// disabled for unknown agents.
func ThinkingModeFor(agentName string) ThinkingMode {
	if m, ok := AgentThinkingMode[agentName]; ok {
		return m
	}
	return ThinkingDisabled
}

// WebsearchFor returns the websearch config for an agent.
func WebsearchFor(agentName string) WebsearchConfig {
	if c, ok := AgentWebsearchConfig[agentName]; ok {
		return c
	}
	return WebsearchConfig{Enabled: true, Limit: 15}
}
