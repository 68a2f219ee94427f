// Package agent defines the market-insight agents: the four gather-phase
// workers, the debate challenger, and the synthesizer. Agents are prompt
// builders plus per-agent model settings; the graph engine owns execution.
package agent

import (
	"fmt"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/config"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

// Context carries the inputs an agent sees when building its prompts.
type Context struct {
	SessionID    string
	Profile      models.Profile
	DebateRound  int
	OtherOutputs []models.AgentResult
}

// Agent is one named analysis role.
type Agent interface {
	Name() string
	Model() string
	ThinkingMode() config.ThinkingMode
	Websearch() config.WebsearchConfig
	SystemPrompt(ctx Context) string
	UserPrompt(ctx Context) string
	// PostProcess normalizes raw model output into report-ready content.
	PostProcess(content string) string
}

// priceRange renders the profile's price band, or "未指定" when either
// bound is absent.
func priceRange(p models.Profile) string {
	if p.MinPrice == nil || p.MaxPrice == nil {
		return "未指定"
	}
	return fmt.Sprintf("$%d-$%d", *p.MinPrice, *p.MaxPrice)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// clip truncates text to limit runes, appending "..." when cut.
func clip(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
