// Package memory builds the per-session lightweight memory snapshot: key
// entities, result highlights with rule-based keywords, debate focus, and
// action/risk items mined from the final report.
package memory

import (
	"regexp"
	"strings"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

// SnapshotVersion tags the memory snapshot schema.
const SnapshotVersion = "phase3.memory.v1"

const (
	maxKeywords    = 5
	maxActionItems = 6
	maxRiskItems   = 4
)

var (
	keywordSeparators = regexp.MustCompile(`[，。；、,\.\s/\|\-_:：()\[\]{}]+`)
	listItemPattern   = regexp.MustCompile(`^\s*(?:[-*+]|\d+\.)\s+(.+)$`)
)

// riskMarkers flag an action item as a risk item when present (matched on
// the lowercased text).
var riskMarkers = []string{"风险", "risk", "合规", "限制", "约束", "挑战"}

// BuildSnapshot assembles the session memory snapshot. It never fails.
func BuildSnapshot(sessionID string, profile models.Profile, results []models.AgentResult, exchanges []models.DebateExchange, finalReport, generatedAt string) map[string]any {
	highlights := make([]map[string]any, 0, len(results))
	for _, r := range results {
		status := r.Status
		if status == "" {
			status = "unknown"
		}
		highlights = append(highlights, map[string]any{
			"agent_name": r.AgentName,
			"status":     status,
			"confidence": r.Confidence,
			"summary":    clip(r.Content, 180),
			"keywords":   ExtractKeywords(r.Content),
		})
	}

	revisedCount := 0
	focus := make([]map[string]any, 0, len(exchanges))
	for _, ex := range exchanges {
		if ex.Revised {
			revisedCount++
		}
		focus = append(focus, map[string]any{
			"round_number": ex.RoundNumber,
			"debate_type":  ex.DebateType,
			"challenger":   ex.Challenger,
			"responder":    ex.Responder,
			"revised":      ex.Revised,
		})
	}

	actionItems := ExtractMarkdownItems(finalReport, maxActionItems)
	riskItems := make([]string, 0, maxRiskItems)
	for _, item := range actionItems {
		if len(riskItems) >= maxRiskItems {
			break
		}
		lowered := strings.ToLower(item)
		for _, marker := range riskMarkers {
			if strings.Contains(lowered, marker) {
				riskItems = append(riskItems, item)
				break
			}
		}
	}

	return map[string]any{
		"version":      SnapshotVersion,
		"session_id":   sessionID,
		"generated_at": generatedAt,
		"entities": map[string]any{
			"target_market": profile.TargetMarket,
			"supply_chain":  profile.SupplyChain,
			"seller_type":   profile.SellerType,
			"price_range": map[string]any{
				"min_price": profile.MinPrice,
				"max_price": profile.MaxPrice,
			},
		},
		"summary":          clip(finalReport, 260),
		"agent_highlights": highlights,
		"debate_focus":     focus,
		"signals": map[string]any{
			"debate_count":  len(exchanges),
			"revised_count": revisedCount,
			"agent_count":   len(results),
		},
		"action_items": actionItems,
		"risk_items":   riskItems,
	}
}

// ExtractMarkdownItems pulls bullet and numbered list items out of
// markdown text, clipped to 120 runes each.
func ExtractMarkdownItems(markdown string, limit int) []string {
	items := make([]string, 0, limit)
	if markdown == "" {
		return items
	}
	for _, line := range strings.Split(markdown, "\n") {
		m := listItemPattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		value := clip(m[1], 120)
		if value != "" {
			items = append(items, value)
		}
		if len(items) >= limit {
			break
		}
	}
	return items
}

// ExtractKeywords derives up to five keywords by splitting on punctuation
// and keeping distinct tokens of 3+ runes, in order of appearance. Rule
// based on purpose: no tokenizer dependency for a best-effort hint list.
func ExtractKeywords(content string) []string {
	if content == "" {
		return []string{}
	}
	top := make([]string, 0, maxKeywords)
	seen := make(map[string]struct{})
	for _, token := range keywordSeparators.Split(content, -1) {
		token = strings.TrimSpace(token)
		if len([]rune(token)) < 3 {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		top = append(top, token)
		if len(top) >= maxKeywords {
			break
		}
	}
	return top
}

func clip(text string, limit int) string {
	raw := strings.TrimSpace(text)
	runes := []rune(raw)
	if len(runes) <= limit {
		return raw
	}
	if limit < 1 {
		return "…"
	}
	return string(runes[:limit-1]) + "…"
}
