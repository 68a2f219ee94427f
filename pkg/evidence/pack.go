// Package evidence builds the structured evidence pack attached to every
// completed session: claims with confidence, a deduplicated source index,
// claim-to-source traceability, and debate adjustment records.
package evidence

import (
	"fmt"
	"math"
	"strings"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/llm"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

// PackVersion tags the evidence pack schema.
const PackVersion = "phase3.v1"

// BuildPack assembles the evidence pack. It never fails: empty inputs
// yield a minimal pack so degraded sessions still carry evidence.
func BuildPack(sessionID string, profile models.Profile, results []models.AgentResult, exchanges []models.DebateExchange, finalReport, generatedAt string) map[string]any {
	sources, sourceIDs := buildSourceIndex(results)

	claims := make([]map[string]any, 0, len(results))
	traceability := make([]map[string]any, 0, len(results))
	for idx, r := range results {
		agentName := r.AgentName
		if agentName == "" {
			agentName = fmt.Sprintf("agent_%d", idx+1)
		}
		refs := make([]string, 0, len(r.Sources))
		for _, src := range normalizeSources(r.Sources) {
			if id, ok := sourceIDs[src]; ok {
				refs = append(refs, id)
			}
		}

		claimID := fmt.Sprintf("C%03d", idx+1)
		claims = append(claims, map[string]any{
			"claim_id":     claimID,
			"agent":        agentName,
			"summary":      clipText(r.Content, 240),
			"confidence":   normalizeConfidence(r.Confidence),
			"source_refs":  refs,
			"generated_at": generatedAt,
		})
		traceability = append(traceability, map[string]any{
			"claim_id":    claimID,
			"from_agent":  agentName,
			"source_refs": refs,
		})
	}

	adjustments := make([]map[string]any, 0, len(exchanges))
	for _, ex := range exchanges {
		adjustments = append(adjustments, map[string]any{
			"round_number":      ex.RoundNumber,
			"debate_type":       ex.DebateType,
			"challenger":        ex.Challenger,
			"responder":         ex.Responder,
			"revised":           ex.Revised,
			"challenge_summary": clipText(ex.ChallengeContent, 140),
			"response_summary":  clipText(ex.ResponseContent, 140),
		})
	}

	return map[string]any{
		"version":      PackVersion,
		"session_id":   sessionID,
		"generated_at": generatedAt,
		"profile": map[string]any{
			"target_market": profile.TargetMarket,
			"supply_chain":  profile.SupplyChain,
			"seller_type":   profile.SellerType,
			"min_price":     profile.MinPrice,
			"max_price":     profile.MaxPrice,
		},
		"report_excerpt":     clipText(finalReport, 300),
		"claims":             claims,
		"sources":            sources,
		"debate_adjustments": adjustments,
		"traceability":       traceability,
		"stats": map[string]any{
			"claims_count":  len(claims),
			"sources_count": len(sources),
			"debate_count":  len(adjustments),
		},
	}
}

// buildSourceIndex assigns stable S-numbered ids to every distinct source,
// in first-seen order across the worker results.
func buildSourceIndex(results []models.AgentResult) ([]map[string]any, map[string]string) {
	sources := make([]map[string]any, 0)
	idx := make(map[string]string)

	for _, r := range results {
		agentName := r.AgentName
		if agentName == "" {
			agentName = "unknown"
		}
		for _, src := range normalizeSources(r.Sources) {
			if _, seen := idx[src]; seen {
				continue
			}
			id := fmt.Sprintf("S%03d", len(sources)+1)
			idx[src] = id
			sources = append(sources, map[string]any{
				"source_id":           id,
				"source":              src,
				"first_seen_in_agent": agentName,
			})
		}
	}
	return sources, idx
}

// normalizeSources canonicalizes and dedupes a source list, preserving
// first-seen order. Results loaded from older rows may still carry raw
// references, so the pack normalizes again at build time.
func normalizeSources(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, src := range raw {
		v, ok := llm.NormalizeSource(src)
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// normalizeConfidence clamps to [0, 1] at 3 decimal places; out-of-band
// values fall back to 0.6.
func normalizeConfidence(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0.6
	}
	rounded := math.Round(v*1000) / 1000
	return math.Max(0, math.Min(1, rounded))
}

// clipText trims and truncates to limit runes, marking cuts with "…".
func clipText(text string, limit int) string {
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
