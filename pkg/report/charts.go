package report

import (
	"math"
	"sort"
	"time"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

// ChartSpecVersion tags the embedded Vega-Lite schema generation.
const ChartSpecVersion = "vega-lite/v6"

const vegaLiteSchema = "https://vega.github.io/schema/vega-lite/v6.json"

// BuildReportCharts assembles the Vega-Lite chart bundle from the demo and
// tool metrics. The agent-call chart is omitted when no tool calls exist.
func BuildReportCharts(sessionID string, profile models.Profile, demoMetrics, toolMetrics map[string]any) map[string]any {
	charts := []map[string]any{overviewChart(demoMetrics)}
	if agentChart := toolAgentChart(toolMetrics); agentChart != nil {
		charts = append(charts, agentChart)
	}
	charts = append(charts, degradeBreakdownChart(demoMetrics))

	return map[string]any{
		"session_id":   sessionID,
		"spec_version": ChartSpecVersion,
		"generated_at": time.Now().UTC().Format(time.RFC3339Nano),
		"profile_summary": map[string]any{
			"target_market": profile.TargetMarket,
			"supply_chain":  profile.SupplyChain,
			"seller_type":   profile.SellerType,
		},
		"charts": charts,
	}
}

func overviewChart(demoMetrics map[string]any) map[string]any {
	totalAgents := toFloat(demoMetrics["total_agents"])
	if totalAgents < 1 {
		totalAgents = 1
	}
	completed := math.Max(0, toFloat(demoMetrics["completed_agents"]))
	completionRate := clampPercent(completed * 100 / totalAgents)

	stability := clampPercent(toFloat(demoMetrics["stability_score"]))
	coverage := clampPercent(toFloat(demoMetrics["evidence_coverage_rate"]) * 100)

	values := []map[string]any{
		{"metric": "稳定性评分", "value": round2(stability)},
		{"metric": "证据覆盖率", "value": round2(coverage)},
		{"metric": "完成率", "value": round2(completionRate)},
	}

	return map[string]any{
		"id":            "overview_quality",
		"title":         "稳定性与证据概览",
		"description":   "用于快速评估会话质量，数值越高越好。",
		"fallback_text": "若图表无法渲染，请关注稳定性评分、证据覆盖率与完成率三项指标。",
		"spec": map[string]any{
			"$schema":     vegaLiteSchema,
			"description": "会话质量概览",
			"width":       "container",
			"height":      220,
			"data":        map[string]any{"values": values},
			"mark":        map[string]any{"type": "bar", "cornerRadiusEnd": 6},
			"encoding": map[string]any{
				"y": map[string]any{
					"field": "metric",
					"type":  "nominal",
					"sort":  []string{"稳定性评分", "证据覆盖率", "完成率"},
					"axis":  map[string]any{"title": nil, "labelFontSize": 12},
				},
				"x": map[string]any{
					"field": "value",
					"type":  "quantitative",
					"scale": map[string]any{"domain": []int{0, 100}},
					"axis":  map[string]any{"title": "分值（%）", "tickCount": 6},
				},
				"color": map[string]any{
					"field": "metric",
					"type":  "nominal",
					"scale": map[string]any{
						"domain": []string{"稳定性评分", "证据覆盖率", "完成率"},
						"range":  []string{"#2563eb", "#10b981", "#8b5cf6"},
					},
					"legend": nil,
				},
				"tooltip": []map[string]any{
					{"field": "metric", "title": "指标"},
					{"field": "value", "title": "数值", "format": ".2f"},
				},
			},
			"config": map[string]any{"view": map[string]any{"stroke": "#e2e8f0"}},
		},
	}
}

func toolAgentChart(toolMetrics map[string]any) map[string]any {
	byAgent, ok := toolMetrics["by_agent"].(map[string]any)
	if !ok || len(byAgent) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(byAgent))
	for agentName, raw := range byAgent {
		metric, isMap := raw.(map[string]any)
		if !isMap {
			continue
		}
		calls := int(math.Max(0, toFloat(metric["total_calls"])))
		if calls <= 0 {
			continue
		}
		rows = append(rows, map[string]any{
			"agent":      agentName,
			"calls":      calls,
			"cost_usd":   round6(math.Max(0, toFloat(metric["total_estimated_cost_usd"]))),
			"error_rate": round2(math.Max(0, toFloat(metric["error_rate"])*100)),
		})
	}
	if len(rows) == 0 {
		return nil
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i]["calls"].(int) > rows[j]["calls"].(int)
	})

	return map[string]any{
		"id":            "agent_tool_calls",
		"title":         "Agent 工具调用分布",
		"description":   "展示每个 Agent 的工具调用量，并附带成本与错误率。",
		"fallback_text": "若图表无法渲染，请重点查看高调用 Agent 的成本与错误率。",
		"spec": map[string]any{
			"$schema":     vegaLiteSchema,
			"description": "Agent 工具调用分布",
			"width":       "container",
			"height":      260,
			"data":        map[string]any{"values": rows},
			"mark":        map[string]any{"type": "bar", "cornerRadiusEnd": 4},
			"encoding": map[string]any{
				"x": map[string]any{
					"field": "agent",
					"type":  "nominal",
					"sort":  "-y",
					"axis":  map[string]any{"title": nil, "labelAngle": -20},
				},
				"y": map[string]any{
					"field": "calls",
					"type":  "quantitative",
					"axis":  map[string]any{"title": "工具调用次数"},
				},
				"color": map[string]any{
					"field":  "cost_usd",
					"type":   "quantitative",
					"scale":  map[string]any{"scheme": "blues"},
					"legend": map[string]any{"title": "估算成本 (USD)"},
				},
				"tooltip": []map[string]any{
					{"field": "agent", "title": "Agent"},
					{"field": "calls", "title": "调用次数"},
					{"field": "cost_usd", "title": "估算成本", "format": ".6f"},
					{"field": "error_rate", "title": "错误率(%)", "format": ".2f"},
				},
			},
			"config": map[string]any{"view": map[string]any{"stroke": "#e2e8f0"}},
		},
	}
}

func degradeBreakdownChart(demoMetrics map[string]any) map[string]any {
	breakdown, _ := demoMetrics["degrade_breakdown"].(map[string]any)

	values := []map[string]any{
		{"category": "Agent 降级/跳过", "count": int(math.Max(0, toFloat(breakdown["agent_degraded_or_skipped"])))},
		{"category": "护栏触发", "count": int(math.Max(0, toFloat(breakdown["guardrail_triggered"])))},
		{"category": "并发降级", "count": int(math.Max(0, toFloat(breakdown["adaptive_concurrency_degraded"])))},
	}

	return map[string]any{
		"id":            "degrade_breakdown",
		"title":         "降级类型分解",
		"description":   "用于解释稳定性评分中的降级来源。",
		"fallback_text": "若图表无法渲染，可直接查看降级分解明细和重试次数。",
		"spec": map[string]any{
			"$schema":     vegaLiteSchema,
			"description": "降级类型分解",
			"width":       "container",
			"height":      220,
			"data":        map[string]any{"values": values},
			"mark":        map[string]any{"type": "arc", "innerRadius": 55},
			"encoding": map[string]any{
				"theta": map[string]any{"field": "count", "type": "quantitative"},
				"color": map[string]any{
					"field": "category",
					"type":  "nominal",
					"scale": map[string]any{
						"domain": []string{"Agent 降级/跳过", "护栏触发", "并发降级"},
						"range":  []string{"#f59e0b", "#ef4444", "#6366f1"},
					},
					"legend": map[string]any{"title": nil, "orient": "right"},
				},
				"tooltip": []map[string]any{
					{"field": "category", "title": "降级类型"},
					{"field": "count", "title": "次数"},
				},
			},
			"config": map[string]any{"view": map[string]any{"stroke": "#e2e8f0"}},
		},
	}
}

func toFloat(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func clampPercent(v float64) float64 { return math.Min(100, math.Max(0, v)) }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
