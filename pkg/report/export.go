package report

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

// RoadshowPackageName and RoadshowVersion tag the export manifest.
const (
	RoadshowPackageName = "weaveai_roadshow_zip"
	RoadshowVersion     = "phase5.v1"
)

// ExportInput bundles everything that goes into a roadshow zip.
type ExportInput struct {
	SessionID string
	Status    string
	Profile   models.Profile

	ReportMarkdown string
	ReportHTMLPath string

	SessionSnapshot map[string]any
	EvidencePack    map[string]any
	MemorySnapshot  map[string]any
	DemoMetrics     map[string]any
	ToolMetrics     map[string]any
	WorkflowEvents  []map[string]any
	ReportCharts    map[string]any
}

// BuildExecutiveSummary renders the roadshow executive summary markdown.
func BuildExecutiveSummary(in ExportInput) string {
	sessionMetrics, _ := in.ToolMetrics["session"].(map[string]any)
	demo := in.DemoMetrics

	priceRange := "未提供"
	if in.Profile.MinPrice != nil && in.Profile.MaxPrice != nil {
		priceRange = fmt.Sprintf("$%d-$%d", *in.Profile.MinPrice, *in.Profile.MaxPrice)
	}

	durationText := "--"
	if ms := toFloat(demo["total_duration_ms"]); ms > 0 {
		if ms < 60000 {
			durationText = fmt.Sprintf("%.1fs", ms/1000)
		} else {
			durationText = fmt.Sprintf("%dm %ds", int(ms)/60000, (int(ms)%60000)/1000)
		}
	}

	status := in.Status
	if status == "" {
		status = "unknown"
	}
	stabilityLevel := strOr(demo["stability_level"], "unknown")

	lines := []string{
		"# WeaveAI 路演执行摘要",
		"",
		fmt.Sprintf("- 会话 ID: `%s`", in.SessionID),
		fmt.Sprintf("- 导出时间: %s", time.Now().UTC().Format(time.RFC3339Nano)),
		fmt.Sprintf("- 会话状态: %s", status),
		"",
		"## 画像信息",
		fmt.Sprintf("- 目标市场: %s", orText(in.Profile.TargetMarket, "未提供")),
		fmt.Sprintf("- 核心品类: %s", orText(in.Profile.SupplyChain, "未提供")),
		fmt.Sprintf("- 卖家类型: %s", orText(in.Profile.SellerType, "未提供")),
		fmt.Sprintf("- 价格区间: %s", priceRange),
		"",
		"## 关键指标",
		fmt.Sprintf("- 全程耗时: %s", durationText),
		fmt.Sprintf("- 稳定性评分: %v (%s)", valueOr(demo["stability_score"], 0), stabilityLevel),
		fmt.Sprintf("- 证据覆盖率: %s", formatPercent(toFloat(demo["evidence_coverage_rate"]))),
		fmt.Sprintf("- 降级次数: %v", valueOr(demo["degrade_count"], 0)),
		fmt.Sprintf("- 重试次数: %v", valueOr(demo["retry_count"], 0)),
		fmt.Sprintf("- 工具总调用: %v", valueOr(sessionMetrics["total_calls"], 0)),
		fmt.Sprintf("- 工具错误率: %s", formatPercent(toFloat(sessionMetrics["error_rate"]))),
		"",
		"## 一句话结论",
		fmt.Sprintf("- %s", ExtractHeadline(in.ReportMarkdown)),
		"",
		"## 附件说明",
		"- `report.html`: 完整可视化报告",
		"- `evidence_pack.json`: 结论证据链与来源追溯",
		"- `memory_snapshot.json`: 会话级轻量记忆快照",
		"- `demo_metrics.json`: 路演关键指标",
		"- `tool_metrics.json`: 工具调用成本与稳定性统计",
		"- `report_charts.json`: 报告图表增强配置（Vega-Lite）",
		"- `workflow_timeline.json`: 关键事件时间线",
	}
	return strings.Join(lines, "\n")
}

// ExtractHeadline pulls the first non-empty line of the report, with
// leading markdown heading markers stripped.
func ExtractHeadline(reportMarkdown string) string {
	for _, line := range strings.Split(reportMarkdown, "\n") {
		content := strings.TrimSpace(line)
		if content == "" {
			continue
		}
		if strings.HasPrefix(content, "#") {
			content = strings.TrimSpace(strings.TrimLeft(content, "#"))
		}
		if content != "" {
			return clipExport(content, 220)
		}
	}
	return "暂无可提取摘要，请查看完整报告。"
}

// WriteRoadshowZip assembles the roadshow export zip on disk and returns
// its path. The package root inside the archive is
// weaveai-roadshow-{safe_session}.
func (w *Writer) WriteRoadshowZip(in ExportInput) (string, error) {
	if err := os.MkdirAll(w.ExportsDir(), 0o755); err != nil {
		return "", fmt.Errorf("failed to create exports dir: %w", err)
	}

	zipPath := w.ZipPath(in.SessionID)
	packageRoot := "weaveai-roadshow-" + SanitizeSessionID(in.SessionID)

	f, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("failed to create export zip: %w", err)
	}
	defer func() { _ = f.Close() }()
	zw := zip.NewWriter(f)

	manifest := make([]string, 0, 10)
	addJSON := func(name string, payload any) error {
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", name, err)
		}
		entry, err := zw.Create(packageRoot + "/" + name)
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
		if _, err := entry.Write(data); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		manifest = append(manifest, name)
		return nil
	}
	addText := func(name, content string) error {
		entry, err := zw.Create(packageRoot + "/" + name)
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
		if _, err := entry.Write([]byte(content)); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		manifest = append(manifest, name)
		return nil
	}

	if in.ReportHTMLPath != "" {
		if html, err := os.ReadFile(in.ReportHTMLPath); err == nil {
			if err := addText("report.html", string(html)); err != nil {
				return "", err
			}
		}
	}
	if err := addText("executive_summary.md", BuildExecutiveSummary(in)); err != nil {
		return "", err
	}
	if err := addJSON("session_snapshot.json", orMap(in.SessionSnapshot)); err != nil {
		return "", err
	}
	if err := addJSON("evidence_pack.json", orMap(in.EvidencePack)); err != nil {
		return "", err
	}
	if err := addJSON("memory_snapshot.json", orMap(in.MemorySnapshot)); err != nil {
		return "", err
	}
	if err := addJSON("demo_metrics.json", orMap(in.DemoMetrics)); err != nil {
		return "", err
	}
	if err := addJSON("tool_metrics.json", orMap(in.ToolMetrics)); err != nil {
		return "", err
	}
	if err := addJSON("report_charts.json", orMap(in.ReportCharts)); err != nil {
		return "", err
	}
	events := in.WorkflowEvents
	if events == nil {
		events = []map[string]any{}
	}
	if err := addJSON("workflow_timeline.json", events); err != nil {
		return "", err
	}

	if err := addJSON("manifest.json", map[string]any{
		"package":     RoadshowPackageName,
		"version":     RoadshowVersion,
		"session_id":  in.SessionID,
		"exported_at": time.Now().UTC().Format(time.RFC3339Nano),
		"status":      in.Status,
		"files":       manifest,
	}); err != nil {
		return "", err
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize export zip: %w", err)
	}
	return zipPath, nil
}

func formatPercent(ratio float64) string {
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		ratio = 0
	}
	return fmt.Sprintf("%.1f%%", ratio*100)
}

func valueOr(raw any, fallback any) any {
	if raw == nil {
		return fallback
	}
	return raw
}

func orMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func clipExport(text string, limit int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= limit {
		return string(runes)
	}
	if limit <= 3 {
		return "..."
	}
	return string(runes[:limit-3]) + "..."
}
