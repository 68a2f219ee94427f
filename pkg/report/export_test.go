package report

import (
	"archive/zip"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

func readZipEntry(t *testing.T, r *zip.ReadCloser, name string) []byte {
	t.Helper()
	for _, f := range r.File {
		if f.Name == name {
			rc, err := f.Open()
			require.NoError(t, err)
			defer func() { _ = rc.Close() }()
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			return data
		}
	}
	t.Fatalf("entry %s not found in zip", name)
	return nil
}

func TestWriteRoadshowZip(t *testing.T) {
	w := NewWriter(t.TempDir())

	htmlPath, err := w.WriteSessionReport("sess-1", "# 市场洞察综合报告\n\n结论", models.Profile{})
	require.NoError(t, err)

	in := ExportInput{
		SessionID:      "sess-1",
		Status:         models.StatusCompleted,
		ReportMarkdown: "# 市场洞察综合报告\n\n结论",
		ReportHTMLPath: htmlPath,
		EvidencePack:   map[string]any{"claims": []any{}},
		DemoMetrics:    map[string]any{"stability_score": 92.5, "stability_level": "high"},
		WorkflowEvents: []map[string]any{{"event_type": "orchestrator_start"}},
	}

	zipPath, err := w.WriteRoadshowZip(in)
	require.NoError(t, err)
	assert.Equal(t, w.ZipPath("sess-1"), zipPath)

	r, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	root := "weaveai-roadshow-sess-1/"
	names := make(map[string]bool, len(r.File))
	for _, f := range r.File {
		require.True(t, strings.HasPrefix(f.Name, root), "entry outside package root: %s", f.Name)
		names[strings.TrimPrefix(f.Name, root)] = true
	}
	for _, want := range []string{
		"report.html", "executive_summary.md", "session_snapshot.json",
		"evidence_pack.json", "memory_snapshot.json", "demo_metrics.json",
		"tool_metrics.json", "report_charts.json", "workflow_timeline.json",
		"manifest.json",
	} {
		assert.True(t, names[want], "missing %s", want)
	}

	var manifest map[string]any
	require.NoError(t, json.Unmarshal(readZipEntry(t, r, root+"manifest.json"), &manifest))
	assert.Equal(t, RoadshowPackageName, manifest["package"])
	assert.Equal(t, RoadshowVersion, manifest["version"])
	assert.Equal(t, "sess-1", manifest["session_id"])
	files := manifest["files"].([]any)
	assert.Len(t, files, 9, "manifest lists every entry except itself")

	summary := string(readZipEntry(t, r, root+"executive_summary.md"))
	assert.Contains(t, summary, "# WeaveAI 路演执行摘要")
	assert.Contains(t, summary, "sess-1")
	assert.Contains(t, summary, "92.5 (high)")
	assert.Contains(t, summary, "市场洞察综合报告")

	// Nil maps serialize as empty objects, not null.
	assert.Equal(t, "{}", string(readZipEntry(t, r, root+"tool_metrics.json")))
}

func TestWriteRoadshowZip_MissingReportHTML(t *testing.T) {
	w := NewWriter(t.TempDir())

	zipPath, err := w.WriteRoadshowZip(ExportInput{SessionID: "sess-2", Status: models.StatusRunning})
	require.NoError(t, err)

	r, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	var manifest map[string]any
	require.NoError(t, json.Unmarshal(readZipEntry(t, r, "weaveai-roadshow-sess-2/manifest.json"), &manifest))
	for _, f := range manifest["files"].([]any) {
		assert.NotEqual(t, "report.html", f)
	}
}

func TestBuildExecutiveSummary_Fallbacks(t *testing.T) {
	summary := BuildExecutiveSummary(ExportInput{SessionID: "sess-3"})
	assert.Contains(t, summary, "- 会话状态: unknown")
	assert.Contains(t, summary, "- 全程耗时: --")
	assert.Contains(t, summary, "- 目标市场: 未提供")
	assert.Contains(t, summary, "暂无可提取摘要")
}

func TestBuildExecutiveSummary_DurationFormats(t *testing.T) {
	short := BuildExecutiveSummary(ExportInput{
		DemoMetrics: map[string]any{"total_duration_ms": 45500.0},
	})
	assert.Contains(t, short, "- 全程耗时: 45.5s")

	long := BuildExecutiveSummary(ExportInput{
		DemoMetrics: map[string]any{"total_duration_ms": 125000.0},
	})
	assert.Contains(t, long, "- 全程耗时: 2m 5s")
}

func TestExtractHeadline(t *testing.T) {
	assert.Equal(t, "市场洞察综合报告", ExtractHeadline("\n\n## 市场洞察综合报告\n正文"))
	assert.Equal(t, "首行结论", ExtractHeadline("首行结论\n其余"))
	assert.Equal(t, "暂无可提取摘要，请查看完整报告。", ExtractHeadline("  \n\n"))

	long := strings.Repeat("长", 300)
	headline := ExtractHeadline(long)
	assert.Equal(t, 220, len([]rune(headline)))
	assert.True(t, strings.HasSuffix(headline, "..."))
}
