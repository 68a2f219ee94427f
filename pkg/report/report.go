// Package report builds the session artifacts: the browsable HTML report,
// the Vega-Lite chart bundle, the executive summary, and the roadshow zip.
package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

var safeSessionRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// SanitizeSessionID maps a session id to a filesystem-safe name.
func SanitizeSessionID(sessionID string) string {
	if sessionID == "" {
		return "unknown"
	}
	return safeSessionRe.ReplaceAllString(sessionID, "_")
}

// Writer persists report artifacts under the configured artifacts root:
// HTML reports in reports/, roadshow zips in exports/.
type Writer struct {
	artifactsDir string
}

// NewWriter builds a writer rooted at artifactsDir.
func NewWriter(artifactsDir string) *Writer {
	return &Writer{artifactsDir: artifactsDir}
}

// ReportsDir is the HTML report directory.
func (w *Writer) ReportsDir() string { return filepath.Join(w.artifactsDir, "reports") }

// ExportsDir is the roadshow zip directory.
func (w *Writer) ExportsDir() string { return filepath.Join(w.artifactsDir, "exports") }

// ReportPath is the HTML report path for a session.
func (w *Writer) ReportPath(sessionID string) string {
	return filepath.Join(w.ReportsDir(), SanitizeSessionID(sessionID)+".html")
}

// ZipPath is the roadshow zip path for a session.
func (w *Writer) ZipPath(sessionID string) string {
	return filepath.Join(w.ExportsDir(), SanitizeSessionID(sessionID)+".zip")
}

// WriteSessionReport renders the final report markdown to HTML and writes
// it to disk, returning the file path. Implements the graph's report hook.
func (w *Writer) WriteSessionReport(sessionID, markdown string, profile models.Profile) (string, error) {
	return w.WriteReportHTML(sessionID, markdown, profile, nil)
}

// WriteReportHTML writes the HTML report, optionally embedding a chart
// bundle, and returns the file path.
func (w *Writer) WriteReportHTML(sessionID, markdown string, profile models.Profile, chartBundle map[string]any) (string, error) {
	if err := os.MkdirAll(w.ReportsDir(), 0o755); err != nil {
		return "", fmt.Errorf("failed to create reports dir: %w", err)
	}
	html, err := BuildReportHTML(sessionID, markdown, profile, chartBundle)
	if err != nil {
		return "", err
	}
	path := w.ReportPath(sessionID)
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report html: %w", err)
	}
	return path, nil
}

type chartCard struct {
	ID           string
	Title        string
	Description  string
	FallbackText string
	RawSpec      string
}

type reportData struct {
	SessionID    string
	GeneratedAt  string
	HasProfile   bool
	TargetMarket string
	SupplyChain  string
	SellerType   string
	PriceRange   string
	Charts       []chartCard
	ChartPayload template.JS
	Body         template.HTML
}

// BuildReportHTML renders the complete standalone HTML document.
func BuildReportHTML(sessionID, markdown string, profile models.Profile, chartBundle map[string]any) (string, error) {
	if strings.TrimSpace(markdown) == "" {
		markdown = "# 市场洞察报告\n\n暂无内容"
	}

	data := reportData{
		SessionID:   sessionID,
		GeneratedAt: time.Now().Format("2006-01-02 15:04:05"),
		Body:        MarkdownToHTML(markdown),
	}

	if profile != (models.Profile{}) {
		data.HasProfile = true
		data.TargetMarket = orText(profile.TargetMarket, "未提供")
		data.SupplyChain = orText(profile.SupplyChain, "未提供")
		data.SellerType = orText(profile.SellerType, "未提供")
		data.PriceRange = "未提供"
		if profile.MinPrice != nil && profile.MaxPrice != nil {
			data.PriceRange = fmt.Sprintf("$%d-$%d", *profile.MinPrice, *profile.MaxPrice)
		}
	}

	charts := chartListFromBundle(chartBundle)
	if len(charts) > 0 {
		for i, chart := range charts {
			id := SanitizeSessionID(strOr(chart["id"], fmt.Sprintf("chart_%d", i+1)))
			rawSpec, _ := json.MarshalIndent(chart["spec"], "", "  ")
			data.Charts = append(data.Charts, chartCard{
				ID:           id,
				Title:        strOr(chart["title"], fmt.Sprintf("关键图表 %d", i+1)),
				Description:  strOr(chart["description"], ""),
				FallbackText: strOr(chart["fallback_text"], "图表渲染失败，已回退到文本与原始配置。"),
				RawSpec:      string(rawSpec),
			})
		}
		payload, err := json.Marshal(map[string]any{"charts": charts})
		if err != nil {
			return "", fmt.Errorf("failed to encode chart payload: %w", err)
		}
		// Guard against the payload closing its own script tag.
		data.ChartPayload = template.JS(strings.ReplaceAll(string(payload), "</", "<\\/"))
	}

	var b strings.Builder
	if err := reportTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render report template: %w", err)
	}
	return b.String(), nil
}

// chartListFromBundle extracts renderable charts (those carrying a spec
// object) from a chart bundle.
func chartListFromBundle(bundle map[string]any) []map[string]any {
	if bundle == nil {
		return nil
	}
	raw, ok := bundle["charts"].([]map[string]any)
	if !ok {
		if anyList, ok := bundle["charts"].([]any); ok {
			for _, item := range anyList {
				if m, isMap := item.(map[string]any); isMap {
					raw = append(raw, m)
				}
			}
		}
	}
	out := make([]map[string]any, 0, len(raw))
	for _, chart := range raw {
		if _, hasSpec := chart["spec"].(map[string]any); hasSpec {
			out = append(out, chart)
		}
	}
	return out
}

func orText(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func strOr(raw any, fallback string) string {
	if s, ok := raw.(string); ok && s != "" {
		return s
	}
	return fallback
}

var reportTmpl = template.Must(template.New("report").Parse(reportTemplate))

const reportTemplate = `<!doctype html>
<html lang="zh-CN">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>WeaveAI 报告 - {{.SessionID}}</title>
  <style>
    :root {
      color-scheme: light;
      --bg: #f8fafc;
      --card: #ffffff;
      --text: #0f172a;
      --muted: #475569;
      --line: #e2e8f0;
      --accent: #2563eb;
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      font-family: "Segoe UI", "PingFang SC", "Microsoft YaHei", sans-serif;
      background: radial-gradient(circle at top right, #e2e8f0 0%, var(--bg) 55%);
      color: var(--text);
      line-height: 1.7;
    }
    .wrap { max-width: 980px; margin: 40px auto; padding: 0 20px; }
    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 14px;
      box-shadow: 0 14px 34px rgba(15, 23, 42, 0.08);
      overflow: hidden;
    }
    .header {
      padding: 24px 28px;
      border-bottom: 1px solid var(--line);
      background: linear-gradient(120deg, #eff6ff 0%, #f8fafc 100%);
    }
    .header h1 { margin: 0 0 8px 0; font-size: 26px; }
    .meta {
      margin-top: 14px;
      display: grid;
      grid-template-columns: repeat(auto-fit, minmax(220px, 1fr));
      gap: 8px 14px;
      font-size: 14px;
      color: var(--muted);
    }
    .charts-wrap { padding: 18px 28px 8px 28px; border-bottom: 1px solid var(--line); }
    .charts-wrap h2 { margin: 0 0 8px 0; font-size: 20px; color: #0b3b82; }
    .charts-note { margin: 0 0 14px 0; color: var(--muted); font-size: 13px; }
    .charts-grid { display: grid; gap: 14px; grid-template-columns: repeat(auto-fit, minmax(260px, 1fr)); }
    .chart-card { border: 1px solid var(--line); border-radius: 12px; padding: 12px; background: #fff; }
    .chart-card h3 { margin: 0; font-size: 16px; color: #0f172a; }
    .chart-card p { margin: 6px 0 10px 0; font-size: 13px; color: var(--muted); }
    .chart-canvas { min-height: 220px; width: 100%; }
    .chart-fallback { display: block; border: 1px dashed #94a3b8; border-radius: 10px; padding: 10px; background: #f8fafc; }
    .chart-fallback-text { color: #0f172a; font-size: 13px; margin-bottom: 8px; }
    .chart-error { color: #b91c1c; font-size: 12px; margin-bottom: 8px; }
    .chart-fallback details { margin-top: 8px; }
    .chart-fallback pre { max-height: 220px; overflow: auto; background: #0f172a; color: #e2e8f0; padding: 10px; border-radius: 8px; font-size: 11px; line-height: 1.5; }
    .content { padding: 26px 28px 34px 28px; }
    .content h1, .content h2, .content h3 { color: #0b3b82; margin-top: 1.2em; }
    .content h1 { font-size: 30px; }
    .content h2 { font-size: 24px; }
    .content h3 { font-size: 20px; }
    .content table { width: 100%; border-collapse: collapse; margin: 1em 0; font-size: 14px; }
    .content th, .content td { border: 1px solid #cbd5e1; padding: 10px; text-align: left; vertical-align: top; }
    .content th { background: #f1f5f9; }
    .content code { background: #f1f5f9; padding: 2px 6px; border-radius: 6px; }
    .content pre { background: #0f172a; color: #e2e8f0; padding: 14px; border-radius: 10px; overflow: auto; }
    .footer {
      border-top: 1px solid var(--line);
      padding: 14px 28px;
      color: var(--muted);
      font-size: 13px;
      display: flex;
      justify-content: space-between;
      gap: 12px;
      flex-wrap: wrap;
    }
    a { color: var(--accent); }
  </style>
</head>
<body>
  <div class="wrap">
    <article class="card">
      <header class="header">
        <h1>WeaveAI 市场洞察报告</h1>
        <div>会话 ID：{{.SessionID}}</div>
        {{if .HasProfile}}<section class="meta">
          <div><strong>目标市场：</strong>{{.TargetMarket}}</div>
          <div><strong>核心品类：</strong>{{.SupplyChain}}</div>
          <div><strong>卖家类型：</strong>{{.SellerType}}</div>
          <div><strong>价格区间：</strong>{{.PriceRange}}</div>
        </section>{{end}}
      </header>
      {{if .Charts}}<section class="charts-wrap">
        <h2>关键图表增强（Vega-Lite）</h2>
        <p class="charts-note">图表用于辅助理解，不替代正文结论。若渲染异常，将自动回退到文本与原始配置。</p>
        <div class="charts-grid">
          {{range .Charts}}<article class="chart-card" id="chart-card-{{.ID}}">
            <header>
              <h3>{{.Title}}</h3>
              <p>{{.Description}}</p>
            </header>
            <div class="chart-canvas" id="weave-chart-{{.ID}}" aria-label="{{.Title}}"></div>
            <div class="chart-fallback" id="weave-chart-fallback-{{.ID}}">
              <div class="chart-fallback-text">{{.FallbackText}}</div>
              <div class="chart-error" id="weave-chart-error-{{.ID}}">等待渲染...</div>
              <details>
                <summary>查看原始图表配置（Vega-Lite Spec）</summary>
                <pre id="weave-chart-raw-{{.ID}}">{{.RawSpec}}</pre>
              </details>
            </div>
          </article>{{end}}
        </div>
      </section>
      <script type="application/json" id="weaveai-chart-bundle">{{.ChartPayload}}</script>
      <script src="https://cdn.jsdelivr.net/npm/vega@5"></script>
      <script src="https://cdn.jsdelivr.net/npm/vega-lite@5"></script>
      <script src="https://cdn.jsdelivr.net/npm/vega-embed@6"></script>
      <script>
      (function () {
        const payloadEl = document.getElementById('weaveai-chart-bundle');
        if (!payloadEl) return;

        let payload = {};
        try {
          payload = JSON.parse(payloadEl.textContent || '{}');
        } catch (err) {
          console.warn('chart payload parse failed', err);
        }

        const charts = Array.isArray(payload.charts) ? payload.charts : [];

        async function renderOne(chart) {
          const chartId = String(chart.id || '').replace(/[^a-zA-Z0-9_-]/g, '_');
          const mount = document.getElementById('weave-chart-' + chartId);
          const fallback = document.getElementById('weave-chart-fallback-' + chartId);
          const errorEl = document.getElementById('weave-chart-error-' + chartId);
          const rawEl = document.getElementById('weave-chart-raw-' + chartId);

          if (!mount || !fallback) return;

          if (rawEl) {
            try {
              rawEl.textContent = JSON.stringify(chart.spec || {}, null, 2);
            } catch (err) {
              rawEl.textContent = '{}';
            }
          }

          if (typeof window.vegaEmbed !== 'function') {
            if (errorEl) errorEl.textContent = 'Vega 引擎未加载，已回退文本模式。';
            fallback.style.display = 'block';
            return;
          }

          try {
            mount.innerHTML = '';
            await window.vegaEmbed(mount, chart.spec || {}, {
              actions: false,
              renderer: 'svg'
            });
            fallback.style.display = 'none';
          } catch (err) {
            const message = err && err.message ? err.message : String(err);
            if (errorEl) errorEl.textContent = '渲染失败：' + message;
            fallback.style.display = 'block';
            mount.innerHTML = '';
          }
        }

        async function renderAll() {
          for (const chart of charts) {
            try {
              await renderOne(chart);
            } catch (err) {
              console.warn('chart render failed', err);
            }
          }
        }

        if (document.readyState === 'loading') {
          document.addEventListener('DOMContentLoaded', renderAll, { once: true });
        } else {
          renderAll();
        }
      })();
      </script>{{end}}
      <main class="content">{{.Body}}</main>
      <footer class="footer">
        <span>生成时间：{{.GeneratedAt}}</span>
        <span>由 WeaveAI 2.0 自动导出</span>
      </footer>
    </article>
  </div>
</body>
</html>
`
