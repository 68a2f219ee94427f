package agent

import (
	"fmt"
	"strings"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/config"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

// Synthesizer fuses the four worker reports and the debate record into the
// final market-insight report.
type Synthesizer struct {
	defaultModel string

	// DebateHistory is set by the graph before the synthesis call.
	DebateHistory []models.DebateExchange
}

// NewSynthesizer builds the synthesizer agent.
func NewSynthesizer(defaultModel string) *Synthesizer {
	return &Synthesizer{defaultModel: defaultModel}
}

func (s *Synthesizer) Name() string { return models.AgentSynthesizer }
func (s *Synthesizer) Model() string {
	return config.ModelFor(models.AgentSynthesizer, s.defaultModel)
}
func (s *Synthesizer) ThinkingMode() config.ThinkingMode {
	return config.ThinkingModeFor(models.AgentSynthesizer)
}
func (s *Synthesizer) Websearch() config.WebsearchConfig {
	return config.WebsearchFor(models.AgentSynthesizer)
}

func (s *Synthesizer) SystemPrompt(Context) string { return synthesizerSystemPrompt }

func (s *Synthesizer) UserPrompt(ctx Context) string {
	var b strings.Builder

	p := ctx.Profile
	fmt.Fprintf(&b, `## 综合分析任务

请基于以下各专家的分析报告，形成一份综合的市场洞察报告。

### 业务背景
- **目标市场**：%s
- **核心品类**：%s
- **卖家类型**：%s
- **目标售价区间**：%s

### 各专家分析报告
`,
		orDefault(p.TargetMarket, "未指定市场"),
		orDefault(p.SupplyChain, "未指定品类"),
		orDefault(p.SellerType, "未指定卖家类型"),
		priceRange(p))

	for _, out := range ctx.OtherOutputs {
		fmt.Fprintf(&b, "\n---\n\n### 📊 %s (%s)\n\n%s\n", displayName(out.AgentName), out.AgentName, out.Content)
	}

	if len(s.DebateHistory) > 0 {
		b.WriteString("\n---\n\n### 🗣️ 辩论记录\n\n")
		for _, ex := range s.DebateHistory {
			fmt.Fprintf(&b, "**%s → %s**\n", ex.Challenger, ex.Responder)
			fmt.Fprintf(&b, "质疑：%s...\n", clip(ex.ChallengeContent, 200))
			fmt.Fprintf(&b, "回应：%s...\n", clip(ex.ResponseContent, 200))
			if ex.FollowupContent != "" {
				fmt.Fprintf(&b, "追问/确认：%s...\n", clip(ex.FollowupContent, 200))
			}
			if ex.Revised {
				b.WriteString("（对方表示已修订观点）\n")
			}
			b.WriteString("\n")
		}
	}

	b.WriteString(`
---

### 综合要求
1. 整合以上所有分析，形成统一的市场洞察报告
2. 识别不同分析之间的关联（如趋势与竞争的交叉点）
3. 指出存在的矛盾或分歧，并给出你的判断
4. 确保报告结构完整、逻辑清晰
5. 给出可操作的具体建议
`)

	return b.String()
}

func (s *Synthesizer) PostProcess(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "# 市场洞察综合报告\n\n报告生成失败，请稍后重试。"
	}
	if !strings.HasPrefix(trimmed, "# ") {
		return "# 市场洞察综合报告\n\n" + content
	}
	return content
}

const synthesizerSystemPrompt = `你是【综合分析师】，负责整合多位专家的分析并形成最终报告。

## 核心职责
1. **整合四个维度**：趋势洞察、竞争分析、法规审查、舆情监测
2. **识别关联和矛盾**：发现不同维度之间的相互影响和潜在冲突
3. **形成一致建议**：基于全面分析给出综合判断
4. **标注共识和分歧**：明确各分析师一致同意和存在分歧的地方

## 报告结构

### 1. 执行摘要 (Executive Summary)
- 核心结论（3-5 条）
- 关键发现
- 首要建议

### 2. 机会分析 (Opportunities)
- 市场机会（结合趋势和竞争分析）
- 差异化空间
- 进入时机评估
- 资源需求预估

### 3. 风险提示 (Risks)
- 竞争风险
- 合规风险
- 舆论风险
- 其他风险

### 4. 行动建议 (Recommendations)
- 短期行动（0-3个月）
- 中期规划（3-12个月）
- 长期战略（1年以上）
- 优先级排序

### 5. 附录
- 数据来源汇总
- 分析师观点对比
- 存在的分歧和不确定性

## 输出要求
1. 确保报告逻辑连贯、结论有据
2. 交叉验证不同分析师的观点
3. 对矛盾观点给出判断和理由
4. 所有建议必须可操作、可衡量
5. 使用专业但易懂的语言

## 质量标准
- ✅ 完整性：覆盖所有关键维度
- ✅ 一致性：结论与论据相符
- ✅ 可操作性：建议具体可执行
- ✅ 平衡性：机会与风险并重`
