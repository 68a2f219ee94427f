package agent

import (
	"fmt"
	"strings"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/config"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

// ChallengeMode selects the challenger's register.
type ChallengeMode string

const (
	// ChallengePeer frames the challenge as same-rank peer review.
	ChallengePeer ChallengeMode = "peer"
	// ChallengeRedTeam frames the challenge as adversarial red-team audit.
	ChallengeRedTeam ChallengeMode = "redteam"
)

// Challenger drives debate exchanges. It is stateful within one exchange:
// SetChallengeContext pins the target before prompt construction, and the
// same context is intentionally still set when the follow-up turn runs.
type Challenger struct {
	defaultModel string
	mode         ChallengeMode

	targetAgent     string
	targetContent   string
	challengerAgent string
}

// NewChallenger builds a challenger in the given mode.
func NewChallenger(defaultModel string, mode ChallengeMode) *Challenger {
	if mode != ChallengePeer {
		mode = ChallengeRedTeam
	}
	return &Challenger{defaultModel: defaultModel, mode: mode}
}

func (c *Challenger) Name() string { return models.AgentDebateChallenger }
func (c *Challenger) Model() string {
	return config.ModelFor(models.AgentDebateChallenger, c.defaultModel)
}
func (c *Challenger) ThinkingMode() config.ThinkingMode {
	return config.ThinkingModeFor(models.AgentDebateChallenger)
}
func (c *Challenger) Websearch() config.WebsearchConfig {
	return config.WebsearchFor(models.AgentDebateChallenger)
}

// Mode returns the configured challenge mode.
func (c *Challenger) Mode() ChallengeMode { return c.mode }

// SetChallengeContext pins the exchange target. challengerAgent names the
// worker whose voice the challenge is written in (peer mode only).
func (c *Challenger) SetChallengeContext(targetAgent, targetContent, challengerAgent string) {
	c.targetAgent = targetAgent
	c.targetContent = targetContent
	c.challengerAgent = challengerAgent
}

func (c *Challenger) SystemPrompt(Context) string {
	if c.mode == ChallengePeer {
		return peerSystemPrompt
	}
	return redteamSystemPrompt
}

func (c *Challenger) UserPrompt(Context) string {
	targetDisplay := displayName(orDefault(c.targetAgent, "未知分析师"))
	targetContent := orDefault(c.targetContent, "无内容")

	if c.mode == ChallengePeer {
		challengerDisplay := displayName(orDefault(c.challengerAgent, "同行评审员"))
		return fmt.Sprintf(`## 同行评审任务

你是 **%s**，现在需要对 **%s** 的分析报告进行专业审查。

### 被审查报告

%s

### 审查要求
1. 从你的专业视角出发，审查这份报告
2. 找出 2-4 个最值得关注的问题
3. 指出可能与你的分析存在矛盾的地方
4. 给出具体的改进建议

请开始审查并提出你的质疑：`, challengerDisplay, targetDisplay, targetContent)
	}

	return fmt.Sprintf(`## 红队审查任务

请对以下 **%s** 的分析报告进行严格的批判性审查。

### 被审查报告

%s

### 审查要求
1. 从数据可靠性、逻辑严密性、覆盖完整性、偏见检测四个维度进行审查
2. 找出 3-5 个最关键的问题
3. 对每个问题评估风险等级
4. 给出具体的改进建议

请开始红队审查：`, targetDisplay, targetContent)
}

func (c *Challenger) PostProcess(content string) string {
	if strings.TrimSpace(content) == "" {
		return "## 审查报告\n\n暂无法完成审查，请稍后重试。"
	}
	return content
}

func displayName(agentName string) string {
	if d, ok := config.AgentDisplayNames[agentName]; ok {
		return d
	}
	return agentName
}

// ResponsePrompt builds the responder's reply turn. The challenge content
// is clipped so runaway challenges do not blow the context.
func ResponsePrompt(challengeContent string) string {
	return fmt.Sprintf(`## 回应质疑

你收到了以下质疑，请认真回应：

### 质疑内容
%s

### 回应要求
1. **承认问题**：如果质疑有道理，坦诚承认并说明如何改进
2. **澄清误解**：如果质疑存在误解，礼貌地澄清
3. **补充论据**：如果有额外证据支持你的观点，请补充
4. **修正结论**：如果需要修改结论，明确说明修改内容

### 回应格式
`+"```markdown"+`
## 📝 回应报告

### 对于 [质疑点 X]
**回应**：[你的回应]
**修订**：[如有修改，说明具体修改内容]

...

### 修订总结
[总结哪些观点被修正，哪些被坚持]
`+"```"+`

请开始回应：`, challengeContent)
}

// FollowupPrompt builds the challenger's confirm-or-press turn.
func FollowupPrompt(originalChallenge, responseContent string) string {
	return fmt.Sprintf(`## 二次确认

你之前提出了质疑，对方已经回应。请评估回应是否充分。

### 你的原始质疑
%s

### 对方的回应
%s

### 确认要求
1. 如果回应充分，表示接受并结束讨论
2. 如果回应不充分，提出追问（限 1-2 个点）
3. 如果发现新问题，简要指出

### 回应格式
`+"```markdown"+`
## ✅ 确认/追问

### 对于 [质疑点]
**评估**：接受 / 部分接受 / 需要追问
**理由**：[简要说明]
[如需追问，补充追问内容]

### 结论
[是否结束讨论，还是需要进一步澄清]
`+"```"+`

请进行确认：`, originalChallenge, responseContent)
}

// ResponseRevised reports whether a response text declares a revision.
func ResponseRevised(responseContent string) bool {
	return strings.Contains(responseContent, "修订") || strings.Contains(responseContent, "修改")
}

const peerSystemPrompt = `你是一位【同行评审员】，正在对另一位分析师的报告进行专业审查。

## 审查原则
1. **建设性批评**：指出问题的同时给出改进建议
2. **专业视角**：从你的专业领域出发进行审查
3. **互补验证**：检查分析是否与你的发现相互印证或矛盾
4. **逻辑严谨**：关注论证过程的严密性

## 质疑维度
1. **数据可靠性**：数据来源是否可靠？是否有更新数据？样本是否具有代表性？
2. **逻辑严密性**：推理过程是否严密？是否存在逻辑跳跃？结论是否合理推导？
3. **覆盖完整性**：是否遗漏重要维度？是否考虑了边缘情况？
4. **偏见检测**：是否存在确认偏误？是否过度依赖单一来源？

## 输出格式
针对每个质疑点：
` + "```" + `
### 🔍 质疑点 X：[简短标题]

**原始观点**：[引用对方观点]

**质疑理由**：[为什么这个观点可能有问题]

**补充建议**：[建议如何改进或补充]
` + "```" + `

## 注意事项
- 保持专业和尊重的态度
- 优先关注高影响力的问题
- 给出 2-4 个最关键的质疑点
- 如果认同某些观点，也可以表示支持`

const redteamSystemPrompt = `你是【红队审查官】，职责是对分析报告进行严格的批判性审查。

## 核心职责
作为"魔鬼代言人"，你的任务是：
1. 找出分析中的漏洞和弱点
2. 质疑未经充分验证的假设
3. 挑战过于乐观或悲观的结论
4. 识别可能被忽视的风险

## 质疑框架

### 1. 数据可靠性审查
- 数据来源的权威性和时效性
- 样本的代表性和覆盖范围
- 是否存在数据造假或误导的可能

### 2. 逻辑严密性审查
- 论证链条是否完整
- 因果关系是否成立
- 是否存在逻辑谬误（滑坡谬误、稻草人谬误等）

### 3. 覆盖完整性审查
- 是否遗漏关键变量
- 是否考虑了极端情况
- 是否有盲点或死角

### 4. 偏见检测
- 确认偏误：只看到支持结论的证据
- 幸存者偏差：只分析成功案例
- 锚定效应：过度依赖初始信息

## 输出格式
` + "```markdown" + `
## 🔴 红队审查报告

### 审查对象
[被审查的 Agent 和报告摘要]

### 关键质疑

#### 质疑 1：[标题]
- **原始观点**：[引用]
- **质疑点**：[具体问题]
- **风险等级**：高/中/低
- **建议**：[如何改进]

...

### 总体评价
[整体可靠性评估和优先改进建议]
` + "```" + `

## 质疑原则
- 🎯 精准：针对具体观点，避免泛泛而谈
- 📊 有据：基于逻辑和事实进行质疑
- 🔨 有力：指出真正的问题，不是吹毛求疵
- 💡 建设：每个质疑都要有改进建议`
