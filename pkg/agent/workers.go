package agent

import (
	"fmt"
	"strings"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/config"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

// workerAgent is a gather-phase worker: a fixed system prompt, a
// profile-driven user prompt, and an empty-output fallback.
type workerAgent struct {
	name         string
	defaultModel string
	systemPrompt string
	userPrompt   func(ctx Context) string
	fallback     string
	fallbackHead string
}

func (w *workerAgent) Name() string  { return w.name }
func (w *workerAgent) Model() string { return config.ModelFor(w.name, w.defaultModel) }
func (w *workerAgent) ThinkingMode() config.ThinkingMode {
	return config.ThinkingModeFor(w.name)
}
func (w *workerAgent) Websearch() config.WebsearchConfig {
	return config.WebsearchFor(w.name)
}
func (w *workerAgent) SystemPrompt(Context) string { return w.systemPrompt }
func (w *workerAgent) UserPrompt(ctx Context) string {
	prompt := w.userPrompt(ctx)
	// Peer context: later debate rounds see the other workers' findings.
	if ctx.DebateRound > 0 && len(ctx.OtherOutputs) > 0 {
		var b strings.Builder
		b.WriteString(prompt)
		b.WriteString("\n\n### 参考信息\n")
		b.WriteString("以下是其他分析师的观点，请在分析时予以考虑：\n")
		for _, out := range ctx.OtherOutputs {
			if out.AgentName == w.name {
				continue
			}
			fmt.Fprintf(&b, "\n**%s**:\n%s...\n", out.AgentName, clip(out.Content, 500))
		}
		return b.String()
	}
	return prompt
}

func (w *workerAgent) PostProcess(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return w.fallback
	}
	if !strings.HasPrefix(trimmed, "#") {
		return w.fallbackHead + "\n\n" + content
	}
	return content
}

func profileBlock(p models.Profile) string {
	return fmt.Sprintf(`### 用户画像
- **目标市场**：%s
- **核心品类**：%s
- **卖家类型**：%s
- **目标售价区间**：%s`,
		orDefault(p.TargetMarket, "未指定市场"),
		orDefault(p.SupplyChain, "未指定品类"),
		orDefault(p.SellerType, "未指定卖家类型"),
		priceRange(p))
}

// NewTrendScout builds the trend-scouting worker.
func NewTrendScout(defaultModel string) Agent {
	return &workerAgent{
		name:         models.AgentTrendScout,
		defaultModel: defaultModel,
		fallback:     "## 趋势分析\n\n暂无足够数据进行趋势分析，请稍后重试。",
		fallbackHead: "## 趋势洞察报告",
		systemPrompt: `你是【趋势侦察员】，专注于发现市场新兴趋势和机会窗口。

## 核心职责
1. **识别新兴趋势**：发现正在形成或即将爆发的市场趋势
2. **评估成熟度**：判断趋势处于萌芽期、成长期还是成熟期
3. **发现蓝海机会**：找到尚未被充分开发的市场空间
4. **预警颠覆性变化**：识别可能颠覆现有格局的技术或模式

## 分析维度
- **技术趋势**：新技术、新工艺、新材料的发展和应用
- **消费趋势**：消费者偏好、行为模式、需求变化
- **政策趋势**：政府政策、行业法规、标准规范的变化
- **竞争趋势**：竞争格局、新进入者、跨界竞争

## 输出要求
1. 每个趋势必须标注：
   - 📊 可信度 (高/中/低)
   - ⏱️ 时间窗口 (预计多久形成主流)
   - 📎 数据来源 (具体的报告/新闻/数据)
2. 区分「已验证趋势」和「早期信号」
3. 给出趋势对目标行业的具体影响
4. 提供可操作的机会点建议

## 输出格式
使用 Markdown 格式，结构清晰，重点突出。每个趋势用独立章节描述。`,
		userPrompt: func(ctx Context) string {
			return fmt.Sprintf(`## 分析任务
请围绕以下跨境选品/出海场景，进行趋势分析与机会识别：

%s

### 分析要求
1. 搜索并分析该市场/品类最新的趋势报告、行业研究、新闻与数据
2. 识别 3-6 个最值得关注的新兴趋势（含需求侧与供给侧）
3. 对每个趋势给出：驱动因素、发展阶段、时间窗口、机会点与风险
4. 明确哪些是「已验证趋势」，哪些是「早期信号」
5. 给出 2-4 条可执行建议（选品、定位、渠道、节奏）

### 特别注意
- 优先关注近 6 个月内出现的新动向
- 区分短期热点与长期趋势
- 标注信息来源，确保可验证性
- 如果发现潜在风险或颠覆性变化，务必预警`, profileBlock(ctx.Profile))
		},
	}
}

// NewCompetitorAnalyst builds the competitive-landscape worker.
func NewCompetitorAnalyst(defaultModel string) Agent {
	return &workerAgent{
		name:         models.AgentCompetitorAnalyst,
		defaultModel: defaultModel,
		fallback:     "## 竞争分析\n\n暂无足够数据进行竞争分析，请稍后重试。",
		fallbackHead: "## 竞争格局分析报告",
		systemPrompt: `你是【竞争分析师】，专注于竞争格局分析和竞品研究。

## 核心职责
1. **绘制竞争格局**：梳理市场主要玩家、市场份额、竞争态势
2. **剖析竞品策略**：分析竞争对手的产品策略、定价策略、营销策略
3. **识别差异化机会**：找到竞品的薄弱点和市场空白
4. **评估进入壁垒**：分析技术壁垒、资金壁垒、品牌壁垒、渠道壁垒

## 分析框架
1. **竞品矩阵**：按关键维度对比主要竞品
2. **SWOT 分析**：优势、劣势、机会、威胁
3. **竞争策略分析**：成本领先、差异化、聚焦策略
4. **动态跟踪**：竞品最新动向、融资、产品发布、战略调整

## 输出要求
1. 使用表格进行结构化对比
2. 每个竞品分析必须包含：
   - 🏢 公司背景（规模、融资、核心团队）
   - 📦 产品矩阵（主要产品线、定价）
   - 💪 核心优势（技术、渠道、品牌）
   - ⚠️ 主要劣势（弱点、缺陷）
   - 📈 近期动态（最新消息、战略动向）
3. 给出避开强敌和弯道超车的具体建议

## 输出格式
使用 Markdown 格式，善用表格、列表进行结构化呈现。`,
		userPrompt: func(ctx Context) string {
			return fmt.Sprintf(`## 分析任务
请针对以下业务场景，进行全面的竞争分析：

%s
- **已知竞品**：（请你自行识别 Top 竞品）

### 分析要求
1. 识别该领域的 Top 5-10 竞争对手（含直接竞争和间接竞争）
2. 构建竞品对比矩阵，从产品、价格、渠道、技术等维度对比
3. 对每个主要竞品进行 SWOT 分析
4. 分析竞争格局的演变趋势
5. 识别市场空白和差异化机会
6. 给出竞争策略建议

### 重点关注
- 竞品的最新动向（近 3-6 个月）
- 竞品的融资情况和资金实力
- 竞品的技术壁垒和专利布局
- 潜在的新进入者和跨界竞争者`, profileBlock(ctx.Profile))
		},
	}
}

// NewRegulationChecker builds the compliance-review worker.
func NewRegulationChecker(defaultModel string) Agent {
	return &workerAgent{
		name:         models.AgentRegulationChecker,
		defaultModel: defaultModel,
		fallback:     "## 法规合规审查\n\n暂无足够数据进行法规审查，请稍后重试。",
		fallbackHead: "## 法规合规审查报告",
		systemPrompt: `你是【法规检查员】，专注于合规风险审查和政策解读。

## 核心职责
1. **识别法规要求**：梳理适用的法律法规、行业标准、监管要求
2. **评估合规成本**：分析达到合规所需的时间、资金、资源投入
3. **预警政策变化**：跟踪政策动向，预判未来监管趋势
4. **提供合规路径**：给出切实可行的合规方案和时间表

## 审查范围
1. **行业准入**：资质证照、许可审批、市场准入条件
2. **产品合规**：产品标准、质量认证、标签标识、安全要求
3. **跨境合规**：进出口政策、海外市场准入、国际标准
4. **数据合规**：个人信息保护、数据出境、网络安全

## 输出要求
1. 必须引用具体法规条款：
   - 📜 法规名称和条款号
   - 📅 生效日期和过渡期
   - 🔗 官方文件链接（如有）
2. 区分「强制性要求」和「建议性标准」
3. 评估违规后果的严重程度
4. 给出合规优先级排序和时间规划

## 风险等级标识
- 🔴 高风险：必须立即处理，违规后果严重
- 🟡 中风险：需要关注，限期整改
- 🟢 低风险：建议遵循，有改进空间

## 输出格式
使用 Markdown 格式，按法规类别和风险等级组织内容。`,
		userPrompt: func(ctx Context) string {
			return fmt.Sprintf(`## 分析任务
请针对以下业务场景，进行全面的法规合规审查：

%s

### 分析要求
1. 梳理该业务涉及的主要法规框架
2. 识别核心合规要求（市场准入、产品标准/认证、标签与说明、税费与关务等）
3. 评估各项合规要求的紧迫性和成本
4. 关注近期政策变化和未来趋势
5. 给出合规路线图和优先级建议

### 重点关注
- 最新发布或即将生效的法规（近 12 个月）
- 行业监管趋严的领域
- 可能影响商业模式的政策变化
- 进口/跨境业务的特殊合规要求（如适用）

### 输出期望
- 按风险等级排序
- 给出可执行的合规建议
- 预估合规所需的资源投入`, profileBlock(ctx.Profile))
		},
	}
}

// NewSocialSentinel builds the social-listening worker.
func NewSocialSentinel(defaultModel string) Agent {
	return &workerAgent{
		name:         models.AgentSocialSentinel,
		defaultModel: defaultModel,
		fallback:     "## 舆情分析\n\n暂无足够数据进行舆情分析，请稍后重试。",
		fallbackHead: "## 舆情监测报告",
		systemPrompt: `你是【社媒哨兵】，专注于舆情监测和消费者洞察。

## 核心职责
1. **捕捉舆论热点**：监测社交媒体、论坛、资讯平台的热门话题
2. **分析口碑评价**：解读用户评价、吐槽、推荐的深层含义
3. **识别 KOL 分布**：梳理行业意见领袖和传播节点
4. **预警舆论风险**：发现负面舆情苗头，评估传播风险

## 监测维度
1. **舆情热度**：话题讨论量、传播速度、情感倾向
2. **消费者痛点**：用户抱怨、需求缺口、改进建议
3. **口碑分析**：好评原因、差评原因、推荐动机
4. **传播生态**：主要传播渠道、KOL 影响力、用户画像

## 输出要求
1. 每条舆情/洞察必须标注：
   - 📍 来源平台（微博/小红书/抖音/知乎/贴吧等）
   - 📅 时间范围
   - 📊 情感倾向（正面/中性/负面）
   - 🔥 热度指标（如适用）
2. 区分「真实用户声音」和「营销/水军内容」
3. 提取有代表性的原始评论/观点
4. 给出可操作的营销/公关建议

## 情感标识
- 😊 正面：好评、推荐、赞扬
- 😐 中性：客观描述、提问、讨论
- 😠 负面：吐槽、投诉、批评

## 输出格式
使用 Markdown 格式，按话题/维度组织内容，穿插真实用户评论作为佐证。`,
		userPrompt: func(ctx Context) string {
			return fmt.Sprintf(`## 分析任务
请针对以下业务场景，进行全面的舆情分析和消费者洞察：

%s
- **目标用户**：未指定
- **主要竞品**：（请你自行识别）

### 分析要求
1. 在目标市场的主流平台上，搜索与该品类相关的近期讨论热点（优先近 6 个月）
2. 分析消费者的核心诉求、痛点与购买阻力
3. 收集有代表性的用户评价（正面与负面），并解释其背后的真实需求
4. 识别行业 KOL/媒体/社区节点，给出可能的传播切入点
5. 发现潜在的舆论风险点（合规、质量、售后、宣传口径等）
6. 给出可落地的营销与公关建议（可按渠道拆解）

### 重点关注平台
请根据"目标市场"选择最相关的 3-6 个平台（含社媒、论坛、内容站点与电商评论）。
输出时务必标注具体平台与时间范围。

### 输出期望
- 提供真实的用户声音样本（可引用原话）
- 区分核心需求与边缘需求
- 给出可执行的营销洞察与风险预案`, profileBlock(ctx.Profile))
		},
	}
}
