// Package models defines the shared data types for the market-insight
// engine: graph state, agent results, debate exchanges, and workflow events.
package models

import "time"

// Agent name constants. Worker order matters: the graph staggers worker
// startup by index and the red-team round walks targets in this order.
const (
	AgentTrendScout        = "trend_scout"
	AgentCompetitorAnalyst = "competitor_analyst"
	AgentRegulationChecker = "regulation_checker"
	AgentSocialSentinel    = "social_sentinel"
	AgentSynthesizer       = "synthesizer"
	AgentDebateChallenger  = "debate_challenger"
)

// WorkerAgents is the ordered list of gather-phase worker agents.
var WorkerAgents = []string{
	AgentTrendScout,
	AgentCompetitorAnalyst,
	AgentRegulationChecker,
	AgentSocialSentinel,
}

// Workflow phases as persisted on the session row.
const (
	PhaseInit          = "init"
	PhaseGather        = "gather"
	PhaseDebatePeer    = "debate_peer"
	PhaseDebateRedTeam = "debate_redteam"
	PhaseSynthesize    = "synthesize"
	PhaseComplete      = "complete"
	PhaseError         = "error"
)

// Agent execution statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusDegraded  = "degraded"
)

// DegradeMode controls what happens when a node exhausts its retries.
type DegradeMode string

const (
	// DegradeSkip drops the node output entirely and continues.
	DegradeSkip DegradeMode = "skip"
	// DegradePartial records a placeholder output carrying the error.
	DegradePartial DegradeMode = "partial"
	// DegradeFail aborts the whole workflow.
	DegradeFail DegradeMode = "fail"
)

// Valid reports whether m is one of the three supported modes.
func (m DegradeMode) Valid() bool {
	switch m {
	case DegradeSkip, DegradePartial, DegradeFail:
		return true
	}
	return false
}

// Debate round types.
const (
	DebatePeer    = "peer_review"
	DebateRedTeam = "red_team"
)

// Profile is the user profile driving the analysis.
type Profile struct {
	TargetMarket string `json:"target_market"`
	SupplyChain  string `json:"supply_chain"`
	SellerType   string `json:"seller_type"`
	MinPrice     *int   `json:"min_price,omitempty"`
	MaxPrice     *int   `json:"max_price,omitempty"`
}

// AgentResult is one worker agent's gathered output.
type AgentResult struct {
	AgentName  string   `json:"agent_name"`
	Content    string   `json:"content"`
	Sources    []string `json:"sources,omitempty"`
	Confidence float64  `json:"confidence"`
	Thinking   string   `json:"thinking,omitempty"`
	DurationMs int64    `json:"duration_ms"`
	Status     string   `json:"status"`
	Error      string   `json:"error,omitempty"`
}

// DebateExchange is one challenge/respond/followup cycle between two agents.
type DebateExchange struct {
	RoundNumber      int    `json:"round_number"`
	DebateType       string `json:"debate_type"`
	Challenger       string `json:"challenger"`
	Responder        string `json:"responder"`
	ChallengeContent string `json:"challenge_content"`
	ResponseContent  string `json:"response_content"`
	FollowupContent  string `json:"followup_content,omitempty"`
	Revised          bool   `json:"revised"`
	DurationMs       int64  `json:"duration_ms"`
}

// GraphState is the typed workflow state threaded through the graph nodes.
//
// Merge semantics: AgentResults and DebateExchanges are append-only lists
// (concurrent node outputs are concatenated in arrival order); every other
// field is last-writer-wins.
type GraphState struct {
	SessionID   string  `json:"session_id"`
	UserProfile Profile `json:"user_profile"`
	Phase       string  `json:"phase"`

	DebateRounds    int         `json:"debate_rounds"`
	EnableFollowup  bool        `json:"enable_followup"`
	EnableWebsearch bool        `json:"enable_websearch"`
	RetryMaxAttempt int         `json:"retry_max_attempts"`
	RetryBackoffMs  int         `json:"retry_backoff_ms"`
	DegradeMode     DegradeMode `json:"degrade_mode"`

	AgentResults    []AgentResult    `json:"agent_results"`
	DebateExchanges []DebateExchange `json:"debate_exchanges"`

	CurrentDebateRound int    `json:"current_debate_round"`
	CurrentDebateType  string `json:"current_debate_type,omitempty"`

	SynthesizedReport string         `json:"synthesized_report,omitempty"`
	EvidencePack      map[string]any `json:"evidence_pack,omitempty"`
	MemorySnapshot    map[string]any `json:"memory_snapshot,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ResultFor returns the gathered result for an agent, or nil.
func (s *GraphState) ResultFor(agentName string) *AgentResult {
	for i := range s.AgentResults {
		if s.AgentResults[i].AgentName == agentName {
			return &s.AgentResults[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the state. The graph checkpointer snapshots
// state between supersteps, so stored copies must not alias live slices.
func (s *GraphState) Clone() *GraphState {
	out := *s
	out.AgentResults = append([]AgentResult(nil), s.AgentResults...)
	out.DebateExchanges = append([]DebateExchange(nil), s.DebateExchanges...)
	if s.EvidencePack != nil {
		out.EvidencePack = cloneMap(s.EvidencePack)
	}
	if s.MemorySnapshot != nil {
		out.MemorySnapshot = cloneMap(s.MemorySnapshot)
	}
	return &out
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
