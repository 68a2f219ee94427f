package tools

import "sync"

// Guardrail trip reasons.
const (
	ReasonCostExceeded      = "estimated_cost_exceeded"
	ReasonErrorRateExceeded = "error_rate_exceeded"
)

// GuardrailAction is the single remediation the guardrail takes.
const GuardrailAction = "disable_websearch"

// GuardrailConfig bounds per-session tool spend and error rate.
type GuardrailConfig struct {
	MaxEstimatedCostUSD  float64
	MaxErrorRate         float64
	MinCallsForErrorRate int
}

// DefaultGuardrailConfig matches the production thresholds.
func DefaultGuardrailConfig() GuardrailConfig {
	return GuardrailConfig{
		MaxEstimatedCostUSD:  0.5,
		MaxErrorRate:         0.5,
		MinCallsForErrorRate: 5,
	}
}

type guardrailStats struct {
	totalCalls       int
	errorCalls       int
	estimatedCostUSD float64
}

// Guardrail tracks per-session tool call stats and disables websearch for
// sessions that exceed cost or error-rate budgets. A session trips at most
// once.
type Guardrail struct {
	cfg GuardrailConfig

	mu        sync.Mutex
	stats     map[string]*guardrailStats
	disabled  map[string]struct{}
	triggered map[string]struct{}
}

// NewGuardrail builds a guardrail; zero-valued config fields fall back to
// the defaults.
func NewGuardrail(cfg GuardrailConfig) *Guardrail {
	def := DefaultGuardrailConfig()
	if cfg.MaxEstimatedCostUSD <= 0 {
		cfg.MaxEstimatedCostUSD = def.MaxEstimatedCostUSD
	}
	if cfg.MaxErrorRate <= 0 {
		cfg.MaxErrorRate = def.MaxErrorRate
	}
	if cfg.MinCallsForErrorRate <= 0 {
		cfg.MinCallsForErrorRate = def.MinCallsForErrorRate
	}
	return &Guardrail{
		cfg:       cfg,
		stats:     make(map[string]*guardrailStats),
		disabled:  make(map[string]struct{}),
		triggered: make(map[string]struct{}),
	}
}

// Record adds one completed invocation to the session's stats. Statuses
// "error" and "failed" count as errors.
func (g *Guardrail) Record(sessionID, status string, estimatedCostUSD float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.stats[sessionID]
	if !ok {
		s = &guardrailStats{}
		g.stats[sessionID] = s
	}
	s.totalCalls++
	if status == "error" || status == "failed" {
		s.errorCalls++
	}
	if estimatedCostUSD > 0 {
		s.estimatedCostUSD += estimatedCostUSD
	}
}

// Evaluate checks the session against its budgets. On a breach it disables
// websearch for the session and returns the trip reason.
func (g *Guardrail) Evaluate(sessionID string) (reason string, tripped bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.stats[sessionID]
	if !ok {
		return "", false
	}

	if s.estimatedCostUSD > g.cfg.MaxEstimatedCostUSD {
		reason = ReasonCostExceeded
	} else if s.totalCalls >= g.cfg.MinCallsForErrorRate {
		errorRate := float64(s.errorCalls) / float64(s.totalCalls)
		if errorRate > g.cfg.MaxErrorRate {
			reason = ReasonErrorRateExceeded
		}
	}
	if reason == "" {
		return "", false
	}
	g.disabled[sessionID] = struct{}{}
	return reason, true
}

// MarkTriggered records the trip notification exactly once per session and
// reports whether this call was the first.
func (g *Guardrail) MarkTriggered(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, done := g.triggered[sessionID]; done {
		return false
	}
	g.triggered[sessionID] = struct{}{}
	return true
}

// WebsearchDisabled reports whether the guardrail has cut websearch for
// the session.
func (g *Guardrail) WebsearchDisabled(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, off := g.disabled[sessionID]
	return off
}

// Stats returns a snapshot of the session's counters for event payloads.
func (g *Guardrail) Stats(sessionID string) map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.stats[sessionID]
	if !ok {
		s = &guardrailStats{}
	}
	var errorRate float64
	if s.totalCalls > 0 {
		errorRate = float64(s.errorCalls) / float64(s.totalCalls)
	}
	return map[string]any{
		"total_calls":        s.totalCalls,
		"error_rate":         round4(errorRate),
		"estimated_cost_usd": round6(s.estimatedCostUSD),
	}
}
