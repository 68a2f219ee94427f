// Package graph implements the market-insight workflow as a typed state
// graph: orchestrator dispatch, parallel gather, up to two debate rounds,
// and final synthesis, with per-node retry, degrade modes, and adaptive
// concurrency control.
package graph

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/agent"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/llm"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/throttle"
	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/tools"
)

// workerStaggerStep separates worker startups so four cold starts do not
// slam the gateway at once.
const workerStaggerStep = 120 * time.Millisecond

// promptTemplateVersion keys the tool cache; bump when prompt text changes.
const promptTemplateVersion = "v2"

// ReportWriter persists the final report as a browsable HTML artifact and
// returns its serving URL.
type ReportWriter interface {
	WriteSessionReport(sessionID, markdown string, profile models.Profile) (string, error)
}

// Options configures an Engine. Zero-valued fields get working defaults;
// shared components (throttle, guardrail, cache) should be passed in so
// all sessions see the same process-wide state.
type Options struct {
	Throttle     *throttle.Controller
	Guardrail    *tools.Guardrail
	Cache        *tools.Cache
	Checkpointer *MemorySaver
	ReportWriter ReportWriter
	DefaultModel string
}

// Engine executes market-insight workflow runs.
type Engine struct {
	factory      *agent.Factory
	llm          llm.Client
	throttle     *throttle.Controller
	guardrail    *tools.Guardrail
	cache        *tools.Cache
	checkpointer *MemorySaver
	reportWriter ReportWriter
}

// NewEngine builds an engine around an agent factory and a model client.
func NewEngine(factory *agent.Factory, client llm.Client, opts Options) *Engine {
	if opts.Throttle == nil {
		opts.Throttle = throttle.NewController()
	}
	if opts.Guardrail == nil {
		opts.Guardrail = tools.NewGuardrail(tools.DefaultGuardrailConfig())
	}
	if opts.Cache == nil {
		opts.Cache = tools.NewCache(0, 0)
	}
	return &Engine{
		factory:      factory,
		llm:          client,
		throttle:     opts.Throttle,
		guardrail:    opts.Guardrail,
		cache:        opts.Cache,
		checkpointer: opts.Checkpointer,
		reportWriter: opts.ReportWriter,
	}
}

// NormalizeState clamps the run configuration into its supported ranges.
func NormalizeState(st *models.GraphState) {
	if st.DebateRounds < 0 {
		st.DebateRounds = 0
	}
	if st.DebateRounds > 2 {
		st.DebateRounds = 2
	}
	if st.RetryMaxAttempt < 1 {
		st.RetryMaxAttempt = 2
	}
	if st.RetryBackoffMs < 0 {
		st.RetryBackoffMs = 300
	}
	if !st.DegradeMode.Valid() {
		st.DegradeMode = models.DegradePartial
	}
	if st.Phase == "" {
		st.Phase = models.PhaseInit
	}
}

// Stream executes the workflow and yields every emitted event. When the
// run fails, the final event on the channel is an error event; the channel
// is then closed.
func (e *Engine) Stream(ctx context.Context, initial *models.GraphState) <-chan models.Event {
	ch := make(chan models.Event, 64)
	go func() {
		defer close(ch)
		emit := func(ev models.Event) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		}
		if _, err := e.run(ctx, initial, emit); err != nil {
			slog.Error("Workflow run failed",
				"session_id", initial.SessionID, "error", err)
			emit(models.NewEvent(models.EventError, map[string]any{
				"session_id": initial.SessionID,
				"error":      err.Error(),
			}))
		}
	}()
	return ch
}

// Invoke executes the workflow synchronously, discarding events, and
// returns the final state.
func (e *Engine) Invoke(ctx context.Context, initial *models.GraphState) (*models.GraphState, error) {
	return e.run(ctx, initial, func(models.Event) {})
}

func (e *Engine) run(ctx context.Context, st *models.GraphState, emit tools.EmitFunc) (*models.GraphState, error) {
	NormalizeState(st)
	registry := tools.NewRegistry(st.SessionID, emit, e.guardrail)

	// Orchestrator: open the session and dispatch the gather fan-out.
	st.Phase = models.PhaseGather
	emit(models.NewEvent(models.EventOrchestratorStart, map[string]any{
		"session_id":    st.SessionID,
		"agents":        models.WorkerAgents,
		"debate_rounds": st.DebateRounds,
		"profile":       st.UserProfile,
	}))
	e.checkpoint(st)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range models.WorkerAgents {
		g.Go(func() error {
			results, err := e.runWorker(gctx, st, i, name, registry, emit)
			if err != nil {
				return err
			}
			mu.Lock()
			st.AgentResults = append(st.AgentResults, results...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		st.Phase = models.PhaseError
		st.Error = err.Error()
		return st, err
	}

	// Gather barrier.
	completed := make([]string, 0, len(st.AgentResults))
	for _, r := range st.AgentResults {
		completed = append(completed, r.AgentName)
	}
	emit(models.NewEvent(models.EventGatherComplete, map[string]any{
		"session_id":       st.SessionID,
		"completed_agents": completed,
		"total_results":    len(st.AgentResults),
	}))
	e.checkpoint(st)

	// Debate routing: 0 rounds goes straight to synthesis, 1 runs peer
	// review only, 2 adds the red-team round.
	if st.DebateRounds >= 1 {
		if err := e.runDebateRound(ctx, st, 1, models.DebatePeer, emit); err != nil {
			st.Phase = models.PhaseError
			st.Error = err.Error()
			return st, err
		}
	}
	if st.DebateRounds >= 2 {
		if err := e.runDebateRound(ctx, st, 2, models.DebateRedTeam, emit); err != nil {
			st.Phase = models.PhaseError
			st.Error = err.Error()
			return st, err
		}
	}

	if err := e.synthesize(ctx, st, registry, emit); err != nil {
		st.Phase = models.PhaseError
		st.Error = err.Error()
		return st, err
	}
	return st, nil
}

func (e *Engine) checkpoint(st *models.GraphState) {
	if e.checkpointer != nil {
		e.checkpointer.Save(st)
	}
}

// LoadCheckpoint returns the last saved snapshot for a session, or nil.
func (e *Engine) LoadCheckpoint(sessionID string) *models.GraphState {
	if e.checkpointer == nil {
		return nil
	}
	return e.checkpointer.Load(sessionID)
}

// sleepCtx waits d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// clipRunes truncates text to limit runes.
func clipRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
