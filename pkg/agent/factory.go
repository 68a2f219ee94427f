package agent

import (
	"fmt"

	"github.com/UnknowTT16/WeaveAI-2.0-MutilAgent/pkg/models"
)

// Factory constructs agents with the configured default model. The graph
// engine asks the factory for agents by name so tests can substitute
// scripted ones.
type Factory struct {
	defaultModel string
}

// NewFactory builds an agent factory.
func NewFactory(defaultModel string) *Factory {
	return &Factory{defaultModel: defaultModel}
}

// Worker returns the named gather-phase worker.
func (f *Factory) Worker(name string) (Agent, error) {
	switch name {
	case models.AgentTrendScout:
		return NewTrendScout(f.defaultModel), nil
	case models.AgentCompetitorAnalyst:
		return NewCompetitorAnalyst(f.defaultModel), nil
	case models.AgentRegulationChecker:
		return NewRegulationChecker(f.defaultModel), nil
	case models.AgentSocialSentinel:
		return NewSocialSentinel(f.defaultModel), nil
	}
	return nil, fmt.Errorf("unknown worker agent %q", name)
}

// Challenger returns a fresh debate challenger in the given mode.
func (f *Factory) Challenger(mode ChallengeMode) *Challenger {
	return NewChallenger(f.defaultModel, mode)
}

// Synthesizer returns a fresh synthesizer.
func (f *Factory) Synthesizer() *Synthesizer {
	return NewSynthesizer(f.defaultModel)
}
