package rl

import (
	"bytes"
	"encoding/gob"
	"github.com/janpfeifer/activeGo/internal/parameters"
	"github.com/pkg/errors"
	"math/rand/v2"
	"slices"
)

// Agent decides which candidates to query.
type Agent interface {
	// Name of the agent type, used as the prefix of its checkpoints.
	Name() string

	// GetAction for the given state. During training it may explore.
	GetAction(state []float32) (Action, error)

	// Update is called after each Feedback with the transition. next is nil if terminal.
	Update(state []float32, action Action, reward float32, next []float32, terminal bool) error

	// FinishEpisode is called at the end of each episode.
	FinishEpisode() error

	// Save and Load serialize the agent's learned parameters.
	Save() ([]byte, error)
	Load(data []byte) error
}

// ActionScorer is implemented by agents that can rank the actions for a state without exploring.
// Higher scores are preferred.
type ActionScorer interface {
	ActionScores(state []float32) ([]float32, error)
}

// AgentConstructor creates an agent for states of dimension stateDim.
type AgentConstructor func(stateDim int, seed uint64, params parameters.Params) (Agent, error)

var agents = map[string]AgentConstructor{
	"random": NewRandomAgent,
	"policy": NewPolicyAgent,
	"dqn":    NewDQNAgent,
}

// RegisterAgent makes a new agent type available to NewAgent.
func RegisterAgent(name string, constructor AgentConstructor) {
	agents[name] = constructor
}

// AgentNames returns the registered agent types, sorted.
func AgentNames() []string {
	names := make([]string, 0, len(agents))
	for name := range agents {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewAgent creates an agent from a configuration string "<name>[:k=v,...]", e.g. "dqn:target_update=10".
func NewAgent(config string, stateDim int, seed uint64) (Agent, error) {
	name, params := parameters.SplitModuleConfig(config)
	constructor, found := agents[name]
	if !found {
		return nil, errors.Errorf("unknown agent %q, valid agents: %v", name, AgentNames())
	}
	agent, err := constructor(stateDim, seed, params)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating agent %q", name)
	}
	if err = parameters.CheckAllConsumed(params, "agent "+name); err != nil {
		return nil, err
	}
	return agent, nil
}

// RandomAgent queries with a fixed probability.
type RandomAgent struct {
	QueryProbability float64
	rng              *rand.Rand
}

var _ Agent = (*RandomAgent)(nil)

// NewRandomAgent creates a RandomAgent. Params: query_prob (default 0.5).
func NewRandomAgent(_ int, seed uint64, params parameters.Params) (Agent, error) {
	prob, err := parameters.PopParamOr(params, "query_prob", 0.5)
	if err != nil {
		return nil, err
	}
	if prob < 0 || prob > 1 {
		return nil, errors.Errorf("query_prob must be in [0, 1], got %g", prob)
	}
	return &RandomAgent{QueryProbability: prob, rng: rand.New(rand.NewPCG(seed, 0))}, nil
}

func (*RandomAgent) Name() string { return "random" }

func (a *RandomAgent) GetAction([]float32) (Action, error) {
	if a.rng.Float64() < a.QueryProbability {
		return ActionQuery, nil
	}
	return ActionSkip, nil
}

func (*RandomAgent) Update([]float32, Action, float32, []float32, bool) error { return nil }

func (*RandomAgent) FinishEpisode() error { return nil }

func (a *RandomAgent) Save() ([]byte, error) { return gobEncode(a.QueryProbability) }

func (a *RandomAgent) Load(data []byte) error { return gobDecode(data, &a.QueryProbability) }

func gobEncode(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return nil, errors.Wrap(err, "encoding agent")
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, value any) error {
	return errors.Wrap(gob.NewDecoder(bytes.NewReader(data)).Decode(value), "decoding agent")
}
