package rl

import (
	"context"
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/parameters"
	"github.com/janpfeifer/activeGo/internal/scoring"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"os"
	"slices"
)

func init() {
	scoring.Register("rl", NewPolicyStrategy)
}

// PolicyStrategy scores candidates with an agent trained in the episodes: candidates are encoded into
// the same state vectors, and the score is how much the agent prefers querying over skipping them.
type PolicyStrategy struct {
	cfg       Config
	agentName string
	load      string
	seed      uint64

	agent Agent
}

var _ scoring.Strategy = (*PolicyStrategy)(nil)

// NewPolicyStrategy creates a PolicyStrategy. Params:
//
//   - agent: agent type (default "policy"); load: file with the saved agent.
//   - topk, intra_neighbor, prediction_topk, global_mean, entropy: state layout, it must match the one
//     the agent was trained with.
//   - seed (default 42).
func NewPolicyStrategy(params parameters.Params) (scoring.Strategy, error) {
	s := &PolicyStrategy{cfg: DefaultConfig()}
	var err error
	if s.agentName, err = parameters.PopParamOr(params, "agent", "policy"); err != nil {
		return nil, err
	}
	if s.load, err = parameters.PopParamOr(params, "load", ""); err != nil {
		return nil, err
	}
	if s.seed, err = parameters.PopParamOr(params, "seed", uint64(42)); err != nil {
		return nil, err
	}
	if s.cfg.TopK, err = parameters.PopParamOr(params, "topk", s.cfg.TopK); err != nil {
		return nil, err
	}
	if s.cfg.State.IntraNeighbor, err = parameters.PopParamOr(params, "intra_neighbor", false); err != nil {
		return nil, err
	}
	if s.cfg.State.PredictionTopK, err = parameters.PopParamOr(params, "prediction_topk", 0); err != nil {
		return nil, err
	}
	if s.cfg.State.GlobalMean, err = parameters.PopParamOr(params, "global_mean", false); err != nil {
		return nil, err
	}
	if s.cfg.State.Entropy, err = parameters.PopParamOr(params, "entropy", false); err != nil {
		return nil, err
	}
	if err = s.cfg.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPolicyStrategyWithAgent creates a PolicyStrategy around an already trained agent, for states laid
// out as in cfg.
func NewPolicyStrategyWithAgent(cfg Config, agent Agent) *PolicyStrategy {
	return &PolicyStrategy{cfg: cfg, agentName: agent.Name(), agent: agent}
}

func (*PolicyStrategy) Name() string { return "rl" }

func (s *PolicyStrategy) getAgent() (Agent, error) {
	if s.agent != nil {
		return s.agent, nil
	}
	agent, err := NewAgent(s.agentName, s.cfg.StateDim(), s.seed)
	if err != nil {
		return nil, err
	}
	if s.load != "" {
		data, err := os.ReadFile(s.load)
		if err != nil {
			return nil, errors.Wrapf(err, "reading agent from %q", s.load)
		}
		if err = agent.Load(data); err != nil {
			return nil, errors.WithMessagef(err, "loading agent from %q", s.load)
		}
		klog.V(1).Infof("loaded %s agent from %q", agent.Name(), s.load)
	}
	s.agent = agent
	return agent, nil
}

// Score implements scoring.Strategy. The model must be an ai.Encoder.
func (s *PolicyStrategy) Score(ctx context.Context, model ai.Model, c *scoring.Candidates) (scoring.ScoreVector, error) {
	if err := ai.CheckReady(model); err != nil {
		return scoring.ScoreVector{}, err
	}
	encoder, ok := model.(ai.Encoder)
	if !ok {
		return scoring.ScoreVector{}, errors.Errorf("rl strategy requires a model that can embed samples, %s can't", model)
	}
	agent, err := s.getAgent()
	if err != nil {
		return scoring.ScoreVector{}, err
	}
	enc, err := encode(ctx, encoder, c.Pool, c.ChunkSize, s.cfg.State.needsPredictions())
	if err != nil {
		return scoring.ScoreVector{}, err
	}
	scorer, canScore := agent.(ActionScorer)
	sv := scoring.ScoreVector{Indices: slices.Clone(c.Indices), Scores: make([]float32, len(c.Indices))}
	for ii, idx := range c.Indices {
		if err = ctx.Err(); err != nil {
			return scoring.ScoreVector{}, err
		}
		state := enc.state(s.cfg, idx)
		if canScore {
			scores, err := scorer.ActionScores(state)
			if err != nil {
				return scoring.ScoreVector{}, err
			}
			sv.Scores[ii] = scores[ActionQuery] - scores[ActionSkip]
			continue
		}
		action, err := agent.GetAction(state)
		if err != nil {
			return scoring.ScoreVector{}, err
		}
		if action == ActionQuery {
			sv.Scores[ii] = 1
		}
	}
	return sv, nil
}
