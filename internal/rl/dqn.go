package rl

import (
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/ai/gomlx"
	"github.com/janpfeifer/activeGo/internal/parameters"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"maps"
	"math/rand/v2"
	"slices"
)

// DQNAgent learns the action values with a GoMLX Q-network, trained on mini-batches sampled from a
// replay memory, and acts epsilon-greedy.
//
// If TargetUpdate > 0 the bootstrap targets are computed by a target network, a copy of the Q-network
// refreshed every TargetUpdate updates.
type DQNAgent struct {
	stateDim int
	q        *gomlx.QNetwork
	target   *gomlx.QNetwork
	memory   *ReplayMemory
	rng      *rand.Rand

	Gamma                               float64
	Epsilon, EpsilonMin, EpsilonDecay   float64
	TargetUpdate, BatchSize, numUpdates int
}

// dqnCheckpoint is what is serialized by DQNAgent.Save.
type dqnCheckpoint struct {
	StateDim int
	Epsilon  float64

	// Weights of the Q-network, as encoded by gomlx.Snapshot.Encode.
	Weights []byte
}

var (
	_ Agent        = (*DQNAgent)(nil)
	_ ActionScorer = (*DQNAgent)(nil)
)

// NewDQNAgent creates a DQNAgent. Params:
//
//   - gamma (default 0.99), epsilon (initial exploration, default 0.3), epsilon_min (default 0.05)
//   - epsilon_decay (per episode, default 0.9), memory (replay size, default 10000)
//   - target_update (default 0, no target network)
//   - any hyperparameter of the Q-network, e.g. learning_rate, batch_size, fnn_num_hidden_layers.
func NewDQNAgent(stateDim int, seed uint64, params parameters.Params) (Agent, error) {
	a := &DQNAgent{stateDim: stateDim, rng: rand.New(rand.NewPCG(seed, 0xD91))}
	var (
		memorySize int
		err        error
	)
	if a.Gamma, err = parameters.PopParamOr(params, "gamma", 0.99); err != nil {
		return nil, err
	}
	if a.Epsilon, err = parameters.PopParamOr(params, "epsilon", 0.3); err != nil {
		return nil, err
	}
	if a.EpsilonMin, err = parameters.PopParamOr(params, "epsilon_min", 0.05); err != nil {
		return nil, err
	}
	if a.EpsilonDecay, err = parameters.PopParamOr(params, "epsilon_decay", 0.9); err != nil {
		return nil, err
	}
	if memorySize, err = parameters.PopParamOr(params, "memory", 10000); err != nil {
		return nil, err
	}
	if a.TargetUpdate, err = parameters.PopParamOr(params, "target_update", 0); err != nil {
		return nil, err
	}
	if memorySize <= 0 {
		return nil, errors.Errorf("dqn memory must be > 0, got %d", memorySize)
	}
	a.memory = NewReplayMemory(memorySize, a.rng)

	// Both networks consume the same hyperparameters.
	targetParams := maps.Clone(params)
	if a.q, err = gomlx.NewQNetwork(stateDim, NumActions, params); err != nil {
		return nil, err
	}
	a.BatchSize = a.q.BatchSize()
	if a.TargetUpdate > 0 {
		if a.target, err = gomlx.NewQNetwork(stateDim, NumActions, targetParams); err != nil {
			return nil, err
		}
		if err = a.target.CopyFrom(a.q); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *DQNAgent) Name() string {
	if a.target != nil {
		return "dqn_target"
	}
	return "dqn"
}

// ActionScores returns the estimated action values.
func (a *DQNAgent) ActionScores(state []float32) ([]float32, error) {
	values, err := a.q.Predict([][]float32{state})
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

// GetAction is epsilon-greedy over the action values.
func (a *DQNAgent) GetAction(state []float32) (Action, error) {
	if a.rng.Float64() < a.Epsilon {
		return Action(a.rng.IntN(NumActions)), nil
	}
	values, err := a.ActionScores(state)
	if err != nil {
		return ActionSkip, err
	}
	return Action(ai.ArgMax(values)), nil
}

// Update stores the transition and, once the memory has enough of them, trains the Q-network on a
// random mini-batch.
func (a *DQNAgent) Update(state []float32, action Action, reward float32, next []float32, terminal bool) error {
	a.memory.Add(Transition{State: slices.Clone(state), Action: action, Reward: reward, Next: slices.Clone(next), Terminal: terminal})
	if a.memory.Len() < a.BatchSize {
		return nil
	}
	batch := a.memory.Sample(a.BatchSize)
	states := make([][]float32, len(batch))
	actions := make([]int, len(batch))
	targets := make([]float32, len(batch))
	var nextStates [][]float32
	for ii, t := range batch {
		states[ii] = t.State
		actions[ii] = int(t.Action)
		targets[ii] = t.Reward
		if !t.Terminal {
			nextStates = append(nextStates, t.Next)
		}
	}

	bootstrap := a.q
	if a.target != nil {
		bootstrap = a.target
	}
	nextValues, err := bootstrap.Predict(nextStates)
	if err != nil {
		return errors.WithMessage(err, "predicting next state values")
	}
	var nextIdx int
	for ii, t := range batch {
		if t.Terminal {
			continue
		}
		values := nextValues[nextIdx]
		targets[ii] += float32(a.Gamma) * values[ai.ArgMax(values)]
		nextIdx++
	}

	loss, err := a.q.TrainStep(states, actions, targets)
	if err != nil {
		return err
	}
	a.numUpdates++
	klog.V(2).Infof("dqn update %d: loss=%.5f", a.numUpdates, loss)
	if a.target != nil && a.numUpdates%a.TargetUpdate == 0 {
		if err = a.target.CopyFrom(a.q); err != nil {
			return errors.WithMessage(err, "updating target network")
		}
	}
	return nil
}

// FinishEpisode decays the exploration rate.
func (a *DQNAgent) FinishEpisode() error {
	a.Epsilon = max(a.EpsilonMin, a.Epsilon*a.EpsilonDecay)
	return nil
}

func (a *DQNAgent) Save() ([]byte, error) {
	snapshot, err := a.q.Snapshot()
	if err != nil {
		return nil, err
	}
	weights, err := snapshot.Encode()
	if err != nil {
		return nil, err
	}
	return gobEncode(dqnCheckpoint{StateDim: a.stateDim, Epsilon: a.Epsilon, Weights: weights})
}

func (a *DQNAgent) Load(data []byte) error {
	var checkpoint dqnCheckpoint
	if err := gobDecode(data, &checkpoint); err != nil {
		return err
	}
	if checkpoint.StateDim != a.stateDim {
		return errors.Errorf("dqn checkpoint has state dimension %d, agent expects %d", checkpoint.StateDim, a.stateDim)
	}
	snapshot, err := gomlx.DecodeSnapshot(checkpoint.Weights)
	if err != nil {
		return err
	}
	if err = a.q.Restore(snapshot); err != nil {
		return err
	}
	a.Epsilon = checkpoint.Epsilon
	if a.target != nil {
		return a.target.CopyFrom(a.q)
	}
	return nil
}
