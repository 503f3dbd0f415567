package rl

import (
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/parameters"
	"github.com/janpfeifer/activeGo/internal/vecmath"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
	"math/rand/v2"
	"slices"
)

// PolicyAgent is trained with REINFORCE: a linear softmax policy over the state (plus a bias), updated
// at the end of each episode with the normalized discounted returns.
type PolicyAgent struct {
	stateDim     int
	learningRate float64
	gamma        float64
	rng          *rand.Rand

	// weights[action] has stateDim+1 values, the bias is last.
	weights [][]float64

	// Transitions of the current episode.
	experiences []experience
}

// experience of one step of an episode.
type experience struct {
	State  []float64
	Action Action
	Reward float64
}

// policyCheckpoint is what is serialized by PolicyAgent.Save.
type policyCheckpoint struct {
	StateDim int
	Weights  [][]float64
}

var (
	_ Agent        = (*PolicyAgent)(nil)
	_ ActionScorer = (*PolicyAgent)(nil)
)

// NewPolicyAgent creates a PolicyAgent with zero weights (a uniform policy).
// Params: learning_rate (default 0.01) and gamma (discount, default 0.99).
func NewPolicyAgent(stateDim int, seed uint64, params parameters.Params) (Agent, error) {
	if stateDim <= 0 {
		return nil, errors.Errorf("invalid state dimension %d", stateDim)
	}
	a := &PolicyAgent{stateDim: stateDim, rng: rand.New(rand.NewPCG(seed, 0x9011C1))}
	var err error
	if a.learningRate, err = parameters.PopParamOr(params, "learning_rate", 0.01); err != nil {
		return nil, err
	}
	if a.gamma, err = parameters.PopParamOr(params, "gamma", 0.99); err != nil {
		return nil, err
	}
	a.weights = make([][]float64, NumActions)
	for ii := range a.weights {
		a.weights[ii] = make([]float64, stateDim+1)
	}
	return a, nil
}

func (*PolicyAgent) Name() string { return "policy" }

// withBias converts the state to float64 and appends the bias input.
func (a *PolicyAgent) withBias(state []float32) ([]float64, error) {
	if len(state) != a.stateDim {
		return nil, errors.Errorf("policy agent expects states of dimension %d, got %d", a.stateDim, len(state))
	}
	return append(vecmath.ToFloat64(state), 1), nil
}

func (a *PolicyAgent) probabilities(input []float64) []float32 {
	logits := make([]float32, NumActions)
	for action, w := range a.weights {
		logits[action] = float32(floats.Dot(w, input))
	}
	return ai.Softmax(logits)
}

// ActionScores returns the policy probabilities of each action.
func (a *PolicyAgent) ActionScores(state []float32) ([]float32, error) {
	input, err := a.withBias(state)
	if err != nil {
		return nil, err
	}
	return a.probabilities(input), nil
}

// GetAction samples an action from the policy.
func (a *PolicyAgent) GetAction(state []float32) (Action, error) {
	probs, err := a.ActionScores(state)
	if err != nil {
		return ActionSkip, err
	}
	if a.rng.Float32() < probs[ActionQuery] {
		return ActionQuery, nil
	}
	return ActionSkip, nil
}

// Update records the transition, learning only happens at FinishEpisode.
func (a *PolicyAgent) Update(state []float32, action Action, reward float32, _ []float32, _ bool) error {
	input, err := a.withBias(state)
	if err != nil {
		return err
	}
	a.experiences = append(a.experiences, experience{State: input, Action: action, Reward: float64(reward)})
	return nil
}

// discountedReturns returns, for each step, the discounted sum of the rewards from that step on.
func discountedReturns(experiences []experience, gamma float64) []float64 {
	returns := make([]float64, len(experiences))
	var g float64
	for ii := len(experiences) - 1; ii >= 0; ii-- {
		g = experiences[ii].Reward + gamma*g
		returns[ii] = g
	}
	return returns
}

// FinishEpisode takes one policy gradient step over the episode's transitions.
func (a *PolicyAgent) FinishEpisode() error {
	defer func() { a.experiences = a.experiences[:0] }()
	if len(a.experiences) == 0 {
		return nil
	}
	returns := discountedReturns(a.experiences, a.gamma)
	if len(returns) > 1 {
		mean, std := stat.MeanStdDev(returns, nil)
		floats.AddConst(-mean, returns)
		if std > 0 {
			floats.Scale(1/std, returns)
		}
	}

	gradients := make([][]float64, NumActions)
	for ii := range gradients {
		gradients[ii] = make([]float64, a.stateDim+1)
	}
	for step, exp := range a.experiences {
		probs := a.probabilities(exp.State)
		for action := range gradients {
			// d log(pi(a_t|s)) / d w_a = (1[a == a_t] - pi(a|s)) * s
			indicator := 0.0
			if Action(action) == exp.Action {
				indicator = 1
			}
			floats.AddScaled(gradients[action], returns[step]*(indicator-float64(probs[action])), exp.State)
		}
	}
	for action, grad := range gradients {
		floats.AddScaled(a.weights[action], a.learningRate/float64(len(a.experiences)), grad)
	}
	klog.V(1).Infof("policy agent: updated from %d steps, return[0]=%.4f", len(a.experiences), returns[0])
	return nil
}

func (a *PolicyAgent) Save() ([]byte, error) {
	return gobEncode(policyCheckpoint{StateDim: a.stateDim, Weights: a.weights})
}

func (a *PolicyAgent) Load(data []byte) error {
	var checkpoint policyCheckpoint
	if err := gobDecode(data, &checkpoint); err != nil {
		return err
	}
	if checkpoint.StateDim != a.stateDim || len(checkpoint.Weights) != NumActions {
		return errors.Errorf("policy checkpoint has state dimension %d and %d actions, agent expects %d and %d",
			checkpoint.StateDim, len(checkpoint.Weights), a.stateDim, NumActions)
	}
	for action, w := range checkpoint.Weights {
		if len(w) != a.stateDim+1 {
			return errors.Errorf("policy checkpoint has %d weights for action %d, expected %d", len(w), action, a.stateDim+1)
		}
		a.weights[action] = slices.Clone(w)
	}
	return nil
}
