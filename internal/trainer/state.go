package trainer

import (
	"fmt"
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/pool"
	"github.com/janpfeifer/activeGo/internal/scoring"
	"math/rand/v2"
)

// State of the loop of one repetition.
type State int

const (
	StateInit State = iota
	StateSelectAndLabel
	StateRetrain
	StateEvaluate
	StateTerminal
)

var stateNames = []string{"Init", "SelectAndLabel", "Retrain", "Evaluate", "Terminal"}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// RoundResult holds the evaluation after one round of labeling and retraining.
type RoundResult struct {
	Run, Round int
	NumLabeled int

	// Accuracy in percent, and mean cross-entropy loss.
	DevAcc, DevLoss   float64
	TestAcc, TestLoss float64
	HasTest           bool

	// ParamsL2 is the L2 norm of all model parameters.
	ParamsL2 float64

	// TrainLoss is the moving average of the training loss at the end of the round.
	TrainLoss float32

	// BestEpoch where the best dev accuracy was found, if using the best checkpoint (-1 otherwise).
	BestEpoch int
}

// RunState holds everything owned by one repetition of the experiment.
type RunState struct {
	Run   int
	Round int
	State State

	Pool         *pool.Pool
	Model        ai.Model
	Strategy     scoring.Strategy
	InitStrategy scoring.Strategy

	BestAcc float64
	Results []RoundResult

	rng *rand.Rand

	// Set by Retrain, and reported by Evaluate.
	pendingTrainLoss float32
	pendingBestEpoch int

	// pendingFinalState is set when the model holds the best snapshot of the round during Evaluate.
	pendingFinalState ai.State
}

// remainingBudget is the number of samples that can still be labeled.
func (rs *RunState) remainingBudget(budget int) int {
	return max(budget-rs.Pool.NumLabeled(), 0)
}
