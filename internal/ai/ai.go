// Package ai defines the interfaces that classifier models have to implement to be used by the
// active learning loops, plus a few numeric helpers shared by the scoring strategies.
//
// The models themselves live in sub-packages: linear (pure Go) and gomlx.
package ai

import (
	"fmt"
	"github.com/janpfeifer/activeGo/internal/pool"
	"github.com/pkg/errors"
)

// ErrModelNotReady is returned when a model is used for scoring before it was trained since its last reset.
var ErrModelNotReady = errors.New("model not ready: it has not been trained since it was last reset")

// State is an opaque snapshot of a model's weights, see Model.State.
type State any

// Model is a classifier over materialized batches of features.
//
// Models own all their device and numeric details, the loops only see float32 slices.
type Model interface {
	fmt.Stringer

	// NumClasses the model predicts.
	NumClasses() int

	// Forward returns the logits for each row of the batch, shaped [batch.Len()][NumClasses()].
	Forward(batch *pool.Batch) (logits [][]float32, err error)

	// TrainStep takes one optimization step on the batch and returns the mean loss over it.
	TrainStep(batch *pool.Batch) (loss float32, err error)

	// Eval and Train switch the model mode. Forward is expected to be called in Eval mode.
	Eval()
	Train()

	// Reset re-initializes the weights (and optimizer state) to fresh random values.
	Reset() error

	// Ready returns whether the model took at least one TrainStep since it was created or last Reset.
	Ready() bool

	// State returns a snapshot of the weights, enough to resume evaluation with LoadState.
	State() (State, error)

	// LoadState restores weights from a snapshot taken with State.
	LoadState(state State) error

	// Parameters returns the trainable weights, flattened per variable.
	Parameters() [][]float32
}

// GradientModel is a Model that can return the gradient of the loss for one sample with respect to all
// its parameters, as if the sample had the given label. It is used for the expected gradient length scoring.
//
// Gradient must be safe for concurrent use, as long as no TrainStep, Reset or LoadState is called concurrently.
type GradientModel interface {
	Model
	Gradient(features []int32, label int) ([]float32, error)
}

// Encoder is a Model that can also embed samples into a vector space.
type Encoder interface {
	Model
	Embed(batch *pool.Batch) (embeddings [][]float32, err error)
}

// LearningRateSetter is implemented by models whose learning rate can be changed between rounds.
type LearningRateSetter interface {
	LearningRate() float32
	SetLearningRate(lr float32)
}

// CheckReady returns an error wrapping ErrModelNotReady if model is not Ready.
func CheckReady(model Model) error {
	if model == nil {
		return errors.Wrap(ErrModelNotReady, "no model given")
	}
	if !model.Ready() {
		return errors.Wrapf(ErrModelNotReady, "model %s", model)
	}
	return nil
}
