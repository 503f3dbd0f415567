package gomlx

import (
	"fmt"
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	fnnLayer "github.com/gomlx/gomlx/ml/layers/fnn"
	"github.com/gomlx/gomlx/ml/layers/regularizers"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/activeGo/internal/parameters"
	"github.com/pkg/errors"
	"sync"
)

// QNetwork estimates the action values Q(state, action) for a fixed number of actions, with an FNN over
// the state vector. It is used by the DQN agent.
type QNetwork struct {
	stateDim, numActions int

	ctx       *context.Context
	optimizer optimizers.Interface

	predictExec, trainStepExec *context.Exec
	batchSize                  int

	mu sync.RWMutex
}

// newQNetworkContext creates a context initialized with hyperparameters set to their defaults.
func newQNetworkContext() *context.Context {
	ctx := context.New()
	ctx.RngStateReset()
	ctx.SetParams(map[string]any{
		"batch_size": 32,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.001,
		activations.ParamActivation:  "relu",
		layers.ParamDropoutRate:      0.0,
		regularizers.ParamL2:         0.0,

		fnnLayer.ParamNumHiddenLayers: 2,
		fnnLayer.ParamNumHiddenNodes:  64,
		fnnLayer.ParamResidual:        false,
		fnnLayer.ParamNormalization:   "none",
	})
	return ctx.Checked(false)
}

// NewQNetwork creates a Q-network for states of dimension stateDim. The hyperparameters of the context
// are popped from params.
func NewQNetwork(stateDim, numActions int, params parameters.Params) (*QNetwork, error) {
	if stateDim <= 0 || numActions <= 0 {
		return nil, errors.Errorf("invalid Q-network dimensions: state=%d, actions=%d", stateDim, numActions)
	}
	if err := initBackend(); err != nil {
		return nil, errors.WithMessage(err, "failed to create GoMLX backend")
	}
	q := &QNetwork{stateDim: stateDim, numActions: numActions, ctx: newQNetworkContext()}
	if err := extractParams(q.String(), params, q.ctx); err != nil {
		return nil, err
	}
	q.batchSize = context.GetParamOr(q.ctx, "batch_size", 32)

	muNewExec.Lock()
	defer muNewExec.Unlock()
	err := exceptions.TryCatch[error](func() {
		q.optimizer = optimizers.FromContext(q.ctx)
		q.predictExec = context.NewExec(backend(), q.ctx,
			func(ctx *context.Context, inputs []*Node) *Node {
				return q.forwardGraph(ctx, inputs[0])
			})
		q.trainStepExec = context.NewExec(backend(), q.ctx,
			func(ctx *context.Context, inputs []*Node) *Node {
				states, numUsed, actions, targets := inputs[0], inputs[1], inputs[2], inputs[3]
				g := states.Graph()
				ctx.SetTraining(g, true)
				loss := q.lossGraph(ctx, states, numUsed, actions, targets)
				q.optimizer.UpdateGraph(ctx, g, loss)
				train.ExecPerStepUpdateGraphFn(ctx, g)
				return loss
			})

		// Force creating the variables without race conditions first.
		_ = q.predictExec.Call(DonateTensorBuffer(q.createStates(nil), backend()))
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// String implements fmt.Stringer.
func (q *QNetwork) String() string {
	return fmt.Sprintf("qnetwork[GoMLX, state=%d, actions=%d]", q.stateDim, q.numActions)
}

// BatchSize is the default (padded) number of states per call.
func (q *QNetwork) BatchSize() int { return q.batchSize }

func (q *QNetwork) forwardGraph(ctx *context.Context, states *Node) *Node {
	values := fnnLayer.New(ctx.In("q"), states, q.numActions).Done()
	values.AssertDims(states.Shape().Dim(0), q.numActions)
	return values
}

// lossGraph is the mean squared error of Q(state, action) against the targets, over the rows used.
func (q *QNetwork) lossGraph(ctx *context.Context, states, numUsed, actions, targets *Node) *Node {
	values := q.forwardGraph(ctx, states)
	g := values.Graph()
	batchSize := values.Shape().Dim(0)
	actionIdx := Iota(g, shapes.Make(dtypes.Int32, batchSize, q.numActions), 1)
	selected := ConvertDType(Equal(actionIdx, BroadcastToDims(ExpandAxes(actions, -1), batchSize, q.numActions)), dtypes.Float32)
	predictions := ReduceSum(Mul(values, selected), -1)
	mask := getMask(values, numUsed)
	loss := losses.MeanSquaredError(
		[]*Node{ExpandAxes(targets, -1), ExpandAxes(mask, -1)},
		[]*Node{ExpandAxes(predictions, -1)})
	if !loss.IsScalar() {
		loss = ReduceAllMean(loss)
	}
	return loss
}

func (q *QNetwork) createStates(states [][]float32) *tensors.Tensor {
	numRows := paddedSize(len(states), q.batchSize)
	statesT := tensors.FromShape(shapes.Make(dtypes.Float32, numRows, q.stateDim))
	tensors.MutableFlatData(statesT, func(flat []float32) {
		for ii, state := range states {
			copy(flat[ii*q.stateDim:(ii+1)*q.stateDim], state)
		}
	})
	return statesT
}

func (q *QNetwork) checkStates(states [][]float32) error {
	for ii, state := range states {
		if len(state) != q.stateDim {
			return errors.Errorf("%s: state #%d has dimension %d", q, ii, len(state))
		}
	}
	return nil
}

// Predict returns the action values for each state, shaped [len(states)][numActions].
func (q *QNetwork) Predict(states [][]float32) (values [][]float32, err error) {
	if len(states) == 0 {
		return nil, nil
	}
	if err = q.checkStates(states); err != nil {
		return nil, err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	err = exceptions.TryCatch[error](func() {
		valuesT := q.predictExec.Call(DonateTensorBuffer(q.createStates(states), backend()))[0]
		values = splitRows(tensors.CopyFlatData[float32](valuesT), len(states), q.numActions)
	})
	return values, err
}

// TrainStep moves Q(states[i], actions[i]) towards targets[i], and returns the loss.
func (q *QNetwork) TrainStep(states [][]float32, actions []int, targets []float32) (loss float32, err error) {
	if len(states) == 0 || len(states) != len(actions) || len(states) != len(targets) {
		return 0, errors.Errorf("%s: TrainStep needs the same (non-zero) number of states (%d), actions (%d) and targets (%d)",
			q, len(states), len(actions), len(targets))
	}
	if err = q.checkStates(states); err != nil {
		return 0, err
	}
	for ii, action := range actions {
		if action < 0 || action >= q.numActions {
			return 0, errors.Errorf("%s: invalid action %d for example #%d", q, action, ii)
		}
	}
	statesT := q.createStates(states)
	numRows := statesT.Shape().Dim(0)
	actionsT := tensors.FromShape(shapes.Make(dtypes.Int32, numRows))
	tensors.MutableFlatData(actionsT, func(flat []int32) {
		for ii, action := range actions {
			flat[ii] = int32(action)
		}
	})
	targetsT := tensors.FromShape(shapes.Make(dtypes.Float32, numRows))
	tensors.MutableFlatData(targetsT, func(flat []float32) {
		copy(flat, targets)
	})

	q.mu.Lock()
	defer q.mu.Unlock()
	err = exceptions.TryCatch[error](func() {
		inputs := donate([]*tensors.Tensor{statesT, tensors.FromScalar(int32(len(states))), actionsT, targetsT})
		loss = tensors.ToScalar[float32](q.trainStepExec.Call(inputs...)[0])
	})
	return loss, err
}

// Snapshot returns a copy of the weights.
func (q *QNetwork) Snapshot() (Snapshot, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return takeSnapshot(q.ctx)
}

// Restore the weights from a Snapshot, taken from this network or from another one with the same dimensions.
func (q *QNetwork) Restore(snapshot Snapshot) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return errors.WithMessagef(restoreSnapshot(q.ctx, snapshot), "restoring %s", q)
}

// CopyFrom copies the weights of other (e.g. into a target network).
func (q *QNetwork) CopyFrom(other *QNetwork) error {
	snapshot, err := other.Snapshot()
	if err != nil {
		return err
	}
	return q.Restore(snapshot)
}
