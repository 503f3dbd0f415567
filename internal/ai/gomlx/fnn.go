package gomlx

import (
	"fmt"
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	fnnLayer "github.com/gomlx/gomlx/ml/layers/fnn"
	"github.com/gomlx/gomlx/ml/layers/regularizers"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/features"
	"github.com/janpfeifer/activeGo/internal/generics"
	"github.com/janpfeifer/activeGo/internal/parameters"
	"github.com/janpfeifer/activeGo/internal/pool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"maps"
	"path/filepath"
	"sync"
)

// ParamEmbedDim is the hyperparameter with the dimension of the encoder output.
const ParamEmbedDim = "embed_dim"

// Classifier is a feed-forward network classifier: an encoder (FNN followed by a tanh) producing the
// sample embeddings, and a linear head producing the logits.
//
// It implements ai.Model, ai.Encoder and ai.LearningRateSetter.
type Classifier struct {
	spec       features.Spec
	numClasses int

	// params used to create the model, used again on Reset.
	params parameters.Params

	ctx       *context.Context
	optimizer optimizers.Interface

	// Executors.
	forwardExec, embedExec, trainStepExec *context.Exec

	// checkpointDir, if set, is where Save writes checkpoints.
	checkpointDir     string
	checkpointsToKeep int

	// Hyperparameters cached values: they should also be set in ctx.
	batchSize int

	numSteps int
	training bool

	// muLearning "write" for learning, and "read" for predicting.
	muLearning sync.RWMutex
}

var (
	_ ai.Encoder            = (*Classifier)(nil)
	_ ai.LearningRateSetter = (*Classifier)(nil)
)

// newClassifierContext creates a context initialized with hyperparameters set to their defaults.
func newClassifierContext() *context.Context {
	ctx := context.New()
	ctx.RngStateReset()
	ctx.SetParams(map[string]any{
		"batch_size": 128,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.001,
		optimizers.ParamAdamEpsilon:  1e-7,
		activations.ParamActivation:  "relu",
		layers.ParamDropoutRate:      0.0,
		regularizers.ParamL2:         1e-5,

		// Encoder network parameters:
		fnnLayer.ParamNumHiddenLayers: 1,
		fnnLayer.ParamNumHiddenNodes:  64,
		fnnLayer.ParamResidual:        true,
		fnnLayer.ParamNormalization:   "none",
		ParamEmbedDim:                 32,
	})
	return ctx.Checked(false)
}

// NewClassifier creates a Classifier for the given features and number of classes.
// Besides the context hyperparameters (see WriteHyperparametersHelp), it accepts:
//
//   - checkpoint: directory where to save the model. If it holds a checkpoint, it is loaded, and the
//     model starts Ready.
//   - keep: number of checkpoints to keep, default 10.
func NewClassifier(spec features.Spec, numClasses int, params parameters.Params) (*Classifier, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if numClasses < 2 {
		return nil, errors.Errorf("classifier needs at least 2 classes, got %d", numClasses)
	}
	c := &Classifier{spec: spec, numClasses: numClasses}
	var err error
	c.checkpointDir, _ = parameters.PopParamOr(params, "checkpoint", "")
	if c.checkpointsToKeep, err = parameters.PopParamOr(params, "keep", 10); err != nil {
		return nil, err
	}
	c.params = maps.Clone(params)
	if c.params == nil {
		c.params = make(parameters.Params)
	}
	if err = c.build(params); err != nil {
		return nil, err
	}
	if c.checkpointDir != "" && hasCheckpoint(c.checkpointDir) {
		if err = c.loadCheckpoint(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// build a fresh context (with new random weights), optimizer and executors.
// The hyperparameters used are popped from params.
func (c *Classifier) build(params parameters.Params) error {
	if err := initBackend(); err != nil {
		return errors.WithMessage(err, "failed to create GoMLX backend")
	}
	ctx := newClassifierContext()
	if err := extractParams(c.String(), params, ctx); err != nil {
		return err
	}
	c.ctx = ctx
	c.batchSize = context.GetParamOr(ctx, "batch_size", 128)

	muNewExec.Lock()
	defer muNewExec.Unlock()
	return exceptions.TryCatch[error](func() {
		c.optimizer = optimizers.FromContext(ctx)
		c.forwardExec = context.NewExec(backend(), ctx,
			func(ctx *context.Context, inputs []*Node) *Node {
				return c.logitsGraph(ctx, inputs)
			})
		c.embedExec = context.NewExec(backend(), ctx,
			func(ctx *context.Context, inputs []*Node) *Node {
				return c.encoderGraph(ctx, inputs[0])
			})
		c.trainStepExec = context.NewExec(backend(), ctx,
			func(ctx *context.Context, inputsAndLabels []*Node) *Node {
				inputs := inputsAndLabels[:len(inputsAndLabels)-1]
				labels := inputsAndLabels[len(inputsAndLabels)-1]
				g := labels.Graph()
				ctx.SetTraining(g, true)
				loss := c.lossGraph(ctx, inputs, labels)
				c.optimizer.UpdateGraph(ctx, g, loss)
				train.ExecPerStepUpdateGraphFn(ctx, g)
				return loss
			})

		// Force creating the variables without race conditions first.
		_ = c.forwardExec.Call(donate(c.createInputs(&pool.Batch{}))...)
	})
}

// String implements fmt.Stringer.
func (c *Classifier) String() string {
	if c.checkpointDir == "" {
		return fmt.Sprintf("fnn[GoMLX, dim=%d, classes=%d]", c.spec.Dim, c.numClasses)
	}
	return fmt.Sprintf("fnn[GoMLX, dim=%d, classes=%d]@%s", c.spec.Dim, c.numClasses, c.checkpointDir)
}

// Context used by the model, with its weights and hyperparameters.
func (c *Classifier) Context() *context.Context { return c.ctx }

// NumClasses implements ai.Model.
func (c *Classifier) NumClasses() int { return c.numClasses }

// Eval implements ai.Model.
func (c *Classifier) Eval() { c.training = false }

// Train implements ai.Model.
func (c *Classifier) Train() { c.training = true }

// Ready implements ai.Model.
func (c *Classifier) Ready() bool {
	c.muLearning.RLock()
	defer c.muLearning.RUnlock()
	return c.numSteps > 0
}

// Reset implements ai.Model: it rebuilds the context, so weights and optimizer state are fresh.
func (c *Classifier) Reset() error {
	c.muLearning.Lock()
	defer c.muLearning.Unlock()
	c.numSteps = 0
	return c.build(maps.Clone(c.params))
}

// State implements ai.Model. It returns a Snapshot.
func (c *Classifier) State() (ai.State, error) {
	c.muLearning.RLock()
	defer c.muLearning.RUnlock()
	return takeSnapshot(c.ctx)
}

// LoadState implements ai.Model.
func (c *Classifier) LoadState(state ai.State) error {
	snapshot, ok := state.(Snapshot)
	if !ok {
		return errors.Errorf("%s cannot load state of type %T", c, state)
	}
	c.muLearning.Lock()
	defer c.muLearning.Unlock()
	if err := restoreSnapshot(c.ctx, snapshot); err != nil {
		return errors.WithMessagef(err, "loading state into %s", c)
	}
	c.numSteps = max(c.numSteps, 1)
	return nil
}

// Parameters implements ai.Model.
func (c *Classifier) Parameters() [][]float32 {
	c.muLearning.RLock()
	defer c.muLearning.RUnlock()
	return trainableValues(c.ctx)
}

// LearningRate implements ai.LearningRateSetter.
func (c *Classifier) LearningRate() float32 {
	return float32(context.GetParamOr(c.ctx, optimizers.ParamLearningRate, 0.001))
}

// SetLearningRate implements ai.LearningRateSetter. It updates the hyperparameter (used if the context is
// rebuilt) and the optimizer's learning rate variable, if already created.
func (c *Classifier) SetLearningRate(lr float32) {
	c.muLearning.Lock()
	defer c.muLearning.Unlock()
	c.params[optimizers.ParamLearningRate] = fmt.Sprintf("%g", lr)
	c.ctx.SetParam(optimizers.ParamLearningRate, float64(lr))
	c.ctx.EnumerateVariables(func(v *context.Variable) {
		if v.Name() != optimizers.ParamLearningRate {
			return
		}
		switch v.Shape().DType {
		case dtypes.Float32:
			v.SetValue(tensors.FromScalar(lr))
		case dtypes.Float64:
			v.SetValue(tensors.FromScalar(float64(lr)))
		}
	})
}

// createInputs for the batch: features padded to a batch size and the number of rows used.
func (c *Classifier) createInputs(batch *pool.Batch) []*tensors.Tensor {
	numRows := paddedSize(batch.Len(), c.batchSize)
	featuresT := tensors.FromShape(shapes.Make(dtypes.Float32, numRows, c.spec.Dim))
	tensors.MutableFlatData(featuresT, func(flat []float32) {
		copy(flat, c.spec.Flat(batch, numRows))
	})
	return []*tensors.Tensor{featuresT, tensors.FromScalar(int32(batch.Len()))}
}

// createLabels for the batch, padded as createInputs.
func (c *Classifier) createLabels(batch *pool.Batch) *tensors.Tensor {
	numRows := paddedSize(batch.Len(), c.batchSize)
	labelsT := tensors.FromShape(shapes.Make(dtypes.Int32, numRows))
	tensors.MutableFlatData(labelsT, func(flat []int32) {
		copy(flat, batch.Targets)
	})
	return labelsT
}

func donate(inputs []*tensors.Tensor) []any {
	return generics.SliceMap(inputs, func(t *tensors.Tensor) any {
		return DonateTensorBuffer(t, backend())
	})
}

// getMask of the rows used, based on the padding of the inputs.
func getMask(batch, numUsed *Node) *Node {
	g := batch.Graph()
	batchSize := batch.Shape().Dim(0)
	return LessThan(Iota(g, shapes.Make(dtypes.Int32, batchSize), 0), numUsed)
}

// encoderGraph returns the embeddings of the rows, shaped [batchSize, embedDim].
func (c *Classifier) encoderGraph(ctx *context.Context, x *Node) *Node {
	embedDim := context.GetParamOr(ctx, ParamEmbedDim, 32)
	return Tanh(fnnLayer.New(ctx.In("encoder"), x, embedDim).Done())
}

// logitsGraph returns the logits, shaped [batchSize, numClasses].
func (c *Classifier) logitsGraph(ctx *context.Context, inputs []*Node) *Node {
	x := inputs[0]
	batchSize := x.Shape().Dim(0)
	embeddings := c.encoderGraph(ctx, x)
	logits := layers.Dense(ctx.In("head"), embeddings, true, c.numClasses)
	logits.AssertDims(batchSize, c.numClasses)
	return logits
}

// lossGraph is the mean cross-entropy over the rows used.
func (c *Classifier) lossGraph(ctx *context.Context, inputs []*Node, labels *Node) *Node {
	logits := c.logitsGraph(ctx, inputs)
	return maskedCrossEntropy(logits, labels, getMask(logits, inputs[1]), inputs[1])
}

// maskedCrossEntropy returns the mean of the cross-entropy of the masked in rows.
func maskedCrossEntropy(logits, labels, mask, numUsed *Node) *Node {
	g := logits.Graph()
	batchSize, numClasses := logits.Shape().Dim(0), logits.Shape().Dim(1)
	classes := Iota(g, shapes.Make(dtypes.Int32, batchSize, numClasses), 1)
	oneHot := ConvertDType(Equal(classes, BroadcastToDims(ExpandAxes(labels, -1), batchSize, numClasses)), dtypes.Float32)
	perRow := Neg(ReduceSum(Mul(oneHot, LogSoftmax(logits)), -1))
	perRow = Where(mask, perRow, ZerosLike(perRow))
	return Div(ReduceAllSum(perRow), ConvertDType(Max(numUsed, OnesLike(numUsed)), dtypes.Float32))
}

// Forward implements ai.Model.
func (c *Classifier) Forward(batch *pool.Batch) (logits [][]float32, err error) {
	if batch.Len() == 0 {
		return nil, nil
	}
	c.muLearning.RLock()
	defer c.muLearning.RUnlock()
	err = exceptions.TryCatch[error](func() {
		logitsT := c.forwardExec.Call(donate(c.createInputs(batch))...)[0]
		logits = splitRows(tensors.CopyFlatData[float32](logitsT), batch.Len(), c.numClasses)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "forward of %s", c)
	}
	return logits, nil
}

// Embed implements ai.Encoder.
func (c *Classifier) Embed(batch *pool.Batch) (embeddings [][]float32, err error) {
	if batch.Len() == 0 {
		return nil, nil
	}
	c.muLearning.RLock()
	defer c.muLearning.RUnlock()
	embedDim := context.GetParamOr(c.ctx, ParamEmbedDim, 32)
	err = exceptions.TryCatch[error](func() {
		inputs := c.createInputs(batch)
		embeddingsT := c.embedExec.Call(DonateTensorBuffer(inputs[0], backend()))[0]
		embeddings = splitRows(tensors.CopyFlatData[float32](embeddingsT), batch.Len(), embedDim)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "embedding with %s", c)
	}
	return embeddings, nil
}

// TrainStep implements ai.Model.
func (c *Classifier) TrainStep(batch *pool.Batch) (loss float32, err error) {
	if batch.Len() == 0 {
		return 0, errors.Errorf("%s: TrainStep called with an empty batch", c)
	}
	c.muLearning.Lock()
	defer c.muLearning.Unlock()
	err = exceptions.TryCatch[error](func() {
		inputs := append(c.createInputs(batch), c.createLabels(batch))
		lossT := c.trainStepExec.Call(donate(inputs)...)[0]
		loss = tensors.ToScalar[float32](lossT)
	})
	if err != nil {
		return 0, errors.WithMessagef(err, "train step of %s", c)
	}
	c.numSteps++
	return loss, nil
}

// splitRows of a flat [padded, width] result, dropping the padding.
func splitRows(flat []float32, numRows, width int) [][]float32 {
	rows := make([][]float32, numRows)
	for ii := range rows {
		rows[ii] = flat[ii*width : (ii+1)*width]
	}
	return rows
}

// hasCheckpoint returns whether dir holds a GoMLX checkpoint.
func hasCheckpoint(dir string) bool {
	matches, err := filepath.Glob(filepath.Join(dir, "checkpoint-*.json"))
	return err == nil && len(matches) > 0
}

// loadCheckpoint from c.checkpointDir into the current context.
func (c *Classifier) loadCheckpoint() error {
	err := exceptions.TryCatch[error](func() {
		_, err := checkpoints.Build(c.ctx).Dir(c.checkpointDir).Immediate().Done()
		if err != nil {
			panic(err)
		}
	})
	if err != nil {
		return errors.WithMessagef(err, "failed to load checkpoint from %s", c.checkpointDir)
	}
	c.numSteps = max(c.numSteps, 1)
	klog.V(1).Infof("%s: loaded checkpoint", c)
	return nil
}

// Save the current weights as a new checkpoint in the directory given by the "checkpoint" parameter.
// It's a no-op (with a warning) if no directory was configured.
func (c *Classifier) Save() error {
	if c.checkpointDir == "" {
		klog.Warningf("%s is not associated to a checkpoint directory, not saving", c)
		return nil
	}
	c.muLearning.RLock()
	defer c.muLearning.RUnlock()
	snapshot, err := takeSnapshot(c.ctx)
	if err != nil {
		return err
	}
	// A separate context, so existing checkpoints in the directory are never loaded over the current weights.
	saveCtx := context.New()
	for key, values := range snapshot {
		scope, name := filepath.Split(key)
		saveCtx.InAbsPath(filepath.Clean(scope)).VariableWithValue(name,
			tensors.FromFlatDataAndDimensions(values.Flat, values.Dims...))
	}
	return exceptions.TryCatch[error](func() {
		handler, err := checkpoints.Build(saveCtx).Dir(c.checkpointDir).Keep(c.checkpointsToKeep).Done()
		if err == nil {
			err = handler.Save()
		}
		if err != nil {
			panic(errors.WithMessagef(err, "failed to save checkpoint to %s", c.checkpointDir))
		}
	})
}
