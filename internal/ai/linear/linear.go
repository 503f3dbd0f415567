// Package linear implements a pure Go softmax regression classifier (one weight per feature and class,
// plus a bias per class). It defines its own gradient, so it can be trained with plain SGD and it can
// provide per-sample gradients for the expected gradient length scoring.
package linear

import (
	"fmt"
	"github.com/chewxy/math32"
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/features"
	"github.com/janpfeifer/activeGo/internal/parameters"
	"github.com/janpfeifer/activeGo/internal/pool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"math/rand/v2"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Classifier is a softmax regression on the features of the rows.
// It implements ai.Model, ai.GradientModel, ai.Encoder and ai.LearningRateSetter.
type Classifier struct {
	spec       features.Spec
	numClasses int

	// weights shaped [spec.Dim+1][numClasses], row-major, with the last row holding the bias.
	weights []float32

	// StepSize (learning rate) to use when training the linear model and L2Reg to use.
	StepSize, L2Reg float32

	// GradientL2Clip clips the gradient to this l2 length before applying. 0 disables clipping.
	GradientL2Clip float32

	// InitScale is the standard deviation of the random weights on Reset.
	InitScale float32

	// EmbedDim is the dimension of the random projection used by Embed. Embeddings have EmbedDim+NumClasses values.
	EmbedDim int

	seed       uint64
	numResets  uint64
	numSteps   int
	training   bool
	projection []float32 // [spec.Dim][EmbedDim], fixed for the lifetime of the classifier.

	// muLearning is held for writing while weights change.
	muLearning sync.RWMutex
}

var (
	_ ai.GradientModel      = (*Classifier)(nil)
	_ ai.Encoder            = (*Classifier)(nil)
	_ ai.LearningRateSetter = (*Classifier)(nil)
)

// New creates a Classifier for the given features and number of classes. Recognized params:
//
//   - learning_rate (default 0.5), l2 (default 1e-5), clip (gradient L2 clip, default 10)
//   - init_scale (default 0.01), embed_dim (default 32), seed (default 42)
func New(spec features.Spec, numClasses int, params parameters.Params) (*Classifier, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if numClasses < 2 {
		return nil, errors.Errorf("linear classifier needs at least 2 classes, got %d", numClasses)
	}
	c := &Classifier{spec: spec, numClasses: numClasses}
	var err error
	if c.StepSize, err = parameters.PopParamOr(params, "learning_rate", float32(0.5)); err != nil {
		return nil, err
	}
	if c.L2Reg, err = parameters.PopParamOr(params, "l2", float32(1e-5)); err != nil {
		return nil, err
	}
	if c.GradientL2Clip, err = parameters.PopParamOr(params, "clip", float32(10)); err != nil {
		return nil, err
	}
	if c.InitScale, err = parameters.PopParamOr(params, "init_scale", float32(0.01)); err != nil {
		return nil, err
	}
	if c.EmbedDim, err = parameters.PopParamOr(params, "embed_dim", 32); err != nil {
		return nil, err
	}
	if c.seed, err = parameters.PopParamOr(params, "seed", uint64(42)); err != nil {
		return nil, err
	}
	if err = c.Reset(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewWithWeights creates a Classifier with the given weights, shaped [spec.Dim+1][numClasses] (bias last).
// Ownership of the weights is transferred. The classifier is considered Ready.
func NewWithWeights(spec features.Spec, numClasses int, weights []float32) (*Classifier, error) {
	if len(weights) != (spec.Dim+1)*numClasses {
		return nil, errors.Errorf("linear classifier for %d features and %d classes needs %d weights, got %d",
			spec.Dim, numClasses, (spec.Dim+1)*numClasses, len(weights))
	}
	return &Classifier{
		spec:           spec,
		numClasses:     numClasses,
		weights:        weights,
		StepSize:       0.5,
		L2Reg:          0,
		GradientL2Clip: 0,
		InitScale:      0.01,
		EmbedDim:       32,
		seed:           42,
		numSteps:       1,
	}, nil
}

// String implements fmt.Stringer.
func (c *Classifier) String() string {
	return fmt.Sprintf("linear[%s, dim=%d, classes=%d]", c.spec.Kind, c.spec.Dim, c.numClasses)
}

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

// Reset implements ai.Model: weights are re-initialized with a different random draw at every reset,
// reproducible from the seed.
func (c *Classifier) Reset() error {
	c.muLearning.Lock()
	defer c.muLearning.Unlock()
	rng := rand.New(rand.NewPCG(c.seed, c.numResets))
	c.numResets++
	c.weights = make([]float32, (c.spec.Dim+1)*c.numClasses)
	for ii := range c.weights[:c.spec.Dim*c.numClasses] {
		c.weights[ii] = float32(rng.NormFloat64()) * c.InitScale
	}
	c.numSteps = 0
	return nil
}

// State implements ai.Model. The snapshot is a copy of the weights.
func (c *Classifier) State() (ai.State, error) {
	c.muLearning.RLock()
	defer c.muLearning.RUnlock()
	return slices.Clone(c.weights), nil
}

// LoadState implements ai.Model.
func (c *Classifier) LoadState(state ai.State) error {
	weights, ok := state.([]float32)
	if !ok {
		return errors.Errorf("linear classifier cannot load state of type %T", state)
	}
	if len(weights) != len(c.weights) {
		return errors.Errorf("linear classifier state has %d weights, wanted %d", len(weights), len(c.weights))
	}
	c.muLearning.Lock()
	defer c.muLearning.Unlock()
	c.weights = slices.Clone(weights)
	c.numSteps = max(c.numSteps, 1)
	return nil
}

// Parameters implements ai.Model.
func (c *Classifier) Parameters() [][]float32 {
	c.muLearning.RLock()
	defer c.muLearning.RUnlock()
	return [][]float32{slices.Clone(c.weights)}
}

// LearningRate implements ai.LearningRateSetter.
func (c *Classifier) LearningRate() float32 {
	c.muLearning.RLock()
	defer c.muLearning.RUnlock()
	return c.StepSize
}

// SetLearningRate implements ai.LearningRateSetter.
func (c *Classifier) SetLearningRate(lr float32) {
	c.muLearning.Lock()
	defer c.muLearning.Unlock()
	c.StepSize = lr
}

// logits of one row. It assumes muLearning is at least read-locked.
func (c *Classifier) logits(positions []int, values []float32) []float32 {
	C := c.numClasses
	logits := slices.Clone(c.weights[c.spec.Dim*C:])
	for ii, pos := range positions {
		v := values[ii]
		row := c.weights[pos*C : (pos+1)*C]
		for class := range logits {
			logits[class] += v * row[class]
		}
	}
	return logits
}

// Forward implements ai.Model.
func (c *Classifier) Forward(batch *pool.Batch) ([][]float32, error) {
	c.muLearning.RLock()
	defer c.muLearning.RUnlock()
	out := make([][]float32, batch.Len())
	for ii, row := range batch.Features {
		out[ii] = c.logits(c.spec.Sparse(row))
	}
	return out, nil
}

// TrainStep implements ai.Model: one step of SGD on the mean cross-entropy loss of the batch.
func (c *Classifier) TrainStep(batch *pool.Batch) (loss float32, err error) {
	if batch.Len() == 0 {
		return 0, errors.New("linear classifier TrainStep called with an empty batch")
	}
	c.muLearning.Lock()
	defer c.muLearning.Unlock()

	grad := make([]float32, len(c.weights))
	N := float32(batch.Len())
	for ii, row := range batch.Features {
		label := int(batch.Targets[ii])
		if label < 0 || label >= c.numClasses {
			return 0, errors.Errorf("linear classifier got label %d for sample %d, but only %d classes",
				label, batch.Indices[ii], c.numClasses)
		}
		positions, values := c.spec.Sparse(row)
		logits := c.logits(positions, values)
		loss += ai.CrossEntropy(logits, label)
		c.accumulateGradient(positions, values, logits, label, 1/N, grad)
	}
	loss /= N

	if c.L2Reg > 0 {
		for ii, w := range c.weights {
			grad[ii] += 2 * w * c.L2Reg
			loss += c.L2Reg * w * w
		}
	}
	if c.GradientL2Clip > 0 {
		clipL2(grad, c.GradientL2Clip)
	}
	for ii := range grad {
		c.weights[ii] -= c.StepSize * grad[ii]
	}
	c.numSteps++
	return loss, nil
}

// accumulateGradient adds scale * dLoss/dWeights of one example to gradient.
//
// For the softmax cross-entropy, with p = softmax(logits) and y the one-hot label:
//
//	dLoss/dlogit_c = p_c - y_c
//	dLoss/dW[i,c] = x_i * (p_c - y_c)
//	dLoss/db[c] = p_c - y_c
func (c *Classifier) accumulateGradient(positions []int, values, logits []float32, label int, scale float32, gradient []float32) {
	C := c.numClasses
	delta := ai.Softmax(logits)
	delta[label] -= 1
	for ii, pos := range positions {
		v := values[ii] * scale
		row := gradient[pos*C : (pos+1)*C]
		for class, d := range delta {
			row[class] += v * d
		}
	}
	bias := gradient[c.spec.Dim*C:]
	for class, d := range delta {
		bias[class] += d * scale
	}
}

// Gradient implements ai.GradientModel: the gradient of the cross-entropy loss (without regularization)
// of a single row, as if it had the given label.
func (c *Classifier) Gradient(row []int32, label int) ([]float32, error) {
	if label < 0 || label >= c.numClasses {
		return nil, errors.Errorf("linear classifier gradient asked for label %d, but only %d classes", label, c.numClasses)
	}
	c.muLearning.RLock()
	defer c.muLearning.RUnlock()
	positions, values := c.spec.Sparse(row)
	grad := make([]float32, len(c.weights))
	c.accumulateGradient(positions, values, c.logits(positions, values), label, 1, grad)
	return grad, nil
}

// Embed implements ai.Encoder: the embedding of a row is a fixed random projection of its features
// (EmbedDim values) followed by its logits (NumClasses values), so it changes as the model learns.
func (c *Classifier) Embed(batch *pool.Batch) ([][]float32, error) {
	c.buildProjection()
	c.muLearning.RLock()
	defer c.muLearning.RUnlock()
	out := make([][]float32, batch.Len())
	for ii, row := range batch.Features {
		embedding := make([]float32, c.EmbedDim+c.numClasses)
		positions, values := c.spec.Sparse(row)
		for jj, pos := range positions {
			v := values[jj]
			projRow := c.projection[pos*c.EmbedDim : (pos+1)*c.EmbedDim]
			for kk := range c.EmbedDim {
				embedding[kk] += v * projRow[kk]
			}
		}
		copy(embedding[c.EmbedDim:], c.logits(positions, values))
		out[ii] = embedding
	}
	return out, nil
}

func (c *Classifier) buildProjection() {
	c.muLearning.Lock()
	defer c.muLearning.Unlock()
	if c.projection != nil {
		return
	}
	rng := rand.New(rand.NewPCG(c.seed, 0xE3BED))
	c.projection = make([]float32, c.spec.Dim*c.EmbedDim)
	scale := 1 / math32.Sqrt(float32(c.EmbedDim))
	for ii := range c.projection {
		c.projection[ii] = float32(rng.NormFloat64()) * scale
	}
}

// clipL2 clips the L2 length of the vector.
func clipL2(vec []float32, maxLen float32) {
	l2 := ai.L2Norm([][]float32{vec})
	if l2 > maxLen {
		ratio := maxLen / l2
		klog.V(2).Infof("clip: l2=%g, maxLen=%g, ratio=%g", l2, maxLen, ratio)
		for ii := range vec {
			vec[ii] *= ratio
		}
	}
}

const fileHeader = "# linear softmax classifier:"

// Save model to fileName: a header line and one weight per line. A previous file is renamed with a "~" suffix.
func (c *Classifier) Save(fileName string) error {
	if _, err := os.Stat(fileName); err == nil {
		if err = os.Rename(fileName, fileName+"~"); err != nil {
			return errors.Wrapf(err, "failed to rename %s to %s", fileName, fileName+"~")
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to stat %s", fileName)
	}

	c.muLearning.RLock()
	lines := make([]string, 0, len(c.weights)+1)
	lines = append(lines, fmt.Sprintf("%s kind=%s,dim=%d,classes=%d", fileHeader, c.spec.Kind, c.spec.Dim, c.numClasses))
	for _, value := range c.weights {
		lines = append(lines, strconv.FormatFloat(float64(value), 'g', -1, 32))
	}
	c.muLearning.RUnlock()

	if err := os.WriteFile(fileName, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return errors.Wrapf(err, "failed to save %s", fileName)
	}
	return nil
}

// Load weights saved with Save. The file must match the classifier features dimension and number of classes.
func (c *Classifier) Load(fileName string) error {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return errors.Wrapf(err, "failed to read linear model from %s", fileName)
	}
	weights := make([]float32, 0, len(c.weights))
	for lineNum, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f, err := strconv.ParseFloat(line, 32)
		if err != nil {
			return errors.Wrapf(err, "failed to parse weight in %s, line #%d", fileName, lineNum+1)
		}
		weights = append(weights, float32(f))
	}
	return errors.WithMessagef(c.LoadState(weights), "loading %s", fileName)
}
