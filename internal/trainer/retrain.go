package trainer

import (
	"context"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/pool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"math/rand/v2"
	"time"
)

const averageLossDecay = float32(0.95)

func movingAverage(average, newValue, decay float32, count int) float32 {
	decay = min(1-1/float32(count), decay)
	return average*decay + (1-decay)*newValue
}

// TrainEpoch trains model for one epoch over the indices of p, shuffled with rng, in mini-batches of
// batchSize. It returns the moving average of the loss, updated from average, and increments numSteps.
func TrainEpoch(ctx context.Context, model ai.Model, p *pool.Pool, indices []int, batchSize int, rng *rand.Rand,
	average float32, numSteps *int) (float32, error) {
	shuffled := make([]int, len(indices))
	for ii, perm := range rng.Perm(len(indices)) {
		shuffled[ii] = indices[perm]
	}
	for _, chunk := range pool.Chunks(shuffled, batchSize) {
		if err := ctx.Err(); err != nil {
			return average, err
		}
		batch, err := p.Materialize(chunk.Indices)
		if err != nil {
			return average, err
		}
		loss, err := model.TrainStep(batch)
		if err != nil {
			return average, err
		}
		*numSteps++
		average = movingAverage(average, loss, averageLossDecay, *numSteps)
	}
	return average, nil
}

// retrain the model on the current labeled set.
func (l *Loop) retrain(ctx context.Context, rs *RunState) error {
	if !l.cfg.WarmStart {
		if err := rs.Model.Reset(); err != nil {
			return errors.WithMessage(err, "resetting model")
		}
	}
	labeled := rs.Pool.Labeled()
	if len(labeled) == 0 {
		return errors.New("no labeled samples to train on")
	}

	var (
		averageLoss float32
		numSteps    int
		bestAcc     = -1.0
		bestEpoch   = -1
		bestState   ai.State
		err         error
	)
	start := time.Now()
	for epoch := range l.cfg.Epochs {
		rs.Model.Train()
		averageLoss, err = TrainEpoch(ctx, rs.Model, rs.Pool, labeled, l.cfg.TrainBatchSize, rs.rng, averageLoss, &numSteps)
		if err != nil {
			return errors.WithMessagef(err, "training epoch %d", epoch)
		}
		klog.V(2).Infof("run %d, round %d, epoch %d: ~loss=%.4f", rs.Run, rs.Round, epoch, averageLoss)
		if !l.cfg.BestCheckpoint || (epoch+1)%l.cfg.EvalEvery != 0 {
			continue
		}
		devAcc, _, err := Evaluate(rs.Model, l.devBatch(), l.cfg.ChunkSize)
		if err != nil {
			return errors.WithMessagef(err, "evaluating epoch %d", epoch)
		}
		if devAcc > bestAcc {
			bestAcc, bestEpoch = devAcc, epoch
			if bestState, err = rs.Model.State(); err != nil {
				return errors.WithMessage(err, "taking model snapshot")
			}
		}
	}
	klog.V(1).Infof("run %d, round %d: trained %d steps on %s samples in %s, ~loss=%.4f",
		rs.Run, rs.Round, numSteps, humanize.Comma(int64(len(labeled))), time.Since(start).Round(time.Millisecond), averageLoss)
	rs.pendingTrainLoss = averageLoss
	rs.pendingBestEpoch = bestEpoch

	if bestState != nil {
		if err = l.loadBest(rs, bestState, bestAcc, bestEpoch); err != nil {
			return err
		}
	}
	return nil
}

// loadBest loads the best snapshot of the round, so it is the one evaluated and reported, and keeps
// the final state to be restored afterwards by restoreFinal.
func (l *Loop) loadBest(rs *RunState, bestState ai.State, bestAcc float64, bestEpoch int) error {
	finalState, err := rs.Model.State()
	if err != nil {
		return errors.WithMessage(err, "taking model snapshot")
	}
	if err = rs.Model.LoadState(bestState); err != nil {
		return errors.WithMessage(err, "loading best snapshot")
	}
	klog.V(1).Infof("run %d, round %d: using snapshot of epoch %d, dev acc=%.2f%%", rs.Run, rs.Round, bestEpoch, bestAcc)
	rs.pendingFinalState = finalState
	return nil
}

// restoreFinal hands over the best snapshot of the round, and then restores the model to its final
// state, from which training and scoring continue.
func (l *Loop) restoreFinal(rs *RunState) error {
	finalState := rs.pendingFinalState
	rs.pendingFinalState = nil
	if l.OnBestModel != nil {
		if err := l.OnBestModel(rs.Run, rs.Round, rs.Model); err != nil {
			klog.Warningf("run %d, round %d: failed to handle best model: %+v", rs.Run, rs.Round, err)
		}
	}
	if err := rs.Model.LoadState(finalState); err != nil {
		return errors.WithMessage(err, "restoring model after best snapshot")
	}

	// Decay the learning rate if the best epoch came early.
	bestEpoch := rs.pendingBestEpoch
	if l.cfg.LRDecay > 0 && bestEpoch < l.cfg.LRDecayEpoch {
		if setter, ok := rs.Model.(ai.LearningRateSetter); ok {
			lr := setter.LearningRate() * float32(l.cfg.LRDecay)
			setter.SetLearningRate(lr)
			klog.V(1).Infof("run %d, round %d: best epoch %d < %d, learning rate decayed to %g",
				rs.Run, rs.Round, bestEpoch, l.cfg.LRDecayEpoch, lr)
		}
	}
	return nil
}
