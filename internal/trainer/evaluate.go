package trainer

import (
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/pool"
	"github.com/janpfeifer/activeGo/internal/scoring"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"math"
	"sync"
)

// Evaluate returns the accuracy (in percent) and the mean cross-entropy loss of the model on the batch,
// forwarding at most chunkSize rows at a time.
func Evaluate(model ai.Model, batch *pool.Batch, chunkSize int) (acc, loss float64, err error) {
	if batch.Len() == 0 {
		return 0, 0, errors.New("cannot evaluate on an empty batch")
	}
	if chunkSize <= 0 {
		chunkSize = scoring.DefaultChunkSize
	}
	model.Eval()
	var correct int
	var totalLoss float64
	for start := 0; start < batch.Len(); start += chunkSize {
		rows := make([]int, 0, chunkSize)
		for row := start; row < min(start+chunkSize, batch.Len()); row++ {
			rows = append(rows, row)
		}
		chunk := batch.Subset(rows)
		logits, err := model.Forward(chunk)
		if err != nil {
			return 0, 0, err
		}
		for ii, rowLogits := range logits {
			label := int(chunk.Targets[ii])
			if ai.ArgMax(rowLogits) == label {
				correct++
			}
			totalLoss += float64(ai.CrossEntropy(rowLogits, label))
		}
	}
	n := float64(batch.Len())
	return 100 * float64(correct) / n, totalLoss / n, nil
}

// splitBatch materializes a whole split as one batch, cached.
type splitBatch struct {
	once  sync.Once
	batch *pool.Batch
}

func (sb *splitBatch) get(x [][]int32, y []int32, maxLen int, padValue int32) *pool.Batch {
	sb.once.Do(func() {
		indices := make([]int, len(x))
		for ii := range indices {
			indices[ii] = ii
		}
		sb.batch = pool.NewBatch(x, y, indices, maxLen, padValue)
	})
	return sb.batch
}

func (l *Loop) devBatch() *pool.Batch {
	return l.dev.get(l.data.Dev.X, l.data.Dev.Y, l.data.MaxLen, l.data.PadValue)
}

func (l *Loop) testBatch() *pool.Batch {
	return l.test.get(l.data.Test.X, l.data.Test.Y, l.data.MaxLen, l.data.PadValue)
}

// evaluate the model after retraining, and report the results of the round. With the best checkpoint,
// the model holds the best snapshot of the round, and it is restored to its final state afterwards.
func (l *Loop) evaluate(rs *RunState) error {
	result := RoundResult{
		Run:        rs.Run,
		Round:      rs.Round,
		NumLabeled: rs.Pool.NumLabeled(),
		TrainLoss:  rs.pendingTrainLoss,
		BestEpoch:  rs.pendingBestEpoch,
	}
	var err error
	if result.DevAcc, result.DevLoss, err = Evaluate(rs.Model, l.devBatch(), l.cfg.ChunkSize); err != nil {
		return errors.WithMessage(err, "evaluating on dev")
	}
	if l.data.Test.Len() > 0 {
		result.HasTest = true
		if result.TestAcc, result.TestLoss, err = Evaluate(rs.Model, l.testBatch(), l.cfg.ChunkSize); err != nil {
			return errors.WithMessage(err, "evaluating on test")
		}
	}
	result.ParamsL2 = float64(ai.L2Norm(rs.Model.Parameters()))
	if math.IsNaN(result.DevLoss) {
		klog.Warningf("run %d, round %d: dev loss is NaN", rs.Run, rs.Round)
	}
	if len(rs.Results) > 0 && result.DevAcc < rs.Results[len(rs.Results)-1].DevAcc {
		klog.V(1).Infof("run %d, round %d: dev accuracy dropped from %.2f%% to %.2f%%",
			rs.Run, rs.Round, rs.Results[len(rs.Results)-1].DevAcc, result.DevAcc)
	}
	rs.BestAcc = max(rs.BestAcc, result.DevAcc)
	rs.Results = append(rs.Results, result)

	step := result.NumLabeled
	l.scalar(rs.Run, "dev-acc", result.DevAcc, step)
	l.scalar(rs.Run, "dev-loss", result.DevLoss, step)
	l.scalar(rs.Run, "params/l2", result.ParamsL2, step)
	avgName, avgAcc, avgLoss := "dev", result.DevAcc, result.DevLoss
	if result.HasTest {
		l.scalar(rs.Run, "test-acc", result.TestAcc, step)
		l.scalar(rs.Run, "test-loss", result.TestLoss, step)
		avgName, avgAcc, avgLoss = "test", result.TestAcc, result.TestLoss
	}
	meanAcc, meanLoss := l.averager.Add(rs.Round, step, avgAcc, avgLoss)
	_ = l.sink.ScalarSummary(avgName+"-acc", meanAcc, step)
	_ = l.sink.ScalarSummary(avgName+"-loss", meanLoss, step)

	klog.Infof("run %d, round %d: %d labeled, dev acc=%.2f%% loss=%.4f", rs.Run, rs.Round, step, result.DevAcc, result.DevLoss)
	if l.OnRound != nil {
		l.OnRound(result)
	}
	if rs.pendingFinalState != nil {
		return l.restoreFinal(rs)
	}
	return nil
}
