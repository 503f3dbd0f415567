// Package trainer implements the active learning loop: starting from an unlabeled pool, it repeatedly
// scores the candidates, labels the best ones, retrains the model and evaluates it, until the labeling
// budget is exhausted.
//
// Each repetition of the experiment runs the state machine:
//
//	Init -> Retrain -> Evaluate -> (SelectAndLabel -> Retrain -> Evaluate)* -> Terminal
package trainer

import (
	"context"
	"fmt"
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/dataset"
	"github.com/janpfeifer/activeGo/internal/metrics"
	"github.com/janpfeifer/activeGo/internal/pool"
	"github.com/janpfeifer/activeGo/internal/scoring"
	"github.com/janpfeifer/activeGo/internal/selection"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"math/rand/v2"
)

// ModelFactory creates a fresh model for the given repetition.
type ModelFactory func(run int) (ai.Model, error)

// Loop runs the active learning experiment.
type Loop struct {
	cfg      Config
	data     *dataset.Dataset
	newModel ModelFactory

	sink     metrics.Sink
	averager *metrics.Averager

	// Materialized dev and test splits.
	dev, test splitBatch

	// OnRound, if set, is called after every evaluation. It may be called concurrently by different
	// repetitions, if they are run concurrently.
	OnRound func(result RoundResult)

	// OnBestModel, if set, is called at the end of a round with the model loaded with its best
	// snapshot (when Config.BestCheckpoint is set). It can be used to save the model.
	OnBestModel func(run, round int, model ai.Model) error
}

// NewLoop creates a Loop for the dataset. sink can be nil, in which case metrics are only logged.
// Sink errors never interrupt the loop.
func NewLoop(cfg Config, data *dataset.Dataset, newModel ModelFactory, sink metrics.Sink) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if data == nil || data.Train.Len() == 0 {
		return nil, errors.New("active learning loop requires a dataset with a non-empty train split")
	}
	if data.Dev.Len() == 0 {
		return nil, errors.Errorf("dataset %q has no dev split to evaluate on", data.Name)
	}
	if newModel == nil {
		return nil, errors.New("active learning loop requires a model factory")
	}
	if sink == nil {
		sink = metrics.NoOp{}
	}
	// Validate strategies early.
	for _, config := range []string{cfg.Strategy, cfg.initStrategy()} {
		if _, err := scoring.New(config); err != nil {
			return nil, err
		}
	}
	return &Loop{
		cfg:      cfg,
		data:     data,
		newModel: newModel,
		sink:     metrics.WithFallback(sink, metrics.Log{Level: 1}),
		averager: metrics.NewAverager(),
	}, nil
}

// Config returns the configuration of the loop.
func (l *Loop) Config() Config { return l.cfg }

// Averager with the results across repetitions.
func (l *Loop) Averager() *metrics.Averager { return l.averager }

// Run all Config.NAverage repetitions sequentially, and returns the results of each one.
func (l *Loop) Run(ctx context.Context) ([][]RoundResult, error) {
	results := make([][]RoundResult, 0, l.cfg.NAverage)
	for run := range l.cfg.NAverage {
		runResults, err := l.RunOnce(ctx, run)
		if err != nil {
			return results, err
		}
		results = append(results, runResults)
	}
	return results, nil
}

// newRunState creates the pool, model and strategies of one repetition.
func (l *Loop) newRunState(run int) (*RunState, error) {
	p, err := pool.New(l.data.Train.X, l.data.Train.Y, l.data.MaxLen, l.data.PadValue)
	if err != nil {
		return nil, err
	}
	model, err := l.newModel(run)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create model for run %d", run)
	}
	rs := &RunState{
		Run:     run,
		State:   StateInit,
		Pool:    p,
		Model:   model,
		BestAcc: -1,
		rng:     rand.New(rand.NewPCG(l.cfg.Seed, uint64(run))),
	}
	if rs.Strategy, err = l.newStrategy(l.cfg.Strategy, run); err != nil {
		return nil, err
	}
	if rs.InitStrategy, err = l.newStrategy(l.cfg.initStrategy(), run); err != nil {
		return nil, err
	}
	return rs, nil
}

// newStrategy creates a strategy, giving random strategies a different stream per repetition.
func (l *Loop) newStrategy(config string, run int) (scoring.Strategy, error) {
	s, err := scoring.New(config)
	if err != nil {
		return nil, err
	}
	if r, ok := s.(*scoring.Random); ok {
		r.Reseed(l.cfg.Seed + uint64(run) + 1)
	}
	return s, nil
}

// RunOnce runs one repetition of the experiment until the budget is exhausted, and returns the results
// of each round. Context cancellation is checked between states.
func (l *Loop) RunOnce(ctx context.Context, run int) ([]RoundResult, error) {
	rs, err := l.newRunState(run)
	if err != nil {
		return nil, err
	}
	for rs.State != StateTerminal {
		if err = ctx.Err(); err != nil {
			return rs.Results, err
		}
		var next State
		switch rs.State {
		case StateInit:
			err = l.initialLabels(ctx, rs)
			next = StateRetrain
		case StateSelectAndLabel:
			var numMoved int
			numMoved, err = l.selectAndLabel(ctx, rs)
			next = StateRetrain
			if numMoved == 0 {
				klog.Warningf("run %d, round %d: no samples selected, stopping", run, rs.Round)
				next = StateTerminal
			}
		case StateRetrain:
			err = l.retrain(ctx, rs)
			next = StateEvaluate
		case StateEvaluate:
			err = l.evaluate(rs)
			next = StateTerminal
			if rs.Pool.NumLabeled() < l.cfg.Budget && rs.Pool.NumUnlabeled() > 0 {
				next = StateSelectAndLabel
			}
		default:
			err = errors.Errorf("invalid state %s", rs.State)
		}
		if err != nil {
			return rs.Results, errors.WithMessagef(err, "run %d, round %d (%s)", run, rs.Round, rs.State)
		}
		rs.State = next
	}
	klog.Infof("run %d finished after %d rounds with %d labeled samples", run, rs.Round+1, rs.Pool.NumLabeled())
	return rs.Results, nil
}

// label scores the candidates with strategy, selects up to size of them within the budget, and
// moves them to the labeled set.
func (l *Loop) label(ctx context.Context, rs *RunState, strategy scoring.Strategy, size int) (int, error) {
	candidates := scoring.NewCandidates(rs.Pool, l.cfg.ChunkSize)
	sv, err := strategy.Score(ctx, rs.Model, candidates)
	if err != nil {
		return 0, errors.WithMessagef(err, "scoring with %q", strategy.Name())
	}
	remaining := rs.remainingBudget(l.cfg.Budget)
	indices := selection.Select(sv, min(size, remaining))
	indices = selection.ClampToBudget(indices, remaining)
	if err = rs.Pool.Move(indices); err != nil {
		return 0, err
	}
	klog.V(1).Infof("run %d, round %d: labeled %d samples with %q (%d/%d labeled)",
		rs.Run, rs.Round, len(indices), strategy.Name(), rs.Pool.NumLabeled(), l.cfg.Budget)
	return len(indices), nil
}

// initialLabels selects the first samples, usually at random since there is no trained model yet.
func (l *Loop) initialLabels(ctx context.Context, rs *RunState) error {
	size := l.cfg.initSize()
	if _, isAll := rs.InitStrategy.(scoring.SelectAll); isAll {
		size = rs.Pool.NumUnlabeled()
	}
	_, err := l.label(ctx, rs, rs.InitStrategy, size)
	return err
}

// selectAndLabel starts a new round, labeling a new batch of samples.
func (l *Loop) selectAndLabel(ctx context.Context, rs *RunState) (int, error) {
	rs.Round++
	size := l.cfg.BatchSize
	if _, isAll := rs.Strategy.(scoring.SelectAll); isAll {
		size = rs.Pool.NumUnlabeled()
	}
	return l.label(ctx, rs, rs.Strategy, size)
}

// scalar reports one metric, tagged by repetition.
func (l *Loop) scalar(run int, tag string, value float64, step int) {
	_ = l.sink.ScalarSummary(fmt.Sprintf("run-%d/%s", run, tag), value, step)
}
