package trainer

import (
	"context"
	"fmt"
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/ai/linear"
	"github.com/janpfeifer/activeGo/internal/dataset"
	"github.com/janpfeifer/activeGo/internal/parameters"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
)

func syntheticDataset(t *testing.T, numTrain int) *dataset.Dataset {
	ds, err := dataset.Load(fmt.Sprintf("synthetic:train=%d,dev=60,test=60", numTrain), "", 7)
	require.NoError(t, err)
	return ds
}

func linearFactory(ds *dataset.Dataset) ModelFactory {
	return func(run int) (ai.Model, error) {
		return linear.New(ds.Features, ds.NumClasses(), parameters.NewFromConfigString("learning_rate=0.5"))
	}
}

func testConfig(budget, batchSize int, strategy string) Config {
	cfg := DefaultConfig()
	cfg.Budget = budget
	cfg.BatchSize = batchSize
	cfg.Strategy = strategy
	cfg.Epochs = 2
	cfg.TrainBatchSize = 8
	return cfg
}

func labeledCounts(results []RoundResult) []int {
	counts := make([]int, len(results))
	for ii, r := range results {
		counts[ii] = r.NumLabeled
	}
	return counts
}

// TestRandomRounds: 100 samples, budget 40, batch 10, random selection: 4 rounds, 40 labeled.
func TestRandomRounds(t *testing.T) {
	ds := syntheticDataset(t, 100)
	loop, err := NewLoop(testConfig(40, 10, "random"), ds, linearFactory(ds), nil)
	require.NoError(t, err)
	results, err := loop.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, []int{10, 20, 30, 40}, labeledCounts(results))
	for ii, r := range results {
		assert.Equal(t, ii, r.Round)
		assert.True(t, r.HasTest)
		assert.GreaterOrEqual(t, r.DevAcc, 0.0)
		assert.LessOrEqual(t, r.DevAcc, 100.0)
		assert.Equal(t, -1, r.BestEpoch)
	}
}

// TestBudgetMonotonic checks the labeled count never decreases and never exceeds the budget, with the
// last batch clamped.
func TestBudgetMonotonic(t *testing.T) {
	ds := syntheticDataset(t, 100)
	for _, strategy := range []string{"entropy", "egl", "nn"} {
		loop, err := NewLoop(testConfig(35, 10, strategy), ds, linearFactory(ds), nil)
		require.NoError(t, err)
		results, err := loop.RunOnce(context.Background(), 0)
		require.NoError(t, err, "strategy %s", strategy)
		assert.Equal(t, []int{10, 20, 30, 35}, labeledCounts(results), "strategy %s", strategy)
	}
}

func TestSelectAllClamped(t *testing.T) {
	ds := syntheticDataset(t, 50)
	cfg := testConfig(25, 10, "entropy")
	cfg.InitStrategy = "all"
	loop, err := NewLoop(cfg, ds, linearFactory(ds), nil)
	require.NoError(t, err)
	results, err := loop.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []int{25}, labeledCounts(results))

	// Budget larger than the pool: stops when there are no more unlabeled samples.
	cfg = testConfig(1000, 30, "all")
	loop, err = NewLoop(cfg, ds, linearFactory(ds), nil)
	require.NoError(t, err)
	results, err = loop.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []int{30, 50}, labeledCounts(results))
}

// neverReady wraps a model that never reports being ready.
type neverReady struct {
	ai.Model
}

func (neverReady) Ready() bool { return false }

func TestModelNotReady(t *testing.T) {
	ds := syntheticDataset(t, 100)
	factory := func(run int) (ai.Model, error) {
		m, err := linearFactory(ds)(run)
		return neverReady{m}, err
	}
	loop, err := NewLoop(testConfig(40, 10, "entropy"), ds, factory, nil)
	require.NoError(t, err)
	results, err := loop.RunOnce(context.Background(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrModelNotReady)
	assert.Contains(t, err.Error(), "run 0, round 1")
	assert.Len(t, results, 1) // Initial round completed.
}

type recordingSink struct {
	mu   sync.Mutex
	tags map[string]int
}

func (r *recordingSink) ScalarSummary(tag string, value float64, step int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags[tag]++
	return nil
}

func (r *recordingSink) Close() error { return nil }

func TestAverageAndMetrics(t *testing.T) {
	ds := syntheticDataset(t, 60)
	cfg := testConfig(30, 10, "entropy")
	cfg.NAverage = 2
	sink := &recordingSink{tags: make(map[string]int)}
	loop, err := NewLoop(cfg, ds, linearFactory(ds), sink)
	require.NoError(t, err)
	var numCallbacks int
	loop.OnRound = func(RoundResult) { numCallbacks++ }
	results, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 6, numCallbacks)
	assert.Equal(t, 3, sink.tags["run-0/dev-acc"])
	assert.Equal(t, 3, sink.tags["run-1/test-loss"])
	assert.Equal(t, 3, sink.tags["run-1/params/l2"])
	assert.Equal(t, 6, sink.tags["test-acc"])

	summary := loop.Averager().Summary()
	require.Len(t, summary, 3)
	for _, s := range summary {
		assert.Equal(t, 2, s.NumRuns)
	}
	assert.Equal(t, 30, summary[2].NumLabeled)
}

func TestBestCheckpoint(t *testing.T) {
	ds := syntheticDataset(t, 60)
	cfg := testConfig(20, 10, "entropy")
	cfg.BestCheckpoint = true
	cfg.Epochs = 3
	cfg.EvalEvery = 1
	cfg.LRDecay = 0.5
	cfg.LRDecayEpoch = 100
	var model *linear.Classifier
	factory := func(int) (ai.Model, error) {
		var err error
		model, err = linear.New(ds.Features, ds.NumClasses(), parameters.NewFromConfigString("learning_rate=0.4"))
		return model, err
	}
	loop, err := NewLoop(cfg, ds, factory, nil)
	require.NoError(t, err)
	var (
		bestRounds []int
		bestAccs   []float64
	)
	loop.OnBestModel = func(run, round int, m ai.Model) error {
		assert.True(t, m.Ready())
		bestRounds = append(bestRounds, round)
		acc, _, err := Evaluate(m, loop.devBatch(), 0)
		require.NoError(t, err)
		bestAccs = append(bestAccs, acc)
		return errors.New("save failures are only logged")
	}
	results, err := loop.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []int{0, 1}, bestRounds)
	for ii, r := range results {
		assert.GreaterOrEqual(t, r.BestEpoch, 0)
		assert.Less(t, r.BestEpoch, 3)
		// The round is reported with the best snapshot.
		assert.InDelta(t, bestAccs[ii], r.DevAcc, 1e-9)
	}

	// After the round the model is back to its final state: the last epoch of the last round.
	finalAcc, _, err := Evaluate(model, loop.devBatch(), 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, finalAcc, results[1].DevAcc)
	// Decayed twice, once per round.
	assert.InDelta(t, 0.1, model.LearningRate(), 1e-6)
}

func TestCancel(t *testing.T) {
	ds := syntheticDataset(t, 60)
	loop, err := NewLoop(testConfig(30, 10, "random"), ds, linearFactory(ds), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = loop.RunOnce(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate()) // No budget.
	cfg.Budget = 10
	require.NoError(t, cfg.Validate())
	bad := cfg
	bad.LRDecay = 2
	assert.Error(t, bad.Validate())
	bad = cfg
	bad.BestCheckpoint, bad.EvalEvery = true, 0
	assert.Error(t, bad.Validate())

	ds := syntheticDataset(t, 20)
	cfg.Strategy = "unknown"
	_, err := NewLoop(cfg, ds, linearFactory(ds), nil)
	assert.Error(t, err)
	assert.Equal(t, "SelectAndLabel", StateSelectAndLabel.String())
	assert.Equal(t, "State(9)", State(9).String())
}
