package metrics

import (
	"github.com/janpfeifer/activeGo/internal/generics"
	"gonum.org/v1/gonum/stat"
	"sync"
)

// RoundSummary holds the aggregated metrics of one round across the repetitions of an experiment.
type RoundSummary struct {
	Round, NumLabeled, NumRuns int
	MeanAcc, StdAcc            float64
	MeanLoss, StdLoss          float64
}

type roundValues struct {
	numLabeled int
	acc, loss  []float64
}

// Averager accumulates per-round accuracy and loss across repetitions. It is safe for concurrent use.
type Averager struct {
	mu       sync.Mutex
	perRound map[int]*roundValues
}

// NewAverager creates an empty Averager.
func NewAverager() *Averager {
	return &Averager{perRound: make(map[int]*roundValues)}
}

// Add the results of one repetition for the given round, and returns the rolling means over all
// repetitions reported so far for this round.
func (a *Averager) Add(round, numLabeled int, acc, loss float64) (meanAcc, meanLoss float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rv, found := a.perRound[round]
	if !found {
		rv = &roundValues{numLabeled: numLabeled}
		a.perRound[round] = rv
	}
	rv.acc = append(rv.acc, acc)
	rv.loss = append(rv.loss, loss)
	return stat.Mean(rv.acc, nil), stat.Mean(rv.loss, nil)
}

// Summary returns the aggregated values per round, in round order.
// Standard deviations are 0 for rounds with a single repetition.
func (a *Averager) Summary() []RoundSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	summaries := make([]RoundSummary, 0, len(a.perRound))
	for round := range generics.SortedKeys(a.perRound) {
		rv := a.perRound[round]
		s := RoundSummary{Round: round, NumLabeled: rv.numLabeled, NumRuns: len(rv.acc)}
		s.MeanAcc, s.StdAcc = meanStdDev(rv.acc)
		s.MeanLoss, s.StdLoss = meanStdDev(rv.loss)
		summaries = append(summaries, s)
	}
	return summaries
}

func meanStdDev(values []float64) (mean, std float64) {
	if len(values) < 2 {
		return stat.Mean(values, nil), 0
	}
	return stat.MeanStdDev(values, nil)
}
