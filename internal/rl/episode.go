package rl

import (
	"context"
	"fmt"
	"github.com/hashicorp/golang-lru"
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/dataset"
	"github.com/janpfeifer/activeGo/internal/pool"
	"github.com/janpfeifer/activeGo/internal/selection"
	"github.com/janpfeifer/activeGo/internal/trainer"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"math"
	"math/rand/v2"
)

// ErrEpisodeTerminal is returned when observing or acting on an episode that already ended.
var ErrEpisodeTerminal = errors.New("episode is terminal")

// Action an agent takes on the current candidate.
type Action int

const (
	ActionSkip Action = iota
	ActionQuery

	// NumActions is the number of possible actions.
	NumActions = 2
)

// String implements fmt.Stringer.
func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionQuery:
		return "query"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Episode walks over the training samples of a dataset in random order, presenting each unlabeled one
// to an agent. Queried samples are labeled and the model retrained on them.
//
// The usual sequence is Reboot, Observe, and then Feedback until it returns terminal. An Episode is
// not safe for concurrent use.
type Episode struct {
	cfg   Config
	data  *dataset.Dataset
	model ai.Encoder
	pool  *pool.Pool
	dev   *pool.Batch
	rng   *rand.Rand

	// Learning rate at creation, restored on every Reboot.
	lrSetter ai.LearningRateSetter
	baseLR   float32

	count       int // Number of Reboots.
	order       []int
	position    int // Next position in order.
	current     int // Flat index of the current candidate, or -1.
	queried     int
	epochs      int // Epochs trained since Reboot.
	terminal    bool
	performance float64
	totalReward float64
	lastReward  float32

	enc    *encoding
	states *lru.Cache
}

// NewEpisode creates an Episode over the train split of data, training model.
// Call Reboot before using it.
func NewEpisode(cfg Config, data *dataset.Dataset, model ai.Encoder) (*Episode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if data.Dev.Len() == 0 {
		return nil, errors.Errorf("dataset %q has no dev split to measure the rewards", data.Name)
	}
	if cfg.InitSamples >= data.Train.Len() {
		return nil, errors.Errorf("rl: init_samples=%d must be smaller than the train split (%d samples)",
			cfg.InitSamples, data.Train.Len())
	}
	p, err := pool.New(data.Train.X, data.Train.Y, data.MaxLen, data.PadValue)
	if err != nil {
		return nil, err
	}
	states, err := lru.New(max(cfg.CacheSize, 1))
	if err != nil {
		return nil, errors.Wrap(err, "creating state cache")
	}
	devIndices := make([]int, data.Dev.Len())
	for ii := range devIndices {
		devIndices[ii] = ii
	}
	e := &Episode{
		cfg:     cfg,
		data:    data,
		model:   model,
		pool:    p,
		dev:     pool.NewBatch(data.Dev.X, data.Dev.Y, devIndices, data.MaxLen, data.PadValue),
		current: -1,
		states:  states,
	}
	if setter, ok := model.(ai.LearningRateSetter); ok {
		e.lrSetter = setter
		e.baseLR = setter.LearningRate()
	}
	return e, nil
}

// Config returns the episode configuration.
func (e *Episode) Config() Config { return e.cfg }

// Pool with the labeled and unlabeled samples of the current episode.
func (e *Episode) Pool() *pool.Pool { return e.pool }

// Model being trained.
func (e *Episode) Model() ai.Encoder { return e.model }

// Performance is the dev accuracy (a fraction in [0, 1]) after the last training.
func (e *Episode) Performance() float64 { return e.performance }

// Queried returns the number of samples labeled by queries since the last Reboot.
func (e *Episode) Queried() int { return e.queried }

// TotalReward returns the sum of the rewards since the last Reboot, including the one of a terminal step.
func (e *Episode) TotalReward() float64 { return e.totalReward }

// LastReward returns the reward of the last action given to Feedback. For the terminal step, Feedback
// returns no reward, but the action was still rewarded.
func (e *Episode) LastReward() float32 { return e.lastReward }

// Terminal returns whether the episode ended.
func (e *Episode) Terminal() bool { return e.terminal }

// Reboot starts a new episode: the pool is reset and a new random order drawn, the last InitSamples of
// the order are labeled, and the model is reset and trained on them.
func (e *Episode) Reboot(ctx context.Context) error {
	e.rng = rand.New(rand.NewPCG(e.cfg.Seed, uint64(e.count)))
	e.count++
	e.pool.Reset()
	e.order = e.rng.Perm(e.pool.Total())
	e.position, e.current, e.queried, e.epochs = 0, -1, 0, 0
	e.terminal = false
	e.totalReward, e.lastReward = 0, 0

	seed := e.order[len(e.order)-e.cfg.InitSamples:]
	if err := e.pool.Move(seed); err != nil {
		return errors.WithMessage(err, "labeling initial samples")
	}
	if err := e.model.Reset(); err != nil {
		return errors.WithMessage(err, "resetting model")
	}
	if e.lrSetter != nil {
		e.lrSetter.SetLearningRate(e.baseLR)
	}
	if err := e.train(ctx, e.cfg.InitEpochs); err != nil {
		return errors.WithMessage(err, "training on initial samples")
	}
	if err := e.reencode(ctx); err != nil {
		return err
	}
	var err error
	if e.performance, err = e.evaluate(); err != nil {
		return err
	}
	klog.V(1).Infof("episode %d rebooted: %d initial samples, performance=%.4f", e.count-1, e.cfg.InitSamples, e.performance)
	return nil
}

// Observe returns the state vector of the current candidate. If there is no current candidate, it first
// advances to the next unlabeled sample in the episode order.
//
// It returns ErrEpisodeTerminal if the episode ended.
func (e *Episode) Observe() ([]float32, error) {
	if e.terminal {
		return nil, ErrEpisodeTerminal
	}
	if e.order == nil {
		return nil, errors.New("rl: episode not rebooted")
	}
	if e.current < 0 || e.pool.IsLabeled(e.current) {
		if !e.advance() {
			e.terminal = true
			return nil, ErrEpisodeTerminal
		}
	}
	return e.currentState(), nil
}

// Feedback applies the action to the current candidate and returns the state of the next candidate and
// the reward. Querying labels the candidate and its closest unlabeled neighbours (SelectionRadius in
// total, clamped to the remaining budget), retrains the model and rewards the dev accuracy improvement
// minus RewardThreshold. Skipping has reward 0.
//
// When the budget is used or there are no more candidates, it returns (nil, 0, true, nil).
func (e *Episode) Feedback(ctx context.Context, action Action) (next []float32, reward float32, terminal bool, err error) {
	if e.terminal {
		return nil, 0, true, ErrEpisodeTerminal
	}
	if e.current < 0 {
		return nil, 0, false, errors.New("rl: Feedback called without a current candidate, call Observe first")
	}
	switch action {
	case ActionSkip:
	case ActionQuery:
		if reward, err = e.query(ctx); err != nil {
			return nil, 0, false, errors.WithMessagef(err, "querying sample %d", e.current)
		}
	default:
		return nil, 0, false, errors.Errorf("rl: invalid action %s", action)
	}
	e.totalReward += float64(reward)
	e.lastReward = reward
	klog.V(2).Infof("state %d, action %s: reward=%.4f, performance=%.4f", e.position, action, reward, e.performance)

	e.current = -1
	if e.queried >= e.cfg.Budget || !e.advance() {
		e.terminal = true
		return nil, 0, true, nil
	}
	return e.currentState(), reward, false, nil
}

// advance to the next unlabeled sample in order. It returns false if there are none.
func (e *Episode) advance() bool {
	for e.position < len(e.order) {
		idx := e.order[e.position]
		e.position++
		if !e.pool.IsLabeled(idx) {
			e.current = idx
			return true
		}
	}
	e.current = -1
	return false
}

func (e *Episode) currentState() []float32 {
	if cached, found := e.states.Get(e.current); found {
		return cached.([]float32)
	}
	state := e.enc.state(e.cfg, e.current)
	e.states.Add(e.current, state)
	return state
}

// query labels the current candidate and its neighbours, retrains and returns the reward.
func (e *Episode) query(ctx context.Context) (float32, error) {
	candidates := e.pool.Unlabeled()
	embeddings := make(map[int][]float64, len(candidates))
	for _, idx := range candidates {
		embeddings[idx] = e.enc.embeddings[idx]
	}
	selected, err := selection.Neighbors(e.current, candidates, embeddings, e.cfg.SelectionRadius)
	if err != nil {
		return 0, err
	}
	selected = selection.ClampToBudget(selected, e.cfg.Budget-e.queried)
	if err = e.pool.Move(selected); err != nil {
		return 0, err
	}
	e.queried += len(selected)

	if err = e.train(ctx, e.cfg.Epochs); err != nil {
		return 0, err
	}
	if err = e.reencode(ctx); err != nil {
		return 0, err
	}
	newPerformance, err := e.evaluate()
	if err != nil {
		return 0, err
	}
	reward := newPerformance - e.performance - e.cfg.RewardThreshold
	e.performance = newPerformance
	return float32(reward), nil
}

// train the model for the given number of epochs on the labeled samples, decaying the learning rate
// by 10 every LRUpdate epochs of the episode.
func (e *Episode) train(ctx context.Context, epochs int) error {
	labeled := e.pool.Labeled()
	var (
		averageLoss float32
		numSteps    int
		err         error
	)
	for range epochs {
		if e.lrSetter != nil && e.cfg.LRUpdate > 0 {
			e.lrSetter.SetLearningRate(e.baseLR * float32(math.Pow(0.1, float64(e.epochs/e.cfg.LRUpdate))))
		}
		e.model.Train()
		averageLoss, err = trainer.TrainEpoch(ctx, e.model, e.pool, labeled, e.cfg.TrainBatchSize, e.rng, averageLoss, &numSteps)
		if err != nil {
			return errors.WithMessagef(err, "training epoch %d", e.epochs)
		}
		e.epochs++
	}
	klog.V(2).Infof("trained %d epochs on %d samples, ~loss=%.4f", epochs, len(labeled), averageLoss)
	return nil
}

// reencode all samples with the current model, invalidating the cached states.
func (e *Episode) reencode(ctx context.Context) error {
	enc, err := encode(ctx, e.model, e.pool, e.cfg.ChunkSize, e.cfg.State.needsPredictions())
	if err != nil {
		return errors.WithMessage(err, "encoding episode samples")
	}
	e.enc = enc
	e.states.Purge()
	return nil
}

func (e *Episode) evaluate() (float64, error) {
	acc, _, err := trainer.Evaluate(e.model, e.dev, e.cfg.ChunkSize)
	if err != nil {
		return 0, errors.WithMessage(err, "evaluating on dev")
	}
	return acc / 100, nil
}
