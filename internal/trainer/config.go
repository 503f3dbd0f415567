package trainer

import (
	"github.com/pkg/errors"
)

// Config of the active learning loop. It is used as an immutable value: create it, Validate it, and
// pass it to NewLoop.
type Config struct {
	// Budget is the maximum number of labeled samples.
	Budget int `json:"budget"`

	// BatchSize is the number of samples labeled per round.
	BatchSize int `json:"batch_size"`

	// InitSize is the number of samples labeled in the initial round. If 0, BatchSize is used.
	InitSize int `json:"init_size"`

	// InitStrategy used to select the initial samples, before there is a trained model. Default is "random".
	InitStrategy string `json:"init_strategy"`

	// Strategy used to score the candidates on every round after the initial one, e.g. "entropy".
	Strategy string `json:"strategy"`

	// Epochs of training over the labeled samples on every round, in mini-batches of TrainBatchSize.
	Epochs         int `json:"epochs"`
	TrainBatchSize int `json:"train_batch_size"`

	// WarmStart keeps the weights from the previous round, instead of resetting the model.
	WarmStart bool `json:"warm_start"`

	// BestCheckpoint evaluates the model on the dev split every EvalEvery epochs and keeps the best
	// snapshot, which is evaluated and reported at the end of the round.
	BestCheckpoint bool `json:"best_checkpoint"`
	EvalEvery      int  `json:"eval_every"`

	// LRDecay, if > 0, multiplies the learning rate of the model when the best epoch of a round is
	// lower than LRDecayEpoch. Only used with BestCheckpoint.
	LRDecay      float64 `json:"lr_decay"`
	LRDecayEpoch int     `json:"lr_decay_epoch"`

	// NAverage is the number of independent repetitions of the experiment.
	NAverage int `json:"n_average"`

	// Seed for the random number generators. Each repetition uses its own stream.
	Seed uint64 `json:"seed"`

	// ChunkSize is the maximum number of samples to materialize at once, for scoring and evaluation.
	ChunkSize int `json:"chunk_size"`
}

// DefaultConfig returns a Config with the default values, that still needs a Budget.
func DefaultConfig() Config {
	return Config{
		BatchSize:      10,
		InitStrategy:   "random",
		Strategy:       "entropy",
		Epochs:         10,
		TrainBatchSize: 32,
		EvalEvery:      1,
		NAverage:       1,
		Seed:           42,
		ChunkSize:      256,
	}
}

// Validate the configuration.
func (c Config) Validate() error {
	switch {
	case c.Budget <= 0:
		return errors.Errorf("invalid budget %d, it must be > 0", c.Budget)
	case c.BatchSize <= 0:
		return errors.Errorf("invalid batch size %d, it must be > 0", c.BatchSize)
	case c.InitSize < 0:
		return errors.Errorf("invalid initial size %d, it must be >= 0", c.InitSize)
	case c.Strategy == "":
		return errors.New("a scoring strategy must be given")
	case c.Epochs <= 0:
		return errors.Errorf("invalid number of epochs %d, it must be > 0", c.Epochs)
	case c.TrainBatchSize <= 0:
		return errors.Errorf("invalid training batch size %d, it must be > 0", c.TrainBatchSize)
	case c.BestCheckpoint && c.EvalEvery <= 0:
		return errors.Errorf("invalid eval_every %d, it must be > 0 when using the best checkpoint", c.EvalEvery)
	case c.LRDecay < 0 || c.LRDecay > 1:
		return errors.Errorf("invalid learning rate decay %g, it must be in [0, 1]", c.LRDecay)
	case c.NAverage <= 0:
		return errors.Errorf("invalid n_average %d, it must be > 0", c.NAverage)
	case c.ChunkSize < 0:
		return errors.Errorf("invalid chunk size %d", c.ChunkSize)
	}
	return nil
}

// initSize returns the number of samples to label in the initial round.
func (c Config) initSize() int {
	if c.InitSize > 0 {
		return c.InitSize
	}
	return c.BatchSize
}

// initStrategy returns the strategy for the initial round.
func (c Config) initStrategy() string {
	if c.InitStrategy == "" {
		return "random"
	}
	return c.InitStrategy
}
