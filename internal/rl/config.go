// Package rl frames the active learning selection decision as a reinforcement learning problem: an
// Episode walks over the unlabeled samples in random order, and for each one an Agent decides whether
// to skip it or to query it (and its closest neighbours) for labels. The reward is the change of the
// model's dev accuracy.
package rl

import (
	"github.com/pkg/errors"
)

// StateConfig selects the optional parts of the state vector observed by the agents. The top-k
// neighbour distances are always included.
type StateConfig struct {
	// IntraNeighbor adds, for each of the top-k neighbours, its mean distance to the other neighbours.
	IntraNeighbor bool `json:"intra_neighbor"`

	// PredictionTopK, if > 0, adds the softmin of the distances to the closest samples in the space of
	// the predicted class probabilities.
	PredictionTopK int `json:"prediction_topk"`

	// GlobalMean adds the distance of the candidate's embedding to the mean embedding.
	GlobalMean bool `json:"global_mean"`

	// Entropy adds the entropy of the model's prediction for the candidate.
	Entropy bool `json:"entropy"`
}

// Config of the episodes.
type Config struct {
	// TopK closest samples whose distances are part of the state.
	TopK int `json:"topk"`

	// SelectionRadius is the number of samples labeled per query: the candidate and its closest
	// unlabeled neighbours.
	SelectionRadius int `json:"selection_radius"`

	// RewardThreshold is subtracted from the accuracy improvement of a query.
	RewardThreshold float64 `json:"reward_threshold"`

	// Budget is the maximum number of samples queried in one episode, not counting the initial ones.
	Budget int `json:"budget"`

	// InitSamples randomly labeled at the start of each episode.
	InitSamples int `json:"init_samples"`

	// InitEpochs of training on the initial samples, and Epochs of training after each query.
	InitEpochs int `json:"init_epochs"`
	Epochs     int `json:"epochs"`

	// LRUpdate, if > 0, divides the learning rate by 10 every LRUpdate epochs of the episode.
	LRUpdate int `json:"lr_update"`

	TrainBatchSize int `json:"train_batch_size"`

	// Episodes to play in a training session.
	Episodes int `json:"episodes"`

	Seed uint64 `json:"seed"`

	// ChunkSize is the maximum number of samples materialized at once when encoding.
	ChunkSize int `json:"chunk_size"`

	// CacheSize is the number of state vectors cached between re-encodings.
	CacheSize int `json:"cache_size"`

	State StateConfig `json:"state"`
}

// DefaultConfig returns a Config with the default values.
func DefaultConfig() Config {
	return Config{
		TopK:            5,
		SelectionRadius: 1,
		RewardThreshold: 0,
		Budget:          100,
		InitSamples:     10,
		InitEpochs:      30,
		Epochs:          5,
		TrainBatchSize:  32,
		Episodes:        10,
		Seed:            42,
		ChunkSize:       256,
		CacheSize:       1024,
	}
}

// Validate checks that the values are consistent.
func (c Config) Validate() error {
	switch {
	case c.TopK <= 0:
		return errors.Errorf("rl: topk must be > 0, got %d", c.TopK)
	case c.SelectionRadius <= 0:
		return errors.Errorf("rl: selection_radius must be > 0, got %d", c.SelectionRadius)
	case c.Budget <= 0:
		return errors.Errorf("rl: budget must be > 0, got %d", c.Budget)
	case c.InitSamples <= 0:
		return errors.Errorf("rl: init_samples must be > 0, got %d", c.InitSamples)
	case c.InitEpochs < 0 || c.Epochs < 0:
		return errors.Errorf("rl: epochs must be >= 0, got init_epochs=%d, epochs=%d", c.InitEpochs, c.Epochs)
	case c.LRUpdate < 0:
		return errors.Errorf("rl: lr_update must be >= 0, got %d", c.LRUpdate)
	case c.TrainBatchSize <= 0:
		return errors.Errorf("rl: train_batch_size must be > 0, got %d", c.TrainBatchSize)
	case c.Episodes < 0:
		return errors.Errorf("rl: episodes must be >= 0, got %d", c.Episodes)
	case c.State.PredictionTopK < 0:
		return errors.Errorf("rl: prediction_topk must be >= 0, got %d", c.State.PredictionTopK)
	}
	return nil
}

// StateDim returns the length of the state vectors.
func (c Config) StateDim() int {
	dim := c.TopK + c.State.PredictionTopK
	if c.State.IntraNeighbor {
		dim += c.TopK
	}
	if c.State.GlobalMean {
		dim++
	}
	if c.State.Entropy {
		dim++
	}
	return dim
}
