package rl

import (
	"context"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/activeGo/internal/metrics"
	"github.com/janpfeifer/activeGo/internal/store"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"time"
)

// EpisodeResult summarizes one played episode.
type EpisodeResult struct {
	Episode     int
	Steps       int
	Queried     int
	Performance float64
	Reward      float64
}

// Trainer plays episodes with an agent, updating it after every step, logging the results and saving
// a checkpoint of the agent at the end of every episode.
type Trainer struct {
	episode *Episode
	agent   Agent
	sink    metrics.Sink
	store   store.Store

	// StartEpisode is the number of the first episode to play, set by Resume.
	StartEpisode int

	// OnEpisode, if set, is called after each episode.
	OnEpisode func(result EpisodeResult)
}

// NewTrainer creates a Trainer. sink failures are logged and never interrupt training. st can be nil,
// in which case no checkpoints are saved.
func NewTrainer(episode *Episode, agent Agent, sink metrics.Sink, st store.Store) *Trainer {
	return &Trainer{
		episode: episode,
		agent:   agent,
		sink:    metrics.WithFallback(sink, nil),
		store:   st,
	}
}

// Resume loads the agent saved under key and continues from the following episode.
func (t *Trainer) Resume(key store.Key) error {
	if t.store == nil {
		return errors.New("cannot resume without a checkpoint store")
	}
	data, err := t.store.Load(key)
	if err != nil {
		return err
	}
	if err = t.agent.Load(data); err != nil {
		return errors.WithMessagef(err, "loading agent from %s", key)
	}
	t.StartEpisode = key.Episode + 1
	klog.Infof("resumed %s agent from %s, starting at episode %d", t.agent.Name(), key, t.StartEpisode)
	return nil
}

// Run plays the episodes from StartEpisode up to the configured number of Episodes.
func (t *Trainer) Run(ctx context.Context) ([]EpisodeResult, error) {
	var results []EpisodeResult
	for ep := t.StartEpisode; ep < t.episode.Config().Episodes; ep++ {
		result, err := t.PlayEpisode(ctx, ep)
		if err != nil {
			return results, errors.WithMessagef(err, "episode %d", ep)
		}
		results = append(results, result)
		if t.OnEpisode != nil {
			t.OnEpisode(result)
		}
	}
	return results, nil
}

// PlayEpisode reboots the episode and plays it to the end with the agent.
func (t *Trainer) PlayEpisode(ctx context.Context, ep int) (EpisodeResult, error) {
	start := time.Now()
	result := EpisodeResult{Episode: ep}
	if err := t.episode.Reboot(ctx); err != nil {
		return result, err
	}
	state, err := t.episode.Observe()
	if err != nil && !errors.Is(err, ErrEpisodeTerminal) {
		return result, err
	}
	for terminal := err != nil; !terminal; {
		if err = ctx.Err(); err != nil {
			return result, err
		}
		var (
			action Action
			next   []float32
			reward float32
		)
		if action, err = t.agent.GetAction(state); err != nil {
			return result, errors.WithMessage(err, "agent failed to act")
		}
		if next, reward, terminal, err = t.episode.Feedback(ctx, action); err != nil {
			return result, err
		}
		result.Steps++
		if terminal {
			// The episode still rewards the action that ended it.
			reward = t.episode.LastReward()
		}
		if err = t.agent.Update(state, action, reward, next, terminal); err != nil {
			return result, errors.WithMessage(err, "agent failed to update")
		}
		state = next
	}
	if err = t.agent.FinishEpisode(); err != nil {
		return result, errors.WithMessage(err, "agent failed to finish episode")
	}

	result.Queried = t.episode.Queried()
	result.Performance = t.episode.Performance()
	result.Reward = t.episode.TotalReward()
	_ = t.sink.ScalarSummary("episode/performance", result.Performance, ep)
	_ = t.sink.ScalarSummary("episode/queried", float64(result.Queried), ep)
	_ = t.sink.ScalarSummary("episode/reward", result.Reward, ep)
	klog.Infof("episode %d: %s steps, queried %d, performance=%.4f, reward=%.4f (%s)", ep,
		humanize.Comma(int64(result.Steps)), result.Queried, result.Performance, result.Reward,
		time.Since(start).Round(time.Millisecond))

	if t.store != nil {
		key := store.Key{Agent: t.agent.Name(), Episode: ep, Score: result.Performance}
		data, err := t.agent.Save()
		if err != nil {
			return result, errors.WithMessage(err, "serializing agent")
		}
		if err = t.store.Save(key, data); err != nil {
			return result, errors.WithMessagef(err, "saving agent to %s", key)
		}
		klog.V(1).Infof("saved agent to %s", key)
	}
	return result, nil
}
