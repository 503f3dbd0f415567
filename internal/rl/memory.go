package rl

import (
	"math/rand/v2"
)

// Transition observed by an agent: taking Action on State gave Reward and led to Next (nil if Terminal).
type Transition struct {
	State    []float32
	Action   Action
	Reward   float32
	Next     []float32
	Terminal bool
}

// ReplayMemory holds the last transitions seen, to train on random samples of them.
type ReplayMemory struct {
	transitions []Transition

	// MaxSize of the memory, if > 0. Once full, new transitions replace the oldest ones.
	MaxSize, CurrentIdx int

	rng *rand.Rand
}

// NewReplayMemory creates an empty memory of the given maximum size.
func NewReplayMemory(maxSize int, rng *rand.Rand) *ReplayMemory {
	return &ReplayMemory{MaxSize: maxSize, rng: rng}
}

// Len returns the number of transitions stored.
func (m *ReplayMemory) Len() int {
	return len(m.transitions)
}

// Add a transition. If the memory is full it starts recycling its buffer.
func (m *ReplayMemory) Add(t Transition) {
	if m.MaxSize == 0 || m.Len() < m.MaxSize {
		m.transitions = append(m.transitions, t)
	} else {
		m.CurrentIdx = m.CurrentIdx % m.MaxSize
		m.transitions[m.CurrentIdx] = t
	}
	m.CurrentIdx++
}

// Sample returns n distinct transitions drawn at random, or all of them (shuffled) if there are fewer than n.
func (m *ReplayMemory) Sample(n int) []Transition {
	perm := m.rng.Perm(m.Len())
	if n < len(perm) {
		perm = perm[:n]
	}
	sample := make([]Transition, len(perm))
	for ii, idx := range perm {
		sample[ii] = m.transitions[idx]
	}
	return sample
}
