// Package pool keeps track of which samples of a dataset are labeled, and materializes
// fixed-shape batches of their features for the models.
//
// All indices are flat: the position of the sample in the original dataset split.
package pool

import (
	"github.com/janpfeifer/activeGo/internal/generics"
	"github.com/pkg/errors"
)

// ErrInvalidIndex is returned when moving or materializing an index that is not valid for the operation:
// either out of range, or (for Move) not currently unlabeled.
var ErrInvalidIndex = errors.New("invalid sample index")

// Pool holds the samples features and targets and the partition of their indices into
// unlabeled and labeled lists.
//
// The lists are disjoint, and together they always hold every index in [0, Total()).
// A Pool is not safe for concurrent use.
type Pool struct {
	features [][]int32
	targets  []int32
	maxLen   int
	padValue int32

	unlabeled, labeled []int
	isLabeled          []bool
}

// New creates a Pool with every sample unlabeled.
//
// Features are variable length sequences (tokens, pixels), they are padded with padValue or truncated
// to maxLen when materialized.
func New(features [][]int32, targets []int32, maxLen int, padValue int32) (*Pool, error) {
	if len(features) != len(targets) {
		return nil, errors.Errorf("pool got %d features but %d targets", len(features), len(targets))
	}
	if maxLen <= 0 {
		return nil, errors.Errorf("pool requires a positive maxLen, got %d", maxLen)
	}
	p := &Pool{
		features:  features,
		targets:   targets,
		maxLen:    maxLen,
		padValue:  padValue,
		isLabeled: make([]bool, len(features)),
	}
	p.Reset()
	return p, nil
}

// Reset moves all samples back to the unlabeled list, in their original order.
func (p *Pool) Reset() {
	p.unlabeled = make([]int, len(p.features))
	for ii := range p.unlabeled {
		p.unlabeled[ii] = ii
	}
	p.labeled = make([]int, 0, len(p.features))
	clear(p.isLabeled)
}

// Total number of samples.
func (p *Pool) Total() int { return len(p.features) }

// NumLabeled returns the number of labeled samples.
func (p *Pool) NumLabeled() int { return len(p.labeled) }

// NumUnlabeled returns the number of unlabeled samples.
func (p *Pool) NumUnlabeled() int { return len(p.unlabeled) }

// MaxLen of the materialized features.
func (p *Pool) MaxLen() int { return p.maxLen }

// PadValue used to pad features shorter than MaxLen.
func (p *Pool) PadValue() int32 { return p.padValue }

// Unlabeled returns a copy of the unlabeled indices, in pool order.
func (p *Pool) Unlabeled() []int {
	return append([]int(nil), p.unlabeled...)
}

// Labeled returns a copy of the labeled indices, in the order they were labeled.
func (p *Pool) Labeled() []int {
	return append([]int(nil), p.labeled...)
}

// IsLabeled returns whether idx is currently in the labeled list. Out-of-range indices are never labeled.
func (p *Pool) IsLabeled(idx int) bool {
	return idx >= 0 && idx < len(p.isLabeled) && p.isLabeled[idx]
}

// Target returns the label of sample idx.
func (p *Pool) Target(idx int) int32 { return p.targets[idx] }

// Move the given indices from unlabeled to labeled. They are appended to the labeled list
// in the order given.
//
// If any index is not currently unlabeled (or is repeated) it returns an error wrapping ErrInvalidIndex
// and the pool is left unchanged.
func (p *Pool) Move(indices []int) error {
	if len(indices) == 0 {
		return nil
	}
	seen := generics.MakeSet[int](len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(p.features) {
			return errors.Wrapf(ErrInvalidIndex, "index %d out of range [0, %d)", idx, len(p.features))
		}
		if p.isLabeled[idx] {
			return errors.Wrapf(ErrInvalidIndex, "index %d is already labeled", idx)
		}
		if seen.Has(idx) {
			return errors.Wrapf(ErrInvalidIndex, "index %d requested more than once", idx)
		}
		seen.Insert(idx)
	}

	for _, idx := range indices {
		p.isLabeled[idx] = true
	}
	p.labeled = append(p.labeled, indices...)
	kept := p.unlabeled[:0]
	for _, idx := range p.unlabeled {
		if !seen.Has(idx) {
			kept = append(kept, idx)
		}
	}
	p.unlabeled = kept
	return nil
}

// Materialize the features and targets of the given indices into a fixed shape Batch.
func (p *Pool) Materialize(indices []int) (*Batch, error) {
	for _, idx := range indices {
		if idx < 0 || idx >= len(p.features) {
			return nil, errors.Wrapf(ErrInvalidIndex, "cannot materialize index %d, pool has %d samples", idx, len(p.features))
		}
	}
	return NewBatch(p.features, p.targets, indices, p.maxLen, p.padValue), nil
}

// CheckInvariants verifies that labeled and unlabeled are disjoint and cover all samples.
func (p *Pool) CheckInvariants() error {
	if len(p.labeled)+len(p.unlabeled) != len(p.features) {
		return errors.Errorf("pool has %d labeled + %d unlabeled, but %d samples",
			len(p.labeled), len(p.unlabeled), len(p.features))
	}
	all := generics.MakeSet[int](len(p.features))
	for _, idx := range p.labeled {
		if !p.isLabeled[idx] {
			return errors.Errorf("labeled index %d not marked as labeled", idx)
		}
		all.Insert(idx)
	}
	for _, idx := range p.unlabeled {
		if p.isLabeled[idx] {
			return errors.Errorf("index %d is both labeled and unlabeled", idx)
		}
		all.Insert(idx)
	}
	if len(all) != len(p.features) {
		return errors.Errorf("pool lists have repeated indices: %d distinct out of %d", len(all), len(p.features))
	}
	return nil
}
