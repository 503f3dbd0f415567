// Package dataset loads the classification datasets used by the active learning experiments, and converts
// them to token-id sequences with a vocabulary.
//
// Supported datasets: "mr" (movie reviews polarity), "trec" (question classification, coarse labels),
// "mnist" (digits, pixels as tokens) and "synthetic" (generated, for tests and demos).
package dataset

import (
	"github.com/janpfeifer/activeGo/internal/features"
	"github.com/janpfeifer/activeGo/internal/parameters"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"slices"
)

// Split of a dataset: parallel slices of features (token ids or values) and labels.
type Split struct {
	X [][]int32
	Y []int32
}

// Len returns the number of examples in the split.
func (s Split) Len() int { return len(s.X) }

// Validate that features and labels are parallel, and labels are in range.
func (s Split) Validate(numClasses int) error {
	if len(s.X) != len(s.Y) {
		return errors.Errorf("split has %d examples but %d labels", len(s.X), len(s.Y))
	}
	for ii, y := range s.Y {
		if y < 0 || int(y) >= numClasses {
			return errors.Errorf("example #%d has label %d, but there are only %d classes", ii, y, numClasses)
		}
	}
	return nil
}

// MaxLen returns the length of the longest sequence in the split.
func (s Split) MaxLen() int {
	var maxLen int
	for _, x := range s.X {
		maxLen = max(maxLen, len(x))
	}
	return maxLen
}

// Dataset holds the train/dev/test splits and the information needed to materialize and featurize them.
type Dataset struct {
	Name             string
	Train, Dev, Test Split

	// Vocab is only set for text datasets.
	Vocab *Vocab

	ClassNames []string

	// MaxLen is the longest sequence over all splits. Materialized batches are padded to it.
	MaxLen int

	// PadValue used to pad sequences shorter than MaxLen.
	PadValue int32

	// Features is how models should interpret the tokens.
	Features features.Spec
}

// NumClasses returns the number of classes.
func (d *Dataset) NumClasses() int { return len(d.ClassNames) }

// Validate the splits of the dataset.
func (d *Dataset) Validate() error {
	if d.NumClasses() < 2 {
		return errors.Errorf("dataset %q has %d classes, at least 2 are required", d.Name, d.NumClasses())
	}
	for name, split := range map[string]Split{"train": d.Train, "dev": d.Dev, "test": d.Test} {
		if err := split.Validate(d.NumClasses()); err != nil {
			return errors.WithMessagef(err, "dataset %q, split %s", d.Name, name)
		}
	}
	if d.Train.Len() == 0 || d.Dev.Len() == 0 {
		return errors.Errorf("dataset %q needs non-empty train and dev splits, got %d and %d",
			d.Name, d.Train.Len(), d.Dev.Len())
	}
	return d.Features.Validate()
}

// finalizeText sets MaxLen, PadValue and the features spec of a text dataset, with the vocabulary already built.
func (d *Dataset) finalizeText() {
	d.MaxLen = max(d.Train.MaxLen(), d.Dev.MaxLen(), d.Test.MaxLen(), 1)
	d.PadValue = d.Vocab.Pad()
	d.Features = features.Spec{
		Kind:     features.KindBagOfTokens,
		Dim:      d.Vocab.Size() + 2, // Unknown and padding ids.
		PadValue: d.PadValue,
	}
}

// Loader creates a dataset from the data directory and the params specific to the dataset.
type Loader func(dataPath string, seed uint64, params parameters.Params) (*Dataset, error)

var loaders = map[string]Loader{
	"mr":        LoadMR,
	"trec":      LoadTREC,
	"mnist":     LoadMNIST,
	"synthetic": LoadSynthetic,
}

// Names of the datasets that can be loaded.
func Names() []string {
	names := make([]string, 0, len(loaders))
	for name := range loaders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Load a dataset from a configuration like "mr" or "synthetic:num_classes=3,train=500".
func Load(config, dataPath string, seed uint64) (*Dataset, error) {
	name, params := parameters.SplitModuleConfig(config)
	loader, found := loaders[name]
	if !found {
		return nil, errors.Errorf("unknown dataset %q, valid values are %q", name, Names())
	}
	ds, err := loader(dataPath, seed, params)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load dataset %q", name)
	}
	if err = parameters.CheckAllConsumed(params, "dataset "+name); err != nil {
		return nil, err
	}
	if err = ds.Validate(); err != nil {
		return nil, err
	}
	klog.Infof("Dataset %s: train=%d, dev=%d, test=%d, classes=%d, max_len=%d, features=%s[%d]",
		ds.Name, ds.Train.Len(), ds.Dev.Len(), ds.Test.Len(), ds.NumClasses(), ds.MaxLen, ds.Features.Kind, ds.Features.Dim)
	return ds, nil
}
