// Package models provides a factory of classifier models from configuration strings.
// It also allows model providers to register themselves.
package models

import (
	"github.com/janpfeifer/activeGo/internal/ai"
	"github.com/janpfeifer/activeGo/internal/ai/gomlx"
	"github.com/janpfeifer/activeGo/internal/ai/linear"
	"github.com/janpfeifer/activeGo/internal/features"
	"github.com/janpfeifer/activeGo/internal/generics"
	"github.com/janpfeifer/activeGo/internal/parameters"
	"github.com/pkg/errors"
	"slices"
)

// Constructor creates a model for the given features and number of classes. It should pop the params it uses.
type Constructor func(spec features.Spec, numClasses int, params parameters.Params) (ai.Model, error)

var (
	// Registered model constructors.
	keywordToConstructor = make(map[string]Constructor)
)

// RegisterModel so it can be used by the commands.
func RegisterModel(name string, constructor Constructor) {
	keywordToConstructor[name] = constructor
}

func init() {
	RegisterModel("linear", func(spec features.Spec, numClasses int, params parameters.Params) (ai.Model, error) {
		return linear.New(spec, numClasses, params)
	})
	RegisterModel("fnn", func(spec features.Spec, numClasses int, params parameters.Params) (ai.Model, error) {
		return gomlx.NewClassifier(spec, numClasses, params)
	})
}

// DefaultModelConfig is used if no configuration was given.
var DefaultModelConfig = "linear"

// Names of the registered models, sorted.
func Names() []string {
	return slices.Collect(generics.SortedKeys(keywordToConstructor))
}

// New creates a new model given the configuration string.
//
// Args:
//
//	config: the model name followed by a colon (":"), followed by a comma-separated list of optional parameters
//	with optional values associated. E.g.: "fnn:learning_rate=0.01,embed_dim=16".
//	If empty, DefaultModelConfig is used.
//
// It fails if any of the parameters is not used by the model.
func New(config string, spec features.Spec, numClasses int) (ai.Model, error) {
	if config == "" {
		config = DefaultModelConfig
	}
	name, params := parameters.SplitModuleConfig(config)
	constructor, ok := keywordToConstructor[name]
	if !ok {
		return nil, errors.Errorf("unknown model %q, registered models: %v", name, Names())
	}
	model, err := constructor(spec, numClasses, params)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create model %q", name)
	}
	if err = parameters.CheckAllConsumed(params, "model "+name); err != nil {
		return nil, err
	}
	return model, nil
}
