// Package gomlx implements GoMLX based models: a feed-forward classifier (ai.Model and ai.Encoder)
// used by the active learning loops, and a Q-network used by the DQN agent.
//
// All models share one backend, created on first use. Use SetBackendConfig before that to select a device.
package gomlx

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/xla"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/janpfeifer/activeGo/internal/parameters"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"os"
	"sync"
	"sync/atomic"
)

// backendConfigEnvVar is read by backends.New to select the backend and device.
const backendConfigEnvVar = "GOMLX_BACKEND"

var (
	backendCreated atomic.Bool

	// backend is a singleton, the same for all models.
	backend = sync.OnceValue(func() backends.Backend {
		backendCreated.Store(true)
		b := backends.New()
		klog.V(1).Infof("GoMLX backend: %s", b.Name())
		return b
	})

	// muNewExec serializes the creation and first execution of the executors.
	muNewExec sync.Mutex
)

// SetBackendConfig selects the GoMLX backend (and device) to use, e.g. "xla:cuda" or "xla:cpu".
// It must be called before the first model is created. An empty config keeps the default.
func SetBackendConfig(config string) error {
	if config == "" {
		return nil
	}
	if backendCreated.Load() {
		return errors.Errorf("GoMLX backend already created, can't change its configuration to %q", config)
	}
	if err := os.Setenv(backendConfigEnvVar, config); err != nil {
		return errors.Wrapf(err, "failed to set %s=%q", backendConfigEnvVar, config)
	}
	return nil
}

// initBackend creates the backend, converting a failure to an error.
func initBackend() error {
	return exceptions.TryCatch[error](func() { _ = backend() })
}

// extractParams and write them as context hyperparameters
func extractParams(modelName string, params parameters.Params, ctx *context.Context) error {
	var err error
	ctx.EnumerateParams(func(scope, key string, valueAny any) {
		if err != nil {
			// If error happened skip the rest.
			return
		}
		if scope != context.RootScope {
			return
		}
		switch defaultValue := valueAny.(type) {
		case string:
			value, _ := parameters.PopParamOr(params, key, defaultValue)
			ctx.SetParam(key, value)
		case int:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (int) for model %s", key, modelName)
				return
			}
			ctx.SetParam(key, value)
		case float64:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (float64) for model %s", key, modelName)
				return
			}
			ctx.SetParam(key, value)
		case bool:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (bool) for model %s", key, modelName)
				return
			}
			ctx.SetParam(key, value)
		default:
			err = errors.Errorf("model %s parameter %q is of unknown type %T", modelName, key, defaultValue)
		}
	})
	return err
}

// paddedSize returns a padded batch size for numRows.
// This is important so we don't have too many different versions of the program for every different batch size.
func paddedSize(numRows, defaultBatchSize int) int {
	if numRows == defaultBatchSize {
		return numRows
	}
	size := 1
	for size < numRows {
		// Increase 1.5x at a time.
		size = size + (size+1)/2
	}
	return size
}
