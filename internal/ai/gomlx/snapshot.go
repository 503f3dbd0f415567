package gomlx

import (
	"bytes"
	"encoding/gob"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"slices"
)

// VariableValues holds a copy of one float32 variable.
type VariableValues struct {
	Dims []int
	Flat []float32
}

// Snapshot is a host copy of the trainable float32 variables of a context, keyed by "<scope>/<name>".
// It is the ai.State of the GoMLX models, and it can be serialized with gob.
type Snapshot map[string]VariableValues

func variableKey(v *context.Variable) string {
	return v.Scope() + "/" + v.Name()
}

// takeSnapshot copies the trainable float32 variables of ctx.
func takeSnapshot(ctx *context.Context) (snapshot Snapshot, err error) {
	snapshot = make(Snapshot)
	err = exceptions.TryCatch[error](func() {
		ctx.EnumerateVariables(func(v *context.Variable) {
			if !v.Trainable || v.Shape().DType != dtypes.Float32 {
				return
			}
			value := v.Value()
			snapshot[variableKey(v)] = VariableValues{
				Dims: slices.Clone(value.Shape().Dimensions),
				Flat: tensors.CopyFlatData[float32](value),
			}
		})
	})
	return
}

// restoreSnapshot sets the values of the trainable variables of ctx. All of them must exist already, and
// be present in the snapshot with the same shape.
func restoreSnapshot(ctx *context.Context, snapshot Snapshot) error {
	var err error
	count := 0
	tryErr := exceptions.TryCatch[error](func() {
		ctx.EnumerateVariables(func(v *context.Variable) {
			if err != nil || !v.Trainable || v.Shape().DType != dtypes.Float32 {
				return
			}
			key := variableKey(v)
			values, found := snapshot[key]
			if !found {
				err = errors.Errorf("variable %q missing from snapshot", key)
				return
			}
			if !slices.Equal(values.Dims, v.Shape().Dimensions) {
				err = errors.Errorf("variable %q has shape %v, but snapshot has dimensions %v", key, v.Shape(), values.Dims)
				return
			}
			v.SetValue(tensors.FromFlatDataAndDimensions(slices.Clone(values.Flat), values.Dims...))
			count++
		})
	})
	if tryErr != nil {
		return tryErr
	}
	if err != nil {
		return err
	}
	if count != len(snapshot) {
		return errors.Errorf("snapshot has %d variables, but only %d matched the model", len(snapshot), count)
	}
	return nil
}

// trainableValues returns the flat values of the trainable float32 variables, in enumeration order.
func trainableValues(ctx *context.Context) [][]float32 {
	var params [][]float32
	ctx.EnumerateVariables(func(v *context.Variable) {
		if !v.Trainable || v.Shape().DType != dtypes.Float32 {
			return
		}
		params = append(params, tensors.CopyFlatData[float32](v.Value()))
	})
	return params
}

// Encode the snapshot with gob.
func (s Snapshot) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, errors.Wrap(err, "failed to encode GoMLX snapshot")
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot is the inverse of Snapshot.Encode.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "failed to decode GoMLX snapshot")
	}
	return s, nil
}
