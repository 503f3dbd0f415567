package parameters

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestSplitModuleConfig(t *testing.T) {
	name, params := SplitModuleConfig("linear:learning_rate=0.5,l2=1e-4,verbose")
	assert.Equal(t, "linear", name)
	assert.Equal(t, Params{"learning_rate": "0.5", "l2": "1e-4", "verbose": ""}, params)
	assert.Equal(t, "l2=1e-4,learning_rate=0.5,verbose", params.String())

	name, params = SplitModuleConfig("random")
	assert.Equal(t, "random", name)
	assert.Len(t, params, 0)
}

func TestPopParamOr(t *testing.T) {
	params := NewFromConfigString("epochs=7,lr=0.25,seed=42,warm,name=x=y")
	epochs, err := PopParamOr(params, "epochs", 1)
	require.NoError(t, err)
	assert.Equal(t, 7, epochs)

	lr, err := PopParamOr(params, "lr", float32(0.1))
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), lr)

	seed, err := PopParamOr(params, "seed", uint64(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seed)

	warm, err := PopParamOr(params, "warm", false)
	require.NoError(t, err)
	assert.True(t, warm)

	missing, err := PopParamOr(params, "missing", 3.5)
	require.NoError(t, err)
	assert.Equal(t, 3.5, missing)

	require.Error(t, CheckAllConsumed(params, "test"))
	name, err := PopParamOr(params, "name", "")
	require.NoError(t, err)
	assert.Equal(t, "x=y", name)
	require.NoError(t, CheckAllConsumed(params, "test"))
}

func TestGetParamOrErrors(t *testing.T) {
	params := NewFromConfigString("epochs=seven,flag=maybe")
	_, err := GetParamOr(params, "epochs", 1)
	require.Error(t, err)
	_, err = GetParamOr(params, "flag", false)
	require.Error(t, err)
}
