package models

import (
	"github.com/janpfeifer/activeGo/internal/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestNew(t *testing.T) {
	spec := features.Spec{Kind: features.KindBagOfTokens, Dim: 10, PadValue: 9}
	model, err := New("", spec, 2)
	require.NoError(t, err)
	assert.Contains(t, model.String(), "linear")

	model, err = New("linear:learning_rate=0.1,l2=0", spec, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, model.NumClasses())

	_, err = New("linear:unknown_param=1", spec, 3)
	assert.Error(t, err)
	_, err = New("svm", spec, 3)
	assert.Error(t, err)
	assert.Equal(t, []string{"fnn", "linear"}, Names())
}
