package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDimension(t *testing.T) {
	for _, d := range Dimensions {
		got, err := ParseDimension(string(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}

	_, err := ParseDimension("colour")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colour")
}

func TestPersonCounters_IsZero(t *testing.T) {
	assert.True(t, PersonCounters{}.IsZero())
	assert.False(t, PersonCounters{Mentioned: 1}.IsZero())
}
