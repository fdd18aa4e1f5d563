package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEWMA_FirstObservationSetsValue(t *testing.T) {
	e := NewEWMA(0.5)
	e.Observe(10)
	require.Equal(t, float64(10), e.Value())
}

func TestEWMA_SubsequentObservationsBlendTowardSample(t *testing.T) {
	e := NewEWMA(0.5)
	e.Observe(10)
	e.Observe(20)
	require.Equal(t, float64(15), e.Value())
}

func TestEWMA_ZeroValueBeforeAnyObservation(t *testing.T) {
	e := NewEWMA(0.2)
	require.Equal(t, float64(0), e.Value())
}
