package lossfilter

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroProbabilityNeverDrops(t *testing.T) {
	f := New(0, 0, rand.New(rand.NewSource(1)))
	for i := 0; i < 1000; i++ {
		require.False(t, f.DropForward())
		require.False(t, f.DropReverse())
	}
}

func TestFullProbabilityAlwaysDrops(t *testing.T) {
	f := New(1, 1, rand.New(rand.NewSource(1)))
	for i := 0; i < 1000; i++ {
		require.True(t, f.DropForward())
		require.True(t, f.DropReverse())
	}
}

func TestIndependentForwardReverseRates(t *testing.T) {
	f := New(1, 0, rand.New(rand.NewSource(42)))
	for i := 0; i < 1000; i++ {
		require.True(t, f.DropForward())
		require.False(t, f.DropReverse())
	}
}

func TestDefaultSourceWhenNil(t *testing.T) {
	f := New(0, 0, nil)
	require.False(t, f.DropForward())
}
