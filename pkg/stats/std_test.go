package stats

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/require"
)

func TestMean(t *testing.T) {
	require.Equal(t, 5.0, Mean([]int{2, 4, 4, 4, 5, 5, 7, 9}))

	require.Equal(t, 0.0, Mean([]float32{}))
	require.InDelta(t, 0.25, Mean([]float32{0.5, 0}), 1e-9)
}

func TestArgmax(t *testing.T) {
	require.Equal(t, -1, Argmax([]float32{}))
	require.Equal(t, 2, Argmax([]float32{0.1, 0.2, 0.7}))
	require.Equal(t, 0, Argmax([]int{3, 3, 1}))
	require.Equal(t, 1, Argmax([]string{"a", "c", "b"}))
}

func TestFinite(t *testing.T) {
	require.True(t, IsFinite(1))
	require.False(t, IsFinite(math32.NaN()))
	require.False(t, IsFinite(math32.Inf(-1)))
	require.Equal(t, -1, FirstNonFinite([]float32{1, 2, 3}))
	require.Equal(t, 1, FirstNonFinite([]float32{1, math32.Inf(1), math32.NaN()}))
}
