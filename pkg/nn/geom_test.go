package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIOU(t *testing.T) {
	a := RectFromCorners(0, 0, 100, 100)
	require.Equal(t, float32(1), a.IOU(a))
	require.Equal(t, float32(0), a.IOU(RectFromCorners(200, 200, 220, 220)))
	// Touching edges do not overlap
	require.Equal(t, float32(0), a.IOU(RectFromCorners(100, 0, 200, 100)))
	// Half overlap: intersection 50*100, union 150*100
	require.InDelta(t, 1.0/3.0, a.IOU(RectFromCorners(50, 0, 150, 100)), 1e-6)
	// Degenerate boxes
	require.Equal(t, float32(0), Rect{}.IOU(Rect{}))
}

func TestRectOps(t *testing.T) {
	a := RectFromCorners(10, 20, 30, 60)
	require.Equal(t, 30, a.X2())
	require.Equal(t, 60, a.Y2())
	require.Equal(t, 800, a.Area())
	b := RectFromCorners(20, 0, 50, 30)
	require.Equal(t, RectFromCorners(20, 20, 30, 30), a.Intersection(b))
	require.Equal(t, RectFromCorners(10, 0, 50, 60), a.Union(b))
	require.True(t, a.Intersection(RectFromCorners(100, 100, 110, 110)).Empty())
	a.Offset(5, -5)
	require.Equal(t, RectFromCorners(15, 15, 35, 55), a)
}
