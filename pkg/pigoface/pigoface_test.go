package pigoface

import (
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/moodcam/pkg/nn"
	pigo "github.com/esimov/pigo/core"
	"github.com/stretchr/testify/require"
)

func TestToObjectDetections(t *testing.T) {
	pixels := make([]byte, 200*100*3)
	img := nn.WholeImage(3, pixels, 200, 100)
	dets := []pigo.Detection{
		{Row: 50, Col: 50, Scale: 40, Q: 5},   // confidence 0.5
		{Row: 50, Col: 150, Scale: 40, Q: 15}, // confidence 0.75
		{Row: 10, Col: 190, Scale: 40, Q: 20}, // clipped by the image edge
		{Row: 50, Col: 100, Scale: 40, Q: 1},  // below threshold
		{Row: 50, Col: 100, Scale: 40, Q: -3}, // rejected by the cascade
	}
	out := ToObjectDetections(dets, img, 5, 0.5)
	require.Len(t, out, 3)
	require.Equal(t, float32(0.8), out[0].Confidence)
	require.Equal(t, nn.RectFromCorners(170, 0, 200, 30), out[0].Box)
	require.Equal(t, float32(0.75), out[1].Confidence)
	require.Equal(t, nn.RectFromCorners(130, 30, 170, 70), out[1].Box)
	require.Equal(t, nn.RectFromCorners(30, 30, 70, 70), out[2].Box)

	// Boxes from a crop are reported in frame coordinates
	crop := img.Crop(100, 0, 200, 100)
	out = ToObjectDetections([]pigo.Detection{{Row: 50, Col: 50, Scale: 40, Q: 10}}, crop, 5, 0.5)
	require.Equal(t, nn.RectFromCorners(130, 30, 170, 70), out[0].Box)
}

func TestGrayscale(t *testing.T) {
	pixels := []byte{
		255, 255, 255, 0, 0, 0,
		255, 0, 0, 0, 0, 255,
	}
	img := nn.WholeImage(3, pixels, 2, 2)
	gray := Grayscale(img)
	require.Equal(t, []uint8{255, 0, 76, 28}, gray)
	require.Equal(t, []uint8{0, 28}, Grayscale(img.Crop(1, 0, 2, 2)))
}

func TestMissingCascade(t *testing.T) {
	_, err := New(logs.NewTestingLog(t), filepath.Join(t.TempDir(), "facefinder"), DefaultConfig())
	require.Error(t, err)
}
