package classifier

import (
	"archive/zip"
	"bytes"
	"math"
	"math/rand/v2"
	"os"
	"path"
	"path/filepath"
	"slices"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/moodcam/pkg/emotion"
	"github.com/cyclopcam/moodcam/pkg/nn"
	"github.com/stretchr/testify/require"
)

func tinyConfig() *nn.ModelConfig {
	return &nn.ModelConfig{
		Architecture: "convnet",
		Width:        8,
		Height:       8,
		Channels:     []int{4, 6},
		Classes:      emotion.Categories,
	}
}

func randomPixels(rng *rand.Rand, n int) []float32 {
	p := make([]float32, n)
	for i := range p {
		p[i] = rng.Float32()*2 - 1
	}
	return p
}

func TestParameterNames(t *testing.T) {
	m, err := New(logs.NewTestingLog(t), tinyConfig(), 2, false)
	require.NoError(t, err)
	defer m.Close()
	names := []string{}
	for _, p := range m.Parameters() {
		names = append(names, p.Name)
	}
	require.Equal(t, []string{"backbone.conv0.w", "backbone.conv0.b", "backbone.conv1.w", "backbone.conv1.b", "head.w", "head.b"}, names)
	head, ok := m.Parameter("head.w")
	require.True(t, ok)
	require.Equal(t, []int{6, 8}, head.Shape)
	require.Equal(t, 4*3*9+4+6*4*9+6+6*8+8, m.NumParameters())
}

func TestInvalidConfig(t *testing.T) {
	cfg := tinyConfig()
	cfg.Channels = []int{4, 4, 4, 4}
	_, err := New(logs.NewTestingLog(t), cfg, 1, false)
	require.Error(t, err)
	_, err = New(logs.NewTestingLog(t), tinyConfig(), 0, false)
	require.Error(t, err)
}

func zeroParams(t *testing.T, m *Model) {
	for _, p := range m.Parameters() {
		require.NoError(t, m.SetParameter(p.Name, p.Shape, make([]float32, len(p.Value))))
	}
}

func TestUniformLoss(t *testing.T) {
	// With all parameters zero every logit is zero, so the loss is ln(8) regardless of
	// the labels, the smoothing, or the padding rows.
	m, err := New(logs.NewTestingLog(t), tinyConfig(), 4, true)
	require.NoError(t, err)
	defer m.Close()
	zeroParams(t, m)
	rng := rand.New(rand.NewPCG(1, 2))
	pixels := randomPixels(rng, 3*m.SampleSize())
	labels := []int{0, 3, 7}

	r, err := m.Evaluate(pixels, labels)
	require.NoError(t, err)
	require.InDelta(t, math.Log(8), r.Loss, 1e-4)
	require.Len(t, r.Predictions, 3)
	for _, c := range r.Confidence {
		require.InDelta(t, 0.125, c, 1e-5)
	}

	r, err = m.TrainStep(pixels, labels)
	require.NoError(t, err)
	require.InDelta(t, math.Log(8), r.Loss, 1e-4)
}

func TestPaddingDoesNotChangePredictions(t *testing.T) {
	m, err := New(logs.NewTestingLog(t), tinyConfig(), 4, false)
	require.NoError(t, err)
	defer m.Close()
	rng := rand.New(rand.NewPCG(3, 4))
	pixels := randomPixels(rng, 2*m.SampleSize())

	both, err := m.Evaluate(pixels, nil)
	require.NoError(t, err)
	bothProbs := m.Probabilities(2)
	one, err := m.Evaluate(pixels[m.SampleSize():], nil)
	require.NoError(t, err)
	oneProbs := m.Probabilities(1)
	require.Equal(t, both.Predictions[1], one.Predictions[0])
	require.InDeltaSlice(t, bothProbs[1], oneProbs[0], 1e-5)

	sum := float32(0)
	for _, p := range bothProbs[0] {
		sum += p
	}
	require.InDelta(t, 1.0, sum, 1e-4)

	_, err = m.Evaluate(randomPixels(rng, 5*m.SampleSize()), nil)
	require.Error(t, err)
	_, err = m.Evaluate(pixels[:10], nil)
	require.Error(t, err)
}

func TestGradientDescentReducesLoss(t *testing.T) {
	m, err := New(logs.NewTestingLog(t), tinyConfig(), 4, true)
	require.NoError(t, err)
	defer m.Close()
	rng := rand.New(rand.NewPCG(5, 6))
	pixels := randomPixels(rng, 4*m.SampleSize())
	labels := []int{1, 2, 4, 6}

	first, err := m.TrainStep(pixels, labels)
	require.NoError(t, err)
	last := first
	for step := 0; step < 30; step++ {
		for _, p := range m.Parameters() {
			require.NotNil(t, p.Grad)
			for i := range p.Value {
				p.Value[i] -= 0.05 * p.Grad[i]
			}
		}
		last, err = m.TrainStep(pixels, labels)
		require.NoError(t, err)
	}
	require.Less(t, last.Loss, first.Loss)
	require.NoError(t, m.CheckFinite())

	// The evaluation graph sees the updated parameters
	r, err := m.Evaluate(pixels, labels)
	require.NoError(t, err)
	require.InDelta(t, last.Loss, r.Loss, 1e-3)
}

// Central difference of the evaluation loss with respect to one parameter element
func numericGrad(t *testing.T, m *Model, pixels []float32, labels []int, name string, idx int) float64 {
	p, ok := m.Parameter(name)
	require.True(t, ok)
	const eps = 1e-2
	orig := p.Value[idx]
	p.Value[idx] = orig + eps
	plus, err := m.Evaluate(pixels, labels)
	require.NoError(t, err)
	p.Value[idx] = orig - eps
	minus, err := m.Evaluate(pixels, labels)
	require.NoError(t, err)
	p.Value[idx] = orig
	return (float64(plus.Loss) - float64(minus.Loss)) / (2 * eps)
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	m, err := New(logs.NewTestingLog(t), tinyConfig(), 4, true)
	require.NoError(t, err)
	defer m.Close()
	rng := rand.New(rand.NewPCG(11, 12))
	pixels := randomPixels(rng, 4*m.SampleSize())
	labels := []int{0, 3, 5, 7}

	checks := []struct {
		name string
		idx  int
	}{
		{"head.b", 0},
		{"head.b", 3},
		{"head.b", 7},
		{"head.w", 0},
		{"head.w", 13},
		{"backbone.conv1.b", 2},
	}

	// Gradients must be those of the current step only, so check several consecutive steps
	for step := 0; step < 4; step++ {
		_, err := m.TrainStep(pixels, labels)
		require.NoError(t, err)
		analytic := map[string][]float32{}
		for _, p := range m.Parameters() {
			analytic[p.Name] = slices.Clone(p.Grad)
		}
		for _, c := range checks {
			a := float64(analytic[c.name][c.idx])
			n := numericGrad(t, m, pixels, labels, c.name, c.idx)
			require.InDelta(t, n, a, 2e-3+0.1*math.Abs(n), "step %v %v[%v]", step, c.name, c.idx)
		}
		// Move the parameters so that every step sees a different point
		for _, p := range m.Parameters() {
			for i := range p.Value {
				p.Value[i] -= 0.05 * p.Grad[i]
			}
		}
	}
}

func TestRepeatedTrainStepGivesSameGradients(t *testing.T) {
	m, err := New(logs.NewTestingLog(t), tinyConfig(), 2, true)
	require.NoError(t, err)
	defer m.Close()
	rng := rand.New(rand.NewPCG(13, 14))
	pixels := randomPixels(rng, 2*m.SampleSize())
	labels := []int{2, 6}

	_, err = m.TrainStep(pixels, labels)
	require.NoError(t, err)
	first := map[string][]float32{}
	for _, p := range m.Parameters() {
		first[p.Name] = slices.Clone(p.Grad)
	}
	_, err = m.TrainStep(pixels, labels)
	require.NoError(t, err)
	for _, p := range m.Parameters() {
		require.InDeltaSlice(t, first[p.Name], p.Grad, 1e-6, p.Name)
	}
}

func TestSnapshotRestore(t *testing.T) {
	a, err := New(logs.NewTestingLog(t), tinyConfig(), 1, false)
	require.NoError(t, err)
	defer a.Close()
	b, err := New(logs.NewTestingLog(t), tinyConfig(), 1, false)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Restore(a.Snapshot()))
	require.Equal(t, a.Snapshot(), b.Snapshot())

	snap := a.Snapshot()
	require.Error(t, b.Restore(snap[1:]))
	snap[0].Shape = []int{1, 2, 3}
	require.Error(t, b.Restore(snap))
}

func TestNpyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	data := []float32{1, -2.5, 3e-7, float32(math.Inf(1)), 0, 6}
	require.NoError(t, EncodeNpy(&buf, []int{2, 3}, data))
	shape, decoded, err := DecodeNpy(&buf)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, shape)
	require.Equal(t, data, decoded)

	_, _, err = DecodeNpy(bytes.NewReader([]byte("garbage")))
	require.Error(t, err)
}

func writeArchive(t *testing.T, filename string, tensors []Tensor) {
	f, err := os.Create(filename)
	require.NoError(t, err)
	defer f.Close()
	zw := zip.NewWriter(f)
	for _, tn := range tensors {
		w, err := zw.Create(path.Join(ArchiveParamDir, tn.Name+".npy"))
		require.NoError(t, err)
		require.NoError(t, EncodeNpy(w, tn.Shape, tn.Data))
	}
	require.NoError(t, zw.Close())
}

func TestLoadBackbone(t *testing.T) {
	log := logs.NewTestingLog(t)
	src, err := New(log, tinyConfig(), 1, false)
	require.NoError(t, err)
	defer src.Close()
	dst, err := New(log, tinyConfig(), 1, true)
	require.NoError(t, err)
	defer dst.Close()

	fn := filepath.Join(t.TempDir(), "backbone.zip")
	writeArchive(t, fn, src.Snapshot())

	headBefore, _ := dst.Parameter("head.w")
	headBefore.Value = append([]float32(nil), headBefore.Value...)
	require.NoError(t, dst.LoadBackbone(fn))

	for _, p := range dst.Parameters() {
		want, _ := src.Parameter(p.Name)
		if IsBackbone(p.Name) {
			require.Equal(t, want.Value, p.Value, p.Name)
		}
	}
	headAfter, _ := dst.Parameter("head.w")
	require.Equal(t, headBefore.Value, headAfter.Value)

	// Missing a backbone tensor
	writeArchive(t, fn, src.Snapshot()[1:])
	require.Error(t, dst.LoadBackbone(fn))

	// Different architecture
	other := tinyConfig()
	other.Channels = []int{5, 6}
	om, err := New(log, other, 1, false)
	require.NoError(t, err)
	defer om.Close()
	writeArchive(t, fn, om.Snapshot())
	require.Error(t, dst.LoadBackbone(fn))

	require.Error(t, dst.LoadBackbone(filepath.Join(t.TempDir(), "missing.zip")))
}

func TestPredictor(t *testing.T) {
	log := logs.NewTestingLog(t)
	m, err := New(log, tinyConfig(), 3, false)
	require.NoError(t, err)
	defer m.Close()

	p, err := NewPredictor(log, tinyConfig(), m.Snapshot())
	require.NoError(t, err)
	defer p.Close()

	rng := rand.New(rand.NewPCG(7, 8))
	pixels := randomPixels(rng, m.SampleSize())
	pred, err := p.Predict(pixels)
	require.NoError(t, err)
	require.Equal(t, emotion.Categories[pred.Class], pred.Label)

	batch, err := m.Evaluate(pixels, nil)
	require.NoError(t, err)
	require.Equal(t, batch.Predictions[0], pred.Class)
	require.InDelta(t, batch.Confidence[0], pred.Probability, 1e-5)

	probs, err := p.Probabilities(pixels)
	require.NoError(t, err)
	require.Len(t, probs, emotion.NumClasses)

	_, err = p.Predict(pixels[1:])
	require.Error(t, err)
}
