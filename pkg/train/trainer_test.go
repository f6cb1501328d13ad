package train

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/moodcam/pkg/classifier"
	"github.com/cyclopcam/moodcam/pkg/dataset"
	"github.com/cyclopcam/moodcam/pkg/loader"
	"github.com/stretchr/testify/require"
)

// Every sample has label i%8 and a single pixel holding its index
type fakeSource struct {
	n int
}

func (f *fakeSource) Len() int { return f.n }

func (f *fakeSource) Get(i int) (dataset.Sample, error) {
	return dataset.Sample{Pixels: []float32{float32(i)}, Label: i % 8}, nil
}

// fakeModel predicts the correct label for the first nCorrect validation samples of an
// epoch, and a wrong label for the rest.
type fakeModel struct {
	w         []float32
	grad      []float32
	nCorrect  int
	evalSeen  int
	trainRuns int
	valLoss   float32
}

func newFakeModel() *fakeModel {
	return &fakeModel{
		w:       []float32{1, 2, 3},
		grad:    []float32{0.1, -0.1, 0.2},
		valLoss: 1,
	}
}

func (f *fakeModel) TrainStep(pixels []float32, labels []int) (classifier.StepResult, error) {
	f.trainRuns++
	return classifier.StepResult{Loss: 0.5, Predictions: slices.Clone(labels)}, nil
}

func (f *fakeModel) Evaluate(pixels []float32, labels []int) (classifier.StepResult, error) {
	r := classifier.StepResult{Loss: f.valLoss}
	for _, l := range labels {
		if f.evalSeen < f.nCorrect {
			r.Predictions = append(r.Predictions, l)
		} else {
			r.Predictions = append(r.Predictions, (l+1)%8)
		}
		f.evalSeen++
	}
	return r, nil
}

func (f *fakeModel) Parameters() []classifier.Param {
	return []classifier.Param{{Name: "w", Shape: []int{3}, Value: f.w, Grad: f.grad}}
}

func (f *fakeModel) Snapshot() []classifier.Tensor {
	return []classifier.Tensor{{Name: "w", Shape: []int{3}, Data: slices.Clone(f.w)}}
}

func (f *fakeModel) Restore(tensors []classifier.Tensor) error {
	if len(tensors) != 1 || tensors[0].Name != "w" {
		return errors.New("bad tensors")
	}
	copy(f.w, tensors[0].Data)
	return nil
}

type fakeReporter struct {
	scalars map[string][]float64
	nMatrix int
}

func (r *fakeReporter) AddScalar(tag string, step int, value float64) error {
	r.scalars[tag] = append(r.scalars[tag], value)
	return nil
}

func (r *fakeReporter) AddConfusionMatrix(step int, matrix [][]int, categories []string) error {
	r.nMatrix++
	return nil
}

func newTestTrainer(t *testing.T, dir string, model Model, epochs int, resume string, reporter Reporter) *Trainer {
	trainSet, err := loader.New(&fakeSource{n: 30}, loader.Options{BatchSize: 8, Workers: 2, Shuffle: true, Seed: 1})
	require.NoError(t, err)
	valSet, err := loader.New(&fakeSource{n: 100}, loader.Options{BatchSize: 10, Workers: 2})
	require.NoError(t, err)
	opt := Options{
		Epochs:        epochs,
		LearningRate:  1e-3,
		CheckpointDir: dir,
		Resume:        resume,
		ModelConfig:   testModelConfig(),
	}
	return NewTrainer(logs.NewTestingLog(t), opt, model, trainSet, valSet, reporter)
}

func TestBestCheckpointUpdates(t *testing.T) {
	dir := t.TempDir()
	model := newFakeModel()
	rep := &fakeReporter{scalars: map[string][]float64{}}
	tr := newTestTrainer(t, dir, model, 5, "", rep)

	state, err := tr.Resume()
	require.NoError(t, err)
	bestEpochs := []int{}
	for epoch, nCorrect := range []int{60, 65, 63, 70, 70} {
		model.nCorrect = nCorrect
		model.evalSeen = 0
		var res EpochResult
		state, res, err = tr.RunEpoch(context.Background(), state, epoch)
		require.NoError(t, err)
		require.Equal(t, float64(nCorrect)/100, res.ValAccuracy)
		require.Equal(t, 1.0, res.TrainAccuracy)
		if res.NewBest {
			bestEpochs = append(bestEpochs, epoch)
		}
		best, err := LoadCheckpoint(filepath.Join(dir, BestCheckpoint))
		require.NoError(t, err)
		require.Equal(t, bestEpochs[len(bestEpochs)-1], best.Epoch)
		last, err := LoadCheckpoint(filepath.Join(dir, LastCheckpoint))
		require.NoError(t, err)
		require.Equal(t, epoch, last.Epoch)
	}
	require.Equal(t, []int{0, 1, 3}, bestEpochs)
	require.Equal(t, 0.70, state.BestAccuracy)
	require.Equal(t, 4, state.Epoch)
	require.Equal(t, 5*4, model.trainRuns) // 30 samples in batches of 8
	require.Equal(t, 20, state.Optimizer.Steps)

	require.Len(t, rep.scalars["Val/Accuracy"], 5)
	require.Equal(t, []float64{1, 1, 1, 1, 1}, rep.scalars["Val/Loss"])
	require.Equal(t, 5, rep.nMatrix)
}

func TestResume(t *testing.T) {
	dir := t.TempDir()
	first := newFakeModel()
	first.nCorrect = 50
	state, err := newTestTrainer(t, dir, first, 2, "", nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, state.Epoch)
	saved := slices.Clone(first.w)

	// A fresh model resumes from last.pt, at the next epoch
	second := newFakeModel()
	tr := newTestTrainer(t, dir, second, 3, filepath.Join(dir, LastCheckpoint), nil)
	resumed, err := tr.Resume()
	require.NoError(t, err)
	require.Equal(t, 1, resumed.Epoch)
	require.Equal(t, 0.5, resumed.BestAccuracy)
	require.Equal(t, saved, second.w)
	require.Equal(t, state.Optimizer.Steps, resumed.Optimizer.Steps)
	require.Equal(t, state.Optimizer.M, resumed.Optimizer.M)
	require.Equal(t, *state.Scheduler, *resumed.Scheduler)

	state, err = tr.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, state.Epoch)
	require.Equal(t, 4, second.trainRuns)
}

func TestResumeMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := newTestTrainer(t, dir, newFakeModel(), 2, filepath.Join(dir, "missing.pt"), nil).Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing.pt")
}

func TestCancelledRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestTrainer(t, dir, newFakeModel(), 2, "", nil).Run(ctx)
	require.True(t, errors.Is(err, context.Canceled))
	_, err = os.Stat(filepath.Join(dir, LastCheckpoint))
	require.True(t, errors.Is(err, os.ErrNotExist))
}

// Train a real, tiny classifier for a few epochs on a synthetic dataset.
func TestTrainTinyClassifier(t *testing.T) {
	dir := t.TempDir()
	cfg := testModelConfig()
	model, err := classifier.New(logs.NewTestingLog(t), &cfg, 4, true)
	require.NoError(t, err)
	defer model.Close()

	src := &patternSource{n: 16, size: model.SampleSize()}
	trainSet, err := loader.New(src, loader.Options{BatchSize: 4, Workers: 2, Shuffle: true})
	require.NoError(t, err)
	valSet, err := loader.New(src, loader.Options{BatchSize: 4, Workers: 2})
	require.NoError(t, err)
	opt := Options{
		Epochs:        3,
		LearningRate:  1e-2,
		CheckpointDir: dir,
		ModelConfig:   cfg,
	}
	tr := NewTrainer(logs.NewTestingLog(t), opt, model, trainSet, valSet, nil)
	state, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, state.Epoch)
	require.Equal(t, 12, state.Optimizer.Steps)
	require.NoError(t, model.CheckFinite())

	p, ck, err := LoadPredictor(logs.NewTestingLog(t), filepath.Join(dir, LastCheckpoint))
	require.NoError(t, err)
	defer p.Close()
	require.Equal(t, 2, ck.Epoch)
	pix, _ := src.Get(0)
	_, err = p.Predict(pix.Pixels)
	require.NoError(t, err)
}

// Each class gets a constant image with a distinct brightness
type patternSource struct {
	n    int
	size int
}

func (p *patternSource) Len() int { return p.n }

func (p *patternSource) Get(i int) (dataset.Sample, error) {
	label := i % 8
	pix := make([]float32, p.size)
	for j := range pix {
		pix[j] = float32(label)/4 - 1
	}
	return dataset.Sample{Pixels: pix, Label: label}, nil
}
