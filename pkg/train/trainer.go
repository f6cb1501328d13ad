// Package train runs the epoch loop: training, validation, learning rate scheduling,
// metric reporting and checkpointing.
package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/moodcam/pkg/classifier"
	"github.com/cyclopcam/moodcam/pkg/emotion"
	"github.com/cyclopcam/moodcam/pkg/loader"
	"github.com/cyclopcam/moodcam/pkg/nn"
	"github.com/cyclopcam/moodcam/pkg/stats"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
)

// Checkpoint file names inside the checkpoint directory
const (
	LastCheckpoint = "last.pt"
	BestCheckpoint = "best.pt"
)

// Model is the subset of classifier.Model that the training loop needs
type Model interface {
	TrainStep(pixels []float32, labels []int) (classifier.StepResult, error)
	Evaluate(pixels []float32, labels []int) (classifier.StepResult, error)
	Parameters() []classifier.Param
	Snapshot() []classifier.Tensor
	Restore(tensors []classifier.Tensor) error
}

// Reporter receives per-epoch metrics
type Reporter interface {
	AddScalar(tag string, step int, value float64) error
	AddConfusionMatrix(step int, matrix [][]int, categories []string) error
}

type Options struct {
	Epochs        int
	LearningRate  float64
	CheckpointDir string
	Resume        string // Checkpoint to resume from, or empty
	ModelConfig   nn.ModelConfig
	Progress      io.Writer // Progress bar output, or nil for none
}

type Trainer struct {
	log      logs.Log
	opt      Options
	model    Model
	trainSet *loader.Loader
	valSet   *loader.Loader
	reporter Reporter
}

func NewTrainer(log logs.Log, opt Options, model Model, trainSet, valSet *loader.Loader, reporter Reporter) *Trainer {
	return &Trainer{
		log:      log,
		opt:      opt,
		model:    model,
		trainSet: trainSet,
		valSet:   valSet,
		reporter: reporter,
	}
}

// Resume restores the model and returns the state saved in a checkpoint.
// If no resume file was configured, it returns a fresh state.
func (t *Trainer) Resume() (State, error) {
	if t.opt.Resume == "" {
		return NewState(t.opt.LearningRate), nil
	}
	ck, err := LoadCheckpoint(t.opt.Resume)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, fmt.Errorf("Resume checkpoint %v does not exist", t.opt.Resume)
		}
		return State{}, err
	}
	if err := emotion.VerifyCategories(ck.Categories); err != nil {
		return State{}, fmt.Errorf("Resume checkpoint %v: %w", t.opt.Resume, err)
	}
	if err := t.model.Restore(ck.Params); err != nil {
		return State{}, fmt.Errorf("Resume checkpoint %v: %w", t.opt.Resume, err)
	}
	state := State{
		Epoch:        ck.Epoch,
		BestAccuracy: ck.BestAccuracy,
		Optimizer:    ck.Optimizer,
		Scheduler:    ck.Scheduler,
	}
	if state.Optimizer == nil {
		state.Optimizer = NewAdam(t.opt.LearningRate)
	}
	if state.Scheduler == nil {
		state.Scheduler = NewPlateauScheduler()
	}
	t.log.Infof("Resumed from %v at epoch %v (best accuracy %.4f, lr %g)", t.opt.Resume, ck.Epoch, ck.BestAccuracy, state.Optimizer.LR)
	return state, nil
}

// Run trains from the epoch after state.Epoch up to opt.Epochs
func (t *Trainer) Run(ctx context.Context) (State, error) {
	state, err := t.Resume()
	if err != nil {
		return state, err
	}
	if err := os.MkdirAll(t.opt.CheckpointDir, 0755); err != nil {
		return state, err
	}
	start := state.Epoch + 1
	t.trainSet.SetEpoch(start)
	for epoch := start; epoch < t.opt.Epochs; epoch++ {
		var res EpochResult
		state, res, err = t.RunEpoch(ctx, state, epoch)
		if err != nil {
			return state, err
		}
		t.log.Infof("[Epoch %v] Train Acc: %.4f | Val Acc: %.4f | Val Loss: %.4f", epoch, res.TrainAccuracy, res.ValAccuracy, res.ValLoss)
		if res.LRReduced {
			t.log.Infof("Reducing learning rate to %g", res.LearningRate)
		}
	}
	return state, nil
}

// RunEpoch trains and validates for one epoch, and writes checkpoints.
// The returned state is the input for the next epoch.
func (t *Trainer) RunEpoch(ctx context.Context, state State, epoch int) (State, EpochResult, error) {
	res := EpochResult{Epoch: epoch}
	start := time.Now()

	// Train
	bar := t.newBar(t.trainSet.NumBatches(), fmt.Sprintf("Epoch %v/%v", epoch, t.opt.Epochs))
	it := t.trainSet.Epoch(ctx)
	correct, seen := 0, 0
	lossSum, nBatches := 0.0, 0
	for {
		if err := ctx.Err(); err != nil {
			it.Close()
			return state, res, err
		}
		batch, err := it.Next()
		if loader.IsEOF(err) {
			break
		} else if err != nil {
			it.Close()
			return state, res, err
		}
		r, err := t.model.TrainStep(batch.Pixels, batch.Labels)
		if err != nil {
			it.Close()
			return state, res, err
		}
		if !stats.IsFinite(r.Loss) {
			it.Close()
			return state, res, fmt.Errorf("Training loss is %v at epoch %v batch %v", r.Loss, epoch, nBatches)
		}
		if err := state.Optimizer.Step(t.model.Parameters()); err != nil {
			it.Close()
			return state, res, err
		}
		for i, p := range r.Predictions {
			if p == batch.Labels[i] {
				correct++
			}
		}
		seen += batch.N
		lossSum += float64(r.Loss)
		nBatches++
		bar.Describe(fmt.Sprintf("Epoch %v/%v loss=%.4f", epoch, t.opt.Epochs, r.Loss))
		bar.Add(1)
	}
	it.Close()
	bar.Finish()
	if seen != 0 {
		res.TrainAccuracy = float64(correct) / float64(seen)
		res.TrainLoss = lossSum / float64(nBatches)
	}

	// Validate
	preds, labels, valLoss, err := t.validate(ctx)
	if err != nil {
		return state, res, err
	}
	res.ValAccuracy = Accuracy(preds, labels)
	res.ValLoss = valLoss
	if res.Confusion, err = ConfusionMatrix(preds, labels, emotion.NumClasses); err != nil {
		return state, res, err
	}

	state.Optimizer.LR, res.LRReduced = state.Scheduler.Step(valLoss, state.Optimizer.LR)
	res.LearningRate = state.Optimizer.LR

	if err := t.report(epoch, &res); err != nil {
		return state, res, err
	}

	// Checkpoint
	state.Epoch = epoch
	if IsNewBest(res.ValAccuracy, state.BestAccuracy) {
		state.BestAccuracy = res.ValAccuracy
		res.NewBest = true
	}
	ck := &Checkpoint{
		Epoch:        epoch,
		BestAccuracy: state.BestAccuracy,
		Categories:   emotion.Categories,
		ModelConfig:  t.opt.ModelConfig,
		Params:       t.model.Snapshot(),
		Optimizer:    state.Optimizer,
		Scheduler:    state.Scheduler,
	}
	lastFile := filepath.Join(t.opt.CheckpointDir, LastCheckpoint)
	if err := SaveCheckpoint(lastFile, ck); err != nil {
		return state, res, err
	}
	if res.NewBest {
		if err := SaveCheckpoint(filepath.Join(t.opt.CheckpointDir, BestCheckpoint), ck); err != nil {
			return state, res, err
		}
		t.log.Infof("New best validation accuracy %.4f", res.ValAccuracy)
	}
	if st, err := os.Stat(lastFile); err == nil {
		t.log.Debugf("Epoch %v took %v, checkpoint is %v", epoch, time.Since(start).Round(time.Millisecond), humanize.Bytes(uint64(st.Size())))
	}
	return state, res, nil
}

// Run the validation set through the model without gradients.
// Returns pooled predictions and labels, and the mean of the per-batch losses.
func (t *Trainer) validate(ctx context.Context) ([]int, []int, float64, error) {
	it := t.valSet.Epoch(ctx)
	defer it.Close()
	preds := []int{}
	labels := []int{}
	losses := []float32{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, 0, err
		}
		batch, err := it.Next()
		if loader.IsEOF(err) {
			break
		} else if err != nil {
			return nil, nil, 0, err
		}
		r, err := t.model.Evaluate(batch.Pixels, batch.Labels)
		if err != nil {
			return nil, nil, 0, err
		}
		preds = append(preds, r.Predictions...)
		labels = append(labels, batch.Labels...)
		losses = append(losses, r.Loss)
	}
	return preds, labels, stats.Mean(losses), nil
}

func (t *Trainer) report(epoch int, res *EpochResult) error {
	if t.reporter == nil {
		return nil
	}
	scalars := []struct {
		tag   string
		value float64
	}{
		{"Train/Accuracy", res.TrainAccuracy},
		{"Train/Loss", res.TrainLoss},
		{"Val/Accuracy", res.ValAccuracy},
		{"Val/Loss", res.ValLoss},
		{"LearningRate", res.LearningRate},
	}
	for _, s := range scalars {
		if err := t.reporter.AddScalar(s.tag, epoch, s.value); err != nil {
			return err
		}
	}
	return t.reporter.AddConfusionMatrix(epoch, res.Confusion, emotion.Categories)
}

func (t *Trainer) newBar(max int, desc string) *progressbar.ProgressBar {
	w := t.opt.Progress
	if w == nil {
		w = io.Discard
	}
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
	)
}
