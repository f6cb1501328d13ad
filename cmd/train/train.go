package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/moodcam/pkg/classifier"
	"github.com/cyclopcam/moodcam/pkg/config"
	"github.com/cyclopcam/moodcam/pkg/dataset"
	"github.com/cyclopcam/moodcam/pkg/emotion"
	"github.com/cyclopcam/moodcam/pkg/loader"
	"github.com/cyclopcam/moodcam/pkg/nn"
	"github.com/cyclopcam/moodcam/pkg/runlog"
	"github.com/cyclopcam/moodcam/pkg/train"
)

func main() {
	// The config file provides the defaults of all the other flags
	cfg, err := config.LoadConfig(config.PeekFlag(os.Args, "config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	d := cfg.Train

	parser := argparse.NewParser("train", "Train the facial emotion classifier")
	parser.String("", "config", &argparse.Options{Help: "JSON configuration file", Default: ""})
	dataPath := parser.String("d", "data-path", &argparse.Options{Help: "Dataset root, containing train/ and valid/", Default: d.DataPath})
	epochs := parser.Int("e", "epochs", &argparse.Options{Help: "Number of epochs", Default: d.Epochs})
	batchSize := parser.Int("b", "batch-size", &argparse.Options{Help: "Batch size", Default: d.BatchSize})
	imageSize := parser.Int("i", "image-size", &argparse.Options{Help: "Classifier input width and height", Default: d.ImageSize})
	lr := parser.Float("l", "lr", &argparse.Options{Help: "Initial learning rate", Default: d.LearningRate})
	workers := parser.Int("w", "workers", &argparse.Options{Help: "Number of parallel image loaders", Default: d.Workers})
	logPath := parser.String("", "log-path", &argparse.Options{Help: "Metric log directory (erased at start)", Default: d.LogPath})
	checkpointPath := parser.String("c", "checkpoint-path", &argparse.Options{Help: "Directory for last.pt and best.pt", Default: d.CheckpointPath})
	resume := parser.String("r", "resume", &argparse.Options{Help: "Checkpoint to resume from", Default: ""})
	backbone := parser.String("", "backbone", &argparse.Options{Help: "Pretrained backbone weights", Default: d.Backbone})
	channels := parser.String("", "channels", &argparse.Options{Help: "Comma-separated output channels of each backbone block", Default: config.FormatInts(d.Channels)})
	modelConfigFile := parser.String("", "model-config", &argparse.Options{Help: "Architecture JSON (overrides image-size and channels)", Default: d.ModelConfig})
	seed := parser.Int("", "seed", &argparse.Options{Help: "Shuffle seed", Default: int(d.Seed)})
	err = parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Error creating logger: %v\n", err)
		os.Exit(1)
	}

	chans, err := config.ParseInts(*channels)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	modelConfig := nn.ModelConfig{
		Architecture: "convnet",
		Width:        *imageSize,
		Height:       *imageSize,
		Channels:     chans,
		Classes:      emotion.Categories,
	}
	if *modelConfigFile != "" {
		loaded, err := nn.LoadModelConfig(*modelConfigFile)
		if err != nil {
			logger.Errorf("Failed to load model config %v: %v", *modelConfigFile, err)
			os.Exit(1)
		}
		if err := emotion.VerifyCategories(loaded.Classes); err != nil {
			logger.Errorf("Model config %v: %v", *modelConfigFile, err)
			os.Exit(1)
		}
		modelConfig = *loaded
	}
	if *resume != "" {
		// The architecture of a resumed run comes from its checkpoint
		ck, err := train.LoadCheckpoint(*resume)
		if err != nil {
			logger.Errorf("Failed to load resume checkpoint: %v", err)
			os.Exit(1)
		}
		modelConfig = ck.ModelConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runOpt := runOptions{
		DataPath:       *dataPath,
		Epochs:         *epochs,
		BatchSize:      *batchSize,
		LearningRate:   *lr,
		Workers:        *workers,
		LogPath:        *logPath,
		CheckpointPath: *checkpointPath,
		Resume:         *resume,
		Backbone:       *backbone,
		Seed:           uint64(*seed),
		Model:          modelConfig,
	}
	if err := run(ctx, logger, runOpt); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Infof("Training interrupted")
		} else {
			logger.Errorf("%v", err)
		}
		os.Exit(1)
	}
}

type runOptions struct {
	DataPath       string         `json:"dataPath"`
	Epochs         int            `json:"epochs"`
	BatchSize      int            `json:"batchSize"`
	LearningRate   float64        `json:"learningRate"`
	Workers        int            `json:"workers"`
	LogPath        string         `json:"logPath"`
	CheckpointPath string         `json:"checkpointPath"`
	Resume         string         `json:"resume"`
	Backbone       string         `json:"backbone"`
	Seed           uint64         `json:"seed"`
	Model          nn.ModelConfig `json:"model"`
}

func run(ctx context.Context, logger logs.Log, opt runOptions) error {
	transform := dataset.NewTransform(opt.Model.Width)
	trainData, err := dataset.Open(opt.DataPath, dataset.SplitTrain, transform)
	if err != nil {
		return err
	}
	valData, err := dataset.Open(opt.DataPath, dataset.SplitValid, transform)
	if err != nil {
		return err
	}
	logger.Infof("Dataset: %v training images %v, %v validation images %v", trainData.Len(), trainData.Counts(), valData.Len(), valData.Counts())

	loadOpt := loader.DefaultOptions()
	loadOpt.BatchSize = opt.BatchSize
	loadOpt.Workers = opt.Workers
	loadOpt.Seed = opt.Seed
	loadOpt.Shuffle = true
	trainLoader, err := loader.New(trainData, loadOpt)
	if err != nil {
		return err
	}
	loadOpt.Shuffle = false
	valLoader, err := loader.New(valData, loadOpt)
	if err != nil {
		return err
	}

	model, err := classifier.New(logger, &opt.Model, opt.BatchSize, true)
	if err != nil {
		return err
	}
	defer model.Close()
	logger.Infof("Model has %v parameters", model.NumParameters())

	if opt.Resume == "" {
		if opt.Backbone != "" {
			if err := model.LoadBackbone(opt.Backbone); err != nil {
				return err
			}
		} else {
			logger.Warnf("No pretrained backbone given, training from random weights")
		}
	}

	rlog, err := runlog.Open(logger, opt.LogPath, opt)
	if err != nil {
		return err
	}
	defer rlog.Close()

	trainer := train.NewTrainer(logger, train.Options{
		Epochs:        opt.Epochs,
		LearningRate:  opt.LearningRate,
		CheckpointDir: opt.CheckpointPath,
		Resume:        opt.Resume,
		ModelConfig:   opt.Model,
		Progress:      os.Stderr,
	}, model, trainLoader, valLoader, rlog)

	state, err := trainer.Run(ctx)
	if err != nil {
		return err
	}
	logger.Infof("Training finished. Best validation accuracy %.4f", state.BestAccuracy)
	return nil
}
