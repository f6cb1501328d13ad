package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/moodcam/pkg/annotate"
	"github.com/cyclopcam/moodcam/pkg/config"
	"github.com/cyclopcam/moodcam/pkg/dataset"
	"github.com/cyclopcam/moodcam/pkg/emotion"
	"github.com/cyclopcam/moodcam/pkg/train"
)

func main() {
	cfg, err := config.LoadConfig(config.PeekFlag(os.Args, "config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	d := cfg.Annotate

	parser := argparse.NewParser("annotate", "Show the emotion of every face in a camera or video stream")
	parser.String("", "config", &argparse.Options{Help: "JSON configuration file", Default: ""})
	detector := parser.String("", "detector", &argparse.Options{Help: "Face detector: yolo or pigo", Default: d.Detector})
	weights := parser.String("", "weights", &argparse.Options{Help: "Face detector weights (ONNX for yolo, cascade for pigo)", Default: d.DetectorWeights})
	checkpoint := parser.String("m", "checkpoint", &argparse.Options{Help: "Emotion classifier checkpoint", Default: d.Checkpoint})
	camera := parser.Int("", "camera", &argparse.Options{Help: "Camera index", Default: d.Camera})
	video := parser.String("v", "video", &argparse.Options{Help: "Read this video file instead of a camera", Default: d.Video})
	lang := parser.String("", "lang", &argparse.Options{Help: "Label language: en or vi", Default: d.Language})
	showClassProb := parser.Flag("", "show-class-prob", &argparse.Options{Help: "Display the classifier's probability instead of the detector's confidence", Default: d.ShowClassProb})
	threshold := parser.Float("t", "threshold", &argparse.Options{Help: "Face detection confidence threshold", Default: d.Threshold})
	minFaceSize := parser.Int("", "min-face-size", &argparse.Options{Help: "Ignore faces smaller than this, in pixels", Default: d.MinFaceSize})
	snapshots := parser.String("", "snapshots", &argparse.Options{Help: "Save annotated frames with faces into this directory", Default: d.SnapshotDir})
	headless := parser.Flag("", "headless", &argparse.Options{Help: "Don't open a window", Default: false})
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

	if !emotion.IsSupportedLanguage(*lang) {
		logger.Errorf("Unsupported label language '%v'", *lang)
		os.Exit(1)
	}

	faces, err := annotate.NewDetector(logger, *detector, *weights)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	defer faces.Close()

	predictor, ck, err := train.LoadPredictor(logger, *checkpoint)
	if err != nil {
		logger.Errorf("Failed to load classifier: %v", err)
		os.Exit(1)
	}
	defer predictor.Close()
	logger.Infof("Loaded classifier %v (epoch %v, validation accuracy %.4f)", *checkpoint, ck.Epoch, ck.BestAccuracy)

	opt := annotate.DefaultOptions()
	opt.Detection.ProbabilityThreshold = float32(*threshold)
	opt.MinFaceSize = *minFaceSize
	opt.ShowClassProb = *showClassProb
	opt.Language = *lang
	transform := dataset.NewTransform(ck.ModelConfig.Width)
	annotator := annotate.New(logger, faces, predictor, transform, opt)

	runOpt := annotate.RunOptions{
		Source:   strconv.Itoa(*camera),
		Headless: *headless,
	}
	if *video != "" {
		runOpt.Source = *video
	}
	if *snapshots != "" {
		if runOpt.Snapshots, err = annotate.NewSnapshotter(logger, *snapshots); err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := annotator.Run(ctx, runOpt); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
