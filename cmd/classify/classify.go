package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/moodcam/pkg/annotate"
	"github.com/cyclopcam/moodcam/pkg/classifier"
	"github.com/cyclopcam/moodcam/pkg/dataset"
	"github.com/cyclopcam/moodcam/pkg/nn"
	"github.com/cyclopcam/moodcam/pkg/train"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("classify", "Predict the emotion of faces in image files")
	inputs := parser.StringList("i", "input", &argparse.Options{Help: "Input image file (may be repeated)", Required: true})
	checkpoint := parser.String("m", "checkpoint", &argparse.Options{Help: "Emotion classifier checkpoint", Required: true})
	detector := parser.String("", "detector", &argparse.Options{Help: "Find faces with this detector (yolo or pigo). If empty, each image is treated as one face.", Default: ""})
	weights := parser.String("", "weights", &argparse.Options{Help: "Face detector weights", Default: ""})
	output := parser.String("o", "output", &argparse.Options{Help: "Output JSON file. Default is stdout.", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, _ := logs.NewLog()

	predictor, ck, err := train.LoadPredictor(logger, *checkpoint)
	check(err)
	defer predictor.Close()
	transform := dataset.NewTransform(ck.ModelConfig.Width)

	var annotator *annotate.Annotator
	if *detector != "" {
		faces, err := annotate.NewDetector(logger, *detector, *weights)
		check(err)
		defer faces.Close()
		opt := annotate.DefaultOptions()
		opt.StatsInterval = 0
		annotator = annotate.New(logger, faces, predictor, transform, opt)
	}

	results := []nn.ImageLabels{}
	for _, filename := range *inputs {
		img, err := imaging.Open(filename, imaging.AutoOrientation(true))
		check(err)
		frame := nn.ImageCropFromImage(img)
		var labels nn.ImageLabels
		if annotator != nil {
			anns, err := annotator.Process(frame)
			check(err)
			labels = annotate.ToImageLabels(frame, anns)
		} else {
			labels, err = classifyWhole(predictor, transform, frame)
			check(err)
		}
		labels.Image = filename
		results = append(results, labels)
	}

	out := os.Stdout
	if *output != "" {
		out, err = os.Create(*output)
		check(err)
		defer out.Close()
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	err = encoder.Encode(results)
	check(err)
}

// The whole image is one face, such as the cropped images of the dataset
func classifyWhole(predictor *classifier.Predictor, transform *dataset.Transform, frame nn.ImageCrop) (nn.ImageLabels, error) {
	pred, err := predictor.Predict(transform.Apply(frame.ToNRGBA()))
	if err != nil {
		return nn.ImageLabels{}, err
	}
	return nn.ImageLabels{
		Width:  frame.CropWidth,
		Height: frame.CropHeight,
		Objects: []nn.FaceLabel{
			{
				Detection:   nn.ObjectDetection{Confidence: 1, Box: frame.Rect()},
				Class:       pred.Class,
				Label:       pred.Label,
				Probability: pred.Probability,
			},
		},
	}, nil
}
