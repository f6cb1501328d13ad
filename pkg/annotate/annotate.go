// Package annotate is the realtime pipeline: detect faces in a frame, drop duplicates,
// classify the emotion of each face and produce the text that is drawn over it.
package annotate

import (
	"fmt"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/moodcam/pkg/classifier"
	"github.com/cyclopcam/moodcam/pkg/dataset"
	"github.com/cyclopcam/moodcam/pkg/emotion"
	"github.com/cyclopcam/moodcam/pkg/nn"
	"github.com/cyclopcam/moodcam/pkg/perfstats"
)

// Classifier is satisfied by *classifier.Predictor
type Classifier interface {
	Predict(pixels []float32) (classifier.Prediction, error)
}

type Options struct {
	Detection     nn.DetectionParams
	MinFaceSize   int     // Boxes with a smaller width or height are ignored
	DuplicateIoU  float32 // A box overlapping an earlier box by more than this is ignored
	ShowClassProb bool    // Show the classifier's probability instead of the detector's confidence
	Language      string  // Display language of the emotion names
	StatsInterval int     // Log timings every N frames. Zero disables.
}

func DefaultOptions() Options {
	return Options{
		Detection:     *nn.NewDetectionParams(),
		MinFaceSize:   nn.DefaultMinFaceSize,
		DuplicateIoU:  nn.DefaultDuplicateIoU,
		Language:      emotion.LangEnglish,
		StatsInterval: 300,
	}
}

// Annotation is one classified face
type Annotation struct {
	Box        nn.Rect // Frame coordinates, clipped to the frame
	Confidence float32 // Detector confidence
	Prediction classifier.Prediction
	Text       string
}

type Annotator struct {
	log        logs.Log
	detector   nn.FaceDetector
	classifier Classifier
	transform  *dataset.Transform
	opt        Options
	stages     *perfstats.Stages
	faces      perfstats.Accumulator[int]
	nFrames    int
}

// New creates an annotator. The transform must be the same one the classifier was trained with.
func New(log logs.Log, detector nn.FaceDetector, cls Classifier, transform *dataset.Transform, opt Options) *Annotator {
	return &Annotator{
		log:        log,
		detector:   detector,
		classifier: cls,
		transform:  transform,
		opt:        opt,
		stages:     perfstats.NewStages("detect", "classify", "total"),
	}
}

// Process runs the pipeline on one frame. The frame must be packed RGB.
func (a *Annotator) Process(frame nn.ImageCrop) ([]Annotation, error) {
	start := time.Now()
	dets, err := a.detector.DetectFaces(frame, &a.opt.Detection)
	if err != nil {
		return nil, fmt.Errorf("Face detection failed: %w", err)
	}
	a.stages.Get("detect").Since(start)

	dets = nn.DeduplicateBoxes(dets, a.opt.MinFaceSize, a.opt.DuplicateIoU)

	bounds := frame.Rect()
	bounds.Offset(frame.CropX, frame.CropY)

	startClassify := time.Now()
	result := []Annotation{}
	for _, det := range dets {
		box := det.Box.Intersection(bounds)
		if box.Empty() {
			continue
		}
		crop := frame.Crop(box.X-frame.CropX, box.Y-frame.CropY, box.X2()-frame.CropX, box.Y2()-frame.CropY)
		pixels := a.transform.Apply(crop.ToNRGBA())
		pred, err := a.classifier.Predict(pixels)
		if err != nil {
			return nil, fmt.Errorf("Emotion classification failed: %w", err)
		}
		ann := Annotation{
			Box:        box,
			Confidence: det.Confidence,
			Prediction: pred,
		}
		ann.Text = a.labelText(ann)
		result = append(result, ann)
	}
	if len(dets) != 0 {
		a.stages.Get("classify").Since(startClassify)
	}
	a.stages.Get("total").Since(start)
	a.faces.AddSample(len(result))

	a.nFrames++
	if a.opt.StatsInterval > 0 && a.nFrames%a.opt.StatsInterval == 0 {
		a.log.Infof("After %v frames: %v, %.2f faces/frame", a.nFrames, a.stages, a.faces.Average())
		a.stages.Reset()
		a.faces.Reset()
	}
	return result, nil
}

// Frames returns the number of frames processed so far
func (a *Annotator) Frames() int {
	return a.nFrames
}

func (a *Annotator) labelText(ann Annotation) string {
	conf := ann.Confidence
	if a.opt.ShowClassProb {
		conf = ann.Prediction.Probability
	}
	return FormatLabel(emotion.DisplayName(a.opt.Language, ann.Prediction.Class), conf)
}

// FormatLabel returns the on-screen text for a face, eg "Happy 87.25%"
func FormatLabel(name string, confidence float32) string {
	return fmt.Sprintf("%v %.2f%%", name, confidence*100)
}

// FaceLabel converts the annotation into its serializable form
func (a *Annotation) FaceLabel() nn.FaceLabel {
	return nn.FaceLabel{
		Detection: nn.ObjectDetection{
			Class:      0,
			Confidence: a.Confidence,
			Box:        a.Box,
		},
		Class:       a.Prediction.Class,
		Label:       a.Prediction.Label,
		Probability: a.Prediction.Probability,
	}
}

// ToImageLabels gathers the annotations of one frame
func ToImageLabels(frame nn.ImageCrop, anns []Annotation) nn.ImageLabels {
	labels := nn.ImageLabels{
		Width:   frame.CropWidth,
		Height:  frame.CropHeight,
		Objects: make([]nn.FaceLabel, 0, len(anns)),
	}
	for i := range anns {
		labels.Objects = append(labels.Objects, anns[i].FaceLabel())
	}
	return labels
}
