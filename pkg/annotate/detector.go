package annotate

import (
	"fmt"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/moodcam/pkg/cvface"
	"github.com/cyclopcam/moodcam/pkg/nn"
	"github.com/cyclopcam/moodcam/pkg/pigoface"
)

// Face detector kinds
const (
	DetectorYolo = "yolo" // YOLOv5-face ONNX, through OpenCV
	DetectorPigo = "pigo" // Pure Go cascade
)

// NewDetector loads the face detector of the given kind.
// A missing weights file is an error.
func NewDetector(log logs.Log, kind, weights string) (nn.FaceDetector, error) {
	switch kind {
	case DetectorYolo:
		return cvface.New(log, weights, cvface.DefaultInputSize)
	case DetectorPigo:
		return pigoface.New(log, weights, pigoface.DefaultConfig())
	}
	return nil, fmt.Errorf("Unknown face detector '%v'. Valid values are %v and %v", kind, DetectorYolo, DetectorPigo)
}
