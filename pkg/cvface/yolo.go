package cvface

import (
	"fmt"
	"math"

	"github.com/cyclopcam/moodcam/pkg/nn"
)

// Letterbox describes how a frame was fitted into the square network input:
// uniformly scaled, then padded equally on both sides.
type Letterbox struct {
	Scale  float64
	PadX   int // Left padding
	PadY   int // Top padding
	Width  int // Scaled width, before padding
	Height int // Scaled height, before padding
}

// NewLetterbox fits a frameW x frameH image into a size x size square
func NewLetterbox(frameW, frameH, size int) Letterbox {
	scale := math.Min(float64(size)/float64(frameW), float64(size)/float64(frameH))
	w := int(math.Round(float64(frameW) * scale))
	h := int(math.Round(float64(frameH) * scale))
	return Letterbox{
		Scale:  scale,
		PadX:   (size - w) / 2,
		PadY:   (size - h) / 2,
		Width:  w,
		Height: h,
	}
}

// ToFrame maps a box from network input coordinates back to the original frame,
// rounding to whole pixels and clipping to the frame.
func (l Letterbox) ToFrame(x1, y1, x2, y2 float32, frameW, frameH int) nn.Rect {
	unmap := func(v float32, pad int, limit int) int {
		f := math.Round((float64(v) - float64(pad)) / l.Scale)
		return max(0, min(limit, int(f)))
	}
	return nn.RectFromCorners(
		unmap(x1, l.PadX, frameW),
		unmap(y1, l.PadY, frameH),
		unmap(x2, l.PadX, frameW),
		unmap(y2, l.PadY, frameH),
	)
}

// Column layout of a YOLOv5-face output row:
// cx, cy, w, h, objectness, 5 landmark (x,y) pairs, face class score
const (
	yoloObjectness   = 4
	yoloFaceClassCol = 15
	yoloPlainClass   = 5 // Plain YOLOv5 trained on a single 'face' class has no landmarks
)

// DecodeYolo turns the raw (rows x cols) output of a YOLOv5 face network into detections in
// frame coordinates. Confidence is objectness times the face class score. Detections below
// params.ProbabilityThreshold are dropped, and the rest go through non-max suppression.
func DecodeYolo(out []float32, rows, cols int, lb Letterbox, frameW, frameH int, params nn.DetectionParams) ([]nn.ObjectDetection, error) {
	if cols < yoloPlainClass+1 {
		return nil, fmt.Errorf("YOLO output has %v columns, expected at least %v", cols, yoloPlainClass+1)
	}
	if len(out) < rows*cols {
		return nil, fmt.Errorf("YOLO output has %v values, expected %v x %v", len(out), rows, cols)
	}
	classCol := yoloPlainClass
	if cols > yoloFaceClassCol {
		classCol = yoloFaceClassCol
	}
	candidates := []nn.ObjectDetection{}
	for i := 0; i < rows; i++ {
		row := out[i*cols : (i+1)*cols]
		obj := row[yoloObjectness]
		if obj <= params.ProbabilityThreshold {
			continue
		}
		conf := obj * row[classCol]
		if conf <= params.ProbabilityThreshold {
			continue
		}
		cx, cy, w, h := row[0], row[1], row[2], row[3]
		box := lb.ToFrame(cx-w/2, cy-h/2, cx+w/2, cy+h/2, frameW, frameH)
		if box.Empty() {
			continue
		}
		candidates = append(candidates, nn.ObjectDetection{
			Confidence: conf,
			Box:        box,
		})
	}
	return nn.NonMaxSuppression(candidates, params.NmsIouThreshold), nil
}
