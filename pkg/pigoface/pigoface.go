// Package pigoface is a pure Go face detector, based on the pigo pixel intensity
// comparison cascade.
package pigoface

import (
	"cmp"
	"fmt"
	"os"
	"slices"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/moodcam/pkg/nn"
	pigo "github.com/esimov/pigo/core"
)

// Settings for the cascade scan
type Config struct {
	MinSize      int     // Smallest face, in pixels
	MaxSize      int     // Largest face, in pixels. Zero means the image size.
	ShiftFactor  float64 // Step of the scan window, as a fraction of its size
	ScaleFactor  float64 // Growth of the scan window between scales
	Angle        float64 // 0..1, where 1 is a full rotation
	ClusterIoU   float64 // Overlapping detections are merged above this IoU
	QualityScale float32 // The cluster quality at which confidence is 0.5
}

func DefaultConfig() Config {
	return Config{
		MinSize:      30,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
		ClusterIoU:   0.2,
		QualityScale: 5,
	}
}

// Detector implements nn.FaceDetector
type Detector struct {
	log     logs.Log
	config  Config
	cascade *pigo.Pigo
}

// New loads a pigo cascade file (eg "facefinder")
func New(log logs.Log, cascadeFile string, config Config) (*Detector, error) {
	raw, err := os.ReadFile(cascadeFile)
	if err != nil {
		return nil, fmt.Errorf("Failed to read face cascade: %w", err)
	}
	cascade, err := pigo.NewPigo().Unpack(raw)
	if err != nil {
		return nil, fmt.Errorf("Failed to unpack face cascade %v: %w", cascadeFile, err)
	}
	log.Infof("Loaded pigo face cascade %v", cascadeFile)
	return &Detector{
		log:     log,
		config:  config,
		cascade: cascade,
	}, nil
}

func (d *Detector) Close() {
}

func (d *Detector) DetectFaces(img nn.ImageCrop, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	p := params.WithDefaults()
	gray := Grayscale(img)
	maxSize := d.config.MaxSize
	if maxSize == 0 {
		maxSize = max(img.CropWidth, img.CropHeight)
	}
	cp := pigo.CascadeParams{
		MinSize:     d.config.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: d.config.ShiftFactor,
		ScaleFactor: d.config.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: gray,
			Rows:   img.CropHeight,
			Cols:   img.CropWidth,
			Dim:    img.CropWidth,
		},
	}
	dets := d.cascade.RunCascade(cp, d.config.Angle)
	dets = d.cascade.ClusterDetections(dets, d.config.ClusterIoU)
	return ToObjectDetections(dets, img, d.config.QualityScale, p.ProbabilityThreshold), nil
}

// Grayscale converts the crop to 8-bit luminance, one byte per pixel
func Grayscale(img nn.ImageCrop) []uint8 {
	gray := make([]uint8, img.CropWidth*img.CropHeight)
	stride := img.Stride()
	for y := 0; y < img.CropHeight; y++ {
		src := img.Pixels[(img.CropY+y)*stride+img.CropX*img.NChan:]
		dst := gray[y*img.CropWidth:]
		for x := 0; x < img.CropWidth; x++ {
			r := uint32(src[x*img.NChan])
			g := uint32(src[x*img.NChan+1])
			b := uint32(src[x*img.NChan+2])
			// ITU-R 601 luma, in 8.8 fixed point
			dst[x] = uint8((r*77 + g*150 + b*29) >> 8)
		}
	}
	return gray
}

// ToObjectDetections turns pigo's center/size detections into boxes in frame coordinates,
// clipped to the crop, sorted by descending confidence.
// The summed cluster quality q is mapped to a confidence of q/(q+qualityScale).
func ToObjectDetections(dets []pigo.Detection, img nn.ImageCrop, qualityScale, threshold float32) []nn.ObjectDetection {
	out := []nn.ObjectDetection{}
	bounds := nn.Rect{Width: img.CropWidth, Height: img.CropHeight}
	for _, det := range dets {
		if det.Q <= 0 {
			continue
		}
		conf := det.Q / (det.Q + qualityScale)
		if conf < threshold {
			continue
		}
		box := nn.Rect{
			X:      det.Col - det.Scale/2,
			Y:      det.Row - det.Scale/2,
			Width:  det.Scale,
			Height: det.Scale,
		}
		box = box.Intersection(bounds)
		if box.Empty() {
			continue
		}
		box.Offset(img.CropX, img.CropY)
		out = append(out, nn.ObjectDetection{
			Confidence: conf,
			Box:        box,
		})
	}
	slices.SortStableFunc(out, func(a, b nn.ObjectDetection) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	return out
}
