package dataset

import (
	"image"

	"github.com/disintegration/imaging"
)

// ImageNet channel statistics, which the backbone was trained with
var ImageNetMean = [3]float32{0.485, 0.456, 0.406}
var ImageNetStd = [3]float32{0.229, 0.224, 0.225}

// Transform turns an image of any size into the classifier's input tensor.
// The same transform is used for training, validation and inference.
type Transform struct {
	Size int // Output is Size x Size
	Mean [3]float32
	Std  [3]float32
}

// NewTransform returns the standard ImageNet-normalized transform
func NewTransform(size int) *Transform {
	return &Transform{
		Size: size,
		Mean: ImageNetMean,
		Std:  ImageNetStd,
	}
}

// Number of float32 values produced by Apply
func (t *Transform) NumElements() int {
	return 3 * t.Size * t.Size
}

// Apply resizes with bilinear filtering, scales to [0,1], normalizes each channel,
// and returns the result in CHW layout. Alpha is ignored.
func (t *Transform) Apply(img image.Image) []float32 {
	return t.ApplyInto(img, make([]float32, t.NumElements()))
}

// ApplyInto is Apply, writing into dst, which must hold NumElements() values
func (t *Transform) ApplyInto(img image.Image, dst []float32) []float32 {
	resized := imaging.Resize(img, t.Size, t.Size, imaging.Linear)
	plane := t.Size * t.Size
	var scale, offset [3]float32
	for c := 0; c < 3; c++ {
		scale[c] = 1 / (255 * t.Std[c])
		offset[c] = t.Mean[c] / t.Std[c]
	}
	for y := 0; y < t.Size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < t.Size; x++ {
			p := y*t.Size + x
			for c := 0; c < 3; c++ {
				dst[c*plane+p] = float32(row[x*4+c])*scale[c] - offset[c]
			}
		}
	}
	return dst
}
