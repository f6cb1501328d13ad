// Package nn is the neural network interface layer shared by the face detectors, the
// emotion classifier and the annotator.
package nn

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
)

const DefaultProbabilityThreshold = 0.5
const DefaultNmsIouThreshold = 0.5

// NN face detection parameters
type DetectionParams struct {
	ProbabilityThreshold float32 // Value between 0 and 1. Lower values will find more faces. Zero value will use the default.
	NmsIouThreshold      float32 // Value between 0 and 1. Lower values will merge more faces together into one. Zero value will use the default.
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ProbabilityThreshold: DefaultProbabilityThreshold,
		NmsIouThreshold:      DefaultNmsIouThreshold,
	}
}

// Return a copy of the params with zero values replaced by defaults
func (p *DetectionParams) WithDefaults() DetectionParams {
	r := DetectionParams{}
	if p != nil {
		r = *p
	}
	if r.ProbabilityThreshold == 0 {
		r.ProbabilityThreshold = DefaultProbabilityThreshold
	}
	if r.NmsIouThreshold == 0 {
		r.NmsIouThreshold = DefaultNmsIouThreshold
	}
	return r
}

// ImageCrop is a crop of a 24-bit RGB image.
// To create an ImageCrop, start with WholeImage(), and then use Crop() to get a sub-crop.
type ImageCrop struct {
	NChan       int    // Number of channels (always 3 for RGB)
	Pixels      []byte // The whole image
	ImageWidth  int    // The width of the original image, held in Pixels
	ImageHeight int    // The height of the original image, held in Pixels
	CropX       int    // Origin of crop X
	CropY       int    // Origin of crop Y
	CropWidth   int    // The width of this crop
	CropHeight  int    // The height of this crop
}

func (c ImageCrop) Stride() int {
	return c.ImageWidth * c.NChan
}

// Return a crop of the crop (new crop is relative to existing).
// If any parameter is out of bounds, we panic
func (c ImageCrop) Crop(x1, y1, x2, y2 int) ImageCrop {
	nc := ImageCrop{
		NChan:       c.NChan,
		Pixels:      c.Pixels,
		ImageWidth:  c.ImageWidth,
		ImageHeight: c.ImageHeight,
		CropX:       c.CropX + x1,
		CropY:       c.CropY + y1,
		CropWidth:   x2 - x1,
		CropHeight:  y2 - y1,
	}
	if nc.CropX < 0 || nc.CropY < 0 || nc.CropWidth < 0 || nc.CropHeight < 0 || nc.CropX+nc.CropWidth > c.ImageWidth || nc.CropY+nc.CropHeight > c.ImageHeight {
		panic("Crop out of bounds")
	}
	return nc
}

// Bounds of the crop, relative to the crop
func (c ImageCrop) Rect() Rect {
	return Rect{Width: c.CropWidth, Height: c.CropHeight}
}

// Copy the crop out into a standalone Go image
func (c ImageCrop) ToNRGBA() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, c.CropWidth, c.CropHeight))
	stride := c.Stride()
	for y := 0; y < c.CropHeight; y++ {
		src := c.Pixels[(c.CropY+y)*stride+c.CropX*c.NChan:]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < c.CropWidth; x++ {
			dst[x*4] = src[x*c.NChan]
			dst[x*4+1] = src[x*c.NChan+1]
			dst[x*4+2] = src[x*c.NChan+2]
			dst[x*4+3] = 255
		}
	}
	return img
}

// Return a 'crop' of the entire image
func WholeImage(nchan int, pixels []byte, width, height int) ImageCrop {
	return ImageCrop{
		NChan:       nchan,
		Pixels:      pixels,
		ImageWidth:  width,
		ImageHeight: height,
		CropX:       0,
		CropY:       0,
		CropWidth:   width,
		CropHeight:  height,
	}
}

// Convert any Go image into a packed RGB ImageCrop
func ImageCropFromImage(img image.Image) ImageCrop {
	b := img.Bounds()
	pixels := make([]byte, b.Dx()*b.Dy()*3)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			pixels[i] = byte(r >> 8)
			pixels[i+1] = byte(g >> 8)
			pixels[i+2] = byte(bl >> 8)
			i += 3
		}
	}
	return WholeImage(3, pixels, b.Dx(), b.Dy())
}

// FaceDetector is given an image, and returns zero or more faces.
// Faces are returned in the detector's native order, which is descending confidence.
type FaceDetector interface {
	// Close closes the detector (you MUST call this when finished, because it may be a C++ object underneath)
	Close()

	// DetectFaces returns a list of faces detected in the image, in frame pixel coordinates.
	// You can create a default DetectionParams with NewDetectionParams()
	DetectFaces(img ImageCrop, params *DetectionParams) ([]ObjectDetection, error)
}

// ModelConfig describes the architecture of the emotion classifier.
// It is saved inside every checkpoint, alongside the weights.
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "convnet"
	Width        int      `json:"width"`        // eg 260
	Height       int      `json:"height"`       // eg 260
	Channels     []int    `json:"channels"`     // Output channels of each backbone block, eg [32, 64, 128, 256]
	Classes      []string `json:"classes"`      // eg ["Anger", "Contempt", ...]
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, err
	}
	return config, config.Validate()
}

// Validate returns an error if the config cannot be turned into a network
func (c *ModelConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("Invalid model input size %vx%v", c.Width, c.Height)
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("Model has no backbone blocks")
	}
	for _, ch := range c.Channels {
		if ch <= 0 {
			return fmt.Errorf("Invalid backbone channel count %v", ch)
		}
	}
	if len(c.Classes) == 0 {
		return fmt.Errorf("Model has no classes")
	}
	return nil
}
