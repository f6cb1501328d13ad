// Package cvface runs a YOLOv5-face ONNX network through OpenCV's DNN module.
package cvface

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/moodcam/pkg/nn"
	"gocv.io/x/gocv"
)

// DefaultInputSize is the square input resolution of yolov5s-face
const DefaultInputSize = 640

// Letterbox padding value, as used by YOLOv5 during training
var padColor = color.RGBA{114, 114, 114, 0}

// Detector implements nn.FaceDetector
type Detector struct {
	log       logs.Log
	net       gocv.Net
	inputSize int
}

// New loads an ONNX face detection network
func New(log logs.Log, modelFile string, inputSize int) (*Detector, error) {
	if _, err := os.Stat(modelFile); err != nil {
		return nil, fmt.Errorf("Face detector weights not found: %w", err)
	}
	net := gocv.ReadNetFromONNX(modelFile)
	if net.Empty() {
		return nil, fmt.Errorf("Failed to load face detector %v", modelFile)
	}
	if inputSize == 0 {
		inputSize = DefaultInputSize
	}
	log.Infof("Loaded face detector %v (input %vx%v)", modelFile, inputSize, inputSize)
	return &Detector{
		log:       log,
		net:       net,
		inputSize: inputSize,
	}, nil
}

func (d *Detector) Close() {
	d.net.Close()
}

// Copy the crop into a contiguous RGB Mat
func cropToMat(img nn.ImageCrop) (gocv.Mat, error) {
	buf := make([]byte, img.CropWidth*img.CropHeight*3)
	stride := img.Stride()
	for y := 0; y < img.CropHeight; y++ {
		src := img.Pixels[(img.CropY+y)*stride+img.CropX*img.NChan:]
		dst := buf[y*img.CropWidth*3:]
		for x := 0; x < img.CropWidth; x++ {
			copy(dst[x*3:x*3+3], src[x*img.NChan:x*img.NChan+3])
		}
	}
	return gocv.NewMatFromBytes(img.CropHeight, img.CropWidth, gocv.MatTypeCV8UC3, buf)
}

func (d *Detector) DetectFaces(img nn.ImageCrop, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	p := params.WithDefaults()
	src, err := cropToMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	lb := NewLetterbox(img.CropWidth, img.CropHeight, d.inputSize)
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, image.Pt(lb.Width, lb.Height), 0, 0, gocv.InterpolationLinear)

	padded := gocv.NewMat()
	defer padded.Close()
	right := d.inputSize - lb.Width - lb.PadX
	bottom := d.inputSize - lb.Height - lb.PadY
	gocv.CopyMakeBorder(resized, &padded, lb.PadY, bottom, lb.PadX, right, gocv.BorderConstant, padColor)

	// The Mat is already RGB, so no channel swap
	blob := gocv.BlobFromImage(padded, 1.0/255.0, image.Pt(d.inputSize, d.inputSize), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	sizes := out.Size()
	if len(sizes) != 3 {
		return nil, fmt.Errorf("Unexpected face detector output shape %v", sizes)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	dets, err := DecodeYolo(data, sizes[1], sizes[2], lb, img.CropWidth, img.CropHeight, p)
	if err != nil {
		return nil, err
	}
	for i := range dets {
		dets[i].Box.Offset(img.CropX, img.CropY)
	}
	return dets, nil
}
