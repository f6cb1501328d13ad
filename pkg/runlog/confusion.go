package runlog

import (
	"fmt"

	"github.com/cyclopcam/moodcam/pkg/train"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

// Layout of the rendered matrix, in pixels
const (
	cellSize     = 64
	labelMargin  = 110
	titleMargin  = 40
	footerMargin = 60
	fontSize     = 13
)

// RenderConfusionMatrix draws a row-normalized confusion matrix, with true labels on the
// vertical axis and predictions on the horizontal axis. Each cell shows its value to 2 decimals.
func RenderConfusionMatrix(matrix [][]int, categories []string, title string) (*gg.Context, error) {
	n := len(categories)
	if len(matrix) != n {
		return nil, fmt.Errorf("Confusion matrix has %v rows, but there are %v categories", len(matrix), n)
	}
	for _, row := range matrix {
		if len(row) != n {
			return nil, fmt.Errorf("Confusion matrix row has %v columns, but there are %v categories", len(row), n)
		}
	}
	norm := train.NormalizeRows(matrix)

	font, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	face := truetype.NewFace(font, &truetype.Options{Size: fontSize})

	width := labelMargin + n*cellSize + 20
	height := titleMargin + n*cellSize + labelMargin + footerMargin/2
	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetFontFace(face)

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(title, float64(width)/2, titleMargin/2, 0.5, 0.5)

	maxVal := 0.0
	for _, row := range norm {
		for _, v := range row {
			maxVal = max(maxVal, v)
		}
	}

	x0 := float64(labelMargin)
	y0 := float64(titleMargin)
	for i, row := range norm {
		for j, v := range row {
			x := x0 + float64(j*cellSize)
			y := y0 + float64(i*cellSize)
			// Blues colormap: white at 0, dark blue at the maximum
			t := 0.0
			if maxVal > 0 {
				t = v / maxVal
			}
			dc.SetRGB(1-0.9*t, 1-0.7*t, 1-0.3*t)
			dc.DrawRectangle(x, y, cellSize, cellSize)
			dc.Fill()
			if t > 0.5 {
				dc.SetRGB(1, 1, 1)
			} else {
				dc.SetRGB(0, 0, 0)
			}
			dc.DrawStringAnchored(fmt.Sprintf("%.2f", v), x+cellSize/2, y+cellSize/2, 0.5, 0.5)
		}
	}

	// Grid
	dc.SetRGB(0.6, 0.6, 0.6)
	dc.SetLineWidth(1)
	for i := 0; i <= n; i++ {
		dc.DrawLine(x0, y0+float64(i*cellSize), x0+float64(n*cellSize), y0+float64(i*cellSize))
		dc.DrawLine(x0+float64(i*cellSize), y0, x0+float64(i*cellSize), y0+float64(n*cellSize))
	}
	dc.Stroke()

	// Axis labels. Predictions are written vertically.
	dc.SetRGB(0, 0, 0)
	for i, c := range categories {
		dc.DrawStringAnchored(c, x0-8, y0+float64(i*cellSize)+cellSize/2, 1, 0.5)
		cx := x0 + float64(i*cellSize) + cellSize/2
		cy := y0 + float64(n*cellSize) + 8
		dc.Push()
		dc.RotateAbout(gg.Radians(-90), cx, cy)
		dc.DrawStringAnchored(c, cx, cy, 1, 0.5)
		dc.Pop()
	}
	dc.DrawStringAnchored("Predicted", x0+float64(n*cellSize)/2, float64(height)-footerMargin/4, 0.5, 0.5)
	dc.Push()
	dc.RotateAbout(gg.Radians(-90), 14, y0+float64(n*cellSize)/2)
	dc.DrawStringAnchored("True", 14, y0+float64(n*cellSize)/2, 0.5, 0.5)
	dc.Pop()
	return dc, nil
}
