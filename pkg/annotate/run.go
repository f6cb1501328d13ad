package annotate

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"time"

	"github.com/cyclopcam/moodcam/pkg/nn"
	"github.com/cyclopcam/moodcam/pkg/perfstats"
	"gocv.io/x/gocv"
)

const WindowTitle = "moodcam"

// Colors are given as RGB, gocv swaps them for its BGR Mats
var (
	boxColor  = color.RGBA{0, 255, 0, 0}
	textColor = color.RGBA{255, 255, 0, 0}
)

type RunOptions struct {
	Source    string       // Camera index ("0") or video file
	Headless  bool         // Don't open a window
	Snapshots *Snapshotter // Optional
}

// OpenSource opens a camera if source is an integer, otherwise a video file
func OpenSource(source string) (*gocv.VideoCapture, error) {
	var dev any = source
	if idx, err := strconv.Atoi(source); err == nil {
		dev = idx
	}
	capture, err := gocv.OpenVideoCapture(dev)
	if err != nil {
		return nil, fmt.Errorf("Failed to open video source '%v': %w", source, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("Video source '%v' could not be opened", source)
	}
	return capture, nil
}

// Run reads frames until the source ends, the user presses 'q' or Esc, or ctx is cancelled.
// None of those are errors.
func (a *Annotator) Run(ctx context.Context, opt RunOptions) error {
	capture, err := OpenSource(opt.Source)
	if err != nil {
		return err
	}
	defer capture.Close()

	var window *gocv.Window
	if !opt.Headless {
		window = gocv.NewWindow(WindowTitle)
		defer window.Close()
	}

	frame := gocv.NewMat()
	defer frame.Close()
	rgb := gocv.NewMat()
	defer rgb.Close()

	fps := perfstats.MovingAverage{}
	lastFrame := time.Now()

	a.log.Infof("Reading from %v", opt.Source)
	for {
		if ctx.Err() != nil {
			a.log.Infof("Interrupted")
			return nil
		}
		if ok := capture.Read(&frame); !ok || frame.Empty() {
			a.log.Infof("No more frames from %v", opt.Source)
			return nil
		}

		gocv.CvtColor(frame, &rgb, gocv.ColorBGRToRGB)
		img := nn.WholeImage(3, rgb.ToBytes(), rgb.Cols(), rgb.Rows())
		anns, err := a.Process(img)
		if err != nil {
			return err
		}

		for _, ann := range anns {
			r := image.Rect(ann.Box.X, ann.Box.Y, ann.Box.X2(), ann.Box.Y2())
			gocv.Rectangle(&frame, r, boxColor, 2)
			gocv.PutText(&frame, ann.Text, image.Pt(ann.Box.X, ann.Box.Y-10), gocv.FontHersheySimplex, 0.8, textColor, 2)
		}

		if opt.Snapshots != nil && len(anns) != 0 && opt.Snapshots.Due() {
			gocv.CvtColor(frame, &rgb, gocv.ColorBGRToRGB)
			if _, err := opt.Snapshots.Save(rgb.ToBytes(), rgb.Cols(), rgb.Rows()); err != nil {
				a.log.Warnf("Failed to save snapshot: %v", err)
			}
		}

		now := time.Now()
		fps.Update(1 / now.Sub(lastFrame).Seconds())
		lastFrame = now
		if a.Frames()%100 == 0 {
			a.log.Debugf("%.1f frames per second", fps.Value)
		}

		if window != nil {
			window.IMShow(frame)
			key := window.WaitKey(1) & 0xff
			if key == 'q' || key == 27 {
				a.log.Infof("Quit")
				return nil
			}
		}
	}
}
