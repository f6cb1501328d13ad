package annotate

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/moodcam/pkg/iox"
)

// Snapshotter saves annotated frames as JPEG files, no more often than Interval
type Snapshotter struct {
	Dir      string
	Interval time.Duration
	Quality  int

	log  logs.Log
	last time.Time
	now  func() time.Time
}

func NewSnapshotter(log logs.Log, dir string) (*Snapshotter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("Failed to create snapshot directory: %w", err)
	}
	return &Snapshotter{
		Dir:      dir,
		Interval: time.Second,
		Quality:  90,
		log:      log,
		now:      time.Now,
	}, nil
}

// Due returns true if enough time has passed since the last snapshot
func (s *Snapshotter) Due() bool {
	return s.now().Sub(s.last) >= s.Interval
}

// Save writes an RGB frame, if a snapshot is due.
// Returns the filename, or an empty string if the frame was skipped.
func (s *Snapshotter) Save(rgb []byte, width, height int) (string, error) {
	if !s.Due() {
		return "", nil
	}
	if len(rgb) != width*height*3 {
		return "", fmt.Errorf("Snapshot buffer is %v bytes, but %vx%v RGB needs %v", len(rgb), width, height, width*height*3)
	}
	now := s.now()
	img := cimg.WrapImage(width, height, cimg.PixelFormatRGB, rgb)
	jpg, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, s.Quality, 0))
	if err != nil {
		return "", err
	}
	filename := filepath.Join(s.Dir, now.Format("20060102-150405.000")+".jpg")
	if err := iox.WriteStreamToFile(filename, bytes.NewReader(jpg)); err != nil {
		return "", err
	}
	s.last = now
	s.log.Debugf("Saved snapshot %v", filename)
	return filename, nil
}
