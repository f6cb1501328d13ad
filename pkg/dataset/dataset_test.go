package dataset

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/moodcam/pkg/emotion"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, filename string, c color.RGBA) {
	img := image.NewRGBA(image.Rect(0, 0, 12, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 12; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(filename)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// Build root/<split>/<category>/ with counts[i] images in category i
func makeTree(t *testing.T, root string, split Split, counts []int) {
	for label, category := range emotion.Categories {
		dir := filepath.Join(root, string(split), category)
		require.NoError(t, os.MkdirAll(dir, 0755))
		for i := 0; i < counts[label]; i++ {
			c := color.RGBA{uint8(label * 30), uint8(i), 100, 255}
			writePNG(t, filepath.Join(dir, category+"_"+string(rune('a'+i))+".png"), c)
		}
	}
}

func TestOpen(t *testing.T) {
	root := t.TempDir()
	counts := []int{2, 0, 1, 3, 1, 1, 2, 1}
	makeTree(t, root, SplitTrain, counts)

	ds, err := Open(root, SplitTrain, NewTransform(8))
	require.NoError(t, err)
	total := 0
	for _, c := range counts {
		total += c
	}
	require.Equal(t, total, ds.Len())
	require.Equal(t, counts, ds.Counts())

	// Labels come in category order, and match the directory
	prev := 0
	for i := 0; i < ds.Len(); i++ {
		e := ds.Entry(i)
		require.GreaterOrEqual(t, e.Label, prev)
		require.Equal(t, emotion.Categories[e.Label], filepath.Base(filepath.Dir(e.Path)))
		prev = e.Label
	}
	require.Equal(t, ds.Len(), len(ds.Labels()))

	s, err := ds.Get(0)
	require.NoError(t, err)
	require.Equal(t, 0, s.Label)
	require.Len(t, s.Pixels, 3*8*8)

	_, err = ds.Get(ds.Len())
	require.Error(t, err)
}

func TestOpenMissing(t *testing.T) {
	root := t.TempDir()
	_, err := Open(root, SplitValid, NewTransform(8))
	require.True(t, errors.Is(err, ErrMissingDirectory))

	// Split exists, but one category is missing
	makeTree(t, root, SplitValid, make([]int, emotion.NumClasses))
	require.NoError(t, os.Remove(filepath.Join(root, "valid", "Sad")))
	_, err = Open(root, SplitValid, NewTransform(8))
	require.True(t, errors.Is(err, ErrMissingDirectory))
	require.Contains(t, err.Error(), "Sad")
}

func TestOpenRejectsNestedDirectory(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, SplitTrain, make([]int, emotion.NumClasses))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "train", "Fear", "extra"), 0755))
	_, err := Open(root, SplitTrain, NewTransform(8))
	require.Error(t, err)
}

func TestCorruptImage(t *testing.T) {
	root := t.TempDir()
	makeTree(t, root, SplitTrain, make([]int, emotion.NumClasses))
	bad := filepath.Join(root, "train", "Happy", "broken.jpg")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0644))
	ds, err := Open(root, SplitTrain, NewTransform(8))
	require.NoError(t, err)
	require.Equal(t, 1, ds.Len())
	_, err = ds.Get(0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken.jpg")
}

func TestTransform(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 20, 30))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
		img.Pix[i+1] = 0
		img.Pix[i+2] = 128
		img.Pix[i+3] = 255
	}
	tr := NewTransform(4)
	out := tr.Apply(img)
	require.Len(t, out, 3*4*4)
	plane := 16
	for p := 0; p < plane; p++ {
		require.InDelta(t, (1-0.485)/0.229, out[p], 1e-4)
		require.InDelta(t, (0-0.456)/0.224, out[plane+p], 1e-4)
		require.InDelta(t, (128.0/255-0.406)/0.225, out[2*plane+p], 1e-4)
	}
}
