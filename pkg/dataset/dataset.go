// Package dataset indexes a directory tree of face images, one directory per emotion
// category, and loads samples from it.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/moodcam/pkg/emotion"
	"github.com/disintegration/imaging"
	"github.com/karrick/godirwalk"

	// Extra decoders, on top of what imaging registers
	_ "golang.org/x/image/webp"
)

// Split selects a sub-directory of the dataset root
type Split string

const (
	SplitTrain Split = "train"
	SplitValid Split = "valid"
)

// ErrMissingDirectory is returned by Open when the split or a category directory does not exist
var ErrMissingDirectory = errors.New("Dataset directory not found")

// Entry is a single labelled image file
type Entry struct {
	Path  string
	Label int
}

// Sample is a decoded and transformed image, ready for the classifier
type Sample struct {
	Pixels []float32 // CHW, normalized
	Label  int
}

// Dataset is an immutable index of image files.
// Get is safe to call from multiple goroutines.
type Dataset struct {
	Root      string
	Split     Split
	transform *Transform
	entries   []Entry
	counts    []int
}

// Open enumerates root/<split>/<category>/ for every category in the catalog.
// Categories are visited in catalog order, and files within a category are visited in
// raw directory order.
func Open(root string, split Split, transform *Transform) (*Dataset, error) {
	ds := &Dataset{
		Root:      root,
		Split:     split,
		transform: transform,
		counts:    make([]int, emotion.NumClasses),
	}
	splitDir := filepath.Join(root, string(split))
	if st, err := os.Stat(splitDir); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%w: %v", ErrMissingDirectory, splitDir)
	}
	scratch := make([]byte, godirwalk.MinimumScratchBufferSize)
	for label, category := range emotion.Categories {
		dir := filepath.Join(splitDir, category)
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			return nil, fmt.Errorf("%w: %v", ErrMissingDirectory, dir)
		}
		dirents, err := godirwalk.ReadDirents(dir, scratch)
		if err != nil {
			return nil, fmt.Errorf("Failed to list %v: %w", dir, err)
		}
		for _, de := range dirents {
			full := filepath.Join(dir, de.Name())
			if de.IsDir() {
				return nil, fmt.Errorf("Unexpected directory %v inside category %v", full, category)
			}
			ds.entries = append(ds.entries, Entry{Path: full, Label: label})
			ds.counts[label]++
		}
	}
	return ds, nil
}

// Len returns the number of files in the index
func (d *Dataset) Len() int {
	return len(d.entries)
}

func (d *Dataset) Entry(i int) Entry {
	return d.entries[i]
}

// Counts returns the number of files in each category, indexed by class
func (d *Dataset) Counts() []int {
	return append([]int(nil), d.counts...)
}

// Labels returns the label of every entry, in index order
func (d *Dataset) Labels() []int {
	labels := make([]int, len(d.entries))
	for i, e := range d.entries {
		labels[i] = e.Label
	}
	return labels
}

// Get decodes entry i and runs it through the transform.
// A file that cannot be decoded is an error; nothing is skipped.
func (d *Dataset) Get(i int) (Sample, error) {
	if i < 0 || i >= len(d.entries) {
		return Sample{}, fmt.Errorf("Sample index %v out of range [0,%v)", i, len(d.entries))
	}
	e := d.entries[i]
	img, err := imaging.Open(e.Path, imaging.AutoOrientation(true))
	if err != nil {
		return Sample{}, fmt.Errorf("Failed to decode %v: %w", e.Path, err)
	}
	return Sample{
		Pixels: d.transform.Apply(img),
		Label:  e.Label,
	}, nil
}
