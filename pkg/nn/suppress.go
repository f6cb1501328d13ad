package nn

import (
	"cmp"
	"slices"

	flatbush "github.com/bmharper/flatbush-go"
)

// Defaults for the second, face specific, deduplication pass
const DefaultMinFaceSize = 30
const DefaultDuplicateIoU = 0.5

// DeduplicateBoxes is a coarse second pass over the output of a face detector,
// which has already done its own confidence filtering and NMS.
// We walk the boxes in their input order (descending confidence). A box is dropped if
// its width or height is below minSize, or if its IoU with any box that we've already
// accepted exceeds maxIoU. Earlier boxes always win, regardless of the confidence of
// later boxes.
func DeduplicateBoxes(input []ObjectDetection, minSize int, maxIoU float32) []ObjectDetection {
	return suppress(input, minSize, maxIoU)
}

// NonMaxSuppression sorts the boxes by descending confidence, and greedily removes any
// box whose IoU with a stronger box exceeds iouThreshold.
// This is the detector's own suppression, before DeduplicateBoxes.
func NonMaxSuppression(input []ObjectDetection, iouThreshold float32) []ObjectDetection {
	sorted := slices.Clone(input)
	slices.SortStableFunc(sorted, func(a, b ObjectDetection) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	return suppress(sorted, 0, iouThreshold)
}

// Greedy suppression, with the accepted set as the only state carried between iterations.
func suppress(input []ObjectDetection, minSize int, maxIoU float32) []ObjectDetection {
	if len(input) == 0 {
		return nil
	}

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(input))
	for _, b := range input {
		fb.Add(int32(b.Box.X), int32(b.Box.Y), int32(b.Box.X2()), int32(b.Box.Y2()))
	}
	fb.Finish()

	accepted := make([]bool, len(input))
	retain := make([]ObjectDetection, 0, len(input))

	for i, in := range input {
		if in.Box.Width < minSize || in.Box.Height < minSize || in.Box.Empty() {
			continue
		}
		duplicate := false
		for _, j := range fb.Search(int32(in.Box.X), int32(in.Box.Y), int32(in.Box.X2()), int32(in.Box.Y2())) {
			// Only boxes before us can be in the accepted set
			if j >= i || !accepted[j] {
				continue
			}
			if in.Box.IOU(input[j].Box) > maxIoU {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		accepted[i] = true
		retain = append(retain, in)
	}
	return retain
}
