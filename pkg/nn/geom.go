package nn

// Rect is an axis aligned box in pixel coordinates
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Make a rectangle from its two corners (x2,y2 exclusive)
func RectFromCorners(x1, y1, x2, y2 int) Rect {
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}

func (r Rect) X2() int {
	return r.X + r.Width
}

func (r Rect) Y2() int {
	return r.Y + r.Height
}

func (r Rect) Area() int {
	return r.Width * r.Height
}

func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Intersection returns the overlap of two boxes, which is Empty if they are disjoint
func (r Rect) Intersection(b Rect) Rect {
	x1, y1 := max(r.X, b.X), max(r.Y, b.Y)
	x2, y2 := min(r.X2(), b.X2()), min(r.Y2(), b.Y2())
	return RectFromCorners(x1, y1, max(x1, x2), max(y1, y2))
}

// Union returns the smallest box that contains both boxes
func (r Rect) Union(b Rect) Rect {
	return RectFromCorners(min(r.X, b.X), min(r.Y, b.Y), max(r.X2(), b.X2()), max(r.Y2(), b.Y2()))
}

// Intersection over Union.
// Returns 0 when the boxes don't overlap, or when both boxes are degenerate.
func (r Rect) IOU(b Rect) float32 {
	intersection := r.Intersection(b).Area()
	union := r.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return float32(intersection) / float32(union)
}

func (r *Rect) Offset(dx, dy int) {
	r.X += dx
	r.Y += dy
}
