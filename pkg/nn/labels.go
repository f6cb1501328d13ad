package nn

// ObjectDetection is an object that a neural network has found in an image
type ObjectDetection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// ImageLabels are the annotations produced for a single image or video frame
type ImageLabels struct {
	Image   string      `json:"image,omitempty"` // Source filename, if any
	Frame   int         `json:"frame,omitempty"` // For video, this is the frame number
	Width   int         `json:"width"`
	Height  int         `json:"height"`
	Objects []FaceLabel `json:"objects"`
}

// FaceLabel is a detected face, together with the emotion predicted for it
type FaceLabel struct {
	Detection   ObjectDetection `json:"detection"`
	Class       int             `json:"class"`
	Label       string          `json:"label"`
	Probability float32         `json:"probability"`
}
