// Package config loads the optional moodcam.json file that supplies defaults to the
// command line tools. Flags given explicitly on the command line override it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const DefaultFilename = "moodcam.json"

type Train struct {
	DataPath       string  `json:"dataPath"`       // Root of the dataset, containing train/ and valid/
	Epochs         int     `json:"epochs"`         // Total number of epochs, including resumed ones
	BatchSize      int     `json:"batchSize"`      // Samples per batch
	ImageSize      int     `json:"imageSize"`      // Classifier input is ImageSize x ImageSize
	LearningRate   float64 `json:"learningRate"`   // Initial Adam learning rate
	Workers        int     `json:"workers"`        // Parallel image decoders
	LogPath        string  `json:"logPath"`        // Metric log directory. Cleared at the start of every run.
	CheckpointPath string  `json:"checkpointPath"` // Directory for last.pt and best.pt
	Backbone       string  `json:"backbone"`       // Optional pretrained backbone weights
	Channels       []int   `json:"channels"`       // Output channels of each backbone block
	ModelConfig    string  `json:"modelConfig"`    // Optional architecture JSON. Overrides ImageSize and Channels.
	Seed           uint64  `json:"seed"`           // Shuffle seed
}

type Annotate struct {
	Detector        string  `json:"detector"`        // "yolo" or "pigo"
	DetectorWeights string  `json:"detectorWeights"` // ONNX model for yolo, cascade file for pigo
	Checkpoint      string  `json:"checkpoint"`      // Classifier checkpoint, usually best.pt
	Camera          int     `json:"camera"`          // Camera index, used when Video is empty
	Video           string  `json:"video"`           // Video file to read instead of a camera
	Language        string  `json:"language"`        // Label language, "en" or "vi"
	ShowClassProb   bool    `json:"showClassProb"`   // Display the classifier's probability instead of the detector's confidence
	Threshold       float64 `json:"threshold"`       // Detector confidence threshold
	MinFaceSize     int     `json:"minFaceSize"`     // Smaller boxes are ignored
	SnapshotDir     string  `json:"snapshotDir"`     // If not empty, annotated frames are saved here
}

type Config struct {
	Train    Train    `json:"train"`
	Annotate Annotate `json:"annotate"`
}

// Default returns the built-in defaults, which are used for anything that the config
// file does not mention
func Default() *Config {
	return &Config{
		Train: Train{
			DataPath:       "dataset",
			Epochs:         100,
			BatchSize:      16,
			ImageSize:      260,
			LearningRate:   1e-4,
			Workers:        4,
			LogPath:        "runs/classifier",
			CheckpointPath: "checkpoints/classifier",
			Channels:       []int{32, 64, 128, 256},
			Seed:           1,
		},
		Annotate: Annotate{
			Detector:        "yolo",
			DetectorWeights: "yolov5s-face.onnx",
			Checkpoint:      "checkpoints/classifier/best.pt",
			Language:        "en",
			Threshold:       0.5,
			MinFaceSize:     30,
		},
	}
}

// LoadConfig reads filename on top of the defaults.
// An empty filename returns the defaults.
func LoadConfig(filename string) (*Config, error) {
	cfg := Default()
	if filename == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	return cfg, nil
}

// PeekFlag returns the value of a long flag (--name value or --name=value) from raw
// command line arguments, without parsing anything else. The config file has to be known
// before the real flags are declared, because its values become the flag defaults.
func PeekFlag(args []string, name string) string {
	long := "--" + name
	for i, a := range args {
		if a == long && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, long+"="); ok {
			return v
		}
	}
	return ""
}

// ParseInts parses a comma separated list such as "32,64,128"
func ParseInts(s string) ([]int, error) {
	r := []int{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("Invalid integer '%v' in list '%v'", p, s)
		}
		r = append(r, v)
	}
	return r, nil
}

// FormatInts is the inverse of ParseInts
func FormatInts(v []int) string {
	s := make([]string, len(v))
	for i, x := range v {
		s[i] = strconv.Itoa(x)
	}
	return strings.Join(s, ",")
}
