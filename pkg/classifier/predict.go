package classifier

import (
	"fmt"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/moodcam/pkg/nn"
)

// Prediction is the classifier's answer for a single face
type Prediction struct {
	Class       int
	Label       string
	Probability float32
}

// Predictor classifies one image at a time, without gradients
type Predictor struct {
	model *Model
}

// NewPredictor creates a batch-1 evaluation model and loads tensors into it
func NewPredictor(log logs.Log, cfg *nn.ModelConfig, params []Tensor) (*Predictor, error) {
	m, err := New(log, cfg, 1, false)
	if err != nil {
		return nil, err
	}
	if err := m.Restore(params); err != nil {
		m.Close()
		return nil, err
	}
	return &Predictor{model: m}, nil
}

func (p *Predictor) Close() {
	p.model.Close()
}

func (p *Predictor) Config() *nn.ModelConfig {
	return &p.model.Config
}

// Predict classifies a single transformed sample (CHW, normalized)
func (p *Predictor) Predict(pixels []float32) (Prediction, error) {
	if len(pixels) != p.model.SampleSize() {
		return Prediction{}, fmt.Errorf("Expected %v input values, but got %v", p.model.SampleSize(), len(pixels))
	}
	r, err := p.model.Evaluate(pixels, nil)
	if err != nil {
		return Prediction{}, err
	}
	class := r.Predictions[0]
	return Prediction{
		Class:       class,
		Label:       p.model.Config.Classes[class],
		Probability: r.Confidence[0],
	}, nil
}

// Probabilities returns the softmax output for a single transformed sample
func (p *Predictor) Probabilities(pixels []float32) ([]float32, error) {
	if _, err := p.Predict(pixels); err != nil {
		return nil, err
	}
	return p.model.Probabilities(1)[0], nil
}
