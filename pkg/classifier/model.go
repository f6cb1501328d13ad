// Package classifier is the emotion classification network: a convolutional backbone
// followed by a linear head with one output per emotion category.
package classifier

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/moodcam/pkg/nn"
	"github.com/cyclopcam/moodcam/pkg/stats"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const BackbonePrefix = "backbone."
const HeadPrefix = "head."

// LabelSmoothing is the amount of probability mass spread evenly over all classes in the training targets
const LabelSmoothing = 0.1

// Param is a view of one learnable tensor. Value and Grad alias the model's storage,
// so writing to Value updates the model.
type Param struct {
	Name  string
	Shape []int
	Value []float32
	Grad  []float32 // Nil when the model has no training graph
}

// StepResult is the outcome of running one batch through the network
type StepResult struct {
	Loss        float32   // Mean loss over the real samples of the batch
	Predictions []int     // Argmax class of each real sample
	Confidence  []float32 // Softmax probability of the predicted class
}

// Model owns the parameters, and a training graph and/or an evaluation graph.
// The graphs have a fixed batch size. Shorter batches are zero padded.
type Model struct {
	Config    nn.ModelConfig
	BatchSize int

	log    logs.Log
	specs  []paramSpec
	train  *network // nil for inference-only models
	eval   *network
	canon  []*G.Node // The nodes that own the parameter values
	inBuf  *tensor.Dense
	tgtBuf *tensor.Dense
}

// New builds a model with freshly initialized parameters.
// If training is false, only the evaluation graph is built.
func New(log logs.Log, cfg *nn.ModelConfig, batchSize int, training bool) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fw, fh := featureSize(cfg); fw < 1 || fh < 1 {
		return nil, fmt.Errorf("Input size %vx%v is too small for %v pooling stages", cfg.Width, cfg.Height, len(cfg.Channels))
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("Invalid batch size %v", batchSize)
	}
	m := &Model{
		Config:    *cfg,
		BatchSize: batchSize,
		log:       log,
		specs:     paramSpecs(cfg),
	}

	values := make([]*tensor.Dense, len(m.specs))
	for i, s := range m.specs {
		values[i] = tensor.New(tensor.WithShape(s.shape...), tensor.WithBacking(s.init(tensor.Float32, s.shape...)))
	}

	var err error
	if training {
		if m.train, err = buildNetwork(cfg, batchSize, m.specs, values); err != nil {
			return nil, fmt.Errorf("Failed to build training graph: %w", err)
		}
		if _, err = G.Grad(m.train.cost, m.train.params...); err != nil {
			return nil, fmt.Errorf("Failed to build gradients: %w", err)
		}
		m.train.vm = G.NewTapeMachine(m.train.g, G.BindDualValues(m.train.params...))
		m.canon = m.train.params
		if m.eval, err = buildNetwork(cfg, batchSize, m.specs, nil); err != nil {
			return nil, fmt.Errorf("Failed to build evaluation graph: %w", err)
		}
	} else {
		if m.eval, err = buildNetwork(cfg, batchSize, m.specs, values); err != nil {
			return nil, fmt.Errorf("Failed to build evaluation graph: %w", err)
		}
		m.canon = m.eval.params
	}
	m.eval.vm = G.NewTapeMachine(m.eval.g)

	m.inBuf = tensor.New(tensor.WithShape(batchSize, 3, cfg.Height, cfg.Width), tensor.Of(tensor.Float32))
	m.tgtBuf = tensor.New(tensor.WithShape(batchSize, len(cfg.Classes)), tensor.Of(tensor.Float32))
	return m, nil
}

// Close releases the graph machines
func (m *Model) Close() {
	if m.train != nil {
		m.train.vm.Close()
	}
	m.eval.vm.Close()
}

// Number of float32 values in one input sample
func (m *Model) SampleSize() int {
	return 3 * m.Config.Width * m.Config.Height
}

func (m *Model) NumClasses() int {
	return len(m.Config.Classes)
}

// Parameters returns views of every learnable tensor, backbone first
func (m *Model) Parameters() []Param {
	params := make([]Param, len(m.canon))
	for i, node := range m.canon {
		p := Param{
			Name:  m.specs[i].name,
			Shape: slices.Clone([]int(m.specs[i].shape)),
			Value: node.Value().Data().([]float32),
		}
		if m.train != nil {
			if g, err := node.Grad(); err == nil && g != nil {
				p.Grad = g.Data().([]float32)
			}
		}
		params[i] = p
	}
	return params
}

// Parameter returns the named parameter, or false if there is no such parameter
func (m *Model) Parameter(name string) (Param, bool) {
	for _, p := range m.Parameters() {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// NumParameters is the total number of learnable scalars
func (m *Model) NumParameters() int {
	total := 0
	for _, s := range m.specs {
		total += s.shape.TotalSize()
	}
	return total
}

// SetParameter copies data into the named parameter, which must have the same shape
func (m *Model) SetParameter(name string, shape []int, data []float32) error {
	p, ok := m.Parameter(name)
	if !ok {
		return fmt.Errorf("Unknown parameter '%v'", name)
	}
	if !slices.Equal(p.Shape, shape) {
		return fmt.Errorf("Parameter '%v' has shape %v, but the supplied tensor has shape %v", name, p.Shape, shape)
	}
	copy(p.Value, data)
	return nil
}

func (m *Model) checkBatch(pixels []float32, labels []int) (int, error) {
	ss := m.SampleSize()
	if len(pixels)%ss != 0 {
		return 0, fmt.Errorf("Pixel buffer of %v values is not a whole number of %v-value samples", len(pixels), ss)
	}
	n := len(pixels) / ss
	if n == 0 || n > m.BatchSize {
		return 0, fmt.Errorf("Batch of %v samples does not fit model batch size %v", n, m.BatchSize)
	}
	if labels != nil && len(labels) != n {
		return 0, fmt.Errorf("Batch has %v samples but %v labels", n, len(labels))
	}
	return n, nil
}

// Fill the target buffer with label smoothed one-hot rows, scaled by 1/n
func (m *Model) fillTargets(labels []int) error {
	nc := m.NumClasses()
	tgt := m.tgtBuf.Data().([]float32)
	clear(tgt)
	scale := 1 / float32(len(labels))
	off := float32(LabelSmoothing) / float32(nc)
	for i, label := range labels {
		if label < 0 || label >= nc {
			return fmt.Errorf("Label %v out of range [0,%v)", label, nc)
		}
		row := tgt[i*nc : (i+1)*nc]
		for c := range row {
			row[c] = off * scale
		}
		row[label] += (1 - LabelSmoothing) * scale
	}
	return nil
}

func (m *Model) result(net *network, n int, withLoss bool) StepResult {
	nc := m.NumClasses()
	probs := net.probsVal.Data().([]float32)
	r := StepResult{
		Predictions: make([]int, n),
		Confidence:  make([]float32, n),
	}
	for i := 0; i < n; i++ {
		row := probs[i*nc : (i+1)*nc]
		best := stats.Argmax(row)
		r.Predictions[i] = best
		r.Confidence[i] = row[best]
	}
	if withLoss {
		r.Loss = net.costVal.Data().(float32)
	}
	return r
}

func (m *Model) zeroGrads() {
	for _, node := range m.train.params {
		if g, err := node.Grad(); err == nil && g != nil {
			clear(g.Data().([]float32))
		}
	}
}

// TrainStep runs forward and backward passes over one batch. Afterwards the Grad of every
// Param holds the gradient of the mean loss. The parameters are not modified.
func (m *Model) TrainStep(pixels []float32, labels []int) (StepResult, error) {
	if m.train == nil {
		return StepResult{}, fmt.Errorf("Model was built without a training graph")
	}
	n, err := m.checkBatch(pixels, labels)
	if err != nil {
		return StepResult{}, err
	}
	if err := m.fillTargets(labels); err != nil {
		return StepResult{}, err
	}
	padBatch(m.inBuf.Data().([]float32), pixels)
	m.train.vm.Reset()
	// Backprop adds into the gradient buffers, so they must start from zero
	m.zeroGrads()
	if err := G.Let(m.train.input, m.inBuf); err != nil {
		return StepResult{}, err
	}
	if err := G.Let(m.train.targets, m.tgtBuf); err != nil {
		return StepResult{}, err
	}
	if err := m.train.vm.RunAll(); err != nil {
		return StepResult{}, fmt.Errorf("Training forward/backward failed: %w", err)
	}
	return m.result(m.train, n, true), nil
}

// Evaluate runs a forward pass only. If labels is nil, Loss is not computed.
func (m *Model) Evaluate(pixels []float32, labels []int) (StepResult, error) {
	n, err := m.checkBatch(pixels, labels)
	if err != nil {
		return StepResult{}, err
	}
	withLoss := labels != nil
	if withLoss {
		if err := m.fillTargets(labels); err != nil {
			return StepResult{}, err
		}
	} else {
		// Any finite target will do, the loss is discarded
		clear(m.tgtBuf.Data().([]float32))
	}
	padBatch(m.inBuf.Data().([]float32), pixels)
	m.eval.vm.Reset()
	if m.train != nil {
		// Share the training graph's parameters
		for i, node := range m.eval.params {
			if err := G.Let(node, m.train.params[i].Value()); err != nil {
				return StepResult{}, err
			}
		}
	}
	if err := G.Let(m.eval.input, m.inBuf); err != nil {
		return StepResult{}, err
	}
	if err := G.Let(m.eval.targets, m.tgtBuf); err != nil {
		return StepResult{}, err
	}
	if err := m.eval.vm.RunAll(); err != nil {
		return StepResult{}, fmt.Errorf("Forward pass failed: %w", err)
	}
	return m.result(m.eval, n, withLoss), nil
}

// Probabilities returns the softmax output of the most recent Evaluate, for the first n samples
func (m *Model) Probabilities(n int) [][]float32 {
	nc := m.NumClasses()
	probs := m.eval.probsVal.Data().([]float32)
	out := make([][]float32, n)
	for i := range out {
		out[i] = slices.Clone(probs[i*nc : (i+1)*nc])
	}
	return out
}

// Return an error if any parameter contains NaN or Inf
func (m *Model) CheckFinite() error {
	for _, p := range m.Parameters() {
		if i := stats.FirstNonFinite(p.Value); i != -1 {
			return fmt.Errorf("Parameter '%v' is not finite at element %v", p.Name, i)
		}
	}
	return nil
}

// IsBackbone is true for parameters that belong to the backbone
func IsBackbone(name string) bool {
	return strings.HasPrefix(name, BackbonePrefix)
}
