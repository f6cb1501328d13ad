package classifier

import (
	"fmt"

	"github.com/cyclopcam/moodcam/pkg/nn"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// paramSpec describes one learnable tensor of the network
type paramSpec struct {
	name  string
	shape tensor.Shape
	init  G.InitWFn
}

// Shapes of all parameters, in a stable order. Backbone first, then the head.
func paramSpecs(cfg *nn.ModelConfig) []paramSpec {
	specs := []paramSpec{}
	inCh := 3
	for i, outCh := range cfg.Channels {
		specs = append(specs,
			paramSpec{fmt.Sprintf("%vconv%v.w", BackbonePrefix, i), tensor.Shape{outCh, inCh, 3, 3}, G.GlorotN(1)},
			paramSpec{fmt.Sprintf("%vconv%v.b", BackbonePrefix, i), tensor.Shape{1, outCh, 1, 1}, G.Zeroes()},
		)
		inCh = outCh
	}
	nClasses := len(cfg.Classes)
	specs = append(specs,
		paramSpec{HeadPrefix + "w", tensor.Shape{inCh, nClasses}, G.GlorotU(1)},
		paramSpec{HeadPrefix + "b", tensor.Shape{1, nClasses}, G.Zeroes()},
	)
	return specs
}

// Size of the feature map after the backbone has finished downsampling
func featureSize(cfg *nn.ModelConfig) (int, int) {
	w, h := cfg.Width, cfg.Height
	for range cfg.Channels {
		w /= 2
		h /= 2
	}
	return w, h
}

// network is one compiled graph (training or evaluation) with its input and output nodes
type network struct {
	g       *G.ExprGraph
	params  []*G.Node
	input   *G.Node // (batch, 3, H, W)
	targets *G.Node // (batch, classes), only used by the loss
	logits  *G.Node
	probs   *G.Node
	cost    *G.Node
	vm      G.VM

	probsVal G.Value
	costVal  G.Value
}

// Build the graph. If values is not nil, the parameter nodes are bound to those values,
// otherwise they must be bound with G.Let before running.
func buildNetwork(cfg *nn.ModelConfig, batch int, specs []paramSpec, values []*tensor.Dense) (*network, error) {
	n := &network{
		g: G.NewGraph(),
	}
	for i, s := range specs {
		opts := []G.NodeConsOpt{G.WithShape(s.shape...), G.WithName(s.name)}
		if values != nil {
			opts = append(opts, G.WithValue(values[i]))
		}
		n.params = append(n.params, G.NewTensor(n.g, tensor.Float32, len(s.shape), opts...))
	}
	n.input = G.NewTensor(n.g, tensor.Float32, 4, G.WithShape(batch, 3, cfg.Height, cfg.Width), G.WithName("input"))

	x := n.input
	var err error
	for i := range cfg.Channels {
		w := n.params[i*2]
		b := n.params[i*2+1]
		if x, err = G.Conv2d(x, w, tensor.Shape{3, 3}, []int{1, 1}, []int{1, 1}, []int{1, 1}); err != nil {
			return nil, fmt.Errorf("conv%v: %w", i, err)
		}
		if x, err = G.BroadcastAdd(x, b, nil, []byte{0, 2, 3}); err != nil {
			return nil, fmt.Errorf("conv%v bias: %w", i, err)
		}
		if x, err = G.Rectify(x); err != nil {
			return nil, fmt.Errorf("conv%v relu: %w", i, err)
		}
		if x, err = G.MaxPool2D(x, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2}); err != nil {
			return nil, fmt.Errorf("conv%v pool: %w", i, err)
		}
	}

	// Global average pool
	fw, fh := featureSize(cfg)
	nFeatures := cfg.Channels[len(cfg.Channels)-1]
	if x, err = G.Reshape(x, tensor.Shape{batch, nFeatures, fw * fh}); err != nil {
		return nil, fmt.Errorf("pool reshape: %w", err)
	}
	if x, err = G.Mean(x, 2); err != nil {
		return nil, fmt.Errorf("pool mean: %w", err)
	}

	headW := n.params[len(n.params)-2]
	headB := n.params[len(n.params)-1]
	if x, err = G.Mul(x, headW); err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	if n.logits, err = G.BroadcastAdd(x, headB, nil, []byte{0}); err != nil {
		return nil, fmt.Errorf("head bias: %w", err)
	}
	if n.probs, err = G.SoftMax(n.logits, 1); err != nil {
		return nil, fmt.Errorf("softmax: %w", err)
	}
	G.Read(n.probs, &n.probsVal)

	// Cross entropy against smoothed targets. The targets are pre-scaled by 1/N,
	// and zero for padding rows, so the sum is the mean over the real samples.
	n.targets = G.NewMatrix(n.g, tensor.Float32, G.WithShape(batch, len(cfg.Classes)), G.WithName("targets"))
	logp, err := G.Log(n.probs)
	if err != nil {
		return nil, err
	}
	prod, err := G.HadamardProd(n.targets, logp)
	if err != nil {
		return nil, err
	}
	sum, err := G.Sum(prod)
	if err != nil {
		return nil, err
	}
	if n.cost, err = G.Neg(sum); err != nil {
		return nil, err
	}
	G.Read(n.cost, &n.costVal)
	return n, nil
}

// Copy float32 data into a (batch, ...) tensor, zero padding the rows after n
func padBatch(dst []float32, src []float32) {
	copy(dst, src)
	clear(dst[len(src):])
}
