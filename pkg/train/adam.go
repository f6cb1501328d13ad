package train

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/moodcam/pkg/classifier"
)

// Adam is the Adam optimizer over a set of named parameters.
// Unlike gorgonia's solvers, all of its state is exported so that it can be saved in a
// checkpoint and restored on resume.
type Adam struct {
	LR    float64 `json:"lr"`
	Beta1 float64 `json:"beta1"`
	Beta2 float64 `json:"beta2"`
	Eps   float64 `json:"eps"`
	Steps int     `json:"steps"` // Number of optimizer steps taken so far

	// First and second moment estimates, keyed by parameter name
	M map[string][]float32 `json:"-"`
	V map[string][]float32 `json:"-"`
}

func NewAdam(lr float64) *Adam {
	return &Adam{
		LR:    lr,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
		M:     map[string][]float32{},
		V:     map[string][]float32{},
	}
}

// Step updates every parameter in place, using the gradients currently held in params
func (a *Adam) Step(params []classifier.Param) error {
	a.Steps++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.Steps))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.Steps))
	stepSize := float32(a.LR / bc1)
	sqrtBC2 := float32(math.Sqrt(bc2))
	b1 := float32(a.Beta1)
	b2 := float32(a.Beta2)
	eps := float32(a.Eps)

	for _, p := range params {
		if len(p.Grad) != len(p.Value) {
			return fmt.Errorf("Parameter '%v' has %v values but %v gradients", p.Name, len(p.Value), len(p.Grad))
		}
		m := a.M[p.Name]
		v := a.V[p.Name]
		if m == nil {
			m = make([]float32, len(p.Value))
			v = make([]float32, len(p.Value))
			a.M[p.Name] = m
			a.V[p.Name] = v
		}
		for i, g := range p.Grad {
			m[i] = b1*m[i] + (1-b1)*g
			v[i] = b2*v[i] + (1-b2)*g*g
			denom := math32.Sqrt(v[i])/sqrtBC2 + eps
			p.Value[i] -= stepSize * m[i] / denom
		}
	}
	return nil
}
