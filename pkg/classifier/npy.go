package classifier

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"

	"gorgonia.org/tensor"
)

// EncodeNpy writes a float32 tensor in numpy's .npy format
func EncodeNpy(w io.Writer, shape []int, data []float32) error {
	t := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	return t.WriteNpy(w)
}

// DecodeNpy reads a float32 tensor in numpy's .npy format
func DecodeNpy(r io.Reader) ([]int, []float32, error) {
	t := new(tensor.Dense)
	if err := t.ReadNpy(r); err != nil {
		return nil, nil, err
	}
	if t.Dtype() != tensor.Float32 {
		return nil, nil, fmt.Errorf("Expected float32 tensor, but found %v", t.Dtype())
	}
	return slices.Clone([]int(t.Shape())), t.Float32s(), nil
}

// Tensor is a named, shaped block of float32 values
type Tensor struct {
	Name  string
	Shape []int
	Data  []float32
}

// ReadTensors reads every <dir>/*.npy file in the archive, in archive order
func ReadTensors(zr *zip.Reader, dir string) ([]Tensor, error) {
	prefix := dir + "/"
	tensors := []Tensor{}
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, prefix) || !strings.HasSuffix(f.Name, ".npy") {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(f.Name, prefix), ".npy")
		if strings.Contains(name, "/") {
			continue
		}
		t, err := ReadTensor(f)
		if err != nil {
			return nil, err
		}
		t.Name = name
		tensors = append(tensors, t)
	}
	return tensors, nil
}

// ReadTensor decodes a single .npy archive entry.
// The whole entry is read before decoding, so that the zip CRC check runs.
func ReadTensor(f *zip.File) (Tensor, error) {
	rc, err := f.Open()
	if err != nil {
		return Tensor{}, fmt.Errorf("%v: %w", f.Name, err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return Tensor{}, fmt.Errorf("%v: %w", f.Name, err)
	}
	shape, data, err := DecodeNpy(bytes.NewReader(raw))
	if err != nil {
		return Tensor{}, fmt.Errorf("%v: %w", f.Name, err)
	}
	return Tensor{Shape: shape, Data: data}, nil
}

// Snapshot returns a copy of the current parameter values
func (m *Model) Snapshot() []Tensor {
	params := m.Parameters()
	out := make([]Tensor, len(params))
	for i, p := range params {
		out[i] = Tensor{
			Name:  p.Name,
			Shape: p.Shape,
			Data:  slices.Clone(p.Value),
		}
	}
	return out
}

// Restore copies every parameter from tensors. All parameters must be present.
func (m *Model) Restore(tensors []Tensor) error {
	byName := map[string]Tensor{}
	for _, t := range tensors {
		byName[t.Name] = t
	}
	for _, p := range m.Parameters() {
		t, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("Parameter '%v' is missing", p.Name)
		}
		if err := m.SetParameter(p.Name, t.Shape, t.Data); err != nil {
			return err
		}
	}
	return nil
}
