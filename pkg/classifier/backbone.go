package classifier

import (
	"archive/zip"
	"fmt"
	"strings"
)

// Directory inside a parameter archive that holds the tensors
const ArchiveParamDir = "model_state_dict"

// LoadBackbone copies the pretrained backbone weights from a parameter archive into the model.
// The archive is a zip file of model_state_dict/<name>.npy entries, such as a checkpoint
// from a previous run. Head tensors in the archive are ignored, because the head is
// always trained from scratch for our categories.
func (m *Model) LoadBackbone(filename string) error {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return fmt.Errorf("Failed to open backbone archive %v: %w", filename, err)
	}
	defer zr.Close()

	tensors, err := ReadTensors(&zr.Reader, ArchiveParamDir)
	if err != nil {
		return fmt.Errorf("Failed to read backbone archive %v: %w", filename, err)
	}
	byName := map[string]Tensor{}
	for _, t := range tensors {
		byName[t.Name] = t
	}

	nLoaded := 0
	missing := []string{}
	for _, p := range m.Parameters() {
		if !IsBackbone(p.Name) {
			continue
		}
		t, ok := byName[p.Name]
		if !ok {
			missing = append(missing, p.Name)
			continue
		}
		if err := m.SetParameter(p.Name, t.Shape, t.Data); err != nil {
			return fmt.Errorf("Backbone archive %v: %w", filename, err)
		}
		nLoaded++
	}
	if len(missing) != 0 {
		return fmt.Errorf("Backbone archive %v is missing %v", filename, strings.Join(missing, ", "))
	}
	m.log.Infof("Loaded %v backbone tensors from %v", nLoaded, filename)
	return nil
}
