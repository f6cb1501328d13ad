package train

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"slices"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/moodcam/pkg/classifier"
	"github.com/cyclopcam/moodcam/pkg/emotion"
	"github.com/cyclopcam/moodcam/pkg/iox"
	"github.com/cyclopcam/moodcam/pkg/nn"
)

// ErrCorruptCheckpoint is returned when a checkpoint archive fails its integrity checks
var ErrCorruptCheckpoint = errors.New("Checkpoint is corrupt")

// Names of the entries inside a checkpoint archive
const (
	checkpointMetaFile  = "checkpoint.json"
	optimizerDir        = "optimizer_state_dict"
	optimizerStateFile  = "optimizer_state_dict/state.json"
	schedulerStateFile  = "scheduler_state.json"
	checkpointFormatVer = 1
)

// Checkpoint is everything needed to resume training, or to run inference
type Checkpoint struct {
	Epoch        int
	BestAccuracy float64
	Categories   []string
	ModelConfig  nn.ModelConfig
	Params       []classifier.Tensor
	Optimizer    *Adam
	Scheduler    *PlateauScheduler
}

// One .npy entry of the archive
type manifestEntry struct {
	File   string `json:"file"`
	Shape  []int  `json:"shape"`
	SHA256 string `json:"sha256"`
}

type checkpointMeta struct {
	Version      int             `json:"version"`
	Epoch        int             `json:"epoch"`
	BestAccuracy float64         `json:"best_accuracy"`
	Categories   []string        `json:"categories"`
	ModelConfig  nn.ModelConfig  `json:"model_config"`
	Params       []string        `json:"params"` // Parameter names, in model order
	Manifest     []manifestEntry `json:"manifest"`
}

func corrupt(filename, format string, args ...any) error {
	return fmt.Errorf("%w: %v: %v", ErrCorruptCheckpoint, filename, fmt.Sprintf(format, args...))
}

// SaveCheckpoint writes the checkpoint to a temporary file, and then renames it over filename,
// so that a crash never leaves a half written checkpoint behind.
func SaveCheckpoint(filename string, ck *Checkpoint) error {
	err := iox.WriteFileAtomic(filename, func(w io.Writer) error {
		return writeCheckpoint(w, ck)
	})
	if err != nil {
		return fmt.Errorf("Failed to write checkpoint %v: %w", filename, err)
	}
	return nil
}

func writeCheckpoint(out io.Writer, ck *Checkpoint) error {
	zw := zip.NewWriter(out)
	meta := checkpointMeta{
		Version:      checkpointFormatVer,
		Epoch:        ck.Epoch,
		BestAccuracy: ck.BestAccuracy,
		Categories:   ck.Categories,
		ModelConfig:  ck.ModelConfig,
	}

	writeTensor := func(file string, t classifier.Tensor) error {
		var buf bytes.Buffer
		if err := classifier.EncodeNpy(&buf, t.Shape, t.Data); err != nil {
			return err
		}
		w, err := zw.Create(file)
		if err != nil {
			return err
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
		sum := sha256.Sum256(buf.Bytes())
		meta.Manifest = append(meta.Manifest, manifestEntry{
			File:   file,
			Shape:  t.Shape,
			SHA256: hex.EncodeToString(sum[:]),
		})
		return nil
	}

	for _, p := range ck.Params {
		meta.Params = append(meta.Params, p.Name)
		if err := writeTensor(path.Join(classifier.ArchiveParamDir, p.Name+".npy"), p); err != nil {
			return err
		}
	}
	if ck.Optimizer != nil {
		for _, p := range ck.Params {
			m, v := ck.Optimizer.M[p.Name], ck.Optimizer.V[p.Name]
			if m == nil {
				// No step has been taken yet
				continue
			}
			if err := writeTensor(path.Join(optimizerDir, "m", p.Name+".npy"), classifier.Tensor{Name: p.Name, Shape: p.Shape, Data: m}); err != nil {
				return err
			}
			if err := writeTensor(path.Join(optimizerDir, "v", p.Name+".npy"), classifier.Tensor{Name: p.Name, Shape: p.Shape, Data: v}); err != nil {
				return err
			}
		}
		if err := writeJSON(zw, optimizerStateFile, ck.Optimizer); err != nil {
			return err
		}
	}
	if ck.Scheduler != nil {
		if err := writeJSON(zw, schedulerStateFile, ck.Scheduler); err != nil {
			return err
		}
	}
	if err := writeJSON(zw, checkpointMetaFile, &meta); err != nil {
		return err
	}
	return zw.Close()
}

func writeJSON(zw *zip.Writer, name string, v any) error {
	b, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return err
	}
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Read an entire archive entry. Reading to EOF makes the zip reader verify the CRC.
func readEntry(files map[string]*zip.File, name string) ([]byte, error) {
	f := files[name]
	if f == nil {
		return nil, fmt.Errorf("missing entry %v", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("entry %v: %w", name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("entry %v: %w", name, err)
	}
	return b, nil
}

// LoadCheckpoint reads and verifies a checkpoint.
// A missing file returns an error satisfying errors.Is(err, os.ErrNotExist).
// Any integrity failure returns an error satisfying errors.Is(err, ErrCorruptCheckpoint).
func LoadCheckpoint(filename string) (*Checkpoint, error) {
	if _, err := os.Stat(filename); err != nil {
		return nil, err
	}
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return nil, corrupt(filename, "%v", err)
	}
	defer zr.Close()

	files := map[string]*zip.File{}
	for _, f := range zr.File {
		files[f.Name] = f
	}

	raw, err := readEntry(files, checkpointMetaFile)
	if err != nil {
		return nil, corrupt(filename, "%v", err)
	}
	meta := checkpointMeta{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, corrupt(filename, "entry %v: %v", checkpointMetaFile, err)
	}
	if meta.Version != checkpointFormatVer {
		return nil, fmt.Errorf("Checkpoint %v has unsupported format version %v", filename, meta.Version)
	}

	// Verify and decode every tensor listed in the manifest
	tensors := map[string]classifier.Tensor{}
	for _, me := range meta.Manifest {
		raw, err := readEntry(files, me.File)
		if err != nil {
			return nil, corrupt(filename, "%v", err)
		}
		sum := sha256.Sum256(raw)
		if hex.EncodeToString(sum[:]) != me.SHA256 {
			return nil, corrupt(filename, "entry %v: SHA-256 mismatch", me.File)
		}
		shape, data, err := classifier.DecodeNpy(bytes.NewReader(raw))
		if err != nil {
			return nil, corrupt(filename, "entry %v: %v", me.File, err)
		}
		if !slices.Equal(shape, me.Shape) {
			return nil, corrupt(filename, "entry %v: shape %v does not match manifest shape %v", me.File, shape, me.Shape)
		}
		tensors[me.File] = classifier.Tensor{Shape: shape, Data: data}
	}

	ck := &Checkpoint{
		Epoch:        meta.Epoch,
		BestAccuracy: meta.BestAccuracy,
		Categories:   meta.Categories,
		ModelConfig:  meta.ModelConfig,
	}
	for _, name := range meta.Params {
		t, ok := tensors[path.Join(classifier.ArchiveParamDir, name+".npy")]
		if !ok {
			return nil, corrupt(filename, "parameter %v is not in the manifest", name)
		}
		t.Name = name
		ck.Params = append(ck.Params, t)
	}

	if files[optimizerStateFile] != nil {
		raw, err := readEntry(files, optimizerStateFile)
		if err != nil {
			return nil, corrupt(filename, "%v", err)
		}
		opt := NewAdam(0)
		if err := json.Unmarshal(raw, opt); err != nil {
			return nil, corrupt(filename, "entry %v: %v", optimizerStateFile, err)
		}
		for _, name := range meta.Params {
			m, hasM := tensors[path.Join(optimizerDir, "m", name+".npy")]
			v, hasV := tensors[path.Join(optimizerDir, "v", name+".npy")]
			if hasM != hasV {
				return nil, corrupt(filename, "optimizer moments for %v are incomplete", name)
			}
			if hasM {
				opt.M[name] = m.Data
				opt.V[name] = v.Data
			}
		}
		ck.Optimizer = opt
	}

	if files[schedulerStateFile] != nil {
		raw, err := readEntry(files, schedulerStateFile)
		if err != nil {
			return nil, corrupt(filename, "%v", err)
		}
		sched := NewPlateauScheduler()
		if err := json.Unmarshal(raw, sched); err != nil {
			return nil, corrupt(filename, "entry %v: %v", schedulerStateFile, err)
		}
		ck.Scheduler = sched
	}
	return ck, nil
}

// LoadPredictor reads a checkpoint and builds an inference-only classifier from it.
// The checkpoint's categories must match the expected categories exactly.
func LoadPredictor(log logs.Log, filename string) (*classifier.Predictor, *Checkpoint, error) {
	ck, err := LoadCheckpoint(filename)
	if err != nil {
		return nil, nil, err
	}
	if err := emotion.VerifyCategories(ck.Categories); err != nil {
		return nil, nil, fmt.Errorf("Checkpoint %v: %w", filename, err)
	}
	p, err := classifier.NewPredictor(log, &ck.ModelConfig, ck.Params)
	if err != nil {
		return nil, nil, fmt.Errorf("Checkpoint %v: %w", filename, err)
	}
	return p, ck, nil
}
