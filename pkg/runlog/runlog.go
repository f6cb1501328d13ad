// Package runlog records the metrics of a training run: scalar time series in an sqlite
// database, and confusion matrices as PNG images.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const DBFilename = "metrics.sqlite"
const ConfusionMatrixDir = "confusion_matrix"

type RunLog struct {
	Log   logs.Log
	Dir   string
	RunID string
	db    *gorm.DB
}

// Open wipes dir, recreates it, and starts a new run inside it.
// config is stored alongside the run, and may be nil.
func Open(log logs.Log, dir string, config any) (*RunLog, error) {
	dir = filepath.Clean(dir)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("Failed to clear log directory '%v': %w", dir, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, ConfusionMatrixDir), 0755); err != nil {
		return nil, fmt.Errorf("Failed to create log directory '%v': %w", dir, err)
	}

	dbPath := filepath.Join(dir, DBFilename)
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbPath), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open metrics database %v: %w", dbPath, err)
	}

	r := &RunLog{
		Log:   log,
		Dir:   dir,
		RunID: uuid.NewString(),
		db:    db,
	}
	run := &Run{
		ID:        r.RunID,
		StartedAt: dbh.MakeIntTime(time.Now()),
	}
	if config != nil {
		// Round trip through JSON so that any struct can be stored
		raw, err := json.Marshal(config)
		if err != nil {
			r.Close()
			return nil, err
		}
		m := map[string]any{}
		if err := json.Unmarshal(raw, &m); err != nil {
			r.Close()
			return nil, err
		}
		run.Config = &dbh.JSONField[map[string]any]{Data: m}
	}
	if err := db.Create(run).Error; err != nil {
		r.Close()
		return nil, err
	}
	log.Infof("Logging run %v to %v", r.RunID, dir)
	return r, nil
}

func (r *RunLog) Close() {
	if sqlDB, err := r.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// AddScalar appends a point to the time series named tag
func (r *RunLog) AddScalar(tag string, step int, value float64) error {
	s := &Scalar{
		RunID:    r.RunID,
		Tag:      tag,
		Step:     step,
		Value:    value,
		WallTime: dbh.MakeIntTime(time.Now()),
	}
	return r.db.Create(s).Error
}

// Scalars returns the series named tag for this run, ordered by step
func (r *RunLog) Scalars(tag string) ([]Scalar, error) {
	series := []Scalar{}
	err := r.db.Where("run_id = ? AND tag = ?", r.RunID, tag).Order("step, id").Find(&series).Error
	return series, err
}

// Tags returns the distinct scalar tags recorded in this run
func (r *RunLog) Tags() ([]string, error) {
	tags := []string{}
	err := r.db.Model(&Scalar{}).Where("run_id = ?", r.RunID).Distinct().Order("tag").Pluck("tag", &tags).Error
	return tags, err
}

// ConfusionMatrixPath is the image file written for the given epoch
func (r *RunLog) ConfusionMatrixPath(step int) string {
	return filepath.Join(r.Dir, ConfusionMatrixDir, fmt.Sprintf("epoch_%04d.png", step))
}

// AddConfusionMatrix renders the row-normalized matrix and saves it as a PNG
func (r *RunLog) AddConfusionMatrix(step int, matrix [][]int, categories []string) error {
	dc, err := RenderConfusionMatrix(matrix, categories, fmt.Sprintf("Confusion matrix, epoch %v", step))
	if err != nil {
		return err
	}
	return dc.SavePNG(r.ConfusionMatrixPath(step))
}
