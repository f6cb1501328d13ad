package runlog

import "github.com/cyclopcam/dbh"

// Run is one invocation of the training program
type Run struct {
	ID        string                         `gorm:"primaryKey" json:"id"`
	StartedAt dbh.IntTime                    `json:"startedAt"`
	Config    *dbh.JSONField[map[string]any] `json:"config"` // The settings that the run was started with
}

// Scalar is one point of a metric time series, such as validation loss per epoch
type Scalar struct {
	ID       int64       `gorm:"primaryKey" json:"id"`
	RunID    string      `json:"runId"`
	Tag      string      `json:"tag"` // eg "Val/Loss"
	Step     int         `json:"step"`
	Value    float64     `json:"value"`
	WallTime dbh.IntTime `json:"wallTime"`
}
