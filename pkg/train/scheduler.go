package train

import (
	"encoding/json"
	"math"
)

// PlateauScheduler reduces the learning rate when a metric that should be decreasing
// (validation loss) stops improving.
type PlateauScheduler struct {
	Factor       float64 `json:"factor"`    // New LR = old LR * Factor
	Patience     int     `json:"patience"`  // Number of bad epochs tolerated before reducing
	Threshold    float64 `json:"threshold"` // Relative improvement needed to count as better
	MinLR        float64 `json:"min_lr"`
	Best         float64 `json:"-"` // +Inf until the first epoch
	NumBadEpochs int     `json:"num_bad_epochs"`
	LastEpoch    int     `json:"last_epoch"`
}

// Below this, a reduction is not worth applying
const minLRDelta = 1e-8

func NewPlateauScheduler() *PlateauScheduler {
	return &PlateauScheduler{
		Factor:    0.5,
		Patience:  5,
		Threshold: 1e-4,
		MinLR:     1e-6,
		Best:      math.Inf(1),
	}
}

// Step records the metric for one epoch, and returns the learning rate to use from now on
func (s *PlateauScheduler) Step(metric, lr float64) (newLR float64, reduced bool) {
	s.LastEpoch++
	if metric < s.Best*(1-s.Threshold) {
		s.Best = metric
		s.NumBadEpochs = 0
	} else {
		s.NumBadEpochs++
	}
	if s.NumBadEpochs > s.Patience {
		s.NumBadEpochs = 0
		newLR = math.Max(lr*s.Factor, s.MinLR)
		if lr-newLR > minLRDelta {
			return newLR, true
		}
	}
	return lr, false
}

type plateauSchedulerJSON PlateauScheduler

// JSON has no infinity, so a scheduler that has not seen a metric yet stores null
func (s *PlateauScheduler) MarshalJSON() ([]byte, error) {
	v := struct {
		*plateauSchedulerJSON
		Best *float64 `json:"best"`
	}{plateauSchedulerJSON: (*plateauSchedulerJSON)(s)}
	if !math.IsInf(s.Best, 0) {
		v.Best = &s.Best
	}
	return json.Marshal(v)
}

func (s *PlateauScheduler) UnmarshalJSON(b []byte) error {
	v := struct {
		*plateauSchedulerJSON
		Best *float64 `json:"best"`
	}{plateauSchedulerJSON: (*plateauSchedulerJSON)(s)}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	s.Best = math.Inf(1)
	if v.Best != nil {
		s.Best = *v.Best
	}
	return nil
}
