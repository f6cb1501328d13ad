// Package perfstats accumulates timings and counts, so that the realtime pipeline can
// report where its time goes.
package perfstats

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/exp/constraints"
)

// Two scalars (N samples and X total amount), which can measure total and average values.
type Accumulator[T constraints.Integer | constraints.Float] struct {
	Samples int64
	Total   T
}

func (a *Accumulator[T]) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *Accumulator[T]) AddSample(v T) {
	a.Samples++
	a.Total += v
}

func (a *Accumulator[T]) Average() float64 {
	if a.Samples == 0 {
		return 0
	}
	return float64(a.Total) / float64(a.Samples)
}

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
	Max     time.Duration
}

func (a *TimeAccumulator) Reset() {
	*a = TimeAccumulator{}
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
	a.Max = max(a.Max, v)
}

// Add the time elapsed since start
func (a *TimeAccumulator) Since(start time.Time) {
	a.AddSample(time.Since(start))
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// MovingAverage is an exponential moving average with a window of roughly 64 samples.
// The first sample initializes it.
type MovingAverage struct {
	Value float64
	init  bool
}

func (m *MovingAverage) Update(v float64) {
	if !m.init {
		m.Value = v
		m.init = true
	} else {
		m.Value = (m.Value*63 + v) / 64
	}
}

// Stages holds one TimeAccumulator per named pipeline stage, in the order they were added
type Stages struct {
	names []string
	acc   map[string]*TimeAccumulator
}

func NewStages(names ...string) *Stages {
	s := &Stages{acc: map[string]*TimeAccumulator{}}
	for _, n := range names {
		s.names = append(s.names, n)
		s.acc[n] = &TimeAccumulator{}
	}
	return s
}

// Get returns the accumulator of a stage, creating it if necessary
func (s *Stages) Get(name string) *TimeAccumulator {
	a, ok := s.acc[name]
	if !ok {
		a = &TimeAccumulator{}
		s.acc[name] = a
		s.names = append(s.names, name)
	}
	return a
}

func (s *Stages) Reset() {
	for _, a := range s.acc {
		a.Reset()
	}
}

// String returns something like "detect 12.1ms (max 20.0ms), classify 3.2ms (max 4.0ms)"
func (s *Stages) String() string {
	b := &strings.Builder{}
	for i, n := range s.names {
		if i != 0 {
			b.WriteString(", ")
		}
		a := s.acc[n]
		fmt.Fprintf(b, "%v %.1fms (max %.1fms)", n, ms(a.Average()), ms(a.Max))
	}
	return b.String()
}

func ms(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}
