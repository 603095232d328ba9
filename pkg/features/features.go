// Package features derives delta_t and max_voltage_jump from readings,
// either over a sorted history or against the last remembered reading.
package features

import (
	"math"
	"sort"
	"time"

	"github.com/hed1ad/railwatch/pkg/detectors"
	"github.com/hed1ad/railwatch/pkg/sensor"
)

// State is the single-slot memory of a stream: the last accepted reading.
// The zero value is the empty state.
type State struct {
	LastTimestamp time.Time
	LastVoltage1  float64
	LastVoltage2  float64
	primed        bool
}

// Primed returns a state that remembers r.
func Primed(r sensor.Reading) State {
	return State{
		LastTimestamp: r.Timestamp,
		LastVoltage1:  r.Voltage1,
		LastVoltage2:  r.Voltage2,
		primed:        true,
	}
}

// Empty reports whether no reading has been remembered yet.
func (s State) Empty() bool {
	return !s.primed
}

// Batch computes one FeatureVector per reading. readings must be sorted
// ascending by timestamp; the first row always has zero deltas.
func Batch(readings []sensor.Reading) []detectors.FeatureVector {
	out := make([]detectors.FeatureVector, len(readings))
	for i, r := range readings {
		out[i] = vector(r)
		if i == 0 {
			continue
		}
		prev := readings[i-1]
		out[i].DeltaT = deltaSeconds(r.Timestamp, prev.Timestamp)
		out[i].MaxVoltageJump = maxJump(r, prev.Voltage1, prev.Voltage2)
	}
	return out
}

// Stream computes the features of r against the remembered state. It does
// not modify state.
func Stream(r sensor.Reading, state State) detectors.FeatureVector {
	fv := vector(r)
	if state.Empty() {
		return fv
	}
	fv.DeltaT = deltaSeconds(r.Timestamp, state.LastTimestamp)
	fv.MaxVoltageJump = maxJump(r, state.LastVoltage1, state.LastVoltage2)
	return fv
}

// SortByTime returns readings ordered by timestamp. The input is returned
// as is when already sorted, otherwise a sorted copy is made.
func SortByTime(readings []sensor.Reading) []sensor.Reading {
	less := func(a, b sensor.Reading) bool { return a.Timestamp.Before(b.Timestamp) }
	if sort.SliceIsSorted(readings, func(i, j int) bool { return less(readings[i], readings[j]) }) {
		return readings
	}
	sorted := make([]sensor.Reading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	return sorted
}

func vector(r sensor.Reading) detectors.FeatureVector {
	return detectors.FeatureVector{
		Voltage1: r.Voltage1,
		Voltage2: r.Voltage2,
		Status:   r.Status,
	}
}

// deltaSeconds never goes negative.
func deltaSeconds(cur, prev time.Time) float64 {
	d := cur.Sub(prev).Seconds()
	if d < 0 {
		return 0
	}
	return d
}

func maxJump(r sensor.Reading, prev1, prev2 float64) float64 {
	return math.Max(math.Abs(r.Voltage1-prev1), math.Abs(r.Voltage2-prev2))
}
