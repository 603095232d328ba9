// Package detectors defines the vocabulary shared by the feature pipeline,
// the learners and the streaming detector.
package detectors

import (
	"errors"
	"fmt"
	"time"
)

// Label is the class of a reading.
type Label int

const (
	Normal Label = iota
	Blocked
	Jump
)

// NumClasses is the number of labels every fitted model must cover.
const NumClasses = 3

// Labels lists every label in index order.
var Labels = []Label{Normal, Blocked, Jump}

func (l Label) String() string {
	switch l {
	case Normal:
		return "normal"
	case Blocked:
		return "blocked"
	case Jump:
		return "jump"
	default:
		return fmt.Sprintf("label(%d)", int(l))
	}
}

// Valid reports whether l is one of the known labels.
func (l Label) Valid() bool {
	return l >= Normal && l <= Jump
}

// FeatureNames is the column order of FeatureVector.Slice.
var FeatureNames = []string{"voltage1", "voltage2", "status", "delta_t", "max_voltage_jump"}

// NumFeatures is len(FeatureNames).
const NumFeatures = 5

// FeatureVector is the engineered view of a single reading.
type FeatureVector struct {
	Voltage1 float64
	Voltage2 float64
	Status   int
	// DeltaT is the gap to the previous reading, in seconds.
	DeltaT float64
	// MaxVoltageJump is the larger absolute change of the two channels.
	MaxVoltageJump float64
}

// Slice returns the vector in FeatureNames order.
func (f FeatureVector) Slice() []float64 {
	return []float64{f.Voltage1, f.Voltage2, float64(f.Status), f.DeltaT, f.MaxVoltageJump}
}

// Learner fits a multiclass model on a feature matrix.
type Learner interface {
	// Fit trains a model. Each row of x is a FeatureVector.Slice and y holds
	// one label per row.
	Fit(x [][]float64, y []Label) (Model, error)
}

// Model is a fitted, immutable classifier.
type Model interface {
	// Predict returns the most likely label for a single sample.
	Predict(sample []float64) Label

	// Classes returns the labels observed during fitting.
	Classes() []Label
}

// Common learner errors.
var (
	ErrEmptyTrainingSet = errors.New("empty training set")
	ErrDimension        = errors.New("feature dimension mismatch")
)

// Config holds the detection thresholds and the input unit scale.
type Config struct {
	// TimeLimit is the longest gap between readings that is not a blocked feed.
	TimeLimit time.Duration
	// VoltageThreshold is the smallest jump, in volts, that counts as a jump.
	VoltageThreshold float64
	// UnitScale divides incoming streaming voltages; 1000 when the sensor
	// path reports millivolts.
	UnitScale float64
}

// DefaultConfig returns the stock thresholds: 120s, 0.5V, no scaling.
func DefaultConfig() Config {
	return Config{
		TimeLimit:        120 * time.Second,
		VoltageThreshold: 0.5,
		UnitScale:        1,
	}
}

// TimeLimitSeconds returns TimeLimit as fractional seconds.
func (c Config) TimeLimitSeconds() float64 {
	return c.TimeLimit.Seconds()
}

// Validate checks the configuration ranges.
func (c Config) Validate() error {
	if c.TimeLimit <= 0 {
		return fmt.Errorf("time limit must be positive, got %s", c.TimeLimit)
	}
	if !(c.VoltageThreshold >= 0) {
		return fmt.Errorf("voltage threshold must not be negative, got %g", c.VoltageThreshold)
	}
	if !(c.UnitScale > 0) {
		return fmt.Errorf("unit scale factor must be positive, got %g", c.UnitScale)
	}
	return nil
}
