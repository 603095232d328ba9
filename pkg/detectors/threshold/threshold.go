// Package threshold provides a learner whose model mirrors the labelling
// rules exactly. It needs no training data beyond a non-empty set and is
// used where a deterministic stand-in for a fitted classifier is wanted.
package threshold

import (
	"fmt"

	"github.com/hed1ad/railwatch/pkg/detectors"
	"github.com/hed1ad/railwatch/pkg/features"
)

// Learner produces rule-mirroring models.
type Learner struct {
	Thresholds features.Thresholds
}

// New returns a learner using the cutoffs from cfg.
func New(cfg detectors.Config) *Learner {
	return &Learner{Thresholds: features.ThresholdsFrom(cfg)}
}

// Fit checks the shape of the training set and returns a rule model. The
// labels themselves are ignored.
func (l *Learner) Fit(x [][]float64, y []detectors.Label) (detectors.Model, error) {
	if len(x) == 0 {
		return nil, detectors.ErrEmptyTrainingSet
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: %d rows, %d labels", detectors.ErrDimension, len(x), len(y))
	}
	for i, row := range x {
		if len(row) != detectors.NumFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", detectors.ErrDimension, i, len(row), detectors.NumFeatures)
		}
	}
	return Model{Thresholds: l.Thresholds}, nil
}

// Model labels a FeatureVector.Slice with the same priority rules used for
// ground truth.
type Model struct {
	Thresholds features.Thresholds
}

func (m Model) Predict(sample []float64) detectors.Label {
	return m.Thresholds.Label(detectors.FeatureVector{
		DeltaT:         sample[3],
		MaxVoltageJump: sample[4],
	})
}

func (m Model) Classes() []detectors.Label {
	return append([]detectors.Label(nil), detectors.Labels...)
}
