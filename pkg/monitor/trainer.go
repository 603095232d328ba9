// Package monitor trains the incident classifier and runs the per-stream
// detector.
package monitor

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/railwatch/pkg/detectors"
	"github.com/hed1ad/railwatch/pkg/detectors/forest"
	"github.com/hed1ad/railwatch/pkg/features"
	"github.com/hed1ad/railwatch/pkg/sensor"
)

// TrainingDataError aborts a training call. No model is produced.
type TrainingDataError struct {
	Reason string
}

func (e *TrainingDataError) Error() string {
	return "training data: " + e.Reason
}

// Trainer turns historical readings into a fitted model. Each Train call
// replaces the previous model wholesale.
type Trainer struct {
	th      features.Thresholds
	learner detectors.Learner
	log     *logrus.Entry

	current atomic.Pointer[fitted]
}

type fitted struct {
	model detectors.Model
}

// TrainerOption configures a Trainer.
type TrainerOption func(*Trainer)

// WithLearner sets the classifier used by Train. The default is a seeded
// random forest.
func WithLearner(l detectors.Learner) TrainerOption {
	return func(t *Trainer) {
		t.learner = l
	}
}

// WithTrainerLogger sets the logger.
func WithTrainerLogger(l *logrus.Entry) TrainerOption {
	return func(t *Trainer) {
		t.log = l
	}
}

// NewTrainer creates a Trainer for the given thresholds.
func NewTrainer(cfg detectors.Config, opts ...TrainerOption) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Trainer{
		th:      features.ThresholdsFrom(cfg),
		learner: forest.New(),
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// Train fits a new model on readings, which are expected in volts. Readings
// failing sensor.Validate are skipped. Any input with at least one valid
// reading yields a model covering all three labels.
func (t *Trainer) Train(readings []sensor.Reading) (detectors.Model, error) {
	if len(readings) == 0 {
		return nil, &TrainingDataError{Reason: "no readings"}
	}

	valid := make([]sensor.Reading, 0, len(readings))
	for i, r := range readings {
		if err := sensor.Validate(r, i); err != nil {
			t.log.WithError(err).Warn("Skipping invalid training reading")
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return nil, &TrainingDataError{Reason: "no valid readings"}
	}

	sorted := features.SortByTime(valid)
	table := features.Batch(sorted)
	labels := t.th.Labels(table)

	x := make([][]float64, len(table))
	for i, fv := range table {
		x[i] = fv.Slice()
	}

	var present [detectors.NumClasses]int
	for _, l := range labels {
		present[l]++
	}
	t.log.WithFields(logrus.Fields{
		"rows":    len(x),
		"normal":  present[detectors.Normal],
		"blocked": present[detectors.Blocked],
		"jump":    present[detectors.Jump],
	}).Info("Derived training labels")

	for _, row := range t.syntheticRows(table, present) {
		t.log.WithField("label", row.label).Debug("Injecting synthetic row for missing class")
		x = append(x, row.features.Slice())
		labels = append(labels, row.label)
	}

	model, err := t.learner.Fit(x, labels)
	if err != nil {
		return nil, fmt.Errorf("fit classifier: %w", err)
	}

	t.current.Store(&fitted{model: model})
	t.log.WithField("classes", model.Classes()).Info("Classifier trained")

	return model, nil
}

// IsTrained reports whether a model is available.
func (t *Trainer) IsTrained() bool {
	return t.current.Load() != nil
}

// Model returns the latest model, or nil before the first successful Train.
func (t *Trainer) Model() detectors.Model {
	f := t.current.Load()
	if f == nil {
		return nil
	}
	return f.model
}

type syntheticRow struct {
	features detectors.FeatureVector
	label    detectors.Label
}

// syntheticRows builds one row per absent class, placed well inside that
// class's region with median voltages and the most common status. Normal
// and Jump rows take the typical observed gap so that only the voltage jump
// tells them apart.
func (t *Trainer) syntheticRows(table []detectors.FeatureVector, present [detectors.NumClasses]int) []syntheticRow {
	if present[detectors.Blocked] > 0 && present[detectors.Jump] > 0 && present[detectors.Normal] > 0 {
		return nil
	}

	v1 := make([]float64, len(table))
	v2 := make([]float64, len(table))
	status := make([]float64, len(table))
	for i, fv := range table {
		v1[i], v2[i], status[i] = fv.Voltage1, fv.Voltage2, float64(fv.Status)
	}
	sort.Float64s(v1)
	sort.Float64s(v2)
	mode, _ := stat.Mode(status, nil)

	base := detectors.FeatureVector{
		Voltage1: stat.Quantile(0.5, stat.Empirical, v1, nil),
		Voltage2: stat.Quantile(0.5, stat.Empirical, v2, nil),
		Status:   int(mode),
	}

	var rows []syntheticRow
	gap := t.typicalGap(table)
	if present[detectors.Normal] == 0 {
		fv := base
		fv.DeltaT = gap
		rows = append(rows, syntheticRow{features: fv, label: detectors.Normal})
	}
	if present[detectors.Blocked] == 0 {
		fv := base
		fv.DeltaT = 2.5 * t.th.TimeLimit
		rows = append(rows, syntheticRow{features: fv, label: detectors.Blocked})
	}
	if present[detectors.Jump] == 0 {
		fv := base
		fv.DeltaT = gap
		fv.MaxVoltageJump = math.Max(1, 2*t.th.VoltageThreshold)
		rows = append(rows, syntheticRow{features: fv, label: detectors.Jump})
	}
	return rows
}

// typicalGap is the median interval between readings, kept within the time
// limit. The first row carries no interval; a lone reading falls back to a
// short fixed gap.
func (t *Trainer) typicalGap(table []detectors.FeatureVector) float64 {
	if len(table) < 2 {
		return math.Min(1, t.th.TimeLimit/2)
	}

	gaps := make([]float64, 0, len(table)-1)
	for _, fv := range table[1:] {
		gaps = append(gaps, fv.DeltaT)
	}
	sort.Float64s(gaps)

	gap := stat.Quantile(0.5, stat.Empirical, gaps, nil)
	if gap > t.th.TimeLimit {
		gap = t.th.TimeLimit / 2
	}
	return gap
}
