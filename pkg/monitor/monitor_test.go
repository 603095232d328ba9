package monitor

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/hed1ad/railwatch/pkg/detectors"
	"github.com/hed1ad/railwatch/pkg/sensor"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec float64, v1, v2 float64) sensor.Reading {
	return sensor.Reading{
		Timestamp: t0.Add(time.Duration(sec * float64(time.Second))),
		Voltage1:  v1,
		Voltage2:  v2,
		Status:    1,
	}
}

func nullLogger() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(logger), hook
}

// fixedModel always predicts the same label and records what it was asked.
type fixedModel struct {
	label   detectors.Label
	samples [][]float64
}

func (m *fixedModel) Predict(sample []float64) detectors.Label {
	m.samples = append(m.samples, append([]float64(nil), sample...))
	return m.label
}

func (m *fixedModel) Classes() []detectors.Label {
	return detectors.Labels
}

func (m *fixedModel) last() []float64 {
	return m.samples[len(m.samples)-1]
}

// recordingLearner captures the training set and hands back a fresh model.
type recordingLearner struct {
	x   [][]float64
	y   []detectors.Label
	err error
}

func (l *recordingLearner) Fit(x [][]float64, y []detectors.Label) (detectors.Model, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.x, l.y = x, y
	return &fixedModel{label: detectors.Normal}, nil
}

func (l *recordingLearner) count(label detectors.Label) int {
	n := 0
	for _, y := range l.y {
		if y == label {
			n++
		}
	}
	return n
}

var errFit = errors.New("fit failed")
