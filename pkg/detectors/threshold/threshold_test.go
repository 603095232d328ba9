package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/railwatch/pkg/detectors"
)

func TestFit(t *testing.T) {
	l := New(detectors.DefaultConfig())

	_, err := l.Fit(nil, nil)
	assert.ErrorIs(t, err, detectors.ErrEmptyTrainingSet)

	_, err = l.Fit([][]float64{{1, 2}}, []detectors.Label{detectors.Normal})
	assert.ErrorIs(t, err, detectors.ErrDimension)

	m, err := l.Fit([][]float64{{0, 0, 1, 0, 0}}, []detectors.Label{detectors.Normal})
	require.NoError(t, err)
	assert.Equal(t, detectors.Labels, m.Classes())
}

func TestPredictMirrorsRules(t *testing.T) {
	m := Model{Thresholds: New(detectors.DefaultConfig()).Thresholds}

	assert.Equal(t, detectors.Normal, m.Predict([]float64{0.1, 0.1, 1, 10, 0.1}))
	assert.Equal(t, detectors.Blocked, m.Predict([]float64{0.1, 0.1, 1, 200, 2}))
	assert.Equal(t, detectors.Jump, m.Predict([]float64{0.1, 0.1, 1, 10, 0.5}))
}
