package forest

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/railwatch/pkg/detectors"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		wantNTrees int
		wantLeaf   int
	}{
		{
			name:       "default configuration",
			opts:       nil,
			wantNTrees: 100,
			wantLeaf:   1,
		},
		{
			name:       "custom trees",
			opts:       []Option{WithTrees(50)},
			wantNTrees: 50,
			wantLeaf:   1,
		},
		{
			name:       "out of range values are clamped",
			opts:       []Option{WithTrees(0), WithMinLeaf(-3)},
			wantNTrees: 1,
			wantLeaf:   1,
		},
		{
			name:       "multiple options",
			opts:       []Option{WithTrees(200), WithMinLeaf(2), WithSeed(123), WithBootstrap(false)},
			wantNTrees: 200,
			wantLeaf:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.opts...)
			assert.Equal(t, tt.wantNTrees, f.nTrees)
			assert.Equal(t, tt.wantLeaf, f.minLeaf)
		})
	}
}

func TestFit(t *testing.T) {
	x, y := generateLabelled(rand.New(rand.NewSource(1)), 30)

	tests := []struct {
		name    string
		x       [][]float64
		y       []detectors.Label
		wantErr error
	}{
		{
			name:    "empty data",
			x:       [][]float64{},
			y:       nil,
			wantErr: detectors.ErrEmptyTrainingSet,
		},
		{
			name:    "label count mismatch",
			x:       [][]float64{{1, 2, 3, 4, 5}},
			y:       []detectors.Label{detectors.Normal, detectors.Jump},
			wantErr: detectors.ErrDimension,
		},
		{
			name:    "ragged rows",
			x:       [][]float64{{1, 2, 3, 4, 5}, {1, 2}},
			y:       []detectors.Label{detectors.Normal, detectors.Jump},
			wantErr: detectors.ErrDimension,
		},
		{
			name: "single sample",
			x:    [][]float64{{1, 2, 3, 4, 5}},
			y:    []detectors.Label{detectors.Normal},
		},
		{
			name: "labelled data",
			x:    x,
			y:    y,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(WithTrees(10), WithSeed(42))
			m, err := f.Fit(tt.x, tt.y)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, m)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 10, m.(*Model).NumTrees())
		})
	}
}

func TestFitRejectsUnknownLabel(t *testing.T) {
	_, err := New().Fit([][]float64{{1, 2, 3, 4, 5}}, []detectors.Label{detectors.Label(7)})
	assert.Error(t, err)
}

func TestFitsTrainingDataWithoutBootstrap(t *testing.T) {
	x, y := generateLabelled(rand.New(rand.NewSource(7)), 40)

	m, err := New(WithTrees(15), WithBootstrap(false), WithMaxDepth(0), WithSeed(3)).Fit(x, y)
	require.NoError(t, err)

	for i, row := range x {
		assert.Equal(t, y[i], m.Predict(row), "row %d", i)
	}
}

func TestPredict(t *testing.T) {
	x, y := generateLabelled(rand.New(rand.NewSource(11)), 50)

	models := map[string][]Option{
		"all features": {WithTrees(25), WithMaxFeatures(detectors.NumFeatures), WithSeed(5)},
		"defaults":     {WithTrees(50), WithSeed(5)},
	}

	for name, opts := range models {
		t.Run(name, func(t *testing.T) {
			m, err := New(opts...).Fit(x, y)
			require.NoError(t, err)

			tests := []struct {
				sample []float64
				want   detectors.Label
			}{
				{[]float64{0.1, 0.1, 1, 8, 0.02}, detectors.Normal},
				{[]float64{0.1, 0.1, 1, 600, 0.02}, detectors.Blocked},
				{[]float64{0.1, 0.1, 1, 8, 2.5}, detectors.Jump},
			}
			for _, tt := range tests {
				assert.Equal(t, tt.want, m.Predict(tt.sample), "sample %v", tt.sample)
			}
		})
	}
}

func TestProbabilities(t *testing.T) {
	x, y := generateLabelled(rand.New(rand.NewSource(2)), 30)
	m, err := New(WithTrees(20), WithSeed(9)).Fit(x, y)
	require.NoError(t, err)

	fm := m.(*Model)
	probs := fm.Probabilities([]float64{0.1, 0.1, 1, 5, 0})
	require.Len(t, probs, detectors.NumClasses)

	sum := 0.0
	for _, p := range probs {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, fm.Depth(), 0)
}

func TestClasses(t *testing.T) {
	x := [][]float64{{0, 0, 1, 1, 0}, {0, 0, 1, 300, 0}}
	y := []detectors.Label{detectors.Normal, detectors.Blocked}

	m, err := New(WithTrees(3)).Fit(x, y)
	require.NoError(t, err)
	assert.Equal(t, []detectors.Label{detectors.Normal, detectors.Blocked}, m.Classes())

	// Classes returns a copy.
	m.Classes()[0] = detectors.Jump
	assert.Equal(t, detectors.Normal, m.Classes()[0])
}

func TestDeterministicSeed(t *testing.T) {
	x, y := generateLabelled(rand.New(rand.NewSource(4)), 30)

	a, err := New(WithTrees(20), WithSeed(77)).Fit(x, y)
	require.NoError(t, err)
	b, err := New(WithTrees(20), WithSeed(77)).Fit(x, y)
	require.NoError(t, err)

	probe, _ := generateLabelled(rand.New(rand.NewSource(5)), 20)
	for _, row := range probe {
		assert.Equal(t, a.(*Model).Probabilities(row), b.(*Model).Probabilities(row))
	}
}

func TestIdenticalRowsWithConflictingLabels(t *testing.T) {
	x := [][]float64{{1, 1, 1, 1, 1}, {1, 1, 1, 1, 1}, {1, 1, 1, 1, 1}}
	y := []detectors.Label{detectors.Jump, detectors.Jump, detectors.Normal}

	m, err := New(WithTrees(5), WithBootstrap(false)).Fit(x, y)
	require.NoError(t, err)

	probs := m.(*Model).Probabilities([]float64{1, 1, 1, 1, 1})
	assert.InDelta(t, 2.0/3, probs[detectors.Jump], 1e-9)
	assert.Equal(t, detectors.Jump, m.Predict([]float64{1, 1, 1, 1, 1}))
}

func BenchmarkFit(b *testing.B) {
	x, y := generateLabelled(rand.New(rand.NewSource(1)), 1000)
	f := New(WithTrees(100))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Fit(x, y)
	}
}

func BenchmarkPredict(b *testing.B) {
	x, y := generateLabelled(rand.New(rand.NewSource(1)), 1000)
	m, _ := New(WithTrees(100)).Fit(x, y)
	sample := []float64{0.1, 0.1, 1, 10, 0.3}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Predict(sample)
	}
}

// generateLabelled returns n rows per class with clearly separated regions:
// Normal gaps 1-20s and jumps under 0.3V, Blocked gaps 200-400s, Jump
// steps of 1-3V.
func generateLabelled(rng *rand.Rand, n int) ([][]float64, []detectors.Label) {
	var x [][]float64
	var y []detectors.Label
	for i := 0; i < n; i++ {
		v1, v2 := 0.1+rng.NormFloat64()*0.02, 0.1+rng.NormFloat64()*0.02

		x = append(x, []float64{v1, v2, 1, 1 + rng.Float64()*19, rng.Float64() * 0.3})
		y = append(y, detectors.Normal)

		x = append(x, []float64{v1, v2, 1, 200 + rng.Float64()*200, rng.Float64() * 0.3})
		y = append(y, detectors.Blocked)

		x = append(x, []float64{v1, v2, 1, 1 + rng.Float64()*19, 1 + rng.Float64()*2})
		y = append(y, detectors.Jump)
	}
	return x, y
}
