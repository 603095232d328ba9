// Package forest implements a random forest of Gini classification trees.
package forest

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/hed1ad/railwatch/pkg/detectors"
)

// Forest is a learner. It holds configuration only; every Fit returns a
// new, independent Model.
type Forest struct {
	// Configuration
	nTrees      int
	maxDepth    int
	minLeaf     int
	maxFeatures int
	bootstrap   bool
	seed        int64
}

// Model is a fitted forest. It is immutable and safe for concurrent use.
type Model struct {
	trees     []*tree
	nFeatures int
	classes   []detectors.Label
}

// tree represents a single classification tree.
type tree struct {
	root *node
}

// node is a node in a classification tree.
type node struct {
	// Split parameters (for internal nodes)
	splitFeature int
	splitValue   float64

	// Children
	left  *node
	right *node

	// Leaf information: class distribution of the training rows that
	// reached this leaf, normalised to sum to 1.
	dist [detectors.NumClasses]float64
}

func (n *node) leaf() bool {
	return n.left == nil && n.right == nil
}

// Option configures a Forest.
type Option func(*Forest)

// WithTrees sets the number of trees.
func WithTrees(n int) Option {
	return func(f *Forest) {
		f.nTrees = n
	}
}

// WithMaxDepth caps tree depth.
func WithMaxDepth(d int) Option {
	return func(f *Forest) {
		f.maxDepth = d
	}
}

// WithMinLeaf sets the minimum number of rows per leaf.
func WithMinLeaf(n int) Option {
	return func(f *Forest) {
		f.minLeaf = n
	}
}

// WithMaxFeatures sets how many features are tried per split before the
// search settles for the best one found. Zero means sqrt(features).
func WithMaxFeatures(n int) Option {
	return func(f *Forest) {
		f.maxFeatures = n
	}
}

// WithBootstrap toggles sampling rows with replacement for each tree.
func WithBootstrap(b bool) Option {
	return func(f *Forest) {
		f.bootstrap = b
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *Forest) {
		f.seed = seed
	}
}

// New creates a new Forest with the given options.
func New(opts ...Option) *Forest {
	f := &Forest{
		nTrees:    100,
		maxDepth:  12,
		minLeaf:   1,
		bootstrap: true,
		seed:      42,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.nTrees < 1 {
		f.nTrees = 1
	}
	if f.minLeaf < 1 {
		f.minLeaf = 1
	}

	return f
}

// Fit trains a forest on the provided rows and labels.
func (f *Forest) Fit(x [][]float64, y []detectors.Label) (detectors.Model, error) {
	if len(x) == 0 {
		return nil, detectors.ErrEmptyTrainingSet
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: %d rows, %d labels", detectors.ErrDimension, len(x), len(y))
	}

	nFeatures := len(x[0])
	if nFeatures == 0 {
		return nil, fmt.Errorf("%w: rows have no features", detectors.ErrDimension)
	}
	seen := [detectors.NumClasses]bool{}
	for i, row := range x {
		if len(row) != nFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", detectors.ErrDimension, i, len(row), nFeatures)
		}
		if !y[i].Valid() {
			return nil, fmt.Errorf("row %d: unknown label %d", i, int(y[i]))
		}
		seen[y[i]] = true
	}

	maxFeatures := f.maxFeatures
	if maxFeatures <= 0 || maxFeatures > nFeatures {
		maxFeatures = int(math.Ceil(math.Sqrt(float64(nFeatures))))
	}

	b := &builder{
		x:           x,
		y:           y,
		nFeatures:   nFeatures,
		maxFeatures: maxFeatures,
		maxDepth:    f.maxDepth,
		minLeaf:     f.minLeaf,
		rng:         rand.New(rand.NewSource(f.seed)),
	}

	m := &Model{
		trees:     make([]*tree, f.nTrees),
		nFeatures: nFeatures,
	}
	for _, l := range detectors.Labels {
		if seen[l] {
			m.classes = append(m.classes, l)
		}
	}

	nSamples := len(x)
	for i := 0; i < f.nTrees; i++ {
		rows := make([]int, nSamples)
		for j := range rows {
			if f.bootstrap {
				rows[j] = b.rng.Intn(nSamples)
			} else {
				rows[j] = j
			}
		}
		m.trees[i] = &tree{root: b.buildNode(rows, 0)}
	}

	return m, nil
}

// builder carries the training set through the recursive tree build.
type builder struct {
	x           [][]float64
	y           []detectors.Label
	nFeatures   int
	maxFeatures int
	maxDepth    int
	minLeaf     int
	rng         *rand.Rand
}

func (b *builder) buildNode(rows []int, depth int) *node {
	counts := b.counts(rows)

	// Terminal conditions
	if (b.maxDepth > 0 && depth >= b.maxDepth) || len(rows) < 2*b.minLeaf || pure(counts) {
		return newLeaf(counts)
	}

	feature, splitValue, ok := b.bestSplit(rows, counts)
	if !ok {
		return newLeaf(counts)
	}

	// Partition rows
	var leftRows, rightRows []int
	for _, r := range rows {
		if b.x[r][feature] < splitValue {
			leftRows = append(leftRows, r)
		} else {
			rightRows = append(rightRows, r)
		}
	}

	return &node{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         b.buildNode(leftRows, depth+1),
		right:        b.buildNode(rightRows, depth+1),
	}
}

// bestSplit tries features in random order. After maxFeatures candidates it
// stops as soon as a useful split is known, otherwise it keeps looking so a
// separable node is never left impure.
func (b *builder) bestSplit(rows []int, counts [detectors.NumClasses]float64) (int, float64, bool) {
	parent := gini(counts, float64(len(rows)))

	bestGain := 1e-12
	bestFeature, bestValue := -1, 0.0

	for k, feature := range b.rng.Perm(b.nFeatures) {
		if k >= b.maxFeatures && bestFeature >= 0 {
			break
		}
		value, gain, ok := b.splitOn(rows, feature, parent)
		if ok && gain > bestGain {
			bestGain, bestFeature, bestValue = gain, feature, value
		}
	}

	return bestFeature, bestValue, bestFeature >= 0
}

// splitOn finds the best threshold for one feature, at midpoints between
// distinct sorted values.
func (b *builder) splitOn(rows []int, feature int, parent float64) (float64, float64, bool) {
	sorted := make([]int, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		return b.x[sorted[i]][feature] < b.x[sorted[j]][feature]
	})

	n := float64(len(sorted))
	total := b.counts(sorted)
	var left [detectors.NumClasses]float64

	bestGain := math.Inf(-1)
	bestValue := 0.0
	found := false

	for i := 1; i < len(sorted); i++ {
		left[b.y[sorted[i-1]]]++

		lo, hi := b.x[sorted[i-1]][feature], b.x[sorted[i]][feature]
		if lo == hi || i < b.minLeaf || len(sorted)-i < b.minLeaf {
			continue
		}

		var right [detectors.NumClasses]float64
		for c := range right {
			right[c] = total[c] - left[c]
		}
		nl := float64(i)
		nr := n - nl
		gain := parent - (nl/n)*gini(left, nl) - (nr/n)*gini(right, nr)
		if gain > bestGain {
			bestGain = gain
			bestValue = lo + (hi-lo)/2
			if bestValue <= lo {
				bestValue = hi
			}
			found = true
		}
	}

	return bestValue, bestGain, found
}

func (b *builder) counts(rows []int) [detectors.NumClasses]float64 {
	var c [detectors.NumClasses]float64
	for _, r := range rows {
		c[b.y[r]]++
	}
	return c
}

func newLeaf(counts [detectors.NumClasses]float64) *node {
	n := &node{}
	total := floats.Sum(counts[:])
	if total == 0 {
		return n
	}
	for c := range counts {
		n.dist[c] = counts[c] / total
	}
	return n
}

func pure(counts [detectors.NumClasses]float64) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func gini(counts [detectors.NumClasses]float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := c / n
		g -= p * p
	}
	return g
}

// Predict returns the label with the highest mean leaf probability. Ties
// go to the lower label, so Normal wins an even split.
func (m *Model) Predict(sample []float64) detectors.Label {
	return detectors.Label(floats.MaxIdx(m.Probabilities(sample)))
}

// Probabilities returns the mean class distribution across trees, indexed
// by label. sample must have as many features as the training rows.
func (m *Model) Probabilities(sample []float64) []float64 {
	probs := make([]float64, detectors.NumClasses)
	for _, t := range m.trees {
		leaf := walk(sample, t.root)
		floats.Add(probs, leaf.dist[:])
	}
	floats.Scale(1/float64(len(m.trees)), probs)
	return probs
}

// walk descends to the leaf a sample falls into.
func walk(sample []float64, n *node) *node {
	for !n.leaf() {
		if sample[n.splitFeature] < n.splitValue {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n
}

// Classes returns the labels seen during fitting, in label order.
func (m *Model) Classes() []detectors.Label {
	out := make([]detectors.Label, len(m.classes))
	copy(out, m.classes)
	return out
}

// NumTrees returns the ensemble size.
func (m *Model) NumTrees() int {
	return len(m.trees)
}

// Depth returns the depth of the deepest tree.
func (m *Model) Depth() int {
	d := 0
	for _, t := range m.trees {
		if td := depth(t.root); td > d {
			d = td
		}
	}
	return d
}

func depth(n *node) int {
	if n.leaf() {
		return 0
	}
	l, r := depth(n.left), depth(n.right)
	if l > r {
		return l + 1
	}
	return r + 1
}
