// Package eval replays historical data through a trained detector and
// scores it against rule-derived ground truth.
package eval

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/hed1ad/railwatch/pkg/detectors"
	"github.com/hed1ad/railwatch/pkg/features"
	"github.com/hed1ad/railwatch/pkg/monitor"
	"github.com/hed1ad/railwatch/pkg/sensor"
)

// ClassMetrics are the one-vs-rest scores of a label.
type ClassMetrics struct {
	Label     detectors.Label
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report summarises an evaluation run.
type Report struct {
	// Confusion has ground truth on rows and predictions on columns, both
	// indexed by label.
	Confusion *mat.Dense
	Accuracy  float64
	Classes   []ClassMetrics

	TrainRows int
	TestRows  int
	// Rejected counts test readings the detector refused; they are scored
	// as Normal predictions.
	Rejected int
}

// GroundTruth labels a reading sequence with the priority rules, computing
// features over the sequence alone. Labels follow timestamp order.
func GroundTruth(readings []sensor.Reading, cfg detectors.Config) []detectors.Label {
	table := features.Batch(features.SortByTime(readings))
	return features.ThresholdsFrom(cfg).Labels(table)
}

// Collapse reduces the incidents of one reading to a single label. Blocked
// wins over Jump; no incidents means Normal.
func Collapse(incidents []monitor.Incident) detectors.Label {
	label := detectors.Normal
	for _, inc := range incidents {
		if inc.Kind == detectors.Blocked {
			return detectors.Blocked
		}
		if inc.Kind == detectors.Jump {
			label = detectors.Jump
		}
	}
	return label
}

// Score compares predictions with ground truth.
func Score(truth, pred []detectors.Label) (*Report, error) {
	if len(truth) != len(pred) {
		return nil, fmt.Errorf("%d truth labels, %d predictions", len(truth), len(pred))
	}
	if len(truth) == 0 {
		return nil, errors.New("nothing to score")
	}

	cm := mat.NewDense(detectors.NumClasses, detectors.NumClasses, nil)
	for i := range truth {
		cm.Set(int(truth[i]), int(pred[i]), cm.At(int(truth[i]), int(pred[i]))+1)
	}

	r := &Report{
		Confusion: cm,
		Accuracy:  mat.Trace(cm) / float64(len(truth)),
		TestRows:  len(truth),
	}

	for _, l := range detectors.Labels {
		c := int(l)
		tp := cm.At(c, c)
		support := mat.Sum(cm.RowView(c))
		predicted := mat.Sum(cm.ColView(c))

		m := ClassMetrics{Label: l, Support: int(support)}
		if predicted > 0 {
			m.Precision = tp / predicted
		}
		if support > 0 {
			m.Recall = tp / support
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.Classes = append(r.Classes, m)
	}

	return r, nil
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Confusion matrix (rows: truth, columns: prediction; %v):\n", detectors.Labels)
	fmt.Fprintf(&b, "%v\n\n", mat.Formatted(r.Confusion, mat.Prefix(""), mat.Squeeze()))
	fmt.Fprintf(&b, "%-8s %9s %9s %9s %8s\n", "class", "precision", "recall", "f1", "support")
	for _, c := range r.Classes {
		fmt.Fprintf(&b, "%-8s %9.4f %9.4f %9.4f %8d\n", c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	fmt.Fprintf(&b, "\naccuracy: %.2f%% (train %d, test %d, rejected %d)\n",
		100*r.Accuracy, r.TrainRows, r.TestRows, r.Rejected)
	return b.String()
}

type options struct {
	trainFraction float64
	learner       detectors.Learner
	log           *logrus.Entry
}

// Option configures Run.
type Option func(*options)

// WithTrainFraction sets the leading share of the data used for training.
func WithTrainFraction(f float64) Option {
	return func(o *options) {
		o.trainFraction = f
	}
}

// WithLearner sets the classifier to train.
func WithLearner(l detectors.Learner) Option {
	return func(o *options) {
		o.learner = l
	}
}

// WithLogger sets the logger passed to the trainer and detector.
func WithLogger(l *logrus.Entry) Option {
	return func(o *options) {
		o.log = l
	}
}

// Run splits readings in time order, trains on the head and replays the
// tail through a fresh detector. Tail voltages are multiplied by
// cfg.UnitScale before replay, mimicking a sensor path that reports in the
// scaled unit; the detector divides it back out.
func Run(cfg detectors.Config, readings []sensor.Reading, opts ...Option) (*Report, error) {
	o := options{
		trainFraction: 0.8,
		log:           logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !(o.trainFraction > 0 && o.trainFraction < 1) {
		return nil, fmt.Errorf("train fraction must be in (0, 1), got %g", o.trainFraction)
	}

	sorted := features.SortByTime(readings)
	cut := int(float64(len(sorted)) * o.trainFraction)
	train, test := sorted[:cut], sorted[cut:]
	if len(test) == 0 {
		return nil, errors.New("no readings left for testing")
	}

	trainerOpts := []monitor.TrainerOption{monitor.WithTrainerLogger(o.log)}
	if o.learner != nil {
		trainerOpts = append(trainerOpts, monitor.WithLearner(o.learner))
	}
	trainer, err := monitor.NewTrainer(cfg, trainerOpts...)
	if err != nil {
		return nil, err
	}
	model, err := trainer.Train(train)
	if err != nil {
		return nil, err
	}

	det, err := monitor.NewDetector(cfg, monitor.WithModel(model), monitor.WithLogger(o.log))
	if err != nil {
		return nil, err
	}

	truth := GroundTruth(test, cfg)
	pred := make([]detectors.Label, len(test))
	rejected := 0
	for i, r := range test {
		r.Voltage1 *= cfg.UnitScale
		r.Voltage2 *= cfg.UnitScale

		incidents, err := det.Process(r)
		if err != nil {
			o.log.WithError(err).WithField("index", cut+i).Warn("Reading rejected during replay")
			rejected++
			continue
		}
		pred[i] = Collapse(incidents)
	}

	report, err := Score(truth, pred)
	if err != nil {
		return nil, err
	}
	report.TrainRows = len(train)
	report.Rejected = rejected

	return report, nil
}
