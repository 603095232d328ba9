package monitor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hed1ad/railwatch/pkg/detectors"
	"github.com/hed1ad/railwatch/pkg/features"
	"github.com/hed1ad/railwatch/pkg/sensor"
)

// ErrOutOfOrder is wrapped by the ValidationError returned for a reading
// older than the last accepted one.
var ErrOutOfOrder = errors.New("timestamp precedes the last accepted reading")

// Source tells how an incident was raised.
type Source int

const (
	// Rule incidents come from the hard thresholds.
	Rule Source = iota
	// ModelSoft incidents come from the classifier alone.
	ModelSoft
)

func (s Source) String() string {
	switch s {
	case Rule:
		return "rule"
	case ModelSoft:
		return "model-soft"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Incident is a single alert raised for a reading.
type Incident struct {
	// Kind is Blocked or Jump.
	Kind   detectors.Label
	Source Source
	// Value is the magnitude rendered for people, e.g. "200s" or "1.10V".
	Value string
	// Magnitude is delta_t in seconds for Blocked, the jump in volts for Jump.
	Magnitude float64
	Timestamp time.Time
}

func (i Incident) String() string {
	return fmt.Sprintf("[%s] %s (%s): %s", i.Timestamp.Format(time.RFC3339), i.Kind, i.Source, i.Value)
}

// Detector evaluates one stream of readings. It owns the stream's memory
// and is not safe for concurrent use; give each stream its own Detector
// and serialize calls when several producers feed one stream.
type Detector struct {
	cfg   detectors.Config
	th    features.Thresholds
	state features.State
	model detectors.Model
	log   *logrus.Entry
}

// Option configures a Detector.
type Option func(*Detector)

// WithModel attaches a trained classifier.
func WithModel(m detectors.Model) Option {
	return func(d *Detector) {
		d.model = m
	}
}

// WithState starts the detector from a given memory instead of empty.
func WithState(s features.State) Option {
	return func(d *Detector) {
		d.state = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(d *Detector) {
		d.log = l
	}
}

// NewDetector creates a detector with an empty memory.
func NewDetector(cfg detectors.Config, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Detector{
		cfg: cfg,
		th:  features.ThresholdsFrom(cfg),
		log: logrus.NewEntry(logrus.StandardLogger()),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// SetModel replaces the classifier. nil reverts to rule-only detection.
func (d *Detector) SetModel(m detectors.Model) {
	d.model = m
}

// Model returns the attached classifier, if any.
func (d *Detector) Model() detectors.Model {
	return d.model
}

// State returns a copy of the stream memory.
func (d *Detector) State() features.State {
	return d.state
}

// ProcessRaw parses a raw record and processes it.
func (d *Detector) ProcessRaw(raw sensor.RawReading) ([]Incident, error) {
	r, err := sensor.Parse(raw)
	if err != nil {
		d.log.WithError(err).Debug("Rejected raw reading")
		return nil, err
	}
	return d.process(r, raw.Index)
}

// Process evaluates one reading, given in the configured input unit, and
// returns its incidents in the order Blocked rule, Jump rule, Blocked
// model-soft, Jump model-soft. The memory advances exactly once per
// successful call; on error it is left untouched.
func (d *Detector) Process(r sensor.Reading) ([]Incident, error) {
	return d.process(r, -1)
}

func (d *Detector) process(r sensor.Reading, index int) ([]Incident, error) {
	if err := d.validate(r, index); err != nil {
		d.log.WithError(err).Debug("Rejected reading")
		return nil, err
	}

	r.Voltage1 /= d.cfg.UnitScale
	r.Voltage2 /= d.cfg.UnitScale

	fv := features.Stream(r, d.state)
	d.state = features.Primed(r)

	var incidents []Incident
	blocked := d.th.IsBlocked(fv.DeltaT)
	jump := d.th.IsJump(fv.MaxVoltageJump)
	if blocked {
		incidents = append(incidents, blockedIncident(fv, Rule, r.Timestamp))
	}
	if jump {
		incidents = append(incidents, jumpIncident(fv, Rule, r.Timestamp))
	}

	if d.model != nil {
		switch d.model.Predict(fv.Slice()) {
		case detectors.Blocked:
			if !blocked {
				incidents = append(incidents, blockedIncident(fv, ModelSoft, r.Timestamp))
			}
		case detectors.Jump:
			if !jump {
				incidents = append(incidents, jumpIncident(fv, ModelSoft, r.Timestamp))
			}
		}
	}

	if len(incidents) > 0 {
		d.log.WithFields(logrus.Fields{
			"timestamp": r.Timestamp,
			"delta_t":   fv.DeltaT,
			"jump":      fv.MaxVoltageJump,
			"incidents": len(incidents),
		}).Debug("Incidents raised")
	}

	return incidents, nil
}

func (d *Detector) validate(r sensor.Reading, index int) error {
	if err := sensor.Validate(r, index); err != nil {
		return err
	}
	if !d.state.Empty() && r.Timestamp.Before(d.state.LastTimestamp) {
		return &sensor.ValidationError{
			Field:     "timestamp",
			Index:     index,
			Timestamp: r.Timestamp.Format(time.RFC3339Nano),
			Err:       ErrOutOfOrder,
		}
	}
	return nil
}

func blockedIncident(fv detectors.FeatureVector, src Source, ts time.Time) Incident {
	return Incident{
		Kind:      detectors.Blocked,
		Source:    src,
		Value:     FormatSeconds(fv.DeltaT),
		Magnitude: fv.DeltaT,
		Timestamp: ts,
	}
}

func jumpIncident(fv detectors.FeatureVector, src Source, ts time.Time) Incident {
	return Incident{
		Kind:      detectors.Jump,
		Source:    src,
		Value:     FormatVolts(fv.MaxVoltageJump),
		Magnitude: fv.MaxVoltageJump,
		Timestamp: ts,
	}
}

// FormatSeconds renders a gap to millisecond precision, dropping trailing
// zeros: 200 -> "200s", 0.25 -> "0.25s".
func FormatSeconds(s float64) string {
	return strconv.FormatFloat(math.Round(s*1000)/1000, 'f', -1, 64) + "s"
}

// FormatVolts renders a voltage with two decimals: "1.10V".
func FormatVolts(v float64) string {
	return fmt.Sprintf("%.2fV", v)
}
