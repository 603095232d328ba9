package features

import "github.com/hed1ad/railwatch/pkg/detectors"

// Thresholds are the cutoffs used to derive ground-truth labels.
type Thresholds struct {
	// TimeLimit is in seconds.
	TimeLimit        float64
	VoltageThreshold float64
}

// ThresholdsFrom extracts the labelling cutoffs from a detector config.
func ThresholdsFrom(cfg detectors.Config) Thresholds {
	return Thresholds{
		TimeLimit:        cfg.TimeLimitSeconds(),
		VoltageThreshold: cfg.VoltageThreshold,
	}
}

// Label classifies one feature vector. Blocked wins over Jump.
func (t Thresholds) Label(fv detectors.FeatureVector) detectors.Label {
	switch {
	case t.IsBlocked(fv.DeltaT):
		return detectors.Blocked
	case t.IsJump(fv.MaxVoltageJump):
		return detectors.Jump
	default:
		return detectors.Normal
	}
}

// IsBlocked reports whether a gap exceeds the time limit.
func (t Thresholds) IsBlocked(deltaT float64) bool {
	return deltaT > t.TimeLimit
}

// IsJump reports whether a jump meets the voltage threshold.
func (t Thresholds) IsJump(jump float64) bool {
	return jump >= t.VoltageThreshold
}

// Labels derives one label per row.
func (t Thresholds) Labels(table []detectors.FeatureVector) []detectors.Label {
	out := make([]detectors.Label, len(table))
	for i, fv := range table {
		out[i] = t.Label(fv)
	}
	return out
}
