// Package sensor defines the readings produced by a two-channel voltage feed.
package sensor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Reading is one sample of the feed.
type Reading struct {
	Timestamp time.Time
	// Voltage1 and Voltage2 are in whatever unit the producer emits;
	// historical data is expected in volts.
	Voltage1 float64
	Voltage2 float64
	Status   int
}

// RawReading is a reading as it arrives from the wire or a CSV row, before
// any parsing.
type RawReading struct {
	// Index is the position of the record in its source, or -1 if unknown.
	Index     int
	Timestamp string
	Voltage1  string
	Voltage2  string
	Status    string
}

// ValidationError reports a malformed reading. It carries enough context
// for the caller to locate and skip the bad record.
type ValidationError struct {
	Field     string
	Index     int
	Timestamp string
	Err       error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid reading: field %q", e.Field)
	if e.Index >= 0 {
		fmt.Fprintf(&b, " (index %d)", e.Index)
	}
	if e.Timestamp != "" {
		fmt.Fprintf(&b, " (timestamp %s)", e.Timestamp)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

var (
	errMissing    = errors.New("missing value")
	errNotFinite  = errors.New("value is not finite")
	errZeroTime   = errors.New("zero timestamp")
	errTimeLayout = errors.New("unrecognized timestamp layout")
)

// timeLayouts are tried in order when parsing textual timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Parse converts a raw record into a Reading.
func Parse(raw RawReading) (Reading, error) {
	ts, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		return Reading{}, raw.invalid("timestamp", err)
	}

	v1, err := parseVoltage(raw.Voltage1)
	if err != nil {
		return Reading{}, raw.invalid("voltage1", err)
	}
	v2, err := parseVoltage(raw.Voltage2)
	if err != nil {
		return Reading{}, raw.invalid("voltage2", err)
	}

	status := 0
	if s := strings.TrimSpace(raw.Status); s != "" {
		status, err = strconv.Atoi(s)
		if err != nil {
			// Some exporters write integral floats ("1.0").
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil || f != math.Trunc(f) {
				return Reading{}, raw.invalid("status", err)
			}
			status = int(f)
		}
	}

	return Reading{Timestamp: ts, Voltage1: v1, Voltage2: v2, Status: status}, nil
}

// ParseTimestamp accepts RFC 3339, the common "date time" layouts and Unix
// seconds. Timestamps without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errMissing
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	// Unix seconds must fit an int64; NaN fails both bounds.
	if secs, err := strconv.ParseFloat(s, 64); err == nil && secs >= math.MinInt64 && secs < math.MaxInt64 {
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", errTimeLayout, s)
}

func parseVoltage(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errMissing
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotFinite
	}
	return v, nil
}

func (raw RawReading) invalid(field string, err error) *ValidationError {
	return &ValidationError{
		Field:     field,
		Index:     raw.Index,
		Timestamp: strings.TrimSpace(raw.Timestamp),
		Err:       err,
	}
}

// Validate checks a typed reading. index is reported in the error and may
// be -1.
func Validate(r Reading, index int) error {
	ts := ""
	if !r.Timestamp.IsZero() {
		ts = r.Timestamp.Format(time.RFC3339Nano)
	}
	switch {
	case r.Timestamp.IsZero():
		return &ValidationError{Field: "timestamp", Index: index, Err: errZeroTime}
	case math.IsNaN(r.Voltage1) || math.IsInf(r.Voltage1, 0):
		return &ValidationError{Field: "voltage1", Index: index, Timestamp: ts, Err: errNotFinite}
	case math.IsNaN(r.Voltage2) || math.IsInf(r.Voltage2, 0):
		return &ValidationError{Field: "voltage2", Index: index, Timestamp: ts, Err: errNotFinite}
	}
	return nil
}
