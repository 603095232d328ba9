// Package csv reads sensor feeds from CSV files.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hed1ad/railwatch/pkg/sensor"
)

// Columns names the CSV header fields holding each reading attribute.
type Columns struct {
	Timestamp string
	Voltage1  string
	Voltage2  string
	Status    string
}

// DefaultColumns matches the receiver exports.
func DefaultColumns() Columns {
	return Columns{
		Timestamp: "timestamp",
		Voltage1:  "voltageReceiver1",
		Voltage2:  "voltageReceiver2",
		Status:    "status",
	}
}

// Reader reads readings from CSV data.
type Reader struct {
	closer    io.Closer
	reader    *csv.Reader
	hasHeader bool
	columns   Columns
	headers   []string
	log       *logrus.Entry

	// column positions: timestamp, voltage1, voltage2, status (-1 if absent)
	pos      [4]int
	row      int
	rejected []error
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row. Without one, columns are
// taken positionally: timestamp, voltage1, voltage2, status.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// WithColumns overrides the header names.
func WithColumns(c Columns) Option {
	return func(r *Reader) {
		r.columns = c
	}
}

// WithLogger sets the logger used to report rejected rows.
func WithLogger(l *logrus.Entry) Option {
	return func(r *Reader) {
		r.log = l
	}
}

// NewReader opens a CSV file.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r, err := NewReaderFrom(file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file

	return r, nil
}

// NewReaderFrom reads CSV data from src. Close does not close src.
func NewReaderFrom(src io.Reader, opts ...Option) (*Reader, error) {
	r := &Reader{
		reader:    csv.NewReader(src),
		hasHeader: true,
		columns:   DefaultColumns(),
		log:       logrus.NewEntry(logrus.StandardLogger()),
		pos:       [4]int{0, 1, 2, 3},
	}
	r.reader.FieldsPerRecord = -1
	r.reader.TrimLeadingSpace = true

	for _, opt := range opts {
		opt(r)
	}

	// Read header if present
	if r.hasHeader {
		headers, err := r.reader.Read()
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		r.headers = headers
		if err := r.locateColumns(); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Reader) locateColumns() error {
	index := make(map[string]int, len(r.headers))
	for i, h := range r.headers {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}

	names := []string{r.columns.Timestamp, r.columns.Voltage1, r.columns.Voltage2, r.columns.Status}
	for i, name := range names {
		p, ok := index[strings.ToLower(name)]
		switch {
		case ok:
			r.pos[i] = p
		case i == 3:
			// status is optional
			r.pos[i] = -1
		default:
			return fmt.Errorf("missing column %q in header %v", name, r.headers)
		}
	}
	return nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// Rejected returns the validation errors of rows skipped by Read so far.
func (r *Reader) Rejected() []error {
	return r.rejected
}

// Read returns all well-formed readings. Malformed rows are skipped,
// logged and kept in Rejected.
func (r *Reader) Read() ([]sensor.Reading, error) {
	var data []sensor.Reading

	for {
		raw, err := r.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		reading, err := sensor.Parse(raw)
		if err != nil {
			r.reject(err)
			continue
		}
		data = append(data, reading)
	}

	if n := len(r.rejected); n > 0 {
		r.log.WithField("rejected", n).Warn("Skipped malformed rows")
	}

	return data, nil
}

// Stream returns a channel of raw rows for real-time processing.
func (r *Reader) Stream(ctx context.Context) (<-chan sensor.RawReading, error) {
	out := make(chan sensor.RawReading, 100)

	go func() {
		defer close(out)
		for {
			raw, err := r.next()
			if err == io.EOF {
				return
			}
			if err != nil {
				r.log.WithError(err).Error("CSV stream aborted")
				return
			}

			select {
			case out <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// next returns the following record as a RawReading. Rows too short for a
// column get an empty value, which fails parsing downstream.
func (r *Reader) next() (sensor.RawReading, error) {
	record, err := r.reader.Read()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return sensor.RawReading{}, fmt.Errorf("row %d: %w", r.row, err)
		}
		return sensor.RawReading{}, err
	}

	field := func(i int) string {
		p := r.pos[i]
		if p < 0 || p >= len(record) {
			return ""
		}
		return record[p]
	}

	raw := sensor.RawReading{
		Index:     r.row,
		Timestamp: field(0),
		Voltage1:  field(1),
		Voltage2:  field(2),
		Status:    field(3),
	}
	r.row++
	return raw, nil
}

func (r *Reader) reject(err error) {
	r.rejected = append(r.rejected, err)
	r.log.WithError(err).Debug("Rejected CSV row")
}
