// Package io provides input utilities for sensor feeds.
package io

import (
	"context"

	"github.com/hed1ad/railwatch/pkg/sensor"
)

// Reader is the interface for reading sensor data from various sources.
type Reader interface {
	// Read returns every well-formed reading in the source, in source order.
	Read() ([]sensor.Reading, error)

	// Stream returns a channel of unparsed records for real-time processing.
	// Parsing, and rejecting, is left to the consumer.
	Stream(ctx context.Context) (<-chan sensor.RawReading, error)

	// Close releases resources.
	Close() error
}
