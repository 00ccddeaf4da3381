// Package telemetry records chunking metrics through the OpenTelemetry
// metric API. Setup installs an OTLP exporting provider; until then every
// instrument is a no-op.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/mdxdocs/docs-mcp-server"

// Recorder holds the instruments of the chunking pipeline.
type Recorder struct {
	documents metric.Int64Counter
	fragments metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewRecorder creates the instruments on the given provider.
// A nil provider selects the global one.
func NewRecorder(mp metric.MeterProvider) (*Recorder, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(scopeName)

	documents, err := meter.Int64Counter("docs.documents.chunked",
		metric.WithDescription("Documents run through the hybrid chunker"),
		metric.WithUnit("{document}"))
	if err != nil {
		return nil, err
	}

	fragments, err := meter.Int64Counter("docs.fragments",
		metric.WithDescription("Fragments produced, by content type"),
		metric.WithUnit("{fragment}"))
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("docs.chunk.duration",
		metric.WithDescription("Time spent chunking one document"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Recorder{documents: documents, fragments: fragments, duration: duration}, nil
}

// Default returns a Recorder bound to the global provider. Instrument creation
// on the global provider does not fail, so errors are dropped.
func Default() *Recorder {
	r, err := NewRecorder(nil)
	if err != nil {
		return nil
	}
	return r
}

// RecordDocument records one chunked document. counts maps content type to
// the number of fragments of that type. A nil Recorder records nothing.
func (r *Recorder) RecordDocument(ctx context.Context, counts map[string]int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.documents.Add(ctx, 1)
	for contentType, n := range counts {
		r.fragments.Add(ctx, int64(n), metric.WithAttributes(attribute.String("content_type", contentType)))
	}
	r.duration.Record(ctx, float64(elapsed.Microseconds())/1000)
}
