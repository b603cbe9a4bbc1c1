package tracekit

import "context"

// SpanEventListener observes span lifecycle events. Implementations
// receive the span's shared record and must treat it as read-only.
type SpanEventListener interface {
	// OnStartSpan is called once when a span transitions to started.
	OnStartSpan(record *SpanRecord)

	// OnEndSpan is called once when a span transitions to ended.
	OnEndSpan(record *SpanRecord)
}

// Exporter delivers batches of finished span records to a reporting
// backend. The core depends only on this contract, never on a
// backend's wire format.
//
// Publish may fail; the caller logs the failure and moves on. Retry,
// drop, or dead-letter policy belongs to the Exporter implementation
// (see the exporter/deadletter package for one such policy).
type Exporter interface {
	SpanEventListener

	// Publish delivers a batch of finished records, in the order they
	// were buffered.
	Publish(ctx context.Context, batch []*SpanRecord) error
}
