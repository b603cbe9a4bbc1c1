package tracekit

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Kind classifies the role a span plays in a request exchange.
type Kind int32

const (
	KindUnspecified Kind = iota
	KindServer
	KindClient
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	default:
		return "unspecified"
	}
}

// Status describes the outcome of a span. Code 0 means OK.
type Status struct {
	Code    int32  `json:"code"`
	Message string `json:"message,omitempty"`
}

// MessageEventType identifies the direction of a message event.
type MessageEventType int32

const (
	MessageEventTypeUnspecified MessageEventType = iota
	MessageEventTypeSent
	MessageEventTypeReceived
)

// Annotation is a free-form text event attached to a span.
type Annotation struct {
	Description string         `json:"description"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// MessageEvent describes a message sent or received during a span.
type MessageEvent struct {
	Type             MessageEventType `json:"type"`
	ID               int64            `json:"id"`
	UncompressedSize int64            `json:"uncompressed_size,omitempty"`
	CompressedSize   int64            `json:"compressed_size,omitempty"`
}

// TimeEvent is a timestamped entry in a span's event sequence.
// Exactly one of Annotation or MessageEvent is set.
type TimeEvent struct {
	Time         time.Time     `json:"time"`
	Annotation   *Annotation   `json:"annotation,omitempty"`
	MessageEvent *MessageEvent `json:"message_event,omitempty"`
}

// Link is a reference to a span in another trace.
type Link struct {
	TraceID    string         `json:"trace_id"`
	SpanID     string         `json:"span_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// SpanContext carries the identity needed to continue an existing
// trace across process boundaries.
type SpanContext struct {
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id"`
}

// SpanOptions configures a root span created through the tracer.
// Supplying SpanContext continues an existing trace instead of
// starting a new one.
type SpanOptions struct {
	Name        string
	Kind        Kind
	SpanContext *SpanContext
}

// SpanRecord is the plain data describing one span. It is owned by
// the Span that created it and is handed to listeners by reference at
// start and end time; listeners must not mutate it.
//
// The zero time.Time is the "unset" sentinel for StartTime and
// EndTime.
type SpanRecord struct {
	TraceID                 string         `json:"trace_id"`
	SpanID                  string         `json:"span_id"`
	ParentSpanID            string         `json:"parent_span_id,omitempty"`
	Name                    string         `json:"name"`
	Kind                    Kind           `json:"kind"`
	StartTime               time.Time      `json:"start_time"`
	EndTime                 time.Time      `json:"end_time,omitempty"`
	Attributes              map[string]any `json:"attributes,omitempty"`
	TimeEvents              []TimeEvent    `json:"time_events,omitempty"`
	Links                   []Link         `json:"links,omitempty"`
	Status                  *Status        `json:"status,omitempty"`
	SameProcessAsParentSpan bool           `json:"same_process_as_parent_span"`
	Truncated               bool           `json:"truncated,omitempty"`
}

// Started reports whether the span's start time has been set.
func (r *SpanRecord) Started() bool {
	return !r.StartTime.IsZero()
}

// Ended reports whether the span's end time has been set.
func (r *SpanRecord) Ended() bool {
	return !r.EndTime.IsZero()
}

// Duration returns EndTime - StartTime, or zero while either is unset.
func (r *SpanRecord) Duration() time.Duration {
	if !r.Started() || !r.Ended() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

const (
	traceIDBytes = 16
	spanIDBytes  = 8
)

// generateTraceID returns a fresh 16-byte identifier as a flat hex
// string with no separators.
func generateTraceID() string {
	return randomHex(traceIDBytes, time.RFC3339Nano)
}

// generateSpanID returns a fresh 8-byte identifier as a flat hex
// string.
func generateSpanID() string {
	return randomHex(spanIDBytes, "15:04:05.000000")
}

func randomHex(n int, fallbackLayout string) string {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to time-based ID if crypto/rand fails.
		return hex.EncodeToString([]byte(time.Now().Format(fallbackLayout)))
	}
	return hex.EncodeToString(bytes)
}
