package tracekit

import (
	"sync"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Span wraps a SpanRecord with the unstarted -> started -> ended state
// machine and a listener notification contract. Both transitions are
// irreversible; misuse (double start, end before start, double end) is
// logged as a warning and ignored, never surfaced to the caller.
//
// Safe for concurrent use; listener hooks are invoked outside the
// span's lock, in registration order.
type Span struct {
	mu        sync.Mutex
	record    *SpanRecord
	listeners []SpanEventListener
	clock     clockz.Clock
	logger    *zap.Logger
}

func newSpan(record *SpanRecord, clock clockz.Clock, logger *zap.Logger) Span {
	if clock == nil {
		clock = clockz.RealClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return Span{
		record: record,
		clock:  clock,
		logger: logger,
	}
}

// Record returns the span's underlying record. The record is shared
// with listeners and must not be mutated by callers.
func (s *Span) Record() *SpanRecord {
	return s.record
}

// Name returns the span's name.
func (s *Span) Name() string { return s.record.Name }

// TraceID returns the identifier shared by every span in this trace.
func (s *Span) TraceID() string { return s.record.TraceID }

// SpanID returns the span's unique identifier.
func (s *Span) SpanID() string { return s.record.SpanID }

// Started reports whether Start has run.
func (s *Span) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Started()
}

// Ended reports whether End has run.
func (s *Span) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Ended()
}

// Truncated reports whether the span was force-closed by its parent.
func (s *Span) Truncated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Truncated
}

// RegisterSpanEventListener adds a listener to the span. Listeners
// are notified in registration order.
func (s *Span) RegisterSpanEventListener(l SpanEventListener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// UnregisterSpanEventListener removes every entry identical to l.
// Listeners are compared by identity, not by value, so a listener
// registered twice is removed twice.
func (s *Span) UnregisterSpanEventListener(l SpanEventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.listeners[:0]
	for _, entry := range s.listeners {
		if entry != l {
			kept = append(kept, entry)
		}
	}
	s.listeners = kept
}

// Start sets the span's start time and notifies every registered
// listener's start hook. Starting an already started span is a warned
// no-op that leaves the original start time unchanged.
func (s *Span) Start() {
	s.mu.Lock()
	if s.record.Started() {
		s.mu.Unlock()
		s.logger.Warn("span already started",
			zap.String("name", s.record.Name),
			zap.String("span_id", s.record.SpanID))
		return
	}
	s.record.StartTime = s.clock.Now()
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	for _, l := range listeners {
		l.OnStartSpan(s.record)
	}
}

// End sets the span's end time, notifies every listener's end hook,
// then releases the listener list; no further notifications are
// possible. Ending an unstarted or already ended span is a warned
// no-op and never fabricates a start time.
func (s *Span) End() {
	s.mu.Lock()
	if !s.record.Started() {
		s.mu.Unlock()
		s.logger.Warn("span ended before start",
			zap.String("name", s.record.Name),
			zap.String("span_id", s.record.SpanID))
		return
	}
	if s.record.Ended() {
		s.mu.Unlock()
		s.logger.Warn("span already ended",
			zap.String("name", s.record.Name),
			zap.String("span_id", s.record.SpanID))
		return
	}
	s.record.EndTime = s.clock.Now()
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	for _, l := range listeners {
		l.OnEndSpan(s.record)
	}
}

// Truncate marks the span truncated and force-closes it. Used when a
// parent closes an unfinished child. Idempotent with the same rules
// as End; the flag is only set together with the forced end.
func (s *Span) Truncate() {
	s.mu.Lock()
	if s.record.Started() && !s.record.Ended() {
		s.record.Truncated = true
	}
	s.mu.Unlock()
	s.End()
}

// AddAttribute sets an attribute on the span. Keys are unique; the
// last write wins.
func (s *Span) AddAttribute(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record.Attributes == nil {
		s.record.Attributes = make(map[string]any)
	}
	s.record.Attributes[key] = value
}

// Annotate appends a text annotation to the span's event sequence.
func (s *Span) Annotate(description string, attributes map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.TimeEvents = append(s.record.TimeEvents, TimeEvent{
		Time: s.clock.Now(),
		Annotation: &Annotation{
			Description: description,
			Attributes:  attributes,
		},
	})
}

// AddMessageEvent appends a message event to the span's event
// sequence.
func (s *Span) AddMessageEvent(eventType MessageEventType, id, uncompressedSize, compressedSize int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.TimeEvents = append(s.record.TimeEvents, TimeEvent{
		Time: s.clock.Now(),
		MessageEvent: &MessageEvent{
			Type:             eventType,
			ID:               id,
			UncompressedSize: uncompressedSize,
			CompressedSize:   compressedSize,
		},
	})
}

// AddLink appends a reference to a span in another trace.
func (s *Span) AddLink(traceID, spanID string, attributes map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.Links = append(s.record.Links, Link{
		TraceID:    traceID,
		SpanID:     spanID,
		Attributes: attributes,
	})
}

// SetStatus sets the span's status. Meaningful at most once before
// End; later writes overwrite but are invisible to listeners, which
// received the record at end time.
func (s *Span) SetStatus(code int32, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.Status = &Status{Code: code, Message: message}
}

// snapshotListenersLocked copies the listener list so hooks run
// outside the span's lock. Caller must hold s.mu.
func (s *Span) snapshotListenersLocked() []SpanEventListener {
	if len(s.listeners) == 0 {
		return nil
	}
	out := make([]SpanEventListener, len(s.listeners))
	copy(out, s.listeners)
	return out
}
