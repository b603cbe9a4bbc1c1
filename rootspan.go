package tracekit

import (
	"sync"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// RootSpan is the first span of a trace. It owns an ordered list of
// child spans and relays their lifecycle events to its own listeners,
// so a single registration (typically the tracer's) observes every
// span in the trace.
type RootSpan struct {
	Span

	childMu  sync.Mutex
	children []*ChildSpan
}

// ChildSpan is a span whose parent is a RootSpan in the same process.
// It adds no behavior beyond being flagged same-process-as-parent.
type ChildSpan struct {
	Span
}

var _ SpanEventListener = (*RootSpan)(nil)

// NewRootSpan constructs an unstarted root span. A SpanContext in
// opts continues an existing trace: its TraceID is reused and its
// SpanID becomes this root's parent. Without one, a fresh 16-byte
// trace identifier is generated.
func NewRootSpan(opts SpanOptions, clock clockz.Clock, logger *zap.Logger) *RootSpan {
	record := &SpanRecord{
		TraceID: generateTraceID(),
		SpanID:  generateSpanID(),
		Name:    opts.Name,
		Kind:    opts.Kind,
	}
	if opts.SpanContext != nil {
		if opts.SpanContext.TraceID != "" {
			record.TraceID = opts.SpanContext.TraceID
		}
		record.ParentSpanID = opts.SpanContext.SpanID
	}
	return &RootSpan{Span: newSpan(record, clock, logger)}
}

// StartChildSpan constructs a child sharing this trace's identifier,
// registers the root as one of its listeners, starts it, and appends
// it to the child list. Returns nil with a warning if the root is not
// yet started or already ended.
func (r *RootSpan) StartChildSpan(name string, kind Kind) *ChildSpan {
	if !r.Started() {
		r.logger.Warn("child span on unstarted root",
			zap.String("root", r.record.Name),
			zap.String("child", name))
		return nil
	}
	if r.Ended() {
		r.logger.Warn("child span on ended root",
			zap.String("root", r.record.Name),
			zap.String("child", name))
		return nil
	}

	record := &SpanRecord{
		TraceID:                 r.record.TraceID,
		SpanID:                  generateSpanID(),
		ParentSpanID:            r.record.SpanID,
		Name:                    name,
		Kind:                    kind,
		SameProcessAsParentSpan: true,
	}
	child := &ChildSpan{Span: newSpan(record, r.clock, r.logger)}
	child.RegisterSpanEventListener(r)
	child.Start()

	r.childMu.Lock()
	r.children = append(r.children, child)
	r.childMu.Unlock()

	return child
}

// Children returns the child spans in creation order, or nil once the
// root has ended.
func (r *RootSpan) Children() []*ChildSpan {
	r.childMu.Lock()
	defer r.childMu.Unlock()
	if len(r.children) == 0 {
		return nil
	}
	out := make([]*ChildSpan, len(r.children))
	copy(out, r.children)
	return out
}

// End force-closes every child that was started but never ended, then
// performs the base end sequence. Ending a trace never leaves an open
// child un-terminated in the exported record set. The child list is
// released afterward; no child may be added past this point.
func (r *RootSpan) End() {
	r.childMu.Lock()
	children := r.children
	r.children = nil
	r.childMu.Unlock()

	for _, child := range children {
		if child.Started() && !child.Ended() {
			child.Truncate()
		}
	}

	r.Span.End()
}

// Truncate marks the root truncated and closes it through the root's
// End sequence, so open children are still force-closed first.
func (r *RootSpan) Truncate() {
	r.mu.Lock()
	if r.record.Started() && !r.record.Ended() {
		r.record.Truncated = true
	}
	r.mu.Unlock()
	r.End()
}

// OnStartSpan re-broadcasts a child's start event to the root's own
// listeners.
func (r *RootSpan) OnStartSpan(record *SpanRecord) {
	r.mu.Lock()
	listeners := r.snapshotListenersLocked()
	r.mu.Unlock()
	for _, l := range listeners {
		l.OnStartSpan(record)
	}
}

// OnEndSpan re-broadcasts a child's end event to the root's own
// listeners.
func (r *RootSpan) OnEndSpan(record *SpanRecord) {
	r.mu.Lock()
	listeners := r.snapshotListenersLocked()
	r.mu.Unlock()
	for _, l := range listeners {
		l.OnEndSpan(record)
	}
}
