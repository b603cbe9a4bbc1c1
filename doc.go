// Package tracekit is a distributed-tracing instrumentation core. It
// models a trace as a tree of spans, decides probabilistically whether
// a trace is recorded, and batches finished span records for delivery
// to a reporting backend.
//
// Core components:
//   - Tracer: sampling gate, trace context, listener hub.
//   - RootSpan / ChildSpan: span lifecycle and trace composition.
//   - Sampler: deterministic per-trace sampling decision.
//   - ExporterBuffer: size-or-time batching in front of an Exporter.
//
// Basic usage:
//
//	tracer := tracekit.New()
//	if err := tracer.Start(tracekit.DefaultConfig()); err != nil {
//		return err
//	}
//	defer tracer.Stop()
//
//	err := tracer.StartRootSpan(ctx, tracekit.SpanOptions{Name: "handle-request"},
//		func(ctx context.Context, root *tracekit.RootSpan) error {
//			if root == nil {
//				// Trace not sampled; business logic runs unchanged.
//				return handle(ctx)
//			}
//			defer root.End()
//
//			child := root.StartChildSpan("fetch-user", tracekit.KindClient)
//			err := fetch(ctx)
//			if child != nil {
//				child.End()
//			}
//			return err
//		})
//
// Exporters implement the Exporter interface and typically register an
// ExporterBuffer (or themselves) as a listener on the tracer. Tracing
// failures are fail-open: misuse of the span state machine logs a
// warning and is otherwise a no-op, sampling rejection silently runs
// the continuation with a nil span, and a failed publish is logged at
// the buffer boundary without ever reaching the instrumented call
// site.
package tracekit
