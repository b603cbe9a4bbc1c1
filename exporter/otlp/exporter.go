// Package otlp bridges tracekit span records into the OpenTelemetry
// collector data model, forwarding finished batches to any
// consumer.Traces.
package otlp

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"go.opentelemetry.io/collector/consumer"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.uber.org/zap"

	"github.com/tracekit/tracekit"
	"github.com/zoobzio/clockz"
)

const scopeName = "github.com/tracekit/tracekit"

// Config defines configuration for the bridge exporter.
type Config struct {
	// ServiceName is set as the service.name resource attribute on
	// every exported batch.
	ServiceName string

	// BufferSize and BufferTimeout configure the internal
	// ExporterBuffer. Zero values use tracekit defaults.
	BufferSize    int
	BufferTimeout time.Duration

	Logger *zap.Logger
	Clock  clockz.Clock
}

// Exporter converts finished span records to ptrace.Traces and hands
// them to the next consumer. Register it as a listener on a tracer;
// its end hook feeds an internal size-or-time buffer.
type Exporter struct {
	next        consumer.Traces
	buffer      *tracekit.ExporterBuffer
	logger      *zap.Logger
	serviceName string
}

var _ tracekit.Exporter = (*Exporter)(nil)

// New creates a bridge exporter delivering to next.
func New(next consumer.Traces, cfg Config) *Exporter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Exporter{
		next:        next,
		logger:      logger,
		serviceName: cfg.ServiceName,
	}
	e.buffer = tracekit.NewExporterBuffer(e, tracekit.BufferConfig{
		BufferSize:    cfg.BufferSize,
		BufferTimeout: cfg.BufferTimeout,
		Logger:        logger,
		Clock:         cfg.Clock,
	})
	return e
}

// OnStartSpan is a no-op; only finished spans are exported.
func (e *Exporter) OnStartSpan(*tracekit.SpanRecord) {}

// OnEndSpan buffers the finished record for batched delivery.
func (e *Exporter) OnEndSpan(record *tracekit.SpanRecord) {
	e.buffer.Add(record)
}

// Flush forces delivery of whatever is currently buffered. Call it
// before shutdown.
func (e *Exporter) Flush() {
	e.buffer.Flush()
}

// Publish converts the batch and forwards it to the next consumer.
// Records with malformed identifiers are skipped with a warning; they
// never abort the batch.
func (e *Exporter) Publish(ctx context.Context, batch []*tracekit.SpanRecord) error {
	td := e.convert(batch)
	if td.SpanCount() == 0 {
		return nil
	}
	return e.next.ConsumeTraces(ctx, td)
}

func (e *Exporter) convert(batch []*tracekit.SpanRecord) ptrace.Traces {
	td := ptrace.NewTraces()
	rs := td.ResourceSpans().AppendEmpty()
	if e.serviceName != "" {
		rs.Resource().Attributes().PutStr("service.name", e.serviceName)
	}
	ss := rs.ScopeSpans().AppendEmpty()
	ss.Scope().SetName(scopeName)

	for _, record := range batch {
		if err := appendSpan(ss.Spans(), record); err != nil {
			e.logger.Warn("skipping unexportable span record",
				zap.String("name", record.Name),
				zap.Error(err))
		}
	}
	return td
}

func appendSpan(spans ptrace.SpanSlice, record *tracekit.SpanRecord) error {
	traceID, err := parseTraceID(record.TraceID)
	if err != nil {
		return err
	}
	spanID, err := parseSpanID(record.SpanID)
	if err != nil {
		return err
	}

	span := spans.AppendEmpty()
	span.SetTraceID(traceID)
	span.SetSpanID(spanID)
	if record.ParentSpanID != "" {
		parentID, err := parseSpanID(record.ParentSpanID)
		if err == nil {
			span.SetParentSpanID(parentID)
		}
	}

	span.SetName(record.Name)
	span.SetKind(convertKind(record.Kind))
	span.SetStartTimestamp(pcommon.NewTimestampFromTime(record.StartTime))
	span.SetEndTimestamp(pcommon.NewTimestampFromTime(record.EndTime))

	putAttributes(span.Attributes(), record.Attributes)

	for _, te := range record.TimeEvents {
		event := span.Events().AppendEmpty()
		event.SetTimestamp(pcommon.NewTimestampFromTime(te.Time))
		switch {
		case te.Annotation != nil:
			event.SetName(te.Annotation.Description)
			putAttributes(event.Attributes(), te.Annotation.Attributes)
		case te.MessageEvent != nil:
			event.SetName(messageEventName(te.MessageEvent.Type))
			event.Attributes().PutInt("message.id", te.MessageEvent.ID)
			event.Attributes().PutInt("message.uncompressed_size", te.MessageEvent.UncompressedSize)
			event.Attributes().PutInt("message.compressed_size", te.MessageEvent.CompressedSize)
		}
	}

	for _, l := range record.Links {
		linkTraceID, err := parseTraceID(l.TraceID)
		if err != nil {
			continue
		}
		linkSpanID, err := parseSpanID(l.SpanID)
		if err != nil {
			continue
		}
		link := span.Links().AppendEmpty()
		link.SetTraceID(linkTraceID)
		link.SetSpanID(linkSpanID)
		putAttributes(link.Attributes(), l.Attributes)
	}

	if record.Status != nil {
		status := span.Status()
		if record.Status.Code == 0 {
			status.SetCode(ptrace.StatusCodeOk)
		} else {
			status.SetCode(ptrace.StatusCodeError)
		}
		status.SetMessage(record.Status.Message)
	}

	return nil
}

func convertKind(kind tracekit.Kind) ptrace.SpanKind {
	switch kind {
	case tracekit.KindServer:
		return ptrace.SpanKindServer
	case tracekit.KindClient:
		return ptrace.SpanKindClient
	default:
		return ptrace.SpanKindUnspecified
	}
}

func messageEventName(t tracekit.MessageEventType) string {
	switch t {
	case tracekit.MessageEventTypeSent:
		return "message_sent"
	case tracekit.MessageEventTypeReceived:
		return "message_received"
	default:
		return "message"
	}
}

func putAttributes(dst pcommon.Map, attrs map[string]any) {
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			dst.PutStr(k, val)
		case bool:
			dst.PutBool(k, val)
		case int:
			dst.PutInt(k, int64(val))
		case int32:
			dst.PutInt(k, int64(val))
		case int64:
			dst.PutInt(k, val)
		case float32:
			dst.PutDouble(k, float64(val))
		case float64:
			dst.PutDouble(k, val)
		default:
			dst.PutStr(k, fmt.Sprintf("%v", val))
		}
	}
}

func parseTraceID(s string) (pcommon.TraceID, error) {
	var id pcommon.TraceID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid trace id %q: %w", s, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("invalid trace id %q: want %d bytes, got %d", s, len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func parseSpanID(s string) (pcommon.SpanID, error) {
	var id pcommon.SpanID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid span id %q: %w", s, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("invalid span id %q: want %d bytes, got %d", s, len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}
