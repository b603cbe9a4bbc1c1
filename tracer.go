package tracekit

import (
	"context"
	"sync"

	"github.com/zoobzio/clockz"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// rootSpanKeyType is a private type for context keys to avoid
// collisions.
type rootSpanKeyType struct{}

var rootSpanKey rootSpanKeyType

// Tracer gates root-span creation through a sampler and fans every
// span lifecycle event in its traces out to globally registered
// listeners. The "current trace" travels in a context.Context rather
// than process-wide mutable state, so the right trace is visible at
// async-resumption points without ambient globals.
//
// Safe for concurrent use by multiple goroutines.
type Tracer struct {
	mu        sync.RWMutex
	listeners []SpanEventListener

	sampler     Sampler
	defaultKind Kind
	logger      *zap.Logger
	clock       clockz.Clock
	active      *atomic.Bool
}

var _ SpanEventListener = (*Tracer)(nil)

// New creates a stopped tracer. Call Start to activate it.
func New() *Tracer {
	return &Tracer{
		sampler: Never(),
		logger:  zap.NewNop(),
		clock:   clockz.RealClock,
		active:  atomic.NewBool(false),
	}
}

// Start activates the tracer with the given configuration. While a
// tracer is inactive, StartRootSpan creates no spans and tracing has
// near-zero overhead.
func (t *Tracer) Start(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	t.sampler = Probability(cfg.SamplingRate)
	t.defaultKind = cfg.DefaultKind
	if cfg.Logger != nil {
		t.logger = cfg.Logger
	}
	if cfg.Clock != nil {
		t.clock = cfg.Clock
	}
	logger := t.logger
	t.mu.Unlock()

	t.active.Store(true)
	logger.Info("tracer started", zap.Float64("sampling_rate", cfg.SamplingRate))
	return nil
}

// Stop deactivates the tracer. Spans already started keep working;
// new root spans are not created.
func (t *Tracer) Stop() {
	t.active.Store(false)
	t.mu.RLock()
	logger := t.logger
	t.mu.RUnlock()
	logger.Info("tracer stopped")
}

// Active reports whether the tracer is currently recording traces.
func (t *Tracer) Active() bool {
	return t.active.Load()
}

// RegisterSpanEventListener adds a listener that observes every span
// of every trace started by this tracer.
func (t *Tracer) RegisterSpanEventListener(l SpanEventListener) {
	if l == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// UnregisterSpanEventListener removes every entry identical to l,
// compared by identity.
func (t *Tracer) UnregisterSpanEventListener(l SpanEventListener) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.listeners[:0]
	for _, entry := range t.listeners {
		if entry != l {
			kept = append(kept, entry)
		}
	}
	t.listeners = kept
}

// StartRootSpan runs fn with a new root span bound into its context.
//
// If the tracer is inactive or the sampler rejects the resolved trace
// identifier, fn runs with a nil root and an unchanged context: no
// record is created and no listener fires. Otherwise the root is
// constructed (continuing the trace in opts.SpanContext when
// supplied), wired to the tracer's global listeners, started, and
// passed to fn along with a derived context carrying it. The parent
// context is never mutated, so the caller's trace state is restored
// simply by fn returning, however it returns.
//
// Ending the root span is the caller's responsibility; it is commonly
// deferred inside fn.
func (t *Tracer) StartRootSpan(ctx context.Context, opts SpanOptions, fn func(ctx context.Context, root *RootSpan) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !t.active.Load() {
		return fn(ctx, nil)
	}

	t.mu.RLock()
	sampler := t.sampler
	defaultKind := t.defaultKind
	logger := t.logger
	clock := t.clock
	t.mu.RUnlock()

	// Resolve the trace identifier before sampling so a continued
	// trace and its origin agree on the decision.
	if opts.SpanContext == nil || opts.SpanContext.TraceID == "" {
		continued := SpanContext{TraceID: generateTraceID()}
		if opts.SpanContext != nil {
			continued.SpanID = opts.SpanContext.SpanID
		}
		opts.SpanContext = &continued
	}
	if !sampler.ShouldSample(opts.SpanContext.TraceID) {
		return fn(ctx, nil)
	}

	if opts.Kind == KindUnspecified {
		opts.Kind = defaultKind
	}

	root := NewRootSpan(opts, clock, logger)
	root.RegisterSpanEventListener(t)
	root.Start()

	return fn(ContextWithRootSpan(ctx, root), root)
}

// StartChildSpan starts a child of the root span carried by ctx.
// Returns nil with a warning when ctx carries no active trace.
func (t *Tracer) StartChildSpan(ctx context.Context, name string, kind Kind) *ChildSpan {
	root := RootSpanFromContext(ctx)
	if root == nil {
		t.mu.RLock()
		logger := t.logger
		t.mu.RUnlock()
		logger.Warn("child span without an active trace", zap.String("child", name))
		return nil
	}
	return root.StartChildSpan(name, kind)
}

// Wrap returns a function that, when invoked, runs fn against the
// trace context captured from ctx at wrap time. Use it for callbacks
// and event handlers that fire after the frame that started the root
// span has returned; child spans created inside fn still attach to
// the right trace.
func (t *Tracer) Wrap(ctx context.Context, fn func(ctx context.Context)) func() {
	root := RootSpanFromContext(ctx)
	return func() {
		inner := context.Background()
		if root != nil {
			inner = ContextWithRootSpan(inner, root)
		}
		fn(inner)
	}
}

// OnStartSpan broadcasts a span start to the registered global
// listeners, in registration order.
func (t *Tracer) OnStartSpan(record *SpanRecord) {
	for _, l := range t.snapshotListeners() {
		l.OnStartSpan(record)
	}
}

// OnEndSpan broadcasts a span end to the registered global listeners,
// in registration order.
func (t *Tracer) OnEndSpan(record *SpanRecord) {
	for _, l := range t.snapshotListeners() {
		l.OnEndSpan(record)
	}
}

func (t *Tracer) snapshotListeners() []SpanEventListener {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.listeners) == 0 {
		return nil
	}
	out := make([]SpanEventListener, len(t.listeners))
	copy(out, t.listeners)
	return out
}

// ContextWithRootSpan returns a context carrying root as the current
// trace.
func ContextWithRootSpan(ctx context.Context, root *RootSpan) context.Context {
	return context.WithValue(ctx, rootSpanKey, root)
}

// RootSpanFromContext extracts the current root span from a context,
// or nil if the context carries no trace.
func RootSpanFromContext(ctx context.Context) *RootSpan {
	if ctx == nil {
		return nil
	}
	if root, ok := ctx.Value(rootSpanKey).(*RootSpan); ok {
		return root
	}
	return nil
}

// ClearTrace returns a context with the current trace detached,
// without ending it. Spans started from the returned context will not
// attach to the previous trace.
func ClearTrace(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithValue(ctx, rootSpanKey, (*RootSpan)(nil))
}
