package tracekit

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ExporterBuffer accumulates ended span records and flushes batches
// to an Exporter on a size-or-time trigger. Reaching BufferSize
// flushes immediately and cancels any pending timer; otherwise the
// first record added to a quiet buffer arms a one-shot timer for
// BufferTimeout, and later additions never reset it.
//
// Publish runs on its own goroutine, so a slow or failing exporter
// never blocks Add and a delivery failure can only reach the log.
// The buffer does not retry; if every flush fails the backlog is the
// exporter's to manage, and nothing bounds queue growth while the
// exporter is down.
//
// Safe for concurrent use by multiple goroutines.
type ExporterBuffer struct {
	exporter Exporter
	logger   *zap.Logger
	clock    clockz.Clock

	mu          sync.Mutex
	queue       []*SpanRecord
	timerCancel chan struct{}
	size        int
	timeout     time.Duration

	flushes   *atomic.Int64
	published *atomic.Int64
	failed    *atomic.Int64
}

var _ SpanEventListener = (*ExporterBuffer)(nil)

// NewExporterBuffer creates a buffer delivering to exporter. Zero
// config fields fall back to DefaultBufferConfig values.
func NewExporterBuffer(exporter Exporter, cfg BufferConfig) *ExporterBuffer {
	cfg = cfg.withDefaults()
	return &ExporterBuffer{
		exporter:  exporter,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		size:      cfg.BufferSize,
		timeout:   cfg.BufferTimeout,
		flushes:   atomic.NewInt64(0),
		published: atomic.NewInt64(0),
		failed:    atomic.NewInt64(0),
	}
}

// OnStartSpan is a no-op; only finished records are buffered.
func (b *ExporterBuffer) OnStartSpan(*SpanRecord) {}

// OnEndSpan appends the finished record to the buffer.
func (b *ExporterBuffer) OnEndSpan(record *SpanRecord) {
	b.Add(record)
}

// Add appends a record. If the queue reaches the buffer size the
// whole queue is flushed at once and any pending timer is canceled;
// the size trigger takes priority over timing. Otherwise a flush
// timer is armed unless one is already pending.
func (b *ExporterBuffer) Add(record *SpanRecord) {
	if record == nil {
		return
	}

	b.mu.Lock()
	b.queue = append(b.queue, record)

	if len(b.queue) >= b.size {
		batch := b.queue
		b.queue = nil
		if b.timerCancel != nil {
			close(b.timerCancel)
			b.timerCancel = nil
		}
		b.mu.Unlock()
		b.publish(batch)
		return
	}

	if b.timerCancel == nil {
		cancel := make(chan struct{})
		b.timerCancel = cancel
		// Register with the clock before returning so a fake clock
		// advanced right after Add sees the waiter.
		fire := b.clock.After(b.timeout)
		go b.awaitTimer(fire, cancel)
	}
	b.mu.Unlock()
}

// Flush publishes whatever is currently queued and cancels any
// pending timer.
func (b *ExporterBuffer) Flush() {
	b.mu.Lock()
	batch := b.queue
	b.queue = nil
	if b.timerCancel != nil {
		close(b.timerCancel)
		b.timerCancel = nil
	}
	b.mu.Unlock()

	if len(batch) > 0 {
		b.publish(batch)
	}
}

// SetBufferSize updates the size trigger and returns the buffer.
// Values <= 0 are ignored.
func (b *ExporterBuffer) SetBufferSize(n int) *ExporterBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > 0 {
		b.size = n
	}
	return b
}

// SetBufferTimeout updates the time trigger and returns the buffer.
// Values <= 0 are ignored. A timer already pending keeps its original
// deadline.
func (b *ExporterBuffer) SetBufferTimeout(d time.Duration) *ExporterBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d > 0 {
		b.timeout = d
	}
	return b
}

// Len returns the number of records currently queued.
func (b *ExporterBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// FlushCount returns the number of flushes performed.
func (b *ExporterBuffer) FlushCount() int64 {
	return b.flushes.Load()
}

// PublishedCount returns the number of records successfully
// published.
func (b *ExporterBuffer) PublishedCount() int64 {
	return b.published.Load()
}

// FailedFlushCount returns the number of flushes whose publish
// failed.
func (b *ExporterBuffer) FailedFlushCount() int64 {
	return b.failed.Load()
}

func (b *ExporterBuffer) awaitTimer(fire <-chan time.Time, cancel chan struct{}) {
	select {
	case <-fire:
		b.mu.Lock()
		if b.timerCancel != cancel {
			// A size-triggered flush canceled this timer while it was
			// firing.
			b.mu.Unlock()
			return
		}
		b.timerCancel = nil
		batch := b.queue
		b.queue = nil
		b.mu.Unlock()

		if len(batch) > 0 {
			b.publish(batch)
		}
	case <-cancel:
	}
}

func (b *ExporterBuffer) publish(batch []*SpanRecord) {
	b.flushes.Inc()
	go func() {
		if err := b.exporter.Publish(context.Background(), batch); err != nil {
			b.failed.Inc()
			b.logger.Error("failed to publish span batch",
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			return
		}
		b.published.Add(int64(len(batch)))
	}()
}
