package deadletter

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracekit/tracekit"
)

// flakyExporter fails Publish until healed.
type flakyExporter struct {
	mu      sync.Mutex
	healthy bool
	batches [][]*tracekit.SpanRecord
	started []*tracekit.SpanRecord
	ended   []*tracekit.SpanRecord
}

func (e *flakyExporter) OnStartSpan(r *tracekit.SpanRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, r)
}

func (e *flakyExporter) OnEndSpan(r *tracekit.SpanRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ended = append(e.ended, r)
}

func (e *flakyExporter) Publish(_ context.Context, batch []*tracekit.SpanRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.healthy {
		return errors.New("backend unavailable")
	}
	e.batches = append(e.batches, batch)
	return nil
}

func (e *flakyExporter) heal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = true
}

func (e *flakyExporter) batchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

func newTestExporter(t *testing.T, next tracekit.Exporter) *Exporter {
	t.Helper()
	e, err := Wrap(next, Config{
		Path: filepath.Join(t.TempDir(), "deadletter.db"),
		// Keep the schedule out of the test's way; sweeps are driven
		// manually.
		RetrySchedule: "@every 24h",
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func makeBatch(n int) []*tracekit.SpanRecord {
	batch := make([]*tracekit.SpanRecord, n)
	for i := range batch {
		batch[i] = &tracekit.SpanRecord{
			TraceID: "4bf92f3577b34da6a3ce929d0e0e4736",
			SpanID:  "00f067aa0ba902b7",
			Name:    "span",
		}
	}
	return batch
}

func TestWrapValidatesConfig(t *testing.T) {
	_, err := Wrap(&flakyExporter{}, Config{})
	assert.Error(t, err, "path is required")

	_, err = Wrap(&flakyExporter{}, Config{
		Path:          filepath.Join(t.TempDir(), "dl.db"),
		RetrySchedule: "not a schedule",
	})
	assert.Error(t, err)
}

func TestPublishSuccessStoresNothing(t *testing.T) {
	next := &flakyExporter{healthy: true}
	e := newTestExporter(t, next)

	require.NoError(t, e.Publish(context.Background(), makeBatch(2)))

	pending, err := e.Pending()
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
	assert.Equal(t, 1, next.batchCount())
}

func TestPublishFailureStoresBatch(t *testing.T) {
	next := &flakyExporter{}
	e := newTestExporter(t, next)

	err := e.Publish(context.Background(), makeBatch(3))
	assert.Error(t, err, "the original failure is still reported")

	pending, perr := e.Pending()
	require.NoError(t, perr)
	assert.Equal(t, 1, pending)
}

func TestSweepRepublishesOldestFirst(t *testing.T) {
	next := &flakyExporter{}
	e := newTestExporter(t, next)

	first := makeBatch(1)
	first[0].Name = "first"
	second := makeBatch(1)
	second[0].Name = "second"

	require.Error(t, e.Publish(context.Background(), first))
	require.Error(t, e.Publish(context.Background(), second))

	pending, err := e.Pending()
	require.NoError(t, err)
	require.Equal(t, 2, pending)

	next.heal()
	e.Sweep(context.Background())

	pending, err = e.Pending()
	require.NoError(t, err)
	assert.Equal(t, 0, pending)

	require.Equal(t, 2, next.batchCount())
	assert.Equal(t, "first", next.batches[0][0].Name)
	assert.Equal(t, "second", next.batches[1][0].Name)
}

func TestSweepStopsAtFirstFailure(t *testing.T) {
	next := &flakyExporter{}
	e := newTestExporter(t, next)

	require.Error(t, e.Publish(context.Background(), makeBatch(1)))
	require.Error(t, e.Publish(context.Background(), makeBatch(1)))

	// Backend still down: nothing is lost, nothing re-published.
	e.Sweep(context.Background())

	pending, err := e.Pending()
	require.NoError(t, err)
	assert.Equal(t, 2, pending)
	assert.Equal(t, 0, next.batchCount())
}

func TestStoredBatchSurvivesRoundTrip(t *testing.T) {
	next := &flakyExporter{}
	e := newTestExporter(t, next)

	batch := makeBatch(1)
	batch[0].Attributes = map[string]any{"http.method": "GET"}
	batch[0].Status = &tracekit.Status{Code: 2, Message: "deadline exceeded"}
	batch[0].Truncated = true

	require.Error(t, e.Publish(context.Background(), batch))

	next.heal()
	e.Sweep(context.Background())

	require.Equal(t, 1, next.batchCount())
	got := next.batches[0][0]
	assert.Equal(t, batch[0].TraceID, got.TraceID)
	assert.Equal(t, "GET", got.Attributes["http.method"])
	require.NotNil(t, got.Status)
	assert.Equal(t, int32(2), got.Status.Code)
	assert.True(t, got.Truncated)
}

func TestListenerHooksForward(t *testing.T) {
	next := &flakyExporter{healthy: true}
	e := newTestExporter(t, next)

	record := makeBatch(1)[0]
	e.OnStartSpan(record)
	e.OnEndSpan(record)

	assert.Len(t, next.started, 1)
	assert.Len(t, next.ended, 1)
}
