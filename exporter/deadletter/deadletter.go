// Package deadletter wraps an exporter with an explicit
// failed-publish policy: batches the inner exporter rejects are
// persisted to a BoltDB file and re-published on a schedule,
// oldest-first, until they succeed.
//
// The tracing core itself never retries; this package is the
// pluggable retry policy for deployments that want one.
package deadletter

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tracekit/tracekit"
)

var bucketName = []byte("deadletter")

// DefaultRetrySchedule re-publishes stored batches once a minute.
const DefaultRetrySchedule = "@every 1m"

// Config defines configuration for the dead-letter wrapper.
type Config struct {
	// Path is the BoltDB file holding failed batches.
	Path string

	// RetrySchedule is a cron expression for the re-publish sweep.
	// Defaults to DefaultRetrySchedule.
	RetrySchedule string

	Logger *zap.Logger
}

// Validate checks if the dead-letter configuration is valid.
func (cfg *Config) Validate() error {
	if cfg.Path == "" {
		return fmt.Errorf("path must be specified")
	}
	return nil
}

// Exporter decorates another exporter. Publish failures are stored
// instead of lost; a background sweep retries them in enqueue order.
type Exporter struct {
	next   tracekit.Exporter
	db     *bolt.DB
	cron   *cron.Cron
	logger *zap.Logger
}

var _ tracekit.Exporter = (*Exporter)(nil)

// Wrap opens (or creates) the store at cfg.Path and starts the retry
// schedule. Close releases both.
func Wrap(next tracekit.Exporter, cfg Config) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open dead-letter store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create dead-letter bucket: %w", err)
	}

	e := &Exporter{
		next:   next,
		db:     db,
		logger: logger,
	}

	schedule := cfg.RetrySchedule
	if schedule == "" {
		schedule = DefaultRetrySchedule
	}
	e.cron = cron.New()
	if _, err := e.cron.AddFunc(schedule, func() { e.Sweep(context.Background()) }); err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid retry schedule %q: %w", schedule, err)
	}
	e.cron.Start()

	logger.Info("dead-letter store opened",
		zap.String("path", cfg.Path),
		zap.String("schedule", schedule))

	return e, nil
}

// OnStartSpan forwards to the wrapped exporter.
func (e *Exporter) OnStartSpan(record *tracekit.SpanRecord) {
	e.next.OnStartSpan(record)
}

// OnEndSpan forwards to the wrapped exporter.
func (e *Exporter) OnEndSpan(record *tracekit.SpanRecord) {
	e.next.OnEndSpan(record)
}

// Publish delivers through the wrapped exporter. On failure the batch
// is persisted for a later sweep and the original error is returned,
// so the caller's accounting still records the failed flush.
func (e *Exporter) Publish(ctx context.Context, batch []*tracekit.SpanRecord) error {
	err := e.next.Publish(ctx, batch)
	if err == nil {
		return nil
	}

	if storeErr := e.store(batch); storeErr != nil {
		e.logger.Error("failed to store dead-letter batch",
			zap.Int("batch_size", len(batch)),
			zap.Error(storeErr))
	} else {
		e.logger.Warn("publish failed, batch stored for retry",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
	}
	return err
}

// Sweep re-publishes stored batches oldest-first, deleting each on
// success. It stops at the first failure, leaving the remainder for
// the next schedule tick.
func (e *Exporter) Sweep(ctx context.Context) {
	for {
		key, batch, err := e.oldest()
		if err != nil {
			e.logger.Error("failed to read dead-letter store", zap.Error(err))
			return
		}
		if key == nil {
			return
		}

		if err := e.next.Publish(ctx, batch); err != nil {
			e.logger.Warn("dead-letter retry failed, keeping batch",
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			return
		}

		if err := e.delete(key); err != nil {
			e.logger.Error("failed to remove re-published batch", zap.Error(err))
			return
		}
		e.logger.Info("re-published dead-letter batch",
			zap.Int("batch_size", len(batch)))
	}
}

// Pending returns the number of stored batches awaiting retry.
func (e *Exporter) Pending() (int, error) {
	var n int
	err := e.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketName).Stats().KeyN
		return nil
	})
	return n, err
}

// Close stops the retry schedule and closes the store.
func (e *Exporter) Close() error {
	e.cron.Stop()
	return e.db.Close()
}

func (e *Exporter) store(batch []*tracekit.SpanRecord) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}
	return e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, payload)
	})
}

func (e *Exporter) oldest() (key []byte, batch []*tracekit.SpanRecord, err error) {
	err = e.db.View(func(tx *bolt.Tx) error {
		k, v := tx.Bucket(bucketName).Cursor().First()
		if k == nil {
			return nil
		}
		key = append([]byte(nil), k...)
		return json.Unmarshal(v, &batch)
	})
	if err != nil {
		return nil, nil, err
	}
	return key, batch, nil
}

func (e *Exporter) delete(key []byte) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key)
	})
}
