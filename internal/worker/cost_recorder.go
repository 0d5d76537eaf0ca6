package worker

import (
	"context"
	"log/slog"
	"time"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/telemetry"
)

const (
	costChanSize   = 1000
	costBatchSize  = 100
	costFlushEvery = 5 * time.Second
	costDrainTime  = 30 * time.Second
)

// EntryStore is the persistence interface consumed by CostRecorder.
type EntryStore interface {
	InsertCostEntries(ctx context.Context, entries []gateway.CostEntry) error
}

// CostRecorder buffers ledger entries and batch-flushes them to the store.
// It implements cost.Sink: Record never blocks and drops on a full channel
// (back-pressure on slow DB).
type CostRecorder struct {
	ch      chan gateway.CostEntry
	store   EntryStore
	metrics *telemetry.Metrics // nil disables metric updates
}

// NewCostRecorder creates a CostRecorder backed by store. metrics may be nil.
func NewCostRecorder(store EntryStore, metrics *telemetry.Metrics) *CostRecorder {
	return &CostRecorder{
		ch:      make(chan gateway.CostEntry, costChanSize),
		store:   store,
		metrics: metrics,
	}
}

// Record enqueues a cost entry. It never blocks; drops on full channel.
func (c *CostRecorder) Record(e gateway.CostEntry) {
	select {
	case c.ch <- e:
		if c.metrics != nil {
			c.metrics.CostQueueLength.Set(float64(len(c.ch)))
		}
	default:
		if c.metrics != nil {
			c.metrics.CostEntriesDropped.Inc()
		}
		slog.Warn("cost entry dropped, writer queue full")
	}
}

// Run processes entries until ctx is cancelled, then drains remaining entries.
func (c *CostRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(costFlushEvery)
	defer ticker.Stop()

	buf := make([]gateway.CostEntry, 0, costBatchSize)

	for {
		select {
		case e := <-c.ch:
			buf = append(buf, e)
			if len(buf) >= costBatchSize {
				c.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				c.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			// Drain remaining entries with a timeout.
			c.drain(buf)
			return nil
		}
	}
}

func (c *CostRecorder) drain(buf []gateway.CostEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), costDrainTime)
	defer cancel()

	for {
		select {
		case e := <-c.ch:
			buf = append(buf, e)
			if len(buf) >= costBatchSize {
				c.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			// Channel empty, flush remaining.
			if len(buf) > 0 {
				c.flush(ctx, buf)
			}
			return
		}
	}
}

func (c *CostRecorder) flush(ctx context.Context, buf []gateway.CostEntry) {
	// Copy to avoid aliasing the caller's slice. Entries arrive with
	// ids already assigned by the ledger.
	batch := make([]gateway.CostEntry, len(buf))
	copy(batch, buf)

	if err := c.store.InsertCostEntries(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "cost flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
	if c.metrics != nil {
		c.metrics.CostQueueLength.Set(float64(len(c.ch)))
	}
}
