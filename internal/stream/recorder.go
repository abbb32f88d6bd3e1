package stream

import (
	"context"
	"sync"
	"time"

	"tickwrangler/internal/market"
	"tickwrangler/internal/replay"
	"tickwrangler/pkg/storage/postgres"

	"go.uber.org/zap"
)

const (
	recorderBatchSize     = 500
	recorderFlushInterval = time.Second
	recorderPruneInterval = time.Hour
)

// TickWriter persists tick records and prunes old ones.
type TickWriter interface {
	InsertTicks(ctx context.Context, records []postgres.TickRecord) (int64, error)
	DeleteTicksBefore(ctx context.Context, before time.Time) (int64, error)
}

type lastSeen struct {
	at  time.Time
	seq uint32
}

// Recorder batches live ticks into the historical tick table so a live
// session can be replayed later.
type Recorder struct {
	writer    TickWriter
	logger    *zap.Logger
	retention time.Duration
	now       func() time.Time

	mu      sync.Mutex
	pending []postgres.TickRecord
	last    map[string]lastSeen
	flushCh chan struct{}
}

// NewRecorder creates a recorder. With a positive retention, ticks older than
// retention are deleted once at start and then hourly.
func NewRecorder(writer TickWriter, retention time.Duration, logger *zap.Logger) *Recorder {
	return &Recorder{
		writer:    writer,
		logger:    logger,
		retention: retention,
		now:       time.Now,
		last:      make(map[string]lastSeen),
		flushCh:   make(chan struct{}, 1),
	}
}

// Record queues ev. Ticks sharing an instrument and timestamp get increasing
// sequence numbers so none of them collide on insert.
func (r *Recorder) Record(ev market.TickEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := ev.Instrument.Name()
	prev, ok := r.last[name]
	seq := uint32(0)
	if ok && prev.at.Equal(ev.Timestamp) {
		seq = prev.seq + 1
	}
	r.last[name] = lastSeen{at: ev.Timestamp, seq: seq}

	r.pending = append(r.pending, replay.ToTickRecord(ev, seq))
	if len(r.pending) >= recorderBatchSize {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
}

// Run flushes periodically and when a batch fills, until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(recorderFlushInterval)
	defer ticker.Stop()

	var pruneC <-chan time.Time
	if r.retention > 0 {
		r.Prune(ctx)
		pruneTicker := time.NewTicker(recorderPruneInterval)
		defer pruneTicker.Stop()
		pruneC = pruneTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			// final flush outlives the cancelled context
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.Flush(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			r.Flush(ctx)
		case <-r.flushCh:
			r.Flush(ctx)
		case <-pruneC:
			r.Prune(ctx)
		}
	}
}

// Flush writes everything queued so far. Failed batches are logged and dropped.
func (r *Recorder) Flush(ctx context.Context) {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	n, err := r.writer.InsertTicks(ctx, batch)
	if err != nil {
		r.logger.Warn("failed to insert tick records", zap.Int("records", len(batch)), zap.Error(err))
		return
	}
	r.logger.Debug("tick records inserted", zap.Int64("inserted", n), zap.Int("records", len(batch)))
}

// Prune deletes recorded ticks older than the retention window.
func (r *Recorder) Prune(ctx context.Context) {
	if r.retention <= 0 {
		return
	}
	before := r.now().UTC().Add(-r.retention)
	n, err := r.writer.DeleteTicksBefore(ctx, before)
	if err != nil {
		r.logger.Warn("failed to prune tick records", zap.Time("before", before), zap.Error(err))
		return
	}
	r.logger.Info("tick records pruned", zap.Int64("deleted", n), zap.Time("before", before))
}
