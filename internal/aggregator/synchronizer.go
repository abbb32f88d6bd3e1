package aggregator

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"tickwrangler/internal/market"
	"tickwrangler/internal/memorystore"

	"go.uber.org/zap"
)

// Source is the per-instrument view the synchronizer needs from a timeline.
type Source interface {
	Instrument() *market.Instrument
	Bootstrapped() bool
	BucketAt(ts time.Time) *memorystore.Bucket
}

// Row is the cross-section of all tracked instruments at one timestamp.
type Row struct {
	mu      sync.Mutex
	at      time.Time
	entries map[*market.Instrument]*memorystore.Bucket
}

// Time returns the row timestamp.
func (r *Row) Time() time.Time { return r.at }

// Entry returns the bucket stored for inst, if any.
func (r *Row) Entry(inst *market.Instrument) (*memorystore.Bucket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.entries[inst]
	return b, ok
}

// Len returns the number of instruments with an entry in the row.
func (r *Row) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// RowListener receives a row every time it is updated.
type RowListener func(r *Row, trigger *market.Instrument)

// Synchronizer aligns per-instrument timelines into time-keyed rows.
// No row exists until every registered instrument has bootstrapped.
type Synchronizer struct {
	logger *zap.Logger

	srcMu   sync.RWMutex
	sources []Source

	gateOpen atomic.Bool

	rowsMu sync.RWMutex
	rows   map[int64]*Row
	times  []time.Time

	watermark atomic.Int64
	listeners []RowListener
}

func NewSynchronizer(logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		logger: logger,
		rows:   make(map[int64]*Row),
	}
}

// AddSource registers an instrument timeline.
func (s *Synchronizer) AddSource(src Source) {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()
	s.sources = append(s.sources, src)
}

// OnRow registers a listener called after each row update, outside the row lock.
// Listeners must be registered before data starts flowing.
func (s *Synchronizer) OnRow(l RowListener) {
	s.listeners = append(s.listeners, l)
}

// Instruments returns the tracked instruments in registration order.
func (s *Synchronizer) Instruments() []*market.Instrument {
	s.srcMu.RLock()
	defer s.srcMu.RUnlock()
	out := make([]*market.Instrument, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src.Instrument())
	}
	return out
}

// GateOpen reports whether every tracked instrument has bootstrapped.
func (s *Synchronizer) GateOpen() bool {
	if s.gateOpen.Load() {
		return true
	}

	s.srcMu.RLock()
	defer s.srcMu.RUnlock()
	if len(s.sources) == 0 {
		return false
	}
	for _, src := range s.sources {
		if !src.Bootstrapped() {
			return false
		}
	}

	if s.gateOpen.CompareAndSwap(false, true) {
		s.logger.Info("all instruments initialized", zap.Int("instruments", len(s.sources)))
	}
	return true
}

// Notify implements memorystore.Notifier: inst has a new bucket.
func (s *Synchronizer) Notify(inst *market.Instrument, bucket *memorystore.Bucket) {
	if !s.GateOpen() {
		return
	}

	at := bucket.Time()
	row := s.rowFor(at)

	s.srcMu.RLock()
	sources := s.sources
	s.srcMu.RUnlock()

	row.mu.Lock()
	for _, src := range sources {
		g := src.Instrument()
		if _, ok := row.entries[g]; ok {
			if g == inst {
				row.entries[g] = bucket
			}
			continue
		}

		if g == inst {
			row.entries[g] = bucket
			continue
		}
		if b := src.BucketAt(at); b != nil {
			row.entries[g] = b
		} else {
			s.logger.Debug("no state at or before row",
				zap.String("instrument", g.Name()), zap.Time("at", at))
		}
	}
	row.mu.Unlock()

	s.advanceWatermark(at)

	for _, l := range s.listeners {
		l(row, inst)
	}
}

// Watermark returns the latest row timestamp synchronized so far.
func (s *Synchronizer) Watermark() time.Time {
	ns := s.watermark.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Rows returns all rows in ascending time order.
func (s *Synchronizer) Rows() []*Row {
	s.rowsMu.RLock()
	defer s.rowsMu.RUnlock()

	out := make([]*Row, 0, len(s.times))
	for _, at := range s.times {
		out = append(out, s.rows[at.UnixNano()])
	}
	return out
}

// Len returns the number of rows.
func (s *Synchronizer) Len() int {
	s.rowsMu.RLock()
	defer s.rowsMu.RUnlock()
	return len(s.times)
}

func (s *Synchronizer) rowFor(at time.Time) *Row {
	key := at.UnixNano()

	s.rowsMu.RLock()
	row, ok := s.rows[key]
	s.rowsMu.RUnlock()
	if ok {
		return row
	}

	s.rowsMu.Lock()
	defer s.rowsMu.Unlock()
	if row, ok = s.rows[key]; ok {
		return row
	}

	row = &Row{at: at, entries: make(map[*market.Instrument]*memorystore.Bucket)}
	s.rows[key] = row
	i, _ := slices.BinarySearchFunc(s.times, at, func(a, b time.Time) int { return a.Compare(b) })
	s.times = slices.Insert(s.times, i, at)
	return row
}

func (s *Synchronizer) advanceWatermark(at time.Time) {
	ns := at.UnixNano()
	for {
		cur := s.watermark.Load()
		if ns <= cur {
			return
		}
		if s.watermark.CompareAndSwap(cur, ns) {
			return
		}
	}
}
