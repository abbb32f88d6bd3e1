package memorystore

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"tickwrangler/internal/market"

	"go.uber.org/zap"
)

// Notifier is told when a timeline opens a new bucket.
type Notifier interface {
	Notify(inst *market.Instrument, bucket *Bucket)
}

// Bucket holds the states of one instrument that fall in one interval,
// ordered by sequence number.
type Bucket struct {
	mu     sync.Mutex
	at     time.Time
	states []*market.State
}

// Time returns the interval start the bucket is keyed by.
func (b *Bucket) Time() time.Time { return b.at }

// States returns a copy of the bucket's states in sequence order.
func (b *Bucket) States() []*market.State {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]*market.State, len(b.states))
	copy(cp, b.states)
	return cp
}

// Latest returns the state with the highest sequence number, or nil.
func (b *Bucket) Latest() *market.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latestLocked()
}

// Len returns the number of states in the bucket.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.states)
}

func (b *Bucket) latestLocked() *market.State {
	if len(b.states) == 0 {
		return nil
	}
	return b.states[len(b.states)-1]
}

// carriedOnlyLocked reports whether every state in b was carried forward.
func (b *Bucket) carriedOnlyLocked() bool {
	if len(b.states) == 0 {
		return false
	}
	for _, s := range b.states {
		if s.Type != market.StateDuplicate {
			return false
		}
	}
	return true
}

// appendLocked stamps s with the next sequence number and stores it.
func (b *Bucket) appendLocked(s *market.State) {
	s.Seq = uint32(len(b.states))
	b.states = append(b.states, s)
}

// Timeline is the append-only, time-bucketed state history of one instrument.
type Timeline struct {
	inst     *market.Instrument
	notifier Notifier
	logger   *zap.Logger
	logTicks bool

	// globalMu guards the bucket index only; bucket contents use the bucket lock
	globalMu sync.RWMutex
	buckets  map[int64]*Bucket
	times    []time.Time

	// writeMu serializes state writes: Apply, Bootstrap and the
	// materialization in BucketAt. It is never held while notifying.
	writeMu sync.Mutex

	bootMu       sync.Mutex
	bootstrapped atomic.Bool
}

// TimelineOption configures a Timeline.
type TimelineOption func(*Timeline)

// WithTickLogging logs every derived state at debug level.
func WithTickLogging(enabled bool) TimelineOption {
	return func(t *Timeline) { t.logTicks = enabled }
}

// NewTimeline creates an empty timeline for inst. notifier may be nil.
func NewTimeline(inst *market.Instrument, notifier Notifier, logger *zap.Logger, opts ...TimelineOption) *Timeline {
	t := &Timeline{
		inst:     inst,
		notifier: notifier,
		logger:   logger.With(zap.String("instrument", inst.Name())),
		buckets:  make(map[int64]*Bucket),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Instrument returns the instrument this timeline belongs to.
func (t *Timeline) Instrument() *market.Instrument { return t.inst }

// Bootstrapped reports whether the Summary state has been created.
func (t *Timeline) Bootstrapped() bool { return t.bootstrapped.Load() }

// Bootstrap creates the Summary state from the opening triple. Only the
// first successful call has any effect.
func (t *Timeline) Bootstrap(bid, ask, trade *market.TickEvent) error {
	t.bootMu.Lock()
	defer t.bootMu.Unlock()

	if t.bootstrapped.Load() {
		return nil
	}

	state, err := market.Bootstrap(t.inst, bid, ask, trade)
	if err != nil {
		return fmt.Errorf("bootstrap %s: %w", t.inst.Name(), err)
	}

	t.writeMu.Lock()
	bucket, _ := t.bucketFor(market.IntervalStart(bid.Timestamp))
	bucket.mu.Lock()
	bucket.appendLocked(state)
	bucket.mu.Unlock()
	t.writeMu.Unlock()

	t.bootstrapped.Store(true)
	t.logger.Info("summary received",
		zap.Time("at", bucket.at),
		zap.Float64("bid", state.Bid.Price),
		zap.Float64("ask", state.Ask.Price),
		zap.Float64("trade", state.LastTrade.Price))

	if t.notifier != nil {
		t.notifier.Notify(t.inst, bucket)
	}
	return nil
}

// Apply derives a new state from ev and stores it in the bucket for ev's
// interval. Events before bootstrap and duplicates are dropped. Applied
// reports whether a state was stored.
func (t *Timeline) Apply(ev market.TickEvent) (applied bool, err error) {
	if !t.bootstrapped.Load() {
		return false, nil
	}

	at := market.IntervalStart(ev.Timestamp)

	t.writeMu.Lock()
	prev := t.StateAtOrBefore(at)
	if prev == nil {
		// older than the summary
		t.writeMu.Unlock()
		return false, nil
	}
	if market.IsDuplicate(prev, ev) {
		t.writeMu.Unlock()
		return false, nil
	}

	bucket, created := t.bucketFor(at)

	bucket.mu.Lock()
	if latest := bucket.latestLocked(); latest != nil {
		prev = latest
	}
	state, err := market.Derive(prev, ev)
	if err != nil {
		bucket.mu.Unlock()
		t.writeMu.Unlock()
		return false, fmt.Errorf("derive %s: %w", t.inst.Name(), err)
	}
	bucket.appendLocked(state)
	bucket.mu.Unlock()

	t.refreshCarriedAfter(at, state)
	t.writeMu.Unlock()

	if t.logTicks {
		t.logger.Debug("tick",
			zap.Stringer("type", state.Type),
			zap.Time("ts", state.Timestamp),
			zap.Uint32("seq", state.Seq),
			zap.Float64("bid", state.Bid.Price),
			zap.Float64("ask", state.Ask.Price),
			zap.Float64("last", state.LastTrade.Price),
			zap.Int64("bid_vol_chg_cnt", state.BidVolChgCnt),
			zap.Int64("ask_vol_chg_cnt", state.AskVolChgCnt))
	}

	if created && t.notifier != nil {
		t.notifier.Notify(t.inst, bucket)
	}
	return true, nil
}

// StateAtOrBefore returns the latest state in the bucket at ts, or in the
// closest earlier bucket. It returns nil before the first bootstrap.
func (t *Timeline) StateAtOrBefore(ts time.Time) *market.State {
	t.globalMu.RLock()
	defer t.globalMu.RUnlock()

	i := t.searchLocked(ts)
	for ; i >= 0; i-- {
		if s := t.buckets[t.times[i].UnixNano()].Latest(); s != nil {
			return s
		}
	}
	return nil
}

// BucketAt returns the bucket keyed exactly at ts. When no bucket exists
// there, one is created holding a Duplicate state carried forward from the
// closest earlier state. It returns nil if the timeline has no state at or
// before ts.
func (t *Timeline) BucketAt(ts time.Time) *Bucket {
	t.globalMu.RLock()
	bucket, ok := t.buckets[ts.UnixNano()]
	t.globalMu.RUnlock()
	if ok && bucket.Len() > 0 {
		return bucket
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	prev := t.StateAtOrBefore(ts)
	if prev == nil {
		return nil
	}

	bucket, _ = t.bucketFor(ts)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	// a tick may have landed before writeMu was taken
	if bucket.latestLocked() == nil {
		dup, err := market.CarryForward(prev, ts)
		if err != nil {
			return nil
		}
		bucket.appendLocked(dup)
	}
	return bucket
}

// Buckets returns all buckets in ascending time order.
func (t *Timeline) Buckets() []*Bucket {
	t.globalMu.RLock()
	defer t.globalMu.RUnlock()

	out := make([]*Bucket, 0, len(t.times))
	for _, at := range t.times {
		out = append(out, t.buckets[at.UnixNano()])
	}
	return out
}

// Len returns the number of buckets.
func (t *Timeline) Len() int {
	t.globalMu.RLock()
	defer t.globalMu.RUnlock()
	return len(t.times)
}

// refreshCarriedAfter re-carries the buckets after at that hold only
// Duplicate states, so a gap filled before an earlier tick arrived reflects
// that tick. The walk stops at the first bucket with a real state.
// Callers hold writeMu.
func (t *Timeline) refreshCarriedAfter(at time.Time, latest *market.State) {
	t.globalMu.RLock()
	i := t.searchLocked(at)
	later := make([]*Bucket, 0, len(t.times)-i-1)
	for _, ts := range t.times[i+1:] {
		later = append(later, t.buckets[ts.UnixNano()])
	}
	t.globalMu.RUnlock()

	prev := latest
	for _, b := range later {
		b.mu.Lock()
		if !b.carriedOnlyLocked() {
			b.mu.Unlock()
			return
		}
		dup, err := market.CarryForward(prev, b.at)
		if err != nil {
			b.mu.Unlock()
			return
		}
		b.states = nil
		b.appendLocked(dup)
		b.mu.Unlock()
		prev = dup
	}
}

// bucketFor returns the bucket at ts, creating it if needed.
func (t *Timeline) bucketFor(ts time.Time) (*Bucket, bool) {
	key := ts.UnixNano()

	// Fast path: existing bucket
	t.globalMu.RLock()
	bucket, ok := t.buckets[key]
	t.globalMu.RUnlock()
	if ok {
		return bucket, false
	}

	t.globalMu.Lock()
	defer t.globalMu.Unlock()
	if bucket, ok = t.buckets[key]; ok {
		return bucket, false
	}

	bucket = &Bucket{at: ts}
	t.buckets[key] = bucket
	i, _ := slices.BinarySearchFunc(t.times, ts, func(a, b time.Time) int { return a.Compare(b) })
	t.times = slices.Insert(t.times, i, ts)
	return bucket, true
}

// searchLocked returns the index of the last bucket time <= ts, or -1.
func (t *Timeline) searchLocked(ts time.Time) int {
	i, found := slices.BinarySearchFunc(t.times, ts, func(a, b time.Time) int { return a.Compare(b) })
	if found {
		return i
	}
	return i - 1
}
