package replay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"tickwrangler/internal/market"
	"tickwrangler/internal/metrics"

	"go.uber.org/zap"
)

var (
	// ErrInvalidInterval is returned for an interval whose end is not after its start.
	ErrInvalidInterval = errors.New("interval end must be after start")
	// ErrSourceUnavailable is returned by Load when the historical source
	// failed its health check.
	ErrSourceUnavailable = errors.New("historical source not initialized")
)

const metricsSource = "replay"

// Source queries historical ticks for one instrument.
type Source interface {
	QueryRange(ctx context.Context, instrument string, start, end time.Time) ([]Row, error)
	IsHealthy(ctx context.Context) bool
}

// Target is the instrument timeline replayed ticks are fed into.
type Target interface {
	Instrument() *market.Instrument
	Bootstrap(bid, ask, trade *market.TickEvent) error
	Apply(ev market.TickEvent) (bool, error)
}

// Interval is a half-open [Start, End) query window.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Summary collects the first bid, ask and trade of one instrument.
type Summary struct {
	at       time.Time
	bid      *market.TickEvent
	ask      *market.TickEvent
	trade    *market.TickEvent
	complete bool
	done     bool
}

// Add records ev if its leg is still missing and reports whether the
// summary is complete. Once both quotes are known and no trade has been
// seen, a zero-size trade at mid stands in for it.
func (s *Summary) Add(ev market.TickEvent) bool {
	if s.complete {
		return true
	}

	leg := &s.trade
	switch ev.Kind {
	case market.KindBid:
		leg = &s.bid
	case market.KindAsk:
		leg = &s.ask
	}
	if *leg != nil {
		return false
	}

	e := ev
	*leg = &e
	if ev.Timestamp.After(s.at) {
		s.at = ev.Timestamp
	}

	if s.trade == nil && s.bid != nil && s.ask != nil {
		s.trade = &market.TickEvent{
			Kind:       market.KindTrade,
			Timestamp:  s.at,
			Price:      (s.bid.Price + s.ask.Price) / 2,
			Instrument: ev.Instrument,
		}
	}
	s.complete = s.bid != nil && s.ask != nil && s.trade != nil
	return s.complete
}

// Complete reports whether all three legs are known.
func (s *Summary) Complete() bool { return s.complete }

// Legs returns the bid, ask and trade; nil until captured.
func (s *Summary) Legs() (bid, ask, trade *market.TickEvent) {
	return s.bid, s.ask, s.trade
}

// bin holds the events cached at one timestamp, per target in arrival order.
type bin struct {
	order  []Target
	events map[Target][]market.TickEvent
}

// Loader pulls historical ticks for a roster of instruments, bootstraps each
// instrument from its first bid, ask and trade, and plays the remaining
// ticks back in timestamp order.
type Loader struct {
	source      Source
	logger      *zap.Logger
	initialized bool

	intervals []Interval
	targets   []Target
	byName    map[string]Target

	summaries map[Target]*Summary
	cache     map[int64]*bin
	times     []time.Time
}

// NewLoader checks the source health once; the result is exposed through
// Initialized and gates Load.
func NewLoader(ctx context.Context, source Source, logger *zap.Logger) *Loader {
	l := &Loader{
		source:    source,
		logger:    logger,
		byName:    make(map[string]Target),
		summaries: make(map[Target]*Summary),
		cache:     make(map[int64]*bin),
	}
	l.initialized = source != nil && source.IsHealthy(ctx)
	logger.Info("historical source", zap.Bool("initialized", l.initialized))
	return l
}

// Initialized reports whether the historical source was reachable.
func (l *Loader) Initialized() bool { return l.initialized }

// AddInstrument registers a timeline to load. Blank or repeated names are ignored.
func (l *Loader) AddInstrument(t Target) {
	name := t.Instrument().Name()
	if name == "" {
		return
	}
	if _, ok := l.byName[name]; ok {
		l.logger.Warn("instrument already registered", zap.String("instrument", name))
		return
	}
	l.byName[name] = t
	l.targets = append(l.targets, t)
}

// AddInterval registers a query window. Windows with end <= start are
// rejected and never queried.
func (l *Loader) AddInterval(start, end time.Time) error {
	if !end.After(start) {
		l.logger.Warn("bad interval", zap.Time("start", start), zap.Time("end", end))
		return fmt.Errorf("%w: [%s, %s)", ErrInvalidInterval, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	l.intervals = append(l.intervals, Interval{Start: start, End: end})
	return nil
}

// Intervals returns the registered windows.
func (l *Loader) Intervals() []Interval {
	return slices.Clone(l.intervals)
}

// Load queries every interval for every instrument and caches the result.
// Malformed rows are logged and skipped.
func (l *Loader) Load(ctx context.Context) error {
	if !l.initialized {
		return ErrSourceUnavailable
	}

	for _, iv := range l.intervals {
		l.logger.Info("requesting data", zap.Time("start", iv.Start), zap.Time("end", iv.End))

		for _, t := range l.targets {
			name := t.Instrument().Name()
			rows, err := l.source.QueryRange(ctx, name, iv.Start, iv.End)
			if err != nil {
				return fmt.Errorf("query %s: %w", name, err)
			}
			if len(rows) == 0 {
				continue
			}
			l.parse(t, rows)
		}
	}
	return nil
}

func (l *Loader) parse(t Target, rows []Row) {
	inst := t.Instrument()
	l.logger.Debug("parsing rows", zap.String("instrument", inst.Name()), zap.Int("rows", len(rows)))

	sum, ok := l.summaries[t]
	if !ok {
		sum = &Summary{}
		l.summaries[t] = sum
	}

	for i, r := range rows {
		ev, err := r.ToTickEvent(inst)
		if err != nil {
			why := "malformed"
			if errors.Is(err, errZeroPrice) {
				why = "zero_price"
			}
			metrics.DroppedTotal.WithLabelValues(why).Inc()
			l.logger.Warn("skipping row",
				zap.String("instrument", inst.Name()), zap.Int("row", i), zap.Error(err))
			continue
		}

		if !sum.complete {
			if sum.Add(ev) {
				l.logger.Info("market summary",
					zap.String("instrument", inst.Name()),
					zap.Time("at", sum.at),
					zap.Float64("bid", sum.bid.Price),
					zap.Float64("ask", sum.ask.Price),
					zap.Float64("trade", sum.trade.Price))
			}
			continue
		}
		l.cacheEvent(t, ev)
	}
}

func (l *Loader) cacheEvent(t Target, ev market.TickEvent) {
	key := ev.Timestamp.UnixNano()
	b, ok := l.cache[key]
	if !ok {
		b = &bin{events: make(map[Target][]market.TickEvent)}
		l.cache[key] = b
		i, _ := slices.BinarySearchFunc(l.times, ev.Timestamp, func(a, b time.Time) int { return a.Compare(b) })
		l.times = slices.Insert(l.times, i, ev.Timestamp)
	}
	if _, ok := b.events[t]; !ok {
		b.order = append(b.order, t)
	}
	b.events[t] = append(b.events[t], ev)
}

// Cached returns the number of cached events.
func (l *Loader) Cached() int {
	n := 0
	for _, b := range l.cache {
		for _, evs := range b.events {
			n += len(evs)
		}
	}
	return n
}

// Playback walks the cache in timestamp order. An instrument is bootstrapped
// at the first cached timestamp at or after its summary; ticks are applied
// only once every instrument with a summary is bootstrapped. Instruments
// whose summary completed but saw no later tick are bootstrapped at the end.
func (l *Loader) Playback() error {
	for _, at := range l.times {
		if err := l.bootstrapDue(at, false); err != nil {
			return err
		}
		if l.pending() > 0 {
			continue
		}

		b := l.cache[at.UnixNano()]
		for _, t := range b.order {
			for _, ev := range b.events[t] {
				applied, err := t.Apply(ev)
				metrics.ObserveApply(metricsSource, applied, err)
				if err != nil {
					return fmt.Errorf("apply %s: %w", t.Instrument().Name(), err)
				}
			}
		}
	}

	if err := l.bootstrapDue(time.Time{}, true); err != nil {
		return err
	}
	for _, t := range l.targets {
		if sum, ok := l.summaries[t]; !ok || !sum.complete {
			l.logger.Warn("no complete summary", zap.String("instrument", t.Instrument().Name()))
		}
	}
	return nil
}

// bootstrapDue bootstraps every complete summary whose time is at or before
// at, or every complete summary when all is set.
func (l *Loader) bootstrapDue(at time.Time, all bool) error {
	for _, t := range l.targets {
		sum, ok := l.summaries[t]
		if !ok || sum.done || !sum.complete {
			continue
		}
		if !all && sum.at.After(at) {
			continue
		}
		if err := t.Bootstrap(sum.bid, sum.ask, sum.trade); err != nil {
			return err
		}
		sum.done = true
		metrics.BootstrapsTotal.Inc()
	}
	return nil
}

// pending counts instruments with a complete summary that are not
// bootstrapped yet.
func (l *Loader) pending() int {
	n := 0
	for _, sum := range l.summaries {
		if sum.complete && !sum.done {
			n++
		}
	}
	return n
}
