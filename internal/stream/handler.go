package stream

import (
	"encoding/json"
	"sync"
	"time"

	"tickwrangler/internal/market"
	"tickwrangler/internal/memorystore"
	"tickwrangler/internal/metrics"
	"tickwrangler/internal/replay"
	"tickwrangler/pkg/feed"

	"go.uber.org/zap"
)

const metricsSource = "live"

// Sink receives every valid live tick, including the ones used for bootstrap.
type Sink interface {
	Record(ev market.TickEvent)
}

// MakeMessageHandler returns a function that handles incoming feed messages
// by parsing ticks and applying them to the instrument timelines. Until an
// instrument is bootstrapped its ticks feed its opening summary. sink may be nil.
func MakeMessageHandler(logger *zap.Logger, store *memorystore.InstrumentStore, sink Sink) func(msg []byte) {
	var (
		mu        sync.Mutex
		summaries = make(map[string]*replay.Summary)
	)

	bootstrap := func(tl *memorystore.Timeline, ev market.TickEvent) {
		mu.Lock()
		defer mu.Unlock()

		name := tl.Instrument().Name()
		sum, ok := summaries[name]
		if !ok {
			sum = &replay.Summary{}
			summaries[name] = sum
		}
		if !sum.Add(ev) {
			return
		}

		bid, ask, trade := sum.Legs()
		if err := tl.Bootstrap(bid, ask, trade); err != nil {
			logger.Error("failed to bootstrap", zap.String("instrument", name), zap.Error(err))
			return
		}
		delete(summaries, name)
		metrics.BootstrapsTotal.Inc()
	}

	return func(msg []byte) {
		// Step 1: Extract topic string for early filtering
		var meta struct {
			Topic string `json:"topic"`
		}
		if err := json.Unmarshal(msg, &meta); err != nil {
			logger.Warn("failed to extract topic", zap.Error(err))
			metrics.DroppedTotal.WithLabelValues("bad_json").Inc()
			return
		}
		if !feed.IsTickTopic(meta.Topic) {
			return // subscription acks, pongs
		}

		name := feed.InstrumentFromTopic(meta.Topic)
		tl, ok := store.Get(name)
		if !ok {
			logger.Warn("tick for unknown instrument", zap.String("instrument", name))
			metrics.DroppedTotal.WithLabelValues("unknown_instrument").Inc()
			return
		}

		// Step 2: Fully parse the tick payload
		var parsed feed.TickMessage
		if err := json.Unmarshal(msg, &parsed); err != nil {
			logger.Warn("failed to parse tick payload", zap.Error(err))
			metrics.DroppedTotal.WithLabelValues("bad_json").Inc()
			return
		}

		// Step 3: Apply ticks, same validation as historical rows
		for _, d := range parsed.Data {
			ev, err := toRow(d).ToTickEvent(tl.Instrument())
			if err != nil {
				logger.Warn("skipping tick", zap.String("instrument", name), zap.Error(err))
				metrics.DroppedTotal.WithLabelValues("malformed").Inc()
				continue
			}

			if sink != nil {
				sink.Record(ev)
			}

			if !tl.Bootstrapped() {
				bootstrap(tl, ev)
				continue
			}

			applied, err := tl.Apply(ev)
			metrics.ObserveApply(metricsSource, applied, err)
			if err != nil {
				logger.Error("failed to apply tick", zap.String("instrument", name), zap.Error(err))
			}
		}
	}
}

func toRow(d feed.TickData) replay.Row {
	return replay.Row{
		Kind:      d.Kind,
		Timestamp: time.UnixMicro(d.Ts).UTC(),
		Price:     d.Price,
		Size:      d.Size,
		Condition: d.Condition,
		Exchange:  d.Exchange,
	}
}
