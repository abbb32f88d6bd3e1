package aggregator

import (
	"testing"
	"time"

	"tickwrangler/internal/market"
	"tickwrangler/internal/memorystore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2013, 3, 7, 14, 30, 0, 0, time.UTC)

type fixture struct {
	sync *Synchronizer
	a, b *memorystore.Timeline
}

// newFixture tracks A (quote sizes reported) and B (no sizes).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	sync := NewSynchronizer(zap.NewNop())

	instA, err := market.NewInstrument("ESH3 Index", 1, market.ClassIndexFuture)
	require.NoError(t, err)
	instB, err := market.NewInstrument("SPX Index", 2, market.ClassIndex)
	require.NoError(t, err)

	f := &fixture{
		sync: sync,
		a:    memorystore.NewTimeline(instA, sync, zap.NewNop()),
		b:    memorystore.NewTimeline(instB, sync, zap.NewNop()),
	}
	sync.AddSource(f.a)
	sync.AddSource(f.b)
	return f
}

func tick(inst *market.Instrument, kind market.Kind, ts time.Time, price float64, size uint32) market.TickEvent {
	return market.TickEvent{Kind: kind, Timestamp: ts, Price: price, Size: size, Instrument: inst}
}

func bootstrap(t *testing.T, tl *memorystore.Timeline, at time.Time) {
	t.Helper()
	inst := tl.Instrument()
	bid := tick(inst, market.KindBid, at, 100, 10)
	ask := tick(inst, market.KindAsk, at, 101, 10)
	trade := tick(inst, market.KindTrade, at, 100, 0)
	require.NoError(t, tl.Bootstrap(&bid, &ask, &trade))
}

// go test -v --run TestGateHoldsRowsUntilAllBootstrapped
func TestGateHoldsRowsUntilAllBootstrapped(t *testing.T) {
	f := newFixture(t)

	bootstrap(t, f.a, t0)
	_, err := f.a.Apply(tick(f.a.Instrument(), market.KindBid, t0.Add(time.Second), 100, 12))
	require.NoError(t, err)

	assert.False(t, f.sync.GateOpen())
	assert.Zero(t, f.sync.Len())
	assert.True(t, f.sync.Watermark().IsZero())

	bootstrap(t, f.b, t0)
	assert.True(t, f.sync.GateOpen())
	require.Equal(t, 1, f.sync.Len())

	row := f.sync.Rows()[0]
	assert.Equal(t, t0, row.Time())
	assert.Equal(t, 2, row.Len())
	assert.Equal(t, t0, f.sync.Watermark())
}

// go test -v --run TestEmptyGateStaysClosed
func TestEmptyGateStaysClosed(t *testing.T) {
	s := NewSynchronizer(zap.NewNop())
	assert.False(t, s.GateOpen())
}

// go test -v --run TestRowFillsMissingInstruments
func TestRowFillsMissingInstruments(t *testing.T) {
	f := newFixture(t)
	bootstrap(t, f.a, t0)
	bootstrap(t, f.b, t0)

	at := t0.Add(time.Second)
	applied, err := f.a.Apply(tick(f.a.Instrument(), market.KindBid, at, 100, 15))
	require.NoError(t, err)
	require.True(t, applied)

	rows := f.sync.Rows()
	require.Len(t, rows, 2)
	row := rows[1]
	assert.Equal(t, at, row.Time())

	ba, ok := row.Entry(f.a.Instrument())
	require.True(t, ok)
	sa := ba.Latest()
	assert.Equal(t, market.StateBid, sa.Type)
	assert.Equal(t, 100.0, sa.Bid.Price)
	assert.Equal(t, uint32(15), sa.Bid.Size)
	assert.Equal(t, int64(5), sa.BidVolChg)
	assert.Equal(t, int64(5), sa.BidVolChgSum)

	bb, ok := row.Entry(f.b.Instrument())
	require.True(t, ok)
	sb := bb.Latest()
	assert.Equal(t, market.StateDuplicate, sb.Type)
	assert.Equal(t, 100.0, sb.Bid.Price)
	assert.Equal(t, 101.0, sb.Ask.Price)
	assert.Equal(t, 100.0, sb.LastTrade.Price)
	assert.Zero(t, sb.Bid.Size)

	assert.Equal(t, at, f.sync.Watermark())
}

// go test -v --run TestRowSeesLaterStates
func TestRowSeesLaterStates(t *testing.T) {
	f := newFixture(t)
	bootstrap(t, f.a, t0)
	bootstrap(t, f.b, t0)

	at := t0.Add(2 * time.Second)
	_, err := f.a.Apply(tick(f.a.Instrument(), market.KindBid, at, 100, 15))
	require.NoError(t, err)

	// B ticks in the same interval after the row was built
	_, err = f.b.Apply(tick(f.b.Instrument(), market.KindTrade, at.Add(500*time.Millisecond), 100.5, 0))
	require.NoError(t, err)

	row := f.sync.Rows()[1]
	bb, ok := row.Entry(f.b.Instrument())
	require.True(t, ok)
	assert.Equal(t, 2, bb.Len())
	assert.Equal(t, 100.5, bb.Latest().LastTrade.Price)
	assert.Equal(t, 2, f.sync.Len())
}

// go test -v --run TestRowsAscending
func TestRowsAscending(t *testing.T) {
	f := newFixture(t)
	bootstrap(t, f.a, t0)
	bootstrap(t, f.b, t0)

	for _, d := range []time.Duration{5, 2, 9, 3} {
		_, err := f.a.Apply(tick(f.a.Instrument(), market.KindAsk, t0.Add(d*time.Second), 101, uint32(d)))
		require.NoError(t, err)
	}

	rows := f.sync.Rows()
	require.Len(t, rows, 5)
	for i := 1; i < len(rows); i++ {
		assert.True(t, rows[i-1].Time().Before(rows[i].Time()))
	}
	assert.Equal(t, t0.Add(9*time.Second), f.sync.Watermark())
}

// go test -v --run TestRowListener
func TestRowListener(t *testing.T) {
	f := newFixture(t)
	var triggers []string
	f.sync.OnRow(func(r *Row, inst *market.Instrument) {
		triggers = append(triggers, inst.Name())
	})

	bootstrap(t, f.a, t0)
	bootstrap(t, f.b, t0)
	_, err := f.b.Apply(tick(f.b.Instrument(), market.KindBid, t0.Add(time.Second), 99.5, 0))
	require.NoError(t, err)

	assert.Equal(t, []string{"SPX Index", "SPX Index"}, triggers)
}

// go test -v --run TestSlowInstrumentKeepsOwnTicks
func TestSlowInstrumentKeepsOwnTicks(t *testing.T) {
	f := newFixture(t)
	bootstrap(t, f.a, t0)
	bootstrap(t, f.b, t0)

	// A runs ahead: the T0+5s row carries B forward from its summary
	_, err := f.a.Apply(tick(f.a.Instrument(), market.KindBid, t0.Add(5*time.Second), 100, 15))
	require.NoError(t, err)

	// B catches up in order
	_, err = f.b.Apply(tick(f.b.Instrument(), market.KindAsk, t0.Add(3*time.Second), 102, 0))
	require.NoError(t, err)
	_, err = f.b.Apply(tick(f.b.Instrument(), market.KindTrade, t0.Add(5200*time.Millisecond), 101, 0))
	require.NoError(t, err)

	sb := f.b.StateAtOrBefore(t0.Add(5 * time.Second))
	assert.Equal(t, market.StateTrade, sb.Type)
	assert.Equal(t, 102.0, sb.Ask.Price)

	var row *Row
	for _, r := range f.sync.Rows() {
		if r.Time().Equal(t0.Add(5 * time.Second)) {
			row = r
		}
	}
	require.NotNil(t, row)
	bb, ok := row.Entry(f.b.Instrument())
	require.True(t, ok)
	states := bb.States()
	require.Len(t, states, 2)
	assert.Equal(t, market.StateDuplicate, states[0].Type)
	assert.Equal(t, 102.0, states[0].Ask.Price)
	assert.Equal(t, 102.0, states[1].Ask.Price)
}
