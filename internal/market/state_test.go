package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2013, 3, 7, 0, 0, 0, 0, time.UTC)

func mustInstrument(t *testing.T, name string, class Class) *Instrument {
	t.Helper()
	inst, err := NewInstrument(name, 1, class)
	require.NoError(t, err)
	return inst
}

func tick(inst *Instrument, kind Kind, ts time.Time, price float64, size uint32) TickEvent {
	return TickEvent{Kind: kind, Timestamp: ts, Price: price, Size: size, Instrument: inst}
}

func bootstrapped(t *testing.T, inst *Instrument) *State {
	t.Helper()
	bid := tick(inst, KindBid, t0, 100, 10)
	ask := tick(inst, KindAsk, t0, 101, 10)
	trade := tick(inst, KindTrade, t0, 100, 0)
	s, err := Bootstrap(inst, &bid, &ask, &trade)
	require.NoError(t, err)
	return s
}

// go test -v --run TestBootstrap
func TestBootstrap(t *testing.T) {
	inst := mustInstrument(t, "NKH3 Index", ClassIndexFuture)
	s := bootstrapped(t, inst)

	assert.Equal(t, StateSummary, s.Type)
	assert.True(t, s.FirstOfInterval)
	assert.Equal(t, t0, s.Timestamp)
	assert.Equal(t, Quote{Price: 100, Size: 10}, s.Bid)
	assert.Equal(t, Quote{Price: 101, Size: 10}, s.Ask)
	assert.Equal(t, s.Bid, s.BidOpen)
	assert.Equal(t, s.Ask, s.AskOpen)
	assert.Equal(t, 100.5, s.Mid)
	assert.Equal(t, 100.5, s.MidScaled)
	assert.Equal(t, s.Mid, s.MidOpen)
	assert.Equal(t, 100.0, s.LastTradeOpen)
	assert.Equal(t, uint64(1), s.TradeCntBid)
	require.Len(t, s.Levels, 1)
	assert.Equal(t, uint64(1), s.Levels[0].CntAtBid)
}

// go test -v --run TestBootstrapMissingLeg
func TestBootstrapMissingLeg(t *testing.T) {
	inst := mustInstrument(t, "NKH3 Index", ClassIndexFuture)
	bid := tick(inst, KindBid, t0, 100, 10)
	ask := tick(inst, KindAsk, t0, 101, 10)

	_, err := Bootstrap(inst, &bid, &ask, nil)
	assert.ErrorIs(t, err, ErrMissingSummaryLeg)
}

// go test -v --run TestMidScaled
func TestMidScaled(t *testing.T) {
	sized := mustInstrument(t, "ES", ClassIndexFuture)
	bid := tick(sized, KindBid, t0, 100, 30)
	ask := tick(sized, KindAsk, t0, 102, 10)
	trade := tick(sized, KindTrade, t0, 101, 1)
	s, err := Bootstrap(sized, &bid, &ask, &trade)
	require.NoError(t, err)
	assert.Equal(t, 101.0, s.Mid)
	assert.InDelta(t, 101.5, s.MidScaled, 1e-9)

	unsized := mustInstrument(t, "JPY Curncy", ClassCurncy)
	bid.Instrument, ask.Instrument, trade.Instrument = unsized, unsized, unsized
	s, err = Bootstrap(unsized, &bid, &ask, &trade)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), s.Bid.Size)
	assert.Equal(t, s.Mid, s.MidScaled)
}

// go test -v --run TestDeriveNilPredecessor
func TestDeriveNilPredecessor(t *testing.T) {
	inst := mustInstrument(t, "NKH3 Index", ClassIndexFuture)
	_, err := Derive(nil, tick(inst, KindBid, t0, 100, 1))
	assert.ErrorIs(t, err, ErrNilPredecessor)
}

// go test -v --run TestDeriveUnknownKind
func TestDeriveUnknownKind(t *testing.T) {
	inst := mustInstrument(t, "NKH3 Index", ClassIndexFuture)
	_, err := Derive(bootstrapped(t, inst), tick(inst, Kind(9), t0, 100, 1))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

// go test -v --run TestBidTickRule
func TestBidTickRule(t *testing.T) {
	inst := mustInstrument(t, "NKH3 Index", ClassIndexFuture)
	next := t0.Add(time.Second)

	tests := []struct {
		name    string
		price   float64
		size    uint32
		wantChg int64
		wantSum int64
		wantCnt int64
	}{
		{name: "size refill at same price", price: 100, size: 15, wantChg: 5, wantSum: 5, wantCnt: 1},
		{name: "size pulled at same price", price: 100, size: 4, wantChg: -6, wantSum: -6, wantCnt: -1},
		{name: "ticked up through the ask", price: 101, size: 3, wantChg: 13, wantSum: 13, wantCnt: 1},
		{name: "bid moved away", price: 99, size: 7, wantChg: 10, wantSum: -10, wantCnt: 1},
		{name: "bid moved to unrelated higher price", price: 100.25, size: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Derive(bootstrapped(t, inst), tick(inst, KindBid, next, tt.price, tt.size))
			require.NoError(t, err)
			assert.Equal(t, StateBid, s.Type)
			assert.Equal(t, tt.wantChg, s.BidVolChg)
			assert.Equal(t, tt.wantSum, s.BidVolChgSum)
			assert.Equal(t, tt.wantCnt, s.BidVolChgCnt)
		})
	}
}

// go test -v --run TestBidTickRuleTwoStatesBack
func TestBidTickRuleTwoStatesBack(t *testing.T) {
	inst := mustInstrument(t, "NKH3 Index", ClassIndexFuture)
	s := bootstrapped(t, inst)

	// ask lifts to 102, leaving 101/10 as the previous ask
	s, err := Derive(s, tick(inst, KindAsk, t0, 102, 6))
	require.NoError(t, err)
	require.Equal(t, Quote{Price: 101, Size: 10}, s.PrevAsk)

	s, err = Derive(s, tick(inst, KindBid, t0, 101, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(12), s.BidVolChg)
}

// go test -v --run TestAskTickRule
func TestAskTickRule(t *testing.T) {
	inst := mustInstrument(t, "NKH3 Index", ClassIndexFuture)
	s := bootstrapped(t, inst)

	s, err := Derive(s, tick(inst, KindBid, t0, 100, 8))
	require.NoError(t, err)

	s, err = Derive(s, tick(inst, KindAsk, t0, 100, 3))
	require.NoError(t, err)
	assert.Equal(t, int64(11), s.AskVolChg)
	assert.Equal(t, int64(11), s.AskVolChgSum)
	assert.Equal(t, int64(1), s.AskVolChgCnt)

	// ask moving away has no pulled-quote branch
	s, err = Derive(s, tick(inst, KindAsk, t0, 103, 3))
	require.NoError(t, err)
	assert.Zero(t, s.AskVolChg)
	assert.Equal(t, int64(11), s.AskVolChgSum)
}

// go test -v --run TestTickRuleWithoutQuoteSize
func TestTickRuleWithoutQuoteSize(t *testing.T) {
	inst := mustInstrument(t, "SPX Index", ClassIndex)
	s, err := Derive(bootstrapped(t, inst), tick(inst, KindBid, t0.Add(time.Second), 101, 50))
	require.NoError(t, err)
	assert.Zero(t, s.Bid.Size)
	assert.Zero(t, s.BidVolChg)
	assert.Zero(t, s.BidVolChgSum)
}

// go test -v --run TestIntervalOpen
func TestIntervalOpen(t *testing.T) {
	inst := mustInstrument(t, "NKH3 Index", ClassIndexFuture)
	s0 := bootstrapped(t, inst)

	next := t0.Add(1500 * time.Millisecond)
	s1, err := Derive(s0, tick(inst, KindBid, next, 100.5, 4))
	require.NoError(t, err)
	assert.True(t, s1.FirstOfInterval)
	assert.Equal(t, Quote{Price: 100.5, Size: 4}, s1.BidOpen)
	assert.Equal(t, s0.Ask, s1.AskOpen)
	assert.Equal(t, s1.Mid, s1.MidOpen)

	s2, err := Derive(s1, tick(inst, KindAsk, next.Add(100*time.Millisecond), 102, 4))
	require.NoError(t, err)
	assert.False(t, s2.FirstOfInterval)
	assert.Equal(t, s1.BidOpen, s2.BidOpen)
	assert.Equal(t, s1.AskOpen, s2.AskOpen)
	assert.Equal(t, s1.MidOpen, s2.MidOpen)
	assert.Equal(t, s1.MidScaledOpen, s2.MidScaledOpen)
	assert.Equal(t, s1.LastTradeOpen, s2.LastTradeOpen)
}

// go test -v --run TestTradeAggregation
func TestTradeAggregation(t *testing.T) {
	inst := mustInstrument(t, "NKH3 Index", ClassIndexFuture)
	s0 := bootstrapped(t, inst)
	next := t0.Add(time.Second)

	s1, err := Derive(s0, tick(inst, KindTrade, next, 101, 5))
	require.NoError(t, err)
	s2, err := Derive(s1, tick(inst, KindTrade, next, 101, 2))
	require.NoError(t, err)
	s3, err := Derive(s2, tick(inst, KindTrade, next, 100, 1))
	require.NoError(t, err)

	assert.Equal(t, uint64(7), s3.VolAtAsk)
	assert.Equal(t, uint64(1), s3.VolAtBid)
	assert.Equal(t, uint64(2), s3.TradeCntAsk)
	assert.Equal(t, uint64(1), s3.TradeCntBid)
	require.Len(t, s3.Levels, 2)
	assert.Equal(t, PriceLevel{Price: 100, TotalVolume: 1, VolAtBid: 1, TradeCount: 1, CntAtBid: 1}, s3.Levels[0])
	assert.Equal(t, PriceLevel{Price: 101, TotalVolume: 7, VolAtAsk: 7, TradeCount: 2, CntAtAsk: 2}, s3.Levels[1])

	// earlier states keep their own levels
	require.Len(t, s1.Levels, 1)
	assert.Equal(t, uint64(5), s1.Levels[0].TotalVolume)
	require.Len(t, s0.Levels, 1)
	assert.Equal(t, 100.0, s0.Levels[0].Price)
}

// go test -v --run TestTradeWithoutSize
func TestTradeWithoutSize(t *testing.T) {
	inst := mustInstrument(t, "SPX Index", ClassIndex)
	s, err := Derive(bootstrapped(t, inst), tick(inst, KindTrade, t0, 101, 9))
	require.NoError(t, err)
	assert.Zero(t, s.LastTrade.Size)
	assert.Zero(t, s.VolAtAsk)
	assert.Equal(t, uint64(1), s.TradeCntAsk)
}

// go test -v --run TestCodesMerge
func TestCodesMerge(t *testing.T) {
	inst := mustInstrument(t, "NKH3 Index", ClassIndexFuture)
	s0 := bootstrapped(t, inst)
	next := t0.Add(time.Second)

	ev := tick(inst, KindTrade, next, 100, 1)
	ev.Codes = map[string]string{CodeCondition: "A"}
	s1, err := Derive(s0, ev)
	require.NoError(t, err)

	ev = tick(inst, KindTrade, next, 100, 1)
	ev.Codes = map[string]string{CodeCondition: "B", CodeExchangeLast: "OSE"}
	s2, err := Derive(s1, ev)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{CodeCondition: "A", CodeExchangeLast: "OSE"}, s2.Codes)
	assert.Len(t, s1.Codes, 1)

	ev = tick(inst, KindBid, next.Add(time.Second), 100, 3)
	ev.Codes = map[string]string{CodeExchangeBid: "X"}
	s3, err := Derive(s2, ev)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{CodeExchangeBid: "X"}, s3.Codes)
}

// go test -v --run TestCarryForward
func TestCarryForward(t *testing.T) {
	inst := mustInstrument(t, "NKH3 Index", ClassIndexFuture)
	s0 := bootstrapped(t, inst)
	s1, err := Derive(s0, tick(inst, KindBid, t0, 100, 12))
	require.NoError(t, err)

	at := t0.Add(5 * time.Second)
	d, err := CarryForward(s1, at)
	require.NoError(t, err)
	assert.Equal(t, StateDuplicate, d.Type)
	assert.Equal(t, at, d.Timestamp)
	assert.True(t, d.FirstOfInterval)
	assert.Equal(t, s1.Bid, d.Bid)
	assert.Equal(t, s1.Bid, d.BidOpen)
	assert.Equal(t, s1.Mid, d.MidOpen)
	assert.Zero(t, d.BidVolChgSum)
	assert.Empty(t, d.Levels)

	_, err = CarryForward(nil, at)
	assert.ErrorIs(t, err, ErrNilPredecessor)
}

// go test -v --run TestIsDuplicate
func TestIsDuplicate(t *testing.T) {
	sized := bootstrapped(t, mustInstrument(t, "NKH3 Index", ClassIndexFuture))
	unsized := bootstrapped(t, mustInstrument(t, "SPX Index", ClassIndex))

	tests := []struct {
		name  string
		state *State
		ev    TickEvent
		want  bool
	}{
		{"unsized same bid", unsized, TickEvent{Kind: KindBid, Price: 100, Size: 99}, true},
		{"unsized new bid", unsized, TickEvent{Kind: KindBid, Price: 99}, false},
		{"unsized same trade", unsized, TickEvent{Kind: KindTrade, Price: 100}, true},
		{"sized same bid and size", sized, TickEvent{Kind: KindBid, Price: 100, Size: 10}, true},
		{"sized same bid new size", sized, TickEvent{Kind: KindBid, Price: 100, Size: 11}, false},
		{"sized same trade", sized, TickEvent{Kind: KindTrade, Price: 100, Size: 1}, false},
		{"sized same ask", sized, TickEvent{Kind: KindAsk, Price: 101, Size: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDuplicate(tt.state, tt.ev))
		})
	}
}
