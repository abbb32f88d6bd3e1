package market

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

var (
	// ErrNilPredecessor is returned when an incremental state has no previous state.
	ErrNilPredecessor = errors.New("previous state must not be nil")
	// ErrMissingSummaryLeg is returned when the bootstrap triple is incomplete.
	ErrMissingSummaryLeg = errors.New("bootstrap requires bid, ask and trade events")
)

// StateType classifies how a State was produced.
type StateType int

const (
	StateTrade     StateType = 0
	StateAsk       StateType = 1
	StateBid       StateType = 2
	StateSummary   StateType = -1
	StateDuplicate StateType = -2
)

func (t StateType) String() string {
	switch t {
	case StateTrade:
		return "Trade"
	case StateAsk:
		return "Ask"
	case StateBid:
		return "Bid"
	case StateSummary:
		return "Summary"
	case StateDuplicate:
		return "Duplicate"
	default:
		return fmt.Sprintf("StateType(%d)", int(t))
	}
}

// Quote is a price with its size.
type Quote struct {
	Price float64
	Size  uint32
}

// State is the analytic state of one instrument after one event.
//
// States are values: Bootstrap, Derive and CarryForward always return a new
// State and never modify their inputs. Levels and Codes are shared between
// states only while they are unchanged; any update allocates a new copy.
type State struct {
	Instrument      *Instrument
	Timestamp       time.Time
	Type            StateType
	FirstOfInterval bool
	Seq             uint32

	Bid          Quote
	PrevBid      Quote
	BidOpen      Quote
	BidVolChg    int64
	BidVolChgSum int64
	BidVolChgCnt int64

	Ask          Quote
	PrevAsk      Quote
	AskOpen      Quote
	AskVolChg    int64
	AskVolChgSum int64
	AskVolChgCnt int64

	Mid           float64
	MidScaled     float64
	MidOpen       float64
	MidScaledOpen float64

	LastTrade     Quote
	LastTradeOpen float64
	VolAtBid      uint64
	VolAtAsk      uint64
	TradeCntBid   uint64
	TradeCntAsk   uint64

	Levels PriceLevels
	Codes  map[string]string
}

// Bootstrap builds the first (Summary) state of an instrument from its
// opening bid, ask and trade.
func Bootstrap(inst *Instrument, bid, ask, trade *TickEvent) (*State, error) {
	if inst == nil {
		return nil, fmt.Errorf("instrument must not be nil")
	}
	if bid == nil || ask == nil || trade == nil {
		return nil, fmt.Errorf("%s: %w", inst.Name(), ErrMissingSummaryLeg)
	}

	s := &State{
		Instrument:      inst,
		Timestamp:       bid.Timestamp,
		Type:            StateSummary,
		FirstOfInterval: true,
	}

	s.onBid(*bid)
	s.BidOpen = s.Bid

	s.onAsk(*ask)
	s.AskOpen = s.Ask

	s.onTrade(*trade)
	s.LastTradeOpen = trade.Price

	s.setMid()
	s.MidOpen, s.MidScaledOpen = s.Mid, s.MidScaled

	s.mergeCodes(bid.Codes, true)
	s.mergeCodes(ask.Codes, false)
	s.mergeCodes(trade.Codes, false)
	return s, nil
}

// Derive builds the state that results from applying ev to prev.
func Derive(prev *State, ev TickEvent) (*State, error) {
	if prev == nil {
		return nil, ErrNilPredecessor
	}

	first := IntervalStart(ev.Timestamp).After(IntervalStart(prev.Timestamp))
	s := prev.carry(ev.Timestamp, first)

	switch ev.Kind {
	case KindAsk:
		s.Type = StateAsk
		s.onAsk(ev)
		s.setAskVolChg(prev)
		s.setMid()
		if first {
			s.AskOpen = s.Ask
			s.MidOpen, s.MidScaledOpen = s.Mid, s.MidScaled
		}
	case KindBid:
		s.Type = StateBid
		s.onBid(ev)
		s.setBidVolChg(prev)
		s.setMid()
		if first {
			s.BidOpen = s.Bid
			s.MidOpen, s.MidScaledOpen = s.Mid, s.MidScaled
		}
	case KindTrade:
		s.Type = StateTrade
		s.onTrade(ev)
		if first {
			s.LastTradeOpen = ev.Price
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(ev.Kind))
	}

	s.mergeCodes(ev.Codes, first)
	return s, nil
}

// CarryForward manufactures a Duplicate state at ts from prev, as if a new
// interval had started without any tick. Used to fill gaps in cross-sections.
func CarryForward(prev *State, ts time.Time) (*State, error) {
	if prev == nil {
		return nil, ErrNilPredecessor
	}
	s := prev.carry(ts, true)
	s.Type = StateDuplicate
	return s, nil
}

// IsDuplicate reports whether ev carries no new information relative to cur:
// the price is unchanged and the event has no size change worth recording.
func IsDuplicate(cur *State, ev TickEvent) bool {
	if cur == nil {
		return false
	}
	inst := cur.Instrument

	var price float64
	var hasSize bool
	switch ev.Kind {
	case KindAsk:
		price = cur.Ask.Price
		hasSize = inst.ReportsQuoteSize() && ev.Size != cur.Ask.Size
	case KindBid:
		price = cur.Bid.Price
		hasSize = inst.ReportsQuoteSize() && ev.Size != cur.Bid.Size
	case KindTrade:
		price = cur.LastTrade.Price
		hasSize = inst.ReportsTradeSize()
	default:
		return false
	}
	return !hasSize && ev.Price == price
}

// carry copies the state forward to ts. When first is set the interval-open
// snapshot is taken from the current values and the per-interval
// accumulators start from zero.
func (s *State) carry(ts time.Time, first bool) *State {
	next := &State{
		Instrument:      s.Instrument,
		Timestamp:       ts,
		FirstOfInterval: first,

		Bid:     s.Bid,
		PrevBid: s.PrevBid,
		Ask:     s.Ask,
		PrevAsk: s.PrevAsk,

		Mid:       s.Mid,
		MidScaled: s.MidScaled,
		LastTrade: s.LastTrade,
	}

	if first {
		next.BidOpen = s.Bid
		next.AskOpen = s.Ask
		next.MidOpen = s.Mid
		next.MidScaledOpen = s.MidScaled
		next.LastTradeOpen = s.LastTrade.Price
		return next
	}

	next.BidOpen = s.BidOpen
	next.AskOpen = s.AskOpen
	next.MidOpen = s.MidOpen
	next.MidScaledOpen = s.MidScaledOpen
	next.LastTradeOpen = s.LastTradeOpen

	next.VolAtBid = s.VolAtBid
	next.VolAtAsk = s.VolAtAsk
	next.TradeCntBid = s.TradeCntBid
	next.TradeCntAsk = s.TradeCntAsk
	next.BidVolChgSum = s.BidVolChgSum
	next.BidVolChgCnt = s.BidVolChgCnt
	next.AskVolChgSum = s.AskVolChgSum
	next.AskVolChgCnt = s.AskVolChgCnt
	next.Levels = s.Levels
	next.Codes = s.Codes
	return next
}

func (s *State) onBid(ev TickEvent) {
	s.PrevBid = s.Bid
	s.Bid = Quote{Price: ev.Price}
	if s.Instrument.ReportsQuoteSize() {
		s.Bid.Size = ev.Size
	}
}

func (s *State) onAsk(ev TickEvent) {
	s.PrevAsk = s.Ask
	s.Ask = Quote{Price: ev.Price}
	if s.Instrument.ReportsQuoteSize() {
		s.Ask.Size = ev.Size
	}
}

// setBidVolChg applies the tick rule to a bid update.
func (s *State) setBidVolChg(prev *State) {
	if !s.Instrument.ReportsQuoteSize() {
		return
	}

	switch {
	case s.Bid.Price == prev.Bid.Price:
		s.BidVolChg = int64(s.Bid.Size) - int64(prev.Bid.Size)
		s.BidVolChgSum += s.BidVolChg
	case s.Bid.Price == prev.Ask.Price:
		// ticked up through the offer
		s.BidVolChg = int64(s.Bid.Size) + int64(prev.Ask.Size)
		s.BidVolChgSum += s.BidVolChg
	case s.Bid.Price == prev.PrevAsk.Price:
		// ticked up, offer one state stale
		s.BidVolChg = int64(s.Bid.Size) + int64(prev.PrevAsk.Size)
		s.BidVolChgSum += s.BidVolChg
	case s.Bid.Price < s.PrevBid.Price:
		// bid pulled: the whole resting size is gone
		s.BidVolChg = int64(prev.Bid.Size)
		s.BidVolChgSum -= s.BidVolChg
	default:
		return
	}
	s.BidVolChgCnt += sign(s.BidVolChg)
}

// setAskVolChg applies the tick rule to an ask update. There is no
// counterpart of the bid's pulled-quote branch.
func (s *State) setAskVolChg(prev *State) {
	if !s.Instrument.ReportsQuoteSize() {
		return
	}

	switch {
	case s.Ask.Price == prev.Ask.Price:
		s.AskVolChg = int64(s.Ask.Size) - int64(prev.Ask.Size)
	case s.Ask.Price == prev.Bid.Price:
		// ticked down through the bid
		s.AskVolChg = int64(s.Ask.Size) + int64(prev.Bid.Size)
	case s.Ask.Price == prev.PrevBid.Price:
		s.AskVolChg = int64(s.Ask.Size) + int64(prev.PrevBid.Size)
	default:
		return
	}
	s.AskVolChgSum += s.AskVolChg
	s.AskVolChgCnt += sign(s.AskVolChg)
}

func (s *State) onTrade(ev TickEvent) {
	s.LastTrade = Quote{Price: ev.Price}
	atBid := ev.Price == s.Bid.Price
	atAsk := ev.Price == s.Ask.Price

	if atBid {
		s.TradeCntBid++
	}
	if atAsk {
		s.TradeCntAsk++
	}

	if s.Instrument.ReportsTradeSize() && ev.Size > 0 {
		s.LastTrade.Size = ev.Size
		if atBid {
			s.VolAtBid += uint64(ev.Size)
		}
		if atAsk {
			s.VolAtAsk += uint64(ev.Size)
		}
	} else {
		s.VolAtBid = 0
		s.VolAtAsk = 0
	}

	s.Levels = s.Levels.withTrade(ev.Price, s.LastTrade.Size, s.Bid.Price, s.Ask.Price)
}

func (s *State) setMid() {
	s.Mid = (s.Bid.Price + s.Ask.Price) / 2
	if s.Instrument.ReportsQuoteSize() && s.Bid.Size > 0 && s.Ask.Size > 0 {
		bidSize, askSize := float64(s.Bid.Size), float64(s.Ask.Size)
		s.MidScaled = s.Bid.Price + (s.Ask.Price-s.Bid.Price)*bidSize/(bidSize+askSize)
		return
	}
	s.MidScaled = s.Mid
}

// mergeCodes resets the codes at an interval boundary, otherwise adds only
// keys not seen yet in this interval.
func (s *State) mergeCodes(codes map[string]string, first bool) {
	if first || s.Codes == nil {
		s.Codes = codes
		return
	}
	if len(codes) == 0 {
		return
	}

	var merged map[string]string
	for k, v := range codes {
		if _, ok := s.Codes[k]; ok {
			continue
		}
		if merged == nil {
			merged = maps.Clone(s.Codes)
		}
		merged[k] = v
	}
	if merged != nil {
		s.Codes = merged
	}
}

func sign(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
