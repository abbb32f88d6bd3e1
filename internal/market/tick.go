package market

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownKind is returned for a tick kind outside Bid, Ask and Trade.
var ErrUnknownKind = errors.New("unknown tick kind")

// Kind is the type of a tick event.
type Kind int

const (
	KindTrade Kind = 0
	KindAsk   Kind = 1
	KindBid   Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindTrade:
		return "Trade"
	case KindAsk:
		return "Ask"
	case KindBid:
		return "Bid"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind parses the textual kind used by feeds and the historical source.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "Trade", "TRADE", "trade":
		return KindTrade, nil
	case "Ask", "ASK", "ask":
		return KindAsk, nil
	case "Bid", "BID", "bid":
		return KindBid, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Condition code keys attached to tick events.
const (
	CodeCondition    = "COND_CODE"
	CodeExchangeBid  = "EXCH_CODE_BID"
	CodeExchangeAsk  = "EXCH_CODE_ASK"
	CodeExchangeLast = "EXCH_CODE_LAST"
)

// TickEvent is a single quote or trade update for one instrument.
// Events are passed by value; Codes must not be mutated after construction.
type TickEvent struct {
	Kind       Kind
	Timestamp  time.Time
	Price      float64
	Size       uint32
	Instrument *Instrument
	Codes      map[string]string
}

func (e TickEvent) String() string {
	name := ""
	if e.Instrument != nil {
		name = e.Instrument.Name()
	}
	return fmt.Sprintf("%s %s %s %v %d", name, e.Kind, e.Timestamp.Format("2006/01/02 15:04:05.000000"), e.Price, e.Size)
}

// Interval is the width of one analytic interval (and of one timeline bucket).
const Interval = time.Second

// IntervalStart returns the start of the interval containing t.
func IntervalStart(t time.Time) time.Time {
	return t.Truncate(Interval)
}
