package replay

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"tickwrangler/internal/market"
)

var errZeroPrice = errors.New("zero price")

// Row is one historical tick as stored by the source:
// kind, timestamp, price, size, condition code, exchange code.
type Row struct {
	Kind      string
	Timestamp time.Time
	Price     float64
	Size      int64
	Condition string
	Exchange  string
}

// ToTickEvent parses r for inst. Rows with an unknown kind, a missing
// timestamp, a size outside uint32 or a zero or non-finite price are rejected.
func (r Row) ToTickEvent(inst *market.Instrument) (market.TickEvent, error) {
	kind, err := market.ParseKind(strings.TrimSpace(r.Kind))
	if err != nil {
		return market.TickEvent{}, err
	}
	if r.Timestamp.IsZero() {
		return market.TickEvent{}, fmt.Errorf("missing timestamp")
	}
	if r.Size < 0 || r.Size > math.MaxUint32 {
		return market.TickEvent{}, fmt.Errorf("size %d out of range", r.Size)
	}
	if r.Price == 0 || math.IsNaN(r.Price) || math.IsInf(r.Price, 0) {
		return market.TickEvent{}, errZeroPrice
	}

	return market.TickEvent{
		Kind:       kind,
		Timestamp:  r.Timestamp,
		Price:      r.Price,
		Size:       uint32(r.Size),
		Instrument: inst,
		Codes:      codes(kind, strings.TrimSpace(r.Condition), strings.TrimSpace(r.Exchange)),
	}, nil
}

// codes keys the exchange code by the side of the event. nil when both are empty.
func codes(kind market.Kind, cond, exch string) map[string]string {
	if cond == "" && exch == "" {
		return nil
	}

	out := make(map[string]string, 2)
	if exch != "" {
		switch kind {
		case market.KindBid:
			out[market.CodeExchangeBid] = exch
		case market.KindAsk:
			out[market.CodeExchangeAsk] = exch
		case market.KindTrade:
			out[market.CodeExchangeLast] = exch
		}
	}
	if cond != "" {
		out[market.CodeCondition] = cond
	}
	return out
}
