package output

import (
	"encoding/json"
	"strconv"
	"time"

	"tickwrangler/internal/aggregator"
	"tickwrangler/internal/market"

	"github.com/shopspring/decimal"
)

// DefaultPriceLevels is the number of price-level tuples written per record.
const DefaultPriceLevels = 5

const timestampLayout = "2006/01/02 15:04:05.000000"

var stateColumns = []string{
	"Name", "DateTime", "BinCnt", "Type",
	"Bid", "BidVol", "BidOpn", "BidVolOpen", "BidVolChg", "BidVolChgSum", "BidVolChgCnt", "VolAtBid", "TrdCntBid",
	"Ask", "AskVol", "AskOpen", "AskVolOpen", "AskVolChg", "AskVolChgSum", "AskVolChgCnt", "VolAtAsk", "TrdCntAsk",
	"Mid", "MidOpn", "MidScaled", "MidScaledOpen",
	"LastPrice", "LastPriceOpn", "LastSize",
}

var levelColumns = []string{"Price", "Vol", "VolBid", "VolAsk", "Cnt", "CntBid", "CntAsk"}

// Width is the number of fields in one instrument record.
func Width(levels int) int {
	return len(stateColumns) + levels*len(levelColumns)
}

// Header returns the column names of one instrument record.
func Header(levels int) []string {
	h := make([]string, 0, Width(levels))
	h = append(h, stateColumns...)
	for i := 0; i < levels; i++ {
		idx := strconv.Itoa(i)
		for _, c := range levelColumns {
			h = append(h, c+idx)
		}
	}
	return h
}

// Record flattens s into one output record with exactly levels price-level
// tuples, zero-padded when fewer levels traded.
func Record(s *market.State, levels int) []string {
	r := make([]string, 0, Width(levels))
	r = append(r,
		s.Instrument.Name(),
		s.Timestamp.Format(timestampLayout),
		u64(uint64(s.Seq)),
		s.Type.String(),

		f64(s.Bid.Price),
		u64(uint64(s.Bid.Size)),
		f64(s.BidOpen.Price),
		u64(uint64(s.BidOpen.Size)),
		i64(s.BidVolChg),
		i64(s.BidVolChgSum),
		i64(s.BidVolChgCnt),
		u64(s.VolAtBid),
		u64(s.TradeCntBid),

		f64(s.Ask.Price),
		u64(uint64(s.Ask.Size)),
		f64(s.AskOpen.Price),
		u64(uint64(s.AskOpen.Size)),
		i64(s.AskVolChg),
		i64(s.AskVolChgSum),
		i64(s.AskVolChgCnt),
		u64(s.VolAtAsk),
		u64(s.TradeCntAsk),

		f64(s.Mid),
		f64(s.MidOpen),
		fixed4(s.MidScaled),
		fixed4(s.MidScaledOpen),

		f64(s.LastTrade.Price),
		f64(s.LastTradeOpen),
		u64(uint64(s.LastTrade.Size)),
	)

	for _, l := range s.Levels.Top(levels) {
		r = append(r,
			f64(l.Price),
			u64(l.TotalVolume),
			u64(l.VolAtBid),
			u64(l.VolAtAsk),
			u64(l.TradeCount),
			u64(l.CntAtBid),
			u64(l.CntAtAsk),
		)
	}
	for len(r) < Width(levels) {
		r = append(r, "0")
	}
	return r
}

// Blank returns an empty record for an instrument with no state yet.
func Blank(inst *market.Instrument, levels int) []string {
	r := make([]string, Width(levels))
	r[0] = inst.Name()
	return r
}

// RowRecord flattens a synchronized row: one record per instrument, in the
// order given, blank for instruments without a state.
func RowRecord(row *aggregator.Row, insts []*market.Instrument, levels int) []string {
	rec := make([]string, 0, len(insts)*Width(levels))
	for _, inst := range insts {
		var s *market.State
		if b, ok := row.Entry(inst); ok {
			s = b.Latest()
		}
		if s == nil {
			rec = append(rec, Blank(inst, levels)...)
			continue
		}
		rec = append(rec, Record(s, levels)...)
	}
	return rec
}

type rowPayload struct {
	At          time.Time           `json:"at"`
	Instruments []map[string]string `json:"instruments"`
}

// RowJSON encodes a synchronized row as one JSON object with a column map
// per instrument.
func RowJSON(row *aggregator.Row, insts []*market.Instrument, levels int) ([]byte, error) {
	header := Header(levels)
	rec := RowRecord(row, insts, levels)

	p := rowPayload{At: row.Time(), Instruments: make([]map[string]string, 0, len(insts))}
	for i := range insts {
		fields := rec[i*len(header) : (i+1)*len(header)]
		m := make(map[string]string, len(header))
		for j, col := range header {
			m[col] = fields[j]
		}
		p.Instruments = append(p.Instruments, m)
	}
	return json.Marshal(p)
}

func f64(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func fixed4(v float64) string { return decimal.NewFromFloat(v).StringFixed(4) }

func i64(v int64) string { return strconv.FormatInt(v, 10) }

func u64(v uint64) string { return strconv.FormatUint(v, 10) }
