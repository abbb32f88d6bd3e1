package market

import "sort"

// PriceLevel aggregates the trades printed at one price within an interval.
type PriceLevel struct {
	Price       float64
	TotalVolume uint64
	VolAtBid    uint64
	VolAtAsk    uint64
	TradeCount  uint64
	CntAtBid    uint64
	CntAtAsk    uint64
}

// PriceLevels is an ascending-by-price list of PriceLevel.
// A PriceLevels value is never modified once attached to a State; withTrade
// returns a fresh copy so successive states never alias each other's levels.
type PriceLevels []PriceLevel

// withTrade returns a copy of l with one trade of the given size merged into
// the level at price. bid and ask are the quotes current at the time of the trade.
func (l PriceLevels) withTrade(price float64, size uint32, bid, ask float64) PriceLevels {
	i := sort.Search(len(l), func(i int) bool { return l[i].Price >= price })

	var out PriceLevels
	if i < len(l) && l[i].Price == price {
		out = make(PriceLevels, len(l))
		copy(out, l)
	} else {
		out = make(PriceLevels, len(l)+1)
		copy(out, l[:i])
		copy(out[i+1:], l[i:])
		out[i] = PriceLevel{Price: price}
	}

	lvl := &out[i]
	lvl.TotalVolume += uint64(size)
	lvl.TradeCount++
	switch price {
	case bid:
		lvl.VolAtBid += uint64(size)
		lvl.CntAtBid++
	case ask:
		lvl.VolAtAsk += uint64(size)
		lvl.CntAtAsk++
	}
	return out
}

// Top returns at most n levels, lowest price first.
func (l PriceLevels) Top(n int) PriceLevels {
	if len(l) <= n {
		return l
	}
	return l[:n]
}
