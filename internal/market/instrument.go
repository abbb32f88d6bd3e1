package market

import (
	"fmt"
	"strings"
)

// Instrument is the static descriptor of a tracked security.
// It is immutable once constructed and is shared by pointer.
type Instrument struct {
	name      string
	id        uint32
	class     Class
	quoteSize bool
	tradeSize bool
}

// NewInstrument builds an Instrument, deriving the size flags from its class.
func NewInstrument(name string, id uint32, class Class) (*Instrument, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("instrument name must not be empty")
	}
	_, meta, err := ParseClass(string(class))
	if err != nil {
		return nil, err
	}

	return &Instrument{
		name:      name,
		id:        id,
		class:     class,
		quoteSize: meta.QuoteSize,
		tradeSize: meta.TradeSize,
	}, nil
}

func (i *Instrument) Name() string { return i.name }

func (i *Instrument) ID() uint32 { return i.id }

func (i *Instrument) Class() Class { return i.class }

func (i *Instrument) String() string { return i.name }

// ReportsQuoteSize reports whether bid/ask events carry a meaningful size.
func (i *Instrument) ReportsQuoteSize() bool { return i.quoteSize }

// ReportsTradeSize reports whether trade events carry a meaningful size.
func (i *Instrument) ReportsTradeSize() bool { return i.tradeSize }
