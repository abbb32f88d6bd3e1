package market

import (
	"errors"
	"fmt"
)

// ErrUnknownClass is returned when an instrument class is not in the class table.
var ErrUnknownClass = errors.New("unknown instrument class")

// Class is the instrument class used in the roster configuration.
type Class string

// ClassMeta holds the size-reporting capabilities of a Class.
type ClassMeta struct {
	QuoteSize bool
	TradeSize bool
}

const (
	ClassEquity      Class = "Equity"
	ClassIndex       Class = "Index"
	ClassCurncy      Class = "Curncy"
	ClassComdty      Class = "Comdty"
	ClassIndexFuture Class = "IndexFuture"
	ClassIndexOption Class = "IndexOption"
)

// validClasses maps each Class to the sizes its feed reports
var validClasses = map[Class]ClassMeta{
	ClassEquity:      {QuoteSize: true, TradeSize: true},
	ClassComdty:      {QuoteSize: true, TradeSize: true},
	ClassIndexFuture: {QuoteSize: true, TradeSize: true},
	ClassIndexOption: {QuoteSize: true, TradeSize: true},
	ClassIndex:       {}, // indices and FX only publish prices
	ClassCurncy:      {},
}

// IsValid checks if the Class is a predefined class
func (c Class) IsValid() bool {
	_, ok := validClasses[c]
	return ok
}

// ParseClass parses a string into a valid Class and its meta
func ParseClass(s string) (Class, ClassMeta, error) {
	class := Class(s)
	meta, ok := validClasses[class]
	if !ok {
		return "", ClassMeta{}, fmt.Errorf("%w: %s", ErrUnknownClass, s)
	}
	return class, meta, nil
}
