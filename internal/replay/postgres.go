package replay

import (
	"context"
	"time"

	"tickwrangler/internal/market"
	"tickwrangler/pkg/storage/postgres"
)

// TickStore is the part of the postgres client the replay source reads from.
type TickStore interface {
	QueryRange(ctx context.Context, instrument string, start, end time.Time) ([]postgres.TickRecord, error)
	IsHealthy(ctx context.Context) bool
}

// PostgresSource serves historical rows from the tick_record table.
type PostgresSource struct {
	store TickStore
}

func NewPostgresSource(store TickStore) *PostgresSource {
	return &PostgresSource{store: store}
}

func (s *PostgresSource) IsHealthy(ctx context.Context) bool {
	return s.store.IsHealthy(ctx)
}

func (s *PostgresSource) QueryRange(ctx context.Context, instrument string, start, end time.Time) ([]Row, error) {
	records, err := s.store.QueryRange(ctx, instrument, start, end)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, Row{
			Kind:      r.Kind,
			Timestamp: r.Timestamp,
			Price:     r.Price,
			Size:      r.Size,
			Condition: r.ConditionCode,
			Exchange:  r.ExchangeCode,
		})
	}
	return rows, nil
}

// ToTickRecord is the inverse of the row parsing: it stores ev so that a
// later replay yields the same event.
func ToTickRecord(ev market.TickEvent, seq uint32) postgres.TickRecord {
	rec := postgres.TickRecord{
		Instrument: ev.Instrument.Name(),
		Timestamp:  ev.Timestamp,
		Seq:        seq,
		Kind:       ev.Kind.String(),
		Price:      ev.Price,
		Size:       int64(ev.Size),
	}
	if ev.Codes != nil {
		rec.ConditionCode = ev.Codes[market.CodeCondition]
		switch ev.Kind {
		case market.KindBid:
			rec.ExchangeCode = ev.Codes[market.CodeExchangeBid]
		case market.KindAsk:
			rec.ExchangeCode = ev.Codes[market.CodeExchangeAsk]
		case market.KindTrade:
			rec.ExchangeCode = ev.Codes[market.CodeExchangeLast]
		}
	}
	return rec
}
