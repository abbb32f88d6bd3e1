package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

const insertBatchSize = 500

// InsertTicks stores records, skipping ones already present. It returns the
// number of rows actually inserted.
func (p *PostgresClient) InsertTicks(ctx context.Context, records []TickRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx := p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "instrument"},
			{Name: "timestamp"},
			{Name: "seq"},
			{Name: "kind"},
		},
		DoNothing: true,
	}).CreateInBatches(records, insertBatchSize)

	if tx.Error != nil {
		return 0, fmt.Errorf("insert ticks: %w", tx.Error)
	}
	return tx.RowsAffected, nil
}

// QueryRange returns the ticks of instrument in [start, end) in time order.
func (p *PostgresClient) QueryRange(ctx context.Context, instrument string, start, end time.Time) ([]TickRecord, error) {
	var records []TickRecord
	err := p.DB.WithContext(ctx).
		Where("instrument = ? AND timestamp >= ? AND timestamp < ?", instrument, start, end).
		Order("timestamp ASC").
		Order("seq ASC").
		Order("id ASC").
		Find(&records).Error

	if err != nil {
		return nil, fmt.Errorf("query ticks %s: %w", instrument, err)
	}
	return records, nil
}

// DeleteTicksBefore removes every tick older than before.
func (p *PostgresClient) DeleteTicksBefore(ctx context.Context, before time.Time) (int64, error) {
	tx := p.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&TickRecord{})
	if tx.Error != nil {
		return 0, fmt.Errorf("delete ticks: %w", tx.Error)
	}
	return tx.RowsAffected, nil
}
