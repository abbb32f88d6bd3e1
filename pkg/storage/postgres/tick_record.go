package postgres

import "time"

// TickRecord is one historical quote or trade.
type TickRecord struct {
	ID uint `gorm:"primaryKey"`

	// unique index
	Instrument string    `gorm:"type:text;not null;index:idx_tick_instrument_ts;index:idx_tick_unique,unique"`
	Timestamp  time.Time `gorm:"not null;index:idx_tick_instrument_ts;index:idx_tick_unique,unique"`
	Seq        uint32    `gorm:"not null;default:0;index:idx_tick_unique,unique"`
	Kind       string    `gorm:"type:varchar(8);not null;index:idx_tick_unique,unique"`

	Price float64 `gorm:"type:numeric;not null"`
	Size  int64   `gorm:"not null;default:0"`

	ConditionCode string `gorm:"type:varchar(32)"`
	ExchangeCode  string `gorm:"type:varchar(32)"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (TickRecord) TableName() string {
	return "tick_record"
}
