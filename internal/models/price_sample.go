package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PriceSample is one point in the append-only per-token price history. The
// TWAP engine assumes samples for a token carry monotonically increasing
// timestamps; rows are never mutated after insert.
type PriceSample struct {
	ID      uint64          `gorm:"primaryKey;autoIncrement"`
	TokenID string          `gorm:"type:text;not null;index:idx_price_samples_token_ts,priority:1"`
	Price   decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	// Sources is the JSON array of source names that contributed to the
	// aggregated price.
	Sources datatypes.JSON `gorm:"type:jsonb"`

	Timestamp time.Time `gorm:"type:timestamptz;not null;index:idx_price_samples_token_ts,priority:2"`
}

func (PriceSample) TableName() string {
	return "price_samples"
}
