package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Token is one entry in the candidate universe for pair selection. ID is the
// mint address of the token.
type Token struct {
	ID     string `gorm:"primaryKey;type:text"`
	Symbol string `gorm:"type:varchar(20);uniqueIndex;not null"`
	Name   string `gorm:"type:text;not null"`

	MarketCap   decimal.Decimal `gorm:"type:numeric(30,2);not null;default:0"`
	LastPrice   *decimal.Decimal `gorm:"type:numeric(30,10)"`
	LastPriceAt *time.Time       `gorm:"type:timestamptz"`

	Active      bool `gorm:"not null;default:true;index"`
	Blacklisted bool `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Token) TableName() string {
	return "tokens"
}
