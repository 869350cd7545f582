package prices

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"tokenduel/internal/models"
)

// Track adds a token to the recording set. Sources holding per-symbol
// subscriptions are told to start watching the symbol immediately so the
// first recording tick already has stream data.
func (a *Aggregator) Track(ctx context.Context, tokenID, symbol string) {
	a.mu.Lock()
	if a.tracked == nil {
		a.tracked = map[string]string{}
	}
	a.tracked[tokenID] = symbol
	a.mu.Unlock()

	for _, src := range a.Sources {
		if sub, ok := src.(symbolSubscriber); ok {
			sub.EnsureSymbol(ctx, symbol)
		}
	}
}

func (a *Aggregator) Untrack(tokenID string) {
	a.mu.Lock()
	delete(a.tracked, tokenID)
	a.mu.Unlock()
}

// TrackedTokens returns a snapshot of the recording set, tokenID -> symbol.
func (a *Aggregator) TrackedTokens() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string, len(a.tracked))
	for id, sym := range a.tracked {
		out[id] = sym
	}
	return out
}

// RecordTrackedTokens fetches a fresh (non-cached) price for every tracked
// token and appends one PriceSample per success. A token that fails to price
// is logged and skipped; the batch never aborts.
func (a *Aggregator) RecordTrackedTokens(ctx context.Context) {
	if a.Repo == nil {
		return
	}
	for tokenID, symbol := range a.TrackedTokens() {
		price, err := a.CurrentPrice(ctx, tokenID, symbol, false)
		if err != nil {
			if a.Logger != nil {
				a.Logger.Warn("price recording failed",
					zap.String("token", tokenID),
					zap.String("symbol", symbol),
					zap.Error(err))
			}
			continue
		}
		if price.Stale {
			// A stale cache value does not belong in the history the TWAP
			// integral settles on.
			if a.Logger != nil {
				a.Logger.Warn("skipping stale price for history",
					zap.String("token", tokenID),
					zap.Time("cached_at", price.At))
			}
			continue
		}

		sourcesJSON, _ := json.Marshal(price.Sources)
		sample := &models.PriceSample{
			TokenID:   tokenID,
			Price:     decimal.NewFromFloat(price.Value),
			Sources:   datatypes.JSON(sourcesJSON),
			Timestamp: time.Now().UTC(),
		}
		if err := a.Repo.AppendPriceSample(ctx, sample); err != nil && a.Logger != nil {
			a.Logger.Warn("price sample append failed",
				zap.String("token", tokenID),
				zap.Error(err))
		}
	}
}
