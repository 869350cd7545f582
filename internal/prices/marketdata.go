package prices

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tokenduel/internal/repository"
)

// MarketDataRefresher keeps the token universe's market caps and reference
// prices current so the pair selector judges parity against fresh numbers.
type MarketDataRefresher struct {
	Repo   repository.Repository
	Source *CoingeckoSource
	Logger *zap.Logger
}

func (r *MarketDataRefresher) Refresh(ctx context.Context) error {
	if r == nil || r.Repo == nil || r.Source == nil {
		return nil
	}
	tokens, err := r.Repo.ListActiveTokens(ctx)
	if err != nil {
		return err
	}
	for i := range tokens {
		token := tokens[i]
		md, err := r.Source.FetchMarketData(ctx, token.Symbol)
		if err != nil {
			if r.Logger != nil {
				r.Logger.Warn("market data refresh failed",
					zap.String("token", token.ID),
					zap.String("symbol", token.Symbol),
					zap.Error(err))
			}
			continue
		}
		now := time.Now().UTC()
		price := decimal.NewFromFloat(md.Price)
		token.MarketCap = decimal.NewFromFloat(md.MarketCap)
		token.LastPrice = &price
		token.LastPriceAt = &now
		if err := r.Repo.UpdateTokenMarketData(ctx, &token); err != nil && r.Logger != nil {
			r.Logger.Warn("market data update failed",
				zap.String("token", token.ID),
				zap.Error(err))
		}
	}
	return nil
}
