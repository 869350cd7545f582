package prices

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tokenduel/internal/repository"
)

// Price is an aggregated current price. Stale marks a value served from the
// cache past its TTL because every source failed.
type Price struct {
	Value   float64
	Sources []string
	At      time.Time
	Stale   bool
}

type quote struct {
	source string
	price  float64
	weight float64
}

// Aggregator fans out to every configured source, rejects outliers against
// the median, and combines the survivors into a confidence-weighted average.
// A single source failure never fails a call; the call fails only when no
// source succeeds and no cached value exists.
type Aggregator struct {
	Repo   repository.Repository
	Cache  Cache
	Logger *zap.Logger

	Sources          []Source
	CacheTTL         time.Duration
	OutlierThreshold float64
	FetchTimeout     time.Duration

	mu      sync.Mutex
	tracked map[string]string
}

// symbolSubscriber is implemented by sources that hold a live subscription
// per symbol (the Binance trade stream).
type symbolSubscriber interface {
	EnsureSymbol(ctx context.Context, symbol string)
}

// CurrentPrice returns the aggregated price for the token. With useCache, a
// cache entry younger than the TTL is returned without touching the network.
func (a *Aggregator) CurrentPrice(ctx context.Context, tokenID, symbol string, useCache bool) (Price, error) {
	ttl := a.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	if useCache && a.Cache != nil {
		entry, err := a.Cache.Get(ctx, tokenID)
		if err != nil && a.Logger != nil {
			a.Logger.Warn("price cache read failed", zap.String("token", tokenID), zap.Error(err))
		}
		if entry != nil && time.Since(entry.At) <= ttl {
			return Price{Value: entry.Price, Sources: entry.Sources, At: entry.At}, nil
		}
	}

	quotes := a.fanOut(ctx, symbol)
	if len(quotes) == 0 {
		// Every source failed: fall back to the last cached value even if
		// stale, and only error when nothing was ever cached.
		if a.Cache != nil {
			entry, err := a.Cache.Get(ctx, tokenID)
			if err == nil && entry != nil {
				if a.Logger != nil {
					a.Logger.Warn("all price sources failed, serving stale cache",
						zap.String("token", tokenID),
						zap.Time("cached_at", entry.At))
				}
				return Price{Value: entry.Price, Sources: entry.Sources, At: entry.At, Stale: true}, nil
			}
		}
		return Price{}, fmt.Errorf("%w: %s", ErrNoPrice, tokenID)
	}

	kept := filterOutliers(quotes, a.OutlierThreshold)
	value := weightedAverage(kept)

	names := make([]string, 0, len(kept))
	for _, q := range kept {
		names = append(names, q.source)
	}
	sort.Strings(names)

	result := Price{Value: value, Sources: names, At: time.Now().UTC()}
	if a.Cache != nil {
		if err := a.Cache.Set(ctx, tokenID, CachedPrice{Price: result.Value, Sources: result.Sources, At: result.At}); err != nil && a.Logger != nil {
			a.Logger.Warn("price cache write failed", zap.String("token", tokenID), zap.Error(err))
		}
	}
	return result, nil
}

func (a *Aggregator) fanOut(ctx context.Context, symbol string) []quote {
	timeout := a.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan *quote, len(a.Sources))
	for _, src := range a.Sources {
		if src == nil {
			continue
		}
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			price, err := src.FetchPrice(fetchCtx, symbol)
			if err != nil {
				if a.Logger != nil {
					a.Logger.Debug("price source failed",
						zap.String("source", src.Name()),
						zap.String("symbol", symbol),
						zap.Error(err))
				}
				results <- nil
				return
			}
			results <- &quote{source: src.Name(), price: price, weight: src.Weight()}
		}(src)
	}
	wg.Wait()
	close(results)

	var quotes []quote
	for q := range results {
		if q != nil {
			quotes = append(quotes, *q)
		}
	}
	return quotes
}

// filterOutliers drops quotes whose relative deviation from the median
// exceeds the threshold. With one or two quotes there is no meaningful
// consensus to judge against, so everything is kept.
func filterOutliers(quotes []quote, threshold float64) []quote {
	if threshold <= 0 {
		threshold = 0.10
	}
	if len(quotes) <= 2 {
		return quotes
	}

	med := medianPrice(quotes)
	if med <= 0 {
		return quotes
	}

	kept := make([]quote, 0, len(quotes))
	for _, q := range quotes {
		dev := (q.price - med) / med
		if dev < 0 {
			dev = -dev
		}
		if dev <= threshold {
			kept = append(kept, q)
		}
	}
	if len(kept) == 0 {
		// Sources disagree so much that nothing is within tolerance of the
		// median; keep the median-closest quote rather than returning nothing.
		best := quotes[0]
		bestDev := -1.0
		for _, q := range quotes {
			dev := (q.price - med) / med
			if dev < 0 {
				dev = -dev
			}
			if bestDev < 0 || dev < bestDev {
				best, bestDev = q, dev
			}
		}
		return []quote{best}
	}
	return kept
}

func medianPrice(quotes []quote) float64 {
	sorted := make([]float64, 0, len(quotes))
	for _, q := range quotes {
		sorted = append(sorted, q.price)
	}
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func weightedAverage(quotes []quote) float64 {
	var sum, weightSum float64
	for _, q := range quotes {
		w := q.weight
		if w <= 0 {
			w = 1
		}
		sum += q.price * w
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return sum / weightSum
}
