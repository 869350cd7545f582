package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CoingeckoSource fetches prices from the CoinGecko simple-price endpoint.
// CoinGecko addresses coins by slug id rather than ticker symbol; SymbolIDs
// maps trade symbols to slugs and unmapped symbols fall back to the
// lowercased symbol, which matches for the majors.
type CoingeckoSource struct {
	HTTP      *http.Client
	BaseURL   string
	Conf      float64
	SymbolIDs map[string]string
}

// MarketData is the subset of CoinGecko market info the pair selector needs.
type MarketData struct {
	Price     float64
	MarketCap float64
}

func (s *CoingeckoSource) Name() string    { return "coingecko" }
func (s *CoingeckoSource) Weight() float64 { return s.Conf }

func (s *CoingeckoSource) coinID(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if id, ok := s.SymbolIDs[sym]; ok {
		return id
	}
	return strings.ToLower(sym)
}

func (s *CoingeckoSource) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	md, err := s.FetchMarketData(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return md.Price, nil
}

// FetchMarketData returns the current USD price and market capitalization
// for the symbol. The market-data refresher uses this to keep the token
// universe's caps current.
func (s *CoingeckoSource) FetchMarketData(ctx context.Context, symbol string) (MarketData, error) {
	client := s.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = "https://api.coingecko.com"
	}
	id := s.coinID(symbol)
	endpoint := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=usd&include_market_cap=true",
		base, url.QueryEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return MarketData{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return MarketData{}, fmt.Errorf("coingecko: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return MarketData{}, fmt.Errorf("coingecko: unexpected status %d", resp.StatusCode)
	}

	var body map[string]struct {
		USD          float64 `json:"usd"`
		USDMarketCap float64 `json:"usd_market_cap"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return MarketData{}, fmt.Errorf("coingecko: decode: %w", err)
	}
	entry, ok := body[id]
	if !ok {
		return MarketData{}, fmt.Errorf("coingecko: %s: %w", id, ErrSymbolNotFound)
	}
	if entry.USD <= 0 {
		return MarketData{}, fmt.Errorf("coingecko: non-positive price %f for %s", entry.USD, id)
	}
	return MarketData{Price: entry.USD, MarketCap: entry.USDMarketCap}, nil
}

var _ Source = (*CoingeckoSource)(nil)
