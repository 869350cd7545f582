package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// BinanceSource fetches spot prices from the Binance REST ticker endpoint.
type BinanceSource struct {
	HTTP    *http.Client
	BaseURL string
	Conf    float64
}

func (s *BinanceSource) Name() string    { return "binance" }
func (s *BinanceSource) Weight() float64 { return s.Conf }

func (s *BinanceSource) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	client := s.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = "https://api.binance.com"
	}
	pair := strings.ToUpper(strings.TrimSpace(symbol)) + "USDT"
	url := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", base, pair)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("binance: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusBadRequest {
		return 0, fmt.Errorf("binance: %s: %w", pair, ErrSymbolNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("binance: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("binance: decode: %w", err)
	}
	price, err := strconv.ParseFloat(body.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: parse price %q: %w", body.Price, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("binance: non-positive price %f for %s", price, pair)
	}
	return price, nil
}

// Compile-time interface check.
var _ Source = (*BinanceSource)(nil)
