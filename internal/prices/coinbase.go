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

// CoinbaseSource fetches spot prices from the public Coinbase price API.
type CoinbaseSource struct {
	HTTP    *http.Client
	BaseURL string
	Conf    float64
}

func (s *CoinbaseSource) Name() string    { return "coinbase" }
func (s *CoinbaseSource) Weight() float64 { return s.Conf }

func (s *CoinbaseSource) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	client := s.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = "https://api.coinbase.com"
	}
	pair := strings.ToUpper(strings.TrimSpace(symbol)) + "-USD"
	url := fmt.Sprintf("%s/v2/prices/%s/spot", base, pair)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("coinbase: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("coinbase: %s: %w", pair, ErrSymbolNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("coinbase: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("coinbase: decode: %w", err)
	}
	price, err := strconv.ParseFloat(body.Data.Amount, 64)
	if err != nil {
		return 0, fmt.Errorf("coinbase: parse price %q: %w", body.Data.Amount, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("coinbase: non-positive price %f for %s", price, pair)
	}
	return price, nil
}

var _ Source = (*CoinbaseSource)(nil)
