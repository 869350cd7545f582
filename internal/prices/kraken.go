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

// KrakenSource fetches last-trade prices from the Kraken public Ticker
// endpoint. Kraken keys the result object by its own pair spelling, so the
// response is scanned rather than indexed.
type KrakenSource struct {
	HTTP    *http.Client
	BaseURL string
	Conf    float64
}

func (s *KrakenSource) Name() string    { return "kraken" }
func (s *KrakenSource) Weight() float64 { return s.Conf }

func (s *KrakenSource) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	client := s.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = "https://api.kraken.com"
	}
	pair := strings.ToUpper(strings.TrimSpace(symbol)) + "USD"
	url := fmt.Sprintf("%s/0/public/Ticker?pair=%s", base, pair)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("kraken: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("kraken: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			// c is [last trade price, lot volume].
			C []string `json:"c"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("kraken: decode: %w", err)
	}
	if len(body.Error) > 0 {
		if strings.Contains(strings.Join(body.Error, ","), "Unknown asset pair") {
			return 0, fmt.Errorf("kraken: %s: %w", pair, ErrSymbolNotFound)
		}
		return 0, fmt.Errorf("kraken: api error: %s", strings.Join(body.Error, ","))
	}
	for _, ticker := range body.Result {
		if len(ticker.C) == 0 {
			continue
		}
		price, err := strconv.ParseFloat(ticker.C[0], 64)
		if err != nil {
			return 0, fmt.Errorf("kraken: parse price %q: %w", ticker.C[0], err)
		}
		if price <= 0 {
			return 0, fmt.Errorf("kraken: non-positive price %f for %s", price, pair)
		}
		return price, nil
	}
	return 0, fmt.Errorf("kraken: empty result for %s", pair)
}

var _ Source = (*KrakenSource)(nil)
