package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Settler is the settlement hook called at resolution. The on-chain program
// behind it is a black box: Distribute moves the pool to the winning side's
// bettors, Refund returns stakes after a cancellation or a tie. A failure
// here never blocks the scheduler from recording the outcome; settlement is
// retried independently.
type Settler interface {
	Distribute(ctx context.Context, competitionID string) error
	Refund(ctx context.Context, competitionID string) error
}

// HTTPSettler calls an external escrow service that wraps the on-chain
// program.
type HTTPSettler struct {
	HTTP    *http.Client
	BaseURL string
}

func NewHTTPSettler(baseURL string, timeout time.Duration) *HTTPSettler {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSettler{
		HTTP:    &http.Client{Timeout: timeout},
		BaseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *HTTPSettler) Distribute(ctx context.Context, competitionID string) error {
	return s.post(ctx, "/settlements/distribute", competitionID)
}

func (s *HTTPSettler) Refund(ctx context.Context, competitionID string) error {
	return s.post(ctx, "/settlements/refund", competitionID)
}

func (s *HTTPSettler) post(ctx context.Context, path, competitionID string) error {
	payload, err := json.Marshal(map[string]string{"competition_id": competitionID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("escrow: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("escrow: %s: unexpected status %d: %s", path, resp.StatusCode, string(body))
	}
	return nil
}

// NoopSettler is used when no escrow service is configured; settlement is
// then an operator concern outside this process.
type NoopSettler struct{}

func (NoopSettler) Distribute(context.Context, string) error { return nil }
func (NoopSettler) Refund(context.Context, string) error     { return nil }

var (
	_ Settler = (*HTTPSettler)(nil)
	_ Settler = NoopSettler{}
)
