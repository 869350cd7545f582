package twap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tokenduel/internal/repository"
)

// ErrInsufficientHistory means the requested window contains no price
// samples. Resolution defers on this error and retries later; it is not
// fatal.
var ErrInsufficientHistory = errors.New("twap: no samples in window")

// Engine computes time-weighted average prices from the recorded sample
// history. The arithmetic is all decimal so the same inputs always produce
// the same settlement value.
type Engine struct {
	Repo repository.Repository

	// WindowMinutes is the span on each side of a reference instant when
	// deriving competition windows.
	WindowMinutes int
}

// Calculate integrates the price history over [start, end]. One sample is
// the degenerate case and returns that sample's price; with two or more
// samples each price is weighted by the time until the next sample, the last
// sample extends to the window end, and the total is divided by the window
// length.
func (e *Engine) Calculate(ctx context.Context, tokenID string, start, end time.Time) (decimal.Decimal, error) {
	if !end.After(start) {
		return decimal.Zero, fmt.Errorf("twap: window end %s not after start %s", end, start)
	}
	samples, err := e.Repo.QueryPriceSamples(ctx, tokenID, start, end)
	if err != nil {
		return decimal.Zero, fmt.Errorf("twap: query samples: %w", err)
	}
	if len(samples) == 0 {
		return decimal.Zero, fmt.Errorf("%w: token %s window [%s, %s]", ErrInsufficientHistory, tokenID, start, end)
	}
	if len(samples) == 1 {
		return samples[0].Price, nil
	}

	total := decimal.Zero
	for i := 0; i < len(samples)-1; i++ {
		dt := samples[i+1].Timestamp.Sub(samples[i].Timestamp)
		total = total.Add(samples[i].Price.Mul(millis(dt)))
	}
	last := samples[len(samples)-1]
	if tail := end.Sub(last.Timestamp); tail > 0 {
		total = total.Add(last.Price.Mul(millis(tail)))
	}

	return total.Div(millis(end.Sub(start))), nil
}

// WindowResult carries both settlement windows for one token of a
// competition.
type WindowResult struct {
	StartTWAP     decimal.Decimal
	EndTWAP       decimal.Decimal
	PercentChange decimal.Decimal
}

// CompetitionWindows derives two symmetric windows, one centered on the
// voting-to-active boundary and one centered on the competition end, and
// returns the TWAP of each plus the percent change between them.
func (e *Engine) CompetitionWindows(ctx context.Context, tokenID string, startRef, endRef time.Time) (WindowResult, error) {
	span := time.Duration(e.WindowMinutes) * time.Minute
	if span <= 0 {
		span = 10 * time.Minute
	}

	startTWAP, err := e.Calculate(ctx, tokenID, startRef.Add(-span), startRef.Add(span))
	if err != nil {
		return WindowResult{}, err
	}
	endTWAP, err := e.Calculate(ctx, tokenID, endRef.Add(-span), endRef.Add(span))
	if err != nil {
		return WindowResult{}, err
	}
	if startTWAP.IsZero() {
		return WindowResult{}, fmt.Errorf("twap: zero start TWAP for token %s", tokenID)
	}

	change := endTWAP.Sub(startTWAP).Div(startTWAP).Mul(decimal.NewFromInt(100))
	return WindowResult{StartTWAP: startTWAP, EndTWAP: endTWAP, PercentChange: change}, nil
}

func millis(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(d.Milliseconds())
}
