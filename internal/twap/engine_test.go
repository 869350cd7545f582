package twap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tokenduel/internal/models"
	"tokenduel/internal/repository"
)

// stubRepo serves recorded price samples; the rest of the interface is
// unused by the engine.
type stubRepo struct {
	repository.Repository
	samples map[string][]models.PriceSample
}

func (s *stubRepo) QueryPriceSamples(ctx context.Context, tokenID string, start, end time.Time) ([]models.PriceSample, error) {
	var out []models.PriceSample
	for _, sample := range s.samples[tokenID] {
		if sample.Timestamp.Before(start) || sample.Timestamp.After(end) {
			continue
		}
		out = append(out, sample)
	}
	return out, nil
}

func sample(tokenID string, at time.Time, price string) models.PriceSample {
	p, _ := decimal.NewFromString(price)
	return models.PriceSample{TokenID: tokenID, Timestamp: at, Price: p}
}

func TestCalculateEmptyWindow(t *testing.T) {
	engine := &Engine{Repo: &stubRepo{samples: map[string][]models.PriceSample{}}}
	_, err := engine.Calculate(context.Background(), "sol", time.Unix(1000, 0), time.Unix(2000, 0))
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestCalculateInvertedWindow(t *testing.T) {
	engine := &Engine{Repo: &stubRepo{}}
	if _, err := engine.Calculate(context.Background(), "sol", time.Unix(2000, 0), time.Unix(1000, 0)); err == nil {
		t.Fatal("expected error for end before start")
	}
}

func TestCalculateSingleSample(t *testing.T) {
	start := time.Unix(1000, 0).UTC()
	repo := &stubRepo{samples: map[string][]models.PriceSample{
		"sol": {sample("sol", start.Add(30*time.Second), "142.50")},
	}}
	engine := &Engine{Repo: repo}

	got, err := engine.Calculate(context.Background(), "sol", start, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if want := decimal.RequireFromString("142.50"); !got.Equal(want) {
		t.Fatalf("single-sample twap = %s, want %s", got, want)
	}
}

func TestCalculateWeightsByDuration(t *testing.T) {
	// Price 10 for the first minute, 20 for the second: the average over
	// the two-minute window is exactly 15.
	start := time.Unix(1000, 0).UTC()
	repo := &stubRepo{samples: map[string][]models.PriceSample{
		"sol": {
			sample("sol", start, "10"),
			sample("sol", start.Add(time.Minute), "20"),
		},
	}}
	engine := &Engine{Repo: repo}

	got, err := engine.Calculate(context.Background(), "sol", start, start.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if want := decimal.NewFromInt(15); !got.Equal(want) {
		t.Fatalf("twap = %s, want %s", got, want)
	}
}

func TestCalculateUnevenSpacing(t *testing.T) {
	// 100 for 90s, then 200 for the remaining 30s of a 2-minute window:
	// (100*90 + 200*30) / 120 = 125.
	start := time.Unix(1000, 0).UTC()
	repo := &stubRepo{samples: map[string][]models.PriceSample{
		"bonk": {
			sample("bonk", start, "100"),
			sample("bonk", start.Add(90*time.Second), "200"),
		},
	}}
	engine := &Engine{Repo: repo}

	got, err := engine.Calculate(context.Background(), "bonk", start, start.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if want := decimal.NewFromInt(125); !got.Equal(want) {
		t.Fatalf("twap = %s, want %s", got, want)
	}
}

func TestCompetitionWindowsPercentChange(t *testing.T) {
	startRef := time.Unix(100000, 0).UTC()
	endRef := startRef.Add(time.Hour)
	repo := &stubRepo{samples: map[string][]models.PriceSample{
		"sol": {
			// Flat 100 around the start boundary, flat 110 around the end.
			sample("sol", startRef.Add(-10*time.Minute), "100"),
			sample("sol", endRef.Add(-10*time.Minute), "110"),
		},
	}}
	engine := &Engine{Repo: repo, WindowMinutes: 10}

	res, err := engine.CompetitionWindows(context.Background(), "sol", startRef, endRef)
	if err != nil {
		t.Fatalf("competition windows: %v", err)
	}
	if want := decimal.NewFromInt(100); !res.StartTWAP.Equal(want) {
		t.Fatalf("start twap = %s, want %s", res.StartTWAP, want)
	}
	if want := decimal.NewFromInt(110); !res.EndTWAP.Equal(want) {
		t.Fatalf("end twap = %s, want %s", res.EndTWAP, want)
	}
	if want := decimal.NewFromInt(10); !res.PercentChange.Equal(want) {
		t.Fatalf("percent change = %s, want %s", res.PercentChange, want)
	}
}

func TestCompetitionWindowsMissingHistory(t *testing.T) {
	engine := &Engine{Repo: &stubRepo{}, WindowMinutes: 10}
	_, err := engine.CompetitionWindows(context.Background(), "sol", time.Unix(100000, 0), time.Unix(103600, 0))
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}
