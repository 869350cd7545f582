package pair

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tokenduel/internal/prices"
	"tokenduel/internal/repository"
)

// TokenSnapshot is the view of one token at selection time.
type TokenSnapshot struct {
	ID        string
	Symbol    string
	Name      string
	Price     decimal.Decimal
	MarketCap decimal.Decimal
}

// TokenPair is an ephemeral candidate produced by the selector and consumed
// once by competition creation. It is never persisted; the selector
// regenerates candidates on demand.
type TokenPair struct {
	TokenA             TokenSnapshot
	TokenB             TokenSnapshot
	CompatibilityScore float64
	GeneratedAt        time.Time
}

// ValidationResult reports whether two tokens may compete and, when they may
// not, the precise cause. Returning a value instead of an error lets the
// scheduler log the reason and move to the next candidate.
type ValidationResult struct {
	Valid  bool
	Reason string
}

type Selector struct {
	Repo   repository.Repository
	Prices *prices.Aggregator
	Logger *zap.Logger

	// MaxCapRatio is the inclusive market-cap parity bound (1.10 allows a
	// 10% spread).
	MaxCapRatio      float64
	RepetitionWindow time.Duration
	Blacklist        []string
}

func (s *Selector) maxCapRatio() decimal.Decimal {
	if s.MaxCapRatio > 0 {
		return decimal.NewFromFloat(s.MaxCapRatio)
	}
	return decimal.NewFromFloat(1.10)
}

func (s *Selector) repetitionWindow() time.Duration {
	if s.RepetitionWindow > 0 {
		return s.RepetitionWindow
	}
	return 24 * time.Hour
}

func (s *Selector) blacklisted(token TokenSnapshot) bool {
	for _, entry := range s.Blacklist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.EqualFold(entry, token.ID) || strings.EqualFold(entry, token.Symbol) {
			return true
		}
	}
	return false
}

// pairKey is symmetric: A-B and B-A map to the same key.
func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

// SelectOptimalPair picks the best candidate pair: recently used pairs are
// excluded, the highest compatibility score wins among the rest, and when
// every candidate was recently used the least recently used one is returned
// instead of failing. An empty candidate universe returns (nil, nil).
func (s *Selector) SelectOptimalPair(ctx context.Context) (*TokenPair, error) {
	candidates, err := s.generateCandidates(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	since := time.Now().UTC().Add(-s.repetitionWindow())
	usage, err := s.Repo.ListRecentPairUsage(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("pair: recent usage: %w", err)
	}
	lastUsed := map[string]time.Time{}
	for _, u := range usage {
		key := pairKey(u.TokenAID, u.TokenBID)
		if u.CreatedAt.After(lastUsed[key]) {
			lastUsed[key] = u.CreatedAt
		}
	}

	var best *TokenPair
	for i := range candidates {
		cand := &candidates[i]
		if _, used := lastUsed[pairKey(cand.TokenA.ID, cand.TokenB.ID)]; used {
			continue
		}
		if best == nil || cand.CompatibilityScore > best.CompatibilityScore {
			best = cand
		}
	}
	if best != nil {
		return best, nil
	}

	// Every candidate was used inside the repetition window. Fall back to
	// the least recently used one: availability beats strict novelty.
	var oldest time.Time
	for i := range candidates {
		cand := &candidates[i]
		usedAt := lastUsed[pairKey(cand.TokenA.ID, cand.TokenB.ID)]
		if best == nil || usedAt.Before(oldest) {
			best = cand
			oldest = usedAt
		}
	}
	if s.Logger != nil && best != nil {
		s.Logger.Info("all candidate pairs recently used, falling back to least recent",
			zap.String("token_a", best.TokenA.Symbol),
			zap.String("token_b", best.TokenB.Symbol),
			zap.Time("last_used", oldest))
	}
	return best, nil
}

// generateCandidates builds every validated pairing of the active token
// universe, priced through the aggregator. Tokens that cannot be priced are
// skipped, not fatal.
func (s *Selector) generateCandidates(ctx context.Context) ([]TokenPair, error) {
	tokens, err := s.Repo.ListActiveTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("pair: list tokens: %w", err)
	}

	now := time.Now().UTC()
	snapshots := make([]TokenSnapshot, 0, len(tokens))
	for _, token := range tokens {
		snap := TokenSnapshot{
			ID:        token.ID,
			Symbol:    token.Symbol,
			Name:      token.Name,
			MarketCap: token.MarketCap,
		}
		if token.Blacklisted || s.blacklisted(snap) {
			continue
		}
		if s.Prices != nil {
			price, err := s.Prices.CurrentPrice(ctx, token.ID, token.Symbol, true)
			if err != nil {
				if s.Logger != nil {
					s.Logger.Warn("skipping unpriceable token",
						zap.String("token", token.ID),
						zap.String("symbol", token.Symbol),
						zap.Error(err))
				}
				continue
			}
			snap.Price = decimal.NewFromFloat(price.Value)
		}
		snapshots = append(snapshots, snap)
	}

	var candidates []TokenPair
	for i := 0; i < len(snapshots); i++ {
		for j := i + 1; j < len(snapshots); j++ {
			a, b := snapshots[i], snapshots[j]
			if res := s.ValidateCompetitionTokens(a, b); !res.Valid {
				continue
			}
			candidates = append(candidates, TokenPair{
				TokenA:             a,
				TokenB:             b,
				CompatibilityScore: compatibilityScore(a, b),
				GeneratedAt:        now,
			})
		}
	}
	return candidates, nil
}

// compatibilityScore ranks a pairing in [0,1] by market-cap similarity: 1.0
// for identical caps, falling linearly with the spread.
func compatibilityScore(a, b TokenSnapshot) float64 {
	if a.MarketCap.IsZero() || b.MarketCap.IsZero() {
		return 0
	}
	lo, hi := a.MarketCap, b.MarketCap
	if lo.GreaterThan(hi) {
		lo, hi = hi, lo
	}
	score, _ := lo.Div(hi).Float64()
	return score
}

// ValidateCompetitionTokens applies the structural, blacklist and
// market-cap-parity rules every pair must pass before a competition is
// persisted. The parity bound is inclusive: a ratio of exactly MaxCapRatio
// is accepted.
func (s *Selector) ValidateCompetitionTokens(a, b TokenSnapshot) ValidationResult {
	if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.Symbol) == "" {
		return ValidationResult{Reason: "token A is missing required fields"}
	}
	if strings.TrimSpace(b.ID) == "" || strings.TrimSpace(b.Symbol) == "" {
		return ValidationResult{Reason: "token B is missing required fields"}
	}
	if a.ID == b.ID {
		return ValidationResult{Reason: "cannot pair a token with itself"}
	}
	if s.blacklisted(a) {
		return ValidationResult{Reason: fmt.Sprintf("token %s is blacklisted", a.Symbol)}
	}
	if s.blacklisted(b) {
		return ValidationResult{Reason: fmt.Sprintf("token %s is blacklisted", b.Symbol)}
	}
	if a.MarketCap.IsZero() || a.MarketCap.IsNegative() {
		return ValidationResult{Reason: fmt.Sprintf("token %s has no market capitalization", a.Symbol)}
	}
	if b.MarketCap.IsZero() || b.MarketCap.IsNegative() {
		return ValidationResult{Reason: fmt.Sprintf("token %s has no market capitalization", b.Symbol)}
	}

	lo, hi := a.MarketCap, b.MarketCap
	if lo.GreaterThan(hi) {
		lo, hi = hi, lo
	}
	ratio := hi.Div(lo)
	limit := s.maxCapRatio()
	if ratio.GreaterThan(limit) {
		spread := ratio.Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))
		tolerance := limit.Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))
		return ValidationResult{Reason: fmt.Sprintf(
			"market caps differ by %s%%, above the %s%% parity tolerance",
			spread.Round(1), tolerance.Round(0))}
	}

	return ValidationResult{Valid: true}
}
