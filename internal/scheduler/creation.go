package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tokenduel/internal/models"
	"tokenduel/internal/pair"
)

// CreateRequest configures one competition. Zero-valued fields fall back to
// the scheduler defaults; an empty token pair means "let the selector
// choose".
type CreateRequest struct {
	TokenAID string
	TokenBID string

	StartTime      *time.Time
	VotingDuration time.Duration
	ActiveDuration time.Duration

	StakeAmount *float64
	FeeBps      *int

	isAutomated bool
}

// CreateManualCompetition is the operator entry point. It is available
// regardless of automation state and fails with the precise cause, never a
// partial write: nothing is persisted until the pair has validated and the
// timing computed.
func (s *Scheduler) CreateManualCompetition(ctx context.Context, req CreateRequest) (*models.Competition, error) {
	req.isAutomated = false
	return s.createCompetition(ctx, req)
}

func (s *Scheduler) createCompetition(ctx context.Context, req CreateRequest) (*models.Competition, error) {
	if s.Paused() {
		return nil, ErrPaused
	}

	selected, err := s.resolvePair(ctx, req)
	if err != nil {
		return nil, err
	}
	if selected == nil {
		return nil, ErrNoCandidatePair
	}

	now := s.now()
	start := now.Add(s.setupLead())
	if req.StartTime != nil {
		start = req.StartTime.UTC()
	}
	if !start.After(now) {
		return nil, fmt.Errorf("scheduler: start time %s is not in the future", start)
	}

	votingDur := req.VotingDuration
	if votingDur <= 0 {
		votingDur = s.cfg.VotingDuration
	}
	activeDur := req.ActiveDuration
	if activeDur <= 0 {
		activeDur = s.cfg.ActiveDuration
	}
	if votingDur <= 0 || activeDur <= 0 {
		return nil, fmt.Errorf("scheduler: voting and active durations must be positive")
	}

	stake := decimal.NewFromFloat(s.cfg.StakeAmount)
	if req.StakeAmount != nil {
		stake = decimal.NewFromFloat(*req.StakeAmount)
	}
	if !stake.IsPositive() {
		return nil, fmt.Errorf("scheduler: stake amount must be positive")
	}
	feeBps := s.cfg.FeeBps
	if req.FeeBps != nil {
		feeBps = *req.FeeBps
	}
	if feeBps < 0 || feeBps > 10000 {
		return nil, fmt.Errorf("scheduler: fee %d bps out of range", feeBps)
	}

	comp := &models.Competition{
		ID:            uuid.NewString(),
		TokenAID:      selected.TokenA.ID,
		TokenBID:      selected.TokenB.ID,
		TokenASymbol:  selected.TokenA.Symbol,
		TokenBSymbol:  selected.TokenB.Symbol,
		Phase:         models.PhaseSetup,
		CreatedAt:     now,
		StartTime:     start,
		VotingEndTime: start.Add(votingDur),
		EndTime:       start.Add(votingDur).Add(activeDur),
		StakeAmount:   stake,
		FeeBps:        feeBps,
		TotalPool:     decimal.Zero,
		TokenAPool:    decimal.Zero,
		TokenBPool:    decimal.Zero,
		IsAutomated:   req.isAutomated,
	}

	if err := s.repo.InsertCompetition(ctx, comp); err != nil {
		return nil, fmt.Errorf("scheduler: persist competition: %w", err)
	}

	s.mu.Lock()
	s.open[comp.ID] = comp
	s.scheduleNextLocked(comp)
	s.mu.Unlock()

	s.logger.Info("competition created",
		zap.String("competition", comp.ID),
		zap.String("token_a", comp.TokenASymbol),
		zap.String("token_b", comp.TokenBSymbol),
		zap.Time("start", comp.StartTime),
		zap.Time("end", comp.EndTime),
		zap.Bool("automated", comp.IsAutomated))
	return comp, nil
}

// resolvePair returns the pair to compete: the explicitly requested tokens,
// validated, or the selector's best candidate. A nil pair with nil error is
// the empty-universe case.
func (s *Scheduler) resolvePair(ctx context.Context, req CreateRequest) (*pair.TokenPair, error) {
	if req.TokenAID == "" && req.TokenBID == "" {
		return s.pairs.SelectOptimalPair(ctx)
	}
	if req.TokenAID == "" || req.TokenBID == "" {
		return nil, fmt.Errorf("scheduler: both tokens required for an explicit pair")
	}

	tokens, err := s.repo.GetTokensByIDs(ctx, []string{req.TokenAID, req.TokenBID})
	if err != nil {
		return nil, err
	}
	byID := map[string]models.Token{}
	for _, t := range tokens {
		byID[t.ID] = t
	}
	tokenA, okA := byID[req.TokenAID]
	tokenB, okB := byID[req.TokenBID]
	if !okA || !okB {
		return nil, fmt.Errorf("scheduler: unknown token in pair %s/%s", req.TokenAID, req.TokenBID)
	}

	snapA, err := s.snapshot(ctx, tokenA)
	if err != nil {
		return nil, err
	}
	snapB, err := s.snapshot(ctx, tokenB)
	if err != nil {
		return nil, err
	}

	if res := s.pairs.ValidateCompetitionTokens(snapA, snapB); !res.Valid {
		return nil, fmt.Errorf("scheduler: pair rejected: %s", res.Reason)
	}
	return &pair.TokenPair{
		TokenA:      snapA,
		TokenB:      snapB,
		GeneratedAt: s.now(),
	}, nil
}

func (s *Scheduler) snapshot(ctx context.Context, token models.Token) (pair.TokenSnapshot, error) {
	snap := pair.TokenSnapshot{
		ID:        token.ID,
		Symbol:    token.Symbol,
		Name:      token.Name,
		MarketCap: token.MarketCap,
	}
	price, err := s.prices.CurrentPrice(ctx, token.ID, token.Symbol, true)
	if err != nil {
		return pair.TokenSnapshot{}, fmt.Errorf("scheduler: price %s: %w", token.Symbol, err)
	}
	snap.Price = decimal.NewFromFloat(price.Value)
	return snap, nil
}

func (s *Scheduler) setupLead() time.Duration {
	if s.cfg.SetupLead > 0 {
		return s.cfg.SetupLead
	}
	return 2 * time.Minute
}
