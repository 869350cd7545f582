package scheduler

import (
	"context"

	"go.uber.org/zap"

	"tokenduel/internal/models"
	"tokenduel/internal/repository"
)

// resolveLocked settles a Closed competition: both tokens' TWAP windows are
// computed, the larger percent change wins, and the outcome is persisted in
// one update. Missing history defers; the competition stays visibly Closed
// until the sweep retries or an operator cancels. Caller holds s.mu.
func (s *Scheduler) resolveLocked(ctx context.Context, comp *models.Competition) error {
	winA, err := s.twap.CompetitionWindows(ctx, comp.TokenAID, comp.VotingEndTime, comp.EndTime)
	if err != nil {
		return err
	}
	winB, err := s.twap.CompetitionWindows(ctx, comp.TokenBID, comp.VotingEndTime, comp.EndTime)
	if err != nil {
		return err
	}

	outcome := repository.CompetitionOutcome{
		TokenAStartTWAP: winA.StartTWAP,
		TokenAEndTWAP:   winA.EndTWAP,
		TokenBStartTWAP: winB.StartTWAP,
		TokenBEndTWAP:   winB.EndTWAP,
		TokenAChangePct: winA.PercentChange,
		TokenBChangePct: winB.PercentChange,
		ResolvedAt:      s.now(),
	}

	// An exact tie declares no winner and refunds both sides rather than
	// letting comparison order pick one.
	switch winA.PercentChange.Cmp(winB.PercentChange) {
	case 1:
		winner := comp.TokenAID
		outcome.WinnerTokenID = &winner
	case -1:
		winner := comp.TokenBID
		outcome.WinnerTokenID = &winner
	default:
		outcome.Refundable = true
	}

	if err := s.repo.SaveCompetitionOutcome(ctx, comp.ID, outcome); err != nil {
		return err
	}
	comp.Phase = models.PhaseResolved
	s.prices.Untrack(comp.TokenAID)
	s.prices.Untrack(comp.TokenBID)

	winnerSymbol := "none (tie, refund)"
	if outcome.WinnerTokenID != nil {
		winnerSymbol = comp.TokenASymbol
		if *outcome.WinnerTokenID == comp.TokenBID {
			winnerSymbol = comp.TokenBSymbol
		}
	}
	s.logger.Info("competition resolved",
		zap.String("competition", comp.ID),
		zap.String("winner", winnerSymbol),
		zap.String("token_a_change_pct", winA.PercentChange.StringFixed(4)),
		zap.String("token_b_change_pct", winB.PercentChange.StringFixed(4)))

	s.settle(ctx, comp.ID, outcome.Refundable)
	return nil
}

// settle invokes the escrow hook. A failure never unwinds the recorded
// outcome; the competition stays unsettled and the sweep retries it.
func (s *Scheduler) settle(ctx context.Context, id string, refund bool) {
	var err error
	if refund {
		err = s.escrow.Refund(ctx, id)
	} else {
		err = s.escrow.Distribute(ctx, id)
	}
	if err != nil {
		s.logger.Warn("escrow settlement failed, will retry",
			zap.String("competition", id),
			zap.Bool("refund", refund),
			zap.Error(err))
		return
	}
	if err := s.repo.MarkCompetitionSettled(ctx, id, s.now()); err != nil {
		s.logger.Warn("mark settled failed", zap.String("competition", id), zap.Error(err))
	}
}

func (s *Scheduler) retrySettlement(ctx context.Context) {
	comps, err := s.repo.ListUnsettled(ctx, 20)
	if err != nil {
		s.logger.Warn("list unsettled competitions failed", zap.Error(err))
		return
	}
	for _, comp := range comps {
		refund := comp.Refundable || comp.Phase == models.PhaseCancelled
		s.settle(ctx, comp.ID, refund)
	}
}
