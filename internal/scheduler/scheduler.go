package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tokenduel/internal/config"
	"tokenduel/internal/escrow"
	"tokenduel/internal/models"
	"tokenduel/internal/notify"
	"tokenduel/internal/pair"
	"tokenduel/internal/prices"
	"tokenduel/internal/repository"
	"tokenduel/internal/twap"
)

// Deps are the collaborators the scheduler receives at construction. There
// is no ambient lookup: everything the scheduler touches arrives here.
type Deps struct {
	Repo     repository.Repository
	Prices   *prices.Aggregator
	TWAP     *twap.Engine
	Pairs    *pair.Selector
	Escrow   escrow.Settler
	Notifier notify.Notifier
	Logger   *zap.Logger
}

// Scheduler owns the phase state machine for every open competition. It is
// the single writer of competition phases and of the automation config; all
// transitions for one competition are serialized behind its mutex, while
// price fetches and persistence calls are the only blocking operations.
type Scheduler struct {
	repo     repository.Repository
	prices   *prices.Aggregator
	twap     *twap.Engine
	pairs    *pair.Selector
	escrow   escrow.Settler
	notifier notify.Notifier
	logger   *zap.Logger

	cfg config.SchedulerConfig

	// now is swapped in tests to drive deadlines deterministically.
	now func() time.Time

	mu     sync.Mutex
	open   map[string]*models.Competition
	timers *timerSet
	paused bool

	autoMu sync.Mutex
	auto   automationState
}

func New(deps Deps, cfg config.SchedulerConfig, autoCfg config.AutomationConfig) *Scheduler {
	settler := deps.Escrow
	if settler == nil {
		settler = escrow.NoopSettler{}
	}
	threshold := autoCfg.FailureThreshold
	if threshold <= 0 {
		threshold = 5
	}
	return &Scheduler{
		repo:     deps.Repo,
		prices:   deps.Prices,
		twap:     deps.TWAP,
		pairs:    deps.Pairs,
		escrow:   settler,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		open:     map[string]*models.Competition{},
		timers:   newTimerSet(),
		auto: automationState{
			enabled:          autoCfg.Enabled,
			creationInterval: autoCfg.CreationInterval,
			maxConcurrent:    autoCfg.MaxConcurrent,
			failureThreshold: threshold,
			votingDuration:   cfg.VotingDuration,
			activeDuration:   cfg.ActiveDuration,
		},
	}
}

// Recover loads every non-terminal competition and re-derives the phase each
// should logically be in right now. A competition whose stored phase lags
// the wall clock is advanced through the missed transitions synchronously
// before timers are armed, so nothing stays stuck after a restart.
func (s *Scheduler) Recover(ctx context.Context) error {
	comps, err := s.repo.LoadOpenCompetitions(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range comps {
		comp := comps[i]
		s.open[comp.ID] = &comp

		for !comp.Phase.Terminal() {
			if comp.Phase == models.PhaseClosed {
				if err := s.resolveLocked(ctx, &comp); err != nil {
					s.logger.Warn("recovery: resolution deferred",
						zap.String("competition", comp.ID),
						zap.Error(err))
				}
				break
			}
			deadline, ok := phaseDeadline(&comp)
			if !ok || s.now().Before(deadline) {
				break
			}
			if err := s.stepLocked(ctx, &comp); err != nil {
				s.logger.Error("recovery: phase step failed",
					zap.String("competition", comp.ID),
					zap.String("phase", string(comp.Phase)),
					zap.Error(err))
				break
			}
		}

		if comp.Phase.Terminal() {
			delete(s.open, comp.ID)
			continue
		}
		if comp.Phase == models.PhaseActive || comp.Phase == models.PhaseClosed {
			s.prices.Track(ctx, comp.TokenAID, comp.TokenASymbol)
			s.prices.Track(ctx, comp.TokenBID, comp.TokenBSymbol)
		}
		s.scheduleNextLocked(&comp)
	}

	s.logger.Info("scheduler recovered", zap.Int("open_competitions", len(s.open)))
	return nil
}

// Shutdown cancels every outstanding timer. Phase state stays in the store;
// the next Recover picks it up.
func (s *Scheduler) Shutdown() {
	s.timers.CancelAll()
}

// phaseDeadline returns the wall-clock instant at which the competition
// leaves its current phase. Closed has no deadline: it leaves via
// resolution, not via the clock.
func phaseDeadline(comp *models.Competition) (time.Time, bool) {
	switch comp.Phase {
	case models.PhaseSetup:
		return comp.StartTime, true
	case models.PhaseVoting:
		return comp.VotingEndTime, true
	case models.PhaseActive:
		return comp.EndTime, true
	default:
		return time.Time{}, false
	}
}

// AdvancePhase moves the competition exactly one phase forward. Called
// before its deadline it is a no-op that re-arms the timer; called on a
// terminal competition it returns ErrAlreadyTerminal, which callers ignore.
// The clock having drifted past several deadlines still advances only one
// step per call; the immediately-due timer it re-arms handles the rest.
func (s *Scheduler) AdvancePhase(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	comp, ok := s.open[id]
	if !ok {
		return ErrUnknownCompetition
	}
	if comp.Phase.Terminal() {
		s.logger.Debug("transition on terminal competition ignored",
			zap.String("competition", id),
			zap.String("phase", string(comp.Phase)))
		return ErrAlreadyTerminal
	}

	if comp.Phase == models.PhaseClosed {
		if err := s.resolveLocked(ctx, comp); err != nil {
			return err
		}
		delete(s.open, id)
		return nil
	}

	deadline, ok := phaseDeadline(comp)
	if !ok {
		return nil
	}
	if s.now().Before(deadline) {
		// Early call: idempotent no-op, keep the timer armed.
		s.scheduleNextLocked(comp)
		return nil
	}

	if err := s.stepLocked(ctx, comp); err != nil {
		return err
	}

	if comp.Phase == models.PhaseClosed {
		// Entering Closed triggers an immediate resolution attempt. When
		// history is missing the competition stays visibly Closed and the
		// sweep tick retries.
		if err := s.resolveLocked(ctx, comp); err != nil {
			s.logger.Warn("resolution deferred",
				zap.String("competition", comp.ID),
				zap.Error(err))
			return nil
		}
		delete(s.open, id)
		return nil
	}

	s.scheduleNextLocked(comp)
	return nil
}

// stepLocked performs one forward phase transition and its side effects.
// Caller holds s.mu.
func (s *Scheduler) stepLocked(ctx context.Context, comp *models.Competition) error {
	next, ok := comp.Phase.Next()
	if !ok {
		return ErrAlreadyTerminal
	}

	if next != models.PhaseResolved {
		if err := s.repo.UpdateCompetitionPhase(ctx, comp.ID, next); err != nil {
			return err
		}
	}
	prev := comp.Phase
	comp.Phase = next

	s.logger.Info("competition phase advanced",
		zap.String("competition", comp.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(next)))

	if next == models.PhaseActive {
		// The active window is what settles the competition: begin recording
		// price history for the pair at its boundary.
		s.prices.Track(ctx, comp.TokenAID, comp.TokenASymbol)
		s.prices.Track(ctx, comp.TokenBID, comp.TokenBSymbol)
	}
	return nil
}

// scheduleNextLocked arms the timer for the competition's current deadline.
// Caller holds s.mu.
func (s *Scheduler) scheduleNextLocked(comp *models.Competition) {
	deadline, ok := phaseDeadline(comp)
	if !ok {
		return
	}
	s.timers.Schedule(comp.ID, deadline.Sub(s.now()), s.onTimer)
}

func (s *Scheduler) onTimer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.AdvancePhase(ctx, id); err != nil {
		switch err {
		case ErrAlreadyTerminal, ErrUnknownCompetition:
			// A timer that lost the race against cancellation.
		default:
			s.logger.Error("timer-driven phase advance failed",
				zap.String("competition", id),
				zap.Error(err))
		}
	}
}

// Cancel force-transitions a competition into Cancelled from any
// non-terminal phase, cancelling its pending timer. Safe against a timer
// firing concurrently: the fired timer sees the terminal phase and ignores
// it.
func (s *Scheduler) Cancel(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	comp, ok := s.open[id]
	if !ok {
		stored, err := s.repo.GetCompetitionByID(ctx, id)
		if err != nil {
			return err
		}
		if stored == nil {
			return ErrUnknownCompetition
		}
		if stored.Phase.Terminal() {
			return ErrAlreadyTerminal
		}
		comp = stored
	}
	if comp.Phase.Terminal() {
		return ErrAlreadyTerminal
	}

	s.timers.Cancel(id)
	if err := s.repo.MarkCompetitionCancelled(ctx, id, reason, s.now()); err != nil {
		return err
	}
	comp.Phase = models.PhaseCancelled
	s.prices.Untrack(comp.TokenAID)
	s.prices.Untrack(comp.TokenBID)
	delete(s.open, id)

	s.logger.Info("competition cancelled",
		zap.String("competition", id),
		zap.String("reason", reason))

	if err := s.escrow.Refund(ctx, id); err != nil {
		// Outcome is already recorded; settlement retries independently.
		s.logger.Warn("escrow refund failed, will retry",
			zap.String("competition", id),
			zap.Error(err))
	} else if err := s.repo.MarkCompetitionSettled(ctx, id, s.now()); err != nil {
		s.logger.Warn("mark settled failed", zap.String("competition", id), zap.Error(err))
	}
	return nil
}

// SetPaused toggles the emergency pause. Paused blocks new creations, both
// manual and automated; competitions already live keep advancing.
func (s *Scheduler) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
	s.logger.Info("platform pause changed", zap.Bool("paused", paused))
}

func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// OpenCompetitions returns a snapshot of the in-memory open set.
func (s *Scheduler) OpenCompetitions() []models.Competition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Competition, 0, len(s.open))
	for _, comp := range s.open {
		out = append(out, *comp)
	}
	return out
}

// Tick is the periodic sweep: it retries resolution of competitions parked
// in Closed, runs the automated-creation step, and retries unsettled escrow
// calls. Every failure inside the tick is caught and counted; the loop
// itself never dies.
func (s *Scheduler) Tick(ctx context.Context) {
	s.retryClosed(ctx)
	s.automationTick(ctx)
	s.retrySettlement(ctx)
}

func (s *Scheduler) retryClosed(ctx context.Context) {
	s.mu.Lock()
	var closed []string
	for id, comp := range s.open {
		if comp.Phase == models.PhaseClosed {
			closed = append(closed, id)
		}
	}
	s.mu.Unlock()

	for _, id := range closed {
		if err := s.AdvancePhase(ctx, id); err != nil && err != ErrAlreadyTerminal {
			s.logger.Debug("closed competition still unresolvable",
				zap.String("competition", id),
				zap.Error(err))
		}
	}
}
