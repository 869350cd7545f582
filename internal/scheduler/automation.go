package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// automationState is the process-wide automated-creation config. It starts
// disabled and changes only through the control surface below, with one
// exception: the circuit breaker disables it after repeated failures.
type automationState struct {
	enabled          bool
	creationInterval time.Duration
	maxConcurrent    int
	votingDuration   time.Duration
	activeDuration   time.Duration
	stakeAmount      *float64
	feeBps           *int

	consecutiveFailures int
	failureThreshold    int
	lastCreatedAt       *time.Time
	lastError           string
}

// AutomationStatus is the read model of the automation config.
type AutomationStatus struct {
	Enabled             bool           `json:"enabled"`
	CreationInterval    time.Duration  `json:"creation_interval"`
	MaxConcurrent       int            `json:"max_concurrent"`
	VotingDuration      time.Duration  `json:"voting_duration"`
	ActiveDuration      time.Duration  `json:"active_duration"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	FailureThreshold    int            `json:"failure_threshold"`
	LastCreatedAt       *time.Time     `json:"last_created_at,omitempty"`
	LastError           string         `json:"last_error,omitempty"`
}

// AutomationParams is a partial update; nil fields keep their current value.
type AutomationParams struct {
	CreationInterval *time.Duration
	MaxConcurrent    *int
	VotingDuration   *time.Duration
	ActiveDuration   *time.Duration
	StakeAmount      *float64
	FeeBps           *int
}

// EnableAutomation turns the creation loop on, applying any parameter
// overrides and clearing the failure counter.
func (s *Scheduler) EnableAutomation(params AutomationParams) AutomationStatus {
	s.autoMu.Lock()
	s.applyParamsLocked(params)
	s.auto.enabled = true
	s.auto.consecutiveFailures = 0
	s.auto.lastError = ""
	s.autoMu.Unlock()

	s.logger.Info("automation enabled")
	return s.AutomationStatus()
}

// DisableAutomation turns the loop off. An in-flight creation attempt is
// allowed to finish; the next tick observes the flag.
func (s *Scheduler) DisableAutomation() AutomationStatus {
	s.autoMu.Lock()
	s.auto.enabled = false
	s.autoMu.Unlock()

	s.logger.Info("automation disabled")
	return s.AutomationStatus()
}

// UpdateAutomationParameters applies a partial parameter update without
// touching the enabled flag.
func (s *Scheduler) UpdateAutomationParameters(params AutomationParams) AutomationStatus {
	s.autoMu.Lock()
	s.applyParamsLocked(params)
	s.autoMu.Unlock()
	return s.AutomationStatus()
}

func (s *Scheduler) applyParamsLocked(params AutomationParams) {
	if params.CreationInterval != nil && *params.CreationInterval > 0 {
		s.auto.creationInterval = *params.CreationInterval
	}
	if params.MaxConcurrent != nil && *params.MaxConcurrent > 0 {
		s.auto.maxConcurrent = *params.MaxConcurrent
	}
	if params.VotingDuration != nil && *params.VotingDuration > 0 {
		s.auto.votingDuration = *params.VotingDuration
	}
	if params.ActiveDuration != nil && *params.ActiveDuration > 0 {
		s.auto.activeDuration = *params.ActiveDuration
	}
	if params.StakeAmount != nil && *params.StakeAmount > 0 {
		v := *params.StakeAmount
		s.auto.stakeAmount = &v
	}
	if params.FeeBps != nil && *params.FeeBps >= 0 && *params.FeeBps <= 10000 {
		v := *params.FeeBps
		s.auto.feeBps = &v
	}
}

func (s *Scheduler) AutomationStatus() AutomationStatus {
	s.autoMu.Lock()
	defer s.autoMu.Unlock()
	return AutomationStatus{
		Enabled:             s.auto.enabled,
		CreationInterval:    s.auto.creationInterval,
		MaxConcurrent:       s.auto.maxConcurrent,
		VotingDuration:      s.auto.votingDuration,
		ActiveDuration:      s.auto.activeDuration,
		ConsecutiveFailures: s.auto.consecutiveFailures,
		FailureThreshold:    s.auto.failureThreshold,
		LastCreatedAt:       s.auto.lastCreatedAt,
		LastError:           s.auto.lastError,
	}
}

// automationTick runs one step of the automated-creation loop. Failures are
// caught and counted, never propagated: reaching the failure threshold trips
// the circuit breaker, which disables automation and raises an operator
// alert so nobody is left believing it still runs.
func (s *Scheduler) automationTick(ctx context.Context) {
	s.autoMu.Lock()
	if !s.auto.enabled {
		s.autoMu.Unlock()
		return
	}
	interval := s.auto.creationInterval
	maxConcurrent := s.auto.maxConcurrent
	lastCreated := s.auto.lastCreatedAt
	req := CreateRequest{
		VotingDuration: s.auto.votingDuration,
		ActiveDuration: s.auto.activeDuration,
		StakeAmount:    s.auto.stakeAmount,
		FeeBps:         s.auto.feeBps,
		isAutomated:    true,
	}
	s.autoMu.Unlock()

	if s.Paused() {
		return
	}
	if lastCreated != nil && interval > 0 && s.now().Sub(*lastCreated) < interval {
		return
	}

	openCount, err := s.repo.CountOpenCompetitions(ctx)
	if err != nil {
		s.recordAutomationFailure(ctx, fmt.Errorf("count open competitions: %w", err))
		return
	}
	if maxConcurrent > 0 && openCount >= int64(maxConcurrent) {
		return
	}

	comp, err := s.createCompetition(ctx, req)
	if err != nil {
		s.recordAutomationFailure(ctx, err)
		return
	}

	now := s.now()
	s.autoMu.Lock()
	s.auto.consecutiveFailures = 0
	s.auto.lastError = ""
	s.auto.lastCreatedAt = &now
	s.autoMu.Unlock()

	s.logger.Info("automated competition created",
		zap.String("competition", comp.ID),
		zap.String("token_a", comp.TokenASymbol),
		zap.String("token_b", comp.TokenBSymbol))
}

func (s *Scheduler) recordAutomationFailure(ctx context.Context, cause error) {
	s.autoMu.Lock()
	s.auto.consecutiveFailures++
	s.auto.lastError = cause.Error()
	failures := s.auto.consecutiveFailures
	threshold := s.auto.failureThreshold
	tripped := failures >= threshold && s.auto.enabled
	if tripped {
		s.auto.enabled = false
	}
	s.autoMu.Unlock()

	s.logger.Warn("automated creation failed",
		zap.Int("consecutive_failures", failures),
		zap.Error(cause))

	if !tripped {
		return
	}
	s.logger.Error("automation circuit breaker tripped",
		zap.Int("failures", failures),
		zap.Int("threshold", threshold))
	if s.notifier != nil {
		msg := fmt.Sprintf("Automated competition creation disabled after %d consecutive failures. Last error: %s", failures, cause)
		if err := s.notifier.Send(ctx, "Automation disabled", msg); err != nil {
			s.logger.Warn("operator notification failed", zap.Error(err))
		}
	}
}
