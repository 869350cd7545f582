package scheduler

import "errors"

var (
	// ErrAlreadyTerminal marks an attempted transition on a competition
	// already in a terminal phase. Callers treat it as a no-op; it exists so
	// a timer firing concurrently with a cancellation stays silent.
	ErrAlreadyTerminal = errors.New("scheduler: competition already terminal")

	// ErrUnknownCompetition means the id is not tracked in memory.
	ErrUnknownCompetition = errors.New("scheduler: unknown competition")

	// ErrPaused is returned for creation attempts while the platform is
	// emergency-paused. Live competitions continue to advance.
	ErrPaused = errors.New("scheduler: platform is paused")

	// ErrNoCandidatePair means the selector found an empty candidate
	// universe. Normal for automated creation; surfaced verbatim to manual
	// callers.
	ErrNoCandidatePair = errors.New("scheduler: no candidate token pair available")
)
