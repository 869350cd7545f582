package scheduler

import (
	"sync"
	"time"
)

// timerSet owns the per-competition deadline timers. Each competition has at
// most one outstanding timer: scheduling always cancels any existing timer
// for the same id first, so a rescheduled deadline can never race its
// predecessor.
type timerSet struct {
	mu     sync.Mutex
	active map[string]*time.Timer
}

func newTimerSet() *timerSet {
	return &timerSet{active: map[string]*time.Timer{}}
}

// Schedule arms a timer that calls fn(id) once d elapses. A non-positive d
// fires immediately.
func (ts *timerSet) Schedule(id string, d time.Duration, fn func(id string)) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if existing, ok := ts.active[id]; ok {
		existing.Stop()
	}
	ts.active[id] = time.AfterFunc(d, func() {
		ts.mu.Lock()
		delete(ts.active, id)
		ts.mu.Unlock()
		fn(id)
	})
}

func (ts *timerSet) Cancel(id string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if existing, ok := ts.active[id]; ok {
		existing.Stop()
		delete(ts.active, id)
	}
}

func (ts *timerSet) CancelAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for id, timer := range ts.active {
		timer.Stop()
		delete(ts.active, id)
	}
}
