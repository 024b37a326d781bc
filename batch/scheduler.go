package batch

import "time"

// Scheduler abstracts timer creation so the debounce state machine can be
// driven deterministically in tests, without wall-clock sleeps.
type Scheduler interface {
	// AfterFunc arranges for fn to run in its own goroutine after d.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is the handle for a scheduled callback.
type Timer interface {
	// Reset reschedules the callback for d from now.
	Reset(d time.Duration) bool
	// Stop cancels the callback if it has not fired yet.
	Stop() bool
}

// System schedules on real time.Timer instances.
var System Scheduler = systemScheduler{}

type systemScheduler struct{}

func (systemScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return systemTimer{t: time.AfterFunc(d, fn)}
}

type systemTimer struct{ t *time.Timer }

func (s systemTimer) Reset(d time.Duration) bool { return s.t.Reset(d) }
func (s systemTimer) Stop() bool                 { return s.t.Stop() }
