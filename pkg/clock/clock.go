package clock

import "time"

// Clock abstracts wall time and single-shot timers so timer-driven control
// flow (proactive ticket refresh, reconnect backoff) can run under simulated
// time in tests.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules fn to run once after d. The returned Timer can be
	// stopped before it fires.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable single-shot timer handle.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented the
	// timer from firing.
	Stop() bool
}

// New returns a Clock backed by real wall time.
func New() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return systemTimer{t: time.AfterFunc(d, fn)}
}

type systemTimer struct {
	t *time.Timer
}

func (st systemTimer) Stop() bool { return st.t.Stop() }
