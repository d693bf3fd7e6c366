package chat

import "time"

// Clock isolates wall-clock reads and timer arming so expiry and
// reconciliation logic can be tested without real delays.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock is the real wall clock used outside of tests.
var SystemClock Clock = systemClock{}
