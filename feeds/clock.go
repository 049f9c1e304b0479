package feeds

import "time"

// Clock abstracts time so replay scheduling is testable without timers.
// Real-time playback is just a driver calling Step on an interval.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewRealClock returns a Clock backed by the wall clock.
func NewRealClock() Clock { return realClock{} }
