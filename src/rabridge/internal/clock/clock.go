package clock

import (
	"time"
)

// Clock is an interface that abstracts the functionality for measuring time,
// so deadline and cache-freshness behavior stays testable.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After waits for the duration to elapse and then sends the current time on the returned channel.
	After(d time.Duration) <-chan time.Time
	// Sleep pauses the current goroutine for at least the duration d. A negative or zero duration causes Sleep to return immediately.
	Sleep(d time.Duration)
}

type clock struct{}

// New creates a new instance of Clock.
func New() Clock {
	return clock{}
}

func (clock) Now() time.Time {
	return time.Now()
}

func (clock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (clock) Sleep(d time.Duration) {
	time.Sleep(d)
}
