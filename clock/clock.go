// Package clock abstracts the monotonic time source used by the meters.
package clock

import (
	"sync"
	"time"
)

// Clock returns monotonic instants and measures the seconds between them.
type Clock interface {
	Now() time.Time
	Seconds(start, end time.Time) float64
}

// Real is the Clock backed by time.Now. The returned instants carry a
// monotonic reading, so wall clock jumps do not affect Seconds.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now()
}

// Seconds returns end - start in seconds.
func (Real) Seconds(start, end time.Time) float64 {
	return end.Sub(start).Seconds()
}

// Fake is a deterministic Clock for tests. Every call to Now advances the
// clock by Step, starting from Start.
type Fake struct {
	Start time.Time
	Step  time.Duration

	mu    sync.Mutex
	calls int
}

// Now returns Start + n*Step where n is the number of previous calls.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.Start.Add(time.Duration(f.calls) * f.Step)
	f.calls++
	return t
}

// Seconds returns end - start in seconds.
func (f *Fake) Seconds(start, end time.Time) float64 {
	return end.Sub(start).Seconds()
}

// Calls returns how many times Now has been called.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
