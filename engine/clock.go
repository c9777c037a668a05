package engine

import "time"

// Clock supplies the current time to the manager. Deadlines are evaluated
// against it, so tests substitute a controllable implementation.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now()
}
