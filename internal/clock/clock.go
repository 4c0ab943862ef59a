package clock

import "time"

// Clock abstracts the time source so countdowns and health timestamps are testable.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now() }

// Fixed is a Clock frozen at T until moved with Advance.
type Fixed struct {
	T time.Time
}

// Now returns the frozen time.
func (f *Fixed) Now() time.Time { return f.T }

// Advance moves the frozen time forward by d.
func (f *Fixed) Advance(d time.Duration) { f.T = f.T.Add(d) }
