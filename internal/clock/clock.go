// Package clock abstracts wall-clock time so that time-driven circulation
// rules (holds, due dates, sweeps) can be driven deterministically in tests.
package clock

import "time"

// Clock tells the time and creates tickers.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of time.Ticker the schedulers rely on.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the production clock backed by package time.
type Real struct{}

// New returns the real clock.
func New() Clock { return Real{} }

// Now returns the current UTC time.
func (Real) Now() time.Time { return time.Now().UTC() }

// NewTicker wraps time.NewTicker.
func (Real) NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
