// Package ticker defines an interface for a time.Ticker that can be mocked
// out in unit tests. The chain watcher (see package chainwatch) polls each
// ledger's node at a per-ledger interval driven by one of these tickers.
package ticker

import "time"

// Ticker is an interface which is used to mock time.Ticker in unit tests.
type Ticker interface {
	// Resume starts underlying time.Ticker with default interval.
	Resume()

	// Pause pauses underlying time.Ticker.
	Pause()

	// Stop stops the underlying time.Ticker. A ticker must never be
	// re-used after Stop is called.
	Stop()

	// Ticks returns a channel which is sent upon when the ticker fires.
	Ticks() <-chan time.Time
}

// DefaultTicker is a Ticker implementation that delegates to a real
// time.Ticker.
type DefaultTicker struct {
	ticker *time.Ticker

	delay time.Duration
}

// New creates a new DefaultTicker.
func New(delay time.Duration) *DefaultTicker {
	return &DefaultTicker{
		delay: delay,
	}
}

// Resume starts the underlying time.Ticker with the default interval.
//
// NOTE: Part of the Ticker interface.
func (d *DefaultTicker) Resume() {
	if d.ticker == nil {
		d.ticker = time.NewTicker(d.delay)
	}
}

// Pause suspends the underlying time.Ticker.
//
// NOTE: Part of the Ticker interface.
func (d *DefaultTicker) Pause() {
	if d.ticker != nil {
		d.ticker.Stop()
		d.ticker = nil
	}
}

// Stop stops the underlying time.Ticker.
//
// NOTE: Part of the Ticker interface.
func (d *DefaultTicker) Stop() {
	d.Pause()
}

// Ticks returns the underlying time.Ticker's channel.
//
// NOTE: Part of the Ticker interface.
func (d *DefaultTicker) Ticks() <-chan time.Time {
	if d.ticker == nil {
		return nil
	}
	return d.ticker.C
}

// Force is a test Ticker implementation that allows the caller to
// deterministically fire ticks by sending on the Force channel directly.
type Force struct {
	Force chan time.Time
}

// NewForce creates a new Force ticker for use in tests.
func NewForce(_ time.Duration) *Force {
	return &Force{
		Force: make(chan time.Time),
	}
}

// Resume is a no-op for the Force ticker.
func (f *Force) Resume() {}

// Pause is a no-op for the Force ticker.
func (f *Force) Pause() {}

// Stop closes the Force channel.
func (f *Force) Stop() {
	close(f.Force)
}

// Ticks returns the Force channel, which the test drives directly.
func (f *Force) Ticks() <-chan time.Time {
	return f.Force
}
