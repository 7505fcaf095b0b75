// Package healthcheck implements generic periodic health checks with
// backoff and a retry cap. The daemon (cmd/swapd) runs one Monitor per
// ledger node connection and only logs when a node becomes unavailable or
// recovers; no LedgerUnavailable event is emitted and swaps are not paused.
package healthcheck

import (
	"context"
	"fmt"
	"time"
)

// CheckFunc is a function which performs a single health check against some
// external dependency, returning an error if the dependency is currently
// unreachable or misbehaving.
type CheckFunc func(ctx context.Context) error

// Config describes how a single health check should be scheduled and how
// its failures should be interpreted.
type Config struct {
	// Name identifies the check in logs, e.g. "bitcoin-rpc" or
	// "ethereum-rpc".
	Name string

	// Check is called once per Interval.
	Check CheckFunc

	// Interval is the time between two checks.
	Interval time.Duration

	// Timeout bounds a single invocation of Check.
	Timeout time.Duration

	// Backoff is the initial delay applied after a failed check, doubled
	// on each consecutive failure up to MaxBackoff.
	Backoff time.Duration

	// MaxBackoff caps the exponential backoff delay.
	MaxBackoff time.Duration

	// RetryCap is the number of consecutive failures the monitor
	// tolerates before invoking OnUnavailable. A value of zero disables
	// the cap check (OnUnavailable is never invoked).
	RetryCap int

	// OnUnavailable is invoked once RetryCap consecutive failures have
	// been observed. It is the monitor's only side effect; the daemon
	// wires it to a log line.
	OnUnavailable func(err error)

	// OnRecovered is invoked when a check succeeds after at least one
	// prior failure.
	OnRecovered func()
}

// Monitor runs a single Config's Check on a loop until stopped.
type Monitor struct {
	cfg Config

	quit chan struct{}
	done chan struct{}
}

// New constructs a Monitor for the given Config. The caller must call
// Start to begin checking.
func New(cfg Config) *Monitor {
	return &Monitor{
		cfg:  cfg,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the monitor's check loop in its own goroutine.
func (m *Monitor) Start() {
	go m.run()
}

// Stop halts the monitor's check loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.quit)
	<-m.done
}

func (m *Monitor) run() {
	defer close(m.done)

	consecutiveFailures := 0
	backoff := m.cfg.Backoff

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-m.quit:
			return
		case <-timer.C:
		}

		err := m.runOnce()
		if err == nil {
			if consecutiveFailures > 0 && m.cfg.OnRecovered != nil {
				m.cfg.OnRecovered()
			}
			consecutiveFailures = 0
			backoff = m.cfg.Backoff
			timer.Reset(m.cfg.Interval)
			continue
		}

		consecutiveFailures++
		if m.cfg.RetryCap > 0 && consecutiveFailures >= m.cfg.RetryCap {
			if m.cfg.OnUnavailable != nil {
				m.cfg.OnUnavailable(fmt.Errorf(
					"%s: %d consecutive failures, last: %w",
					m.cfg.Name, consecutiveFailures, err,
				))
			}
		}

		timer.Reset(backoff)
		backoff *= 2
		if backoff > m.cfg.MaxBackoff {
			backoff = m.cfg.MaxBackoff
		}
	}
}

func (m *Monitor) runOnce() error {
	ctx := context.Background()
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}
	return m.cfg.Check(ctx)
}
