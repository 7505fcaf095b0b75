package healthcheck_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashbridge/swapd/healthcheck"
)

// TestRetryCapTriggersUnavailable drives a permanently failing check and
// waits for OnUnavailable to fire after the configured cap, then lets the
// check recover and waits for OnRecovered.
func TestRetryCapTriggersUnavailable(t *testing.T) {
	var healthy atomic.Bool

	unavailable := make(chan struct{}, 1)
	recovered := make(chan struct{}, 1)

	m := healthcheck.New(healthcheck.Config{
		Name: "test-rpc",
		Check: func(_ context.Context) error {
			if healthy.Load() {
				return nil
			}
			return errors.New("connection refused")
		},
		Interval:   time.Millisecond,
		Timeout:    time.Second,
		Backoff:    time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
		RetryCap:   3,
		OnUnavailable: func(error) {
			select {
			case unavailable <- struct{}{}:
			default:
			}
		},
		OnRecovered: func() {
			select {
			case recovered <- struct{}{}:
			default:
			}
		},
	})

	m.Start()
	defer m.Stop()

	select {
	case <-unavailable:
	case <-time.After(2 * time.Second):
		t.Fatal("OnUnavailable never fired")
	}

	healthy.Store(true)
	select {
	case <-recovered:
	case <-time.After(2 * time.Second):
		t.Fatal("OnRecovered never fired")
	}
}

// TestHealthySteadyState confirms a passing check never reports either
// callback.
func TestHealthySteadyState(t *testing.T) {
	var calls atomic.Int32

	m := healthcheck.New(healthcheck.Config{
		Name:       "steady",
		Check:      func(_ context.Context) error { return nil },
		Interval:   time.Millisecond,
		Timeout:    time.Second,
		Backoff:    time.Millisecond,
		MaxBackoff: time.Millisecond,
		RetryCap:   1,
		OnUnavailable: func(error) {
			calls.Add(1)
		},
	})

	m.Start()
	time.Sleep(20 * time.Millisecond)
	m.Stop()

	if got := calls.Load(); got != 0 {
		t.Fatalf("OnUnavailable fired %d times for a healthy check", got)
	}
}
