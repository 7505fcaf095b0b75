package ledger

import (
	"fmt"
	"time"
)

// Timestamp is an absolute Unix time, seconds since the epoch, comparable
// directly as an integer. Every expiry in this repo (alpha_expiry,
// beta_expiry) is a Timestamp, and per spec §5 is consulted only through
// chain-watcher block-time events, never the local wall clock.
type Timestamp uint32

// Now returns the current time truncated to a Timestamp. Used only at
// swap-creation time to compute default expiries; the running state
// machine never calls this directly (spec §5).
func Now() Timestamp {
	return Timestamp(time.Now().Unix())
}

// Add returns the timestamp offset by the given duration.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return Timestamp(int64(t) + int64(d.Seconds()))
}

// Before reports whether t is strictly earlier than other.
func (t Timestamp) Before(other Timestamp) bool {
	return t < other
}

// Sub returns the duration between two timestamps, t - other.
func (t Timestamp) Sub(other Timestamp) time.Duration {
	return time.Duration(int64(t)-int64(other)) * time.Second
}

// Time converts the Timestamp to a time.Time in UTC.
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t), 0).UTC()
}

// String renders the timestamp as a decimal Unix time, matching spec §4.8
// ("all timestamps as unsigned 32-bit seconds").
func (t Timestamp) String() string {
	return fmt.Sprintf("%d", uint32(t))
}

// ParseTimestamp parses a decimal Unix time string produced by String.
func ParseTimestamp(s string) (Timestamp, error) {
	var v uint32
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, fmt.Errorf("ledger: invalid timestamp %q: %w", s, err)
	}
	return Timestamp(v), nil
}

// DefaultSafetyMargin is the minimum required gap between alpha_expiry and
// beta_expiry (spec §3 invariant, §4 implementation default).
const DefaultSafetyMargin = 12 * time.Hour
