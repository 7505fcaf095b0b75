package announce

import (
	"sync"
	"time"

	"github.com/hashbridge/swapd/clock"
	"github.com/hashbridge/swapd/swap"
)

// pendingExpiry is how long a buffered announcement waits for a local
// match before being discarded (spec §4.7 "he may buffer the
// announcement for up to five minutes before discarding").
const pendingExpiry = 5 * time.Minute

// pendingEntry is one side of an unmatched announcement, waiting for its
// counterpart (either a locally-submitted request, or a peer's ANNOUNCE
// frame) to show up with the same Digest.
type pendingEntry struct {
	req      swap.Request
	peerAddr string
	expires  time.Time
}

// PendingBuffer holds announcements — both locally-submitted requests
// not yet matched to a peer ANNOUNCE, and peer ANNOUNCE digests not yet
// matched to a local request — keyed by Digest, each expiring after
// pendingExpiry.
type PendingBuffer struct {
	clk clock.Clock

	mu      sync.Mutex
	entries map[Digest]pendingEntry
}

// NewPendingBuffer constructs an empty buffer using clk for expiry
// timing.
func NewPendingBuffer(clk clock.Clock) *PendingBuffer {
	return &PendingBuffer{clk: clk, entries: make(map[Digest]pendingEntry)}
}

// Put buffers req under its digest, associated with peerAddr (empty for
// a locally-submitted request awaiting its peer's ANNOUNCE). If an entry
// already exists for this digest, Put reports it as a match instead of
// overwriting, consuming the existing entry.
func (b *PendingBuffer) Put(d Digest, req swap.Request, peerAddr string) (match pendingEntry, matched bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.evictLocked()

	if existing, ok := b.entries[d]; ok {
		delete(b.entries, d)
		return existing, true
	}

	b.entries[d] = pendingEntry{req: req, peerAddr: peerAddr, expires: b.clk.Now().Add(pendingExpiry)}
	return pendingEntry{}, false
}

// Take removes and returns the pending entry for d, if any and unexpired.
func (b *PendingBuffer) Take(d Digest) (pendingEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.evictLocked()

	e, ok := b.entries[d]
	if ok {
		delete(b.entries, d)
	}
	return e, ok
}

func (b *PendingBuffer) evictLocked() {
	now := b.clk.Now()
	for d, e := range b.entries {
		if now.After(e.expires) {
			delete(b.entries, d)
		}
	}
}
