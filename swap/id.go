// Package swap implements the swap state machine (spec §4.5, component
// C5): the enum-based model spec §9 specifies as canonical, generalizing
// the teacher's contractcourt.ContractResolver (one resolver per HTLC leg)
// to a single object that drives both legs of a swap to completion.
package swap

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ID is a locally generated 128-bit swap identifier (spec §3 "SwapId"),
// minted before the counterparty is even known to exist.
type ID [16]byte

// NewID generates a fresh random ID.
func NewID() ID {
	return ID(uuid.New())
}

// String renders the id as lowercase hex, the form used in swapdb and
// logs.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseID decodes a hex-encoded ID produced by String.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("swap: invalid id hex %q: %w", s, err)
	}
	if len(b) != 16 {
		return id, fmt.Errorf("swap: id must be 16 bytes, got %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// IsZero reports whether id was never set.
func (id ID) IsZero() bool {
	return id == ID{}
}

// SharedID is the identifier both parties agree on once announce/negotiate
// (package announce, C7) completes, and which keys every subsequent wire
// message (spec §3 "SharedSwapId").
type SharedID [16]byte

// NewSharedID generates a fresh random SharedID. Per spec §4.7, Bob mints
// this once he matches Alice's announcement.
func NewSharedID() SharedID {
	return SharedID(uuid.New())
}

// String renders the shared id as lowercase hex.
func (id SharedID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseSharedID decodes a hex-encoded SharedID produced by String.
func ParseSharedID(s string) (SharedID, error) {
	var id SharedID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("swap: invalid shared id hex %q: %w", s, err)
	}
	if len(b) != 16 {
		return id, fmt.Errorf("swap: shared id must be 16 bytes, got %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// IsZero reports whether id was never set.
func (id SharedID) IsZero() bool {
	return id == SharedID{}
}
