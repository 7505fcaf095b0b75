// Package chainwatch defines the query-and-match abstractions shared by
// the per-ledger watcher implementations in chainwatch/btcwatch and
// chainwatch/ethwatch. The interface shape is a direct generalization of
// the teacher's chainntfs.ChainNotifier: instead of a fixed menu of
// confirmation/spend/epoch notifications wired to a single chain, this
// package names the four swap-specific queries and lets each ledger's
// subpackage decide how to evaluate them against its own RPC surface.
package chainwatch

import (
	"github.com/hashbridge/swapd/ledger"
)

// BitcoinFunded matches the first Bitcoin transaction with an output that
// pays at least MinValue to Addr (spec §4.3).
type BitcoinFunded struct {
	Addr                ledger.Address
	MinValue            ledger.BitcoinAmount
	ConfirmationsNeeded uint32
}

// BitcoinSpent matches the first Bitcoin transaction that spends output
// Vout of transaction TxHash.
type BitcoinSpent struct {
	TxHash              ledger.Txid
	Vout                uint32
	ConfirmationsNeeded uint32
}

// EthereumDeployed matches the first Ethereum contract-creation
// transaction whose init code equals Bytecode.
type EthereumDeployed struct {
	Bytecode            []byte
	ConfirmationsNeeded uint32
}

// EthereumCalled matches the first Ethereum transaction to Contract whose
// receipt contains a log with the given Topic.
type EthereumCalled struct {
	Contract            ledger.Address
	Topic               [32]byte
	ConfirmationsNeeded uint32
}

// Watcher is implemented separately per ledger (chainwatch/btcwatch,
// chainwatch/ethwatch). Each registration method returns a channel that
// receives exactly one htlc.Event once the query matches and reaches its
// required confirmation depth, per spec §4.3's "yields the first matching
// transaction for each query."
//
// Per "Edge policies," delivering the same match twice downstream is not
// an error — callers dedupe on (query id, txid) themselves if they
// re-register after a restart. The channel returned here receives one
// event and is never closed.
type Watcher interface {
	Start() error
	Stop() error
}

// QueryID is an opaque handle a Watcher implementation assigns to a
// registered query, used for logging and for the downstream dedup key
// named in spec §4.3. Passing it back to the implementation's Cancel
// method drops the registration, which is how "dropping a state machine
// cancels all its outstanding watcher queries" (spec §5) is realized: the
// owner cancels each of the swap's query ids without restarting the
// watcher.
type QueryID uint64
