package htlc

import (
	"github.com/hashbridge/swapd/ledger"
)

// EventKind names the four per-ledger occurrences the chain watcher
// yields, plus the failure-mode occurrence, per spec §4.2/§4.3.
type EventKind int

const (
	// EventFunded fires once a Bitcoin HTLC output, or an Ethereum HTLC
	// deployment/call's value transfer, has reached the required
	// confirmation depth.
	EventFunded EventKind = iota
	// EventDeployed fires once the Ethereum HTLC contract creation
	// transaction has reached the required confirmation depth.
	EventDeployed
	// EventRedeemed fires once a spend of the HTLC output via its
	// redemption clause has reached the required confirmation depth.
	// Its Secret field carries the revealed preimage.
	EventRedeemed
	// EventRefunded fires once a spend of the HTLC output via its
	// refund clause has reached the required confirmation depth.
	EventRefunded
	// EventLedgerUnavailable names a ledger whose node stays unreachable.
	// Neither watcher in this repository emits it, and no swap is paused
	// on it.
	EventLedgerUnavailable
)

// String renders the event kind for logging.
func (k EventKind) String() string {
	switch k {
	case EventFunded:
		return "funded"
	case EventDeployed:
		return "deployed"
	case EventRedeemed:
		return "redeemed"
	case EventRefunded:
		return "refunded"
	case EventLedgerUnavailable:
		return "ledger_unavailable"
	default:
		return "unknown"
	}
}

// Event is the unified shape the per-ledger watchers (chainwatch/btcwatch,
// chainwatch/ethwatch) emit onto the swap machine's event channel. Only
// the fields relevant to Kind are populated; see each EventKind's comment.
type Event struct {
	Kind   EventKind
	Ledger ledger.Ledger
	Txid   ledger.Txid
	// Location is the HTLC's on-chain location once known: the P2WSH
	// address a Bitcoin EventFunded paid, or the contract address an
	// Ethereum EventDeployed created. Spec §3 guarantees at most one
	// per ledger per swap.
	Location ledger.Address
	// Vout is the output index paying Location, for EventFunded on
	// Bitcoin; the redeem/refund spend needs the exact outpoint.
	Vout uint32
	// Amount is populated for EventFunded.
	Amount ledger.Asset
	// Secret is populated for EventRedeemed; spec §4.2 "Redeemed event
	// data is the 32-byte secret".
	Secret ledger.Secret
	// Confirmations is the depth at which the event was finally
	// accepted, kept for logging and tests.
	Confirmations uint32
}

// MatchesRedeemedTopic reports whether a raw Ethereum log topic is the
// canonical Redeemed(bytes32) topic, used by chainwatch/ethwatch to
// classify a log entry without decoding calldata (spec §4.2 "Watchers
// rely on event topics, not calldata, for reliability").
func MatchesRedeemedTopic(topic [32]byte) bool {
	return topic == RedeemedTopic
}

// MatchesRefundedTopic reports whether a raw Ethereum log topic is the
// canonical Refunded() topic.
func MatchesRefundedTopic(topic [32]byte) bool {
	return topic == RefundedTopic
}
