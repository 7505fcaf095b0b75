package swap

import (
	"crypto/sha256"
	"fmt"

	"github.com/hashbridge/swapd/ledger"
)

// Kind tags the variant a State currently is. The full set below mirrors
// spec §4.5's state diagram exactly; terminal kinds are reported by
// IsTerminal.
type Kind uint8

const (
	// KindSent: request sent (Alice) or received (Bob), awaiting the
	// peer's accept/decline.
	KindSent Kind = iota
	// KindAccepted: both the request and accept are known.
	KindAccepted
	// KindAlphaFunded: alpha's HTLC has reached its required
	// confirmations.
	KindAlphaFunded
	// KindBothFunded: both HTLCs have reached their required
	// confirmations.
	KindBothFunded
	// KindAlphaFundedBetaRedeemed: beta redeemed while alpha is still
	// only funded; alpha's owner must now redeem or be refunded.
	KindAlphaFundedBetaRedeemed
	// KindAlphaFundedBetaRefunded: beta refunded while alpha is still
	// only funded.
	KindAlphaFundedBetaRefunded
	// KindAlphaRedeemedBetaFunded: alpha redeemed while beta is still
	// only funded.
	KindAlphaRedeemedBetaFunded
	// KindAlphaRefundedBetaFunded: alpha refunded while beta is still
	// only funded.
	KindAlphaRefundedBetaFunded

	// --- terminal kinds below ---

	// KindAlphaRefunded is spec §4.5's "SourceRefunded": alpha refunded
	// before beta was ever funded.
	KindAlphaRefunded
	// KindBothRedeemed: both HTLCs redeemed. The happy path (spec §8
	// Scenario A).
	KindBothRedeemed
	// KindBothRefunded: both HTLCs refunded (spec §8 Scenario B).
	KindBothRefunded
	// KindSourceRedeemedTargetRefunded: one party redeemed, the other
	// refunded — always resolves in the redeeming party's favor on one
	// leg and the refunding party's on the other; which physical ledger
	// is "source" vs "target" depends on who observes it locally.
	KindSourceRedeemedTargetRefunded
	// KindSourceRefundedTargetRedeemed: the mirror of the above, and the
	// loss-of-funds case spec §4.5 "Failure semantics" calls out by name
	// ("AlphaRefundedBetaRedeemed") when it is Alice who fails to redeem
	// alpha before its expiry after having already redeemed beta.
	KindSourceRefundedTargetRedeemed
	// KindRejected: the peer declined, or never responded within the
	// wire-protocol timeout (spec §7 SwapRejected / SwapResponseTimeout).
	KindRejected
)

// String renders the state kind for logging and persistence.
func (k Kind) String() string {
	switch k {
	case KindSent:
		return "sent"
	case KindAccepted:
		return "accepted"
	case KindAlphaFunded:
		return "alpha_funded"
	case KindBothFunded:
		return "both_funded"
	case KindAlphaFundedBetaRedeemed:
		return "alpha_funded_beta_redeemed"
	case KindAlphaFundedBetaRefunded:
		return "alpha_funded_beta_refunded"
	case KindAlphaRedeemedBetaFunded:
		return "alpha_redeemed_beta_funded"
	case KindAlphaRefundedBetaFunded:
		return "alpha_refunded_beta_funded"
	case KindAlphaRefunded:
		return "alpha_refunded"
	case KindBothRedeemed:
		return "both_redeemed"
	case KindBothRefunded:
		return "both_refunded"
	case KindSourceRedeemedTargetRefunded:
		return "source_redeemed_target_refunded"
	case KindSourceRefundedTargetRedeemed:
		return "source_refunded_target_redeemed"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether a swap in this state has left active memory
// (spec §3 "Lifecycle"): its record remains in swapdb, but no goroutine,
// watcher registration, or wire substream should reference it any longer.
func (k Kind) IsTerminal() bool {
	switch k {
	case KindAlphaRefunded, KindBothRedeemed, KindBothRefunded,
		KindSourceRedeemedTargetRefunded, KindSourceRefundedTargetRedeemed,
		KindRejected:
		return true
	default:
		return false
	}
}

// State is the full tagged-variant swap state (spec §3 "Swap state"):
// every field earlier transitions have produced, carried forward so each
// transition function only needs its own inputs plus this value.
type State struct {
	Kind Kind

	SwapID   ID
	SharedID SharedID
	Role     Role

	Request Request
	Accept  *Accept
	Decline *Decline

	// Secret is known once Alice generates it (always, on her side) or
	// Bob extracts it from beta's redeem transaction.
	Secret *ledger.Secret

	// AlphaHtlcLocation / BetaHtlcLocation pin each leg's single HTLC
	// location once its funding (Bitcoin address) or deployment
	// (Ethereum contract address) is observed. Spec §3: at most one
	// HTLC location per ledger.
	AlphaHtlcLocation ledger.Address
	BetaHtlcLocation  ledger.Address

	// AlphaFundedVout / BetaFundedVout complete the funded outpoint
	// for a Bitcoin leg; meaningless for an Ethereum leg.
	AlphaFundedVout uint32
	BetaFundedVout  uint32

	AlphaFundedTxid ledger.Txid
	BetaFundedTxid  ledger.Txid
	AlphaRedeemTxid ledger.Txid
	BetaRedeemTxid  ledger.Txid
	AlphaRefundTxid ledger.Txid
	BetaRefundTxid  ledger.Txid
}

// NewSentState constructs the initial State for a freshly created swap
// (either Alice producing a request, or Bob having just received one).
func NewSentState(role Role, req Request) State {
	return State{Kind: KindSent, SwapID: req.SwapID, Role: role, Request: req}
}

// NewAliceState constructs the initial State for a swap this node
// initiates, carrying the freshly generated secret whose SHA-256 is
// req.SecretHash.
func NewAliceState(req Request, secret ledger.Secret) State {
	s := NewSentState(RoleAlice, req)
	s.Secret = &secret
	return s
}

// EventKind names the union of inputs a transition can consume, drawn
// exclusively from the wire protocol (peer response) or the chain watcher
// (spec §4.5 "Transition inputs come exclusively from...").
type EventKind uint8

const (
	// EventAccepted: the peer's SWAP accept arrived.
	EventAccepted EventKind = iota
	// EventDeclined: the peer's SWAP decline arrived.
	EventDeclined
	// EventResponseTimeout: no peer response within the wire timeout.
	EventResponseTimeout
	// EventAlphaFunded / EventBetaFunded: the named leg's HTLC reached
	// its required confirmations.
	EventAlphaFunded
	EventBetaFunded
	// EventAlphaRedeemed / EventBetaRedeemed: the named leg's HTLC was
	// spent via its redemption clause.
	EventAlphaRedeemed
	EventBetaRedeemed
	// EventAlphaRefunded / EventBetaRefunded: the named leg's HTLC was
	// spent via its refund clause.
	EventAlphaRefunded
	EventBetaRefunded
)

// Event is the unit Apply consumes. Only the fields relevant to Kind are
// populated.
type Event struct {
	Kind EventKind

	Accept  *Accept
	Decline *Decline

	Txid     ledger.Txid
	Location ledger.Address
	Vout     uint32
	Secret   *ledger.Secret
}

// ErrNoTransition is returned by Apply when ev carries no transition for
// state.Kind — either it is a genuine protocol/logic error, or (far more
// commonly) a re-delivery of an event already applied. The Machine treats
// it as a no-op rather than an error (see Machine.handleOne).
type ErrNoTransition struct {
	State Kind
	Event EventKind
}

func (e ErrNoTransition) Error() string {
	return fmt.Sprintf("swap: no transition for event %d in state %s", e.Event, e.State)
}

// ErrSecretMismatch reports a redemption event whose revealed preimage
// does not hash to the swap's secret_hash. The HTLC contracts make this
// impossible for a genuine on-chain redemption, so it only arises from a
// confused or malicious event source; the event is ignored rather than
// advancing state.
type ErrSecretMismatch struct {
	SwapID ID
}

func (e ErrSecretMismatch) Error() string {
	return fmt.Sprintf("swap: %s: redemption secret does not match secret_hash", e.SwapID)
}

// Apply is the pure transition function spec §4.5 describes: it consumes
// one Event against one State and returns the next State. It has no side
// effects — Machine is responsible for checkpointing the Event via swapdb
// before calling Apply, per spec §4.5 "Determinism and idempotence: each
// transition persists the triggering event before side effects."
func Apply(s State, ev Event) (State, error) {
	// Every redemption processed must reveal the preimage of the swap's
	// secret_hash.
	if ev.Secret != nil {
		if sha256.Sum256(ev.Secret[:]) != [32]byte(s.Request.SecretHash) {
			return s, ErrSecretMismatch{SwapID: s.SwapID}
		}
	}

	switch s.Kind {
	case KindSent:
		switch ev.Kind {
		case EventAccepted:
			next := s
			next.Kind = KindAccepted
			next.Accept = ev.Accept
			return next, nil
		case EventDeclined:
			next := s
			next.Kind = KindRejected
			next.Decline = ev.Decline
			return next, nil
		case EventResponseTimeout:
			next := s
			next.Kind = KindRejected
			next.Decline = &Decline{SwapID: s.SwapID, Reason: "response timeout"}
			return next, nil
		}

	case KindAccepted:
		if ev.Kind == EventAlphaFunded {
			next := s
			next.Kind = KindAlphaFunded
			next.AlphaFundedTxid = ev.Txid
			next.AlphaHtlcLocation = ev.Location
			next.AlphaFundedVout = ev.Vout
			return next, nil
		}

	case KindAlphaFunded:
		// Spec §4.5 "Selection": concurrently watch for alpha-refunded
		// OR beta-funded; whichever arrives first determines the next
		// state.
		switch ev.Kind {
		case EventAlphaRefunded:
			next := s
			next.Kind = KindAlphaRefunded
			next.AlphaRefundTxid = ev.Txid
			return next, nil
		case EventBetaFunded:
			next := s
			next.Kind = KindBothFunded
			next.BetaFundedTxid = ev.Txid
			next.BetaHtlcLocation = ev.Location
			next.BetaFundedVout = ev.Vout
			return next, nil
		}

	case KindBothFunded:
		// Spec §4.5: watches four events in parallel, transitioning on
		// whichever arrives first.
		switch ev.Kind {
		case EventAlphaRedeemed:
			next := s
			next.Kind = KindAlphaRedeemedBetaFunded
			next.AlphaRedeemTxid = ev.Txid
			next.Secret = orSecret(s.Secret, ev.Secret)
			return next, nil
		case EventAlphaRefunded:
			next := s
			next.Kind = KindAlphaRefundedBetaFunded
			next.AlphaRefundTxid = ev.Txid
			return next, nil
		case EventBetaRedeemed:
			next := s
			next.Kind = KindAlphaFundedBetaRedeemed
			next.BetaRedeemTxid = ev.Txid
			// Spec §3 invariant: redemption on beta reveals the secret
			// on-chain; Bob's watcher extracts it here.
			next.Secret = orSecret(s.Secret, ev.Secret)
			return next, nil
		case EventBetaRefunded:
			next := s
			next.Kind = KindAlphaFundedBetaRefunded
			next.BetaRefundTxid = ev.Txid
			return next, nil
		}

	case KindAlphaRedeemedBetaFunded:
		switch ev.Kind {
		case EventBetaRedeemed:
			next := s
			next.Kind = KindBothRedeemed
			next.BetaRedeemTxid = ev.Txid
			return next, nil
		case EventBetaRefunded:
			next := s
			next.Kind = KindSourceRedeemedTargetRefunded
			next.BetaRefundTxid = ev.Txid
			return next, nil
		}

	case KindAlphaRefundedBetaFunded:
		switch ev.Kind {
		case EventBetaRedeemed:
			next := s
			next.Kind = KindSourceRefundedTargetRedeemed
			next.BetaRedeemTxid = ev.Txid
			next.Secret = orSecret(s.Secret, ev.Secret)
			return next, nil
		case EventBetaRefunded:
			next := s
			next.Kind = KindBothRefunded
			next.BetaRefundTxid = ev.Txid
			return next, nil
		}

	case KindAlphaFundedBetaRedeemed:
		// Spec §4.5 "Failure semantics": if alpha is not redeemed before
		// alpha_expiry, this becomes the reported loss-of-funds case.
		switch ev.Kind {
		case EventAlphaRedeemed:
			next := s
			next.Kind = KindBothRedeemed
			next.AlphaRedeemTxid = ev.Txid
			return next, nil
		case EventAlphaRefunded:
			next := s
			next.Kind = KindSourceRefundedTargetRedeemed
			next.AlphaRefundTxid = ev.Txid
			return next, nil
		}

	case KindAlphaFundedBetaRefunded:
		switch ev.Kind {
		case EventAlphaRedeemed:
			next := s
			next.Kind = KindSourceRedeemedTargetRefunded
			next.AlphaRedeemTxid = ev.Txid
			return next, nil
		case EventAlphaRefunded:
			next := s
			next.Kind = KindBothRefunded
			next.AlphaRefundTxid = ev.Txid
			return next, nil
		}
	}

	return s, ErrNoTransition{State: s.Kind, Event: ev.Kind}
}

func orSecret(existing, incoming *ledger.Secret) *ledger.Secret {
	if existing != nil {
		return existing
	}
	return incoming
}
