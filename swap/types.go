package swap

import (
	"fmt"

	"github.com/hashbridge/swapd/ledger"
)

// Role names which side of the swap a local party plays (spec §3).
// Alice generates the secret; Bob learns it by observing Alice's
// redemption on his ledger.
type Role uint8

const (
	// RoleAlice is the swap's initiator and secret holder.
	RoleAlice Role = iota
	// RoleBob is the swap's responder.
	RoleBob
)

// String renders the role for logging and persistence.
func (r Role) String() string {
	switch r {
	case RoleAlice:
		return "alice"
	case RoleBob:
		return "bob"
	default:
		return "unknown"
	}
}

// Request is the swap request Alice sends Bob (spec §3 "Swap request").
type Request struct {
	SwapID ID

	AlphaLedger ledger.Ledger
	BetaLedger  ledger.Ledger
	AlphaAsset  ledger.Asset
	BetaAsset   ledger.Asset

	// AlphaLedgerRefundIdentity is Alice's public key on alpha, used to
	// build the alpha HTLC's refund branch.
	AlphaLedgerRefundIdentity ledger.PublicKey
	// BetaLedgerRedeemIdentity is Alice's public key on beta, used to
	// build the beta HTLC's redeem branch.
	BetaLedgerRedeemIdentity ledger.PublicKey

	AlphaExpiry ledger.Timestamp
	BetaExpiry  ledger.Timestamp

	SecretHash ledger.SecretHash
}

// Kind derives the (AlphaLedger, BetaLedger, AlphaAsset, BetaAsset) tuple
// that determines which of the four supported permutations this request
// is, per spec §3.
func (r Request) Kind() ledger.Kind {
	return ledger.Kind{
		AlphaLedger: r.AlphaLedger,
		BetaLedger:  r.BetaLedger,
		AlphaAsset:  r.AlphaAsset.Kind,
		BetaAsset:   r.BetaAsset.Kind,
	}
}

// Validate checks the invariants spec §3 places on a request: a supported
// ledger/asset kind, and the alpha/beta expiry safety margin.
func (r Request) Validate(safetyMargin ledger.Timestamp) error {
	if err := r.Kind().Validate(); err != nil {
		return err
	}
	if r.AlphaExpiry.Sub(r.BetaExpiry) < safetyMargin.Sub(0) {
		return fmt.Errorf(
			"swap: alpha_expiry - beta_expiry must be >= safety margin; "+
				"got alpha=%s beta=%s", r.AlphaExpiry, r.BetaExpiry,
		)
	}
	return nil
}

// Accept is Bob's response to a Request (spec §3 "Swap accept").
type Accept struct {
	SwapID ID

	// AlphaLedgerRedeemIdentity is Bob's public key on alpha, used to
	// build the alpha HTLC's redeem branch.
	AlphaLedgerRedeemIdentity ledger.PublicKey
	// BetaLedgerRefundIdentity is Bob's public key on beta, used to
	// build the beta HTLC's refund branch.
	BetaLedgerRefundIdentity ledger.PublicKey
}

// Decline is Bob's rejection of a Request. Reason is the only nullable
// field in the persistent store (spec §4.8).
type Decline struct {
	SwapID ID
	Reason string
}
