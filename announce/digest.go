// Package announce implements the digest-based announce/negotiate
// handshake (spec §4.7, component C7): Alice announces a swap by its
// SwapDigest, Bob matches it against his own pending request and replies
// with a freshly generated SharedSwapId, then both sides exchange
// identity substreams and finalize.
package announce

import (
	"crypto/sha256"
	"fmt"

	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/swap"
)

// Digest is a deterministic hash of a swap request's business-relevant
// fields (spec GLOSSARY "SwapDigest"), used by the counterparty to match
// an incoming announcement against its own pending request without
// either side needing to know the other's locally-generated SwapId in
// advance.
type Digest [sha256.Size]byte

// String renders the digest as lowercase hex.
func (d Digest) String() string {
	return fmt.Sprintf("%x", d[:])
}

// ComputeDigest hashes the fields of req that both parties independently
// know before a SharedSwapId exists: the ledgers, assets, expiries and
// secret hash. SwapId and the per-party refund/redeem identities are
// deliberately excluded, since those differ between what Alice sent and
// what Bob locally holds until after identity exchange.
func ComputeDigest(req swap.Request) Digest {
	h := sha256.New()
	fmt.Fprintf(h, "alpha_ledger=%s\n", req.AlphaLedger)
	fmt.Fprintf(h, "beta_ledger=%s\n", req.BetaLedger)
	fmt.Fprintf(h, "alpha_asset=%s\n", req.AlphaAsset)
	fmt.Fprintf(h, "beta_asset=%s\n", req.BetaAsset)
	fmt.Fprintf(h, "alpha_expiry=%s\n", req.AlphaExpiry)
	fmt.Fprintf(h, "beta_expiry=%s\n", req.BetaExpiry)
	fmt.Fprintf(h, "secret_hash=%s\n", req.SecretHash)

	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// RemoteIdentity is the business data either side learns about its
// counterparty during the identity-exchange phase, generalizing spec
// §4.7's "Ethereum address, Bitcoin public key, secret hash" triple to
// whichever of those the local swap's kind actually needs.
type RemoteIdentity struct {
	AlphaIdentity ledger.PublicKey
	BetaIdentity  ledger.PublicKey
	SecretHash    ledger.SecretHash
}
