package ledger

import (
	"encoding/hex"
	"fmt"
)

// Address is an opaque, round-trippable-to-text identifier for a
// destination on either ledger: a Bitcoin bech32 string, or an Ethereum hex
// address. It is deliberately a thin wrapper over string rather than a
// parsed structure, since the core only ever needs to compare, log, and
// pass addresses through to ledger-specific code in htlc/ and walletrpc/.
type Address struct {
	chain Chain
	text  string
}

// NewBitcoinAddress wraps a canonical Bitcoin address string (bech32 for
// the P2WSH HTLC addresses this repo deals in).
func NewBitcoinAddress(text string) Address {
	return Address{chain: ChainBitcoin, text: text}
}

// NewEthereumAddress wraps a canonical "0x"-prefixed, checksum-cased
// Ethereum address string.
func NewEthereumAddress(text string) Address {
	return Address{chain: ChainEthereum, text: text}
}

// Chain reports which ledger this address belongs to.
func (a Address) Chain() Chain {
	return a.chain
}

// String returns the canonical text form, used verbatim on the wire.
func (a Address) String() string {
	return a.text
}

// IsZero reports whether the address was never set.
func (a Address) IsZero() bool {
	return a.text == ""
}

// Equal reports whether two addresses refer to the same chain and text.
// Ethereum comparisons are case-insensitive-safe because addresses here are
// always stored pre-normalized to the canonical checksum form by the
// walletrpc/ethwallet package before entering an Address value.
func (a Address) Equal(other Address) bool {
	return a.chain == other.chain && a.text == other.text
}

// Txid is an opaque, round-trippable-to-text transaction identifier.
type Txid struct {
	chain Chain
	text  string
}

// NewBitcoinTxid wraps a big-endian hex Bitcoin transaction id.
func NewBitcoinTxid(text string) Txid {
	return Txid{chain: ChainBitcoin, text: text}
}

// NewEthereumTxid wraps a "0x"-prefixed Ethereum transaction hash.
func NewEthereumTxid(text string) Txid {
	return Txid{chain: ChainEthereum, text: text}
}

// Chain reports which ledger this txid belongs to.
func (t Txid) Chain() Chain {
	return t.chain
}

// String returns the canonical text form.
func (t Txid) String() string {
	return t.text
}

// IsZero reports whether the txid was never set.
func (t Txid) IsZero() bool {
	return t.text == ""
}

// Equal reports whether two txids refer to the same chain and text.
func (t Txid) Equal(other Txid) bool {
	return t.chain == other.chain && t.text == other.text
}

// PublicKey is an opaque, hex-round-trippable compressed secp256k1 public
// key, used interchangeably as a Bitcoin refund/redeem identity and, after
// derivation of the corresponding address, as an Ethereum identity.
type PublicKey []byte

// String renders the key as lowercase hex, the form used for "identities"
// on the wire (spec §3, "alpha_ledger_refund_identity" etc.) and in
// swapdb (spec §4.8, "all identities as hex").
func (p PublicKey) String() string {
	return hex.EncodeToString(p)
}

// ParsePublicKey decodes a hex-encoded compressed public key.
func ParsePublicKey(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("ledger: invalid public key hex %q: %w", s, err)
	}
	return PublicKey(b), nil
}

// Secret is a 32-byte value held by Alice; its SHA-256 is the swap's
// secret_hash.
type Secret [32]byte

// String renders the secret as lowercase hex.
func (s Secret) String() string {
	return hex.EncodeToString(s[:])
}

// ParseSecret decodes a 32-byte hex-encoded secret produced by String.
func ParseSecret(s string) (Secret, error) {
	var sec Secret
	b, err := hex.DecodeString(s)
	if err != nil {
		return sec, fmt.Errorf("ledger: invalid secret hex %q: %w", s, err)
	}
	if len(b) != 32 {
		return sec, fmt.Errorf("ledger: secret must be 32 bytes, got %d", len(b))
	}
	copy(sec[:], b)
	return sec, nil
}

// SecretHash is SHA-256(secret), the value exchanged on the wire and
// embedded in both HTLCs.
type SecretHash [32]byte

// String renders the hash as lowercase hex.
func (h SecretHash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseSecretHash decodes a 32-byte hex-encoded hash.
func ParseSecretHash(s string) (SecretHash, error) {
	var h SecretHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("ledger: invalid secret hash hex %q: %w", s, err)
	}
	if len(b) != 32 {
		return h, fmt.Errorf("ledger: secret hash must be 32 bytes, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}
