// Package walletrpc defines the per-ledger signing/broadcast surface
// specified by spec §4.4 ("Wallet adapters"), plus the BIP32 identity
// derivation shared by both ledgers' concrete adapters
// (walletrpc/btcwallet, walletrpc/ethwallet).
package walletrpc

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// hardened is the offset added to a child index to produce a hardened
// BIP32 derivation, matching the standard convention hdkeychain uses.
const hardened = hdkeychain.HardenedKeyStart

// SwapIdentityPath derives the transient per-swap Bitcoin signing key at
// m/0'/9939'/<swap_id_index>', per spec §4.4 ("Identities"). 9939 is this
// repository's registered purpose index, chosen so derived keys never
// collide with a wallet's other BIP32 usages.
func SwapIdentityPath(master *hdkeychain.ExtendedKey, swapIDIndex uint32, net *chaincfg.Params) (*btcec.PrivateKey, error) {
	purpose, err := master.Derive(hardened + 0)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: deriving purpose level: %w", err)
	}
	account, err := purpose.Derive(hardened + 9939)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: deriving account level: %w", err)
	}
	swapKey, err := account.Derive(hardened + swapIDIndex)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: deriving swap index %d: %w", swapIDIndex, err)
	}

	privKey, err := swapKey.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("walletrpc: extracting private key: %w", err)
	}
	return privKey, nil
}

// EthereumAccountPath derives the Ethereum signing key at the fixed account
// path m/44'/60'/0'/0, per spec §4.4.
func EthereumAccountPath(master *hdkeychain.ExtendedKey) (*btcec.PrivateKey, error) {
	purpose, err := master.Derive(hardened + 44)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: deriving purpose level: %w", err)
	}
	coinType, err := purpose.Derive(hardened + 60)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: deriving coin-type level: %w", err)
	}
	account, err := coinType.Derive(hardened + 0)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: deriving account level: %w", err)
	}
	change, err := account.Derive(0)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: deriving change level: %w", err)
	}

	privKey, err := change.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("walletrpc: extracting private key: %w", err)
	}
	return privKey, nil
}
