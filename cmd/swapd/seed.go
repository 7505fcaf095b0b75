package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"golang.org/x/crypto/hkdf"

	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/swap"
)

const seedFileName = "swap.seed"

// loadOrCreateSeed reads the wallet master seed from dataDir, generating
// one on first run. Every key in the daemon — Bitcoin per-swap identities,
// the Ethereum account, swap secrets, the wire transport's static key —
// derives from this one file.
func loadOrCreateSeed(dataDir string) ([]byte, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	path := filepath.Join(dataDir, seedFileName)
	if seed, err := os.ReadFile(path); err == nil {
		if len(seed) != hdkeychain.RecommendedSeedLen {
			return nil, fmt.Errorf("seed file %s has %d bytes, want %d",
				path, len(seed), hdkeychain.RecommendedSeedLen)
		}
		return seed, nil
	}

	seed := make([]byte, hdkeychain.RecommendedSeedLen)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generating seed: %w", err)
	}
	if err := os.WriteFile(path, seed, 0600); err != nil {
		return nil, fmt.Errorf("writing seed: %w", err)
	}
	return seed, nil
}

// masterKey derives the BIP32 master key from the seed.
func masterKey(seed []byte, net *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {
	return hdkeychain.NewMaster(seed, net)
}

// swapIDIndex maps a swap id to the hardened derivation index of its
// transient key at m/0'/9939'/<index>' (spec §4.4).
func swapIDIndex(id swap.ID) uint32 {
	return binary.BigEndian.Uint32(id[:4]) & 0x7fffffff
}

// deriveSecret deterministically derives the 32-byte swap secret for a
// locally initiated swap from the master seed and the swap id, so a
// restarted Alice recovers the same secret her announced secret_hash
// commits to.
func deriveSecret(seed []byte, id swap.ID) (ledger.Secret, error) {
	var secret ledger.Secret
	r := hkdf.New(sha256.New, seed, id[:], []byte("swapd/secret"))
	if _, err := io.ReadFull(r, secret[:]); err != nil {
		return secret, fmt.Errorf("deriving swap secret: %w", err)
	}
	return secret, nil
}

// deriveTransportKeySeed derives the 32 bytes backing the wire
// transport's static identity key.
func deriveTransportKeySeed(seed []byte) ([]byte, error) {
	out := make([]byte, 32)
	r := hkdf.New(sha256.New, seed, nil, []byte("swapd/transport"))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("deriving transport key: %w", err)
	}
	return out, nil
}
