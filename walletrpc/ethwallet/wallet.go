// Package ethwallet implements the Ethereum side of spec §4.4's wallet
// adapter: address/balance queries, plain sends, contract deployment and
// calls, all behind the strict nonce discipline spec §4.4 mandates — the
// nonce lock is held only across a single sign-and-broadcast, and is
// incremented only once that broadcast succeeds.
package ethwallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/walletrpc"
)

// RPCClient is the subset of go-ethereum's ethclient.Client this adapter
// needs.
type RPCClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// GasPriceOracle returns the gas price to use for the next transaction, per
// spec §4.4 step (ii): "a gas price obtained from the gas-price oracle."
type GasPriceOracle interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Config bundles a Wallet's dependencies.
type Config struct {
	RPC       RPCClient
	GasOracle GasPriceOracle
	ChainID   *big.Int
	Key       *ecdsa.PrivateKey
}

// Wallet is the concrete Ethereum wallet adapter. It owns exactly one
// account key (the fixed m/44'/60'/0'/0 identity, per spec §4.4) and a
// monotonic nonce counter guarded by an exclusive lock, held only across a
// single sign-and-broadcast call and never across a state-machine
// transition (spec §5).
type Wallet struct {
	cfg     Config
	address common.Address
	signer  types.Signer

	mu    sync.Mutex
	nonce uint64
	known bool
}

// New constructs an Ethereum Wallet for the given signing key.
func New(cfg Config) *Wallet {
	return &Wallet{
		cfg:     cfg,
		address: crypto.PubkeyToAddress(cfg.Key.PublicKey),
		signer:  types.NewEIP155Signer(cfg.ChainID),
	}
}

// Address returns the wallet's single controlled account.
func (w *Wallet) Address() ledger.Address {
	return ledger.NewEthereumAddress(w.address.Hex())
}

// NewAddress satisfies spec §4.4's per-ledger adapter surface. An Ethereum
// wallet, unlike a Bitcoin one, has a single fixed account identity (spec
// §4.4 "Identities"), so this simply returns it.
func (w *Wallet) NewAddress() (ledger.Address, error) {
	return w.Address(), nil
}

// Balance returns the wallet's current ether balance.
func (w *Wallet) Balance() (ledger.EtherAmount, error) {
	bal, err := w.cfg.RPC.BalanceAt(context.Background(), w.address, nil)
	if err != nil {
		return ledger.EtherAmount{}, wrapErr("balance", err)
	}
	return ledger.NewEtherAmount(bal), nil
}

// Send transfers amount wei to to, following the nonce discipline of spec
// §4.4: acquire the lock, build with the current nonce, sign, broadcast,
// and only on success advance the nonce.
func (w *Wallet) Send(to ledger.Address, amount ledger.EtherAmount, gasLimit uint64) (ledger.Txid, error) {
	toAddr := common.HexToAddress(to.String())
	return w.signAndBroadcast("send", func(nonce uint64, gasPrice *big.Int) (*types.Transaction, error) {
		return types.NewTransaction(nonce, toAddr, amount.Wei(), gasLimit, gasPrice, nil), nil
	})
}

// DeployContract broadcasts a contract-creation transaction carrying
// bytecode as init code and value attached ether, per spec §4.2 ("The
// contract is deployed with the ether value attached").
func (w *Wallet) DeployContract(bytecode []byte, value ledger.EtherAmount, gasLimit uint64) (ledger.Txid, error) {
	return w.signAndBroadcast("deploy_contract", func(nonce uint64, gasPrice *big.Int) (*types.Transaction, error) {
		return types.NewContractCreation(nonce, value.Wei(), gasLimit, gasPrice, bytecode), nil
	})
}

// CallContract broadcasts a transaction invoking addr with calldata — used
// both for the ERC-20 funding flow's approve() call and for redeem/refund
// calls into a deployed HTLC.
func (w *Wallet) CallContract(addr ledger.Address, calldata []byte, gasLimit uint64) (ledger.Txid, error) {
	toAddr := common.HexToAddress(addr.String())
	return w.signAndBroadcast("call_contract", func(nonce uint64, gasPrice *big.Int) (*types.Transaction, error) {
		return types.NewTransaction(nonce, toAddr, big.NewInt(0), gasLimit, gasPrice, calldata), nil
	})
}

// signAndBroadcast implements the six-step sequence of spec §4.4 exactly:
// (i) acquire the lock, (ii) build with the current nonce and an
// oracle-sourced gas price, (iii) sign, (iv) broadcast, (v) only on
// success increment the nonce, (vi) release the lock. A failed broadcast
// leaves the nonce unchanged so the same nonce is retried on the next
// send (spec §8, Scenario D).
func (w *Wallet) signAndBroadcast(
	op string, build func(nonce uint64, gasPrice *big.Int) (*types.Transaction, error),
) (ledger.Txid, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	ctx := context.Background()

	nonce, err := w.currentNonce(ctx)
	if err != nil {
		return ledger.Txid{}, wrapErr(op, err)
	}

	gasPrice, err := w.cfg.GasOracle.SuggestGasPrice(ctx)
	if err != nil {
		return ledger.Txid{}, wrapErr(op, fmt.Errorf("gas price oracle: %w", err))
	}

	tx, err := build(nonce, gasPrice)
	if err != nil {
		return ledger.Txid{}, wrapErr(op, err)
	}

	signedTx, err := types.SignTx(tx, w.signer, w.cfg.Key)
	if err != nil {
		return ledger.Txid{}, wrapErr(op, fmt.Errorf("signing: %w", err))
	}

	if err := w.cfg.RPC.SendTransaction(ctx, signedTx); err != nil {
		// Per spec §4.4: a failed broadcast leaves the nonce unchanged.
		return ledger.Txid{}, wrapErr(op, fmt.Errorf("broadcasting: %w", err))
	}

	w.nonce = nonce + 1
	w.known = true

	return ledger.NewEthereumTxid(signedTx.Hash().Hex()), nil
}

// currentNonce returns the wallet's cached nonce if one is known, and
// otherwise falls back to the node's pending-nonce view to seed it. Once
// seeded, the nonce is advanced only by a successful broadcast from this
// process, per spec §8 invariant 3.
func (w *Wallet) currentNonce(ctx context.Context) (uint64, error) {
	if w.known {
		return w.nonce, nil
	}

	nonce, err := w.cfg.RPC.PendingNonceAt(ctx, w.address)
	if err != nil {
		return 0, fmt.Errorf("fetching pending nonce: %w", err)
	}
	return nonce, nil
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &walletrpc.Error{Op: "ethwallet:" + op, Err: err}
}
