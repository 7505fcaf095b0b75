// Package btcwallet implements the Bitcoin side of spec §4.4's wallet
// adapter: address generation, balance queries, plain sends, and spending
// the HTLC's P2WSH output via a caller-supplied witness builder. UTXO
// selection is serialized per wallet, per spec §5.
package btcwallet

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/walletrpc"
)

// dustLimit is the minimum non-dust P2WPKH output value this adapter will
// produce for a change/destination output, matching the network's
// standard relay policy for witness outputs.
const dustLimit = btcutil.Amount(294)

// Utxo is a spendable output this wallet controls.
type Utxo struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	PkScript []byte
}

// RPCClient is the subset of a Bitcoin full node's RPC surface this
// adapter needs.
type RPCClient interface {
	SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error)
	ListUnspent() ([]Utxo, error)
}

// WitnessBuilder produces the witness stack for the single input of a
// spend_p2wsh transaction once the transaction's other fields (inputs,
// outputs, locktime, sequence) have been finalized, so that the builder
// can compute a valid sighash. This is the same witness-generator dispatch
// idiom the teacher's lnwallet/witnessgen.go uses.
type WitnessBuilder func(tx *wire.MsgTx, outputAmt btcutil.Amount) (wire.TxWitness, error)

// Config bundles a Wallet's dependencies.
type Config struct {
	RPC       RPCClient
	NetParams *chaincfg.Params
	MasterKey *hdkeychain.ExtendedKey
}

// Wallet is the concrete Bitcoin wallet adapter.
type Wallet struct {
	cfg Config

	mu          sync.Mutex // serializes UTXO selection, per spec §5
	addrCounter uint32
}

// New constructs a Bitcoin Wallet.
func New(cfg Config) *Wallet {
	return &Wallet{cfg: cfg}
}

// NewAddress derives and returns a fresh P2WPKH receive address, owned by
// the wallet's internal key-derivation branch (distinct from the
// per-swap transient identities derived via walletrpc.SwapIdentityPath).
func (w *Wallet) NewAddress() (ledger.Address, error) {
	w.mu.Lock()
	idx := w.addrCounter
	w.addrCounter++
	w.mu.Unlock()

	key, err := w.deriveReceiveKey(idx)
	if err != nil {
		return ledger.Address{}, wrapErr("new_address", err)
	}

	pubKeyHash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, w.cfg.NetParams)
	if err != nil {
		return ledger.Address{}, wrapErr("new_address", err)
	}
	return ledger.NewBitcoinAddress(addr.EncodeAddress()), nil
}

func (w *Wallet) deriveReceiveKey(index uint32) (*btcec.PrivateKey, error) {
	const internalPurpose = hdkeychain.HardenedKeyStart + 1
	branch, err := w.cfg.MasterKey.Derive(internalPurpose)
	if err != nil {
		return nil, err
	}
	child, err := branch.Derive(index)
	if err != nil {
		return nil, err
	}
	return child.ECPrivKey()
}

// Balance sums the value of every UTXO the node reports this wallet
// controls.
func (w *Wallet) Balance() (ledger.BitcoinAmount, error) {
	utxos, err := w.cfg.RPC.ListUnspent()
	if err != nil {
		return 0, wrapErr("balance", err)
	}

	var total btcutil.Amount
	for _, u := range utxos {
		total += u.Value
	}
	return ledger.BitcoinAmount(total), nil
}

// Send constructs, signs and broadcasts a plain payment of amount to to,
// at the given feePerByte, selecting UTXOs exclusively so two concurrent
// sends never double-spend the same output (spec §5).
func (w *Wallet) Send(to ledger.Address, amount ledger.BitcoinAmount, feePerByte float64) (ledger.Txid, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	utxos, err := w.cfg.RPC.ListUnspent()
	if err != nil {
		return ledger.Txid{}, wrapErr("send", err)
	}

	addr, err := btcutil.DecodeAddress(to.String(), w.cfg.NetParams)
	if err != nil {
		return ledger.Txid{}, wrapErr("send", fmt.Errorf("decoding destination: %w", err))
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return ledger.Txid{}, wrapErr("send", err)
	}

	mtx := wire.NewMsgTx(wire.TxVersion)
	mtx.AddTxOut(wire.NewTxOut(int64(amount), pkScript))

	selected, total, err := selectUtxos(utxos, btcutil.Amount(amount), feePerByte)
	if err != nil {
		return ledger.Txid{}, wrapErr("send", err)
	}
	for _, u := range selected {
		mtx.AddTxIn(wire.NewTxIn(&u.OutPoint, nil, nil))
	}

	vsize := estimateVsize(len(selected), 2)
	fee := btcutil.Amount(float64(vsize) * feePerByte)
	change := total - btcutil.Amount(amount) - fee
	if change < 0 {
		return ledger.Txid{}, wrapErr("send", fmt.Errorf(
			"insufficient funds: have %s, need %s + fee %s",
			total, btcutil.Amount(amount), fee,
		))
	}
	if change > 0 {
		if change < dustLimit {
			return ledger.Txid{}, wrapErr("send", fmt.Errorf(
				"fee rate %.2f sat/vB produces a dust change output of %s",
				feePerByte, change,
			))
		}
		// w.mu is already held, so the change key is derived here rather
		// than through NewAddress, which takes w.mu itself.
		changeIdx := w.addrCounter
		w.addrCounter++
		changeKey, err := w.deriveReceiveKey(changeIdx)
		if err != nil {
			return ledger.Txid{}, wrapErr("send", err)
		}
		changeAddr, err := btcutil.NewAddressWitnessPubKeyHash(
			btcutil.Hash160(changeKey.PubKey().SerializeCompressed()),
			w.cfg.NetParams,
		)
		if err != nil {
			return ledger.Txid{}, wrapErr("send", err)
		}
		changeDecoded, err := btcutil.DecodeAddress(changeAddr.String(), w.cfg.NetParams)
		if err != nil {
			return ledger.Txid{}, wrapErr("send", err)
		}
		changeScript, err := txscript.PayToAddrScript(changeDecoded)
		if err != nil {
			return ledger.Txid{}, wrapErr("send", err)
		}
		mtx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
	}

	hash, err := w.cfg.RPC.SendRawTransaction(mtx, false)
	if err != nil {
		return ledger.Txid{}, wrapErr("send", err)
	}
	return ledger.NewBitcoinTxid(hash.String()), nil
}

// SpendP2WSH builds, signs (via the caller-supplied witness builder) and
// broadcasts a transaction spending the single given HTLC output to to.
// expiry, if non-zero, is set as the transaction's nLockTime (required for
// a refund per spec §4.2), and forces nSequence below the max so the
// locktime is honored by consensus.
func (w *Wallet) SpendP2WSH(
	outpoint wire.OutPoint, outputAmt btcutil.Amount, to ledger.Address,
	feePerByte float64, expiry uint32, builder WitnessBuilder,
) (ledger.Txid, error) {

	addr, err := btcutil.DecodeAddress(to.String(), w.cfg.NetParams)
	if err != nil {
		return ledger.Txid{}, wrapErr("spend_p2wsh", fmt.Errorf("decoding destination: %w", err))
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return ledger.Txid{}, wrapErr("spend_p2wsh", err)
	}

	mtx := wire.NewMsgTx(wire.TxVersion)
	sequence := uint32(wire.MaxTxInSequenceNum)
	if expiry > 0 {
		mtx.LockTime = expiry
		sequence = wire.MaxTxInSequenceNum - 1
	}
	mtx.AddTxIn(&wire.TxIn{PreviousOutPoint: outpoint, Sequence: sequence})
	mtx.AddTxOut(wire.NewTxOut(0, pkScript)) // value patched below once fee is known

	witness, err := builder(mtx, outputAmt)
	if err != nil {
		return ledger.Txid{}, wrapErr("spend_p2wsh", err)
	}
	mtx.TxIn[0].Witness = witness

	vsize := mempoolVsize(mtx)
	fee := btcutil.Amount(float64(vsize) * feePerByte)
	value := outputAmt - fee
	if value < dustLimit {
		return ledger.Txid{}, wrapErr("spend_p2wsh", fmt.Errorf(
			"fee rate %.2f sat/vB against output %s produces a dust "+
				"spend of %s", feePerByte, outputAmt, value,
		))
	}
	mtx.TxOut[0].Value = int64(value)

	// The witness signs over TxOut[0].Value, so it must be rebuilt now
	// that the final value is known.
	witness, err = builder(mtx, outputAmt)
	if err != nil {
		return ledger.Txid{}, wrapErr("spend_p2wsh", err)
	}
	mtx.TxIn[0].Witness = witness

	hash, err := w.cfg.RPC.SendRawTransaction(mtx, false)
	if err != nil {
		return ledger.Txid{}, wrapErr("spend_p2wsh", err)
	}
	return ledger.NewBitcoinTxid(hash.String()), nil
}

// estimateVsize is a rough virtual-size estimate for a P2WPKH-spending
// transaction with the given input/output count, used only to size the
// plain Send's change output before any signature exists.
func estimateVsize(numInputs, numOutputs int) int {
	const baseOverhead = 10
	const p2wpkhInput = 68 // witness-discounted input vsize
	const output = 31
	return baseOverhead + numInputs*p2wpkhInput + numOutputs*output
}

// mempoolVsize computes the actual virtual size of a fully-witnessed
// transaction: ceil((3*stripped_size + total_size) / 4), the standard
// BIP-141 weight-to-vsize conversion.
func mempoolVsize(mtx *wire.MsgTx) int {
	strippedSize := mtx.SerializeSizeStripped()
	totalSize := mtx.SerializeSize()
	weight := strippedSize*3 + totalSize
	return (weight + 3) / 4
}

func selectUtxos(utxos []Utxo, target btcutil.Amount, feePerByte float64) ([]Utxo, btcutil.Amount, error) {
	var selected []Utxo
	var total btcutil.Amount

	for _, u := range utxos {
		selected = append(selected, u)
		total += u.Value

		fee := btcutil.Amount(float64(estimateVsize(len(selected), 2)) * feePerByte)
		if total >= target+fee {
			return selected, total, nil
		}
	}
	return nil, 0, fmt.Errorf("insufficient utxos to cover %s plus fee", target)
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("btcwallet: %s: %w", op, &walletrpc.Error{Op: op, Err: err})
}
