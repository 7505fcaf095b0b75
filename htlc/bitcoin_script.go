// Package htlc builds the on-chain HTLC contracts for both ledgers: a
// P2WSH script for Bitcoin, and contract bytecode for Ethereum ether and
// ERC-20 swaps. It also builds the witness stacks / calldata needed to
// redeem or refund each one.
package htlc

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/hashbridge/swapd/ledger"
)

// BitcoinParams bundles the fields that fully determine one party's
// Bitcoin-side HTLC, mirroring spec §3 "HTLC parameters (per ledger)".
type BitcoinParams struct {
	RefundIdentity ledger.PublicKey
	RedeemIdentity ledger.PublicKey
	SecretHash     ledger.SecretHash
	Expiry         ledger.Timestamp
}

// BitcoinScript constructs the P2WSH redeem script. Each branch checks the
// witness pubkey against its hash before checking the signature:
//
//	IF
//	    SHA256 <secret_hash> EQUALVERIFY
//	    DUP HASH160 <redeem_pubkey_hash> EQUALVERIFY CHECKSIG
//	ELSE
//	    <expiry> CHECKLOCKTIMEVERIFY DROP
//	    DUP HASH160 <refund_pubkey_hash> EQUALVERIFY CHECKSIG
//	ENDIF
//
// This is a simplified, single-HTLC specialization of the teacher's
// senderHTLCScript/receiverHTLCScript (lnwallet/script_utils.go), which
// additionally encode a revocation branch for the two-party commitment
// case that swaps, having no channel, don't need.
func BitcoinScript(p BitcoinParams) ([]byte, error) {
	redeemHash := btcutil.Hash160(p.RedeemIdentity)
	refundHash := btcutil.Hash160(p.RefundIdentity)

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(p.SecretHash[:])
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(redeemHash)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(int64(p.Expiry))
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(refundHash)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// witnessScriptHash generates the P2WSH output script paying to the
// version-0 witness program of the given redeem script. Grounded directly
// on the teacher's witnessScriptHash (lnwallet/script_utils.go).
func witnessScriptHash(redeemScript []byte) ([]byte, error) {
	bldr := txscript.NewScriptBuilder()
	bldr.AddOp(txscript.OP_0)
	scriptHash := sha256.Sum256(redeemScript)
	bldr.AddData(scriptHash[:])
	return bldr.Script()
}

// BitcoinAddress derives the deterministic P2WSH HTLC address for the given
// params, on the given network. This is the address both parties compute
// locally and compare against the funding transaction actually observed on
// chain (spec §8, round-trip law 7).
func BitcoinAddress(p BitcoinParams, net *chaincfg.Params) (ledger.Address, []byte, error) {
	redeemScript, err := BitcoinScript(p)
	if err != nil {
		return ledger.Address{}, nil, err
	}

	pkScript, err := witnessScriptHash(redeemScript)
	if err != nil {
		return ledger.Address{}, nil, err
	}

	scriptHash := sha256.Sum256(redeemScript)
	addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], net)
	if err != nil {
		return ledger.Address{}, nil, err
	}

	return ledger.NewBitcoinAddress(addr.EncodeAddress()), pkScript, nil
}

// RedeemWitness builds the witness stack that spends the HTLC output via
// its redemption clause: <sig> <pubkey> <secret> 0x01. The last element
// before the script is the branch selector: OP_IF pops 0x01 as true and
// runs the redeem branch.
func RedeemWitness(
	redeemScript []byte, outputAmt btcutil.Amount, redeemKey *btcec.PrivateKey,
	spendTx *wire.MsgTx, secret ledger.Secret,
) (wire.TxWitness, error) {

	hashCache := txscript.NewTxSigHashes(spendTx, txscript.NewCannedPrevOutputFetcher(
		redeemScript, int64(outputAmt),
	))
	sig, err := txscript.RawTxInWitnessSignature(
		spendTx, hashCache, 0, int64(outputAmt), redeemScript,
		txscript.SigHashAll, redeemKey,
	)
	if err != nil {
		return nil, fmt.Errorf("htlc: signing redeem witness: %w", err)
	}

	pubKey := redeemKey.PubKey().SerializeCompressed()

	return wire.TxWitness{
		sig, pubKey, secret[:], {0x01}, redeemScript,
	}, nil
}

// RefundWitness builds the witness stack that spends the HTLC output via
// its refund clause: <sig> <pubkey> <empty>. The empty selector is false,
// so OP_IF runs the ELSE (refund) branch; under MINIMALIF an empty element
// is the only accepted false value. The caller must set
// spendTx.LockTime >= expiry and TxIn[0].Sequence < 0xffffffff before
// calling, per spec §4.2's refund preconditions.
func RefundWitness(
	redeemScript []byte, outputAmt btcutil.Amount, refundKey *btcec.PrivateKey,
	spendTx *wire.MsgTx,
) (wire.TxWitness, error) {

	if spendTx.TxIn[0].Sequence == wire.MaxTxInSequenceNum {
		return nil, fmt.Errorf(
			"htlc: refund transaction must set nSequence < 0xffffffff " +
				"for nLockTime to be honored",
		)
	}

	hashCache := txscript.NewTxSigHashes(spendTx, txscript.NewCannedPrevOutputFetcher(
		redeemScript, int64(outputAmt),
	))
	sig, err := txscript.RawTxInWitnessSignature(
		spendTx, hashCache, 0, int64(outputAmt), redeemScript,
		txscript.SigHashAll, refundKey,
	)
	if err != nil {
		return nil, fmt.Errorf("htlc: signing refund witness: %w", err)
	}

	pubKey := refundKey.PubKey().SerializeCompressed()

	return wire.TxWitness{
		sig, pubKey, {}, redeemScript,
	}, nil
}
