package main

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/hashbridge/swapd/htlc"
	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/swap"
	"github.com/hashbridge/swapd/walletrpc"
)

// dustLimit mirrors the wallet adapter's minimum non-dust output value.
const dustLimit = btcutil.Amount(294)

// htlcSigner implements action.BitcoinSigner: it builds and signs (but
// never broadcasts) the transaction spending the swap's Bitcoin HTLC
// output via its redeem or refund clause, using the per-swap transient
// key at m/0'/9939'/<swap_id_index>'.
type htlcSigner struct {
	master *hdkeychain.ExtendedKey
	net    *chaincfg.Params
}

// SignRedeem builds the redeem spend: witness <sig> <pubkey> <secret>
// 0x01, no locktime.
//
// NOTE: Part of the action.BitcoinSigner interface.
func (s *htlcSigner) SignRedeem(st swap.State, to ledger.Address, feePerByte float64) (string, error) {
	if st.Secret == nil {
		return "", fmt.Errorf("swap %s: secret not known", st.SwapID)
	}
	secret := *st.Secret

	return s.signSpend(st, to, feePerByte, 0,
		func(key *btcec.PrivateKey, script []byte, amt btcutil.Amount, tx *wire.MsgTx) (wire.TxWitness, error) {
			return htlc.RedeemWitness(script, amt, key, tx, secret)
		},
	)
}

// SignRefund builds the refund spend: witness <sig> <pubkey> 0x00, with
// nLockTime set to the HTLC's expiry and nSequence below the max so
// consensus honors it (spec §4.2).
//
// NOTE: Part of the action.BitcoinSigner interface.
func (s *htlcSigner) SignRefund(st swap.State, to ledger.Address, feePerByte float64) (string, error) {
	leg := bitcoinLeg(st)
	return s.signSpend(st, to, feePerByte, uint32(leg.expiry),
		func(key *btcec.PrivateKey, script []byte, amt btcutil.Amount, tx *wire.MsgTx) (wire.TxWitness, error) {
			return htlc.RefundWitness(script, amt, key, tx)
		},
	)
}

type witnessFn func(*btcec.PrivateKey, []byte, btcutil.Amount, *wire.MsgTx) (wire.TxWitness, error)

func (s *htlcSigner) signSpend(
	st swap.State, to ledger.Address, feePerByte float64, lockTime uint32,
	buildWitness witnessFn,
) (string, error) {

	leg := bitcoinLeg(st)
	if leg.fundedTxid.IsZero() {
		return "", fmt.Errorf("swap %s: bitcoin HTLC not yet funded", st.SwapID)
	}

	key, err := walletrpc.SwapIdentityPath(s.master, swapIDIndex(st.SwapID), s.net)
	if err != nil {
		return "", err
	}

	script, err := htlc.BitcoinScript(htlc.BitcoinParams{
		RefundIdentity: leg.refund,
		RedeemIdentity: leg.redeem,
		SecretHash:     st.Request.SecretHash,
		Expiry:         leg.expiry,
	})
	if err != nil {
		return "", err
	}

	fundedHash, err := chainhash.NewHashFromStr(leg.fundedTxid.String())
	if err != nil {
		return "", fmt.Errorf("swap %s: invalid funded txid: %w", st.SwapID, err)
	}

	destAddr, err := btcutil.DecodeAddress(to.String(), s.net)
	if err != nil {
		return "", fmt.Errorf("decoding destination: %w", err)
	}
	pkScript, err := txscript.PayToAddrScript(destAddr)
	if err != nil {
		return "", err
	}

	outputAmt := btcutil.Amount(leg.amount)

	mtx := wire.NewMsgTx(wire.TxVersion)
	sequence := uint32(wire.MaxTxInSequenceNum)
	if lockTime > 0 {
		mtx.LockTime = lockTime
		sequence = wire.MaxTxInSequenceNum - 1
	}
	mtx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(fundedHash, leg.fundedVout),
		Sequence:         sequence,
	})
	mtx.AddTxOut(wire.NewTxOut(int64(outputAmt), pkScript))

	// Sign once to learn the final virtual size, price the fee off it,
	// then re-sign over the adjusted output value.
	witness, err := buildWitness(key, script, outputAmt, mtx)
	if err != nil {
		return "", err
	}
	mtx.TxIn[0].Witness = witness

	vsize := mempoolVsize(mtx)
	fee := btcutil.Amount(float64(vsize) * feePerByte)
	value := outputAmt - fee
	if value < dustLimit {
		return "", fmt.Errorf(
			"fee rate %.2f sat/vB against output %s produces a dust spend of %s",
			feePerByte, outputAmt, value,
		)
	}
	mtx.TxOut[0].Value = int64(value)

	witness, err = buildWitness(key, script, outputAmt, mtx)
	if err != nil {
		return "", err
	}
	mtx.TxIn[0].Witness = witness

	var buf bytes.Buffer
	if err := mtx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// bitcoinLegInfo names the fields of a swap's Bitcoin leg the signer
// needs.
type bitcoinLegInfo struct {
	refund     ledger.PublicKey
	redeem     ledger.PublicKey
	expiry     ledger.Timestamp
	amount     ledger.BitcoinAmount
	fundedTxid ledger.Txid
	fundedVout uint32
}

// bitcoinLeg locates the swap's Bitcoin side; exactly one leg is Bitcoin
// in every supported kind.
func bitcoinLeg(st swap.State) bitcoinLegInfo {
	var redeem, refund ledger.PublicKey
	if st.Request.AlphaLedger.Chain == ledger.ChainBitcoin {
		refund = st.Request.AlphaLedgerRefundIdentity
		if st.Accept != nil {
			redeem = st.Accept.AlphaLedgerRedeemIdentity
		}
		return bitcoinLegInfo{
			refund:     refund,
			redeem:     redeem,
			expiry:     st.Request.AlphaExpiry,
			amount:     st.Request.AlphaAsset.Bitcoin,
			fundedTxid: st.AlphaFundedTxid,
			fundedVout: st.AlphaFundedVout,
		}
	}

	redeem = st.Request.BetaLedgerRedeemIdentity
	if st.Accept != nil {
		refund = st.Accept.BetaLedgerRefundIdentity
	}
	return bitcoinLegInfo{
		refund:     refund,
		redeem:     redeem,
		expiry:     st.Request.BetaExpiry,
		amount:     st.Request.BetaAsset.Bitcoin,
		fundedTxid: st.BetaFundedTxid,
		fundedVout: st.BetaFundedVout,
	}
}

// mempoolVsize computes ceil((3*stripped + total) / 4), the BIP-141
// weight-to-vsize conversion.
func mempoolVsize(mtx *wire.MsgTx) int {
	strippedSize := mtx.SerializeSizeStripped()
	totalSize := mtx.SerializeSize()
	weight := strippedSize*3 + totalSize
	return (weight + 3) / 4
}
