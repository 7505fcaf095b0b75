package htlc

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/hashbridge/swapd/ledger"
)

func testBitcoinParams(t *testing.T) (BitcoinParams, *btcec.PrivateKey, *btcec.PrivateKey, ledger.Secret) {
	t.Helper()

	redeemKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	refundKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var secret ledger.Secret
	copy(secret[:], bytes.Repeat([]byte{0x42}, 32))
	secretHash := ledger.SecretHash(sha256.Sum256(secret[:]))

	p := BitcoinParams{
		RefundIdentity: ledger.PublicKey(refundKey.PubKey().SerializeCompressed()),
		RedeemIdentity: ledger.PublicKey(redeemKey.PubKey().SerializeCompressed()),
		SecretHash:     secretHash,
		Expiry:         ledger.Timestamp(500_000_000),
	}
	return p, redeemKey, refundKey, secret
}

func TestBitcoinScriptIsDeterministic(t *testing.T) {
	p, _, _, _ := testBitcoinParams(t)

	script1, err := BitcoinScript(p)
	require.NoError(t, err)
	script2, err := BitcoinScript(p)
	require.NoError(t, err)

	require.Equal(t, script1, script2)
	require.NotEmpty(t, script1)
}

func TestBitcoinScriptDiffersByParam(t *testing.T) {
	p, _, _, _ := testBitcoinParams(t)

	base, err := BitcoinScript(p)
	require.NoError(t, err)

	p2 := p
	p2.Expiry = p.Expiry + 1
	different, err := BitcoinScript(p2)
	require.NoError(t, err)

	require.NotEqual(t, base, different)
}

func TestBitcoinAddressRoundTrip(t *testing.T) {
	p, _, _, _ := testBitcoinParams(t)

	addr, pkScript, err := BitcoinAddress(p, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	require.Equal(t, ledger.ChainBitcoin, addr.Chain())
	require.NotEmpty(t, addr.String())

	require.True(t, txscript.IsWitnessProgram(pkScript))
}

// TestRedeemWitnessSpendsScript builds the HTLC output, a spending
// transaction, and a redeem witness, then verifies the witness actually
// satisfies the script through the txscript VM, the same verification
// idiom the teacher uses in script_utils_test.go.
func TestRedeemWitnessSpendsScript(t *testing.T) {
	p, redeemKey, _, secret := testBitcoinParams(t)

	redeemScript, err := BitcoinScript(p)
	require.NoError(t, err)

	pkScript, err := witnessScriptHash(redeemScript)
	require.NoError(t, err)

	const outputValue = btcutil.Amount(100_000)

	fundingTx := wire.NewMsgTx(wire.TxVersion)
	fundingTx.AddTxOut(wire.NewTxOut(int64(outputValue), pkScript))

	spendTx := wire.NewMsgTx(wire.TxVersion)
	spendTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash:  fundingTx.TxHash(),
		Index: 0,
	}, nil, nil))
	spendTx.AddTxOut(wire.NewTxOut(int64(outputValue)-1000, pkScript))

	witness, err := RedeemWitness(redeemScript, outputValue, redeemKey, spendTx, secret)
	require.NoError(t, err)
	spendTx.TxIn[0].Witness = witness

	vm, err := txscript.NewEngine(
		pkScript, spendTx, 0,
		txscript.StandardVerifyFlags, nil, nil, int64(outputValue),
		txscript.NewCannedPrevOutputFetcher(pkScript, int64(outputValue)),
	)
	require.NoError(t, err)
	require.NoError(t, vm.Execute())
}

// TestRefundWitnessRejectsFinalSequence documents the precondition from
// spec §4.2: a refund spend must set nSequence < 0xffffffff for
// CHECKLOCKTIMEVERIFY to have effect.
func TestRefundWitnessRejectsFinalSequence(t *testing.T) {
	p, _, refundKey, _ := testBitcoinParams(t)

	redeemScript, err := BitcoinScript(p)
	require.NoError(t, err)

	spendTx := wire.NewMsgTx(wire.TxVersion)
	spendTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	spendTx.TxIn[0].Sequence = wire.MaxTxInSequenceNum

	_, err = RefundWitness(redeemScript, 100_000, refundKey, spendTx)
	require.Error(t, err)
}

func TestRefundWitnessSpendsScript(t *testing.T) {
	p, _, refundKey, _ := testBitcoinParams(t)

	redeemScript, err := BitcoinScript(p)
	require.NoError(t, err)

	pkScript, err := witnessScriptHash(redeemScript)
	require.NoError(t, err)

	const outputValue = btcutil.Amount(100_000)

	spendTx := wire.NewMsgTx(wire.TxVersion)
	spendTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 0}, nil, nil))
	spendTx.TxIn[0].Sequence = 0
	spendTx.LockTime = uint32(p.Expiry)
	spendTx.AddTxOut(wire.NewTxOut(int64(outputValue)-1000, pkScript))

	witness, err := RefundWitness(redeemScript, outputValue, refundKey, spendTx)
	require.NoError(t, err)
	spendTx.TxIn[0].Witness = witness

	vm, err := txscript.NewEngine(
		pkScript, spendTx, 0,
		txscript.StandardVerifyFlags, nil, nil, int64(outputValue),
		txscript.NewCannedPrevOutputFetcher(pkScript, int64(outputValue)),
	)
	require.NoError(t, err)
	require.NoError(t, vm.Execute())
}
