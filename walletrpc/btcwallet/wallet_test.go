package btcwallet

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/hashbridge/swapd/htlc"
	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/walletrpc"
)

// mockRPC records broadcasts and serves a fixed UTXO set.
type mockRPC struct {
	utxos []Utxo
	sent  []*wire.MsgTx
}

func (m *mockRPC) SendRawTransaction(tx *wire.MsgTx, _ bool) (*chainhash.Hash, error) {
	m.sent = append(m.sent, tx)
	hash := tx.TxHash()
	return &hash, nil
}

func (m *mockRPC) ListUnspent() ([]Utxo, error) {
	return m.utxos, nil
}

func newTestWallet(t *testing.T, utxos []Utxo) (*Wallet, *mockRPC) {
	t.Helper()

	seed := make([]byte, hdkeychain.RecommendedSeedLen)
	seed[0] = 0x01
	master, err := hdkeychain.NewMaster(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	rpc := &mockRPC{utxos: utxos}
	return New(Config{
		RPC:       rpc,
		NetParams: &chaincfg.RegressionNetParams,
		MasterKey: master,
	}), rpc
}

func someUtxos(t *testing.T) []Utxo {
	t.Helper()

	hash, err := chainhash.NewHashFromStr(
		"4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b",
	)
	require.NoError(t, err)
	return []Utxo{{
		OutPoint: *wire.NewOutPoint(hash, 0),
		Value:    btcutil.Amount(100_000_000),
	}}
}

func TestBalanceSumsUtxos(t *testing.T) {
	t.Parallel()

	w, _ := newTestWallet(t, someUtxos(t))
	balance, err := w.Balance()
	require.NoError(t, err)
	require.Equal(t, ledger.BitcoinAmount(100_000_000), balance)
}

func TestSendBuildsChangeOutput(t *testing.T) {
	t.Parallel()

	w, rpc := newTestWallet(t, someUtxos(t))
	dest, err := w.NewAddress()
	require.NoError(t, err)

	_, err = w.Send(dest, 40_000_000, 10)
	require.NoError(t, err)
	require.Len(t, rpc.sent, 1)

	tx := rpc.sent[0]
	require.Len(t, tx.TxIn, 1)
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, int64(40_000_000), tx.TxOut[0].Value)
}

func TestSendRejectsInsufficientFunds(t *testing.T) {
	t.Parallel()

	w, rpc := newTestWallet(t, someUtxos(t))
	dest, err := w.NewAddress()
	require.NoError(t, err)

	_, err = w.Send(dest, 200_000_000, 10)
	require.Error(t, err)
	require.Empty(t, rpc.sent)
}

// TestSpendP2WSHRejectsDustChange covers spec §4.4's fee policy: a fee
// rate that would leave less than the dust limit is rejected before
// anything is broadcast.
func TestSpendP2WSHRejectsDustChange(t *testing.T) {
	t.Parallel()

	w, rpc := newTestWallet(t, nil)
	dest, err := w.NewAddress()
	require.NoError(t, err)

	hash, err := chainhash.NewHashFromStr(
		"4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b",
	)
	require.NoError(t, err)

	seed := make([]byte, hdkeychain.RecommendedSeedLen)
	seed[0] = 0x02
	master, err := hdkeychain.NewMaster(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	key, err := walletrpc.SwapIdentityPath(master, 1, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	script, err := htlc.BitcoinScript(htlc.BitcoinParams{
		RefundIdentity: ledger.PublicKey(key.PubKey().SerializeCompressed()),
		RedeemIdentity: ledger.PublicKey{0x03, 0x01},
		SecretHash:     ledger.SecretHash{0xbf},
		Expiry:         1_700_086_400,
	})
	require.NoError(t, err)

	// A 1000-sat output cannot absorb any realistic fee without dipping
	// below the dust limit.
	_, err = w.SpendP2WSH(
		*wire.NewOutPoint(hash, 0), btcutil.Amount(1000), dest, 25.0,
		1_700_086_400,
		func(tx *wire.MsgTx, amt btcutil.Amount) (wire.TxWitness, error) {
			return htlc.RefundWitness(script, amt, key, tx)
		},
	)
	require.Error(t, err)
	require.Contains(t, err.Error(), "dust")
	require.Empty(t, rpc.sent)
}

// TestSpendP2WSHSetsRefundLockTime checks the refund preconditions of
// spec §4.2: nLockTime carries the expiry and nSequence sits below the
// max so consensus honors it.
func TestSpendP2WSHSetsRefundLockTime(t *testing.T) {
	t.Parallel()

	w, rpc := newTestWallet(t, nil)
	dest, err := w.NewAddress()
	require.NoError(t, err)

	hash, err := chainhash.NewHashFromStr(
		"4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b",
	)
	require.NoError(t, err)

	seed := make([]byte, hdkeychain.RecommendedSeedLen)
	seed[0] = 0x03
	master, err := hdkeychain.NewMaster(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	key, err := walletrpc.SwapIdentityPath(master, 2, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	script, err := htlc.BitcoinScript(htlc.BitcoinParams{
		RefundIdentity: ledger.PublicKey(key.PubKey().SerializeCompressed()),
		RedeemIdentity: ledger.PublicKey{0x03, 0x01},
		SecretHash:     ledger.SecretHash{0xbf},
		Expiry:         1_700_086_400,
	})
	require.NoError(t, err)

	const expiry = uint32(1_700_086_400)
	_, err = w.SpendP2WSH(
		*wire.NewOutPoint(hash, 0), btcutil.Amount(100_000), dest, 2.0,
		expiry,
		func(tx *wire.MsgTx, amt btcutil.Amount) (wire.TxWitness, error) {
			return htlc.RefundWitness(script, amt, key, tx)
		},
	)
	require.NoError(t, err)
	require.Len(t, rpc.sent, 1)

	tx := rpc.sent[0]
	require.Equal(t, expiry, tx.LockTime)
	require.Less(t, tx.TxIn[0].Sequence, uint32(wire.MaxTxInSequenceNum))
	require.Len(t, tx.TxIn[0].Witness, 4)
}
