package btcwatch

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/hashbridge/swapd/chainwatch"
	"github.com/hashbridge/swapd/htlc"
	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/ticker"
)

// fakeChain is an in-memory block source implementing RPCClient.
type fakeChain struct {
	mu     sync.Mutex
	blocks []*wire.MsgBlock
}

func newFakeChain() *fakeChain {
	genesis := &wire.MsgBlock{Header: wire.BlockHeader{Nonce: 0}}
	return &fakeChain{blocks: []*wire.MsgBlock{genesis}}
}

// extend appends a block carrying txs, linked to the current tip.
func (c *fakeChain) extend(txs ...*wire.MsgTx) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.blocks[len(c.blocks)-1]
	block := &wire.MsgBlock{
		Header: wire.BlockHeader{
			PrevBlock: tip.BlockHash(),
			Nonce:     uint32(len(c.blocks)),
		},
		Transactions: txs,
	}
	c.blocks = append(c.blocks, block)
}

func (c *fakeChain) GetBlockCount() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.blocks) - 1), nil
}

func (c *fakeChain) GetBlockHash(height int64) (*chainhash.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height < 0 || height >= int64(len(c.blocks)) {
		return nil, fmt.Errorf("no block at height %d", height)
	}
	hash := c.blocks[height].BlockHash()
	return &hash, nil
}

func (c *fakeChain) GetBlock(hash *chainhash.Hash) (*wire.MsgBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.blocks {
		if b.BlockHash() == *hash {
			return b, nil
		}
	}
	return nil, fmt.Errorf("no block %s", hash)
}

func newTestWatcher(t *testing.T) (*Watcher, *fakeChain, *ticker.Force) {
	t.Helper()

	chain := newFakeChain()
	force := ticker.NewForce(time.Second)
	w := New(Config{
		RPC:       chain,
		Ledger:    ledger.Bitcoin("regtest"),
		NetParams: &chaincfg.RegressionNetParams,
		Ticker:    force,
	})
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Stop() })
	return w, chain, force
}

// tick drives one poll and waits for it to finish: the second send can't
// be received until the first poll returns, so by the time tick returns,
// the block added before it has been fully evaluated.
func tick(force *ticker.Force) {
	force.Force <- time.Time{}
	force.Force <- time.Time{}
}

func htlcOutput(t *testing.T, value int64) (*wire.MsgTx, ledger.Address, []byte) {
	t.Helper()

	script, err := htlc.BitcoinScript(htlc.BitcoinParams{
		RefundIdentity: ledger.PublicKey{0x02, 0x01},
		RedeemIdentity: ledger.PublicKey{0x03, 0x02},
		SecretHash:     ledger.SecretHash{0xbf},
		Expiry:         1_700_086_400,
	})
	require.NoError(t, err)

	addr, pkScript, err := htlc.BitcoinAddress(htlc.BitcoinParams{
		RefundIdentity: ledger.PublicKey{0x02, 0x01},
		RedeemIdentity: ledger.PublicKey{0x03, 0x02},
		SecretHash:     ledger.SecretHash{0xbf},
		Expiry:         1_700_086_400,
	}, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))
	return tx, addr, script
}

func TestFundedQueryMatchesImmediately(t *testing.T) {
	w, chain, force := newTestWatcher(t)

	fundTx, addr, _ := htlcOutput(t, 100_000_000)
	ch, _ := w.WatchFunded(chainwatch.BitcoinFunded{
		Addr:                addr,
		MinValue:            100_000_000,
		ConfirmationsNeeded: 1,
	})

	chain.extend(fundTx)
	tick(force)

	select {
	case ev := <-ch:
		require.Equal(t, htlc.EventFunded, ev.Kind)
		require.Equal(t, fundTx.TxHash().String(), ev.Txid.String())
		require.Equal(t, addr, ev.Location)
		require.Equal(t, uint32(0), ev.Vout)
		require.Equal(t, ledger.BitcoinAmount(100_000_000), ev.Amount.Bitcoin)
	case <-time.After(time.Second):
		t.Fatal("funded event never fired")
	}
}

// TestConfirmationCountdown covers the corrected pending-transaction
// semantics: a query needing three confirmations matches at its inclusion
// block and emits exactly two blocks later.
func TestConfirmationCountdown(t *testing.T) {
	w, chain, force := newTestWatcher(t)

	fundTx, addr, _ := htlcOutput(t, 50_000)
	ch, _ := w.WatchFunded(chainwatch.BitcoinFunded{
		Addr:                addr,
		MinValue:            50_000,
		ConfirmationsNeeded: 3,
	})

	chain.extend(fundTx) // inclusion: counts as the first confirmation
	tick(force)
	select {
	case <-ch:
		t.Fatal("emitted before reaching the confirmation depth")
	default:
	}

	chain.extend() // second confirmation
	tick(force)
	select {
	case <-ch:
		t.Fatal("emitted one block early")
	default:
	}

	chain.extend() // third confirmation
	tick(force)
	select {
	case ev := <-ch:
		require.Equal(t, uint32(3), ev.Confirmations)
	case <-time.After(time.Second):
		t.Fatal("event never fired at depth")
	}
}

func TestBelowMinValueNeverMatches(t *testing.T) {
	w, chain, force := newTestWatcher(t)

	fundTx, addr, _ := htlcOutput(t, 99)
	ch, _ := w.WatchFunded(chainwatch.BitcoinFunded{
		Addr:                addr,
		MinValue:            100_000,
		ConfirmationsNeeded: 1,
	})

	chain.extend(fundTx)
	tick(force)

	select {
	case <-ch:
		t.Fatal("an underfunded output must not satisfy the query")
	default:
	}
}

// TestSpentQueryClassifiesRedeem asserts a spend via the redeem clause is
// reported as a redemption with the 32-byte secret extracted from the
// witness, which is how Bob learns the secret on a Bitcoin beta leg.
func TestSpentQueryClassifiesRedeem(t *testing.T) {
	w, chain, force := newTestWatcher(t)

	fundTx, _, script := htlcOutput(t, 100_000)
	fundedHash := fundTx.TxHash()
	chain.extend(fundTx)
	tick(force)

	ch, _ := w.WatchSpent(chainwatch.BitcoinSpent{
		TxHash:              ledger.NewBitcoinTxid(fundedHash.String()),
		Vout:                0,
		ConfirmationsNeeded: 1,
	})

	var secret ledger.Secret
	secret[0], secret[31] = 0x42, 0x99

	spend := wire.NewMsgTx(wire.TxVersion)
	spend.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&fundedHash, 0),
		Witness: wire.TxWitness{
			[]byte{0x30, 0x45}, []byte{0x03, 0x02}, secret[:], {0x01}, script,
		},
	})
	spend.AddTxOut(wire.NewTxOut(90_000, []byte{txscript.OP_TRUE}))

	chain.extend(spend)
	tick(force)

	select {
	case ev := <-ch:
		require.Equal(t, htlc.EventRedeemed, ev.Kind)
		require.Equal(t, secret, ev.Secret)
	case <-time.After(time.Second):
		t.Fatal("spend event never fired")
	}
}

func TestSpentQueryClassifiesRefund(t *testing.T) {
	w, chain, force := newTestWatcher(t)

	fundTx, _, script := htlcOutput(t, 100_000)
	fundedHash := fundTx.TxHash()
	chain.extend(fundTx)
	tick(force)

	ch, _ := w.WatchSpent(chainwatch.BitcoinSpent{
		TxHash:              ledger.NewBitcoinTxid(fundedHash.String()),
		Vout:                0,
		ConfirmationsNeeded: 1,
	})

	spend := wire.NewMsgTx(wire.TxVersion)
	spend.LockTime = 1_700_086_400
	spend.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&fundedHash, 0),
		Sequence:         wire.MaxTxInSequenceNum - 1,
		Witness: wire.TxWitness{
			[]byte{0x30, 0x45}, []byte{0x02, 0x01}, {0x00}, script,
		},
	})
	spend.AddTxOut(wire.NewTxOut(90_000, []byte{txscript.OP_TRUE}))

	chain.extend(spend)
	tick(force)

	select {
	case ev := <-ch:
		require.Equal(t, htlc.EventRefunded, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("spend event never fired")
	}
}

func TestCancelDropsQuery(t *testing.T) {
	w, chain, force := newTestWatcher(t)

	fundTx, addr, _ := htlcOutput(t, 100_000)
	ch, qid := w.WatchFunded(chainwatch.BitcoinFunded{
		Addr:                addr,
		MinValue:            100_000,
		ConfirmationsNeeded: 1,
	})
	w.Cancel(qid)

	chain.extend(fundTx)
	tick(force)

	select {
	case <-ch:
		t.Fatal("cancelled query must never emit")
	default:
	}
}
