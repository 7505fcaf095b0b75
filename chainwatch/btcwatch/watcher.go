// Package btcwatch implements chainwatch's query-and-match loop against a
// Bitcoin full node. It is a direct generalization of the teacher's
// btcdnotify (itself an implementation of chainntfs.ChainNotifier) to the
// two Bitcoin-specific queries named in spec §4.3: BitcoinFunded and
// BitcoinSpent.
package btcwatch

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"

	"github.com/hashbridge/swapd/chainwatch"
	"github.com/hashbridge/swapd/htlc"
	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/ticker"
)

// RPCClient is the subset of btcd's rpcclient.Client this watcher needs.
// Narrowing to an interface, rather than depending on *rpcclient.Client
// directly, matches the teacher's own pattern of hiding a concrete chain
// backend behind an interface (chainntfs.ChainNotifier).
type RPCClient interface {
	GetBlockCount() (int64, error)
	GetBlockHash(blockHeight int64) (*chainhash.Hash, error)
	GetBlock(blockHash *chainhash.Hash) (*wire.MsgBlock, error)
}

// Config bundles a Watcher's dependencies.
type Config struct {
	RPC       RPCClient
	Ledger    ledger.Ledger
	NetParams *chaincfg.Params
	Ticker    ticker.Ticker
	Log       btclog.Logger
}

type pendingQuery struct {
	id        chainwatch.QueryID
	funded    *chainwatch.BitcoinFunded
	spent     *chainwatch.BitcoinSpent
	remaining uint32 // set once matched; counts down to zero
	matched   *htlc.Event
	out       chan htlc.Event
}

// Watcher implements chainwatch's query loop for the Bitcoin ledger.
type Watcher struct {
	cfg Config

	mu      sync.Mutex
	queries map[chainwatch.QueryID]*pendingQuery
	nextID  chainwatch.QueryID

	tipHeight int64
	tipHash   chainhash.Hash

	quit chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Bitcoin Watcher. Call Start to begin polling.
func New(cfg Config) *Watcher {
	return &Watcher{
		cfg:     cfg,
		queries: make(map[chainwatch.QueryID]*pendingQuery),
		quit:    make(chan struct{}),
	}
}

// Start launches the watcher's polling loop at the configured per-ledger
// tick interval (spec §4.3 "Scheduling": Bitcoin polls at one block time).
func (w *Watcher) Start() error {
	height, err := w.cfg.RPC.GetBlockCount()
	if err != nil {
		return fmt.Errorf("btcwatch: fetching initial tip: %w", err)
	}
	hash, err := w.cfg.RPC.GetBlockHash(height)
	if err != nil {
		return fmt.Errorf("btcwatch: fetching initial tip hash: %w", err)
	}
	w.tipHeight = height
	w.tipHash = *hash

	w.cfg.Ticker.Resume()
	w.wg.Add(1)
	go w.pollLoop()
	return nil
}

// Stop halts the polling loop.
func (w *Watcher) Stop() error {
	close(w.quit)
	w.cfg.Ticker.Stop()
	w.wg.Wait()
	return nil
}

// WatchFunded registers a BitcoinFunded query and returns a channel that
// fires once with the matching event, plus a QueryID used to cancel the
// registration early.
func (w *Watcher) WatchFunded(q chainwatch.BitcoinFunded) (<-chan htlc.Event, chainwatch.QueryID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	pq := &pendingQuery{id: id, funded: &q, out: make(chan htlc.Event, 1)}
	w.queries[id] = pq
	return pq.out, id
}

// WatchSpent registers a BitcoinSpent query.
func (w *Watcher) WatchSpent(q chainwatch.BitcoinSpent) (<-chan htlc.Event, chainwatch.QueryID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	pq := &pendingQuery{id: id, spent: &q, out: make(chan htlc.Event, 1)}
	w.queries[id] = pq
	return pq.out, id
}

// Cancel drops a registered query. Per spec §6's cancellation semantics, a
// dropped swap's watches stop consuming resources immediately; no event is
// ever sent on the already-returned channel.
func (w *Watcher) Cancel(id chainwatch.QueryID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.queries, id)
}

func (w *Watcher) pollLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.cfg.Ticker.Ticks():
			w.pollOnce()
		case <-w.quit:
			return
		}
	}
}

func (w *Watcher) pollOnce() {
	height, err := w.cfg.RPC.GetBlockCount()
	if err != nil {
		if w.cfg.Log != nil {
			w.cfg.Log.Warnf("btcwatch: GetBlockCount failed: %v", err)
		}
		return
	}

	for h := w.tipHeight + 1; h <= height; h++ {
		if err := w.connectBlock(h); err != nil {
			if w.cfg.Log != nil {
				w.cfg.Log.Warnf("btcwatch: connecting block %d: %v", h, err)
			}
			return
		}
	}
}

func (w *Watcher) connectBlock(height int64) error {
	hash, err := w.cfg.RPC.GetBlockHash(height)
	if err != nil {
		return err
	}
	block, err := w.cfg.RPC.GetBlock(hash)
	if err != nil {
		return err
	}

	// Spec §4.3 step 1: assert parent-hash continuity, log (don't fail)
	// on a detected reorg.
	if w.tipHeight > 0 && block.Header.PrevBlock != w.tipHash {
		if w.cfg.Log != nil {
			w.cfg.Log.Warnf(
				"btcwatch: reorg detected at height %d: expected "+
					"parent %s, got %s", height, w.tipHash, block.Header.PrevBlock,
			)
		}
	}

	w.evaluateBlock(block)

	w.tipHeight = height
	w.tipHash = *hash
	return nil
}

func (w *Watcher) evaluateBlock(block *wire.MsgBlock) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, tx := range block.Transactions {
		txHash := tx.TxHash()

		for id, pq := range w.queries {
			if pq.matched != nil {
				continue
			}

			switch {
			case pq.funded != nil:
				if amt, vout, ok := w.matchesFunded(tx, pq.funded); ok {
					pq.matched = &htlc.Event{
						Kind:     htlc.EventFunded,
						Ledger:   w.cfg.Ledger,
						Txid:     ledger.NewBitcoinTxid(txHash.String()),
						Location: pq.funded.Addr,
						Vout:     vout,
						Amount:   ledger.NewBitcoinAsset(amt),
					}
					pq.remaining = pq.funded.ConfirmationsNeeded
				}
			case pq.spent != nil:
				if in, ok := matchesSpent(tx, pq.spent); ok {
					ev := &htlc.Event{
						Kind:   htlc.EventRefunded,
						Ledger: w.cfg.Ledger,
						Txid:   ledger.NewBitcoinTxid(txHash.String()),
					}
					// The witness selector distinguishes the two spend
					// clauses: <sig> <pubkey> <secret> 0x01 <script>
					// redeems, <sig> <pubkey> <empty> <script> refunds
					// (spec §4.2). A redeem carries the revealed
					// secret, which Bob's side must extract.
					if secret, ok := redeemSecret(in.Witness); ok {
						ev.Kind = htlc.EventRedeemed
						ev.Secret = secret
					}
					pq.matched = ev
					pq.remaining = pq.spent.ConfirmationsNeeded
				}
			}

			if pq.matched != nil {
				w.maybeEmit(id, pq)
			}
		}
	}

	// Decrement every still-pending (matched but not yet confirmed)
	// query by exactly one per newly connected block, per spec §4.3
	// "Scheduling" item 4 and the corrected semantics noted in
	// DESIGN.md/spec §9.
	for id, pq := range w.queries {
		if pq.matched == nil || pq.remaining == 0 {
			continue
		}
		pq.remaining--
		w.maybeEmit(id, pq)
	}
}

// maybeEmit delivers pq's matched event once its confirmation countdown
// has reached zero, and removes the query. Per spec §4.3 "Edge policies,"
// a query with ConfirmationsNeeded of 0 or 1 is emitted immediately.
func (w *Watcher) maybeEmit(id chainwatch.QueryID, pq *pendingQuery) {
	if pq.matched == nil || pq.remaining > 0 {
		return
	}
	pq.matched.Confirmations = confirmationsNeeded(pq)
	pq.out <- *pq.matched
	delete(w.queries, id)
}

func confirmationsNeeded(pq *pendingQuery) uint32 {
	if pq.funded != nil {
		return pq.funded.ConfirmationsNeeded
	}
	return pq.spent.ConfirmationsNeeded
}

func (w *Watcher) matchesFunded(tx *wire.MsgTx, q *chainwatch.BitcoinFunded) (ledger.BitcoinAmount, uint32, bool) {
	for vout, out := range tx.TxOut {
		if !w.payToAddress(out.PkScript, q.Addr) {
			continue
		}
		amt := ledger.BitcoinAmount(out.Value)
		if amt.GreaterOrEqual(q.MinValue) {
			return amt, uint32(vout), true
		}

		// A payment to the HTLC address below the expected value can
		// never satisfy this query; surface it for the operator (spec
		// §7 InsufficientFunding) instead of silently skipping it.
		if w.cfg.Log != nil {
			w.cfg.Log.Errorf("btcwatch: tx %s pays %s to %s, below "+
				"the expected %s", tx.TxHash(), amt, q.Addr, q.MinValue)
		}
	}
	return 0, 0, false
}

func matchesSpent(tx *wire.MsgTx, q *chainwatch.BitcoinSpent) (*wire.TxIn, bool) {
	for _, in := range tx.TxIn {
		if in.PreviousOutPoint.Index == q.Vout &&
			in.PreviousOutPoint.Hash.String() == q.TxHash.String() {
			return in, true
		}
	}
	return nil, false
}

// redeemSecret inspects a spending input's witness stack and, when it
// selects the redeem clause with a 32-byte preimage, returns that secret.
// A redeem-shaped witness whose preimage is not exactly 32 bytes is
// treated as not-a-redeem (spec §7 InvalidRedeemTransaction: ignored).
func redeemSecret(witness wire.TxWitness) (ledger.Secret, bool) {
	var secret ledger.Secret
	if len(witness) != 5 {
		return secret, false
	}
	selector := witness[3]
	if len(selector) != 1 || selector[0] != 0x01 {
		return secret, false
	}
	if len(witness[2]) != len(secret) {
		return secret, false
	}
	copy(secret[:], witness[2])
	return secret, true
}

// payToAddress reports whether pkScript is a P2WSH output paying addr, by
// extracting the address pkScript actually pays and comparing its
// canonical text form, the same comparison spec §8 round-trip law 7 makes
// between a locally-derived HTLC address and the one actually funded
// on-chain.
func (w *Watcher) payToAddress(pkScript []byte, addr ledger.Address) bool {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, w.cfg.NetParams)
	if err != nil || len(addrs) != 1 {
		return false
	}
	return addrs[0].EncodeAddress() == addr.String()
}
