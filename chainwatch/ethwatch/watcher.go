// Package ethwatch implements chainwatch's query-and-match loop against an
// Ethereum JSON-RPC node, generalizing the teacher's chainntfs.ChainNotifier
// shape to the two Ethereum-specific queries of spec §4.3: EthereumDeployed
// and EthereumCalled.
package ethwatch

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/btcsuite/btclog"

	"github.com/hashbridge/swapd/chainwatch"
	"github.com/hashbridge/swapd/htlc"
	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/ticker"
)

// RPCClient is the subset of go-ethereum's ethclient.Client this watcher
// needs, narrowed to an interface for the same reason btcwatch.RPCClient
// is: the teacher hides its chain backend behind an interface
// (chainntfs.ChainNotifier), not a concrete client type.
type RPCClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config bundles a Watcher's dependencies.
type Config struct {
	RPC    RPCClient
	Ledger ledger.Ledger
	Ticker ticker.Ticker
	Log    btclog.Logger
}

type pendingQuery struct {
	id        chainwatch.QueryID
	deployed  *chainwatch.EthereumDeployed
	called    *chainwatch.EthereumCalled
	remaining uint32
	matched   *htlc.Event
	out       chan htlc.Event
}

// Watcher implements chainwatch's query loop for an EVM ledger.
type Watcher struct {
	cfg Config

	mu      sync.Mutex
	queries map[chainwatch.QueryID]*pendingQuery
	nextID  chainwatch.QueryID

	tipNumber uint64
	tipHash   common.Hash

	quit chan struct{}
	wg   sync.WaitGroup
}

// New constructs an Ethereum Watcher. Call Start to begin polling.
func New(cfg Config) *Watcher {
	return &Watcher{
		cfg:     cfg,
		queries: make(map[chainwatch.QueryID]*pendingQuery),
		quit:    make(chan struct{}),
	}
}

// Start launches the watcher's polling loop at the configured per-ledger
// tick interval (spec §4.3: Ethereum polls at roughly half block time).
func (w *Watcher) Start() error {
	ctx := context.Background()
	number, err := w.cfg.RPC.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("ethwatch: fetching initial tip: %w", err)
	}
	block, err := w.cfg.RPC.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return fmt.Errorf("ethwatch: fetching initial tip block: %w", err)
	}
	w.tipNumber = number
	w.tipHash = block.Hash()

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

// WatchDeployed registers an EthereumDeployed query.
func (w *Watcher) WatchDeployed(q chainwatch.EthereumDeployed) (<-chan htlc.Event, chainwatch.QueryID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	pq := &pendingQuery{id: id, deployed: &q, out: make(chan htlc.Event, 1)}
	w.queries[id] = pq
	return pq.out, id
}

// WatchCalled registers an EthereumCalled query.
func (w *Watcher) WatchCalled(q chainwatch.EthereumCalled) (<-chan htlc.Event, chainwatch.QueryID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	pq := &pendingQuery{id: id, called: &q, out: make(chan htlc.Event, 1)}
	w.queries[id] = pq
	return pq.out, id
}

// Cancel drops a registered query, per spec §6 cancellation semantics.
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
	ctx := context.Background()
	number, err := w.cfg.RPC.BlockNumber(ctx)
	if err != nil {
		if w.cfg.Log != nil {
			w.cfg.Log.Warnf("ethwatch: BlockNumber failed: %v", err)
		}
		return
	}

	for n := w.tipNumber + 1; n <= number; n++ {
		if err := w.connectBlock(ctx, n); err != nil {
			if w.cfg.Log != nil {
				w.cfg.Log.Warnf("ethwatch: connecting block %d: %v", n, err)
			}
			return
		}
	}
}

func (w *Watcher) connectBlock(ctx context.Context, number uint64) error {
	block, err := w.cfg.RPC.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return err
	}

	if w.tipNumber > 0 && block.ParentHash() != w.tipHash {
		if w.cfg.Log != nil {
			w.cfg.Log.Warnf(
				"ethwatch: reorg detected at block %d: expected parent "+
					"%s, got %s", number, w.tipHash, block.ParentHash(),
			)
		}
	}

	if err := w.evaluateBlock(ctx, block); err != nil {
		return err
	}

	w.tipNumber = number
	w.tipHash = block.Hash()
	return nil
}

func (w *Watcher) evaluateBlock(ctx context.Context, block *types.Block) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, tx := range block.Transactions() {
		for id, pq := range w.queries {
			if pq.matched != nil {
				continue
			}

			switch {
			case pq.deployed != nil:
				if tx.To() == nil && bytes.Equal(tx.Data(), pq.deployed.Bytecode) {
					// The created contract's address lives on the
					// receipt, and downstream redeem/refund calls
					// need it as the HTLC location.
					receipt, err := w.cfg.RPC.TransactionReceipt(ctx, tx.Hash())
					if err != nil {
						return fmt.Errorf("ethwatch: fetching receipt for %s: %w",
							tx.Hash(), err)
					}
					pq.matched = &htlc.Event{
						Kind:     htlc.EventDeployed,
						Ledger:   w.cfg.Ledger,
						Txid:     ledger.NewEthereumTxid(tx.Hash().Hex()),
						Location: ledger.NewEthereumAddress(receipt.ContractAddress.Hex()),
					}
					pq.remaining = pq.deployed.ConfirmationsNeeded
				}
			case pq.called != nil:
				if tx.To() != nil && tx.To().Hex() == pq.called.Contract.String() {
					ev, err := w.matchCalled(ctx, tx, pq.called)
					if err != nil {
						return err
					}
					if ev != nil {
						pq.matched = ev
						pq.remaining = pq.called.ConfirmationsNeeded
					}
				}
			}

			if pq.matched != nil {
				w.maybeEmit(id, pq)
			}
		}
	}

	for id, pq := range w.queries {
		if pq.matched == nil || pq.remaining == 0 {
			continue
		}
		pq.remaining--
		w.maybeEmit(id, pq)
	}

	return nil
}

// matchCalled inspects tx's receipt logs for pq.Topic, extracting the
// secret from a Redeemed log per spec §4.2 ("Redeemed event data is the
// 32-byte secret").
func (w *Watcher) matchCalled(
	ctx context.Context, tx *types.Transaction, q *chainwatch.EthereumCalled,
) (*htlc.Event, error) {

	receipt, err := w.cfg.RPC.TransactionReceipt(ctx, tx.Hash())
	if err != nil {
		return nil, fmt.Errorf("ethwatch: fetching receipt for %s: %w", tx.Hash(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, nil
	}

	for _, l := range receipt.Logs {
		if len(l.Topics) == 0 || l.Topics[0] != common.Hash(q.Topic) {
			continue
		}

		ev := &htlc.Event{
			Kind:     classifyTopic(q.Topic),
			Ledger:   w.cfg.Ledger,
			Txid:     ledger.NewEthereumTxid(tx.Hash().Hex()),
			Location: q.Contract,
		}
		if ev.Kind == htlc.EventRedeemed {
			if len(l.Data) != 32 {
				// spec §7 InvalidRedeemTransaction: ignored, wait for
				// the next attempt rather than erroring the swap.
				return nil, nil
			}
			copy(ev.Secret[:], l.Data)
		}
		return ev, nil
	}
	return nil, nil
}

func classifyTopic(topic [32]byte) htlc.EventKind {
	if htlc.MatchesRedeemedTopic(topic) {
		return htlc.EventRedeemed
	}
	return htlc.EventRefunded
}

func (w *Watcher) maybeEmit(id chainwatch.QueryID, pq *pendingQuery) {
	if pq.matched == nil || pq.remaining > 0 {
		return
	}
	if pq.deployed != nil {
		pq.matched.Confirmations = pq.deployed.ConfirmationsNeeded
	} else {
		pq.matched.Confirmations = pq.called.ConfirmationsNeeded
	}
	pq.out <- *pq.matched
	delete(w.queries, id)
}
