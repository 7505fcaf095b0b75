package main

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"

	"github.com/hashbridge/swapd/chainwatch"
	"github.com/hashbridge/swapd/htlc"
	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/swap"
	"github.com/hashbridge/swapd/swapdb"
	"github.com/hashbridge/swapd/swapwire"
	"github.com/hashbridge/swapd/walletrpc"
)

// decisionTimeout bounds how long an incoming SWAP request waits for the
// operator's accept/decline before the substream auto-declines, matching
// the wire protocol's five-minute WaitingUser timeout (spec §4.6).
const decisionTimeout = 5 * time.Minute

// autoRedeemFeePerByte is the fee rate Bob's automatic alpha redemption
// pays once the secret appears on beta; getting the funds at all
// outweighs fee optimization there.
const autoRedeemFeePerByte = 25.0

// htlcConfirmations is the depth funding and spend queries wait for
// before an event reaches the state machine.
const htlcConfirmations = 1

// safetyMargin converts the configured duration to a comparable
// Timestamp delta.
func (s *server) safetyMargin() ledger.Timestamp {
	return ledger.Timestamp(s.cfg.SafetyMargin / time.Second)
}

// handleSwapRequest services an incoming SWAP frame as Bob: validate,
// persist, start a machine, then hold the substream in WaitingUser until
// the operator accepts or declines through the action API.
func (s *server) handleSwapRequest(f swapwire.Frame) (swapwire.Frame, error) {
	req, err := swapwire.DecodeSwapRequest(f)
	if err != nil {
		var malformed swapwire.ErrMalformed
		if errors.As(err, &malformed) {
			return swapwire.AutomaticErrorResponse(
				f.ID, swapwire.StatusMalformed, err.Error(),
			), nil
		}
		return swapwire.AutomaticErrorResponse(
			f.ID, swapwire.StatusUnknownMandatoryHeader, err.Error(),
		), nil
	}

	if err := req.Validate(s.safetyMargin()); err != nil {
		dec := swap.Decline{SwapID: req.SwapID, Reason: err.Error()}
		if dbErr := s.db.CreateSwap(swap.RoleBob, s.cfg.PeerAddr, req); dbErr == nil {
			s.db.PutDecline(dec)
		}
		return swapwire.EncodeSwapDecline(f.ID, dec), nil
	}

	if err := s.db.CreateSwap(swap.RoleBob, s.cfg.PeerAddr, req); err != nil {
		return swapwire.Frame{}, err
	}

	mach := s.manager.NewMachine(swap.NewSentState(swap.RoleBob, req))
	if err := s.manager.Start(mach); err != nil {
		return swapwire.Frame{}, err
	}

	decision := make(chan swapwire.Frame, 1)
	s.mu.Lock()
	s.pending[req.SwapID] = decision
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, req.SwapID)
		s.mu.Unlock()
	}()

	s.log.Infof("incoming swap request %s (%s -> %s), awaiting decision",
		req.SwapID, req.AlphaAsset, req.BetaAsset)

	select {
	case resp := <-decision:
		return resp, nil
	case <-time.After(decisionTimeout):
		dec := swap.Decline{SwapID: req.SwapID, Reason: "no decision before timeout"}
		s.db.PutDecline(dec)
		s.manager.DispatchDeclined(req.SwapID, dec)
		return swapwire.EncodeSwapDecline(f.ID, dec), nil
	case <-s.quit:
		return swapwire.Frame{}, fmt.Errorf("shutting down")
	}
}

// identitiesFor derives this node's (bitcoin, ethereum) identity pair for
// a swap and maps it to the request's (alpha, beta) legs.
func (s *server) identitiesFor(req swap.Request) (alpha, beta ledger.PublicKey, err error) {
	btcKey, err := walletrpc.SwapIdentityPath(s.master, swapIDIndex(req.SwapID), s.netParams)
	if err != nil {
		return nil, nil, err
	}
	btcIdent := ledger.PublicKey(btcKey.PubKey().SerializeCompressed())
	ethIdent := ledger.PublicKey(common.HexToAddress(s.ethWallet.Address().String()).Bytes())

	if req.AlphaLedger.Chain == ledger.ChainBitcoin {
		return btcIdent, ethIdent, nil
	}
	return ethIdent, btcIdent, nil
}

// AcceptSwap executes the Accept action: derive Bob's identities, persist
// the accept, advance the machine and release the waiting substream.
//
// NOTE: Part of the action.Responder interface.
func (s *server) AcceptSwap(id swap.ID) error {
	mach, ok := s.manager.Machine(id)
	if !ok {
		return fmt.Errorf("no active swap %s", id)
	}
	st := mach.State()
	if st.Kind != swap.KindSent || st.Role != swap.RoleBob {
		return fmt.Errorf("swap %s is not awaiting a decision", id)
	}

	alphaIdent, betaIdent, err := s.identitiesFor(st.Request)
	if err != nil {
		return err
	}
	acc := swap.Accept{
		SwapID:                    id,
		AlphaLedgerRedeemIdentity: alphaIdent,
		BetaLedgerRefundIdentity:  betaIdent,
	}

	if err := s.db.PutAccept(acc); err != nil {
		return err
	}
	s.manager.DispatchAccepted(id, acc)
	s.deliverDecision(id, swapwire.EncodeSwapAccept(id.String(), acc))
	return nil
}

// DeclineSwap executes the Decline action.
//
// NOTE: Part of the action.Responder interface.
func (s *server) DeclineSwap(id swap.ID, reason string) error {
	mach, ok := s.manager.Machine(id)
	if !ok {
		return fmt.Errorf("no active swap %s", id)
	}
	st := mach.State()
	if st.Kind != swap.KindSent || st.Role != swap.RoleBob {
		return fmt.Errorf("swap %s is not awaiting a decision", id)
	}

	dec := swap.Decline{SwapID: id, Reason: reason}
	if err := s.db.PutDecline(dec); err != nil {
		return err
	}
	s.manager.DispatchDeclined(id, dec)
	s.deliverDecision(id, swapwire.EncodeSwapDecline(id.String(), dec))
	return nil
}

func (s *server) deliverDecision(id swap.ID, frame swapwire.Frame) {
	s.mu.Lock()
	ch, ok := s.pending[id]
	s.mu.Unlock()
	if ok {
		select {
		case ch <- frame:
		default:
		}
	}
}

// createSwapBody is the POST /swaps request body an external caller
// submits to initiate a swap as Alice.
type createSwapBody struct {
	AlphaLedger   string `json:"alpha_ledger"` // "bitcoin" or "ethereum"
	AlphaNetwork  string `json:"alpha_network,omitempty"`
	AlphaChainID  uint64 `json:"alpha_chain_id,omitempty"`
	BetaLedger    string `json:"beta_ledger"`
	BetaNetwork   string `json:"beta_network,omitempty"`
	BetaChainID   uint64 `json:"beta_chain_id,omitempty"`
	AlphaAsset    string `json:"alpha_asset"` // "bitcoin", "ether" or "erc20"
	AlphaAmount   string `json:"alpha_amount"`
	BetaAsset     string `json:"beta_asset"`
	BetaAmount    string `json:"beta_amount"`
	TokenContract string `json:"token_contract,omitempty"`
	AlphaExpiry   uint32 `json:"alpha_expiry"`
	BetaExpiry    uint32 `json:"beta_expiry"`
}

// CreateSwap starts a new swap as Alice: derive the secret and identities,
// persist, start the machine, and negotiate with the peer asynchronously.
//
// NOTE: Part of the action.Creator interface.
func (s *server) CreateSwap(body json.RawMessage) (swap.ID, error) {
	var b createSwapBody
	if err := json.Unmarshal(body, &b); err != nil {
		return swap.ID{}, fmt.Errorf("malformed swap body: %w", err)
	}

	id := swap.NewID()
	secret, err := deriveSecret(s.seed, id)
	if err != nil {
		return swap.ID{}, err
	}
	secretHash := ledger.SecretHash(sha256.Sum256(secret[:]))

	req := swap.Request{
		SwapID:      id,
		AlphaExpiry: ledger.Timestamp(b.AlphaExpiry),
		BetaExpiry:  ledger.Timestamp(b.BetaExpiry),
		SecretHash:  secretHash,
	}
	if req.AlphaLedger, err = parseLedger(b.AlphaLedger, b.AlphaNetwork, b.AlphaChainID); err != nil {
		return swap.ID{}, err
	}
	if req.BetaLedger, err = parseLedger(b.BetaLedger, b.BetaNetwork, b.BetaChainID); err != nil {
		return swap.ID{}, err
	}
	if req.AlphaAsset, err = parseAsset(b.AlphaAsset, b.AlphaAmount, b.TokenContract); err != nil {
		return swap.ID{}, err
	}
	if req.BetaAsset, err = parseAsset(b.BetaAsset, b.BetaAmount, b.TokenContract); err != nil {
		return swap.ID{}, err
	}
	if req.AlphaLedgerRefundIdentity, req.BetaLedgerRedeemIdentity, err = s.identitiesFor(req); err != nil {
		return swap.ID{}, err
	}
	if err := req.Validate(s.safetyMargin()); err != nil {
		return swap.ID{}, err
	}

	if err := s.db.CreateSwap(swap.RoleAlice, s.cfg.PeerAddr, req); err != nil {
		return swap.ID{}, err
	}
	mach := s.manager.NewMachine(swap.NewAliceState(req, secret))
	if err := s.manager.Start(mach); err != nil {
		return swap.ID{}, err
	}

	go s.negotiateAndSend(req)
	return id, nil
}

// negotiateAndSend drives Alice's wire-side flow: announce the swap, then
// send the SWAP request and translate the peer's response (or silence)
// into a machine event.
func (s *server) negotiateAndSend(req swap.Request) {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer == nil {
		s.log.Errorf("swap %s: no peer connection", req.SwapID)
		return
	}

	if _, err := s.negotiator.Announce(peer, req); err != nil {
		// Announce failure is not fatal to the swap: the SWAP request
		// itself still identifies it to the peer.
		s.log.Warnf("swap %s: announce: %v", req.SwapID, err)
	}

	frame, err := swapwire.EncodeSwapRequest(req)
	if err != nil {
		s.log.Errorf("swap %s: encoding request: %v", req.SwapID, err)
		return
	}

	resp, err := peer.Request(frame)
	if err != nil {
		var timeout swapwire.ErrResponseTimeout
		if errors.As(err, &timeout) {
			s.manager.DispatchResponseTimeout(req.SwapID)
			return
		}
		s.log.Errorf("swap %s: request failed: %v", req.SwapID, err)
		return
	}

	acc, dec, err := swapwire.DecodeSwapResponse(resp)
	switch {
	case err != nil:
		s.log.Errorf("swap %s: undecodable response: %v", req.SwapID, err)
	case acc != nil:
		if err := s.db.PutAccept(*acc); err != nil {
			s.log.Errorf("swap %s: persisting accept: %v", req.SwapID, err)
			return
		}
		s.manager.DispatchAccepted(req.SwapID, *acc)
	default:
		s.db.PutDecline(*dec)
		s.manager.DispatchDeclined(req.SwapID, *dec)
	}
}

func parseLedger(name, network string, chainID uint64) (ledger.Ledger, error) {
	switch name {
	case "bitcoin":
		return ledger.Bitcoin(network), nil
	case "ethereum":
		return ledger.Ethereum(chainID), nil
	default:
		return ledger.Ledger{}, fmt.Errorf("unknown ledger %q", name)
	}
}

func parseAsset(name, amount, contract string) (ledger.Asset, error) {
	switch name {
	case "bitcoin":
		amt, err := ledger.ParseBitcoinAmount(amount)
		if err != nil {
			return ledger.Asset{}, err
		}
		return ledger.NewBitcoinAsset(amt), nil
	case "ether":
		amt, err := ledger.ParseEtherAmount(amount)
		if err != nil {
			return ledger.Asset{}, err
		}
		return ledger.NewEtherAsset(amt), nil
	case "erc20":
		amt, err := ledger.ParseErc20Amount(amount)
		if err != nil {
			return ledger.Asset{}, err
		}
		return ledger.NewErc20Asset(ledger.NewEthereumAddress(contract), amt), nil
	default:
		return ledger.Asset{}, fmt.Errorf("unknown asset %q", name)
	}
}

// SwapState serves the action surface: the live machine's state when one
// is active, or the replayed persistent record for terminal swaps.
//
// NOTE: Part of the action.SwapSource interface.
func (s *server) SwapState(id swap.ID) (swap.State, error) {
	if mach, ok := s.manager.Machine(id); ok {
		return mach.State(), nil
	}

	rec, err := s.db.FetchSwap(id)
	if err != nil {
		return swap.State{}, err
	}
	mach, err := swap.Recover(swap.Config{Store: s.db}, s.initialState(rec))
	if err != nil {
		return swap.State{}, err
	}
	return mach.State(), nil
}

// SwapIDs lists every swap in the store.
//
// NOTE: Part of the action.Lister interface.
func (s *server) SwapIDs() ([]swap.ID, error) {
	recs, err := s.db.ListSwaps()
	if err != nil {
		return nil, err
	}
	ids := make([]swap.ID, len(recs))
	for i, rec := range recs {
		ids[i] = rec.SwapID
	}
	return ids, nil
}

// initialState rebuilds a swap's replay starting point from its stored
// record, re-deriving Alice's secret from the seed.
func (s *server) initialState(rec swapdb.SwapRecord) swap.State {
	st := swap.NewSentState(rec.Role, rec.Request)
	if rec.Role == swap.RoleAlice {
		if secret, err := deriveSecret(s.seed, rec.SwapID); err == nil {
			st.Secret = &secret
		}
	}
	return st
}

// recoverSwaps replays every persisted non-terminal swap back into a
// running machine and re-registers its chain watches (spec §4.5
// "Determinism and idempotence").
func (s *server) recoverSwaps() error {
	recs, err := s.db.ListSwaps()
	if err != nil {
		return err
	}

	for _, rec := range recs {
		mach, err := s.manager.RecoverMachine(s.initialState(rec))
		if err != nil {
			return fmt.Errorf("recovering swap %s: %w", rec.SwapID, err)
		}

		st := mach.State()
		if st.Kind.IsTerminal() {
			continue
		}
		if err := s.manager.Start(mach); err != nil {
			return err
		}
		s.metrics.activeSwaps.Inc()
		s.registerWatches(st)
		s.log.Infof("recovered swap %s in state %s", st.SwapID, st.Kind)
	}
	return nil
}

// onTransition re-registers the watches the new state needs and performs
// Bob's mandatory alpha redemption once the secret is revealed. It runs
// on the machine's goroutine, so the real work happens elsewhere.
func (s *server) onTransition(st swap.State) {
	go func() {
		s.registerWatches(st)
		s.maybeAutoRedeem(st)
	}()
}

func (s *server) onTerminal(st swap.State) {
	go func() {
		s.cancelWatches(st.SwapID)
		s.metrics.activeSwaps.Dec()
		s.metrics.terminalSwaps.WithLabelValues(st.Kind.String()).Inc()
		s.log.Infof("swap %s finished: %s", st.SwapID, st.Kind)
	}()
}

// maybeAutoRedeem implements spec §4.5's hard requirement: once Alice's
// beta redemption exposes the secret, Bob MUST redeem alpha before
// alpha_expiry. The daemon does it immediately rather than waiting for an
// operator.
func (s *server) maybeAutoRedeem(st swap.State) {
	if st.Role != swap.RoleBob || st.Kind != swap.KindAlphaFundedBetaRedeemed ||
		st.Secret == nil || st.Accept == nil {
		return
	}

	secret := *st.Secret
	if st.Request.AlphaLedger.Chain == ledger.ChainBitcoin {
		s.autoRedeemBitcoin(st, secret)
		return
	}
	s.autoRedeemEthereum(st, secret)
}

func (s *server) autoRedeemBitcoin(st swap.State, secret ledger.Secret) {
	leg := bitcoinLeg(st)

	key, err := walletrpc.SwapIdentityPath(s.master, swapIDIndex(st.SwapID), s.netParams)
	if err != nil {
		s.log.Errorf("swap %s: auto-redeem: %v", st.SwapID, err)
		return
	}
	script, err := htlc.BitcoinScript(htlc.BitcoinParams{
		RefundIdentity: leg.refund,
		RedeemIdentity: leg.redeem,
		SecretHash:     st.Request.SecretHash,
		Expiry:         leg.expiry,
	})
	if err != nil {
		s.log.Errorf("swap %s: auto-redeem: %v", st.SwapID, err)
		return
	}

	dest, err := s.btcWallet.NewAddress()
	if err != nil {
		s.log.Errorf("swap %s: auto-redeem: %v", st.SwapID, err)
		return
	}
	fundedHash, err := chainhash.NewHashFromStr(leg.fundedTxid.String())
	if err != nil {
		s.log.Errorf("swap %s: auto-redeem: invalid funded txid: %v", st.SwapID, err)
		return
	}

	txid, err := s.btcWallet.SpendP2WSH(
		*wire.NewOutPoint(fundedHash, leg.fundedVout),
		btcutil.Amount(leg.amount), dest, autoRedeemFeePerByte, 0,
		func(tx *wire.MsgTx, amt btcutil.Amount) (wire.TxWitness, error) {
			return htlc.RedeemWitness(script, amt, key, tx, secret)
		},
	)
	if err != nil {
		s.log.Errorf("swap %s: auto-redeem broadcast failed: %v", st.SwapID, err)
		return
	}
	s.log.Infof("swap %s: auto-redeemed alpha in %s", st.SwapID, txid)
}

func (s *server) autoRedeemEthereum(st swap.State, secret ledger.Secret) {
	if st.AlphaHtlcLocation.IsZero() {
		s.log.Errorf("swap %s: auto-redeem: alpha HTLC location unknown", st.SwapID)
		return
	}
	txid, err := s.ethWallet.CallContract(st.AlphaHtlcLocation, secret[:], 100_000)
	if err != nil {
		s.log.Errorf("swap %s: auto-redeem call failed: %v", st.SwapID, err)
		return
	}
	s.log.Infof("swap %s: auto-redeemed alpha in %s", st.SwapID, txid)
}

// registerWatches replaces a swap's outstanding chain queries with the
// set its current state needs: funding observation while a leg is
// unfunded, spend observation once it is. Dropping the old set implements
// spec §5's cancellation semantics.
func (s *server) registerWatches(st swap.State) {
	s.cancelWatches(st.SwapID)
	if st.Accept == nil {
		return
	}

	var cancels []func()
	add := func(c func()) {
		if c != nil {
			cancels = append(cancels, c)
		}
	}

	switch st.Kind {
	case swap.KindAccepted:
		add(s.watchFunding(st, swap.LegAlpha))
	case swap.KindAlphaFunded:
		add(s.watchSpend(st, swap.LegAlpha))
		add(s.watchFunding(st, swap.LegBeta))
	case swap.KindBothFunded:
		add(s.watchSpend(st, swap.LegAlpha))
		add(s.watchSpend(st, swap.LegBeta))
	case swap.KindAlphaFundedBetaRedeemed, swap.KindAlphaFundedBetaRefunded:
		add(s.watchSpend(st, swap.LegAlpha))
	case swap.KindAlphaRedeemedBetaFunded, swap.KindAlphaRefundedBetaFunded:
		add(s.watchSpend(st, swap.LegBeta))
	}

	if len(cancels) == 0 {
		return
	}
	s.mu.Lock()
	s.watchers[st.SwapID] = cancels
	s.mu.Unlock()
}

func (s *server) cancelWatches(id swap.ID) {
	s.mu.Lock()
	cancels := s.watchers[id]
	delete(s.watchers, id)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// legFields extracts the HTLC-defining fields of one leg.
type legFields struct {
	ledger     ledger.Ledger
	asset      ledger.Asset
	expiry     ledger.Timestamp
	refund     ledger.PublicKey
	redeem     ledger.PublicKey
	location   ledger.Address
	fundedTxid ledger.Txid
	fundedVout uint32
}

func fields(st swap.State, leg swap.Leg) legFields {
	if leg == swap.LegAlpha {
		return legFields{
			ledger:     st.Request.AlphaLedger,
			asset:      st.Request.AlphaAsset,
			expiry:     st.Request.AlphaExpiry,
			refund:     st.Request.AlphaLedgerRefundIdentity,
			redeem:     st.Accept.AlphaLedgerRedeemIdentity,
			location:   st.AlphaHtlcLocation,
			fundedTxid: st.AlphaFundedTxid,
			fundedVout: st.AlphaFundedVout,
		}
	}
	return legFields{
		ledger:     st.Request.BetaLedger,
		asset:      st.Request.BetaAsset,
		expiry:     st.Request.BetaExpiry,
		refund:     st.Accept.BetaLedgerRefundIdentity,
		redeem:     st.Request.BetaLedgerRedeemIdentity,
		location:   st.BetaHtlcLocation,
		fundedTxid: st.BetaFundedTxid,
		fundedVout: st.BetaFundedVout,
	}
}

// watchFunding registers the query that detects leg's HTLC being funded
// (Bitcoin) or deployed (Ethereum), returning a cancel func.
func (s *server) watchFunding(st swap.State, leg swap.Leg) func() {
	lf := fields(st, leg)

	switch lf.ledger.Chain {
	case ledger.ChainBitcoin:
		addr, _, err := htlc.BitcoinAddress(htlc.BitcoinParams{
			RefundIdentity: lf.refund,
			RedeemIdentity: lf.redeem,
			SecretHash:     st.Request.SecretHash,
			Expiry:         lf.expiry,
		}, s.netParams)
		if err != nil {
			s.log.Errorf("swap %s: building HTLC address: %v", st.SwapID, err)
			return nil
		}
		ch, qid := s.btcWatcher.WatchFunded(chainwatch.BitcoinFunded{
			Addr:                addr,
			MinValue:            lf.asset.Bitcoin,
			ConfirmationsNeeded: htlcConfirmations,
		})
		return s.forwardEvents(st.SwapID, leg, "bitcoin", ch, func() {
			s.btcWatcher.Cancel(qid)
		})

	default:
		initCode, err := s.ethInitCode(st, lf)
		if err != nil {
			s.log.Errorf("swap %s: building HTLC bytecode: %v", st.SwapID, err)
			return nil
		}
		ch, qid := s.ethWatcher.WatchDeployed(chainwatch.EthereumDeployed{
			Bytecode:            initCode,
			ConfirmationsNeeded: htlcConfirmations,
		})
		return s.forwardEvents(st.SwapID, leg, "ethereum", ch, func() {
			s.ethWatcher.Cancel(qid)
		})
	}
}

// watchSpend registers the queries that detect leg's HTLC being redeemed
// or refunded.
func (s *server) watchSpend(st swap.State, leg swap.Leg) func() {
	lf := fields(st, leg)

	switch lf.ledger.Chain {
	case ledger.ChainBitcoin:
		if lf.fundedTxid.IsZero() {
			return nil
		}
		ch, qid := s.btcWatcher.WatchSpent(chainwatch.BitcoinSpent{
			TxHash:              lf.fundedTxid,
			Vout:                lf.fundedVout,
			ConfirmationsNeeded: htlcConfirmations,
		})
		return s.forwardEvents(st.SwapID, leg, "bitcoin", ch, func() {
			s.btcWatcher.Cancel(qid)
		})

	default:
		if lf.location.IsZero() {
			return nil
		}
		redeemCh, redeemID := s.ethWatcher.WatchCalled(chainwatch.EthereumCalled{
			Contract:            lf.location,
			Topic:               [32]byte(htlc.RedeemedTopic),
			ConfirmationsNeeded: htlcConfirmations,
		})
		refundCh, refundID := s.ethWatcher.WatchCalled(chainwatch.EthereumCalled{
			Contract:            lf.location,
			Topic:               [32]byte(htlc.RefundedTopic),
			ConfirmationsNeeded: htlcConfirmations,
		})
		cancelRedeem := s.forwardEvents(st.SwapID, leg, "ethereum", redeemCh, func() {
			s.ethWatcher.Cancel(redeemID)
		})
		cancelRefund := s.forwardEvents(st.SwapID, leg, "ethereum", refundCh, func() {
			s.ethWatcher.Cancel(refundID)
		})
		return func() {
			cancelRedeem()
			cancelRefund()
		}
	}
}

func (s *server) ethInitCode(st swap.State, lf legFields) ([]byte, error) {
	params := htlc.EthereumParams{
		RefundAddress: common.BytesToAddress(lf.refund),
		RedeemAddress: common.BytesToAddress(lf.redeem),
		SecretHash:    st.Request.SecretHash,
		Expiry:        lf.expiry,
	}
	if lf.asset.Kind == ledger.AssetErc20 {
		token := common.HexToAddress(lf.asset.Erc20Contract.String())
		return htlc.Erc20HTLCBytecode(token, lf.asset.Erc20, params)
	}
	return htlc.EtherHTLCBytecode(params)
}

// forwardEvents pumps a watcher channel into the manager until the event
// fires, the watch is cancelled, or the daemon stops. The returned cancel
// tracks the watcher query's gauge as well.
func (s *server) forwardEvents(
	id swap.ID, leg swap.Leg, ledgerLabel string,
	ch <-chan htlc.Event, cancelQuery func(),
) func() {

	s.metrics.watcherQueries.WithLabelValues(ledgerLabel).Inc()
	done := make(chan struct{})

	s.eg.Go(func() error {
		defer s.metrics.watcherQueries.WithLabelValues(ledgerLabel).Dec()
		select {
		case ev := <-ch:
			s.manager.DispatchChainEvent(id, leg, ev)
		case <-done:
		case <-s.quit:
		}
		return nil
	})

	return func() {
		cancelQuery()
		close(done)
	}
}
