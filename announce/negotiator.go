package announce

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/hashbridge/swapd/clock"
	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/swap"
	"github.com/hashbridge/swapd/swapwire"
)

// announceBody is the ANNOUNCE request's JSON body.
type announceBody struct {
	Digest string `json:"digest"`
}

// announceResponseBody is the ANNOUNCE response body: a freshly minted
// SharedSwapId on match, nothing on a buffered mismatch.
type announceResponseBody struct {
	SharedSwapID string `json:"shared_swap_id,omitempty"`
	Matched      bool   `json:"matched"`
}

// identityBody carries one side's identity substream payload.
type identityBody struct {
	SharedSwapID  string `json:"shared_swap_id"`
	AlphaIdentity string `json:"alpha_identity"`
	BetaIdentity  string `json:"beta_identity"`
	SecretHash    string `json:"secret_hash"`
}

// finalizeBody marks one side's completion of identity exchange.
type finalizeBody struct {
	SharedSwapID string `json:"shared_swap_id"`
}

// Finalized is the SwapFinalized{shared_swap_id, remote_data} event spec
// §4.7 says is emitted to the owner once a peer has both sent and
// received finalize.
type Finalized struct {
	SharedSwapID swap.SharedID
	Remote       RemoteIdentity
}

// local tracks the in-progress negotiation for one swap this node
// originated or is responding to.
type local struct {
	req          swap.Request
	sharedID     swap.SharedID
	localIdent   RemoteIdentity
	remote       *RemoteIdentity
	sentFinalize bool
	recvFinalize bool
}

// Negotiator drives the announce -> identity-exchange -> finalize
// handshake of spec §4.7 over a swapwire.Peer, translating its outcome
// into Finalized events for the owner (normally swap.Manager, via a
// thin adapter in cmd/swapd).
type Negotiator struct {
	pending *PendingBuffer
	log     btclog.Logger

	localIdentity func(req swap.Request) RemoteIdentity
	onFinalized   func(Finalized)

	mu      sync.Mutex
	bySwap  map[swap.ID]*local
	byShare map[swap.SharedID]*local
	peer    *swapwire.Peer
}

// Config configures a Negotiator.
type Config struct {
	Clock clock.Clock
	Log   btclog.Logger

	// LocalIdentity returns this node's own identity fields for a swap
	// request, to be sent to the peer once a SharedSwapId is agreed.
	LocalIdentity func(req swap.Request) RemoteIdentity

	// OnFinalized is invoked once both finalize messages have been
	// observed for a swap.
	OnFinalized func(Finalized)
}

// NewNegotiator constructs a Negotiator ready to drive announcements as
// both the initiating and responding side.
func NewNegotiator(cfg Config) *Negotiator {
	return &Negotiator{
		pending:       NewPendingBuffer(cfg.Clock),
		log:           cfg.Log,
		localIdentity: cfg.LocalIdentity,
		onFinalized:   cfg.OnFinalized,
		bySwap:        make(map[swap.ID]*local),
		byShare:       make(map[swap.SharedID]*local),
	}
}

// Handlers returns the swapwire.Handler set for ANNOUNCE, IDENTITY and
// FINALIZE, for registration in a swapwire.Dispatcher alongside package
// swap's SWAP handler. peer is the connection these handlers serve,
// needed so a matched ANNOUNCE can initiate this node's own identity
// exchange back to the same counterparty.
func (n *Negotiator) Handlers(peer *swapwire.Peer) map[swapwire.RequestKind]swapwire.Handler {
	n.mu.Lock()
	n.peer = peer
	n.mu.Unlock()

	return map[swapwire.RequestKind]swapwire.Handler{
		swapwire.RequestAnnounce: n.handleAnnounce,
		swapwire.RequestIdentity: n.handleIdentity,
		swapwire.RequestFinalize: n.handleFinalize,
	}
}

// Announce begins negotiation for a locally-submitted request by sending
// an ANNOUNCE frame to peer and, on a matched response, proceeding
// straight into identity exchange. It blocks until the SharedSwapId is
// known or the request times out.
func (n *Negotiator) Announce(peer *swapwire.Peer, req swap.Request) (swap.SharedID, error) {
	d := ComputeDigest(req)
	n.bufferLocal(d, req)

	body, _ := json.Marshal(announceBody{Digest: d.String()})
	resp, err := peer.Request(swapwire.Frame{
		Type: swapwire.TypeRequest,
		ID:   req.SwapID.String(),
		Kind: swapwire.RequestAnnounce,
		Body: body,
	})
	if err != nil {
		return swap.SharedID{}, fmt.Errorf("announce: sending announce: %w", err)
	}

	var ar announceResponseBody
	if err := json.Unmarshal(resp.Body, &ar); err != nil {
		return swap.SharedID{}, fmt.Errorf("announce: decoding response: %w", err)
	}
	if !ar.Matched {
		return swap.SharedID{}, fmt.Errorf("announce: peer buffered the announcement without a match yet")
	}

	sharedID, err := swap.ParseSharedID(ar.SharedSwapID)
	if err != nil {
		return swap.SharedID{}, fmt.Errorf("announce: invalid shared_swap_id: %w", err)
	}

	n.registerShared(sharedID, req)

	if err := n.exchangeIdentity(peer, req, sharedID); err != nil {
		return swap.SharedID{}, err
	}
	return sharedID, nil
}

// bufferLocal registers a locally-originated request under its digest so
// a peer's own ANNOUNCE (in the race where both sides announce the same
// swap) can match it.
func (n *Negotiator) bufferLocal(d Digest, req swap.Request) {
	n.pending.Put(d, req, "")

	n.mu.Lock()
	n.bySwap[req.SwapID] = &local{req: req}
	n.mu.Unlock()
}

func (n *Negotiator) registerShared(sharedID swap.SharedID, req swap.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()

	l, ok := n.bySwap[req.SwapID]
	if !ok {
		l = &local{req: req}
	}
	l.sharedID = sharedID
	if n.localIdentity != nil {
		l.localIdent = n.localIdentity(req)
	}
	n.byShare[sharedID] = l
}

// handleAnnounce services a peer's ANNOUNCE request: matching it against
// our own pending announcement (if we announced the same swap
// concurrently) or buffering it, per spec §4.7.
func (n *Negotiator) handleAnnounce(f swapwire.Frame) (swapwire.Frame, error) {
	var ab announceBody
	if err := json.Unmarshal(f.Body, &ab); err != nil {
		return swapwire.Frame{}, fmt.Errorf("announce: decoding announce body: %w", err)
	}

	raw, err := hex.DecodeString(ab.Digest)
	if err != nil || len(raw) != len(Digest{}) {
		return swapwire.Frame{}, fmt.Errorf("announce: invalid digest %q", ab.Digest)
	}
	var d Digest
	copy(d[:], raw)

	entry, matched := n.pending.Take(d)
	if !matched {
		// No local match yet: buffer the peer's announcement for up
		// to five minutes in case a matching local request arrives.
		n.pending.Put(d, swap.Request{}, "peer")
		body, _ := json.Marshal(announceResponseBody{Matched: false})
		return swapwire.Frame{Type: swapwire.TypeResponse, ID: f.ID, Body: body}, nil
	}

	sharedID := swap.NewSharedID()
	n.registerShared(sharedID, entry.req)

	n.mu.Lock()
	peer := n.peer
	n.mu.Unlock()
	if peer != nil {
		go func() {
			if err := n.exchangeIdentity(peer, entry.req, sharedID); err != nil && n.log != nil {
				n.log.Errorf("announce: identity exchange for %s failed: %v", sharedID, err)
			}
		}()
	}

	body, _ := json.Marshal(announceResponseBody{SharedSwapID: sharedID.String(), Matched: true})
	return swapwire.Frame{Type: swapwire.TypeResponse, ID: f.ID, Body: body}, nil
}

// exchangeIdentity sends this node's identity fields over an IDENTITY
// substream, then sends FINALIZE and marks it sent. The peer's identity is
// recorded separately, by handleIdentity. Announce calls this on a matched
// announce response; handleAnnounce starts it in a goroutine on a match.
func (n *Negotiator) exchangeIdentity(peer *swapwire.Peer, req swap.Request, sharedID swap.SharedID) error {
	n.mu.Lock()
	l := n.byShare[sharedID]
	n.mu.Unlock()
	if l == nil {
		return fmt.Errorf("announce: no local negotiation state for %s", sharedID)
	}

	body, _ := json.Marshal(identityBody{
		SharedSwapID:  sharedID.String(),
		AlphaIdentity: l.localIdent.AlphaIdentity.String(),
		BetaIdentity:  l.localIdent.BetaIdentity.String(),
		SecretHash:    l.localIdent.SecretHash.String(),
	})
	if _, err := peer.Request(swapwire.Frame{
		Type: swapwire.TypeRequest, ID: req.SwapID.String(),
		Kind: swapwire.RequestIdentity, Body: body,
	}); err != nil {
		return fmt.Errorf("announce: sending identity: %w", err)
	}

	fbody, _ := json.Marshal(finalizeBody{SharedSwapID: sharedID.String()})
	if _, err := peer.Request(swapwire.Frame{
		Type: swapwire.TypeRequest, ID: req.SwapID.String(),
		Kind: swapwire.RequestFinalize, Body: fbody,
	}); err != nil {
		return fmt.Errorf("announce: sending finalize: %w", err)
	}

	n.mu.Lock()
	l.sentFinalize = true
	n.maybeEmitLocked(l)
	n.mu.Unlock()
	return nil
}

func (n *Negotiator) handleIdentity(f swapwire.Frame) (swapwire.Frame, error) {
	var ib identityBody
	if err := json.Unmarshal(f.Body, &ib); err != nil {
		return swapwire.Frame{}, fmt.Errorf("announce: decoding identity body: %w", err)
	}
	sharedID, err := swap.ParseSharedID(ib.SharedSwapID)
	if err != nil {
		return swapwire.Frame{}, fmt.Errorf("announce: invalid shared_swap_id: %w", err)
	}

	l, ok := n.waitForShare(sharedID)
	if !ok {
		return swapwire.Frame{}, fmt.Errorf("announce: unknown shared_swap_id %s", sharedID)
	}

	var remote RemoteIdentity
	if remote.AlphaIdentity, err = ledger.ParsePublicKey(ib.AlphaIdentity); err != nil {
		return swapwire.Frame{}, fmt.Errorf("announce: invalid alpha_identity: %w", err)
	}
	if remote.BetaIdentity, err = ledger.ParsePublicKey(ib.BetaIdentity); err != nil {
		return swapwire.Frame{}, fmt.Errorf("announce: invalid beta_identity: %w", err)
	}
	if remote.SecretHash, err = ledger.ParseSecretHash(ib.SecretHash); err != nil {
		return swapwire.Frame{}, fmt.Errorf("announce: invalid secret_hash: %w", err)
	}

	// Substreams are unordered, so the peer's FINALIZE may already have
	// been processed; re-check emission now that the identity is known.
	n.mu.Lock()
	n.remoteFor(l, remote)
	n.maybeEmitLocked(l)
	n.mu.Unlock()

	body, _ := json.Marshal(struct{}{})
	return swapwire.Frame{Type: swapwire.TypeResponse, ID: f.ID, Body: body}, nil
}

func (n *Negotiator) remoteFor(l *local, remote RemoteIdentity) {
	l.remote = &remote
}

func (n *Negotiator) handleFinalize(f swapwire.Frame) (swapwire.Frame, error) {
	var fb finalizeBody
	if err := json.Unmarshal(f.Body, &fb); err != nil {
		return swapwire.Frame{}, fmt.Errorf("announce: decoding finalize body: %w", err)
	}
	sharedID, err := swap.ParseSharedID(fb.SharedSwapID)
	if err != nil {
		return swapwire.Frame{}, fmt.Errorf("announce: invalid shared_swap_id: %w", err)
	}

	l, ok := n.waitForShare(sharedID)
	if !ok {
		return swapwire.Frame{}, fmt.Errorf("announce: unknown shared_swap_id %s", sharedID)
	}

	n.mu.Lock()
	l.recvFinalize = true
	n.maybeEmitLocked(l)
	n.mu.Unlock()

	body, _ := json.Marshal(struct{}{})
	return swapwire.Frame{Type: swapwire.TypeResponse, ID: f.ID, Body: body}, nil
}

// waitForShare looks up the negotiation state for sharedID, retrying
// briefly: substreams carry no cross-stream ordering guarantee (spec §5),
// so a peer's IDENTITY frame can arrive before our own announce-response
// handling has registered the SharedSwapId.
func (n *Negotiator) waitForShare(sharedID swap.SharedID) (*local, bool) {
	deadline := time.Now().Add(2 * time.Second)
	for {
		n.mu.Lock()
		l, ok := n.byShare[sharedID]
		n.mu.Unlock()
		if ok {
			return l, true
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// maybeEmitLocked fires onFinalized once both the send and the receive
// of finalize have been observed, per spec §4.7. Caller holds n.mu.
func (n *Negotiator) maybeEmitLocked(l *local) {
	if !l.sentFinalize || !l.recvFinalize || l.remote == nil {
		return
	}
	if n.onFinalized != nil {
		n.onFinalized(Finalized{SharedSwapID: l.sharedID, Remote: *l.remote})
	}
	delete(n.byShare, l.sharedID)
	delete(n.bySwap, l.req.SwapID)
}
