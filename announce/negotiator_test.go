package announce

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hashbridge/swapd/clock"
	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/swap"
	"github.com/hashbridge/swapd/swapwire"
)

func newPeerPair(t *testing.T) (*swapwire.Peer, *swapwire.Peer) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	clientKey, err := swapwire.GenerateIdentityKey()
	require.NoError(t, err)
	serverKey, err := swapwire.GenerateIdentityKey()
	require.NoError(t, err)

	type res struct {
		conn *swapwire.SecureConn
		err  error
	}
	cc := make(chan res, 1)
	sc := make(chan res, 1)
	go func() { c, err := swapwire.Handshake(clientConn, clientKey, true); cc <- res{c, err} }()
	go func() { s, err := swapwire.Handshake(serverConn, serverKey, false); sc <- res{s, err} }()

	cr, sr := <-cc, <-sc
	require.NoError(t, cr.err)
	require.NoError(t, sr.err)

	return swapwire.NewPeer(cr.conn, nil), swapwire.NewPeer(sr.conn, nil)
}

func identityForTest(swap.Request) RemoteIdentity {
	return RemoteIdentity{
		AlphaIdentity: ledger.PublicKey{0x02, 0xaa},
		BetaIdentity:  ledger.PublicKey{0x03, 0xbb},
		SecretHash:    ledger.SecretHash{0xcc},
	}
}

// TestNegotiatorFullHandshake exercises spec §4.7 end to end over a real
// authenticated transport: one side announces, the other has already
// buffered the same swap's digest, and both observe a SwapFinalized event
// once identity exchange completes in both directions.
func TestNegotiatorFullHandshake(t *testing.T) {
	clientPeer, serverPeer := newPeerPair(t)

	clientFinalized := make(chan Finalized, 1)
	serverFinalized := make(chan Finalized, 1)

	clientNeg := NewNegotiator(Config{
		Clock:         clock.NewDefaultClock(),
		LocalIdentity: identityForTest,
		OnFinalized:   func(f Finalized) { clientFinalized <- f },
	})
	serverNeg := NewNegotiator(Config{
		Clock:         clock.NewDefaultClock(),
		LocalIdentity: identityForTest,
		OnFinalized:   func(f Finalized) { serverFinalized <- f },
	})

	go clientPeer.Serve(swapwire.Dispatcher{Handlers: clientNeg.Handlers(clientPeer)})
	go serverPeer.Serve(swapwire.Dispatcher{Handlers: serverNeg.Handlers(serverPeer)})

	req := testRequest()

	// The server side buffers its own pending announcement first, as if
	// it had independently submitted the same swap terms.
	serverNeg.bufferLocal(ComputeDigest(req), req)

	sharedID, err := clientNeg.Announce(clientPeer, req)
	require.NoError(t, err)
	require.False(t, sharedID.IsZero())

	select {
	case f := <-clientFinalized:
		require.Equal(t, sharedID, f.SharedSwapID)
	case <-time.After(2 * time.Second):
		t.Fatal("client never observed SwapFinalized")
	}

	select {
	case f := <-serverFinalized:
		require.Equal(t, sharedID, f.SharedSwapID)
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed SwapFinalized")
	}
}
