package swapwire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandshakeAndFrameRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	clientKey, err := GenerateIdentityKey()
	require.NoError(t, err)
	serverKey, err := GenerateIdentityKey()
	require.NoError(t, err)

	type result struct {
		conn *SecureConn
		err  error
	}
	clientDone := make(chan result, 1)
	serverDone := make(chan result, 1)

	go func() {
		c, err := Handshake(clientConn, clientKey, true)
		clientDone <- result{c, err}
	}()
	go func() {
		s, err := Handshake(serverConn, serverKey, false)
		serverDone <- result{s, err}
	}()

	client := <-clientDone
	server := <-serverDone
	require.NoError(t, client.err)
	require.NoError(t, server.err)

	sent := Frame{Type: TypeRequest, ID: "swap-1", Kind: RequestSwap, Body: []byte(`{"x":1}`)}

	writeDone := make(chan error, 1)
	go func() { writeDone <- client.conn.writeFrame(sent) }()

	got, err := server.conn.ReadFrame()
	require.NoError(t, err)
	require.NoError(t, <-writeDone)

	require.Equal(t, sent.ID, got.ID)
	require.Equal(t, sent.Kind, got.Kind)
	require.JSONEq(t, string(sent.Body), string(got.Body))
}
