package swapwire

import (
	"bufio"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Transport note (SPEC_FULL.md §6): brontide itself is not part of the
// retrieval pack, so peer frames are authenticated and encrypted with a
// plain static-key ECDH handshake (X25519) feeding an HKDF-derived
// chacha20poly1305 key, rather than the teacher's full noise-style
// brontide machine. Each direction gets its own derived key so a replayed
// ciphertext from one side can't be replayed back at it.

const (
	transportInfo = "hashbridge/swapwire/transport/v1"
	nonceSize     = chacha20poly1305.NonceSizeX
)

// SecureConn wraps a net.Conn with a static-key-ECDH-derived
// chacha20poly1305 AEAD for both directions, framing each encrypted
// message with a big-endian uint32 length prefix.
type SecureConn struct {
	net.Conn
	r *bufio.Reader

	sendMu   sync.Mutex
	sendAEAD cipherAEAD
	recvAEAD cipherAEAD
	sendSeq  uint64
	recvSeq  uint64
}

type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// Handshake performs the static-key ECDH handshake as the initiator
// (isInitiator=true, the peer dialed) or responder, over conn, using
// localKey as this node's static identity key. It returns a SecureConn
// ready to exchange frames once both sides derive the same session keys.
func Handshake(conn net.Conn, localKey *ecdh.PrivateKey, isInitiator bool) (*SecureConn, error) {
	localPub := localKey.PublicKey().Bytes()

	// Send and receive the static keys concurrently: on a synchronous conn
	// such as net.Pipe a Write blocks until the peer reads, so two peers
	// that both wrote first would wait on each other forever.
	writeErr := make(chan error, 1)
	go func() {
		_, err := conn.Write(localPub)
		writeErr <- err
	}()

	remotePubBytes := make([]byte, len(localPub))
	if _, err := io.ReadFull(conn, remotePubBytes); err != nil {
		return nil, fmt.Errorf("swapwire: handshake: reading peer static key: %w", err)
	}
	if err := <-writeErr; err != nil {
		return nil, fmt.Errorf("swapwire: handshake: sending static key: %w", err)
	}
	remotePub, err := ecdh.X25519().NewPublicKey(remotePubBytes)
	if err != nil {
		return nil, fmt.Errorf("swapwire: handshake: invalid peer static key: %w", err)
	}

	shared, err := localKey.ECDH(remotePub)
	if err != nil {
		return nil, fmt.Errorf("swapwire: handshake: ECDH: %w", err)
	}

	// Derive two independent keys, one per direction. Both peers salt the
	// HKDF with the two static keys in sorted order, so they derive the
	// same pair; isInitiator then picks which of the two each side sends
	// with.
	initToResp, respToInit, err := deriveDirectionalKeys(shared, localPub, remotePubBytes)
	if err != nil {
		return nil, err
	}

	sendKey, recvKey := initToResp, respToInit
	if !isInitiator {
		sendKey, recvKey = respToInit, initToResp
	}

	sendAEAD, err := chacha20poly1305.NewX(sendKey)
	if err != nil {
		return nil, fmt.Errorf("swapwire: handshake: building send AEAD: %w", err)
	}
	recvAEAD, err := chacha20poly1305.NewX(recvKey)
	if err != nil {
		return nil, fmt.Errorf("swapwire: handshake: building recv AEAD: %w", err)
	}

	return &SecureConn{
		Conn:     conn,
		r:        bufio.NewReader(conn),
		sendAEAD: sendAEAD,
		recvAEAD: recvAEAD,
	}, nil
}

func deriveDirectionalKeys(shared, pubA, pubB []byte) (a2b, b2a []byte, err error) {
	first, second := pubA, pubB
	if lexLess(pubB, pubA) {
		first, second = pubB, pubA
	}

	salt := append(append([]byte{}, first...), second...)
	hk := hkdf.New(func() hash.Hash { return sha256.New() }, shared, salt, []byte(transportInfo))

	a2b = make([]byte, chacha20poly1305.KeySize)
	b2a = make([]byte, chacha20poly1305.KeySize)
	if _, err = io.ReadFull(hk, a2b); err != nil {
		return nil, nil, fmt.Errorf("swapwire: deriving directional key: %w", err)
	}
	if _, err = io.ReadFull(hk, b2a); err != nil {
		return nil, nil, fmt.Errorf("swapwire: deriving directional key: %w", err)
	}
	return a2b, b2a, nil
}

func lexLess(a, b []byte) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// writeFrame encrypts and writes one Frame, implementing the sink
// interface substreams use to send. Concurrent callers (an incoming
// handler that triggers an outgoing request of its own, say) are
// serialized here so two frames never interleave on the wire.
func (c *SecureConn) writeFrame(f Frame) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	pw := new(prefixWriter)
	if err := Encode(pw, f); err != nil {
		return err
	}

	nonce := make([]byte, c.sendAEAD.NonceSize())
	binary.BigEndian.PutUint64(nonce[len(nonce)-8:], c.sendSeq)
	c.sendSeq++

	ciphertext := c.sendAEAD.Seal(nil, nonce, pw.buf, nil)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ciphertext)))
	if _, err := c.Conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("swapwire: writing ciphertext length: %w", err)
	}
	if _, err := c.Conn.Write(ciphertext); err != nil {
		return fmt.Errorf("swapwire: writing ciphertext: %w", err)
	}
	return nil
}

// ReadFrame blocks until one encrypted Frame arrives and decodes it.
func (c *SecureConn) ReadFrame() (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		return Frame{}, fmt.Errorf("swapwire: reading ciphertext length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxFrameSize+64 {
		return Frame{}, fmt.Errorf("swapwire: ciphertext of %d bytes exceeds max", length)
	}

	ciphertext := make([]byte, length)
	if _, err := io.ReadFull(c.r, ciphertext); err != nil {
		return Frame{}, fmt.Errorf("swapwire: reading ciphertext: %w", err)
	}

	nonce := make([]byte, c.recvAEAD.NonceSize())
	binary.BigEndian.PutUint64(nonce[len(nonce)-8:], c.recvSeq)
	c.recvSeq++

	plaintext, err := c.recvAEAD.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("swapwire: authentication failed: %w", err)
	}

	return Decode(&byteSliceReader{buf: plaintext})
}

// prefixWriter accumulates Encode's varint-prefixed output for AEAD
// sealing as a single unit, instead of writing it straight to the wire.
type prefixWriter struct {
	buf []byte
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// byteSliceReader adapts a byte slice to io.ByteReader for Decode.
type byteSliceReader struct {
	buf []byte
	pos int
}

func (r *byteSliceReader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.EOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// GenerateIdentityKey produces a fresh X25519 static identity key for use
// with Handshake.
func GenerateIdentityKey() (*ecdh.PrivateKey, error) {
	return ecdh.X25519().GenerateKey(rand.Reader)
}
