package swapwire

import (
	"crypto/ecdh"
	"fmt"
	"net"
	"sync"

	"github.com/btcsuite/btclog"
)

// Peer is one negotiated, authenticated connection to a counterparty. It
// multiplexes any number of concurrent outgoing substreams (this node's
// own requests) over the single underlying SecureConn, and feeds incoming
// request frames to a Dispatcher.
type Peer struct {
	conn *SecureConn
	log  btclog.Logger

	mu       sync.Mutex
	outgoing map[string]*Outgoing

	closeOnce sync.Once
	closed    chan struct{}
}

// Dispatcher answers incoming requests by kind, one Handler per
// RequestKind this node supports (SWAP in package swap, ANNOUNCE/IDENTITY/
// FINALIZE in package announce).
type Dispatcher struct {
	Handlers map[RequestKind]Handler
	Headers  KnownHeaders
}

func (d Dispatcher) supportedKinds() map[RequestKind]struct{} {
	kinds := make(map[RequestKind]struct{}, len(d.Handlers))
	for k := range d.Handlers {
		kinds[k] = struct{}{}
	}
	return kinds
}

// NewPeer wraps an already-handshaken SecureConn, ready to send requests
// via Request and service incoming ones via Serve.
func NewPeer(conn *SecureConn, log btclog.Logger) *Peer {
	return &Peer{
		conn:     conn,
		log:      log,
		outgoing: make(map[string]*Outgoing),
		closed:   make(chan struct{}),
	}
}

// Dial connects to addr, performs the transport handshake as initiator,
// and returns a ready Peer.
func Dial(network, addr string, localKey *ecdh.PrivateKey, log btclog.Logger) (*Peer, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("swapwire: dial: %w", err)
	}
	secure, err := Handshake(conn, localKey, true)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return NewPeer(secure, log), nil
}

// Accept completes the responder side of the transport handshake over an
// already-accepted net.Conn (e.g. from a net.Listener), returning a ready
// Peer.
func Accept(conn net.Conn, localKey *ecdh.PrivateKey, log btclog.Logger) (*Peer, error) {
	secure, err := Handshake(conn, localKey, false)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return NewPeer(secure, log), nil
}

func (p *Peer) writeFrame(f Frame) error {
	return p.conn.writeFrame(f)
}

// Request sends req as an outgoing substream and blocks for its response.
func (p *Peer) Request(req Frame) (Frame, error) {
	out := NewOutgoing(p, req, p.log)

	p.mu.Lock()
	p.outgoing[req.ID] = out
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.outgoing, req.ID)
		p.mu.Unlock()
	}()

	return out.Wait()
}

// Serve reads frames from the connection until it closes, routing
// RESPONSE frames to their waiting Outgoing and REQUEST frames to d's
// handlers via a fresh Incoming substream. It blocks and should be run in
// its own goroutine per Peer.
func (p *Peer) Serve(d Dispatcher) error {
	for {
		f, err := p.conn.ReadFrame()
		if err != nil {
			p.Close()
			return err
		}

		switch f.Type {
		case TypeResponse:
			p.mu.Lock()
			out, ok := p.outgoing[f.ID]
			p.mu.Unlock()
			if ok {
				out.Deliver(f)
			} else if p.log != nil {
				p.log.Warnf("swapwire: response for unknown request %s", f.ID)
			}

		case TypeRequest:
			in := NewIncoming(p, p.log)
			handler, ok := d.Handlers[f.Kind]
			if !ok {
				handler = func(req Frame) (Frame, error) {
					return Frame{}, fmt.Errorf("swapwire: no handler registered for %s", req.Kind)
				}
			}
			// Each incoming request gets its own substream goroutine: a
			// handler parked in WaitingUser (an operator deciding on a
			// SWAP request) must not stall other substreams, since spec
			// §5 promises no ordering across substreams.
			f := f
			go func() {
				if err := in.Handle(f, d.supportedKinds(), d.Headers, handler); err != nil && p.log != nil {
					p.log.Errorf("swapwire: serving request %s: %v", f.ID, err)
				}
			}()

		default:
			if p.log != nil {
				p.log.Warnf("swapwire: frame %s has unknown type %q", f.ID, f.Type)
			}
		}
	}
}

// Close tears down the underlying connection. Safe to call multiple
// times and concurrently with Serve.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		err = p.conn.Close()
	})
	return err
}

// Listener accepts inbound peer connections, completing the transport
// handshake on each before handing it to the caller.
type Listener struct {
	ln       net.Listener
	localKey *ecdh.PrivateKey
	log      btclog.Logger
}

// Listen opens network/addr and returns a Listener ready for Accept.
func Listen(network, addr string, localKey *ecdh.PrivateKey, log btclog.Logger) (*Listener, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, fmt.Errorf("swapwire: listen: %w", err)
	}
	return &Listener{ln: ln, localKey: localKey, log: log}, nil
}

// AcceptPeer blocks until an inbound connection completes the transport
// handshake, returning a ready Peer.
func (l *Listener) AcceptPeer() (*Peer, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return Accept(conn, l.localKey, l.log)
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}
