package swapwire

import (
	"sync"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/hashbridge/swapd/tlv"
)

// responseTimeout is how long an outgoing substream waits for a RESPONSE
// before declaring a timeout (spec §4.6 "Response timeout").
const responseTimeout = 5 * time.Minute

// OutgoingState names a point in the sender-side substream lifecycle (spec
// §4.6): PendingOpen -> PendingSend -> PendingFlush -> WaitingAnswer ->
// Closing -> End.
type OutgoingState uint8

const (
	OutgoingPendingOpen OutgoingState = iota
	OutgoingPendingSend
	OutgoingPendingFlush
	OutgoingWaitingAnswer
	OutgoingClosing
	OutgoingEnd
)

// IncomingState names a point in the receiver-side substream lifecycle:
// WaitingMessage -> WaitingUser -> PendingSend -> PendingFlush -> Closing
// -> End.
type IncomingState uint8

const (
	IncomingWaitingMessage IncomingState = iota
	IncomingWaitingUser
	IncomingPendingSend
	IncomingPendingFlush
	IncomingClosing
	IncomingEnd
)

// sink is the minimal ability a substream needs from its transport: write
// one frame. Both Outgoing and Incoming are driven by a connection that
// owns the actual net.Conn/encryption and calls back into the substream as
// frames arrive.
type sink interface {
	writeFrame(Frame) error
}

// Outgoing drives one request this node sent, until its RESPONSE arrives
// or the response timer fires.
type Outgoing struct {
	mu    sync.Mutex
	state OutgoingState

	id   string
	sink sink
	log  btclog.Logger

	timer   *time.Timer
	resultC chan Frame
	errC    chan error
}

// NewOutgoing opens an outgoing substream for the request frame req and
// immediately begins the PendingSend -> PendingFlush -> WaitingAnswer
// sequence. The caller receives the RESPONSE (or an error on timeout) via
// Wait.
func NewOutgoing(s sink, req Frame, log btclog.Logger) *Outgoing {
	o := &Outgoing{
		state:   OutgoingPendingOpen,
		id:      req.ID,
		sink:    s,
		log:     log,
		resultC: make(chan Frame, 1),
		errC:    make(chan error, 1),
	}

	o.mu.Lock()
	o.state = OutgoingPendingSend
	err := o.sink.writeFrame(req)
	if err != nil {
		o.state = OutgoingEnd
		o.mu.Unlock()
		o.errC <- err
		return o
	}
	o.state = OutgoingPendingFlush
	o.state = OutgoingWaitingAnswer
	o.timer = time.AfterFunc(responseTimeout, o.onTimeout)
	o.mu.Unlock()

	return o
}

// Wait blocks until the RESPONSE frame arrives, the response timeout
// fires, or the initial send has failed. Closing the Peer does not end
// the wait early.
func (o *Outgoing) Wait() (Frame, error) {
	select {
	case f := <-o.resultC:
		return f, nil
	case err := <-o.errC:
		return Frame{}, err
	}
}

// Deliver feeds the RESPONSE frame for this request to the substream,
// stopping the response timer and transitioning to End.
func (o *Outgoing) Deliver(resp Frame) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != OutgoingWaitingAnswer {
		return
	}
	if o.timer != nil {
		o.timer.Stop()
	}
	o.state = OutgoingClosing
	o.state = OutgoingEnd
	o.resultC <- resp
}

func (o *Outgoing) onTimeout() {
	o.mu.Lock()
	if o.state != OutgoingWaitingAnswer {
		o.mu.Unlock()
		return
	}
	o.state = OutgoingClosing
	o.state = OutgoingEnd
	o.mu.Unlock()

	if o.log != nil {
		o.log.Warnf("swapwire: request %s timed out waiting for a response", o.id)
	}
	o.errC <- ErrResponseTimeout{ID: o.id}
}

// ErrResponseTimeout reports that no RESPONSE arrived within
// responseTimeout, mapping to the SwapResponseTimeout error spec §7 names.
type ErrResponseTimeout struct {
	ID string
}

func (e ErrResponseTimeout) Error() string {
	return "swapwire: request " + e.ID + " timed out waiting for a response"
}

// Handler answers an incoming request frame, returning the RESPONSE body
// to send back (or an error, which aborts the substream without a
// response — the caller is expected to have already sent an automatic
// error response in that case).
type Handler func(req Frame) (Frame, error)

// KnownHeaders is the set of header Types this node recognizes on
// incoming request frames of a given kind; any mandatory header outside
// this set triggers an SE-1 automatic response.
type KnownHeaders map[tlv.Type]struct{}

// Incoming drives one request this node received: validating its headers
// and kind, invoking a Handler, and sending the resulting RESPONSE (or an
// automatic error response).
type Incoming struct {
	mu    sync.Mutex
	state IncomingState

	sink sink
	log  btclog.Logger
}

// NewIncoming wraps a sink for servicing incoming requests.
func NewIncoming(s sink, log btclog.Logger) *Incoming {
	return &Incoming{state: IncomingWaitingMessage, sink: s, log: log}
}

// Handle validates req against supportedKinds, the set of request kinds
// this node supports, and headers, the mandatory-header allowlist, then
// invokes handler
// to produce a response. Any protocol violation short-circuits into an
// automatic error response instead of calling handler.
func (in *Incoming) Handle(req Frame, supportedKinds map[RequestKind]struct{}, headers KnownHeaders, handler Handler) error {
	in.mu.Lock()
	in.state = IncomingWaitingUser
	in.mu.Unlock()

	if _, ok := supportedKinds[req.Kind]; !ok {
		return in.respond(AutomaticErrorResponse(req.ID, StatusUnknownRequestType,
			"unsupported request kind "+string(req.Kind)))
	}

	if req.Headers != nil {
		if unknown := req.Headers.UnknownMandatoryTypes(headers); len(unknown) > 0 {
			return in.respond(AutomaticErrorResponse(req.ID, StatusUnknownMandatoryHeader,
				"unknown mandatory header "+string(unknown[0])))
		}
	}

	resp, err := handler(req)
	if err != nil {
		if in.log != nil {
			in.log.Errorf("swapwire: handler for request %s failed: %v", req.ID, err)
		}
		return err
	}

	return in.respond(resp)
}

func (in *Incoming) respond(resp Frame) error {
	in.mu.Lock()
	in.state = IncomingPendingSend
	err := in.sink.writeFrame(resp)
	if err != nil {
		in.state = IncomingEnd
		in.mu.Unlock()
		return err
	}
	in.state = IncomingPendingFlush
	in.state = IncomingClosing
	in.state = IncomingEnd
	in.mu.Unlock()
	return nil
}
