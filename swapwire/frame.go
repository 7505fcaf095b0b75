// Package swapwire implements the length-prefixed, JSON-framed
// request/response protocol of spec §4.6 (component C6): frame encoding,
// per-substream state machines, and the automatic SE-0/SE-1/SE-2 error
// responses a malformed or unrecognized frame triggers.
package swapwire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	goerrors "github.com/go-errors/errors"

	"github.com/hashbridge/swapd/tlv"
)

// Type distinguishes a request frame from a response frame (spec §4.6).
type Type string

const (
	TypeRequest  Type = "REQUEST"
	TypeResponse Type = "RESPONSE"
)

// RequestKind names a known request type. Spec §4.6 defines SWAP; the
// announce/negotiate protocol (package announce, C7) layers its own
// request kinds (ANNOUNCE, IDENTITY, FINALIZE) on the same frame shape.
type RequestKind string

const (
	RequestSwap     RequestKind = "SWAP"
	RequestAnnounce RequestKind = "ANNOUNCE"
	RequestIdentity RequestKind = "IDENTITY"
	RequestFinalize RequestKind = "FINALIZE"
)

// Frame is the wire unit: a length-prefixed JSON object with type, id,
// headers and an opaque body (spec §6 "Wire format").
type Frame struct {
	Type    Type            `json:"type"`
	ID      string          `json:"id"`
	Kind    RequestKind     `json:"kind,omitempty"`
	Headers *tlv.Stream     `json:"-"`
	Body    json.RawMessage `json:"body"`
}

// wireFrame is Frame's actual JSON encoding; tlv.Stream doesn't itself
// implement json.Marshaler; this type keeps that translation in one
// place.
type wireFrame struct {
	Type    Type              `json:"type"`
	ID      string            `json:"id"`
	Kind    RequestKind       `json:"kind,omitempty"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

// maxFrameSize bounds a single frame's length prefix, guarding against a
// malicious or buggy peer claiming an enormous body.
const maxFrameSize = 4 << 20 // 4 MiB

// Encode writes f as a varint-length-prefixed JSON object to w, per spec
// §6 ("varint length, then UTF-8 JSON").
func Encode(w io.Writer, f Frame) error {
	headers := make(map[string]string)
	if f.Headers != nil {
		for _, rec := range f.Headers.Records() {
			headers[string(rec.Type)] = string(rec.Value)
		}
	}

	raw, err := json.Marshal(wireFrame{
		Type: f.Type, ID: f.ID, Kind: f.Kind, Headers: headers, Body: f.Body,
	})
	if err != nil {
		return goerrors.Errorf("swapwire: encoding frame: %w", err)
	}
	if len(raw) > maxFrameSize {
		return goerrors.Errorf("swapwire: frame of %d bytes exceeds max %d", len(raw), maxFrameSize)
	}

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(raw)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return goerrors.Errorf("swapwire: writing length prefix: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return goerrors.Errorf("swapwire: writing frame body: %w", err)
	}
	return nil
}

// Decode reads one varint-length-prefixed JSON frame from r.
func Decode(r io.ByteReader) (Frame, error) {
	length, err := binary.ReadUvarint(r)
	if err != nil {
		return Frame{}, goerrors.Errorf("swapwire: reading length prefix: %w", err)
	}
	if length > maxFrameSize {
		return Frame{}, goerrors.Errorf("swapwire: frame of %d bytes exceeds max %d", length, maxFrameSize)
	}

	raw := make([]byte, length)
	for i := range raw {
		b, err := r.ReadByte()
		if err != nil {
			return Frame{}, goerrors.Errorf("swapwire: reading frame body: %w", err)
		}
		raw[i] = b
	}

	var wf wireFrame
	if err := json.Unmarshal(raw, &wf); err != nil {
		return Frame{}, ErrMalformed{Underlying: err}
	}

	headers := tlv.NewStream()
	for k, v := range wf.Headers {
		headers.AddRecord(tlv.Type(k), []byte(v))
	}

	return Frame{
		Type: wf.Type, ID: wf.ID, Kind: wf.Kind, Headers: headers, Body: wf.Body,
	}, nil
}

// ErrMalformed wraps a frame whose body could not even be parsed as JSON,
// mapping to status SE-0 (spec §4.6).
type ErrMalformed struct {
	Underlying error
}

func (e ErrMalformed) Error() string {
	return fmt.Sprintf("swapwire: malformed frame: %v", e.Underlying)
}
