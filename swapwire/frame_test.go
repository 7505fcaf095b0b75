package swapwire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashbridge/swapd/tlv"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	headers := tlv.NewStream()
	headers.AddRecord("Deadline", []byte("123"))
	headers.AddRecord("nonce", []byte("abc"))

	f := Frame{
		Type:    TypeRequest,
		ID:      "req-1",
		Kind:    RequestSwap,
		Headers: headers,
		Body:    []byte(`{"hello":"world"}`),
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, f))

	got, err := Decode(bufio.NewReader(&buf))
	require.NoError(t, err)

	require.Equal(t, f.Type, got.Type)
	require.Equal(t, f.ID, got.ID)
	require.Equal(t, f.Kind, got.Kind)
	require.JSONEq(t, string(f.Body), string(got.Body))

	v, ok := got.Headers.Get("Deadline")
	require.True(t, ok)
	require.Equal(t, "123", string(v))
}

func TestDecodeMalformedFrame(t *testing.T) {
	var buf bytes.Buffer
	// valid varint length prefix, but the body isn't valid JSON.
	require.NoError(t, Encode(&buf, Frame{Type: TypeRequest, ID: "x", Body: []byte(`{}`)}))

	// Corrupt the body portion (after the length prefix byte) so it no
	// longer parses as JSON.
	raw := buf.Bytes()
	raw[len(raw)-1] = '!'

	_, err := Decode(bufio.NewReader(bytes.NewReader(raw)))
	require.Error(t, err)
	require.IsType(t, ErrMalformed{}, err)
}

func TestFrameExceedingMaxSizeRejected(t *testing.T) {
	big := Frame{
		Type: TypeRequest,
		ID:   "big",
		// A valid JSON string body, so json.Marshal succeeds and only the
		// size check can reject the frame.
		Body: append(append([]byte{'"'}, bytes.Repeat([]byte("a"), maxFrameSize)...), '"'),
	}
	var buf bytes.Buffer
	err := Encode(&buf, big)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds max")
}
