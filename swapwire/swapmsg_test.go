package swapwire

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/swap"
	"github.com/hashbridge/swapd/tlv"
)

func testSwapRequest(t *testing.T) swap.Request {
	t.Helper()

	secretHash, err := ledger.ParseSecretHash(
		"bfbfbfbfbfbfbfbfbfbfbfbfbfbfbfbfbfbfbfbfbfbfbfbfbfbfbfbfbfbfbfbf",
	)
	require.NoError(t, err)

	return swap.Request{
		SwapID:                    swap.NewID(),
		AlphaLedger:               ledger.Bitcoin("regtest"),
		BetaLedger:                ledger.Ethereum(1337),
		AlphaAsset:                ledger.NewBitcoinAsset(100_000_000),
		BetaAsset:                 ledger.NewEtherAsset(ledger.EtherAmountFromInt64(10_000_000_000_000_000)),
		AlphaLedgerRefundIdentity: ledger.PublicKey{0x02, 0xaa},
		BetaLedgerRedeemIdentity:  ledger.PublicKey{0x11, 0x22},
		AlphaExpiry:               1_700_086_400,
		BetaExpiry:                1_700_043_200,
		SecretHash:                secretHash,
	}
}

// TestSwapRequestRoundTrip covers spec §8 round-trip law 5 for the SWAP
// request: frame encoding to bytes and back preserves the logical
// content.
func TestSwapRequestRoundTrip(t *testing.T) {
	t.Parallel()

	req := testSwapRequest(t)
	frame, err := EncodeSwapRequest(req)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, frame))
	decodedFrame, err := Decode(&buf)
	require.NoError(t, err)

	decoded, err := DecodeSwapRequest(decodedFrame)
	require.NoError(t, err)
	require.Equal(t, req, decoded)
}

func TestSwapRequestRoundTripErc20(t *testing.T) {
	t.Parallel()

	req := testSwapRequest(t)
	amt, err := ledger.ParseErc20Amount("123450000000000000000000")
	require.NoError(t, err)
	req.BetaAsset = ledger.NewErc20Asset(
		ledger.NewEthereumAddress("0xB97048628DB6B661D4C2aA833e95Dbe1A905B280"), amt,
	)

	frame, err := EncodeSwapRequest(req)
	require.NoError(t, err)
	decoded, err := DecodeSwapRequest(frame)
	require.NoError(t, err)
	require.Equal(t, req, decoded)
}

func TestSwapResponseRoundTrip(t *testing.T) {
	t.Parallel()

	acc := swap.Accept{
		SwapID:                    swap.NewID(),
		AlphaLedgerRedeemIdentity: ledger.PublicKey{0x03, 0x01},
		BetaLedgerRefundIdentity:  ledger.PublicKey{0x04, 0x02},
	}
	gotAcc, gotDec, err := DecodeSwapResponse(EncodeSwapAccept("req-1", acc))
	require.NoError(t, err)
	require.Nil(t, gotDec)
	require.Equal(t, acc, *gotAcc)

	dec := swap.Decline{SwapID: swap.NewID(), Reason: "rate moved"}
	gotAcc, gotDec, err = DecodeSwapResponse(EncodeSwapDecline("req-2", dec))
	require.NoError(t, err)
	require.Nil(t, gotAcc)
	require.Equal(t, dec, *gotDec)
}

func TestDecodeRejectsUnsupportedKind(t *testing.T) {
	t.Parallel()

	req := testSwapRequest(t)
	req.BetaLedger = ledger.Bitcoin("regtest")
	req.BetaAsset = ledger.NewBitcoinAsset(1)

	frame, err := EncodeSwapRequest(req)
	require.NoError(t, err)
	_, err = DecodeSwapRequest(frame)
	require.Error(t, err)
}

// TestMissingMandatoryHeaderDeclines covers spec §8 Scenario C: a SWAP
// frame arriving without its AlphaLedger header is answered with a
// Declined response carrying status SE-1.
func TestMissingMandatoryHeaderDeclines(t *testing.T) {
	t.Parallel()

	req := testSwapRequest(t)
	frame, err := EncodeSwapRequest(req)
	require.NoError(t, err)

	// Rebuild the headers without AlphaLedger.
	stripped := tlv.NewStream()
	for _, rec := range frame.Headers.Records() {
		if rec.Type == HeaderAlphaLedger {
			continue
		}
		stripped.AddRecord(rec.Type, rec.Value)
	}
	frame.Headers = stripped

	sink := &recordingSink{}
	in := NewIncoming(sink, nil)

	handler := func(f Frame) (Frame, error) {
		if _, err := DecodeSwapRequest(f); err != nil {
			return AutomaticErrorResponse(
				f.ID, StatusUnknownMandatoryHeader, err.Error(),
			), nil
		}
		t.Fatal("handler should not reach the accept path")
		return Frame{}, nil
	}

	err = in.Handle(frame,
		map[RequestKind]struct{}{RequestSwap: {}},
		SwapKnownHeaders(), handler,
	)
	require.NoError(t, err)
	require.Len(t, sink.frames, 1)

	var body ErrorBody
	require.NoError(t, json.Unmarshal(sink.frames[0].Body, &body))
	require.Equal(t, DecisionDeclined, body.Decision)
	require.Equal(t, StatusUnknownMandatoryHeader, body.Status)
}
