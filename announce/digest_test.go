package announce

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/swap"
)

func testRequest() swap.Request {
	return swap.Request{
		SwapID:      swap.NewID(),
		AlphaLedger: ledger.Bitcoin("regtest"),
		BetaLedger:  ledger.Ethereum(1337),
		AlphaAsset:  ledger.NewBitcoinAsset(100_000_000),
		BetaAsset:   ledger.NewEtherAsset(ledger.EtherAmountFromInt64(1e18)),
		AlphaExpiry: ledger.Timestamp(1_000_000 + 86400),
		BetaExpiry:  ledger.Timestamp(1_000_000 + 43200),
		SecretHash:  ledger.SecretHash{0xbf},
	}
}

func TestComputeDigestIgnoresSwapID(t *testing.T) {
	a := testRequest()
	b := a
	b.SwapID = swap.NewID()

	require.NotEqual(t, a.SwapID, b.SwapID)
	require.Equal(t, ComputeDigest(a), ComputeDigest(b))
}

func TestComputeDigestDiffersOnBusinessFields(t *testing.T) {
	a := testRequest()
	b := a
	b.AlphaExpiry = a.AlphaExpiry + 1

	require.NotEqual(t, ComputeDigest(a), ComputeDigest(b))
}
