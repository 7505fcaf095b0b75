package swapdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashbridge/swapd/ledger"
	"github.com/hashbridge/swapd/swap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func btcEthRequest(t *testing.T) swap.Request {
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
		AlphaLedgerRefundIdentity: ledger.PublicKey{0x02, 0x01, 0x02, 0x03},
		BetaLedgerRedeemIdentity:  ledger.PublicKey{0xaa, 0xbb, 0xcc},
		AlphaExpiry:               1_700_086_400,
		BetaExpiry:                1_700_043_200,
		SecretHash:                secretHash,
	}
}

// TestAcceptedSwapRoundTrip exercises the joined read path: persisting a
// request and its accept, then reloading, yields the same values.
func TestAcceptedSwapRoundTrip(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	req := btcEthRequest(t)

	require.NoError(t, db.CreateSwap(swap.RoleAlice, "peer-1", req))
	require.ErrorIs(t, db.CreateSwap(swap.RoleAlice, "peer-1", req),
		ErrSwapAlreadyExists)

	acc := swap.Accept{
		SwapID:                    req.SwapID,
		AlphaLedgerRedeemIdentity: ledger.PublicKey{0x03, 0x0a},
		BetaLedgerRefundIdentity:  ledger.PublicKey{0xde, 0xad},
	}
	require.NoError(t, db.PutAccept(acc))

	loaded, err := db.FetchAcceptedSwap(req.SwapID)
	require.NoError(t, err)
	require.Equal(t, swap.RoleAlice, loaded.Role)
	require.Equal(t, "peer-1", loaded.Counterparty)
	require.Equal(t, req, loaded.Request)
	require.Equal(t, acc, loaded.Accept)
}

// TestErc20RequestRoundTrip covers the bitcoin-erc20 request table, which
// additionally stores the token contract.
func TestErc20RequestRoundTrip(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)

	req := btcEthRequest(t)
	req.BetaAsset = ledger.NewErc20Asset(
		ledger.NewEthereumAddress("0xB97048628DB6B661D4C2aA833e95Dbe1A905B280"),
		ledger.Erc20Amount{},
	)
	amt, err := ledger.ParseErc20Amount("5000000000000000000000")
	require.NoError(t, err)
	req.BetaAsset.Erc20 = amt

	require.NoError(t, db.CreateSwap(swap.RoleBob, "peer-2", req))

	rec, err := db.FetchSwap(req.SwapID)
	require.NoError(t, err)
	require.Equal(t, req, rec.Request)
	require.Nil(t, rec.Accept)
	require.Nil(t, rec.Decline)
}

func TestDeclineNullableReason(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	req := btcEthRequest(t)
	require.NoError(t, db.CreateSwap(swap.RoleBob, "peer-3", req))

	require.NoError(t, db.PutDecline(swap.Decline{SwapID: req.SwapID}))

	rec, err := db.FetchSwap(req.SwapID)
	require.NoError(t, err)
	require.NotNil(t, rec.Decline)
	require.Empty(t, rec.Decline.Reason)

	_, err = db.FetchAcceptedSwap(req.SwapID)
	require.ErrorIs(t, err, ErrNoResponse)
}

func TestFetchUnknownSwap(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	_, err := db.FetchSwap(swap.NewID())
	require.ErrorIs(t, err, ErrSwapNotFound)
}

// TestEventLogReplay appends a realistic event sequence and verifies both
// the append-order load and that swap.Recover rebuilds the same state the
// live machine would have reached.
func TestEventLogReplay(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	req := btcEthRequest(t)
	require.NoError(t, db.CreateSwap(swap.RoleAlice, "peer-4", req))

	acc := &swap.Accept{
		SwapID:                    req.SwapID,
		AlphaLedgerRedeemIdentity: ledger.PublicKey{0x03, 0x0a},
		BetaLedgerRefundIdentity:  ledger.PublicKey{0xde, 0xad},
	}
	fundedTxid := ledger.NewBitcoinTxid(
		"4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b",
	)

	events := []swap.Event{
		{Kind: swap.EventAccepted, Accept: acc},
		{
			Kind:     swap.EventAlphaFunded,
			Txid:     fundedTxid,
			Location: ledger.NewBitcoinAddress("bcrt1qexample"),
			Vout:     1,
		},
	}
	for _, ev := range events {
		require.NoError(t, db.AppendEvent(req.SwapID, ev))
	}

	loaded, err := db.LoadEvents(req.SwapID)
	require.NoError(t, err)
	require.Equal(t, events, loaded)

	mach, err := swap.Recover(
		swap.Config{Store: db}, swap.NewSentState(swap.RoleAlice, req),
	)
	require.NoError(t, err)

	st := mach.State()
	require.Equal(t, swap.KindAlphaFunded, st.Kind)
	require.Equal(t, acc, st.Accept)
	require.Equal(t, fundedTxid, st.AlphaFundedTxid)
	require.Equal(t, uint32(1), st.AlphaFundedVout)
}

func TestListSwaps(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	first := btcEthRequest(t)
	second := btcEthRequest(t)

	require.NoError(t, db.CreateSwap(swap.RoleAlice, "peer-a", first))
	require.NoError(t, db.CreateSwap(swap.RoleBob, "peer-b", second))

	recs, err := db.ListSwaps()
	require.NoError(t, err)
	require.Len(t, recs, 2)

	byID := make(map[swap.ID]SwapRecord, len(recs))
	for _, r := range recs {
		byID[r.SwapID] = r
	}
	require.Equal(t, swap.RoleAlice, byID[first.SwapID].Role)
	require.Equal(t, swap.RoleBob, byID[second.SwapID].Role)
}
