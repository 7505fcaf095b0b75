package swap

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashbridge/swapd/ledger"
)

// testSecret is the secret every test swap's secret_hash commits to.
var testSecret = ledger.Secret{0x42}

func testSecretHash() ledger.SecretHash {
	return ledger.SecretHash(sha256.Sum256(testSecret[:]))
}

func testRequest() Request {
	return Request{
		SwapID:      NewID(),
		AlphaLedger: ledger.Bitcoin("regtest"),
		BetaLedger:  ledger.Ethereum(1337),
		AlphaAsset:  ledger.NewBitcoinAsset(100_000_000),
		BetaAsset:   ledger.NewEtherAsset(ledger.EtherAmountFromInt64(1e18)),
		AlphaExpiry: ledger.Timestamp(1_000_000 + 86400),
		BetaExpiry:  ledger.Timestamp(1_000_000 + 43200),
		SecretHash:  testSecretHash(),
	}
}

// TestHappyPath exercises spec §8 Scenario A end to end: both HTLCs
// funded, beta redeemed first (revealing the secret), then alpha
// redeemed, terminating at BothRedeemed.
func TestHappyPath(t *testing.T) {
	req := testRequest()
	s := NewSentState(RoleAlice, req)

	s, err := Apply(s, Event{Kind: EventAccepted, Accept: &Accept{SwapID: req.SwapID}})
	require.NoError(t, err)
	require.Equal(t, KindAccepted, s.Kind)

	s, err = Apply(s, Event{Kind: EventAlphaFunded, Txid: ledger.NewBitcoinTxid("a1")})
	require.NoError(t, err)
	require.Equal(t, KindAlphaFunded, s.Kind)

	s, err = Apply(s, Event{Kind: EventBetaFunded, Txid: ledger.NewEthereumTxid("b1")})
	require.NoError(t, err)
	require.Equal(t, KindBothFunded, s.Kind)

	secret := testSecret
	s, err = Apply(s, Event{Kind: EventBetaRedeemed, Txid: ledger.NewEthereumTxid("b2"), Secret: &secret})
	require.NoError(t, err)
	require.Equal(t, KindAlphaFundedBetaRedeemed, s.Kind)
	require.NotNil(t, s.Secret)
	require.Equal(t, secret, *s.Secret)

	s, err = Apply(s, Event{Kind: EventAlphaRedeemed, Txid: ledger.NewBitcoinTxid("a2")})
	require.NoError(t, err)
	require.Equal(t, KindBothRedeemed, s.Kind)
	require.True(t, s.Kind.IsTerminal())
}

// TestRefundOnlyPath exercises spec §8 Scenario B: beta refunds, then
// alpha refunds, terminating at BothRefunded.
func TestRefundOnlyPath(t *testing.T) {
	req := testRequest()
	s := NewSentState(RoleBob, req)
	s.Kind = KindBothFunded

	s, err := Apply(s, Event{Kind: EventBetaRefunded, Txid: ledger.NewEthereumTxid("b-refund")})
	require.NoError(t, err)
	require.Equal(t, KindAlphaFundedBetaRefunded, s.Kind)

	s, err = Apply(s, Event{Kind: EventAlphaRefunded, Txid: ledger.NewBitcoinTxid("a-refund")})
	require.NoError(t, err)
	require.Equal(t, KindBothRefunded, s.Kind)
	require.True(t, s.Kind.IsTerminal())
}

// TestLossOfFundsPath exercises spec §4.5's named failure case: Alice
// redeems beta but fails to redeem alpha before its expiry.
func TestLossOfFundsPath(t *testing.T) {
	req := testRequest()
	s := NewSentState(RoleAlice, req)
	s.Kind = KindAlphaFundedBetaRedeemed

	s, err := Apply(s, Event{Kind: EventAlphaRefunded, Txid: ledger.NewBitcoinTxid("a-refund")})
	require.NoError(t, err)
	require.Equal(t, KindSourceRefundedTargetRedeemed, s.Kind)
	require.True(t, s.Kind.IsTerminal())
}

// TestTerminalSetFromAlphaFunded pins the five terminal kinds that spec §8
// invariant 4 names as reachable from AlphaFunded and checks that each
// reports IsTerminal; it does not derive the set by walking Apply.
func TestTerminalSetFromAlphaFunded(t *testing.T) {
	reachable := map[Kind]bool{
		KindAlphaRefunded:                true,
		KindBothRedeemed:                 true,
		KindBothRefunded:                 true,
		KindSourceRedeemedTargetRefunded: true,
		KindSourceRefundedTargetRedeemed: true,
	}
	for k := range reachable {
		require.True(t, k.IsTerminal(), "expected %s to be terminal", k)
	}
	require.Len(t, reachable, 5)
}

// TestIdempotentRedelivery ensures re-delivering an already-applied event
// against its post-transition state is a documented no-op, per spec §4.5
// "Determinism and idempotence."
func TestIdempotentRedelivery(t *testing.T) {
	req := testRequest()
	s := NewSentState(RoleAlice, req)

	s, err := Apply(s, Event{Kind: EventAccepted, Accept: &Accept{SwapID: req.SwapID}})
	require.NoError(t, err)

	replayed, err := Apply(s, Event{Kind: EventAccepted, Accept: &Accept{SwapID: req.SwapID}})
	require.Error(t, err)
	require.IsType(t, ErrNoTransition{}, err)
	require.Equal(t, s, replayed)
}

// TestRedemptionSecretMustMatchHash covers spec §8 invariant 2: a
// redemption event whose preimage doesn't hash to the swap's secret_hash
// is rejected without advancing state.
func TestRedemptionSecretMustMatchHash(t *testing.T) {
	req := testRequest()
	s := NewSentState(RoleAlice, req)
	s.Kind = KindBothFunded

	wrong := ledger.Secret{0x66}
	next, err := Apply(s, Event{
		Kind: EventBetaRedeemed, Txid: ledger.NewEthereumTxid("bad"), Secret: &wrong,
	})
	require.Error(t, err)
	require.IsType(t, ErrSecretMismatch{}, err)
	require.Equal(t, s, next)

	// A zero-byte secret is still a valid preimage when the hash
	// commits to it (spec §8 boundary case 10).
	var zero ledger.Secret
	s.Request.SecretHash = ledger.SecretHash(sha256.Sum256(zero[:]))
	next, err = Apply(s, Event{
		Kind: EventBetaRedeemed, Txid: ledger.NewEthereumTxid("ok"), Secret: &zero,
	})
	require.NoError(t, err)
	require.Equal(t, KindAlphaFundedBetaRedeemed, next.Kind)
}

func TestRequestValidateRejectsUnsupportedKind(t *testing.T) {
	req := testRequest()
	req.BetaAsset = ledger.NewBitcoinAsset(1)
	req.BetaLedger = ledger.Bitcoin("regtest")

	err := req.Validate(ledger.Timestamp(12 * 3600))
	require.Error(t, err)
}
