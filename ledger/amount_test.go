package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitcoinAmountCheckedAdd(t *testing.T) {
	t.Parallel()

	sum, err := BitcoinAmount(1).Add(2)
	require.NoError(t, err)
	require.Equal(t, BitcoinAmount(3), sum)

	_, err = MaxBitcoinAmount.Add(1)
	require.ErrorIs(t, err, ErrArithmeticOverflow)

	_, err = BitcoinAmount(^uint64(0) - 1).Add(2)
	require.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestBitcoinAmountSubUnderflow(t *testing.T) {
	t.Parallel()

	_, err := BitcoinAmount(1).Sub(2)
	require.Error(t, err)

	diff, err := BitcoinAmount(5).Sub(2)
	require.NoError(t, err)
	require.Equal(t, BitcoinAmount(3), diff)
}

func TestBitcoinAmountDecimalRoundTrip(t *testing.T) {
	t.Parallel()

	amt := BitcoinAmount(2_100_000_000_000_000)
	parsed, err := ParseBitcoinAmount(amt.String())
	require.NoError(t, err)
	require.Equal(t, amt, parsed)

	_, err = ParseBitcoinAmount("21000001000000000")
	require.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestEtherAmountOverflow(t *testing.T) {
	t.Parallel()

	max := NewEtherAmount(new(big.Int).Sub(
		new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1),
	))
	_, err := max.Add(EtherAmountFromInt64(1))
	require.ErrorIs(t, err, ErrArithmeticOverflow)
}

// TestEtherAmountDecimalRoundTrip covers the wire rule of spec §4.1:
// amounts travel as decimal strings to avoid JSON float precision loss,
// including values beyond 2^53.
func TestEtherAmountDecimalRoundTrip(t *testing.T) {
	t.Parallel()

	const wei = "123456789012345678901234567890"
	amt, err := ParseEtherAmount(wei)
	require.NoError(t, err)
	require.Equal(t, wei, amt.String())

	_, err = ParseEtherAmount("-1")
	require.ErrorIs(t, err, ErrArithmeticOverflow)

	_, err = ParseEtherAmount("1.5")
	require.Error(t, err)
}

func TestErc20AmountComparison(t *testing.T) {
	t.Parallel()

	a, err := ParseErc20Amount("5000000000000000000")
	require.NoError(t, err)
	b, err := ParseErc20Amount("4999999999999999999")
	require.NoError(t, err)

	require.True(t, a.GreaterOrEqual(b))
	require.True(t, a.GreaterOrEqual(a))
	require.False(t, b.GreaterOrEqual(a))
}

func TestKindValidate(t *testing.T) {
	t.Parallel()

	valid := []Kind{
		{AlphaLedger: Bitcoin("regtest"), BetaLedger: Ethereum(1), AlphaAsset: AssetBitcoin, BetaAsset: AssetEther},
		{AlphaLedger: Bitcoin("regtest"), BetaLedger: Ethereum(1), AlphaAsset: AssetBitcoin, BetaAsset: AssetErc20},
		{AlphaLedger: Ethereum(1), BetaLedger: Bitcoin("regtest"), AlphaAsset: AssetEther, BetaAsset: AssetBitcoin},
		{AlphaLedger: Ethereum(1), BetaLedger: Bitcoin("regtest"), AlphaAsset: AssetErc20, BetaAsset: AssetBitcoin},
	}
	for _, k := range valid {
		require.NoError(t, k.Validate())
	}

	invalid := []Kind{
		{AlphaLedger: Bitcoin("regtest"), BetaLedger: Bitcoin("regtest"), AlphaAsset: AssetBitcoin, BetaAsset: AssetBitcoin},
		{AlphaLedger: Ethereum(1), BetaLedger: Ethereum(2), AlphaAsset: AssetEther, BetaAsset: AssetErc20},
		{AlphaLedger: Bitcoin("regtest"), BetaLedger: Ethereum(1), AlphaAsset: AssetEther, BetaAsset: AssetBitcoin},
	}
	for _, k := range invalid {
		err := k.Validate()
		require.Error(t, err)
		require.IsType(t, ErrUnsupportedKind{}, err)
	}
}

func TestSecretRoundTrip(t *testing.T) {
	t.Parallel()

	var secret Secret
	secret[0], secret[31] = 0xab, 0xcd
	parsed, err := ParseSecret(secret.String())
	require.NoError(t, err)
	require.Equal(t, secret, parsed)

	_, err = ParseSecret("abcd")
	require.Error(t, err)
}
