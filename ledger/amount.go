package ledger

import (
	"fmt"
	"math/big"
)

// ErrArithmeticOverflow is returned by any amount arithmetic operation
// that would exceed the type's representable range.
var ErrArithmeticOverflow = fmt.Errorf("ledger: arithmetic overflow")

// BitcoinAmount is an unsigned 64-bit satoshi quantity.
type BitcoinAmount uint64

// MaxBitcoinAmount is the largest representable satoshi value (21M BTC).
const MaxBitcoinAmount = BitcoinAmount(21_000_000 * 100_000_000)

// Add returns a + b, or ErrArithmeticOverflow if the result would exceed
// MaxBitcoinAmount or wrap a uint64.
func (a BitcoinAmount) Add(b BitcoinAmount) (BitcoinAmount, error) {
	sum := a + b
	if sum < a || sum > MaxBitcoinAmount {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

// Sub returns a - b, or an error if b > a (Bitcoin amounts cannot be
// negative).
func (a BitcoinAmount) Sub(b BitcoinAmount) (BitcoinAmount, error) {
	if b > a {
		return 0, fmt.Errorf("ledger: %d - %d underflows BitcoinAmount", a, b)
	}
	return a - b, nil
}

// GreaterOrEqual reports whether a >= b, the comparison the chain watcher
// uses to evaluate a BitcoinFunded(addr, min_value) query.
func (a BitcoinAmount) GreaterOrEqual(b BitcoinAmount) bool {
	return a >= b
}

// String renders the amount as a plain decimal integer of satoshis, the
// wire encoding mandated by spec §4.1 ("All amounts serialize as decimal
// strings on the wire").
func (a BitcoinAmount) String() string {
	return fmt.Sprintf("%d", uint64(a))
}

// ParseBitcoinAmount parses a decimal satoshi string produced by String.
func ParseBitcoinAmount(s string) (BitcoinAmount, error) {
	var v uint64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, fmt.Errorf("ledger: invalid bitcoin amount %q: %w", s, err)
	}
	if BitcoinAmount(v) > MaxBitcoinAmount {
		return 0, ErrArithmeticOverflow
	}
	return BitcoinAmount(v), nil
}

// maxUint256 is the upper bound shared by the two 256-bit amount types
// below.
var maxUint256 = new(big.Int).Sub(
	new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1),
)

// EtherAmount is a 256-bit wei quantity, backed by math/big since wei
// routinely exceeds 64 bits of precision.
type EtherAmount struct {
	wei *big.Int
}

// NewEtherAmount constructs an EtherAmount from a wei value.
func NewEtherAmount(wei *big.Int) EtherAmount {
	return EtherAmount{wei: new(big.Int).Set(wei)}
}

// EtherAmountFromInt64 constructs an EtherAmount from a non-negative int64
// of wei, a convenience for tests and constants.
func EtherAmountFromInt64(wei int64) EtherAmount {
	return NewEtherAmount(big.NewInt(wei))
}

// Wei returns the underlying wei value as a *big.Int. The returned value
// must not be mutated by the caller.
func (e EtherAmount) Wei() *big.Int {
	if e.wei == nil {
		return big.NewInt(0)
	}
	return e.wei
}

// Add returns a + b, or ErrArithmeticOverflow if the result would not fit
// in 256 bits.
func (e EtherAmount) Add(other EtherAmount) (EtherAmount, error) {
	sum := new(big.Int).Add(e.Wei(), other.Wei())
	if sum.Cmp(maxUint256) > 0 {
		return EtherAmount{}, ErrArithmeticOverflow
	}
	return EtherAmount{wei: sum}, nil
}

// GreaterOrEqual reports whether e >= other.
func (e EtherAmount) GreaterOrEqual(other EtherAmount) bool {
	return e.Wei().Cmp(other.Wei()) >= 0
}

// String renders the amount as a plain decimal integer of wei.
func (e EtherAmount) String() string {
	return e.Wei().String()
}

// ParseEtherAmount parses a decimal wei string produced by String.
func ParseEtherAmount(s string) (EtherAmount, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return EtherAmount{}, fmt.Errorf("ledger: invalid ether amount %q", s)
	}
	if v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		return EtherAmount{}, ErrArithmeticOverflow
	}
	return EtherAmount{wei: v}, nil
}

// Erc20Amount is a 256-bit ERC-20 token quantity, denominated in the
// token's smallest unit.
type Erc20Amount struct {
	units *big.Int
}

// NewErc20Amount constructs an Erc20Amount from a raw token-unit value.
func NewErc20Amount(units *big.Int) Erc20Amount {
	return Erc20Amount{units: new(big.Int).Set(units)}
}

// Units returns the underlying token-unit value. The returned value must
// not be mutated by the caller.
func (e Erc20Amount) Units() *big.Int {
	if e.units == nil {
		return big.NewInt(0)
	}
	return e.units
}

// Add returns a + b, or ErrArithmeticOverflow if the result would not fit
// in 256 bits.
func (e Erc20Amount) Add(other Erc20Amount) (Erc20Amount, error) {
	sum := new(big.Int).Add(e.Units(), other.Units())
	if sum.Cmp(maxUint256) > 0 {
		return Erc20Amount{}, ErrArithmeticOverflow
	}
	return Erc20Amount{units: sum}, nil
}

// GreaterOrEqual reports whether e >= other.
func (e Erc20Amount) GreaterOrEqual(other Erc20Amount) bool {
	return e.Units().Cmp(other.Units()) >= 0
}

// String renders the amount as a plain decimal integer of token units.
func (e Erc20Amount) String() string {
	return e.Units().String()
}

// ParseErc20Amount parses a decimal token-unit string produced by String.
func ParseErc20Amount(s string) (Erc20Amount, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Erc20Amount{}, fmt.Errorf("ledger: invalid erc20 amount %q", s)
	}
	if v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		return Erc20Amount{}, ErrArithmeticOverflow
	}
	return Erc20Amount{units: v}, nil
}
