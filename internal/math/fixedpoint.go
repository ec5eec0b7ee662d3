package math

import (
	"errors"

	"github.com/holiman/uint256"
)

// All protocol amounts, prices, and rates use 18-decimal fixed point.
var (
	// Scale is 10^18, the unit value.
	Scale = uint256.NewInt(1e18)

	// HalfScale is used for half-up rounding in DecMul.
	HalfScale = uint256.NewInt(5e17)
)

var (
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrDivisionByZero     = errors.New("division by zero")
)

// MaxUint256 returns the sentinel "infinite" value (2^256 - 1).
func MaxUint256() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// MulDiv computes a * b / d, truncating toward zero. Fails with
// ErrArithmeticOverflow when a * b does not fit in 256 bits.
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return product.Div(product, d), nil
}

// MulScale computes a * b / Scale, truncating.
func MulScale(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, b, Scale)
}

// DecMul computes a * b / Scale with half-up rounding. Used inside DecPow so
// repeated squaring does not accumulate a downward bias.
func DecMul(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	product.Add(product, HalfScale)
	return product.Div(product, Scale), nil
}

// maxDecPowMinutes caps the decay exponent at 1000 years of minutes so the
// loop stays bounded even with an absurd timestamp gap.
const maxDecPowMinutes = 525_600_000

// DecPow computes base^minutes at Scale precision by exponentiation by
// squaring.
func DecPow(base *uint256.Int, minutes uint64) (*uint256.Int, error) {
	if minutes > maxDecPowMinutes {
		minutes = maxDecPowMinutes
	}
	if minutes == 0 {
		return new(uint256.Int).Set(Scale), nil
	}

	y := new(uint256.Int).Set(Scale)
	x := new(uint256.Int).Set(base)
	n := minutes

	for n > 1 {
		if n%2 == 0 {
			squared, err := DecMul(x, x)
			if err != nil {
				return nil, err
			}
			x = squared
			n = n / 2
		} else {
			product, err := DecMul(x, y)
			if err != nil {
				return nil, err
			}
			y = product
			squared, err := DecMul(x, x)
			if err != nil {
				return nil, err
			}
			x = squared
			n = (n - 1) / 2
		}
	}

	return DecMul(x, y)
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// Max returns a copy of the larger of a and b.
func Max(a, b *uint256.Int) *uint256.Int {
	if a.Gt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// NominalICR returns collateral * Scale / debt. The price term is deliberately
// omitted so the sorted index can be maintained without an oracle call. When
// debt is zero the ratio is reported as the max-uint256 sentinel, ranking the
// position above every real ratio. Truncation biases the reported ratio down,
// in favor of system solvency.
func NominalICR(collateral, debt *uint256.Int) (*uint256.Int, error) {
	if debt.IsZero() {
		return MaxUint256(), nil
	}
	return MulDiv(collateral, Scale, debt)
}

// ICR returns collateral * price / debt, the price-denominated
// collateralization ratio. Max-uint256 sentinel when debt is zero.
func ICR(collateral, price, debt *uint256.Int) (*uint256.Int, error) {
	if debt.IsZero() {
		return MaxUint256(), nil
	}
	return MulDiv(collateral, price, debt)
}

// ApplyPercent returns amount * pct / Scale, truncating.
func ApplyPercent(amount, pct *uint256.Int) (*uint256.Int, error) {
	return MulDiv(amount, pct, Scale)
}
