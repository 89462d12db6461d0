// Package fixedpoint implements the canonical integer arithmetic used for
// every balance, price and PnL figure. Quote amounts and prices are int64
// micro-units (1e-6 USD); sizes are int64 in the market's base decimals.
// Products are taken in 128-bit (math/big) and narrowed back with an
// explicit overflow check.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits of a micro-unit amount.
const Decimals = 6

// Scale is 10^Decimals.
const Scale int64 = 1_000_000

// ErrOverflow is returned when a result does not fit in int64.
var ErrOverflow = errors.New("fixedpoint: overflow")

// RoundingMode selects how a division remainder is resolved.
type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // banker's rounding
	RoundDown                         // toward zero
	RoundUp                           // away from zero
)

var pow10 [19]int64

func init() {
	pow10[0] = 1
	for i := 1; i < len(pow10); i++ {
		pow10[i] = pow10[i-1] * 10
	}
}

// Pow10 returns 10^n for 0 <= n <= 18.
func Pow10(n int) (int64, error) {
	if n < 0 || n >= len(pow10) {
		return 0, fmt.Errorf("%w: 10^%d", ErrOverflow, n)
	}
	return pow10[n], nil
}

// MulDiv computes a*b/c with a 128-bit intermediate.
func MulDiv(a, b, c int64, mode RoundingMode) (int64, error) {
	if c == 0 {
		return 0, fmt.Errorf("%w: division by zero", ErrOverflow)
	}
	num := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	return divide(num, big.NewInt(c), mode)
}

func divide(num, den *big.Int, mode RoundingMode) (int64, error) {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		// Sign of the exact quotient.
		neg := (num.Sign() < 0) != (den.Sign() < 0)
		away := false
		switch mode {
		case RoundUp:
			away = true
		case RoundHalfEven:
			twice := new(big.Int).Abs(r)
			twice.Lsh(twice, 1)
			switch twice.Cmp(new(big.Int).Abs(den)) {
			case 1:
				away = true
			case 0:
				away = q.Bit(0) == 1
			}
		}
		if away {
			if neg {
				q.Sub(q, big.NewInt(1))
			} else {
				q.Add(q, big.NewInt(1))
			}
		}
	}
	if !q.IsInt64() {
		return 0, ErrOverflow
	}
	return q.Int64(), nil
}

// FromOracle rescales an oracle reading mantissa*10^exponent to micro-units.
func FromOracle(mantissa uint64, exponent int32) (int64, error) {
	shift := int(exponent) + Decimals
	m := new(big.Int).SetUint64(mantissa)
	if shift >= 0 {
		p, err := Pow10(shift)
		if err != nil {
			return 0, err
		}
		m.Mul(m, big.NewInt(p))
		if !m.IsInt64() {
			return 0, ErrOverflow
		}
		return m.Int64(), nil
	}
	p, err := Pow10(-shift)
	if err != nil {
		return 0, err
	}
	return divide(m, big.NewInt(p), RoundHalfEven)
}

// Notional is the quote value of size base units at price:
// price * size / 10^decimals.
func Notional(price, size int64, decimals uint8) (int64, error) {
	p, err := Pow10(int(decimals))
	if err != nil {
		return 0, err
	}
	return MulDiv(price, size, p, RoundHalfEven)
}

// PnL is sign * (current - entry) * size / 10^decimals, where sign is +1
// for long and -1 for short.
func PnL(sign int64, entry, current, size int64, decimals uint8) (int64, error) {
	p, err := Pow10(int(decimals))
	if err != nil {
		return 0, err
	}
	diff := new(big.Int).Sub(big.NewInt(current), big.NewInt(entry))
	diff.Mul(diff, big.NewInt(sign))
	diff.Mul(diff, big.NewInt(size))
	return divide(diff, big.NewInt(p), RoundHalfEven)
}

// Margin is the collateral locked for a notional at leverage, rounded up
// so that leverage never exceeds its cap.
func Margin(notional int64, leverage uint8) (int64, error) {
	if leverage == 0 {
		return 0, fmt.Errorf("%w: zero leverage", ErrOverflow)
	}
	return MulDiv(notional, 1, int64(leverage), RoundUp)
}

// Bps returns amount * bps / 10000, rounded down.
func Bps(amount int64, bps uint16) (int64, error) {
	return MulDiv(amount, int64(bps), 10_000, RoundDown)
}

// Add returns a+b or ErrOverflow.
func Add(a, b int64) (int64, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, ErrOverflow
	}
	return s, nil
}

// ToDecimal renders a micro-unit amount as a decimal.
func ToDecimal(micro int64) decimal.Decimal {
	return decimal.New(micro, -Decimals)
}

// FromDecimal converts a decimal amount to micro-units with banker's rounding.
func FromDecimal(d decimal.Decimal) (int64, error) {
	bi := d.Shift(Decimals).RoundBank(0).BigInt()
	if !bi.IsInt64() {
		return 0, ErrOverflow
	}
	return bi.Int64(), nil
}

// String formats a micro-unit amount, e.g. 150000000 -> "150".
func String(micro int64) string {
	return ToDecimal(micro).String()
}
