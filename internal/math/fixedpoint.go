package math

import (
	"Parimutuel/internal/market"

	"github.com/holiman/uint256"
)

// Every multiply-divide is done in 256-bit space with the DivBuffer scaling
// applied before the division and removed after. Stakes are uint64, so
// DivBuffer*x*y never exceeds 2^30 * 2^65 * 2^65 and cannot overflow.
var divBuffer = uint256.NewInt(market.DivBuffer)

// Wide lifts a uint64 into the widened domain
func Wide(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// BufferedMulDiv returns floor(floor(DivBuffer*x*y / d) / DivBuffer).
// A zero divisor is only accepted when the numerator is zero too, in which
// case the term contributes nothing.
func BufferedMulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		if x.IsZero() || y.IsZero() {
			return new(uint256.Int), nil
		}
		return nil, market.ErrEmptyPool
	}

	num, overflow := new(uint256.Int).MulOverflow(divBuffer, x)
	if overflow {
		return nil, market.ErrOverflow
	}
	if _, overflow = num.MulOverflow(num, y); overflow {
		return nil, market.ErrOverflow
	}

	num.Div(num, d)
	return num.Div(num, divBuffer), nil
}

// MulDiv returns floor(x*y / d) without buffering
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, market.ErrEmptyPool
	}
	num, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, market.ErrOverflow
	}
	return num.Div(num, d), nil
}

// Narrow converts a widened result back to a stake amount
func Narrow(v *uint256.Int) (uint64, error) {
	if !v.IsUint64() {
		return 0, market.ErrOverflow
	}
	return v.Uint64(), nil
}

// ApplyFee returns the share of winnings paid to the bettor, truncated toward zero
func ApplyFee(winningsPre uint64) uint64 {
	kept, err := MulDiv(Wide(winningsPre), Wide(market.PercentageWinningsKept), Wide(100))
	if err != nil {
		// 95/100 of a uint64 always fits
		return 0
	}
	return kept.Uint64()
}
