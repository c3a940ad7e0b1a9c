package lending

import (
	"math"

	"github.com/holiman/uint256"

	"aethos/native/units"
)

var hundred = uint256.NewInt(100)

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return new(uint256.Int).Set(v)
}

func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

// mulDiv computes floor(a*b/d) with a 512-bit intermediate. ok is false on a
// zero divisor or when the quotient exceeds 256 bits.
func mulDiv(a, b, d *uint256.Int) (*uint256.Int, bool) {
	if d == nil || d.IsZero() {
		return nil, false
	}
	out, overflow := new(uint256.Int).MulDivOverflow(amountOrZero(a), amountOrZero(b), d)
	if overflow {
		return nil, false
	}
	return out, true
}

// valueUSD converts an 18-decimal collateral amount into 18-decimal USD units
// using an 18-decimal price. The product carries units.Scale36 and is reduced
// back by units.Scale18.
func valueUSD(amount, price *uint256.Int) (*uint256.Int, bool) {
	return mulDiv(amount, price, units.Scale18)
}

func saturateUint64(v *uint256.Int) uint64 {
	if v == nil {
		return 0
	}
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}
