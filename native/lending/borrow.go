package lending

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// MaxBorrowable returns collateral*price*factorPct/100 in display units.
func MaxBorrowable(collateral, priceUSD decimal.Decimal, factorPct uint64) decimal.Decimal {
	return collateral.Mul(priceUSD).Mul(decimal.NewFromInt(int64(factorPct))).Div(decimal.NewFromInt(100))
}

// MaxBorrowable applies the configured collateral factor.
func (p RiskParameters) MaxBorrowable(collateral, priceUSD decimal.Decimal) decimal.Decimal {
	return MaxBorrowable(collateral, priceUSD, p.Normalize().CollateralFactorPct)
}

// MaxBorrowableRaw is the base-unit form of MaxBorrowable: collateral and
// price are 18-decimal values and the result is in 18-decimal USD units,
// truncated. ok is false when the result does not fit a ledger word.
func (p RiskParameters) MaxBorrowableRaw(collateral, price *uint256.Int) (*uint256.Int, bool) {
	collateralUSD, ok := valueUSD(collateral, price)
	if !ok {
		return nil, false
	}
	return mulDiv(collateralUSD, uint256.NewInt(p.Normalize().CollateralFactorPct), hundred)
}

// BorrowHeadroom returns how much more pos may borrow after adding
// extraCollateral, clamped at zero.
func (p RiskParameters) BorrowHeadroom(pos BorrowerPosition, extraCollateral, price *uint256.Int) (*uint256.Int, bool) {
	total, overflow := new(uint256.Int).AddOverflow(amountOrZero(pos.Collateral), amountOrZero(extraCollateral))
	if overflow {
		return nil, false
	}
	limit, ok := p.MaxBorrowableRaw(total, price)
	if !ok {
		return nil, false
	}
	borrowed := amountOrZero(pos.Borrowed)
	if limit.Lt(borrowed) {
		return new(uint256.Int), true
	}
	return new(uint256.Int).Sub(limit, borrowed), true
}
