package lending

import (
	"errors"

	"github.com/holiman/uint256"
)

// ErrPriceUnavailable is returned when neither a ledger verdict nor a
// collateral price is available to classify a borrower.
var ErrPriceUnavailable = errors.New("lending: collateral price unavailable")

// PriceFunc returns the 18-decimal USD price of one unit of collateral.
type PriceFunc func() (*uint256.Int, error)

// FixedPrice returns a PriceFunc that always yields price.
func FixedPrice(price *uint256.Int) PriceFunc {
	return func() (*uint256.Int, error) {
		if price == nil || price.IsZero() {
			return nil, ErrPriceUnavailable
		}
		return price, nil
	}
}

// ClassifyHealth derives the health factor of pos using the default risk
// parameters.
func ClassifyHealth(pos BorrowerPosition, external *ExternalHealth, price PriceFunc) (Health, error) {
	return DefaultRiskParameters().ClassifyHealth(pos, external, price)
}

// ClassifyHealth derives the health factor of pos. A position without debt has
// no active health regardless of collateral. A ledger verdict is trusted when
// supplied; otherwise the ratio is approximated from price as
// floor(collateralUSD*100/borrowedUSD).
func (p RiskParameters) ClassifyHealth(pos BorrowerPosition, external *ExternalHealth, price PriceFunc) (Health, error) {
	if pos.Borrowed == nil || pos.Borrowed.IsZero() {
		return Health{Status: HealthNoActivePosition}, nil
	}
	if external != nil {
		status := HealthHealthy
		if external.AtRisk {
			status = HealthAtRisk
		}
		return Health{Status: status, Ratio: saturateUint64(external.Ratio), Source: HealthSourceLedger}, nil
	}
	if price == nil {
		return Health{}, ErrPriceUnavailable
	}
	unitPrice, err := price()
	if err != nil {
		return Health{}, err
	}
	if unitPrice == nil || unitPrice.IsZero() {
		return Health{}, ErrPriceUnavailable
	}
	ratio := p.localRatio(pos, unitPrice)
	status := HealthHealthy
	if ratio < p.Normalize().LiquidationThreshold {
		status = HealthAtRisk
	}
	return Health{Status: status, Ratio: ratio, Source: HealthSourceLocal}, nil
}

func (p RiskParameters) localRatio(pos BorrowerPosition, price *uint256.Int) uint64 {
	collateralUSD, ok := valueUSD(pos.Collateral, price)
	if !ok {
		return ^uint64(0)
	}
	ratio, ok := mulDiv(collateralUSD, hundred, pos.Borrowed)
	if !ok {
		return ^uint64(0)
	}
	return saturateUint64(ratio)
}
