package lending

// ClassifyMaturity derives the lockup state of pos at nowSeconds using the
// default lockup period.
func ClassifyMaturity(pos LenderPosition, nowSeconds uint64) Maturity {
	return DefaultRiskParameters().ClassifyMaturity(pos, nowSeconds)
}

// ClassifyMaturity reports Matured once at least LockupSeconds have elapsed
// since the deposit. A deposit timestamp in the future is treated as locked
// for the full period.
func (p RiskParameters) ClassifyMaturity(pos LenderPosition, nowSeconds uint64) Maturity {
	lockup := p.Normalize().LockupSeconds
	if nowSeconds < pos.DepositTimestamp {
		return Maturity{Status: MaturityLocked, SecondsRemaining: lockup}
	}
	elapsed := nowSeconds - pos.DepositTimestamp
	if elapsed >= lockup {
		return Maturity{Status: MaturityMatured}
	}
	return Maturity{Status: MaturityLocked, SecondsRemaining: lockup - elapsed}
}
