package lending

import (
	"fmt"
	"strings"
)

const (
	// DefaultLiquidationThreshold is the collateralization percentage below
	// which a borrower is at risk.
	DefaultLiquidationThreshold uint64 = 150
	// DefaultLockupSeconds is the minimum deposit age before withdrawal (30 days).
	DefaultLockupSeconds uint64 = 2_592_000
	// DefaultCollateralFactorPct is the share of collateral value that may be
	// borrowed against.
	DefaultCollateralFactorPct uint64 = 75
)

// HealthFlagSemantics selects how the boolean returned by the ledger's health
// call is interpreted.
type HealthFlagSemantics string

const (
	// HealthFlagAtRisk treats true as "ratio below threshold".
	HealthFlagAtRisk HealthFlagSemantics = "at_risk"
	// HealthFlagHealthy treats true as "position is liquid".
	HealthFlagHealthy HealthFlagSemantics = "healthy"
)

// Normalize lowercases the semantics value, defaulting to HealthFlagAtRisk.
func (s HealthFlagSemantics) Normalize() HealthFlagSemantics {
	trimmed := HealthFlagSemantics(strings.ToLower(strings.TrimSpace(string(s))))
	if trimmed == "" {
		return HealthFlagAtRisk
	}
	return trimmed
}

// AtRisk maps the ledger flag onto "at risk" semantics.
func (s HealthFlagSemantics) AtRisk(flag bool) bool {
	if s.Normalize() == HealthFlagHealthy {
		return !flag
	}
	return flag
}

// RiskParameters groups the externally supplied protocol constants used by the
// calculator.
type RiskParameters struct {
	// LiquidationThreshold is the minimum healthy collateralization
	// percentage. The threshold value itself is healthy.
	LiquidationThreshold uint64 `yaml:"liquidation_threshold" toml:"liquidation_threshold"`
	// LockupSeconds is the minimum deposit age before a withdrawal matures.
	LockupSeconds uint64 `yaml:"lockup_seconds" toml:"lockup_seconds"`
	// CollateralFactorPct bounds borrowing to a share of collateral value.
	CollateralFactorPct uint64 `yaml:"collateral_factor_pct" toml:"collateral_factor_pct"`
}

// DefaultRiskParameters returns the protocol's published constants.
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		LiquidationThreshold: DefaultLiquidationThreshold,
		LockupSeconds:        DefaultLockupSeconds,
		CollateralFactorPct:  DefaultCollateralFactorPct,
	}
}

// Normalize fills zero fields with defaults.
func (p RiskParameters) Normalize() RiskParameters {
	defaults := DefaultRiskParameters()
	if p.LiquidationThreshold == 0 {
		p.LiquidationThreshold = defaults.LiquidationThreshold
	}
	if p.LockupSeconds == 0 {
		p.LockupSeconds = defaults.LockupSeconds
	}
	if p.CollateralFactorPct == 0 {
		p.CollateralFactorPct = defaults.CollateralFactorPct
	}
	return p
}

// Validate ensures the parameters are internally consistent.
func (p RiskParameters) Validate() error {
	if p.CollateralFactorPct > 100 {
		return fmt.Errorf("collateral factor %d%% exceeds 100%%", p.CollateralFactorPct)
	}
	if p.LiquidationThreshold < 100 {
		return fmt.Errorf("liquidation threshold %d%% is below 100%%", p.LiquidationThreshold)
	}
	return nil
}
