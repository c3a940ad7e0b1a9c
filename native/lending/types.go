package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LenderPosition captures a single account's deposit in the Pool. Amounts are
// denominated in 18-decimal base units.
type LenderPosition struct {
	// Account owns the deposit.
	Account common.Address `json:"account"`
	// Deposited is the amount currently supplied to the pool. A zero value
	// marks the position inactive and DepositTimestamp meaningless.
	Deposited *uint256.Int `json:"deposited"`
	// DepositTimestamp records the unix second of the most recent deposit.
	DepositTimestamp uint64 `json:"depositTimestamp"`
}

// Owner returns the account holding the position.
func (p LenderPosition) Owner() common.Address { return p.Account }

// Active reports whether the deposit is non-zero.
func (p LenderPosition) Active() bool { return p.Deposited != nil && !p.Deposited.IsZero() }

// Clone returns a deep copy of the lender position.
func (p LenderPosition) Clone() LenderPosition {
	p.Deposited = cloneAmount(p.Deposited)
	return p
}

// BorrowerPosition captures a single account's collateral and outstanding
// debt in the Pool.
type BorrowerPosition struct {
	// Account owns the position.
	Account common.Address `json:"account"`
	// Collateral is the native asset locked against the loan. A zero value
	// marks the position inactive.
	Collateral *uint256.Int `json:"collateral"`
	// Borrowed is the outstanding debt denominated in the pool token.
	Borrowed *uint256.Int `json:"borrowed"`
}

// Owner returns the account holding the position.
func (p BorrowerPosition) Owner() common.Address { return p.Account }

// Active reports whether any collateral is locked.
func (p BorrowerPosition) Active() bool { return p.Collateral != nil && !p.Collateral.IsZero() }

// Clone returns a deep copy of the borrower position.
func (p BorrowerPosition) Clone() BorrowerPosition {
	p.Collateral = cloneAmount(p.Collateral)
	p.Borrowed = cloneAmount(p.Borrowed)
	return p
}

// ProtocolSnapshot is one complete read of the Pool's aggregate figures and
// rosters. Snapshots are immutable once fetched and replaced wholesale.
type ProtocolSnapshot struct {
	// TotalLiquidity is the pool token liquidity available to borrowers.
	TotalLiquidity *uint256.Int `json:"totalLiquidity"`
	// TotalLended is the aggregate amount supplied by lenders.
	TotalLended *uint256.Int `json:"totalLended"`
	// TotalCollateral is the aggregate native collateral held by the pool.
	TotalCollateral *uint256.Int `json:"totalCollateral"`
	// ProtocolValue is the pool's reported value in USD base units.
	ProtocolValue *uint256.Int `json:"protocolValue"`
	// Lenders lists every lender in ledger order.
	Lenders []LenderPosition `json:"lenders"`
	// Borrowers lists every borrower in ledger order.
	Borrowers []BorrowerPosition `json:"borrowers"`
}

// Clone returns a deep copy of the snapshot.
func (s ProtocolSnapshot) Clone() ProtocolSnapshot {
	out := ProtocolSnapshot{
		TotalLiquidity:  cloneAmount(s.TotalLiquidity),
		TotalLended:     cloneAmount(s.TotalLended),
		TotalCollateral: cloneAmount(s.TotalCollateral),
		ProtocolValue:   cloneAmount(s.ProtocolValue),
	}
	if s.Lenders != nil {
		out.Lenders = make([]LenderPosition, len(s.Lenders))
		for i, l := range s.Lenders {
			out.Lenders[i] = l.Clone()
		}
	}
	if s.Borrowers != nil {
		out.Borrowers = make([]BorrowerPosition, len(s.Borrowers))
		for i, b := range s.Borrowers {
			out.Borrowers[i] = b.Clone()
		}
	}
	return out
}

// ExternalHealth is the Pool's own health verdict for a borrower, already
// mapped onto "at risk" semantics by the reader.
type ExternalHealth struct {
	AtRisk bool
	// Ratio is the collateralization percentage reported by the ledger.
	Ratio *uint256.Int
}

// HealthStatus classifies a borrower position.
type HealthStatus uint8

const (
	HealthNoActivePosition HealthStatus = iota
	HealthHealthy
	HealthAtRisk
)

func (s HealthStatus) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthAtRisk:
		return "at_risk"
	default:
		return "no_active_position"
	}
}

// HealthSource records where a health ratio came from.
type HealthSource uint8

const (
	HealthSourceNone HealthSource = iota
	HealthSourceLedger
	HealthSourceLocal
)

func (s HealthSource) String() string {
	switch s {
	case HealthSourceLedger:
		return "ledger"
	case HealthSourceLocal:
		return "local"
	default:
		return "none"
	}
}

// Health is the derived health factor of a borrower position.
type Health struct {
	Status HealthStatus `json:"status"`
	// Ratio is the collateralization percentage; zero when Status is
	// HealthNoActivePosition. Saturates at math.MaxUint64.
	Ratio  uint64       `json:"ratio"`
	Source HealthSource `json:"source"`
}

// MaturityStatus classifies a lender position against the lockup period.
type MaturityStatus uint8

const (
	MaturityLocked MaturityStatus = iota
	MaturityMatured
)

func (s MaturityStatus) String() string {
	if s == MaturityMatured {
		return "matured"
	}
	return "locked"
}

// Maturity is the derived lockup state of a lender position.
type Maturity struct {
	Status           MaturityStatus `json:"status"`
	SecondsRemaining uint64         `json:"secondsRemaining"`
}
