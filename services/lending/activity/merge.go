package activity

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"aethos/native/lending"
	"aethos/native/units"
)

// Kind distinguishes lender rows from borrower rows.
type Kind string

const (
	KindLender   Kind = "lender"
	KindBorrower Kind = "borrower"
)

// Entry is one row of the merged activity feed.
type Entry struct {
	Kind           Kind           `json:"kind"`
	Account        common.Address `json:"account"`
	DisplayAddress string         `json:"displayAddress"`
	// CollateralOrDeposit is the deposit for lenders and the collateral for
	// borrowers.
	CollateralOrDeposit decimal.Decimal `json:"collateralOrDeposit"`
	// BorrowedOrEarned is the debt for borrowers and the earned amount for
	// lenders.
	BorrowedOrEarned decimal.Decimal `json:"borrowedOrEarned"`
	// Health is set on borrower rows; nil when it could not be derived.
	Health *lending.Health `json:"health,omitempty"`
	// Maturity is set on lender rows.
	Maturity *lending.Maturity `json:"maturity,omitempty"`
	IsSelf   bool              `json:"isSelf"`
	// Recency orders rows; lower values sort first.
	Recency uint64 `json:"recency"`
}

// Options parameterises a merge.
type Options struct {
	// Decimals is the base-unit precision of lender deposits. Borrower
	// collateral and debt are always 18-decimal.
	Decimals uint8
	// SelfLabel replaces the shortened address on the caller's own row.
	SelfLabel string
	// Now is the unix second used for maturity.
	Now  uint64
	Risk lending.RiskParameters
	// Price approximates health for roster borrowers.
	Price lending.PriceFunc
	// SelfHealth overrides the health of the caller's own borrower row.
	SelfHealth *lending.Health
	// Earned reports a lender's earnings; zero when nil.
	Earned func(lending.LenderPosition) *uint256.Int
}

func (o Options) decimals() uint8 {
	if o.Decimals == 0 {
		return units.LedgerDecimals
	}
	return o.Decimals
}

type position interface {
	Owner() common.Address
	Active() bool
}

// merge places an active self row first, then every active roster row that is
// not the caller's own, preserving roster order.
func merge[P position](self *P, roster []P, account common.Address, build func(P, bool) Entry) []Entry {
	out := make([]Entry, 0, len(roster)+1)
	if self != nil && (*self).Active() {
		out = append(out, build(*self, true))
	}
	for _, pos := range roster {
		if !pos.Active() || pos.Owner() == account {
			continue
		}
		out = append(out, build(pos, false))
	}
	for i := range out {
		out[i].Recency = uint64(i)
	}
	return out
}

// MergeLenders builds the lender feed for account.
func MergeLenders(self *lending.LenderPosition, roster []lending.LenderPosition, account common.Address, opts Options) []Entry {
	decimals := opts.decimals()
	return merge(self, roster, account, func(pos lending.LenderPosition, isSelf bool) Entry {
		maturity := opts.Risk.ClassifyMaturity(pos, opts.Now)
		earned := decimal.Zero
		if opts.Earned != nil {
			earned = units.ToDisplay(opts.Earned(pos), decimals)
		}
		return Entry{
			Kind:                KindLender,
			Account:             pos.Account,
			DisplayAddress:      displayAddress(pos.Account, isSelf, opts.SelfLabel),
			CollateralOrDeposit: units.ToDisplay(pos.Deposited, decimals),
			BorrowedOrEarned:    earned,
			Maturity:            &maturity,
			IsSelf:              isSelf,
		}
	})
}

// MergeBorrowers builds the borrower feed for account.
func MergeBorrowers(self *lending.BorrowerPosition, roster []lending.BorrowerPosition, account common.Address, opts Options) []Entry {
	decimals := units.LedgerDecimals
	return merge(self, roster, account, func(pos lending.BorrowerPosition, isSelf bool) Entry {
		var health *lending.Health
		if isSelf && opts.SelfHealth != nil {
			h := *opts.SelfHealth
			health = &h
		} else if h, err := opts.Risk.ClassifyHealth(pos, nil, opts.Price); err == nil {
			health = &h
		}
		return Entry{
			Kind:                KindBorrower,
			Account:             pos.Account,
			DisplayAddress:      displayAddress(pos.Account, isSelf, opts.SelfLabel),
			CollateralOrDeposit: units.ToDisplay(pos.Collateral, decimals),
			BorrowedOrEarned:    units.ToDisplay(pos.Borrowed, decimals),
			Health:              health,
			IsSelf:              isSelf,
		}
	})
}

// ShortAddress renders the first 6 and last 4 characters of the checksummed
// address.
func ShortAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "…" + hex[len(hex)-4:]
}

func displayAddress(addr common.Address, isSelf bool, label string) string {
	if isSelf && label != "" {
		return label
	}
	return ShortAddress(addr)
}
