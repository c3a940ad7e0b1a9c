package store

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"aethos/native/lending"
	"aethos/services/lending/activity"
)

// View is everything the UI needs for one account. Views are immutable once
// published; every change produces a new View.
type View struct {
	Account common.Address `json:"account"`
	// Generation is the reconciliation pass that produced the view.
	Generation uint64    `json:"generation"`
	FetchedAt  time.Time `json:"fetchedAt"`
	// Stale marks a view retained after a failed refresh or restored from
	// disk.
	Stale       bool   `json:"stale"`
	StaleReason string `json:"staleReason,omitempty"`
	// Restored marks a view loaded from disk that no pass of this process
	// has confirmed yet.
	Restored bool `json:"-"`

	Snapshot lending.ProtocolSnapshot `json:"snapshot"`
	Lender   lending.LenderPosition   `json:"lender"`
	Borrower lending.BorrowerPosition `json:"borrower"`
	Health   lending.Health           `json:"health"`
	Maturity lending.Maturity         `json:"maturity"`

	CollateralPrice *uint256.Int `json:"collateralPrice,omitempty"`
	// BorrowHeadroom is how much more the account may borrow at the current
	// price, in pool token base units.
	BorrowHeadroom *uint256.Int `json:"borrowHeadroom,omitempty"`
	TokenBalance   *uint256.Int `json:"tokenBalance,omitempty"`
	NativeBalance  *uint256.Int `json:"nativeBalance,omitempty"`
	UserToken      *uint256.Int `json:"userToken,omitempty"`
	TimeAgo        uint64       `json:"timeAgo"`

	Lenders   []activity.Entry `json:"lenders"`
	Borrowers []activity.Entry `json:"borrowers"`

	Digest [32]byte `json:"-"`
}

// Empty reports whether the view carries no ledger data yet.
func (v *View) Empty() bool {
	return v == nil || v.FetchedAt.IsZero()
}

// Live reports whether the view carries ledger data read by this process.
func (v *View) Live() bool {
	return !v.Empty() && !v.Restored
}

// WithStale returns a copy of v flagged stale. The copy shares the immutable
// position data of v.
func (v *View) WithStale(reason string) *View {
	if v == nil {
		return nil
	}
	out := *v
	out.Stale = true
	out.StaleReason = reason
	return &out
}

// ComputeDigest hashes the ledger-derived content of v, ignoring fetch
// metadata.
func ComputeDigest(v *View) [32]byte {
	if v == nil {
		return [32]byte{}
	}
	clone := *v
	clone.Generation = 0
	clone.FetchedAt = time.Time{}
	clone.Stale = false
	clone.StaleReason = ""
	clone.Digest = [32]byte{}
	payload, err := json.Marshal(&clone)
	if err != nil {
		return [32]byte{}
	}
	return blake3.Sum256(payload)
}
