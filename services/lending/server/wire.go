package server

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"aethos/native/lending"
	"aethos/native/units"
	"aethos/services/lending/actions"
	"aethos/services/lending/activity"
	"aethos/services/lending/store"
)

type accountRequest struct {
	Account string `json:"account" validate:"required,eth_addr"`
}

type actionRequest struct {
	Kind       string `json:"kind" validate:"required,oneof=mint mint_collateral_token deposit borrow withdraw"`
	Amount     string `json:"amount" validate:"omitempty,max=80"`
	Collateral string `json:"collateral" validate:"omitempty,max=80"`
}

type protocolDTO struct {
	TotalLiquidity  string `json:"totalLiquidity"`
	TotalLended     string `json:"totalLended"`
	TotalCollateral string `json:"totalCollateral"`
	ProtocolValue   string `json:"protocolValue"`
	LenderCount     int    `json:"lenderCount"`
	BorrowerCount   int    `json:"borrowerCount"`
}

type lenderDTO struct {
	Deposited        string           `json:"deposited"`
	DepositTimestamp uint64           `json:"depositTimestamp"`
	Maturity         lending.Maturity `json:"maturity"`
	TimeAgo          uint64           `json:"timeAgo"`
}

type borrowerDTO struct {
	Collateral     string         `json:"collateral"`
	Borrowed       string         `json:"borrowed"`
	Health         lending.Health `json:"health"`
	BorrowHeadroom string         `json:"borrowHeadroom,omitempty"`
}

type balancesDTO struct {
	Token     string `json:"token,omitempty"`
	Native    string `json:"native,omitempty"`
	UserToken string `json:"userToken,omitempty"`
}

type snapshotResponse struct {
	Account         string           `json:"account"`
	Generation      uint64           `json:"generation"`
	FetchedAt       *time.Time       `json:"fetchedAt,omitempty"`
	Loading         bool             `json:"loading"`
	Stale           bool             `json:"stale"`
	StaleReason     string           `json:"staleReason,omitempty"`
	Protocol        protocolDTO      `json:"protocol"`
	Lender          lenderDTO        `json:"lender"`
	Borrower        borrowerDTO      `json:"borrower"`
	Balances        balancesDTO      `json:"balances"`
	CollateralPrice string           `json:"collateralPrice,omitempty"`
	Lenders         []activity.Entry `json:"lenders"`
	Borrowers       []activity.Entry `json:"borrowers"`
}

type actionResponse struct {
	Action   actions.PendingAction `json:"action"`
	Error    *apiError             `json:"error,omitempty"`
	Snapshot *snapshotResponse     `json:"snapshot,omitempty"`
}

type eventMessage struct {
	Type     string            `json:"type"`
	ETag     string            `json:"etag"`
	Snapshot *snapshotResponse `json:"snapshot"`
}

func display(raw *uint256.Int, decimals uint8) string {
	return units.ToDisplay(raw, decimals).String()
}

func optionalDisplay(raw *uint256.Int, decimals uint8) string {
	if raw == nil {
		return ""
	}
	return display(raw, decimals)
}

// toSnapshot renders view. decimals applies to pool token quantities; native
// collateral, debt and USD values are always 18-decimal.
func toSnapshot(view *store.View, decimals uint8) *snapshotResponse {
	native := units.LedgerDecimals
	out := &snapshotResponse{
		Account:     view.Account.Hex(),
		Generation:  view.Generation,
		Loading:     view.Empty(),
		Stale:       view.Stale,
		StaleReason: view.StaleReason,
		Protocol: protocolDTO{
			TotalLiquidity:  display(view.Snapshot.TotalLiquidity, decimals),
			TotalLended:     display(view.Snapshot.TotalLended, decimals),
			TotalCollateral: display(view.Snapshot.TotalCollateral, native),
			ProtocolValue:   display(view.Snapshot.ProtocolValue, native),
			LenderCount:     len(view.Snapshot.Lenders),
			BorrowerCount:   len(view.Snapshot.Borrowers),
		},
		Lender: lenderDTO{
			Deposited:        display(view.Lender.Deposited, decimals),
			DepositTimestamp: view.Lender.DepositTimestamp,
			Maturity:         view.Maturity,
			TimeAgo:          view.TimeAgo,
		},
		Borrower: borrowerDTO{
			Collateral:     display(view.Borrower.Collateral, native),
			Borrowed:       display(view.Borrower.Borrowed, native),
			Health:         view.Health,
			BorrowHeadroom: optionalDisplay(view.BorrowHeadroom, native),
		},
		Balances: balancesDTO{
			Token:     optionalDisplay(view.TokenBalance, decimals),
			Native:    optionalDisplay(view.NativeBalance, native),
			UserToken: optionalDisplay(view.UserToken, decimals),
		},
		CollateralPrice: optionalDisplay(view.CollateralPrice, native),
		Lenders:         view.Lenders,
		Borrowers:       view.Borrowers,
	}
	if !view.FetchedAt.IsZero() {
		fetched := view.FetchedAt.UTC()
		out.FetchedAt = &fetched
	}
	if out.Lenders == nil {
		out.Lenders = []activity.Entry{}
	}
	if out.Borrowers == nil {
		out.Borrowers = []activity.Entry{}
	}
	return out
}

// etag identifies the content of view. Stale views get a distinct tag so a
// cached fresh copy is never confirmed once the data went stale.
func etag(view *store.View) string {
	suffix := ""
	if view.Stale {
		suffix = "-stale"
	}
	return fmt.Sprintf(`"%x%s"`, view.Digest[:12], suffix)
}
