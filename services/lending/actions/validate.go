package actions

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"aethos/native/lending"
	"aethos/native/units"
	"aethos/services/lending/ledger"
	"aethos/services/lending/store"
)

// validate checks req against the published view and returns the ledger
// steps to run. It never calls the ledger.
func (o *Orchestrator) validate(account common.Address, req Request) ([]step, error) {
	switch req.Kind {
	case KindDeposit:
		amount, err := positive(req.Amount, o.decimals)
		if err != nil {
			return nil, err
		}
		view, err := o.view(account)
		if err != nil {
			return nil, err
		}
		if err := covers(view.TokenBalance, amount, "token"); err != nil {
			return nil, err
		}
		return []step{
			{name: "approve", send: func(ctx context.Context) (ledger.Tx, error) { return o.ledger.Approve(ctx, amount) }},
			{name: "deposit", send: func(ctx context.Context) (ledger.Tx, error) { return o.ledger.Deposit(ctx, amount) }},
		}, nil

	case KindMintCollateralToken:
		value, err := positive(req.Amount, units.LedgerDecimals)
		if err != nil {
			return nil, err
		}
		view, err := o.view(account)
		if err != nil {
			return nil, err
		}
		if err := covers(view.NativeBalance, value, "native"); err != nil {
			return nil, err
		}
		return []step{
			{name: "mint", send: func(ctx context.Context) (ledger.Tx, error) { return o.ledger.MintToken(ctx, value) }},
		}, nil

	case KindBorrow:
		collateral, err := positive(req.Collateral, units.LedgerDecimals)
		if err != nil {
			return nil, fmt.Errorf("collateral: %w", err)
		}
		view, err := o.view(account)
		if err != nil {
			return nil, err
		}
		if err := covers(view.NativeBalance, collateral, "native"); err != nil {
			return nil, err
		}
		if req.Amount != "" {
			requested, err := positive(req.Amount, units.LedgerDecimals)
			if err != nil {
				return nil, err
			}
			if view.CollateralPrice == nil || view.CollateralPrice.IsZero() {
				return nil, fmt.Errorf("%w: %w", ErrExceedsBorrowLimit, lending.ErrPriceUnavailable)
			}
			headroom, ok := o.risk.BorrowHeadroom(view.Borrower, collateral, view.CollateralPrice)
			if !ok {
				return nil, fmt.Errorf("borrow limit overflow: %w", ErrInvalidAmount)
			}
			if requested.Gt(headroom) {
				return nil, fmt.Errorf("%w: requested %s, available %s", ErrExceedsBorrowLimit,
					units.Format(requested, units.LedgerDecimals, 6), units.Format(headroom, units.LedgerDecimals, 6))
			}
		}
		return []step{
			{name: "borrow", send: func(ctx context.Context) (ledger.Tx, error) { return o.ledger.Borrow(ctx, collateral) }},
		}, nil

	case KindWithdraw:
		view, err := o.view(account)
		if err != nil {
			return nil, err
		}
		if !view.Lender.Active() {
			return nil, fmt.Errorf("%w: nothing deposited", ErrInsufficientBalance)
		}
		maturity := o.risk.ClassifyMaturity(view.Lender, uint64(o.now().Unix()))
		if maturity.Status == lending.MaturityLocked {
			return nil, fmt.Errorf("%w: %d seconds remaining", ErrLockupNotElapsed, maturity.SecondsRemaining)
		}
		return []step{
			{name: "withdraw", send: func(ctx context.Context) (ledger.Tx, error) { return o.ledger.Withdraw(ctx) }},
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
}

func positive(input string, decimals uint8) (*uint256.Int, error) {
	raw, err := units.ParseRaw(input, decimals)
	if err != nil {
		return nil, err
	}
	if raw.IsZero() {
		return nil, fmt.Errorf("amount must be positive: %w", ErrInvalidAmount)
	}
	return raw, nil
}

func (o *Orchestrator) view(account common.Address) (*store.View, error) {
	if o.views == nil {
		return nil, ErrViewNotReady
	}
	view := o.views.Current()
	if view == nil || view.Account != account || !view.Live() {
		return nil, ErrViewNotReady
	}
	return view, nil
}

// covers checks balance against amount. An unknown balance is not checked.
func covers(balance, amount *uint256.Int, asset string) error {
	if balance == nil {
		return nil
	}
	if amount.Gt(balance) {
		return fmt.Errorf("%w: %s balance below requested amount", ErrInsufficientBalance, asset)
	}
	return nil
}
