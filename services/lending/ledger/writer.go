package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Writer submits Pool and token transactions through an Executor.
type Writer struct {
	exec  Executor
	pool  common.Address
	token common.Address
}

// NewWriter binds an executor to the Pool and its token.
func NewWriter(exec Executor, pool, token common.Address) *Writer {
	return &Writer{exec: exec, pool: pool, token: token}
}

// From returns the signing account.
func (w *Writer) From() common.Address {
	if w == nil || w.exec == nil {
		return common.Address{}
	}
	return w.exec.From()
}

func (w *Writer) execute(ctx context.Context, contract common.Address, method string, value *uint256.Int, args ...any) (Tx, error) {
	if w == nil || w.exec == nil || (contract == common.Address{}) {
		return nil, ErrNotConfigured
	}
	var wei *big.Int
	if value != nil && !value.IsZero() {
		wei = value.ToBig()
	}
	tx, err := w.exec.Execute(ctx, contract, method, wei, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return tx, nil
}

// Approve allows the Pool to pull amount of the token from the signer.
func (w *Writer) Approve(ctx context.Context, amount *uint256.Int) (Tx, error) {
	return w.execute(ctx, w.token, MethodApprove, nil, w.pool, toBig(amount))
}

// Deposit supplies amount of the token to the Pool.
func (w *Writer) Deposit(ctx context.Context, amount *uint256.Int) (Tx, error) {
	return w.execute(ctx, w.pool, MethodDeposit, nil, toBig(amount))
}

// Withdraw releases the signer's matured deposit.
func (w *Writer) Withdraw(ctx context.Context) (Tx, error) {
	return w.execute(ctx, w.pool, MethodWithdraw, nil)
}

// Borrow locks collateral as native value and borrows against it.
func (w *Writer) Borrow(ctx context.Context, collateral *uint256.Int) (Tx, error) {
	return w.execute(ctx, w.pool, MethodBorrow, collateral)
}

// MintToken exchanges native value for the pool token.
func (w *Writer) MintToken(ctx context.Context, value *uint256.Int) (Tx, error) {
	return w.execute(ctx, w.pool, MethodMintToken, value)
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}
