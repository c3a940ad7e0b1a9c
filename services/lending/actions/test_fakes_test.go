package actions

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"aethos/services/lending/ledger"
	"aethos/services/lending/store"
)

type fakeTx struct {
	hash   common.Hash
	waitFn func(ctx context.Context) (ledger.Receipt, error)
}

func (f *fakeTx) Hash() common.Hash { return f.hash }

func (f *fakeTx) Wait(ctx context.Context) (ledger.Receipt, error) {
	if f.waitFn != nil {
		return f.waitFn(ctx)
	}
	return ledger.Receipt{TxHash: f.hash, Status: ledger.ReceiptConfirmed}, nil
}

func confirmedTx(b byte) *fakeTx { return &fakeTx{hash: common.Hash{b}} }

func failedTx(b byte, reason string) *fakeTx {
	return &fakeTx{hash: common.Hash{b}, waitFn: func(context.Context) (ledger.Receipt, error) {
		return ledger.Receipt{TxHash: common.Hash{b}, Status: ledger.ReceiptFailed, Reason: reason}, nil
	}}
}

type fakeLedger struct {
	from common.Address

	mu    sync.Mutex
	calls []string

	approveFn  func(ctx context.Context, amount *uint256.Int) (ledger.Tx, error)
	depositFn  func(ctx context.Context, amount *uint256.Int) (ledger.Tx, error)
	withdrawFn func(ctx context.Context) (ledger.Tx, error)
	borrowFn   func(ctx context.Context, collateral *uint256.Int) (ledger.Tx, error)
	mintFn     func(ctx context.Context, value *uint256.Int) (ledger.Tx, error)
}

func (f *fakeLedger) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeLedger) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeLedger) From() common.Address { return f.from }

func (f *fakeLedger) Approve(ctx context.Context, amount *uint256.Int) (ledger.Tx, error) {
	f.record("approve")
	if f.approveFn != nil {
		return f.approveFn(ctx, amount)
	}
	return confirmedTx(1), nil
}

func (f *fakeLedger) Deposit(ctx context.Context, amount *uint256.Int) (ledger.Tx, error) {
	f.record("deposit")
	if f.depositFn != nil {
		return f.depositFn(ctx, amount)
	}
	return confirmedTx(2), nil
}

func (f *fakeLedger) Withdraw(ctx context.Context) (ledger.Tx, error) {
	f.record("withdraw")
	if f.withdrawFn != nil {
		return f.withdrawFn(ctx)
	}
	return confirmedTx(3), nil
}

func (f *fakeLedger) Borrow(ctx context.Context, collateral *uint256.Int) (ledger.Tx, error) {
	f.record("borrow")
	if f.borrowFn != nil {
		return f.borrowFn(ctx, collateral)
	}
	return confirmedTx(4), nil
}

func (f *fakeLedger) MintToken(ctx context.Context, value *uint256.Int) (ledger.Tx, error) {
	f.record("mint")
	if f.mintFn != nil {
		return f.mintFn(ctx, value)
	}
	return confirmedTx(5), nil
}

type fakeReconciler struct {
	account common.Address

	mu     sync.Mutex
	passes int
}

func (f *fakeReconciler) Account() common.Address { return f.account }

func (f *fakeReconciler) Reconcile(context.Context) (*store.View, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passes++
	return &store.View{Account: f.account}, nil
}

func (f *fakeReconciler) Passes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passes
}

type fakeViews struct {
	view *store.View
}

func (f fakeViews) Current() *store.View { return f.view }

type fakeJournal struct {
	mu      sync.Mutex
	entries []PendingAction
}

func (f *fakeJournal) Record(_ context.Context, action PendingAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, action)
	return nil
}

func (f *fakeJournal) Statuses() []Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Status, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Status
	}
	return out
}
