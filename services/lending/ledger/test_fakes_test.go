package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type fakeCaller struct {
	mu      sync.Mutex
	calls   []string
	results map[string][]any
	errs    map[string]error
}

func (f *fakeCaller) Call(_ context.Context, _ common.Address, method string, _ ...any) ([]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if err, ok := f.errs[method]; ok {
		return nil, err
	}
	out, ok := f.results[method]
	if !ok {
		return nil, fmt.Errorf("unexpected method %s", method)
	}
	return out, nil
}

type fakeExecutor struct {
	from      common.Address
	executeFn func(ctx context.Context, contract common.Address, method string, value *big.Int, args ...any) (Tx, error)
}

func (f *fakeExecutor) From() common.Address { return f.from }

func (f *fakeExecutor) Execute(ctx context.Context, contract common.Address, method string, value *big.Int, args ...any) (Tx, error) {
	if f != nil && f.executeFn != nil {
		return f.executeFn(ctx, contract, method, value, args...)
	}
	return nil, nil
}

type fakeBalances struct {
	balance *big.Int
	err     error
}

func (f fakeBalances) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return f.balance, f.err
}
