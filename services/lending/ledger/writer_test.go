package ledger

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestWriterRoutesCalls(t *testing.T) {
	t.Parallel()

	type call struct {
		contract common.Address
		method   string
		value    *big.Int
		args     []any
	}
	var calls []call
	exec := &fakeExecutor{
		from: alice,
		executeFn: func(_ context.Context, contract common.Address, method string, value *big.Int, args ...any) (Tx, error) {
			calls = append(calls, call{contract: contract, method: method, value: value, args: args})
			return nil, nil
		},
	}
	writer := NewWriter(exec, poolAddr, tokenAddr)
	ctx := context.Background()
	amount := uint256.NewInt(500)

	if _, err := writer.Approve(ctx, amount); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := writer.Deposit(ctx, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := writer.Borrow(ctx, amount); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := writer.Withdraw(ctx); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := writer.MintToken(ctx, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if len(calls) != 5 {
		t.Fatalf("expected 5 calls, got %d", len(calls))
	}
	if calls[0].contract != tokenAddr || calls[0].method != MethodApprove || calls[0].args[0] != poolAddr {
		t.Fatalf("approve routed incorrectly: %+v", calls[0])
	}
	if calls[1].contract != poolAddr || calls[1].value != nil || calls[1].args[0].(*big.Int).Int64() != 500 {
		t.Fatalf("deposit routed incorrectly: %+v", calls[1])
	}
	if calls[2].method != MethodBorrow || calls[2].value.Int64() != 500 || len(calls[2].args) != 0 {
		t.Fatalf("borrow should send collateral as value: %+v", calls[2])
	}
	if calls[3].method != MethodWithdraw || len(calls[3].args) != 0 {
		t.Fatalf("withdraw routed incorrectly: %+v", calls[3])
	}
	if calls[4].method != MethodMintToken || calls[4].value.Int64() != 500 {
		t.Fatalf("mint routed incorrectly: %+v", calls[4])
	}
	if writer.From() != alice {
		t.Fatalf("unexpected signer %s", writer.From())
	}
}
