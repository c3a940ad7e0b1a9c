package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Pool and token method names.
const (
	MethodGetLenderInfo      = "getLenderInfo"
	MethodGetBorrowerInfo    = "getBorrowerInfo"
	MethodHealthOfLiquidity  = "HealthofLiquidity"
	MethodGetTotalLiquidity  = "getTotalLiquidity"
	MethodGetTotalLended     = "getTotalLended"
	MethodGetProtocolValue   = "getProtocolValue"
	MethodGetTotalCollateral = "getTotalCollateralETH"
	MethodGetTimeAgo         = "getTimeAgo"
	MethodGetLenders         = "getLenders"
	MethodGetBorrowers       = "getBorrowers"
	MethodGetCollateralPrice = "getAETHPrice"
	MethodGetUserToken       = "getUserToken"
	MethodDeposit            = "deposit"
	MethodWithdraw           = "withDraw"
	MethodBorrow             = "borrow"
	MethodMintToken          = "getYourToken"
	MethodBalanceOf          = "balanceOf"
	MethodApprove            = "approve"
)

// Caller performs read-only contract calls. Results are returned in output
// order; a single output may itself be a tuple, a struct or a map.
type Caller interface {
	Call(ctx context.Context, contract common.Address, method string, args ...any) ([]any, error)
}

// BalanceReader reads native balances.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

// Executor submits state-changing contract calls on behalf of a single
// signing account.
type Executor interface {
	From() common.Address
	Execute(ctx context.Context, contract common.Address, method string, value *big.Int, args ...any) (Tx, error)
}

// Tx is a submitted transaction handle.
type Tx interface {
	Hash() common.Hash
	// Wait blocks until the transaction is mined or ctx ends.
	Wait(ctx context.Context) (Receipt, error)
}

// ReceiptStatus is the terminal state of a mined transaction.
type ReceiptStatus uint8

const (
	ReceiptConfirmed ReceiptStatus = iota + 1
	ReceiptFailed
)

func (s ReceiptStatus) String() string {
	switch s {
	case ReceiptConfirmed:
		return "confirmed"
	case ReceiptFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Receipt summarises a mined transaction.
type Receipt struct {
	TxHash      common.Hash
	Status      ReceiptStatus
	BlockNumber uint64
	// Reason carries the revert text when Status is ReceiptFailed.
	Reason string
}
