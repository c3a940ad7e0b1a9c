package reconcile

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"aethos/native/lending"
)

var errUnavailable = errors.New("unavailable")

type fakeSource struct {
	snapshotFn func(ctx context.Context) (lending.ProtocolSnapshot, error)
	lenderFn   func(ctx context.Context, account common.Address) (lending.LenderPosition, error)
	borrowerFn func(ctx context.Context, account common.Address) (lending.BorrowerPosition, error)
	healthFn   func(ctx context.Context, account common.Address) (lending.ExternalHealth, error)
	priceFn    func(ctx context.Context) (*uint256.Int, error)
}

func (f *fakeSource) FetchSnapshot(ctx context.Context) (lending.ProtocolSnapshot, error) {
	if f != nil && f.snapshotFn != nil {
		return f.snapshotFn(ctx)
	}
	return lending.ProtocolSnapshot{}, nil
}

func (f *fakeSource) FetchSelfLenderPosition(ctx context.Context, account common.Address) (lending.LenderPosition, error) {
	if f != nil && f.lenderFn != nil {
		return f.lenderFn(ctx, account)
	}
	return lending.LenderPosition{Account: account, Deposited: uint256.NewInt(0)}, nil
}

func (f *fakeSource) FetchSelfBorrowerPosition(ctx context.Context, account common.Address) (lending.BorrowerPosition, error) {
	if f != nil && f.borrowerFn != nil {
		return f.borrowerFn(ctx, account)
	}
	return lending.BorrowerPosition{Account: account, Collateral: uint256.NewInt(0), Borrowed: uint256.NewInt(0)}, nil
}

func (f *fakeSource) FetchHealth(ctx context.Context, account common.Address) (lending.ExternalHealth, error) {
	if f != nil && f.healthFn != nil {
		return f.healthFn(ctx, account)
	}
	return lending.ExternalHealth{}, errUnavailable
}

func (f *fakeSource) FetchCollateralPrice(ctx context.Context) (*uint256.Int, error) {
	if f != nil && f.priceFn != nil {
		return f.priceFn(ctx)
	}
	return nil, errUnavailable
}

func (f *fakeSource) FetchTokenBalance(context.Context, common.Address) (*uint256.Int, error) {
	return uint256.NewInt(11), nil
}

func (f *fakeSource) FetchNativeBalance(context.Context, common.Address) (*uint256.Int, error) {
	return nil, errUnavailable
}

func (f *fakeSource) FetchTimeAgo(context.Context, common.Address) (uint64, error) {
	return 60, nil
}

func (f *fakeSource) FetchUserToken(context.Context, common.Address) (*uint256.Int, error) {
	return uint256.NewInt(0), nil
}
