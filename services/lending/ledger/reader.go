package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"aethos/native/lending"
)

var (
	lenderAmount    = fieldSpec{index: 0, names: []string{"amount", "deposited", "depositedAmount"}}
	lenderTime      = fieldSpec{index: 1, names: []string{"depositTime", "depositTimestamp", "timestamp"}}
	borrowerCollat  = fieldSpec{index: 0, names: []string{"collateral", "collateralamount", "collateralAmount"}}
	borrowerDebt    = fieldSpec{index: 1, names: []string{"borrowedammount", "borrowedAmount", "borrowed", "aETHBorrowed"}}
	healthFlag      = fieldSpec{index: 0, names: []string{"liquid", "atRisk", "flag"}}
	healthRatio     = fieldSpec{index: 1, names: []string{"cr", "ratio", "collateralRatio"}}
	rosterLender    = fieldSpec{index: 0, names: []string{"lender", "account", "address"}}
	rosterLAmount   = fieldSpec{index: 1, names: []string{"amount", "deposited"}}
	rosterLTime     = fieldSpec{index: 2, names: []string{"depositTime", "depositTimestamp", "timestamp"}}
	rosterBorrower  = fieldSpec{index: 0, names: []string{"borrower", "account", "address"}}
	rosterBCollat   = fieldSpec{index: 1, names: []string{"collateralamount", "collateralAmount", "collateral"}}
	rosterBBorrowed = fieldSpec{index: 2, names: []string{"aETHBorrowed", "borrowed", "borrowedAmount"}}
)

// Config identifies the contracts read by the Reader.
type Config struct {
	Pool  common.Address
	Token common.Address
	// HealthFlag selects how the health call's boolean is interpreted.
	HealthFlag lending.HealthFlagSemantics
}

// Reader maps Pool reads onto canonical position types. It performs shape
// normalization only; no derived figures are computed here.
type Reader struct {
	caller   Caller
	balances BalanceReader
	cfg      Config
}

// NewReader constructs a Reader. balances may be nil when native balance
// checks are not needed.
func NewReader(caller Caller, balances BalanceReader, cfg Config) *Reader {
	cfg.HealthFlag = cfg.HealthFlag.Normalize()
	return &Reader{caller: caller, balances: balances, cfg: cfg}
}

// Config returns the reader configuration.
func (r *Reader) Config() Config { return r.cfg }

func (r *Reader) call(ctx context.Context, contract common.Address, field, method string, args ...any) ([]any, error) {
	if r == nil || r.caller == nil {
		return nil, readError(field, ErrNotConfigured)
	}
	if (contract == common.Address{}) {
		return nil, readError(field, ErrNotConfigured)
	}
	out, err := r.caller.Call(ctx, contract, method, args...)
	if err != nil {
		return nil, readError(field, err)
	}
	return out, nil
}

// FetchSelfLenderPosition reads the caller's own deposit.
func (r *Reader) FetchSelfLenderPosition(ctx context.Context, account common.Address) (lending.LenderPosition, error) {
	out, err := r.call(ctx, r.cfg.Pool, "lender", MethodGetLenderInfo, account)
	if err != nil {
		return lending.LenderPosition{}, err
	}
	record := unwrap(out)
	amount, err := rawField(record, "lender.amount", lenderAmount)
	if err != nil {
		return lending.LenderPosition{}, err
	}
	ts, err := uint64Field(record, "lender.depositTime", lenderTime)
	if err != nil {
		return lending.LenderPosition{}, err
	}
	return lending.LenderPosition{Account: account, Deposited: amount, DepositTimestamp: ts}, nil
}

// FetchSelfBorrowerPosition reads the caller's own collateral and debt.
func (r *Reader) FetchSelfBorrowerPosition(ctx context.Context, account common.Address) (lending.BorrowerPosition, error) {
	out, err := r.call(ctx, r.cfg.Pool, "borrower", MethodGetBorrowerInfo, account)
	if err != nil {
		return lending.BorrowerPosition{}, err
	}
	return decodeBorrower(unwrap(out), "borrower", account, borrowerCollat, borrowerDebt)
}

// FetchHealth reads the ledger's own health verdict for account.
func (r *Reader) FetchHealth(ctx context.Context, account common.Address) (lending.ExternalHealth, error) {
	out, err := r.call(ctx, r.cfg.Pool, "health", MethodHealthOfLiquidity, account)
	if err != nil {
		return lending.ExternalHealth{}, err
	}
	record := unwrap(out)
	value, ok := field(record, healthFlag.index, healthFlag.names...)
	if !ok {
		return lending.ExternalHealth{}, readError("health.flag", errFieldMissing)
	}
	flag, err := asBool(value)
	if err != nil {
		return lending.ExternalHealth{}, readError("health.flag", err)
	}
	ratio, err := rawField(record, "health.ratio", healthRatio)
	if err != nil {
		return lending.ExternalHealth{}, err
	}
	return lending.ExternalHealth{AtRisk: r.cfg.HealthFlag.AtRisk(flag), Ratio: ratio}, nil
}

// FetchTimeAgo reads the seconds elapsed since account's last deposit.
func (r *Reader) FetchTimeAgo(ctx context.Context, account common.Address) (uint64, error) {
	out, err := r.call(ctx, r.cfg.Pool, "timeAgo", MethodGetTimeAgo, account)
	if err != nil {
		return 0, err
	}
	raw, err := singleRaw(out, "timeAgo")
	if err != nil {
		return 0, err
	}
	if !raw.IsUint64() {
		return 0, readError("timeAgo", fmt.Errorf("value %s exceeds 64 bits", raw.Dec()))
	}
	return raw.Uint64(), nil
}

// FetchUserToken reads the pool token credited to account by the Pool.
func (r *Reader) FetchUserToken(ctx context.Context, account common.Address) (*uint256.Int, error) {
	out, err := r.call(ctx, r.cfg.Pool, "userToken", MethodGetUserToken, account)
	if err != nil {
		return nil, err
	}
	return singleRaw(out, "userToken")
}

// FetchCollateralPrice reads the 18-decimal USD price of the collateral.
func (r *Reader) FetchCollateralPrice(ctx context.Context) (*uint256.Int, error) {
	out, err := r.call(ctx, r.cfg.Pool, "collateralPrice", MethodGetCollateralPrice)
	if err != nil {
		return nil, err
	}
	return singleRaw(out, "collateralPrice")
}

// FetchTokenBalance reads account's pool token balance.
func (r *Reader) FetchTokenBalance(ctx context.Context, account common.Address) (*uint256.Int, error) {
	out, err := r.call(ctx, r.cfg.Token, "tokenBalance", MethodBalanceOf, account)
	if err != nil {
		return nil, err
	}
	return singleRaw(out, "tokenBalance")
}

// FetchNativeBalance reads account's native balance.
func (r *Reader) FetchNativeBalance(ctx context.Context, account common.Address) (*uint256.Int, error) {
	if r == nil || r.balances == nil {
		return nil, readError("nativeBalance", ErrNotConfigured)
	}
	balance, err := r.balances.BalanceAt(ctx, account)
	if err != nil {
		return nil, readError("nativeBalance", err)
	}
	raw, err := asRaw(balance)
	if err != nil {
		return nil, readError("nativeBalance", err)
	}
	return raw, nil
}

// FetchSnapshot reads the aggregate figures and both rosters concurrently.
// The first failing read cancels the rest.
func (r *Reader) FetchSnapshot(ctx context.Context) (lending.ProtocolSnapshot, error) {
	var snap lending.ProtocolSnapshot
	g, gctx := errgroup.WithContext(ctx)
	totals := []struct {
		field  string
		method string
		dst    **uint256.Int
	}{
		{field: "totalLiquidity", method: MethodGetTotalLiquidity, dst: &snap.TotalLiquidity},
		{field: "totalLended", method: MethodGetTotalLended, dst: &snap.TotalLended},
		{field: "totalCollateral", method: MethodGetTotalCollateral, dst: &snap.TotalCollateral},
		{field: "protocolValue", method: MethodGetProtocolValue, dst: &snap.ProtocolValue},
	}
	for _, total := range totals {
		total := total
		g.Go(func() error {
			out, err := r.call(gctx, r.cfg.Pool, total.field, total.method)
			if err != nil {
				return err
			}
			value, err := singleRaw(out, total.field)
			if err != nil {
				return err
			}
			*total.dst = value
			return nil
		})
	}
	g.Go(func() error {
		lenders, err := r.fetchLenders(gctx)
		snap.Lenders = lenders
		return err
	})
	g.Go(func() error {
		borrowers, err := r.fetchBorrowers(gctx)
		snap.Borrowers = borrowers
		return err
	})
	if err := g.Wait(); err != nil {
		return lending.ProtocolSnapshot{}, err
	}
	return snap, nil
}

func (r *Reader) fetchLenders(ctx context.Context) ([]lending.LenderPosition, error) {
	out, err := r.call(ctx, r.cfg.Pool, "lenders", MethodGetLenders)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, readError("lenders", errFieldMissing)
	}
	rows, err := asList(out[0])
	if err != nil {
		return nil, readError("lenders", err)
	}
	lenders := make([]lending.LenderPosition, 0, len(rows))
	for i, row := range rows {
		path := fmt.Sprintf("lenders[%d]", i)
		account, err := addressField(row, path+".lender", rosterLender)
		if err != nil {
			return nil, err
		}
		amount, err := rawField(row, path+".amount", rosterLAmount)
		if err != nil {
			return nil, err
		}
		ts, err := uint64Field(row, path+".depositTime", rosterLTime)
		if err != nil {
			return nil, err
		}
		lenders = append(lenders, lending.LenderPosition{Account: account, Deposited: amount, DepositTimestamp: ts})
	}
	return lenders, nil
}

func (r *Reader) fetchBorrowers(ctx context.Context) ([]lending.BorrowerPosition, error) {
	out, err := r.call(ctx, r.cfg.Pool, "borrowers", MethodGetBorrowers)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, readError("borrowers", errFieldMissing)
	}
	rows, err := asList(out[0])
	if err != nil {
		return nil, readError("borrowers", err)
	}
	borrowers := make([]lending.BorrowerPosition, 0, len(rows))
	for i, row := range rows {
		path := fmt.Sprintf("borrowers[%d]", i)
		account, err := addressField(row, path+".borrower", rosterBorrower)
		if err != nil {
			return nil, err
		}
		pos, err := decodeBorrower(row, path, account, rosterBCollat, rosterBBorrowed)
		if err != nil {
			return nil, err
		}
		borrowers = append(borrowers, pos)
	}
	return borrowers, nil
}

func decodeBorrower(record any, path string, account common.Address, collatSpec, debtSpec fieldSpec) (lending.BorrowerPosition, error) {
	collateral, err := rawField(record, path+".collateral", collatSpec)
	if err != nil {
		return lending.BorrowerPosition{}, err
	}
	borrowed, err := rawField(record, path+".borrowed", debtSpec)
	if err != nil {
		return lending.BorrowerPosition{}, err
	}
	if collateral.IsZero() && !borrowed.IsZero() {
		return lending.BorrowerPosition{}, readError(path, fmt.Errorf("debt %s against zero collateral", borrowed.Dec()))
	}
	return lending.BorrowerPosition{Account: account, Collateral: collateral, Borrowed: borrowed}, nil
}
