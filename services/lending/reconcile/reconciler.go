package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"aethos/native/lending"
	"aethos/observability"
	"aethos/services/lending/activity"
	"aethos/services/lending/ledger"
	"aethos/services/lending/store"
)

var (
	// ErrSuperseded is returned when a newer pass or an account change
	// discarded a pass result.
	ErrSuperseded = errors.New("lending: reconciliation superseded")
	// ErrNoAccount is returned when no account is selected.
	ErrNoAccount = errors.New("lending: no account selected")
)

// Source is the set of ledger reads a pass performs.
type Source interface {
	FetchSnapshot(ctx context.Context) (lending.ProtocolSnapshot, error)
	FetchSelfLenderPosition(ctx context.Context, account common.Address) (lending.LenderPosition, error)
	FetchSelfBorrowerPosition(ctx context.Context, account common.Address) (lending.BorrowerPosition, error)
	FetchHealth(ctx context.Context, account common.Address) (lending.ExternalHealth, error)
	FetchCollateralPrice(ctx context.Context) (*uint256.Int, error)
	FetchTokenBalance(ctx context.Context, account common.Address) (*uint256.Int, error)
	FetchNativeBalance(ctx context.Context, account common.Address) (*uint256.Int, error)
	FetchTimeAgo(ctx context.Context, account common.Address) (uint64, error)
	FetchUserToken(ctx context.Context, account common.Address) (*uint256.Int, error)
}

// Config parameterises the Reconciler.
type Config struct {
	Risk      lending.RiskParameters
	Decimals  uint8
	SelfLabel string
	Clock     func() time.Time
	Logger    *slog.Logger
	Metrics   *observability.ReconcileMetrics
	Tracer    trace.Tracer
}

// Reconciler runs reconciliation passes for the selected account and
// publishes their results. At most one pass is live per account; a newer
// pass or an account change cancels the older one and discards its result.
type Reconciler struct {
	source Source
	store  *store.Store
	cfg    Config

	mu         sync.Mutex
	account    common.Address
	generation uint64
	cancel     context.CancelFunc
}

// NewReconciler constructs a reconciler publishing into st.
func NewReconciler(source Source, st *store.Store, cfg Config) (*Reconciler, error) {
	if source == nil {
		return nil, fmt.Errorf("reconcile: source required")
	}
	if st == nil {
		return nil, fmt.Errorf("reconcile: store required")
	}
	cfg.Risk = cfg.Risk.Normalize()
	if err := cfg.Risk.Validate(); err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("aethos/reconcile")
	}
	return &Reconciler{source: source, store: st, cfg: cfg}, nil
}

// Account returns the selected account.
func (r *Reconciler) Account() common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.account
}

// SetAccount switches the selected account. Any in-flight pass is cancelled
// and its result discarded, and the store is reset for the new account.
func (r *Reconciler) SetAccount(ctx context.Context, account common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.generation++
	r.account = account
	r.store.Reset(ctx, account)
	r.cfg.Metrics.SetStale(r.store.Current().Stale)
}

// Reconcile runs one pass for the selected account and publishes the result.
// A SnapshotReadError keeps the previous view, flagged stale.
func (r *Reconciler) Reconcile(ctx context.Context) (*store.View, error) {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.generation++
	gen := r.generation
	account := r.account
	passCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	if (account == common.Address{}) {
		r.finish(gen)
		return nil, ErrNoAccount
	}

	start := r.cfg.Clock()
	passCtx, span := r.cfg.Tracer.Start(passCtx, "reconcile.pass",
		trace.WithAttributes(attribute.String("account", account.Hex()), attribute.Int64("generation", int64(gen))))
	defer span.End()

	view, err := r.build(passCtx, account, gen)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation || account != r.account {
		r.cfg.Metrics.ObservePass("superseded", r.cfg.Clock().Sub(start))
		span.SetAttributes(attribute.Bool("superseded", true))
		return nil, ErrSuperseded
	}
	r.cancel = nil
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome := "error"
		if errors.Is(err, ledger.ErrSnapshotRead) {
			outcome = "read_error"
			r.store.MarkStale(ctx, account, err.Error())
			r.cfg.Metrics.SetStale(true)
		}
		r.cfg.Metrics.ObservePass(outcome, r.cfg.Clock().Sub(start))
		r.cfg.Logger.Warn("reconciliation failed",
			slog.String("account", account.Hex()),
			slog.Uint64("generation", gen),
			slog.Any("error", err))
		return nil, err
	}
	r.store.Publish(ctx, view)
	r.cfg.Metrics.RecordPublish()
	r.cfg.Metrics.SetStale(false)
	r.cfg.Metrics.ObservePass("ok", r.cfg.Clock().Sub(start))
	r.recordTotals(view.Snapshot)
	return view, nil
}

func (r *Reconciler) finish(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen == r.generation {
		r.cancel = nil
	}
}

func (r *Reconciler) recordTotals(snap lending.ProtocolSnapshot) {
	if r.cfg.Metrics == nil {
		return
	}
	for figure, value := range map[string]*uint256.Int{
		"total_liquidity":  snap.TotalLiquidity,
		"total_lended":     snap.TotalLended,
		"total_collateral": snap.TotalCollateral,
		"protocol_value":   snap.ProtocolValue,
	} {
		if value != nil {
			r.cfg.Metrics.RecordTotal(figure, value.ToBig())
		}
	}
}

// build performs every read of a pass concurrently and derives the view.
// Snapshot and self positions are required; the remaining reads degrade to
// empty values.
func (r *Reconciler) build(ctx context.Context, account common.Address, gen uint64) (*store.View, error) {
	var (
		snap     lending.ProtocolSnapshot
		lender   lending.LenderPosition
		borrower lending.BorrowerPosition
		price    *uint256.Int
		token    *uint256.Int
		native   *uint256.Int
		userTok  *uint256.Int
		timeAgo  uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap, err = r.source.FetchSnapshot(gctx)
		return err
	})
	g.Go(func() (err error) {
		lender, err = r.source.FetchSelfLenderPosition(gctx, account)
		return err
	})
	g.Go(func() (err error) {
		borrower, err = r.source.FetchSelfBorrowerPosition(gctx, account)
		return err
	})
	g.Go(func() error {
		price = r.optional(gctx, "collateralPrice", func(ctx context.Context) (*uint256.Int, error) {
			return r.source.FetchCollateralPrice(ctx)
		})
		return nil
	})
	g.Go(func() error {
		token = r.optional(gctx, "tokenBalance", func(ctx context.Context) (*uint256.Int, error) {
			return r.source.FetchTokenBalance(ctx, account)
		})
		return nil
	})
	g.Go(func() error {
		native = r.optional(gctx, "nativeBalance", func(ctx context.Context) (*uint256.Int, error) {
			return r.source.FetchNativeBalance(ctx, account)
		})
		return nil
	})
	g.Go(func() error {
		userTok = r.optional(gctx, "userToken", func(ctx context.Context) (*uint256.Int, error) {
			return r.source.FetchUserToken(ctx, account)
		})
		return nil
	})
	g.Go(func() error {
		ago, err := r.source.FetchTimeAgo(gctx, account)
		if err != nil {
			r.cfg.Logger.Debug("optional read failed", slog.String("field", "timeAgo"), slog.Any("error", err))
			return nil
		}
		timeAgo = ago
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var external *lending.ExternalHealth
	if borrower.Borrowed != nil && !borrower.Borrowed.IsZero() {
		ext, err := r.source.FetchHealth(ctx, account)
		if err != nil {
			r.cfg.Logger.Debug("ledger health unavailable, approximating locally",
				slog.String("account", account.Hex()), slog.Any("error", err))
		} else {
			external = &ext
		}
	}
	priceFn := lending.FixedPrice(price)
	health, err := r.cfg.Risk.ClassifyHealth(borrower, external, priceFn)
	if err != nil {
		return nil, &ledger.SnapshotReadError{Field: "health", Err: err}
	}

	now := r.cfg.Clock()
	nowSeconds := uint64(now.Unix())
	view := &store.View{
		Account:         account,
		Generation:      gen,
		FetchedAt:       now.UTC(),
		Snapshot:        snap,
		Lender:          lender,
		Borrower:        borrower,
		Health:          health,
		Maturity:        r.cfg.Risk.ClassifyMaturity(lender, nowSeconds),
		CollateralPrice: price,
		TokenBalance:    token,
		NativeBalance:   native,
		UserToken:       userTok,
		TimeAgo:         timeAgo,
	}
	if price != nil {
		if headroom, ok := r.cfg.Risk.BorrowHeadroom(borrower, nil, price); ok {
			view.BorrowHeadroom = headroom
		}
	}
	opts := activity.Options{
		Decimals:   r.cfg.Decimals,
		SelfLabel:  r.cfg.SelfLabel,
		Now:        nowSeconds,
		Risk:       r.cfg.Risk,
		Price:      priceFn,
		SelfHealth: &health,
	}
	view.Lenders = activity.MergeLenders(&lender, snap.Lenders, account, opts)
	view.Borrowers = activity.MergeBorrowers(&borrower, snap.Borrowers, account, opts)
	return view, nil
}

func (r *Reconciler) optional(ctx context.Context, field string, read func(context.Context) (*uint256.Int, error)) *uint256.Int {
	value, err := read(ctx)
	if err != nil {
		r.cfg.Logger.Debug("optional read failed", slog.String("field", field), slog.Any("error", err))
		return nil
	}
	return value
}
