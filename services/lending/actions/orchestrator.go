package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"aethos/native/lending"
	"aethos/native/units"
	"aethos/observability"
	"aethos/services/lending/ledger"
	"aethos/services/lending/store"
)

// Ledger is the write surface used by the orchestrator.
type Ledger interface {
	From() common.Address
	Approve(ctx context.Context, amount *uint256.Int) (ledger.Tx, error)
	Deposit(ctx context.Context, amount *uint256.Int) (ledger.Tx, error)
	Withdraw(ctx context.Context) (ledger.Tx, error)
	Borrow(ctx context.Context, collateral *uint256.Int) (ledger.Tx, error)
	MintToken(ctx context.Context, value *uint256.Int) (ledger.Tx, error)
}

// Reconciler runs the follow-up pass after every action.
type Reconciler interface {
	Account() common.Address
	Reconcile(ctx context.Context) (*store.View, error)
}

// ViewSource supplies the latest published view for validation.
type ViewSource interface {
	Current() *store.View
}

// Journal records action transitions.
type Journal interface {
	Record(ctx context.Context, action PendingAction) error
}

// Option customises the orchestrator.
type Option func(*Orchestrator)

// WithRisk overrides the risk parameters used for validation.
func WithRisk(risk lending.RiskParameters) Option {
	return func(o *Orchestrator) { o.risk = risk.Normalize() }
}

// WithDecimals sets the base-unit precision of pool token amounts. Native
// collateral and borrow amounts always use units.LedgerDecimals.
func WithDecimals(decimals uint8) Option {
	return func(o *Orchestrator) { o.decimals = decimals }
}

// WithJournal records every transition.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *observability.ActionMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.now = clock
		}
	}
}

// Orchestrator serialises actions per account: Idle, then Submitted, then
// Confirmed or Failed, then Idle again after exactly one reconciliation pass.
type Orchestrator struct {
	ledger   Ledger
	rec      Reconciler
	views    ViewSource
	risk     lending.RiskParameters
	decimals uint8
	journal  Journal
	metrics  *observability.ActionMetrics
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending map[common.Address]*PendingAction
	wg      sync.WaitGroup
}

// NewOrchestrator constructs an orchestrator.
func NewOrchestrator(l Ledger, rec Reconciler, views ViewSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ledger:   l,
		rec:      rec,
		views:    views,
		risk:     lending.DefaultRiskParameters(),
		decimals: units.LedgerDecimals,
		logger:   slog.Default(),
		now:      time.Now,
		pending:  make(map[common.Address]*PendingAction),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Pending returns the outstanding action for account, if any.
func (o *Orchestrator) Pending(account common.Address) (PendingAction, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	action, ok := o.pending[account]
	if !ok {
		return PendingAction{}, false
	}
	return action.clone(), true
}

// Submit runs req to completion. It returns the terminal action; a Failed
// action is accompanied by a *TransactionError. If ctx ends first the action
// keeps running and remains visible through Pending.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (PendingAction, error) {
	action, results, err := o.Start(ctx, req)
	if err != nil {
		return action, err
	}
	select {
	case res := <-results:
		return res.Action, res.Err
	case <-ctx.Done():
		return action, ctx.Err()
	}
}

// Start validates req, moves the account to Submitted and runs the action in
// the background. Validation failures return before any ledger call.
func (o *Orchestrator) Start(ctx context.Context, req Request) (PendingAction, <-chan Result, error) {
	if o.rec == nil || o.ledger == nil {
		return PendingAction{}, nil, ledger.ErrNotConfigured
	}
	account := o.rec.Account()
	if (account == common.Address{}) {
		return PendingAction{}, nil, ErrNoAccount
	}
	if signer := o.ledger.From(); signer != account {
		return PendingAction{}, nil, fmt.Errorf("%w: signer %s, account %s", ErrSignerMismatch, signer.Hex(), account.Hex())
	}

	plan, err := o.validate(account, req)

	o.mu.Lock()
	if existing, ok := o.pending[account]; ok {
		o.mu.Unlock()
		o.metrics.RecordOutcome(string(req.Kind), "in_progress")
		return existing.clone(), nil, ErrActionInProgress
	}
	if err != nil {
		o.mu.Unlock()
		o.metrics.RecordOutcome(string(req.Kind), "rejected")
		return PendingAction{}, nil, err
	}
	action := &PendingAction{
		ID:          uuid.NewString(),
		Account:     account,
		Kind:        req.Kind,
		Status:      StatusSubmitted,
		SubmittedAt: o.now().UTC(),
	}
	o.pending[account] = action
	snapshot := action.clone()
	o.mu.Unlock()

	o.metrics.PendingDelta(1)
	o.record(ctx, snapshot)
	o.logger.Info("action submitted",
		slog.String("id", snapshot.ID),
		slog.String("kind", string(snapshot.Kind)),
		slog.String("account", account.Hex()))

	results := make(chan Result, 1)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		results <- o.run(context.WithoutCancel(ctx), action, plan)
	}()
	return snapshot, results, nil
}

// Wait blocks until every started action has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// step is one ledger transaction inside an action.
type step struct {
	name string
	send func(ctx context.Context) (ledger.Tx, error)
}

func (o *Orchestrator) run(ctx context.Context, action *PendingAction, plan []step) Result {
	var txErr error
	for _, st := range plan {
		o.update(ctx, action, func(a *PendingAction) { a.Step = st.name })
		tx, err := st.send(ctx)
		if err != nil {
			txErr = classifyReason(st.name, err.Error())
			break
		}
		hash := tx.Hash()
		o.update(ctx, action, func(a *PendingAction) { a.TxHashes = append(a.TxHashes, hash) })
		receipt, err := tx.Wait(ctx)
		if err != nil {
			txErr = classifyReason(st.name, err.Error())
			break
		}
		if receipt.Status != ledger.ReceiptConfirmed {
			reason := receipt.Reason
			if reason == "" {
				reason = "transaction reverted"
			}
			txErr = classifyReason(st.name, reason)
			break
		}
	}

	completedAt := o.now().UTC()
	status := StatusConfirmed
	reason := ""
	if txErr != nil {
		status = StatusFailed
		var te *TransactionError
		if errors.As(txErr, &te) {
			reason = te.Reason
		}
	}
	o.update(ctx, action, func(a *PendingAction) {
		a.Status = status
		a.Reason = reason
		a.CompletedAt = completedAt
	})
	o.metrics.PendingDelta(-1)
	o.metrics.RecordOutcome(string(action.Kind), string(status))
	o.metrics.ObserveConfirmation(string(action.Kind), completedAt.Sub(action.SubmittedAt))

	view, recErr := o.rec.Reconcile(ctx)
	if recErr != nil {
		o.logger.Warn("post-action reconciliation failed",
			slog.String("id", action.ID),
			slog.Any("error", recErr))
		view = nil
	}

	o.mu.Lock()
	final := action.clone()
	if current, ok := o.pending[action.Account]; ok && current == action {
		delete(o.pending, action.Account)
	}
	o.mu.Unlock()

	attrs := []any{slog.String("id", final.ID), slog.String("kind", string(final.Kind)), slog.String("status", string(final.Status))}
	if txErr != nil {
		o.logger.Warn("action failed", append(attrs, slog.Any("error", txErr))...)
	} else {
		o.logger.Info("action confirmed", attrs...)
	}
	return Result{Action: final, View: view, Err: txErr}
}

func (o *Orchestrator) update(ctx context.Context, action *PendingAction, mutate func(*PendingAction)) {
	o.mu.Lock()
	mutate(action)
	snapshot := action.clone()
	o.mu.Unlock()
	o.record(ctx, snapshot)
}

func (o *Orchestrator) record(ctx context.Context, action PendingAction) {
	if o.journal == nil {
		return
	}
	if err := o.journal.Record(ctx, action); err != nil {
		o.logger.Warn("journal record failed", slog.String("id", action.ID), slog.Any("error", err))
	}
}
