package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrSessionRunning is returned when Run is called twice.
var ErrSessionRunning = errors.New("lending: session already running")

// Session owns the account subscription and periodic refresh for one
// Reconciler. Account changes and refresh requests are coalesced; Run tears
// down every pass it started before returning.
type Session struct {
	rec      *Reconciler
	interval time.Duration
	logger   *slog.Logger

	accounts chan common.Address
	trigger  chan struct{}
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewSession wires a session to rec. A zero interval disables periodic
// refresh.
func NewSession(rec *Reconciler, interval time.Duration, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		rec:      rec,
		interval: interval,
		logger:   logger,
		accounts: make(chan common.Address, 1),
		trigger:  make(chan struct{}, 1),
	}
}

// SetAccount requests a switch to account. Only the latest pending request
// is kept.
func (s *Session) SetAccount(account common.Address) {
	for {
		select {
		case s.accounts <- account:
			return
		default:
		}
		select {
		case <-s.accounts:
		default:
		}
	}
}

// Refresh requests a reconciliation pass.
func (s *Session) Refresh() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run processes account changes and refreshes until ctx ends.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSessionRunning
	}
	defer s.running.Store(false)

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	passCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case account := <-s.accounts:
			if account == s.rec.Account() {
				s.start(passCtx)
				continue
			}
			s.logger.Info("account changed", slog.String("account", account.Hex()))
			s.rec.SetAccount(passCtx, account)
			s.start(passCtx)
		case <-s.trigger:
			s.start(passCtx)
		case <-tick:
			s.start(passCtx)
		}
	}
}

func (s *Session) start(ctx context.Context) {
	if (s.rec.Account() == common.Address{}) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.rec.Reconcile(ctx); err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, context.Canceled) {
			s.logger.Debug("session pass failed", slog.Any("error", err))
		}
	}()
}
