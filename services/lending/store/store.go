package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

// Persister saves and restores the last published view per account.
type Persister interface {
	SaveView(ctx context.Context, view *View) error
	LoadView(ctx context.Context, account common.Address) (*View, error)
}

// Option configures a Store.
type Option func(*Store)

// WithPersister saves every fresh view and restores it on Reset.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store holds the current View. It is replaced wholesale on every publish and
// subscribers are notified of each replacement.
type Store struct {
	current   atomic.Pointer[View]
	persister Persister
	logger    *slog.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan *View
}

// New constructs an empty store.
func New(opts ...Option) *Store {
	s := &Store{logger: slog.Default(), subs: make(map[uint64]chan *View)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.current.Store(&View{})
	return s
}

// Current returns the most recently published view. It never returns nil.
func (s *Store) Current() *View {
	return s.current.Load()
}

// Publish replaces the current view and notifies subscribers. The digest is
// computed here.
func (s *Store) Publish(ctx context.Context, view *View) {
	if view == nil {
		return
	}
	view.Digest = ComputeDigest(view)
	s.mu.Lock()
	s.current.Store(view)
	for _, ch := range s.subs {
		deliver(ch, view)
	}
	s.mu.Unlock()

	if s.persister != nil && !view.Stale && !view.Empty() {
		if err := s.persister.SaveView(ctx, view); err != nil {
			s.logger.Warn("persist view failed", slog.String("account", view.Account.Hex()), slog.Any("error", err))
		}
	}
}

// MarkStale republishes the current view flagged stale. It is a no-op when
// the current view belongs to another account.
func (s *Store) MarkStale(ctx context.Context, account common.Address, reason string) {
	current := s.Current()
	if current.Account != account {
		return
	}
	s.Publish(ctx, current.WithStale(reason))
}

// Reset invalidates the store for a new account. When a persisted view for the
// account exists it is published flagged stale; otherwise an empty view is.
func (s *Store) Reset(ctx context.Context, account common.Address) {
	if s.persister != nil && (account != common.Address{}) {
		restored, err := s.persister.LoadView(ctx, account)
		if err != nil {
			s.logger.Warn("restore view failed", slog.String("account", account.Hex()), slog.Any("error", err))
		} else if restored != nil && restored.Account == account {
			view := restored.WithStale("restored from disk")
			view.Restored = true
			s.Publish(ctx, view)
			return
		}
	}
	s.Publish(ctx, &View{Account: account})
}

// Subscribe returns a channel receiving every replacement. Slow subscribers
// only observe the latest view. cancel closes the channel.
func (s *Store) Subscribe() (<-chan *View, func()) {
	ch := make(chan *View, 1)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

func deliver(ch chan *View, view *View) {
	select {
	case ch <- view:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- view:
	default:
	}
}
