package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"aethos/native/lending"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type memPersister struct {
	mu    sync.Mutex
	views map[common.Address]*View
	err   error
}

func (m *memPersister) SaveView(_ context.Context, view *View) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.views == nil {
		m.views = make(map[common.Address]*View)
	}
	m.views[view.Account] = view
	return nil
}

func (m *memPersister) LoadView(_ context.Context, account common.Address) (*View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.views[account], nil
}

func freshView(account common.Address, deposit uint64) *View {
	return &View{
		Account:   account,
		FetchedAt: time.Unix(1_700_000_000, 0),
		Lender:    lending.LenderPosition{Account: account, Deposited: uint256.NewInt(deposit)},
	}
}

func TestPublishReplacesWholesale(t *testing.T) {
	t.Parallel()

	s := New()
	if s.Current() == nil || !s.Current().Empty() {
		t.Fatalf("expected empty initial view")
	}
	first := freshView(alice, 1)
	s.Publish(context.Background(), first)
	second := freshView(alice, 2)
	s.Publish(context.Background(), second)

	if s.Current() != second {
		t.Fatalf("expected latest view to be current")
	}
	if first.Lender.Deposited.Uint64() != 1 {
		t.Fatalf("earlier view must not be mutated")
	}
	if first.Digest == second.Digest {
		t.Fatalf("expected digests to differ for different content")
	}
}

func TestDigestIgnoresFetchMetadata(t *testing.T) {
	t.Parallel()

	a := freshView(alice, 5)
	b := freshView(alice, 5)
	b.Generation = 9
	b.FetchedAt = time.Unix(1_800_000_000, 0)
	if ComputeDigest(a) != ComputeDigest(b) {
		t.Fatalf("expected equal digests")
	}
	if ComputeDigest(a) != ComputeDigest(a.WithStale("x")) {
		t.Fatalf("stale flag should not affect digest")
	}
}

func TestSubscribeReceivesLatest(t *testing.T) {
	t.Parallel()

	s := New()
	ch, cancel := s.Subscribe()
	s.Publish(context.Background(), freshView(alice, 1))
	s.Publish(context.Background(), freshView(alice, 2))

	select {
	case view := <-ch:
		if view.Lender.Deposited.Uint64() != 2 {
			t.Fatalf("expected coalesced latest view, got %d", view.Lender.Deposited.Uint64())
		}
	case <-time.After(time.Second):
		t.Fatalf("expected notification")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after cancel")
	}
	s.Publish(context.Background(), freshView(alice, 3))
}

func TestMarkStale(t *testing.T) {
	t.Parallel()

	s := New()
	view := freshView(alice, 4)
	s.Publish(context.Background(), view)

	s.MarkStale(context.Background(), bob, "ignored")
	if s.Current().Stale {
		t.Fatalf("stale mark for another account must be ignored")
	}
	s.MarkStale(context.Background(), alice, "rpc down")
	current := s.Current()
	if !current.Stale || current.StaleReason != "rpc down" {
		t.Fatalf("expected stale view, got %+v", current)
	}
	if current == view || view.Stale {
		t.Fatalf("stale view must be a new value")
	}
}

func TestResetRestoresPersistedView(t *testing.T) {
	t.Parallel()

	persister := &memPersister{}
	s := New(WithPersister(persister))
	s.Publish(context.Background(), freshView(alice, 7))

	s.Reset(context.Background(), bob)
	if s.Current().Account != bob || !s.Current().Empty() {
		t.Fatalf("expected empty view for bob, got %+v", s.Current())
	}

	s.Reset(context.Background(), alice)
	current := s.Current()
	if current.Account != alice || !current.Stale || current.Lender.Deposited.Uint64() != 7 {
		t.Fatalf("expected restored stale view, got %+v", current)
	}
	if saved := persister.views[alice]; saved.Stale {
		t.Fatalf("stale views must not be persisted")
	}
	if current.Live() {
		t.Fatalf("restored view must not count as live before a pass")
	}
	s.MarkStale(context.Background(), alice, "rpc down")
	if s.Current().Live() {
		t.Fatalf("marking a restored view stale must keep it restored")
	}
	s.Publish(context.Background(), freshView(alice, 8))
	if !s.Current().Live() {
		t.Fatalf("expected published pass to be live")
	}
}

func TestResetFallsBackOnLoadError(t *testing.T) {
	t.Parallel()

	s := New(WithPersister(&memPersister{err: errors.New("disk")}))
	s.Reset(context.Background(), alice)
	if s.Current().Account != alice || s.Current().Stale {
		t.Fatalf("expected empty fresh view, got %+v", s.Current())
	}
}
