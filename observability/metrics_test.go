package observability

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAPIObserveCountsErrors(t *testing.T) {
	m := API()
	before := testutil.ToFloat64(m.errors.WithLabelValues("/v1/actions", "POST", "422"))
	m.Observe("/v1/actions", "POST", 422, 10*time.Millisecond)
	m.Observe("/v1/actions", "POST", 200, 10*time.Millisecond)

	if got := testutil.ToFloat64(m.errors.WithLabelValues("/v1/actions", "POST", "422")); got != before+1 {
		t.Fatalf("expected one more 422, got %v", got-before)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("/v1/actions", "POST", "success")); got < 1 {
		t.Fatalf("expected success counted, got %v", got)
	}
	m.RecordThrottle("", "")
	if got := testutil.ToFloat64(m.throttles.WithLabelValues("unknown", "unspecified")); got < 1 {
		t.Fatalf("expected throttle defaults, got %v", got)
	}
}

func TestReconcileMetrics(t *testing.T) {
	m := Reconcile()
	before := testutil.ToFloat64(m.superseded)
	m.ObservePass("superseded", time.Millisecond)
	if got := testutil.ToFloat64(m.superseded); got != before+1 {
		t.Fatalf("expected superseded increment, got %v", got-before)
	}
	m.SetStale(true)
	if testutil.ToFloat64(m.stale) != 1 {
		t.Fatalf("expected stale gauge set")
	}
	m.SetStale(false)
	if testutil.ToFloat64(m.stale) != 0 {
		t.Fatalf("expected stale gauge cleared")
	}
	m.RecordTotal(" Deposits ", big.NewInt(42))
	if got := testutil.ToFloat64(m.totals.WithLabelValues("deposits")); got != 42 {
		t.Fatalf("unexpected total %v", got)
	}
}

func TestActionAndEventMetrics(t *testing.T) {
	actions := Actions()
	before := testutil.ToFloat64(actions.actions.WithLabelValues("borrow", "confirmed"))
	actions.RecordOutcome(" Borrow ", "confirmed")
	if got := testutil.ToFloat64(actions.actions.WithLabelValues("borrow", "confirmed")); got != before+1 {
		t.Fatalf("expected normalised kind label, got %v", got-before)
	}

	events := Events()
	failed := testutil.ToFloat64(events.delivered.WithLabelValues("error"))
	events.RecordDelivery(errors.New("closed"))
	if got := testutil.ToFloat64(events.delivered.WithLabelValues("error")); got != failed+1 {
		t.Fatalf("expected failed delivery counted")
	}
}

func TestBigToFloat(t *testing.T) {
	if bigToFloat(nil) != 0 {
		t.Fatalf("nil should map to zero")
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 2000)
	if got := bigToFloat(huge); got != 0 {
		t.Fatalf("expected overflow to map to zero, got %v", got)
	}
}
