package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"aethos/native/lending"
	"aethos/services/lending/activity"
	"aethos/services/lending/store"
)

var self = common.HexToAddress("0x9999000000000000000000000000000000001234")

func sampleView(generation uint64) *store.View {
	health := lending.Health{Status: lending.HealthHealthy, Ratio: 200, Source: lending.HealthSourceLocal}
	maturity := lending.Maturity{Status: lending.MaturityLocked, SecondsRemaining: 86_400}
	return &store.View{
		Account:    self,
		Generation: generation,
		FetchedAt:  time.Unix(1_700_000_000, 0),
		Lenders: []activity.Entry{{
			Kind:                activity.KindLender,
			Account:             self,
			DisplayAddress:      "You",
			CollateralOrDeposit: decimal.RequireFromString("3.5"),
			Maturity:            &maturity,
			IsSelf:              true,
		}},
		Borrowers: []activity.Entry{{
			Kind:                activity.KindBorrower,
			Account:             common.HexToAddress("0x1111000000000000000000000000000000005678"),
			DisplayAddress:      "0x1111…5678",
			CollateralOrDeposit: decimal.RequireFromString("2"),
			BorrowedOrEarned:    decimal.RequireFromString("1850"),
			Health:              &health,
			Recency:             1,
		}},
	}
}

func TestWriteProducesCSVAndParquet(t *testing.T) {
	exp, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	files, err := exp.Write(sampleView(3))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if files.Rows != 2 {
		t.Fatalf("expected 2 rows, got %d", files.Rows)
	}

	f, err := os.Open(files.CSV)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}
	if records[1][0] != "lender" || records[1][3] != "3.5" || records[1][7] != "locked" || records[1][9] != "true" {
		t.Fatalf("unexpected lender row %v", records[1])
	}
	if records[2][5] != "healthy" || records[2][6] != "200" || records[2][4] != "1850" {
		t.Fatalf("unexpected borrower row %v", records[2])
	}

	payload, err := os.ReadFile(files.Parquet)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if !bytes.HasPrefix(payload, []byte("PAR1")) || !bytes.HasSuffix(payload, []byte("PAR1")) {
		t.Fatalf("parquet file missing magic bytes")
	}
	if filepath.Base(files.CSV) != "activity-0x9999000000000000000000000000000000001234-000003.csv" {
		t.Fatalf("unexpected file name %s", files.CSV)
	}
}

func TestWriteRejectsEmptyView(t *testing.T) {
	exp, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	if _, err := exp.Write(&store.View{Account: self}); err == nil {
		t.Fatalf("expected empty view rejection")
	}
}

func TestRunExportsChangedFreshViews(t *testing.T) {
	dir := t.TempDir()
	exp, err := New(dir, nil)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	st := store.New()
	updates, unsubscribe := st.Subscribe()
	defer unsubscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		exp.Run(ctx, updates)
		close(done)
	}()

	waitFor := func(n int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			matches, _ := filepath.Glob(filepath.Join(dir, "*.csv"))
			if len(matches) == n {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		matches, _ := filepath.Glob(filepath.Join(dir, "*.csv"))
		t.Fatalf("expected %d exports, found %d", n, len(matches))
	}

	st.Publish(ctx, sampleView(1))
	waitFor(1)

	// Same content under a new generation is not exported again.
	st.Publish(ctx, sampleView(2))
	time.Sleep(20 * time.Millisecond)
	waitFor(1)

	changed := sampleView(3)
	changed.Borrowers[0].BorrowedOrEarned = decimal.RequireFromString("10")
	st.Publish(ctx, changed)
	waitFor(2)

	cancel()
	<-done
}
