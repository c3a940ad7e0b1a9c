package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"aethos/services/lending/activity"
	"aethos/services/lending/store"
)

var csvHeader = []string{
	"kind", "account", "display_address", "collateral_or_deposit", "borrowed_or_earned",
	"health", "health_ratio", "maturity", "seconds_remaining", "is_self", "recency", "fetched_at",
}

type parquetRow struct {
	Kind                string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Account             string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	DisplayAddress      string `parquet:"name=display_address, type=BYTE_ARRAY, convertedtype=UTF8"`
	CollateralOrDeposit string `parquet:"name=collateral_or_deposit, type=BYTE_ARRAY, convertedtype=UTF8"`
	BorrowedOrEarned    string `parquet:"name=borrowed_or_earned, type=BYTE_ARRAY, convertedtype=UTF8"`
	Health              string `parquet:"name=health, type=BYTE_ARRAY, convertedtype=UTF8"`
	HealthRatio         int64  `parquet:"name=health_ratio, type=INT64"`
	Maturity            string `parquet:"name=maturity, type=BYTE_ARRAY, convertedtype=UTF8"`
	SecondsRemaining    int64  `parquet:"name=seconds_remaining, type=INT64"`
	IsSelf              bool   `parquet:"name=is_self, type=BOOLEAN"`
	Recency             int64  `parquet:"name=recency, type=INT64"`
	FetchedAt           string `parquet:"name=fetched_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Files names the outputs of one export.
type Files struct {
	CSV     string
	Parquet string
	Rows    int
}

// Exporter writes the merged activity feed of published views to CSV and
// Parquet files.
type Exporter struct {
	dir    string
	logger *slog.Logger
}

// New returns an exporter writing under dir.
func New(dir string, logger *slog.Logger) (*Exporter, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, fmt.Errorf("export directory required")
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("export: create dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{dir: trimmed, logger: logger}, nil
}

func rowsOf(view *store.View) []parquetRow {
	fetched := view.FetchedAt.UTC().Format(time.RFC3339)
	entries := make([]activity.Entry, 0, len(view.Lenders)+len(view.Borrowers))
	entries = append(entries, view.Lenders...)
	entries = append(entries, view.Borrowers...)
	rows := make([]parquetRow, 0, len(entries))
	for _, e := range entries {
		row := parquetRow{
			Kind:                string(e.Kind),
			Account:             e.Account.Hex(),
			DisplayAddress:      e.DisplayAddress,
			CollateralOrDeposit: e.CollateralOrDeposit.String(),
			BorrowedOrEarned:    e.BorrowedOrEarned.String(),
			IsSelf:              e.IsSelf,
			Recency:             int64(e.Recency),
			FetchedAt:           fetched,
		}
		if e.Health != nil {
			row.Health = e.Health.Status.String()
			row.HealthRatio = int64(min(e.Health.Ratio, uint64(1<<63-1)))
		}
		if e.Maturity != nil {
			row.Maturity = e.Maturity.Status.String()
			row.SecondsRemaining = int64(e.Maturity.SecondsRemaining)
		}
		rows = append(rows, row)
	}
	return rows
}

// Write exports view. Files are named after the account and the view
// generation so repeated exports never overwrite each other.
func (e *Exporter) Write(view *store.View) (Files, error) {
	if view == nil || view.Empty() {
		return Files{}, fmt.Errorf("export: view not loaded")
	}
	rows := rowsOf(view)
	base := fmt.Sprintf("activity-%s-%06d", strings.ToLower(view.Account.Hex()), view.Generation)
	files := Files{
		CSV:     filepath.Join(e.dir, base+".csv"),
		Parquet: filepath.Join(e.dir, base+".parquet"),
		Rows:    len(rows),
	}
	if err := writeCSV(files.CSV, rows); err != nil {
		return Files{}, err
	}
	if err := writeParquet(files.Parquet, rows); err != nil {
		return Files{}, err
	}
	e.logger.Info("activity exported",
		slog.String("csv", files.CSV),
		slog.String("parquet", files.Parquet),
		slog.Int("rows", files.Rows))
	return files, nil
}

// Run exports every fresh view received on updates whose content changed,
// until ctx ends or updates closes.
func (e *Exporter) Run(ctx context.Context, updates <-chan *store.View) {
	var last [32]byte
	for {
		select {
		case <-ctx.Done():
			return
		case view, ok := <-updates:
			if !ok {
				return
			}
			if view == nil || view.Stale || view.Empty() || view.Digest == last {
				continue
			}
			if _, err := e.Write(view); err != nil {
				e.logger.Warn("activity export failed", slog.Any("error", err))
				continue
			}
			last = view.Digest
		}
	}
}

func writeCSV(path string, rows []parquetRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create csv: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("export: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Kind,
			row.Account,
			row.DisplayAddress,
			row.CollateralOrDeposit,
			row.BorrowedOrEarned,
			row.Health,
			strconv.FormatInt(row.HealthRatio, 10),
			row.Maturity,
			strconv.FormatInt(row.SecondsRemaining, 10),
			strconv.FormatBool(row.IsSelf),
			strconv.FormatInt(row.Recency, 10),
			row.FetchedAt,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("export: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("export: flush csv: %w", err)
	}
	return nil
}

func writeParquet(path string, rows []parquetRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for i := range rows {
		if err := pw.Write(&rows[i]); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}
