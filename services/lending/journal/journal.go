package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"aethos/services/lending/actions"
)

// ActionRecord is the persisted form of an action's latest transition.
type ActionRecord struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Account     string    `gorm:"size:42;index"`
	Kind        string    `gorm:"size:32;index"`
	Status      string    `gorm:"size:16;index"`
	Step        string    `gorm:"size:32"`
	TxHashes    string    `gorm:"type:text"`
	Reason      string    `gorm:"type:text"`
	SubmittedAt time.Time `gorm:"index"`
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// TableName pins the table name.
func (ActionRecord) TableName() string { return "lending_actions" }

// Open connects to dsn. postgres:// URLs use the postgres driver; anything
// else is a sqlite path or URI.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("journal dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return db, nil
}

// Journal stores action transitions. Each action keeps one row holding its
// latest state.
type Journal struct {
	db *gorm.DB
}

// New migrates the schema and returns a Journal.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal database required")
	}
	if err := db.AutoMigrate(&ActionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record upserts action.
func (j *Journal) Record(ctx context.Context, action actions.PendingAction) error {
	if strings.TrimSpace(action.ID) == "" {
		return errors.New("journal: action id required")
	}
	row := toRecord(action)
	err := j.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "step", "tx_hashes", "reason", "completed_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("record action %s: %w", action.ID, err)
	}
	return nil
}

// Get returns the action with id.
func (j *Journal) Get(ctx context.Context, id string) (actions.PendingAction, error) {
	var row ActionRecord
	if err := j.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return actions.PendingAction{}, err
	}
	return fromRecord(row), nil
}

// Recent lists the latest actions for account, newest first. A zero account
// lists every account.
func (j *Journal) Recent(ctx context.Context, account common.Address, limit int) ([]actions.PendingAction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := j.db.WithContext(ctx).Order("submitted_at DESC").Limit(limit)
	if (account != common.Address{}) {
		query = query.Where("account = ?", strings.ToLower(account.Hex()))
	}
	var rows []ActionRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	out := make([]actions.PendingAction, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRecord(row))
	}
	return out, nil
}

func toRecord(action actions.PendingAction) ActionRecord {
	hashes := make([]string, 0, len(action.TxHashes))
	for _, h := range action.TxHashes {
		hashes = append(hashes, h.Hex())
	}
	row := ActionRecord{
		ID:          action.ID,
		Account:     strings.ToLower(action.Account.Hex()),
		Kind:        string(action.Kind),
		Status:      string(action.Status),
		Step:        action.Step,
		TxHashes:    strings.Join(hashes, ","),
		Reason:      action.Reason,
		SubmittedAt: action.SubmittedAt.UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if !action.CompletedAt.IsZero() {
		completed := action.CompletedAt.UTC()
		row.CompletedAt = &completed
	}
	return row
}

func fromRecord(row ActionRecord) actions.PendingAction {
	action := actions.PendingAction{
		ID:          row.ID,
		Account:     common.HexToAddress(row.Account),
		Kind:        actions.Kind(row.Kind),
		Status:      actions.Status(row.Status),
		Step:        row.Step,
		Reason:      row.Reason,
		SubmittedAt: row.SubmittedAt,
	}
	if row.CompletedAt != nil {
		action.CompletedAt = *row.CompletedAt
	}
	if row.TxHashes != "" {
		for _, h := range strings.Split(row.TxHashes, ",") {
			action.TxHashes = append(action.TxHashes, common.HexToHash(h))
		}
	}
	return action
}
