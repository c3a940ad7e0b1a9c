package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"aethos/services/lending/store"
)

const (
	viewKeyPrefix = "view:"
	viewVersion   = 1
)

type viewRecord struct {
	Version int         `json:"version"`
	View    *store.View `json:"view"`
}

// ViewStore persists the last fresh view per account so a restart can show
// it, flagged stale, before the first refresh completes.
type ViewStore struct {
	db Database
}

// NewViewStore wraps db.
func NewViewStore(db Database) *ViewStore {
	return &ViewStore{db: db}
}

func viewKey(account common.Address) []byte {
	return []byte(viewKeyPrefix + strings.ToLower(account.Hex()))
}

// SaveView stores view under its account.
func (s *ViewStore) SaveView(ctx context.Context, view *store.View) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("view store not configured")
	}
	if view == nil || (view.Account == common.Address{}) {
		return fmt.Errorf("view account required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(viewRecord{Version: viewVersion, View: view})
	if err != nil {
		return fmt.Errorf("encode view: %w", err)
	}
	if err := s.db.Put(viewKey(view.Account), payload); err != nil {
		return fmt.Errorf("save view: %w", err)
	}
	return nil
}

// LoadView returns the stored view for account, or nil when none exists or
// the record was written by an incompatible version.
func (s *ViewStore) LoadView(ctx context.Context, account common.Address) (*store.View, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("view store not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := s.db.Get(viewKey(account))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load view: %w", err)
	}
	var record viewRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("decode view: %w", err)
	}
	if record.Version != viewVersion || record.View == nil || record.View.Account != account {
		return nil, nil
	}
	return record.View, nil
}

// DeleteView forgets the stored view for account.
func (s *ViewStore) DeleteView(account common.Address) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("view store not configured")
	}
	return s.db.Delete(viewKey(account))
}
