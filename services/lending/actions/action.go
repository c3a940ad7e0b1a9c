package actions

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"aethos/services/lending/store"
)

// Kind identifies a state-changing action.
type Kind string

const (
	KindMintCollateralToken Kind = "mint_collateral_token"
	KindDeposit             Kind = "deposit"
	KindBorrow              Kind = "borrow"
	KindWithdraw            Kind = "withdraw"
)

// ParseKind normalises user supplied kind text.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindMintCollateralToken, "mint":
		return KindMintCollateralToken, nil
	case KindDeposit:
		return KindDeposit, nil
	case KindBorrow:
		return KindBorrow, nil
	case KindWithdraw:
		return KindWithdraw, nil
	}
	return "", ErrUnknownKind
}

// Status is the lifecycle state of a PendingAction.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Request describes an action. Amounts are display-unit decimal text.
type Request struct {
	Kind Kind
	// Amount is the deposit amount, the native value to mint with, or the
	// optional pool token amount requested when borrowing.
	Amount string
	// Collateral is the native value locked by a borrow.
	Collateral string
}

// PendingAction tracks one action from submission to its terminal state.
type PendingAction struct {
	ID          string         `json:"id"`
	Account     common.Address `json:"account"`
	Kind        Kind           `json:"kind"`
	Status      Status         `json:"status"`
	Step        string         `json:"step,omitempty"`
	SubmittedAt time.Time      `json:"submittedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	TxHashes    []common.Hash  `json:"txHashes,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

// Result is delivered once an action reaches a terminal state and the
// follow-up reconciliation pass has run.
type Result struct {
	Action PendingAction
	// View is the view published by the follow-up pass, if any.
	View *store.View
	Err  error
}

func (p PendingAction) clone() PendingAction {
	if p.TxHashes != nil {
		p.TxHashes = append([]common.Hash(nil), p.TxHashes...)
	}
	return p
}
