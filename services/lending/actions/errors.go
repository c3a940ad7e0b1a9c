package actions

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"aethos/native/units"
)

var (
	// ErrInvalidAmount aliases the normalizer's sentinel so callers can match
	// either.
	ErrInvalidAmount       = units.ErrInvalidAmount
	ErrActionInProgress    = errors.New("lending: action in progress")
	ErrInsufficientBalance = errors.New("lending: insufficient balance")
	ErrExceedsBorrowLimit  = errors.New("lending: exceeds borrow limit")
	ErrLockupNotElapsed    = errors.New("lending: lockup not elapsed")
	ErrTransactionFailed   = errors.New("lending: transaction failed")
	ErrUnknownKind         = errors.New("lending: unknown action kind")
	ErrNoAccount           = errors.New("lending: no account selected")
	ErrSignerMismatch      = errors.New("lending: signer does not match account")
	ErrViewNotReady        = errors.New("lending: position view not loaded")
)

// TransactionError reports a ledger rejection or revert. Err is the
// classified cause and is always matched by ErrTransactionFailed.
type TransactionError struct {
	Step   string
	Reason string
	Err    error
}

func (e *TransactionError) Error() string {
	if e == nil {
		return ErrTransactionFailed.Error()
	}
	cause := e.Err
	if cause == nil {
		cause = ErrTransactionFailed
	}
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s", e.Step, cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Step, cause, e.Reason)
}

func (e *TransactionError) Unwrap() error { return e.Err }

func (e *TransactionError) Is(target error) bool { return target == ErrTransactionFailed }

var lockupReason = regexp.MustCompile(`\b(lock(ed|up|-up| period)|not matured|too early|30 days)\b`)

var borrowLimitReason = regexp.MustCompile(`\b(borrow limit|exceeds (the )?(borrow|limit|max)|max(imum)? borrow|collateral factor|undercollateral)`)

// classifyReason maps ledger revert text onto the error taxonomy.
func classifyReason(step, reason string) error {
	lower := strings.ToLower(reason)
	cause := ErrTransactionFailed
	switch {
	case lockupReason.MatchString(lower):
		cause = ErrLockupNotElapsed
	case borrowLimitReason.MatchString(lower):
		cause = ErrExceedsBorrowLimit
	case strings.Contains(lower, "insufficient") || strings.Contains(lower, "exceeds balance"):
		cause = ErrInsufficientBalance
	}
	return &TransactionError{Step: step, Reason: strings.TrimSpace(reason), Err: cause}
}
