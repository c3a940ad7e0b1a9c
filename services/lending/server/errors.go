package server

import (
	"context"
	"errors"
	"net/http"

	"aethos/services/lending/actions"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// toStatus maps domain errors onto HTTP statuses and stable error codes.
// Specific causes are matched before ErrTransactionFailed, which every
// ledger rejection also satisfies.
func toStatus(err error) (int, apiError) {
	switch {
	case err == nil:
		return http.StatusOK, apiError{}
	case errors.Is(err, actions.ErrInvalidAmount):
		return http.StatusBadRequest, apiError{Code: "invalid_amount", Message: err.Error()}
	case errors.Is(err, actions.ErrUnknownKind):
		return http.StatusBadRequest, apiError{Code: "unknown_kind", Message: err.Error()}
	case errors.Is(err, actions.ErrActionInProgress):
		return http.StatusConflict, apiError{Code: "action_in_progress", Message: err.Error()}
	case errors.Is(err, actions.ErrNoAccount):
		return http.StatusConflict, apiError{Code: "no_account", Message: err.Error()}
	case errors.Is(err, actions.ErrSignerMismatch):
		return http.StatusForbidden, apiError{Code: "signer_mismatch", Message: err.Error()}
	case errors.Is(err, actions.ErrViewNotReady):
		return http.StatusServiceUnavailable, apiError{Code: "view_not_ready", Message: err.Error()}
	case errors.Is(err, actions.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, apiError{Code: "insufficient_balance", Message: err.Error()}
	case errors.Is(err, actions.ErrExceedsBorrowLimit):
		return http.StatusUnprocessableEntity, apiError{Code: "exceeds_borrow_limit", Message: err.Error()}
	case errors.Is(err, actions.ErrLockupNotElapsed):
		return http.StatusUnprocessableEntity, apiError{Code: "lockup_not_elapsed", Message: err.Error()}
	case errors.Is(err, actions.ErrTransactionFailed):
		return http.StatusBadGateway, apiError{Code: "transaction_failed", Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, apiError{Code: "timeout", Message: "action still pending"}
	default:
		return http.StatusInternalServerError, apiError{Code: "internal", Message: "internal error"}
	}
}
