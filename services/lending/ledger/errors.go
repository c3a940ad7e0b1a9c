package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrSnapshotRead matches every *SnapshotReadError.
	ErrSnapshotRead = errors.New("lending: snapshot read failed")
	// ErrNotConfigured is returned when a required contract address is unset.
	ErrNotConfigured = errors.New("lending: ledger not configured")
)

// SnapshotReadError reports a failed or malformed read and names the field
// that could not be obtained.
type SnapshotReadError struct {
	Field string
	Err   error
}

func (e *SnapshotReadError) Error() string {
	if e == nil {
		return ErrSnapshotRead.Error()
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrSnapshotRead, e.Field)
	}
	return fmt.Sprintf("%s: %s: %v", ErrSnapshotRead, e.Field, e.Err)
}

func (e *SnapshotReadError) Unwrap() error { return e.Err }

func (e *SnapshotReadError) Is(target error) bool { return target == ErrSnapshotRead }

func readError(field string, err error) error {
	var existing *SnapshotReadError
	if errors.As(err, &existing) {
		return err
	}
	return &SnapshotReadError{Field: field, Err: err}
}
