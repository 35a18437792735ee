package minq

import (
	"errors"
	"fmt"

	"github.com/kailas-cloud/minq/internal/db"
)

// Sentinel errors. Use errors.Is() to check.
var (
	// ErrConsumed is returned when a terminal operation runs a second time on
	// the same RequestChain. It is always a caller bug.
	ErrConsumed = errors.New("minq: request chain already consumed")
	// ErrConfiguration reports a missing or invalid connection setting,
	// collection name or model declaration.
	ErrConfiguration = errors.New("minq: invalid configuration")
	// ErrTransactionState is returned by Commit/Abort on a transaction that
	// is no longer open.
	ErrTransactionState = errors.New("minq: transaction is not open")
	// ErrWriteConflict matches every *WriteConflictError.
	ErrWriteConflict = errors.New("minq: write conflict")
	// ErrInvalidQuery reports a malformed filter, update, sort or index chain.
	ErrInvalidQuery = errors.New("minq: invalid query")
)

// Engine-level sentinels re-exported for callers matching on them.
var (
	ErrDuplicateKey  = db.ErrDuplicateKey
	ErrIndexNotFound = db.ErrIndexNotFound
	ErrIndexExists   = db.ErrIndexExists
)

const writeConflictHint = "check for duplicate field mutation in one update"

// WriteConflictError is returned when the engine rejects a write because of
// conflicting mutations, most often two update operations on the same field.
type WriteConflictError struct {
	Collection string
	Operation  Operation
	Err        error
}

func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("minq: write conflict during %s on %s (%s): %v",
		e.Operation, e.Collection, writeConflictHint, e.Err)
}

// Unwrap exposes both ErrWriteConflict and the engine error.
func (e *WriteConflictError) Unwrap() []error {
	return []error{ErrWriteConflict, e.Err}
}

// TransactionStateError is returned by Commit/Abort on a terminal transaction.
type TransactionStateError struct {
	ID        string
	State     TxState
	Operation string
}

func (e *TransactionStateError) Error() string {
	return fmt.Sprintf("minq: cannot %s transaction %s: state is %s", e.Operation, e.ID, e.State)
}

func (e *TransactionStateError) Unwrap() error { return ErrTransactionState }

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func invalidQuery(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
