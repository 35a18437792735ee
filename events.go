package minq

// Operation names a terminal operation.
type Operation string

// Terminal operations.
const (
	OpCount   Operation = "count"
	OpDelete  Operation = "delete"
	OpInsert  Operation = "insert"
	OpProject Operation = "project"
	OpToList  Operation = "toList"
	OpUpdate  Operation = "update"
	OpUpsert  Operation = "upsert"
)

// RecordsAffectedEvent is passed to OnRecordsAffected and OnNoneAffected handlers.
type RecordsAffectedEvent struct {
	Collection  string
	Operation   Operation
	Affected    int64
	Transaction *Transaction
}

// RecordsAffectedHandler handles a RecordsAffectedEvent.
type RecordsAffectedHandler func(RecordsAffectedEvent)

// TransactionAbortedEvent is passed to OnTransactionAborted handlers when a
// terminal operation is skipped because its transaction is no longer open.
type TransactionAbortedEvent struct {
	Collection  string
	Operation   Operation
	Transaction *Transaction
}

// TransactionAbortedHandler handles a TransactionAbortedEvent.
type TransactionAbortedHandler func(TransactionAbortedEvent)
