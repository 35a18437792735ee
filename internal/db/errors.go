package db

import "errors"

// Sentinel errors for database operations.
var (
	ErrKeyNotFound   = errors.New("db: key not found")
	ErrDuplicateKey  = errors.New("db: duplicate key")
	ErrIndexNotFound = errors.New("db: index not found")
	ErrIndexExists   = errors.New("db: index already exists")
	ErrWriteConflict = errors.New("db: write conflict")
	ErrSessionEnded  = errors.New("db: session ended")
)

// Op constants name engine operations for error context.
const (
	OpCount       = "count"
	OpFind        = "find"
	OpInsert      = "insert"
	OpUpdate      = "update"
	OpUpsert      = "upsert"
	OpDelete      = "delete"
	OpListIndexes = "listIndexes"
	OpCreateIndex = "createIndex"
	OpDropIndex   = "dropIndex"
	OpCommit      = "commitTransaction"
	OpAbort       = "abortTransaction"
	OpGet         = "GET"
	OpSet         = "SET"
	OpDel         = "DEL"
)

// Error wraps an underlying error with the operation name for diagnostics.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
