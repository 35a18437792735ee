package minq

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/minq/internal/db"
)

// TxState is the lifecycle state of a Transaction. A transaction leaves
// TxOpen exactly once and never returns to it.
type TxState int

// Transaction states.
const (
	TxOpen TxState = iota
	TxCommitted
	TxAborted
	TxFailed
)

func (s TxState) String() string {
	switch s {
	case TxOpen:
		return "open"
	case TxCommitted:
		return "committed"
	case TxAborted:
		return "aborted"
	case TxFailed:
		return "failed"
	default:
		return fmt.Sprintf("TxState(%d)", int(s))
	}
}

// Transaction wraps one engine session. Bind it to request chains with
// RequestChain.WithTransaction; chains bound to a transaction that is no
// longer open are skipped without touching the engine.
type Transaction struct {
	id     string
	sess   db.Session
	logger *zap.Logger

	mu    sync.Mutex
	state TxState
}

// StartTransaction opens a session and starts a transaction on it.
func (c *Client) StartTransaction(ctx context.Context) (*Transaction, error) {
	sess, err := c.engine.StartTransaction(ctx)
	if err != nil {
		return nil, fmt.Errorf("start transaction: %w", err)
	}
	id := uuid.NewString()
	tx := &Transaction{
		id:     id,
		sess:   sess,
		logger: c.logger.With(zap.String("transaction", id)),
	}
	tx.logger.Debug("Transaction started", zap.String("session", sess.ID()))
	return tx, nil
}

// ID returns the transaction's correlation id.
func (t *Transaction) ID() string { return t.id }

// State returns the current state.
func (t *Transaction) State() TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsOpen reports whether the transaction still accepts work.
func (t *Transaction) IsOpen() bool {
	return t.State() == TxOpen
}

// Commit commits the transaction. It returns a *TransactionStateError when
// the transaction is not open; an engine failure moves it to TxFailed.
func (t *Transaction) Commit(ctx context.Context) error {
	return t.finish(ctx, "commit", TxCommitted, t.sess.Commit)
}

// Abort rolls the transaction back. It returns a *TransactionStateError
// when the transaction is not open; an engine failure moves it to TxFailed.
func (t *Transaction) Abort(ctx context.Context) error {
	return t.finish(ctx, "abort", TxAborted, t.sess.Abort)
}

// TryCommit is Commit that logs instead of returning an error.
func (t *Transaction) TryCommit(ctx context.Context) bool {
	if err := t.Commit(ctx); err != nil {
		t.logger.Warn("Transaction commit skipped", zap.Error(err))
		return false
	}
	return true
}

// TryAbort is Abort that logs instead of returning an error.
func (t *Transaction) TryAbort(ctx context.Context) bool {
	if err := t.Abort(ctx); err != nil {
		t.logger.Warn("Transaction abort skipped", zap.Error(err))
		return false
	}
	return true
}

func (t *Transaction) finish(ctx context.Context, op string, to TxState, call func(context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxOpen {
		return &TransactionStateError{ID: t.id, State: t.state, Operation: op}
	}

	err := call(ctx)
	t.sess.End(ctx)
	if err != nil {
		t.state = TxFailed
		return fmt.Errorf("%s transaction %s: %w", op, t.id, err)
	}
	t.state = to
	t.logger.Debug("Transaction finished", zap.Stringer("state", to))
	return nil
}

// abortAfter best-effort aborts an open transaction after a failed operation.
func (t *Transaction) abortAfter(ctx context.Context, cause error) {
	if !t.IsOpen() {
		return
	}
	t.logger.Warn("Aborting transaction after failed operation", zap.Error(cause))
	if err := t.Abort(context.WithoutCancel(ctx)); err != nil {
		t.logger.Warn("Failed to abort transaction", zap.Error(err))
	}
}

// session returns the engine session for binding operations.
func (t *Transaction) session() db.Session {
	return t.sess
}
