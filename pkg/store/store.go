package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the adapters need. The pool is shared and
// safe for concurrent use; no additional locking happens at this layer.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrNotFound marks lookups for records that do not exist.
var ErrNotFound = errors.New("record not found")

// StoreError wraps persistence failures so handlers can map every one of them
// to a generic server error without leaking internals.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "store: " + e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

const defaultQueryTimeout = 5 * time.Second

// withTimeout bounds every store call; on timeout the operation fails and is
// not retried (creates carry no idempotency key, so retrying writes is unsafe).
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// UpdateResult mirrors the matched/modified counts of a document-store
// updateOne call.
type UpdateResult struct {
	Matched  int64
	Modified int64
}
