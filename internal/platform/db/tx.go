package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// TxOptions tunes a ledger transaction.
type TxOptions struct {
	IsoLevel pgx.TxIsoLevel
	// Timeout bounds the whole transaction, commit included. Zero disables the bound.
	Timeout time.Duration
}

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// WithTx executes fn within a transaction. Errors from fn are returned after rollback;
// a rollback that fails on a live connection is reported as shared.ErrIntegrity.
// A deadline hit inside fn is reported as shared.ErrTransient.
func WithTx(ctx context.Context, pool Beginner, opts TxOptions, fn func(context.Context, pgx.Tx) error) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	iso := opts.IsoLevel
	if iso == "" {
		iso = pgx.ReadCommitted
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", Classify(err))
	}

	if err := fn(ctx, tx); err != nil {
		// Rollback must run even when ctx is already cancelled.
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rbErr := tx.Rollback(rbCtx); rbErr != nil && !rollbackMoot(ctx, tx, rbErr, err) {
			return fmt.Errorf("%w: platform/db: rollback failed: %w (cause: %w)", shared.ErrIntegrity, rbErr, err)
		}
		err = Classify(err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, shared.ErrTransient) {
			err = fmt.Errorf("%w: platform/db: tx deadline: %w", shared.ErrTransient, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", Classify(err))
	}

	return nil
}

// rollbackMoot reports whether a rollback failure left nothing to undo. pgx closes
// the connection when a context fires mid-query, and the server discards the open
// transaction together with the session.
func rollbackMoot(ctx context.Context, tx pgx.Tx, rbErr, cause error) bool {
	if errors.Is(rbErr, pgx.ErrTxClosed) {
		return true
	}
	if ctx.Err() != nil || errors.Is(cause, context.DeadlineExceeded) || errors.Is(cause, context.Canceled) {
		return true
	}
	if c := tx.Conn(); c != nil && c.IsClosed() {
		return true
	}
	return false
}
