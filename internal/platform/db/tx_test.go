package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

type fakeTx struct {
	pgx.Tx
	rollbackErr error
	commitErr   error
	committed   bool
	rolledBack  bool
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.committed = true
	return tx.commitErr
}

func (tx *fakeTx) Conn() *pgx.Conn { return nil }

func (tx *fakeTx) Rollback(context.Context) error {
	tx.rolledBack = true
	return tx.rollbackErr
}

type fakeBeginner struct {
	tx   *fakeTx
	opts pgx.TxOptions
	err  error
}

func (b *fakeBeginner) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	b.opts = opts
	if b.err != nil {
		return nil, b.err
	}
	return b.tx, nil
}

func TestWithTxCommits(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	err := WithTx(context.Background(), b, TxOptions{}, func(context.Context, pgx.Tx) error { return nil })
	require.NoError(t, err)
	require.True(t, b.tx.committed)
	require.Equal(t, pgx.ReadCommitted, b.opts.IsoLevel)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	err := WithTx(context.Background(), b, TxOptions{IsoLevel: pgx.Serializable}, func(context.Context, pgx.Tx) error {
		return &pgconn.PgError{Code: "23505"}
	})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.True(t, b.tx.rolledBack)
	require.False(t, b.tx.committed)
	require.Equal(t, pgx.Serializable, b.opts.IsoLevel)
}

func TestWithTxRollbackFailureIsIntegrityViolation(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{rollbackErr: errors.New("connection reset")}}
	cause := errors.New("line 2 failed")
	err := WithTx(context.Background(), b, TxOptions{}, func(context.Context, pgx.Tx) error { return cause })
	require.ErrorIs(t, err, shared.ErrIntegrity)
	require.ErrorIs(t, err, cause)
}

func TestWithTxIgnoresClosedTxOnRollback(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{rollbackErr: pgx.ErrTxClosed}}
	err := WithTx(context.Background(), b, TxOptions{}, func(context.Context, pgx.Tx) error { return context.DeadlineExceeded })
	require.ErrorIs(t, err, shared.ErrTransient)
	require.NotErrorIs(t, err, shared.ErrIntegrity)
}

func TestWithTxBeginFailureIsTransient(t *testing.T) {
	b := &fakeBeginner{err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}
	called := false
	err := WithTx(context.Background(), b, TxOptions{}, func(context.Context, pgx.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, shared.ErrTransient)
	require.False(t, called)
}

func TestWithTxTimeoutReachesCallback(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	err := WithTx(context.Background(), b, TxOptions{Timeout: time.Second}, func(ctx context.Context, _ pgx.Tx) error {
		_, ok := ctx.Deadline()
		require.True(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestWithTxRollbackAfterCancelIsNotIntegrityViolation(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{rollbackErr: errors.New("conn closed")}}
	ctx, cancel := context.WithCancel(context.Background())
	err := WithTx(ctx, b, TxOptions{}, func(context.Context, pgx.Tx) error {
		cancel()
		return fmt.Errorf("lock stock: %w", context.Canceled)
	})
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, shared.ErrIntegrity)
	require.True(t, b.tx.rolledBack)
}
