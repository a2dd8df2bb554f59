package db

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Postgres SQLSTATE codes the ledger reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
)

// Classify wraps driver errors with the shared taxonomy. Errors that already carry a
// taxonomy kind pass through untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{shared.ErrValidation, shared.ErrConflict, shared.ErrInsufficientStock, shared.ErrTransient, shared.ErrIntegrity, shared.ErrNotFound} {
		if errors.Is(err, kind) {
			return err
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", shared.ErrConflict, pgErr.Message)
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled, codeAdminShutdown, codeCannotConnectNow:
			return fmt.Errorf("%w: %w", shared.ErrTransient, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", shared.ErrTransient, err)
	}
	var netErr net.Error
	var connErr *pgconn.ConnectError
	if errors.As(err, &netErr) || errors.As(err, &connErr) {
		return fmt.Errorf("%w: %w", shared.ErrTransient, err)
	}
	return err
}
