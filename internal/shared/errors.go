package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed or out-of-range input rejected before any side effect.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks an identifier or sequence collision. Safe to retry with a fresh sequence.
	ErrConflict = errors.New("conflict")
	// ErrInsufficientStock marks a sale quantity above the eligible available stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrTransient marks a temporarily unreachable store. Callers may retry with backoff.
	ErrTransient = errors.New("transient infrastructure failure")
	// ErrIntegrity marks a ledger divergence or a failed rollback. Never auto-recovered.
	ErrIntegrity = errors.New("integrity violation")
)

// Kind returns the taxonomy label of err for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrIdempotencyConflict):
		return "duplicate"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "internal"
	}
}

// Retryable reports whether the caller may retry the failed operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConflict)
}
