package job

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/steward-labs/steward/internal/domain/model"
)

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Classify reports it as a permanent failure. Handlers
// return Permanent errors for malformed payloads, missing resources and other
// conditions where a retry would only repeat the failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries a Permanent marker anywhere in its chain.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Classify maps a handler error to a failure kind for the retry machinery.
// An explicit Permanent wrap always wins. Context cancellation, timeouts and
// transient database conditions (serialization failures, deadlocks, dropped
// connections) are retryable; constraint and syntax violations are not.
// Unknown errors default to transient so a flaky dependency gets its retries.
func Classify(err error) model.FailureKind {
	if err == nil {
		return model.FailureTransient
	}
	if IsPermanent(err) {
		return model.FailurePermanent
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return model.FailureTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return model.FailureTransient
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgErr.Code == pgerrcode.SerializationFailure,
			pgErr.Code == pgerrcode.DeadlockDetected,
			pgErr.Code == pgerrcode.LockNotAvailable,
			pgerrcode.IsInsufficientResources(pgErr.Code),
			pgerrcode.IsOperatorIntervention(pgErr.Code):
			return model.FailureTransient
		case pgerrcode.IsIntegrityConstraintViolation(pgErr.Code),
			pgerrcode.IsSyntaxErrororAccessRuleViolation(pgErr.Code),
			pgerrcode.IsDataException(pgErr.Code):
			return model.FailurePermanent
		}
	}

	return model.FailureTransient
}
