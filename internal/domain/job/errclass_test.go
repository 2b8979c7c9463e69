package job

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/steward-labs/steward/internal/domain/model"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestPermanentWrap(t *testing.T) {
	base := errors.New("payload missing field")
	wrapped := Permanent(base)

	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, base.Error(), wrapped.Error())

	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, Permanent(nil))
	})

	t.Run("survives further wrapping", func(t *testing.T) {
		outer := fmt.Errorf("handler: %w", wrapped)
		assert.True(t, IsPermanent(outer))
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.FailureKind
	}{
		{name: "permanent marker", err: Permanent(errors.New("bad payload")), want: model.FailurePermanent},
		{name: "context canceled", err: context.Canceled, want: model.FailureTransient},
		{name: "deadline exceeded", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: model.FailureTransient},
		{name: "net timeout", err: timeoutErr{}, want: model.FailureTransient},
		{name: "pg serialization failure", err: &pgconn.PgError{Code: pgerrcode.SerializationFailure}, want: model.FailureTransient},
		{name: "pg deadlock", err: &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, want: model.FailureTransient},
		{name: "pg connection failure", err: &pgconn.PgError{Code: pgerrcode.ConnectionFailure}, want: model.FailureTransient},
		{name: "pg unique violation", err: &pgconn.PgError{Code: pgerrcode.UniqueViolation}, want: model.FailurePermanent},
		{name: "pg undefined column", err: &pgconn.PgError{Code: pgerrcode.UndefinedColumn}, want: model.FailurePermanent},
		{name: "pg invalid text representation", err: &pgconn.PgError{Code: pgerrcode.InvalidTextRepresentation}, want: model.FailurePermanent},
		{name: "unknown error defaults transient", err: errors.New("upstream hiccup"), want: model.FailureTransient},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestClassifyWrappedPgError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}
	err := fmt.Errorf("insert job: %w", pgErr)
	assert.Equal(t, model.FailurePermanent, Classify(err))
}
