package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	orm "github.com/medatechnology/sequel"
)

func TestConvertError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"pq unique", &pq.Error{Code: ErrCodeUniqueViolation, Message: "duplicate key"}, orm.ErrUniqueConstraint},
		{"pq foreign key", &pq.Error{Code: ErrCodeForeignKeyViolation}, orm.ErrForeignKeyConstraint},
		{"pq not null", &pq.Error{Code: ErrCodeNotNullViolation}, orm.ErrNotNullConstraint},
		{"pq check", &pq.Error{Code: ErrCodeCheckViolation}, orm.ErrCheckConstraint},
		{"pq undefined table", &pq.Error{Code: ErrCodeUndefinedTable}, orm.ErrTableNotFound},
		{"pq undefined column", &pq.Error{Code: ErrCodeUndefinedColumn}, orm.ErrColumnNotFound},
		{"pq deadlock", &pq.Error{Code: ErrCodeDeadlockDetected}, orm.ErrDeadlock},
		{"pq serialization", &pq.Error{Code: ErrCodeSerializationFailure}, orm.ErrSerializationConflict},
		{"pq canceled", &pq.Error{Code: ErrCodeQueryCanceled}, orm.ErrTimeout},
		{"pq connection class", &pq.Error{Code: "08003"}, orm.ErrConnection},
		{"pgx unique", &pgconn.PgError{Code: ErrCodeUniqueViolation}, orm.ErrUniqueConstraint},
		{"pgx too many connections", &pgconn.PgError{Code: ErrCodeTooManyConnections}, orm.ErrConnection},
		{"wrapped pq error", fmt.Errorf("insert: %w", &pq.Error{Code: ErrCodeUniqueViolation}), orm.ErrUniqueConstraint},
		{"bad connection", driver.ErrBadConn, orm.ErrConnection},
		{"deadline", context.DeadlineExceeded, orm.ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			converted := ConvertError(tt.err)
			var dbErr *orm.DatabaseError
			if !errors.As(converted, &dbErr) {
				t.Fatalf("Expected *orm.DatabaseError, got %T: %v", converted, converted)
			}
			if !errors.Is(converted, tt.kind) {
				t.Errorf("Expected kind %v, got %v", tt.kind, dbErr.Kind)
			}
			if !errors.Is(converted, tt.err) && !errors.Is(dbErr.Err, tt.err) {
				t.Errorf("Expected original error to stay in the chain")
			}
		})
	}

	t.Run("unknown code passes through", func(t *testing.T) {
		err := &pq.Error{Code: "42601", Message: "syntax error"}
		if got := ConvertError(err); got != error(err) {
			t.Errorf("Expected error unchanged, got %v", got)
		}
	})

	t.Run("nil", func(t *testing.T) {
		if ConvertError(nil) != nil {
			t.Errorf("Expected nil")
		}
	})

	t.Run("detail is kept", func(t *testing.T) {
		err := ConvertError(&pq.Error{Code: ErrCodeUniqueViolation, Detail: "Key (email)=(a@b.c) already exists."})
		var dbErr *orm.DatabaseError
		if !errors.As(err, &dbErr) {
			t.Fatalf("Expected *orm.DatabaseError")
		}
		if dbErr.Code != ErrCodeUniqueViolation {
			t.Errorf("Expected code %s, got %s", ErrCodeUniqueViolation, dbErr.Code)
		}
		if !strings.Contains(dbErr.Detail, "already exists") {
			t.Errorf("Expected detail to be kept, got %q", dbErr.Detail)
		}
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"deadlock", &pq.Error{Code: ErrCodeDeadlockDetected}, true},
		{"serialization", &pgconn.PgError{Code: ErrCodeSerializationFailure}, true},
		{"connection failure", &pq.Error{Code: ErrCodeConnectionFailure}, true},
		{"too many connections", &pq.Error{Code: ErrCodeTooManyConnections}, true},
		{"cannot connect now", &pq.Error{Code: ErrCodeCannotConnectNow}, true},
		{"bad conn", driver.ErrBadConn, true},
		{"unique", &pq.Error{Code: ErrCodeUniqueViolation}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	if code := ErrorCode(nil); code != "" {
		t.Errorf("Expected empty string for nil error, got: %s", code)
	}
	if code := ErrorCode(&pgconn.PgError{Code: ErrCodeUndefinedTable}); code != ErrCodeUndefinedTable {
		t.Errorf("Expected %s, got %s", ErrCodeUndefinedTable, code)
	}
	if !IsUniqueViolation(&pq.Error{Code: ErrCodeUniqueViolation}) {
		t.Errorf("Expected unique violation")
	}
	if !IsUndefinedTable(&pq.Error{Code: ErrCodeUndefinedTable}) {
		t.Errorf("Expected undefined table")
	}
	if !IsInsufficientResources(&pq.Error{Code: ErrCodeDiskFull}) {
		t.Errorf("Expected insufficient resources")
	}
	if IsDeadlock(errors.New("deadlock")) {
		t.Errorf("Plain errors carry no code")
	}
	if formatted := FormatPostgreSQLError(nil); formatted != "no error" {
		t.Errorf("Expected 'no error' for nil, got: %s", formatted)
	}
	formatted := FormatPostgreSQLError(&pq.Error{Code: ErrCodeUniqueViolation, Message: "dup", Hint: "use upsert", Table: "users"})
	for _, part := range []string{"Message: dup", "Code: 23505", "Hint: use upsert", "Table: users"} {
		if !strings.Contains(formatted, part) {
			t.Errorf("Expected %q in %q", part, formatted)
		}
	}
}
