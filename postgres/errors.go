package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/medatechnology/goutil/medaerror"

	orm "github.com/medatechnology/sequel"
)

// SQLSTATE codes the dialect classifies.
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	// Class 23 - Integrity Constraint Violation
	ErrCodeUniqueViolation     = "23505"
	ErrCodeForeignKeyViolation = "23503"
	ErrCodeNotNullViolation    = "23502"
	ErrCodeCheckViolation      = "23514"
	ErrCodeExclusionViolation  = "23P01"

	// Class 42 - Syntax Error or Access Rule Violation
	ErrCodeUndefinedTable    = "42P01"
	ErrCodeUndefinedColumn   = "42703"
	ErrCodeDuplicateTable    = "42P07"
	ErrCodeDuplicateColumn   = "42701"
	ErrCodeInvalidSchemaName = "3F000"

	// Class 08 - Connection Exception
	ErrCodeConnectionException    = "08000"
	ErrCodeConnectionFailure      = "08006"
	ErrCodeSQLClientCannotConnect = "08001"

	// Class 57 - Operator Intervention
	ErrCodeQueryCanceled    = "57014"
	ErrCodeAdminShutdown    = "57P01"
	ErrCodeCrashShutdown    = "57P02"
	ErrCodeCannotConnectNow = "57P03"

	// Class 53 - Insufficient Resources
	ErrCodeInsufficientResources = "53000"
	ErrCodeDiskFull              = "53100"
	ErrCodeOutOfMemory           = "53200"
	ErrCodeTooManyConnections    = "53300"

	// Class 40 - Transaction Rollback
	ErrCodeDeadlockDetected     = "40P01"
	ErrCodeSerializationFailure = "40001"
)

var (
	ErrPostgresInvalidDSN    medaerror.MedaError = medaerror.MedaError{Message: "invalid PostgreSQL DSN connection string"}
	ErrPostgresInvalidConfig medaerror.MedaError = medaerror.MedaError{Message: "invalid PostgreSQL configuration"}
)

// PostgreSQLError is the server error detail extracted from either driver.
type PostgreSQLError struct {
	Code    string
	Message string
	Detail  string
	Hint    string
	Table   string
	Column  string
}

// serverError extracts the server error from a lib/pq or pgx error.
func serverError(err error) (*PostgreSQLError, bool) {
	if err == nil {
		return nil, false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &PostgreSQLError{
			Code:    string(pqErr.Code),
			Message: pqErr.Message,
			Detail:  pqErr.Detail,
			Hint:    pqErr.Hint,
			Table:   pqErr.Table,
			Column:  pqErr.Column,
		}, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &PostgreSQLError{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
			Hint:    pgErr.Hint,
			Table:   pgErr.TableName,
			Column:  pgErr.ColumnName,
		}, true
	}
	return nil, false
}

// ErrorCode returns the SQLSTATE of err, or "" when err is not a server error.
func ErrorCode(err error) string {
	if pgErr, ok := serverError(err); ok {
		return pgErr.Code
	}
	return ""
}

// kindForCode maps a SQLSTATE to an ORM error kind.
func kindForCode(code string) error {
	switch code {
	case ErrCodeUniqueViolation, ErrCodeExclusionViolation:
		return orm.ErrUniqueConstraint
	case ErrCodeForeignKeyViolation:
		return orm.ErrForeignKeyConstraint
	case ErrCodeNotNullViolation:
		return orm.ErrNotNullConstraint
	case ErrCodeCheckViolation:
		return orm.ErrCheckConstraint
	case ErrCodeUndefinedTable, ErrCodeInvalidSchemaName:
		return orm.ErrTableNotFound
	case ErrCodeUndefinedColumn:
		return orm.ErrColumnNotFound
	case ErrCodeDeadlockDetected:
		return orm.ErrDeadlock
	case ErrCodeSerializationFailure:
		return orm.ErrSerializationConflict
	case ErrCodeQueryCanceled:
		return orm.ErrTimeout
	case ErrCodeAdminShutdown, ErrCodeCrashShutdown, ErrCodeCannotConnectNow, ErrCodeTooManyConnections:
		return orm.ErrConnection
	}
	if strings.HasPrefix(code, "08") {
		return orm.ErrConnection
	}
	return nil
}

// ConvertError classifies err into an *orm.DatabaseError. Errors that carry no known
// class are returned unchanged.
func ConvertError(err error) error {
	if err == nil {
		return nil
	}
	var dbErr *orm.DatabaseError
	if errors.As(err, &dbErr) {
		return err
	}
	if pgErr, ok := serverError(err); ok {
		kind := kindForCode(pgErr.Code)
		if kind == nil {
			return err
		}
		detail := pgErr.Detail
		if detail == "" {
			detail = pgErr.Hint
		}
		return &orm.DatabaseError{Kind: kind, Code: pgErr.Code, Detail: detail, Err: err}
	}
	if isConnectionFailure(err) {
		return orm.NewDatabaseError(orm.ErrConnection, "", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return orm.NewDatabaseError(orm.ErrTimeout, "", err)
	}
	return err
}

// isConnectionFailure matches client side connection errors.
func isConnectionFailure(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}

// IsRetryable reports whether err is transient: deadlocks, serialization failures,
// connection loss and server side connection limits.
func IsRetryable(err error) bool {
	code := ErrorCode(err)
	switch {
	case code == ErrCodeDeadlockDetected, code == ErrCodeSerializationFailure:
		return true
	case code == ErrCodeTooManyConnections, code == ErrCodeCannotConnectNow, code == ErrCodeAdminShutdown:
		return true
	case strings.HasPrefix(code, "08"):
		return true
	case code != "":
		return false
	}
	return isConnectionFailure(err)
}

// IsUniqueViolation checks if the error is a unique constraint violation
func IsUniqueViolation(err error) bool { return ErrorCode(err) == ErrCodeUniqueViolation }

// IsForeignKeyViolation checks if the error is a foreign key constraint violation
func IsForeignKeyViolation(err error) bool { return ErrorCode(err) == ErrCodeForeignKeyViolation }

// IsUndefinedTable checks if the error is due to a non-existent table
func IsUndefinedTable(err error) bool { return ErrorCode(err) == ErrCodeUndefinedTable }

// IsDuplicateTable checks if the error is due to attempting to create an existing table
func IsDuplicateTable(err error) bool { return ErrorCode(err) == ErrCodeDuplicateTable }

// IsDeadlock checks if the error is due to a deadlock
func IsDeadlock(err error) bool { return ErrorCode(err) == ErrCodeDeadlockDetected }

// IsSerializationFailure checks if the error is a serialization failure
func IsSerializationFailure(err error) bool {
	return ErrorCode(err) == ErrCodeSerializationFailure
}

// IsInsufficientResources checks if the error is due to insufficient resources
func IsInsufficientResources(err error) bool {
	return strings.HasPrefix(ErrorCode(err), "53")
}

// FormatPostgreSQLError formats a PostgreSQL error for logging or display
func FormatPostgreSQLError(err error) string {
	if err == nil {
		return "no error"
	}
	pgErr, ok := serverError(err)
	if !ok {
		return err.Error()
	}

	var parts []string
	if pgErr.Message != "" {
		parts = append(parts, fmt.Sprintf("Message: %s", pgErr.Message))
	}
	if pgErr.Code != "" {
		parts = append(parts, fmt.Sprintf("Code: %s", pgErr.Code))
	}
	if pgErr.Detail != "" {
		parts = append(parts, fmt.Sprintf("Detail: %s", pgErr.Detail))
	}
	if pgErr.Hint != "" {
		parts = append(parts, fmt.Sprintf("Hint: %s", pgErr.Hint))
	}
	if pgErr.Table != "" {
		parts = append(parts, fmt.Sprintf("Table: %s", pgErr.Table))
	}
	return strings.Join(parts, " | ")
}
