package rqlite

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/medatechnology/goutil/medaerror"

	orm "github.com/medatechnology/sequel"
)

// SQLite result codes, rqlite reports SQLite errors as plain messages.
// See: https://www.sqlite.org/rescode.html
const (
	ErrCodeSQLiteBusy       = 5
	ErrCodeSQLiteReadonly   = 8
	ErrCodeSQLiteConstraint = 19

	ErrCodeSQLiteConstraintUnique     = 2067
	ErrCodeSQLiteConstraintPrimaryKey = 1555
	ErrCodeSQLiteConstraintNotNull    = 1299
	ErrCodeSQLiteConstraintForeignKey = 787
	ErrCodeSQLiteConstraintCheck      = 275
)

// Messages SQLite and rqlite put in error results.
const (
	ErrMsgUniqueConstraint     = "UNIQUE constraint failed"
	ErrMsgPrimaryKeyConstraint = "PRIMARY KEY constraint failed"
	ErrMsgNotNullConstraint    = "NOT NULL constraint failed"
	ErrMsgForeignKeyConstraint = "FOREIGN KEY constraint failed"
	ErrMsgCheckConstraint      = "CHECK constraint failed"
	ErrMsgDatabaseLocked       = "database is locked"
	ErrMsgReadonlyDatabase     = "attempt to write a readonly database"
	ErrMsgNoSuchTable          = "no such table"
	ErrMsgNoSuchColumn         = "no such column"
	ErrMsgSyntaxError          = "syntax error"
	ErrMsgNotLeader            = "not leader"
	ErrMsgLeadershipLost       = "leadership lost"
)

var (
	ErrRQLiteNotConnected     medaerror.MedaError = medaerror.MedaError{Message: "RQLite database is not connected"}
	ErrRQLiteConnectionFailed medaerror.MedaError = medaerror.MedaError{Message: "failed to connect to RQLite server"}
	ErrRQLiteInvalidConfig    medaerror.MedaError = medaerror.MedaError{Message: "invalid RQLite configuration"}
	ErrRQLiteUnauthorized     medaerror.MedaError = medaerror.MedaError{Message: "RQLite authentication failed"}
	ErrRQLiteNodeUnavailable  medaerror.MedaError = medaerror.MedaError{Message: "RQLite node is unavailable"}
	ErrRQLiteInvalidJSON      medaerror.MedaError = medaerror.MedaError{Message: "invalid JSON response from RQLite"}
	ErrRQLiteReadOnlyTx       medaerror.MedaError = medaerror.MedaError{Message: "write statement in a read only transaction"}
	ErrRQLiteWriteInTxQuery   medaerror.MedaError = medaerror.MedaError{Message: "write statement sent as a query inside a transaction, use Exec"}
)

// RQLiteError carries the HTTP context of a failed request to the node API.
type RQLiteError struct {
	Operation  string // e.g. "status", "query", "write"
	Query      string
	StatusCode int
	Message    string
	Err        error
}

func (e *RQLiteError) Error() string {
	var parts []string
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("operation=%s", e.Operation))
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if len(parts) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s [%s]", e.Message, strings.Join(parts, ", "))
}

func (e *RQLiteError) Unwrap() error {
	return e.Err
}

// WrapRQLiteError adds the operation and statement to err.
func WrapRQLiteError(err error, operation, query string) error {
	if err == nil {
		return nil
	}
	return &RQLiteError{Operation: operation, Query: query, Message: err.Error(), Err: err}
}

// WrapRQLiteHTTPError adds the operation and HTTP status to err.
func WrapRQLiteHTTPError(err error, operation string, statusCode int) error {
	if err == nil {
		return nil
	}
	return &RQLiteError{Operation: operation, StatusCode: statusCode, Message: err.Error(), Err: err}
}

func IsUniqueViolation(err error) bool {
	return containsErrorMessage(err, ErrMsgUniqueConstraint)
}

func IsPrimaryKeyViolation(err error) bool {
	return containsErrorMessage(err, ErrMsgPrimaryKeyConstraint)
}

func IsNotNullViolation(err error) bool {
	return containsErrorMessage(err, ErrMsgNotNullConstraint)
}

func IsForeignKeyViolation(err error) bool {
	return containsErrorMessage(err, ErrMsgForeignKeyConstraint)
}

func IsCheckViolation(err error) bool {
	return containsErrorMessage(err, ErrMsgCheckConstraint)
}

// IsConstraintViolation checks if the error is any type of constraint violation
func IsConstraintViolation(err error) bool {
	return IsUniqueViolation(err) ||
		IsPrimaryKeyViolation(err) ||
		IsNotNullViolation(err) ||
		IsForeignKeyViolation(err) ||
		IsCheckViolation(err)
}

func IsDatabaseLocked(err error) bool {
	return containsErrorMessage(err, ErrMsgDatabaseLocked)
}

func IsReadonlyError(err error) bool {
	return containsErrorMessage(err, ErrMsgReadonlyDatabase)
}

func IsTableNotFound(err error) bool {
	return containsErrorMessage(err, ErrMsgNoSuchTable)
}

func IsColumnNotFound(err error) bool {
	return containsErrorMessage(err, ErrMsgNoSuchColumn)
}

func IsSyntaxError(err error) bool {
	return containsErrorMessage(err, ErrMsgSyntaxError)
}

// IsAuthenticationError checks if the node rejected the credentials
func IsAuthenticationError(err error) bool {
	var rqErr *RQLiteError
	if errors.As(err, &rqErr) {
		return rqErr.StatusCode == http.StatusUnauthorized || rqErr.StatusCode == http.StatusForbidden
	}
	return errors.Is(err, ErrRQLiteUnauthorized)
}

// IsConnectionError checks if the error is related to connection failure
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRQLiteConnectionFailed) {
		return true
	}
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "network is unreachable") ||
		strings.Contains(errMsg, "i/o timeout") ||
		strings.Contains(errMsg, "tried all peers unsuccessfully")
}

// IsNodeUnavailable checks if the node answered 503 or is between leaders
func IsNodeUnavailable(err error) bool {
	var rqErr *RQLiteError
	if errors.As(err, &rqErr) && rqErr.StatusCode == http.StatusServiceUnavailable {
		return true
	}
	return errors.Is(err, ErrRQLiteNodeUnavailable) ||
		containsErrorMessage(err, ErrMsgNotLeader) ||
		containsErrorMessage(err, ErrMsgLeadershipLost)
}

// IsRetryable checks if the error is transient and the operation can be retried
func IsRetryable(err error) bool {
	return IsDatabaseLocked(err) ||
		IsConnectionError(err) ||
		IsNodeUnavailable(err)
}

func containsErrorMessage(err error, msg string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), strings.ToLower(msg))
}

// kindOf maps an rqlite error onto an ORM error kind, nil when it has none.
func kindOf(err error) error {
	switch {
	case IsUniqueViolation(err), IsPrimaryKeyViolation(err):
		return orm.ErrUniqueConstraint
	case IsForeignKeyViolation(err):
		return orm.ErrForeignKeyConstraint
	case IsNotNullViolation(err):
		return orm.ErrNotNullConstraint
	case IsCheckViolation(err):
		return orm.ErrCheckConstraint
	case IsTableNotFound(err):
		return orm.ErrTableNotFound
	case IsColumnNotFound(err):
		return orm.ErrColumnNotFound
	case IsConnectionError(err), IsNodeUnavailable(err), IsAuthenticationError(err):
		return orm.ErrConnection
	case IsDatabaseLocked(err), errors.Is(err, context.DeadlineExceeded):
		return orm.ErrTimeout
	}
	return nil
}

// ConvertError classifies err into an *orm.DatabaseError. Errors without a known
// class are returned unchanged.
func ConvertError(err error) error {
	if err == nil {
		return nil
	}
	var dbErr *orm.DatabaseError
	if errors.As(err, &dbErr) {
		return err
	}
	kind := kindOf(err)
	if kind == nil {
		return err
	}
	return orm.NewDatabaseError(kind, sqliteCode(err), err)
}

// sqliteCode returns the extended SQLite result code matching the message, as text.
func sqliteCode(err error) string {
	code := 0
	switch {
	case IsUniqueViolation(err):
		code = ErrCodeSQLiteConstraintUnique
	case IsPrimaryKeyViolation(err):
		code = ErrCodeSQLiteConstraintPrimaryKey
	case IsNotNullViolation(err):
		code = ErrCodeSQLiteConstraintNotNull
	case IsForeignKeyViolation(err):
		code = ErrCodeSQLiteConstraintForeignKey
	case IsCheckViolation(err):
		code = ErrCodeSQLiteConstraintCheck
	case IsDatabaseLocked(err):
		code = ErrCodeSQLiteBusy
	case IsReadonlyError(err):
		code = ErrCodeSQLiteReadonly
	}
	if code == 0 {
		return ""
	}
	return fmt.Sprint(code)
}

// FormatRQLiteError formats an RQLite error for logging or display
func FormatRQLiteError(err error) string {
	if err == nil {
		return "no error"
	}
	var rqErr *RQLiteError
	if !errors.As(err, &rqErr) {
		return err.Error()
	}
	parts := []string{fmt.Sprintf("Message: %s", rqErr.Message)}
	if rqErr.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation: %s", rqErr.Operation))
	}
	if rqErr.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP Status: %d", rqErr.StatusCode))
	}
	if rqErr.Query != "" {
		parts = append(parts, fmt.Sprintf("Query: %s", rqErr.Query))
	}
	return strings.Join(parts, " | ")
}
