package orm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/medatechnology/goutil/medaerror"
)

// Error kinds. Dialects wrap driver errors into a *DatabaseError whose Kind is one of
// these, so callers can branch with errors.Is no matter which dialect is in use.
var (
	ErrSQLNoRows         medaerror.MedaError = medaerror.MedaError{Message: "select returns no rows"}
	ErrSQLMoreThanOneRow medaerror.MedaError = medaerror.MedaError{Message: "select returns more than 1 rows"}

	ErrDialectNotSupported medaerror.MedaError = medaerror.MedaError{Message: "dialect is not supported"}
	ErrInvalidOptions      medaerror.MedaError = medaerror.MedaError{Message: "invalid options"}
	ErrConnectionClosed    medaerror.MedaError = medaerror.MedaError{Message: "connection is closed"}
	ErrTransactionFinished medaerror.MedaError = medaerror.MedaError{Message: "transaction already finished"}
	ErrModelNotDefined     medaerror.MedaError = medaerror.MedaError{Message: "model is not defined"}
	ErrModelAlreadyDefined medaerror.MedaError = medaerror.MedaError{Message: "model is already defined"}
	ErrSyncMatchFailed     medaerror.MedaError = medaerror.MedaError{Message: "database name does not match sync match pattern"}
	ErrCyclicReference     medaerror.MedaError = medaerror.MedaError{Message: "cyclic reference between models"}
	ErrInvalidIdentifier   medaerror.MedaError = medaerror.MedaError{Message: "invalid SQL identifier"}
	ErrInvalidReplacement  medaerror.MedaError = medaerror.MedaError{Message: "invalid query replacements"}
	ErrMissingPrimaryKey   medaerror.MedaError = medaerror.MedaError{Message: "primary key value is missing"}

	ErrConnection            medaerror.MedaError = medaerror.MedaError{Message: "database connection error"}
	ErrTimeout               medaerror.MedaError = medaerror.MedaError{Message: "database operation timed out"}
	ErrUniqueConstraint      medaerror.MedaError = medaerror.MedaError{Message: "unique constraint violation"}
	ErrForeignKeyConstraint  medaerror.MedaError = medaerror.MedaError{Message: "foreign key constraint violation"}
	ErrNotNullConstraint     medaerror.MedaError = medaerror.MedaError{Message: "not null constraint violation"}
	ErrCheckConstraint       medaerror.MedaError = medaerror.MedaError{Message: "check constraint violation"}
	ErrTableNotFound         medaerror.MedaError = medaerror.MedaError{Message: "table does not exist"}
	ErrColumnNotFound        medaerror.MedaError = medaerror.MedaError{Message: "column does not exist"}
	ErrDeadlock              medaerror.MedaError = medaerror.MedaError{Message: "deadlock detected"}
	ErrSerializationConflict medaerror.MedaError = medaerror.MedaError{Message: "could not serialize access"}
)

// ErrorContext provides additional context for errors
type ErrorContext struct {
	Operation string                 // The operation that failed (e.g., "SELECT", "INSERT")
	Table     string                 // The table involved (if applicable)
	Query     string                 // The SQL query (if applicable)
	Fields    map[string]interface{} // Additional context fields
}

// ORMError wraps an error with additional context
type ORMError struct {
	Err     error
	Context ErrorContext
}

// Error implements the error interface
func (e *ORMError) Error() string {
	msg := e.Err.Error()

	var parts []string
	if e.Context.Operation != "" {
		parts = append(parts, fmt.Sprintf("operation=%s", e.Context.Operation))
	}
	if e.Context.Table != "" {
		parts = append(parts, fmt.Sprintf("table=%s", e.Context.Table))
	}

	if len(parts) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(parts, ", "))
	}

	return msg
}

// Unwrap returns the underlying error
func (e *ORMError) Unwrap() error {
	return e.Err
}

// Is matches error kinds by message.
func (e *ORMError) Is(target error) bool {
	return sameKind(e.Err, target)
}

// sameKind walks the chain of err looking for a MedaError with the message of target.
func sameKind(err, target error) bool {
	t, ok := target.(medaerror.MedaError)
	if !ok {
		return false
	}
	for err != nil {
		if kind, ok := err.(medaerror.MedaError); ok && kind.Message == t.Message {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// WrapError wraps an error with context information
func WrapError(err error, operation, table string) error {
	if err == nil {
		return nil
	}

	return &ORMError{
		Err: err,
		Context: ErrorContext{
			Operation: operation,
			Table:     table,
		},
	}
}

// WrapErrorWithQuery wraps an error with context including the SQL query
func WrapErrorWithQuery(err error, operation, table, query string) error {
	if err == nil {
		return nil
	}

	return &ORMError{
		Err: err,
		Context: ErrorContext{
			Operation: operation,
			Table:     table,
			Query:     query,
		},
	}
}

// WrapErrorWithFields wraps an error with additional field context
func WrapErrorWithFields(err error, operation, table string, fields map[string]interface{}) error {
	if err == nil {
		return nil
	}

	return &ORMError{
		Err: err,
		Context: ErrorContext{
			Operation: operation,
			Table:     table,
			Fields:    fields,
		},
	}
}

// IsORMError checks if an error is (or wraps) an ORMError
func IsORMError(err error) bool {
	var ormErr *ORMError
	return errors.As(err, &ormErr)
}

// GetErrorContext extracts the error context if the error is an ORMError
func GetErrorContext(err error) (ErrorContext, bool) {
	var ormErr *ORMError
	if errors.As(err, &ormErr) {
		return ormErr.Context, true
	}
	return ErrorContext{}, false
}

// NewError creates a new medaerror with a message and wraps it with ORM context
func NewError(message, operation, table string) error {
	return WrapError(
		medaerror.MedaError{Message: message},
		operation,
		table,
	)
}

// WrapTransactionError wraps a transaction-related error
func WrapTransactionError(err error, operation string) error {
	return WrapError(err, "TRANSACTION:"+operation, "")
}

// DatabaseError is a classified driver error. Kind is one of the Err* kinds above and
// takes part in errors.Is, Err is the original driver error.
//
//	if errors.Is(err, orm.ErrUniqueConstraint) { ... }
type DatabaseError struct {
	Kind   error
	Code   string // driver specific code (SQLSTATE for postgres, SQLite result code for rqlite)
	Detail string
	SQL    string
	Err    error
}

func (e *DatabaseError) Error() string {
	msg := fmt.Sprintf("%v: %v", e.Kind, e.Err)
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	if e.Detail != "" {
		msg += " - " + e.Detail
	}
	return msg
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// Is reports whether target is the classified kind.
func (e *DatabaseError) Is(target error) bool {
	if e.Kind == nil {
		return false
	}
	return errors.Is(e.Kind, target) || sameKind(e.Kind, target)
}

// NewDatabaseError builds a classified error. It is what dialects return from ConvertError.
func NewDatabaseError(kind error, code string, err error) *DatabaseError {
	return &DatabaseError{Kind: kind, Code: code, Err: err}
}

// ValidationErrorItem is a single failed check on a model attribute.
type ValidationErrorItem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned before any SQL is sent when values do not fit the model.
type ValidationError struct {
	Model string
	Items []ValidationErrorItem
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		msgs = append(msgs, it.Field+": "+it.Message)
	}
	return fmt.Sprintf("validation failed for model %s: %s", e.Model, strings.Join(msgs, "; "))
}

func (e *ValidationError) add(field, message string) {
	e.Items = append(e.Items, ValidationErrorItem{Field: field, Message: message})
}

// FormatError formats an error for logging with all available context
func FormatError(err error) string {
	if err == nil {
		return "no error"
	}

	var ormErr *ORMError
	if errors.As(err, &ormErr) {
		var parts []string
		parts = append(parts, fmt.Sprintf("Error: %s", ormErr.Err.Error()))

		if ormErr.Context.Operation != "" {
			parts = append(parts, fmt.Sprintf("Operation: %s", ormErr.Context.Operation))
		}
		if ormErr.Context.Table != "" {
			parts = append(parts, fmt.Sprintf("Table: %s", ormErr.Context.Table))
		}
		if ormErr.Context.Query != "" {
			parts = append(parts, fmt.Sprintf("Query: %s", ormErr.Context.Query))
		}
		if len(ormErr.Context.Fields) > 0 {
			parts = append(parts, fmt.Sprintf("Fields: %v", ormErr.Context.Fields))
		}

		return strings.Join(parts, " | ")
	}

	return err.Error()
}

// LogErrorWithContext logs an error with the default logger
func LogErrorWithContext(err error, fields ...Field) {
	if err == nil {
		return
	}

	logFields := make([]Field, 0, len(fields)+4)
	logFields = append(logFields, fields...)

	// Add context from ORMError if available
	if ctx, ok := GetErrorContext(err); ok {
		if ctx.Operation != "" {
			logFields = append(logFields, String("operation", ctx.Operation))
		}
		if ctx.Table != "" {
			logFields = append(logFields, String("table", ctx.Table))
		}
		if ctx.Query != "" {
			logFields = append(logFields, String("query", ctx.Query))
		}
	}

	logFields = append(logFields, Error(err))

	LogError(err.Error(), logFields...)
}
