package orm

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestORMError(t *testing.T) {
	err := WrapErrorWithQuery(ErrSQLNoRows, "SELECT", "users", "SELECT * FROM users")

	if got := err.Error(); !strings.Contains(got, "select returns no rows") || !strings.HasSuffix(got, " [operation=SELECT, table=users]") {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, ErrSQLNoRows) || errors.Is(err, ErrSQLMoreThanOneRow) {
		t.Errorf("errors.Is does not follow the kind")
	}
	if !IsORMError(err) || IsORMError(ErrSQLNoRows) {
		t.Errorf("IsORMError is wrong")
	}

	// kinds are found through fmt wrapping and nested context
	nested := WrapError(fmt.Errorf("%w: name", ErrInvalidIdentifier), "DEFINE", "User")
	if !errors.Is(WrapError(nested, "SYNC", ""), ErrInvalidIdentifier) {
		t.Errorf("Expected ErrInvalidIdentifier through the chain")
	}

	if WrapError(nil, "X", "") != nil || WrapErrorWithQuery(nil, "X", "", "") != nil || WrapErrorWithFields(nil, "X", "", nil) != nil {
		t.Errorf("wrapping nil must return nil")
	}

	formatted := FormatError(WrapErrorWithFields(ErrTimeout, "EXEC_SCRIPT", "", map[string]interface{}{"statement": 3}))
	if !strings.Contains(formatted, "Operation: EXEC_SCRIPT") || !strings.Contains(formatted, "statement:3") {
		t.Errorf("FormatError = %q", formatted)
	}
	if FormatError(nil) != "no error" || FormatError(errors.New("plain")) != "plain" {
		t.Errorf("FormatError fallbacks are wrong")
	}
	if ctx, ok := GetErrorContext(NewError("custom", "PING", "")); !ok || ctx.Operation != "PING" {
		t.Errorf("NewError context = %+v", ctx)
	}
	if ctx, _ := GetErrorContext(WrapTransactionError(ErrTimeout, "BEGIN")); ctx.Operation != "TRANSACTION:BEGIN" {
		t.Errorf("WrapTransactionError operation = %s", ctx.Operation)
	}
}

func TestDatabaseError(t *testing.T) {
	driver := errors.New(`duplicate key value violates unique constraint "users_email_key"`)
	dbErr := NewDatabaseError(ErrUniqueConstraint, "23505", driver)
	dbErr.Detail = "Key (email)=(a@b.c) already exists."

	want := `: duplicate key value violates unique constraint "users_email_key" (code 23505) - Key (email)=(a@b.c) already exists.`
	if msg := dbErr.Error(); !strings.Contains(msg, "unique constraint violation") || !strings.HasSuffix(msg, want) {
		t.Errorf("Error() = %q", dbErr.Error())
	}

	wrapped := WrapErrorWithQuery(dbErr, "CREATE", "users", "INSERT INTO users")
	tests := []struct {
		target error
		want   bool
	}{
		{ErrUniqueConstraint, true},
		{driver, true},
		{ErrForeignKeyConstraint, false},
		{ErrTimeout, false},
	}
	for _, tt := range tests {
		if got := errors.Is(wrapped, tt.target); got != tt.want {
			t.Errorf("errors.Is(%v) = %v, want %v", tt.target, got, tt.want)
		}
	}

	var got *DatabaseError
	if !errors.As(wrapped, &got) || got.Code != "23505" {
		t.Errorf("errors.As = %+v", got)
	}
	if (&DatabaseError{Err: driver}).Is(ErrUniqueConstraint) {
		t.Errorf("an unclassified error must not match a kind")
	}
}

func TestValidationError(t *testing.T) {
	verr := &ValidationError{Model: "User"}
	verr.add("name", "cannot be null")
	verr.add("age", "not an integer")

	want := "validation failed for model User: name: cannot be null; age: not an integer"
	if verr.Error() != want {
		t.Errorf("Error() = %q", verr.Error())
	}
	var target *ValidationError
	if !errors.As(fmt.Errorf("create: %w", verr), &target) || len(target.Items) != 2 {
		t.Errorf("errors.As = %+v", target)
	}
}
