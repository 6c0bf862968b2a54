package orm

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

const (
	DEFAULT_PAGINATION_LIMIT     = 50
	DEFAULT_MAX_MULTIPLE_INSERTS = 100 // Maximum number of rows to insert in a single SQL statement
)

// MAX_MULTIPLE_INSERTS can be changed at runtime, bulk inserts are split into statements
// of at most this many rows.
var MAX_MULTIPLE_INSERTS int = DEFAULT_MAX_MULTIPLE_INSERTS

// Make sure other table struct that you use implement this method
type TableStruct interface {
	TableName() string
}

// BasicSQLResult is what Exec returns, empty fields are not applicable to the statement.
// Timing is in seconds.
type BasicSQLResult struct {
	Error        error
	Timing       float64
	RowsAffected int
	LastInsertID int
	Deferred     bool // the write is queued in a transaction and has not run yet
}

type ParametereizedSQL struct {
	Query  string        `json:"query"`
	Values []interface{} `json:"values,omitempty"`
}

// Condition operators
const (
	OpEq         = "="
	OpNe         = "!="
	OpNe2        = "<>"
	OpGt         = ">"
	OpGte        = ">="
	OpLt         = "<"
	OpLte        = "<="
	OpLike       = "LIKE"
	OpNotLike    = "NOT LIKE"
	OpILike      = "ILIKE"
	OpIn         = "IN"
	OpNotIn      = "NOT IN"
	OpIsNull     = "IS NULL"
	OpIsNotNull  = "IS NOT NULL"
	OpBetween    = "BETWEEN"
	OpNotBetween = "NOT BETWEEN"
)

var (
	identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
	orderRegex      = regexp.MustCompile(`(?i)^\s*(-)?([A-Za-z_][A-Za-z0-9_.]*)(\s+(ASC|DESC))?(\s+NULLS\s+(FIRST|LAST))?\s*$`)
)

// ValidateIdentifier checks that name is a plain column or table name, optionally
// qualified with one dot (schema.table or table.column).
func ValidateIdentifier(name string) error {
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// QuoteIdentifier double quotes every dotted part of name. Double quotes are the
// identifier quote of both PostgreSQL and SQLite.
func QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// Condition struct for query filtering with JSON and DB tags
// Sample usage:
//
//	// Simple condition
//	condition := Condition{Field: "age", Operator: ">", Value: 18}
//	// Output: WHERE "age" > ?
//
//	// Nested condition with OR logic
//	condition := Condition{
//	  Logic: "OR",
//	  Nested: []Condition{
//	    {Field: "status", Operator: "IN", Value: []string{"pending", "review"}},
//	    {Field: "deletedAt", Operator: "IS NULL"},
//	  },
//	}
//	// Output: WHERE ("status" IN (?, ?)) OR ("deletedAt" IS NULL)
//
// Field names are validated and quoted; values always travel as bind parameters.
type Condition struct {
	Field    string      `json:"field,omitempty"        db:"field"`
	Operator string      `json:"operator,omitempty"     db:"operator"`
	Value    interface{} `json:"value,omitempty"        db:"value"`
	Logic    string      `json:"logic,omitempty"        db:"logic"`    // "AND" or "OR"
	Nested   []Condition `json:"nested,omitempty"       db:"nested"`   // For nested conditions
	OrderBy  []string    `json:"order_by,omitempty"     db:"order_by"` // "name", "name DESC" or "-name"
	GroupBy  []string    `json:"group_by,omitempty"     db:"group_by"` // Fields to group by
	Limit    int         `json:"limit,omitempty"        db:"limit"`    // Limit for pagination
	Offset   int         `json:"offset,omitempty"       db:"offset"`   // Offset for pagination
}

// Where builds a simple condition.
func Where(field, operator string, value interface{}) Condition {
	return Condition{Field: field, Operator: operator, Value: value}
}

// And creates a new Condition with AND logic for the given conditions.
func (c *Condition) And(conditions ...Condition) *Condition {
	return &Condition{
		Logic:  "AND",
		Nested: conditions,
	}
}

// Or creates a new Condition with OR logic for the given conditions.
func (c *Condition) Or(conditions ...Condition) *Condition {
	return &Condition{
		Logic:  "OR",
		Nested: conditions,
	}
}

// IsEmpty reports whether the condition filters nothing.
func (c *Condition) IsEmpty() bool {
	if c == nil {
		return true
	}
	if c.Field != "" {
		return false
	}
	for i := range c.Nested {
		if !c.Nested[i].IsEmpty() {
			return false
		}
	}
	return true
}

// ToWhereString converts a Condition into a WHERE clause (without the keyword) using
// `?` placeholders, and the values for them. Use QueryGenerator.WhereClause for the
// dialect's own placeholder syntax.
//
//	whereClause, values, err := condition.ToWhereString()
func (c *Condition) ToWhereString() (string, []interface{}, error) {
	w := conditionWriter{ilike: true}
	clause, err := w.write(c)
	return clause, w.args, err
}

// ToSelectString generates a complete SELECT with WHERE, GROUP BY, ORDER BY and
// LIMIT/OFFSET, using `?` placeholders.
//
//	query, values, err := condition.ToSelectString("users")
func (c *Condition) ToSelectString(tableName string) (string, []interface{}, error) {
	if err := ValidateIdentifier(tableName); err != nil {
		return "", nil, err
	}
	w := conditionWriter{ilike: true}
	query, err := w.selectQuery(QuoteIdentifier(tableName), "*", c)
	return query, w.args, err
}

// conditionWriter renders conditions with `?` placeholders, collecting args in order.
type conditionWriter struct {
	ilike bool // false renders ILIKE as LOWER(x) LIKE LOWER(?)
	args  []interface{}
}

func (w *conditionWriter) write(c *Condition) (string, error) {
	if c == nil {
		return "", nil
	}
	if c.Field != "" {
		return w.writeSimple(c)
	}

	logic := strings.ToUpper(strings.TrimSpace(c.Logic))
	if logic == "" {
		logic = "AND"
	}
	if logic != "AND" && logic != "OR" {
		return "", fmt.Errorf("%w: unknown logic %q", ErrInvalidOptions, c.Logic)
	}

	clauses := make([]string, 0, len(c.Nested))
	for i := range c.Nested {
		if c.Nested[i].IsEmpty() {
			continue
		}
		sub, err := w.write(&c.Nested[i])
		if err != nil {
			return "", err
		}
		clauses = append(clauses, "("+sub+")")
	}
	return strings.Join(clauses, " "+logic+" "), nil
}

func (w *conditionWriter) writeSimple(c *Condition) (string, error) {
	if err := ValidateIdentifier(c.Field); err != nil {
		return "", err
	}
	field := QuoteIdentifier(c.Field)
	op := strings.ToUpper(strings.Join(strings.Fields(c.Operator), " "))
	if op == "" {
		op = OpEq
	}

	switch op {
	case OpEq, OpNe, OpNe2:
		if isNil(c.Value) {
			if op == OpEq {
				return field + " IS NULL", nil
			}
			return field + " IS NOT NULL", nil
		}
		return w.binary(field, op, c.Value), nil
	case OpGt, OpGte, OpLt, OpLte, OpLike, OpNotLike:
		return w.binary(field, op, c.Value), nil
	case OpILike:
		if w.ilike {
			return w.binary(field, op, c.Value), nil
		}
		w.args = append(w.args, c.Value)
		return fmt.Sprintf("LOWER(%s) LIKE LOWER(?)", field), nil
	case OpIsNull, OpIsNotNull:
		return field + " " + op, nil
	case OpIn, OpNotIn:
		values, ok := sliceValues(c.Value)
		if !ok {
			return "", fmt.Errorf("%w: %s needs a slice value for field %s", ErrInvalidOptions, op, c.Field)
		}
		if len(values) == 0 {
			// nothing is IN an empty set, everything is NOT IN it
			if op == OpIn {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		w.args = append(w.args, values...)
		return fmt.Sprintf("%s %s (%s)", field, op, placeholders(len(values))), nil
	case OpBetween, OpNotBetween:
		values, ok := sliceValues(c.Value)
		if !ok || len(values) != 2 {
			return "", fmt.Errorf("%w: %s needs exactly two values for field %s", ErrInvalidOptions, op, c.Field)
		}
		w.args = append(w.args, values...)
		return fmt.Sprintf("%s %s ? AND ?", field, op), nil
	}
	return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidOptions, c.Operator)
}

func (w *conditionWriter) binary(field, op string, value interface{}) string {
	w.args = append(w.args, value)
	return fmt.Sprintf("%s %s ?", field, op)
}

// selectQuery renders SELECT columns FROM table with the filter and pagination of c.
func (w *conditionWriter) selectQuery(table, columns string, c *Condition) (string, error) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(columns)
	sb.WriteString(" FROM ")
	sb.WriteString(table)
	if c == nil {
		return sb.String(), nil
	}

	where, err := w.write(c)
	if err != nil {
		return "", err
	}
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	tail, err := c.tailClauses()
	if err != nil {
		return "", err
	}
	sb.WriteString(tail)
	return sb.String(), nil
}

// tailClauses renders GROUP BY, ORDER BY and LIMIT/OFFSET, each with a leading space.
func (c *Condition) tailClauses() (string, error) {
	var sb strings.Builder
	if len(c.GroupBy) > 0 {
		cols := make([]string, 0, len(c.GroupBy))
		for _, g := range c.GroupBy {
			if err := ValidateIdentifier(g); err != nil {
				return "", err
			}
			cols = append(cols, QuoteIdentifier(g))
		}
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(cols, ", "))
	}

	if len(c.OrderBy) > 0 {
		cols := make([]string, 0, len(c.OrderBy))
		for _, o := range c.OrderBy {
			m := orderRegex.FindStringSubmatch(o)
			if m == nil || ValidateIdentifier(m[2]) != nil {
				return "", fmt.Errorf("%w: order by %q", ErrInvalidIdentifier, o)
			}
			col := QuoteIdentifier(m[2])
			switch {
			case m[4] != "":
				col += " " + strings.ToUpper(m[4])
			case m[1] == "-":
				col += " DESC"
			}
			if m[6] != "" {
				col += " NULLS " + strings.ToUpper(m[6])
			}
			cols = append(cols, col)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(cols, ", "))
	}

	limit := c.Limit
	// if offset has value but limit is not, then use default limit
	if c.Offset > 0 && limit < 1 {
		limit = DEFAULT_PAGINATION_LIMIT
	}
	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
		if c.Offset > 0 {
			fmt.Fprintf(&sb, " OFFSET %d", c.Offset)
		}
	}
	return sb.String(), nil
}

// sliceValues flattens a slice or array value. []byte is a scalar.
func sliceValues(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return nil, false
	}
	if _, isBytes := v.([]byte); isBytes {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
