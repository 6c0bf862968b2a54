package orm

import (
	"fmt"
	"sort"
	"strings"
)

// ColumnDescription is one column as reported by DescribeTable.
type ColumnDescription struct {
	Type         string      `json:"type"`
	AllowNull    bool        `json:"allowNull"`
	DefaultValue interface{} `json:"defaultValue"`
	PrimaryKey   bool        `json:"primaryKey"`
}

// QueryGenerator renders SQL for one dialect. Dialect packages fill the fields, the
// methods are shared. Generated statements use `?` internally and are rebound to the
// dialect placeholder before they are returned.
type QueryGenerator struct {
	Dialect string

	// Placeholder renders the n-th (1 based) bind parameter. Nil means `?`.
	Placeholder func(n int) string
	// TypeMapper renders a DataType as a column type.
	TypeMapper func(t DataType) string
	// AutoIncrementColumn renders the type and constraints of an auto increment primary key.
	AutoIncrementColumn func(a *Attribute) string

	SupportsReturning bool
	SupportsILike     bool
	SupportsCascade   bool
	SupportsTruncate  bool // false deletes all rows instead

	ShowTablesSQL    string
	DescribeTableSQL func(schema, table string) (string, []interface{})
	DescribeColumns  func(rows DBRecords) map[string]ColumnDescription
	VersionSQL       string
}

func (g *QueryGenerator) placeholder(n int) string {
	if g.Placeholder == nil {
		return "?"
	}
	return g.Placeholder(n)
}

// QuoteTable quotes a table name, prefixed with schema when one is given.
func (g *QueryGenerator) QuoteTable(schema, table string) string {
	if schema == "" || strings.Contains(table, ".") {
		return QuoteIdentifier(table)
	}
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(table)
}

// ColumnDefinition renders the column type and constraints of an attribute.
func (g *QueryGenerator) ColumnDefinition(a *Attribute) string {
	if a.AutoIncrement && a.PrimaryKey && g.AutoIncrementColumn != nil {
		return g.AutoIncrementColumn(a)
	}

	var sb strings.Builder
	sb.WriteString(g.TypeMapper(a.Type))
	if a.PrimaryKey {
		sb.WriteString(" PRIMARY KEY")
	} else if !a.allowsNull() {
		sb.WriteString(" NOT NULL")
	}
	if a.Unique && !a.PrimaryKey {
		sb.WriteString(" UNIQUE")
	}
	if def, ok := literalDefault(a.DefaultValue); ok {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(def)
	}
	if a.Type.Key == KeyEnum && len(a.Type.Values) > 0 {
		members := make([]string, len(a.Type.Values))
		for i, v := range a.Type.Values {
			members[i] = InterfaceToSQLString(v)
		}
		fmt.Fprintf(&sb, " CHECK (%s IN (%s))", QuoteIdentifier(a.Field), strings.Join(members, ", "))
	}
	if ref := a.References; ref != nil && ref.Table != "" {
		key := ref.Key
		if key == "" {
			key = "id"
		}
		fmt.Fprintf(&sb, " REFERENCES %s (%s)", QuoteIdentifier(ref.Table), QuoteIdentifier(key))
		if ref.OnDelete != "" {
			sb.WriteString(" ON DELETE " + strings.ToUpper(ref.OnDelete))
		}
		if ref.OnUpdate != "" {
			sb.WriteString(" ON UPDATE " + strings.ToUpper(ref.OnUpdate))
		}
	}
	return sb.String()
}

// literalDefault renders a static default value. Client side defaults (DefaultNow,
// DefaultUUIDV4, functions) are not part of the DDL.
func literalDefault(v interface{}) (string, bool) {
	switch v.(type) {
	case nil, DefaultValueFunc, func() interface{}:
		return "", false
	}
	return InterfaceToSQLString(v), true
}

// CreateTableQuery renders CREATE TABLE for an already quoted table name.
func (g *QueryGenerator) CreateTableQuery(table string, attrs []*Attribute, ifNotExists bool) string {
	columns := make([]string, 0, len(attrs))
	for _, a := range attrs {
		columns = append(columns, QuoteIdentifier(a.Field)+" "+g.ColumnDefinition(a))
	}
	exists := ""
	if ifNotExists {
		exists = "IF NOT EXISTS "
	}
	return fmt.Sprintf("CREATE TABLE %s%s (%s);", exists, table, strings.Join(columns, ", "))
}

// DropTableQuery renders DROP TABLE.
func (g *QueryGenerator) DropTableQuery(table string, ifExists, cascade bool) string {
	var sb strings.Builder
	sb.WriteString("DROP TABLE ")
	if ifExists {
		sb.WriteString("IF EXISTS ")
	}
	sb.WriteString(table)
	if cascade && g.SupportsCascade {
		sb.WriteString(" CASCADE")
	}
	sb.WriteString(";")
	return sb.String()
}

// AddColumnQuery renders ALTER TABLE ... ADD COLUMN.
func (g *QueryGenerator) AddColumnQuery(table string, a *Attribute) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s;", table, QuoteIdentifier(a.Field), g.ColumnDefinition(a))
}

// TruncateQuery empties a table.
func (g *QueryGenerator) TruncateQuery(table string, cascade bool) string {
	if !g.SupportsTruncate {
		return fmt.Sprintf("DELETE FROM %s", table)
	}
	q := "TRUNCATE " + table
	if cascade && g.SupportsCascade {
		q += " CASCADE"
	}
	return q
}

// InsertQuery renders a single row INSERT. Columns are sorted. With returning set and
// supported, the inserted row is returned.
func (g *QueryGenerator) InsertQuery(table string, values map[string]interface{}, returning bool) (string, []interface{}) {
	columns := sortedKeys(values)
	args := make([]interface{}, 0, len(columns))
	for _, c := range columns {
		args = append(args, values[c])
	}

	var q string
	if len(columns) == 0 {
		q = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", table)
	} else {
		q = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, quoteColumns(columns), placeholders(len(columns)))
	}
	if returning && g.SupportsReturning {
		q += " RETURNING *"
	}
	return g.Rebind(q), args
}

// BulkInsertQuery renders batched multi row INSERTs, each rebound to the dialect.
func (g *QueryGenerator) BulkInsertQuery(table string, columns []string, rows [][]interface{}, returning bool) []ParametereizedSQL {
	statements := bulkInsertStatements(table, columns, rows)
	for i := range statements {
		if returning && g.SupportsReturning {
			statements[i].Query += " RETURNING *"
		}
		statements[i].Query = g.Rebind(statements[i].Query)
	}
	return statements
}

// UpdateQuery renders UPDATE ... SET ... WHERE.
func (g *QueryGenerator) UpdateQuery(table string, values map[string]interface{}, where *Condition, returning bool) (string, []interface{}, error) {
	columns := sortedKeys(values)
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("%w: update without values", ErrInvalidOptions)
	}
	sets := make([]string, 0, len(columns))
	args := make([]interface{}, 0, len(columns))
	for _, c := range columns {
		sets = append(sets, QuoteIdentifier(c)+" = ?")
		args = append(args, values[c])
	}

	q := fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(sets, ", "))
	w := conditionWriter{ilike: g.SupportsILike}
	clause, err := w.write(where)
	if err != nil {
		return "", nil, err
	}
	if clause != "" {
		q += " WHERE " + clause
		args = append(args, w.args...)
	}
	if returning && g.SupportsReturning {
		q += " RETURNING *"
	}
	return g.Rebind(q), args, nil
}

// DeleteQuery renders DELETE FROM ... WHERE.
func (g *QueryGenerator) DeleteQuery(table string, where *Condition) (string, []interface{}, error) {
	q := "DELETE FROM " + table
	w := conditionWriter{ilike: g.SupportsILike}
	clause, err := w.write(where)
	if err != nil {
		return "", nil, err
	}
	if clause != "" {
		q += " WHERE " + clause
	}
	return g.Rebind(q), w.args, nil
}

// SelectQuery renders SELECT with where, grouping, ordering and pagination. An empty
// column list selects *.
func (g *QueryGenerator) SelectQuery(table string, columns []string, where *Condition) (string, []interface{}, error) {
	cols := "*"
	if len(columns) > 0 {
		for _, c := range columns {
			if err := ValidateIdentifier(c); err != nil {
				return "", nil, err
			}
		}
		cols = quoteColumns(columns)
	}
	w := conditionWriter{ilike: g.SupportsILike}
	q, err := w.selectQuery(table, cols, where)
	if err != nil {
		return "", nil, err
	}
	return g.Rebind(q), w.args, nil
}

// CountQuery renders SELECT COUNT(*) AS count with the filter of where. Pagination and
// ordering are ignored.
func (g *QueryGenerator) CountQuery(table string, where *Condition) (string, []interface{}, error) {
	var filter *Condition
	if where != nil {
		filter = &Condition{Field: where.Field, Operator: where.Operator, Value: where.Value, Logic: where.Logic, Nested: where.Nested}
	}
	w := conditionWriter{ilike: g.SupportsILike}
	q, err := w.selectQuery(table, "COUNT(*) AS count", filter)
	if err != nil {
		return "", nil, err
	}
	return g.Rebind(q), w.args, nil
}

// WhereClause renders a condition in the dialect's placeholder syntax, without the
// WHERE keyword.
func (g *QueryGenerator) WhereClause(where *Condition) (string, []interface{}, error) {
	w := conditionWriter{ilike: g.SupportsILike}
	clause, err := w.write(where)
	if err != nil {
		return "", nil, err
	}
	return g.Rebind(clause), w.args, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
