package postgres

import (
	"fmt"
	"strconv"
	"strings"

	orm "github.com/medatechnology/sequel"
)

const (
	showTablesSQL = `SELECT table_name FROM information_schema.tables ` +
		`WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' ORDER BY table_name`

	describeSQL = `SELECT c.column_name, c.data_type, c.character_maximum_length, c.is_nullable, c.column_default, ` +
		`(tc.constraint_type IS NOT NULL) AS primary_key ` +
		`FROM information_schema.columns c ` +
		`LEFT JOIN information_schema.key_column_usage kcu ` +
		`ON kcu.table_schema = c.table_schema AND kcu.table_name = c.table_name AND kcu.column_name = c.column_name ` +
		`LEFT JOIN information_schema.table_constraints tc ` +
		`ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema AND tc.constraint_type = 'PRIMARY KEY' ` +
		`WHERE c.table_schema = %s AND c.table_name = $1 ORDER BY c.ordinal_position`
)

// NewGenerator returns the query generator of the postgres dialect.
func NewGenerator() *orm.QueryGenerator {
	return &orm.QueryGenerator{
		Dialect:             DialectName,
		Placeholder:         func(n int) string { return "$" + strconv.Itoa(n) },
		TypeMapper:          columnType,
		AutoIncrementColumn: serialColumn,
		SupportsReturning:   true,
		SupportsILike:       true,
		SupportsCascade:     true,
		SupportsTruncate:    true,
		ShowTablesSQL:       showTablesSQL,
		DescribeTableSQL:    describeTable,
		DescribeColumns:     describeColumns,
		VersionSQL:          "SHOW server_version",
	}
}

// columnType maps a DataType to its PostgreSQL column type.
func columnType(t orm.DataType) string {
	switch t.Key {
	case orm.KeyString:
		n := t.Length
		if n <= 0 {
			n = 255
		}
		return fmt.Sprintf("VARCHAR(%d)", n)
	case orm.KeyChar:
		n := t.Length
		if n <= 0 {
			n = 1
		}
		return fmt.Sprintf("CHAR(%d)", n)
	case orm.KeyText:
		return "TEXT"
	case orm.KeyInteger:
		return "INTEGER"
	case orm.KeyBigInt:
		return "BIGINT"
	case orm.KeyFloat:
		return "REAL"
	case orm.KeyDouble:
		return "DOUBLE PRECISION"
	case orm.KeyDecimal:
		if t.Precision > 0 {
			return fmt.Sprintf("DECIMAL(%d,%d)", t.Precision, t.Scale)
		}
		return "DECIMAL"
	case orm.KeyBoolean:
		return "BOOLEAN"
	case orm.KeyDate:
		return "TIMESTAMP WITH TIME ZONE"
	case orm.KeyDateOnly:
		return "DATE"
	case orm.KeyTime:
		return "TIME"
	case orm.KeyUUID:
		return "UUID"
	case orm.KeyJSON:
		return "JSON"
	case orm.KeyJSONB:
		return "JSONB"
	case orm.KeyBlob:
		return "BYTEA"
	case orm.KeyEnum:
		return "VARCHAR(255)"
	}
	return strings.ToUpper(t.Key)
}

func serialColumn(a *orm.Attribute) string {
	if a.Type.Key == orm.KeyBigInt {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "SERIAL PRIMARY KEY"
}

// describeTable binds the table name, and the schema when one is given.
func describeTable(schema, table string) (string, []interface{}) {
	if schema == "" {
		return fmt.Sprintf(describeSQL, "current_schema()"), []interface{}{table}
	}
	return fmt.Sprintf(describeSQL, "$2"), []interface{}{table, schema}
}

func describeColumns(rows orm.DBRecords) map[string]orm.ColumnDescription {
	cols := make(map[string]orm.ColumnDescription, len(rows))
	for _, r := range rows {
		name := fmt.Sprint(r.Data["column_name"])
		typ := strings.ToUpper(fmt.Sprint(r.Data["data_type"]))
		if n, ok := r.Data["character_maximum_length"].(int64); ok && n > 0 {
			typ = fmt.Sprintf("%s(%d)", typ, n)
		}
		desc := orm.ColumnDescription{
			Type:         typ,
			AllowNull:    fmt.Sprint(r.Data["is_nullable"]) == "YES",
			DefaultValue: r.Data["column_default"],
		}
		if pk, ok := r.Data["primary_key"].(bool); ok {
			desc.PrimaryKey = pk
		}
		// a column in several constraints shows up once per join row
		if prev, seen := cols[name]; seen && prev.PrimaryKey {
			desc.PrimaryKey = true
		}
		cols[name] = desc
	}
	return cols
}
