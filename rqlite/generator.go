package rqlite

import (
	"fmt"
	"strings"

	orm "github.com/medatechnology/sequel"
)

const (
	showTablesSQL = `SELECT name AS table_name FROM ` + SCHEMA_TABLE +
		` WHERE type = 'table' AND name NOT LIKE '` + PREFIX_SQLITE_TABLE + `%' ORDER BY name`
	versionSQL = `SELECT sqlite_version() AS version`
)

// NewGenerator returns the query generator of the rqlite dialect. rqlite speaks
// SQLite: `?` placeholders, no RETURNING, no TRUNCATE and no CASCADE.
func NewGenerator() *orm.QueryGenerator {
	return &orm.QueryGenerator{
		Dialect:             DialectName,
		TypeMapper:          columnType,
		AutoIncrementColumn: func(*orm.Attribute) string { return "INTEGER PRIMARY KEY AUTOINCREMENT" },
		ShowTablesSQL:       showTablesSQL,
		DescribeTableSQL:    describeTable,
		DescribeColumns:     describeColumns,
		VersionSQL:          versionSQL,
	}
}

// columnType maps a DataType to a SQLite column type. Dates are declared TIMESTAMP
// and DATEONLY as TEXT so values come back as the text that was stored.
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
	case orm.KeyText, orm.KeyEnum, orm.KeyDateOnly:
		return "TEXT"
	case orm.KeyInteger:
		return "INTEGER"
	case orm.KeyBigInt:
		return "BIGINT"
	case orm.KeyFloat:
		return "REAL"
	case orm.KeyDouble:
		return "DOUBLE"
	case orm.KeyDecimal:
		if t.Precision > 0 {
			return fmt.Sprintf("DECIMAL(%d,%d)", t.Precision, t.Scale)
		}
		return "DECIMAL"
	case orm.KeyBoolean:
		return "BOOLEAN"
	case orm.KeyDate:
		return "TIMESTAMP"
	case orm.KeyTime:
		return "TIME"
	case orm.KeyUUID:
		return "UUID"
	case orm.KeyJSON, orm.KeyJSONB:
		return "JSON"
	case orm.KeyBlob:
		return "BLOB"
	}
	return strings.ToUpper(t.Key)
}

func describeTable(schema, table string) (string, []interface{}) {
	if schema == "" {
		return fmt.Sprintf("PRAGMA table_info(%s)", orm.QuoteIdentifier(table)), nil
	}
	return fmt.Sprintf("PRAGMA %s.table_info(%s)", orm.QuoteIdentifier(schema), orm.QuoteIdentifier(table)), nil
}

// describeColumns reads PRAGMA table_info rows: cid, name, type, notnull, dflt_value, pk.
func describeColumns(rows orm.DBRecords) map[string]orm.ColumnDescription {
	cols := make(map[string]orm.ColumnDescription, len(rows))
	for _, r := range rows {
		name := fmt.Sprint(r.Data["name"])
		cols[name] = orm.ColumnDescription{
			Type:         strings.ToUpper(fmt.Sprint(r.Data["type"])),
			AllowNull:    !truthy(r.Data["notnull"]),
			DefaultValue: r.Data["dflt_value"],
			PrimaryKey:   truthy(r.Data["pk"]),
		}
	}
	return cols
}

func truthy(v interface{}) bool {
	switch n := v.(type) {
	case int64:
		return n != 0
	case float64:
		return n != 0
	case bool:
		return n
	}
	return false
}
