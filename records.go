package orm

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/medatechnology/goutil/object"
)

// DBRecord is one row. TableName is set when the row belongs to a known table.
type DBRecord struct {
	TableName string
	Data      map[string]interface{}
}

type DBRecords []DBRecord

// SchemaStruct is a row of sqlite_master.
type SchemaStruct struct {
	ObjectType string `json:"type"           db:"type"`
	ObjectName string `json:"name"           db:"name"`
	TableName  string `json:"tbl_name"       db:"tbl_name"`
	RootPage   int    `json:"rootpage"       db:"rootpage"`
	SQLCommand string `json:"sql"            db:"sql"`
}

// Append adds a new DBRecord to the DBRecords slice.
func (d *DBRecords) Append(rec DBRecord) {
	*d = append(*d, rec)
}

// Columns returns the column names of the record, sorted.
func (d *DBRecord) Columns() []string {
	columns := make([]string, 0, len(d.Data))
	for key := range d.Data {
		columns = append(columns, key)
	}
	sort.Strings(columns)
	return columns
}

// Get returns the value of a column and whether it exists.
func (d *DBRecord) Get(column string) (interface{}, bool) {
	v, ok := d.Data[column]
	return v, ok
}

// ToInsertSQLParameterized converts a single DBRecord to a parameterized INSERT statement
// with `?` placeholders. Columns are sorted so the statement is stable.
//
//	sql, values := record.ToInsertSQLParameterized()
//	// INSERT INTO "users" ("age", "name") VALUES (?, ?)
func (d *DBRecord) ToInsertSQLParameterized() (string, []interface{}) {
	columns := d.Columns()
	values := make([]interface{}, 0, len(columns))
	for _, col := range columns {
		values = append(values, d.Data[col])
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdentifier(d.TableName),
		quoteColumns(columns),
		placeholders(len(columns)),
	), values
}

// ToInsertSQLRaw converts a single DBRecord to an INSERT statement with the values
// inlined as escaped SQL literals.
func (d *DBRecord) ToInsertSQLRaw() (string, []interface{}) {
	columns := d.Columns()
	values := make([]interface{}, 0, len(columns))
	valuesStr := make([]string, 0, len(columns))
	for _, col := range columns {
		values = append(values, d.Data[col])
		valuesStr = append(valuesStr, InterfaceToSQLString(d.Data[col]))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		QuoteIdentifier(d.TableName),
		quoteColumns(columns),
		strings.Join(valuesStr, ", "),
	), values
}

// ToInsertSQLParameterized converts records of the same table to batched INSERT
// statements of at most MAX_MULTIPLE_INSERTS rows each. Columns are the union of all
// records, missing values are inserted as NULL.
//
//	statements := records.ToInsertSQLParameterized()
func (records DBRecords) ToInsertSQLParameterized() []ParametereizedSQL {
	tableName, columns := records.shape()
	if len(columns) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(records))
	for _, record := range records {
		row := make([]interface{}, 0, len(columns))
		for _, col := range columns {
			row = append(row, record.Data[col])
		}
		rows = append(rows, row)
	}
	return bulkInsertStatements(QuoteIdentifier(tableName), columns, rows)
}

// ToInsertSQLRaw converts records to batched INSERT statements with inlined literals.
func (records DBRecords) ToInsertSQLRaw() []string {
	tableName, columns := records.shape()
	if len(columns) == 0 {
		return nil
	}

	batch := batchSize()
	sqlStatements := make([]string, 0, (len(records)+batch-1)/batch)
	columnsSQL := quoteColumns(columns)

	for i := 0; i < len(records); i += batch {
		end := min(i+batch, len(records))
		valueGroups := make([]string, 0, end-i)
		for _, record := range records[i:end] {
			recordValues := make([]string, 0, len(columns))
			for _, col := range columns {
				recordValues = append(recordValues, InterfaceToSQLString(record.Data[col]))
			}
			valueGroups = append(valueGroups, "("+strings.Join(recordValues, ", ")+")")
		}
		sqlStatements = append(sqlStatements, fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES %s",
			QuoteIdentifier(tableName),
			columnsSQL,
			strings.Join(valueGroups, ", "),
		))
	}
	return sqlStatements
}

// shape returns the table of the first record and the sorted union of all columns.
func (records DBRecords) shape() (string, []string) {
	if len(records) == 0 || records[0].TableName == "" {
		return "", nil
	}
	seen := make(map[string]struct{})
	for _, r := range records {
		for key := range r.Data {
			seen[key] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for key := range seen {
		columns = append(columns, key)
	}
	sort.Strings(columns)
	return records[0].TableName, columns
}

// bulkInsertStatements builds `?` placeholder INSERTs for an already quoted table.
func bulkInsertStatements(table string, columns []string, rows [][]interface{}) []ParametereizedSQL {
	if len(rows) == 0 || len(columns) == 0 {
		return nil
	}
	batch := batchSize()
	statements := make([]ParametereizedSQL, 0, (len(rows)+batch-1)/batch)
	rowPlaceholder := "(" + placeholders(len(columns)) + ")"
	columnsSQL := quoteColumns(columns)

	for i := 0; i < len(rows); i += batch {
		end := min(i+batch, len(rows))
		groups := make([]string, 0, end-i)
		values := make([]interface{}, 0, (end-i)*len(columns))
		for _, row := range rows[i:end] {
			groups = append(groups, rowPlaceholder)
			values = append(values, row...)
		}
		statements = append(statements, ParametereizedSQL{
			Query:  fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, columnsSQL, strings.Join(groups, ", ")),
			Values: values,
		})
	}
	return statements
}

func batchSize() int {
	if MAX_MULTIPLE_INSERTS < 1 {
		return DEFAULT_MAX_MULTIPLE_INSERTS
	}
	return MAX_MULTIPLE_INSERTS
}

func quoteColumns(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

// FromStruct fills the record from a TableStruct.
func (d *DBRecord) FromStruct(obj TableStruct) error {
	d.Data = object.StructToMap(obj)
	d.TableName = obj.TableName()
	return nil
}

// TableStructToDBRecord converts a struct into a record of its table.
func TableStructToDBRecord(obj TableStruct) (DBRecord, error) {
	var rec DBRecord
	err := rec.FromStruct(obj)
	return rec, err
}

// RecordToStruct maps a record onto T using its json/db tags.
func RecordToStruct[T any](rec DBRecord) T {
	return object.MapToStruct[T](rec.Data)
}

// RecordsToStructs maps every record onto T.
func RecordsToStructs[T any](records DBRecords) []T {
	out := make([]T, 0, len(records))
	for _, rec := range records {
		out = append(out, object.MapToStruct[T](rec.Data))
	}
	return out
}

// InterfaceToSQLString renders a value as a SQL literal. Strings have their single
// quotes doubled, nil becomes NULL.
func InterfaceToSQLString(interfaceVal interface{}) string {
	switch v := interfaceVal.(type) {
	case nil:
		return "NULL"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case float64, float32:
		return fmt.Sprintf("%v", v)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case []byte:
		return fmt.Sprintf("X'%x'", v)
	case time.Time:
		return "'" + v.UTC().Format("2006-01-02 15:04:05.000000Z07:00") + "'"
	case *time.Time:
		if v == nil {
			return "NULL"
		}
		return InterfaceToSQLString(*v)
	case fmt.Stringer:
		return InterfaceToSQLString(v.String())
	default:
		return InterfaceToSQLString(fmt.Sprintf("%v", v))
	}
}
