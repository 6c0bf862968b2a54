package postgres

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	orm "github.com/medatechnology/sequel"
)

// scanRows reads every row into DBRecords. An empty result is an empty slice, not an
// error; deciding whether zero rows is a failure is up to the caller.
func scanRows(rows *sql.Rows) (orm.DBRecords, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	records := orm.DBRecords{}
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		data := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			data[col] = convertValue(values[i], types[i].DatabaseTypeName())
		}
		records = append(records, orm.DBRecord{Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// convertValue turns the driver representation of a column into a plain Go value.
// lib/pq hands most non native types over as []byte: numerics are parsed, bytea stays
// binary, everything else (json, uuid, text arrays) becomes a string.
func convertValue(value interface{}, dbType string) interface{} {
	b, ok := value.([]byte)
	if !ok {
		return value
	}
	switch strings.ToUpper(dbType) {
	case "BYTEA":
		out := make([]byte, len(b))
		copy(out, b)
		return out
	case "NUMERIC", "DECIMAL":
		// keep exact decimals as text
		return string(b)
	case "INT2", "INT4", "INT8":
		if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return n
		}
	case "FLOAT4", "FLOAT8":
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
	case "BOOL":
		return string(b) == "t" || string(b) == "true"
	}
	return string(b)
}
