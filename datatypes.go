package orm

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"
)

// DataType keys understood by every dialect's TypeMapper.
const (
	KeyString   = "STRING"
	KeyChar     = "CHAR"
	KeyText     = "TEXT"
	KeyInteger  = "INTEGER"
	KeyBigInt   = "BIGINT"
	KeyFloat    = "FLOAT"
	KeyDouble   = "DOUBLE"
	KeyDecimal  = "DECIMAL"
	KeyBoolean  = "BOOLEAN"
	KeyDate     = "DATE" // timestamp with time zone
	KeyDateOnly = "DATEONLY"
	KeyTime     = "TIME"
	KeyUUID     = "UUID"
	KeyJSON     = "JSON"
	KeyJSONB    = "JSONB"
	KeyBlob     = "BLOB"
	KeyEnum     = "ENUM"
)

// DataType describes the column type of a model attribute independent of the dialect.
type DataType struct {
	Key       string   `json:"key"`
	Length    int      `json:"length,omitempty"`
	Precision int      `json:"precision,omitempty"`
	Scale     int      `json:"scale,omitempty"`
	Values    []string `json:"values,omitempty"` // ENUM members
}

var (
	TypeText     = DataType{Key: KeyText}
	TypeInteger  = DataType{Key: KeyInteger}
	TypeBigInt   = DataType{Key: KeyBigInt}
	TypeFloat    = DataType{Key: KeyFloat}
	TypeDouble   = DataType{Key: KeyDouble}
	TypeBoolean  = DataType{Key: KeyBoolean}
	TypeDate     = DataType{Key: KeyDate}
	TypeDateOnly = DataType{Key: KeyDateOnly}
	TypeTime     = DataType{Key: KeyTime}
	TypeUUID     = DataType{Key: KeyUUID}
	TypeJSON     = DataType{Key: KeyJSON}
	TypeJSONB    = DataType{Key: KeyJSONB}
	TypeBlob     = DataType{Key: KeyBlob}
)

// StringType is a VARCHAR(n). A length of 0 means 255.
func StringType(length int) DataType {
	if length <= 0 {
		length = 255
	}
	return DataType{Key: KeyString, Length: length}
}

// CharType is a fixed length CHAR(n).
func CharType(length int) DataType {
	if length <= 0 {
		length = 1
	}
	return DataType{Key: KeyChar, Length: length}
}

// DecimalType is a DECIMAL(precision, scale).
func DecimalType(precision, scale int) DataType {
	return DataType{Key: KeyDecimal, Precision: precision, Scale: scale}
}

// EnumType restricts values to the given members.
func EnumType(values ...string) DataType {
	return DataType{Key: KeyEnum, Values: append([]string(nil), values...)}
}

func (t DataType) String() string {
	switch t.Key {
	case KeyString, KeyChar:
		return fmt.Sprintf("%s(%d)", t.Key, t.Length)
	case KeyDecimal:
		if t.Precision > 0 {
			return fmt.Sprintf("%s(%d,%d)", t.Key, t.Precision, t.Scale)
		}
	case KeyEnum:
		return fmt.Sprintf("%s(%s)", t.Key, strings.Join(t.Values, ","))
	}
	return t.Key
}

// IsNumeric reports whether values of this type are numbers.
func (t DataType) IsNumeric() bool {
	switch t.Key {
	case KeyInteger, KeyBigInt, KeyFloat, KeyDouble, KeyDecimal:
		return true
	}
	return false
}

// check validates a non-nil value against the type. It returns an empty string when
// the value fits, otherwise the reason.
func (t DataType) check(value interface{}) string {
	switch t.Key {
	case KeyString, KeyChar:
		if s, ok := value.(string); ok && t.Length > 0 && utf8.RuneCountInString(s) > t.Length {
			return fmt.Sprintf("length %d exceeds %d", utf8.RuneCountInString(s), t.Length)
		}
	case KeyEnum:
		s := fmt.Sprint(value)
		for _, v := range t.Values {
			if v == s {
				return ""
			}
		}
		return fmt.Sprintf("%q is not one of %s", s, strings.Join(t.Values, ", "))
	case KeyInteger, KeyBigInt:
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		case float64:
			if v != math.Trunc(v) {
				return "not an integer"
			}
		case float32:
			if float64(v) != math.Trunc(float64(v)) {
				return "not an integer"
			}
		case string:
			return "not an integer"
		case bool:
			return "not an integer"
		}
	case KeyBoolean:
		switch value.(type) {
		case bool, int, int64:
		default:
			return "not a boolean"
		}
	case KeyDate, KeyDateOnly:
		switch value.(type) {
		case time.Time, *time.Time, string:
		default:
			return "not a date"
		}
	}
	return ""
}

// isNil reports whether v is nil or a nil pointer/slice/map.
func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
