package orm

import (
	"testing"
	"time"
)

func TestDataTypeString(t *testing.T) {
	tests := []struct {
		in   DataType
		want string
	}{
		{StringType(0), "STRING(255)"},
		{CharType(0), "CHAR(1)"},
		{DecimalType(10, 2), "DECIMAL(10,2)"},
		{DataType{Key: KeyDecimal}, "DECIMAL"},
		{EnumType("a", "b"), "ENUM(a,b)"},
		{TypeJSONB, "JSONB"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("String() = %s, want %s", got, tt.want)
		}
	}
	if !TypeBigInt.IsNumeric() || !DecimalType(5, 1).IsNumeric() || TypeText.IsNumeric() {
		t.Errorf("IsNumeric misclassified")
	}
}

func TestDataTypeCheck(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		typ   DataType
		value interface{}
		ok    bool
	}{
		{"string fits", StringType(5), "héllo", true},
		{"string too long", StringType(3), "abcd", false},
		{"enum member", EnumType("admin", "member"), "admin", true},
		{"enum outsider", EnumType("admin", "member"), "root", false},
		{"integer", TypeInteger, int64(4), true},
		{"whole float", TypeInteger, 4.0, true},
		{"fraction", TypeInteger, 4.5, false},
		{"integer from string", TypeBigInt, "4", false},
		{"boolean", TypeBoolean, true, true},
		{"boolean from string", TypeBoolean, "yes", false},
		{"date", TypeDate, now, true},
		{"date pointer", TypeDate, &now, true},
		{"date string", TypeDateOnly, "2024-01-02", true},
		{"date from int", TypeDate, 12, false},
		{"text anything", TypeText, 12, true},
	}
	for _, tt := range tests {
		if got := tt.typ.check(tt.value) == ""; got != tt.ok {
			t.Errorf("%s: check(%v) ok = %v, want %v", tt.name, tt.value, got, tt.ok)
		}
	}
}

func TestIsNil(t *testing.T) {
	var p *int
	var m map[string]int
	if !isNil(nil) || !isNil(p) || !isNil(m) {
		t.Errorf("Expected nil values to be nil")
	}
	if isNil(0) || isNil("") || isNil([]int{}) {
		t.Errorf("Expected zero values not to be nil")
	}
}
