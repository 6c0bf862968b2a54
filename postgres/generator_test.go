package postgres

import (
	"strings"
	"testing"

	orm "github.com/medatechnology/sequel"
)

func TestRebindPlaceholders(t *testing.T) {
	g := NewGenerator()
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Single placeholder", "SELECT * FROM users WHERE id = ?", "SELECT * FROM users WHERE id = $1"},
		{"Multiple placeholders", "INSERT INTO users (name, email, age) VALUES (?, ?, ?)", "INSERT INTO users (name, email, age) VALUES ($1, $2, $3)"},
		{"Placeholder in string literal", "SELECT * FROM users WHERE name = 'What?' AND id = ?", "SELECT * FROM users WHERE name = 'What?' AND id = $1"},
		{"Placeholder in dollar quote", "SELECT $$a?b$$, ?", "SELECT $$a?b$$, $1"},
		{"No placeholders", "SELECT * FROM users", "SELECT * FROM users"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Rebind(tt.input); got != tt.expected {
				t.Errorf("Expected: %s\nGot:      %s", tt.expected, got)
			}
		})
	}
}

func TestColumnType(t *testing.T) {
	tests := []struct {
		in   orm.DataType
		want string
	}{
		{orm.StringType(0), "VARCHAR(255)"},
		{orm.StringType(40), "VARCHAR(40)"},
		{orm.TypeText, "TEXT"},
		{orm.TypeInteger, "INTEGER"},
		{orm.TypeBigInt, "BIGINT"},
		{orm.TypeFloat, "REAL"},
		{orm.TypeDouble, "DOUBLE PRECISION"},
		{orm.DecimalType(10, 2), "DECIMAL(10,2)"},
		{orm.TypeBoolean, "BOOLEAN"},
		{orm.TypeDate, "TIMESTAMP WITH TIME ZONE"},
		{orm.TypeDateOnly, "DATE"},
		{orm.TypeUUID, "UUID"},
		{orm.TypeJSONB, "JSONB"},
		{orm.TypeBlob, "BYTEA"},
		{orm.EnumType("a", "b"), "VARCHAR(255)"},
	}
	for _, tt := range tests {
		if got := columnType(tt.in); got != tt.want {
			t.Errorf("columnType(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestCreateTableQuery(t *testing.T) {
	g := NewGenerator()
	attrs := []*orm.Attribute{
		{Name: "id", Field: "id", Type: orm.TypeBigInt, PrimaryKey: true, AutoIncrement: true},
		{Name: "email", Field: "email", Type: orm.StringType(120), AllowNull: orm.NotNull(), Unique: true},
		{Name: "role", Field: "role", Type: orm.EnumType("admin", "member"), DefaultValue: "member"},
		{Name: "teamId", Field: "team_id", Type: orm.TypeInteger,
			References: &orm.Reference{Table: "teams", Key: "id", OnDelete: "cascade"}},
	}
	q := g.CreateTableQuery(g.QuoteTable("public", "users"), attrs, true)

	for _, part := range []string{
		`CREATE TABLE IF NOT EXISTS "public"."users" (`,
		`"id" BIGSERIAL PRIMARY KEY`,
		`"email" VARCHAR(120) NOT NULL UNIQUE`,
		`"role" VARCHAR(255) DEFAULT 'member' CHECK ("role" IN ('admin', 'member'))`,
		`"team_id" INTEGER REFERENCES "teams" ("id") ON DELETE CASCADE`,
	} {
		if !strings.Contains(q, part) {
			t.Errorf("Expected %q in\n%s", part, q)
		}
	}
}

func TestGeneratorStatements(t *testing.T) {
	g := NewGenerator()

	q, args := g.InsertQuery(`"users"`, map[string]interface{}{"name": "a", "age": 3}, true)
	if q != `INSERT INTO "users" ("age", "name") VALUES ($1, $2) RETURNING *` {
		t.Errorf("Unexpected insert: %s", q)
	}
	if len(args) != 2 || args[0] != 3 || args[1] != "a" {
		t.Errorf("Unexpected insert args: %v", args)
	}

	where := orm.Where("name", orm.OpILike, "%a%")
	q, args, err := g.UpdateQuery(`"users"`, map[string]interface{}{"age": 4}, &where, false)
	if err != nil {
		t.Fatalf("UpdateQuery: %v", err)
	}
	if q != `UPDATE "users" SET "age" = $1 WHERE "name" ILIKE $2` {
		t.Errorf("Unexpected update: %s", q)
	}
	if len(args) != 2 {
		t.Errorf("Expected 2 args, got %v", args)
	}

	if q := g.TruncateQuery(`"users"`, true); q != `TRUNCATE "users" CASCADE` {
		t.Errorf("Unexpected truncate: %s", q)
	}
	if q := g.DropTableQuery(`"users"`, true, true); q != `DROP TABLE IF EXISTS "users" CASCADE;` {
		t.Errorf("Unexpected drop: %s", q)
	}
}

func TestDescribeTable(t *testing.T) {
	q, args := describeTable("", "users")
	if !strings.Contains(q, "c.table_schema = current_schema()") || len(args) != 1 {
		t.Errorf("Expected current schema lookup, got %s %v", q, args)
	}
	q, args = describeTable("sales", "orders")
	if !strings.Contains(q, "c.table_schema = $2") || len(args) != 2 || args[1] != "sales" {
		t.Errorf("Expected explicit schema lookup, got %s %v", q, args)
	}

	cols := describeColumns(orm.DBRecords{
		{Data: map[string]interface{}{"column_name": "id", "data_type": "integer", "is_nullable": "NO", "primary_key": true}},
		{Data: map[string]interface{}{"column_name": "email", "data_type": "character varying", "character_maximum_length": int64(120), "is_nullable": "YES", "primary_key": false}},
	})
	if !cols["id"].PrimaryKey || cols["id"].AllowNull {
		t.Errorf("Unexpected id column: %+v", cols["id"])
	}
	if cols["email"].Type != "CHARACTER VARYING(120)" || !cols["email"].AllowNull {
		t.Errorf("Unexpected email column: %+v", cols["email"])
	}
}

func TestConvertValue(t *testing.T) {
	if v := convertValue([]byte("12"), "INT8"); v != int64(12) {
		t.Errorf("Expected int64 12, got %#v", v)
	}
	if v := convertValue([]byte("1.50"), "NUMERIC"); v != "1.50" {
		t.Errorf("Expected numeric kept as text, got %#v", v)
	}
	if v := convertValue([]byte("t"), "BOOL"); v != true {
		t.Errorf("Expected true, got %#v", v)
	}
	if v, ok := convertValue([]byte{0, 1}, "BYTEA").([]byte); !ok || len(v) != 2 {
		t.Errorf("Expected bytes kept, got %#v", v)
	}
	if v := convertValue([]byte(`{"a":1}`), "JSONB"); v != `{"a":1}` {
		t.Errorf("Expected json text, got %#v", v)
	}
	if v := convertValue(int64(5), "INT8"); v != int64(5) {
		t.Errorf("Expected native values untouched, got %#v", v)
	}
}

func TestIsolationLevel(t *testing.T) {
	if _, err := isolationLevel(orm.IsolationSerializable); err != nil {
		t.Errorf("Expected serializable to be supported: %v", err)
	}
	if _, err := isolationLevel("SNAPSHOT"); err == nil {
		t.Errorf("Expected unknown level to fail")
	}
}
