package orm

import (
	"reflect"
	"testing"
)

func TestColumnDefinition(t *testing.T) {
	g := fakeGenerator()
	tests := []struct {
		name string
		attr Attribute
		want string
	}{
		{
			name: "auto increment primary key",
			attr: Attribute{Field: "id", Type: TypeInteger, PrimaryKey: true, AutoIncrement: true},
			want: "INTEGER PRIMARY KEY AUTOINCREMENT",
		},
		{
			name: "plain primary key",
			attr: Attribute{Field: "id", Type: TypeUUID, PrimaryKey: true, Unique: true},
			want: "UUID PRIMARY KEY",
		},
		{
			name: "not null unique",
			attr: Attribute{Field: "email", Type: StringType(120), AllowNull: NotNull(), Unique: true},
			want: "VARCHAR(120) NOT NULL UNIQUE",
		},
		{
			name: "enum with default",
			attr: Attribute{Field: "role", Type: EnumType("admin", "member"), AllowNull: NotNull(), DefaultValue: "member"},
			want: `TEXT NOT NULL DEFAULT 'member' CHECK ("role" IN ('admin', 'member'))`,
		},
		{
			name: "client side default is not DDL",
			attr: Attribute{Field: "createdAt", Type: TypeDate, DefaultValue: DefaultNow},
			want: "TIMESTAMP",
		},
		{
			name: "numeric default",
			attr: Attribute{Field: "stock", Type: TypeInteger, DefaultValue: 0},
			want: "INTEGER DEFAULT 0",
		},
		{
			name: "reference",
			attr: Attribute{Field: "userId", Type: TypeInteger, References: &Reference{Table: "Users", OnDelete: "cascade", OnUpdate: "set null"}},
			want: `INTEGER REFERENCES "Users" ("id") ON DELETE CASCADE ON UPDATE SET NULL`,
		},
		{
			name: "unresolved reference is skipped",
			attr: Attribute{Field: "userId", Type: TypeInteger, References: &Reference{Model: "User"}},
			want: "INTEGER",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.ColumnDefinition(&tt.attr); got != tt.want {
				t.Errorf("ColumnDefinition = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDDLStatements(t *testing.T) {
	sqlite, pg := fakeGenerator(), fakePGGenerator()
	attrs := []*Attribute{
		{Field: "id", Type: TypeInteger, PrimaryKey: true, AutoIncrement: true},
		{Field: "name", Type: StringType(50)},
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"create", sqlite.CreateTableQuery(`"users"`, attrs, true),
			`CREATE TABLE IF NOT EXISTS "users" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "name" VARCHAR(50));`},
		{"create pg", pg.CreateTableQuery(pg.QuoteTable("sales", "users"), attrs, false),
			`CREATE TABLE "sales"."users" ("id" SERIAL PRIMARY KEY, "name" VARCHAR(50));`},
		{"drop", sqlite.DropTableQuery(`"users"`, true, true), `DROP TABLE IF EXISTS "users";`},
		{"drop cascade", pg.DropTableQuery(`"users"`, true, true), `DROP TABLE IF EXISTS "users" CASCADE;`},
		{"drop strict", pg.DropTableQuery(`"users"`, false, false), `DROP TABLE "users";`},
		{"add column", sqlite.AddColumnQuery(`"users"`, attrs[1]), `ALTER TABLE "users" ADD COLUMN "name" VARCHAR(50);`},
		{"truncate fallback", sqlite.TruncateQuery(`"users"`, true), `DELETE FROM "users"`},
		{"truncate", pg.TruncateQuery(`"users"`, false), `TRUNCATE "users"`},
		{"truncate cascade", pg.TruncateQuery(`"users"`, true), `TRUNCATE "users" CASCADE`},
		{"qualified table", pg.QuoteTable("sales", "a.b"), `"a"."b"`},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s:\n got %s\nwant %s", tt.name, tt.got, tt.want)
		}
	}
}

func TestDMLStatements(t *testing.T) {
	sqlite, pg := fakeGenerator(), fakePGGenerator()
	values := map[string]interface{}{"name": "a", "age": 3}
	byName := Where("name", OpILike, "%bo%")

	q, args := pg.InsertQuery(`"users"`, values, true)
	if q != `INSERT INTO "users" ("age", "name") VALUES ($1, $2) RETURNING *` {
		t.Errorf("insert = %s", q)
	}
	if !reflect.DeepEqual(args, []interface{}{3, "a"}) {
		t.Errorf("insert args = %v", args)
	}
	if q, _ := sqlite.InsertQuery(`"users"`, values, true); q != `INSERT INTO "users" ("age", "name") VALUES (?, ?)` {
		t.Errorf("insert without RETURNING support = %s", q)
	}
	if q, _ := sqlite.InsertQuery(`"users"`, nil, false); q != `INSERT INTO "users" DEFAULT VALUES` {
		t.Errorf("empty insert = %s", q)
	}

	q, args, err := pg.UpdateQuery(`"users"`, map[string]interface{}{"age": 4}, &byName, true)
	if err != nil {
		t.Fatalf("UpdateQuery: %v", err)
	}
	if q != `UPDATE "users" SET "age" = $1 WHERE "name" ILIKE $2 RETURNING *` {
		t.Errorf("update = %s", q)
	}
	if !reflect.DeepEqual(args, []interface{}{4, "%bo%"}) {
		t.Errorf("update args = %v", args)
	}
	q, _, _ = sqlite.UpdateQuery(`"users"`, map[string]interface{}{"age": 4}, &byName, true)
	if q != `UPDATE "users" SET "age" = ? WHERE LOWER("name") LIKE LOWER(?)` {
		t.Errorf("update without ILIKE = %s", q)
	}
	if _, _, err := pg.UpdateQuery(`"users"`, nil, nil, false); err == nil {
		t.Errorf("Expected an update without values to fail")
	}

	byID := Where("id", OpEq, 9)
	if q, args, _ := pg.DeleteQuery(`"users"`, &byID); q != `DELETE FROM "users" WHERE "id" = $1` || len(args) != 1 {
		t.Errorf("delete = %s %v", q, args)
	}
	if q, args, _ := pg.DeleteQuery(`"users"`, nil); q != `DELETE FROM "users"` || len(args) != 0 {
		t.Errorf("delete all = %s %v", q, args)
	}

	paged := Condition{Field: "age", Operator: ">", Value: 30, OrderBy: []string{"name"}, Limit: 5}
	q, args, err = pg.SelectQuery(`"users"`, []string{"id", "name"}, &paged)
	if err != nil {
		t.Fatalf("SelectQuery: %v", err)
	}
	if q != `SELECT "id", "name" FROM "users" WHERE "age" > $1 ORDER BY "name" LIMIT 5` || len(args) != 1 {
		t.Errorf("select = %s %v", q, args)
	}
	if _, _, err := pg.SelectQuery(`"users"`, []string{"id; --"}, nil); err == nil {
		t.Errorf("Expected an invalid column to fail")
	}

	q, _, err = pg.CountQuery(`"users"`, &paged)
	if err != nil || q != `SELECT COUNT(*) AS count FROM "users" WHERE "age" > $1` {
		t.Errorf("count = %s %v", q, err)
	}

	clause, args, _ := pg.WhereClause(&paged)
	if clause != `"age" > $1` || len(args) != 1 {
		t.Errorf("where = %s %v", clause, args)
	}
}

func TestBulkInsertQuery(t *testing.T) {
	old := MAX_MULTIPLE_INSERTS
	MAX_MULTIPLE_INSERTS = 2
	defer func() { MAX_MULTIPLE_INSERTS = old }()

	rows := [][]interface{}{{"a", 1}, {"b", 2}, {"c", 3}}
	statements := fakePGGenerator().BulkInsertQuery(`"users"`, []string{"name", "age"}, rows, true)
	if len(statements) != 2 {
		t.Fatalf("Expected 2 statements, got %d", len(statements))
	}
	if statements[0].Query != `INSERT INTO "users" ("name", "age") VALUES ($1, $2), ($3, $4) RETURNING *` {
		t.Errorf("first batch = %s", statements[0].Query)
	}
	if statements[1].Query != `INSERT INTO "users" ("name", "age") VALUES ($1, $2) RETURNING *` {
		t.Errorf("second batch = %s", statements[1].Query)
	}
	if !reflect.DeepEqual(statements[1].Values, []interface{}{"c", 3}) {
		t.Errorf("second batch values = %v", statements[1].Values)
	}

	if got := fakeGenerator().BulkInsertQuery(`"users"`, []string{"name"}, nil, false); got != nil {
		t.Errorf("Expected no statements without rows, got %v", got)
	}
}
