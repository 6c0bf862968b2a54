package orm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iancoleman/strcase"
	"github.com/jinzhu/inflection"
)

// DefaultValueFunc is a default computed on the client when a row is created.
type DefaultValueFunc string

const (
	DefaultNow    DefaultValueFunc = "NOW"
	DefaultUUIDV4 DefaultValueFunc = "UUIDV4"
)

// Reference is a foreign key. Set Model to point at a defined model (resolved at sync),
// or Table for a table the ORM does not manage. Key defaults to "id".
type Reference struct {
	Model    string
	Table    string
	Key      string
	OnDelete string // CASCADE, SET NULL, RESTRICT, NO ACTION
	OnUpdate string
}

// Attribute describes one column of a model.
type Attribute struct {
	Name          string
	Field         string // column name, derived from Name when empty
	Type          DataType
	AllowNull     *bool // nil means true, except for primary keys
	PrimaryKey    bool
	AutoIncrement bool
	Unique        bool
	DefaultValue  interface{} // literal, DefaultNow, DefaultUUIDV4 or func() interface{}
	References    *Reference
	Comment       string
	Validate      func(value interface{}) error
}

func (a *Attribute) allowsNull() bool {
	if a.PrimaryKey {
		return false
	}
	return a.AllowNull == nil || *a.AllowNull
}

// NotNull is shorthand for AllowNull: &false.
func NotNull() *bool {
	f := false
	return &f
}

// DefineOptions control how a model maps to its table. Instance wide defaults come from
// Options.Define, TableName is never inherited.
type DefineOptions struct {
	TableName       string `json:"table_name"        yaml:"table_name"`
	FreezeTableName bool   `json:"freeze_table_name" yaml:"freeze_table_name"`
	Underscored     bool   `json:"underscored"       yaml:"underscored"`
	Timestamps      *bool  `json:"timestamps"        yaml:"timestamps"` // nil means true
	Paranoid        bool   `json:"paranoid"          yaml:"paranoid"`
	Schema          string `json:"schema"            yaml:"schema"`
}

// Model is a defined table. It is safe for concurrent use once defined.
type Model struct {
	db      *DB
	name    string
	table   string
	schema  string
	options DefineOptions

	attributes []*Attribute
	byName     map[string]*Attribute
	byField    map[string]*Attribute
	primaryKey *Attribute

	createdAt string // attribute names, empty when not tracked
	updatedAt string
	deletedAt string
}

// Define registers a model. Without a primary key attribute an auto increment "id" is
// added. Timestamps add createdAt and updatedAt, Paranoid adds deletedAt (snake cased
// when Underscored).
//
//	users, err := db.Define("User", []orm.Attribute{
//		{Name: "email", Type: orm.StringType(120), AllowNull: orm.NotNull(), Unique: true},
//		{Name: "role", Type: orm.EnumType("admin", "member"), DefaultValue: "member"},
//	}, nil)
func (db *DB) Define(name string, attrs []Attribute, opts *DefineOptions) (*Model, error) {
	if err := ValidateIdentifier(name); err != nil {
		return nil, WrapError(err, "DEFINE", name)
	}
	if len(attrs) == 0 {
		return nil, WrapError(fmt.Errorf("%w: model %s has no attributes", ErrInvalidOptions, name), "DEFINE", name)
	}

	options := db.opts.Define
	options.TableName = ""
	if opts != nil {
		options.TableName = opts.TableName
		options.FreezeTableName = options.FreezeTableName || opts.FreezeTableName
		options.Underscored = options.Underscored || opts.Underscored
		options.Paranoid = options.Paranoid || opts.Paranoid
		if opts.Timestamps != nil {
			options.Timestamps = opts.Timestamps
		}
		if opts.Schema != "" {
			options.Schema = opts.Schema
		}
	}
	if options.Schema == "" {
		options.Schema = db.opts.Schema
	}

	m := &Model{
		db:      db,
		name:    name,
		table:   modelTableName(name, options),
		schema:  options.Schema,
		options: options,
		byName:  make(map[string]*Attribute),
		byField: make(map[string]*Attribute),
	}
	if err := ValidateIdentifier(m.table); err != nil {
		return nil, WrapError(err, "DEFINE", name)
	}

	for i := range attrs {
		a := attrs[i]
		if err := m.addAttribute(&a); err != nil {
			return nil, WrapError(err, "DEFINE", m.table)
		}
		if a.PrimaryKey && m.primaryKey == nil {
			m.primaryKey = m.byName[a.Name]
		}
	}
	if m.primaryKey == nil {
		id := &Attribute{Name: "id", Type: TypeInteger, PrimaryKey: true, AutoIncrement: true}
		if _, taken := m.byName["id"]; taken {
			return nil, WrapError(fmt.Errorf("%w: attribute id exists but is not a primary key", ErrInvalidOptions), "DEFINE", m.table)
		}
		if err := m.addAttribute(id); err != nil {
			return nil, WrapError(err, "DEFINE", m.table)
		}
		// primary key goes first
		m.attributes = append([]*Attribute{id}, m.attributes[:len(m.attributes)-1]...)
		m.primaryKey = id
	}

	if options.Timestamps == nil || *options.Timestamps {
		m.createdAt, m.updatedAt = "createdAt", "updatedAt"
		for _, ts := range []string{m.createdAt, m.updatedAt} {
			if err := m.addAttribute(&Attribute{Name: ts, Type: TypeDate, AllowNull: NotNull()}); err != nil {
				return nil, WrapError(err, "DEFINE", m.table)
			}
		}
	}
	if options.Paranoid {
		m.deletedAt = "deletedAt"
		if err := m.addAttribute(&Attribute{Name: m.deletedAt, Type: TypeDate}); err != nil {
			return nil, WrapError(err, "DEFINE", m.table)
		}
	}

	db.modelsMu.Lock()
	defer db.modelsMu.Unlock()
	if _, dup := db.models[name]; dup {
		return nil, WrapError(ErrModelAlreadyDefined, "DEFINE", name)
	}
	db.models[name] = m
	db.modelOrder = append(db.modelOrder, name)
	db.logger.Debug("model defined", String("model", name), String("table", m.table), Int("attributes", len(m.attributes)))
	return m, nil
}

func (m *Model) addAttribute(a *Attribute) error {
	if err := ValidateIdentifier(a.Name); err != nil {
		return err
	}
	if a.Field == "" {
		a.Field = a.Name
		if m.options.Underscored {
			a.Field = strcase.ToSnake(a.Name)
		}
	}
	if err := ValidateIdentifier(a.Field); err != nil {
		return err
	}
	if a.References != nil {
		ref := *a.References
		a.References = &ref
	}
	if a.Type.Key == "" {
		return fmt.Errorf("%w: attribute %s has no type", ErrInvalidOptions, a.Name)
	}
	if a.Type.Key == KeyEnum && len(a.Type.Values) == 0 {
		return fmt.Errorf("%w: enum attribute %s has no values", ErrInvalidOptions, a.Name)
	}
	if _, dup := m.byName[a.Name]; dup {
		return fmt.Errorf("%w: duplicate attribute %s", ErrInvalidOptions, a.Name)
	}
	if _, dup := m.byField[a.Field]; dup {
		return fmt.Errorf("%w: duplicate column %s", ErrInvalidOptions, a.Field)
	}
	m.attributes = append(m.attributes, a)
	m.byName[a.Name] = a
	m.byField[a.Field] = a
	return nil
}

// modelTableName pluralizes the model name unless the table name is frozen or given.
func modelTableName(name string, opts DefineOptions) string {
	if opts.TableName != "" {
		return opts.TableName
	}
	table := name
	if opts.Underscored {
		table = strcase.ToSnake(table)
	}
	if !opts.FreezeTableName {
		table = inflection.Plural(table)
	}
	return table
}

// Model returns a defined model by name.
func (db *DB) Model(name string) (*Model, error) {
	db.modelsMu.RLock()
	defer db.modelsMu.RUnlock()
	m, ok := db.models[name]
	if !ok {
		return nil, WrapError(ErrModelNotDefined, "MODEL", name)
	}
	return m, nil
}

// IsDefined reports whether a model with that name exists.
func (db *DB) IsDefined(name string) bool {
	db.modelsMu.RLock()
	defer db.modelsMu.RUnlock()
	_, ok := db.models[name]
	return ok
}

// Models returns the defined models in definition order.
func (db *DB) Models() []*Model {
	db.modelsMu.RLock()
	defer db.modelsMu.RUnlock()
	out := make([]*Model, 0, len(db.modelOrder))
	for _, name := range db.modelOrder {
		out = append(out, db.models[name])
	}
	return out
}

func (m *Model) Name() string      { return m.name }
func (m *Model) TableName() string { return m.table }
func (m *Model) Schema() string    { return m.schema }
func (m *Model) IsParanoid() bool  { return m.deletedAt != "" }

// PrimaryKey returns the primary key attribute.
func (m *Model) PrimaryKey() *Attribute { return m.primaryKey }

// Attributes returns the attributes in column order.
func (m *Model) Attributes() []Attribute {
	out := make([]Attribute, len(m.attributes))
	for i, a := range m.attributes {
		out[i] = *a
	}
	return out
}

// Attribute looks up an attribute by name or column name.
func (m *Model) Attribute(name string) (*Attribute, bool) {
	if a, ok := m.byName[name]; ok {
		return a, true
	}
	a, ok := m.byField[name]
	return a, ok
}

func (m *Model) quotedTable() string {
	return m.db.gen.QuoteTable(m.schema, m.table)
}

// FindOptions narrows FindAll, FindOne and Count.
type FindOptions struct {
	Where          *Condition
	Attributes     []string // names of the attributes to select, all when empty
	IncludeDeleted bool     // paranoid models only
}

// DestroyOptions narrows Destroy. Force deletes rows of paranoid models for real.
type DestroyOptions struct {
	Where *Condition
	Force bool
}

// Create validates values, applies defaults and timestamps, and inserts one row. The
// returned record is keyed by attribute name and carries the primary key. A generated
// key is left nil when the insert is queued until commit, as in rqlite transactions.
func (m *Model) Create(ctx context.Context, values map[string]interface{}) (DBRecord, error) {
	row, err := m.prepareInsert(values, time.Now().UTC())
	if err != nil {
		return DBRecord{}, err
	}
	query, args := m.db.gen.InsertQuery(m.quotedTable(), row, true)
	res, err := m.db.execute(ctx, QueryInsert, query, args, QueryOptions{})
	if err != nil {
		return DBRecord{}, WrapErrorWithQuery(err, "CREATE", m.table, query)
	}
	if len(res.Rows) > 0 {
		return m.toRecord(res.Rows[0]), nil
	}

	rec := m.toRecord(DBRecord{Data: row})
	if pk := m.primaryKey; pk.AutoIncrement && isNil(rec.Data[pk.Name]) && !res.Deferred {
		rec.Data[pk.Name] = res.LastInsertID
	}
	return rec, nil
}

// CreateFromStruct inserts a struct through Create.
func (m *Model) CreateFromStruct(ctx context.Context, obj TableStruct) (DBRecord, error) {
	rec, err := TableStructToDBRecord(obj)
	if err != nil {
		return DBRecord{}, err
	}
	return m.Create(ctx, rec.Data)
}

// BulkCreate inserts many rows in batches of MAX_MULTIPLE_INSERTS. When more than one
// batch is needed and no transaction is running, the batches share one transaction.
func (m *Model) BulkCreate(ctx context.Context, rows []map[string]interface{}) (DBRecords, error) {
	if len(rows) == 0 {
		return DBRecords{}, nil
	}
	now := time.Now().UTC()
	prepared := make([]map[string]interface{}, 0, len(rows))
	columnSet := make(map[string]struct{})
	for _, values := range rows {
		row, err := m.prepareInsert(values, now)
		if err != nil {
			return nil, err
		}
		for col := range row {
			columnSet[col] = struct{}{}
		}
		prepared = append(prepared, row)
	}
	columns := make([]string, 0, len(columnSet))
	for _, a := range m.attributes {
		if _, ok := columnSet[a.Field]; ok {
			columns = append(columns, a.Field)
		}
	}
	matrix := make([][]interface{}, 0, len(prepared))
	for _, row := range prepared {
		line := make([]interface{}, 0, len(columns))
		for _, col := range columns {
			line = append(line, row[col])
		}
		matrix = append(matrix, line)
	}

	statements := m.db.gen.BulkInsertQuery(m.quotedTable(), columns, matrix, true)
	run := func(ctx context.Context) (DBRecords, error) {
		var out DBRecords
		for _, st := range statements {
			res, err := m.db.execute(ctx, QueryInsert, st.Query, st.Values, QueryOptions{})
			if err != nil {
				return nil, WrapErrorWithQuery(err, "BULK_CREATE", m.table, st.Query)
			}
			for _, r := range res.Rows {
				out = append(out, m.toRecord(r))
			}
		}
		if len(out) == 0 {
			for _, row := range prepared {
				out = append(out, m.toRecord(DBRecord{Data: row}))
			}
		}
		return out, nil
	}

	if len(statements) == 1 || TransactionFromContext(ctx) != nil {
		return run(ctx)
	}
	var out DBRecords
	err := m.db.Transaction(ctx, func(ctx context.Context, _ *Transaction) error {
		var err error
		out, err = run(ctx)
		return err
	}, nil)
	return out, err
}

// FindAll selects rows. Soft deleted rows of paranoid models are skipped unless
// IncludeDeleted is set. Condition fields may use attribute or column names.
func (m *Model) FindAll(ctx context.Context, opts *FindOptions) (DBRecords, error) {
	if opts == nil {
		opts = &FindOptions{}
	}
	where, err := m.scopedCondition(opts.Where, opts.IncludeDeleted)
	if err != nil {
		return nil, WrapError(err, "FIND", m.table)
	}
	columns, err := m.columnsFor(opts.Attributes)
	if err != nil {
		return nil, WrapError(err, "FIND", m.table)
	}
	query, args, err := m.db.gen.SelectQuery(m.quotedTable(), columns, where)
	if err != nil {
		return nil, WrapError(err, "FIND", m.table)
	}
	res, err := m.db.execute(ctx, QuerySelect, query, args, QueryOptions{})
	if err != nil {
		return nil, WrapErrorWithQuery(err, "FIND", m.table, query)
	}
	out := make(DBRecords, 0, len(res.Rows))
	for _, r := range res.Rows {
		out = append(out, m.toRecord(r))
	}
	return out, nil
}

// FindOne returns the first matching row or ErrSQLNoRows.
func (m *Model) FindOne(ctx context.Context, opts *FindOptions) (DBRecord, error) {
	o := FindOptions{}
	if opts != nil {
		o = *opts
	}
	where := Condition{}
	if o.Where != nil {
		where = *o.Where
	}
	where.Limit = 1
	where.Offset = 0
	o.Where = &where

	rows, err := m.FindAll(ctx, &o)
	if err != nil {
		return DBRecord{}, err
	}
	if len(rows) == 0 {
		return DBRecord{}, WrapError(ErrSQLNoRows, "FIND", m.table)
	}
	return rows[0], nil
}

// FindByPk returns the row with the given primary key or ErrSQLNoRows.
func (m *Model) FindByPk(ctx context.Context, pk interface{}, opts *FindOptions) (DBRecord, error) {
	if isNil(pk) {
		return DBRecord{}, WrapError(ErrMissingPrimaryKey, "FIND", m.table)
	}
	o := FindOptions{}
	if opts != nil {
		o = *opts
	}
	o.Where = &Condition{Field: m.primaryKey.Field, Operator: OpEq, Value: pk}
	return m.FindOne(ctx, &o)
}

// Count returns the number of matching rows.
func (m *Model) Count(ctx context.Context, opts *FindOptions) (int, error) {
	if opts == nil {
		opts = &FindOptions{}
	}
	where, err := m.scopedCondition(opts.Where, opts.IncludeDeleted)
	if err != nil {
		return 0, WrapError(err, "COUNT", m.table)
	}
	query, args, err := m.db.gen.CountQuery(m.quotedTable(), where)
	if err != nil {
		return 0, WrapError(err, "COUNT", m.table)
	}
	res, err := m.db.execute(ctx, QuerySelect, query, args, QueryOptions{})
	if err != nil {
		return 0, WrapErrorWithQuery(err, "COUNT", m.table, query)
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}
	return toInt(res.Rows[0].Data["count"]), nil
}

// Update changes matching rows and returns how many were affected. A where condition is
// required; use an explicit always-true condition to update every row.
func (m *Model) Update(ctx context.Context, values map[string]interface{}, where *Condition) (int, error) {
	if where.IsEmpty() {
		return 0, WrapError(fmt.Errorf("%w: update needs a where condition", ErrInvalidOptions), "UPDATE", m.table)
	}
	row, err := m.prepareUpdate(values, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	scoped, err := m.scopedCondition(where, false)
	if err != nil {
		return 0, WrapError(err, "UPDATE", m.table)
	}
	query, args, err := m.db.gen.UpdateQuery(m.quotedTable(), row, scoped, false)
	if err != nil {
		return 0, WrapError(err, "UPDATE", m.table)
	}
	res, err := m.db.execute(ctx, QueryUpdate, query, args, QueryOptions{})
	if err != nil {
		return 0, WrapErrorWithQuery(err, "UPDATE", m.table, query)
	}
	return res.RowsAffected, nil
}

// Destroy deletes matching rows. Paranoid models get deletedAt set instead, unless Force.
// A nil Where matches every row.
func (m *Model) Destroy(ctx context.Context, opts *DestroyOptions) (int, error) {
	if opts == nil {
		opts = &DestroyOptions{}
	}
	if m.IsParanoid() && !opts.Force {
		scoped, err := m.scopedCondition(opts.Where, false)
		if err != nil {
			return 0, WrapError(err, "DESTROY", m.table)
		}
		set := map[string]interface{}{m.byName[m.deletedAt].Field: time.Now().UTC()}
		query, args, err := m.db.gen.UpdateQuery(m.quotedTable(), set, scoped, false)
		if err != nil {
			return 0, WrapError(err, "DESTROY", m.table)
		}
		res, err := m.db.execute(ctx, QueryBulkUpdate, query, args, QueryOptions{})
		if err != nil {
			return 0, WrapErrorWithQuery(err, "DESTROY", m.table, query)
		}
		return res.RowsAffected, nil
	}

	where, err := m.mapCondition(opts.Where)
	if err != nil {
		return 0, WrapError(err, "DESTROY", m.table)
	}
	query, args, err := m.db.gen.DeleteQuery(m.quotedTable(), where)
	if err != nil {
		return 0, WrapError(err, "DESTROY", m.table)
	}
	res, err := m.db.execute(ctx, QueryBulkDelete, query, args, QueryOptions{})
	if err != nil {
		return 0, WrapErrorWithQuery(err, "DESTROY", m.table, query)
	}
	return res.RowsAffected, nil
}

// Restore clears deletedAt on soft deleted rows of a paranoid model.
func (m *Model) Restore(ctx context.Context, where *Condition) (int, error) {
	if !m.IsParanoid() {
		return 0, WrapError(fmt.Errorf("%w: model %s is not paranoid", ErrInvalidOptions, m.name), "RESTORE", m.table)
	}
	deleted := Condition{Field: m.byName[m.deletedAt].Field, Operator: OpIsNotNull}
	filter := &deleted
	if !where.IsEmpty() {
		mapped, err := m.mapCondition(where)
		if err != nil {
			return 0, WrapError(err, "RESTORE", m.table)
		}
		filter = &Condition{Logic: "AND", Nested: []Condition{*mapped, deleted}}
	}
	set := map[string]interface{}{m.byName[m.deletedAt].Field: nil}
	query, args, err := m.db.gen.UpdateQuery(m.quotedTable(), set, filter, false)
	if err != nil {
		return 0, WrapError(err, "RESTORE", m.table)
	}
	res, err := m.db.execute(ctx, QueryBulkUpdate, query, args, QueryOptions{})
	if err != nil {
		return 0, WrapErrorWithQuery(err, "RESTORE", m.table, query)
	}
	return res.RowsAffected, nil
}

// Truncate removes every row, soft delete does not apply.
func (m *Model) Truncate(ctx context.Context, cascade bool) error {
	query := m.db.gen.TruncateQuery(m.quotedTable(), cascade)
	if _, err := m.db.execute(ctx, QueryRaw, query, nil, QueryOptions{}); err != nil {
		return WrapErrorWithQuery(err, "TRUNCATE", m.table, query)
	}
	return nil
}

// prepareInsert maps values to columns, fills defaults and timestamps and validates.
func (m *Model) prepareInsert(values map[string]interface{}, now time.Time) (map[string]interface{}, error) {
	verr := &ValidationError{Model: m.name}
	row := make(map[string]interface{}, len(m.attributes))
	for key, value := range values {
		a, ok := m.Attribute(key)
		if !ok {
			verr.add(key, "unknown attribute")
			continue
		}
		if isNil(value) && m.db.opts.OmitNull {
			continue
		}
		row[a.Field] = value
	}

	for _, a := range m.attributes {
		if a.Name == m.createdAt || a.Name == m.updatedAt {
			if isNil(row[a.Field]) {
				row[a.Field] = now
			}
			continue
		}
		value, set := row[a.Field]
		if !set || isNil(value) {
			if def, ok := defaultValue(a.DefaultValue, now); ok {
				row[a.Field] = def
				continue
			}
			if !a.allowsNull() && !a.AutoIncrement {
				verr.add(a.Name, "cannot be null")
			}
			continue
		}
		checkAttribute(verr, a, value)
	}
	if len(verr.Items) > 0 {
		return nil, verr
	}
	return row, nil
}

// prepareUpdate validates only the given values and bumps updatedAt.
func (m *Model) prepareUpdate(values map[string]interface{}, now time.Time) (map[string]interface{}, error) {
	verr := &ValidationError{Model: m.name}
	row := make(map[string]interface{}, len(values)+1)
	for key, value := range values {
		a, ok := m.Attribute(key)
		if !ok {
			verr.add(key, "unknown attribute")
			continue
		}
		if isNil(value) {
			if !a.allowsNull() {
				verr.add(a.Name, "cannot be null")
			}
			row[a.Field] = nil
			continue
		}
		checkAttribute(verr, a, value)
		row[a.Field] = value
	}
	if m.updatedAt != "" {
		if a := m.byName[m.updatedAt]; isNil(row[a.Field]) {
			row[a.Field] = now
		}
	}
	if len(verr.Items) > 0 {
		return nil, verr
	}
	if len(row) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidOptions)
	}
	return row, nil
}

func checkAttribute(verr *ValidationError, a *Attribute, value interface{}) {
	if reason := a.Type.check(value); reason != "" {
		verr.add(a.Name, reason)
		return
	}
	if a.Validate != nil {
		if err := a.Validate(value); err != nil {
			verr.add(a.Name, err.Error())
		}
	}
}

func defaultValue(def interface{}, now time.Time) (interface{}, bool) {
	switch d := def.(type) {
	case nil:
		return nil, false
	case DefaultValueFunc:
		switch d {
		case DefaultNow:
			return now, true
		case DefaultUUIDV4:
			return uuid.NewString(), true
		}
		return nil, false
	case func() interface{}:
		return d(), true
	default:
		return d, true
	}
}

// scopedCondition maps attribute names to columns and hides soft deleted rows.
func (m *Model) scopedCondition(where *Condition, includeDeleted bool) (*Condition, error) {
	mapped, err := m.mapCondition(where)
	if err != nil {
		return nil, err
	}
	if !m.IsParanoid() || includeDeleted {
		return mapped, nil
	}
	alive := Condition{Field: m.byName[m.deletedAt].Field, Operator: OpIsNull}
	if mapped == nil {
		return &alive, nil
	}
	scoped := &Condition{
		Logic:   "AND",
		OrderBy: mapped.OrderBy,
		GroupBy: mapped.GroupBy,
		Limit:   mapped.Limit,
		Offset:  mapped.Offset,
	}
	filter := Condition{Field: mapped.Field, Operator: mapped.Operator, Value: mapped.Value, Logic: mapped.Logic, Nested: mapped.Nested}
	if filter.IsEmpty() {
		scoped.Nested = []Condition{alive}
	} else {
		scoped.Nested = []Condition{filter, alive}
	}
	return scoped, nil
}

// mapCondition returns a copy of where with attribute names replaced by column names.
func (m *Model) mapCondition(where *Condition) (*Condition, error) {
	if where == nil {
		return nil, nil
	}
	out := *where
	if out.Field != "" {
		if a, ok := m.Attribute(out.Field); ok {
			out.Field = a.Field
		}
	}
	if len(where.Nested) > 0 {
		out.Nested = make([]Condition, len(where.Nested))
		for i := range where.Nested {
			sub, err := m.mapCondition(&where.Nested[i])
			if err != nil {
				return nil, err
			}
			out.Nested[i] = *sub
		}
	}
	if len(where.OrderBy) > 0 {
		out.OrderBy = make([]string, len(where.OrderBy))
		for i, o := range where.OrderBy {
			out.OrderBy[i] = m.mapOrder(o)
		}
	}
	if len(where.GroupBy) > 0 {
		out.GroupBy = make([]string, len(where.GroupBy))
		for i, g := range where.GroupBy {
			if a, ok := m.Attribute(g); ok {
				g = a.Field
			}
			out.GroupBy[i] = g
		}
	}
	return &out, nil
}

func (m *Model) mapOrder(order string) string {
	match := orderRegex.FindStringSubmatch(order)
	if match == nil {
		return order
	}
	a, ok := m.Attribute(match[2])
	if !ok {
		return order
	}
	return match[1] + a.Field + match[3] + match[5]
}

func (m *Model) columnsFor(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	columns := make([]string, 0, len(names))
	for _, n := range names {
		a, ok := m.Attribute(n)
		if !ok {
			return nil, fmt.Errorf("%w: unknown attribute %s", ErrColumnNotFound, n)
		}
		columns = append(columns, a.Field)
	}
	return columns, nil
}

// toRecord renames columns to attribute names.
func (m *Model) toRecord(rec DBRecord) DBRecord {
	data := make(map[string]interface{}, len(rec.Data))
	for key, value := range rec.Data {
		if a, ok := m.byField[key]; ok {
			key = a.Name
		}
		data[key] = value
	}
	return DBRecord{TableName: m.table, Data: data}
}
