package orm

import (
	"context"
	"fmt"
	"strings"
)

// Sync creates the tables of every defined model, referenced tables first. Force drops
// them first (in reverse order), Alter adds missing columns to existing tables. With
// Match set, nothing happens unless the database name matches.
//
//	err := db.Sync(ctx, &orm.SyncOptions{Force: true, Match: regexp.MustCompile(`_test$`)})
func (db *DB) Sync(ctx context.Context, opts *SyncOptions) error {
	o := db.syncOptions(opts)
	if err := db.checkSyncMatch(o); err != nil {
		return err
	}
	ordered, err := db.syncOrder()
	if err != nil {
		return WrapError(err, "SYNC", "")
	}

	if o.Force {
		for i := len(ordered) - 1; i >= 0; i-- {
			if err := ordered[i].drop(ctx, o.Schema, true, false); err != nil {
				return err
			}
		}
	}
	for _, m := range ordered {
		if err := m.create(ctx, o); err != nil {
			return err
		}
	}
	db.logger.Info("models synchronized", Int("models", len(ordered)), Bool("force", o.Force), Bool("alter", o.Alter))
	return nil
}

// Drop drops the tables of every defined model, dependents first.
func (db *DB) Drop(ctx context.Context, opts *DropOptions) error {
	o := DropOptions{}
	if opts != nil {
		o = *opts
	}
	ordered, err := db.syncOrder()
	if err != nil {
		return WrapError(err, "DROP", "")
	}
	for i := len(ordered) - 1; i >= 0; i-- {
		if err := ordered[i].drop(ctx, "", true, o.Cascade); err != nil {
			return err
		}
	}
	db.logger.Info("models dropped", Int("models", len(ordered)))
	return nil
}

// Sync creates (or with Force recreates, with Alter extends) the table of this model.
func (m *Model) Sync(ctx context.Context, opts *SyncOptions) error {
	o := m.db.syncOptions(opts)
	if err := m.db.checkSyncMatch(o); err != nil {
		return err
	}
	if err := m.db.resolveReferences(m); err != nil {
		return WrapError(err, "SYNC", m.table)
	}
	if o.Force {
		if err := m.drop(ctx, o.Schema, true, false); err != nil {
			return err
		}
	}
	return m.create(ctx, o)
}

// Drop drops the table of this model if it exists.
func (m *Model) Drop(ctx context.Context, opts *DropOptions) error {
	cascade := opts != nil && opts.Cascade
	return m.drop(ctx, "", true, cascade)
}

func (db *DB) syncOptions(opts *SyncOptions) SyncOptions {
	if opts != nil {
		return *opts
	}
	return db.opts.Sync
}

func (db *DB) checkSyncMatch(o SyncOptions) error {
	if o.Match != nil && !o.Match.MatchString(db.opts.Database) {
		return WrapErrorWithFields(ErrSyncMatchFailed, "SYNC", "", map[string]interface{}{
			"database": db.opts.Database,
			"match":    o.Match.String(),
		})
	}
	return nil
}

// tableIn quotes the model table, placed in schema when the model has none of its own.
func (m *Model) tableIn(schema string) string {
	if m.schema != "" || schema == "" {
		return m.quotedTable()
	}
	return m.db.gen.QuoteTable(schema, m.table)
}

func (m *Model) create(ctx context.Context, o SyncOptions) error {
	table := m.tableIn(o.Schema)
	if o.Alter && !o.Force {
		schema := m.schema
		if schema == "" {
			schema = o.Schema
		}
		existing, err := m.db.describe(ctx, schema, m.table)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return m.alter(ctx, table, existing)
		}
	}

	query := m.db.gen.CreateTableQuery(table, m.attributes, true)
	if _, err := m.db.execute(ctx, QueryRaw, query, nil, QueryOptions{}); err != nil {
		return WrapErrorWithQuery(err, "SYNC", m.table, query)
	}
	m.db.logger.Debug("table synchronized", String("table", m.table))
	return nil
}

// alter adds the columns the table lacks. Columns are never dropped or changed.
func (m *Model) alter(ctx context.Context, table string, existing map[string]ColumnDescription) error {
	present := make(map[string]bool, len(existing))
	for col := range existing {
		present[strings.ToLower(col)] = true
	}
	for _, a := range m.attributes {
		if present[strings.ToLower(a.Field)] {
			continue
		}
		query := m.db.gen.AddColumnQuery(table, a)
		if _, err := m.db.execute(ctx, QueryRaw, query, nil, QueryOptions{}); err != nil {
			return WrapErrorWithQuery(err, "SYNC", m.table, query)
		}
		m.db.logger.Info("column added", String("table", m.table), String("column", a.Field))
	}
	return nil
}

func (m *Model) drop(ctx context.Context, schema string, ifExists, cascade bool) error {
	query := m.db.gen.DropTableQuery(m.tableIn(schema), ifExists, cascade)
	if _, err := m.db.execute(ctx, QueryRaw, query, nil, QueryOptions{}); err != nil {
		return WrapErrorWithQuery(err, "DROP", m.table, query)
	}
	m.db.logger.Debug("table dropped", String("table", m.table))
	return nil
}

// syncOrder resolves references and sorts models so referenced tables come first.
// Ties keep definition order. Self references are allowed, longer cycles are not.
func (db *DB) syncOrder() ([]*Model, error) {
	models := db.Models()
	for _, m := range models {
		if err := db.resolveReferences(m); err != nil {
			return nil, err
		}
	}

	byTable := make(map[string]*Model, len(models))
	for _, m := range models {
		byTable[m.table] = m
	}
	deps := make(map[*Model][]*Model, len(models))
	for _, m := range models {
		for _, a := range m.attributes {
			if a.References == nil {
				continue
			}
			target, ok := byTable[refTableName(a.References.Table)]
			if !ok || target == m {
				continue
			}
			deps[m] = append(deps[m], target)
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[*Model]int, len(models))
	ordered := make([]*Model, 0, len(models))
	var visit func(m *Model, path []string) error
	visit = func(m *Model, path []string) error {
		switch state[m] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: %s", ErrCyclicReference, strings.Join(append(path, m.name), " -> "))
		}
		state[m] = visiting
		for _, dep := range deps[m] {
			if err := visit(dep, append(path, m.name)); err != nil {
				return err
			}
		}
		state[m] = done
		ordered = append(ordered, m)
		return nil
	}
	for _, m := range models {
		if err := visit(m, nil); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// resolveReferences fills Reference.Table from Reference.Model.
func (db *DB) resolveReferences(m *Model) error {
	db.modelsMu.Lock()
	defer db.modelsMu.Unlock()
	for _, a := range m.attributes {
		ref := a.References
		if ref == nil || ref.Model == "" {
			continue
		}
		target, ok := db.models[ref.Model]
		if !ok {
			return fmt.Errorf("%w: %s referenced by %s.%s", ErrModelNotDefined, ref.Model, m.name, a.Name)
		}
		ref.Table = target.table
		if target.schema != "" {
			ref.Table = target.schema + "." + target.table
		}
		if ref.Key == "" {
			ref.Key = target.primaryKey.Field
		}
	}
	return nil
}

// refTableName strips the schema from a reference target.
func refTableName(table string) string {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[i+1:]
	}
	return table
}
