package discovery

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/schemaguard/schemaguard/internal/config"
	"github.com/schemaguard/schemaguard/internal/schema"
)

// SQLite implements Discoverer for a SQLite database file. The whole file
// becomes one module. Check constraints are not exposed by SQLite's
// catalog and are not discovered.
type SQLite struct {
	cfg    *config.SourceConfig
	module string
	db     *sql.DB
}

// NewSQLite creates a new SQLite discoverer.
func NewSQLite(cfg *config.SourceConfig, opts Options) (*SQLite, error) {
	module := opts.Module
	if module == "" {
		module = "main"
	}
	return &SQLite{cfg: cfg, module: module}, nil
}

func (s *SQLite) Connect(ctx context.Context) error {
	dsn, err := s.cfg.DSN()
	if err != nil {
		return err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("opening SQLite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("pinging SQLite: %w", err)
	}
	s.db = db
	return nil
}

func (s *SQLite) Discover(ctx context.Context) (*schema.Snapshot, error) {
	if s.db == nil {
		return nil, fmt.Errorf("not connected; call Connect first")
	}

	names, err := s.tableNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering tables: %w", err)
	}

	set := newTableSet()
	var fkRows []fkRow
	for _, name := range names {
		set.add(s.module, name)
		t, _ := set.get(s.module, name)

		if err := s.discoverColumns(ctx, t); err != nil {
			return nil, fmt.Errorf("discovering columns of %s: %w", name, err)
		}
		rows, err := s.foreignKeys(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("discovering foreign keys of %s: %w", name, err)
		}
		fkRows = append(fkRows, rows...)
		if err := s.discoverIndexes(ctx, t); err != nil {
			return nil, fmt.Errorf("discovering indexes of %s: %w", name, err)
		}
	}

	// A foreign key without target columns references the primary key.
	for i, r := range fkRows {
		if r.refColumn != "" {
			continue
		}
		if ref, ok := set.get(s.module, r.refTable); ok {
			if pk := primaryKeyColumns(ref); len(pk) > 0 {
				fkRows[i].refColumn = pk[0]
			}
		}
	}
	set.addForeignKeys(fkRows)

	return set.snapshot(), nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

func (s *SQLite) tableNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *SQLite) discoverColumns(ctx context.Context, t *schema.Table) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	type pkCol struct {
		pos  int
		name string
	}
	var pk []pkCol
	for rows.Next() {
		var (
			name, dataType string
			notNull, pkPos int
			defaultVal     sql.NullString
		)
		if err := rows.Scan(&name, &dataType, &notNull, &defaultVal, &pkPos); err != nil {
			return err
		}
		col := schema.Column{
			Name:     name,
			DataType: strings.ToLower(dataType),
			Nullable: notNull == 0 && pkPos == 0,
		}
		if col.DataType == "" {
			col.DataType = "blob"
		}
		if defaultVal.Valid {
			v := defaultVal.String
			col.DefaultValue = &v
		}
		t.Columns = append(t.Columns, col)
		if pkPos > 0 {
			pk = append(pk, pkCol{pkPos, name})
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(pk) > 0 {
		sort.Slice(pk, func(i, j int) bool { return pk[i].pos < pk[j].pos })
		c := schema.Constraint{Type: schema.PrimaryKey}
		for _, p := range pk {
			c.Columns = append(c.Columns, p.name)
		}
		t.Constraints = append(t.Constraints, c)
	}
	return nil
}

func (s *SQLite) foreignKeys(ctx context.Context, table string) ([]fkRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, "table", "from", "to" FROM pragma_foreign_key_list(?) ORDER BY id, seq`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fkRow
	for rows.Next() {
		var (
			id             int
			refTable, from string
			to             sql.NullString
		)
		if err := rows.Scan(&id, &refTable, &from, &to); err != nil {
			return nil, err
		}
		out = append(out, fkRow{
			module:     s.module,
			table:      table,
			constraint: fmt.Sprintf("%s_fk%d", table, id),
			column:     from,
			refModule:  s.module,
			refTable:   refTable,
			refColumn:  to.String,
		})
	}
	return out, rows.Err()
}

// discoverIndexes splits SQLite's index list into explicit indexes and
// UNIQUE constraints. Primary key indexes are skipped.
func (s *SQLite) discoverIndexes(ctx context.Context, t *schema.Table) error {
	type entry struct {
		name   string
		unique bool
		origin string
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, "unique", origin FROM pragma_index_list(?) ORDER BY name`, t.Name)
	if err != nil {
		return err
	}
	var entries []entry
	for rows.Next() {
		var (
			e      entry
			unique int
		)
		if err := rows.Scan(&e.name, &unique, &e.origin); err != nil {
			rows.Close()
			return err
		}
		e.unique = unique == 1
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, e := range entries {
		if e.origin == "pk" {
			continue
		}
		cols, err := s.indexColumns(ctx, e.name)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			continue
		}
		if e.origin == "u" {
			t.Constraints = append(t.Constraints, schema.Constraint{Type: schema.Unique, Columns: cols})
			continue
		}
		t.Indexes = append(t.Indexes, schema.Index{Name: e.name, Unique: e.unique, Columns: cols})
	}
	return nil
}

func (s *SQLite) indexColumns(ctx context.Context, index string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_index_info(?) ORDER BY seqno`, index)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}

func primaryKeyColumns(t *schema.Table) []string {
	for _, c := range t.Constraints {
		if c.Type == schema.PrimaryKey {
			return c.Columns
		}
	}
	return nil
}

// compile-time interface check
var _ Discoverer = (*SQLite)(nil)
