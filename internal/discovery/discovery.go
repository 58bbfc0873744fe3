package discovery

import (
	"context"
	"fmt"
	"sort"

	"github.com/schemaguard/schemaguard/internal/config"
	"github.com/schemaguard/schemaguard/internal/schema"
)

// Discoverer reads the live schema of a source database.
type Discoverer interface {
	// Connect establishes a read-only connection to the source database.
	Connect(ctx context.Context) error

	// Discover extracts every table into a snapshot, one module per
	// database schema or a single module.
	Discover(ctx context.Context) (*schema.Snapshot, error)

	// Close closes the database connection.
	Close() error
}

// Options control how database schemas map to modules.
type Options struct {
	// Schemas limits discovery to these database schemas. Empty means the
	// source's configured schema, or every user schema with SchemaPerModule.
	Schemas []string
	// SchemaPerModule turns each database schema into a module.
	SchemaPerModule bool
	// Module names the single module when SchemaPerModule is off.
	Module string
}

func (o Options) moduleFor(dbSchema string) string {
	if o.SchemaPerModule || o.Module == "" {
		return dbSchema
	}
	return o.Module
}

// New creates a Discoverer for the given source configuration.
func New(cfg *config.SourceConfig, opts Options) (Discoverer, error) {
	switch cfg.Type {
	case "postgresql":
		return NewPostgres(cfg, opts)
	case "oracle":
		return NewOracle(cfg, opts)
	case "sqlite":
		return NewSQLite(cfg, opts)
	default:
		return nil, &UnsupportedDBError{DBType: cfg.Type}
	}
}

// UnsupportedDBError is returned when the source DB type is not supported.
type UnsupportedDBError struct {
	DBType string
}

func (e *UnsupportedDBError) Error() string {
	return "unsupported database type: " + e.DBType
}

// Run connects, discovers and validates a snapshot, closing the connection
// before it returns.
func Run(ctx context.Context, d Discoverer) (*schema.Snapshot, error) {
	if err := d.Connect(ctx); err != nil {
		return nil, err
	}
	defer d.Close()

	snap, err := d.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(snap); err != nil {
		return nil, fmt.Errorf("discovered schema: %w", err)
	}
	return snap, nil
}

type tableKey struct{ module, table string }

// tableSet accumulates discovered tables in discovery order.
type tableSet struct {
	tables map[tableKey]*schema.Table
	order  []tableKey
}

func newTableSet() *tableSet {
	return &tableSet{tables: make(map[tableKey]*schema.Table)}
}

func (s *tableSet) add(module, table string) {
	k := tableKey{module, table}
	if _, ok := s.tables[k]; ok {
		return
	}
	s.tables[k] = &schema.Table{Name: table}
	s.order = append(s.order, k)
}

func (s *tableSet) get(module, table string) (*schema.Table, bool) {
	t, ok := s.tables[tableKey{module, table}]
	return t, ok
}

func (s *tableSet) snapshot() *schema.Snapshot {
	modules := make(map[string][]schema.Table)
	for _, k := range s.order {
		modules[k.module] = append(modules[k.module], *s.tables[k])
	}
	for name := range modules {
		tables := modules[name]
		sort.SliceStable(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	}
	return schema.New(modules)
}

// fkRow is one column pair of a possibly composite foreign key.
type fkRow struct {
	module, table, constraint string
	column                    string
	refModule, refTable       string
	refColumn                 string
}

// addForeignKeys groups rows by constraint and attaches them to their tables.
func (s *tableSet) addForeignKeys(rows []fkRow) {
	type fkKey struct{ module, table, constraint string }
	grouped := make(map[fkKey]*schema.Constraint)
	var order []fkKey

	for _, r := range rows {
		k := fkKey{r.module, r.table, r.constraint}
		fk, exists := grouped[k]
		if !exists {
			fk = &schema.Constraint{
				Name:             r.constraint,
				Type:             schema.ForeignKey,
				ReferencedModule: r.refModule,
				ReferencedTable:  r.refTable,
			}
			grouped[k] = fk
			order = append(order, k)
		}
		fk.Columns = append(fk.Columns, r.column)
		if r.refColumn != "" {
			fk.ReferencedColumns = append(fk.ReferencedColumns, r.refColumn)
		}
	}

	for _, k := range order {
		if t, ok := s.get(k.module, k.table); ok {
			t.Constraints = append(t.Constraints, *grouped[k])
		}
	}
}

// indexRow is one column of a possibly composite index.
type indexRow struct {
	module, table, index string
	unique               bool
	column               string
}

func (s *tableSet) addIndexes(rows []indexRow) {
	type idxKey struct{ module, table, index string }
	grouped := make(map[idxKey]*schema.Index)
	var order []idxKey

	for _, r := range rows {
		k := idxKey{r.module, r.table, r.index}
		idx, exists := grouped[k]
		if !exists {
			idx = &schema.Index{Name: r.index, Unique: r.unique}
			grouped[k] = idx
			order = append(order, k)
		}
		if r.column != "" {
			idx.Columns = append(idx.Columns, r.column)
		}
	}

	for _, k := range order {
		idx := grouped[k]
		// Expression indexes have no plain columns to compare.
		if len(idx.Columns) == 0 {
			continue
		}
		if t, ok := s.get(k.module, k.table); ok {
			t.Indexes = append(t.Indexes, *idx)
		}
	}
}
