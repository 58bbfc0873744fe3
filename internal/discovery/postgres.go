package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schemaguard/schemaguard/internal/config"
	"github.com/schemaguard/schemaguard/internal/schema"
)

// Postgres implements Discoverer for PostgreSQL databases.
type Postgres struct {
	cfg     *config.SourceConfig
	opts    Options
	pool    *pgxpool.Pool
	schemas []string
}

// NewPostgres creates a new PostgreSQL discoverer.
func NewPostgres(cfg *config.SourceConfig, opts Options) (*Postgres, error) {
	if len(opts.Schemas) == 0 && !opts.SchemaPerModule {
		s := cfg.Schema
		if s == "" {
			s = "public"
		}
		opts.Schemas = []string{s}
	}
	if len(opts.Schemas) > 1 && !opts.SchemaPerModule {
		return nil, fmt.Errorf("discovering %d schemas into one module requires schema_per_module", len(opts.Schemas))
	}
	return &Postgres{cfg: cfg, opts: opts}, nil
}

func (p *Postgres) Connect(ctx context.Context) error {
	connStr, err := p.cfg.DSN()
	if err != nil {
		return err
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return fmt.Errorf("parsing connection string: %w", err)
	}
	poolCfg.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("pinging PostgreSQL: %w", err)
	}

	p.pool = pool
	return nil
}

func (p *Postgres) Discover(ctx context.Context) (*schema.Snapshot, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("not connected; call Connect first")
	}

	schemas := p.opts.Schemas
	if len(schemas) == 0 {
		var err error
		if schemas, err = p.userSchemas(ctx); err != nil {
			return nil, fmt.Errorf("listing schemas: %w", err)
		}
	}
	p.schemas = schemas

	set := newTableSet()
	if err := p.discoverTables(ctx, set); err != nil {
		return nil, fmt.Errorf("discovering tables: %w", err)
	}
	if err := p.discoverColumns(ctx, set); err != nil {
		return nil, fmt.Errorf("discovering columns: %w", err)
	}
	if err := p.discoverConstraints(ctx, set); err != nil {
		return nil, fmt.Errorf("discovering constraints: %w", err)
	}
	if err := p.discoverIndexes(ctx, set); err != nil {
		return nil, fmt.Errorf("discovering indexes: %w", err)
	}

	return set.snapshot(), nil
}

func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}

func (p *Postgres) userSchemas(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT nspname
		FROM pg_namespace
		WHERE nspname NOT IN ('pg_catalog', 'information_schema')
		  AND nspname NOT LIKE 'pg_toast%'
		  AND nspname NOT LIKE 'pg_temp%'
		ORDER BY nspname`)
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

// discoverTables lists ordinary and partitioned parent tables.
func (p *Postgres) discoverTables(ctx context.Context, set *tableSet) error {
	query := `
		SELECT n.nspname, c.relname
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = ANY($1)
		  AND c.relkind IN ('r', 'p')
		  AND NOT c.relispartition
		ORDER BY n.nspname, c.relname`

	rows, err := p.pool.Query(ctx, query, p.schemas)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var nsp, name string
		if err := rows.Scan(&nsp, &name); err != nil {
			return err
		}
		set.add(p.opts.moduleFor(nsp), name)
	}
	return rows.Err()
}

// discoverColumns reads columns with their full declared type, such as
// character varying(255) or numeric(10,2).
func (p *Postgres) discoverColumns(ctx context.Context, set *tableSet) error {
	query := `
		SELECT
			n.nspname,
			c.relname,
			a.attname::text,
			format_type(a.atttypid, a.atttypmod),
			NOT a.attnotnull,
			pg_get_expr(d.adbin, d.adrelid)
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
		WHERE n.nspname = ANY($1)
		  AND c.relkind IN ('r', 'p')
		  AND a.attnum > 0
		  AND NOT a.attisdropped
		ORDER BY n.nspname, c.relname, a.attnum`

	rows, err := p.pool.Query(ctx, query, p.schemas)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			nsp, table, name, dataType string
			nullable                   bool
			defaultVal                 *string
		)
		if err := rows.Scan(&nsp, &table, &name, &dataType, &nullable, &defaultVal); err != nil {
			return err
		}
		t, ok := set.get(p.opts.moduleFor(nsp), table)
		if !ok {
			continue
		}
		t.Columns = append(t.Columns, schema.Column{
			Name:         name,
			DataType:     dataType,
			Nullable:     nullable,
			DefaultValue: defaultVal,
		})
	}
	return rows.Err()
}

// discoverConstraints reads primary key, unique, foreign key and check
// constraints. Column lists keep their declared order.
func (p *Postgres) discoverConstraints(ctx context.Context, set *tableSet) error {
	query := `
		SELECT
			n.nspname,
			c.relname,
			con.conname::text,
			con.contype::text,
			ARRAY(
				SELECT a.attname::text
				FROM unnest(con.conkey) WITH ORDINALITY k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			),
			COALESCE(rn.nspname::text, ''),
			COALESCE(rc.relname::text, ''),
			ARRAY(
				SELECT a.attname::text
				FROM unnest(con.confkey) WITH ORDINALITY k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			),
			pg_get_constraintdef(con.oid)
		FROM pg_constraint con
		JOIN pg_class c ON c.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_class rc ON rc.oid = con.confrelid
		LEFT JOIN pg_namespace rn ON rn.oid = rc.relnamespace
		WHERE n.nspname = ANY($1)
		  AND con.contype IN ('p', 'u', 'f', 'c')
		ORDER BY n.nspname, c.relname, con.conname`

	rows, err := p.pool.Query(ctx, query, p.schemas)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			nsp, table, name, kind string
			columns, refColumns    []string
			refNsp, refTable, def  string
		)
		if err := rows.Scan(&nsp, &table, &name, &kind, &columns, &refNsp, &refTable, &refColumns, &def); err != nil {
			return err
		}
		t, ok := set.get(p.opts.moduleFor(nsp), table)
		if !ok {
			continue
		}

		c := schema.Constraint{Name: name, Columns: columns}
		switch kind {
		case "p":
			c.Type = schema.PrimaryKey
		case "u":
			c.Type = schema.Unique
		case "f":
			c.Type = schema.ForeignKey
			c.ReferencedModule = p.opts.moduleFor(refNsp)
			c.ReferencedTable = refTable
			c.ReferencedColumns = refColumns
		case "c":
			c.Type = schema.Check
			c.Columns = nil
			c.Definition = checkDefinition(def)
		}
		t.Constraints = append(t.Constraints, c)
	}
	return rows.Err()
}

// discoverIndexes reads indexes that do not back a constraint.
func (p *Postgres) discoverIndexes(ctx context.Context, set *tableSet) error {
	query := `
		SELECT
			n.nspname,
			t.relname,
			i.relname,
			ix.indisunique,
			COALESCE(a.attname::text, '')
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		CROSS JOIN LATERAL unnest(ix.indkey::int2[]) WITH ORDINALITY k(attnum, ord)
		LEFT JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE n.nspname = ANY($1)
		  AND NOT EXISTS (SELECT 1 FROM pg_constraint con WHERE con.conindid = ix.indexrelid)
		ORDER BY n.nspname, t.relname, i.relname, k.ord`

	rows, err := p.pool.Query(ctx, query, p.schemas)
	if err != nil {
		return err
	}
	defer rows.Close()

	var idxRows []indexRow
	for rows.Next() {
		var (
			nsp string
			r   indexRow
		)
		if err := rows.Scan(&nsp, &r.table, &r.index, &r.unique, &r.column); err != nil {
			return err
		}
		r.module = p.opts.moduleFor(nsp)
		idxRows = append(idxRows, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	set.addIndexes(idxRows)
	return nil
}

// checkDefinition strips pg_get_constraintdef output down to the
// expression: "CHECK ((amount > 0))" becomes "amount > 0".
func checkDefinition(def string) string {
	s := strings.TrimSpace(def)
	s = strings.TrimSuffix(s, " NOT VALID")
	if len(s) >= 5 && strings.EqualFold(s[:5], "CHECK") {
		s = strings.TrimSpace(s[5:])
	}
	for len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' && balanced(s[1:len(s)-1]) {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// balanced reports whether parentheses in s never close more than they open
// and end even.
func balanced(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// compile-time interface check
var _ Discoverer = (*Postgres)(nil)
