package discovery

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Oracle driver
	_ "github.com/sijms/go-ora/v2"

	"github.com/schemaguard/schemaguard/internal/config"
	"github.com/schemaguard/schemaguard/internal/schema"
)

// Oracle implements Discoverer for Oracle databases. Each owner is a
// database schema; identifiers are lowercased in the snapshot.
type Oracle struct {
	cfg    *config.SourceConfig
	opts   Options
	owners []string
	db     *sql.DB
}

// NewOracle creates a new Oracle discoverer.
func NewOracle(cfg *config.SourceConfig, opts Options) (*Oracle, error) {
	owners := append([]string(nil), opts.Schemas...)
	if len(owners) == 0 {
		owner := cfg.Schema
		if owner == "" {
			owner = cfg.Username
		}
		owners = []string{owner}
	}
	if len(owners) > 1 && !opts.SchemaPerModule {
		return nil, fmt.Errorf("discovering %d owners into one module requires schema_per_module", len(owners))
	}
	for i := range owners {
		owners[i] = strings.ToUpper(owners[i])
	}
	return &Oracle{cfg: cfg, opts: opts, owners: owners}, nil
}

func (o *Oracle) Connect(ctx context.Context) error {
	connStr, err := o.cfg.DSN()
	if err != nil {
		return err
	}

	db, err := sql.Open("oracle", connStr)
	if err != nil {
		return fmt.Errorf("opening Oracle connection: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("pinging Oracle: %w", err)
	}

	o.db = db
	return nil
}

func (o *Oracle) Discover(ctx context.Context) (*schema.Snapshot, error) {
	if o.db == nil {
		return nil, fmt.Errorf("not connected; call Connect first")
	}

	set := newTableSet()
	for _, owner := range o.owners {
		if err := o.discoverOwner(ctx, owner, set); err != nil {
			return nil, fmt.Errorf("discovering %s: %w", owner, err)
		}
	}
	return set.snapshot(), nil
}

func (o *Oracle) discoverOwner(ctx context.Context, owner string, set *tableSet) error {
	if err := o.discoverTables(ctx, owner, set); err != nil {
		return fmt.Errorf("discovering tables: %w", err)
	}
	if err := o.discoverColumns(ctx, owner, set); err != nil {
		return fmt.Errorf("discovering columns: %w", err)
	}
	if err := o.discoverKeys(ctx, owner, set); err != nil {
		return fmt.Errorf("discovering keys: %w", err)
	}
	if err := o.discoverForeignKeys(ctx, owner, set); err != nil {
		return fmt.Errorf("discovering foreign keys: %w", err)
	}
	if err := o.discoverIndexes(ctx, owner, set); err != nil {
		return fmt.Errorf("discovering indexes: %w", err)
	}
	if err := o.discoverCheckConstraints(ctx, owner, set); err != nil {
		return fmt.Errorf("discovering check constraints: %w", err)
	}
	return nil
}

func (o *Oracle) Close() error {
	if o.db != nil {
		err := o.db.Close()
		o.db = nil
		return err
	}
	return nil
}

func (o *Oracle) module(owner string) string {
	return o.opts.moduleFor(strings.ToLower(owner))
}

func (o *Oracle) table(set *tableSet, owner, name string) (*schema.Table, bool) {
	return set.get(o.module(owner), strings.ToLower(name))
}

func (o *Oracle) discoverTables(ctx context.Context, owner string, set *tableSet) error {
	rows, err := o.db.QueryContext(ctx, `
		SELECT TABLE_NAME
		FROM ALL_TABLES
		WHERE OWNER = :1
		  AND NESTED = 'NO'
		  AND SECONDARY = 'N'
		ORDER BY TABLE_NAME`, owner)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		set.add(o.module(owner), strings.ToLower(name))
	}
	return rows.Err()
}

func (o *Oracle) discoverColumns(ctx context.Context, owner string, set *tableSet) error {
	rows, err := o.db.QueryContext(ctx, `
		SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE, NULLABLE,
			DATA_DEFAULT, CHAR_LENGTH, DATA_PRECISION, DATA_SCALE
		FROM ALL_TAB_COLUMNS
		WHERE OWNER = :1
		ORDER BY TABLE_NAME, COLUMN_ID`, owner)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tableName, colName, dataType, nullable string
			defaultVal                             *string
			charLen, precision, scale              *int
		)
		if err := rows.Scan(&tableName, &colName, &dataType, &nullable, &defaultVal, &charLen, &precision, &scale); err != nil {
			return err
		}

		t, ok := o.table(set, owner, tableName)
		if !ok {
			continue
		}
		if defaultVal != nil {
			v := strings.TrimSpace(*defaultVal)
			defaultVal = &v
		}
		t.Columns = append(t.Columns, schema.Column{
			Name:         strings.ToLower(colName),
			DataType:     oracleType(dataType, charLen, precision, scale),
			Nullable:     nullable == "Y",
			DefaultValue: defaultVal,
		})
	}
	return rows.Err()
}

// oracleType renders a declared type such as varchar2(255) or number(10,2).
func oracleType(dataType string, charLen, precision, scale *int) string {
	base := strings.ToLower(dataType)
	switch {
	case charLen != nil && *charLen > 0 && strings.Contains(base, "char"):
		return fmt.Sprintf("%s(%d)", base, *charLen)
	case base == "number" && precision != nil:
		if scale != nil && *scale > 0 {
			return fmt.Sprintf("number(%d,%d)", *precision, *scale)
		}
		return fmt.Sprintf("number(%d)", *precision)
	default:
		return base
	}
}

// discoverKeys reads primary key and unique constraints.
func (o *Oracle) discoverKeys(ctx context.Context, owner string, set *tableSet) error {
	rows, err := o.db.QueryContext(ctx, `
		SELECT c.TABLE_NAME, c.CONSTRAINT_NAME, c.CONSTRAINT_TYPE, cc.COLUMN_NAME
		FROM ALL_CONSTRAINTS c
		JOIN ALL_CONS_COLUMNS cc ON c.CONSTRAINT_NAME = cc.CONSTRAINT_NAME AND c.OWNER = cc.OWNER
		WHERE c.OWNER = :1
		  AND c.CONSTRAINT_TYPE IN ('P', 'U')
		ORDER BY c.TABLE_NAME, c.CONSTRAINT_NAME, cc.POSITION`, owner)
	if err != nil {
		return err
	}
	defer rows.Close()

	var (
		current *schema.Constraint
		table   *schema.Table
	)
	flush := func() {
		if current != nil && table != nil {
			table.Constraints = append(table.Constraints, *current)
		}
	}
	for rows.Next() {
		var tableName, constraintName, kind, colName string
		if err := rows.Scan(&tableName, &constraintName, &kind, &colName); err != nil {
			return err
		}
		name := strings.ToLower(constraintName)
		t, _ := o.table(set, owner, tableName)
		if current == nil || current.Name != name || table != t {
			flush()
			current = &schema.Constraint{Name: name, Type: schema.PrimaryKey}
			if kind == "U" {
				current.Type = schema.Unique
			}
			table = t
		}
		current.Columns = append(current.Columns, strings.ToLower(colName))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	flush()
	return nil
}

func (o *Oracle) discoverForeignKeys(ctx context.Context, owner string, set *tableSet) error {
	rows, err := o.db.QueryContext(ctx, `
		SELECT c.TABLE_NAME, c.CONSTRAINT_NAME,
			cc.COLUMN_NAME,
			rc.OWNER AS REF_OWNER,
			rc.TABLE_NAME AS REF_TABLE,
			rcc.COLUMN_NAME AS REF_COLUMN
		FROM ALL_CONSTRAINTS c
		JOIN ALL_CONS_COLUMNS cc ON c.CONSTRAINT_NAME = cc.CONSTRAINT_NAME AND c.OWNER = cc.OWNER
		JOIN ALL_CONSTRAINTS rc ON c.R_CONSTRAINT_NAME = rc.CONSTRAINT_NAME AND c.R_OWNER = rc.OWNER
		JOIN ALL_CONS_COLUMNS rcc ON rc.CONSTRAINT_NAME = rcc.CONSTRAINT_NAME AND rc.OWNER = rcc.OWNER
			AND cc.POSITION = rcc.POSITION
		WHERE c.OWNER = :1
		  AND c.CONSTRAINT_TYPE = 'R'
		ORDER BY c.TABLE_NAME, c.CONSTRAINT_NAME, cc.POSITION`, owner)
	if err != nil {
		return err
	}
	defer rows.Close()

	var fkRows []fkRow
	for rows.Next() {
		var tableName, constraintName, column, refOwner, refTable, refColumn string
		if err := rows.Scan(&tableName, &constraintName, &column, &refOwner, &refTable, &refColumn); err != nil {
			return err
		}
		fkRows = append(fkRows, fkRow{
			module:     o.module(owner),
			table:      strings.ToLower(tableName),
			constraint: strings.ToLower(constraintName),
			column:     strings.ToLower(column),
			refModule:  o.module(refOwner),
			refTable:   strings.ToLower(refTable),
			refColumn:  strings.ToLower(refColumn),
		})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	set.addForeignKeys(fkRows)
	return nil
}

func (o *Oracle) discoverIndexes(ctx context.Context, owner string, set *tableSet) error {
	rows, err := o.db.QueryContext(ctx, `
		SELECT i.TABLE_NAME, i.INDEX_NAME, i.UNIQUENESS, ic.COLUMN_NAME
		FROM ALL_INDEXES i
		JOIN ALL_IND_COLUMNS ic ON i.INDEX_NAME = ic.INDEX_NAME AND i.OWNER = ic.INDEX_OWNER
		WHERE i.TABLE_OWNER = :1
		  AND i.INDEX_TYPE = 'NORMAL'
		  AND i.INDEX_NAME NOT IN (
			SELECT INDEX_NAME FROM ALL_CONSTRAINTS
			WHERE OWNER = :2 AND INDEX_NAME IS NOT NULL
		  )
		ORDER BY i.TABLE_NAME, i.INDEX_NAME, ic.COLUMN_POSITION`, owner, owner)
	if err != nil {
		return err
	}
	defer rows.Close()

	var idxRows []indexRow
	for rows.Next() {
		var tableName, indexName, uniqueness, colName string
		if err := rows.Scan(&tableName, &indexName, &uniqueness, &colName); err != nil {
			return err
		}
		idxRows = append(idxRows, indexRow{
			module: o.module(owner),
			table:  strings.ToLower(tableName),
			index:  strings.ToLower(indexName),
			unique: uniqueness == "UNIQUE",
			column: strings.ToLower(colName),
		})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	set.addIndexes(idxRows)
	return nil
}

func (o *Oracle) discoverCheckConstraints(ctx context.Context, owner string, set *tableSet) error {
	rows, err := o.db.QueryContext(ctx, `
		SELECT TABLE_NAME, CONSTRAINT_NAME, SEARCH_CONDITION
		FROM ALL_CONSTRAINTS
		WHERE OWNER = :1
		  AND CONSTRAINT_TYPE = 'C'
		  AND GENERATED != 'GENERATED NAME'
		ORDER BY TABLE_NAME, CONSTRAINT_NAME`, owner)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var tableName, constraintName string
		var searchCondition *string
		if err := rows.Scan(&tableName, &constraintName, &searchCondition); err != nil {
			return err
		}

		t, ok := o.table(set, owner, tableName)
		if !ok || searchCondition == nil {
			continue
		}
		// NOT NULL shows up as a named check: "COL" IS NOT NULL
		if strings.HasSuffix(strings.TrimSpace(*searchCondition), "IS NOT NULL") {
			continue
		}

		t.Constraints = append(t.Constraints, schema.Constraint{
			Name:       strings.ToLower(constraintName),
			Type:       schema.Check,
			Definition: strings.TrimSpace(*searchCondition),
		})
	}
	return rows.Err()
}

// compile-time interface check
var _ Discoverer = (*Oracle)(nil)
