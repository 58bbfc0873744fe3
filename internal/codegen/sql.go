package codegen

import (
	"fmt"
	"strings"

	"github.com/schemaguard/schemaguard/internal/diff"
	"github.com/schemaguard/schemaguard/internal/planner"
	"github.com/schemaguard/schemaguard/internal/schema"
)

// Renderer turns operations into PostgreSQL DDL.
type Renderer struct {
	// Qualify renders table names. Nil renders bare table names.
	Qualify schema.Qualifier
	// Guard adds IF EXISTS / IF NOT EXISTS to statements that support it.
	Guard bool
}

func (r Renderer) table(ref schema.TableRef) string {
	if r.Qualify == nil {
		return ref.Table
	}
	return r.Qualify(ref)
}

func (r Renderer) ifExists() string {
	if r.Guard {
		return "IF EXISTS "
	}
	return ""
}

func (r Renderer) ifNotExists() string {
	if r.Guard {
		return "IF NOT EXISTS "
	}
	return ""
}

// Statements renders op. A holding column is added without its NOT NULL
// constraint, which is applied later by SetNotNull.
func (r Renderer) Statements(op diff.Operation, holding bool) []string {
	t := r.table(op.Ref())

	switch op.Kind {
	case diff.CreateTable:
		if op.TableDef == nil {
			break
		}
		return r.createTable(op.Module, *op.TableDef)
	case diff.DropTable:
		return []string{fmt.Sprintf("DROP TABLE %s%s;", r.ifExists(), t)}
	case diff.AddColumn:
		if op.Column == nil {
			break
		}
		c := *op.Column
		if holding {
			c.Nullable = true
		}
		return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s%s;", t, r.ifNotExists(), columnDef(c))}
	case diff.DropColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s%s;", t, r.ifExists(), op.ColumnName())}
	case diff.AlterColumnType:
		if op.After == nil {
			break
		}
		c := op.After
		return []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s;", t, c.Name, c.DataType, c.Name, c.DataType)}
	case diff.AlterColumnNullable:
		if op.After == nil {
			break
		}
		if op.After.Nullable {
			return []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL;", t, op.After.Name)}
		}
		return []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", t, op.After.Name)}
	case diff.AddConstraint:
		if op.Constraint == nil {
			break
		}
		c := *op.Constraint
		c.Table = op.Table
		return []string{fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s;", t, c.DisplayName(), r.constraintBody(op.Module, c))}
	case diff.DropConstraint:
		if op.Constraint == nil {
			break
		}
		c := *op.Constraint
		c.Table = op.Table
		return []string{fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s%s;", t, r.ifExists(), c.DisplayName())}
	case diff.AddIndex:
		if op.Index == nil {
			break
		}
		return []string{r.createIndex(op.Module, op.Table, *op.Index)}
	case diff.DropIndex:
		if op.Index == nil {
			break
		}
		return []string{fmt.Sprintf("DROP INDEX %s%s;", r.ifExists(), r.indexName(op.Module, op.Index.Name))}
	}
	return []string{fmt.Sprintf("-- unsupported operation: %s", op)}
}

// SetNotNull finalizes a holding column.
func (r Renderer) SetNotNull(t planner.Target) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", r.table(schema.TableRef{Module: t.Module, Table: t.Table}), t.Column)
}

// DropNotNull reverts SetNotNull.
func (r Renderer) DropNotNull(t planner.Target) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL;", r.table(schema.TableRef{Module: t.Module, Table: t.Table}), t.Column)
}

// Backfill returns the template UPDATE for a column that needs data.
func (r Renderer) Backfill(t planner.Target) string {
	return fmt.Sprintf("UPDATE %s SET %s = <value> WHERE %s IS NULL;", r.table(schema.TableRef{Module: t.Module, Table: t.Table}), t.Column, t.Column)
}

func (r Renderer) createTable(module string, t schema.Table) []string {
	var defs []string
	for _, c := range t.Columns {
		defs = append(defs, "    "+columnDef(c))
	}
	for _, c := range t.Constraints {
		c.Table = t.Name
		defs = append(defs, fmt.Sprintf("    CONSTRAINT %s %s", c.DisplayName(), r.constraintBody(module, c)))
	}

	name := r.table(schema.TableRef{Module: module, Table: t.Name})
	stmts := []string{fmt.Sprintf("CREATE TABLE %s%s (\n%s\n);", r.ifNotExists(), name, strings.Join(defs, ",\n"))}
	for _, idx := range t.Indexes {
		stmts = append(stmts, r.createIndex(module, t.Name, idx))
	}
	return stmts
}

func (r Renderer) createIndex(module, table string, idx schema.Index) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s%s ON %s (%s);", unique, r.ifNotExists(), idx.Name,
		r.table(schema.TableRef{Module: module, Table: table}), strings.Join(idx.Columns, ", "))
}

// indexName qualifies an index the same way its table is qualified, since
// indexes live in the table's schema.
func (r Renderer) indexName(module, name string) string {
	return r.table(schema.TableRef{Module: module, Table: name})
}

func (r Renderer) constraintBody(module string, c schema.Constraint) string {
	cols := strings.Join(c.Columns, ", ")
	switch c.Type {
	case schema.PrimaryKey:
		return fmt.Sprintf("PRIMARY KEY (%s)", cols)
	case schema.Unique:
		return fmt.Sprintf("UNIQUE (%s)", cols)
	case schema.ForeignKey:
		refModule := c.ReferencedModule
		if refModule == "" {
			refModule = module
		}
		ref := r.table(schema.TableRef{Module: refModule, Table: c.ReferencedTable})
		return fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)", cols, ref, strings.Join(c.ReferencedColumns, ", "))
	default:
		def := strings.TrimSpace(c.Definition)
		if strings.HasPrefix(strings.ToUpper(def), "CHECK") {
			return def
		}
		return fmt.Sprintf("CHECK (%s)", def)
	}
}

func columnDef(c schema.Column) string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteString(" ")
	b.WriteString(c.DataType)
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.HasDefault() {
		b.WriteString(" DEFAULT ")
		b.WriteString(*c.DefaultValue)
	}
	return b.String()
}
