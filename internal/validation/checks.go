package validation

import (
	"fmt"
	"strings"

	"github.com/schemaguard/schemaguard/internal/diff"
	"github.com/schemaguard/schemaguard/internal/schema"
	"github.com/schemaguard/schemaguard/internal/typemap"
)

// Check is a pre-flight query. Query returns a single count of violating
// rows; the check passes when the count is zero.
type Check struct {
	Module      string `json:"module" yaml:"module"`
	Table       string `json:"table" yaml:"table"`
	Operation   string `json:"operation" yaml:"operation"`
	Description string `json:"description" yaml:"description"`
	Query       string `json:"query" yaml:"query"`
}

// Builder derives pre-flight checks from operations.
type Builder struct {
	Qualify schema.Qualifier
	Types   *typemap.TypeMap
}

func (b *Builder) name(ref schema.TableRef) string {
	if b.Qualify == nil {
		return ref.Table
	}
	return b.Qualify(ref)
}

func (b *Builder) types() *typemap.TypeMap {
	if b.Types == nil {
		return typemap.DefaultPostgres()
	}
	return b.Types
}

// ForOperations returns the checks for every operation, in order.
func (b *Builder) ForOperations(ops []diff.Operation) []Check {
	var checks []Check
	for _, op := range ops {
		checks = append(checks, b.For(op)...)
	}
	return checks
}

// For returns the checks that must pass before op can be applied. Holding
// columns added as nullable are checked with NullCheck before they are
// finalized, so required AddColumn gets an empty-table check here.
func (b *Builder) For(op diff.Operation) []Check {
	table := b.name(op.Ref())
	mk := func(desc, query string) Check {
		return Check{Module: op.Module, Table: op.Table, Operation: op.ID(), Description: desc, Query: query}
	}

	switch op.Kind {
	case diff.AddColumn:
		if op.AddsRequiredColumn() {
			return []Check{mk(
				fmt.Sprintf("%s must be empty to add required column %s", op.Table, op.ColumnName()),
				fmt.Sprintf("SELECT COUNT(*) FROM %s;", table))}
		}
	case diff.DropColumn:
		return []Check{mk(
			fmt.Sprintf("%s.%s holds data that will be lost", op.Table, op.ColumnName()),
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL;", table, op.ColumnName()))}
	case diff.AlterColumnNullable:
		if op.Tightens() {
			return []Check{b.NullCheck(op.Ref(), op.ColumnName())}
		}
	case diff.AlterColumnType:
		if c, ok := b.conversionCheck(op, table); ok {
			return []Check{mk(c.desc, c.query)}
		}
	case diff.AddConstraint:
		if op.Constraint != nil {
			return b.constraintChecks(op, table, mk)
		}
	}
	return nil
}

// NullCheck counts NULL values in a column about to become NOT NULL.
func (b *Builder) NullCheck(ref schema.TableRef, column string) Check {
	return Check{
		Module:      ref.Module,
		Table:       ref.Table,
		Operation:   fmt.Sprintf("%s:%s:%s", diff.AlterColumnNullable, ref, column),
		Description: fmt.Sprintf("%s.%s must have no NULL values", ref.Table, column),
		Query:       fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL;", b.name(ref), column),
	}
}

type conversion struct {
	desc  string
	query string
}

func (b *Builder) conversionCheck(op diff.Operation, table string) (conversion, bool) {
	if op.Before == nil || op.After == nil {
		return conversion{}, false
	}
	col := op.After.Name
	to := b.types().Parse(op.After.DataType)
	switch to.Family {
	case typemap.SmallInt, typemap.Integer, typemap.BigInt:
		return conversion{
			desc:  fmt.Sprintf("%s.%s values must be integers", op.Table, col),
			query: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL AND %s::text !~ '^\\s*-?[0-9]+\\s*$';", table, col, col),
		}, true
	case typemap.Numeric, typemap.Float, typemap.Double:
		return conversion{
			desc:  fmt.Sprintf("%s.%s values must be numeric", op.Table, col),
			query: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL AND %s::text !~ '^\\s*-?[0-9]*\\.?[0-9]+([eE][-+]?[0-9]+)?\\s*$';", table, col, col),
		}, true
	case typemap.Varchar, typemap.Char:
		if to.Length > 0 {
			return conversion{
				desc:  fmt.Sprintf("%s.%s values must fit in %d characters", op.Table, col, to.Length),
				query: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE length(%s::text) > %d;", table, col, to.Length),
			}, true
		}
	}
	return conversion{}, false
}

func (b *Builder) constraintChecks(op diff.Operation, table string, mk func(string, string) Check) []Check {
	c := *op.Constraint
	c.Table = op.Table
	cols := strings.Join(c.Columns, ", ")
	name := c.DisplayName()

	duplicates := func() Check {
		return mk(fmt.Sprintf("%s must have no duplicate (%s) values for %s", op.Table, cols, name),
			fmt.Sprintf("SELECT COUNT(*) FROM (SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1) dup;", cols, table, cols))
	}

	switch c.Type {
	case schema.Unique:
		return []Check{duplicates()}
	case schema.PrimaryKey:
		var nulls []string
		for _, col := range c.Columns {
			nulls = append(nulls, col+" IS NULL")
		}
		return []Check{
			duplicates(),
			mk(fmt.Sprintf("%s must have no NULL (%s) values for %s", op.Table, cols, name),
				fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s;", table, strings.Join(nulls, " OR "))),
		}
	case schema.ForeignKey:
		if len(c.Columns) == 0 || len(c.Columns) != len(c.ReferencedColumns) {
			return nil
		}
		refModule := c.ReferencedModule
		if refModule == "" {
			refModule = op.Module
		}
		parent := b.name(schema.TableRef{Module: refModule, Table: c.ReferencedTable})
		var on, notNull []string
		for i, col := range c.Columns {
			on = append(on, fmt.Sprintf("c.%s = p.%s", col, c.ReferencedColumns[i]))
			notNull = append(notNull, fmt.Sprintf("c.%s IS NOT NULL", col))
		}
		return []Check{mk(
			fmt.Sprintf("%s must have no orphaned rows for %s", op.Table, name),
			fmt.Sprintf("SELECT COUNT(*) FROM %s c LEFT JOIN %s p ON %s WHERE %s AND p.%s IS NULL;",
				table, parent, strings.Join(on, " AND "), strings.Join(notNull, " AND "), c.ReferencedColumns[0]))}
	case schema.Check:
		if c.Definition == "" {
			return nil
		}
		return []Check{mk(
			fmt.Sprintf("%s rows must satisfy %s", op.Table, name),
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE NOT (%s);", table, checkExpr(c.Definition)))}
	}
	return nil
}

// checkExpr strips a leading CHECK keyword and its parentheses.
func checkExpr(def string) string {
	s := strings.TrimSpace(def)
	if len(s) >= 5 && strings.EqualFold(s[:5], "check") {
		s = strings.TrimSpace(s[5:])
	}
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = s[1 : len(s)-1]
	}
	return s
}
