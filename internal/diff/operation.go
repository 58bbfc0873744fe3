package diff

import (
	"fmt"
	"strings"

	"github.com/schemaguard/schemaguard/internal/schema"
)

// Kind identifies the variant of a change operation.
type Kind int

const (
	CreateTable Kind = iota + 1
	DropTable
	AddColumn
	DropColumn
	AlterColumnType
	AlterColumnNullable
	AddConstraint
	DropConstraint
	AddIndex
	DropIndex
)

var kindNames = map[Kind]string{
	CreateTable:         "create_table",
	DropTable:           "drop_table",
	AddColumn:           "add_column",
	DropColumn:          "drop_column",
	AlterColumnType:     "alter_column_type",
	AlterColumnNullable: "alter_column_nullable",
	AddConstraint:       "add_constraint",
	DropConstraint:      "drop_constraint",
	AddIndex:            "add_index",
	DropIndex:           "drop_index",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown operation kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown operation kind %q", string(b))
}

// Destructive reports whether the kind removes existing schema objects.
func (k Kind) Destructive() bool {
	return k == DropTable || k == DropColumn || k == DropConstraint || k == DropIndex
}

// Operation is a single schema change. Kind selects which of the payload
// fields are set:
//
//	CreateTable, DropTable              TableDef
//	AddColumn, DropColumn               Column
//	AlterColumnType, AlterColumnNullable Before, After
//	AddConstraint, DropConstraint       Constraint
//	AddIndex, DropIndex                 Index
type Operation struct {
	Kind   Kind   `json:"kind" yaml:"kind"`
	Module string `json:"module" yaml:"module"`
	Table  string `json:"table" yaml:"table"`

	TableDef   *schema.Table      `json:"table_def,omitempty" yaml:"table_def,omitempty"`
	Column     *schema.Column     `json:"column,omitempty" yaml:"column,omitempty"`
	Before     *schema.Column     `json:"before,omitempty" yaml:"before,omitempty"`
	After      *schema.Column     `json:"after,omitempty" yaml:"after,omitempty"`
	Constraint *schema.Constraint `json:"constraint,omitempty" yaml:"constraint,omitempty"`
	Index      *schema.Index      `json:"index,omitempty" yaml:"index,omitempty"`
}

// Ref returns the table the operation applies to.
func (op Operation) Ref() schema.TableRef {
	return schema.TableRef{Module: op.Module, Table: op.Table}
}

// Target returns the name of the column, constraint or index the operation
// changes, or the table name for table-level operations.
func (op Operation) Target() string {
	switch op.Kind {
	case AddColumn, DropColumn:
		if op.Column != nil {
			return op.Column.Name
		}
	case AlterColumnType, AlterColumnNullable:
		if op.After != nil {
			return op.After.Name
		}
	case AddConstraint, DropConstraint:
		if op.Constraint != nil {
			return op.Constraint.Key()
		}
	case AddIndex, DropIndex:
		if op.Index != nil {
			return op.Index.Key()
		}
	}
	return op.Table
}

// ID returns the identity of the operation, unique within a change set.
func (op Operation) ID() string {
	return fmt.Sprintf("%s:%s.%s:%s", op.Kind, op.Module, op.Table, op.Target())
}

// ColumnName returns the affected column name for column operations.
func (op Operation) ColumnName() string {
	switch op.Kind {
	case AddColumn, DropColumn:
		if op.Column != nil {
			return op.Column.Name
		}
	case AlterColumnType, AlterColumnNullable:
		if op.After != nil {
			return op.After.Name
		}
	}
	return ""
}

// Tightens reports whether an AlterColumnNullable makes the column NOT NULL.
func (op Operation) Tightens() bool {
	return op.Kind == AlterColumnNullable && op.Before != nil && op.After != nil &&
		op.Before.Nullable && !op.After.Nullable
}

// AddsRequiredColumn reports whether the operation adds a NOT NULL column
// without a default.
func (op Operation) AddsRequiredColumn() bool {
	return op.Kind == AddColumn && op.Column != nil && !op.Column.Nullable && !op.Column.HasDefault()
}

// References returns the tables the operation touches, including tables
// referenced through foreign keys.
func (op Operation) References() []schema.TableRef {
	refs := []schema.TableRef{op.Ref()}
	add := func(c schema.Constraint) {
		if c.Type != schema.ForeignKey {
			return
		}
		module := c.ReferencedModule
		if module == "" {
			module = op.Module
		}
		refs = append(refs, schema.TableRef{Module: module, Table: c.ReferencedTable})
	}
	if op.Constraint != nil {
		add(*op.Constraint)
	}
	if op.TableDef != nil {
		for _, c := range op.TableDef.Constraints {
			add(c)
		}
	}
	return refs
}

// String returns a short human-readable description of the operation.
func (op Operation) String() string {
	qualified := op.Table
	switch op.Kind {
	case CreateTable:
		return "create table " + qualified
	case DropTable:
		return "drop table " + qualified
	case AddColumn:
		return fmt.Sprintf("add column %s.%s", qualified, op.ColumnName())
	case DropColumn:
		return fmt.Sprintf("drop column %s.%s", qualified, op.ColumnName())
	case AlterColumnType:
		if op.Before == nil || op.After == nil {
			break
		}
		return fmt.Sprintf("alter column %s.%s type %s -> %s", qualified, op.ColumnName(), op.Before.DataType, op.After.DataType)
	case AlterColumnNullable:
		if op.Tightens() {
			return fmt.Sprintf("set %s.%s NOT NULL", qualified, op.ColumnName())
		}
		return fmt.Sprintf("drop NOT NULL on %s.%s", qualified, op.ColumnName())
	case AddConstraint:
		return fmt.Sprintf("add %s constraint on %s(%s)", constraintLabel(op.Constraint), qualified, constraintColumns(op.Constraint))
	case DropConstraint:
		return fmt.Sprintf("drop %s constraint on %s(%s)", constraintLabel(op.Constraint), qualified, constraintColumns(op.Constraint))
	case AddIndex:
		return fmt.Sprintf("add index %s on %s", indexName(op.Index), qualified)
	case DropIndex:
		return fmt.Sprintf("drop index %s on %s", indexName(op.Index), qualified)
	}
	return fmt.Sprintf("%s on %s", op.Kind, qualified)
}

func constraintLabel(c *schema.Constraint) string {
	if c == nil {
		return "unknown"
	}
	return strings.ReplaceAll(string(c.Type), "_", " ")
}

func constraintColumns(c *schema.Constraint) string {
	if c == nil {
		return ""
	}
	return strings.Join(c.Columns, ", ")
}

func indexName(i *schema.Index) string {
	if i == nil {
		return ""
	}
	return i.Name
}
