package diff

import (
	"fmt"

	"github.com/schemaguard/schemaguard/internal/schema"
)

// Apply returns a copy of snap with every operation in cs applied in order.
// The input snapshot is not modified.
func Apply(snap *schema.Snapshot, cs ChangeSet) (*schema.Snapshot, error) {
	out := snap.Clone()
	for _, op := range cs.Operations() {
		if err := applyOne(out, op); err != nil {
			return nil, fmt.Errorf("applying %s: %w", op, err)
		}
	}
	return out, nil
}

func applyOne(s *schema.Snapshot, op Operation) error {
	if op.Kind == CreateTable {
		if op.TableDef == nil {
			return fmt.Errorf("missing table definition")
		}
		m, ok := s.Module(op.Module)
		if !ok {
			s.Modules = append(s.Modules, schema.Module{Name: op.Module})
			m = &s.Modules[len(s.Modules)-1]
		}
		if _, exists := m.Table(op.Table); exists {
			return fmt.Errorf("table %s already exists", op.Ref())
		}
		t := op.TableDef.Clone()
		t.Module = op.Module
		m.Tables = append(m.Tables, t)
		return nil
	}

	m, ok := s.Module(op.Module)
	if !ok {
		return fmt.Errorf("module %s not found", op.Module)
	}
	if op.Kind == DropTable {
		for i := range m.Tables {
			if m.Tables[i].Name == op.Table {
				m.Tables = append(m.Tables[:i], m.Tables[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("table %s not found", op.Ref())
	}

	t, ok := m.Table(op.Table)
	if !ok {
		return fmt.Errorf("table %s not found", op.Ref())
	}

	switch op.Kind {
	case AddColumn:
		if _, exists := t.Column(op.Column.Name); exists {
			return fmt.Errorf("column %s already exists", op.Column.Name)
		}
		t.Columns = append(t.Columns, cloneColumn(*op.Column, t.Name))

	case DropColumn:
		for i := range t.Columns {
			if t.Columns[i].Name == op.Column.Name {
				t.Columns = append(t.Columns[:i], t.Columns[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("column %s not found", op.Column.Name)

	case AlterColumnType, AlterColumnNullable:
		col, ok := t.Column(op.After.Name)
		if !ok {
			return fmt.Errorf("column %s not found", op.After.Name)
		}
		if op.Kind == AlterColumnType {
			col.DataType = op.After.DataType
		} else {
			col.Nullable = op.After.Nullable
		}

	case AddConstraint:
		c := *op.Constraint
		c.Table = t.Name
		t.Constraints = append(t.Constraints, c)

	case DropConstraint:
		key := op.Constraint.Key()
		for i := range t.Constraints {
			if t.Constraints[i].Key() == key {
				t.Constraints = append(t.Constraints[:i], t.Constraints[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("constraint %s not found", key)

	case AddIndex:
		t.Indexes = append(t.Indexes, cloneIndex(*op.Index, t.Name))

	case DropIndex:
		key := op.Index.Key()
		for i := range t.Indexes {
			if t.Indexes[i].Key() == key {
				t.Indexes = append(t.Indexes[:i], t.Indexes[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("index %s not found", key)

	default:
		return fmt.Errorf("unsupported operation kind %s", op.Kind)
	}
	return nil
}
