package schema

import "fmt"

// MalformedSnapshotError is returned when a snapshot violates a structural
// rule such as duplicate table or column names.
type MalformedSnapshotError struct {
	Module string
	Table  string
	Reason string
}

func (e *MalformedSnapshotError) Error() string {
	switch {
	case e.Table != "":
		return fmt.Sprintf("malformed snapshot: %s.%s: %s", e.Module, e.Table, e.Reason)
	case e.Module != "":
		return fmt.Sprintf("malformed snapshot: module %s: %s", e.Module, e.Reason)
	default:
		return "malformed snapshot: " + e.Reason
	}
}

// Validate checks the snapshot for structural problems and returns the first
// one found as a *MalformedSnapshotError.
func Validate(s *Snapshot) error {
	if s == nil {
		return nil
	}

	modules := make(map[string]bool)
	for _, m := range s.Modules {
		if m.Name == "" {
			return &MalformedSnapshotError{Reason: "module with empty name"}
		}
		if modules[m.Name] {
			return &MalformedSnapshotError{Module: m.Name, Reason: "duplicate module name"}
		}
		modules[m.Name] = true

		tables := make(map[string]bool)
		for _, t := range m.Tables {
			if t.Name == "" {
				return &MalformedSnapshotError{Module: m.Name, Reason: "table with empty name"}
			}
			if tables[t.Name] {
				return &MalformedSnapshotError{Module: m.Name, Table: t.Name, Reason: "duplicate table name"}
			}
			tables[t.Name] = true
			if t.Module != "" && t.Module != m.Name {
				return &MalformedSnapshotError{Module: m.Name, Table: t.Name,
					Reason: fmt.Sprintf("table declares module %q", t.Module)}
			}
			if err := validateTable(m.Name, t); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateTable(module string, t Table) error {
	malformed := func(format string, args ...any) error {
		return &MalformedSnapshotError{Module: module, Table: t.Name, Reason: fmt.Sprintf(format, args...)}
	}

	columns := make(map[string]bool)
	for _, c := range t.Columns {
		if c.Name == "" {
			return malformed("column with empty name")
		}
		if columns[c.Name] {
			return malformed("duplicate column %q", c.Name)
		}
		if c.DataType == "" {
			return malformed("column %q has no data type", c.Name)
		}
		columns[c.Name] = true
	}

	constraints := make(map[string]bool)
	for _, c := range t.Constraints {
		switch c.Type {
		case PrimaryKey, ForeignKey, Unique, Check:
		default:
			return malformed("constraint %q has unknown type %q", c.Name, c.Type)
		}
		if c.Name != "" {
			if constraints[c.Name] {
				return malformed("duplicate constraint %q", c.Name)
			}
			constraints[c.Name] = true
		}
		if c.Type == ForeignKey && c.ReferencedTable == "" {
			return malformed("foreign key %q has no referenced table", c.DisplayName())
		}
		for _, col := range c.Columns {
			if !columns[col] {
				return malformed("constraint %q references unknown column %q", c.DisplayName(), col)
			}
		}
	}

	indexes := make(map[string]bool)
	for _, idx := range t.Indexes {
		if idx.Name == "" {
			return malformed("index with empty name")
		}
		if indexes[idx.Name] {
			return malformed("duplicate index %q", idx.Name)
		}
		indexes[idx.Name] = true
		if len(idx.Columns) == 0 {
			return malformed("index %q has no columns", idx.Name)
		}
		for _, col := range idx.Columns {
			if !columns[col] {
				return malformed("index %q references unknown column %q", idx.Name, col)
			}
		}
	}
	return nil
}
