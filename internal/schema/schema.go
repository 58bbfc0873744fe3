package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Snapshot is the full persisted-data schema of an application at one point
// in time, with every table grouped under the module that owns it.
// A loaded snapshot is treated as immutable; operations that derive a new
// schema work on a Clone.
type Snapshot struct {
	Modules []Module `yaml:"modules" json:"modules"`
}

// Module is a named group of tables owned by one application module.
type Module struct {
	Name   string  `yaml:"name" json:"name"`
	Tables []Table `yaml:"tables" json:"tables"`
}

// Table represents a table definition.
type Table struct {
	Name        string       `yaml:"name" json:"name"`
	Module      string       `yaml:"module,omitempty" json:"module,omitempty"`
	Columns     []Column     `yaml:"columns" json:"columns"`
	Constraints []Constraint `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Indexes     []Index      `yaml:"indexes,omitempty" json:"indexes,omitempty"`
}

// Column represents a table column.
type Column struct {
	Name         string  `yaml:"name" json:"name"`
	DataType     string  `yaml:"data_type" json:"data_type"`
	Nullable     bool    `yaml:"nullable" json:"nullable"`
	DefaultValue *string `yaml:"default_value,omitempty" json:"default_value,omitempty"`
	Table        string  `yaml:"table,omitempty" json:"table,omitempty"`
}

// HasDefault reports whether the column declares a default value.
func (c Column) HasDefault() bool {
	return c.DefaultValue != nil
}

// ConstraintType identifies the kind of a table constraint.
type ConstraintType string

const (
	PrimaryKey ConstraintType = "primary_key"
	ForeignKey ConstraintType = "foreign_key"
	Unique     ConstraintType = "unique"
	Check      ConstraintType = "check"
)

// Constraint represents a primary key, foreign key, unique or check constraint.
type Constraint struct {
	Name              string         `yaml:"name,omitempty" json:"name,omitempty"`
	Type              ConstraintType `yaml:"type" json:"type"`
	Columns           []string       `yaml:"columns,omitempty" json:"columns,omitempty"`
	ReferencedModule  string         `yaml:"referenced_module,omitempty" json:"referenced_module,omitempty"`
	ReferencedTable   string         `yaml:"referenced_table,omitempty" json:"referenced_table,omitempty"`
	ReferencedColumns []string       `yaml:"referenced_columns,omitempty" json:"referenced_columns,omitempty"`
	Definition        string         `yaml:"definition,omitempty" json:"definition,omitempty"`
	Table             string         `yaml:"table,omitempty" json:"table,omitempty"`
}

// Key returns the structural identity of the constraint. Two constraints with
// the same key are considered equal regardless of their names.
func (c Constraint) Key() string {
	var b strings.Builder
	b.WriteString(string(c.Type))
	b.WriteString("(")
	b.WriteString(strings.Join(c.Columns, ","))
	b.WriteString(")")
	if c.Type == ForeignKey {
		fmt.Fprintf(&b, "->%s.%s(%s)", c.ReferencedModule, c.ReferencedTable, strings.Join(c.ReferencedColumns, ","))
	}
	if c.Definition != "" {
		b.WriteString(" ")
		b.WriteString(c.Definition)
	}
	return b.String()
}

// DisplayName returns the constraint name, or a generated one for unnamed constraints.
func (c Constraint) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	parts := append([]string{c.Table}, c.Columns...)
	return strings.Join(parts, "_") + "_" + shortType(c.Type)
}

func shortType(t ConstraintType) string {
	switch t {
	case PrimaryKey:
		return "pkey"
	case ForeignKey:
		return "fkey"
	case Unique:
		return "key"
	default:
		return "check"
	}
}

// Index represents a table index.
type Index struct {
	Name    string   `yaml:"name" json:"name"`
	Columns []string `yaml:"columns" json:"columns"`
	Unique  bool     `yaml:"unique" json:"unique"`
	Table   string   `yaml:"table,omitempty" json:"table,omitempty"`
}

// Key returns the structural identity of the index: its column sequence and uniqueness.
func (i Index) Key() string {
	prefix := "index"
	if i.Unique {
		prefix = "unique"
	}
	return prefix + "(" + strings.Join(i.Columns, ",") + ")"
}

// TableRef identifies a table by owning module and name.
type TableRef struct {
	Module string `yaml:"module" json:"module"`
	Table  string `yaml:"table" json:"table"`
}

func (r TableRef) String() string {
	if r.Module == "" {
		return r.Table
	}
	return r.Module + "." + r.Table
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// ForeignKeys returns the table's foreign-key constraints.
func (t *Table) ForeignKeys() []Constraint {
	var fks []Constraint
	for _, c := range t.Constraints {
		if c.Type == ForeignKey {
			fks = append(fks, c)
		}
	}
	return fks
}

// New builds a snapshot from a module → tables map, stamping ownership on
// every table, column, constraint and index. Modules are sorted by name.
func New(modules map[string][]Table) *Snapshot {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	s := &Snapshot{}
	for _, name := range names {
		s.Modules = append(s.Modules, Module{Name: name, Tables: cloneTables(modules[name])})
	}
	s.stamp()
	return s
}

// stamp fills in the owner fields derived from the snapshot structure.
func (s *Snapshot) stamp() {
	for mi := range s.Modules {
		m := &s.Modules[mi]
		for ti := range m.Tables {
			t := &m.Tables[ti]
			t.Module = m.Name
			for ci := range t.Columns {
				t.Columns[ci].Table = t.Name
			}
			for ci := range t.Constraints {
				t.Constraints[ci].Table = t.Name
			}
			for ii := range t.Indexes {
				t.Indexes[ii].Table = t.Name
			}
		}
	}
}

// ModuleNames returns the names of all modules in sorted order.
func (s *Snapshot) ModuleNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Modules))
	for _, m := range s.Modules {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}

// Module returns the module with the given name.
func (s *Snapshot) Module(name string) (*Module, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Modules {
		if s.Modules[i].Name == name {
			return &s.Modules[i], true
		}
	}
	return nil, false
}

// Table returns the table owned by module with the given name.
func (s *Snapshot) Table(module, name string) (*Table, bool) {
	m, ok := s.Module(module)
	if !ok {
		return nil, false
	}
	return m.Table(name)
}

// Owners returns the modules that own a table with the given name, sorted.
func (s *Snapshot) Owners(table string) []string {
	if s == nil {
		return nil
	}
	var owners []string
	for _, m := range s.Modules {
		if _, ok := m.Table(table); ok {
			owners = append(owners, m.Name)
		}
	}
	sort.Strings(owners)
	return owners
}

// Table looks up a table by name within the module.
func (m *Module) Table(name string) (*Table, bool) {
	for i := range m.Tables {
		if m.Tables[i].Name == name {
			return &m.Tables[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return &Snapshot{}
	}
	c := &Snapshot{Modules: make([]Module, len(s.Modules))}
	for i, m := range s.Modules {
		c.Modules[i] = Module{Name: m.Name, Tables: cloneTables(m.Tables)}
	}
	return c
}

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	c := t
	c.Columns = make([]Column, len(t.Columns))
	for i, col := range t.Columns {
		c.Columns[i] = col
		if col.DefaultValue != nil {
			v := *col.DefaultValue
			c.Columns[i].DefaultValue = &v
		}
	}
	c.Constraints = nil
	for _, con := range t.Constraints {
		con.Columns = append([]string(nil), con.Columns...)
		con.ReferencedColumns = append([]string(nil), con.ReferencedColumns...)
		c.Constraints = append(c.Constraints, con)
	}
	c.Indexes = nil
	for _, idx := range t.Indexes {
		idx.Columns = append([]string(nil), idx.Columns...)
		c.Indexes = append(c.Indexes, idx)
	}
	return c
}

func cloneTables(tables []Table) []Table {
	out := make([]Table, len(tables))
	for i, t := range tables {
		out[i] = t.Clone()
	}
	return out
}

// TableCount returns the total number of tables across all modules.
func (s *Snapshot) TableCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, m := range s.Modules {
		n += len(m.Tables)
	}
	return n
}

// Qualifier renders a table reference as a SQL table name.
type Qualifier func(TableRef) string

// BareName renders only the table name.
func BareName(r TableRef) string {
	return r.Table
}

// ModuleQualified renders module.table, treating each module as a database schema.
func ModuleQualified(r TableRef) string {
	return r.String()
}
