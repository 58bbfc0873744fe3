package diff

import (
	"sort"
	"strings"

	"github.com/schemaguard/schemaguard/internal/schema"
)

// Diff compares two snapshots and returns the operations that transform
// before into after. A nil snapshot is treated as empty.
//
// Modules are emitted in name order. Within a module, CreateTable operations
// come first (referenced tables before the tables that reference them), then
// the per-table changes in table-name order. Per table the order is: drop
// constraints, drop indexes, column type changes and nullability changes,
// added columns, added constraints, added indexes, dropped columns.
//
// DropTable operations of every module follow in their own groups, ordered
// by the foreign keys of the before snapshot so a table is dropped only
// after every dropped table that references it.
//
// Renamed columns and tables appear as a drop plus an add.
func Diff(before, after *schema.Snapshot) ChangeSet {
	names := make(map[string]bool)
	for _, n := range before.ModuleNames() {
		names[n] = true
	}
	for _, n := range after.ModuleNames() {
		names[n] = true
	}
	modules := make([]string, 0, len(names))
	for n := range names {
		modules = append(modules, n)
	}
	sort.Strings(modules)

	var cs ChangeSet
	var drops []Operation
	for _, name := range modules {
		ops, dropped := diffModule(name, moduleTables(before, name), moduleTables(after, name))
		if len(ops) > 0 {
			cs.Modules = append(cs.Modules, ModuleChanges{Module: name, Operations: ops})
		}
		drops = append(drops, dropped...)
	}
	cs.Modules = append(cs.Modules, FromOperations(orderDrops(before, drops)).Modules...)
	return cs
}

func moduleTables(s *schema.Snapshot, module string) []schema.Table {
	m, ok := s.Module(module)
	if !ok {
		return nil
	}
	return m.Tables
}

func diffModule(module string, before, after []schema.Table) (ops, drops []Operation) {
	beforeByName := tablesByName(before)
	afterByName := tablesByName(after)

	var created, dropped []schema.Table
	var kept []string
	for _, t := range after {
		if _, ok := beforeByName[t.Name]; ok {
			kept = append(kept, t.Name)
		} else {
			created = append(created, t)
		}
	}
	for _, t := range before {
		if _, ok := afterByName[t.Name]; !ok {
			dropped = append(dropped, t)
		}
	}
	sort.Strings(kept)

	for _, t := range orderTables(module, created) {
		def := t.Clone()
		def.Module = module
		ops = append(ops, Operation{Kind: CreateTable, Module: module, Table: t.Name, TableDef: &def})
	}
	for _, name := range kept {
		ops = append(ops, diffTable(module, beforeByName[name], afterByName[name])...)
	}
	for _, t := range dropped {
		def := t.Clone()
		def.Module = module
		drops = append(drops, Operation{Kind: DropTable, Module: module, Table: t.Name, TableDef: &def})
	}
	return ops, drops
}

// orderDrops sorts DropTable operations so that a table referenced by a
// foreign key of another dropped table, in any module, is dropped after it.
// Ties and cycles fall back to module and table name order.
func orderDrops(before *schema.Snapshot, drops []Operation) []Operation {
	if len(drops) < 2 {
		return drops
	}

	byRef := make(map[schema.TableRef]Operation, len(drops))
	refs := make([]schema.TableRef, 0, len(drops))
	for _, op := range drops {
		byRef[op.Ref()] = op
		refs = append(refs, op.Ref())
	}
	less := func(a, b schema.TableRef) bool {
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		return a.Table < b.Table
	}
	sort.Slice(refs, func(i, j int) bool { return less(refs[i], refs[j]) })

	// referencing table -> referenced tables
	children := make(map[schema.TableRef][]schema.TableRef)
	inDegree := make(map[schema.TableRef]int, len(refs))
	for _, ref := range refs {
		t := byRef[ref].TableDef
		for _, fk := range t.ForeignKeys() {
			parent, ok := referencedTable(before, ref, fk)
			if !ok || parent == ref {
				continue
			}
			if _, dropped := byRef[parent]; !dropped {
				continue
			}
			children[ref] = append(children[ref], parent)
			inDegree[parent]++
		}
	}

	var queue []schema.TableRef
	for _, ref := range refs {
		if inDegree[ref] == 0 {
			queue = append(queue, ref)
		}
	}

	ordered := make([]Operation, 0, len(drops))
	seen := make(map[schema.TableRef]bool, len(refs))
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		seen[ref] = true
		ordered = append(ordered, byRef[ref])

		for _, parent := range children[ref] {
			inDegree[parent]--
			if inDegree[parent] == 0 {
				queue = append(queue, parent)
				sort.Slice(queue, func(i, j int) bool { return less(queue[i], queue[j]) })
			}
		}
	}
	for _, ref := range refs {
		if !seen[ref] {
			ordered = append(ordered, byRef[ref])
		}
	}
	return ordered
}

// referencedTable resolves the table a foreign key of from points at in the
// snapshot. Bare table names prefer the referencing module, then a single
// other owner.
func referencedTable(s *schema.Snapshot, from schema.TableRef, fk schema.Constraint) (schema.TableRef, bool) {
	if fk.ReferencedModule != "" {
		return schema.TableRef{Module: fk.ReferencedModule, Table: fk.ReferencedTable}, true
	}
	if _, ok := s.Table(from.Module, fk.ReferencedTable); ok {
		return schema.TableRef{Module: from.Module, Table: fk.ReferencedTable}, true
	}
	if owners := s.Owners(fk.ReferencedTable); len(owners) == 1 {
		return schema.TableRef{Module: owners[0], Table: fk.ReferencedTable}, true
	}
	return schema.TableRef{}, false
}

func tablesByName(tables []schema.Table) map[string]schema.Table {
	m := make(map[string]schema.Table, len(tables))
	for _, t := range tables {
		m[t.Name] = t
	}
	return m
}

// orderTables sorts tables so that a table referenced by a foreign key from
// another table in the set comes first. Ties and cycles fall back to name
// order.
func orderTables(module string, tables []schema.Table) []schema.Table {
	if len(tables) < 2 {
		return tables
	}

	byName := tablesByName(tables)
	children := make(map[string][]string)
	inDegree := make(map[string]int, len(tables))
	for _, t := range tables {
		inDegree[t.Name] = 0
	}
	for _, t := range tables {
		for _, fk := range t.ForeignKeys() {
			if fk.ReferencedModule != "" && fk.ReferencedModule != module {
				continue
			}
			parent := fk.ReferencedTable
			if _, ok := byName[parent]; !ok || parent == t.Name {
				continue
			}
			children[parent] = append(children[parent], t.Name)
			inDegree[t.Name]++
		}
	}

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var ordered []schema.Table
	seen := make(map[string]bool)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		seen[name] = true
		ordered = append(ordered, byName[name])

		for _, child := range children[name] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
				sort.Strings(queue)
			}
		}
	}

	if len(ordered) < len(tables) {
		var rest []string
		for name := range byName {
			if !seen[name] {
				rest = append(rest, name)
			}
		}
		sort.Strings(rest)
		for _, name := range rest {
			ordered = append(ordered, byName[name])
		}
	}
	return ordered
}

func diffTable(module string, before, after schema.Table) []Operation {
	op := func(kind Kind) Operation {
		return Operation{Kind: kind, Module: module, Table: after.Name}
	}

	var ops []Operation

	afterConstraints := make(map[string]bool)
	for _, c := range after.Constraints {
		afterConstraints[c.Key()] = true
	}
	beforeConstraints := make(map[string]bool)
	for _, c := range before.Constraints {
		beforeConstraints[c.Key()] = true
		if !afterConstraints[c.Key()] {
			o := op(DropConstraint)
			c := c
			c.Table = before.Name
			o.Constraint = &c
			ops = append(ops, o)
		}
	}

	afterIndexes := make(map[string]bool)
	for _, i := range after.Indexes {
		afterIndexes[i.Key()] = true
	}
	beforeIndexes := make(map[string]bool)
	for _, i := range before.Indexes {
		beforeIndexes[i.Key()] = true
		if !afterIndexes[i.Key()] {
			o := op(DropIndex)
			idx := cloneIndex(i, before.Name)
			o.Index = &idx
			ops = append(ops, o)
		}
	}

	var added []Operation
	for _, ac := range after.Columns {
		bc, ok := before.Column(ac.Name)
		if !ok {
			o := op(AddColumn)
			col := cloneColumn(ac, after.Name)
			o.Column = &col
			added = append(added, o)
			continue
		}

		current := cloneColumn(*bc, before.Name)
		if !sameType(bc.DataType, ac.DataType) {
			o := op(AlterColumnType)
			b := current
			a := cloneColumn(current, after.Name)
			a.DataType = ac.DataType
			o.Before, o.After = &b, &a
			ops = append(ops, o)
			current = cloneColumn(a, after.Name)
		}
		if bc.Nullable != ac.Nullable {
			o := op(AlterColumnNullable)
			b := current
			a := cloneColumn(current, after.Name)
			a.Nullable = ac.Nullable
			o.Before, o.After = &b, &a
			ops = append(ops, o)
		}
	}
	ops = append(ops, added...)

	for _, c := range after.Constraints {
		if !beforeConstraints[c.Key()] {
			o := op(AddConstraint)
			c := c
			c.Table = after.Name
			o.Constraint = &c
			ops = append(ops, o)
			beforeConstraints[c.Key()] = true
		}
	}
	for _, i := range after.Indexes {
		if !beforeIndexes[i.Key()] {
			o := op(AddIndex)
			idx := cloneIndex(i, after.Name)
			o.Index = &idx
			ops = append(ops, o)
			beforeIndexes[i.Key()] = true
		}
	}

	for _, bc := range before.Columns {
		if _, ok := after.Column(bc.Name); !ok {
			o := op(DropColumn)
			col := cloneColumn(bc, before.Name)
			o.Column = &col
			ops = append(ops, o)
		}
	}
	return ops
}

func sameType(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func cloneColumn(c schema.Column, table string) schema.Column {
	out := c
	out.Table = table
	if c.DefaultValue != nil {
		v := *c.DefaultValue
		out.DefaultValue = &v
	}
	return out
}

func cloneIndex(i schema.Index, table string) schema.Index {
	out := i
	out.Table = table
	out.Columns = append([]string(nil), i.Columns...)
	return out
}
