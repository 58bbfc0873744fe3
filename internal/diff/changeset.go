package diff

// ModuleChanges holds the ordered operations owned by one module.
type ModuleChanges struct {
	Module     string      `json:"module" yaml:"module"`
	Operations []Operation `json:"operations" yaml:"operations"`
}

// ChangeSet is an ordered sequence of operations grouped by owning module.
// A module may own more than one group when its operations are interleaved
// with another module's.
type ChangeSet struct {
	Modules []ModuleChanges `json:"modules" yaml:"modules"`
}

// FromOperations groups consecutive operations of the same module. The
// result's Operations returns ops in their given order.
func FromOperations(ops []Operation) ChangeSet {
	var cs ChangeSet
	for _, op := range ops {
		n := len(cs.Modules)
		if n == 0 || cs.Modules[n-1].Module != op.Module {
			cs.Modules = append(cs.Modules, ModuleChanges{Module: op.Module})
			n++
		}
		cs.Modules[n-1].Operations = append(cs.Modules[n-1].Operations, op)
	}
	return cs
}

// Operations returns all operations in change-set order.
func (cs ChangeSet) Operations() []Operation {
	var ops []Operation
	for _, m := range cs.Modules {
		ops = append(ops, m.Operations...)
	}
	return ops
}

// Len returns the total number of operations.
func (cs ChangeSet) Len() int {
	n := 0
	for _, m := range cs.Modules {
		n += len(m.Operations)
	}
	return n
}

// IsEmpty reports whether the change set has no operations.
func (cs ChangeSet) IsEmpty() bool {
	return cs.Len() == 0
}

// ModuleNames returns each module once, in order of first appearance.
func (cs ChangeSet) ModuleNames() []string {
	names := make([]string, 0, len(cs.Modules))
	seen := make(map[string]bool, len(cs.Modules))
	for _, m := range cs.Modules {
		if !seen[m.Module] {
			seen[m.Module] = true
			names = append(names, m.Module)
		}
	}
	return names
}

// Module returns every operation of the named module, merged across its
// groups in change-set order.
func (cs ChangeSet) Module(name string) (ModuleChanges, bool) {
	merged := ModuleChanges{Module: name}
	found := false
	for _, m := range cs.Modules {
		if m.Module == name {
			found = true
			merged.Operations = append(merged.Operations, m.Operations...)
		}
	}
	return merged, found
}

// CountByKind returns how many operations of each kind the change set holds.
func (cs ChangeSet) CountByKind() map[Kind]int {
	counts := make(map[Kind]int)
	for _, m := range cs.Modules {
		for _, op := range m.Operations {
			counts[op.Kind]++
		}
	}
	return counts
}
