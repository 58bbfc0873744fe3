package planner

import "github.com/schemaguard/schemaguard/internal/diff"

// Order rearranges the module groups of cs to follow modules. Groups for
// modules missing from the list keep their relative order after them.
// Trailing groups made only of DropTable operations stay last, in their
// given order. Operations of one module are never reordered.
func Order(cs diff.ChangeSet, modules []string) diff.ChangeSet {
	tail := len(cs.Modules)
	for tail > 0 && dropsOnly(cs.Modules[tail-1]) {
		tail--
	}
	head := diff.ChangeSet{Modules: cs.Modules[:tail]}

	var out diff.ChangeSet
	placed := make(map[string]bool, len(head.Modules))
	for _, name := range modules {
		if placed[name] {
			continue
		}
		if m, ok := head.Module(name); ok {
			out.Modules = append(out.Modules, m)
			placed[name] = true
		}
	}
	for _, name := range head.ModuleNames() {
		if !placed[name] {
			m, _ := head.Module(name)
			out.Modules = append(out.Modules, m)
			placed[name] = true
		}
	}
	out.Modules = append(out.Modules, cs.Modules[tail:]...)
	return out
}

func dropsOnly(m diff.ModuleChanges) bool {
	if len(m.Operations) == 0 {
		return false
	}
	for _, op := range m.Operations {
		if op.Kind != diff.DropTable {
			return false
		}
	}
	return true
}
