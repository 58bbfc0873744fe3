package deps

import (
	"github.com/schemaguard/schemaguard/internal/diff"
	"github.com/schemaguard/schemaguard/internal/schema"
)

// ForChangeSet builds the module graph of the after snapshot, adding every
// module the change set touches as a node even when it no longer owns tables.
func ForChangeSet(cs diff.ChangeSet, after *schema.Snapshot) (*Graph, error) {
	g, err := Build(after)
	if err != nil {
		return nil, err
	}
	for _, m := range cs.ModuleNames() {
		g.AddModule(m)
	}
	return g, nil
}

// Resolve returns every module in an order where each module follows the
// modules it references through foreign keys. It fails with a *CycleError
// when the references form a cycle.
func Resolve(cs diff.ChangeSet, after *schema.Snapshot) ([]string, error) {
	g, err := ForChangeSet(cs, after)
	if err != nil {
		return nil, err
	}
	return g.TopologicalSort()
}
