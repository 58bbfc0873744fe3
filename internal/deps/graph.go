package deps

import (
	"fmt"
	"sort"
	"strings"

	"github.com/schemaguard/schemaguard/internal/schema"
)

// Edge is a dependency between two modules: From must be migrated before To
// because a table in To has a foreign key referencing a table owned by From.
type Edge struct {
	From            string `json:"from" yaml:"from"`
	To              string `json:"to" yaml:"to"`
	Table           string `json:"table" yaml:"table"`
	ReferencedTable string `json:"referenced_table" yaml:"referenced_table"`
	Constraint      string `json:"constraint,omitempty" yaml:"constraint,omitempty"`
}

// Graph represents the foreign-key dependencies between modules.
type Graph struct {
	nodes map[string]bool
	edges []Edge
	// adjacency: referenced module -> referencing modules
	children map[string][]string
	// adjacency: referencing module -> referenced modules
	parents map[string][]string
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]bool),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// Build derives the module graph from every cross-module foreign key in the
// snapshot. Foreign keys to tables the snapshot does not contain are skipped.
// A reference by bare table name that matches tables in more than one other
// module is reported as a *schema.MalformedSnapshotError.
func Build(after *schema.Snapshot) (*Graph, error) {
	g := NewGraph()
	if after == nil {
		return g, nil
	}

	for _, m := range after.Modules {
		g.AddModule(m.Name)
	}
	for _, m := range after.Modules {
		for i := range m.Tables {
			t := &m.Tables[i]
			for _, fk := range t.ForeignKeys() {
				owner, err := referencedModule(after, m.Name, t.Name, fk)
				if err != nil {
					return nil, err
				}
				if owner == "" {
					continue
				}
				g.AddEdge(Edge{
					From:            owner,
					To:              m.Name,
					Table:           t.Name,
					ReferencedTable: fk.ReferencedTable,
					Constraint:      fk.Name,
				})
			}
		}
	}
	return g, nil
}

// referencedModule finds the module owning the table a foreign key points
// at. An empty result means the table is unknown.
func referencedModule(s *schema.Snapshot, module, table string, fk schema.Constraint) (string, error) {
	if fk.ReferencedModule != "" {
		if _, ok := s.Table(fk.ReferencedModule, fk.ReferencedTable); ok {
			return fk.ReferencedModule, nil
		}
		return "", nil
	}
	if _, ok := s.Table(module, fk.ReferencedTable); ok {
		return module, nil
	}

	owners := s.Owners(fk.ReferencedTable)
	switch len(owners) {
	case 0:
		return "", nil
	case 1:
		return owners[0], nil
	default:
		return "", &schema.MalformedSnapshotError{
			Module: module,
			Table:  table,
			Reason: fmt.Sprintf("foreign key %s references %q, which is owned by modules %s; set referenced_module",
				fk.DisplayName(), fk.ReferencedTable, strings.Join(owners, ", ")),
		}
	}
}

// AddModule adds a node without edges.
func (g *Graph) AddModule(name string) {
	g.nodes[name] = true
}

// AddEdge records a dependency. Self-references are ignored since a module
// never has to wait for itself.
func (g *Graph) AddEdge(e Edge) {
	if e.From == e.To {
		return
	}
	g.AddModule(e.From)
	g.AddModule(e.To)
	g.edges = append(g.edges, e)
	if !contains(g.children[e.From], e.To) {
		g.children[e.From] = append(g.children[e.From], e.To)
		g.parents[e.To] = append(g.parents[e.To], e.From)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Modules returns all module names in sorted order.
func (g *Graph) Modules() []string {
	names := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Edges returns all foreign-key edges in the graph.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// DependsOn returns the modules that must be migrated before module, sorted.
func (g *Graph) DependsOn(module string) []string {
	out := append([]string(nil), g.parents[module]...)
	sort.Strings(out)
	return out
}

// ModuleEdges returns the number of distinct module pairs linked by at least
// one foreign key.
func (g *Graph) ModuleEdges() int {
	n := 0
	for _, kids := range g.children {
		n += len(kids)
	}
	return n
}

// Cycles finds all cycles in the module graph using DFS. Each cycle is
// listed in edge direction starting from its alphabetically first module.
func (g *Graph) Cycles() [][]string {
	var cycles [][]string
	seen := make(map[string]bool)
	visited := make(map[string]bool)
	inStack := make(map[string]bool)

	var path []string
	var dfs func(node string)
	dfs = func(node string) {
		visited[node] = true
		inStack[node] = true
		path = append(path, node)

		next := append([]string(nil), g.children[node]...)
		sort.Strings(next)
		for _, neighbor := range next {
			if !visited[neighbor] {
				dfs(neighbor)
			} else if inStack[neighbor] {
				start := -1
				for i, n := range path {
					if n == neighbor {
						start = i
						break
					}
				}
				if start >= 0 {
					cycle := rotate(path[start:])
					key := strings.Join(cycle, "\x00")
					if !seen[key] {
						seen[key] = true
						cycles = append(cycles, cycle)
					}
				}
			}
		}

		path = path[:len(path)-1]
		inStack[node] = false
	}

	for _, name := range g.Modules() {
		if !visited[name] {
			dfs(name)
		}
	}
	return cycles
}

// rotate copies a cycle so that it starts at its smallest element.
func rotate(cycle []string) []string {
	first := 0
	for i := range cycle {
		if cycle[i] < cycle[first] {
			first = i
		}
	}
	out := make([]string, 0, len(cycle))
	out = append(out, cycle[first:]...)
	out = append(out, cycle[:first]...)
	return out
}

// TopologicalSort orders modules so that every module comes after the
// modules it depends on, choosing alphabetically among ready modules.
// If a cycle blocks progress it returns a *CycleError naming every module
// that could not be ordered.
func (g *Graph) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for n := range g.nodes {
		inDegree[n] = len(g.parents[n])
	}

	var queue []string
	for n, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, n)
		}
	}
	sort.Strings(queue)

	var sorted []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		for _, child := range g.children[node] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
		sort.Strings(queue)
	}

	if len(sorted) != len(g.nodes) {
		var remaining []string
		for n, deg := range inDegree {
			if deg > 0 {
				remaining = append(remaining, n)
			}
		}
		sort.Strings(remaining)
		return sorted, &CycleError{Modules: remaining, Cycles: g.Cycles()}
	}
	return sorted, nil
}

// CycleError indicates the module graph contains a dependency cycle.
type CycleError struct {
	Modules []string   // every module that could not be ordered
	Cycles  [][]string // the individual cycles found
}

func (e *CycleError) Error() string {
	msg := "dependency cycle among modules: " + strings.Join(e.Modules, ", ")
	if len(e.Cycles) > 0 {
		var parts []string
		for _, c := range e.Cycles {
			loop := append(append([]string(nil), c...), c[0])
			parts = append(parts, strings.Join(loop, " -> "))
		}
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	return msg
}
