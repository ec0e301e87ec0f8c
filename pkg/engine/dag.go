package engine

import (
	"fmt"
	"strings"
)

// GraphNode is a node of a dependency graph.
type GraphNode struct {
	// ID is the unique identifier of the node.
	ID string `json:"id"`

	// Label is the display label.
	Label string `json:"label"`

	// Kind drives the node color in DOT output.
	Kind DescriptorKind `json:"kind"`

	// Blocked marks nodes that will not run.
	Blocked bool `json:"blocked"`

	// Level is the topological level; -1 if the node could not be placed.
	Level int `json:"level"`

	// Dependencies are the IDs of nodes that must run first.
	Dependencies []string `json:"dependencies"`

	// Dependents are the IDs of nodes that wait for this one.
	Dependents []string `json:"dependents"`
}

// DependencyGraph is the result of DAGBuilder.Build.
type DependencyGraph struct {
	// Nodes maps node IDs to nodes.
	Nodes map[string]*GraphNode `json:"nodes"`

	// Order is the topological order. Ties keep insertion order.
	Order []string `json:"order"`

	// Unplaced lists nodes that are on a cycle or wait for one, in
	// insertion order.
	Unplaced []string `json:"unplaced,omitempty"`

	// Cycles lists the cycles found among unplaced nodes.
	Cycles [][]string `json:"cycles,omitempty"`
}

// OnCycle reports whether a node can reach itself.
func (g *DependencyGraph) OnCycle(id string) bool {
	return g.CycleOf(id) != nil
}

// CycleOf returns the first recorded cycle that contains the node.
func (g *DependencyGraph) CycleOf(id string) []string {
	for _, cycle := range g.Cycles {
		for _, n := range cycle {
			if n == id {
				return cycle
			}
		}
	}
	return nil
}

// DAGBuilder builds a dependency graph and sorts it topologically with
// Kahn's algorithm. Nodes that cannot be placed are reported instead of
// failing the whole build.
type DAGBuilder struct {
	// order keeps node insertion order for deterministic tie breaking
	order []string

	nodes map[string]*GraphNode

	// adjacencyList maps node IDs to their dependents
	adjacencyList map[string][]string

	// reverseAdjacencyList maps node IDs to their dependencies
	reverseAdjacencyList map[string][]string

	// inDegree tracks the number of incoming edges for each node
	inDegree map[string]int

	levels [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		nodes:                make(map[string]*GraphNode),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
	}
}

// AddNode adds a node. IDs must be unique and non-empty.
func (b *DAGBuilder) AddNode(id, label string, kind DescriptorKind, blocked bool) error {
	if id == "" {
		return fmt.Errorf("graph node has empty ID")
	}
	if _, exists := b.nodes[id]; exists {
		return fmt.Errorf("duplicate graph node ID: %s", id)
	}
	b.nodes[id] = &GraphNode{ID: id, Label: label, Kind: kind, Blocked: blocked, Level: -1}
	b.order = append(b.order, id)
	b.inDegree[id] = 0
	return nil
}

// AddEdge records that from must run before to.
func (b *DAGBuilder) AddEdge(from, to string) error {
	if _, exists := b.nodes[from]; !exists {
		return fmt.Errorf("edge references non-existent node: %s", from)
	}
	if _, exists := b.nodes[to]; !exists {
		return fmt.Errorf("edge references non-existent node: %s", to)
	}
	for _, dependent := range b.adjacencyList[from] {
		if dependent == to {
			return nil
		}
	}
	b.adjacencyList[from] = append(b.adjacencyList[from], to)
	b.reverseAdjacencyList[to] = append(b.reverseAdjacencyList[to], from)
	b.inDegree[to]++
	return nil
}

// Build sorts the graph.
func (b *DAGBuilder) Build() *DependencyGraph {
	graph := &DependencyGraph{
		Nodes: b.nodes,
		Order: make([]string, 0, len(b.nodes)),
	}

	// Kahn's algorithm; the first ready node in insertion order goes next
	inDegreeCopy := make(map[string]int, len(b.inDegree))
	for id, degree := range b.inDegree {
		inDegreeCopy[id] = degree
	}
	placed := make(map[string]bool, len(b.nodes))
	b.levels = b.levels[:0]
	for {
		next := ""
		for _, id := range b.order {
			if !placed[id] && inDegreeCopy[id] == 0 {
				next = id
				break
			}
		}
		if next == "" {
			break
		}
		placed[next] = true
		graph.Order = append(graph.Order, next)

		node := b.nodes[next]
		node.Level = 0
		for _, dep := range b.reverseAdjacencyList[next] {
			if l := b.nodes[dep].Level + 1; l > node.Level {
				node.Level = l
			}
		}
		for len(b.levels) <= node.Level {
			b.levels = append(b.levels, nil)
		}
		b.levels[node.Level] = append(b.levels[node.Level], next)

		for _, dependent := range b.adjacencyList[next] {
			inDegreeCopy[dependent]--
		}
	}

	for _, id := range b.order {
		node := b.nodes[id]
		node.Dependencies = b.reverseAdjacencyList[id]
		node.Dependents = b.adjacencyList[id]
		if !placed[id] {
			graph.Unplaced = append(graph.Unplaced, id)
		}
	}
	graph.Cycles = b.detectCycles(graph.Unplaced)
	return graph
}

// detectCycles uses depth-first search to find cycles among the given nodes.
// Every node that lies on a cycle appears in at least one returned cycle.
func (b *DAGBuilder) detectCycles(candidates []string) [][]string {
	inScope := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		inScope[id] = true
	}

	var cycles [][]string
	covered := make(map[string]bool)
	for _, id := range candidates {
		if covered[id] {
			continue
		}
		visited := make(map[string]bool)
		if cycle := b.findCycleThrough(id, id, inScope, visited, []string{id}); cycle != nil {
			for _, n := range cycle {
				covered[n] = true
			}
			cycles = append(cycles, cycle)
		}
	}
	return cycles
}

// findCycleThrough performs DFS from nodeID looking for a path back to start.
func (b *DAGBuilder) findCycleThrough(
	start, nodeID string,
	inScope map[string]bool,
	visited map[string]bool,
	path []string,
) []string {
	visited[nodeID] = true
	for _, dependent := range b.adjacencyList[nodeID] {
		if !inScope[dependent] {
			continue
		}
		if dependent == start {
			return append(append([]string{}, path...), start)
		}
		if !visited[dependent] {
			if cycle := b.findCycleThrough(start, dependent, inScope, visited, append(path, dependent)); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// GetLevels returns the computed levels of placed nodes.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

// ToDOT generates a DOT format representation of the graph for visualization.
// The output can be rendered with Graphviz tools.
func (b *DAGBuilder) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph PatchGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	// Group nodes by level for better visualization
	for level, ids := range b.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			b.writeDOTNode(&sb, "    ", b.nodes[id])
		}
		sb.WriteString("  }\n\n")
	}

	for _, id := range b.order {
		if node := b.nodes[id]; node.Level < 0 {
			b.writeDOTNode(&sb, "  ", node)
		}
	}

	for _, id := range b.order {
		for _, dependent := range b.adjacencyList[id] {
			style := "style=solid, color=black"
			if b.nodes[dependent].Blocked {
				style = "style=dashed, color=red"
			}
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [%s];\n", id, dependent, style))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func (b *DAGBuilder) writeDOTNode(sb *strings.Builder, indent string, node *GraphNode) {
	sb.WriteString(fmt.Sprintf("%s\"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
		indent, node.ID, node.Label, getNodeColor(node)))
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}

// getNodeColor returns a color for visualizing descriptor kinds.
func getNodeColor(node *GraphNode) string {
	switch {
	case node.Blocked:
		return "lightcoral"
	case node.Kind == DescriptorInstaller:
		return "lightgreen"
	case node.Kind == DescriptorPatch:
		return "lightblue"
	default:
		return "white"
	}
}
