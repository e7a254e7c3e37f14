// Package depgraph builds the agent dependency DAG that drives scheduling.
// Nodes are selected agents; an edge A -> B means B consumes A's output and
// must not start before A reaches a terminal status.
package depgraph

import (
	"sort"

	"github.com/maestrolab/maestro/internal/validation"
)

// Edge is a directed dependency from producer to consumer.
type Edge struct {
	From string
	To   string
}

// Graph is a mutable directed graph over agent ids. It is not safe for
// concurrent mutation; the scheduler only reads it.
type Graph struct {
	nodes map[string]bool
	out   map[string]map[string]bool
	in    map[string]map[string]bool
}

func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]bool),
		out:   make(map[string]map[string]bool),
		in:    make(map[string]map[string]bool),
	}
}

func (g *Graph) AddNode(id string) {
	if id == "" {
		return
	}
	g.nodes[id] = true
}

// AddEdge inserts from -> to, creating missing nodes. Self loops and
// duplicates are dropped silently.
func (g *Graph) AddEdge(from, to string) {
	if from == "" || to == "" || from == to {
		return
	}
	g.AddNode(from)
	g.AddNode(to)
	if g.out[from] == nil {
		g.out[from] = make(map[string]bool)
	}
	if g.in[to] == nil {
		g.in[to] = make(map[string]bool)
	}
	g.out[from][to] = true
	g.in[to][from] = true
}

func (g *Graph) RemoveEdge(from, to string) {
	delete(g.out[from], to)
	delete(g.in[to], from)
}

func (g *Graph) HasEdge(from, to string) bool {
	return g.out[from][to]
}

func (g *Graph) HasNode(id string) bool {
	return g.nodes[id]
}

// Dependencies returns the sorted producers id waits on.
func (g *Graph) Dependencies(id string) []string {
	return sortedKeys(g.in[id])
}

// Dependents returns the sorted consumers waiting on id.
func (g *Graph) Dependents(id string) []string {
	return sortedKeys(g.out[id])
}

func (g *Graph) Nodes() []string {
	return sortedKeys(g.nodes)
}

func (g *Graph) Edges() []Edge {
	edges := make([]Edge, 0, g.EdgeCount())
	for _, from := range sortedKeys(g.out) {
		for _, to := range sortedKeys(g.out[from]) {
			edges = append(edges, Edge{From: from, To: to})
		}
	}
	return edges
}

func (g *Graph) EdgeCount() int {
	n := 0
	for _, tos := range g.out {
		n += len(tos)
	}
	return n
}

func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// Validate runs cycle detection over the current edges.
func (g *Graph) Validate() validation.Report {
	nodes := make([]validation.Node, 0, len(g.nodes))
	for _, id := range g.Nodes() {
		nodes = append(nodes, validation.Node{ID: id, Dependencies: g.Dependencies(id)})
	}
	return validation.Detect(nodes)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
