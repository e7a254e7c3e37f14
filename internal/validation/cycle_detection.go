// Package validation checks dependency declarations before they reach the
// scheduler. A cyclic graph would stall wave dispatch forever, so both the
// planner (step graphs) and the dependency builder (agent graphs) run their
// edges through Detect first.
package validation

import (
	"fmt"
	"sort"
	"strings"
)

// Node is one vertex with its declared dependencies. Self references and
// references to unknown ids are ignored rather than treated as cycles.
type Node struct {
	ID           string
	Dependencies []string
}

// Report is the outcome of cycle detection. When HasCycle is false, Order
// holds a deterministic topological order of all node ids. When it is true,
// Members holds the sorted ids of every node trapped in a cycle.
type Report struct {
	HasCycle bool
	Members  []string
	Order    []string
}

// Err renders the report as an error, nil when the graph is acyclic.
func (r Report) Err() error {
	if !r.HasCycle {
		return nil
	}
	return fmt.Errorf("dependency cycle involving: %s", strings.Join(r.Members, ", "))
}

// Detect runs Kahn's algorithm over the nodes. The ready queue is kept
// sorted so the returned order is stable across runs, which the cycle
// repair relies on for deterministic edge breaking.
func Detect(nodes []Node) Report {
	if len(nodes) == 0 {
		return Report{Order: []string{}}
	}

	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}

	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		if _, ok := inDegree[n.ID]; !ok {
			inDegree[n.ID] = 0
		}
		for _, dep := range n.Dependencies {
			if dep == n.ID || !known[dep] {
				continue
			}
			dependents[dep] = append(dependents[dep], n.ID)
			inDegree[n.ID]++
		}
	}

	ready := make([]string, 0, len(nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		next := dependents[id]
		sort.Strings(next)
		for _, dep := range next {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = insertSorted(ready, dep)
			}
		}
	}

	if len(order) == len(inDegree) {
		return Report{Order: order}
	}

	var members []string
	for id, deg := range inDegree {
		if deg > 0 {
			members = append(members, id)
		}
	}
	sort.Strings(members)
	return Report{HasCycle: true, Members: members}
}

func insertSorted(s []string, v string) []string {
	i := sort.SearchStrings(s, v)
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
