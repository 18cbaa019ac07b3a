// Package topo performs cycle-detecting topological ordering of named nodes.
//
// The sorter is used by the plugin loader to order plugin instantiation by
// declared dependency, but it has no knowledge of plugins itself: it operates
// purely on names and edges so it stays independently testable.
package topo

import (
	"fmt"
	"log/slog"
)

// color marks a node's visitation state during the depth-first walk.
type color int

const (
	white color = iota // unvisited
	gray               // in progress (on the current DFS stack)
	black              // done
)

// CycleError reports that node closes a cycle in the dependency graph.
type CycleError struct {
	Node string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("Circular dependency detected at node %q", e.Node)
}

// Sort returns nodes in an order where every node appears after all of its
// dependencies. nodes is visited in its given (insertion) order so that ties
// are broken deterministically across runs. edges maps a node name to the
// list of names it depends on; a dependency name that is not present in
// nodes is logged as a warning and treated as though the edge did not exist.
//
// Sort returns a *CycleError if the graph contains a cycle reachable from
// any node in nodes (including a self-loop).
func Sort(nodes []string, edges map[string][]string, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	known := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		known[n] = struct{}{}
	}

	colors := make(map[string]color, len(nodes))
	out := make([]string, 0, len(nodes))

	var visit func(name string) error
	visit = func(name string) error {
		switch colors[name] {
		case black:
			return nil
		case gray:
			return &CycleError{Node: name}
		}

		colors[name] = gray
		for _, dep := range edges[name] {
			if _, ok := known[dep]; !ok {
				logger.Warn("unknown dependency skipped", "node", name, "dependency", dep)
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		colors[name] = black
		out = append(out, name)
		return nil
	}

	for _, n := range nodes {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return out, nil
}
