package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/strata-io/strata/internal/ir"
)

// ErrCyclicWriteOnly marks a write-only argument whose value expression
// references its own resource. Reported at plan time, before any
// provider is invoked.
var ErrCyclicWriteOnly = errors.New("cyclic write-only dependency")

// DAG represents a directed acyclic graph of managed and ephemeral
// resources for dependency ordering.
type DAG struct {
	nodes    map[string]*dagNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type dagNode struct {
	addr     string
	edges    []string // nodes this node depends on
	revEdges []string // nodes that depend on this node
}

// BuildDAG constructs a dependency graph from managed and ephemeral
// resources. It resolves explicit DependsOn plus implicit ptr:// and
// eph:// references, including those inside write-only argument values.
func BuildDAG(resources []*ir.Resource, ephemerals []*ir.EphemeralResource) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for _, res := range resources {
		addr := resourceAddr(res)
		dag.nodes[addr] = &dagNode{addr: addr}
	}
	for _, eph := range ephemerals {
		addr := ephemeralAddr(eph)
		dag.nodes[addr] = &dagNode{addr: addr}
	}

	// Managed resource edges: DependsOn, property references, and
	// write-only value references.
	for _, res := range resources {
		addr := resourceAddr(res)
		node := dag.nodes[addr]

		for _, dep := range res.DependsOn {
			if _, ok := dag.nodes[dep]; ok {
				node.edges = append(node.edges, dep)
			}
		}

		for _, ref := range extractRefs(res.Properties) {
			if depAddr := refToAddr(ref); depAddr != "" {
				if _, ok := dag.nodes[depAddr]; ok {
					node.edges = append(node.edges, depAddr)
				}
			}
		}

		for name, arg := range res.WriteOnly {
			for _, ref := range extractRefs(arg.Value) {
				depAddr := refToAddr(ref)
				if depAddr == "" {
					continue
				}
				if depAddr == addr {
					return nil, fmt.Errorf("%w: write-only argument %q of %s references its own resource",
						ErrCyclicWriteOnly, name, addr)
				}
				if _, ok := dag.nodes[depAddr]; ok {
					node.edges = append(node.edges, depAddr)
				}
			}
		}
	}

	// Ephemeral resource edges: property references only.
	for _, eph := range ephemerals {
		addr := ephemeralAddr(eph)
		node := dag.nodes[addr]
		for _, ref := range extractRefs(eph.Properties) {
			if depAddr := refToAddr(ref); depAddr != "" {
				if _, ok := dag.nodes[depAddr]; ok {
					node.edges = append(node.edges, depAddr)
				}
			}
		}
	}

	// Build reverse edges
	for addr, node := range dag.nodes {
		for _, dep := range node.edges {
			dag.nodes[dep].revEdges = append(dag.nodes[dep].revEdges, addr)
		}
	}

	order, err := dag.topoSort()
	if err != nil {
		return nil, err
	}
	dag.order = order

	// Reverse order for destruction
	dag.revOrder = make([]string, len(order))
	for i, addr := range order {
		dag.revOrder[len(order)-1-i] = addr
	}

	return dag, nil
}

// BuildDAGFromState constructs a dependency graph from state resources (for destroy).
func BuildDAGFromState(resources []*ir.ResourceState) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for _, res := range resources {
		addr := res.Addr()
		dag.nodes[addr] = &dagNode{addr: addr, edges: append([]string{}, res.Dependencies...)}
	}

	// Ensure all dependency nodes exist
	for _, node := range dag.nodes {
		for _, dep := range node.edges {
			if _, ok := dag.nodes[dep]; !ok {
				dag.nodes[dep] = &dagNode{addr: dep}
			}
		}
	}

	// Build reverse edges
	for addr, node := range dag.nodes {
		for _, dep := range node.edges {
			dag.nodes[dep].revEdges = append(dag.nodes[dep].revEdges, addr)
		}
	}

	order, err := dag.topoSort()
	if err != nil {
		return nil, err
	}
	dag.order = order

	dag.revOrder = make([]string, len(order))
	for i, addr := range order {
		dag.revOrder[len(order)-1-i] = addr
	}

	return dag, nil
}

// CreationOrder returns nodes in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// DestructionOrder returns nodes in reverse dependency order (safe for deletion).
func (d *DAG) DestructionOrder() []string {
	return d.revOrder
}

// Dependencies returns the list of dependencies for a given address.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// TransitiveDeps returns all nodes reachable through dependency edges
// from the given address.
func (d *DAG) TransitiveDeps(addr string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(a string) {
		node, ok := d.nodes[a]
		if !ok {
			return
		}
		for _, dep := range node.edges {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(addr)

	deps := make([]string, 0, len(seen))
	for dep := range seen {
		deps = append(deps, dep)
	}
	return deps
}

// topoSort performs Kahn's algorithm for topological sorting.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int)
	for addr := range d.nodes {
		inDegree[addr] = len(d.nodes[addr].edges)
	}

	var queue []string
	for addr, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, addr)
		}
	}

	var sorted []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		for _, dependent := range d.nodes[node].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) != len(d.nodes) {
		return nil, fmt.Errorf("dependency cycle detected in resource graph")
	}

	return sorted, nil
}

// resourceAddr returns the address of a managed resource (type.name).
func resourceAddr(res *ir.Resource) string {
	t := res.Type
	if t == "" {
		t = "null_resource"
	}
	return fmt.Sprintf("%s.%s", t, res.Name)
}

// ephemeralAddr returns the address of an ephemeral resource.
func ephemeralAddr(eph *ir.EphemeralResource) string {
	return fmt.Sprintf("ephemeral.%s.%s", eph.Type, eph.Name)
}

// extractRefs extracts all ptr:// and eph:// references from a value.
func extractRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "ptr://") || strings.HasPrefix(val, "eph://") {
			refs = append(refs, val)
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, extractRefs(v)...)
		}
	case map[any]any:
		for _, v := range val {
			refs = append(refs, extractRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, extractRefs(v)...)
		}
	}
	return refs
}

// refToAddr converts a reference to a node address.
// ptr://null:null_resource/db/id  -> null_resource.db
// eph://null_secret/creds/token   -> ephemeral.null_secret.creds
func refToAddr(ref string) string {
	switch {
	case strings.HasPrefix(ref, "ptr://"):
		path := ref[len("ptr://"):]
		// Format: provider:type/name/attribute
		parts := strings.SplitN(path, "/", 3)
		if len(parts) < 2 {
			return ""
		}
		typ := parts[0]
		if i := strings.Index(typ, ":"); i >= 0 {
			typ = typ[i+1:]
		}
		return fmt.Sprintf("%s.%s", typ, parts[1])
	case strings.HasPrefix(ref, "eph://"):
		path := ref[len("eph://"):]
		// Format: type/name/attribute
		parts := strings.SplitN(path, "/", 3)
		if len(parts) < 2 {
			return ""
		}
		return fmt.Sprintf("ephemeral.%s.%s", parts[0], parts[1])
	default:
		return ""
	}
}
