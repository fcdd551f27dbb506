package engine

import (
	"github.com/mbracero/fresco/pkg/schema"
)

// ExecutionPlan is the compiled, dependency-ordered form of a workflow graph,
// narrowed to the requested run scope. Built once per run by Compile, then
// read-only.
type ExecutionPlan struct {
	Scope      schema.RunScope
	Nodes      map[string]*schema.Node // node ID → definition (in scope)
	Configs    map[string]any          // node ID → decoded kind config
	Deps       map[string][]string     // node ID → dependency node IDs
	Dependents map[string][]string     // node ID → dependent node IDs
	InEdges    map[string][]schema.Edge
	Sorted     []string   // topological order
	Levels     [][]string // parallel execution levels
	// OutTypes resolves dynamic output handle types (media nodes from config,
	// crop nodes from their inbound edge).
	OutTypes map[string]map[string]schema.ValueType
}

// CompileOptions selects the run scope.
type CompileOptions struct {
	Scope     schema.RunScope
	Selection []string // node IDs for scoped runs; exactly one for ScopeSingle
	// ProvidedInputs names the input handles the caller supplies directly in
	// a single-node run.
	ProvidedInputs []string
}

// Compile validates a workflow graph, narrows it to the requested scope, and
// produces an ExecutionPlan. Validation covers node identity and config,
// edge endpoints and handle compatibility, and acyclicity. Compilation is
// deterministic: the same graph and options always yield the same plan.
func Compile(graph *schema.WorkflowGraph, opts CompileOptions) (*ExecutionPlan, error) {
	if graph == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow graph is nil")
	}
	if len(graph.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow graph has no nodes")
	}
	if opts.Scope == "" {
		opts.Scope = schema.ScopeFull
	}

	nodes := make(map[string]*schema.Node, len(graph.Nodes))
	configs := make(map[string]any, len(graph.Nodes))

	// First pass: register nodes, check duplicates, decode configs.
	for i := range graph.Nodes {
		n := &graph.Nodes[i]
		if n.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node at index %d has empty ID", i)
		}
		if _, exists := nodes[n.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node ID: %s", n.ID)
		}
		if _, ok := schema.KindOf(n.Kind); !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %s has unknown kind: %s", n.ID, n.Kind).WithNode(n.ID)
		}
		cfg, err := schema.DecodeConfig(n)
		if err != nil {
			return nil, err
		}
		nodes[n.ID] = n
		configs[n.ID] = cfg
	}

	// Second pass: validate edges and build adjacency.
	deps := make(map[string][]string, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	inEdges := make(map[string][]schema.Edge, len(nodes))
	edgeIDs := make(map[string]bool, len(graph.Edges))
	boundTargets := make(map[string]bool, len(graph.Edges)) // "target\x00handle"

	for _, e := range graph.Edges {
		if e.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge %s→%s has empty ID", e.Source, e.Target)
		}
		if edgeIDs[e.ID] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate edge ID: %s", e.ID).WithEdge(e.ID)
		}
		edgeIDs[e.ID] = true

		src, ok := nodes[e.Source]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeDanglingEdge, "edge %s references non-existent source node: %s", e.ID, e.Source).WithEdge(e.ID)
		}
		tgt, ok := nodes[e.Target]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeDanglingEdge, "edge %s references non-existent target node: %s", e.ID, e.Target).WithEdge(e.ID)
		}
		if e.Source == e.Target {
			return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "node %s depends on itself", e.Source).WithNode(e.Source)
		}
		if _, ok := schema.OutputHandleOf(src.Kind, e.SourceHandle); !ok {
			return nil, schema.NewErrorf(schema.ErrCodeDanglingEdge, "edge %s: node %s (%s) has no output handle %q", e.ID, src.ID, src.Kind, e.SourceHandle).WithEdge(e.ID)
		}
		if _, ok := schema.InputHandleOf(tgt.Kind, e.TargetHandle); !ok {
			return nil, schema.NewErrorf(schema.ErrCodeDanglingEdge, "edge %s: node %s (%s) has no input handle %q", e.ID, tgt.ID, tgt.Kind, e.TargetHandle).WithEdge(e.ID)
		}

		key := e.Target + "\x00" + e.TargetHandle
		if boundTargets[key] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %s input %q has more than one inbound edge", e.Target, e.TargetHandle).WithNode(e.Target)
		}
		boundTargets[key] = true

		deps[e.Target] = append(deps[e.Target], e.Source)
		dependents[e.Source] = append(dependents[e.Source], e.Target)
		inEdges[e.Target] = append(inEdges[e.Target], e)
	}

	// A node may feed several inputs of the same dependent; dedupe the
	// adjacency so Kahn in-degrees stay correct.
	for id := range deps {
		deps[id] = dedupe(deps[id])
	}
	for id := range dependents {
		dependents[id] = dedupe(dependents[id])
	}

	// Full-graph topological sort: proves acyclicity and gives the order in
	// which dynamic output types can be resolved.
	fullSorted, err := kahnSort(nodes, deps, dependents)
	if err != nil {
		return nil, err
	}

	// Resolve output types in topological order, then type-check every edge.
	outTypes, err := resolveOutputTypes(fullSorted, nodes, configs, inEdges)
	if err != nil {
		return nil, err
	}
	for _, edges := range inEdges {
		for _, e := range edges {
			if err := checkEdgeTypes(nodes, outTypes, e); err != nil {
				return nil, err
			}
		}
	}

	// Narrow to the requested scope.
	inScope, err := scopeSubset(nodes, deps, opts)
	if err != nil {
		return nil, err
	}

	plan := &ExecutionPlan{
		Scope:      opts.Scope,
		Nodes:      make(map[string]*schema.Node, len(inScope)),
		Configs:    make(map[string]any, len(inScope)),
		Deps:       make(map[string][]string, len(inScope)),
		Dependents: make(map[string][]string, len(inScope)),
		InEdges:    make(map[string][]schema.Edge, len(inScope)),
		OutTypes:   outTypes,
	}
	for id := range inScope {
		plan.Nodes[id] = nodes[id]
		plan.Configs[id] = configs[id]
		for _, d := range deps[id] {
			if inScope[d] {
				plan.Deps[id] = append(plan.Deps[id], d)
			}
		}
		for _, d := range dependents[id] {
			if inScope[d] {
				plan.Dependents[id] = append(plan.Dependents[id], d)
			}
		}
		for _, e := range inEdges[id] {
			if inScope[e.Source] {
				plan.InEdges[id] = append(plan.InEdges[id], e)
			}
		}
	}

	// Re-sort and level the scoped subgraph. The subset of a DAG is itself a
	// DAG, so this cannot fail.
	plan.Sorted, err = kahnSort(plan.Nodes, plan.Deps, plan.Dependents)
	if err != nil {
		return nil, err
	}
	plan.Levels = computeLevels(plan.Sorted, plan.Deps)

	// Single-node runs receive their inputs from the caller; check the
	// node's required handles are covered up front.
	if opts.Scope == schema.ScopeSingle {
		if err := checkProvidedInputs(plan, opts.ProvidedInputs); err != nil {
			return nil, err
		}
	}

	return plan, nil
}

// kahnSort topologically sorts the given node set, returning
// ErrCodeCycleDetected naming the unresolved nodes when a cycle exists.
// Ready nodes are visited in ascending ID order so the result is
// deterministic.
func kahnSort(nodes map[string]*schema.Node, deps, dependents map[string][]string) ([]string, error) {
	inDegree := make(map[string]int, len(nodes))
	for id := range nodes {
		inDegree[id] = len(deps[id])
	}

	queue := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sortStrings(queue)

	sorted := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		next := make([]string, len(dependents[id]))
		copy(next, dependents[id])
		sortStrings(next)

		for _, dep := range next {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(nodes) {
		members := make([]string, 0, len(nodes)-len(sorted))
		for id, deg := range inDegree {
			if deg > 0 {
				members = append(members, id)
			}
		}
		sortStrings(members)
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "workflow graph contains a cycle").
			WithDetails(map[string]any{"nodes": members})
	}
	return sorted, nil
}

// computeLevels groups nodes into parallel execution levels: a node's level
// is one past the deepest of its dependencies.
func computeLevels(sorted []string, deps map[string][]string) [][]string {
	depth := make(map[string]int, len(sorted))
	maxLevel := 0
	for _, id := range sorted {
		maxDep := -1
		for _, dep := range deps[id] {
			if depth[dep] > maxDep {
				maxDep = depth[dep]
			}
		}
		depth[id] = maxDep + 1
		if depth[id] > maxLevel {
			maxLevel = depth[id]
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range sorted {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	for _, level := range levels {
		sortStrings(level)
	}
	return levels
}

// resolveOutputTypes fills in the concrete type of every output handle.
// Media nodes take theirs from config; crop nodes propagate the type of
// their inbound media edge, which is why resolution walks in topological
// order.
func resolveOutputTypes(sorted []string, nodes map[string]*schema.Node, configs map[string]any, inEdges map[string][]schema.Edge) (map[string]map[string]schema.ValueType, error) {
	out := make(map[string]map[string]schema.ValueType, len(nodes))
	for _, id := range sorted {
		n := nodes[id]
		spec, _ := schema.KindOf(n.Kind)
		types := make(map[string]schema.ValueType, len(spec.Outputs))
		for _, h := range spec.Outputs {
			switch {
			case h.Type != "":
				types[h.Name] = h.Type
			case n.Kind == schema.KindMedia:
				types[h.Name] = configs[id].(*schema.MediaConfig).Type
			case n.Kind == schema.KindCrop:
				// Same type as whatever feeds the media input. Unconnected
				// is legal only in single-node runs; leave it dynamic.
				for _, e := range inEdges[id] {
					if e.TargetHandle == schema.HandleMedia {
						types[h.Name] = out[e.Source][e.SourceHandle]
					}
				}
			}
			// Unresolved dynamic handles stay absent from the map.
			if types[h.Name] == "" {
				delete(types, h.Name)
			}
		}
		out[id] = types
	}
	return out, nil
}

// checkEdgeTypes verifies the source handle's resolved type is accepted by
// the target handle.
func checkEdgeTypes(nodes map[string]*schema.Node, outTypes map[string]map[string]schema.ValueType, e schema.Edge) error {
	srcType, resolved := outTypes[e.Source][e.SourceHandle]
	if !resolved {
		return nil
	}
	in, _ := schema.InputHandleOf(nodes[e.Target].Kind, e.TargetHandle)
	for _, t := range in.Accepts {
		if t == srcType {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeTypeMismatch,
		"edge %s: %s.%s produces %s but %s.%s accepts %v",
		e.ID, e.Source, e.SourceHandle, srcType, e.Target, e.TargetHandle, in.Accepts).WithEdge(e.ID)
}

// scopeSubset returns the set of node IDs the run executes.
func scopeSubset(nodes map[string]*schema.Node, deps map[string][]string, opts CompileOptions) (map[string]bool, error) {
	switch opts.Scope {
	case schema.ScopeFull:
		all := make(map[string]bool, len(nodes))
		for id := range nodes {
			all[id] = true
		}
		return all, nil

	case schema.ScopeSelected:
		if len(opts.Selection) == 0 {
			return nil, schema.NewError(schema.ErrCodeValidation, "selected run has empty selection")
		}
		// Selection plus all transitive ancestors.
		inScope := make(map[string]bool)
		var visit func(id string) error
		visit = func(id string) error {
			if inScope[id] {
				return nil
			}
			if _, ok := nodes[id]; !ok {
				return schema.NewErrorf(schema.ErrCodeValidation, "selection references non-existent node: %s", id)
			}
			inScope[id] = true
			for _, dep := range deps[id] {
				if err := visit(dep); err != nil {
					return err
				}
			}
			return nil
		}
		for _, id := range opts.Selection {
			if err := visit(id); err != nil {
				return nil, err
			}
		}
		return inScope, nil

	case schema.ScopeSingle:
		if len(opts.Selection) != 1 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "single run requires exactly one node, got %d", len(opts.Selection))
		}
		id := opts.Selection[0]
		if _, ok := nodes[id]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "selection references non-existent node: %s", id)
		}
		return map[string]bool{id: true}, nil
	}

	return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown run scope: %s", opts.Scope)
}

// checkProvidedInputs verifies a single-node run covers the node's required
// input handles with caller-supplied values.
func checkProvidedInputs(plan *ExecutionPlan, provided []string) error {
	id := plan.Sorted[0]
	have := make(map[string]bool, len(provided))
	for _, name := range provided {
		have[name] = true
	}
	spec, _ := schema.KindOf(plan.Nodes[id].Kind)
	for _, h := range spec.Inputs {
		if h.Required && !have[h.Name] {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"single run of node %s is missing required input %q", id, h.Name).WithNode(id)
		}
	}
	for _, name := range provided {
		if _, ok := schema.InputHandleOf(plan.Nodes[id].Kind, name); !ok {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"single run of node %s supplies unknown input %q", id, name).WithNode(id)
		}
	}
	return nil
}

func dedupe(s []string) []string {
	seen := make(map[string]bool, len(s))
	out := s[:0]
	for _, v := range s {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// sortStrings sorts a slice of strings in-place using insertion sort.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && s[j] > key {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}
