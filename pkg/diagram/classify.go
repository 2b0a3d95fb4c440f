package diagram

// classifyBackEdges identifies loop-closing edges and assigns each node a
// topological level over the remaining (acyclic) edge set.
//
// A diagram may be cyclic by design (loop bodies), so a plain Kahn's sort
// cannot run directly. classifyBackEdges first runs a DFS coloring pass
// (the standard way to find back edges in a possibly-cyclic graph: an edge
// to a node still on the DFS stack is a back edge) and then runs Kahn's
// algorithm, grounded on the teacher's TopologicalSort wave-builder, over
// the edges that survive.
func classifyBackEdges(d *ExecutableDiagram) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[NodeID]int, len(d.Nodes))
	for id := range d.Nodes {
		color[id] = white
	}

	var visit func(id NodeID)
	visit = func(id NodeID) {
		color[id] = gray
		for _, e := range d.outEdges[id] {
			switch color[e.TargetNode] {
			case gray:
				e.isBackEdge = true
			case white:
				visit(e.TargetNode)
			}
		}
		color[id] = black
	}

	for id, n := range d.Nodes {
		if color[id] == white && n.Type == NodeTypeStart {
			visit(id)
		}
	}
	for id := range d.Nodes {
		if color[id] == white {
			visit(id)
		}
	}

	return assignLevels(d)
}

// assignLevels runs Kahn's algorithm over the non-back-edge subgraph,
// producing a per-node topological level (its wave index). The subgraph is
// guaranteed acyclic because every cycle-closing edge was marked a back
// edge in the coloring pass above.
func assignLevels(d *ExecutableDiagram) error {
	inDegree := make(map[NodeID]int, len(d.Nodes))
	forwardOut := make(map[NodeID][]*Edge, len(d.Nodes))
	for id := range d.Nodes {
		inDegree[id] = 0
	}
	for _, e := range d.Edges {
		if e.isBackEdge {
			continue
		}
		inDegree[e.TargetNode]++
		forwardOut[e.SourceNode] = append(forwardOut[e.SourceNode], e)
	}

	level := 0
	remaining := len(d.Nodes)
	frontier := make([]NodeID, 0, len(d.Nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}

	for len(frontier) > 0 {
		next := make([]NodeID, 0)
		for _, id := range frontier {
			d.Nodes[id].level = level
			remaining--
			for _, e := range forwardOut[id] {
				inDegree[e.TargetNode]--
				if inDegree[e.TargetNode] == 0 {
					next = append(next, e.TargetNode)
				}
			}
		}
		frontier = next
		level++
	}

	if remaining > 0 {
		return &StructuralError{Reason: "cycle detected that back-edge classification could not resolve"}
	}
	return nil
}
