package domain

// ResolveEffectiveGroups expands direct group memberships through the group
// hierarchy. The result holds every direct group followed by every ancestor
// reachable through parent links, each exactly once, in breadth-first order.
//
// Traversal only follows parent references already present on each visited
// group and tracks visited groups, so it terminates on cyclic hierarchies and
// on partially loaded graphs.
func ResolveEffectiveGroups(direct []*Group) []*Group {
	return walkHierarchy(direct, make(map[any]struct{}, len(direct)))
}

// walkHierarchy returns seeds and their ancestors, skipping anything already
// in visited. visited is updated in place.
func walkHierarchy(seeds []*Group, visited map[any]struct{}) []*Group {
	result := make([]*Group, 0, len(seeds))
	queue := make([]*Group, 0, len(seeds))

	visit := func(g *Group) {
		if g == nil {
			return
		}
		k := g.Key()
		if _, seen := visited[k]; seen {
			return
		}
		visited[k] = struct{}{}
		result = append(result, g)
		queue = append(queue, g)
	}

	for _, g := range seeds {
		visit(g)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, parent := range current.parents {
			visit(parent)
		}
	}

	return result
}
