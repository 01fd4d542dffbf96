package graph

// Focus describes what the viewer is pointing at.
type Focus struct {
	Hover    string
	Selected string
	// FollowHover lets the hovered node take precedence over the selection.
	FollowHover bool
	Secondary   string
}

// Primary returns the effective primary focus id.
func (f Focus) Primary() string {
	if f.FollowHover && f.Hover != "" {
		return f.Hover
	}
	return f.Selected
}

type Emphasis int

const (
	// EmphasisNormal applies when nothing is focused.
	EmphasisNormal Emphasis = iota
	EmphasisFocus
	EmphasisNeighbor
	EmphasisDimmed
)

func (e Emphasis) String() string {
	switch e {
	case EmphasisFocus:
		return "focus"
	case EmphasisNeighbor:
		return "neighbor"
	case EmphasisDimmed:
		return "dimmed"
	default:
		return "normal"
	}
}

type edgeID struct {
	source, target string
	kind           EdgeKind
}

// Neighborhood is the precomputed highlight set for one focus state. Its
// lookups have no side effects.
type Neighborhood struct {
	focus map[string]bool
	nodes map[string]bool
	edges map[edgeID]bool
}

// ComputeNeighborhood collects every focused node, its direct neighbors and
// the edges joining them. Focus ids missing from g are ignored.
func ComputeNeighborhood(g Graph, f Focus) Neighborhood {
	nb := Neighborhood{
		focus: make(map[string]bool),
		nodes: make(map[string]bool),
		edges: make(map[edgeID]bool),
	}
	for _, id := range []string{f.Primary(), f.Secondary} {
		if id == "" {
			continue
		}
		if _, ok := g.index[id]; !ok {
			continue
		}
		nb.focus[id] = true
		nb.nodes[id] = true
		for _, e := range g.Edges {
			if e.Source != id && e.Target != id {
				continue
			}
			nb.nodes[e.Source] = true
			nb.nodes[e.Target] = true
			nb.edges[edgeID{e.Source, e.Target, e.Kind}] = true
		}
	}
	return nb
}

func (n Neighborhood) Active() bool {
	return len(n.focus) > 0
}

func (n Neighborhood) NodeEmphasis(key string) Emphasis {
	switch {
	case !n.Active():
		return EmphasisNormal
	case n.focus[key]:
		return EmphasisFocus
	case n.nodes[key]:
		return EmphasisNeighbor
	default:
		return EmphasisDimmed
	}
}

// EdgeVisible reports whether e should be drawn. Every edge shows when
// nothing is focused.
func (n Neighborhood) EdgeVisible(e RenderEdge) bool {
	if !n.Active() {
		return true
	}
	return n.edges[edgeID{e.Source, e.Target, e.Kind}]
}

// Keys lists the highlighted node keys in graph order.
func (n Neighborhood) Keys(g Graph) []string {
	var out []string
	for _, node := range g.Nodes {
		if n.nodes[node.Key] {
			out = append(out, node.Key)
		}
	}
	return out
}
