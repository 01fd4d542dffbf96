package graph

import (
	"math"
	"sort"
)

const (
	galaxyIterations  = 120
	galaxyArea        = 900.0 * 900.0
	galaxyGravity     = 0.06
	galaxyTemperature = 90.0
	minDistance       = 0.01

	clusterHeroRadius = 420.0

	emotionRingRadius = 260.0
	ringBaseRadius    = 46.0
	ringStep          = 22.0
	ringCapacity      = 18
	jitterAngle       = 0.12
	jitterRadius      = 4.0
)

// galaxyLayout runs a Fruchterman-Reingold pass. Starting positions come
// from the document when present and from the key hash otherwise, so the
// whole pass is reproducible.
func galaxyLayout(g *Graph, doc Document) {
	given := make(map[string]Node, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if n.X != nil && n.Y != nil && finite(*n.X) && finite(*n.Y) {
			given[n.Key] = n
		}
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.pinned {
			continue
		}
		if src, ok := given[n.Key]; ok {
			n.X, n.Y = *src.X, *src.Y
			continue
		}
		angle := 2 * math.Pi * hashUnit(n.Key, "seed-angle")
		r := galaxyTemperature + 300*hashUnit(n.Key, "seed-radius")
		n.X, n.Y = r*math.Cos(angle), r*math.Sin(angle)
	}

	forceLayout(g)

	for i := range g.Nodes {
		n := &g.Nodes[i]
		if !finite(n.X) || !finite(n.Y) {
			n.X, n.Y = fallbackPosition(n.Key)
			n.Fallback = true
		}
	}
}

func forceLayout(g *Graph) {
	n := len(g.Nodes)
	if n == 0 {
		return
	}
	k := math.Sqrt(galaxyArea / float64(n))
	dx := make([]float64, n)
	dy := make([]float64, n)
	temp := galaxyTemperature
	cool := galaxyTemperature / galaxyIterations

	for iter := 0; iter < galaxyIterations; iter++ {
		clear(dx)
		clear(dy)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				ddx := g.Nodes[i].X - g.Nodes[j].X
				ddy := g.Nodes[i].Y - g.Nodes[j].Y
				dist := math.Hypot(ddx, ddy)
				if dist < minDistance {
					a := 2 * math.Pi * hashUnit(g.Nodes[i].Key+"\x00"+g.Nodes[j].Key, "split")
					ddx, ddy, dist = minDistance*math.Cos(a), minDistance*math.Sin(a), minDistance
				}
				f := k * k / dist
				fx, fy := ddx/dist*f, ddy/dist*f
				dx[i] += fx
				dy[i] += fy
				dx[j] -= fx
				dy[j] -= fy
			}
		}
		for _, e := range g.Edges {
			i, j := g.index[e.Source], g.index[e.Target]
			ddx := g.Nodes[i].X - g.Nodes[j].X
			ddy := g.Nodes[i].Y - g.Nodes[j].Y
			dist := math.Hypot(ddx, ddy)
			if dist < minDistance {
				continue
			}
			w := e.Weight
			if w <= 0 {
				w = 1
			}
			f := dist * dist / k * w
			fx, fy := ddx/dist*f, ddy/dist*f
			dx[i] -= fx
			dy[i] -= fy
			dx[j] += fx
			dy[j] += fy
		}
		for i := range g.Nodes {
			node := &g.Nodes[i]
			if node.pinned {
				continue
			}
			dx[i] -= galaxyGravity * k * node.X / 10
			dy[i] -= galaxyGravity * k * node.Y / 10
			disp := math.Hypot(dx[i], dy[i])
			if disp == 0 || !finite(disp) {
				continue
			}
			step := math.Min(disp, temp)
			node.X += dx[i] / disp * step
			node.Y += dy[i] / disp * step
		}
		temp = math.Max(temp-cool, 1)
	}
}

// radicalLayout puts self at the origin, emotions on a circle in label order
// and each emotion's memories in rings around it.
func radicalLayout(g *Graph) {
	var emotions []int
	for i, n := range g.Nodes {
		switch n.Kind {
		case NodeSelf:
			g.Nodes[i].X, g.Nodes[i].Y = 0, 0
		case NodeEmotion:
			emotions = append(emotions, i)
		}
	}
	sort.SliceStable(emotions, func(a, b int) bool {
		na, nb := g.Nodes[emotions[a]], g.Nodes[emotions[b]]
		if na.Label != nb.Label {
			return na.Label < nb.Label
		}
		return na.Key < nb.Key
	})

	members := make(map[string][]int)
	for i, n := range g.Nodes {
		if n.Kind == NodeMemory && n.parent != "" {
			members[n.parent] = append(members[n.parent], i)
		}
	}
	placed := make(map[int]bool)

	for slot, ei := range emotions {
		angle := 2*math.Pi*float64(slot)/float64(len(emotions)) - math.Pi/2
		cx, cy := emotionRingRadius*math.Cos(angle), emotionRingRadius*math.Sin(angle)
		g.Nodes[ei].X, g.Nodes[ei].Y = cx, cy

		ring := members[g.Nodes[ei].Key]
		sort.Slice(ring, func(a, b int) bool { return g.Nodes[ring[a]].Key < g.Nodes[ring[b]].Key })
		for j, mi := range ring {
			level := j / ringCapacity
			inRing := min(ringCapacity, len(ring)-level*ringCapacity)
			key := g.Nodes[mi].Key
			a := 2*math.Pi*float64(j%ringCapacity)/float64(inRing) + jitterAngle*(hashUnit(key, "ring-angle")-0.5)
			r := ringBaseRadius + ringStep*float64(level) + jitterRadius*(hashUnit(key, "ring-radius")-0.5)
			g.Nodes[mi].X, g.Nodes[mi].Y = cx+r*math.Cos(a), cy+r*math.Sin(a)
			placed[mi] = true
		}
	}

	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.Kind == NodeMemory && !placed[i] {
			n.X, n.Y = fallbackPosition(n.Key)
			n.Fallback = true
		}
	}
}
