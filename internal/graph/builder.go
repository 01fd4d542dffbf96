package graph

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Mode selects the layout.
type Mode string

const (
	ModeGalaxy  Mode = "galaxy"
	ModeRadical Mode = "radical"
)

// All disables a filter.
const All = "ALL"

const selfKey = "self"

const (
	memoryMinSize   = 3.0
	memoryMaxSize   = 8.0
	intensityGamma  = 0.78
	emotionSize     = 10.0
	relationSize    = 8.0
	clusterHeroSize = 14.0
	selfSize        = 16.0
)

// Options controls which part of a document is rendered and how.
type Options struct {
	// Emotion and Relation filter memories; "" or All selects everything.
	Emotion  string
	Relation string
	Mode     Mode
	// Hierarchy groups emotions under cluster hero nodes. It is ignored in
	// radical mode.
	Hierarchy bool
	Expanded  []Cluster
}

type RenderNode struct {
	Key       string   `json:"key"`
	Kind      NodeType `json:"kind"`
	Label     string   `json:"label"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Size      float64  `json:"size"`
	Cluster   Cluster  `json:"cluster,omitempty"`
	Emotion   string   `json:"emotion,omitempty"`
	Relation  string   `json:"relation,omitempty"`
	TS        string   `json:"ts,omitempty"`
	Intensity float64  `json:"intensity,omitempty"`
	// Fallback marks positions derived from the key hash rather than layout.
	Fallback bool `json:"fallback,omitempty"`

	pinned bool
	// parent is the emotion a memory rings around in radical mode.
	parent string
}

type RenderEdge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Kind   EdgeKind `json:"kind"`
	Weight float64  `json:"weight"`
}

// Graph is a filtered, laid out graph ready for rendering.
type Graph struct {
	Nodes []RenderNode `json:"nodes"`
	Edges []RenderEdge `json:"edges"`

	index map[string]int
}

// Node looks up a node by key.
func (g Graph) Node(key string) (RenderNode, bool) {
	i, ok := g.index[key]
	if !ok {
		return RenderNode{}, false
	}
	return g.Nodes[i], true
}

func selected(v string) string {
	v = strings.TrimSpace(v)
	if v == All {
		return ""
	}
	return v
}

// tagIndex resolves emotion and relation tags, which may name either a
// node's label or its key.
type tagIndex map[string]*Node

func newTagIndex(nodes []Node, typ NodeType) tagIndex {
	idx := make(tagIndex)
	for i := range nodes {
		n := &nodes[i]
		if n.Type != typ {
			continue
		}
		if _, ok := idx[n.Key]; !ok {
			idx[n.Key] = n
		}
		if n.Label != "" {
			if _, ok := idx[n.Label]; !ok {
				idx[n.Label] = n
			}
		}
	}
	return idx
}

type builder struct {
	doc      Document
	opts     Options
	emotion  string
	relation string
	hier     bool
	expanded map[Cluster]bool

	emotions  tagIndex
	relations tagIndex
	clusters  map[string]Cluster

	g Graph
}

// Build filters doc and lays it out according to opts. It is a pure function
// of its inputs.
func Build(doc Document, opts Options) Graph {
	if opts.Mode != ModeRadical {
		opts.Mode = ModeGalaxy
	}
	b := &builder{
		doc:       doc,
		opts:      opts,
		emotion:   selected(opts.Emotion),
		relation:  selected(opts.Relation),
		hier:      opts.Hierarchy && opts.Mode != ModeRadical,
		expanded:  make(map[Cluster]bool, len(opts.Expanded)),
		emotions:  newTagIndex(doc.Nodes, NodeEmotion),
		relations: newTagIndex(doc.Nodes, NodeRelation),
		clusters:  make(map[string]Cluster),
		g:         Graph{index: make(map[string]int)},
	}
	for _, c := range opts.Expanded {
		b.expanded[c] = true
	}
	b.build()
	return b.g
}

// clusterOf classifies an emotion tag, trying the emotion node's label and
// key when the tag itself is not recognized.
func (b *builder) clusterOf(tag string) Cluster {
	if c, ok := b.clusters[tag]; ok {
		return c
	}
	c := Classify(tag)
	if c == Unclassified {
		if n, ok := b.emotions[tag]; ok {
			if c = Classify(n.Label); c == Unclassified {
				c = Classify(n.Key)
			}
		}
	}
	b.clusters[tag] = c
	return c
}

func (b *builder) emotionKey(tag string) string {
	if n, ok := b.emotions[tag]; ok {
		return n.Key
	}
	return "emotion:" + tag
}

func (b *builder) memoryVisible(m Node) bool {
	if b.relation != "" && !b.matchesRelation(m.Relation) {
		return false
	}
	switch {
	case !b.hier:
		return b.emotion == "" || b.matchesEmotion(m.Emotion)
	case b.emotion != "":
		return b.matchesEmotion(m.Emotion)
	default:
		return m.Emotion != "" && b.expanded[b.clusterOf(m.Emotion)]
	}
}

func (b *builder) matchesEmotion(tag string) bool {
	if tag == "" {
		return false
	}
	return tag == b.emotion || b.emotionKey(tag) == b.emotionKey(b.emotion)
}

func (b *builder) matchesRelation(tag string) bool {
	if tag == b.relation {
		return true
	}
	n, ok := b.relations[tag]
	sel, selOK := b.relations[b.relation]
	return ok && selOK && n == sel
}

func (b *builder) hasNode(key string) bool {
	_, ok := b.g.index[key]
	return ok
}

func (b *builder) add(n RenderNode) {
	if _, dup := b.g.index[n.Key]; dup {
		return
	}
	b.g.index[n.Key] = len(b.g.Nodes)
	b.g.Nodes = append(b.g.Nodes, n)
}

func (b *builder) build() {
	var memories []Node
	for _, n := range b.doc.Nodes {
		if n.Type == NodeMemory && b.memoryVisible(n) {
			memories = append(memories, n)
		}
	}

	radical := b.opts.Mode == ModeRadical
	if radical {
		b.add(RenderNode{Key: selfKey, Kind: NodeSelf, Label: "self", Size: selfSize, pinned: true})
	}
	if b.hier {
		b.addClusterHeroes()
	}
	b.addEmotions(memories)
	if !radical {
		b.addRelations(memories)
	}
	b.addMemories(memories)
	b.addEdges()

	if radical {
		radicalLayout(&b.g)
	} else {
		galaxyLayout(&b.g, b.doc)
	}
}

// addClusterHeroes adds one hero per cluster that has a member emotion
// anywhere in the document.
func (b *builder) addClusterHeroes() {
	present := make(map[Cluster]bool)
	for _, n := range b.doc.Nodes {
		switch n.Type {
		case NodeEmotion:
			present[b.clusterOf(n.Label)] = true
			if c := b.clusterOf(n.Key); c != Unclassified {
				present[c] = true
			}
		case NodeMemory:
			if n.Emotion != "" {
				present[b.clusterOf(n.Emotion)] = true
			}
		}
	}
	for i, c := range Clusters {
		if !present[c] {
			continue
		}
		angle := 2*math.Pi*float64(i)/float64(len(Clusters)) - math.Pi/2
		b.add(RenderNode{
			Key:     clusterKey(c),
			Kind:    NodeCluster,
			Label:   string(c),
			Cluster: c,
			Size:    clusterHeroSize,
			X:       clusterHeroRadius * math.Cos(angle),
			Y:       clusterHeroRadius * math.Sin(angle),
			pinned:  true,
		})
	}
}

func clusterKey(c Cluster) string {
	return "cluster:" + string(c)
}

func (b *builder) addEmotions(memories []Node) {
	referenced := make(map[string]string)
	var order []string
	for _, m := range memories {
		if m.Emotion == "" {
			continue
		}
		key := b.emotionKey(m.Emotion)
		if _, ok := referenced[key]; !ok {
			referenced[key] = m.Emotion
			order = append(order, key)
		}
	}

	visible := make(map[string]bool)
	switch {
	case b.emotion != "":
		key := b.emotionKey(b.emotion)
		if _, inDoc := b.emotions[b.emotion]; inDoc || referenced[key] != "" {
			visible[key] = true
			if referenced[key] == "" {
				referenced[key] = b.emotion
				order = append(order, key)
			}
		}
	case b.hier:
		for key, tag := range referenced {
			if b.expanded[b.clusterOf(tag)] {
				visible[key] = true
			}
		}
	default:
		for key := range referenced {
			visible[key] = true
		}
	}

	// Document emotion nodes first, in document order, then synthesized ones.
	for _, n := range b.doc.Nodes {
		if n.Type == NodeEmotion && visible[n.Key] {
			b.add(RenderNode{Key: n.Key, Kind: NodeEmotion, Label: n.Label, Cluster: b.clusterOf(n.Label), Size: emotionSize})
		}
	}
	for _, key := range order {
		if _, inDoc := b.emotions[key]; inDoc || !visible[key] {
			continue
		}
		tag := referenced[key]
		b.add(RenderNode{Key: key, Kind: NodeEmotion, Label: tag, Cluster: b.clusterOf(tag), Size: emotionSize})
	}
}

func (b *builder) addRelations(memories []Node) {
	visible := make(map[string]bool)
	for _, m := range memories {
		if n, ok := b.relations[m.Relation]; ok {
			visible[n.Key] = true
		}
	}
	for _, n := range b.doc.Nodes {
		if n.Type == NodeRelation && visible[n.Key] {
			b.add(RenderNode{Key: n.Key, Kind: NodeRelation, Label: n.Label, Size: relationSize})
		}
	}
}

func (b *builder) addMemories(memories []Node) {
	if len(memories) == 0 {
		return
	}
	raw := make([]float64, len(memories))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, m := range memories {
		raw[i] = intensity(m)
		lo = math.Min(lo, raw[i])
		hi = math.Max(hi, raw[i])
	}
	for i, m := range memories {
		norm := 0.5
		if hi > lo {
			norm = (raw[i] - lo) / (hi - lo)
		}
		var parent string
		if m.Emotion != "" {
			if key := b.emotionKey(m.Emotion); b.hasNode(key) {
				parent = key
			}
		}
		b.add(RenderNode{
			Key:       m.Key,
			Kind:      NodeMemory,
			Label:     m.Label,
			Cluster:   b.clusterOf(m.Emotion),
			Emotion:   m.Emotion,
			Relation:  m.Relation,
			TS:        m.TS,
			Intensity: raw[i],
			Size:      memoryMinSize + (memoryMaxSize-memoryMinSize)*math.Pow(norm, intensityGamma),
			parent:    parent,
		})
	}
}

// intensity prefers a nonzero score; otherwise the log of the text length.
func intensity(m Node) float64 {
	if s, ok := m.NumericScore(); ok && s != 0 && finite(s) {
		return math.Abs(s)
	}
	return math.Log1p(float64(utf8.RuneCountInString(m.FullText)))
}

type pair struct{ a, b string }

func unordered(a, b string) pair {
	if a > b {
		a, b = b, a
	}
	return pair{a, b}
}

func (b *builder) addEdges() {
	seen := make(map[pair]bool)
	add := func(e RenderEdge) {
		p := unordered(e.Source, e.Target)
		if e.Source == e.Target || seen[p] {
			return
		}
		seen[p] = true
		b.g.Edges = append(b.g.Edges, e)
	}

	// Structural edges win over document edges on the same pair.
	for _, n := range b.g.Nodes {
		if n.Kind != NodeEmotion {
			continue
		}
		switch {
		case b.opts.Mode == ModeRadical:
			add(RenderEdge{Source: selfKey, Target: n.Key, Kind: EdgeRadialCore, Weight: 1})
		case b.hier && n.Cluster != Unclassified:
			if _, ok := b.g.index[clusterKey(n.Cluster)]; ok {
				add(RenderEdge{Source: clusterKey(n.Cluster), Target: n.Key, Kind: EdgeClusterBranch, Weight: 1})
			}
		}
	}
	if b.opts.Mode == ModeRadical {
		for _, n := range b.g.Nodes {
			if n.Kind != NodeMemory || n.Emotion == "" {
				continue
			}
			key := b.emotionKey(n.Emotion)
			if _, ok := b.g.index[key]; ok {
				add(RenderEdge{Source: key, Target: n.Key, Kind: EdgeRadialBranch, Weight: 1})
			}
		}
	}

	for _, e := range b.doc.Edges {
		si, sok := b.g.index[e.Source]
		ti, tok := b.g.index[e.Target]
		if !sok || !tok {
			continue
		}
		kind := EdgeKind(e.Type)
		if kind == EdgeSimilar && (b.g.Nodes[si].Kind != NodeMemory || b.g.Nodes[ti].Kind != NodeMemory) {
			continue
		}
		weight := 1.0
		if e.Weight != nil && finite(*e.Weight) {
			weight = *e.Weight
		}
		add(RenderEdge{Source: e.Source, Target: e.Target, Kind: kind, Weight: weight})
	}
}

// ParseMode accepts a mode name case-insensitively. Empty means galaxy.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeGalaxy:
		return ModeGalaxy, nil
	case ModeRadical:
		return ModeRadical, nil
	}
	return "", fmt.Errorf("unknown layout mode %q", s)
}
