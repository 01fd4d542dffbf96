package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// NodeType tags the kind of a graph node.
type NodeType string

const (
	NodeMemory   NodeType = "memory"
	NodeEmotion  NodeType = "emotion"
	NodeRelation NodeType = "relation"
	NodeCluster  NodeType = "emotion_cluster"
	NodeSelf     NodeType = "self"
)

// EdgeKind tags an edge. Input edges keep whatever type the document gives
// them; the builder only generates the branch and radial kinds.
type EdgeKind string

const (
	EdgeSimilar       EdgeKind = "similar"
	EdgeClusterBranch EdgeKind = "cluster_branch"
	EdgeRadialCore    EdgeKind = "radial_core"
	EdgeRadialBranch  EdgeKind = "radial_branch"
)

// Node is a node as it appears in a graph document.
type Node struct {
	Key          string   `json:"key"`
	Type         NodeType `json:"type"`
	Label        string   `json:"label"`
	Emotion      string   `json:"emotion,omitempty"`
	Relation     string   `json:"relation,omitempty"`
	FullText     string   `json:"full_text,omitempty"`
	TS           string   `json:"ts,omitempty"`
	EmotionScore *float64 `json:"emotion_score,omitempty"`
	Score        *float64 `json:"score,omitempty"`
	X            *float64 `json:"x,omitempty"`
	Y            *float64 `json:"y,omitempty"`
}

type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   string   `json:"type"`
	Weight *float64 `json:"weight,omitempty"`
}

// Document is the graph exchange format consumed by the builder and the
// change-detection analyzer.
type Document struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// ParseDocument decodes a graph document and rejects duplicate or empty keys.
func ParseDocument(r io.Reader) (Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode graph document: %w", err)
	}
	seen := make(map[string]struct{}, len(doc.Nodes))
	for i, n := range doc.Nodes {
		if n.Key == "" {
			return Document{}, fmt.Errorf("node %d: key is required", i)
		}
		if _, dup := seen[n.Key]; dup {
			return Document{}, fmt.Errorf("node %d: duplicate key %q", i, n.Key)
		}
		seen[n.Key] = struct{}{}
	}
	return doc, nil
}

// Memories returns the memory nodes in document order.
func (d Document) Memories() []Node {
	var out []Node
	for _, n := range d.Nodes {
		if n.Type == NodeMemory {
			out = append(out, n)
		}
	}
	return out
}

var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	time.RFC3339,
}

// ParseTimestamp reads the document's "YYYY-MM-DD HH:MM:SS" style stamps.
// The space separator is replaced before parsing; stamps are taken as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.Replace(strings.TrimSpace(s), " ", "T", 1)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Timestamp parses the node's ts field.
func (n Node) Timestamp() (time.Time, bool) {
	return ParseTimestamp(n.TS)
}

// NumericScore prefers a non-zero emotion_score over score.
func (n Node) NumericScore() (float64, bool) {
	if n.EmotionScore != nil && *n.EmotionScore != 0 {
		return *n.EmotionScore, true
	}
	if n.Score != nil {
		return *n.Score, true
	}
	if n.EmotionScore != nil {
		return 0, true
	}
	return 0, false
}

// Excerpt returns at most limit runes of the node's text, falling back to
// its label.
func (n Node) Excerpt(limit int) string {
	text := strings.TrimSpace(n.FullText)
	if text == "" {
		text = n.Label
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}
