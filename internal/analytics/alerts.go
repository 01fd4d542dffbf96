package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/loqalabs/aira-core/internal/graph"
)

type AlertType string

const (
	EmotionSpike  AlertType = "EMOTION_SPIKE"
	RelationBias  AlertType = "RELATION_BIAS"
	DiversityDrop AlertType = "DIVERSITY_DROP"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities: high=3, medium=2, low=1.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

type MetricKind string

const (
	// MetricPercent values are ratios in [0, 1].
	MetricPercent MetricKind = "percent"
	MetricScore   MetricKind = "score"
)

type Metric struct {
	Kind     MetricKind `json:"kind"`
	Baseline float64    `json:"baseline"`
	Recent   float64    `json:"recent"`
	Delta    float64    `json:"delta"`
}

// Filter is the slice of the data an alert was computed over.
type Filter struct {
	Emotion  string `json:"emotion,omitempty"`
	Relation string `json:"relation,omitempty"`
}

type Evidence struct {
	Key      string `json:"key"`
	Label    string `json:"label,omitempty"`
	TS       string `json:"ts,omitempty"`
	Emotion  string `json:"emotion,omitempty"`
	Relation string `json:"relation,omitempty"`
	Excerpt  string `json:"excerpt"`
}

// Alert is one finding of an analysis run. Alerts are never mutated after
// ComputeChangeAlerts returns them.
type Alert struct {
	ID             string     `json:"id"`
	Type           AlertType  `json:"type"`
	Severity       Severity   `json:"severity"`
	Title          string     `json:"title"`
	Detail         string     `json:"detail"`
	Metric         Metric     `json:"metric"`
	RecentWindow   string     `json:"recent_window"`
	BaselineWindow string     `json:"baseline_window"`
	Filter         Filter     `json:"filter"`
	Evidence       []Evidence `json:"evidence"`
}

type Options struct {
	RecentDays   int
	BaselineDays int
	// MaxAlerts caps the result after severity ordering.
	MaxAlerts int
}

const (
	DefaultRecentDays   = 7
	DefaultBaselineDays = 28
	DefaultMaxAlerts    = 6

	minRecentSamples   = 10
	minBaselineSamples = 20

	spikeMinRecent     = 0.18
	spikeMinMultiplier = 1.6
	spikeMinLift       = 0.12
	spikeNewMinRecent  = 0.15
	spikeHighDelta     = 0.20
	maxSpikes          = 3

	biasMinSamples   = 8
	biasMinRecent    = 0.35
	biasMinDelta     = 0.18
	biasHighDelta    = 0.25
	diversityMaxRate = 0.78

	maxEvidence   = 3
	excerptLength = 80
	dayDuration   = 24 * time.Hour
)

type sample struct {
	node graph.Node
	at   time.Time
}

type window struct {
	label string
	items []sample
}

// ComputeChangeAlerts compares the most recent window of memories against
// the baseline window before it. Windows are anchored on the newest memory
// timestamp, never on the wall clock. Too little data yields no alerts.
func ComputeChangeAlerts(doc graph.Document, opts Options) []Alert {
	if opts.RecentDays <= 0 {
		opts.RecentDays = DefaultRecentDays
	}
	if opts.BaselineDays <= 0 {
		opts.BaselineDays = DefaultBaselineDays
	}
	if opts.MaxAlerts <= 0 {
		opts.MaxAlerts = DefaultMaxAlerts
	}

	var samples []sample
	for _, n := range doc.Memories() {
		if at, ok := n.Timestamp(); ok {
			samples = append(samples, sample{node: n, at: at})
		}
	}
	if len(samples) == 0 {
		return nil
	}
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].at.Before(samples[j].at) })

	end := samples[len(samples)-1].at
	recentStart := end.Add(-time.Duration(opts.RecentDays) * dayDuration)
	baselineStart := recentStart.Add(-time.Duration(opts.BaselineDays) * dayDuration)

	recent := window{label: fmt.Sprintf("last %dd", opts.RecentDays)}
	baseline := window{label: fmt.Sprintf("previous %dd", opts.BaselineDays)}
	for _, s := range samples {
		switch {
		case s.at.After(recentStart) && !s.at.After(end):
			recent.items = append(recent.items, s)
		case s.at.After(baselineStart) && !s.at.After(recentStart):
			baseline.items = append(baseline.items, s)
		}
	}
	if len(recent.items) < minRecentSamples || len(baseline.items) < minBaselineSamples {
		return nil
	}

	var alerts []Alert
	alerts = append(alerts, emotionSpikes(recent, baseline)...)
	alerts = append(alerts, relationBiases(recent, baseline)...)
	if a, ok := diversityDrop(recent, baseline); ok {
		alerts = append(alerts, a)
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Severity.Rank() > alerts[j].Severity.Rank()
	})
	if len(alerts) > opts.MaxAlerts {
		alerts = alerts[:opts.MaxAlerts]
	}
	return alerts
}

// distribution counts emotion tags over items. Untagged memories count in
// the total but never become a category.
type distribution struct {
	counts map[string]int
	total  int
}

func distributionOf(items []sample) distribution {
	d := distribution{counts: make(map[string]int)}
	for _, s := range items {
		d.total++
		if s.node.Emotion != "" {
			d.counts[s.node.Emotion]++
		}
	}
	return d
}

func (d distribution) ratio(emotion string) float64 {
	if d.total == 0 {
		return 0
	}
	return float64(d.counts[emotion]) / float64(d.total)
}

func (d distribution) emotions() []string {
	out := make([]string, 0, len(d.counts))
	for e := range d.counts {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// entropy is the Shannon entropy in nats.
func (d distribution) entropy() float64 {
	if d.total == 0 {
		return 0
	}
	var h float64
	for _, e := range d.emotions() {
		c := d.counts[e]
		if c == 0 {
			continue
		}
		p := float64(c) / float64(d.total)
		h -= p * math.Log(p)
	}
	return h
}

func evidence(items []sample, match func(graph.Node) bool) []Evidence {
	var out []Evidence
	for _, s := range items {
		if !match(s.node) {
			continue
		}
		out = append(out, Evidence{
			Key:      s.node.Key,
			Label:    s.node.Label,
			TS:       s.node.TS,
			Emotion:  s.node.Emotion,
			Relation: s.node.Relation,
			Excerpt:  s.node.Excerpt(excerptLength),
		})
		if len(out) == maxEvidence {
			break
		}
	}
	return out
}

func percent(v float64) float64 {
	return math.Round(v * 100)
}

func emotionSpikes(recent, baseline window) []Alert {
	rd, bd := distributionOf(recent.items), distributionOf(baseline.items)

	type candidate struct {
		emotion string
		r, b    float64
	}
	var candidates []candidate
	for _, e := range rd.emotions() {
		r, b := rd.ratio(e), bd.ratio(e)
		if r < spikeMinRecent {
			continue
		}
		if (b > 0 && r/b >= spikeMinMultiplier) || r-b >= spikeMinLift || (b == 0 && r >= spikeNewMinRecent) {
			candidates = append(candidates, candidate{emotion: e, r: r, b: b})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		di, dj := math.Abs(candidates[i].r-candidates[i].b), math.Abs(candidates[j].r-candidates[j].b)
		if di != dj {
			return di > dj
		}
		return candidates[i].emotion < candidates[j].emotion
	})
	if len(candidates) > maxSpikes {
		candidates = candidates[:maxSpikes]
	}

	alerts := make([]Alert, 0, len(candidates))
	for _, c := range candidates {
		delta := c.r - c.b
		severity := SeverityMedium
		if delta >= spikeHighDelta {
			severity = SeverityHigh
		}
		emotion := c.emotion
		alerts = append(alerts, Alert{
			ID:             string(EmotionSpike) + ":" + emotion,
			Type:           EmotionSpike,
			Severity:       severity,
			Title:          fmt.Sprintf("%s is rising", emotion),
			Detail:         fmt.Sprintf("%s makes up %.0f%% of memories in the %s, up from %.0f%% in the %s.", emotion, percent(c.r), recent.label, percent(c.b), baseline.label),
			Metric:         Metric{Kind: MetricPercent, Baseline: c.b, Recent: c.r, Delta: delta},
			RecentWindow:   recent.label,
			BaselineWindow: baseline.label,
			Filter:         Filter{Emotion: emotion},
			Evidence:       evidence(recent.items, func(n graph.Node) bool { return n.Emotion == emotion }),
		})
	}
	return alerts
}

func relationBiases(recent, baseline window) []Alert {
	byRelation := func(items []sample) map[string][]sample {
		out := make(map[string][]sample)
		for _, s := range items {
			if s.node.Relation != "" {
				out[s.node.Relation] = append(out[s.node.Relation], s)
			}
		}
		return out
	}
	rr, br := byRelation(recent.items), byRelation(baseline.items)

	relations := make(map[string]struct{})
	for r := range rr {
		relations[r] = struct{}{}
	}
	for r := range br {
		relations[r] = struct{}{}
	}
	names := make([]string, 0, len(relations))
	for r := range relations {
		names = append(names, r)
	}
	sort.Strings(names)

	var alerts []Alert
	for _, relation := range names {
		ri, bi := rr[relation], br[relation]
		if len(ri) < biasMinSamples || len(bi) < biasMinSamples {
			continue
		}
		rd, bd := distributionOf(ri), distributionOf(bi)

		emotions := make(map[string]struct{})
		for e := range rd.counts {
			emotions[e] = struct{}{}
		}
		for e := range bd.counts {
			emotions[e] = struct{}{}
		}
		var top string
		topDelta := math.Inf(-1)
		for e := range emotions {
			delta := rd.ratio(e) - bd.ratio(e)
			if delta > topDelta || (delta == topDelta && e < top) {
				top, topDelta = e, delta
			}
		}
		r, b := rd.ratio(top), bd.ratio(top)
		if top == "" || r < biasMinRecent || topDelta < biasMinDelta {
			continue
		}
		severity := SeverityMedium
		if topDelta >= biasHighDelta {
			severity = SeverityHigh
		}
		emotion := top
		alerts = append(alerts, Alert{
			ID:             fmt.Sprintf("%s:%s:%s", RelationBias, relation, emotion),
			Type:           RelationBias,
			Severity:       severity,
			Title:          fmt.Sprintf("Memories with %s lean %s", relation, emotion),
			Detail:         fmt.Sprintf("%.0f%% of %s memories in the %s are %s, compared with %.0f%% in the %s.", percent(r), relation, recent.label, emotion, percent(b), baseline.label),
			Metric:         Metric{Kind: MetricPercent, Baseline: b, Recent: r, Delta: topDelta},
			RecentWindow:   recent.label,
			BaselineWindow: baseline.label,
			Filter:         Filter{Emotion: emotion, Relation: relation},
			Evidence: evidence(recent.items, func(n graph.Node) bool {
				return n.Relation == relation && n.Emotion == emotion
			}),
		})
	}
	return alerts
}

func diversityDrop(recent, baseline window) (Alert, bool) {
	rd, bd := distributionOf(recent.items), distributionOf(baseline.items)
	hr, hb := rd.entropy(), bd.entropy()
	if hb <= 0 || hr/hb >= diversityMaxRate {
		return Alert{}, false
	}

	// Evidence comes from the emotion that now dominates.
	var dominant string
	for _, e := range rd.emotions() {
		if rd.counts[e] > rd.counts[dominant] {
			dominant = e
		}
	}
	return Alert{
		ID:             string(DiversityDrop),
		Type:           DiversityDrop,
		Severity:       SeverityLow,
		Title:          "Emotional range is narrowing",
		Detail:         fmt.Sprintf("Emotional diversity in the %s is %.0f%% of the %s.", recent.label, percent(hr/hb), baseline.label),
		Metric:         Metric{Kind: MetricScore, Baseline: hb, Recent: hr, Delta: hr - hb},
		RecentWindow:   recent.label,
		BaselineWindow: baseline.label,
		Evidence:       evidence(recent.items, func(n graph.Node) bool { return dominant != "" && n.Emotion == dominant }),
	}, true
}
