package analytics

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/aira-core/internal/graph"
)

var anchor = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

type tagged struct {
	emotion  string
	relation string
}

func repeat(emotion string, n int) []tagged {
	out := make([]tagged, n)
	for i := range out {
		out[i] = tagged{emotion: emotion}
	}
	return out
}

func with(relation string, items []tagged) []tagged {
	for i := range items {
		items[i].relation = relation
	}
	return items
}

func concat(parts ...[]tagged) []tagged {
	var out []tagged
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// document lays recent memories out over the hours before anchor and
// baseline memories starting eight days earlier.
func document(recent, baseline []tagged) graph.Document {
	var doc graph.Document
	add := func(prefix string, start time.Time, items []tagged) {
		for i, it := range items {
			at := start.Add(-time.Duration(i) * time.Hour)
			doc.Nodes = append(doc.Nodes, graph.Node{
				Key:      fmt.Sprintf("%s%d", prefix, i),
				Type:     graph.NodeMemory,
				Label:    fmt.Sprintf("%s memory %d", prefix, i),
				Emotion:  it.emotion,
				Relation: it.relation,
				FullText: fmt.Sprintf("%s entry %d about %s", prefix, i, it.emotion),
				TS:       at.Format("2006-01-02 15:04:05"),
			})
		}
	}
	add("r", anchor, recent)
	add("b", anchor.Add(-8*24*time.Hour), baseline)
	return doc
}

func find(alerts []Alert, id string) (Alert, bool) {
	for _, a := range alerts {
		if a.ID == id {
			return a, true
		}
	}
	return Alert{}, false
}

func hasType(alerts []Alert, typ AlertType) bool {
	for _, a := range alerts {
		if a.Type == typ {
			return true
		}
	}
	return false
}

func TestNoParsableTimestamps(t *testing.T) {
	doc := graph.Document{Nodes: []graph.Node{{Key: "m", Type: graph.NodeMemory, Emotion: "기쁨", TS: "someday"}}}
	if alerts := ComputeChangeAlerts(doc, Options{}); len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %d", len(alerts))
	}
}

func TestRecentSampleFloor(t *testing.T) {
	baseline := concat(repeat("슬픔", 10), repeat("분노", 10), repeat("불안", 10))

	if alerts := ComputeChangeAlerts(document(repeat("기쁨", 9), baseline), Options{}); len(alerts) != 0 {
		t.Fatalf("nine recent memories must yield no alerts, got %d", len(alerts))
	}
	if alerts := ComputeChangeAlerts(document(repeat("기쁨", 10), baseline), Options{}); len(alerts) == 0 {
		t.Fatal("ten recent memories with a full skew should alert")
	}
}

func TestBaselineSampleFloor(t *testing.T) {
	baseline := concat(repeat("슬픔", 10), repeat("분노", 9))
	if alerts := ComputeChangeAlerts(document(repeat("기쁨", 12), baseline), Options{}); len(alerts) != 0 {
		t.Fatalf("nineteen baseline memories must yield no alerts, got %d", len(alerts))
	}
}

func TestEmotionSpikeByMultiplier(t *testing.T) {
	baseline := concat(repeat("설렘", 2), repeat("A", 6), repeat("B", 6), repeat("C", 6))
	recent := concat(repeat("설렘", 4), repeat("A", 6), repeat("B", 6), repeat("C", 5))

	alerts := ComputeChangeAlerts(document(recent, baseline), Options{})
	a, ok := find(alerts, "EMOTION_SPIKE:설렘")
	if !ok {
		t.Fatalf("expected spike for 설렘, got %+v", alerts)
	}
	if a.Severity != SeverityMedium || a.Metric.Kind != MetricPercent {
		t.Fatalf("unexpected alert %+v", a)
	}
	if a.Metric.Baseline != 0.1 {
		t.Fatalf("expected baseline ratio 0.1, got %f", a.Metric.Baseline)
	}
	if a.Filter.Emotion != "설렘" || len(a.Evidence) != 3 {
		t.Fatalf("unexpected filter or evidence: %+v", a)
	}
	for _, ev := range a.Evidence {
		if ev.Emotion != "설렘" || !strings.HasPrefix(ev.Key, "r") {
			t.Fatalf("evidence must come from recent matches, got %+v", ev)
		}
	}
	if a.Evidence[0].Key != "r3" {
		t.Fatalf("evidence should follow timestamp order, got %s first", a.Evidence[0].Key)
	}
}

func TestEmotionSpikeNeedsRecentShare(t *testing.T) {
	baseline := concat(repeat("설렘", 1), repeat("A", 7), repeat("B", 6), repeat("C", 6))
	recent := concat(repeat("설렘", 3), repeat("A", 6), repeat("B", 6), repeat("C", 6))

	if _, ok := find(ComputeChangeAlerts(document(recent, baseline), Options{}), "EMOTION_SPIKE:설렘"); ok {
		t.Fatal("a 14% recent share is below the spike floor")
	}
}

func TestJoyfulWeekScenario(t *testing.T) {
	baseline := concat(repeat("기쁨", 7), repeat("슬픔", 6), repeat("분노", 6), repeat("불안", 6))
	recent := concat(repeat("기쁨", 10), repeat("슬픔", 2), repeat("분노", 2), repeat("불안", 1))

	alerts := ComputeChangeAlerts(document(recent, baseline), Options{RecentDays: 7, BaselineDays: 28})
	a, ok := find(alerts, "EMOTION_SPIKE:기쁨")
	if !ok {
		t.Fatalf("expected a spike for 기쁨, got %+v", alerts)
	}
	if a.Severity != SeverityHigh {
		t.Fatalf("expected high severity, got %s", a.Severity)
	}
	if a.Metric.Delta < 0.38 || a.Metric.Delta > 0.43 {
		t.Fatalf("unexpected delta %f", a.Metric.Delta)
	}
	if alerts[0].Severity != SeverityHigh {
		t.Fatal("high severity alerts must come first")
	}
	if a.RecentWindow != "last 7d" || a.BaselineWindow != "previous 28d" {
		t.Fatalf("unexpected window labels %q %q", a.RecentWindow, a.BaselineWindow)
	}
}

func TestRelationBias(t *testing.T) {
	recent := with("엄마", concat(repeat("분노", 6), repeat("기쁨", 4)))
	baseline := concat(
		with("엄마", concat(repeat("분노", 1), repeat("기쁨", 9))),
		with("친구", repeat("기쁨", 10)),
	)

	alerts := ComputeChangeAlerts(document(recent, baseline), Options{})
	a, ok := find(alerts, "RELATION_BIAS:엄마:분노")
	if !ok {
		t.Fatalf("expected relation bias, got %+v", alerts)
	}
	if a.Severity != SeverityHigh || a.Filter.Relation != "엄마" || a.Filter.Emotion != "분노" {
		t.Fatalf("unexpected alert %+v", a)
	}
	if a.Metric.Recent != 0.6 || a.Metric.Baseline != 0.1 {
		t.Fatalf("unexpected metric %+v", a.Metric)
	}
	for _, ev := range a.Evidence {
		if ev.Relation != "엄마" || ev.Emotion != "분노" {
			t.Fatalf("evidence outside the filter: %+v", ev)
		}
	}
}

func TestRelationBiasNeedsSamplesInBothWindows(t *testing.T) {
	recent := concat(with("엄마", repeat("분노", 7)), repeat("기쁨", 5))
	baseline := concat(with("엄마", repeat("기쁨", 12)), repeat("기쁨", 10))

	if hasType(ComputeChangeAlerts(document(recent, baseline), Options{}), RelationBias) {
		t.Fatal("seven recent samples are below the relation floor")
	}
}

func TestDiversityDrop(t *testing.T) {
	baseline := concat(repeat("A", 5), repeat("B", 5), repeat("C", 5), repeat("D", 5))

	narrow := concat(repeat("A", 2), repeat("B", 2), repeat("C", 2), repeat("D", 13))
	alerts := ComputeChangeAlerts(document(narrow, baseline), Options{})
	drop, ok := find(alerts, "DIVERSITY_DROP")
	if !ok {
		t.Fatalf("entropy ratio 0.70 should alert, got %+v", alerts)
	}
	if drop.Severity != SeverityLow || drop.Metric.Kind != MetricScore {
		t.Fatalf("unexpected alert %+v", drop)
	}
	if drop.Evidence[0].Emotion != "D" {
		t.Fatalf("evidence should show the dominant emotion, got %+v", drop.Evidence[0])
	}

	broad := concat(repeat("A", 1), repeat("B", 3), repeat("C", 7), repeat("D", 8))
	if hasType(ComputeChangeAlerts(document(broad, baseline), Options{}), DiversityDrop) {
		t.Fatal("entropy ratio 0.85 should not alert")
	}
}

func TestAlertsOrderedAndCapped(t *testing.T) {
	baseline := concat(repeat("기쁨", 7), repeat("슬픔", 6), repeat("분노", 6), repeat("불안", 6))
	recent := concat(repeat("기쁨", 10), repeat("슬픔", 2), repeat("분노", 2), repeat("불안", 1))
	doc := document(recent, baseline)

	all := ComputeChangeAlerts(doc, Options{})
	if len(all) < 2 {
		t.Fatalf("expected spike and diversity alerts, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Severity.Rank() > all[i-1].Severity.Rank() {
			t.Fatalf("alerts out of severity order at %d", i)
		}
	}
	capped := ComputeChangeAlerts(doc, Options{MaxAlerts: 1})
	if len(capped) != 1 || capped[0].ID != all[0].ID {
		t.Fatalf("cap should keep the most severe alert, got %+v", capped)
	}
	if !reflect.DeepEqual(all, ComputeChangeAlerts(doc, Options{})) {
		t.Fatal("analysis must be reproducible")
	}
}

func TestEvidenceExcerptIsBounded(t *testing.T) {
	long := strings.Repeat("가", 200)
	nodes := []graph.Node{{Key: "x", FullText: long}}
	ev := evidence([]sample{{node: nodes[0]}}, func(graph.Node) bool { return true })
	if n := utf8.RuneCountInString(ev[0].Excerpt); n != excerptLength+1 {
		t.Fatalf("expected %d runes including the ellipsis, got %d", excerptLength+1, n)
	}
}
