package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/aira-core/internal/bus"
	"github.com/loqalabs/aira-core/internal/config"
	"github.com/loqalabs/aira-core/internal/eventstore"
	"github.com/loqalabs/aira-core/internal/graph"
	"github.com/loqalabs/aira-core/internal/natsserver"
	"github.com/loqalabs/aira-core/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeStore struct {
	mu   sync.Mutex
	runs []eventstore.AlertRun
}

func (f *fakeStore) AppendAlertRun(_ context.Context, run eventstore.AlertRun) error {
	f.mu.Lock()
	f.runs = append(f.runs, run)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) Runs() []eventstore.AlertRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]eventstore.AlertRun(nil), f.runs...)
}

func defaultConfig() config.AnalyticsConfig {
	return config.Default().Analytics
}

// joyfulDocument has a clear recent rise of 기쁨 against a mixed baseline.
func joyfulDocument() graph.Document {
	end := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	var doc graph.Document
	add := func(prefix string, start time.Time, emotions []string) {
		for i, e := range emotions {
			doc.Nodes = append(doc.Nodes, graph.Node{
				Key:     fmt.Sprintf("%s%d", prefix, i),
				Type:    graph.NodeMemory,
				Emotion: e,
				TS:      start.Add(-time.Duration(i) * time.Hour).Format("2006-01-02 15:04:05"),
			})
		}
	}
	var recent, baseline []string
	for i := 0; i < 15; i++ {
		if i < 10 {
			recent = append(recent, "기쁨")
		} else {
			recent = append(recent, "슬픔")
		}
	}
	for i := 0; i < 24; i++ {
		baseline = append(baseline, []string{"기쁨", "슬픔", "분노", "불안"}[i%4])
	}
	add("r", end, recent)
	add("b", end.Add(-8*24*time.Hour), baseline)
	doc.Nodes = append(doc.Nodes,
		graph.Node{Key: "emo-joy", Type: graph.NodeEmotion, Label: "기쁨"},
		graph.Node{Key: "emo-sad", Type: graph.NodeEmotion, Label: "슬픔"},
	)
	return doc
}

func encode(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return bytes.NewReader(data)
}

func newServer(t *testing.T, svc *Service) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	svc.Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyzeRecordsRun(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(context.Background(), defaultConfig(), nil, store, newLogger())
	t.Cleanup(svc.Close)

	evt := svc.Analyze(context.Background(), joyfulDocument(), svc.options(0, 0), SourceHTTP)
	if evt.RunID == "" || len(evt.Alerts) == 0 {
		t.Fatalf("expected alerts with a run id, got %+v", evt)
	}
	found := false
	for _, a := range evt.Alerts {
		if a.ID == "EMOTION_SPIKE:기쁨" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a 기쁨 spike, got %+v", evt.Alerts)
	}
	runs := store.Runs()
	if len(runs) != 1 || runs[0].ID != evt.RunID || runs[0].AlertCount != len(evt.Alerts) {
		t.Fatalf("unexpected stored runs %+v", runs)
	}
	if runs[0].RecentDays != 7 || runs[0].BaselineDays != 28 {
		t.Fatalf("expected default windows, got %+v", runs[0])
	}
}

func TestEmptyDocumentYieldsEmptyList(t *testing.T) {
	svc := NewService(context.Background(), defaultConfig(), nil, nil, newLogger())
	t.Cleanup(svc.Close)
	evt := svc.Analyze(context.Background(), graph.Document{}, svc.options(0, 0), SourceHTTP)
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Contains(data, []byte(`"alerts":[]`)) {
		t.Fatalf("expected an empty alert list, got %s", data)
	}
}

func TestAlertsEndpoint(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(context.Background(), defaultConfig(), nil, store, newLogger())
	t.Cleanup(svc.Close)
	srv := newServer(t, svc)

	resp, err := http.Post(srv.URL+"/v1/graph/alerts?recent_days=7&baseline_days=21", "application/json", encode(t, joyfulDocument()))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var evt AlertsEvent
	if err := json.NewDecoder(resp.Body).Decode(&evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Source != SourceHTTP || len(evt.Alerts) == 0 {
		t.Fatalf("unexpected response %+v", evt)
	}
	if evt.Alerts[0].BaselineWindow != "previous 21d" {
		t.Fatalf("query windows not applied: %q", evt.Alerts[0].BaselineWindow)
	}
	if runs := store.Runs(); len(runs) != 1 || runs[0].BaselineDays != 21 {
		t.Fatalf("unexpected stored runs %+v", runs)
	}
}

func TestAlertsEndpointRejectsBadInput(t *testing.T) {
	svc := NewService(context.Background(), defaultConfig(), nil, nil, newLogger())
	t.Cleanup(svc.Close)
	srv := newServer(t, svc)

	cases := []struct {
		name  string
		query string
		body  string
	}{
		{"bad window", "?recent_days=0", `{"nodes":[]}`},
		{"bad json", "", `{"nodes":`},
		{"duplicate key", "", `{"nodes":[{"key":"a"},{"key":"a"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/v1/graph/alerts"+tc.query, "application/json", bytes.NewBufferString(tc.body))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestFileAlertsEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	data, err := json.Marshal(joyfulDocument())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write graph: %v", err)
	}

	cfg := defaultConfig()
	svc := NewService(context.Background(), cfg, nil, nil, newLogger())
	t.Cleanup(svc.Close)
	srv := newServer(t, svc)

	resp, err := http.Get(srv.URL + "/v1/graph/alerts")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 without a graph path, got %d", resp.StatusCode)
	}

	cfg.GraphPath = path
	svc.cfg = cfg
	resp, err = http.Get(srv.URL + "/v1/graph/alerts")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var evt AlertsEvent
	if err := json.NewDecoder(resp.Body).Decode(&evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Source != SourceFile || len(evt.Alerts) == 0 {
		t.Fatalf("unexpected response %+v", evt)
	}
}

func TestLayoutEndpoint(t *testing.T) {
	svc := NewService(context.Background(), defaultConfig(), nil, nil, newLogger())
	t.Cleanup(svc.Close)
	srv := newServer(t, svc)

	resp, err := http.Post(srv.URL+"/v1/graph/layout?mode=radical&selected=emo-joy", "application/json", encode(t, joyfulDocument()))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var out LayoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var self bool
	for _, n := range out.Nodes {
		if n.Kind == graph.NodeSelf {
			self = n.X == 0 && n.Y == 0
		}
	}
	if !self {
		t.Fatal("radical layout must place self at the origin")
	}
	if len(out.Highlight) < 2 {
		t.Fatalf("expected the selected emotion and its neighbors, got %v", out.Highlight)
	}
}

func TestLayoutOptions(t *testing.T) {
	q := url.Values{}
	q.Set("emotion", "기쁨")
	q.Set("hierarchy", "true")
	q.Set("expanded", "joy, sadness")
	opts, err := LayoutOptions(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Mode != graph.ModeGalaxy || !opts.Hierarchy || opts.Emotion != "기쁨" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if len(opts.Expanded) != 2 || opts.Expanded[1] != graph.ClusterSadness {
		t.Fatalf("unexpected expanded clusters %v", opts.Expanded)
	}

	for _, bad := range []string{"mode=spiral", "hierarchy=maybe", "expanded=BLISS"} {
		q, _ := url.ParseQuery(bad)
		if _, err := LayoutOptions(q); err == nil {
			t.Fatalf("expected error for %s", bad)
		}
	}
}

func TestAnalyzeOverBus(t *testing.T) {
	ns, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(ns.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{ns.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	broadcasts, err := client.Conn().SubscribeSync(protocol.SubjectGraphAlerts)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	svc := NewService(context.Background(), defaultConfig(), client, nil, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatal("expected healthy service")
	}

	data, err := json.Marshal(AnalyzeRequest{Document: joyfulDocument()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := client.Conn().Request(protocol.SubjectGraphAnalyze, data, 5*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var reply AlertsEvent
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Source != SourceBus || len(reply.Alerts) == 0 || reply.Error != "" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	bmsg, err := broadcasts.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("expected alerts broadcast: %v", err)
	}
	var broadcast AlertsEvent
	if err := json.Unmarshal(bmsg.Data, &broadcast); err != nil || broadcast.RunID != reply.RunID {
		t.Fatalf("broadcast should carry the same run, got %+v (%v)", broadcast, err)
	}

	msg, err = client.Conn().Request(protocol.SubjectGraphAnalyze, []byte("not json"), 5*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := json.Unmarshal(msg.Data, &reply); err != nil || reply.Error == "" {
		t.Fatalf("expected an error reply, got %s", msg.Data)
	}
}
