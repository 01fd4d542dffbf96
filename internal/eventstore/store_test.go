package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/aira-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTemp(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	cfg.Path = filepath.Join(t.TempDir(), "events.db")
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestEphemeralStoreDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	es, err := Open(ctx, config.EventStoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	if err := es.BeginSession(ctx, "s", "microphone"); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := es.AppendAlertRun(ctx, AlertRun{ID: "run"}); err != nil {
		t.Fatalf("append alert run: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, "s", 10)
	if err != nil || events != nil {
		t.Fatalf("expected nothing stored, got %v %v", events, err)
	}
}

func TestSessionTimeline(t *testing.T) {
	ctx := context.Background()
	es := openTemp(t, config.EventStoreConfig{RetentionMode: "session"})
	es.clock = fixedClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	if err := es.BeginSession(ctx, "session-123", "microphone"); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := es.AppendJSON(ctx, "session-123", TypeTranscript, map[string]string{"text": "hello"}); err != nil {
		t.Fatalf("append transcript: %v", err)
	}
	if err := es.EndSession(ctx, "session-123"); err != nil {
		t.Fatalf("end session: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "session-123", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	want := []string{TypeSessionStarted, TypeTranscript, TypeSessionEnded}
	for i, evt := range events {
		if evt.Type != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], evt.Type)
		}
	}
	if string(events[1].Payload) != `{"text":"hello"}` {
		t.Fatalf("unexpected payload: %s", events[1].Payload)
	}
	if !events[0].CreatedAt.Equal(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %v", events[0].CreatedAt)
	}
}

func TestAlertRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	es := openTemp(t, config.EventStoreConfig{RetentionMode: "persistent"})

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		es.clock = fixedClock(base.Add(time.Duration(i) * time.Minute))
		if err := es.AppendAlertRun(ctx, AlertRun{ID: id, Source: "http", AlertCount: i, Payload: []byte("[]")}); err != nil {
			t.Fatalf("append alert run: %v", err)
		}
	}
	runs, err := es.ListAlertRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list alert runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "third" || runs[1].ID != "second" {
		t.Fatalf("unexpected runs %+v", runs)
	}
	if runs[0].AlertCount != 2 || runs[0].Source != "http" {
		t.Fatalf("unexpected run fields %+v", runs[0])
	}
	if err := es.AppendAlertRun(ctx, AlertRun{}); err == nil {
		t.Fatal("expected error for missing run id")
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	ctx := context.Background()
	es := openTemp(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})

	es.clock = fixedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err := es.BeginSession(ctx, "old-session", "microphone"); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := es.AppendJSON(ctx, "old-session", TypeTranscript, map[string]string{"text": "hi"}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.AppendAlertRun(ctx, AlertRun{ID: "old-run"}); err != nil {
		t.Fatalf("append alert run: %v", err)
	}

	es.clock = fixedClock(time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC))
	if err := es.BeginSession(ctx, "new-session", "microphone"); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned, got %d events", len(events))
	}
	runs, err := es.ListAlertRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list alert runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected old alert run pruned, got %d", len(runs))
	}
	if events, _ := es.ListSessionEvents(ctx, "new-session", 10); len(events) != 1 {
		t.Fatalf("expected new session kept, got %d events", len(events))
	}
}
