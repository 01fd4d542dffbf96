package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/aira-core/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type staticGrabber struct {
	mu    sync.Mutex
	calls int
	image []byte
	err   error
}

func (g *staticGrabber) Grab(context.Context) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.image, g.err
}

func (g *staticGrabber) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type sentFrame struct {
	source protocol.VisionSource
	image  string
}

type fakeSink struct {
	mu     sync.Mutex
	frames []sentFrame
	states []bool
}

func (f *fakeSink) SendVisionFrame(source protocol.VisionSource, imageB64 string) {
	f.mu.Lock()
	f.frames = append(f.frames, sentFrame{source: source, image: imageB64})
	f.mu.Unlock()
}

func (f *fakeSink) SendCameraState(enabled bool) {
	f.mu.Lock()
	f.states = append(f.states, enabled)
	f.mu.Unlock()
}

func (f *fakeSink) Frames() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.frames...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSamplerForwardsEncodedFrames(t *testing.T) {
	grabber := &staticGrabber{image: []byte{0xff, 0xd8, 0xff}}
	sink := &fakeSink{}
	s := NewSampler(grabber, sink, Options{Source: protocol.SourceScreen, Interval: 5 * time.Millisecond}, newLogger())

	s.SetEnabled(context.Background(), true)
	waitFor(t, "two frames", func() bool { return len(sink.Frames()) >= 2 })
	s.SetEnabled(context.Background(), false)

	frame := sink.Frames()[0]
	if frame.source != protocol.SourceScreen {
		t.Fatalf("expected screen source, got %s", frame.source)
	}
	if frame.image != base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff}) {
		t.Fatalf("unexpected payload %q", frame.image)
	}
	if len(sink.states) != 2 || !sink.states[0] || sink.states[1] {
		t.Fatalf("expected camera state on then off, got %v", sink.states)
	}
}

func TestStopClearsInterval(t *testing.T) {
	grabber := &staticGrabber{image: []byte("jpeg")}
	sink := &fakeSink{}
	s := NewSampler(grabber, sink, Options{Interval: 5 * time.Millisecond}, newLogger())

	s.SetEnabled(context.Background(), true)
	waitFor(t, "first frame", func() bool { return grabber.Calls() >= 1 })
	if !s.Stop() {
		t.Fatal("expected running sampler")
	}
	calls := grabber.Calls()
	time.Sleep(30 * time.Millisecond)
	if grabber.Calls() != calls {
		t.Fatal("grabber called after stop")
	}
	if s.Active() || s.Stop() {
		t.Fatal("second stop should report an idle sampler")
	}
}

func TestRepeatedEnableSendsStateOnce(t *testing.T) {
	sink := &fakeSink{}
	s := NewSampler(&staticGrabber{}, sink, Options{Interval: time.Hour}, newLogger())

	s.SetEnabled(context.Background(), true)
	s.SetEnabled(context.Background(), true)
	s.SetEnabled(context.Background(), false)
	s.SetEnabled(context.Background(), false)

	if len(sink.states) != 2 {
		t.Fatalf("expected exactly two state changes, got %v", sink.states)
	}
}

func TestGrabFailuresAreSkipped(t *testing.T) {
	grabber := &staticGrabber{err: errors.New("camera busy")}
	sink := &fakeSink{}
	s := NewSampler(grabber, sink, Options{Interval: 5 * time.Millisecond}, newLogger())

	s.SetEnabled(context.Background(), true)
	waitFor(t, "grab attempts", func() bool { return grabber.Calls() >= 3 })
	s.Stop()

	if n := len(sink.Frames()); n != 0 {
		t.Fatalf("failed grabs must not send frames, got %d", n)
	}
}

func TestSetSourceRetagsFrames(t *testing.T) {
	grabber := &staticGrabber{image: []byte("x")}
	sink := &fakeSink{}
	s := NewSampler(grabber, sink, Options{Interval: 5 * time.Millisecond}, newLogger())
	s.SetSource(protocol.SourceScreen)
	s.SetEnabled(context.Background(), true)
	waitFor(t, "frame", func() bool { return len(sink.Frames()) >= 1 })
	s.Stop()

	if sink.Frames()[0].source != protocol.SourceScreen {
		t.Fatal("expected frames tagged with the switched source")
	}
}
