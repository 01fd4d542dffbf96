package playback

import (
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/aira-core/internal/audio"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type scheduledBuffer struct {
	buf audio.Buffer
	at  float64
}

type fakeOutput struct {
	now       float64
	scheduled []scheduledBuffer
}

func (f *fakeOutput) Now() float64 { return f.now }

func (f *fakeOutput) Schedule(buf audio.Buffer, at float64) {
	f.scheduled = append(f.scheduled, scheduledBuffer{buf: buf, at: at})
}

// tenth returns 100ms of audio at 24kHz, tagged by its first sample.
func tenth(tag float32) audio.Buffer {
	samples := make([]float32, 2400)
	samples[0] = tag
	return audio.Buffer{Samples: samples, SampleRate: 24000}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func newTestScheduler(out *fakeOutput) *Scheduler {
	return NewScheduler(out, Options{Prebuffer: 4, Lead: 50 * time.Millisecond}, newLogger())
}

func TestNothingScheduledBeforeFourthBuffer(t *testing.T) {
	out := &fakeOutput{now: 1.0}
	s := newTestScheduler(out)

	for i := 0; i < 3; i++ {
		s.EnqueueBuffer(tenth(float32(i)))
		if len(out.scheduled) != 0 {
			t.Fatalf("buffer %d scheduled before threshold", i)
		}
		if s.Playing() {
			t.Fatal("scheduler should still be buffering")
		}
	}
	out.now = 1.02
	s.EnqueueBuffer(tenth(3))

	if len(out.scheduled) != 4 {
		t.Fatalf("expected 4 scheduled buffers, got %d", len(out.scheduled))
	}
	if out.scheduled[0].at < 1.02+0.05-1e-9 {
		t.Fatalf("first buffer starts too early: %f", out.scheduled[0].at)
	}
	for i, item := range out.scheduled {
		if item.buf.Samples[0] != float32(i) {
			t.Fatalf("buffer %d out of order", i)
		}
	}
	if s.Queued() != 0 {
		t.Fatalf("queue should be drained, %d left", s.Queued())
	}
}

func TestScheduledBuffersAreContiguous(t *testing.T) {
	out := &fakeOutput{now: 0.5}
	s := newTestScheduler(out)

	for i := 0; i < 12; i++ {
		s.EnqueueBuffer(tenth(float32(i)))
		// Supply keeps ahead of the clock.
		out.now += 0.04
	}

	if len(out.scheduled) != 12 {
		t.Fatalf("expected 12 scheduled buffers, got %d", len(out.scheduled))
	}
	for i := 1; i < len(out.scheduled); i++ {
		prev := out.scheduled[i-1]
		if !approx(out.scheduled[i].at, prev.at+prev.buf.Seconds()) {
			t.Fatalf("gap between buffer %d (%f) and %d (%f)", i-1, prev.at, i, out.scheduled[i].at)
		}
	}
}

func TestUnderrunReturnsToBuffering(t *testing.T) {
	out := &fakeOutput{now: 1.0}
	s := newTestScheduler(out)
	for i := 0; i < 4; i++ {
		s.EnqueueBuffer(tenth(float32(i)))
	}
	if !s.Playing() {
		t.Fatal("expected playback active")
	}
	// Scheduled audio runs out at 1.45; the next buffer arrives late.
	out.now = 2.0
	s.EnqueueBuffer(tenth(4))
	if s.Playing() {
		t.Fatal("underrun should reset the active flag")
	}
	if len(out.scheduled) != 4 {
		t.Fatalf("late buffer must not schedule immediately, got %d scheduled", len(out.scheduled))
	}
	if s.Queued() != 1 {
		t.Fatalf("late buffer should stay queued, got %d", s.Queued())
	}

	for i := 5; i < 8; i++ {
		s.EnqueueBuffer(tenth(float32(i)))
	}
	if len(out.scheduled) != 8 {
		t.Fatalf("expected re-buffered batch of 4, got %d total", len(out.scheduled))
	}
	if !approx(out.scheduled[4].at, 2.05) {
		t.Fatalf("restart should lead the clock by 50ms, got %f", out.scheduled[4].at)
	}
	if out.scheduled[4].buf.Samples[0] != 4 {
		t.Fatal("queued late buffer must play first after restart")
	}
}

func TestClockEqualToNextStartIsNotUnderrun(t *testing.T) {
	out := &fakeOutput{now: 0}
	s := NewScheduler(out, Options{Prebuffer: 1, Lead: 0}, newLogger())
	s.EnqueueBuffer(tenth(0))
	out.now = s.NextStartTime()
	s.EnqueueBuffer(tenth(1))

	if !s.Playing() || len(out.scheduled) != 2 {
		t.Fatalf("expected steady state at clock boundary, scheduled=%d", len(out.scheduled))
	}
}

func TestStopClearsQueue(t *testing.T) {
	out := &fakeOutput{now: 1.0}
	s := newTestScheduler(out)
	for i := 0; i < 4; i++ {
		s.EnqueueBuffer(tenth(float32(i)))
	}
	s.Stop()
	if s.Playing() || s.NextStartTime() != 0 {
		t.Fatal("stop should reset playback state")
	}
	s.EnqueueBuffer(tenth(9))
	if len(out.scheduled) != 4 || s.Queued() != 1 {
		t.Fatalf("after stop the scheduler must buffer again, scheduled=%d queued=%d", len(out.scheduled), s.Queued())
	}
}

func TestEnqueueNormalizesPCM(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out, Options{Prebuffer: 1}, newLogger())
	s.Enqueue(audio.Frame{Samples: []int16{16384, -32768}, SampleRate: 24000, Channels: 1})

	if len(out.scheduled) != 1 {
		t.Fatalf("expected one scheduled buffer, got %d", len(out.scheduled))
	}
	buf := out.scheduled[0].buf
	if buf.SampleRate != 24000 || buf.Samples[0] != 0.5 || buf.Samples[1] != -1 {
		t.Fatalf("unexpected buffer %+v", buf)
	}
}

func TestRecordingOutputTeesToWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playback.wav")
	rec, err := audio.NewRecorder(path, 24000)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	inner := &fakeOutput{now: 3}
	out := NewRecordingOutput(inner, rec, newLogger())

	out.Schedule(tenth(0.25), 3.5)
	if out.Now() != 3 {
		t.Fatal("clock should come from the wrapped output")
	}
	if len(inner.scheduled) != 1 || inner.scheduled[0].at != 3.5 {
		t.Fatal("buffer not forwarded to wrapped output")
	}
	if rec.Samples() != 2400 {
		t.Fatalf("expected 2400 recorded samples, got %d", rec.Samples())
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
