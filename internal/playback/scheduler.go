package playback

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/aira-core/internal/audio"
)

const (
	DefaultPrebuffer = 4
	DefaultLead      = 50 * time.Millisecond
)

// Output is an audio device with its own clock. Times are seconds on the
// output clock; Schedule must not block.
type Output interface {
	Now() float64
	Schedule(buf audio.Buffer, at float64)
}

type Options struct {
	// Prebuffer is the number of buffers held before playback starts.
	Prebuffer int
	// Lead is added to the clock when playback (re)starts.
	Lead time.Duration
}

// Scheduler jitter-buffers inbound audio and schedules it gaplessly on an
// Output. Buffers are scheduled exactly once, in arrival order.
type Scheduler struct {
	out       Output
	log       *slog.Logger
	prebuffer int
	lead      float64

	mu        sync.Mutex
	queue     []audio.Buffer
	nextStart float64
	playing   bool

	scheduled metric.Int64Counter
	underruns metric.Int64Counter
}

func NewScheduler(out Output, opts Options, log *slog.Logger) *Scheduler {
	if opts.Prebuffer <= 0 {
		opts.Prebuffer = DefaultPrebuffer
	}
	if opts.Lead < 0 {
		opts.Lead = 0
	}
	s := &Scheduler{
		out:       out,
		log:       log.With(slog.String("component", "playback")),
		prebuffer: opts.Prebuffer,
		lead:      opts.Lead.Seconds(),
	}
	meter := otel.Meter("github.com/loqalabs/aira-core/playback")
	var err error
	if s.scheduled, err = meter.Int64Counter("aira.playback.buffers_scheduled", metric.WithDescription("Audio buffers handed to the output device")); err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if s.underruns, err = meter.Int64Counter("aira.playback.underruns", metric.WithDescription("Playback starvation events that forced re-buffering")); err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return s
}

// Enqueue converts a PCM frame to normalized samples and admits it.
func (s *Scheduler) Enqueue(frame audio.Frame) {
	s.EnqueueBuffer(audio.Buffer{
		Samples:    audio.PCM16ToFloat(frame.Samples),
		SampleRate: frame.SampleRate,
	})
}

// EnqueueBuffer admits a decoded buffer. Underrun detection runs before the
// buffering threshold check on every call.
func (s *Scheduler) EnqueueBuffer(buf audio.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.out.Now()
	if s.playing && s.nextStart < now {
		s.playing = false
		s.log.Debug("playback underrun", slog.Float64("behind_seconds", now-s.nextStart))
		if s.underruns != nil {
			s.underruns.Add(context.Background(), 1)
		}
	}

	s.queue = append(s.queue, buf)
	if !s.playing {
		if len(s.queue) < s.prebuffer {
			return
		}
		s.playing = true
		s.nextStart = now + s.lead
	}
	s.flush(now)
}

func (s *Scheduler) flush(now float64) {
	for _, buf := range s.queue {
		start := math.Max(now, s.nextStart)
		s.out.Schedule(buf, start)
		s.nextStart = start + buf.Seconds()
	}
	if s.scheduled != nil {
		s.scheduled.Add(context.Background(), int64(len(s.queue)))
	}
	s.queue = nil
}

// Stop drops queued buffers and returns the scheduler to its buffering phase.
// Buffers already handed to the output are not recalled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.playing = false
	s.nextStart = 0
}

func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// NextStartTime is the output-clock time at which the next buffer would begin.
func (s *Scheduler) NextStartTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}
