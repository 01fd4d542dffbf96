package vision

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/aira-core/internal/protocol"
)

const DefaultInterval = time.Second

// Grabber captures one compressed still image from a video source.
type Grabber interface {
	Grab(ctx context.Context) ([]byte, error)
}

// Sink is the transport side of the sampler.
type Sink interface {
	SendVisionFrame(source protocol.VisionSource, imageB64 string)
	SendCameraState(enabled bool)
}

type Options struct {
	Source   protocol.VisionSource
	Interval time.Duration
}

// Sampler forwards one still per interval while enabled.
type Sampler struct {
	grabber Grabber
	sink    Sink
	log     *slog.Logger

	mu       sync.Mutex
	source   protocol.VisionSource
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	frames metric.Int64Counter
}

func NewSampler(grabber Grabber, sink Sink, opts Options, log *slog.Logger) *Sampler {
	if opts.Source == "" {
		opts.Source = protocol.SourceCamera
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	s := &Sampler{
		grabber:  grabber,
		sink:     sink,
		log:      log.With(slog.String("component", "vision")),
		source:   opts.Source,
		interval: opts.Interval,
	}
	var err error
	s.frames, err = otel.Meter("github.com/loqalabs/aira-core/vision").Int64Counter("aira.vision.frames", metric.WithDescription("Still frames forwarded to the transport"))
	if err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return s
}

// SetEnabled toggles the active source and reports the new camera state to
// the server. Disabling tears the interval down before returning.
func (s *Sampler) SetEnabled(ctx context.Context, enabled bool) {
	if enabled {
		if !s.start(ctx) {
			return
		}
	} else if !s.Stop() {
		return
	}
	s.sink.SendCameraState(enabled)
}

// SetSource switches between camera and screen. A running sampler keeps
// its interval and tags subsequent frames with the new source.
func (s *Sampler) SetSource(source protocol.VisionSource) {
	s.mu.Lock()
	s.source = source
	s.mu.Unlock()
}

func (s *Sampler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Sampler) start(parent context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx, s.interval)
	s.log.Info("vision sampling started", slog.String("source", string(s.source)), slog.Duration("interval", s.interval))
	return true
}

// Stop clears the interval and waits for an in-flight capture to finish. It
// reports whether the sampler was running.
func (s *Sampler) Stop() bool {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	s.wg.Wait()
	s.log.Info("vision sampling stopped")
	return true
}

func (s *Sampler) loop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx, interval)
		}
	}
}

func (s *Sampler) sample(ctx context.Context, interval time.Duration) {
	grabCtx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()
	image, err := s.grabber.Grab(grabCtx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("vision capture failed", slog.String("error", err.Error()))
		}
		return
	}
	if len(image) == 0 {
		return
	}
	s.mu.Lock()
	source := s.source
	s.mu.Unlock()

	s.sink.SendVisionFrame(source, base64.StdEncoding.EncodeToString(image))
	if s.frames != nil {
		s.frames.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(source))))
	}
}
