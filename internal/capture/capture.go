package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/aira-core/internal/audio"
)

const (
	DefaultSampleRate = 16000
	DefaultFrameSize  = 4096
)

// Device produces a raw stream of mono float32 little-endian samples.
type Device interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Sink receives every captured frame.
type Sink interface {
	SendAudioContent(frame audio.Frame)
}

type Options struct {
	SampleRate int
	// FrameSize is the number of samples per forwarded frame.
	FrameSize int
	// DumpPath, when set, records everything captured to a WAV file.
	DumpPath string
}

// Stream is an open capture. Close is the only way to release the device and
// it is safe to call more than once.
type Stream struct {
	log    *slog.Logger
	src    io.ReadCloser
	cancel context.CancelFunc
	dump   *audio.Recorder

	done      chan struct{}
	closeOnce sync.Once
	closing   chan struct{}
}

// Open acquires the device and starts forwarding frames to sink.
func Open(ctx context.Context, dev Device, sink Sink, opts Options, log *slog.Logger) (*Stream, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.FrameSize <= 0 {
		opts.FrameSize = DefaultFrameSize
	}
	var dump *audio.Recorder
	if opts.DumpPath != "" {
		rec, err := audio.NewRecorder(opts.DumpPath, opts.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("open capture dump: %w", err)
		}
		dump = rec
	}

	ctx, cancel := context.WithCancel(ctx)
	src, err := dev.Open(ctx)
	if err != nil {
		cancel()
		_ = dump.Close()
		return nil, fmt.Errorf("open capture device: %w", err)
	}

	s := &Stream{
		log:     log,
		src:     src,
		cancel:  cancel,
		dump:    dump,
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	frames, err := otel.Meter("github.com/loqalabs/aira-core/capture").Int64Counter("aira.capture.frames", metric.WithDescription("Microphone frames forwarded to the transport"))
	if err != nil {
		log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	go s.run(sink, opts, frames)
	return s, nil
}

func (s *Stream) run(sink Sink, opts Options, frames metric.Int64Counter) {
	defer close(s.done)
	raw := make([]byte, opts.FrameSize*4)
	for {
		if _, err := io.ReadFull(s.src, raw); err != nil {
			select {
			case <-s.closing:
			default:
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					s.log.Info("capture stream ended")
				} else {
					s.log.Warn("capture read failed", slog.String("error", err.Error()))
				}
			}
			return
		}
		samples := audio.FloatToPCM16(audio.DecodeFloat32LE(raw))
		if err := s.dump.WritePCM16(samples); err != nil {
			s.log.Warn("capture dump failed", slog.String("error", err.Error()))
		}
		sink.SendAudioContent(audio.Frame{Samples: samples, SampleRate: opts.SampleRate, Channels: 1})
		if frames != nil {
			frames.Add(context.Background(), 1)
		}
	}
}

// Done is closed once the stream stops producing frames.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		s.cancel()
		err = s.src.Close()
		<-s.done
		if derr := s.dump.Close(); derr != nil {
			err = errors.Join(err, derr)
		}
	})
	return err
}

// Unit owns at most one capture stream. Start never fails loudly: device
// errors are logged and the unit stays inactive.
type Unit struct {
	dev  Device
	sink Sink
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	stream *Stream
}

func NewUnit(dev Device, sink Sink, opts Options, log *slog.Logger) *Unit {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.FrameSize <= 0 {
		opts.FrameSize = DefaultFrameSize
	}
	return &Unit{dev: dev, sink: sink, opts: opts, log: log.With(slog.String("component", "capture"))}
}

func (u *Unit) Start(ctx context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stream != nil {
		select {
		case <-u.stream.Done():
			_ = u.stream.Close()
			u.stream = nil
		default:
			return
		}
	}
	stream, err := Open(ctx, u.dev, u.sink, u.opts, u.log)
	if err != nil {
		u.log.Error("capture unavailable", slog.String("error", err.Error()))
		return
	}
	u.stream = stream
	u.log.Info("capture started", slog.Int("sample_rate", u.opts.SampleRate))
}

// Stop releases the device. Calling it while stopped is a no-op.
func (u *Unit) Stop() {
	u.mu.Lock()
	stream := u.stream
	u.stream = nil
	u.mu.Unlock()
	if stream == nil {
		return
	}
	if err := stream.Close(); err != nil {
		u.log.Warn("capture close failed", slog.String("error", err.Error()))
	}
	u.log.Info("capture stopped")
}

func (u *Unit) Active() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stream == nil {
		return false
	}
	select {
	case <-u.stream.Done():
		return false
	default:
		return true
	}
}
