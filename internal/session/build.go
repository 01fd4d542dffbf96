package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/aira-core/internal/audio"
	"github.com/loqalabs/aira-core/internal/capture"
	"github.com/loqalabs/aira-core/internal/config"
	"github.com/loqalabs/aira-core/internal/playback"
	"github.com/loqalabs/aira-core/internal/protocol"
	"github.com/loqalabs/aira-core/internal/transport"
	"github.com/loqalabs/aira-core/internal/vision"
)

// Build assembles the transport client and the exec-backed media units the
// configuration enables. On error everything already opened is released.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (comps Components, err error) {
	client := transport.New(transport.Config{
		URL:              cfg.Transport.URL,
		ReconnectDelay:   time.Duration(cfg.Transport.ReconnectDelayMS) * time.Millisecond,
		HandshakeTimeout: time.Duration(cfg.Transport.HandshakeTimeoutMS) * time.Millisecond,
	}, logger)
	comps.Link = client

	defer func() {
		if err == nil {
			return
		}
		for _, c := range comps.Closers {
			_ = c.Close()
		}
		comps = Components{}
	}()

	if cfg.Capture.Enabled {
		dev, err := capture.NewExecDevice(cfg.Capture.Command)
		if err != nil {
			return comps, fmt.Errorf("capture device: %w", err)
		}
		comps.Capture = capture.NewUnit(dev, client, capture.Options{
			SampleRate: cfg.Capture.SampleRate,
			FrameSize:  cfg.Capture.FrameSize,
			DumpPath:   cfg.Capture.DumpPath,
		}, logger)
	}

	if cfg.Playback.Enabled {
		device, err := playback.NewExecOutput(ctx, cfg.Playback.Command, logger)
		if err != nil {
			return comps, fmt.Errorf("playback device: %w", err)
		}
		comps.Closers = append(comps.Closers, device)
		var out playback.Output = device
		if cfg.Playback.RecordPath != "" {
			rec, err := audio.NewRecorder(cfg.Playback.RecordPath, cfg.Playback.SampleRate)
			if err != nil {
				return comps, fmt.Errorf("playback recorder: %w", err)
			}
			comps.Closers = append(comps.Closers, closerFunc(rec.Close))
			out = playback.NewRecordingOutput(device, rec, logger)
		}
		comps.Playback = playback.NewScheduler(out, playback.Options{
			Prebuffer: cfg.Playback.Prebuffer,
			Lead:      time.Duration(cfg.Playback.LeadMS) * time.Millisecond,
		}, logger)
	}

	if cfg.Vision.Enabled {
		grabber, err := vision.NewExecGrabber(cfg.Vision.Command)
		if err != nil {
			return comps, fmt.Errorf("vision grabber: %w", err)
		}
		comps.Vision = vision.NewSampler(grabber, client, vision.Options{
			Source:   protocol.VisionSource(cfg.Vision.Source),
			Interval: time.Duration(cfg.Vision.IntervalMS) * time.Millisecond,
		}, logger)
	}

	return comps, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
