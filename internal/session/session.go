package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/aira-core/internal/audio"
	"github.com/loqalabs/aira-core/internal/eventstore"
	"github.com/loqalabs/aira-core/internal/protocol"
)

// Link is the transport side of a session.
type Link interface {
	Initialize(credential string)
	Disconnect()
	Healthy() bool
	OnTranscript(fn func(protocol.Transcript)) (unsubscribe func())
	OnAudio(fn func(audio.Frame)) (unsubscribe func())
}

type Capture interface {
	Start(ctx context.Context)
	Stop()
}

type Playback interface {
	Enqueue(frame audio.Frame)
	Stop()
}

type Vision interface {
	SetEnabled(ctx context.Context, enabled bool)
}

// Publisher fans session events out to the bus.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Store keeps the session timeline.
type Store interface {
	BeginSession(ctx context.Context, sessionID, source string) error
	EndSession(ctx context.Context, sessionID string) error
	AppendJSON(ctx context.Context, sessionID, eventType string, v any) error
}

// Components are the media units a session drives. Every field except
// Link may be nil.
type Components struct {
	Link     Link
	Capture  Capture
	Playback Playback
	Vision   Vision
	// Closers are released after everything else, in order.
	Closers []io.Closer
}

// Service runs one media session: microphone to socket, socket audio to the
// speaker, stills while vision is on and transcripts to the bus and store.
type Service struct {
	id         string
	comps      Components
	credential string
	pub        Publisher
	store      Store
	logger     *slog.Logger
	clock      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	unsubs  []func()
}

func NewService(parent context.Context, comps Components, credential string, pub Publisher, store Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	return &Service{
		id:         id,
		comps:      comps,
		credential: credential,
		pub:        pub,
		store:      store,
		logger:     logger.With(slog.String("component", "session"), slog.String("session_id", id)),
		clock:      time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Service) ID() string {
	return s.id
}

// Start connects the link and brings every configured unit up. Calling it
// on a running session does nothing.
func (s *Service) Start() error {
	if s.comps.Link == nil {
		return errors.New("session requires a transport link")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.store != nil {
		if err := s.store.BeginSession(s.ctx, s.id, "media"); err != nil {
			s.logger.Warn("failed to record session start", slogError(err))
		}
	}

	s.unsubs = append(s.unsubs, s.comps.Link.OnTranscript(s.handleTranscript))
	if s.comps.Playback != nil {
		s.unsubs = append(s.unsubs, s.comps.Link.OnAudio(s.comps.Playback.Enqueue))
	}
	s.comps.Link.Initialize(s.credential)

	if s.comps.Capture != nil {
		s.comps.Capture.Start(s.ctx)
	}
	if s.comps.Vision != nil {
		s.comps.Vision.SetEnabled(s.ctx, true)
	}
	s.started = true
	s.logger.Info("media session started")
	return nil
}

// Close stops inputs before the link so nothing is sent on a closing socket.
func (s *Service) Close() {
	s.mu.Lock()
	started := s.started
	s.started = false
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	if started {
		if s.comps.Capture != nil {
			s.comps.Capture.Stop()
		}
		if s.comps.Vision != nil {
			s.comps.Vision.SetEnabled(s.ctx, false)
		}
		for _, unsub := range unsubs {
			unsub()
		}
		if s.comps.Playback != nil {
			s.comps.Playback.Stop()
		}
		s.comps.Link.Disconnect()
	}
	s.cancel()

	for _, c := range s.comps.Closers {
		if err := c.Close(); err != nil {
			s.logger.Warn("failed to release media resource", slogError(err))
		}
	}
	s.comps.Closers = nil

	if started && s.store != nil {
		if err := s.store.EndSession(context.Background(), s.id); err != nil {
			s.logger.Warn("failed to record session end", slogError(err))
		}
		s.logger.Info("media session closed")
	}
}

func (s *Service) Healthy() bool {
	return s.comps.Link != nil && s.comps.Link.Healthy()
}

func (s *Service) handleTranscript(t protocol.Transcript) {
	evt := protocol.TranscriptEvent{
		SessionID: s.id,
		Role:      t.Role,
		Text:      t.Text,
		Final:     t.Final,
		Timestamp: s.clock().UTC(),
	}
	if s.pub != nil {
		if err := s.pub.PublishJSON(protocol.SubjectTranscript, evt); err != nil {
			s.logger.Warn("failed to publish transcript", slogError(err))
		}
	}
	if s.store != nil {
		if err := s.store.AppendJSON(s.ctx, s.id, eventstore.TypeTranscript, evt); err != nil {
			s.logger.Warn("failed to store transcript", slogError(err))
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
