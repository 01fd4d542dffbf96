package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/aira-core/internal/audio"
	"github.com/loqalabs/aira-core/internal/protocol"
)

const (
	DefaultReconnectDelay   = 3 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
	credentialParam         = "token"
)

type Config struct {
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	Dialer           Dialer
	// AfterFunc arms the reconnect timer. Defaults to time.AfterFunc.
	AfterFunc func(time.Duration, func()) Timer
}

// Client is a persistent duplex media connection. Outbound sends are best
// effort: when the connection is not open they are dropped, never queued.
type Client struct {
	cfg Config
	log *slog.Logger

	mu         sync.Mutex
	state      State
	credential string
	conn       Conn
	generation uint64
	timer      Timer
	// timerSeq identifies the armed timer; callbacks of superseded timers
	// leave the client alone.
	timerSeq uint64

	writeMu sync.Mutex

	listenersMu sync.RWMutex
	nextID      int
	transcripts map[int]func(protocol.Transcript)
	audio       map[int]func(audio.Frame)

	framesSent    metric.Int64Counter
	framesDropped metric.Int64Counter
	reconnects    metric.Int64Counter
}

func New(cfg Config, log *slog.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NewWebsocketDialer(cfg.HandshakeTimeout)
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = defaultAfterFunc
	}
	c := &Client{
		cfg:         cfg,
		log:         log.With(slog.String("component", "transport")),
		transcripts: make(map[int]func(protocol.Transcript)),
		audio:       make(map[int]func(audio.Frame)),
	}
	c.initMetrics()
	return c
}

func (c *Client) initMetrics() {
	meter := otel.Meter("github.com/loqalabs/aira-core/transport")
	var err error
	if c.framesSent, err = meter.Int64Counter("aira.transport.frames_sent", metric.WithDescription("Outbound frames written to the socket")); err != nil {
		c.log.Warn("failed to initialize metrics", slogError(err))
	}
	if c.framesDropped, err = meter.Int64Counter("aira.transport.frames_dropped", metric.WithDescription("Outbound frames dropped while not connected")); err != nil {
		c.log.Warn("failed to initialize metrics", slogError(err))
	}
	if c.reconnects, err = meter.Int64Counter("aira.transport.reconnects", metric.WithDescription("Reconnect timers armed")); err != nil {
		c.log.Warn("failed to initialize metrics", slogError(err))
	}
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Healthy() bool {
	return c.State() == Open
}

// Initialize stores the credential and opens the connection with it.
func (c *Client) Initialize(credential string) {
	c.mu.Lock()
	c.credential = credential
	c.mu.Unlock()
	c.Connect()
}

// Connect starts a connection attempt if the client is disconnected. The
// dial runs in the background; failures arm the reconnect timer.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	target, err := c.endpoint()
	if err != nil {
		c.mu.Unlock()
		c.log.Error("invalid transport url", slogError(err))
		return
	}
	c.state = Connecting
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	go c.dial(gen, target)
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q must be absolute", c.cfg.URL)
	}
	if c.credential != "" {
		q := u.Query()
		q.Set(credentialParam, c.credential)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) dial(gen uint64, target string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	defer cancel()

	conn, err := c.cfg.Dialer.Dial(ctx, target)
	if err != nil {
		c.log.Warn("transport connect failed", slogError(err))
		c.handleDrop(gen)
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.state = Open
	c.conn = conn
	c.stopTimerLocked()
	c.mu.Unlock()

	c.log.Info("transport connected")
	go c.readLoop(gen, conn)
}

// handleDrop moves to disconnected after a close or error and arms a single
// reconnect timer while a credential is held.
func (c *Client) handleDrop(gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	armed := false
	if c.credential != "" && c.timer == nil {
		c.timerSeq++
		seq := c.timerSeq
		c.timer = c.cfg.AfterFunc(c.cfg.ReconnectDelay, func() { c.reconnect(seq) })
		armed = true
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if armed {
		c.log.Info("transport reconnect scheduled", slog.Duration("delay", c.cfg.ReconnectDelay))
		if c.reconnects != nil {
			c.reconnects.Add(context.Background(), 1)
		}
	}
}

func (c *Client) reconnect(seq uint64) {
	c.mu.Lock()
	if seq != c.timerSeq || c.timer == nil {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ready := c.credential != "" && c.state == Disconnected
	c.mu.Unlock()
	if ready {
		c.Connect()
	}
}

// stopTimerLocked cancels the pending reconnect, if any. c.mu must be held.
func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
}

// Disconnect clears the credential, cancels any pending reconnect and closes
// the socket. No automatic reconnection follows.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.credential = ""
	c.stopTimerLocked()
	c.generation++
	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		c.log.Info("transport disconnected")
	}
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.log.Info("transport connection closed", slogError(err))
			c.handleDrop(gen)
			return
		}
		c.dispatch(messageType, data)
	}
}

func (c *Client) dispatch(messageType int, data []byte) {
	switch messageType {
	case websocket.TextMessage:
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("failed to decode inbound message", slogError(err))
			return
		}
		if env.Type != protocol.TypeTranscript {
			return
		}
		var tr protocol.Transcript
		if err := json.Unmarshal(data, &tr); err != nil {
			c.log.Warn("failed to decode transcript", slogError(err))
			return
		}
		c.listenersMu.RLock()
		fns := make([]func(protocol.Transcript), 0, len(c.transcripts))
		for _, fn := range c.transcripts {
			fns = append(fns, fn)
		}
		c.listenersMu.RUnlock()
		for _, fn := range fns {
			fn(tr)
		}
	case websocket.BinaryMessage:
		samples := audio.DecodePCM16LE(data)
		c.listenersMu.RLock()
		fns := make([]func(audio.Frame), 0, len(c.audio))
		for _, fn := range c.audio {
			fns = append(fns, fn)
		}
		c.listenersMu.RUnlock()
		for i, fn := range fns {
			owned := samples
			if i > 0 {
				owned = append([]int16(nil), samples...)
			}
			fn(audio.Frame{Samples: owned, SampleRate: protocol.PlaybackSampleRate, Channels: 1})
		}
	}
}

// OnTranscript registers fn for inbound transcript events and returns a
// function that removes it.
func (c *Client) OnTranscript(fn func(protocol.Transcript)) (unsubscribe func()) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	id := c.nextID
	c.nextID++
	c.transcripts[id] = fn
	return func() {
		c.listenersMu.Lock()
		delete(c.transcripts, id)
		c.listenersMu.Unlock()
	}
}

// OnAudio registers fn for inbound 24 kHz PCM frames. Frames arrive in
// socket order on a single goroutine.
func (c *Client) OnAudio(fn func(audio.Frame)) (unsubscribe func()) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	id := c.nextID
	c.nextID++
	c.audio[id] = fn
	return func() {
		c.listenersMu.Lock()
		delete(c.audio, id)
		c.listenersMu.Unlock()
	}
}

// SendAudioContent writes the frame as raw little-endian PCM.
func (c *Client) SendAudioContent(frame audio.Frame) {
	c.write("audio", websocket.BinaryMessage, audio.EncodePCM16LE(frame.Samples), false)
}

// SendTextInput sends user text with an optional base64 image attachment.
func (c *Client) SendTextInput(text, imageB64 string) {
	c.writeJSON("text", protocol.MultimodalInput{Type: protocol.TypeMultimodalInput, Text: text, ImageB64: imageB64}, true)
}

// SendVisionFrame forwards a base64 still tagged by its source.
func (c *Client) SendVisionFrame(source protocol.VisionSource, imageB64 string) {
	typ := protocol.TypeCameraFrame
	if source == protocol.SourceScreen {
		typ = protocol.TypeScreenFrame
	}
	c.writeJSON("vision", protocol.VisionFrame{Type: typ, ImageB64: imageB64}, false)
}

func (c *Client) SendCameraState(enabled bool) {
	c.writeJSON("camera_state", protocol.CameraState{Type: protocol.TypeCameraState, Enabled: enabled}, false)
}

func (c *Client) SendLocationUpdate(lat, lng float64) {
	c.writeJSON("location", protocol.LocationUpdate{Type: protocol.TypeLocationUpdate, Lat: lat, Lng: lng}, false)
}

func (c *Client) writeJSON(kind string, v any, warnOnDrop bool) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("failed to encode outbound message", slog.String("kind", kind), slogError(err))
		return
	}
	c.write(kind, websocket.TextMessage, data, warnOnDrop)
}

func (c *Client) write(kind string, messageType int, data []byte, warnOnDrop bool) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))

	c.mu.Lock()
	conn := c.conn
	open := c.state == Open && conn != nil
	c.mu.Unlock()

	if !open {
		if warnOnDrop {
			c.log.Warn("transport not open, dropping message", slog.String("kind", kind))
		}
		if c.framesDropped != nil {
			c.framesDropped.Add(context.Background(), 1, attrs)
		}
		return
	}

	c.writeMu.Lock()
	err := conn.WriteMessage(messageType, data)
	c.writeMu.Unlock()
	if err != nil {
		c.log.Warn("transport write failed", slog.String("kind", kind), slogError(err))
		if c.framesDropped != nil {
			c.framesDropped.Add(context.Background(), 1, attrs)
		}
		return
	}
	if c.framesSent != nil {
		c.framesSent.Add(context.Background(), 1, attrs)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
