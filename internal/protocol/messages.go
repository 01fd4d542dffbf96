package protocol

import "time"

// Outbound socket frame types.
const (
	TypeMultimodalInput = "multimodal_input"
	TypeCameraFrame     = "camera_frame"
	TypeScreenFrame     = "screen_frame"
	TypeCameraState     = "camera_state"
	TypeLocationUpdate  = "location_update"
)

// TypeTranscript is the only inbound text frame forwarded to the application.
const TypeTranscript = "transcript"

// Fixed PCM rates on either side of the socket.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
)

// Envelope is decoded first to discriminate inbound text frames.
type Envelope struct {
	Type string `json:"type"`
}

type MultimodalInput struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	ImageB64 string `json:"image_b64,omitempty"`
}

// VisionFrame is sent as camera_frame or screen_frame depending on source.
type VisionFrame struct {
	Type     string `json:"type"`
	ImageB64 string `json:"image_b64"`
}

type CameraState struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

type LocationUpdate struct {
	Type string  `json:"type"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// Transcript is an inbound speech transcript event. Fields beyond type and
// text are optional and vary by server.
type Transcript struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Role   string `json:"role,omitempty"`
	Final  bool   `json:"final,omitempty"`
	TurnID string `json:"turn_id,omitempty"`
}

// Bus subjects.
const (
	SubjectTranscript   = "media.transcript"
	SubjectGraphAlerts  = "graph.alerts"
	SubjectGraphAnalyze = "graph.analyze"
)

// TranscriptEvent is broadcast on the bus for every inbound transcript.
type TranscriptEvent struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role,omitempty"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}

// VisionSource tags a still frame with the device it came from.
type VisionSource string

const (
	SourceCamera VisionSource = "camera"
	SourceScreen VisionSource = "screen"
)
