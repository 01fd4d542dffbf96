package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/loqalabs/aira-core/internal/protocol"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Transport   TransportConfig  `yaml:"transport"`
	Capture     CaptureConfig    `yaml:"capture"`
	Playback    PlaybackConfig   `yaml:"playback"`
	Vision      VisionConfig     `yaml:"vision"`
	Analytics   AnalyticsConfig  `yaml:"analytics"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// TransportConfig describes the duplex media socket. Credential may be left
// empty in the file and supplied through AIRA_TRANSPORT_CREDENTIAL.
type TransportConfig struct {
	URL                string `yaml:"url"`
	Credential         string `yaml:"credential"`
	ReconnectDelayMS   int    `yaml:"reconnect_delay_ms"`
	HandshakeTimeoutMS int    `yaml:"handshake_timeout_ms"`
}

type CaptureConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
	FrameSize  int    `yaml:"frame_size"`
	DumpPath   string `yaml:"dump_path"`
}

type PlaybackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
	Prebuffer  int    `yaml:"prebuffer"`
	LeadMS     int    `yaml:"lead_ms"`
	RecordPath string `yaml:"record_path"`
}

type VisionConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Source     string `yaml:"source"` // camera, screen
	Command    string `yaml:"command"`
	IntervalMS int    `yaml:"interval_ms"`
}

type AnalyticsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	RecentDays   int    `yaml:"recent_days"`
	BaselineDays int    `yaml:"baseline_days"`
	MaxAlerts    int    `yaml:"max_alerts"`
	GraphPath    string `yaml:"graph_path"`
}

func Default() Config {
	return Config{
		RuntimeName: "aira-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/aira-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Transport: TransportConfig{
			URL:                "ws://localhost:8000/ws/media",
			ReconnectDelayMS:   3000,
			HandshakeTimeoutMS: 5000,
		},
		Capture: CaptureConfig{
			Enabled:    false,
			Command:    "ffmpeg -hide_banner -loglevel error -f avfoundation -i none:0 -ac 1 -ar 16000 -f f32le -",
			SampleRate: 16000,
			FrameSize:  4096,
		},
		Playback: PlaybackConfig{
			Enabled:    false,
			Command:    "ffplay -hide_banner -loglevel error -nodisp -f s16le -ch_layout mono -ar 24000 -i -",
			SampleRate: protocol.PlaybackSampleRate,
			Prebuffer:  4,
			LeadMS:     50,
		},
		Vision: VisionConfig{
			Enabled:    false,
			Source:     "camera",
			Command:    "ffmpeg -hide_banner -loglevel error -f avfoundation -framerate 30 -i 0:none -frames:v 1 -q:v 5 -f image2pipe -vcodec mjpeg -",
			IntervalMS: 1000,
		},
		Analytics: AnalyticsConfig{
			Enabled:      true,
			RecentDays:   7,
			BaselineDays: 28,
			MaxAlerts:    6,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "AIRA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "AIRA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "AIRA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "AIRA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "AIRA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "AIRA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "AIRA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "AIRA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "AIRA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "AIRA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "AIRA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "AIRA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "AIRA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "AIRA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "AIRA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "AIRA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "AIRA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "AIRA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "AIRA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "AIRA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "AIRA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "AIRA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Transport.URL, "AIRA_TRANSPORT_URL")
	overrideString(&cfg.Transport.Credential, "AIRA_TRANSPORT_CREDENTIAL")
	overrideInt(&cfg.Transport.ReconnectDelayMS, "AIRA_TRANSPORT_RECONNECT_DELAY_MS")
	overrideInt(&cfg.Transport.HandshakeTimeoutMS, "AIRA_TRANSPORT_HANDSHAKE_TIMEOUT_MS")
	overrideBool(&cfg.Capture.Enabled, "AIRA_CAPTURE_ENABLED")
	overrideString(&cfg.Capture.Command, "AIRA_CAPTURE_COMMAND")
	overrideInt(&cfg.Capture.SampleRate, "AIRA_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.FrameSize, "AIRA_CAPTURE_FRAME_SIZE")
	overrideString(&cfg.Capture.DumpPath, "AIRA_CAPTURE_DUMP_PATH")
	overrideBool(&cfg.Playback.Enabled, "AIRA_PLAYBACK_ENABLED")
	overrideString(&cfg.Playback.Command, "AIRA_PLAYBACK_COMMAND")
	overrideInt(&cfg.Playback.SampleRate, "AIRA_PLAYBACK_SAMPLE_RATE")
	overrideInt(&cfg.Playback.Prebuffer, "AIRA_PLAYBACK_PREBUFFER")
	overrideInt(&cfg.Playback.LeadMS, "AIRA_PLAYBACK_LEAD_MS")
	overrideString(&cfg.Playback.RecordPath, "AIRA_PLAYBACK_RECORD_PATH")
	overrideBool(&cfg.Vision.Enabled, "AIRA_VISION_ENABLED")
	overrideString(&cfg.Vision.Source, "AIRA_VISION_SOURCE")
	overrideString(&cfg.Vision.Command, "AIRA_VISION_COMMAND")
	overrideInt(&cfg.Vision.IntervalMS, "AIRA_VISION_INTERVAL_MS")
	overrideBool(&cfg.Analytics.Enabled, "AIRA_ANALYTICS_ENABLED")
	overrideInt(&cfg.Analytics.RecentDays, "AIRA_ANALYTICS_RECENT_DAYS")
	overrideInt(&cfg.Analytics.BaselineDays, "AIRA_ANALYTICS_BASELINE_DAYS")
	overrideInt(&cfg.Analytics.MaxAlerts, "AIRA_ANALYTICS_MAX_ALERTS")
	overrideString(&cfg.Analytics.GraphPath, "AIRA_ANALYTICS_GRAPH_PATH")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Transport.ReconnectDelayMS <= 0 {
		return errors.New("transport.reconnect_delay_ms must be positive")
	}
	mediaEnabled := cfg.Capture.Enabled || cfg.Playback.Enabled || cfg.Vision.Enabled
	if mediaEnabled && cfg.Transport.URL == "" {
		return errors.New("transport.url must be set when capture, playback or vision is enabled")
	}
	if cfg.Capture.Enabled {
		if cfg.Capture.Command == "" {
			return errors.New("capture.command must be set when capture is enabled")
		}
		if cfg.Capture.SampleRate <= 0 {
			return errors.New("capture.sample_rate must be positive")
		}
		if cfg.Capture.FrameSize <= 0 {
			return errors.New("capture.frame_size must be positive")
		}
	}
	if cfg.Playback.Enabled {
		if cfg.Playback.Command == "" {
			return errors.New("playback.command must be set when playback is enabled")
		}
		if cfg.Playback.SampleRate != protocol.PlaybackSampleRate {
			return fmt.Errorf("playback.sample_rate must be %d to match the socket audio", protocol.PlaybackSampleRate)
		}
		if cfg.Playback.Prebuffer <= 0 {
			return errors.New("playback.prebuffer must be >= 1")
		}
		if cfg.Playback.LeadMS < 0 {
			return errors.New("playback.lead_ms must be >= 0")
		}
	}
	if cfg.Vision.Enabled {
		switch cfg.Vision.Source {
		case "camera", "screen":
		default:
			return errors.New("vision.source must be one of camera|screen")
		}
		if cfg.Vision.Command == "" {
			return errors.New("vision.command must be set when vision is enabled")
		}
		if cfg.Vision.IntervalMS <= 0 {
			return errors.New("vision.interval_ms must be positive")
		}
	}
	if cfg.Analytics.Enabled {
		if cfg.Analytics.RecentDays <= 0 || cfg.Analytics.BaselineDays <= 0 {
			return errors.New("analytics.recent_days and analytics.baseline_days must be positive")
		}
		if cfg.Analytics.MaxAlerts <= 0 {
			return errors.New("analytics.max_alerts must be >= 1")
		}
	}
	return nil
}
