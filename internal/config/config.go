// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the full voicepilot configuration.
type Config struct {
	Service   ServiceConfig
	Capture   CaptureConfig
	Transport TransportConfig
	Playback  PlaybackConfig
	Session   SessionConfig
	Archive   ArchiveConfig
	Kafka     KafkaConfig
}

// ServiceConfig covers process-wide settings.
type ServiceConfig struct {
	Name        string
	ControlAddr string // UI collaborator HTTP surface
	MetricsAddr string // Prometheus /metrics + health
	LogLevel    string
	LogFormat   string // json or console
}

// CaptureConfig covers the microphone channel and VAD.
type CaptureConfig struct {
	Device        string // "portaudio" or "mock"
	SampleRateHz  int
	FrameInterval time.Duration // device read / VAD analysis cadence
	ChunkInterval time.Duration // outbound chunk emission cadence
	VADThreshold  float64       // RMS energy threshold, normalized 0..1
	VADHangover   time.Duration // silence required before active→inactive
	Codec         string        // "opus" or "pcm"
}

// TransportConfig covers the websocket link to the recognition backend.
type TransportConfig struct {
	BackendURL        string
	DialTimeout       time.Duration
	KeepAliveInterval time.Duration
	ReconnectUnit     time.Duration // backoff = attempt * unit
	ReconnectMaxDelay time.Duration
	ReconnectCeiling  int
}

// PlaybackConfig covers spoken announcements.
type PlaybackConfig struct {
	TTSEndpoint     string // empty selects the logging synthesizer
	DedupWindow     time.Duration
	WatchdogTimeout time.Duration
	ErrorPause      time.Duration
}

// SessionConfig covers the controller.
type SessionConfig struct {
	MaxQueuedFinals int // finals held while playback focus is busy
	HistorySize     int // retained conversation turns
}

// ArchiveConfig covers optional wav dumps of captured audio.
type ArchiveConfig struct {
	Enabled bool
	Dir     string
}

// KafkaConfig covers the telemetry event publisher.
type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	TopicTranscript string
	TopicLifecycle  string
	Principal       string
}

// Load reads configuration from the environment, applying defaults.
func Load() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        envOrDefault("SERVICE_NAME", "voicepilot"),
			ControlAddr: envOrDefault("CONTROL_ADDR", ":8750"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
		},
		Capture: CaptureConfig{
			Device:        envOrDefault("CAPTURE_DEVICE", "portaudio"),
			SampleRateHz:  envIntOrDefault("CAPTURE_SAMPLE_RATE_HZ", 16000),
			FrameInterval: envDurationOrDefault("CAPTURE_FRAME_INTERVAL", 30*time.Millisecond),
			ChunkInterval: envDurationOrDefault("CAPTURE_CHUNK_INTERVAL", 250*time.Millisecond),
			VADThreshold:  envFloatOrDefault("VAD_THRESHOLD", 0.015),
			VADHangover:   envDurationOrDefault("VAD_HANGOVER", 2*time.Second),
			Codec:         envOrDefault("CAPTURE_CODEC", "pcm"),
		},
		Transport: TransportConfig{
			BackendURL:        envOrDefault("BACKEND_URL", "ws://localhost:8000/ws/speech"),
			DialTimeout:       envDurationOrDefault("TRANSPORT_DIAL_TIMEOUT", 10*time.Second),
			KeepAliveInterval: envDurationOrDefault("TRANSPORT_KEEPALIVE_INTERVAL", 20*time.Second),
			ReconnectUnit:     envDurationOrDefault("TRANSPORT_RECONNECT_UNIT", time.Second),
			ReconnectMaxDelay: envDurationOrDefault("TRANSPORT_RECONNECT_MAX_DELAY", 10*time.Second),
			ReconnectCeiling:  envIntOrDefault("TRANSPORT_RECONNECT_CEILING", 5),
		},
		Playback: PlaybackConfig{
			TTSEndpoint:     envOrDefault("TTS_ENDPOINT", ""),
			DedupWindow:     envDurationOrDefault("PLAYBACK_DEDUP_WINDOW", 2*time.Second),
			WatchdogTimeout: envDurationOrDefault("PLAYBACK_WATCHDOG_TIMEOUT", 8*time.Second),
			ErrorPause:      envDurationOrDefault("PLAYBACK_ERROR_PAUSE", 250*time.Millisecond),
		},
		Session: SessionConfig{
			MaxQueuedFinals: envIntOrDefault("SESSION_MAX_QUEUED_FINALS", 8),
			HistorySize:     envIntOrDefault("SESSION_HISTORY_SIZE", 50),
		},
		Archive: ArchiveConfig{
			Enabled: envBoolOrDefault("ARCHIVE_ENABLED", false),
			Dir:     envOrDefault("ARCHIVE_DIR", "captures"),
		},
		Kafka: KafkaConfig{
			Enabled:         envBoolOrDefault("KAFKA_ENABLED", false),
			Brokers:         envListOrDefault("KAFKA_BROKERS", nil),
			TopicTranscript: envOrDefault("KAFKA_TOPIC_TRANSCRIPT", "voice.transcripts"),
			TopicLifecycle:  envOrDefault("KAFKA_TOPIC_LIFECYCLE", "voice.lifecycle"),
			Principal:       envOrDefault("KAFKA_PRINCIPAL", "svc-voicepilot"),
		},
	}
}

// Validate checks cross-field constraints that defaults alone cannot guarantee.
func (c *Config) Validate() error {
	if c.Capture.SampleRateHz <= 0 {
		return fmt.Errorf("capture sample rate must be positive, got %d", c.Capture.SampleRateHz)
	}
	if c.Capture.FrameInterval <= 0 || c.Capture.ChunkInterval <= 0 {
		return fmt.Errorf("capture intervals must be positive")
	}
	if c.Capture.ChunkInterval < c.Capture.FrameInterval {
		return fmt.Errorf("chunk interval %v must not be shorter than frame interval %v",
			c.Capture.ChunkInterval, c.Capture.FrameInterval)
	}
	if c.Capture.VADThreshold < 0 || c.Capture.VADThreshold > 1 {
		return fmt.Errorf("VAD threshold must be in [0,1], got %f", c.Capture.VADThreshold)
	}
	switch c.Capture.Codec {
	case "opus", "pcm":
	default:
		return fmt.Errorf("unknown capture codec %q", c.Capture.Codec)
	}
	if !strings.HasPrefix(c.Transport.BackendURL, "ws://") && !strings.HasPrefix(c.Transport.BackendURL, "wss://") {
		return fmt.Errorf("backend URL must be a ws:// or wss:// URL, got %q", c.Transport.BackendURL)
	}
	if c.Transport.ReconnectCeiling < 0 {
		return fmt.Errorf("reconnect ceiling must not be negative, got %d", c.Transport.ReconnectCeiling)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled but no brokers configured")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envListOrDefault(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
