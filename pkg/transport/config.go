package transport

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/deskwire/deskwire-client/pkg/backoff"
	"github.com/deskwire/deskwire-client/pkg/env"
)

// ClientVersion is reported to the backend in the handshake.
const ClientVersion = "1.4.0"

const (
	DefaultURL              = "ws://127.0.0.1:7420/ws"
	DefaultRequestTimeout   = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultSendBuffer       = 256
)

// DefaultFireAndForgetTypes lists the high-frequency UI telemetry types that
// expect no server acknowledgment. Keep in sync with the backend's intake set.
func DefaultFireAndForgetTypes() []MessageType {
	return []MessageType{
		TypeCursorMove,
		TypeSelectionChange,
		TypeScrollSync,
		TypeBufferUpdate,
		TypeSessionIdle,
		TypeCoachingDismiss,
	}
}

// Config holds the transport client configuration
type Config struct {
	URL              string
	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration
	SendBuffer       int
	Backoff          backoff.Schedule
	FireAndForget    []MessageType
	Version          string
	Platform         string
	WindowSize       *WindowSize
}

// DefaultConfig returns a default configuration for the transport client
func DefaultConfig() Config {
	return Config{
		URL:              DefaultURL,
		RequestTimeout:   DefaultRequestTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		SendBuffer:       DefaultSendBuffer,
		Backoff:          backoff.DefaultSchedule(),
		FireAndForget:    DefaultFireAndForgetTypes(),
		Version:          ClientVersion,
		Platform:         runtime.GOOS,
	}
}

// Validate checks the configuration for reasonable values
func (c *Config) Validate() error {
	if !env.IsValidWebSocketURL(c.URL) {
		return fmt.Errorf("invalid websocket url %q", c.URL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("RequestTimeout must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("HandshakeTimeout must be positive")
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("SendBuffer must be >= 1")
	}
	if err := c.Backoff.Validate(); err != nil {
		return fmt.Errorf("invalid backoff schedule: %w", err)
	}
	return nil
}

// FromEnv builds a config from environment variables, loading a .env file if
// one is present. Unset variables keep the compiled defaults.
func FromEnv() Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	cfg.URL = env.GetEnvString("DESKWIRE_WS_URL", cfg.URL)
	cfg.RequestTimeout = env.GetEnvDuration("DESKWIRE_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.HandshakeTimeout = env.GetEnvDuration("DESKWIRE_HANDSHAKE_TIMEOUT", cfg.HandshakeTimeout)
	cfg.SendBuffer = env.GetEnvInt("DESKWIRE_SEND_BUFFER", cfg.SendBuffer)

	if raw := env.GetEnvStringSlice("DESKWIRE_FIRE_AND_FORGET", nil); raw != nil {
		types := make([]MessageType, 0, len(raw))
		for _, t := range raw {
			types = append(types, MessageType(t))
		}
		cfg.FireAndForget = types
	}
	return cfg
}

type fileConfig struct {
	URL              string   `yaml:"url"`
	RequestTimeout   string   `yaml:"request_timeout"`
	HandshakeTimeout string   `yaml:"handshake_timeout"`
	SendBuffer       int      `yaml:"send_buffer"`
	BackoffMillis    []int    `yaml:"backoff_ms"`
	FireAndForget    []string `yaml:"fire_and_forget"`
}

// ApplyFile overlays settings from a YAML config file. Missing keys keep their
// current values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.URL != "" {
		c.URL = fc.URL
	}
	if fc.RequestTimeout != "" {
		d, err := time.ParseDuration(fc.RequestTimeout)
		if err != nil {
			return fmt.Errorf("invalid request_timeout: %w", err)
		}
		c.RequestTimeout = d
	}
	if fc.HandshakeTimeout != "" {
		d, err := time.ParseDuration(fc.HandshakeTimeout)
		if err != nil {
			return fmt.Errorf("invalid handshake_timeout: %w", err)
		}
		c.HandshakeTimeout = d
	}
	if fc.SendBuffer > 0 {
		c.SendBuffer = fc.SendBuffer
	}
	if len(fc.BackoffMillis) > 0 {
		schedule := make(backoff.Schedule, 0, len(fc.BackoffMillis))
		for _, ms := range fc.BackoffMillis {
			schedule = append(schedule, time.Duration(ms)*time.Millisecond)
		}
		c.Backoff = schedule
	}
	if len(fc.FireAndForget) > 0 {
		types := make([]MessageType, 0, len(fc.FireAndForget))
		for _, t := range fc.FireAndForget {
			types = append(types, MessageType(t))
		}
		c.FireAndForget = types
	}
	return nil
}

func (c *Config) fireAndForgetSet() map[MessageType]struct{} {
	set := make(map[MessageType]struct{}, len(c.FireAndForget))
	for _, t := range c.FireAndForget {
		set[t] = struct{}{}
	}
	return set
}
