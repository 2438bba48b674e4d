// Package config loads the streaming endpoint's runtime configuration
// from environment variables (with an optional .env overlay), mirroring
// the original's compile-time STREAMING_*/JSONRPC_* knobs (§6) as
// env-tagged struct fields instead.
//
// Grounded on the teacher's config.go: caarlos0/env/v11 for parsing,
// joho/godotenv for the optional .env overlay, ENV > .env > default
// precedence, and a Validate/LogConfig pair.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config is the full set of runtime knobs for one streaming endpoint
// process.
type Config struct {
	// Transport
	WebSocketURI    string `env:"STREAMING_WEBSOCKET_URI" envDefault:"/stream"`
	WebSocketEnable bool   `env:"STREAMING_WEBSOCKET_ENABLE" envDefault:"true"`
	TCPPort         int    `env:"STREAMING_TCP_PORT" envDefault:"7412"`
	ListenAddr      string `env:"STREAMING_LISTEN_ADDR" envDefault:":80"`

	// Control channel
	IncludeConfigChannel bool   `env:"STREAMING_INCLUDE_CONFIG_CHANNEL" envDefault:"true"`
	JSONRPCPort          string `env:"JSONRPC_PORT" envDefault:"http"`
	JSONRPCPath          string `env:"JSONRPC_PATH" envDefault:"/streaming_jsonrpc"`
	JSONRPCMethod        string `env:"JSONRPC_METHOD" envDefault:"POST"`
	JSONRPCHTTPVersion   string `env:"JSONRPC_HTTPVERSION" envDefault:"1.1"`
	JSONRPCBufSize       int    `env:"JSONRPC_BUF_SIZE" envDefault:"256"`
	JSONRPCRatePerSecond float64 `env:"JSONRPC_RATE_PER_SECOND" envDefault:"20"`
	JSONRPCRateBurst     int    `env:"JSONRPC_RATE_BURST" envDefault:"5"`

	// Registry caps
	MsgpackBufSize       int `env:"MSGPACK_BUF_SIZE" envDefault:"256"`
	MaxSignals           int `env:"STREAMING_MAX_SIGNALS" envDefault:"12"`
	MaxTables            int `env:"STREAMING_MAX_TABLES" envDefault:"4"`
	SignalNameLength     int `env:"STREAMING_SIGNAL_NAME_LENGTH" envDefault:"32"`

	// Disconnect detection (REDESIGN FLAG: socket-error polling interval
	// is configurable rather than the original's fixed 10ms OS_Delay).
	DisconnectPollInterval time.Duration `env:"STREAMING_DISCONNECT_POLL_INTERVAL" envDefault:"250ms"`

	// Device identity, advertised via mDNS (§6).
	DeviceName   string `env:"STREAMING_DEVICE_NAME" envDefault:"openDAQ-device"`
	ModelName    string `env:"STREAMING_MODEL_NAME" envDefault:"openDAQ-streaming-endpoint"`
	SerialNumber string `env:"STREAMING_SERIAL_NUMBER" envDefault:"0000000000"`
	MDNSEnable   bool   `env:"STREAMING_MDNS_ENABLE" envDefault:"true"`
	MDNSTTL      time.Duration `env:"STREAMING_MDNS_TTL" envDefault:"1200s"`

	// Optional device sample producer (supplemental feature, §9).
	NATSEnable bool   `env:"STREAMING_NATS_ENABLE" envDefault:"false"`
	NATSURL    string `env:"STREAMING_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NATSSubject string `env:"STREAMING_NATS_SUBJECT" envDefault:"streaming.samples"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from an optional .env file and the process
// environment. Priority: ENV vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the endpoint cannot run with.
func (c *Config) Validate() error {
	if c.MaxSignals < 1 {
		return fmt.Errorf("STREAMING_MAX_SIGNALS must be > 0, got %d", c.MaxSignals)
	}
	if c.MaxSignals > 1<<20-1 {
		return fmt.Errorf("STREAMING_MAX_SIGNALS exceeds the 20-bit signal number budget: %d", c.MaxSignals)
	}
	if c.MaxTables < 1 {
		return fmt.Errorf("STREAMING_MAX_TABLES must be > 0, got %d", c.MaxTables)
	}
	if c.DisconnectPollInterval <= 0 {
		return fmt.Errorf("STREAMING_DISCONNECT_POLL_INTERVAL must be > 0")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	return nil
}

// LogConfig logs the effective configuration at startup.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("websocket_uri", c.WebSocketURI).
		Bool("websocket_enable", c.WebSocketEnable).
		Int("tcp_port", c.TCPPort).
		Bool("include_config_channel", c.IncludeConfigChannel).
		Str("jsonrpc_path", c.JSONRPCPath).
		Int("max_signals", c.MaxSignals).
		Int("max_tables", c.MaxTables).
		Int("signal_name_length", c.SignalNameLength).
		Int("msgpack_buf_size", c.MsgpackBufSize).
		Dur("disconnect_poll_interval", c.DisconnectPollInterval).
		Str("device_name", c.DeviceName).
		Bool("mdns_enable", c.MDNSEnable).
		Bool("nats_enable", c.NATSEnable).
		Str("log_level", c.LogLevel).
		Msg("configuration loaded")
}
