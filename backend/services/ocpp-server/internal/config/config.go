package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "ocppgate/backend/libs/config"

	"ocppgate/backend/services/ocpp-server/internal/forwarding"
)

// Operating modes.
const (
	ModeCentral = "central"
	ModeNode    = "node"
)

// HTTPConfig is the listener.
type HTTPConfig struct {
	Port string `yaml:"port" env:"OCPP_HTTP_PORT"`
}

// DatabaseConfig is optional; an empty DSN disables persistence and keeps station
// credentials in memory.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"OCPP_POSTGRES_DSN"`
}

// RedisConfig is optional; an empty Addr disables presence tracking.
type RedisConfig struct {
	Addr        string        `yaml:"addr" env:"OCPP_REDIS_ADDR"`
	Password    string        `yaml:"password" env:"OCPP_REDIS_PASSWORD"`
	DB          int           `yaml:"db" env:"OCPP_REDIS_DB"`
	PresenceTTL time.Duration `yaml:"presenceTtl" env:"OCPP_PRESENCE_TTL"`
}

// WebSocketConfig tunes station connections.
type WebSocketConfig struct {
	PingIntervalSeconds int      `yaml:"pingIntervalSeconds" env:"OCPP_PING_INTERVAL"`
	WriteTimeoutSeconds int      `yaml:"writeTimeoutSeconds" env:"OCPP_WRITE_TIMEOUT"`
	ReadLimit           int64    `yaml:"readLimit" env:"OCPP_READ_LIMIT"`
	Subprotocols        []string `yaml:"subprotocols" env:"OCPP_SUBPROTOCOLS"`
	InboundRate         float64  `yaml:"inboundRate" env:"OCPP_INBOUND_RATE"`
	InboundBurst        int      `yaml:"inboundBurst" env:"OCPP_INBOUND_BURST"`
	BasicAuth           bool     `yaml:"basicAuth" env:"OCPP_BASIC_AUTH"`
}

// NodeConfig applies in node mode.
type NodeConfig struct {
	ID                      string `yaml:"id" env:"OCPP_NODE_ID"`
	UpstreamURL             string `yaml:"upstreamUrl" env:"OCPP_UPSTREAM_URL"`
	UpstreamPassword        string `yaml:"upstreamPassword" env:"OCPP_UPSTREAM_PASSWORD"`
	DefaultForwardingResult string `yaml:"defaultForwardingResult" env:"OCPP_DEFAULT_FORWARDING_RESULT"`
}

// Config defines OCPP server configuration.
type Config struct {
	Mode              string          `yaml:"mode" env:"OCPP_MODE"`
	LogLevel          string          `yaml:"logLevel" env:"LOG_LEVEL"`
	CallTimeout       time.Duration   `yaml:"callTimeout" env:"OCPP_CALL_TIMEOUT"`
	HeartbeatInterval int             `yaml:"heartbeatInterval" env:"OCPP_HEARTBEAT_INTERVAL"`
	AdminJWTSecret    string          `yaml:"adminJwtSecret" env:"OCPP_ADMIN_JWT_SECRET"`
	EventWebhookURL   string          `yaml:"eventWebhookUrl" env:"OCPP_EVENT_WEBHOOK_URL"`
	HTTP              HTTPConfig      `yaml:"http"`
	Database          DatabaseConfig  `yaml:"database"`
	Redis             RedisConfig     `yaml:"redis"`
	WebSocket         WebSocketConfig `yaml:"websocket"`
	Node              NodeConfig      `yaml:"node"`
}

// Defaults returns the configuration used before file and environment overrides.
func Defaults() *Config {
	return &Config{
		Mode:              ModeCentral,
		CallTimeout:       30 * time.Second,
		HeartbeatInterval: 300,
		HTTP:              HTTPConfig{Port: "8081"},
		Redis:             RedisConfig{PresenceTTL: 90 * time.Second},
		WebSocket: WebSocketConfig{
			PingIntervalSeconds: 30,
			WriteTimeoutSeconds: 15,
			ReadLimit:           64 << 10,
			Subprotocols:        []string{"ocpp1.6", "ocpp2.0.1"},
			InboundRate:         20,
			InboundBurst:        40,
		},
		Node: NodeConfig{DefaultForwardingResult: "FORWARD"},
	}
}

// Load uses shared config loader and validates the result.
func Load() (*Config, error) {
	cfg := Defaults()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeCentral:
	case ModeNode:
		if strings.TrimSpace(c.Node.UpstreamURL) == "" {
			return errors.New("config: node.upstreamUrl is required in node mode")
		}
		if _, err := forwarding.ParseResult(c.Node.DefaultForwardingResult); err != nil {
			return fmt.Errorf("config: node.defaultForwardingResult: %w", err)
		}
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	if len(c.WebSocket.Subprotocols) == 0 {
		return errors.New("config: at least one websocket subprotocol is required")
	}
	return nil
}

// NodeID names this instance in presence records.
func (c *Config) NodeID() string {
	if id := strings.TrimSpace(c.Node.ID); id != "" {
		return id
	}
	return c.Mode
}

// DefaultForwardingResult returns the parsed node default.
func (c *Config) DefaultForwardingResult() forwarding.Result {
	r, err := forwarding.ParseResult(c.Node.DefaultForwardingResult)
	if err != nil {
		return forwarding.Forward
	}
	return r
}

// HTTPAddress returns :port style address. A value that already names a host is kept.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8081"
	}
	if strings.Contains(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// PingInterval returns websocket ping interval.
func (c *Config) PingInterval() time.Duration {
	if c.WebSocket.PingIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.WebSocket.PingIntervalSeconds) * time.Second
}

// WriteTimeout returns websocket write timeout.
func (c *Config) WriteTimeout() time.Duration {
	if c.WebSocket.WriteTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.WebSocket.WriteTimeoutSeconds) * time.Second
}
