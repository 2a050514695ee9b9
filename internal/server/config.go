// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay.
package server

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/roomrelay/internal/command"
	"github.com/Tyrowin/roomrelay/internal/room"
	"github.com/Tyrowin/roomrelay/internal/session"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	// TCPAddr is where the raw line protocol listens.
	TCPAddr string
	// Port is the HTTP listen address for health, metrics and /ws.
	// Empty disables the HTTP listener.
	Port string

	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	CommandPrefix     string
	RoomCodeLength    int
	BroadcastCapacity int
	HandshakeTimeout  time.Duration

	RedisAddr string
	RedisDB   int

	Env      string
	LogLevel string
}

func defaultConfig() Config {
	return Config{
		TCPAddr: ":8080",
		Port:    ":8081",
		AllowedOrigins: []string{
			"http://localhost:8081",
		},
		MaxMessageSize: 4096,
		// Rate limiting drops lines, so it is opt-in.
		RateLimit: RateLimitConfig{
			Burst:          0,
			RefillInterval: time.Second,
		},
		CommandPrefix:     command.DefaultPrefix,
		RoomCodeLength:    command.DefaultCodeLength,
		BroadcastCapacity: room.DefaultCapacity,
		HandshakeTimeout:  10 * time.Second,
		Env:               "dev",
	}
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.TCPAddr == "" {
		cfg.TCPAddr = def.TCPAddr
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	if cfg.RateLimit.Burst < 0 {
		cfg.RateLimit.Burst = 0
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = def.CommandPrefix
	}

	if cfg.RoomCodeLength <= 0 {
		cfg.RoomCodeLength = def.RoomCodeLength
	}

	if cfg.BroadcastCapacity <= 0 {
		cfg.BroadcastCapacity = def.BroadcastCapacity
	}

	if cfg.HandshakeTimeout < 0 {
		cfg.HandshakeTimeout = 0
	}

	if cfg.Env == "" {
		cfg.Env = def.Env
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if addr := os.Getenv("TCP_ADDR"); addr != "" {
		cfg.TCPAddr = addr
	}

	// SERVER_PORT is the older name for HTTP_ADDR.
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if addr, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.Port = addr
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseNonNegativeInt(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}

	if prefix := os.Getenv("COMMAND_PREFIX"); prefix != "" {
		cfg.CommandPrefix = prefix
	}

	if n := os.Getenv("ROOM_CODE_LENGTH"); n != "" {
		cfg.RoomCodeLength = parseIntValue(n, cfg.RoomCodeLength)
	}

	if n := os.Getenv("BROADCAST_CAPACITY"); n != "" {
		cfg.BroadcastCapacity = parseIntValue(n, cfg.BroadcastCapacity)
	}

	if timeout := os.Getenv("HANDSHAKE_TIMEOUT"); timeout != "" {
		cfg.HandshakeTimeout = parseDuration(timeout, cfg.HandshakeTimeout)
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil && n >= 0 {
			cfg.RedisDB = n
		}
	}

	if env := os.Getenv("APP_ENV"); env != "" {
		cfg.Env = env
	}
	cfg.LogLevel = os.Getenv("LOG_LEVEL")

	return &cfg
}

// Parser returns the command parser for the configured prefix and code length.
func (c *Config) Parser() command.Parser {
	return command.NewParser(c.CommandPrefix, c.RoomCodeLength)
}

// SessionOptions derives the per-connection session settings.
func (c *Config) SessionOptions(logger *slog.Logger, fwd session.Forwarder) session.Options {
	return session.Options{
		Parser:            c.Parser(),
		CommandTimeout:    c.HandshakeTimeout,
		RateLimitBurst:    c.RateLimit.Burst,
		RateLimitInterval: c.RateLimit.RefillInterval,
		Forwarder:         fwd,
		Logger:            logger,
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseNonNegativeInt is parseIntValue for settings where zero means off.
func parseNonNegativeInt(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts whole seconds ("5") or a Go duration ("250ms").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
