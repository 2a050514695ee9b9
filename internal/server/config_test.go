package server

import (
	"testing"
	"time"

	"github.com/Tyrowin/roomrelay/internal/command"
	"github.com/Tyrowin/roomrelay/internal/logging"
	"github.com/Tyrowin/roomrelay/internal/room"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	if cfg.TCPAddr != ":8080" {
		t.Errorf("TCPAddr = %q", cfg.TCPAddr)
	}
	if cfg.CommandPrefix != command.DefaultPrefix || cfg.RoomCodeLength != command.DefaultCodeLength {
		t.Errorf("command settings = %q/%d", cfg.CommandPrefix, cfg.RoomCodeLength)
	}
	if cfg.BroadcastCapacity != room.DefaultCapacity {
		t.Errorf("BroadcastCapacity = %d", cfg.BroadcastCapacity)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("RedisAddr = %q, bus must be off by default", cfg.RedisAddr)
	}
	if cfg.RateLimit.Burst != 0 || cfg.SessionOptions(logging.Discard(), nil).RateLimitBurst != 0 {
		t.Errorf("RateLimit.Burst = %d, limiter must be off by default", cfg.RateLimit.Burst)
	}
}

func TestRateLimitBurstZeroFromEnv(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{value: "0", want: 0},
		{value: "15", want: 15},
		{value: "-3", want: 0},
		{value: "lots", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("RATE_LIMIT_BURST", tt.value)
			if got := NewConfigFromEnv().RateLimit.Burst; got != tt.want {
				t.Errorf("RATE_LIMIT_BURST=%q gives %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("TCP_ADDR", ":9000")
	t.Setenv("SERVER_PORT", ":9001")
	t.Setenv("ALLOWED_ORIGINS", " http://a.example , http://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("RATE_LIMIT_BURST", "7")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("COMMAND_PREFIX", "app::ctl")
	t.Setenv("ROOM_CODE_LENGTH", "6")
	t.Setenv("BROADCAST_CAPACITY", "32")
	t.Setenv("HANDSHAKE_TIMEOUT", "250ms")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("LOG_LEVEL", "warn")

	cfg := NewConfigFromEnv()

	if cfg.TCPAddr != ":9000" || cfg.Port != ":9001" {
		t.Errorf("addrs = %q %q", cfg.TCPAddr, cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "http://a.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.MaxMessageSize != 2048 {
		t.Errorf("MaxMessageSize = %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 7 || cfg.RateLimit.RefillInterval != 3*time.Second {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.CommandPrefix != "app::ctl" || cfg.RoomCodeLength != 6 || cfg.BroadcastCapacity != 32 {
		t.Errorf("room settings = %q %d %d", cfg.CommandPrefix, cfg.RoomCodeLength, cfg.BroadcastCapacity)
	}
	if cfg.HandshakeTimeout != 250*time.Millisecond {
		t.Errorf("HandshakeTimeout = %v", cfg.HandshakeTimeout)
	}
	if cfg.RedisAddr != "localhost:6379" || cfg.RedisDB != 2 {
		t.Errorf("redis = %q/%d", cfg.RedisAddr, cfg.RedisDB)
	}
	if cfg.Env != "prod" || cfg.LogLevel != "warn" {
		t.Errorf("env = %q level = %q", cfg.Env, cfg.LogLevel)
	}
}

func TestHTTPAddrOverridesServerPort(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9001")
	t.Setenv("HTTP_ADDR", "")

	if cfg := NewConfigFromEnv(); cfg.Port != "" {
		t.Errorf("Port = %q, an empty HTTP_ADDR disables HTTP", cfg.Port)
	}
}

func TestNewConfigFromEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "-1")
	t.Setenv("RATE_LIMIT_BURST", "many")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "soon")
	t.Setenv("ROOM_CODE_LENGTH", "0")
	t.Setenv("REDIS_DB", "-3")

	cfg := NewConfigFromEnv()
	def := defaultConfig()

	if cfg.MaxMessageSize != def.MaxMessageSize {
		t.Errorf("MaxMessageSize = %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit != def.RateLimit {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.RoomCodeLength != def.RoomCodeLength {
		t.Errorf("RoomCodeLength = %d", cfg.RoomCodeLength)
	}
	if cfg.RedisDB != 0 {
		t.Errorf("RedisDB = %d", cfg.RedisDB)
	}
}

func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{
		RateLimit:        RateLimitConfig{Burst: -4},
		HandshakeTimeout: -time.Second,
	})
	def := defaultConfig()

	if cfg.TCPAddr != def.TCPAddr {
		t.Errorf("TCPAddr = %q", cfg.TCPAddr)
	}
	if cfg.Port != "" {
		t.Errorf("Port = %q, empty must stay empty", cfg.Port)
	}
	if cfg.RateLimit.Burst != 0 || cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.HandshakeTimeout != 0 {
		t.Errorf("HandshakeTimeout = %v", cfg.HandshakeTimeout)
	}
	if cfg.CommandPrefix != def.CommandPrefix || cfg.RoomCodeLength != def.RoomCodeLength || cfg.BroadcastCapacity != def.BroadcastCapacity {
		t.Errorf("room settings not defaulted: %+v", cfg)
	}
}

func TestSessionOptions(t *testing.T) {
	cfg := NewConfig()
	cfg.CommandPrefix = "x::y"
	cfg.RoomCodeLength = 4
	cfg.HandshakeTimeout = time.Minute

	opts := cfg.SessionOptions(logging.Discard(), nil)
	if opts.Parser.Prefix != "x::y" || opts.Parser.CodeLength != 4 {
		t.Errorf("Parser = %+v", opts.Parser)
	}
	if opts.CommandTimeout != time.Minute {
		t.Errorf("CommandTimeout = %v", opts.CommandTimeout)
	}
	if opts.RateLimitBurst != cfg.RateLimit.Burst || opts.RateLimitInterval != cfg.RateLimit.RefillInterval {
		t.Errorf("rate limit = %d/%v", opts.RateLimitBurst, opts.RateLimitInterval)
	}
	if opts.Forwarder != nil {
		t.Error("Forwarder set without a bus")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"5", 5 * time.Second},
		{"1500ms", 1500 * time.Millisecond},
		{"2m", 2 * time.Minute},
		{"0", time.Hour},
		{"-1s", time.Hour},
		{"later", time.Hour},
	}

	for _, tt := range tests {
		if got := parseDuration(tt.in, time.Hour); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
