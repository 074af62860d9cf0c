package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/ottermq/otterclient/pkg/client"
	"github.com/ottermq/otterclient/pkg/metrics"
	"github.com/ottermq/otterclient/pkg/transport"
)

type Config struct {
	// Broker
	URL         string
	Heartbeat   time.Duration
	ChannelMax  uint16
	FrameMax    uint32
	DialTimeout time.Duration

	// Client
	RPCTimeout     time.Duration
	ConfirmTimeout time.Duration
	CloseTimeout   time.Duration
	PrefetchCount  uint16

	// Reconnect
	ReconnectInitial    time.Duration
	ReconnectMax        time.Duration
	ReconnectMaxElapsed time.Duration

	// Metrics
	MetricsEnabled bool
	MetricsAddr    string

	// Logging
	LogLevel string
}

// LoadConfig loads configuration from .env file, environment variables, or defaults
// Priority: environment variables > .env file > default values
func LoadConfig() *Config {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	reconnect := client.DefaultReconnectPolicy()
	return &Config{
		URL:         getEnv("OTTERCLIENT_URL", transport.DefaultURL),
		Heartbeat:   getEnvAsDuration("OTTERCLIENT_HEARTBEAT", transport.DefaultHeartbeat),
		ChannelMax:  getEnvAsUint16("OTTERCLIENT_CHANNEL_MAX", transport.DefaultChannelMax),
		FrameMax:    getEnvAsUint32("OTTERCLIENT_FRAME_MAX", transport.DefaultFrameMax),
		DialTimeout: getEnvAsDuration("OTTERCLIENT_DIAL_TIMEOUT", transport.DefaultDialTimeout),

		RPCTimeout:     getEnvAsDuration("OTTERCLIENT_RPC_TIMEOUT", client.DefaultRPCTimeout),
		ConfirmTimeout: getEnvAsDuration("OTTERCLIENT_CONFIRM_TIMEOUT", client.DefaultConfirmTimeout),
		CloseTimeout:   getEnvAsDuration("OTTERCLIENT_CLOSE_TIMEOUT", client.DefaultCloseTimeout),
		PrefetchCount:  getEnvAsUint16("OTTERCLIENT_PREFETCH_COUNT", 0),

		ReconnectInitial:    getEnvAsDuration("OTTERCLIENT_RECONNECT_INITIAL", reconnect.Initial),
		ReconnectMax:        getEnvAsDuration("OTTERCLIENT_RECONNECT_MAX", reconnect.Max),
		ReconnectMaxElapsed: getEnvAsDuration("OTTERCLIENT_RECONNECT_MAX_ELAPSED", reconnect.MaxElapsed),

		MetricsEnabled: getEnvAsBool("OTTERCLIENT_METRICS_ENABLED", true),
		MetricsAddr:    getEnv("OTTERCLIENT_METRICS_ADDR", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// TransportConfig is the dial configuration for pkg/transport.
func (c *Config) TransportConfig() transport.Config {
	cfg := transport.DefaultConfig()
	cfg.URL = c.URL
	cfg.Heartbeat = c.Heartbeat
	cfg.ChannelMax = c.ChannelMax
	cfg.FrameMax = c.FrameMax
	cfg.DialTimeout = c.DialTimeout
	return cfg
}

// ClientOptions converts the client settings. A nil recorder leaves metrics off.
func (c *Config) ClientOptions(rec metrics.Recorder) []client.Option {
	opts := []client.Option{
		client.WithRPCTimeout(c.RPCTimeout),
		client.WithConfirmTimeout(c.ConfirmTimeout),
		client.WithCloseTimeout(c.CloseTimeout),
		client.WithFrameMax(c.FrameMax),
	}
	if rec != nil {
		opts = append(opts, client.WithMetrics(rec))
	}
	return opts
}

func (c *Config) ReconnectPolicy() client.ReconnectPolicy {
	return client.ReconnectPolicy{
		Initial:    c.ReconnectInitial,
		Max:        c.ReconnectMax,
		MaxElapsed: c.ReconnectMaxElapsed,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil || value < 0 {
		fmt.Printf("Warning: Invalid value for %s: %s, using default: %s\n", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsUint16(key string, defaultValue uint16) uint16 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseUint(valueStr, 10, 16)
	if err != nil {
		fmt.Printf("Warning: Invalid value for %s: %s, using default: %d\n", key, valueStr, defaultValue)
		return defaultValue
	}
	return uint16(value)
}

func getEnvAsUint32(key string, defaultValue uint32) uint32 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseUint(valueStr, 10, 32)
	if err != nil {
		fmt.Printf("Warning: Invalid value for %s: %s, using default: %d\n", key, valueStr, defaultValue)
		return defaultValue
	}
	return uint32(value)
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		fmt.Printf("Warning: Invalid value for %s: %s, using default: %t\n", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}
