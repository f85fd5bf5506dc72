package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/ircrelay/internal/bus"
)

// Default returns a Config with sensible defaults. Model has no default.
func Default() *Config {
	return &Config{
		IRC: IRCConfig{
			Server:   "irc.libera.chat",
			Port:     6667,
			Channel:  "#chat_0098",
			Nickname: "bot",
		},
		Provider: ProviderConfig{
			Name: "openrouter",
		},
		Relay: RelayConfig{
			DebounceMS:    1000,
			TickMS:        100,
			QueueCapacity: bus.DefaultQueueCapacity,
			Overflow:      string(bus.OverflowBlock),
			ChunkSize:     500,
			ChunkDelayMS:  100,
		},
		Gateway: GatewayConfig{
			Host:         "127.0.0.1",
			Port:         18791,
			RateLimitRPM: 20,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "ircrelay",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json5.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Provider
	envStr("OPENROUTER_API_KEY", &c.Provider.APIKey)
	envStr("IRCRELAY_API_KEY", &c.Provider.APIKey)
	envStr("IRCRELAY_API_BASE", &c.Provider.APIBase)
	envStr("IRCRELAY_CHAT_PATH", &c.Provider.ChatPath)
	envStr("IRCRELAY_MODEL", &c.Provider.Model)

	// IRC
	envStr("IRCRELAY_SERVER", &c.IRC.Server)
	envInt("IRCRELAY_PORT", &c.IRC.Port)
	envBool("IRCRELAY_TLS", &c.IRC.TLS)
	envStr("IRCRELAY_CHANNEL", &c.IRC.Channel)
	envStr("IRCRELAY_NICKNAME", &c.IRC.Nickname)
	envStr("IRCRELAY_IRC_PASSWORD", &c.IRC.Password)
	if v := os.Getenv("IRCRELAY_ALLOW_FROM"); v != "" {
		c.IRC.AllowFrom = strings.Split(v, ",")
	}

	// Relay
	envBool("IRCRELAY_LEADER", &c.Relay.Leader)
	envInt("IRCRELAY_DEBOUNCE_MS", &c.Relay.DebounceMS)
	envInt("IRCRELAY_TICK_MS", &c.Relay.TickMS)
	envInt("IRCRELAY_QUEUE_CAPACITY", &c.Relay.QueueCapacity)
	envStr("IRCRELAY_OVERFLOW", &c.Relay.Overflow)
	envInt("IRCRELAY_CHUNK_SIZE", &c.Relay.ChunkSize)
	// 0 is valid here: it disables pacing.
	if v := os.Getenv("IRCRELAY_CHUNK_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Relay.ChunkDelayMS = n
		}
	}

	// Status server
	envBool("IRCRELAY_GATEWAY_ENABLED", &c.Gateway.Enabled)
	envStr("IRCRELAY_GATEWAY_HOST", &c.Gateway.Host)
	envInt("IRCRELAY_GATEWAY_PORT", &c.Gateway.Port)

	// Telemetry
	envBool("IRCRELAY_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("IRCRELAY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("IRCRELAY_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envBool("IRCRELAY_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
	envStr("IRCRELAY_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
}

// Validate reports the first configuration problem that would prevent the
// relay from starting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Provider.Model) == "":
		return errors.New("model is required (--model or provider.model)")
	case c.IRC.Server == "":
		return errors.New("irc.server is required")
	case c.IRC.Port <= 0 || c.IRC.Port > 65535:
		return fmt.Errorf("irc.port out of range: %d", c.IRC.Port)
	case c.IRC.Channel == "":
		return errors.New("irc.channel is required")
	case c.IRC.Nickname == "":
		return errors.New("irc.nickname is required")
	case c.Relay.DebounceMS <= 0:
		return fmt.Errorf("relay.debounce_ms must be positive, got %d", c.Relay.DebounceMS)
	case c.Relay.TickMS <= 0:
		return fmt.Errorf("relay.tick_ms must be positive, got %d", c.Relay.TickMS)
	case c.Relay.QueueCapacity <= 0:
		return fmt.Errorf("relay.queue_capacity must be positive, got %d", c.Relay.QueueCapacity)
	case c.Relay.ChunkSize <= 0:
		return fmt.Errorf("relay.chunk_size must be positive, got %d", c.Relay.ChunkSize)
	case c.Relay.ChunkDelayMS < 0:
		return fmt.Errorf("relay.chunk_delay_ms must not be negative, got %d", c.Relay.ChunkDelayMS)
	}
	if _, err := bus.ParseOverflowPolicy(c.Relay.Overflow); err != nil {
		return fmt.Errorf("relay.overflow: %w", err)
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol)
	}
	return nil
}
