package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the relay.
type Config struct {
	IRC       IRCConfig       `json:"irc"`
	Provider  ProviderConfig  `json:"provider"`
	Relay     RelayConfig     `json:"relay"`
	Gateway   GatewayConfig   `json:"gateway"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ProviderConfig selects the OpenAI-compatible completion backend.
type ProviderConfig struct {
	Name        string  `json:"name,omitempty"`        // label used in logs and errors (default "openrouter")
	APIBase     string  `json:"api_base,omitempty"`    // default https://openrouter.ai/api/v1
	ChatPath    string  `json:"chat_path,omitempty"`   // default /chat/completions
	APIKey      string  `json:"-"`                     // from env OPENROUTER_API_KEY only
	Model       string  `json:"model"`                 // required
	MaxTokens   int     `json:"max_tokens,omitempty"`  // 0 = backend default
	Temperature float64 `json:"temperature,omitempty"` // 0 = backend default
}

// RelayConfig tunes the aggregation and dispatch pipeline.
type RelayConfig struct {
	Leader        bool   `json:"leader,omitempty"`         // respond even to the first buffered unit
	DebounceMS    int    `json:"debounce_ms,omitempty"`    // idle window before a sender's lines are flushed (default 1000)
	TickMS        int    `json:"tick_ms,omitempty"`        // flush scan period (default 100)
	QueueCapacity int    `json:"queue_capacity,omitempty"` // dispatch queue size (default 100)
	Overflow      string `json:"overflow,omitempty"`       // "block" (default), "drop_newest", "drop_oldest"
	ChunkSize     int    `json:"chunk_size,omitempty"`     // max characters per outbound line (default 500)
	ChunkDelayMS  int    `json:"chunk_delay_ms,omitempty"` // min spacing between outbound lines (default 100)
}

// DebounceTTL returns the debounce window.
func (r RelayConfig) DebounceTTL() time.Duration {
	return time.Duration(r.DebounceMS) * time.Millisecond
}

// TickInterval returns the flush scan period.
func (r RelayConfig) TickInterval() time.Duration {
	return time.Duration(r.TickMS) * time.Millisecond
}

// ChunkDelay returns the minimum spacing between outbound lines.
func (r RelayConfig) ChunkDelay() time.Duration {
	return time.Duration(r.ChunkDelayMS) * time.Millisecond
}

// GatewayConfig controls the optional status server.
type GatewayConfig struct {
	Enabled        bool     `json:"enabled,omitempty"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // WebSocket CORS whitelist (empty = allow all)
	RateLimitRPM   int      `json:"rate_limit_rpm,omitempty"`  // WebSocket connects per minute per client IP (0 = disabled)
}

// Addr returns the listen address.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// TelemetryConfig configures OpenTelemetry export for traces.
// When enabled, spans are exported to an OTLP-compatible backend (Jaeger, Tempo, Datadog, etc.)
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317", "https://otel.example.com:4318")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext connection (set true for local dev)
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "ircrelay")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}
